package session

import "github.com/pion/webrtc/v3"

// DataChannelLabel names the channel carrying transfers.
const DataChannelLabel = "file"

// ICEConfiguration builds a peer connection configuration using the given
// STUN servers.
func ICEConfiguration(stunServers []string) webrtc.Configuration {
	cfg := webrtc.Configuration{
		ICETransportPolicy: webrtc.ICETransportPolicyAll,
	}
	if len(stunServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: stunServers}}
	}
	return cfg
}

func DefaultDataChannelConfig() *webrtc.DataChannelInit {
	protocolName := "file-transfer"
	ordered := true
	return &webrtc.DataChannelInit{
		Ordered:        &ordered,
		MaxRetransmits: nil,
		Protocol:       &protocolName,
	}
}
