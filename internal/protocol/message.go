package protocol

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Envelope is the union of every relay message. Fields not used by a given
// type are left empty and omitted on the wire.
type Envelope struct {
	Type MessageType `json:"type"`

	ID    string   `json:"id,omitempty"`
	Peers []string `json:"peers,omitempty"`

	PeerID     string      `json:"peerId,omitempty"`
	DeviceInfo *DeviceInfo `json:"deviceInfo,omitempty"`

	Target    string              `json:"target,omitempty"`
	Sender    string              `json:"sender,omitempty"`
	Offer     *SessionDescription `json:"offer,omitempty"`
	Answer    *SessionDescription `json:"answer,omitempty"`
	Candidate *ICECandidate       `json:"candidate,omitempty"`

	Timestamp int64  `json:"timestamp,omitempty"`
	Message   string `json:"message,omitempty"`
}

// DeviceInfo is the optional self-description a peer publishes to the others.
type DeviceInfo struct {
	DeviceName string `json:"deviceName"`
	Icon       string `json:"icon"`
	DeviceType string `json:"deviceType"`
}

// SessionDescription mirrors RTCSessionDescriptionInit.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// ICECandidate mirrors RTCIceCandidateInit.
type ICECandidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// FileMeta opens a transfer on the data channel.
type FileMeta struct {
	Type MessageType `json:"type"`
	Name string      `json:"name"`
	Size int64       `json:"size"`
}

// FileEnd closes a transfer on the data channel.
type FileEnd struct {
	Type MessageType `json:"type"`
}

// Sanitize returns a copy of info with control characters removed and every
// field truncated to its limit.
func (info DeviceInfo) Sanitize() DeviceInfo {
	return DeviceInfo{
		DeviceName: clean(info.DeviceName, MaxDeviceNameLength),
		Icon:       clean(info.Icon, MaxDeviceIconLength),
		DeviceType: clean(info.DeviceType, MaxDeviceTypeLength),
	}
}

func clean(s string, limit int) string {
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	s = strings.TrimSpace(s)

	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit])
}
