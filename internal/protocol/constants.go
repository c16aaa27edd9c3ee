package protocol

const (
	// MaxTypeLength bounds the "type" field of any relay message.
	MaxTypeLength = 50

	MaxDeviceNameLength = 100
	MaxDeviceIconLength = 1000
	MaxDeviceTypeLength = 20

	// PeerIDPrefix is prepended to every relay-assigned id.
	PeerIDPrefix = "los-"
)

type MessageType string

const (
	MsgYourID         MessageType = "your-id"
	MsgPeerList       MessageType = "peer-list"
	MsgPeerDeviceInfo MessageType = "peer-device-info"
	MsgNewPeer        MessageType = "new-peer"
	MsgPeerDisconnect MessageType = "peer-disconnect"
	MsgDeviceInfo     MessageType = "device-info"
	MsgPing           MessageType = "ping"
	MsgPong           MessageType = "pong"
	MsgOffer          MessageType = "offer"
	MsgAnswer         MessageType = "answer"
	MsgCandidate      MessageType = "candidate"
	MsgError          MessageType = "error"

	// Data channel control frames.
	MsgFileMeta MessageType = "file-meta"
	MsgFileEnd  MessageType = "file-end"
)

func (t MessageType) String() string {
	return string(t)
}

// IsControl reports whether the relay answers t itself instead of routing it
// to a target peer.
func (t MessageType) IsControl() bool {
	return t == MsgPing || t == MsgDeviceInfo
}

// Messages sent to a peer in MsgError frames.
const (
	ErrTextRateLimited = "Rate limit exceeded"
)
