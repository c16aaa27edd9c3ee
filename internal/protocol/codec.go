package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

var ErrMalformedMessage = errors.New("malformed message")

type Codec struct{}

func NewCodec() *Codec {
	return &Codec{}
}

func (c *Codec) Encode(w io.Writer, msg Envelope) error {
	return json.NewEncoder(w).Encode(&msg)
}

func (c *Codec) Decode(r io.Reader) (Envelope, error) {
	var msg Envelope
	if err := json.NewDecoder(r).Decode(&msg); err != nil {
		return Envelope{}, err
	}
	return msg, nil
}

func (c *Codec) EncodeToBytes(msg Envelope) ([]byte, error) {
	return json.Marshal(&msg)
}

func (c *Codec) DecodeFromBytes(data []byte) (Envelope, error) {
	return c.Decode(bytes.NewReader(data))
}

func (c *Codec) EncodeFileMeta(name string, size int64) ([]byte, error) {
	return json.Marshal(&FileMeta{Type: MsgFileMeta, Name: name, Size: size})
}

func (c *Codec) EncodeFileEnd() ([]byte, error) {
	return json.Marshal(&FileEnd{Type: MsgFileEnd})
}

// DecodeControl decodes a text frame received on the data channel. meta is
// only set for MsgFileMeta.
func (c *Codec) DecodeControl(data []byte) (MessageType, *FileMeta, error) {
	var frame FileMeta
	if err := json.Unmarshal(data, &frame); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	switch frame.Type {
	case MsgFileMeta:
		if frame.Size < 0 {
			return "", nil, fmt.Errorf("%w: negative size %d", ErrMalformedMessage, frame.Size)
		}
		return MsgFileMeta, &frame, nil
	case MsgFileEnd:
		return MsgFileEnd, nil, nil
	default:
		return frame.Type, nil, nil
	}
}

// RawMessage is an inbound relay message kept as raw JSON fields so it can be
// forwarded without re-encoding its payload.
type RawMessage struct {
	Type   MessageType
	Target string

	fields map[string]json.RawMessage
}

// ParseRaw validates the relay envelope rules: a JSON object carrying a
// string "type" of at most MaxTypeLength bytes. Target is filled only when
// "target" is a string.
func ParseRaw(data []byte) (*RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if fields == nil {
		return nil, fmt.Errorf("%w: not an object", ErrMalformedMessage)
	}

	rawType, ok := fields["type"]
	if !ok {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedMessage)
	}
	var msgType string
	if err := json.Unmarshal(rawType, &msgType); err != nil {
		return nil, fmt.Errorf("%w: type is not a string", ErrMalformedMessage)
	}
	if msgType == "" || len(msgType) > MaxTypeLength {
		return nil, fmt.Errorf("%w: type length %d", ErrMalformedMessage, len(msgType))
	}

	msg := &RawMessage{Type: MessageType(msgType), fields: fields}
	if rawTarget, ok := fields["target"]; ok {
		var target string
		if err := json.Unmarshal(rawTarget, &target); err == nil {
			msg.Target = target
		}
	}
	return msg, nil
}

// DeviceInfo decodes the "deviceInfo" field.
func (m *RawMessage) DeviceInfo() (DeviceInfo, error) {
	raw, ok := m.fields["deviceInfo"]
	if !ok {
		return DeviceInfo{}, fmt.Errorf("%w: missing deviceInfo", ErrMalformedMessage)
	}
	var info DeviceInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return DeviceInfo{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return info, nil
}

// WithSender re-encodes the message with "sender" set to id, replacing any
// value the peer supplied.
func (m *RawMessage) WithSender(id string) ([]byte, error) {
	sender, err := json.Marshal(id)
	if err != nil {
		return nil, err
	}

	out := make(map[string]json.RawMessage, len(m.fields)+1)
	for k, v := range m.fields {
		out[k] = v
	}
	out["sender"] = sender
	return json.Marshal(out)
}
