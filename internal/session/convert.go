package session

import (
	"fmt"

	"github.com/pion/webrtc/v3"
	"github.com/rudransh-shrivastava/peer-share/internal/protocol"
)

func toSessionDescription(sd *protocol.SessionDescription, want webrtc.SDPType) (webrtc.SessionDescription, error) {
	if sd == nil {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: missing %s", protocol.ErrMalformedMessage, want)
	}
	if got := webrtc.NewSDPType(sd.Type); got != want {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: expected %s description, got %q", protocol.ErrMalformedMessage, want, sd.Type)
	}
	return webrtc.SessionDescription{Type: want, SDP: sd.SDP}, nil
}

func fromSessionDescription(sd webrtc.SessionDescription) *protocol.SessionDescription {
	return &protocol.SessionDescription{Type: sd.Type.String(), SDP: sd.SDP}
}

func toCandidateInit(c *protocol.ICECandidate) (webrtc.ICECandidateInit, error) {
	if c == nil {
		return webrtc.ICECandidateInit{}, fmt.Errorf("%w: missing candidate", protocol.ErrMalformedMessage)
	}
	return webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}, nil
}

func fromCandidateInit(c webrtc.ICECandidateInit) *protocol.ICECandidate {
	return &protocol.ICECandidate{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}
