package session

import (
	"fmt"
	"testing"
	"time"

	"github.com/rudransh-shrivastava/peer-share/internal/logger"
	"github.com/rudransh-shrivastava/peer-share/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager() (*Manager, *fakeSignaler, map[string]*fakePC) {
	sig := &fakeSignaler{}
	pcs := make(map[string]*fakePC)
	m := NewManager(func(remoteID string, role Role) (*Session, error) {
		pc := &fakePC{}
		pcs[remoteID] = pc
		return newSession(pc, Config{
			RemoteID: remoteID,
			Role:     role,
			Signaler: sig,
			Logger:   logger.Discard(),
		}), nil
	}, logger.Discard())
	return m, sig, pcs
}

func TestManagerRejectsSecondLiveSession(t *testing.T) {
	m, _, _ := newTestManager()

	s, err := m.Start("los-b", RoleInitiator)
	require.NoError(t, err)

	_, err = m.Start("los-b", RoleInitiator)
	assert.ErrorIs(t, err, ErrSessionExists)

	_, err = m.Start("los-c", RoleInitiator)
	assert.NoError(t, err)

	require.NoError(t, s.Close())
	assert.Eventually(t, func() bool {
		_, ok := m.Get("los-b")
		return !ok
	}, time.Second, 10*time.Millisecond)

	_, err = m.Start("los-b", RoleInitiator)
	assert.NoError(t, err, "a terminal session must not block a new one")
}

func TestManagerDispatch(t *testing.T) {
	m, sig, pcs := newTestManager()

	// A candidate may overtake the offer it belongs to.
	require.NoError(t, m.Dispatch(protocol.Envelope{
		Type:      protocol.MsgCandidate,
		Sender:    "los-a",
		Candidate: &protocol.ICECandidate{Candidate: "c0"},
	}))
	assert.Equal(t, 0, m.Len())

	require.NoError(t, m.Dispatch(protocol.Envelope{
		Type:   protocol.MsgOffer,
		Sender: "los-a",
		Offer:  &protocol.SessionDescription{Type: "offer", SDP: "sdp"},
	}))

	s, ok := m.Get("los-a")
	require.True(t, ok)
	assert.Equal(t, RoleResponder, s.Role())
	assert.Equal(t, StateNegotiating, s.State())

	assert.Equal(t, []string{"c0"}, pcs["los-a"].appliedCandidates())
	assert.Equal(t, 0, s.PendingCandidates())

	sent := sig.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, protocol.MsgAnswer, sent[0].msg.Type)
	assert.Equal(t, "los-a", sent[0].target)

	require.NoError(t, m.Dispatch(protocol.Envelope{
		Type:      protocol.MsgCandidate,
		Sender:    "los-a",
		Candidate: &protocol.ICECandidate{Candidate: "c1"},
	}))
	assert.Equal(t, []string{"c0", "c1"}, pcs["los-a"].appliedCandidates())

	err := m.Dispatch(protocol.Envelope{
		Type:   protocol.MsgOffer,
		Sender: "los-a",
		Offer:  &protocol.SessionDescription{Type: "offer", SDP: "again"},
	})
	assert.ErrorIs(t, err, ErrSessionExists)
}

func TestManagerDispatchRejectsMissingSender(t *testing.T) {
	m, _, _ := newTestManager()

	err := m.Dispatch(protocol.Envelope{Type: protocol.MsgOffer})
	assert.ErrorIs(t, err, protocol.ErrMalformedMessage)
}

func TestManagerCloseAll(t *testing.T) {
	m, _, _ := newTestManager()
	a, err := m.Start("los-a", RoleInitiator)
	require.NoError(t, err)
	b, err := m.Start("los-b", RoleInitiator)
	require.NoError(t, err)

	m.CloseAll()

	assert.Equal(t, StateClosed, a.State())
	assert.Equal(t, StateClosed, b.State())
	assert.Eventually(t, func() bool { return m.Len() == 0 }, time.Second, 10*time.Millisecond)
}

func TestManagerEarlyCandidatesAreBounded(t *testing.T) {
	m, _, pcs := newTestManager()
	candidate := func(i int) protocol.Envelope {
		return protocol.Envelope{
			Type:      protocol.MsgCandidate,
			Sender:    "los-a",
			Candidate: &protocol.ICECandidate{Candidate: fmt.Sprintf("c%d", i)},
		}
	}

	for i := 0; i < maxEarlyCandidates; i++ {
		require.NoError(t, m.Dispatch(candidate(i)))
	}
	assert.ErrorIs(t, m.Dispatch(candidate(maxEarlyCandidates)), ErrNoSession)

	require.NoError(t, m.Dispatch(protocol.Envelope{
		Type:   protocol.MsgOffer,
		Sender: "los-a",
		Offer:  &protocol.SessionDescription{Type: "offer", SDP: "sdp"},
	}))
	assert.Len(t, pcs["los-a"].appliedCandidates(), maxEarlyCandidates)
}

func TestManagerForgetDropsEarlyCandidates(t *testing.T) {
	m, _, pcs := newTestManager()

	require.NoError(t, m.Dispatch(protocol.Envelope{
		Type:      protocol.MsgCandidate,
		Sender:    "los-a",
		Candidate: &protocol.ICECandidate{Candidate: "stale"},
	}))
	m.Forget("los-a")

	require.NoError(t, m.Dispatch(protocol.Envelope{
		Type:   protocol.MsgOffer,
		Sender: "los-a",
		Offer:  &protocol.SessionDescription{Type: "offer", SDP: "sdp"},
	}))
	assert.Empty(t, pcs["los-a"].appliedCandidates())
}
