package session

import (
	"fmt"
	"sync"

	"github.com/rudransh-shrivastava/peer-share/internal/protocol"
	"github.com/sirupsen/logrus"
)

// maxEarlyCandidates bounds the candidates kept per peer before its offer.
const maxEarlyCandidates = 32

// Factory builds a session for remoteID in the given role.
type Factory func(remoteID string, role Role) (*Session, error)

// Manager keeps at most one live session per remote peer and dispatches
// inbound negotiation messages to them.
type Manager struct {
	factory Factory
	logger  *logrus.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	// early holds candidates that arrived before the sender's offer.
	early map[string][]*protocol.ICECandidate
}

func NewManager(factory Factory, log *logrus.Logger) *Manager {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Manager{
		factory:  factory,
		logger:   log,
		sessions: make(map[string]*Session),
		early:    make(map[string][]*protocol.ICECandidate),
	}
}

// Start creates a session for remoteID. It fails with ErrSessionExists while
// a previous session for the same peer is still live.
func (m *Manager) Start(remoteID string, role Role) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.sessions[remoteID]; ok && !existing.State().Terminal() {
		return nil, fmt.Errorf("%w: %s", ErrSessionExists, remoteID)
	}

	s, err := m.factory(remoteID, role)
	if err != nil {
		return nil, err
	}
	m.sessions[remoteID] = s

	go func() {
		<-s.Done()
		m.release(remoteID, s)
	}()
	return s, nil
}

func (m *Manager) release(remoteID string, s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessions[remoteID] == s {
		delete(m.sessions, remoteID)
	}
}

func (m *Manager) Get(remoteID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[remoteID]
	return s, ok
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Dispatch applies one relayed negotiation message. An offer from a peer
// without a session creates a responder session.
func (m *Manager) Dispatch(msg protocol.Envelope) error {
	if msg.Sender == "" {
		return fmt.Errorf("%w: %s without sender", protocol.ErrMalformedMessage, msg.Type)
	}

	switch msg.Type {
	case protocol.MsgOffer:
		s, err := m.Start(msg.Sender, RoleResponder)
		if err != nil {
			return err
		}
		m.logger.Infof("Received offer from %s", msg.Sender)
		for _, c := range m.takeEarly(msg.Sender) {
			if err := s.HandleCandidate(c); err != nil {
				m.logger.Warnf("Dropping early candidate from %s: %v", msg.Sender, err)
			}
		}
		return s.HandleOffer(msg.Offer)

	case protocol.MsgAnswer:
		s, ok := m.Get(msg.Sender)
		if !ok {
			return fmt.Errorf("%w: answer from %s", ErrNoSession, msg.Sender)
		}
		return s.HandleAnswer(msg.Answer)

	case protocol.MsgCandidate:
		s, ok := m.Get(msg.Sender)
		if !ok || s.State().Terminal() {
			return m.keepEarly(msg.Sender, msg.Candidate)
		}
		return s.HandleCandidate(msg.Candidate)

	default:
		return fmt.Errorf("%w: unexpected %s", protocol.ErrMalformedMessage, msg.Type)
	}
}

// keepEarly queues a candidate from a peer whose offer has not arrived yet.
func (m *Manager) keepEarly(remoteID string, c *protocol.ICECandidate) error {
	if c == nil {
		return fmt.Errorf("%w: missing candidate", protocol.ErrMalformedMessage)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.early[remoteID]) >= maxEarlyCandidates {
		return fmt.Errorf("%w: too many candidates from %s before an offer", ErrNoSession, remoteID)
	}
	m.early[remoteID] = append(m.early[remoteID], c)
	return nil
}

func (m *Manager) takeEarly(remoteID string) []*protocol.ICECandidate {
	m.mu.Lock()
	defer m.mu.Unlock()
	early := m.early[remoteID]
	delete(m.early, remoteID)
	return early
}

// Forget drops anything queued for remoteID, e.g. once it leaves the relay.
func (m *Manager) Forget(remoteID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.early, remoteID)
}

// CloseAll closes every live session.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		_ = s.Close()
	}
}
