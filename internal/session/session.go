// Package session drives WebRTC negotiation with one remote peer over the
// signaling relay.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v3"
	"github.com/rudransh-shrivastava/peer-share/internal/protocol"
	"github.com/sirupsen/logrus"
)

var (
	ErrInvalidState  = errors.New("invalid session state")
	ErrSessionExists = errors.New("session already active for peer")
	ErrNoSession     = errors.New("no session for peer")
	ErrSessionFailed = errors.New("session failed")
	ErrSessionClosed = errors.New("session closed")
)

type State int

const (
	StateIdle State = iota
	StateNegotiating
	StateOpen
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateNegotiating:
		return "negotiating"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

func (s State) Terminal() bool {
	return s == StateClosed || s == StateFailed
}

type Role int

const (
	RoleInitiator Role = iota
	RoleResponder
)

func (r Role) String() string {
	if r == RoleInitiator {
		return "initiator"
	}
	return "responder"
}

// Signaler carries negotiation messages to a remote peer. *signal.Client
// implements it.
type Signaler interface {
	Send(target string, msg protocol.Envelope) error
}

// peerConnection is the part of *webrtc.PeerConnection the state machine
// drives.
type peerConnection interface {
	CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error)
	CreateAnswer(options *webrtc.AnswerOptions) (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	Close() error
}

type Config struct {
	RemoteID string
	Role     Role
	WebRTC   webrtc.Configuration
	// API builds the peer connection. Nil uses pion's defaults.
	API      *webrtc.API
	Signaler Signaler
	Logger   *logrus.Logger

	// OnChannel receives the transfer data channel: the one created locally
	// for an initiator, the one announced by the remote for a responder.
	OnChannel func(*webrtc.DataChannel)
	// OnStateChange is called after every transition, outside any lock.
	OnStateChange func(State)
}

// Session is one negotiation with a remote peer:
// Idle -> Negotiating -> Open -> Closed, or Negotiating -> Failed.
type Session struct {
	remoteID string
	role     Role
	pc       peerConnection
	signaler Signaler
	logger   *logrus.Logger

	onStateChange func(State)

	mu        sync.Mutex
	state     State
	remoteSet bool
	pending   []webrtc.ICECandidateInit

	opened    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// New creates the peer connection and registers its callbacks.
func New(cfg Config) (*Session, error) {
	newPC := webrtc.NewPeerConnection
	if cfg.API != nil {
		newPC = cfg.API.NewPeerConnection
	}
	pc, err := newPC(cfg.WebRTC)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}
	s := newSession(pc, cfg)

	pc.OnICECandidate(s.handleLocalCandidate)
	pc.OnConnectionStateChange(s.handleConnectionState)

	if cfg.Role == RoleInitiator {
		dc, err := pc.CreateDataChannel(DataChannelLabel, DefaultDataChannelConfig())
		if err != nil {
			_ = pc.Close()
			return nil, fmt.Errorf("failed to create data channel: %w", err)
		}
		if cfg.OnChannel != nil {
			cfg.OnChannel(dc)
		}
	} else {
		pc.OnDataChannel(func(dc *webrtc.DataChannel) {
			s.logger.Debugf("Data channel '%s' announced by %s", dc.Label(), s.remoteID)
			if cfg.OnChannel != nil {
				cfg.OnChannel(dc)
			}
		})
	}

	return s, nil
}

func newSession(pc peerConnection, cfg Config) *Session {
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Session{
		remoteID:      cfg.RemoteID,
		role:          cfg.Role,
		pc:            pc,
		signaler:      cfg.Signaler,
		logger:        log,
		onStateChange: cfg.OnStateChange,
		state:         StateIdle,
		opened:        make(chan struct{}),
		done:          make(chan struct{}),
	}
}

func (s *Session) RemoteID() string { return s.remoteID }
func (s *Session) Role() Role       { return s.role }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// PendingCandidates returns how many remote candidates await the remote
// description.
func (s *Session) PendingCandidates() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Opened is closed when the transport reports connected.
func (s *Session) Opened() <-chan struct{} { return s.opened }

// Done is closed when the session reaches Closed or Failed.
func (s *Session) Done() <-chan struct{} { return s.done }

// WaitOpen blocks until the session is open, terminal, or ctx ends.
func (s *Session) WaitOpen(ctx context.Context) error {
	select {
	case <-s.opened:
		return nil
	case <-s.done:
		if s.State() == StateFailed {
			return ErrSessionFailed
		}
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Initiate sends the offer. Only valid for an initiator in Idle.
func (s *Session) Initiate() error {
	if s.role != RoleInitiator {
		return fmt.Errorf("%w: %s cannot initiate", ErrInvalidState, s.role)
	}
	if err := s.transition(StateIdle, StateNegotiating); err != nil {
		return err
	}

	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		return s.fail(fmt.Errorf("failed to create offer: %w", err))
	}
	if err := s.pc.SetLocalDescription(offer); err != nil {
		return s.fail(fmt.Errorf("failed to set local description: %w", err))
	}

	err = s.signaler.Send(s.remoteID, protocol.Envelope{
		Type:  protocol.MsgOffer,
		Offer: fromSessionDescription(offer),
	})
	if err != nil {
		return s.fail(fmt.Errorf("failed to send offer: %w", err))
	}
	s.logger.Infof("Sent offer to %s", s.remoteID)
	return nil
}

// HandleOffer answers a remote offer. Only valid for a responder in Idle.
func (s *Session) HandleOffer(sd *protocol.SessionDescription) error {
	if s.role != RoleResponder {
		return fmt.Errorf("%w: %s received an offer", ErrInvalidState, s.role)
	}
	offer, err := toSessionDescription(sd, webrtc.SDPTypeOffer)
	if err != nil {
		return err
	}
	if err := s.transition(StateIdle, StateNegotiating); err != nil {
		return err
	}

	if err := s.setRemote(offer); err != nil {
		return s.fail(err)
	}

	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		return s.fail(fmt.Errorf("failed to create answer: %w", err))
	}
	if err := s.pc.SetLocalDescription(answer); err != nil {
		return s.fail(fmt.Errorf("failed to set local description: %w", err))
	}

	err = s.signaler.Send(s.remoteID, protocol.Envelope{
		Type:   protocol.MsgAnswer,
		Answer: fromSessionDescription(answer),
	})
	if err != nil {
		return s.fail(fmt.Errorf("failed to send answer: %w", err))
	}
	s.logger.Infof("Sent answer to %s", s.remoteID)
	return nil
}

// HandleAnswer applies the remote answer. Only valid for an initiator in
// Negotiating that has not yet seen one.
func (s *Session) HandleAnswer(sd *protocol.SessionDescription) error {
	if s.role != RoleInitiator {
		return fmt.Errorf("%w: %s received an answer", ErrInvalidState, s.role)
	}
	answer, err := toSessionDescription(sd, webrtc.SDPTypeAnswer)
	if err != nil {
		return err
	}

	s.mu.Lock()
	state, remoteSet := s.state, s.remoteSet
	s.mu.Unlock()
	if state != StateNegotiating || remoteSet {
		return fmt.Errorf("%w: answer in state %s", ErrInvalidState, state)
	}

	if err := s.setRemote(answer); err != nil {
		return s.fail(err)
	}
	return nil
}

// HandleCandidate applies a remote candidate, or queues it until the remote
// description is known.
func (s *Session) HandleCandidate(c *protocol.ICECandidate) error {
	init, err := toCandidateInit(c)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return fmt.Errorf("%w: candidate in state %s", ErrInvalidState, s.state)
	}
	if !s.remoteSet {
		s.pending = append(s.pending, init)
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if err := s.pc.AddICECandidate(init); err != nil {
		return fmt.Errorf("failed to add ICE candidate: %w", err)
	}
	return nil
}

// setRemote applies desc and then drains the pending candidates in arrival
// order.
func (s *Session) setRemote(desc webrtc.SessionDescription) error {
	if err := s.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("failed to set remote description: %w", err)
	}

	s.mu.Lock()
	s.remoteSet = true
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, c := range pending {
		if err := s.pc.AddICECandidate(c); err != nil {
			s.logger.Warnf("Failed to add buffered ICE candidate: %v", err)
		}
	}
	return nil
}

func (s *Session) handleLocalCandidate(c *webrtc.ICECandidate) {
	if c == nil {
		s.logger.Debugf("ICE gathering complete for %s", s.remoteID)
		return
	}
	err := s.signaler.Send(s.remoteID, protocol.Envelope{
		Type:      protocol.MsgCandidate,
		Candidate: fromCandidateInit(c.ToJSON()),
	})
	if err != nil {
		s.logger.Warnf("Failed to send ICE candidate: %v", err)
	}
}

func (s *Session) handleConnectionState(st webrtc.PeerConnectionState) {
	s.logger.Debugf("Peer connection state with %s: %s", s.remoteID, st)

	switch st {
	case webrtc.PeerConnectionStateConnected:
		if err := s.transition(StateNegotiating, StateOpen); err != nil {
			s.logger.Debugf("Ignoring connected signal: %v", err)
		}
	case webrtc.PeerConnectionStateDisconnected,
		webrtc.PeerConnectionStateFailed,
		webrtc.PeerConnectionStateClosed:
		s.terminate(fmt.Errorf("transport %s", st))
	}
}

// Close ends the session. It is safe to call at any time and more than once.
func (s *Session) Close() error {
	s.terminate(nil)
	return nil
}

func (s *Session) transition(from, to State) error {
	s.mu.Lock()
	if s.state != from {
		cur := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: cannot move from %s to %s", ErrInvalidState, cur, to)
	}
	s.state = to
	s.mu.Unlock()

	if to == StateOpen {
		close(s.opened)
		s.logger.Infof("Session with %s open", s.remoteID)
	}
	s.notify(to)
	return nil
}

func (s *Session) fail(err error) error {
	s.terminate(err)
	return err
}

// terminate moves to Failed when the session never opened and cause is set,
// and to Closed otherwise.
func (s *Session) terminate(cause error) {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	next := StateClosed
	if cause != nil && s.state != StateOpen {
		next = StateFailed
	}
	s.state = next
	s.pending = nil
	s.mu.Unlock()

	if cause != nil {
		s.logger.Warnf("Session with %s %s: %v", s.remoteID, next, cause)
	} else {
		s.logger.Infof("Session with %s closed", s.remoteID)
	}

	s.closeOnce.Do(func() {
		close(s.done)
		// pion fires the closed state callback from Close; run it off this
		// goroutine.
		go func() { _ = s.pc.Close() }()
	})
	s.notify(next)
}

func (s *Session) notify(st State) {
	if s.onStateChange != nil {
		s.onStateChange(st)
	}
}
