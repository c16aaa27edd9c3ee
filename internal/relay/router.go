package relay

import (
	"errors"
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/rudransh-shrivastava/peer-share/internal/protocol"
	"github.com/sirupsen/logrus"
)

// Router implements the relay protocol on top of a Registry: admission,
// control messages, unicast forwarding and departure broadcasts.
type Router struct {
	registry *Registry
	limiter  *RateLimiter
	metrics  *Metrics
	codec    *protocol.Codec
	clock    clock.Clock
	logger   *logrus.Logger

	ceiling int

	// presence serializes arrivals and departures so every peer sees them
	// in one order.
	presence sync.Mutex
}

type RouterConfig struct {
	Registry *Registry
	Limiter  *RateLimiter
	Metrics  *Metrics
	Clock    clock.Clock
	Logger   *logrus.Logger

	// MaxConnections is the admission ceiling; zero means unlimited.
	MaxConnections int
}

func NewRouter(cfg RouterConfig) *Router {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}
	registry := cfg.Registry
	if registry == nil {
		registry = NewRegistry(clk)
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = NewMetrics()
	}
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	return &Router{
		registry: registry,
		limiter:  cfg.Limiter,
		metrics:  metrics,
		codec:    protocol.NewCodec(),
		clock:    clk,
		logger:   log,
		ceiling:  cfg.MaxConnections,
	}
}

func (r *Router) Registry() *Registry {
	return r.registry
}

// Connect admits conn and performs the arrival sequence: the new peer gets
// its id, the others learn about it, then the new peer receives the roster
// and any device info already published. On ErrCapacityExceeded conn has
// already been closed with CloseCapacityExceeded.
//
// Arrivals and departures run one at a time, so a peer always receives its
// own your-id before any presence event and never sees a peer twice.
func (r *Router) Connect(conn Conn) (string, error) {
	r.presence.Lock()
	defer r.presence.Unlock()

	id, err := r.registry.Admit(conn, r.ceiling)
	if err != nil {
		if errors.Is(err, ErrCapacityExceeded) {
			r.metrics.AdmissionsRejected.WithLabelValues("capacity").Inc()
			r.logger.WithField("remote", conn.RemoteAddr()).Warn("Connection refused, relay at capacity")
			_ = conn.Close(CloseCapacityExceeded, "Server at capacity")
		}
		return "", err
	}
	r.metrics.PeersConnected.Set(float64(r.registry.Len()))
	r.logger.WithFields(logrus.Fields{"peer": id, "remote": conn.RemoteAddr()}).Info("Peer connected")

	r.send(conn, protocol.Envelope{Type: protocol.MsgYourID, ID: id})
	r.broadcast(id, protocol.Envelope{Type: protocol.MsgNewPeer, ID: id})

	others := r.registry.Peers(id)
	if len(others) > 0 {
		ids := make([]string, 0, len(others))
		for _, p := range others {
			ids = append(ids, p.ID)
		}
		r.send(conn, protocol.Envelope{Type: protocol.MsgPeerList, Peers: ids})
	}
	for _, p := range others {
		if p.DeviceInfo != nil {
			r.send(conn, protocol.Envelope{
				Type:       protocol.MsgPeerDeviceInfo,
				PeerID:     p.ID,
				DeviceInfo: p.DeviceInfo,
			})
		}
	}

	return id, nil
}

// Handle processes one inbound frame from the peer registered as id. The
// returned error says why a frame was dropped; it is never sent to the peer
// except for the first rate limit denial of a window.
func (r *Router) Handle(conn Conn, id string, data []byte) error {
	if r.limiter != nil {
		decision := r.limiter.Check(id)
		if !decision.Allowed {
			r.metrics.RateLimited.Inc()
			if decision.Notify {
				r.logger.WithField("peer", id).Warn("Rate limit exceeded")
				r.send(conn, protocol.Envelope{Type: protocol.MsgError, Message: protocol.ErrTextRateLimited})
			}
			return ErrRateLimitExceeded
		}
	}

	msg, err := protocol.ParseRaw(data)
	if err != nil {
		r.drop(id, "malformed", err)
		return err
	}

	switch msg.Type {
	case protocol.MsgPing:
		r.send(conn, protocol.Envelope{Type: protocol.MsgPong, Timestamp: r.clock.Now().UnixMilli()})
		return nil

	case protocol.MsgDeviceInfo:
		info, err := msg.DeviceInfo()
		if err != nil {
			r.drop(id, "malformed", err)
			return err
		}
		clean := info.Sanitize()
		if err := r.registry.SetDeviceInfo(id, clean); err != nil {
			return err
		}
		r.broadcast(id, protocol.Envelope{
			Type:       protocol.MsgPeerDeviceInfo,
			PeerID:     id,
			DeviceInfo: &clean,
		})
		return nil
	}

	return r.forward(id, msg)
}

func (r *Router) forward(sender string, msg *protocol.RawMessage) error {
	if msg.Target == "" {
		err := fmt.Errorf("%w: %s without target", ErrMalformedMessage, msg.Type)
		r.drop(sender, "no_target", err)
		return err
	}
	if msg.Target == sender {
		err := fmt.Errorf("%w: target is sender", ErrMalformedMessage)
		r.drop(sender, "self_target", err)
		return err
	}

	target, err := r.registry.Lookup(msg.Target)
	if err != nil {
		r.drop(sender, "unknown_target", err)
		return err
	}

	out, err := msg.WithSender(sender)
	if err != nil {
		r.drop(sender, "encode", err)
		return err
	}
	if err := target.Send(out); err != nil {
		r.logger.WithFields(logrus.Fields{"peer": sender, "target": msg.Target}).Debugf("Forward failed: %v", err)
		return err
	}

	r.metrics.MessagesForwarded.Inc()
	r.logger.WithFields(logrus.Fields{"type": msg.Type, "from": sender, "to": msg.Target}).Debug("Forwarded message")
	return nil
}

// Close removes conn and tells the remaining peers. Only the first call for
// a given conn has any effect, so the read loop and the liveness monitor may
// both call it.
func (r *Router) Close(conn Conn) bool {
	r.presence.Lock()
	defer r.presence.Unlock()

	id, ok := r.registry.RemoveConn(conn)
	if !ok {
		return false
	}
	if r.limiter != nil {
		r.limiter.Forget(id)
	}
	r.metrics.PeersConnected.Set(float64(r.registry.Len()))
	r.logger.WithField("peer", id).Info("Peer disconnected")

	r.broadcast(id, protocol.Envelope{Type: protocol.MsgPeerDisconnect, ID: id})
	return true
}

// Evict is Close followed by dropping the transport.
func (r *Router) Evict(conn Conn) {
	if r.Close(conn) {
		r.metrics.Evictions.Inc()
	}
	_ = conn.Terminate()
}

func (r *Router) send(conn Conn, msg protocol.Envelope) {
	data, err := r.codec.EncodeToBytes(msg)
	if err != nil {
		r.logger.Errorf("Failed to encode %s: %v", msg.Type, err)
		return
	}
	if err := conn.Send(data); err != nil {
		r.logger.WithField("remote", conn.RemoteAddr()).Debugf("Failed to send %s: %v", msg.Type, err)
	}
}

// broadcast sends msg to every peer except exclude. The frame is encoded once.
func (r *Router) broadcast(exclude string, msg protocol.Envelope) {
	data, err := r.codec.EncodeToBytes(msg)
	if err != nil {
		r.logger.Errorf("Failed to encode %s: %v", msg.Type, err)
		return
	}
	for _, conn := range r.registry.Conns(exclude) {
		if err := conn.Send(data); err != nil {
			r.logger.WithField("remote", conn.RemoteAddr()).Debugf("Failed to broadcast %s: %v", msg.Type, err)
		}
	}
}

func (r *Router) drop(id, reason string, err error) {
	r.metrics.MessagesDropped.WithLabelValues(reason).Inc()
	r.logger.WithFields(logrus.Fields{"peer": id, "reason": reason}).Debugf("Dropped message: %v", err)
}
