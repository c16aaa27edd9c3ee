// Package signal is the peer side of the relay connection.
package signal

import (
	"sync"

	"github.com/rudransh-shrivastava/peer-share/internal/protocol"
)

type route struct {
	ch    chan<- protocol.Envelope
	match func(protocol.Envelope) bool
}

// MessageRouter fans relay messages out to channels based on a match
// function. Delivery blocks until the receiver is ready or done is closed.
type MessageRouter struct {
	mu     sync.RWMutex
	routes []route
	done   <-chan struct{}
}

func NewMessageRouter(done <-chan struct{}) *MessageRouter {
	return &MessageRouter{done: done}
}

func (r *MessageRouter) AddRoute(ch chan<- protocol.Envelope, match func(protocol.Envelope) bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes = append(r.routes, route{ch: ch, match: match})
}

// Route delivers msg to every matching channel and returns how many
// received it.
func (r *MessageRouter) Route(msg protocol.Envelope) int {
	r.mu.RLock()
	routes := r.routes
	r.mu.RUnlock()

	delivered := 0
	for _, rt := range routes {
		if !rt.match(msg) {
			continue
		}
		select {
		case rt.ch <- msg:
			delivered++
		case <-r.done:
			return delivered
		}
	}
	return delivered
}

// MatchTypes returns a match function accepting any of types.
func MatchTypes(types ...protocol.MessageType) func(protocol.Envelope) bool {
	return func(msg protocol.Envelope) bool {
		for _, t := range types {
			if msg.Type == t {
				return true
			}
		}
		return false
	}
}
