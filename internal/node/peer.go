package node

import (
	"context"
	"sort"
	"sync"

	"github.com/rudransh-shrivastava/peer-share/internal/protocol"
)

// PeerInfo is what the relay has told us about another peer.
type PeerInfo struct {
	ID         string
	DeviceInfo protocol.DeviceInfo
	HasInfo    bool
}

// Name returns the advertised device name, or the id when there is none.
func (p PeerInfo) Name() string {
	if p.HasInfo && p.DeviceInfo.DeviceName != "" {
		return p.DeviceInfo.DeviceName
	}
	return p.ID
}

// Roster tracks the other peers from relay presence messages.
type Roster struct {
	mu      sync.Mutex
	self    string
	peers   map[string]PeerInfo
	changed chan struct{}
}

func NewRoster() *Roster {
	return &Roster{
		peers:   make(map[string]PeerInfo),
		changed: make(chan struct{}),
	}
}

// Apply updates the roster from one relay message and reports whether it
// changed.
func (r *Roster) Apply(msg protocol.Envelope) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	changed := false
	switch msg.Type {
	case protocol.MsgYourID:
		r.self = msg.ID
		changed = r.remove(msg.ID)
	case protocol.MsgPeerList:
		for _, id := range msg.Peers {
			changed = r.add(id) || changed
		}
	case protocol.MsgNewPeer:
		changed = r.add(msg.ID)
	case protocol.MsgPeerDisconnect:
		changed = r.remove(msg.ID)
	case protocol.MsgPeerDeviceInfo:
		if msg.PeerID == "" || msg.PeerID == r.self || msg.DeviceInfo == nil {
			return false
		}
		r.peers[msg.PeerID] = PeerInfo{ID: msg.PeerID, DeviceInfo: *msg.DeviceInfo, HasInfo: true}
		changed = true
	}

	if changed {
		close(r.changed)
		r.changed = make(chan struct{})
	}
	return changed
}

func (r *Roster) add(id string) bool {
	if id == "" || id == r.self {
		return false
	}
	if _, ok := r.peers[id]; ok {
		return false
	}
	r.peers[id] = PeerInfo{ID: id}
	return true
}

func (r *Roster) remove(id string) bool {
	if _, ok := r.peers[id]; !ok {
		return false
	}
	delete(r.peers, id)
	return true
}

func (r *Roster) Self() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.self
}

func (r *Roster) Get(id string) (PeerInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peers[id]
	return p, ok
}

// List returns the known peers ordered by id.
func (r *Roster) List() []PeerInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	peers := make([]PeerInfo, 0, len(r.peers))
	for _, p := range r.peers {
		peers = append(peers, p)
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i].ID < peers[j].ID })
	return peers
}

// WaitFor blocks until a peer matching id is present. An empty id matches the
// first peer to appear.
func (r *Roster) WaitFor(ctx context.Context, id string) (PeerInfo, error) {
	for {
		r.mu.Lock()
		if p, ok := r.find(id); ok {
			r.mu.Unlock()
			return p, nil
		}
		changed := r.changed
		r.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return PeerInfo{}, ctx.Err()
		}
	}
}

func (r *Roster) find(id string) (PeerInfo, bool) {
	if id != "" {
		p, ok := r.peers[id]
		return p, ok
	}
	var first PeerInfo
	found := false
	for _, p := range r.peers {
		if !found || p.ID < first.ID {
			first, found = p, true
		}
	}
	return first, found
}
