package relay

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/rudransh-shrivastava/peer-share/internal/protocol"
)

// Conn is the relay's handle on one connected peer.
type Conn interface {
	// Send writes one text frame.
	Send(data []byte) error
	// Ping sends a liveness probe; the reply is reported via Registry.MarkAlive.
	Ping() error
	// Close performs a closing handshake carrying code and reason.
	Close(code int, reason string) error
	// Terminate drops the underlying connection without a handshake.
	Terminate() error
	RemoteAddr() string
}

// Peer is the registry record for one admitted connection.
type Peer struct {
	ID          string
	DeviceInfo  *protocol.DeviceInfo
	ConnectedAt time.Time
	LastAck     time.Time

	conn  Conn
	alive bool
	seq   uint64
}

// Registry maps relay ids to connections. All methods are safe for
// concurrent use.
type Registry struct {
	mu     sync.RWMutex
	byID   map[string]*Peer
	byConn map[Conn]*Peer
	seq    uint64

	clock clock.Clock
	newID func() string
}

func NewRegistry(clk clock.Clock) *Registry {
	if clk == nil {
		clk = clock.New()
	}
	return &Registry{
		byID:   make(map[string]*Peer),
		byConn: make(map[Conn]*Peer),
		clock:  clk,
		newID:  NewPeerID,
	}
}

// NewPeerID returns a short random id such as "los-1f3a9c2b7".
func NewPeerID() string {
	return protocol.PeerIDPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
}

// Admit registers conn and returns its new id. The ceiling is checked before
// any id is generated; a ceiling of zero means unlimited.
func (r *Registry) Admit(conn Conn, ceiling int) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !TryAdmit(len(r.byID), ceiling) {
		return "", ErrCapacityExceeded
	}
	if _, exists := r.byConn[conn]; exists {
		return "", ErrAlreadyAdmitted
	}

	id := r.newID()
	for {
		if _, taken := r.byID[id]; !taken {
			break
		}
		id = r.newID()
	}

	now := r.clock.Now()
	r.seq++
	peer := &Peer{
		ID:          id,
		ConnectedAt: now,
		LastAck:     now,
		conn:        conn,
		alive:       true,
		seq:         r.seq,
	}
	r.byID[id] = peer
	r.byConn[conn] = peer
	return id, nil
}

func (r *Registry) Lookup(id string) (Conn, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	peer, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return peer.conn, nil
}

// IDOf returns the id registered for conn.
func (r *Registry) IDOf(conn Conn) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	peer, ok := r.byConn[conn]
	if !ok {
		return "", false
	}
	return peer.ID, true
}

// Remove deletes id and reports whether a record was removed.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	peer, ok := r.byID[id]
	if !ok {
		return false
	}
	delete(r.byID, id)
	delete(r.byConn, peer.conn)
	return true
}

// RemoveConn deletes the record owning conn. Only the first call for a
// given conn returns true.
func (r *Registry) RemoveConn(conn Conn) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	peer, ok := r.byConn[conn]
	if !ok {
		return "", false
	}
	delete(r.byConn, conn)
	delete(r.byID, peer.ID)
	return peer.ID, true
}

func (r *Registry) SetDeviceInfo(id string, info protocol.DeviceInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	peer, ok := r.byID[id]
	if !ok {
		return ErrNotFound
	}
	peer.DeviceInfo = &info
	return nil
}

// AllIDs returns every registered id except exclude, in admission order.
func (r *Registry) AllIDs(exclude string) []string {
	peers := r.snapshot(exclude)
	ids := make([]string, 0, len(peers))
	for _, p := range peers {
		ids = append(ids, p.ID)
	}
	return ids
}

// Peers returns copies of every record except exclude, in admission order.
func (r *Registry) Peers(exclude string) []Peer {
	return r.snapshot(exclude)
}

// Conns returns the connections of every peer except exclude.
func (r *Registry) Conns(exclude string) []Conn {
	peers := r.snapshot(exclude)
	conns := make([]Conn, 0, len(peers))
	for _, p := range peers {
		conns = append(conns, p.conn)
	}
	return conns
}

func (r *Registry) snapshot(exclude string) []Peer {
	r.mu.RLock()
	out := make([]Peer, 0, len(r.byID))
	for id, p := range r.byID {
		if id == exclude {
			continue
		}
		cp := *p
		if p.DeviceInfo != nil {
			info := *p.DeviceInfo
			cp.DeviceInfo = &info
		}
		out = append(out, cp)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// MarkAlive records a liveness acknowledgement from conn.
func (r *Registry) MarkAlive(conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if peer, ok := r.byConn[conn]; ok {
		peer.alive = true
		peer.LastAck = r.clock.Now()
	}
}

// Probe splits the registered connections into those that never acknowledged
// the previous probe and those that did. The latter are marked unacknowledged
// in the same critical section.
func (r *Registry) Probe() (dead, probe []Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, peer := range r.byID {
		if !peer.alive {
			dead = append(dead, peer.conn)
			continue
		}
		peer.alive = false
		probe = append(probe, peer.conn)
	}
	return dead, probe
}
