package relay

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/rudransh-shrivastava/peer-share/internal/logger"
	"github.com/rudransh-shrivastava/peer-share/internal/protocol"
)

type fakeConn struct {
	mu sync.Mutex

	name        string
	sent        [][]byte
	pings       int
	closeCode   int
	closeReason string
	terminated  bool
	sendErr     error
}

func newFakeConn(name string) *fakeConn {
	return &fakeConn{name: name}
}

func (c *fakeConn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) Ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pings++
	return nil
}

func (c *fakeConn) Close(code int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeCode = code
	c.closeReason = reason
	return nil
}

func (c *fakeConn) Terminate() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.terminated = true
	return nil
}

func (c *fakeConn) RemoteAddr() string {
	return c.name
}

// messages decodes every frame sent so far and clears the buffer.
func (c *fakeConn) messages(t *testing.T) []protocol.Envelope {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]protocol.Envelope, 0, len(c.sent))
	for _, data := range c.sent {
		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			t.Fatalf("Unmarshal failed: %v", err)
		}
		out = append(out, env)
	}
	c.sent = nil
	return out
}

// raw returns the frames sent so far as generic objects and clears the buffer.
func (c *fakeConn) raw(t *testing.T) []map[string]any {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]map[string]any, 0, len(c.sent))
	for _, data := range c.sent {
		var m map[string]any
		if err := json.Unmarshal(data, &m); err != nil {
			t.Fatalf("Unmarshal failed: %v", err)
		}
		out = append(out, m)
	}
	c.sent = nil
	return out
}

func (c *fakeConn) state() (pings, closeCode int, terminated bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pings, c.closeCode, c.terminated
}

func newTestRouter(clk clock.Clock, ceiling, rateMax int) *Router {
	return NewRouter(RouterConfig{
		Registry:       NewRegistry(clk),
		Limiter:        NewRateLimiter(clk, defaultWindow, rateMax),
		Clock:          clk,
		Logger:         logger.Discard(),
		MaxConnections: ceiling,
	})
}

// connect admits a fake connection and discards its arrival messages.
func connect(t *testing.T, r *Router, name string) (*fakeConn, string) {
	t.Helper()
	conn := newFakeConn(name)
	id, err := r.Connect(conn)
	if err != nil {
		t.Fatalf("Connect %s failed: %v", name, err)
	}
	conn.messages(t)
	return conn, id
}
