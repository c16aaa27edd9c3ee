package relay

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Close codes sent to refused connections.
const (
	CloseCapacityExceeded = websocket.CloseTryAgainLater
	CloseUnauthorized     = websocket.ClosePolicyViolation
)

const writeWait = 10 * time.Second

// wsConn adapts a gorilla connection to Conn. gorilla allows one concurrent
// writer; control frames go through WriteControl which is exempt.
type wsConn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func newWSConn(ws *websocket.Conn) *wsConn {
	return &wsConn{ws: ws}
}

func (c *wsConn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Ping() error {
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (c *wsConn) Close(code int, reason string) error {
	msg := websocket.FormatCloseMessage(code, reason)
	err := c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	if cerr := c.ws.Close(); err == nil {
		err = cerr
	}
	return err
}

func (c *wsConn) Terminate() error {
	return c.ws.Close()
}

func (c *wsConn) RemoteAddr() string {
	return c.ws.RemoteAddr().String()
}
