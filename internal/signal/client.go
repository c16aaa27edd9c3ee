package signal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"github.com/rudransh-shrivastava/peer-share/internal/protocol"
	"github.com/sirupsen/logrus"
)

const writeWait = 10 * time.Second

var (
	ErrClosed          = errors.New("relay connection closed")
	ErrRelayAtCapacity = errors.New("relay at capacity")
	ErrOriginRefused   = errors.New("relay refused origin")
)

// Connection quality labels derived from the relay round trip.
const (
	QualityUnknown = "unknown"
	QualityGood    = "good"
	QualityFair    = "fair"
	QualityPoor    = "poor"
)

type Options struct {
	// Header is sent with the handshake, e.g. an Origin.
	Header http.Header
	Dialer *websocket.Dialer
	Logger *logrus.Logger
	Clock  clock.Clock
}

// Client is one connection to the signaling relay.
type Client struct {
	conn   *websocket.Conn
	logger *logrus.Logger
	clock  clock.Clock
	router *MessageRouter

	writeMu sync.Mutex

	mu       sync.Mutex
	id       string
	pingSent time.Time
	rtt      time.Duration
	err      error

	idReady   chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	startOnce sync.Once
}

// Dial connects to the relay at url. Routes should be added before Start so
// that the first roster messages are not missed.
func Dial(ctx context.Context, url string, opts Options) (*Client, error) {
	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}

	conn, _, err := dialer.DialContext(ctx, url, opts.Header)
	if err != nil {
		return nil, fmt.Errorf("dialing relay %s: %w", url, err)
	}

	done := make(chan struct{})
	return &Client{
		conn:    conn,
		logger:  log,
		clock:   clk,
		router:  NewMessageRouter(done),
		idReady: make(chan struct{}),
		done:    done,
	}, nil
}

func (c *Client) AddRoute(ch chan<- protocol.Envelope, match func(protocol.Envelope) bool) {
	c.router.AddRoute(ch, match)
}

func (c *Client) Start() {
	c.startOnce.Do(func() {
		go c.listen()
	})
}

func (c *Client) listen() {
	defer c.stop(nil)

	codec := protocol.NewCodec()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.stop(closeReason(err))
			return
		}

		msg, err := codec.DecodeFromBytes(data)
		if err != nil {
			c.logger.Debugf("Ignoring undecodable relay message: %v", err)
			continue
		}
		c.handle(msg)
	}
}

func (c *Client) handle(msg protocol.Envelope) {
	switch msg.Type {
	case protocol.MsgYourID:
		c.mu.Lock()
		first := c.id == ""
		c.id = msg.ID
		c.mu.Unlock()
		if first {
			close(c.idReady)
		}
		c.logger.Infof("Got my ID from relay: %s", msg.ID)
	case protocol.MsgPong:
		c.mu.Lock()
		if !c.pingSent.IsZero() {
			c.rtt = c.clock.Since(c.pingSent)
			c.pingSent = time.Time{}
		}
		c.mu.Unlock()
	case protocol.MsgError:
		c.logger.Warnf("Relay error: %s", msg.Message)
	}

	c.router.Route(msg)
}

func (c *Client) stop(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		close(c.done)
		_ = c.conn.Close()
	})
}

// ID waits for the relay to assign an id.
func (c *Client) ID(ctx context.Context) (string, error) {
	select {
	case <-c.idReady:
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.id, nil
	case <-c.done:
		return "", c.Err()
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// WriteMessage sends msg as one text frame.
func (c *Client) WriteMessage(msg protocol.Envelope) error {
	select {
	case <-c.done:
		return c.Err()
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteJSON(&msg)
}

// Send addresses msg to target.
func (c *Client) Send(target string, msg protocol.Envelope) error {
	msg.Target = target
	return c.WriteMessage(msg)
}

func (c *Client) SendDeviceInfo(info protocol.DeviceInfo) error {
	return c.WriteMessage(protocol.Envelope{Type: protocol.MsgDeviceInfo, DeviceInfo: &info})
}

// Ping sends an application-level ping. The round trip is available from
// RTT once the pong arrives.
func (c *Client) Ping() error {
	c.mu.Lock()
	c.pingSent = c.clock.Now()
	c.mu.Unlock()
	return c.WriteMessage(protocol.Envelope{Type: protocol.MsgPing})
}

// RunPing pings every interval until ctx is cancelled or the connection
// closes.
func (c *Client) RunPing(ctx context.Context, interval time.Duration) error {
	ticker := c.clock.Ticker(interval)
	defer ticker.Stop()

	if err := c.Ping(); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.done:
			return c.Err()
		case <-ticker.C:
			if err := c.Ping(); err != nil {
				return err
			}
		}
	}
}

// RTT returns the last measured round trip.
func (c *Client) RTT() (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rtt, c.rtt > 0
}

// Quality labels a round trip: good up to 100ms, fair up to 200ms, poor above.
func Quality(rtt time.Duration, measured bool) string {
	switch {
	case !measured:
		return QualityUnknown
	case rtt > 200*time.Millisecond:
		return QualityPoor
	case rtt > 100*time.Millisecond:
		return QualityFair
	default:
		return QualityGood
	}
}

func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err reports why the connection ended, or ErrClosed after Close.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	return ErrClosed
}

func (c *Client) Close() error {
	select {
	case <-c.done:
		return nil
	default:
	}

	c.writeMu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	err := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	c.writeMu.Unlock()

	c.stop(nil)
	if errors.Is(err, websocket.ErrCloseSent) {
		return nil
	}
	return err
}

func closeReason(err error) error {
	switch {
	case websocket.IsCloseError(err, websocket.CloseTryAgainLater):
		return ErrRelayAtCapacity
	case websocket.IsCloseError(err, websocket.ClosePolicyViolation):
		return ErrOriginRefused
	case websocket.IsCloseError(err, websocket.CloseNormalClosure):
		return ErrClosed
	default:
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
}
