// Package node runs a peer: it holds the relay connection, negotiates
// sessions with other peers and moves files over their data channels.
package node

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pion/webrtc/v3"
	"github.com/rudransh-shrivastava/peer-share/internal/config"
	"github.com/rudransh-shrivastava/peer-share/internal/logger"
	"github.com/rudransh-shrivastava/peer-share/internal/protocol"
	"github.com/rudransh-shrivastava/peer-share/internal/session"
	"github.com/rudransh-shrivastava/peer-share/internal/signal"
	"github.com/rudransh-shrivastava/peer-share/internal/store"
	"github.com/rudransh-shrivastava/peer-share/internal/transfer"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

type Options struct {
	Config config.PeerConfig
	// History records finished transfers. Nil disables it.
	History store.TransferRepository
	// API builds peer connections. Nil uses pion's defaults.
	API *webrtc.API
	// Header is sent with the relay handshake.
	Header http.Header
	Logger *logrus.Logger
	Clock  clock.Clock
	// OnProgress observes every transfer after each chunk.
	OnProgress func(peerID string, t transfer.Transfer)
}

// Received reports a finished inbound transfer. Err is set when it was
// aborted.
type Received struct {
	PeerID   string
	Transfer transfer.Transfer
	Path     string
	Checksum string
	Err      error
}

type Node struct {
	cfg        config.PeerConfig
	client     *signal.Client
	sessions   *session.Manager
	roster     *Roster
	history    store.TransferRepository
	api        *webrtc.API
	logger     *logrus.Logger
	clock      clock.Clock
	onProgress func(peerID string, t transfer.Transfer)

	relayCh       chan protocol.Envelope
	negotiationCh chan protocol.Envelope
	received      chan Received

	mu    sync.Mutex
	links map[string]*link

	cancel    context.CancelFunc
	group     *errgroup.Group
	closed    chan struct{}
	closeOnce sync.Once
}

func New(ctx context.Context, opts Options) (*Node, error) {
	if err := opts.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid peer config: %w", err)
	}

	n := newNode(opts)

	client, err := signal.Dial(ctx, opts.Config.SignalingServerURL, signal.Options{
		Header: opts.Header,
		Logger: n.logger,
		Clock:  n.clock,
	})
	if err != nil {
		return nil, err
	}
	n.client = client

	client.AddRoute(n.relayCh, signal.MatchTypes(
		protocol.MsgYourID,
		protocol.MsgPeerList,
		protocol.MsgNewPeer,
		protocol.MsgPeerDisconnect,
		protocol.MsgPeerDeviceInfo,
	))
	client.AddRoute(n.negotiationCh, signal.MatchTypes(
		protocol.MsgOffer,
		protocol.MsgAnswer,
		protocol.MsgCandidate,
	))

	return n, nil
}

func newNode(opts Options) *Node {
	log := opts.Logger
	if log == nil {
		log = logger.NewLogger()
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}

	n := &Node{
		cfg:           opts.Config,
		roster:        NewRoster(),
		history:       opts.History,
		api:           opts.API,
		logger:        log,
		clock:         clk,
		onProgress:    opts.OnProgress,
		relayCh:       make(chan protocol.Envelope, 64),
		negotiationCh: make(chan protocol.Envelope, 64),
		received:      make(chan Received, receivedQueue),
		links:         make(map[string]*link),
		closed:        make(chan struct{}),
	}
	n.sessions = session.NewManager(n.newSession, log)
	return n
}

// Start waits for the relay to assign an id, publishes this device and
// starts handling relay traffic in the background.
func (n *Node) Start(ctx context.Context) error {
	n.logger.Info("Node starting...")
	n.client.Start()

	id, err := n.client.ID(ctx)
	if err != nil {
		return fmt.Errorf("waiting for relay id: %w", err)
	}
	n.roster.Apply(protocol.Envelope{Type: protocol.MsgYourID, ID: id})

	info := protocol.DeviceInfo{
		DeviceName: n.cfg.DeviceName,
		DeviceType: n.cfg.DeviceType,
	}.Sanitize()
	if err := n.client.SendDeviceInfo(info); err != nil {
		n.logger.Warnf("Failed to publish device info: %v", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	group, runCtx := errgroup.WithContext(runCtx)
	n.cancel = cancel
	n.group = group

	group.Go(func() error { return n.handleRelayMsgs(runCtx) })
	if n.cfg.PingInterval > 0 {
		group.Go(func() error { return n.client.RunPing(runCtx, n.cfg.PingInterval) })
	}

	n.logger.Infof("Node is now running as %s", id)
	return nil
}

func (n *Node) handleRelayMsgs(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-n.client.Done():
			return n.client.Err()
		case msg := <-n.relayCh:
			n.handleRosterMsg(msg)
		case msg := <-n.negotiationCh:
			if err := n.sessions.Dispatch(msg); err != nil {
				n.logger.Warnf("Failed to handle %s from %s: %v", msg.Type, msg.Sender, err)
			}
		}
	}
}

func (n *Node) handleRosterMsg(msg protocol.Envelope) {
	if !n.roster.Apply(msg) {
		return
	}
	switch msg.Type {
	case protocol.MsgNewPeer:
		n.logger.Infof("Peer %s joined", msg.ID)
	case protocol.MsgPeerDisconnect:
		n.logger.Infof("Peer %s left", msg.ID)
		n.sessions.Forget(msg.ID)
		if s, ok := n.sessions.Get(msg.ID); ok {
			_ = s.Close()
		}
	case protocol.MsgPeerDeviceInfo:
		n.logger.Debugf("Peer %s is %s", msg.PeerID, msg.DeviceInfo.DeviceName)
	}
}

func (n *Node) newSession(remoteID string, role session.Role) (*session.Session, error) {
	var owner atomic.Pointer[session.Session]
	s, err := session.New(session.Config{
		RemoteID: remoteID,
		Role:     role,
		WebRTC:   session.ICEConfiguration(n.cfg.STUNServers),
		API:      n.api,
		Signaler: n.client,
		Logger:   n.logger,
		OnChannel: func(dc *webrtc.DataChannel) {
			n.attachChannel(remoteID, dc, &owner)
		},
		OnStateChange: func(st session.State) {
			n.logger.Debugf("Session with %s is %s", remoteID, st)
		},
	})
	if err != nil {
		return nil, err
	}
	owner.Store(s)
	return s, nil
}

// ID returns the relay-assigned id, empty before Start.
func (n *Node) ID() string {
	return n.roster.Self()
}

// Peers returns the other peers currently on the relay.
func (n *Node) Peers() []PeerInfo {
	return n.roster.List()
}

// WaitForPeer blocks until id is on the relay. An empty id waits for any
// peer.
func (n *Node) WaitForPeer(ctx context.Context, id string) (PeerInfo, error) {
	return n.roster.WaitFor(ctx, id)
}

// Quality labels the relay round trip.
func (n *Node) Quality() (time.Duration, string) {
	rtt, ok := n.client.RTT()
	return rtt, signal.Quality(rtt, ok)
}

// Received delivers finished inbound transfers.
func (n *Node) Received() <-chan Received {
	return n.received
}

// Done is closed when the relay connection ends.
func (n *Node) Done() <-chan struct{} {
	return n.client.Done()
}

// Err reports why the relay connection ended.
func (n *Node) Err() error {
	return n.client.Err()
}

// Close ends every session and the relay connection.
func (n *Node) Close() error {
	var err error
	n.closeOnce.Do(func() {
		n.logger.Info("Shutting down node...")
		close(n.closed)
		if n.cancel != nil {
			n.cancel()
		}
		n.sessions.CloseAll()

		if n.client != nil {
			err = multierr.Append(err, n.client.Close())
		}
		if n.group != nil {
			if werr := n.group.Wait(); werr != nil && !errors.Is(werr, signal.ErrClosed) {
				err = multierr.Append(err, werr)
			}
		}
		n.logger.Info("Node stopped")
	})
	return err
}
