// Package integration runs relays and peers together in one process.
package integration

import (
	"context"
	"testing"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/rudransh-shrivastava/peer-share/internal/config"
	"github.com/rudransh-shrivastava/peer-share/internal/db"
	"github.com/rudransh-shrivastava/peer-share/internal/logger"
	"github.com/rudransh-shrivastava/peer-share/internal/node"
	"github.com/rudransh-shrivastava/peer-share/internal/relay"
	"github.com/rudransh-shrivastava/peer-share/internal/store"
	"github.com/rudransh-shrivastava/peer-share/internal/transfer"
)

type Network struct {
	relay  *relay.Server
	nodes  []*node.Node
	cancel context.CancelFunc
	ctx    context.Context
	errCh  chan error
	t      *testing.T
}

func NewNetwork(t *testing.T) *Network {
	t.Helper()

	cfg := config.DefaultRelayConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = 0

	srv, err := relay.NewServer(relay.Config{
		Relay:  cfg,
		Logger: logger.Discard(),
	})
	if err != nil {
		t.Fatalf("Failed to create relay: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()

	n := &Network{
		relay:  srv,
		cancel: cancel,
		ctx:    ctx,
		errCh:  errCh,
		t:      t,
	}
	t.Cleanup(n.Close)
	return n
}

func (n *Network) URL() string {
	return "ws://" + n.relay.Addr()
}

// Peer is a started node plus its private history.
type Peer struct {
	*node.Node
	History     *store.TransferStore
	DownloadDir string
}

// NewPeer starts a node named name. onProgress may be nil; tweaks adjust the
// peer configuration before the node starts.
func (n *Network) NewPeer(name string, onProgress func(string, transfer.Transfer), tweaks ...func(*config.PeerConfig)) *Peer {
	n.t.Helper()

	gormDB, err := db.Open(":memory:")
	if err != nil {
		n.t.Fatalf("Failed to open history: %v", err)
	}
	n.t.Cleanup(func() { _ = db.Close(gormDB) })
	history := store.NewTransferStore(gormDB)

	cfg := config.DefaultPeerConfig()
	cfg.SignalingServerURL = n.URL()
	cfg.STUNServers = nil
	cfg.DeviceName = name
	cfg.DownloadDir = n.t.TempDir()
	cfg.PingInterval = time.Second
	for _, tweak := range tweaks {
		tweak(&cfg)
	}

	p, err := node.New(n.ctx, node.Options{
		Config:     cfg,
		History:    history,
		API:        loopbackAPI(),
		Logger:     logger.Discard(),
		OnProgress: onProgress,
	})
	if err != nil {
		n.t.Fatalf("Failed to create node: %v", err)
	}
	if err := p.Start(n.ctx); err != nil {
		n.t.Fatalf("Failed to start node: %v", err)
	}
	n.nodes = append(n.nodes, p)

	return &Peer{Node: p, History: history, DownloadDir: cfg.DownloadDir}
}

func (n *Network) Context() context.Context {
	return n.ctx
}

func (n *Network) Close() {
	for _, p := range n.nodes {
		_ = p.Close()
	}
	n.nodes = nil
	n.cancel()
	_ = n.relay.Shutdown()
}

// loopbackAPI lets pion connect two peers in one process without a network.
func loopbackAPI() *webrtc.API {
	se := webrtc.SettingEngine{}
	se.SetIncludeLoopbackCandidate(true)
	se.SetNetworkTypes([]webrtc.NetworkType{webrtc.NetworkTypeUDP4})
	return webrtc.NewAPI(webrtc.WithSettingEngine(se))
}
