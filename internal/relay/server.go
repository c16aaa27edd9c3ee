package relay

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"github.com/rudransh-shrivastava/peer-share/internal/config"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

type Config struct {
	Relay  config.RelayConfig
	Logger *logrus.Logger
	Clock  clock.Clock
}

// Server accepts WebSocket connections and runs the relay protocol over them.
type Server struct {
	config config.RelayConfig
	logger *logrus.Logger
	clock  clock.Clock

	listener net.Listener
	http     *http.Server
	upgrader websocket.Upgrader
	upgrades *rate.Limiter

	router  *Router
	monitor *Monitor
	metrics *Metrics

	startedAt time.Time

	mu       sync.Mutex
	cancel   context.CancelFunc
	shutdown sync.Once
}

func NewServer(cfg Config) (*Server, error) {
	if err := cfg.Relay.Validate(); err != nil {
		return nil, err
	}

	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}

	listener, err := net.Listen("tcp", cfg.Relay.Addr())
	if err != nil {
		return nil, err
	}

	metrics := NewMetrics()
	router := NewRouter(RouterConfig{
		Registry:       NewRegistry(clk),
		Limiter:        NewRateLimiter(clk, cfg.Relay.RateLimitWindow, cfg.Relay.RateLimitMax),
		Metrics:        metrics,
		Clock:          clk,
		Logger:         log,
		MaxConnections: cfg.Relay.MaxConnections,
	})

	s := &Server{
		config:   cfg.Relay,
		logger:   log,
		clock:    clk,
		listener: listener,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Origin is checked after the upgrade so the refusal can carry
			// a close code.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		router:    router,
		monitor:   NewMonitor(router, clk, cfg.Relay.HeartbeatInterval, log),
		metrics:   metrics,
		startedAt: clk.Now(),
	}
	if cfg.Relay.UpgradeRate > 0 {
		s.upgrades = rate.NewLimiter(rate.Limit(cfg.Relay.UpgradeRate), max(cfg.Relay.UpgradeBurst, 1))
	}
	s.http = &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

func (s *Server) Router() *Router {
	return s.router
}

func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Start serves until ctx is cancelled or Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	defer cancel()

	s.logger.WithField("addr", s.Addr()).Info("Relay server started")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := s.http.Serve(s.listener)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		return s.monitor.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		return s.Shutdown()
	})
	return g.Wait()
}

// Shutdown closes every peer connection and the listener. It is safe to call
// more than once.
func (s *Server) Shutdown() error {
	var err error
	s.shutdown.Do(func() {
		s.logger.Info("Shutting down relay server")

		s.mu.Lock()
		if s.cancel != nil {
			s.cancel()
		}
		s.mu.Unlock()

		for _, conn := range s.router.Registry().Conns("") {
			err = multierr.Append(err, ignoreClosed(conn.Close(websocket.CloseGoingAway, "Server shutting down")))
		}
		err = multierr.Append(err, s.http.Close())
		err = multierr.Append(err, ignoreClosed(s.listener.Close()))
	})
	return err
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.upgrades != nil && !s.upgrades.Allow() {
		s.metrics.AdmissionsRejected.WithLabelValues("upgrade_rate").Inc()
		http.Error(w, "Too many connection attempts", http.StatusTooManyRequests)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithField("remote", r.RemoteAddr).Debugf("Upgrade failed: %v", err)
		return
	}
	conn := newWSConn(ws)

	if origin := r.Header.Get("Origin"); !s.config.OriginAllowed(origin) {
		s.metrics.AdmissionsRejected.WithLabelValues("origin").Inc()
		s.logger.WithFields(logrus.Fields{"remote": r.RemoteAddr, "origin": origin}).Warn("Connection refused, origin not allowed")
		_ = conn.Close(CloseUnauthorized, ErrUnauthorizedOrigin.Error())
		return
	}

	ws.SetReadLimit(s.config.MaxMessageSize)
	ws.SetPongHandler(func(string) error {
		s.router.Registry().MarkAlive(conn)
		return nil
	})

	s.serveConn(conn)
}

// connState tracks one connection through Connecting, Active and Closed.
type connState int

const (
	stateConnecting connState = iota
	stateActive
	stateClosed
)

func (st connState) String() string {
	switch st {
	case stateConnecting:
		return "connecting"
	case stateActive:
		return "active"
	case stateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

func (s *Server) serveConn(conn *wsConn) {
	state := stateConnecting
	id, err := s.router.Connect(conn)
	if err != nil {
		s.logger.WithFields(logrus.Fields{"remote": conn.RemoteAddr(), "state": state}).Debugf("Admission failed: %v", err)
		return
	}
	state = stateActive

	defer func() {
		s.router.Close(conn)
		_ = conn.Terminate()
		state = stateClosed
		s.logger.WithFields(logrus.Fields{"peer": id, "state": state}).Debug("Connection finished")
	}()

	for {
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				s.logger.WithField("peer", id).Debugf("Read failed: %v", err)
			}
			return
		}
		_ = s.router.Handle(conn, id, data)
	}
}

func ignoreClosed(err error) error {
	if errors.Is(err, net.ErrClosed) || errors.Is(err, websocket.ErrCloseSent) {
		return nil
	}
	return err
}
