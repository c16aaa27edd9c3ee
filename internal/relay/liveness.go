package relay

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
)

// Monitor probes every registered connection once per interval and evicts
// the ones that did not answer the previous probe.
type Monitor struct {
	router   *Router
	clock    clock.Clock
	interval time.Duration
	logger   *logrus.Logger
}

func NewMonitor(router *Router, clk clock.Clock, interval time.Duration, log *logrus.Logger) *Monitor {
	if clk == nil {
		clk = clock.New()
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Monitor{
		router:   router,
		clock:    clk,
		interval: interval,
		logger:   log,
	}
}

// Run ticks until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := m.clock.Ticker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Tick()
		}
	}
}

// Tick performs one liveness round and returns how many peers were evicted.
func (m *Monitor) Tick() int {
	dead, probe := m.router.Registry().Probe()

	for _, conn := range dead {
		m.logger.WithField("remote", conn.RemoteAddr()).Info("Terminating unresponsive peer")
		m.router.Evict(conn)
	}
	for _, conn := range probe {
		if err := conn.Ping(); err != nil {
			m.logger.WithField("remote", conn.RemoteAddr()).Debugf("Ping failed: %v", err)
		}
	}
	return len(dead)
}
