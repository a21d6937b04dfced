package hub

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/fpvtiming/racehub/log"
	"github.com/fpvtiming/racehub/pkg/auth"
	"github.com/fpvtiming/racehub/pkg/wire"
)

const (
	defaultHeartbeatInterval = 10 * time.Second
	// sessions without inbound traffic for this many intervals are
	// considered dead
	defaultMissedIntervals = 3
)

type (
	// Monitor periodically broadcasts heartbeat envelopes and evicts
	// sessions that stopped responding. A stale session is treated the
	// same way as one with a saturated queue.
	Monitor struct {
		hub      *Hub
		clock    clockwork.Clock
		interval time.Duration
		timeout  time.Duration
		l        *log.Logger
	}
	MonitorOption func(*Monitor)
)

func WithInterval(arg time.Duration) MonitorOption {
	return func(m *Monitor) {
		m.interval = arg
		m.timeout = arg * defaultMissedIntervals
	}
}

func WithTimeout(arg time.Duration) MonitorOption {
	return func(m *Monitor) {
		m.timeout = arg
	}
}

func WithMonitorLogger(arg *log.Logger) MonitorOption {
	return func(m *Monitor) {
		m.l = arg
	}
}

func NewMonitor(h *Hub, opts ...MonitorOption) *Monitor {
	ret := &Monitor{
		hub:      h,
		clock:    h.clock,
		interval: defaultHeartbeatInterval,
		timeout:  defaultHeartbeatInterval * defaultMissedIntervals,
		l:        log.Default().Named("hub.heartbeat"),
	}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

// Run emits heartbeats until the context is canceled. Blocking, meant
// to be started as a goroutine.
func (m *Monitor) Run(ctx context.Context) {
	ticker := m.clock.NewTicker(m.interval)
	defer ticker.Stop()
	m.l.Info("heartbeat monitor started",
		log.Duration("interval", m.interval),
		log.Duration("timeout", m.timeout))
	for {
		select {
		case <-ctx.Done():
			m.l.Info("heartbeat monitor stopped")
			return
		case <-ticker.Chan():
			m.tick()
		}
	}
}

func (m *Monitor) tick() {
	m.hub.Publish(wire.NewEnvelope(wire.KindHeartbeat), auth.PermNone)
	cutoff := m.clock.Now().Add(-m.timeout)
	for _, sub := range m.hub.staleSince(cutoff) {
		m.l.Warn("evicting stale session",
			log.String("session", sub.session.ID().String()),
			log.Time("lastSeen", sub.lastActivity()))
		m.hub.evict(sub)
	}
}
