// Package health implements the health-state notifier: it subscribes to
// health.state transitions, debounces noisy/duplicate updates, counts
// transitions, and forwards a formatted message to a notification sink.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-engine-kernel/internal/eventbus"
	"github.com/atlas-desktop/trading-engine-kernel/internal/notify"
	"github.com/atlas-desktop/trading-engine-kernel/pkg/kernel"
)

// Config controls enablement and debounce.
type Config struct {
	Enabled  bool
	Debounce time.Duration
}

// DefaultConfig matches the spec default (disabled by default, 10s debounce).
func DefaultConfig() Config {
	return Config{Enabled: false, Debounce: 10 * time.Second}
}

var stateEmoji = map[kernel.HealthState]string{
	kernel.HealthOK:       "\U0001F7E2",
	kernel.HealthDegraded: "\U0001F7E1",
	kernel.HealthHalted:   "\U0001F534",
}

// Notifier owns the debounce state and the transition counter.
type Notifier struct {
	logger      *zap.Logger
	cfg         Config
	sink        notify.Sink
	transitions *prometheus.CounterVec

	mu         sync.Mutex
	lastState  kernel.HealthState
	lastChange time.Time
}

// New constructs a notifier. reg may be nil to skip metric registration
// (e.g. in tests). Call Wire to subscribe it to the bus.
func New(logger *zap.Logger, cfg Config, sink notify.Sink, reg prometheus.Registerer) *Notifier {
	n := &Notifier{logger: logger, cfg: cfg, sink: sink, lastState: kernel.HealthOK}
	n.transitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kernel_health_transitions_total",
		Help: "Count of accepted health state transitions, labelled by from/to/reason.",
	}, []string{"from", "to", "reason"})
	if reg != nil {
		reg.MustRegister(n.transitions)
	}
	return n
}

// Wire subscribes the notifier to health.state. No-op if disabled.
func (n *Notifier) Wire(bus *eventbus.Bus) {
	if !n.cfg.Enabled {
		return
	}
	bus.Subscribe(eventbus.TopicHealthState, n.onHealthState)
}

func (n *Notifier) onHealthState(payload any) {
	evt, ok := payload.(kernel.HealthEvent)
	if !ok {
		return
	}
	n.handle(evt, time.Now())
}

func (n *Notifier) handle(evt kernel.HealthEvent, now time.Time) {
	n.mu.Lock()
	if evt.State == n.lastState {
		n.mu.Unlock()
		return
	}
	if !n.lastChange.IsZero() && now.Sub(n.lastChange) < n.cfg.Debounce {
		n.mu.Unlock()
		return
	}
	from := n.lastState
	n.lastState = evt.State
	n.lastChange = now
	n.mu.Unlock()

	n.transitions.WithLabelValues(from.String(), evt.State.String(), evt.Reason).Inc()

	msg := fmt.Sprintf("%s *Health state:* %s\n*Reason:* `%s`", stateEmoji[evt.State], evt.State.String(), evt.Reason)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := n.sink.Send(ctx, msg, "Markdown"); err != nil {
		n.logger.Warn("health notifier: send failed", zap.Error(err))
	}
}
