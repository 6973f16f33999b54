// Package eventbus implements the engine's in-process topic-based
// publish/subscribe bus: the glue between the supervised tasks, the guard
// chain, and every operational side-channel (health, depeg, fills, digests).
package eventbus

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Recognized topics. Topics are free-form strings; these are the ones the
// kernel's own components publish and subscribe to.
const (
	TopicTradeFill        = "trade.fill"
	TopicHealthState      = "health.state"
	TopicRiskDepegTrigger = "risk.depeg_trigger"
	TopicModelPromoted    = "model.promoted"
	TopicNotifyTelegram   = "notify.telegram"

	TopicEventPlanDry  = "event_bo.plan_dry"
	TopicEventPlanLive = "event_bo.plan_live"
	TopicEventTrade    = "event_bo.trade"
	TopicEventSkip     = "event_bo.skip"
	TopicEventHalf     = "event_bo.half"
	TopicEventTrail    = "event_bo.trail"
)

// Handler processes one event payload. A handler that panics has the panic
// recovered and logged; it never propagates to the publisher or to other
// handlers.
type Handler func(payload any)

// Config tunes the bus's per-subscription buffering.
type Config struct {
	// QueueSize bounds each subscription's pending-event buffer. Fire drops
	// the newest event and increments a dropped counter when a
	// subscription's queue is full, rather than blocking the publisher or
	// growing without bound (see DESIGN.md "bus backpressure" decision).
	QueueSize int
}

// DefaultConfig returns the bus's default buffering.
func DefaultConfig() Config {
	return Config{QueueSize: 1024}
}

// Bus is a topic-based publish/subscribe router. Fire is non-blocking for
// the caller: delivery to each subscriber happens on that subscriber's own
// goroutine, in fire order, isolated from every other subscriber.
type Bus struct {
	logger *zap.Logger
	cfg    Config

	mu   sync.RWMutex
	subs map[string][]*subscription

	published atomic.Int64
	delivered atomic.Int64
	dropped   atomic.Int64
	panics    atomic.Int64
}

type subscription struct {
	topic   string
	handler Handler
	queue   chan any
	done    chan struct{}
}

// New constructs a Bus. Delivery goroutines are spawned per subscription as
// subscriptions are added; Stop cancels every subscription's goroutine.
func New(logger *zap.Logger, cfg Config) *Bus {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	return &Bus{
		logger: logger,
		cfg:    cfg,
		subs:   make(map[string][]*subscription),
	}
}

// Subscribe registers handler to run, in order, for every Fire on topic. The
// same handler may be subscribed multiple times; each registration is an
// independent delivery stream with its own ordering and its own queue, which
// is what gives per-topic-per-subscriber ordering without serializing
// unrelated subscribers against each other.
func (b *Bus) Subscribe(topic string, handler Handler) {
	sub := &subscription{
		topic:   topic,
		handler: handler,
		queue:   make(chan any, b.cfg.QueueSize),
		done:    make(chan struct{}),
	}

	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], sub)
	b.mu.Unlock()

	go b.deliverLoop(sub)
}

func (b *Bus) deliverLoop(sub *subscription) {
	for {
		select {
		case payload := <-sub.queue:
			b.invoke(sub, payload)
		case <-sub.done:
			return
		}
	}
}

func (b *Bus) invoke(sub *subscription, payload any) {
	defer func() {
		if r := recover(); r != nil {
			b.panics.Add(1)
			b.logger.Error("eventbus handler panic",
				zap.String("topic", sub.topic),
				zap.Any("panic", r),
			)
		}
	}()
	sub.handler(payload)
	b.delivered.Add(1)
}

// Fire publishes payload to every subscriber of topic. It never blocks: a
// subscriber whose queue is full has this event dropped, not the publisher
// stalled.
func (b *Bus) Fire(topic string, payload any) {
	b.published.Add(1)

	b.mu.RLock()
	subs := b.subs[topic]
	b.mu.RUnlock()

	for _, sub := range subs {
		select {
		case sub.queue <- payload:
		default:
			b.dropped.Add(1)
			b.logger.Warn("eventbus queue full, event dropped",
				zap.String("topic", topic),
			)
		}
	}
}

// Stats is a point-in-time snapshot of bus throughput.
type Stats struct {
	Published int64
	Delivered int64
	Dropped   int64
	Panics    int64
}

// Stats returns current bus counters.
func (b *Bus) Stats() Stats {
	return Stats{
		Published: b.published.Load(),
		Delivered: b.delivered.Load(),
		Dropped:   b.dropped.Load(),
		Panics:    b.panics.Load(),
	}
}

// Stop terminates every subscriber's delivery goroutine. Queued-but-not-yet-
// delivered events are discarded.
func (b *Bus) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, subs := range b.subs {
		for _, sub := range subs {
			close(sub.done)
		}
	}
	b.subs = make(map[string][]*subscription)
}
