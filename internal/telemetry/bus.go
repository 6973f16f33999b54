package telemetry

import (
	"time"

	"github.com/atlas-desktop/trading-engine-kernel/internal/eventbus"
	"github.com/atlas-desktop/trading-engine-kernel/pkg/kernel"
)

// Wire subscribes the rollup and its bucket ring to every event_bo.* topic,
// counting each upstream plan/trade/skip/half decision the same way the
// control plane's own RecordTrade counts a manually reported trade. This is
// the rollup's own mirror of the event bus, independent of any direct
// caller.
func (d *DailyRollup) Wire(bus *eventbus.Bus, buckets *BucketRing) {
	subscribe := func(topic, key string) {
		bus.Subscribe(topic, func(payload any) {
			now := time.Now()
			symbol, reason := "", ""
			if ev, ok := payload.(kernel.BOEvent); ok {
				symbol, reason = ev.Symbol, ev.Reason
			}
			k := key
			if topic == eventbus.TopicEventSkip && reason != "" {
				k = "skip_" + reason
			}
			d.Inc(now, k, symbol, 1)
			if buckets != nil {
				buckets.Inc(now, k, symbol, 1)
			}
		})
	}

	subscribe(eventbus.TopicEventPlanDry, "plans_dry")
	subscribe(eventbus.TopicEventPlanLive, "plans_live")
	subscribe(eventbus.TopicEventTrade, "trades")
	subscribe(eventbus.TopicEventHalf, "half_applied")
	subscribe(eventbus.TopicEventSkip, "skip")
	subscribe(eventbus.TopicEventTrail, "trail")
}
