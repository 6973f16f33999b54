// Package telemetry implements the engine's daily and rolling-bucket
// counters: the same counters the digest job and /status endpoint summarize.
package telemetry

import (
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// symbolKey pairs a counter name with a symbol for the top-K breakdown.
type symbolKey struct {
	name   string
	symbol string
}

// DailyRollup holds integer counters keyed by metric name plus a parallel
// (name, symbol) breakdown, both resetting at the UTC day boundary.
type DailyRollup struct {
	mu        sync.Mutex
	resetAt   time.Time
	counters  map[string]int64
	bySymbol  map[symbolKey]int64
	promTotal *prometheus.CounterVec
}

// NewDailyRollup constructs a DailyRollup anchored to now's UTC day
// boundary. reg may be nil to skip prometheus registration (useful in
// tests).
func NewDailyRollup(now time.Time, reg prometheus.Registerer) *DailyRollup {
	d := &DailyRollup{
		resetAt:  dayBoundary(now),
		counters: make(map[string]int64),
		bySymbol: make(map[symbolKey]int64),
	}
	if reg != nil {
		d.promTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "engine",
			Subsystem: "telemetry",
			Name:      "rollup_total",
			Help:      "Daily rollup counter increments by metric key.",
		}, []string{"key"})
		reg.MustRegister(d.promTotal)
	}
	return d
}

func dayBoundary(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// MaybeReset rolls the counters over if now has crossed the 24h boundary
// since the last reset.
func (d *DailyRollup) MaybeReset(now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.maybeResetLocked(now)
}

func (d *DailyRollup) maybeResetLocked(now time.Time) {
	if !now.Before(d.resetAt.Add(24 * time.Hour)) {
		d.counters = make(map[string]int64)
		d.bySymbol = make(map[symbolKey]int64)
		d.resetAt = dayBoundary(now)
	}
}

// Inc increments key (and, if symbol is non-empty, the (key, symbol) pair)
// by n, rolling the day over first if needed.
func (d *DailyRollup) Inc(now time.Time, key, symbol string, n int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.maybeResetLocked(now)

	d.counters[key] += n
	if symbol != "" {
		d.bySymbol[symbolKey{key, symbol}] += n
	}
	if d.promTotal != nil {
		d.promTotal.WithLabelValues(key).Add(float64(n))
	}
}

// Count returns the current value of key.
func (d *DailyRollup) Count(key string) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.counters[key]
}

// Snapshot returns a copy of every counter, for /status.
func (d *DailyRollup) Snapshot() map[string]int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]int64, len(d.counters))
	for k, v := range d.counters {
		out[k] = v
	}
	return out
}

// SymbolCount is one entry of a top-K breakdown.
type SymbolCount struct {
	Symbol string
	Count  int64
}

// TopSymbols returns the k highest-count symbols for key, descending.
func (d *DailyRollup) TopSymbols(key string, k int) []SymbolCount {
	d.mu.Lock()
	defer d.mu.Unlock()

	items := make([]SymbolCount, 0)
	for sk, n := range d.bySymbol {
		if sk.name == key {
			items = append(items, SymbolCount{Symbol: sk.symbol, Count: n})
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Count != items[j].Count {
			return items[i].Count > items[j].Count
		}
		return items[i].Symbol < items[j].Symbol
	})
	if k >= 0 && len(items) > k {
		items = items[:k]
	}
	return items
}

// Bucket is one fixed-size time window's counters.
type Bucket struct {
	Start    time.Time
	Counters map[string]int64
	BySymbol map[symbolKey]int64
}

// BucketRing retains the most recent N fixed-duration buckets of counters,
// used for the digest's "last 24h in 6h slices" section.
type BucketRing struct {
	mu         sync.Mutex
	bucketSize time.Duration
	maxBuckets int
	buckets    []Bucket
}

// NewBucketRing constructs a ring of buckets of the given size, retaining at
// most maxBuckets of them.
func NewBucketRing(bucketSize time.Duration, maxBuckets int) *BucketRing {
	return &BucketRing{bucketSize: bucketSize, maxBuckets: maxBuckets}
}

func (r *BucketRing) bucketStart(now time.Time) time.Time {
	sec := r.bucketSize.Seconds()
	floored := int64(now.Unix()/int64(sec)) * int64(sec)
	return time.Unix(floored, 0).UTC()
}

func (r *BucketRing) currentLocked(now time.Time) *Bucket {
	start := r.bucketStart(now)
	if len(r.buckets) > 0 && r.buckets[len(r.buckets)-1].Start.Equal(start) {
		return &r.buckets[len(r.buckets)-1]
	}
	r.buckets = append(r.buckets, Bucket{
		Start:    start,
		Counters: make(map[string]int64),
		BySymbol: make(map[symbolKey]int64),
	})
	if len(r.buckets) > r.maxBuckets {
		r.buckets = r.buckets[len(r.buckets)-r.maxBuckets:]
	}
	return &r.buckets[len(r.buckets)-1]
}

// Inc increments key (and optionally (key, symbol)) in the bucket covering
// now.
func (r *BucketRing) Inc(now time.Time, key, symbol string, n int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.currentLocked(now)
	b.Counters[key] += n
	if symbol != "" {
		b.BySymbol[symbolKey{key, symbol}] += n
	}
}

// BucketSnapshot is the read-only view of one bucket returned by Snapshot.
type BucketSnapshot struct {
	Start          time.Time
	Counters       map[string]int64
	TradesBySymbol map[string]int64
}

// Snapshot returns buckets newest-first, with at most maxBuckets entries and
// all distinct starts.
func (r *BucketRing) Snapshot() []BucketSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]BucketSnapshot, 0, len(r.buckets))
	for i := len(r.buckets) - 1; i >= 0; i-- {
		b := r.buckets[i]
		counters := make(map[string]int64, len(b.Counters))
		for k, v := range b.Counters {
			counters[k] = v
		}
		tradesBySymbol := make(map[string]int64)
		for sk, v := range b.BySymbol {
			if sk.name == "trades" {
				tradesBySymbol[sk.symbol] = v
			}
		}
		out = append(out, BucketSnapshot{Start: b.Start, Counters: counters, TradesBySymbol: tradesBySymbol})
	}
	return out
}
