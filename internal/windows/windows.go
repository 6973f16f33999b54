// Package windows implements the engine's two rolling-sample stores: a
// bounded FIFO of tick-to-order latency samples (for p50/p95 reporting) and
// a trailing-24h realized-PnL delta window. The two are intentionally
// uncoupled, each with its own lock.
package windows

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// LatencyWindow holds a bounded FIFO of recent latency samples plus a
// most-recent-per-symbol map, so a consumer can pop the latest sample for a
// given symbol without scanning the FIFO.
type LatencyWindow struct {
	mu      sync.Mutex
	cap     int
	samples []float64
	latest  map[string]float64
}

// NewLatencyWindow constructs a window retaining at most capacity samples.
func NewLatencyWindow(capacity int) *LatencyWindow {
	if capacity <= 0 {
		capacity = 400
	}
	return &LatencyWindow{
		cap:    capacity,
		latest: make(map[string]float64),
	}
}

// qualifiedKeys returns the raw symbol and its base (venue-suffix-stripped)
// form, so ConsumeLatency can be queried by either form. Case is left as is.
func qualifiedKeys(symbol string) []string {
	base := symbol
	if i := strings.IndexByte(symbol, '.'); i >= 0 {
		base = symbol[:i]
	}
	if base == symbol {
		return []string{symbol}
	}
	return []string{symbol, base}
}

// RecordTickLatency appends ms to the FIFO, evicting the oldest sample if
// over capacity, and records it as the latest sample for symbol (and its
// base-qualified form).
func (w *LatencyWindow) RecordTickLatency(symbol string, ms float64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.samples = append(w.samples, ms)
	if len(w.samples) > w.cap {
		w.samples = w.samples[len(w.samples)-w.cap:]
	}
	for _, k := range qualifiedKeys(symbol) {
		w.latest[k] = ms
	}
}

// ConsumeLatency pops the latest recorded sample for symbol, if any.
func (w *LatencyWindow) ConsumeLatency(symbol string) (float64, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, k := range qualifiedKeys(symbol) {
		if v, ok := w.latest[k]; ok {
			delete(w.latest, k)
			return v, true
		}
	}
	return 0, false
}

// Percentiles returns (p50, p95) over the current sample set using linear
// interpolation. Returns (0, 0, false) if fewer than 2 samples exist.
func (w *LatencyWindow) Percentiles() (p50, p95 float64, ok bool) {
	w.mu.Lock()
	snapshot := make([]float64, len(w.samples))
	copy(snapshot, w.samples)
	w.mu.Unlock()

	if len(snapshot) < 2 {
		return 0, 0, false
	}
	sort.Float64s(snapshot)
	return quantile(snapshot, 0.5), quantile(snapshot, 0.95), true
}

// quantile performs linear-interpolation quantile estimation over a sorted
// slice (the "R-7" method, matching numpy/pandas default behavior).
func quantile(sorted []float64, q float64) float64 {
	n := len(sorted)
	if n == 1 {
		return sorted[0]
	}
	pos := q * float64(n-1)
	lo := int(pos)
	hi := lo + 1
	if hi >= n {
		return sorted[n-1]
	}
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}

// pnlSample is one (timestamp, realized-total-USD) observation.
type pnlSample struct {
	at    time.Time
	total float64
}

// PnLWindow holds a monotone time-ordered series of realized-total-USD
// readings, pruned to the trailing 24h, used to report a rolling realized
// PnL delta.
type PnLWindow struct {
	mu      sync.Mutex
	samples []pnlSample
}

// NewPnLWindow constructs an empty window.
func NewPnLWindow() *PnLWindow {
	return &PnLWindow{}
}

// RecordRealizedTotal appends (now, totalUSD), prunes samples older than
// 24h, and returns totalUSD minus the value at the earliest surviving
// sample — i.e. the realized PnL delta over the trailing window.
func (w *PnLWindow) RecordRealizedTotal(now time.Time, totalUSD float64) float64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.samples = append(w.samples, pnlSample{at: now, total: totalUSD})
	cutoff := now.Add(-24 * time.Hour)

	i := 0
	for i < len(w.samples) && w.samples[i].at.Before(cutoff) {
		i++
	}
	w.samples = w.samples[i:]

	oldest := w.samples[0].total
	return totalUSD - oldest
}
