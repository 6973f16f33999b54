// Package quarantine implements the symbol quarantine registry: a symbol
// that triggers repeated stop-loss exits within a short window is blocked
// from new entries for a cooldown period. State is persisted to a JSON file
// so a restart doesn't forget an active block.
package quarantine

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Policy controls when a symbol is blocked and for how long.
type Policy struct {
	MaxStopsInWindow int
	Window           time.Duration
	QuarantineFor    time.Duration
}

// DefaultPolicy matches the original's conservative defaults: 2 stops within
// 60 minutes blocks the symbol for 4 hours.
func DefaultPolicy() Policy {
	return Policy{
		MaxStopsInWindow: 2,
		Window:           60 * time.Minute,
		QuarantineFor:    4 * time.Hour,
	}
}

// persistedState is the on-disk shape, matching the original's
// {"stops": {SYM: [ts,...]}, "blocked": {SYM: ts}}.
type persistedState struct {
	Stops   map[string][]int64 `json:"stops"`
	Blocked map[string]int64   `json:"blocked"`
}

// Registry is the engine's single writer for quarantine state; every
// mutation is persisted atomically (write temp file + rename).
type Registry struct {
	logger *zap.Logger
	policy Policy
	path   string

	mu      sync.Mutex
	stops   map[string][]time.Time
	blocked map[string]time.Time
}

// New constructs a Registry backed by path, loading any existing state.
// A missing or corrupt file is not an error: the registry starts empty,
// matching the original's _load() behavior.
func New(logger *zap.Logger, path string, policy Policy) *Registry {
	r := &Registry{
		logger:  logger,
		policy:  policy,
		path:    path,
		stops:   make(map[string][]time.Time),
		blocked: make(map[string]time.Time),
	}
	r.load()
	return r
}

func normalize(symbol string) string {
	base, _, _ := strings.Cut(symbol, ".")
	return strings.ToUpper(base)
}

// RecordStop registers a stop-loss exit for symbol at the current time,
// pruning stops outside the policy window and triggering a block if the
// threshold is reached.
func (r *Registry) RecordStop(symbol string, now time.Time) {
	sym := normalize(symbol)

	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := now.Add(-r.policy.Window)
	arr := append(r.stops[sym], now)
	kept := arr[:0]
	for _, ts := range arr {
		if !ts.Before(cutoff) {
			kept = append(kept, ts)
		}
	}
	r.stops[sym] = kept

	if len(kept) >= r.policy.MaxStopsInWindow {
		r.blocked[sym] = now.Add(r.policy.QuarantineFor)
	}
	r.save()
}

// IsQuarantined reports whether symbol is currently blocked, and for how
// much longer. An expired block is lifted (and persisted) as a side effect
// of the check.
func (r *Registry) IsQuarantined(symbol string, now time.Time) (bool, time.Duration) {
	sym := normalize(symbol)

	r.mu.Lock()
	defer r.mu.Unlock()

	until, ok := r.blocked[sym]
	if !ok || !now.Before(until) {
		if ok {
			delete(r.blocked, sym)
			r.save()
		}
		return false, 0
	}
	return true, until.Sub(now)
}

// Lift clears any quarantine and stop history for symbol.
func (r *Registry) Lift(symbol string) {
	sym := normalize(symbol)

	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.blocked, sym)
	delete(r.stops, sym)
	r.save()
}

func (r *Registry) load() {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return
	}
	var ps persistedState
	if err := json.Unmarshal(data, &ps); err != nil {
		r.logger.Warn("quarantine state file unreadable, starting empty", zap.Error(err))
		return
	}

	stops := make(map[string][]time.Time, len(ps.Stops))
	for sym, tss := range ps.Stops {
		times := make([]time.Time, 0, len(tss))
		for _, ts := range tss {
			times = append(times, time.Unix(ts, 0))
		}
		stops[sym] = times
	}
	blocked := make(map[string]time.Time, len(ps.Blocked))
	for sym, ts := range ps.Blocked {
		blocked[sym] = time.Unix(ts, 0)
	}
	r.stops = stops
	r.blocked = blocked
}

// save must be called with r.mu held. It writes to a temp file in the same
// directory and renames over the target, so readers never observe a
// partially-written file.
func (r *Registry) save() {
	ps := persistedState{
		Stops:   make(map[string][]int64, len(r.stops)),
		Blocked: make(map[string]int64, len(r.blocked)),
	}
	for sym, tss := range r.stops {
		ints := make([]int64, 0, len(tss))
		for _, ts := range tss {
			ints = append(ints, ts.Unix())
		}
		ps.Stops[sym] = ints
	}
	for sym, ts := range r.blocked {
		ps.Blocked[sym] = ts.Unix()
	}

	data, err := json.Marshal(ps)
	if err != nil {
		r.logger.Warn("failed to marshal quarantine state", zap.Error(err))
		return
	}

	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		r.logger.Warn("failed to create quarantine state dir", zap.Error(err))
		return
	}

	tmp, err := os.CreateTemp(dir, ".quarantine-*.tmp")
	if err != nil {
		r.logger.Warn("failed to create quarantine temp file", zap.Error(err))
		return
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		r.logger.Warn("failed to write quarantine temp file", zap.Error(err))
		return
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		r.logger.Warn("failed to close quarantine temp file", zap.Error(err))
		return
	}
	if err := os.Rename(tmpPath, r.path); err != nil {
		os.Remove(tmpPath)
		r.logger.Warn("failed to rename quarantine temp file", zap.Error(err))
	}
}
