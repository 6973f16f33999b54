// Package modelwatch polls model artifact files for new promotions and
// fires model.promoted events when a newer artifact appears.
package modelwatch

import (
	"context"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-engine-kernel/internal/eventbus"
	"github.com/atlas-desktop/trading-engine-kernel/pkg/kernel"
)

// Config controls the set of watched paths and poll cadence.
type Config struct {
	Paths        []string
	PollInterval time.Duration
}

// DefaultConfig matches the spec's 5s poll interval with no paths watched.
func DefaultConfig() Config {
	return Config{PollInterval: 5 * time.Second}
}

// Watcher polls Config.Paths on Config.PollInterval and fires
// model.promoted on the bus when a newer mtime is observed.
type Watcher struct {
	logger *zap.Logger
	cfg    Config
	bus    *eventbus.Bus

	lastMtime time.Time
}

// New constructs a watcher. Call Run (typically as a supervisor.Task) to
// start polling.
func New(logger *zap.Logger, cfg Config, bus *eventbus.Bus) *Watcher {
	return &Watcher{logger: logger, cfg: cfg, bus: bus}
}

// Run polls until ctx is cancelled. Returns nil immediately if no paths are
// configured.
func (w *Watcher) Run(ctx context.Context) error {
	if len(w.cfg.Paths) == 0 {
		w.logger.Info("model watcher has no paths configured, not starting")
		return nil
	}
	interval := w.cfg.PollInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	w.probe()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.probe()
		}
	}
}

// probe stats every configured path and fires model.promoted when a newer
// mtime than previously observed is found. The very first probe only seeds
// the baseline — it never fires, since there is nothing to promote from.
func (w *Watcher) probe() {
	seeding := w.lastMtime.IsZero()

	latest := w.lastMtime
	var latestPaths []string
	for _, p := range w.cfg.Paths {
		info, err := os.Stat(p)
		if err != nil {
			continue
		}
		mtime := info.ModTime()
		switch {
		case mtime.After(latest):
			latest = mtime
			latestPaths = []string{p}
		case mtime.Equal(latest):
			latestPaths = append(latestPaths, p)
		}
	}

	if latest.Equal(w.lastMtime) || len(latestPaths) == 0 {
		return
	}
	w.lastMtime = latest

	if seeding {
		w.logger.Info("model watcher baseline seeded", zap.Time("mtime", latest))
		return
	}

	w.logger.Info("detected promoted model", zap.Strings("paths", latestPaths), zap.Time("mtime", latest))
	w.bus.Fire(eventbus.TopicModelPromoted, kernel.ModelPromotedEvent{Paths: latestPaths, Mtime: latest})
}
