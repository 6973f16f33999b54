// Package digest builds and periodically sends the daily operations
// summary: trade/plan efficiency, skip-reason breakdown, and optional
// top-symbol and 6h-bucket sections.
package digest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-engine-kernel/internal/notify"
	"github.com/atlas-desktop/trading-engine-kernel/internal/telemetry"
)

// Config controls cadence and which optional sections to include.
type Config struct {
	Enabled        bool
	Interval       time.Duration
	IncludeSymbols bool
	Include6h      bool
}

// DefaultConfig matches the spec's once-daily defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:        false,
		Interval:       1440 * time.Minute,
		IncludeSymbols: true,
		Include6h:      false,
	}
}

// Job periodically rolls the daily counters over, builds a text summary,
// and forwards it to the notification sink.
type Job struct {
	logger  *zap.Logger
	cfg     Config
	rollups *telemetry.DailyRollup
	buckets *telemetry.BucketRing // optional, may be nil
	sink    notify.Sink
}

// New constructs a digest job. buckets may be nil when 6h-bucket reporting
// is not wired.
func New(logger *zap.Logger, cfg Config, rollups *telemetry.DailyRollup, buckets *telemetry.BucketRing, sink notify.Sink) *Job {
	return &Job{logger: logger, cfg: cfg, rollups: rollups, buckets: buckets, sink: sink}
}

// Run loops on Config.Interval until ctx is cancelled. Returns nil
// immediately if disabled.
func (j *Job) Run(ctx context.Context) error {
	if !j.cfg.Enabled {
		j.logger.Info("digest job disabled, not starting")
		return nil
	}
	interval := j.cfg.Interval
	if interval <= 0 {
		interval = 1440 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			j.fire(ctx, now)
		}
	}
}

func (j *Job) fire(ctx context.Context, now time.Time) {
	j.rollups.MaybeReset(now)
	text := j.Text(now)

	sendCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := j.sink.Send(sendCtx, text, "Markdown"); err != nil {
		j.logger.Warn("digest send failed", zap.Error(err))
		return
	}
	j.logger.Info("digest sent", zap.Int("len", len(text)))
}

func fmtLine(label string, value any) string {
	return fmt.Sprintf("%s: *%v*", label, value)
}

// Text builds the summary without sending it; the periodic job calls it on
// each tick.
func (j *Job) Text(now time.Time) string {
	snap := j.rollups.Snapshot()
	trades := snap["trades"]
	livePlans := snap["plans_live"]
	dryPlans := snap["plans_dry"]
	half := snap["half_applied"]

	var eff float64
	if livePlans > 0 {
		eff = float64(trades) / float64(livePlans)
	}

	var skipKeys []string
	for k := range snap {
		if strings.HasPrefix(k, "skip_") {
			skipKeys = append(skipKeys, k)
		}
	}
	sort.Strings(skipKeys)
	skipParts := make([]string, 0, len(skipKeys))
	for _, k := range skipKeys {
		skipParts = append(skipParts, fmt.Sprintf("%s: *%d*", strings.TrimPrefix(k, "skip_"), snap[k]))
	}
	skipLine := "—"
	if len(skipParts) > 0 {
		skipLine = strings.Join(skipParts, " ")
	}

	lines := []string{
		"*Event Breakout – Daily Digest*",
		fmtLine("Plans LIVE", livePlans),
		fmtLine("Plans DRY", dryPlans),
		fmtLine("Trades", trades),
		fmtLine("Efficiency (trades/live)", fmt.Sprintf("%.2f", eff)),
		fmtLine("Half-size applied", half),
		fmt.Sprintf("Skips ▸ %s", skipLine),
	}

	if j.cfg.IncludeSymbols {
		tops := j.rollups.TopSymbols("trades", 5)
		if len(tops) > 0 {
			parts := make([]string, 0, len(tops))
			for _, t := range tops {
				parts = append(parts, fmt.Sprintf("%s *%d*", t.Symbol, t.Count))
			}
			lines = append(lines, fmt.Sprintf("Top traded: %s", strings.Join(parts, ", ")))
		}
	}

	if j.cfg.Include6h && j.buckets != nil {
		snaps := j.buckets.Snapshot()
		if len(snaps) > 0 {
			lines = append(lines, "", "*Last 24h (6h buckets)*")
			for i, b := range snaps {
				tradesB := b.Counters["trades"]
				liveB := b.Counters["plans_live"]
				halfB := b.Counters["half_applied"]
				var effB float64
				if liveB > 0 {
					effB = float64(tradesB) / float64(liveB)
				}
				var skipsB int64
				for k, v := range b.Counters {
					if strings.HasPrefix(k, "skip_") {
						skipsB += v
					}
				}
				lines = append(lines, fmt.Sprintf("B%d: trades *%d*, live *%d*, eff *%.2f*, half *%d*, skips *%d*",
					i+1, tradesB, liveB, effB, halfB, skipsB))
			}
		}
	}

	return strings.Join(lines, "\n")
}
