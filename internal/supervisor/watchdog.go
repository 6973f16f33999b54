package supervisor

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Watchdog monitors a heartbeat timestamp from a dedicated goroutine and
// self-kills the process if no heartbeat arrives within timeout. It is the
// engine's last line of defense against a silently wedged main loop, where
// an external process supervisor is expected to restart the process.
type Watchdog struct {
	logger   *zap.Logger
	timeout  time.Duration
	interval time.Duration
	lastTick atomic.Int64 // unix nanos

	kill func()
}

// DefaultWatchdogTimeout and DefaultWatchdogInterval match the spec's
// defaults (30s stall timeout, checked every 5s).
const (
	DefaultWatchdogTimeout  = 30 * time.Second
	DefaultWatchdogInterval = 5 * time.Second
)

// NewWatchdog constructs a watchdog with the given timeout. kill is called
// on breach; production wiring passes a callback that ends the process with
// exit code 1, tests pass an observable stub.
func NewWatchdog(logger *zap.Logger, timeout time.Duration, kill func()) *Watchdog {
	if timeout <= 0 {
		timeout = DefaultWatchdogTimeout
	}
	w := &Watchdog{logger: logger, timeout: timeout, interval: DefaultWatchdogInterval, kill: kill}
	w.Heartbeat(time.Now())
	return w
}

// Heartbeat records that the engine is alive as of now.
func (w *Watchdog) Heartbeat(now time.Time) {
	w.lastTick.Store(now.UnixNano())
}

// Run blocks, polling every interval until ctx is done, killing the process
// if a heartbeat gap exceeds timeout. Matches the Task.Run signature so it
// can be registered with a Supervisor directly; it deliberately returns nil
// on breach rather than an error, since self-kill replaces the process
// rather than asking the supervisor to restart this task.
func (w *Watchdog) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			last := time.Unix(0, w.lastTick.Load())
			gap := now.Sub(last)
			if gap > w.timeout {
				w.logger.Error("watchdog: engine stalled, terminating process",
					zap.Duration("gap", gap), zap.Duration("timeout", w.timeout))
				w.kill()
				return nil
			}
		}
	}
}
