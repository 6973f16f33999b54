// Package supervisor runs a set of named, long-lived cooperative tasks
// (WS stream, digest, fee manager, depeg tick, model watcher, health
// notifier), restarting each on panic or returned error with jittered
// backoff, and enforces a bounded grace period on shutdown.
package supervisor

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Task is a named long-running function. It must return promptly when ctx
// is cancelled.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// BackoffSchedule is the restart-delay sequence after repeated failures;
// the last entry holds once reached.
var BackoffSchedule = []time.Duration{
	500 * time.Millisecond,
	1 * time.Second,
	2 * time.Second,
}

const backoffJitter = 200 * time.Millisecond

func backoffFor(attempt int) time.Duration {
	idx := attempt
	if idx >= len(BackoffSchedule) {
		idx = len(BackoffSchedule) - 1
	}
	base := BackoffSchedule[idx]
	return base + time.Duration(rand.Int63n(int64(backoffJitter)))
}

// Config tunes shutdown behavior.
type Config struct {
	ShutdownGrace time.Duration
}

// DefaultConfig matches the spec default: a bounded shutdown grace period.
func DefaultConfig() Config {
	return Config{ShutdownGrace: 10 * time.Second}
}

// Supervisor owns a goroutine per registered task and restarts it on
// failure with backoff until the supervisor is stopped.
type Supervisor struct {
	logger *zap.Logger
	cfg    Config

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	onTerminate func()
}

// New constructs a supervisor bound to ctx's lifetime (typically the
// process's root context, cancelled on SIGINT/SIGTERM).
func New(ctx context.Context, logger *zap.Logger, cfg Config) *Supervisor {
	runCtx, cancel := context.WithCancel(ctx)
	return &Supervisor{
		logger: logger,
		cfg:    cfg,
		ctx:    runCtx,
		cancel: cancel,
	}
}

// OnTerminate registers a callback invoked (once) if a task fails to stop
// within the shutdown grace period. Production wiring sets this to
// os.Exit(1); tests can observe it instead.
func (s *Supervisor) OnTerminate(fn func()) {
	s.onTerminate = fn
}

// Spawn starts a named task under supervision. Safe to call before or after
// Stop has been scheduled; tasks started after cancellation exit
// immediately.
func (s *Supervisor) Spawn(task Task) {
	s.wg.Add(1)
	go s.runLoop(task)
}

func (s *Supervisor) runLoop(task Task) {
	defer s.wg.Done()

	attempt := 0
	for {
		if s.ctx.Err() != nil {
			return
		}

		err := s.runOnce(task)
		if s.ctx.Err() != nil {
			return
		}
		if err == nil {
			// A task that returns nil voluntarily is considered complete,
			// not a failure to restart from scratch.
			s.logger.Info("supervised task exited cleanly", zap.String("task", task.Name))
			return
		}

		s.logger.Error("supervised task failed, restarting",
			zap.String("task", task.Name), zap.Error(err), zap.Int("attempt", attempt))

		delay := backoffFor(attempt)
		attempt++

		select {
		case <-time.After(delay):
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Supervisor) runOnce(task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("supervised task panicked",
				zap.String("task", task.Name), zap.Any("panic", r))
			err = panicError{r}
		}
	}()
	return task.Run(s.ctx)
}

type panicError struct{ v any }

func (p panicError) Error() string { return "panic in supervised task" }

// Stop cancels every supervised task and waits up to the configured grace
// period. If the grace period elapses with tasks still running, it invokes
// the terminate callback, if one is registered (process exit in production
// wiring), and returns
// immediately rather than blocking forever.
func (s *Supervisor) Stop() {
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("supervisor stopped all tasks")
	case <-time.After(s.cfg.ShutdownGrace):
		s.logger.Error("supervisor shutdown grace period exceeded, forcing termination",
			zap.Duration("grace", s.cfg.ShutdownGrace))
		if s.onTerminate != nil {
			s.onTerminate()
		}
	}
}
