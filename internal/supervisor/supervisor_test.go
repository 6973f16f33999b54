package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestSpawnRestartsOnError(t *testing.T) {
	var runs atomic.Int32
	s := New(context.Background(), zap.NewNop(), Config{ShutdownGrace: time.Second})
	BackoffSchedule = []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond}

	s.Spawn(Task{
		Name: "flaky",
		Run: func(ctx context.Context) error {
			n := runs.Add(1)
			if n < 3 {
				return errors.New("boom")
			}
			<-ctx.Done()
			return nil
		},
	})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && runs.Load() < 3 {
		time.Sleep(time.Millisecond)
	}
	if runs.Load() < 3 {
		t.Fatalf("expected at least 3 runs (2 restarts), got %d", runs.Load())
	}
	s.Stop()
}

func TestSpawnRecoversFromPanic(t *testing.T) {
	var runs atomic.Int32
	s := New(context.Background(), zap.NewNop(), Config{ShutdownGrace: time.Second})
	BackoffSchedule = []time.Duration{time.Millisecond}

	s.Spawn(Task{
		Name: "panicky",
		Run: func(ctx context.Context) error {
			n := runs.Add(1)
			if n < 2 {
				panic("kaboom")
			}
			<-ctx.Done()
			return nil
		},
	})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && runs.Load() < 2 {
		time.Sleep(time.Millisecond)
	}
	s.Stop()
	if runs.Load() < 2 {
		t.Fatalf("expected supervisor to recover from panic and restart, got %d runs", runs.Load())
	}
}

func TestStopForcesTerminateOnGraceBreach(t *testing.T) {
	s := New(context.Background(), zap.NewNop(), Config{ShutdownGrace: 20 * time.Millisecond})
	var terminated atomic.Bool
	s.OnTerminate(func() { terminated.Store(true) })

	started := make(chan struct{})
	s.Spawn(Task{
		Name: "stuck",
		Run: func(ctx context.Context) error {
			close(started)
			time.Sleep(time.Second) // ignores ctx cancellation on purpose
			return nil
		},
	})
	<-started

	s.Stop()
	if !terminated.Load() {
		t.Fatal("expected terminate callback to fire after grace period breach")
	}
}

func TestWatchdogFiresOnStall(t *testing.T) {
	w := &Watchdog{logger: zap.NewNop(), timeout: 10 * time.Millisecond, interval: 5 * time.Millisecond}
	w.Heartbeat(time.Now().Add(-time.Hour))

	var killed atomic.Bool
	w.kill = func() { killed.Store(true) }

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	w.Run(ctx)

	if !killed.Load() {
		t.Fatal("expected watchdog to fire on stale heartbeat")
	}
}

func TestWatchdogDoesNotFireWithFreshHeartbeat(t *testing.T) {
	w := NewWatchdog(zap.NewNop(), 50*time.Millisecond, func() {})
	w.interval = 5 * time.Millisecond

	var killed atomic.Bool
	w.kill = func() { killed.Store(true) }

	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(5 * time.Millisecond)
		defer ticker.Stop()
		for i := 0; i < 6; i++ {
			<-ticker.C
			w.Heartbeat(time.Now())
		}
		close(stop)
	}()

	ctx, cancel := context.WithCancel(context.Background())
	go func() { <-stop; cancel() }()
	w.Run(ctx)

	if killed.Load() {
		t.Fatal("watchdog should not fire while heartbeats keep arriving")
	}
}
