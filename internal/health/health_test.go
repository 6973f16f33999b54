package health

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-engine-kernel/pkg/kernel"
)

type recordingSink struct {
	mu   sync.Mutex
	msgs []string
}

func (r *recordingSink) Send(ctx context.Context, text, parseMode string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, text)
	return nil
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

func TestHandleSuppressesDuplicateState(t *testing.T) {
	sink := &recordingSink{}
	n := New(zap.NewNop(), Config{Enabled: true, Debounce: time.Second}, sink, nil)
	now := time.Unix(0, 0)

	n.handle(kernel.HealthEvent{State: kernel.HealthDegraded, Reason: "ws_disconnected"}, now)
	n.handle(kernel.HealthEvent{State: kernel.HealthDegraded, Reason: "ws_disconnected"}, now.Add(2*time.Second))

	if sink.count() != 1 {
		t.Fatalf("expected duplicate state transition to be suppressed, got %d sends", sink.count())
	}
}

func TestHandleDebouncesRapidTransitions(t *testing.T) {
	sink := &recordingSink{}
	n := New(zap.NewNop(), Config{Enabled: true, Debounce: 10 * time.Second}, sink, nil)
	now := time.Unix(0, 0)

	n.handle(kernel.HealthEvent{State: kernel.HealthDegraded}, now)
	n.handle(kernel.HealthEvent{State: kernel.HealthOK}, now.Add(time.Second)) // within debounce window

	if sink.count() != 1 {
		t.Fatalf("expected second transition to be debounced, got %d sends", sink.count())
	}
}

func TestHandleAcceptsTransitionAfterDebounce(t *testing.T) {
	sink := &recordingSink{}
	n := New(zap.NewNop(), Config{Enabled: true, Debounce: 10 * time.Second}, sink, nil)
	now := time.Unix(0, 0)

	n.handle(kernel.HealthEvent{State: kernel.HealthDegraded}, now)
	n.handle(kernel.HealthEvent{State: kernel.HealthOK}, now.Add(11*time.Second))

	if sink.count() != 2 {
		t.Fatalf("expected both transitions to send, got %d sends", sink.count())
	}
}
