package eventbus

import (
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestFireDeliversInOrderPerSubscriber(t *testing.T) {
	bus := New(zap.NewNop(), DefaultConfig())
	defer bus.Stop()

	var mu sync.Mutex
	var got []int

	done := make(chan struct{})
	bus.Subscribe("topic.a", func(payload any) {
		mu.Lock()
		got = append(got, payload.(int))
		n := len(got)
		mu.Unlock()
		if n == 5 {
			close(done)
		}
	})

	for i := 0; i < 5; i++ {
		bus.Fire("topic.a", i)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler did not observe all events")
	}

	mu.Lock()
	defer mu.Unlock()
	for i, v := range got {
		if v != i {
			t.Fatalf("out of order delivery: got %v", got)
		}
	}
}

func TestFireIsolatesPanickingHandler(t *testing.T) {
	bus := New(zap.NewNop(), DefaultConfig())
	defer bus.Stop()

	okCh := make(chan struct{}, 1)
	bus.Subscribe("topic.b", func(payload any) {
		panic("boom")
	})
	bus.Subscribe("topic.b", func(payload any) {
		okCh <- struct{}{}
	})

	bus.Fire("topic.b", "x")

	select {
	case <-okCh:
	case <-time.After(time.Second):
		t.Fatal("second subscriber never ran after first panicked")
	}

	time.Sleep(10 * time.Millisecond)
	if bus.Stats().Panics == 0 {
		t.Fatalf("expected panic to be counted")
	}
}

func TestFireDropsOnFullQueueWithoutBlocking(t *testing.T) {
	bus := New(zap.NewNop(), Config{QueueSize: 1})
	defer bus.Stop()

	block := make(chan struct{})
	started := make(chan struct{}, 1)
	bus.Subscribe("topic.c", func(payload any) {
		started <- struct{}{}
		<-block
	})

	bus.Fire("topic.c", 1) // consumed by the handler, which then blocks
	<-started
	bus.Fire("topic.c", 2) // queued
	bus.Fire("topic.c", 3) // queue full, dropped

	close(block)

	if got := bus.Stats().Dropped; got != 1 {
		t.Fatalf("expected exactly 1 dropped event, got %d", got)
	}
}
