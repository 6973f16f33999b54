package modelwatch

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-engine-kernel/internal/eventbus"
	"github.com/atlas-desktop/trading-engine-kernel/pkg/kernel"
)

func writeWithMtime(t *testing.T, path string, mtime time.Time) {
	t.Helper()
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatal(err)
	}
}

func TestFirstProbeSeedsWithoutFiring(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "model.bin")
	writeWithMtime(t, p, time.Unix(1000, 0))

	bus := eventbus.New(zap.NewNop(), eventbus.Config{QueueSize: 16})
	defer bus.Stop()

	fired := make(chan kernel.ModelPromotedEvent, 1)
	bus.Subscribe(eventbus.TopicModelPromoted, func(payload any) {
		fired <- payload.(kernel.ModelPromotedEvent)
	})

	w := New(zap.NewNop(), Config{Paths: []string{p}}, bus)
	w.probe()

	select {
	case evt := <-fired:
		t.Fatalf("expected no event on first probe, got %+v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubsequentNewerMtimeFires(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "model.bin")
	writeWithMtime(t, p, time.Unix(1000, 0))

	bus := eventbus.New(zap.NewNop(), eventbus.Config{QueueSize: 16})
	defer bus.Stop()

	fired := make(chan kernel.ModelPromotedEvent, 1)
	bus.Subscribe(eventbus.TopicModelPromoted, func(payload any) {
		fired <- payload.(kernel.ModelPromotedEvent)
	})

	w := New(zap.NewNop(), Config{Paths: []string{p}}, bus)
	w.probe() // seeds

	writeWithMtime(t, p, time.Unix(2000, 0))
	w.probe()

	select {
	case evt := <-fired:
		if len(evt.Paths) != 1 || evt.Paths[0] != p {
			t.Fatalf("unexpected paths: %+v", evt.Paths)
		}
	case <-time.After(time.Second):
		t.Fatal("expected model.promoted event after mtime change")
	}
}

func TestMissingFileSilentlySkipped(t *testing.T) {
	dir := t.TempDir()
	missing := filepath.Join(dir, "does-not-exist.bin")

	bus := eventbus.New(zap.NewNop(), eventbus.Config{QueueSize: 16})
	defer bus.Stop()

	w := New(zap.NewNop(), Config{Paths: []string{missing}}, bus)
	w.probe() // must not panic
}
