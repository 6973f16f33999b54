package quarantine

import (
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestScenarioS1(t *testing.T) {
	dir := t.TempDir()
	policy := Policy{MaxStopsInWindow: 2, Window: 3600 * time.Second, QuarantineFor: 14400 * time.Second}
	r := New(zap.NewNop(), filepath.Join(dir, "quarantine.json"), policy)

	t0 := time.Unix(0, 0)
	r.RecordStop("BTC.BINANCE", t0)
	r.RecordStop("BTC.BINANCE", t0.Add(1800*time.Second))

	blocked, remaining := r.IsQuarantined("BTC", t0.Add(1801*time.Second))
	if !blocked {
		t.Fatal("expected BTC quarantined after second stop")
	}
	if remaining < 14399*time.Second || remaining > 14400*time.Second {
		t.Fatalf("expected remaining ~= 14400s, got %v", remaining)
	}

	blocked, remaining = r.IsQuarantined("BTC", t0.Add(16201*time.Second))
	if blocked || remaining != 0 {
		t.Fatalf("expected BTC cleared after quarantine window, got blocked=%v remaining=%v", blocked, remaining)
	}
}

func TestStopsOutsideWindowDoNotCount(t *testing.T) {
	dir := t.TempDir()
	policy := Policy{MaxStopsInWindow: 2, Window: time.Hour, QuarantineFor: time.Hour}
	r := New(zap.NewNop(), filepath.Join(dir, "quarantine.json"), policy)

	t0 := time.Unix(0, 0)
	r.RecordStop("ETH", t0)
	r.RecordStop("ETH", t0.Add(2*time.Hour)) // outside window relative to first stop

	blocked, _ := r.IsQuarantined("ETH", t0.Add(2*time.Hour))
	if blocked {
		t.Fatal("expected not quarantined: only 1 stop within the window at check time")
	}
}

func TestLift(t *testing.T) {
	dir := t.TempDir()
	r := New(zap.NewNop(), filepath.Join(dir, "quarantine.json"), DefaultPolicy())
	now := time.Now()
	r.RecordStop("SOL", now)
	r.RecordStop("SOL", now)
	blocked, _ := r.IsQuarantined("SOL", now)
	if !blocked {
		t.Fatal("expected SOL quarantined")
	}
	r.Lift("SOL")
	blocked, _ = r.IsQuarantined("SOL", now)
	if blocked {
		t.Fatal("expected SOL lifted")
	}
}

func TestPersistsAcrossRestarts(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "quarantine.json")
	policy := Policy{MaxStopsInWindow: 1, Window: time.Hour, QuarantineFor: time.Hour}

	r1 := New(zap.NewNop(), path, policy)
	now := time.Now()
	r1.RecordStop("XRP", now)

	r2 := New(zap.NewNop(), path, policy)
	blocked, _ := r2.IsQuarantined("XRP", now)
	if !blocked {
		t.Fatal("expected quarantine state to survive reload from disk")
	}
}
