package depeg

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-engine-kernel/internal/eventbus"
	"github.com/atlas-desktop/trading-engine-kernel/internal/router"
	"github.com/atlas-desktop/trading-engine-kernel/pkg/kernel"
)

type fakeVenue struct {
	prices           map[string]float64
	tradingDisabled  bool
	preferredQuote   string
	positions        []router.Position
	placedMarketSide []kernel.Side
}

func (f *fakeVenue) Name() string { return "TEST" }
func (f *fakeVenue) GetLastPrice(ctx context.Context, symbol string) (float64, bool, error) {
	px, ok := f.prices[symbol]
	return px, ok, nil
}
func (f *fakeVenue) PlaceMarket(ctx context.Context, symbol string, side kernel.Side, quoteNotional, quantity float64, clientOrderID string) (router.OrderResult, error) {
	f.placedMarketSide = append(f.placedMarketSide, side)
	return router.OrderResult{}, nil
}
func (f *fakeVenue) PlaceReduceOnlyLimit(ctx context.Context, symbol string, side kernel.Side, qty, limitPx float64) (router.OrderResult, error) {
	return router.OrderResult{}, nil
}
func (f *fakeVenue) AmendStopReduceOnly(ctx context.Context, symbol string, side kernel.Side, stopPx, qty float64) (router.OrderResult, error) {
	return router.OrderResult{}, nil
}
func (f *fakeVenue) ListPositions(ctx context.Context) ([]router.Position, error) { return f.positions, nil }
func (f *fakeVenue) ListOpenOrders(ctx context.Context, symbol string) ([]router.OpenOrder, error) {
	return nil, nil
}
func (f *fakeVenue) SetTradingEnabled(enabled bool) error { f.tradingDisabled = !enabled; return nil }
func (f *fakeVenue) SetPreferredQuote(asset string) error { f.preferredQuote = asset; return nil }

// TestScenarioS4Depeg reproduces the spec's worked scenario: one
// below-threshold reading followed by two consecutive above-threshold
// readings (ConfirmWindows=2) trips the guard on the third tick.
func TestScenarioS4Depeg(t *testing.T) {
	venue := &fakeVenue{prices: map[string]float64{"USDTUSDC.TEST": 1.003}}
	reg := router.NewRegistry(map[string]router.VenueClient{"TEST": venue}, "TEST")
	logger := zap.NewNop()
	bus := eventbus.New(logger, eventbus.DefaultConfig())
	defer bus.Stop()

	var triggered []map[string]any
	bus.Subscribe(eventbus.TopicRiskDepegTrigger, func(payload any) {
		if m, ok := payload.(map[string]any); ok {
			triggered = append(triggered, m)
		}
	})

	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.ThresholdPct = 0.5
	cfg.ConfirmWindows = 2
	cfg.WatchSymbols = []string{"USDTUSDC"}
	g := New(logger, cfg, reg, bus)

	deviations := []float64{0.3, 0.6, 0.7}
	base := time.Unix(0, 0)
	for i, dev := range deviations {
		venue.prices["USDTUSDC.TEST"] = 1.0 + dev/100.0
		g.Tick(base.Add(time.Duration(i) * time.Second))
	}

	time.Sleep(20 * time.Millisecond)
	if len(triggered) != 1 {
		t.Fatalf("expected exactly one trigger, got %d", len(triggered))
	}
	if !venue.tradingDisabled {
		t.Fatal("expected trading to be disabled on trigger")
	}
}

func TestTickNoOpWhileDisabled(t *testing.T) {
	venue := &fakeVenue{prices: map[string]float64{"USDTUSDC.TEST": 2.0}}
	reg := router.NewRegistry(map[string]router.VenueClient{"TEST": venue}, "TEST")
	logger := zap.NewNop()
	g := New(logger, DefaultConfig(), reg, nil)
	g.Tick(time.Now())
	if venue.tradingDisabled {
		t.Fatal("disabled guard should never touch the venue")
	}
}
