package router

import (
	"context"
	"testing"

	"github.com/atlas-desktop/trading-engine-kernel/pkg/kernel"
)

type fakeClient struct{ name string }

func (f *fakeClient) Name() string { return f.name }
func (f *fakeClient) GetLastPrice(ctx context.Context, symbol string) (float64, bool, error) {
	return 100, true, nil
}
func (f *fakeClient) PlaceMarket(ctx context.Context, symbol string, side kernel.Side, quoteNotional, quantity float64, clientOrderID string) (OrderResult, error) {
	return OrderResult{Venue: f.name}, nil
}
func (f *fakeClient) PlaceReduceOnlyLimit(ctx context.Context, symbol string, side kernel.Side, qty, limitPx float64) (OrderResult, error) {
	return OrderResult{Venue: f.name}, nil
}
func (f *fakeClient) AmendStopReduceOnly(ctx context.Context, symbol string, side kernel.Side, stopPx, qty float64) (OrderResult, error) {
	return OrderResult{Venue: f.name}, nil
}
func (f *fakeClient) ListPositions(ctx context.Context) ([]Position, error)            { return nil, nil }
func (f *fakeClient) ListOpenOrders(ctx context.Context, symbol string) ([]OpenOrder, error) {
	return nil, nil
}
func (f *fakeClient) SetTradingEnabled(enabled bool) error { return nil }
func (f *fakeClient) SetPreferredQuote(asset string) error { return nil }

func TestQualifyUnqualify(t *testing.T) {
	if got := Qualify("BTCUSDT", "BINANCE"); got != "BTCUSDT.BINANCE" {
		t.Fatalf("unexpected qualify result: %s", got)
	}
	sym, venue := Unqualify("BTCUSDT.BINANCE")
	if sym != "BTCUSDT" || venue != "BINANCE" {
		t.Fatalf("unexpected unqualify result: %s %s", sym, venue)
	}
	sym, venue = Unqualify("BTCUSDT")
	if sym != "BTCUSDT" || venue != "" {
		t.Fatalf("expected empty venue for unsuffixed symbol, got %s %s", sym, venue)
	}
}

func TestRegistryResolvesDefaultAndExplicitRoute(t *testing.T) {
	binance := &fakeClient{name: "BINANCE"}
	futures := &fakeClient{name: "FUTURES"}
	reg := NewRegistry(map[string]VenueClient{
		"BINANCE": binance,
		"FUTURES": futures,
	}, "BINANCE")

	client, qualified, err := reg.Resolve("btcusdt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client != binance || qualified != "BTCUSDT.BINANCE" {
		t.Fatalf("expected default venue binance, got %v %s", client, qualified)
	}

	reg.Route("ETHUSDT", "FUTURES")
	client, qualified, err = reg.Resolve("ETHUSDT")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client != futures || qualified != "ETHUSDT.FUTURES" {
		t.Fatalf("expected routed venue futures, got %v %s", client, qualified)
	}
}

func TestRegistryResolveUnknownVenue(t *testing.T) {
	reg := NewRegistry(map[string]VenueClient{}, "BINANCE")
	if _, _, err := reg.Resolve("BTCUSDT"); err == nil {
		t.Fatal("expected error for unregistered venue")
	}
}
