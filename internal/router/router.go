// Package router defines the abstract venue capability set the rest of the
// kernel places orders through, plus the qualified-symbol helpers adapters
// use at their boundary. It replaces dynamic dispatch over ad hoc adapter
// methods with a single interface every venue implementation must satisfy.
package router

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/atlas-desktop/trading-engine-kernel/pkg/kernel"
)

// NewClientOrderID mints a client order ID for callers that don't already
// carry one on their OrderIntent.
func NewClientOrderID() string {
	return "kernel-" + uuid.NewString()
}

// Position is one open position as reported by a venue.
type Position struct {
	Symbol   string
	Qty      float64
	AvgPrice float64
}

// OpenOrder is one resting order as reported by a venue.
type OpenOrder struct {
	OrderID       string
	ClientOrderID string
	Symbol        string
	Side          kernel.Side
	Price         float64
	Qty           float64
	ReduceOnly    bool
}

// OrderResult is the outcome of a place/amend call.
type OrderResult struct {
	Status       string
	AvgFillPrice float64
	FilledQty    float64
	OrderID      string
	Venue        string
}

// VenueClient is the capability set a venue adapter must implement. Trading
// calls take an unqualified symbol; the adapter owns venue-specific
// formatting internally. Optional capabilities (SetTradingEnabled,
// SetPreferredQuote) are satisfied with a no-op by adapters that don't
// support them rather than omitted, so callers never need a type switch.
type VenueClient interface {
	Name() string

	GetLastPrice(ctx context.Context, symbol string) (float64, bool, error)
	PlaceMarket(ctx context.Context, symbol string, side kernel.Side, quoteNotional, quantity float64, clientOrderID string) (OrderResult, error)
	PlaceReduceOnlyLimit(ctx context.Context, symbol string, side kernel.Side, qty, limitPx float64) (OrderResult, error)
	AmendStopReduceOnly(ctx context.Context, symbol string, side kernel.Side, stopPx, qty float64) (OrderResult, error)
	ListPositions(ctx context.Context) ([]Position, error)
	ListOpenOrders(ctx context.Context, symbol string) ([]OpenOrder, error)

	SetTradingEnabled(enabled bool) error
	SetPreferredQuote(asset string) error
}

// Qualify appends a venue suffix to a bare symbol, e.g. ("BTCUSDT",
// "BINANCE") -> "BTCUSDT.BINANCE".
func Qualify(symbol, venue string) string {
	if venue == "" {
		return symbol
	}
	return symbol + "." + venue
}

// Unqualify splits a qualified symbol into its bare symbol and venue parts.
// A symbol with no venue suffix returns an empty venue.
func Unqualify(qualified string) (symbol, venue string) {
	if i := strings.LastIndexByte(qualified, '.'); i >= 0 {
		return qualified[:i], qualified[i+1:]
	}
	return qualified, ""
}

// Registry maps a bare symbol to the venue adapter responsible for it, with
// a fallback default for symbols without an explicit mapping.
type Registry struct {
	mu      sync.RWMutex
	byVenue map[string]VenueClient
	bySym   map[string]string // symbol -> venue name
	def     string
}

// NewRegistry constructs a registry around a set of named venue clients and
// a default venue name used when a symbol has no explicit mapping.
func NewRegistry(clients map[string]VenueClient, defaultVenue string) *Registry {
	byVenue := make(map[string]VenueClient, len(clients))
	for name, c := range clients {
		byVenue[name] = c
	}
	return &Registry{
		byVenue: byVenue,
		bySym:   make(map[string]string),
		def:     defaultVenue,
	}
}

// Route maps symbol to an explicit venue, overriding any default/prior
// mapping.
func (r *Registry) Route(symbol, venue string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bySym[strings.ToUpper(symbol)] = venue
}

// Resolve returns the venue client and qualified symbol for a bare symbol.
func (r *Registry) Resolve(symbol string) (VenueClient, string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	venue, ok := r.bySym[strings.ToUpper(symbol)]
	if !ok {
		venue = r.def
	}
	client, ok := r.byVenue[venue]
	if !ok {
		return nil, "", fmt.Errorf("router: no venue client registered for %q (resolved venue %q)", symbol, venue)
	}
	return client, Qualify(symbol, venue), nil
}

// All returns every registered venue client, keyed by venue name. Used by
// components (the depeg guard) that must act across every venue rather than
// one symbol's resolved venue.
func (r *Registry) All() map[string]VenueClient {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]VenueClient, len(r.byVenue))
	for k, v := range r.byVenue {
		out[k] = v
	}
	return out
}
