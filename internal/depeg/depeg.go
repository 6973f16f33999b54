// Package depeg implements the stablecoin/BTC-parity deviation watcher: a
// tick-driven confirmation counter that, once tripped, halts trading and
// best-effort flattens risk before entering a cooldown.
package depeg

import (
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-engine-kernel/internal/eventbus"
	"github.com/atlas-desktop/trading-engine-kernel/internal/router"
	"github.com/atlas-desktop/trading-engine-kernel/pkg/kernel"
)

// Config controls enablement, threshold, and response policy.
type Config struct {
	Enabled         bool
	ThresholdPct    float64
	ConfirmWindows  int
	CooldownMinutes int
	ExitRisk        bool
	SwitchQuote     bool
	WatchSymbols    []string
	RequestTimeout  time.Duration
}

// DefaultConfig matches spec defaults (disabled by default; 0.5% / 3
// confirms / 120min cooldown; watch set USDTUSDC,BTCUSDT,BTCUSDC).
func DefaultConfig() Config {
	return Config{
		Enabled:         false,
		ThresholdPct:    0.5,
		ConfirmWindows:  3,
		CooldownMinutes: 120,
		ExitRisk:        false,
		SwitchQuote:     false,
		WatchSymbols:    []string{"USDTUSDC", "BTCUSDT", "BTCUSDC"},
		RequestTimeout:  5 * time.Second,
	}
}

func (c Config) watches(symbol string) bool {
	for _, s := range c.WatchSymbols {
		if s == symbol {
			return true
		}
	}
	return false
}

// Guard evaluates peg deviation on each Tick call and fires the bus/router
// response when confirmed deviations cross the threshold.
type Guard struct {
	logger *zap.Logger
	cfg    Config
	reg    *router.Registry
	bus    *eventbus.Bus

	mu        sync.Mutex
	confirm   int
	safeUntil time.Time
}

// New constructs a guard. Call Tick periodically (driven by the supervisor).
func New(logger *zap.Logger, cfg Config, reg *router.Registry, bus *eventbus.Bus) *Guard {
	return &Guard{logger: logger, cfg: cfg, reg: reg, bus: bus}
}

func (g *Guard) last(ctx context.Context, symbol string) float64 {
	client, qualified, err := g.reg.Resolve(symbol)
	if err != nil {
		return 0
	}
	px, ok, err := client.GetLastPrice(ctx, qualified)
	if err != nil || !ok {
		return 0
	}
	return px
}

// peggedDeviation estimates deviation from 1.0 parity in percentage points,
// via direct USDT/USDC quote and, when both legs are watched, implied
// BTC/BTC cross-parity. Returns 0 if no watched pair yields a usable price.
func (g *Guard) peggedDeviation(ctx context.Context) float64 {
	dev := 0.0
	if g.cfg.watches("USDTUSDC") {
		if px := g.last(ctx, "USDTUSDC"); px > 0 {
			dev = math.Max(dev, math.Abs(px-1.0)*100.0)
		}
	}
	if g.cfg.watches("BTCUSDT") && g.cfg.watches("BTCUSDC") {
		btcUsdt := g.last(ctx, "BTCUSDT")
		btcUsdc := g.last(ctx, "BTCUSDC")
		if btcUsdt > 0 && btcUsdc > 0 {
			implied := btcUsdt / btcUsdc
			dev = math.Max(dev, math.Abs(implied-1.0)*100.0)
		}
	}
	return dev
}

// Tick runs one evaluation cycle. Safe to call from a single supervised
// loop; not safe to call concurrently with itself.
func (g *Guard) Tick(now time.Time) {
	if !g.cfg.Enabled {
		return
	}

	g.mu.Lock()
	if now.Before(g.safeUntil) {
		g.mu.Unlock()
		return
	}
	g.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), g.cfg.RequestTimeout)
	defer cancel()
	dev := g.peggedDeviation(ctx)

	g.mu.Lock()
	if dev >= g.cfg.ThresholdPct {
		g.confirm++
	} else {
		g.confirm = 0
	}
	tripped := g.confirm >= g.cfg.ConfirmWindows
	if tripped {
		g.safeUntil = now.Add(time.Duration(g.cfg.CooldownMinutes) * time.Minute)
		g.confirm = 0
	}
	g.mu.Unlock()

	if !tripped {
		return
	}

	if g.bus != nil {
		g.bus.Fire(eventbus.TopicRiskDepegTrigger, map[string]any{"deviation_pct": dev})
		g.bus.Fire(eventbus.TopicHealthState, kernel.HealthEvent{State: kernel.HealthHalted, Reason: "depeg_trigger"})
	}
	g.applyActions(dev)
}

func (g *Guard) applyActions(dev float64) {
	g.logger.Warn("depeg guard triggered", zap.Float64("deviation_pct", dev))

	ctx, cancel := context.WithTimeout(context.Background(), g.cfg.RequestTimeout)
	defer cancel()

	for venue, client := range g.reg.All() {
		if err := client.SetTradingEnabled(false); err != nil {
			g.logger.Warn("depeg guard disable-trading failed", zap.String("venue", venue), zap.Error(err))
		}
	}

	if g.cfg.ExitRisk {
		for venue, client := range g.reg.All() {
			positions, err := client.ListPositions(ctx)
			if err != nil {
				g.logger.Warn("depeg guard list-positions failed", zap.String("venue", venue), zap.Error(err))
				continue
			}
			for _, p := range positions {
				if p.Symbol == "" || p.Qty == 0 {
					continue
				}
				side := kernel.SideSell
				if p.Qty < 0 {
					side = kernel.SideBuy
				}
				qty := math.Abs(p.Qty)
				if _, err := client.PlaceMarket(ctx, p.Symbol, side, 0, qty, router.NewClientOrderID()); err != nil {
					g.logger.Warn("depeg guard exit failed", zap.String("symbol", p.Symbol), zap.Error(err))
				}
			}
		}
	}

	if g.cfg.SwitchQuote {
		for venue, client := range g.reg.All() {
			if err := client.SetPreferredQuote("USDC"); err != nil {
				g.logger.Warn("depeg guard switch-quote failed", zap.String("venue", venue), zap.Error(err))
			}
		}
	}
}
