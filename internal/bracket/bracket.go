// Package bracket implements the bracket governor: on every fill event it
// places a reduce-only take-profit limit and, when AllowStopAmend is set, a
// reduce-only stop, each priced at a fixed basis-point offset from the fill
// price. It never lets an error from
// either leg escape its fill handler.
package bracket

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-engine-kernel/internal/eventbus"
	"github.com/atlas-desktop/trading-engine-kernel/internal/router"
	"github.com/atlas-desktop/trading-engine-kernel/pkg/kernel"
)

// Config controls the governor's bps offsets and whether it runs at all.
type Config struct {
	Enabled        bool
	TPBps          float64
	SLBps          float64
	AllowStopAmend bool
	RequestTimeout time.Duration
}

// DefaultConfig matches the spec's defaults (20/30 bps, enabled).
func DefaultConfig() Config {
	return Config{
		Enabled:        true,
		TPBps:          20.0,
		SLBps:          30.0,
		AllowStopAmend: false,
		RequestTimeout: 5 * time.Second,
	}
}

// Governor subscribes to fill events and issues the TP/SL pair through a
// venue registry.
type Governor struct {
	logger *zap.Logger
	cfg    Config
	reg    *router.Registry
}

// New constructs a governor. Call Wire to subscribe it to the bus.
func New(logger *zap.Logger, cfg Config, reg *router.Registry) *Governor {
	return &Governor{logger: logger, cfg: cfg, reg: reg}
}

// Wire subscribes the governor to trade.fill. No-op if disabled.
func (g *Governor) Wire(bus *eventbus.Bus) {
	if !g.cfg.Enabled {
		g.logger.Info("bracket governor disabled, not wiring")
		return
	}
	bus.Subscribe(eventbus.TopicTradeFill, g.onFill)
	g.logger.Info("bracket governor wired",
		zap.Float64("tp_bps", g.cfg.TPBps),
		zap.Float64("sl_bps", g.cfg.SLBps))
}

func opposite(side kernel.Side) kernel.Side {
	if side == kernel.SideBuy {
		return kernel.SideSell
	}
	return kernel.SideBuy
}

// tpSlPrices mirrors the BUY/SELL price-mirroring rule exactly: for a SELL
// fill, the multiplier is reflected around 1.0 rather than inverted.
func tpSlPrices(side kernel.Side, avg, tpBps, slBps float64) (tpPx, slPx float64) {
	tpMult := 1.0 + tpBps/10_000.0
	slMult := 1.0 - slBps/10_000.0
	if side == kernel.SideBuy {
		return avg * tpMult, avg * slMult
	}
	return avg * (2.0 - tpMult), avg * (2.0 - slMult)
}

func (g *Governor) onFill(payload any) {
	fill, ok := payload.(kernel.FillEvent)
	if !ok {
		return
	}
	if fill.Symbol == "" || fill.AvgPrice <= 0 || fill.FilledQty <= 0 {
		return
	}
	if fill.Side != kernel.SideBuy && fill.Side != kernel.SideSell {
		return
	}

	tpPx, slPx := tpSlPrices(fill.Side, fill.AvgPrice, g.cfg.TPBps, g.cfg.SLBps)
	exitSide := opposite(fill.Side)
	qty := fill.FilledQty

	ctx, cancel := context.WithTimeout(context.Background(), g.cfg.RequestTimeout)
	defer cancel()

	client, _, err := g.reg.Resolve(fill.Symbol)
	if err != nil {
		g.logger.Warn("bracket governor could not resolve venue", zap.String("symbol", fill.Symbol), zap.Error(err))
		return
	}

	if _, err := client.PlaceReduceOnlyLimit(ctx, fill.Symbol, exitSide, qty, tpPx); err != nil {
		g.logger.Warn("bracket governor TP placement failed", zap.String("symbol", fill.Symbol), zap.Error(err))
	}

	if g.cfg.AllowStopAmend {
		if _, err := client.AmendStopReduceOnly(ctx, fill.Symbol, exitSide, slPx, qty); err != nil {
			g.logger.Warn("bracket governor SL amend failed", zap.String("symbol", fill.Symbol), zap.Error(err))
		}
	}

	g.logger.Info("bracket placed",
		zap.String("symbol", fill.Symbol),
		zap.String("side", string(fill.Side)),
		zap.Float64("qty", qty),
		zap.Float64("avg", fill.AvgPrice),
		zap.Float64("tp_px", tpPx),
		zap.Float64("sl_px", slPx))
}
