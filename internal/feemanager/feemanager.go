// Package feemanager implements the fee-asset auto-topup daemon: on a
// periodic interval, if the fee asset's USD value has fallen below a
// threshold and the topup cooldown has elapsed, buy more of it.
package feemanager

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-engine-kernel/internal/router"
	"github.com/atlas-desktop/trading-engine-kernel/pkg/kernel"
)

// Config controls the topup policy.
type Config struct {
	Enabled           bool
	FeeAssetSymbol    string // quoted market used to mark the fee asset, e.g. "BNBUSDT"
	TopupThresholdUSD float64
	TopupAmountUSD    float64
	CheckInterval     time.Duration
	MinTopupInterval  time.Duration
}

// DefaultConfig matches the spec's BNB-topup defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:           true,
		FeeAssetSymbol:    "BNBUSDT",
		TopupThresholdUSD: 10.0,
		TopupAmountUSD:    50.0,
		CheckInterval:     1800 * time.Second,
		MinTopupInterval:  3600 * time.Second,
	}
}

// BalanceSource reports the current balance of the fee asset, in units (not
// USD).
type BalanceSource func(ctx context.Context) (float64, error)

// Manager runs the periodic check/topup loop.
type Manager struct {
	logger    *zap.Logger
	cfg       Config
	reg       *router.Registry
	balanceOf BalanceSource

	lastTopup time.Time
}

// New constructs a manager. Call Run (typically as a supervisor.Task) to
// start the loop.
func New(logger *zap.Logger, cfg Config, reg *router.Registry, balanceOf BalanceSource) *Manager {
	return &Manager{logger: logger, cfg: cfg, reg: reg, balanceOf: balanceOf}
}

// Run loops on CheckInterval until ctx is cancelled. Returns nil when
// disabled or cancelled; errors from individual checks are logged and
// swallowed rather than propagated, so one bad check doesn't tear down the
// supervised task.
func (m *Manager) Run(ctx context.Context) error {
	if !m.cfg.Enabled {
		m.logger.Info("fee manager disabled, not starting")
		return nil
	}
	m.logger.Info("fee manager started",
		zap.Float64("threshold_usd", m.cfg.TopupThresholdUSD),
		zap.Float64("amount_usd", m.cfg.TopupAmountUSD),
		zap.Duration("interval", m.cfg.CheckInterval))

	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			if err := m.checkAndTopup(ctx, now); err != nil {
				m.logger.Warn("fee manager check failed", zap.Error(err))
			}
		}
	}
}

func (m *Manager) checkAndTopup(ctx context.Context, now time.Time) error {
	balance, err := m.balanceOf(ctx)
	if err != nil {
		return err
	}

	client, qualified, err := m.reg.Resolve(m.cfg.FeeAssetSymbol)
	if err != nil {
		return err
	}
	price, ok, err := client.GetLastPrice(ctx, qualified)
	if err != nil {
		return err
	}
	if !ok || price <= 0 {
		return nil
	}

	valueUSD := balance * price
	if valueUSD >= m.cfg.TopupThresholdUSD {
		return nil
	}
	if !m.lastTopup.IsZero() && now.Sub(m.lastTopup) < m.cfg.MinTopupInterval {
		return nil
	}

	qty := m.cfg.TopupAmountUSD / price
	m.logger.Info("fee asset low, topping up",
		zap.Float64("balance", balance), zap.Float64("value_usd", valueUSD), zap.Float64("qty", qty))

	if _, err := client.PlaceMarket(ctx, m.cfg.FeeAssetSymbol, kernel.SideBuy, m.cfg.TopupAmountUSD, qty, router.NewClientOrderID()); err != nil {
		return err
	}
	m.lastTopup = now
	return nil
}
