package main

import (
	"context"
	"errors"
	"time"

	"github.com/atlas-desktop/trading-engine-kernel/internal/bracket"
	"github.com/atlas-desktop/trading-engine-kernel/internal/config"
	"github.com/atlas-desktop/trading-engine-kernel/internal/depeg"
	"github.com/atlas-desktop/trading-engine-kernel/internal/digest"
	"github.com/atlas-desktop/trading-engine-kernel/internal/feemanager"
	"github.com/atlas-desktop/trading-engine-kernel/internal/wsrunner"
)

func bracketConfigFrom(cfg *config.Config) bracket.Config {
	return bracket.Config{
		Enabled:        cfg.Bracket.Enabled,
		TPBps:          cfg.Bracket.TPBps,
		SLBps:          cfg.Bracket.SLBps,
		AllowStopAmend: cfg.Bracket.AllowStopAmend,
		RequestTimeout: 5 * time.Second,
	}
}

func depegConfigFrom(cfg *config.Config) depeg.Config {
	return depeg.Config{
		Enabled:         cfg.Depeg.Enabled,
		ThresholdPct:    cfg.Depeg.ThresholdPct,
		ConfirmWindows:  cfg.Depeg.ConfirmWindows,
		CooldownMinutes: cfg.Depeg.CooldownMinutes,
		ExitRisk:        cfg.Depeg.ExitRisk,
		SwitchQuote:     cfg.Depeg.SwitchQuote,
		WatchSymbols:    cfg.Depeg.WatchSymbols,
		RequestTimeout:  5 * time.Second,
	}
}

func wsConfigFrom(cfg *config.Config) wsrunner.Config {
	backoff := make([]time.Duration, 0, len(cfg.WS.ReconnectBackoffMs))
	for _, ms := range cfg.WS.ReconnectBackoffMs {
		backoff = append(backoff, time.Duration(ms)*time.Millisecond)
	}
	return wsrunner.Config{
		ReconnectBackoff:   backoff,
		HealthEnabled:      cfg.WS.HealthEnabled,
		DisconnectAlertSec: cfg.WS.DisconnectAlertSec,
	}
}

func feeManagerConfigFrom(cfg *config.Config) feemanager.Config {
	return feemanager.Config{
		Enabled:           cfg.Fee.Enabled,
		FeeAssetSymbol:    "BNBUSDT",
		TopupThresholdUSD: cfg.Fee.TopupThresholdUSD,
		TopupAmountUSD:    cfg.Fee.TopupAmountUSD,
		CheckInterval:     time.Duration(cfg.Fee.CheckIntervalSec) * time.Second,
		MinTopupInterval:  time.Duration(cfg.Fee.MinTopupIntervalSec) * time.Second,
	}
}

// wsFactory is the no-venue-configured stub: it fails every dial attempt so
// the runner parks in its reconnect backoff and reports degraded health,
// until a deployment supplies a real Factory dialing its venue's user-data
// stream.
func wsFactory(cfg *config.Config) wsrunner.Factory {
	return func(ctx context.Context) (wsrunner.Stream, error) {
		return nil, errors.New("wsrunner: no venue stream factory configured")
	}
}

func digestConfigFrom(cfg *config.Config) digest.Config {
	return digest.Config{
		Enabled:        cfg.Health.TelegramEnabled,
		Interval:       time.Duration(cfg.Digest.IntervalMin) * time.Minute,
		IncludeSymbols: cfg.Digest.IncludeSymbols,
		Include6h:      cfg.Digest.Include6h,
	}
}
