// Package guards implements the order gate chain: an ordered sequence of
// cheap-to-expensive checks an order intent must clear before it reaches the
// router. The first non-OK gate wins; nothing downstream runs.
package guards

import (
	"time"

	"github.com/atlas-desktop/trading-engine-kernel/internal/cooldown"
	"github.com/atlas-desktop/trading-engine-kernel/internal/quarantine"
	"github.com/atlas-desktop/trading-engine-kernel/internal/windows"
	"github.com/atlas-desktop/trading-engine-kernel/pkg/kernel"
)

// Reason is a gate rejection tag.
type Reason string

// OK means the intent cleared every gate. The rest are rejection reasons in
// the order the chain evaluates them.
const (
	OK         Reason = ""
	Kill       Reason = "KILL"
	Quarantine Reason = "QUARANTINE"
	Cooldown   Reason = "COOLDOWN"
	Spread     Reason = "SPREAD"
	Depeg      Reason = "DEPEG"
	Exposure   Reason = "EXPOSURE"
	Position   Reason = "POS"
	Latency    Reason = "LATENCY"
	Drawdown   Reason = "DD"
	SizeMin    Reason = "SIZE_MIN"
)

// Limits carries the thresholds the chain checks against. The engine fills
// the position and drawdown caps from the sizing policy per evaluation and
// the spread, exposure, latency and min-size thresholds from static config.
type Limits struct {
	MaxSpreadBps    float64
	MaxPositions    int
	MaxExposureUSD  float64
	SymbolExposures map[string]float64
	MaxLatencyMs    float64
	DailyStopPct    float64
	PeakStopPct     float64
	MinSizeUSD      float64
}

// State is the mutable/external state the chain consults.
type State struct {
	KillSwitch    bool
	DepegActive   bool
	DailyDrawdown float64
	PeakDrawdown  float64
	Quarantine    *quarantine.Registry
	Cooldowns     *cooldown.Map
	Latency       *windows.LatencyWindow
	CooldownKey   func(intent kernel.OrderIntent) string
}

// Evaluate runs intent through every gate in spec order and returns OK or
// the first rejection reason.
func Evaluate(intent kernel.OrderIntent, mkt kernel.MarketSnapshot, acct kernel.AccountState, lim Limits, st State, now time.Time) Reason {
	if st.KillSwitch {
		return Kill
	}

	if st.Quarantine != nil {
		if blocked, _ := st.Quarantine.IsQuarantined(intent.Symbol, now); blocked {
			return Quarantine
		}
	}

	if st.Cooldowns != nil && st.CooldownKey != nil {
		key := st.CooldownKey(intent)
		if !st.Cooldowns.Allow(key, now) {
			return Cooldown
		}
	}

	if lim.MaxSpreadBps > 0 && mkt.SpreadBps > lim.MaxSpreadBps {
		return Spread
	}

	if st.DepegActive {
		return Depeg
	}

	if lim.MaxExposureUSD > 0 && acct.ExposureTotalUSD+intent.QuoteNotional > lim.MaxExposureUSD {
		return Exposure
	}
	if lim.SymbolExposures != nil {
		if symCap, ok := lim.SymbolExposures[intent.Symbol]; ok {
			if acct.ExposureBySymbolUSD[intent.Symbol]+intent.QuoteNotional > symCap {
				return Exposure
			}
		}
	}
	if lim.MaxPositions > 0 && acct.OpenPositions >= lim.MaxPositions {
		return Position
	}

	if lim.MaxLatencyMs > 0 && st.Latency != nil {
		if ms, ok := st.Latency.ConsumeLatency(intent.Symbol); ok && ms > lim.MaxLatencyMs {
			return Latency
		}
	}

	if lim.DailyStopPct > 0 && st.DailyDrawdown >= lim.DailyStopPct {
		return Drawdown
	}
	if lim.PeakStopPct > 0 && st.PeakDrawdown >= lim.PeakStopPct {
		return Drawdown
	}

	if lim.MinSizeUSD > 0 && intent.QuoteNotional < lim.MinSizeUSD {
		return SizeMin
	}

	return OK
}

// RollupKey formats the skip-reason counter key the telemetry layer bumps on
// rejection, e.g. "skip_COOLDOWN".
func (r Reason) RollupKey() string {
	return "skip_" + string(r)
}
