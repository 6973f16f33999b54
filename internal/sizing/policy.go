// Package sizing implements the dynamic risk, exposure, and sizing policy:
// a pure function from regime signal, strategy context, market snapshot, and
// account state to a risk posture (Mode) plus concrete size/stop/concurrency/
// drawdown outputs. No state is held across calls; config only substitutes
// for constants explicitly called out as tunable.
package sizing

import (
	"math"

	"github.com/atlas-desktop/trading-engine-kernel/pkg/kernel"
)

// perTradeRiskTable is the {strategy type} x {mode} base risk-per-trade
// percentage lookup. Values are contract, not tunables.
var perTradeRiskTable = map[kernel.StrategyType]map[kernel.Mode]float64{
	kernel.StrategyScalp: {
		kernel.ModeRed: 0.004, kernel.ModeYellow: 0.008, kernel.ModeGreen: 0.012,
	},
	kernel.StrategyMomentum: {
		kernel.ModeRed: 0.006, kernel.ModeYellow: 0.012, kernel.ModeGreen: 0.018,
	},
	kernel.StrategyTrend: {
		kernel.ModeRed: 0.007, kernel.ModeYellow: 0.015, kernel.ModeGreen: 0.022,
	},
	kernel.StrategyEvent: {
		kernel.ModeRed: 0.003, kernel.ModeYellow: 0.007, kernel.ModeGreen: 0.012,
	},
}

var timeframeAdj = map[kernel.Timeframe]float64{
	kernel.Timeframe1m:  -0.0015,
	kernel.Timeframe5m:  -0.001,
	kernel.Timeframe15m: 0.0,
	kernel.Timeframe1h:  0.001,
	kernel.Timeframe4h:  0.002,
}

var stopKBase = map[kernel.StrategyType]float64{
	kernel.StrategyScalp:    0.9,
	kernel.StrategyMomentum: 1.2,
	kernel.StrategyTrend:    1.6,
	kernel.StrategyEvent:    1.3,
}

// ChooseMode derives the engine's risk posture from a regime signal. Score
// composition and thresholds are the spec's contract.
func ChooseMode(r kernel.RegimeSignal) kernel.Mode {
	score := (r.PWin1h - 0.5) * 2.0
	score += 0.8 * math.Tanh(r.PnLSlope1h)
	score += (r.BreadthUpPct - 0.5) * 2.0 * 0.5 // net: (breadth - 0.5) at unit weight

	switch r.VolatilityState {
	case kernel.VolHigh:
		score += 0.15
	case kernel.VolLow:
		score -= 0.10
	}

	score -= 0.8 * math.Max(0.0, r.Drawdown7dPct-0.10)

	switch {
	case score >= 0.65:
		return kernel.ModeGreen
	case score <= -0.35:
		return kernel.ModeRed
	default:
		return kernel.ModeYellow
	}
}

// PerTradeRiskPct looks up the base per-trade risk fraction for (strategy,
// mode), applies the timeframe adjustment, and clamps to the floor.
func PerTradeRiskPct(mode kernel.Mode, strat kernel.StrategyContext) float64 {
	base := perTradeRiskTable[strat.Type][mode]
	adj := timeframeAdj[strat.BaseTimeframe]
	return math.Max(0.0005, base+adj)
}

// TargetStopPct derives the stop-loss distance as a fraction of price from
// strategy type and market conditions.
func TargetStopPct(strat kernel.StrategyContext, mkt kernel.MarketSnapshot) float64 {
	kBase := stopKBase[strat.Type]
	spreadPenalty := math.Min(0.5, mkt.SpreadBps/10_000.0*5.0)
	liqBonus := 0.2 * mkt.LiqScore
	heatBonus := 0.0
	if strat.Type == kernel.StrategyMomentum || strat.Type == kernel.StrategyEvent {
		heatBonus = -0.2 * mkt.EventHeat
	}
	k := math.Max(0.6, kBase+spreadPenalty-liqBonus+heatBonus)
	return math.Max(0.002, k*math.Max(0.001, mkt.ATRPct))
}

// modeOpenRiskCap is the free_risk ceiling used when sizing a new trade
// ({red:0.03, yellow:0.06, green:0.10} per the spec's size formula — note
// this is distinct from modeBaseRiskCap used by ConcurrentLimits, which
// differs at green (0.09 vs 0.10)).
var modeOpenRiskCap = map[kernel.Mode]float64{
	kernel.ModeRed: 0.03, kernel.ModeYellow: 0.06, kernel.ModeGreen: 0.10,
}

var modeImpactCap = map[kernel.Mode]float64{
	kernel.ModeRed: 0.01, kernel.ModeYellow: 0.015, kernel.ModeGreen: 0.02,
}

// SizeAndStop computes the position notional (USD) and stop distance for an
// intent, given the account's current open risk.
func SizeAndStop(mode kernel.Mode, strat kernel.StrategyContext, mkt kernel.MarketSnapshot, acct kernel.AccountState) (sizeUSD, stopPct float64) {
	stopPct = TargetStopPct(strat, mkt)
	riskPct := PerTradeRiskPct(mode, strat)

	freeRisk := math.Max(0.0, modeOpenRiskCap[mode]-acct.OpenRiskSumPct)
	riskUse := riskPct
	if freeRisk > 0 {
		riskUse = math.Min(riskPct, freeRisk)
	} else {
		riskUse = math.Min(riskPct, riskPct*0.5)
	}

	riskUSD := acct.EquityUSD * riskUse
	sizeByRisk := riskUSD / math.Max(1e-6, stopPct)

	impactCap := modeImpactCap[mode]
	sizeByLiquidity := impactCap * mkt.Vol1mUSD

	quality := math.Max(0.05, math.Min(1.0, 1.0-(mkt.SpreadBps/50.0))) * (0.5 + 0.5*mkt.LiqScore)
	sizeQualityAdj := sizeByRisk * quality

	sizeUSD = math.Max(0.0, math.Min(sizeQualityAdj, sizeByLiquidity))
	return sizeUSD, stopPct
}

var modeBasePositions = map[kernel.Mode]int{
	kernel.ModeRed: 3, kernel.ModeYellow: 6, kernel.ModeGreen: 10,
}

// modeBaseRiskCap is the concurrency-limit risk cap ({red:0.03, yellow:0.06,
// green:0.09}) — distinct from modeOpenRiskCap used for per-trade sizing.
var modeBaseRiskCap = map[kernel.Mode]float64{
	kernel.ModeRed: 0.03, kernel.ModeYellow: 0.06, kernel.ModeGreen: 0.09,
}

// ConcurrentLimits derives the max simultaneous open-position count and a
// residual per-trade risk cap, scaled by account equity and decayed by
// excess open positions.
func ConcurrentLimits(mode kernel.Mode, acct kernel.AccountState) (maxPositions int, residualRiskCap float64) {
	basePositions := modeBasePositions[mode]
	baseRiskCap := modeBaseRiskCap[mode]

	scale := 1.0 + math.Min(0.5, math.Log10(math.Max(1.0, acct.EquityUSD/2000.0))*0.25)
	positions := int(math.Max(1, float64(basePositions)*scale))

	residual := math.Max(0.01, baseRiskCap-0.004*math.Max(0, float64(acct.OpenPositions-positions)))
	return positions, residual
}

var modeBaseDailyDD = map[kernel.Mode]float64{
	kernel.ModeRed: 0.035, kernel.ModeYellow: 0.055, kernel.ModeGreen: 0.075,
}

var modeBasePeakDD = map[kernel.Mode]float64{
	kernel.ModeRed: 0.12, kernel.ModeYellow: 0.18, kernel.ModeGreen: 0.24,
}

// DrawdownLimits derives the daily and peak drawdown stop thresholds,
// tightened under drawdown stress and loosened by win-rate certainty.
func DrawdownLimits(mode kernel.Mode, r kernel.RegimeSignal) (dailyStopPct, peakStopPct float64) {
	baseDaily := modeBaseDailyDD[mode]
	basePeak := modeBasePeakDD[mode]

	stress := math.Max(0.0, r.Drawdown7dPct-0.08)
	pvar := math.Abs(r.PWin1h - 0.5)

	daily := math.Max(0.02, baseDaily-0.015*stress+0.01*pvar)
	peak := math.Max(0.10, basePeak-0.10*stress+0.05*pvar)
	return daily, peak
}

// Output is the full result of evaluating the policy for one intent: the
// mode plus every derived limit the guard chain and router need.
type Output struct {
	Mode            kernel.Mode
	SizeUSD         float64
	StopPct         float64
	MaxPositions    int
	ResidualRiskCap float64
	DailyStopPct    float64
	PeakStopPct     float64
}

// Evaluate runs the full policy pipeline for one order intent's context.
func Evaluate(r kernel.RegimeSignal, strat kernel.StrategyContext, mkt kernel.MarketSnapshot, acct kernel.AccountState) Output {
	mode := ChooseMode(r)
	sizeUSD, stopPct := SizeAndStop(mode, strat, mkt, acct)
	maxPositions, residualCap := ConcurrentLimits(mode, acct)
	dailyStop, peakStop := DrawdownLimits(mode, r)

	return Output{
		Mode:            mode,
		SizeUSD:         sizeUSD,
		StopPct:         stopPct,
		MaxPositions:    maxPositions,
		ResidualRiskCap: residualCap,
		DailyStopPct:    dailyStop,
		PeakStopPct:     peakStop,
	}
}
