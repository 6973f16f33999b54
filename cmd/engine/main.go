// Command engine is the trading-engine core process: it wires the event
// bus, the guard chain, every operational side-channel, and the control
// plane, then runs until a shutdown signal arrives or the watchdog self-kills
// on an event-loop stall.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-engine-kernel/internal/bracket"
	"github.com/atlas-desktop/trading-engine-kernel/internal/config"
	"github.com/atlas-desktop/trading-engine-kernel/internal/control"
	"github.com/atlas-desktop/trading-engine-kernel/internal/cooldown"
	"github.com/atlas-desktop/trading-engine-kernel/internal/depeg"
	"github.com/atlas-desktop/trading-engine-kernel/internal/digest"
	"github.com/atlas-desktop/trading-engine-kernel/internal/eventbus"
	"github.com/atlas-desktop/trading-engine-kernel/internal/feemanager"
	"github.com/atlas-desktop/trading-engine-kernel/internal/guards"
	"github.com/atlas-desktop/trading-engine-kernel/internal/health"
	"github.com/atlas-desktop/trading-engine-kernel/internal/metrics"
	"github.com/atlas-desktop/trading-engine-kernel/internal/modelwatch"
	"github.com/atlas-desktop/trading-engine-kernel/internal/notify"
	"github.com/atlas-desktop/trading-engine-kernel/internal/quarantine"
	"github.com/atlas-desktop/trading-engine-kernel/internal/router"
	"github.com/atlas-desktop/trading-engine-kernel/internal/sizing"
	"github.com/atlas-desktop/trading-engine-kernel/internal/supervisor"
	"github.com/atlas-desktop/trading-engine-kernel/internal/telemetry"
	"github.com/atlas-desktop/trading-engine-kernel/internal/windows"
	"github.com/atlas-desktop/trading-engine-kernel/internal/wsrunner"
	"github.com/atlas-desktop/trading-engine-kernel/pkg/kernel"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		logFatalConfig(err)
		return 2
	}

	logger, err := config.NewLogger(cfg.LogLevel)
	if err != nil {
		logFatalConfig(err)
		return 2
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// C1: event bus. Every operational side-channel wires off this.
	bus := eventbus.New(logger, eventbus.DefaultConfig())
	defer bus.Stop()

	// Shared Prometheus registry backing every component's metrics, and the
	// control plane's GET /metrics exposition.
	promReg := prometheus.NewRegistry()

	// C8-C11: persisted/in-memory risk state.
	quarantineReg := quarantine.New(logger, "state/quarantine.json", quarantine.DefaultPolicy())
	cooldowns := cooldown.New(30 * time.Second)
	latencyWindow := windows.NewLatencyWindow(512)
	pnlWindow := windows.NewPnLWindow()
	rollups := telemetry.NewDailyRollup(time.Now(), promReg)
	buckets := telemetry.NewBucketRing(6*time.Hour, 4)
	rollups.Wire(bus, buckets)

	// C16 sub-component: the control plane's ad-hoc named-metric push.
	pushedMetrics := metrics.New(promReg)

	// C6: router registry. Concrete venue adapters (spot/futures clients
	// implementing router.VenueClient) are registered here per deployment;
	// the kernel itself is venue-agnostic.
	venueClients := map[string]router.VenueClient{}
	venueRegistry := router.NewRegistry(venueClients, "")

	engState := newEngineState(cfg)

	// C14: notification sink backing the health notifier and digest job.
	var sink notify.Sink = notify.NopSink{}
	if cfg.Health.TelegramEnabled {
		sink = notify.NewTelegram(logger, cfg.Telegram.BotToken, cfg.Telegram.ChatID)
	}

	sup := supervisor.New(ctx, logger, supervisor.DefaultConfig())
	sup.OnTerminate(func() { os.Exit(1) })

	// C2 sub-component: watchdog OS thread. Self-kill triggers exit code 1
	// by returning from run() through the killRequested flag below.
	killRequested := make(chan struct{})
	watchdog := supervisor.NewWatchdog(logger, supervisor.DefaultWatchdogTimeout, func() {
		close(killRequested)
		cancel()
	})
	sup.Spawn(supervisor.Task{Name: "watchdog", Run: watchdog.Run})

	// C7: bracket governor, wired to the trade.fill topic.
	bracketGov := bracket.New(logger, bracketConfigFrom(cfg), venueRegistry)
	bracketGov.Wire(bus)

	// C12: depeg guard.
	depegGuard := depeg.New(logger, depegConfigFrom(cfg), venueRegistry, bus)
	sup.Spawn(supervisor.Task{Name: "depeg-guard", Run: func(ctx context.Context) error {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case now := <-ticker.C:
				depegGuard.Tick(now)
			}
		}
	}})

	// C3: order/execution WS runner. The stream factory dials a venue's
	// user-data endpoint, which (like the venue clients above) is wired in
	// per deployment; wsrunner's own reconnect/backoff and silence watchdog
	// run regardless, surfacing health onto the bus the moment a factory is
	// plugged in.
	wsRun := wsrunner.New(logger, wsConfigFrom(cfg), wsFactory(cfg), func(update any) {
		logger.Debug("wsrunner: update", zap.Any("update", update))
	}, bus)
	sup.Spawn(supervisor.Task{Name: "ws-runner", Run: wsRun.Run})

	// C13: fee manager.
	feeMgr := feemanager.New(logger, feeManagerConfigFrom(cfg), venueRegistry, func(ctx context.Context) (float64, error) {
		return 0, nil // balance source plugs in per deployment alongside venue adapters
	})
	sup.Spawn(supervisor.Task{Name: "fee-manager", Run: feeMgr.Run})

	// C14: health notifier.
	healthNotifier := health.New(logger, health.Config{Enabled: cfg.Health.TelegramEnabled, Debounce: time.Duration(cfg.Health.DebounceSec) * time.Second}, sink, promReg)
	healthNotifier.Wire(bus)

	// C15: model promotion watcher.
	watcher := modelwatch.New(logger, modelwatch.Config{Paths: nil, PollInterval: 5 * time.Second}, bus)
	sup.Spawn(supervisor.Task{Name: "model-watcher", Run: watcher.Run})

	// C17: digest job.
	digestJob := digest.New(logger, digestConfigFrom(cfg), rollups, buckets, sink)
	sup.Spawn(supervisor.Task{Name: "digest", Run: digestJob.Run})

	// C16: control plane.
	controlSrv := control.New(logger, control.Config{
		Addr:                 cfg.Control.Addr,
		OpsAPIToken:          cfg.Control.OpsAPIToken,
		OpsAPITokenFile:      cfg.Control.OpsAPITokenFile,
		OpsApproverTokens:    cfg.Control.OpsApproverTokens,
		IdempotencyRetention: 24 * time.Hour,
		MetricsGatherer:      promReg,
	}, buildControlDeps(engState, cfg, quarantineReg, cooldowns, latencyWindow, pnlWindow, rollups, buckets, pushedMetrics, venueRegistry))

	go func() {
		if err := controlSrv.Start(); err != nil {
			logger.Error("control plane stopped", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case <-killRequested:
		logger.Error("watchdog self-kill triggered")
		exitCode = 1
	}

	cancel()
	sup.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := controlSrv.Stop(shutdownCtx); err != nil {
		logger.Error("control plane shutdown error", zap.Error(err))
	}

	logger.Info("engine stopped", zap.Int("exit_code", exitCode))
	return exitCode
}

func logFatalConfig(err error) {
	fmt.Fprintln(os.Stderr, "fatal config error:", err)
}

// strategyConfig is one strategy's allocator-facing configuration, set via
// POST /strategies/{strategy}.
type strategyConfig struct {
	Enabled   bool
	RiskShare float64
}

// engineState is the control plane's view of the kernel's mutable risk
// posture: the pieces guards.State and sizing.Evaluate need that no single
// component owns. Every field is guarded by mu since control-plane handlers
// run on arbitrary goroutines.
type engineState struct {
	mu sync.Mutex

	mode       kernel.Mode
	killSwitch bool

	regime  kernel.RegimeSignal
	account kernel.AccountState

	realizedTotalUSD float64
	peakEquityUSD    float64
	dailyDrawdownPct float64
	peakDrawdownPct  float64

	strategies       map[string]strategyConfig
	allocatorWeights map[string]float64
	universe         []string
}

// newEngineState seeds account equity from config and otherwise starts from
// the zero-value RegimeSignal, which ChooseMode resolves to its most
// conservative (Red) posture — a safe default pending a live regime feed.
func newEngineState(cfg *config.Config) *engineState {
	equity := cfg.Guard.StartingEquityUSD
	return &engineState{
		mode: kernel.ModeGreen,
		account: kernel.AccountState{
			EquityUSD:           equity,
			ExposureBySymbolUSD: make(map[string]float64),
		},
		peakEquityUSD:    equity,
		strategies:       make(map[string]strategyConfig),
		allocatorWeights: make(map[string]float64),
		universe:         append([]string(nil), cfg.Depeg.WatchSymbols...),
	}
}

// recordTrade folds a reported trade's PnL into account equity and the
// running peak-drawdown figure, returning the cumulative realized total for
// the caller to feed into the PnL window.
func (e *engineState) recordTrade(trade control.TradeReport) (cumulativeUSD float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.realizedTotalUSD += trade.PnLUSD
	e.account.EquityUSD += trade.PnLUSD
	if e.account.EquityUSD > e.peakEquityUSD {
		e.peakEquityUSD = e.account.EquityUSD
	}
	if e.peakEquityUSD > 0 {
		e.peakDrawdownPct = (e.peakEquityUSD - e.account.EquityUSD) / e.peakEquityUSD
	}
	return e.realizedTotalUSD
}

// setDailyDrawdown records the trailing-24h realized PnL delta (negative
// means a loss) as a fraction of current equity, the form guards.Limits'
// DailyStopPct expects.
func (e *engineState) setDailyDrawdown(delta24hUSD float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.account.EquityUSD <= 0 || delta24hUSD >= 0 {
		e.dailyDrawdownPct = 0
		return
	}
	e.dailyDrawdownPct = -delta24hUSD / e.account.EquityUSD
}

// strategyContextFor builds the StrategyContext sizing.Evaluate needs from
// an order intent's strategy tag. Intents don't carry a strategy type or
// timeframe (that lives in the upstream strategy layer, out of kernel
// scope), so every intent gets a neutral momentum/15m context named after
// its tag rather than failing the order outright.
func strategyContextFor(tag string) kernel.StrategyContext {
	return kernel.StrategyContext{
		Name:          tag,
		Type:          kernel.StrategyMomentum,
		BaseTimeframe: kernel.Timeframe15m,
		Priority:      5,
	}
}

func buildControlDeps(
	es *engineState,
	cfg *config.Config,
	qr *quarantine.Registry,
	cd *cooldown.Map,
	lw *windows.LatencyWindow,
	pnlWin *windows.PnLWindow,
	rollups *telemetry.DailyRollup,
	buckets *telemetry.BucketRing,
	pushedMetrics *metrics.Gauges,
	reg *router.Registry,
) control.Deps {
	return control.Deps{
		SetMode: func(m kernel.Mode) error {
			es.mu.Lock()
			es.mode = m
			es.mu.Unlock()
			return nil
		},
		SetKillSwitch: func(enabled bool) {
			es.mu.Lock()
			es.killSwitch = enabled
			es.mu.Unlock()
		},
		SetAllocatorWeight: func(strategy string, riskShare float64) error {
			es.mu.Lock()
			es.allocatorWeights[strategy] = riskShare
			es.mu.Unlock()
			return nil
		},
		SetStrategyConfig: func(strategy string, enabled *bool, riskShare *float64) error {
			es.mu.Lock()
			sc := es.strategies[strategy]
			if enabled != nil {
				sc.Enabled = *enabled
			}
			if riskShare != nil {
				sc.RiskShare = *riskShare
			}
			es.strategies[strategy] = sc
			es.mu.Unlock()
			return nil
		},
		PushMetric: pushedMetrics.Push,
		RecordTrade: func(trade control.TradeReport) {
			now := trade.Timestamp
			if now.IsZero() {
				now = time.Now()
			}

			rollups.Inc(now, "trades", trade.Symbol, 1)
			buckets.Inc(now, "trades", trade.Symbol, 1)

			cumulative := es.recordTrade(trade)
			delta24h := pnlWin.RecordRealizedTotal(now, cumulative)
			es.setDailyDrawdown(delta24h)

			if trade.LatencyMs > 0 {
				lw.RecordTickLatency(trade.Symbol, trade.LatencyMs)
			}
		},
		Status: func() any {
			es.mu.Lock()
			defer es.mu.Unlock()
			return map[string]any{
				"mode":               es.mode,
				"kill_switch":        es.killSwitch,
				"equity_usd":         es.account.EquityUSD,
				"daily_drawdown_pct": es.dailyDrawdownPct,
				"peak_drawdown_pct":  es.peakDrawdownPct,
				"allocator_weights":  es.allocatorWeights,
				"rollups":            rollups.Snapshot(),
			}
		},
		Universe: func() any {
			es.mu.Lock()
			defer es.mu.Unlock()
			return map[string]any{"symbols": es.universe}
		},
		SubmitOrder: func(ctx context.Context, intent kernel.OrderIntent) (any, error) {
			now := time.Now()

			es.mu.Lock()
			killSwitch := es.killSwitch
			regime := es.regime
			acct := es.account
			dailyDD := es.dailyDrawdownPct
			peakDD := es.peakDrawdownPct
			sc, hasStrategyCfg := es.strategies[intent.StrategyTag]
			es.mu.Unlock()

			if hasStrategyCfg && !sc.Enabled {
				rollups.Inc(now, "skip_STRATEGY_DISABLED", intent.Symbol, 1)
				return nil, &orderRejected{reason: "STRATEGY_DISABLED"}
			}

			mkt := kernel.MarketSnapshot{Symbol: intent.Symbol}
			strat := strategyContextFor(intent.StrategyTag)
			out := sizing.Evaluate(regime, strat, mkt, acct)

			lim := guards.Limits{
				MaxSpreadBps:   cfg.Guard.MaxSpreadBps,
				MaxPositions:   out.MaxPositions,
				MaxExposureUSD: cfg.Guard.MaxExposureUSD,
				MaxLatencyMs:   cfg.Guard.MaxLatencyMs,
				DailyStopPct:   out.DailyStopPct,
				PeakStopPct:    out.PeakStopPct,
				MinSizeUSD:     cfg.Guard.MinSizeUSD,
			}
			st := guards.State{
				KillSwitch:    killSwitch,
				DailyDrawdown: dailyDD,
				PeakDrawdown:  peakDD,
				Quarantine:    qr,
				Cooldowns:     cd,
				Latency:       lw,
				CooldownKey:   func(i kernel.OrderIntent) string { return i.Symbol },
			}
			reason := guards.Evaluate(intent, mkt, acct, lim, st, now)
			if reason != guards.OK {
				rollups.Inc(now, reason.RollupKey(), intent.Symbol, 1)
				buckets.Inc(now, reason.RollupKey(), intent.Symbol, 1)
				return nil, &orderRejected{reason: string(reason)}
			}

			client, _, err := reg.Resolve(intent.Symbol)
			if err != nil {
				return nil, err
			}
			return client.PlaceMarket(ctx, intent.Symbol, intent.Side, intent.QuoteNotional, intent.Quantity, router.NewClientOrderID())
		},
	}
}

type orderRejected struct{ reason string }

func (e *orderRejected) Error() string { return "order rejected: " + e.reason }
