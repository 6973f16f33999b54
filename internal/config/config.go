// Package config loads and validates the engine's environment-variable
// configuration into one typed record, and builds the shared zap logger.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ValidationError is a fatal startup configuration problem. main.go maps it
// to exit code 2.
type ValidationError struct {
	Field   string
	Problem string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Problem)
}

// ControlConfig holds the control-plane secret/allow-list env vars.
type ControlConfig struct {
	Addr              string
	OpsAPIToken       string
	OpsAPITokenFile   string
	OpsApproverTokens string
}

// BracketConfig mirrors the bracket governor's env-configurable fields.
type BracketConfig struct {
	Enabled        bool
	TPBps          float64
	SLBps          float64
	AllowStopAmend bool
}

// DepegConfig mirrors the depeg guard's env-configurable fields.
type DepegConfig struct {
	Enabled         bool
	ThresholdPct    float64
	ConfirmWindows  int
	CooldownMinutes int
	ExitRisk        bool
	SwitchQuote     bool
	WatchSymbols    []string
}

// FeeManagerConfig mirrors the fee manager's env-configurable fields.
type FeeManagerConfig struct {
	Enabled             bool
	TopupThresholdUSD   float64
	TopupAmountUSD      float64
	CheckIntervalSec    int
	MinTopupIntervalSec int
}

// WSConfig mirrors the WS runner's env-configurable fields.
type WSConfig struct {
	ReconnectBackoffMs []int
	HealthEnabled      bool
	DisconnectAlertSec int
}

// HealthConfig mirrors the health notifier's env-configurable fields.
type HealthConfig struct {
	TelegramEnabled bool
	DebounceSec     int
}

// DigestConfig mirrors the digest job's env-configurable fields.
type DigestConfig struct {
	IntervalMin    int
	IncludeSymbols bool
	Include6h      bool
}

// TelegramConfig holds the notification sink's credentials.
type TelegramConfig struct {
	BotToken string
	ChatID   string
}

// GuardConfig holds the guard chain's static thresholds — the ones the
// sizing policy's output doesn't carry (spread, exposure, latency, minimum
// order size) — plus the account's starting equity, seeded into the
// in-process account state the guard chain and sizing policy read.
type GuardConfig struct {
	MaxSpreadBps      float64
	MaxExposureUSD    float64
	MaxLatencyMs      float64
	MinSizeUSD        float64
	StartingEquityUSD float64
}

// Config is the fully resolved, validated engine configuration.
type Config struct {
	LogLevel string

	Control  ControlConfig
	Bracket  BracketConfig
	Depeg    DepegConfig
	Fee      FeeManagerConfig
	WS       WSConfig
	Health   HealthConfig
	Digest   DigestConfig
	Telegram TelegramConfig
	Guard    GuardConfig
}

// Load binds every environment variable from the spec's external-interface
// table (plus the handful of additional ambient vars a running process
// needs: log level, control listener address, and Telegram credentials),
// applies defaults, and validates the result.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	bindDefaults(v)

	cfg := &Config{
		LogLevel: v.GetString("log_level"),
		Control: ControlConfig{
			Addr:              v.GetString("control_addr"),
			OpsAPIToken:       v.GetString("ops_api_token"),
			OpsAPITokenFile:   v.GetString("ops_api_token_file"),
			OpsApproverTokens: v.GetString("ops_approver_tokens"),
		},
		Bracket: BracketConfig{
			Enabled:        v.GetBool("bracket_governor_enabled"),
			TPBps:          v.GetFloat64("tp_bps"),
			SLBps:          v.GetFloat64("sl_bps"),
			AllowStopAmend: v.GetBool("allow_stop_amend"),
		},
		Depeg: DepegConfig{
			Enabled:         v.GetBool("depeg_guard_enabled"),
			ThresholdPct:    v.GetFloat64("depeg_threshold_pct"),
			ConfirmWindows:  v.GetInt("depeg_confirm_windows"),
			CooldownMinutes: v.GetInt("depeg_action_cooldown_min"),
			ExitRisk:        v.GetBool("depeg_exit_risk"),
			SwitchQuote:     v.GetBool("depeg_switch_quote"),
			WatchSymbols:    splitCSV(v.GetString("depeg_watch_symbols")),
		},
		Fee: FeeManagerConfig{
			Enabled:             v.GetBool("bnb_fee_discount_enabled"),
			TopupThresholdUSD:   v.GetFloat64("bnb_topup_threshold_usd"),
			TopupAmountUSD:      v.GetFloat64("bnb_topup_amount_usd"),
			CheckIntervalSec:    v.GetInt("bnb_topup_interval_sec"),
			MinTopupIntervalSec: v.GetInt("bnb_min_topup_interval_sec"),
		},
		WS: WSConfig{
			ReconnectBackoffMs: parseIntCSV(v.GetString("ws_reconnect_backoff_ms")),
			HealthEnabled:      v.GetBool("ws_health_enabled"),
			DisconnectAlertSec: v.GetInt("ws_disconnect_alert_sec"),
		},
		Health: HealthConfig{
			TelegramEnabled: v.GetBool("health_tg_enabled"),
			DebounceSec:     v.GetInt("health_debounce_sec"),
		},
		Digest: DigestConfig{
			IntervalMin:    v.GetInt("digest_interval_min"),
			IncludeSymbols: v.GetBool("digest_include_symbols"),
			Include6h:      v.GetBool("digest_6h_enabled"),
		},
		Telegram: TelegramConfig{
			BotToken: v.GetString("telegram_bot_token"),
			ChatID:   v.GetString("telegram_chat_id"),
		},
		Guard: GuardConfig{
			MaxSpreadBps:      v.GetFloat64("guard_max_spread_bps"),
			MaxExposureUSD:    v.GetFloat64("guard_max_exposure_usd"),
			MaxLatencyMs:      v.GetFloat64("guard_max_latency_ms"),
			MinSizeUSD:        v.GetFloat64("guard_min_size_usd"),
			StartingEquityUSD: v.GetFloat64("account_starting_equity_usd"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func bindDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("control_addr", ":8090")

	v.SetDefault("bracket_governor_enabled", true)
	v.SetDefault("tp_bps", 20.0)
	v.SetDefault("sl_bps", 30.0)
	v.SetDefault("allow_stop_amend", false)

	v.SetDefault("depeg_guard_enabled", false)
	v.SetDefault("depeg_threshold_pct", 0.5)
	v.SetDefault("depeg_confirm_windows", 3)
	v.SetDefault("depeg_action_cooldown_min", 120)
	v.SetDefault("depeg_exit_risk", false)
	v.SetDefault("depeg_switch_quote", false)
	v.SetDefault("depeg_watch_symbols", "USDTUSDC,BTCUSDT,BTCUSDC")

	v.SetDefault("bnb_fee_discount_enabled", true)
	v.SetDefault("bnb_topup_threshold_usd", 10.0)
	v.SetDefault("bnb_topup_amount_usd", 50.0)
	v.SetDefault("bnb_topup_interval_sec", 1800)
	v.SetDefault("bnb_min_topup_interval_sec", 3600)

	v.SetDefault("ws_reconnect_backoff_ms", "500,1000,2000")
	v.SetDefault("ws_health_enabled", true)
	v.SetDefault("ws_disconnect_alert_sec", 15)

	v.SetDefault("health_tg_enabled", false)
	v.SetDefault("health_debounce_sec", 10)

	v.SetDefault("digest_interval_min", 1440)
	v.SetDefault("digest_include_symbols", true)
	v.SetDefault("digest_6h_enabled", false)

	v.SetDefault("guard_max_spread_bps", 50.0)
	v.SetDefault("guard_max_exposure_usd", 100_000.0)
	v.SetDefault("guard_max_latency_ms", 2_000.0)
	v.SetDefault("guard_min_size_usd", 10.0)
	v.SetDefault("account_starting_equity_usd", 10_000.0)
}

func (c *Config) validate() error {
	if c.Health.TelegramEnabled && (c.Telegram.BotToken == "" || c.Telegram.ChatID == "") {
		return &ValidationError{Field: "telegram", Problem: "HEALTH_TG_ENABLED requires TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID"}
	}
	if c.Bracket.TPBps <= 0 || c.Bracket.SLBps <= 0 {
		return &ValidationError{Field: "bracket", Problem: "TP_BPS and SL_BPS must be positive"}
	}
	if c.Depeg.Enabled && c.Depeg.ThresholdPct <= 0 {
		return &ValidationError{Field: "depeg", Problem: "DEPEG_THRESHOLD_PCT must be positive when the guard is enabled"}
	}
	if len(c.WS.ReconnectBackoffMs) == 0 {
		return &ValidationError{Field: "ws", Problem: "WS_RECONNECT_BACKOFF_MS must contain at least one value"}
	}
	if c.Guard.StartingEquityUSD <= 0 {
		return &ValidationError{Field: "guard", Problem: "ACCOUNT_STARTING_EQUITY_USD must be positive"}
	}
	return nil
}

func splitCSV(raw string) []string {
	var out []string
	for _, tok := range strings.Split(raw, ",") {
		tok = strings.TrimSpace(tok)
		if tok != "" {
			out = append(out, tok)
		}
	}
	return out
}

func parseIntCSV(raw string) []int {
	var out []int
	for _, tok := range strings.Split(raw, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		var ms int
		if _, err := fmt.Sscanf(tok, "%d", &ms); err == nil {
			out = append(out, ms)
		}
	}
	return out
}

// DigestInterval converts Digest.IntervalMin to a time.Duration.
func (c *Config) DigestInterval() time.Duration {
	return time.Duration(c.Digest.IntervalMin) * time.Minute
}
