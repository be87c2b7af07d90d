package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// MaxFetchTimeout is the ceiling applied to any configured upstream timeout.
const MaxFetchTimeout = 30 * time.Second

type Config struct {
	// Server
	Port            int    `yaml:"port"`
	CORSAllowOrigin string `yaml:"cors_allow_origin"`

	// Market data
	TradingPair           string  `yaml:"trading_pair"`
	UpstreamBaseURL       string  `yaml:"upstream_base_url"`
	PollIntervalMs        int     `yaml:"poll_interval_ms"`
	FetchTimeoutMs        int     `yaml:"fetch_timeout_ms"`
	UpstreamRatePerMinute int     `yaml:"upstream_rate_per_minute"`
	BreakerThreshold      int     `yaml:"breaker_threshold"`
	BreakerResetSeconds   int     `yaml:"breaker_reset_seconds"`
	FallbackBasePrice     float64 `yaml:"fallback_base_price"`
	FallbackMaxStepPct    float64 `yaml:"fallback_max_step_percent"`

	// Paper account
	InitialBalance float64 `yaml:"initial_balance"`

	// Risk Management
	MaxDailyTrades     int     `yaml:"max_daily_trades"`
	MaxPositionSizeUSD float64 `yaml:"max_position_size_usd"`
	MaxSlippagePercent float64 `yaml:"max_slippage_percent"`
	StopLossPercent    float64 `yaml:"stop_loss_percent"`
	TakeProfitPercent  float64 `yaml:"take_profit_percent"`

	// Signal simulator
	AutoTradingEnabled    bool    `yaml:"auto_trading_enabled"`
	SignalIntervalSeconds int     `yaml:"signal_interval_seconds"`
	SignalThreshold       float64 `yaml:"signal_threshold"`
	SignalTradeFraction   float64 `yaml:"signal_trade_fraction"`
	MinTradeAmount        float64 `yaml:"min_trade_amount"`

	// Notifications
	WebhookURL string `yaml:"webhook_url"`
	BotName    string `yaml:"bot_name"`

	// Journal (optional, write-only)
	DatabaseURL             string `yaml:"database_url"`
	JournalMaxConns         int    `yaml:"journal_max_conns"`
	JournalConnectTimeoutMs int    `yaml:"journal_connect_timeout_ms"`

	// ConfigFile is the YAML file that was applied, if any.
	ConfigFile string `yaml:"-"`
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		Port:            8000,
		CORSAllowOrigin: "*",

		TradingPair:           "BTCUSDT",
		UpstreamBaseURL:       "https://api.binance.com",
		PollIntervalMs:        2000,
		FetchTimeoutMs:        30000,
		UpstreamRatePerMinute: 1200,
		BreakerThreshold:      3,
		BreakerResetSeconds:   30,
		FallbackBasePrice:     43000,
		FallbackMaxStepPct:    2,

		InitialBalance: 10000,

		MaxDailyTrades:     50,
		MaxPositionSizeUSD: 5000,
		MaxSlippagePercent: 1,
		StopLossPercent:    0,
		TakeProfitPercent:  0,

		AutoTradingEnabled:    false,
		SignalIntervalSeconds: 5,
		SignalThreshold:       0.2,
		SignalTradeFraction:   0.1,
		MinTradeAmount:        10,

		BotName: "TrahnTicker",

		JournalMaxConns:         5,
		JournalConnectTimeoutMs: 5000,
	}
}

// Load builds the configuration from defaults, an optional YAML file
// (CONFIG_FILE) and the environment, in that order of precedence.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := Defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	c.ConfigFile = path
	return nil
}

func (c *Config) applyEnv() {
	c.Port = envInt("PORT", c.Port)
	c.CORSAllowOrigin = envStr("CORS_ALLOW_ORIGIN", c.CORSAllowOrigin)

	c.TradingPair = strings.ToUpper(envStr("TRADING_PAIR", c.TradingPair))
	c.UpstreamBaseURL = envStr("UPSTREAM_BASE_URL", c.UpstreamBaseURL)
	c.PollIntervalMs = envInt("POLL_INTERVAL_MS", c.PollIntervalMs)
	c.FetchTimeoutMs = envInt("FETCH_TIMEOUT_MS", c.FetchTimeoutMs)
	c.UpstreamRatePerMinute = envInt("UPSTREAM_RATE_PER_MINUTE", c.UpstreamRatePerMinute)
	c.BreakerThreshold = envInt("BREAKER_THRESHOLD", c.BreakerThreshold)
	c.BreakerResetSeconds = envInt("BREAKER_RESET_SECONDS", c.BreakerResetSeconds)
	c.FallbackBasePrice = envFloat("FALLBACK_BASE_PRICE", c.FallbackBasePrice)
	c.FallbackMaxStepPct = envFloat("FALLBACK_MAX_STEP_PERCENT", c.FallbackMaxStepPct)

	c.InitialBalance = envFloat("INITIAL_BALANCE", c.InitialBalance)

	c.MaxDailyTrades = envInt("MAX_DAILY_TRADES", c.MaxDailyTrades)
	c.MaxPositionSizeUSD = envFloat("MAX_POSITION_SIZE_USD", c.MaxPositionSizeUSD)
	c.MaxSlippagePercent = envFloat("MAX_SLIPPAGE_PERCENT", c.MaxSlippagePercent)
	c.StopLossPercent = envFloat("STOP_LOSS_PERCENT", c.StopLossPercent)
	c.TakeProfitPercent = envFloat("TAKE_PROFIT_PERCENT", c.TakeProfitPercent)

	c.AutoTradingEnabled = envBool("AUTO_TRADING_ENABLED", c.AutoTradingEnabled)
	c.SignalIntervalSeconds = envInt("SIGNAL_INTERVAL_SECONDS", c.SignalIntervalSeconds)
	c.SignalThreshold = envFloat("SIGNAL_THRESHOLD", c.SignalThreshold)
	c.SignalTradeFraction = envFloat("SIGNAL_TRADE_FRACTION", c.SignalTradeFraction)
	c.MinTradeAmount = envFloat("MIN_TRADE_AMOUNT", c.MinTradeAmount)

	c.WebhookURL = envStr("WEBHOOK_URL", c.WebhookURL)
	c.BotName = envStr("BOT_NAME", c.BotName)

	c.DatabaseURL = envStr("DATABASE_URL", c.DatabaseURL)
	c.JournalMaxConns = envInt("JOURNAL_MAX_CONNS", c.JournalMaxConns)
	c.JournalConnectTimeoutMs = envInt("JOURNAL_CONNECT_TIMEOUT_MS", c.JournalConnectTimeoutMs)
}

func (c *Config) Validate() error {
	var errs []string

	if c.TradingPair == "" {
		errs = append(errs, "TRADING_PAIR is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Sprintf("PORT %d out of range", c.Port))
	}
	if c.PollIntervalMs <= 0 {
		errs = append(errs, "POLL_INTERVAL_MS must be positive")
	}
	if c.FetchTimeoutMs <= 0 {
		errs = append(errs, "FETCH_TIMEOUT_MS must be positive")
	}
	if c.FallbackBasePrice <= 0 {
		errs = append(errs, "FALLBACK_BASE_PRICE must be positive")
	}
	if c.InitialBalance < 0 {
		errs = append(errs, "INITIAL_BALANCE must not be negative")
	}
	if c.SignalThreshold < 0 || c.SignalThreshold > 1 {
		errs = append(errs, "SIGNAL_THRESHOLD must be within [0, 1]")
	}
	if c.SignalTradeFraction <= 0 || c.SignalTradeFraction > 1 {
		errs = append(errs, "SIGNAL_TRADE_FRACTION must be within (0, 1]")
	}

	if c.FetchTimeout() < time.Duration(c.FetchTimeoutMs)*time.Millisecond {
		fmt.Printf("[WARN] FETCH_TIMEOUT_MS %d exceeds the %s ceiling; clamped\n", c.FetchTimeoutMs, MaxFetchTimeout)
	}
	if c.FetchTimeout() > c.PollInterval() {
		fmt.Println("[WARN] fetch timeout is longer than the poll interval; slow cycles will be skipped, not queued")
	}
	if c.MaxDailyTrades == 0 && c.MaxPositionSizeUSD == 0 {
		fmt.Println("[WARN] MAX_DAILY_TRADES and MAX_POSITION_SIZE_USD are both 0, no per-trade limits active")
	}
	if c.DatabaseURL == "" {
		fmt.Println("[WARN] DATABASE_URL not set, quote/trade journal disabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  %s", strings.Join(errs, "\n  "))
	}
	return nil
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// FetchTimeout returns the configured upstream timeout, clamped to MaxFetchTimeout.
func (c *Config) FetchTimeout() time.Duration {
	d := time.Duration(c.FetchTimeoutMs) * time.Millisecond
	if d > MaxFetchTimeout {
		return MaxFetchTimeout
	}
	return d
}

func (c *Config) BreakerReset() time.Duration {
	return time.Duration(c.BreakerResetSeconds) * time.Second
}

func (c *Config) JournalConnectTimeout() time.Duration {
	return time.Duration(c.JournalConnectTimeoutMs) * time.Millisecond
}

func (c *Config) SignalInterval() time.Duration {
	return time.Duration(c.SignalIntervalSeconds) * time.Second
}

func (c *Config) Print() {
	fmt.Println("=== Market Data & Paper Portfolio Configuration ===")
	if c.ConfigFile != "" {
		fmt.Printf("Config file: %s\n", c.ConfigFile)
	}
	fmt.Printf("Trading Pair: %s\n", c.TradingPair)
	fmt.Printf("Upstream: %s\n", c.UpstreamBaseURL)
	fmt.Printf("Poll Interval: %s | Fetch Timeout: %s\n", c.PollInterval(), c.FetchTimeout())
	fmt.Printf("Upstream Budget: %d req/min | Breaker: %d failures, %ds reset\n",
		c.UpstreamRatePerMinute, c.BreakerThreshold, c.BreakerResetSeconds)
	fmt.Printf("Fallback: base $%.2f, max step %.1f%%\n", c.FallbackBasePrice, c.FallbackMaxStepPct)
	fmt.Println("--------------------------------------")
	fmt.Printf("Initial Balance: $%.2f\n", c.InitialBalance)
	fmt.Printf("Max Daily Trades: %d | Max Position: $%.0f | Max Slippage: %.1f%%\n",
		c.MaxDailyTrades, c.MaxPositionSizeUSD, c.MaxSlippagePercent)
	fmt.Println("--------------------------------------")
	fmt.Printf("Auto Trading: %s\n", boolLabel(c.AutoTradingEnabled, "enabled", "disabled"))
	if c.AutoTradingEnabled {
		fmt.Printf("  Interval: %ds | Threshold: %.2f | Fraction: %.2f\n",
			c.SignalIntervalSeconds, c.SignalThreshold, c.SignalTradeFraction)
	}
	fmt.Printf("Webhook: %s\n", boolLabel(c.WebhookURL != "", "configured", "not set"))
	fmt.Printf("Journal: %s\n", boolLabel(c.DatabaseURL != "", "enabled", "disabled"))
	fmt.Println("======================================")
}

// --- helpers ---

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		v = strings.ToLower(v)
		return v == "true" || v == "1" || v == "yes"
	}
	return fallback
}

func boolLabel(cond bool, ifTrue, ifFalse string) string {
	if cond {
		return ifTrue
	}
	return ifFalse
}
