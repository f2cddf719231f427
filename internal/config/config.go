package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Limits struct {
	MaxPositionSizePct   float64  `yaml:"max_position_size_pct"`
	MaxDailyTrades       int      `yaml:"max_daily_trades"`
	MaxDailyLossUSD      float64  `yaml:"max_daily_loss_usd"`
	MaxPortfolioLossPct  float64  `yaml:"max_portfolio_loss_pct"`
	MinCashReservePct    float64  `yaml:"min_cash_reserve_pct"`
	MaxConcentrationPct  float64  `yaml:"max_concentration_pct"`
	LargeTradeUSD        float64  `yaml:"large_trade_usd"`
	DefaultStopLossPct   float64  `yaml:"default_stop_loss_pct"`
	DefaultTakeProfitPct float64  `yaml:"default_take_profit_pct"`
	BlacklistedSymbols   []string `yaml:"blacklisted_symbols"`
}

type Overseer struct {
	PollIntervalSeconds   int     `yaml:"poll_interval_seconds"`
	HardPullDayLossPct    float64 `yaml:"hard_pull_day_loss_pct"`
	SoftPullDayLossPct    float64 `yaml:"soft_pull_day_loss_pct"`
	ConcentrationLimitPct float64 `yaml:"concentration_limit_pct"`
}

type Bots struct {
	LiveTickSeconds     int     `yaml:"live_tick_seconds"`
	PaperTickSeconds    int     `yaml:"paper_tick_seconds"`
	ResearchTickSeconds int     `yaml:"research_tick_seconds"`
	FeatureWindowDays   int     `yaml:"feature_window_days"`
	MinConfidence       float64 `yaml:"min_confidence"`
	MaxPositions        int     `yaml:"max_positions"`
	PromotionMarginPct  float64 `yaml:"promotion_margin_pct"`
}

type Audit struct {
	MaxEntries int    `yaml:"max_entries"`
	LogPath    string `yaml:"log_path"`
	SessionID  string `yaml:"session_id"`
}

type Execution struct {
	OutboxPath       string  `yaml:"outbox_path"`
	OrdersPerSecond  float64 `yaml:"orders_per_second"`
	SlippageBps      int     `yaml:"slippage_bps"`
	LatencyMsMin     int     `yaml:"latency_ms_min"`
	LatencyMsMax     int     `yaml:"latency_ms_max"`
	DedupeWindowSecs int     `yaml:"dedupe_window_seconds"`
}

type Alerts struct {
	WebhookURL     string `yaml:"webhook_url"`
	QueueSize      int    `yaml:"queue_size"`
	MaxRetries     int    `yaml:"max_retries"`
	BackoffBaseMs  int    `yaml:"backoff_base_ms"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type Store struct {
	Driver   string `yaml:"driver"` // file | postgres
	FilePath string `yaml:"file_path"`
	DSN      string `yaml:"dsn"`
}

type Root struct {
	LogLevel  string    `yaml:"log_level"`
	Limits    Limits    `yaml:"limits"`
	Overseer  Overseer  `yaml:"overseer"`
	Bots      Bots      `yaml:"bots"`
	Audit     Audit     `yaml:"audit"`
	Execution Execution `yaml:"execution"`
	Alerts    Alerts    `yaml:"alerts"`
	Store     Store     `yaml:"store"`
}

// Load reads the YAML config, fills defaults in code, and overlays secrets
// from the environment (.env is loaded if present).
func Load(path string) (Root, error) {
	_ = godotenv.Load()

	var c Root
	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, err
	}
	c.applyDefaults()
	c.applyEnv()
	if err := c.validate(); err != nil {
		return c, err
	}
	return c, nil
}

// Default returns a config with every default filled, for tests and demos.
func Default() Root {
	var c Root
	c.applyDefaults()
	return c
}

func (c *Root) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	if c.Limits.MaxPositionSizePct == 0 {
		c.Limits.MaxPositionSizePct = 10
	}
	if c.Limits.MaxDailyTrades == 0 {
		c.Limits.MaxDailyTrades = 20
	}
	if c.Limits.MaxDailyLossUSD == 0 {
		c.Limits.MaxDailyLossUSD = 2000
	}
	if c.Limits.MaxPortfolioLossPct == 0 {
		c.Limits.MaxPortfolioLossPct = 20
	}
	if c.Limits.MinCashReservePct == 0 {
		c.Limits.MinCashReservePct = 10
	}
	if c.Limits.MaxConcentrationPct == 0 {
		c.Limits.MaxConcentrationPct = 25
	}
	if c.Limits.LargeTradeUSD == 0 {
		c.Limits.LargeTradeUSD = 10000
	}
	if c.Limits.DefaultStopLossPct == 0 {
		c.Limits.DefaultStopLossPct = 5
	}
	if c.Limits.DefaultTakeProfitPct == 0 {
		c.Limits.DefaultTakeProfitPct = 10
	}

	if c.Overseer.PollIntervalSeconds == 0 {
		c.Overseer.PollIntervalSeconds = 5
	}
	if c.Overseer.HardPullDayLossPct == 0 {
		c.Overseer.HardPullDayLossPct = 20
	}
	if c.Overseer.SoftPullDayLossPct == 0 {
		c.Overseer.SoftPullDayLossPct = 10
	}
	if c.Overseer.ConcentrationLimitPct == 0 {
		c.Overseer.ConcentrationLimitPct = 40
	}

	if c.Bots.LiveTickSeconds == 0 {
		c.Bots.LiveTickSeconds = 30
	}
	if c.Bots.PaperTickSeconds == 0 {
		c.Bots.PaperTickSeconds = 60
	}
	if c.Bots.ResearchTickSeconds == 0 {
		c.Bots.ResearchTickSeconds = 300
	}
	if c.Bots.FeatureWindowDays == 0 {
		c.Bots.FeatureWindowDays = 10
	}
	if c.Bots.MinConfidence == 0 {
		c.Bots.MinConfidence = 0.65
	}
	if c.Bots.MaxPositions == 0 {
		c.Bots.MaxPositions = 5
	}
	if c.Bots.PromotionMarginPct == 0 {
		c.Bots.PromotionMarginPct = 5
	}

	if c.Audit.MaxEntries == 0 {
		c.Audit.MaxEntries = 10000
	}
	if c.Audit.LogPath == "" {
		c.Audit.LogPath = "data/audit.jsonl"
	}
	if c.Audit.SessionID == "" {
		c.Audit.SessionID = fmt.Sprintf("session-%s", time.Now().UTC().Format("20060102-150405"))
	}

	if c.Execution.OutboxPath == "" {
		c.Execution.OutboxPath = "data/outbox.jsonl"
	}
	if c.Execution.OrdersPerSecond == 0 {
		c.Execution.OrdersPerSecond = 2
	}
	if c.Execution.SlippageBps == 0 {
		c.Execution.SlippageBps = 3
	}
	if c.Execution.LatencyMsMin == 0 {
		c.Execution.LatencyMsMin = 50
	}
	if c.Execution.LatencyMsMax == 0 {
		c.Execution.LatencyMsMax = 500
	}
	if c.Execution.DedupeWindowSecs == 0 {
		c.Execution.DedupeWindowSecs = 90
	}

	if c.Alerts.QueueSize == 0 {
		c.Alerts.QueueSize = 256
	}
	if c.Alerts.MaxRetries == 0 {
		c.Alerts.MaxRetries = 3
	}
	if c.Alerts.BackoffBaseMs == 0 {
		c.Alerts.BackoffBaseMs = 200
	}
	if c.Alerts.TimeoutSeconds == 0 {
		c.Alerts.TimeoutSeconds = 10
	}

	if c.Store.Driver == "" {
		c.Store.Driver = "file"
	}
	if c.Store.FilePath == "" {
		c.Store.FilePath = "data/bots.json"
	}
}

func (c *Root) applyEnv() {
	if v := os.Getenv("GOVERNOR_ALERT_WEBHOOK_URL"); v != "" {
		c.Alerts.WebhookURL = v
	}
	if v := os.Getenv("GOVERNOR_STORE_DSN"); v != "" {
		c.Store.DSN = v
	}
}

func (c *Root) validate() error {
	switch c.Store.Driver {
	case "file", "postgres":
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Store.Driver == "postgres" && c.Store.DSN == "" {
		return fmt.Errorf("store driver postgres requires a DSN (GOVERNOR_STORE_DSN)")
	}
	if c.Limits.MinCashReservePct < 0 || c.Limits.MinCashReservePct > 100 {
		return fmt.Errorf("min_cash_reserve_pct out of range: %v", c.Limits.MinCashReservePct)
	}
	return nil
}
