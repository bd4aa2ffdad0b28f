package store

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

var ErrInvalidConfig = errors.New("invalid config")

type SymbolSpec struct {
	Point        float64 `yaml:"point"`
	Digits       int     `yaml:"digits"`
	VolumeMin    float64 `yaml:"volume_min"`
	VolumeMax    float64 `yaml:"volume_max"`
	VolumeStep   float64 `yaml:"volume_step"`
	TickValue    float64 `yaml:"tick_value"`
	FillingMode  int     `yaml:"filling_mode"`
	SpreadPoints float64 `yaml:"spread_points"`
	StartPrice   float64 `yaml:"start_price"`
	Volatility   float64 `yaml:"volatility"`
	Hidden       bool    `yaml:"hidden"`
}

type Config struct {
	Mode               string   `yaml:"mode"`
	Broker             string   `yaml:"broker"`
	Timezone           string   `yaml:"timezone"`
	Symbols            []string `yaml:"symbols"`
	PollSeconds        int      `yaml:"poll_seconds"`
	DataRefreshSeconds int      `yaml:"data_refresh_seconds"`
	Risk               struct {
		RiskPerTradePercent     float64 `yaml:"risk_per_trade_pct"`
		MaxDailyDrawdownPercent float64 `yaml:"max_daily_drawdown_pct"`
		MaxSpreadPoints         float64 `yaml:"max_spread_points"`
		MinFreeMarginPercent    float64 `yaml:"min_free_margin_pct"`
		MaxPositions            int     `yaml:"max_positions"`
	} `yaml:"risk"`
	Schedule struct {
		TradingStartHour   int  `yaml:"trading_start_hour"`
		TradingEndHour     int  `yaml:"trading_end_hour"`
		CloseAllAtEndOfDay bool `yaml:"close_all_at_end_of_day"`
		EODSummaryHour     int  `yaml:"eod_summary_hour"`
		EODSummaryMinute   int  `yaml:"eod_summary_minute"`
		LogRetentionDays   int  `yaml:"log_retention_days"`
	} `yaml:"schedule"`
	Strategy struct {
		ATRPeriod     int     `yaml:"atr_period"`
		ATRMultiplier float64 `yaml:"atr_multiplier"`
		EMAPeriod     int     `yaml:"ema_period"`
		RSIPeriod     int     `yaml:"rsi_period"`
		RSIOversold   float64 `yaml:"rsi_oversold"`
		RSIOverbought float64 `yaml:"rsi_overbought"`
		MinBars       int     `yaml:"min_bars"`
		Timeframe     string  `yaml:"timeframe"`
	} `yaml:"strategy"`
	Execution struct {
		MaxAttempts    int `yaml:"max_attempts"`
		RequoteDelayMs int `yaml:"requote_delay_ms"`
		Deviation      int `yaml:"deviation_points"`
		Magic          int `yaml:"magic"`
		ClosePacingMs  int `yaml:"close_pacing_ms"`
	} `yaml:"execution"`
	Connection struct {
		MaxAttempts          int `yaml:"max_attempts"`
		RetryDelaySeconds    int `yaml:"retry_delay_seconds"`
		ReconnectWaitSeconds int `yaml:"reconnect_wait_seconds"`
	} `yaml:"connection"`
	Loop struct {
		BreakerCooldownSeconds int `yaml:"breaker_cooldown_seconds"`
		ErrorDelaySeconds      int `yaml:"error_delay_seconds"`
	} `yaml:"loop"`
	Paper struct {
		Balance  float64               `yaml:"balance"`
		Leverage float64               `yaml:"leverage"`
		Seed     int64                 `yaml:"seed"`
		Symbols  map[string]SymbolSpec `yaml:"symbols"`
	} `yaml:"paper"`
	Kite struct {
		Exchange    string  `yaml:"exchange"`
		Product     string  `yaml:"product"`
		VolumeMax   float64 `yaml:"volume_max"`
		APIKey      string  `yaml:"-"`
		AccessToken string  `yaml:"-"`
	} `yaml:"kite"`
	Notifications struct {
		TelegramEnabled bool   `yaml:"telegram_enabled"`
		TelegramToken   string `yaml:"-"`
		TelegramChatID  int64  `yaml:"telegram_chat_id"`
	} `yaml:"notifications"`
	State struct {
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"state"`
	Metrics struct {
		ListenAddr string `yaml:"listen_addr"`
	} `yaml:"metrics"`
}

func (c *Config) Validate() error {
	if c.Mode != "PAPER" && c.Mode != "LIVE" {
		return fmt.Errorf("%w: mode '%s' must be 'PAPER' or 'LIVE'", ErrInvalidConfig, c.Mode)
	}
	if c.Broker != "PAPER" && c.Broker != "KITE" {
		return fmt.Errorf("%w: broker '%s' must be 'PAPER' or 'KITE'", ErrInvalidConfig, c.Broker)
	}
	if c.Mode == "LIVE" && c.Broker == "PAPER" {
		return fmt.Errorf("%w: LIVE mode needs a live broker", ErrInvalidConfig)
	}
	if len(c.Symbols) == 0 {
		return fmt.Errorf("%w: at least one symbol must be configured", ErrInvalidConfig)
	}
	if r := c.Risk.RiskPerTradePercent; r <= 0 || r > 5 {
		return fmt.Errorf("%w: risk.risk_per_trade_pct must be in (0, 5], got %.2f", ErrInvalidConfig, r)
	}
	if d := c.Risk.MaxDailyDrawdownPercent; d <= 0 || d > 10 {
		return fmt.Errorf("%w: risk.max_daily_drawdown_pct must be in (0, 10], got %.2f", ErrInvalidConfig, d)
	}
	if c.Risk.MaxPositions <= 0 {
		return fmt.Errorf("%w: risk.max_positions must be positive", ErrInvalidConfig)
	}
	s := c.Schedule
	if s.TradingStartHour < 0 || s.TradingStartHour > 23 || s.TradingEndHour < 0 || s.TradingEndHour > 24 {
		return fmt.Errorf("%w: trading hours must be within 0-24, got [%d, %d)", ErrInvalidConfig, s.TradingStartHour, s.TradingEndHour)
	}
	if c.Strategy.ATRMultiplier <= 0 {
		return fmt.Errorf("%w: strategy.atr_multiplier must be positive", ErrInvalidConfig)
	}
	if _, err := c.Timeframe(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("%w: timezone %q: %v", ErrInvalidConfig, c.Timezone, err)
	}
	if c.Broker == "PAPER" {
		for _, sym := range c.Symbols {
			if _, ok := c.Paper.Symbols[sym]; !ok {
				return fmt.Errorf("%w: paper.symbols has no entry for %s", ErrInvalidConfig, sym)
			}
		}
	}
	return nil
}

// Location returns the configured trading-day timezone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseConfig(b)
}

// ParseConfig decodes YAML, applies defaults and environment overrides,
// then validates.
func ParseConfig(b []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}

	c.applyDefaults()
	c.applyEnv()

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	setStr := func(v *string, d string) {
		if *v == "" {
			*v = d
		}
	}
	setInt := func(v *int, d int) {
		if *v == 0 {
			*v = d
		}
	}
	setFloat := func(v *float64, d float64) {
		if *v == 0 {
			*v = d
		}
	}

	setStr(&c.Mode, "PAPER")
	setStr(&c.Broker, "PAPER")
	setStr(&c.Timezone, "UTC")
	setInt(&c.PollSeconds, 5)
	setInt(&c.DataRefreshSeconds, 60)

	setFloat(&c.Risk.RiskPerTradePercent, 1.0)
	setFloat(&c.Risk.MaxDailyDrawdownPercent, 3.0)
	setFloat(&c.Risk.MaxSpreadPoints, 20)
	setFloat(&c.Risk.MinFreeMarginPercent, 20)
	setInt(&c.Risk.MaxPositions, 3)

	setInt(&c.Schedule.TradingEndHour, 24)
	setInt(&c.Schedule.EODSummaryHour, 23)
	setInt(&c.Schedule.EODSummaryMinute, 55)

	setInt(&c.Strategy.ATRPeriod, 14)
	setFloat(&c.Strategy.ATRMultiplier, 2.0)
	setInt(&c.Strategy.EMAPeriod, 200)
	setInt(&c.Strategy.RSIPeriod, 14)
	setFloat(&c.Strategy.RSIOversold, 30)
	setFloat(&c.Strategy.RSIOverbought, 70)
	setInt(&c.Strategy.MinBars, 200)
	setStr(&c.Strategy.Timeframe, "1h")

	setInt(&c.Execution.MaxAttempts, 3)
	setInt(&c.Execution.RequoteDelayMs, 500)
	setInt(&c.Execution.Deviation, 10)
	setInt(&c.Execution.Magic, 234000)
	setInt(&c.Execution.ClosePacingMs, 500)

	setInt(&c.Connection.MaxAttempts, 3)
	setInt(&c.Connection.RetryDelaySeconds, 5)
	setInt(&c.Connection.ReconnectWaitSeconds, 30)

	setInt(&c.Loop.BreakerCooldownSeconds, 300)
	setInt(&c.Loop.ErrorDelaySeconds, 10)

	setFloat(&c.Paper.Balance, 10000)
	setFloat(&c.Paper.Leverage, 100)

	setStr(&c.Kite.Exchange, "NSE")
	setStr(&c.Kite.Product, "MIS")
	setFloat(&c.Kite.VolumeMax, 1000)

	setStr(&c.State.SQLitePath, "state/risk.db")
}

// applyEnv pulls credentials from the environment; they never live in YAML.
func (c *Config) applyEnv() {
	c.Kite.APIKey = os.Getenv("KITE_API_KEY")
	c.Kite.AccessToken = os.Getenv("KITE_ACCESS_TOKEN")
	c.Notifications.TelegramToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Notifications.TelegramChatID = id
		}
	}
	if v := os.Getenv("TRADER_MODE"); v != "" {
		c.Mode = v
	}
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollSeconds) * time.Second
}

// Timeframe parses strategy.timeframe; "1d" is accepted besides Go durations.
func (c *Config) Timeframe() (time.Duration, error) {
	if c.Strategy.Timeframe == "1d" {
		return 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(c.Strategy.Timeframe)
	if err != nil || d < time.Minute {
		return 0, fmt.Errorf("strategy.timeframe %q must be a duration of at least 1m", c.Strategy.Timeframe)
	}
	return d, nil
}

func (c *Config) DataRefreshInterval() time.Duration {
	return time.Duration(c.DataRefreshSeconds) * time.Second
}
