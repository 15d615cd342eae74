package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"crosswatch/internal/logging"
)

// Config materialises application configuration. One instance is built at
// startup and injected into every component constructor; nothing reads
// ambient global state.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Exchange  ExchangeConfig  `mapstructure:"exchange"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Universe  UniverseConfig  `mapstructure:"universe"`
	Strategy  StrategyConfig  `mapstructure:"strategy"`
	Exits     ExitsConfig     `mapstructure:"exits"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
	Scan      ScanConfig      `mapstructure:"scan"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// SchedulerConfig governs scan cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// ExchangeConfig covers the market data endpoint.
type ExchangeConfig struct {
	BaseURL          string        `mapstructure:"base_url"`
	AlternateURLs    []string      `mapstructure:"alternate_urls"`
	PreferAlternates bool          `mapstructure:"prefer_alternates"`
	ProxyURL         string        `mapstructure:"proxy_url"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
	UserAgent        string        `mapstructure:"user_agent"`
	TickerTTL        time.Duration `mapstructure:"ticker_ttl"`
	CandleTTL        time.Duration `mapstructure:"candle_ttl"`
}

// RateLimitConfig bounds outbound call volume.
type RateLimitConfig struct {
	MinInterval time.Duration `mapstructure:"min_interval"`
	Window      time.Duration `mapstructure:"window"`
	Budget      int           `mapstructure:"budget"`
}

// UniverseConfig filters the ticker snapshot into scan candidates.
type UniverseConfig struct {
	QuoteWhitelist  []string `mapstructure:"quote_whitelist"`
	QuoteSuffix     string   `mapstructure:"quote_suffix"`
	MinQuoteVolume  float64  `mapstructure:"min_quote_volume"`
	MinAbsChangePct float64  `mapstructure:"min_abs_change_pct"`
	MaxSymbols      int      `mapstructure:"max_symbols"`
	Fallback        []string `mapstructure:"fallback"`
}

// StrategyConfig holds the detector thresholds.
type StrategyConfig struct {
	Interval        string  `mapstructure:"interval"`
	CandleLimit     int     `mapstructure:"candle_limit"`
	FastWindow      int     `mapstructure:"fast_window"`
	SlowWindow      int     `mapstructure:"slow_window"`
	CrossLookback   int     `mapstructure:"cross_lookback"`
	RSIPeriod       int     `mapstructure:"rsi_period"`
	ATRPeriod       int     `mapstructure:"atr_period"`
	MinATRPct       float64 `mapstructure:"min_atr_pct"`
	RSIMin          float64 `mapstructure:"rsi_min"`
	RSIMax          float64 `mapstructure:"rsi_max"`
	MinSpreadBps    float64 `mapstructure:"min_spread_bps"`
	MinSlopeBps     float64 `mapstructure:"min_slope_bps"`
	AllowShorts     bool    `mapstructure:"allow_shorts"`
	ConfirmHTFTrend bool    `mapstructure:"confirm_htf_trend"`
	ConfirmMomentum bool    `mapstructure:"confirm_momentum"`
	MomentumBars    int     `mapstructure:"momentum_bars"`
	MomentumEMASpan int     `mapstructure:"momentum_ema_span"`
}

// ExitsConfig sets take-profit / stop-loss sizing.
type ExitsConfig struct {
	Mode         string  `mapstructure:"mode"`
	TPPct        float64 `mapstructure:"tp_pct"`
	SLPct        float64 `mapstructure:"sl_pct"`
	TPATRMult    float64 `mapstructure:"tp_atr_mult"`
	SLATRMult    float64 `mapstructure:"sl_atr_mult"`
	OCOBufferPct float64 `mapstructure:"oco_buffer_pct"`
}

// LedgerConfig governs settlement.
type LedgerConfig struct {
	SettleInterval string        `mapstructure:"settle_interval"`
	MaxHold        time.Duration `mapstructure:"max_hold"`
	TieBreak       string        `mapstructure:"tie_break"`
	RangeLimit     int           `mapstructure:"range_limit"`
}

// ScanConfig tunes one scan pass.
type ScanConfig struct {
	Workers           int  `mapstructure:"workers"`
	VerboseRejections bool `mapstructure:"verbose_rejections"`
}

// AlertingConfig defines trade alert routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig holds Telegram bot credentials.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CROSSWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "crosswatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.interval", "5m")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x63726f73))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("exchange.base_url", "https://api.binance.com")
	v.SetDefault("exchange.prefer_alternates", false)
	v.SetDefault("exchange.request_timeout", "10s")
	v.SetDefault("exchange.user_agent", "crosswatch/1.0")
	v.SetDefault("exchange.ticker_ttl", "2m")
	v.SetDefault("exchange.candle_ttl", "30s")

	v.SetDefault("rate_limit.min_interval", "150ms")
	v.SetDefault("rate_limit.window", "1m")
	v.SetDefault("rate_limit.budget", 600)

	v.SetDefault("universe.quote_suffix", "USDC")
	v.SetDefault("universe.min_quote_volume", 100000.0)
	v.SetDefault("universe.min_abs_change_pct", 0.0)
	v.SetDefault("universe.max_symbols", 40)
	v.SetDefault("universe.fallback", []string{"BTCUSDC", "ETHUSDC"})

	v.SetDefault("strategy.interval", "5m")
	v.SetDefault("strategy.candle_limit", 400)
	v.SetDefault("strategy.fast_window", 20)
	v.SetDefault("strategy.slow_window", 200)
	v.SetDefault("strategy.cross_lookback", 3)
	v.SetDefault("strategy.rsi_period", 14)
	v.SetDefault("strategy.atr_period", 14)
	v.SetDefault("strategy.min_atr_pct", 0.5)
	v.SetDefault("strategy.rsi_min", 45.0)
	v.SetDefault("strategy.rsi_max", 70.0)
	v.SetDefault("strategy.min_spread_bps", 10.0)
	v.SetDefault("strategy.min_slope_bps", 2.0)
	v.SetDefault("strategy.allow_shorts", false)
	v.SetDefault("strategy.confirm_htf_trend", false)
	v.SetDefault("strategy.confirm_momentum", false)
	v.SetDefault("strategy.momentum_bars", 3)
	v.SetDefault("strategy.momentum_ema_span", 9)

	v.SetDefault("exits.mode", "atr")
	v.SetDefault("exits.tp_pct", 1.5)
	v.SetDefault("exits.sl_pct", 1.0)
	v.SetDefault("exits.tp_atr_mult", 2.0)
	v.SetDefault("exits.sl_atr_mult", 1.5)
	v.SetDefault("exits.oco_buffer_pct", 0.1)

	v.SetDefault("ledger.settle_interval", "5m")
	v.SetDefault("ledger.max_hold", "48h")
	v.SetDefault("ledger.tie_break", "sl_first")
	v.SetDefault("ledger.range_limit", 1000)

	v.SetDefault("scan.workers", 4)
	v.SetDefault("scan.verbose_rejections", false)

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Strategy.FastWindow <= 0 || c.Strategy.SlowWindow <= 0 {
		return fmt.Errorf("strategy windows must be greater than zero")
	}
	if c.Strategy.FastWindow >= c.Strategy.SlowWindow {
		return fmt.Errorf("strategy.fast_window must be smaller than strategy.slow_window")
	}
	if c.Strategy.RSIMin >= c.Strategy.RSIMax {
		return fmt.Errorf("strategy.rsi_min must be below strategy.rsi_max")
	}
	if c.Exits.TPPct <= 0 || c.Exits.SLPct <= 0 {
		// The percentage legs are floors even in ATR mode: with a zero
		// floor a flat series collapses SL and TP onto the entry.
		return fmt.Errorf("exit percentage floors must be greater than zero")
	}
	switch c.Ledger.TieBreak {
	case "sl_first", "tp_first":
	default:
		return fmt.Errorf("ledger.tie_break must be sl_first or tp_first")
	}
	if c.Scan.Workers <= 0 {
		return fmt.Errorf("scan.workers must be greater than zero")
	}
	if c.RateLimit.Budget <= 0 {
		return fmt.Errorf("rate_limit.budget must be greater than zero")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required when telegram is enabled")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required when telegram is enabled")
		}
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
