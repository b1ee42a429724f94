package config

import (
	"fmt"
	"strings"
	"time"

	goValidator "github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Log        Logger     `mapstructure:"logger"`
	DB         Database   `mapstructure:"database"`
	Backtest   Backtest   `mapstructure:"backtest"`
	Scorer     Scorer     `mapstructure:"scorer"`
	MarketData MarketData `mapstructure:"market_data"`
	Gemini     Gemini     `mapstructure:"gemini"`
	Cache      Cache      `mapstructure:"cache"`
	Sweep      Sweep      `mapstructure:"sweep"`
	Scheduler  Scheduler  `mapstructure:"scheduler"`
}

type Logger struct {
	Level    string `mapstructure:"level"`
	Encoding string `mapstructure:"encoding"`
}

type Database struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	DBName          string `mapstructure:"name"`
	SSLMode         string `mapstructure:"ssl_mode"`
	TimeZone        string `mapstructure:"time_zone"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	ConnMaxLifetime string `mapstructure:"conn_max_lifetime"`
	LogLevel        string `mapstructure:"log_level"`
}

// Backtest holds the simulation parameters. Zero or negative risk values are
// rejected before any run starts.
type Backtest struct {
	InitialEquity          float64   `mapstructure:"initial_equity" validate:"gt=0"`
	RiskPerTradePct        float64   `mapstructure:"risk_per_trade_pct" validate:"gt=0,lte=1"`
	SlippagePct            float64   `mapstructure:"slippage_pct" validate:"gte=0,lt=1"`
	CommissionPct          float64   `mapstructure:"commission_pct" validate:"gte=0,lt=1"`
	MaxConcurrentPositions int       `mapstructure:"max_concurrent_positions" validate:"min=1"`
	DailyLossLimitPct      float64   `mapstructure:"daily_loss_limit_pct" validate:"gt=0,lte=1"`
	PartialExitFraction    float64   `mapstructure:"partial_exit_fraction" validate:"gt=0,lte=1"`
	MoveStopToBreakeven    bool      `mapstructure:"move_stop_to_breakeven"`
	TakeProfitRMultiples   []float64 `mapstructure:"take_profit_r_multiples" validate:"min=1,dive,gt=0"`
	ProgressEverySteps     int       `mapstructure:"progress_every_steps" validate:"min=1"`
}

type Scorer struct {
	MinConfluenceScore         float64 `mapstructure:"min_confluence_score" validate:"gte=0,lte=1"`
	MinSignalStrength          float64 `mapstructure:"min_signal_strength" validate:"gte=0,lte=1"`
	RequireHigherTimeframeBias bool    `mapstructure:"require_higher_timeframe_bias"`
	VolatilityBufferFrac       float64 `mapstructure:"volatility_buffer_frac" validate:"gte=0"`
	ATRWindow                  int     `mapstructure:"atr_window" validate:"min=1"`
}

type MarketData struct {
	BaseURL          string        `mapstructure:"base_url"`
	APIToken         string        `mapstructure:"api_token"`
	Timeout          time.Duration `mapstructure:"timeout"`
	MaxRequestPerMin int           `mapstructure:"max_request_per_min" validate:"min=1"`
	CacheDuration    time.Duration `mapstructure:"cache_duration"`
}

type Gemini struct {
	Enabled             bool          `mapstructure:"enabled"`
	APIKey              string        `mapstructure:"api_key"`
	BaseURL             string        `mapstructure:"base_url"`
	BaseModel           string        `mapstructure:"base_model"`
	Timeout             time.Duration `mapstructure:"timeout"`
	MaxRequestPerMinute int           `mapstructure:"max_request_per_minute" validate:"min=1"`
	MaxTokenPerMinute   int           `mapstructure:"max_token_per_minute" validate:"min=1"`
}

type Cache struct {
	DefaultExpiration time.Duration `mapstructure:"default_expiration"`
	CleanupInterval   time.Duration `mapstructure:"cleanup_interval"`
}

type Sweep struct {
	MaxConcurrency int `mapstructure:"max_concurrency" validate:"min=1"`
}

type Scheduler struct {
	Jobs []ScheduledJob `mapstructure:"jobs" validate:"dive"`
}

// ScheduledJob re-runs a backtest on a cron schedule over a trailing window
// of historical data.
type ScheduledJob struct {
	Name            string   `mapstructure:"name" validate:"required"`
	Cron            string   `mapstructure:"cron" validate:"required"`
	Asset           string   `mapstructure:"asset" validate:"required"`
	Timeframes      []string `mapstructure:"timeframes" validate:"min=1"`
	HigherTimeframe string   `mapstructure:"higher_timeframe" validate:"required"`
	EntryTimeframe  string   `mapstructure:"entry_timeframe" validate:"required"`
	LookbackDays    int      `mapstructure:"lookback_days" validate:"min=1"`
	CandleSource    string   `mapstructure:"candle_source"`
}

func Load() (*Config, error) {
	// Local development convenience; missing .env is fine.
	_ = godotenv.Load()

	viper.SetConfigType("yaml")
	viper.SetConfigName("config")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AddConfigPath(".")
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		fmt.Println("No config file loaded:", err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate fails fast on configuration errors so a run never starts with
// unusable parameters.
func (c *Config) Validate() error {
	validate := goValidator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func setDefaults() {
	viper.SetDefault("logger.level", "info")
	viper.SetDefault("logger.encoding", "json")

	viper.SetDefault("backtest.initial_equity", 10000.0)
	viper.SetDefault("backtest.risk_per_trade_pct", 0.02)
	viper.SetDefault("backtest.slippage_pct", 0.001)
	viper.SetDefault("backtest.commission_pct", 0.0004)
	viper.SetDefault("backtest.max_concurrent_positions", 3)
	viper.SetDefault("backtest.daily_loss_limit_pct", 0.03)
	viper.SetDefault("backtest.partial_exit_fraction", 0.5)
	viper.SetDefault("backtest.move_stop_to_breakeven", true)
	viper.SetDefault("backtest.take_profit_r_multiples", []float64{2, 3, 5})
	viper.SetDefault("backtest.progress_every_steps", 1000)

	viper.SetDefault("scorer.min_confluence_score", 0.65)
	viper.SetDefault("scorer.min_signal_strength", 0.50)
	viper.SetDefault("scorer.require_higher_timeframe_bias", true)
	viper.SetDefault("scorer.volatility_buffer_frac", 0.5)
	viper.SetDefault("scorer.atr_window", 14)

	viper.SetDefault("market_data.timeout", 30*time.Second)
	viper.SetDefault("market_data.max_request_per_min", 60)
	viper.SetDefault("market_data.cache_duration", 5*time.Minute)

	viper.SetDefault("gemini.enabled", false)
	viper.SetDefault("gemini.base_url", "https://generativelanguage.googleapis.com/v1beta/models")
	viper.SetDefault("gemini.base_model", "gemini-2.0-flash")
	viper.SetDefault("gemini.timeout", 60*time.Second)
	viper.SetDefault("gemini.max_request_per_minute", 10)
	viper.SetDefault("gemini.max_token_per_minute", 250000)

	viper.SetDefault("cache.default_expiration", 5*time.Minute)
	viper.SetDefault("cache.cleanup_interval", 10*time.Minute)

	viper.SetDefault("sweep.max_concurrency", 4)
}
