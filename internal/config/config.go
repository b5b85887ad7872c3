// Package config loads tradelab's YAML configuration and applies
// environment overrides and defaults.
package config

import (
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"tradelab/internal/domain"
	"tradelab/internal/optimizer"
)

// DefaultPath is used when TRADELAB_CONFIG is unset.
const DefaultPath = "config/tradelab.yaml"

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for tradelab.
type Config struct {
	Storage   Storage   `yaml:"storage"`
	Server    Server    `yaml:"server"`
	Alpaca    Alpaca    `yaml:"alpaca"`
	Logging   Logging   `yaml:"logging"`
	Backtest  Backtest  `yaml:"backtest"`
	Risk      Risk      `yaml:"risk"`
	Optimizer Optimizer `yaml:"optimizer"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Server holds network listener configuration.
type Server struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	GRPCPort int    `yaml:"grpc_port"`
}

// Alpaca holds credentials and endpoints for the Alpaca APIs.
type Alpaca struct {
	APIKey          string `yaml:"api_key"`
	APISecret       string `yaml:"api_secret"`
	BaseURL         string `yaml:"base_url"`
	DataURL         string `yaml:"data_url"`
	RateLimitPerMin int    `yaml:"rate_limit_per_min"`
	RateLimitBurst  int    `yaml:"rate_limit_burst"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Backtest holds defaults for fields a backtest request leaves unset.
type Backtest struct {
	Timeframe              string  `yaml:"timeframe"`
	InitialCapital         float64 `yaml:"initial_capital"`
	MaxConcurrentPositions int     `yaml:"max_concurrent_positions"`
	RiskPerTrade           float64 `yaml:"risk_per_trade"`
	SlippageRate           float64 `yaml:"slippage_rate"`
	CommissionRate         float64 `yaml:"commission_rate"`
	MaxHoldingBars         int     `yaml:"max_holding_bars"`
}

// Fill copies the configured defaults into the zero fields of c.
func (b Backtest) Fill(c domain.BacktestConfig) domain.BacktestConfig {
	if c.Timeframe == "" {
		c.Timeframe = b.Timeframe
	}
	if c.InitialCapital == 0 {
		c.InitialCapital = b.InitialCapital
	}
	if c.MaxConcurrentPositions == 0 {
		c.MaxConcurrentPositions = b.MaxConcurrentPositions
	}
	if c.RiskPerTrade == 0 {
		c.RiskPerTrade = b.RiskPerTrade
	}
	if c.SlippageRate == 0 {
		c.SlippageRate = b.SlippageRate
	}
	if c.CommissionRate == 0 {
		c.CommissionRate = b.CommissionRate
	}
	if c.MaxHoldingBars == 0 {
		c.MaxHoldingBars = b.MaxHoldingBars
	}
	return c
}

// Risk configures the adaptive risk manager.
type Risk struct {
	Limits            domain.RiskLimits `yaml:"limits"`
	HistoryWindowDays int               `yaml:"history_window_days"`
	StartingCash      float64           `yaml:"starting_cash"`
}

// Optimizer configures grid search.
type Optimizer struct {
	Workers         int               `yaml:"workers"`
	TopN            int               `yaml:"top_n"`
	DefaultSteps    int               `yaml:"default_steps"`
	MaxCombinations int               `yaml:"max_combinations"`
	Weights         optimizer.Weights `yaml:"weights"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Path returns TRADELAB_CONFIG if set, else DefaultPath.
func Path() string {
	if v := os.Getenv("TRADELAB_CONFIG"); v != "" {
		return v
	}
	return DefaultPath
}

// Load reads the YAML configuration file at the given path, applies
// environment overrides and fills defaults. A missing file is not an
// error: the result is then built from environment and defaults alone.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	case !os.IsNotExist(err):
		return nil, err
	}

	applyEnvOverrides(cfg)
	cfg.ApplyDefaults()

	return cfg, nil
}

// ApplyDefaults replaces zero values with tradelab's defaults.
func (c *Config) ApplyDefaults() {
	setString(&c.Storage.DataDir, "data")
	setString(&c.Storage.SQLitePath, "data/tradelab.db")
	setString(&c.Server.Host, "0.0.0.0")
	setInt(&c.Server.Port, 8080)
	setInt(&c.Server.GRPCPort, 9090)
	setString(&c.Alpaca.BaseURL, "https://paper-api.alpaca.markets")
	setInt(&c.Alpaca.RateLimitPerMin, 200)
	setInt(&c.Alpaca.RateLimitBurst, 10)
	setString(&c.Logging.Level, "info")
	setString(&c.Logging.Format, "json")

	setString(&c.Backtest.Timeframe, "1h")
	setFloat(&c.Backtest.InitialCapital, 10000)
	setInt(&c.Backtest.MaxConcurrentPositions, 3)
	setFloat(&c.Backtest.RiskPerTrade, 0.02)
	setInt(&c.Backtest.MaxHoldingBars, domain.DefaultMaxHoldingBars)

	def := domain.DefaultRiskLimits()
	l := &c.Risk.Limits
	setFloat(&l.MaxDailyLoss, def.MaxDailyLoss)
	setFloat(&l.MaxPositionSize, def.MaxPositionSize)
	setFloat(&l.MaxCorrelation, def.MaxCorrelation)
	setFloat(&l.MaxVolatility, def.MaxVolatility)
	setFloat(&l.MaxDrawdown, def.MaxDrawdown)
	if l.CooldownPeriod == 0 {
		l.CooldownPeriod = def.CooldownPeriod
	}
	setInt(&c.Risk.HistoryWindowDays, 30)
	setFloat(&c.Risk.StartingCash, 100000)

	setInt(&c.Optimizer.TopN, 20)
	setInt(&c.Optimizer.DefaultSteps, 5)
	setInt(&c.Optimizer.MaxCombinations, 10000)
	if c.Optimizer.Weights == (optimizer.Weights{}) {
		c.Optimizer.Weights = optimizer.DefaultWeights()
	}
}

// OptimizerOptions converts the optimizer section into optimizer.Options.
func (c *Config) OptimizerOptions() optimizer.Options {
	return optimizer.Options{
		Workers:         c.Optimizer.Workers,
		TopN:            c.Optimizer.TopN,
		DefaultSteps:    c.Optimizer.DefaultSteps,
		MaxCombinations: c.Optimizer.MaxCombinations,
		Weights:         c.Optimizer.Weights,
	}
}

func setString(p *string, v string) {
	if *p == "" {
		*p = v
	}
}

func setInt(p *int, v int) {
	if *p == 0 {
		*p = v
	}
}

func setFloat(p *float64, v float64) {
	if *p == 0 {
		*p = v
	}
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}

	if v := os.Getenv("SERVER_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = n
		}
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}
	if v := os.Getenv("ALPACA_BASE_URL"); v != "" {
		cfg.Alpaca.BaseURL = v
	}
	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	// Standard Alpaca env vars take precedence over the tradelab names.
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}
