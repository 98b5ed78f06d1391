// Package config defines all configuration for the trade bridge. Config is
// loaded from a JSON file (default: configs/config.json) with sensitive
// fields overridable via TB_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// TradingMode selects whether orders route to the paper simulator or a
// live venue gateway.
type TradingMode string

const (
	ModePaper TradingMode = "PAPER"
	ModeLive  TradingMode = "LIVE"
)

// Config is the top-level configuration. Maps directly to the JSON file
// structure described by spec.md §6.
type Config struct {
	TradingSystem TradingSystemConfig       `mapstructure:"trading_system"`
	Exchanges     map[string]ExchangeConfig `mapstructure:"exchanges"`
	Instruments   []InstrumentConfig        `mapstructure:"instruments"`
	Risk          RiskConfig                `mapstructure:"risk"`
	Logging       LoggingConfig             `mapstructure:"logging"`
	Dashboard     DashboardConfig           `mapstructure:"dashboard"`
	Store         StoreConfig               `mapstructure:"store"`
}

// TradingSystemConfig selects the runtime mode, active venue, and the
// strategy to drive the trade engine loop.
type TradingSystemConfig struct {
	TradingMode    TradingMode        `mapstructure:"trading_mode"`
	ActiveExchange string             `mapstructure:"active_exchange"`
	Strategy       StrategyConfig     `mapstructure:"strategy"`
	PaperTrading   PaperTradingConfig `mapstructure:"paper_trading"`
}

// StrategyConfig names the algorithm to run and its free-form tunables.
// The algorithm implementation itself is out of scope; parameters are
// handed through unopened.
type StrategyConfig struct {
	Type       string             `mapstructure:"type"`
	Parameters map[string]float64 `mapstructure:"parameters"`
}

// PaperTradingConfig mirrors the fill-simulation parameters from spec.md
// §4.5 exactly: fill_probability, latency bounds in milliseconds, and a
// named slippage model.
type PaperTradingConfig struct {
	FillProbability float64 `mapstructure:"fill_probability"`
	MinLatencyMs    int     `mapstructure:"min_latency_ms"`
	MaxLatencyMs    int     `mapstructure:"max_latency_ms"`
	SlippageModel   string  `mapstructure:"slippage_model"`
}

// ExchangeConfig holds one venue's credentials and instrument cache
// settings.
type ExchangeConfig struct {
	// WSURL is the venue's streaming endpoint. Not named in spec.md §6's
	// recognized sections, but required to actually dial a venue; kept
	// here rather than invented as a CLI argument since it is
	// per-exchange, static, and not a secret.
	WSURL          string         `mapstructure:"ws_url"`
	RESTBaseURL    string         `mapstructure:"rest_base_url"`
	APICredentials APICredentials `mapstructure:"api_credentials"`
	CacheConfig    CacheConfig    `mapstructure:"cache_config"`
}

// APICredentials covers both REST-key venues (ApiKey/ApiSecret) and
// TOTP-handshake venues (UserID/TOTPSecret/Password) — the auth
// collaborator that consumes these is out of scope (spec.md §1).
type APICredentials struct {
	APIKey     string `mapstructure:"api_key"`
	APISecret  string `mapstructure:"api_secret"`
	UserID     string `mapstructure:"user_id"`
	TOTPSecret string `mapstructure:"totp_secret"`
	Password   string `mapstructure:"password"`
}

// CacheConfig controls where a venue's cached instrument token list is
// persisted and how long it remains valid.
type CacheConfig struct {
	InstrumentsDir string `mapstructure:"instruments_dir"`
	TTLHours       int    `mapstructure:"ttl_hours"`
}

// InstrumentConfig describes one tradeable instrument and its per-ticker
// risk limits, per spec.md §6's instruments[] section.
type InstrumentConfig struct {
	Symbol      string `mapstructure:"symbol"`
	Exchange    string `mapstructure:"exchange"`
	TickerID    int64  `mapstructure:"ticker_id"`
	IsFutures   bool   `mapstructure:"is_futures"`
	ExpiryDate  string `mapstructure:"expiry_date"`
	Clip        int64  `mapstructure:"clip"`
	Threshold   int64  `mapstructure:"threshold"`
	MaxPosition int64  `mapstructure:"max_position"`
	MaxLoss     int64  `mapstructure:"max_loss"`
	// MaxOrderQty is not named in spec.md §6's instruments[] schema but is
	// carried by the CLI's per-instrument override tuple (clip threshold
	// max_order max_pos max_loss); defaulting to 0 (unbounded) when a
	// config file sets it directly without a CLI override.
	MaxOrderQty int64 `mapstructure:"max_order"`
}

// RiskConfig sets the portfolio-level limits the risk manager enforces
// across every instrument (spec.md §4.7).
type RiskConfig struct {
	MaxDailyLoss         int64 `mapstructure:"max_daily_loss"`
	MaxPositionValue     int64 `mapstructure:"max_position_value"`
	EnforceCircuitLimits bool  `mapstructure:"enforce_circuit_limits"`
	EnforceTradingHours  bool  `mapstructure:"enforce_trading_hours"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DashboardConfig controls the optional read-only status server.
type DashboardConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// StoreConfig sets where cached instrument/token state is persisted.
type StoreConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

// Load reads config from a JSON file with env var overrides.
// Sensitive fields use env vars: TB_API_KEY, TB_API_SECRET, TB_TOTP_SECRET,
// TB_PASSWORD — applied to the currently active exchange, since the CLI
// (spec.md §6) takes a single api_key/api_secret pair.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	v.SetEnvPrefix("TB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	active := cfg.TradingSystem.ActiveExchange
	exch, ok := cfg.Exchanges[active]
	if !ok {
		return
	}

	if key := os.Getenv("TB_API_KEY"); key != "" {
		exch.APICredentials.APIKey = key
	}
	if secret := os.Getenv("TB_API_SECRET"); secret != "" {
		exch.APICredentials.APISecret = secret
	}
	if totp := os.Getenv("TB_TOTP_SECRET"); totp != "" {
		exch.APICredentials.TOTPSecret = totp
	}
	if pass := os.Getenv("TB_PASSWORD"); pass != "" {
		exch.APICredentials.Password = pass
	}
	cfg.Exchanges[active] = exch
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	switch c.TradingSystem.TradingMode {
	case ModePaper, ModeLive, "":
	default:
		return fmt.Errorf("trading_system.trading_mode must be PAPER or LIVE")
	}
	if c.TradingSystem.ActiveExchange == "" {
		return fmt.Errorf("trading_system.active_exchange is required")
	}
	exch, ok := c.Exchanges[c.TradingSystem.ActiveExchange]
	if !ok {
		return fmt.Errorf("exchanges.%s is not configured", c.TradingSystem.ActiveExchange)
	}
	if c.TradingSystem.TradingMode == ModeLive && exch.APICredentials.APIKey == "" {
		return fmt.Errorf("exchanges.%s.api_credentials.api_key is required for LIVE trading (set TB_API_KEY)", c.TradingSystem.ActiveExchange)
	}
	if len(c.Instruments) == 0 {
		return fmt.Errorf("instruments[] must list at least one tradeable instrument")
	}
	for _, inst := range c.Instruments {
		if inst.Symbol == "" {
			return fmt.Errorf("instruments[]: symbol is required")
		}
		if inst.MaxPosition <= 0 {
			return fmt.Errorf("instruments[%s]: max_position must be > 0", inst.Symbol)
		}
		if inst.MaxLoss <= 0 {
			return fmt.Errorf("instruments[%s]: max_loss must be > 0", inst.Symbol)
		}
	}
	if c.Risk.MaxPositionValue <= 0 {
		return fmt.Errorf("risk.max_position_value must be > 0")
	}
	if c.Risk.MaxDailyLoss <= 0 {
		return fmt.Errorf("risk.max_daily_loss must be > 0")
	}
	if c.TradingSystem.PaperTrading.FillProbability < 0 || c.TradingSystem.PaperTrading.FillProbability > 1 {
		return fmt.Errorf("trading_system.paper_trading.fill_probability must be within [0,1]")
	}
	return nil
}

// PaperLatency returns the configured paper-mode latency bounds as
// time.Durations, falling back to the spec's documented defaults
// (50-200ms) when unset.
func (c *Config) PaperLatency() (min, max time.Duration) {
	pt := c.TradingSystem.PaperTrading
	if pt.MinLatencyMs <= 0 && pt.MaxLatencyMs <= 0 {
		return 50 * time.Millisecond, 200 * time.Millisecond
	}
	return time.Duration(pt.MinLatencyMs) * time.Millisecond, time.Duration(pt.MaxLatencyMs) * time.Millisecond
}

// CacheTTL returns a venue's instrument-cache TTL, defaulting to 24h per
// spec.md §6 when unset.
func (e ExchangeConfig) CacheTTL() time.Duration {
	if e.CacheConfig.TTLHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(e.CacheConfig.TTLHours) * time.Hour
}
