package config

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"dipsniper/internal/strategy"
)

// DefaultPath is used when DIPSNIPER_CONFIG is unset.
const DefaultPath = "config/dipsniper.yaml"

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for dipsniper.
type Config struct {
	Storage  Storage         `yaml:"storage"`
	Server   Server          `yaml:"server"`
	Alpaca   Alpaca          `yaml:"alpaca"`
	Logging  Logging         `yaml:"logging"`
	Gather   GatherConfig    `yaml:"gather"`
	Backtest BacktestConfig  `yaml:"backtest"`
	Strategy strategy.Config `yaml:"strategy"`
	Trading  TradingConfig   `yaml:"trading"`
	Scan     ScanConfig      `yaml:"scan"`
	Telegram Telegram        `yaml:"telegram"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
	ParamsPath string `yaml:"params_path"`
}

// Server holds network listener configuration.
type Server struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	GRPCPort int    `yaml:"grpc_port"`
}

// Alpaca holds credentials and endpoints for the Alpaca broker API.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	BaseURL   string `yaml:"base_url"`
	DataURL   string `yaml:"data_url"`
	Feed      string `yaml:"feed"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// GatherConfig controls the daily bar download.
type GatherConfig struct {
	StartDate       string   `yaml:"start_date"`
	Symbols         []string `yaml:"symbols"`
	MaxWorkers      int      `yaml:"max_workers"`
	RateLimitPerMin int      `yaml:"rate_limit_per_min"`
	MaxRetries      int      `yaml:"max_retries"`
}

// BacktestConfig sets the defaults of backtest and batch runs.
type BacktestConfig struct {
	InitialCash float64  `yaml:"initial_cash"`
	Market      string   `yaml:"market"`
	StartDate   string   `yaml:"start_date"`
	EndDate     string   `yaml:"end_date"`
	Workers     int      `yaml:"workers"`
	MinBars     int      `yaml:"min_bars"`
	Presets     []string `yaml:"presets"`
	ExportDir   string   `yaml:"export_dir"`
	// Universes names symbol lists for batch --universe.
	Universes map[string][]string `yaml:"universes"`
}

// DefaultUniverses are used when backtest.universes is empty.
var DefaultUniverses = map[string][]string{
	"us_tech": {
		"AAPL", "MSFT", "NVDA", "GOOGL", "AMZN", "META", "TSLA", "AVGO", "TSM", "LLY",
		"JPM", "V", "UNH", "WMT", "MA", "XOM", "JNJ", "PG", "HD", "COST",
	},
	"us_leverage": {
		"TQQQ", "SQQQ", "SOXL", "SOXS", "TSLL", "TSLS", "NVDL", "FNGU", "FNGD", "LABU", "LABD",
	},
}

// TradingConfig defines risk and execution parameters of the live trader.
type TradingConfig struct {
	MaxPositionPct float64  `yaml:"max_position_pct"`
	PaperMode      bool     `yaml:"paper_mode"`
	Preset         string   `yaml:"preset"`
	Symbols        []string `yaml:"symbols"`
	LookbackDays   int      `yaml:"lookback_days"`
}

// ScanConfig controls the candidate screener.
type ScanConfig struct {
	TopN           int      `yaml:"top_n"`
	LookbackDays   int      `yaml:"lookback_days"`
	CandidatesPath string   `yaml:"candidates_path"`
	Include        []string `yaml:"include"`
	Exclude        []string `yaml:"exclude"`
}

// Telegram holds bot credentials for run reports.
type Telegram struct {
	Token   string `yaml:"token"`
	ChatID  string `yaml:"chat_id"`
	BaseURL string `yaml:"base_url"`
}

// Enabled reports whether both token and chat ID are set.
func (t Telegram) Enabled() bool { return t.Token != "" && t.ChatID != "" }

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Path returns the config path from DIPSNIPER_CONFIG or DefaultPath.
func Path() string {
	if p := os.Getenv("DIPSNIPER_CONFIG"); p != "" {
		return p
	}
	return DefaultPath
}

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, fills defaults and then applies environment variable
// overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	return cfg, nil
}

// Default returns a configuration with every default applied and env
// overrides honoured, for runs without a config file.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	applyEnvOverrides(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "data"
	}
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = "data/dipsniper.db"
	}
	if cfg.Storage.ParamsPath == "" {
		cfg.Storage.ParamsPath = "data/trade-params.json"
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.GRPCPort == 0 {
		cfg.Server.GRPCPort = 9090
	}
	if cfg.Alpaca.BaseURL == "" {
		cfg.Alpaca.BaseURL = "https://paper-api.alpaca.markets"
	}
	if cfg.Alpaca.Feed == "" {
		cfg.Alpaca.Feed = "iex"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Gather.StartDate == "" {
		cfg.Gather.StartDate = "2016-01-01"
	}
	if cfg.Gather.MaxWorkers == 0 {
		cfg.Gather.MaxWorkers = 4
	}
	if cfg.Gather.RateLimitPerMin == 0 {
		cfg.Gather.RateLimitPerMin = 180
	}
	if cfg.Gather.MaxRetries == 0 {
		cfg.Gather.MaxRetries = 3
	}
	if cfg.Backtest.InitialCash == 0 {
		cfg.Backtest.InitialCash = 10_000_000
	}
	if cfg.Backtest.Market == "" {
		cfg.Backtest.Market = "us"
	}
	if cfg.Backtest.Workers == 0 {
		cfg.Backtest.Workers = 8
	}
	if cfg.Backtest.MinBars == 0 {
		cfg.Backtest.MinBars = 200
	}
	if cfg.Backtest.ExportDir == "" {
		cfg.Backtest.ExportDir = "results"
	}
	if len(cfg.Backtest.Universes) == 0 {
		cfg.Backtest.Universes = maps.Clone(DefaultUniverses)
	}
	cfg.Strategy = cfg.Strategy.WithDefaults()
	if cfg.Trading.MaxPositionPct == 0 {
		cfg.Trading.MaxPositionPct = 1
	}
	if cfg.Trading.LookbackDays == 0 {
		cfg.Trading.LookbackDays = 180
	}
	if cfg.Scan.TopN == 0 {
		cfg.Scan.TopN = 5
	}
	if cfg.Scan.LookbackDays == 0 {
		cfg.Scan.LookbackDays = 180
	}
	if cfg.Scan.CandidatesPath == "" {
		cfg.Scan.CandidatesPath = "candidates.json"
	}
	if cfg.Telegram.BaseURL == "" {
		cfg.Telegram.BaseURL = "https://api.telegram.org"
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

	if v := os.Getenv("INITIAL_CASH"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Backtest.InitialCash = f
		}
	}

	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		cfg.Telegram.ChatID = v
	}

	// The SDK's own variable names win over everything else.
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}

// Validate rejects configurations no run could use.
func (c *Config) Validate() error {
	var errs []error
	if c.Backtest.InitialCash <= 0 {
		errs = append(errs, fmt.Errorf("backtest.initial_cash must be > 0, got %v", c.Backtest.InitialCash))
	}
	for _, d := range []struct{ name, v string }{
		{"backtest.start_date", c.Backtest.StartDate},
		{"backtest.end_date", c.Backtest.EndDate},
		{"gather.start_date", c.Gather.StartDate},
	} {
		if d.v == "" {
			continue
		}
		if _, err := time.Parse("2006-01-02", d.v); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", d.name, err))
		}
	}
	if c.Trading.MaxPositionPct <= 0 || c.Trading.MaxPositionPct > 1 {
		errs = append(errs, fmt.Errorf("trading.max_position_pct must be in (0, 1], got %v", c.Trading.MaxPositionPct))
	}
	if err := c.Strategy.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("strategy: %w", err))
	}
	return errors.Join(errs...)
}

// StartEnd parses the backtest date range. A missing start means the
// beginning of the data, a missing end means today.
func (b BacktestConfig) StartEnd() (time.Time, time.Time, error) {
	var start, end time.Time
	var err error
	if b.StartDate != "" {
		if start, err = time.Parse("2006-01-02", b.StartDate); err != nil {
			return start, end, fmt.Errorf("parsing start date %q: %w", b.StartDate, err)
		}
	}
	if b.EndDate != "" {
		if end, err = time.Parse("2006-01-02", b.EndDate); err != nil {
			return start, end, fmt.Errorf("parsing end date %q: %w", b.EndDate, err)
		}
	} else {
		end = time.Now().UTC()
	}
	return start, end, nil
}

// Universe returns the symbols of the named universe.
func (b BacktestConfig) Universe(name string) ([]string, error) {
	for k, syms := range b.Universes {
		if strings.EqualFold(k, name) && len(syms) > 0 {
			return slices.Clone(syms), nil
		}
	}
	names := slices.Sorted(maps.Keys(b.Universes))
	return nil, fmt.Errorf("unknown universe %q (have %s)", name, strings.Join(names, ", "))
}
