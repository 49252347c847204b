package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"dipsniper/internal/strategy"
)

// clearEnv blanks every variable applyEnvOverrides reads.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"DATA_DIR", "SQLITE_PATH", "ALPACA_API_KEY", "ALPACA_API_SECRET",
		"ALPACA_BASE_URL", "ALPACA_DATA_URL", "LOG_LEVEL", "INITIAL_CASH",
		"TELEGRAM_BOT_TOKEN", "TELEGRAM_CHAT_ID", "APCA_API_KEY_ID", "APCA_API_SECRET_KEY",
	} {
		t.Setenv(k, "")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dipsniper.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
storage:
  data_dir: "/tmp/dipsniper/data"
  sqlite_path: "/tmp/dipsniper/dipsniper.db"
server:
  host: "127.0.0.1"
  port: 8081
  grpc_port: 9091
alpaca:
  api_key: "test-key"
  api_secret: "test-secret"
  base_url: "https://paper-api.alpaca.markets"
  data_url: "https://data.alpaca.markets"
logging:
  level: "debug"
  format: "text"
backtest:
  initial_cash: 10000000
  start_date: "2020-01-01"
  end_date: "2024-12-31"
  workers: 4
  presets: [basic, advanced]
strategy:
  variant: advanced
  take_profit: 0.08
  proximity_band: 0.05
  rebound: candle_or_prev
  rsi_min: 30
  rsi_max: 60
trading:
  max_position_pct: 0.1
  paper_mode: true
  symbols: [AAPL, MSFT]
scan:
  top_n: 10
telegram:
  token: "bot-token"
  chat_id: "42"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	// -- Storage --
	if cfg.Storage.DataDir != "/tmp/dipsniper/data" {
		t.Errorf("Storage.DataDir = %q, want %q", cfg.Storage.DataDir, "/tmp/dipsniper/data")
	}
	if cfg.Storage.SQLitePath != "/tmp/dipsniper/dipsniper.db" {
		t.Errorf("Storage.SQLitePath = %q, want %q", cfg.Storage.SQLitePath, "/tmp/dipsniper/dipsniper.db")
	}

	// -- Server --
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 8081 || cfg.Server.GRPCPort != 9091 {
		t.Errorf("Server = %+v", cfg.Server)
	}

	// -- Alpaca --
	if cfg.Alpaca.APIKey != "test-key" {
		t.Errorf("Alpaca.APIKey = %q, want %q", cfg.Alpaca.APIKey, "test-key")
	}
	if cfg.Alpaca.APISecret != "test-secret" {
		t.Errorf("Alpaca.APISecret = %q, want %q", cfg.Alpaca.APISecret, "test-secret")
	}

	// -- Logging --
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "text" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}

	// -- Backtest --
	if cfg.Backtest.InitialCash != 10_000_000 {
		t.Errorf("Backtest.InitialCash = %v, want 1e7", cfg.Backtest.InitialCash)
	}
	if len(cfg.Backtest.Presets) != 2 || cfg.Backtest.Presets[1] != "advanced" {
		t.Errorf("Backtest.Presets = %v", cfg.Backtest.Presets)
	}
	if cfg.Backtest.MinBars != 200 {
		t.Errorf("Backtest.MinBars = %d, want default 200", cfg.Backtest.MinBars)
	}

	// -- Strategy --
	s := cfg.Strategy
	if s.Variant != strategy.Advanced || s.TakeProfit != 0.08 || s.ProximityBand != 0.05 {
		t.Errorf("Strategy = %+v", s)
	}
	if s.StopLoss != 0.03 {
		t.Errorf("Strategy.StopLoss = %v, want default 0.03", s.StopLoss)
	}
	if s.Rebound != strategy.ReboundCandleOrPrev {
		t.Errorf("Strategy.Rebound = %q", s.Rebound)
	}
	if !s.RSIBandEnabled() || *s.RSIMin != 30 || *s.RSIMax != 60 {
		t.Errorf("Strategy RSI band = %v, %v", s.RSIMin, s.RSIMax)
	}

	// -- Trading --
	if cfg.Trading.MaxPositionPct != 0.1 {
		t.Errorf("Trading.MaxPositionPct = %f, want %f", cfg.Trading.MaxPositionPct, 0.1)
	}
	if !cfg.Trading.PaperMode {
		t.Error("Trading.PaperMode = false, want true")
	}

	// -- Scan / Telegram --
	if cfg.Scan.TopN != 10 || cfg.Scan.CandidatesPath != "candidates.json" {
		t.Errorf("Scan = %+v", cfg.Scan)
	}
	if !cfg.Telegram.Enabled() {
		t.Error("Telegram.Enabled() = false, want true")
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(writeConfig(t, "{}\n"))
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.Backtest.InitialCash != 10_000_000 {
		t.Errorf("InitialCash = %v, want 1e7", cfg.Backtest.InitialCash)
	}
	if cfg.Strategy != strategy.DefaultConfig() {
		t.Errorf("Strategy = %+v, want DefaultConfig", cfg.Strategy)
	}
	if cfg.Scan.TopN != 5 || cfg.Server.Port != 8080 || cfg.Logging.Format != "json" {
		t.Errorf("defaults not applied: scan %+v server %+v logging %+v", cfg.Scan, cfg.Server, cfg.Logging)
	}
	if cfg.Telegram.Enabled() {
		t.Error("Telegram enabled without credentials")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
alpaca:
  api_key: "yaml-key"
  api_secret: "yaml-secret"
storage:
  data_dir: "/original/data"
`)

	t.Setenv("ALPACA_API_KEY", "env-key")
	t.Setenv("DATA_DIR", "/env/data")
	t.Setenv("TELEGRAM_BOT_TOKEN", "env-token")
	t.Setenv("TELEGRAM_CHAT_ID", "7")
	t.Setenv("INITIAL_CASH", "50000")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Alpaca.APIKey != "env-key" {
		t.Errorf("Alpaca.APIKey = %q, want %q (env override)", cfg.Alpaca.APIKey, "env-key")
	}
	// api_secret should remain from YAML since no env override was set.
	if cfg.Alpaca.APISecret != "yaml-secret" {
		t.Errorf("Alpaca.APISecret = %q, want %q (from YAML)", cfg.Alpaca.APISecret, "yaml-secret")
	}
	if cfg.Storage.DataDir != "/env/data" {
		t.Errorf("Storage.DataDir = %q, want %q (env override)", cfg.Storage.DataDir, "/env/data")
	}
	if cfg.Telegram.Token != "env-token" || cfg.Telegram.ChatID != "7" {
		t.Errorf("Telegram = %+v", cfg.Telegram)
	}
	if cfg.Backtest.InitialCash != 50000 {
		t.Errorf("InitialCash = %v, want 50000", cfg.Backtest.InitialCash)
	}

	// The SDK's canonical names win.
	t.Setenv("APCA_API_KEY_ID", "apca-key")
	cfg, err = Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Alpaca.APIKey != "apca-key" {
		t.Errorf("Alpaca.APIKey = %q, want %q", cfg.Alpaca.APIKey, "apca-key")
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load(missing) returned nil error")
	}
	if _, err := Load(writeConfig(t, "storage: [unterminated")); err == nil {
		t.Error("Load(bad yaml) returned nil error")
	}
}

func TestValidate(t *testing.T) {
	clearEnv(t)
	cfg := Default()
	cfg.Backtest.InitialCash = -1
	cfg.Backtest.StartDate = "01/02/2020"
	cfg.Strategy.StopLoss = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() = nil, want errors")
	}
	for _, want := range []string{"initial_cash", "backtest.start_date", "stop_loss"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Validate() error %q does not mention %s", err, want)
		}
	}
}

func TestPath(t *testing.T) {
	t.Setenv("DIPSNIPER_CONFIG", "")
	if got := Path(); got != DefaultPath {
		t.Errorf("Path() = %q, want %q", got, DefaultPath)
	}
	t.Setenv("DIPSNIPER_CONFIG", "/etc/dipsniper.yaml")
	if got := Path(); got != "/etc/dipsniper.yaml" {
		t.Errorf("Path() = %q, want /etc/dipsniper.yaml", got)
	}
}

func TestBacktestStartEnd(t *testing.T) {
	b := BacktestConfig{StartDate: "2020-01-01", EndDate: "2021-06-30"}
	start, end, err := b.StartEnd()
	if err != nil {
		t.Fatal(err)
	}
	if start.Year() != 2020 || end.Month() != 6 {
		t.Errorf("StartEnd = %v, %v", start, end)
	}
	if _, _, err := (BacktestConfig{EndDate: "bad"}).StartEnd(); err == nil {
		t.Error("StartEnd accepted a bad end date")
	}
}

func TestBacktestUniverse(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(writeConfig(t, "{}\n"))
	if err != nil {
		t.Fatal(err)
	}
	tech, err := cfg.Backtest.Universe("US_TECH")
	if err != nil {
		t.Fatalf("Universe(US_TECH): %v", err)
	}
	if len(tech) != 20 || tech[0] != "AAPL" {
		t.Errorf("us_tech = %v", tech)
	}
	tech[0] = "XXX"
	if DefaultUniverses["us_tech"][0] != "AAPL" {
		t.Error("Universe returned a list aliasing the defaults")
	}

	cfg, err = Load(writeConfig(t, "backtest:\n  universes:\n    mine: [SPY, QQQ]\n"))
	if err != nil {
		t.Fatal(err)
	}
	if got, err := cfg.Backtest.Universe("mine"); err != nil || len(got) != 2 || got[1] != "QQQ" {
		t.Errorf("Universe(mine) = %v, %v", got, err)
	}
	_, err = cfg.Backtest.Universe("us_tech")
	if err == nil || !strings.Contains(err.Error(), "have mine") {
		t.Errorf("Universe(us_tech) with custom universes = %v, want unknown", err)
	}
}
