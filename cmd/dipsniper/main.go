// dipsniper backtests the buy-the-dip-in-an-uptrend strategy on stored daily
// bars, screens for fresh candidates and compares presets across symbols.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"dipsniper/internal/backtest"
	"dipsniper/internal/config"
	"dipsniper/internal/store"
	"dipsniper/internal/strategy/builtins"
	"dipsniper/internal/tradeparams"
	"dipsniper/internal/util"
)

var (
	version    = "0.1.0"
	configPath string
	logLevel   string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "dipsniper",
		Short:         "Backtest and screen dips in uptrends",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.Path(), "path to dipsniper.yaml")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level")

	rootCmd.AddCommand(backtestCmd())
	rootCmd.AddCommand(batchCmd())
	rootCmd.AddCommand(scanCmd())
	rootCmd.AddCommand(presetsCmd())
	rootCmd.AddCommand(versionCmd())

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dipsniper version %s\n", version)
		},
	}
}

// loadConfig reads the config file, falling back to defaults when the file
// does not exist, and installs the logger.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if errors.Is(err, fs.ErrNotExist) {
		cfg, err = config.Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	util.SetDefault(util.NewLogger(cfg.Logging.Level, "text"))
	return cfg, nil
}

// app bundles the stores a command needs.
type app struct {
	cfg    *config.Config
	bars   *store.ParquetStore
	db     *store.SQLiteStore
	params *tradeparams.Store
	bt     *backtest.Backtester
}

func openApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Storage.SQLitePath), 0o755); err != nil {
		return nil, err
	}
	db, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", cfg.Storage.SQLitePath, err)
	}
	bars := store.NewParquetStore(cfg.Storage.DataDir)
	params := tradeparams.NewStore(cfg.Storage.ParamsPath)
	bt := backtest.NewBacktester(bars, builtins.NewRegistry(cfg.Strategy),
		backtest.WithRunStore(db),
		backtest.WithLedgerExport(bars),
		backtest.WithOverrides(params),
	)
	return &app{cfg: cfg, bars: bars, db: db, params: params, bt: bt}, nil
}

func (a *app) Close() error { return a.db.Close() }
