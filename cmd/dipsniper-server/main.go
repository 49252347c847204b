package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"dipsniper/internal/api"
	"dipsniper/internal/backtest"
	"dipsniper/internal/config"
	"dipsniper/internal/store"
	"dipsniper/internal/strategy/builtins"
	"dipsniper/internal/tradeparams"
	"dipsniper/internal/util"
)

func main() {
	cfg, err := config.Load(config.Path())
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	util.SetDefault(util.NewLogger(cfg.Logging.Level, cfg.Logging.Format))

	if err := os.MkdirAll(filepath.Dir(cfg.Storage.SQLitePath), 0o755); err != nil {
		log.Fatalf("creating storage dir: %v", err)
	}
	db, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("opening sqlite: %v", err)
	}
	defer db.Close()

	bars := store.NewParquetStore(cfg.Storage.DataDir)
	params := tradeparams.NewStore(cfg.Storage.ParamsPath)
	bt := backtest.NewBacktester(bars, builtins.NewRegistry(cfg.Strategy),
		backtest.WithRunStore(db),
		backtest.WithLedgerExport(bars),
		backtest.WithOverrides(params),
	)

	srv := api.NewServer(bt, db, params, api.Options{
		HTTPAddr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		GRPCAddr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.GRPCPort),
		Market:      cfg.Backtest.Market,
		InitialCash: cfg.Backtest.InitialCash,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("dipsniper-server starting", "dataDir", cfg.Storage.DataDir, "presets", bt.Presets())
	if err := srv.ListenAndServe(ctx); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}
