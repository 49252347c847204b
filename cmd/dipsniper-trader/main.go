package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"dipsniper/internal/broker"
	"dipsniper/internal/config"
	"dipsniper/internal/domain"
	"dipsniper/internal/notify"
	"dipsniper/internal/scan"
	"dipsniper/internal/store"
	"dipsniper/internal/strategy/builtins"
	"dipsniper/internal/tradeparams"
	"dipsniper/internal/trader"
	"dipsniper/internal/util"
)

// settleDelay leaves time after the close for the day's bar to be gathered.
const settleDelay = 30 * time.Minute

func main() {
	dryRun := flag.Bool("dry-run", false, "record signals without sending orders")
	simulate := flag.Bool("simulate", false, "trade against the in-memory simulator instead of Alpaca")
	useCandidates := flag.Bool("candidates", false, "trade the symbols saved by the last scan")
	symbolList := flag.String("symbols", "", "comma-separated symbols (overrides trading.symbols)")
	allowStale := flag.Bool("allow-stale", false, "send orders even when the newest bar predates the last session")
	loop := flag.Bool("loop", false, "keep running, once after every session close")
	flag.Parse()

	cfg, err := config.Load(config.Path())
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	util.SetDefault(util.NewLogger(cfg.Logging.Level, cfg.Logging.Format))

	stratCfg := cfg.Strategy
	if cfg.Trading.Preset != "" {
		p, err := builtins.NewRegistry(cfg.Strategy).Get(cfg.Trading.Preset)
		if err != nil {
			log.Fatalf("trading.preset: %v", err)
		}
		stratCfg = p.Config
	}

	var b broker.Broker
	if *simulate || cfg.Alpaca.APIKey == "" {
		b = broker.NewSimulatorBroker(cfg.Backtest.InitialCash)
	} else {
		if !cfg.Trading.PaperMode && strings.Contains(cfg.Alpaca.BaseURL, "paper") {
			slog.Warn("paper_mode is off but alpaca.base_url points at the paper API", "url", cfg.Alpaca.BaseURL)
		}
		b = broker.NewAlpacaBroker(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.BaseURL)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Storage.SQLitePath), 0o755); err != nil {
		log.Fatalf("creating storage dir: %v", err)
	}
	db, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("opening sqlite: %v", err)
	}
	defer db.Close()

	preset := cfg.Trading.Preset
	if preset == "" {
		preset = string(stratCfg.Variant)
	}
	tr := trader.New(store.NewParquetStore(cfg.Storage.DataDir), b, stratCfg, db, db,
		tradeparams.NewStore(cfg.Storage.ParamsPath),
		trader.Options{
			Market:         cfg.Backtest.Market,
			StrategyID:     preset,
			LookbackDays:   cfg.Trading.LookbackDays,
			MaxPositionPct: cfg.Trading.MaxPositionPct,
			DryRun:         *dryRun,
			AllowStale:     *allowStale,
		})

	var notifiers []notify.Notifier
	if cfg.Telegram.Enabled() {
		notifiers = append(notifiers, notify.NewTelegram(cfg.Telegram.BaseURL, cfg.Telegram.Token, cfg.Telegram.ChatID))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("dipsniper-trader starting", "broker", b.Name(), "preset", preset, "dryRun", *dryRun, "loop", *loop)

	runOnce := func() error {
		syms, err := resolveSymbols(cfg, *symbolList, *useCandidates)
		if err != nil {
			return err
		}
		intents, err := tr.RunOnce(ctx, syms)
		fmt.Print(notify.RenderIntents(intents))
		if err != nil {
			return err
		}
		if text := notify.FormatIntents(intents); text != "" {
			for _, n := range notifiers {
				if err := n.Notify(ctx, text); err != nil {
					slog.Error("notify failed", "error", err)
				}
			}
		}
		return nil
	}

	if !*loop {
		if err := runOnce(); err != nil {
			log.Fatalf("trader run: %v", err)
		}
		return
	}

	cal := util.NewTradingCalendar(domain.Market(cfg.Backtest.Market))
	for {
		next := cal.NextClose(time.Now()).Add(settleDelay)
		slog.Info("waiting for next session", "at", next)
		select {
		case <-ctx.Done():
			slog.Info("shutting down")
			return
		case <-time.After(time.Until(next)):
		}
		if err := runOnce(); err != nil {
			slog.Error("trader run failed", "error", err)
		}
	}
}

// resolveSymbols picks the trading universe: -symbols, then the saved
// candidates when requested, then trading.symbols.
func resolveSymbols(cfg *config.Config, list string, candidates bool) ([]string, error) {
	switch {
	case list != "":
		var out []string
		for _, s := range strings.Split(list, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out, nil
	case candidates:
		return scan.LoadCandidates(cfg.Scan.CandidatesPath)
	case len(cfg.Trading.Symbols) > 0:
		return cfg.Trading.Symbols, nil
	}
	return nil, fmt.Errorf("no symbols: set trading.symbols, -symbols or -candidates")
}

