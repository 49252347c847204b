package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"dipsniper/internal/config"
	"dipsniper/internal/gather/us"
	"dipsniper/internal/store"
	"dipsniper/internal/symbols"
	"dipsniper/internal/util"
)

func main() {
	csvPath := flag.String("csv", "", "CSV file whose first column lists symbols (overrides gather.symbols)")
	symbolList := flag.String("symbols", "", "comma-separated symbols (overrides -csv)")
	include := flag.String("include", "", "comma-separated glob patterns to keep, e.g. 'A*,MSFT'")
	exclude := flag.String("exclude", "", "comma-separated glob patterns to drop")
	logDir := flag.String("log-dir", os.TempDir(), "directory for the daily log file")
	flag.Parse()

	cfg, err := config.Load(config.Path())
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// Dual logger: stderr + dated log file.
	logFileName := filepath.Join(*logDir, fmt.Sprintf("us-daily-bars-%s.log", time.Now().Format("2006-01-02")))
	logFile, err := os.Create(logFileName)
	if err != nil {
		log.Fatalf("failed to create log file: %v", err)
	}
	defer logFile.Close()
	util.SetDefault(util.NewLoggerTo(io.MultiWriter(os.Stderr, logFile), cfg.Logging.Level, "text"))

	syms := cfg.Gather.Symbols
	switch {
	case *symbolList != "":
		syms = splitList(*symbolList)
	case *csvPath != "":
		if syms, err = symbols.LoadCSV(*csvPath); err != nil {
			log.Fatalf("loading symbols: %v", err)
		}
	}
	syms, err = symbols.Filter(syms, splitList(*include), splitList(*exclude))
	if err != nil {
		log.Fatalf("filtering symbols: %v", err)
	}
	if len(syms) == 0 {
		log.Fatal("no symbols to gather: set gather.symbols, -csv or -symbols")
	}

	start, err := time.Parse("2006-01-02", cfg.Gather.StartDate)
	if err != nil {
		log.Fatalf("parsing gather.start_date: %v", err)
	}

	opts := us.Options{
		StartDate:       start,
		MaxWorkers:      cfg.Gather.MaxWorkers,
		RateLimitPerMin: cfg.Gather.RateLimitPerMin,
		MaxRetries:      cfg.Gather.MaxRetries,
	}
	if cfg.Alpaca.APIKey != "" {
		opts.EndDate = us.CalendarEndDate(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.BaseURL)
	}

	source := us.NewAlpacaSource(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.DataURL, cfg.Alpaca.Feed)
	gatherer := us.NewDailyBarGatherer(source, store.NewParquetStore(cfg.Storage.DataDir), syms, opts)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("starting us-daily-bars", "logFile", logFileName, "symbols", len(syms))
	if err := gatherer.Run(ctx); err != nil {
		log.Fatalf("gather error: %v", err)
	}
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
