package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"dipsniper/internal/api"
	"dipsniper/internal/backtest"
	"dipsniper/internal/config"
	"dipsniper/internal/notify"
	"dipsniper/internal/scan"
	"dipsniper/internal/symbols"
)

func backtestCmd() *cobra.Command {
	var (
		preset     string
		start, end string
		cash       float64
		remote     string
		asJSON     bool
		sendReport bool
		csvOut     string
	)
	cmd := &cobra.Command{
		Use:   "backtest SYMBOL",
		Short: "Backtest one symbol with a preset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			var (
				res *backtest.BacktestResult
				cfg *config.Config
				err error
			)
			if remote != "" {
				if cfg, err = loadConfig(); err != nil {
					return err
				}
				res, err = remoteBacktest(ctx, remote, args[0], preset, start, end, cash)
			} else {
				a, openErr := openApp()
				if openErr != nil {
					return openErr
				}
				defer a.Close()
				cfg = a.cfg
				req := backtest.Request{Symbol: args[0], Market: cfg.Backtest.Market, Preset: preset, InitialCash: cfg.Backtest.InitialCash}
				if cash > 0 {
					req.InitialCash = cash
				}
				if req.Start, req.End, err = dateRange(cfg.Backtest, start, end); err != nil {
					return err
				}
				res, err = a.bt.Run(ctx, req)
			}
			if err != nil {
				return err
			}
			if csvOut != "" {
				if err := writeLedgerCSV(csvOut, res); err != nil {
					return err
				}
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}
			if err := notify.NewConsole(os.Stdout).PrintResult(res); err != nil {
				return err
			}
			if sendReport {
				return deliver(ctx, cfg, notify.NewReport(res))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&preset, "preset", "p", "basic", "strategy preset")
	cmd.Flags().StringVar(&start, "start", "", "first date, YYYY-MM-DD (default backtest.start_date)")
	cmd.Flags().StringVar(&end, "end", "", "last date, YYYY-MM-DD (default backtest.end_date or today)")
	cmd.Flags().Float64Var(&cash, "cash", 0, "initial cash (default backtest.initial_cash)")
	cmd.Flags().StringVar(&remote, "remote", "", "run on a dipsniper-server gRPC address instead of locally")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	cmd.Flags().BoolVar(&sendReport, "notify", false, "send the summary to Telegram")
	cmd.Flags().StringVar(&csvOut, "csv", "", "also write the ledger as CSV to this path")
	return cmd
}

func remoteBacktest(ctx context.Context, addr, symbol, preset, start, end string, cash float64) (*backtest.BacktestResult, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", addr, err)
	}
	defer conn.Close()

	params := map[string]any{"symbol": symbol, "preset": preset}
	if start != "" {
		params["start"] = start
	}
	if end != "" {
		params["end"] = end
	}
	if cash > 0 {
		params["cash"] = cash
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	return api.NewBacktestClient(conn).Run(ctx, params)
}

func batchCmd() *cobra.Command {
	var (
		presets          []string
		csvPath          string
		universe         string
		useCandidates    bool
		include, exclude []string
		start, end       string
		workers          int
		out              string
	)
	cmd := &cobra.Command{
		Use:   "batch [SYMBOL...]",
		Short: "Compare presets across many symbols",
		Long: `batch runs every preset against every symbol and ranks the presets by
average return. Symbols come from the arguments, --csv, --universe,
--candidates or, failing those, every symbol with stored bars.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()
			ctx := cmd.Context()
			cfg := a.cfg

			syms := args
			switch {
			case len(syms) > 0:
			case csvPath != "":
				if syms, err = symbols.LoadCSV(csvPath); err != nil {
					return err
				}
			case universe != "":
				if syms, err = cfg.Backtest.Universe(universe); err != nil {
					return err
				}
			case useCandidates:
				if syms, err = scan.LoadCandidates(cfg.Scan.CandidatesPath); err != nil {
					return err
				}
			default:
				if syms, err = a.bars.ListSymbols(ctx, cfg.Backtest.Market); err != nil {
					return err
				}
			}
			if syms, err = symbols.Filter(syms, include, exclude); err != nil {
				return err
			}
			if len(syms) == 0 {
				return fmt.Errorf("no symbols to backtest")
			}

			req := backtest.BatchRequest{
				Symbols:     syms,
				Presets:     presets,
				Market:      cfg.Backtest.Market,
				InitialCash: cfg.Backtest.InitialCash,
				Workers:     cfg.Backtest.Workers,
				MinBars:     cfg.Backtest.MinBars,
			}
			if len(req.Presets) == 0 {
				req.Presets = cfg.Backtest.Presets
			}
			if workers > 0 {
				req.Workers = workers
			}
			if req.Start, req.End, err = dateRange(cfg.Backtest, start, end); err != nil {
				return err
			}

			rep, err := a.bt.RunBatch(ctx, req)
			if err != nil {
				return err
			}
			fmt.Print(notify.RenderBatch(rep))

			if out == "" {
				out = filepath.Join(cfg.Backtest.ExportDir, fmt.Sprintf("batch-%s.json", time.Now().Format("20060102-150405")))
			}
			if err := writeJSONFile(out, rep); err != nil {
				return err
			}
			fmt.Printf("report written to %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&presets, "presets", "p", nil, "presets to compare (default backtest.presets or basic,advanced)")
	cmd.Flags().StringVar(&csvPath, "csv", "", "CSV file whose first column lists symbols")
	cmd.Flags().StringVarP(&universe, "universe", "u", "", "named symbol list from backtest.universes")
	cmd.Flags().BoolVar(&useCandidates, "candidates", false, "use the symbols saved by the last scan")
	cmd.Flags().StringSliceVar(&include, "include", nil, "glob patterns to keep")
	cmd.Flags().StringSliceVar(&exclude, "exclude", nil, "glob patterns to drop")
	cmd.Flags().StringVar(&start, "start", "", "first date, YYYY-MM-DD")
	cmd.Flags().StringVar(&end, "end", "", "last date, YYYY-MM-DD")
	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "parallel symbols (default backtest.workers)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "report path (default <export_dir>/batch-<time>.json)")
	return cmd
}

func scanCmd() *cobra.Command {
	var (
		topN             int
		include, exclude []string
		save             bool
	)
	cmd := &cobra.Command{
		Use:   "scan [SYMBOL...]",
		Short: "Rank symbols whose latest bar is a quiet dip in an uptrend",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()
			cfg := a.cfg

			opts := scan.Options{
				Market:        cfg.Backtest.Market,
				TopN:          cfg.Scan.TopN,
				LookbackDays:  cfg.Scan.LookbackDays,
				ProximityBand: cfg.Strategy.ProximityBand,
				DryUpFraction: cfg.Strategy.DryUpFraction,
				Include:       append(cfg.Scan.Include, include...),
				Exclude:       append(cfg.Scan.Exclude, exclude...),
			}
			if topN > 0 {
				opts.TopN = topN
			}
			cands, err := scan.NewScanner(a.bars, opts).Scan(cmd.Context(), args)
			if err != nil {
				return err
			}
			fmt.Print(notify.RenderCandidates(cands))
			if save {
				if err := scan.SaveCandidates(cfg.Scan.CandidatesPath, cands); err != nil {
					return err
				}
				fmt.Printf("%d candidates saved to %s\n", len(cands), cfg.Scan.CandidatesPath)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&topN, "top", "n", 0, "candidates to keep (default scan.top_n)")
	cmd.Flags().StringSliceVar(&include, "include", nil, "glob patterns to keep")
	cmd.Flags().StringSliceVar(&exclude, "exclude", nil, "glob patterns to drop")
	cmd.Flags().BoolVar(&save, "save", true, "write the candidate list for batch --candidates and the trader")
	return cmd
}

func presetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "presets",
		Short: "List strategy presets",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()
			fmt.Println(strings.Join(a.bt.Presets(), "\n"))
			return nil
		},
	}
}

// dateRange resolves flag dates over the configured defaults.
func dateRange(bc config.BacktestConfig, start, end string) (time.Time, time.Time, error) {
	if start != "" {
		bc.StartDate = start
	}
	if end != "" {
		bc.EndDate = end
	}
	return bc.StartEnd()
}

// deliver sends r to Telegram when configured, otherwise prints it.
func deliver(ctx context.Context, cfg *config.Config, r notify.Report) error {
	var n notify.Notifier = notify.NewConsole(os.Stdout)
	if cfg.Telegram.Enabled() {
		n = notify.NewTelegram(cfg.Telegram.BaseURL, cfg.Telegram.Token, cfg.Telegram.ChatID)
	}
	return notify.SendReport(ctx, r, n)
}

func writeJSONFile(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func writeLedgerCSV(path string, res *backtest.BacktestResult) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := res.Ledger.WriteCSV(f); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}
