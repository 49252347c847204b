// Package backtest loads stored bars, runs the engine for one or many
// symbols and presets, and records each run.
package backtest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"dipsniper/internal/domain"
	"dipsniper/internal/engine"
	"dipsniper/internal/store"
	"dipsniper/internal/strategy"
)

// ErrNoData is returned when the store has no bars for the requested range.
var ErrNoData = errors.New("no bars for symbol")

// DefaultMinBars is the history a symbol needs before batch runs include it.
const DefaultMinBars = 200

// Overrides adjusts a preset's configuration for one symbol.
type Overrides interface {
	Apply(cfg strategy.Config, symbol string) strategy.Config
}

// LedgerExporter writes a run's ledger somewhere durable and returns its
// location.
type LedgerExporter interface {
	WriteLedger(runID, symbol string, ledger engine.Ledger) (string, error)
}

// Request describes one backtest.
type Request struct {
	Symbol      string
	Market      string
	Preset      string
	Start       time.Time
	End         time.Time
	InitialCash float64
	// Config, when set, replaces the preset's configuration.
	Config *strategy.Config
}

// BacktestResult is the outcome of one run.
type BacktestResult struct {
	RunID       string               `json:"run_id"`
	Symbol      string               `json:"symbol"`
	Market      string               `json:"market"`
	Preset      string               `json:"preset"`
	Variant     strategy.Variant     `json:"variant"`
	Start       time.Time            `json:"start"`
	End         time.Time            `json:"end"`
	InitialCash float64              `json:"initial_cash"`
	NAV         float64              `json:"nav"`
	Ledger      engine.Ledger        `json:"ledger"`
	Open        *engine.OpenPosition `json:"open,omitempty"`
	Equity      []engine.EquityPoint `json:"equity,omitempty"`
	Metrics     engine.Metrics       `json:"metrics"`
	Bars        int                  `json:"bars"`
	LedgerPath  string               `json:"ledger_path,omitempty"`
}

// ReturnPct is the total return in percent.
func (r *BacktestResult) ReturnPct() float64 { return r.Metrics.TotalReturn * 100 }

// Backtester replays stored bars through the engine.
type Backtester struct {
	bars      store.BarStore
	registry  *strategy.Registry
	runs      store.RunStore
	exporter  LedgerExporter
	overrides Overrides
	log       *slog.Logger
}

// Option configures a Backtester.
type Option func(*Backtester)

// WithRunStore persists every run.
func WithRunStore(rs store.RunStore) Option { return func(b *Backtester) { b.runs = rs } }

// WithLedgerExport writes each run's ledger through e.
func WithLedgerExport(e LedgerExporter) Option { return func(b *Backtester) { b.exporter = e } }

// WithOverrides applies per-symbol parameter overrides on top of presets.
func WithOverrides(o Overrides) Option { return func(b *Backtester) { b.overrides = o } }

// NewBacktester creates a Backtester that reads bars from barStore and looks
// up presets in registry.
func NewBacktester(barStore store.BarStore, registry *strategy.Registry, opts ...Option) *Backtester {
	b := &Backtester{
		bars:     barStore,
		registry: registry,
		log:      slog.Default().With("component", "backtest"),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Presets lists the registered preset names.
func (b *Backtester) Presets() []string { return b.registry.List() }

// resolve returns the configuration a request runs with.
func (b *Backtester) resolve(req Request) (strategy.Config, error) {
	var cfg strategy.Config
	if req.Config != nil {
		cfg = req.Config.WithDefaults()
	} else {
		p, err := b.registry.Get(req.Preset)
		if err != nil {
			return cfg, err
		}
		cfg = p.Config
	}
	if b.overrides != nil {
		cfg = b.overrides.Apply(cfg, req.Symbol)
	}
	return cfg, nil
}

// Run loads bars for req.Symbol and runs one backtest.
func (b *Backtester) Run(ctx context.Context, req Request) (*BacktestResult, error) {
	req.Symbol = strings.ToUpper(req.Symbol)
	if req.Market == "" {
		req.Market = string(domain.MarketUS)
	}
	cfg, err := b.resolve(req)
	if err != nil {
		return nil, err
	}
	bars, err := b.bars.ReadBars(ctx, req.Symbol, req.Market, req.Start, req.End)
	if err != nil {
		return nil, fmt.Errorf("reading bars for %s: %w", req.Symbol, err)
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoData, req.Symbol)
	}
	return b.runBars(ctx, req, cfg, bars)
}

func (b *Backtester) runBars(ctx context.Context, req Request, cfg strategy.Config, bars []domain.Bar) (*BacktestResult, error) {
	res, err := engine.New(req.InitialCash).Run(bars, cfg)
	if err != nil {
		return nil, fmt.Errorf("backtesting %s: %w", req.Symbol, err)
	}

	preset := req.Preset
	if req.Config != nil && preset == "" {
		preset = "custom"
	}
	out := &BacktestResult{
		RunID:       uuid.NewString(),
		Symbol:      req.Symbol,
		Market:      req.Market,
		Preset:      preset,
		Variant:     cfg.Variant,
		Start:       bars[0].Timestamp,
		End:         bars[len(bars)-1].Timestamp,
		InitialCash: res.InitialCash,
		NAV:         res.NAV,
		Ledger:      res.Ledger,
		Open:        res.Open,
		Equity:      res.Equity,
		Metrics:     res.Metrics,
		Bars:        res.Bars,
	}

	if b.exporter != nil && len(out.Ledger) > 0 {
		path, err := b.exporter.WriteLedger(out.RunID, out.Symbol, out.Ledger)
		if err != nil {
			return nil, fmt.Errorf("exporting ledger: %w", err)
		}
		out.LedgerPath = path
	}
	if b.runs != nil {
		if err := b.runs.SaveRun(ctx, toRun(out, cfg)); err != nil {
			return nil, fmt.Errorf("saving run: %w", err)
		}
	}

	b.log.Info("backtest done",
		"runID", out.RunID,
		"symbol", out.Symbol,
		"preset", out.Preset,
		"bars", out.Bars,
		"trades", out.Metrics.NumTrades,
		"returnPct", fmt.Sprintf("%.2f", out.ReturnPct()),
	)
	return out, nil
}

func toRun(r *BacktestResult, cfg strategy.Config) *store.Run {
	cfgJSON, _ := json.Marshal(cfg)
	return &store.Run{
		ID:          r.RunID,
		Symbol:      r.Symbol,
		Market:      r.Market,
		Preset:      r.Preset,
		Variant:     string(r.Variant),
		Start:       r.Start,
		End:         r.End,
		InitialCash: r.InitialCash,
		NAV:         r.NAV,
		Metrics:     r.Metrics,
		Config:      string(cfgJSON),
		CreatedAt:   time.Now().UTC(),
		Ledger:      r.Ledger,
	}
}

// ---------------------------------------------------------------------------
// Batch runs
// ---------------------------------------------------------------------------

// BatchRequest runs every preset against every symbol.
type BatchRequest struct {
	Symbols     []string
	Presets     []string
	Market      string
	Start       time.Time
	End         time.Time
	InitialCash float64
	Workers     int
	MinBars     int
}

// BatchReport collects the results of a batch.
type BatchReport struct {
	Results []BacktestResult  `json:"results"`
	Skipped []string          `json:"skipped,omitempty"`
	Failed  map[string]string `json:"failed,omitempty"`
	Summary []PresetSummary   `json:"summary"`
	Winner  string            `json:"winner,omitempty"`
}

// RunBatch backtests each symbol with each preset on a bounded worker pool.
// Symbols are loaded once and shared read-only by their preset runs.
// Symbols with fewer than MinBars bars are skipped.
func (b *Backtester) RunBatch(ctx context.Context, req BatchRequest) (*BatchReport, error) {
	if len(req.Presets) == 0 {
		req.Presets = []string{"basic", "advanced"}
	}
	for _, p := range req.Presets {
		if _, err := b.registry.Get(p); err != nil {
			return nil, err
		}
	}
	if req.Workers <= 0 {
		req.Workers = 4
	}
	if req.MinBars <= 0 {
		req.MinBars = DefaultMinBars
	}
	if req.Market == "" {
		req.Market = string(domain.MarketUS)
	}

	symCh := make(chan string, len(req.Symbols))
	for _, s := range req.Symbols {
		symCh <- strings.ToUpper(s)
	}
	close(symCh)

	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		report = &BatchReport{Failed: make(map[string]string)}
	)
	runStart := time.Now()
	b.log.Info("batch started", "symbols", len(req.Symbols), "presets", req.Presets, "workers", req.Workers)

	workers := min(req.Workers, len(req.Symbols))
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for sym := range symCh {
				if ctx.Err() != nil {
					return
				}
				results, skipped, err := b.runSymbol(ctx, req, sym)
				mu.Lock()
				switch {
				case err != nil:
					report.Failed[sym] = err.Error()
					b.log.Error("batch symbol failed", "symbol", sym, "err", err)
				case skipped:
					report.Skipped = append(report.Skipped, sym)
				default:
					report.Results = append(report.Results, results...)
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sort.Slice(report.Results, func(i, j int) bool {
		ri, rj := report.Results[i], report.Results[j]
		if ri.Symbol != rj.Symbol {
			return ri.Symbol < rj.Symbol
		}
		return ri.Preset < rj.Preset
	})
	sort.Strings(report.Skipped)
	report.Summary = Compare(report.Results)
	report.Winner = Winner(report.Summary)

	b.log.Info("batch done",
		"runs", len(report.Results),
		"skipped", len(report.Skipped),
		"failed", len(report.Failed),
		"winner", report.Winner,
		"elapsed", time.Since(runStart).Round(time.Millisecond),
	)
	return report, nil
}

func (b *Backtester) runSymbol(ctx context.Context, req BatchRequest, sym string) ([]BacktestResult, bool, error) {
	bars, err := b.bars.ReadBars(ctx, sym, req.Market, req.Start, req.End)
	if err != nil {
		return nil, false, fmt.Errorf("reading bars: %w", err)
	}
	if len(bars) < req.MinBars {
		b.log.Warn("not enough data, skipping", "symbol", sym, "bars", len(bars), "minBars", req.MinBars)
		return nil, true, nil
	}

	out := make([]BacktestResult, 0, len(req.Presets))
	for _, name := range req.Presets {
		r := Request{
			Symbol:      sym,
			Market:      req.Market,
			Preset:      name,
			Start:       req.Start,
			End:         req.End,
			InitialCash: req.InitialCash,
		}
		cfg, err := b.resolve(r)
		if err != nil {
			return nil, false, err
		}
		res, err := b.runBars(ctx, r, cfg, bars)
		if err != nil {
			return nil, false, err
		}
		out = append(out, *res)
	}
	return out, false, nil
}

// ---------------------------------------------------------------------------
// Comparison
// ---------------------------------------------------------------------------

// PresetSummary aggregates the runs of one preset.
type PresetSummary struct {
	Preset       string  `json:"preset"`
	Runs         int     `json:"runs"`
	AvgReturnPct float64 `json:"avg_return_pct"`
	AvgWinRate   float64 `json:"avg_win_rate"`
	Trades       int     `json:"trades"`
}

// Compare averages total return and win rate per preset. Summaries are
// ordered best average return first, ties by name.
func Compare(results []BacktestResult) []PresetSummary {
	byPreset := make(map[string]*PresetSummary)
	for _, r := range results {
		s, ok := byPreset[r.Preset]
		if !ok {
			s = &PresetSummary{Preset: r.Preset}
			byPreset[r.Preset] = s
		}
		s.Runs++
		s.AvgReturnPct += r.ReturnPct()
		s.AvgWinRate += r.Metrics.WinRate
		s.Trades += r.Metrics.NumTrades
	}

	out := make([]PresetSummary, 0, len(byPreset))
	for _, s := range byPreset {
		s.AvgReturnPct /= float64(s.Runs)
		s.AvgWinRate /= float64(s.Runs)
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AvgReturnPct != out[j].AvgReturnPct {
			return out[i].AvgReturnPct > out[j].AvgReturnPct
		}
		return out[i].Preset < out[j].Preset
	})
	return out
}

// Winner names the preset with the best average return. It is empty when
// there is nothing to compare or the top two tie.
func Winner(summary []PresetSummary) string {
	if len(summary) == 0 {
		return ""
	}
	if len(summary) > 1 && summary[0].AvgReturnPct == summary[1].AvgReturnPct {
		return ""
	}
	return summary[0].Preset
}
