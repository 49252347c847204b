package us

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"dipsniper/internal/domain"
	"dipsniper/internal/gather"
	"dipsniper/internal/store"
	"dipsniper/internal/util"
)

var _ gather.Gatherer = (*DailyBarGatherer)(nil)
var _ BarSource = (*AlpacaSource)(nil)

// BarSource fetches daily bars for one symbol over [start, end].
type BarSource interface {
	DailyBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error)
}

// ---------------------------------------------------------------------------
// AlpacaSource: daily bars from the Alpaca market-data API.
// ---------------------------------------------------------------------------

// AlpacaSource implements BarSource on the Alpaca market-data client.
type AlpacaSource struct {
	client *marketdata.Client
	feed   string
}

// NewAlpacaSource creates a source for the given credentials. An empty
// dataURL uses the SDK default; feed is "iex" or "sip".
func NewAlpacaSource(apiKey, apiSecret, dataURL, feed string) *AlpacaSource {
	opts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		opts.BaseURL = dataURL
	}
	if feed == "" {
		feed = "iex"
	}
	return &AlpacaSource{client: marketdata.NewClient(opts), feed: feed}
}

// DailyBars fetches daily bars for symbol.
func (s *AlpacaSource) DailyBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	alpacaBars, err := s.client.GetBars(symbol, marketdata.GetBarsRequest{
		TimeFrame: marketdata.OneDay,
		Start:     start,
		End:       end,
		Feed:      marketdata.Feed(s.feed),
	})
	if err != nil {
		return nil, fmt.Errorf("GetBars %s: %w", symbol, err)
	}

	bars := make([]domain.Bar, 0, len(alpacaBars))
	for _, ab := range alpacaBars {
		bars = append(bars, domain.Bar{
			Symbol:     strings.ToUpper(symbol),
			Timestamp:  ab.Timestamp,
			Open:       ab.Open,
			High:       ab.High,
			Low:        ab.Low,
			Close:      ab.Close,
			Volume:     int64(ab.Volume),
			TradeCount: int64(ab.TradeCount),
			VWAP:       ab.VWAP,
		})
	}
	return bars, nil
}

// ---------------------------------------------------------------------------
// DailyBarGatherer: incremental daily bars for a symbol list.
// ---------------------------------------------------------------------------

// Options tunes a DailyBarGatherer. Zero values fall back to defaults.
type Options struct {
	StartDate       time.Time
	MaxWorkers      int
	RateLimitPerMin int
	MaxRetries      int
	RetryDelay      time.Duration
	// EndDate resolves the last finished session; defaults to the local
	// US trading calendar.
	EndDate func(ctx context.Context) (time.Time, error)
}

// Stats summarises one gather run.
type Stats struct {
	Fetched  int
	Bars     int
	Empty    int
	UpToDate int
	Failed   int
}

// DailyBarGatherer downloads daily bars for a fixed symbol list into the
// Parquet store. Each symbol resumes from the day after its newest stored
// bar, so repeated runs only fetch what is missing.
type DailyBarGatherer struct {
	source  BarSource
	store   *store.ParquetStore
	symbols []string
	opts    Options
	limiter *util.RateLimiter
	stats   Stats
	log     *slog.Logger
}

// NewDailyBarGatherer creates a DailyBarGatherer writing to s.
func NewDailyBarGatherer(source BarSource, s *store.ParquetStore, symbols []string, opts Options) *DailyBarGatherer {
	if opts.StartDate.IsZero() {
		opts.StartDate = time.Date(2016, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = 4
	}
	if opts.RateLimitPerMin <= 0 {
		opts.RateLimitPerMin = 180
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second
	}
	if opts.EndDate == nil {
		cal := util.NewTradingCalendar(domain.MarketUS)
		opts.EndDate = func(context.Context) (time.Time, error) {
			return cal.LastCompletedSession(time.Now()), nil
		}
	}
	return &DailyBarGatherer{
		source:  source,
		store:   s,
		symbols: symbols,
		opts:    opts,
		limiter: util.NewRateLimiter(opts.RateLimitPerMin),
		log:     slog.Default().With("gatherer", "us-daily"),
	}
}

// Name returns the gatherer identifier.
func (g *DailyBarGatherer) Name() string { return "us-daily" }

// Stats returns the counters of the last Run.
func (g *DailyBarGatherer) Stats() Stats { return g.stats }

// Run fetches missing daily bars for every configured symbol. It is
// resumable after a crash and a no-op once the day has completed.
func (g *DailyBarGatherer) Run(ctx context.Context) error {
	g.stats = Stats{}

	endDate, err := g.opts.EndDate(ctx)
	if err != nil {
		return fmt.Errorf("determining end date: %w", err)
	}
	endDateStr := endDate.Format("2006-01-02")

	tracker, err := newProgressTracker(filepath.Join(g.store.DataDir, string(domain.MarketUS), "daily"))
	if err != nil {
		return fmt.Errorf("creating progress tracker: %w", err)
	}
	defer tracker.Close()

	if tracker.IsCompleted(endDateStr) {
		g.log.Info("already completed", "endDate", endDateStr)
		return nil
	}
	if last := tracker.LastCompleted(); last != "" && last != endDateStr {
		if err := tracker.Reset(); err != nil {
			return fmt.Errorf("resetting tracker: %w", err)
		}
	}

	var remaining []string
	for _, sym := range g.symbols {
		if !tracker.HasNoData(sym) {
			remaining = append(remaining, sym)
		}
	}
	g.log.Info("starting us-daily", "endDate", endDateStr, "symbols", len(g.symbols), "remaining", len(remaining))

	symCh := make(chan string, len(remaining))
	for _, sym := range remaining {
		symCh <- sym
	}
	close(symCh)

	var wg sync.WaitGroup
	var fetched, nbars, empty, fresh, failed atomic.Int64
	runStart := time.Now()

	workers := min(g.opts.MaxWorkers, len(remaining))
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for sym := range symCh {
				if ctx.Err() != nil {
					return
				}
				n, err := g.gatherSymbol(ctx, tracker, sym, endDate)
				switch {
				case errors.Is(err, errUpToDate):
					fresh.Add(1)
				case errors.Is(err, errNoData):
					empty.Add(1)
				case err != nil:
					failed.Add(1)
					g.log.Error("symbol failed", "symbol", sym, "err", err)
				default:
					fetched.Add(1)
					nbars.Add(int64(n))
					g.log.Debug("symbol done", "symbol", sym, "bars", n)
				}
			}
		}()
	}
	wg.Wait()

	g.stats = Stats{
		Fetched:  int(fetched.Load()),
		Bars:     int(nbars.Load()),
		Empty:    int(empty.Load()),
		UpToDate: int(fresh.Load()),
		Failed:   int(failed.Load()),
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if g.stats.Failed > 0 {
		return fmt.Errorf("%d of %d symbols failed", g.stats.Failed, len(remaining))
	}
	if err := tracker.MarkCompleted(endDateStr); err != nil {
		return fmt.Errorf("marking completed: %w", err)
	}

	g.log.Info("complete",
		"fetched", g.stats.Fetched,
		"bars", g.stats.Bars,
		"empty", g.stats.Empty,
		"upToDate", g.stats.UpToDate,
		"elapsed", time.Since(runStart).Round(time.Second),
	)
	return nil
}

var (
	errUpToDate = errors.New("up to date")
	errNoData   = errors.New("no data")
)

// gatherSymbol fetches and stores the bars symbol is missing up to end.
func (g *DailyBarGatherer) gatherSymbol(ctx context.Context, tracker *progressTracker, symbol string, end time.Time) (int, error) {
	start := g.opts.StartDate
	last, ok, err := g.store.LastBarDate(symbol, string(domain.MarketUS))
	if err != nil {
		return 0, err
	}
	if ok {
		start = last.AddDate(0, 0, 1)
	}
	// Bars are stamped at midnight UTC, so a session ending on end is
	// still wanted when start equals end.
	if start.After(end) {
		return 0, errUpToDate
	}

	var bars []domain.Bar
	err = util.Retry(ctx, g.opts.MaxRetries, g.opts.RetryDelay, func() error {
		if err := g.limiter.Wait(ctx); err != nil {
			return util.Permanent(err)
		}
		var ferr error
		bars, ferr = g.source.DailyBars(ctx, symbol, start, end)
		return ferr
	})
	if err != nil {
		return 0, err
	}

	if len(bars) == 0 {
		if ok {
			return 0, errUpToDate
		}
		if err := tracker.MarkNoData(symbol); err != nil {
			g.log.Error("marking no-data failed", "symbol", symbol, "err", err)
		}
		return 0, errNoData
	}
	if err := g.store.WriteBars(ctx, bars); err != nil {
		return 0, fmt.Errorf("writing bars: %w", err)
	}
	return len(bars), nil
}
