package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"dipsniper/internal/domain"
	"dipsniper/internal/engine"
)

// Compile-time interface check.
var _ BarStore = (*ParquetStore)(nil)

// ParquetStore implements BarStore using Parquet files on disk and exports
// run ledgers next to the bar data.
type ParquetStore struct {
	DataDir string
	// Market is the directory WriteBars writes to; defaults to "us".
	Market string
}

// NewParquetStore creates a new ParquetStore rooted at the given data directory.
func NewParquetStore(dataDir string) *ParquetStore {
	return &ParquetStore{DataDir: dataDir, Market: string(domain.MarketUS)}
}

// ---------------------------------------------------------------------------
// Parquet record types (on-disk schema)
// ---------------------------------------------------------------------------

// BarRecord is the Parquet schema for daily bar data.
type BarRecord struct {
	Symbol     string  `parquet:"symbol"`
	Timestamp  int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Open       float64 `parquet:"open"`
	High       float64 `parquet:"high"`
	Low        float64 `parquet:"low"`
	Close      float64 `parquet:"close"`
	Volume     int64   `parquet:"volume"`
	TradeCount int64   `parquet:"trade_count"`
	VWAP       float64 `parquet:"vwap"`
}

// LedgerRecord is the Parquet schema for one exported trade event.
type LedgerRecord struct {
	RunID          string  `parquet:"run_id"`
	Symbol         string  `parquet:"symbol"`
	Timestamp      int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Kind           string  `parquet:"kind"`
	Price          float64 `parquet:"price"`
	Shares         int64   `parquet:"shares"`
	RealizedReturn float64 `parquet:"realized_return"`
	Cash           float64 `parquet:"cash"`
}

// ---------------------------------------------------------------------------
// BarStore implementation
// ---------------------------------------------------------------------------

// WriteBars writes bars under the store's Market. See WriteBarsForMarket.
func (s *ParquetStore) WriteBars(ctx context.Context, bars []domain.Bar) error {
	market := s.Market
	if market == "" {
		market = string(domain.MarketUS)
	}
	return s.WriteBarsForMarket(ctx, bars, market)
}

// WriteBarsForMarket writes bars grouped by symbol and year, merging with
// what is already on disk. Each group lands in:
//
//	<DataDir>/<market>/daily/<SYMBOL>/<YYYY>.parquet
func (s *ParquetStore) WriteBarsForMarket(ctx context.Context, bars []domain.Bar, market string) error {
	type key struct {
		symbol string
		year   int
	}
	groups := make(map[key][]BarRecord)
	for _, b := range bars {
		k := key{symbol: strings.ToUpper(b.Symbol), year: b.Timestamp.UTC().Year()}
		groups[k] = append(groups[k], toBarRecord(b))
	}

	for k, records := range groups {
		if err := ctx.Err(); err != nil {
			return err
		}
		path := s.barPath(k.symbol, market, k.year)
		existing, err := readParquetFile[BarRecord](path)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		if err := writeParquetFile(path, mergeBarRecords(existing, records)); err != nil {
			return fmt.Errorf("writing bars for %s/%d: %w", k.symbol, k.year, err)
		}
	}
	return nil
}

// ReadBars reads bars for symbol within [start, end] in date order. A zero
// end means no upper bound. Missing years are skipped.
func (s *ParquetStore) ReadBars(ctx context.Context, symbol string, market string, start, end time.Time) ([]domain.Bar, error) {
	if end.IsZero() {
		end = time.Now().UTC()
	}
	years, err := s.years(symbol, market)
	if err != nil {
		return nil, err
	}

	var bars []domain.Bar
	for _, year := range years {
		if year < start.Year() || year > end.Year() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		records, err := readParquetFile[BarRecord](s.barPath(symbol, market, year))
		if err != nil {
			return nil, fmt.Errorf("reading %s %d: %w", symbol, year, err)
		}
		for _, r := range records {
			ts := time.UnixMilli(r.Timestamp).UTC()
			if ts.Before(start) || ts.After(end) {
				continue
			}
			bars = append(bars, fromBarRecord(r, ts))
		}
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Timestamp.Before(bars[j].Timestamp) })
	return bars, nil
}

// ListSymbols lists all symbols that have bar data in the given market.
func (s *ParquetStore) ListSymbols(_ context.Context, market string) ([]string, error) {
	dir := filepath.Join(s.DataDir, market, "daily")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var symbols []string
	for _, e := range entries {
		if e.IsDir() {
			symbols = append(symbols, e.Name())
		}
	}
	sort.Strings(symbols)
	return symbols, nil
}

// LastBarDate returns the timestamp of the newest stored bar for symbol.
// The boolean is false when nothing is stored yet.
func (s *ParquetStore) LastBarDate(symbol, market string) (time.Time, bool, error) {
	years, err := s.years(symbol, market)
	if err != nil || len(years) == 0 {
		return time.Time{}, false, err
	}
	records, err := readParquetFile[BarRecord](s.barPath(symbol, market, years[len(years)-1]))
	if err != nil {
		return time.Time{}, false, fmt.Errorf("reading %s %d: %w", symbol, years[len(years)-1], err)
	}
	var last int64
	for _, r := range records {
		if r.Timestamp > last {
			last = r.Timestamp
		}
	}
	if len(records) == 0 {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(last).UTC(), true, nil
}

// years returns the sorted years with a bar file for symbol.
func (s *ParquetStore) years(symbol, market string) ([]int, error) {
	dir := filepath.Join(s.DataDir, market, "daily", strings.ToUpper(symbol))
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var years []int
	for _, e := range entries {
		var y int
		if _, err := fmt.Sscanf(e.Name(), "%d.parquet", &y); err == nil {
			years = append(years, y)
		}
	}
	sort.Ints(years)
	return years, nil
}

// ---------------------------------------------------------------------------
// Ledger export
// ---------------------------------------------------------------------------

// WriteLedger exports a run's ledger to <DataDir>/runs/<runID>.parquet.
func (s *ParquetStore) WriteLedger(runID, symbol string, ledger engine.Ledger) (string, error) {
	records := make([]LedgerRecord, 0, len(ledger))
	for _, ev := range ledger {
		records = append(records, LedgerRecord{
			RunID:          runID,
			Symbol:         symbol,
			Timestamp:      ev.Date.UnixMilli(),
			Kind:           string(ev.Kind),
			Price:          ev.Price,
			Shares:         ev.Shares,
			RealizedReturn: ev.RealizedReturn,
			Cash:           ev.Cash,
		})
	}
	path := s.ledgerPath(runID)
	if err := writeParquetFile(path, records); err != nil {
		return "", fmt.Errorf("writing ledger %s: %w", runID, err)
	}
	return path, nil
}

// ReadLedger loads a ledger previously written by WriteLedger.
func (s *ParquetStore) ReadLedger(runID string) (engine.Ledger, error) {
	records, err := readParquetFile[LedgerRecord](s.ledgerPath(runID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	ledger := make(engine.Ledger, 0, len(records))
	for _, r := range records {
		ledger = append(ledger, engine.TradeEvent{
			Date:           time.UnixMilli(r.Timestamp).UTC(),
			Kind:           engine.Kind(r.Kind),
			Price:          r.Price,
			Shares:         r.Shares,
			RealizedReturn: r.RealizedReturn,
			Cash:           r.Cash,
		})
	}
	return ledger, nil
}

// ---------------------------------------------------------------------------
// Path helpers
// ---------------------------------------------------------------------------

// barPath returns the filesystem path for a bar Parquet file.
// Layout: <dataDir>/<market>/daily/<SYMBOL>/<YYYY>.parquet
func (s *ParquetStore) barPath(symbol, market string, year int) string {
	return filepath.Join(s.DataDir, market, "daily", strings.ToUpper(symbol), fmt.Sprintf("%d.parquet", year))
}

// ledgerPath returns the filesystem path for an exported ledger.
// Layout: <dataDir>/runs/<runID>.parquet
func (s *ParquetStore) ledgerPath(runID string) string {
	return filepath.Join(s.DataDir, "runs", runID+".parquet")
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	return parquet.ReadFile[T](path)
}

func toBarRecord(b domain.Bar) BarRecord {
	return BarRecord{
		Symbol:     strings.ToUpper(b.Symbol),
		Timestamp:  b.Timestamp.UnixMilli(),
		Open:       b.Open,
		High:       b.High,
		Low:        b.Low,
		Close:      b.Close,
		Volume:     b.Volume,
		TradeCount: b.TradeCount,
		VWAP:       b.VWAP,
	}
}

func fromBarRecord(r BarRecord, ts time.Time) domain.Bar {
	return domain.Bar{
		Symbol:     r.Symbol,
		Timestamp:  ts,
		Open:       r.Open,
		High:       r.High,
		Low:        r.Low,
		Close:      r.Close,
		Volume:     r.Volume,
		TradeCount: r.TradeCount,
		VWAP:       r.VWAP,
	}
}

// mergeBarRecords deduplicates bar records by timestamp, preferring incoming
// records over existing ones. The result is sorted by timestamp.
func mergeBarRecords(existing, incoming []BarRecord) []BarRecord {
	seen := make(map[int64]BarRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[r.Timestamp] = r
	}
	for _, r := range incoming {
		seen[r.Timestamp] = r
	}

	merged := make([]BarRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged
}
