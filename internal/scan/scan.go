// Package scan screens stored symbols for dips in an uptrend on their most
// recent bar and ranks the survivors.
package scan

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"dipsniper/internal/domain"
	"dipsniper/internal/indicator"
	"dipsniper/internal/store"
	"dipsniper/internal/symbols"
)

// gainLookback is how many bars back the momentum term measures from.
const gainLookback = 20

// Candidate is a symbol whose latest bar passed the screen.
type Candidate struct {
	Symbol     string    `json:"symbol"`
	Date       time.Time `json:"date"`
	Close      float64   `json:"close"`
	MA20       float64   `json:"ma20"`
	MA60       float64   `json:"ma60"`
	VolMA5     float64   `json:"vol_ma5"`
	RecentGain float64   `json:"recent_gain"`
	VolRatio   float64   `json:"vol_ratio"`
	Score      float64   `json:"score"`
}

// Options configures a Scanner. Zero values take the defaults noted.
type Options struct {
	Market        string  // "us"
	TopN          int     // 5
	LookbackDays  int     // 180 calendar days of history per symbol
	ProximityBand float64 // 0.03
	DryUpFraction float64 // 0.7
	Include       []string
	Exclude       []string
	Now           func() time.Time
}

// Scanner ranks symbols from a BarStore.
type Scanner struct {
	bars store.BarStore
	opts Options
	log  *slog.Logger
}

// NewScanner creates a Scanner over bars.
func NewScanner(bars store.BarStore, opts Options) *Scanner {
	if opts.Market == "" {
		opts.Market = string(domain.MarketUS)
	}
	if opts.TopN <= 0 {
		opts.TopN = 5
	}
	if opts.LookbackDays <= 0 {
		opts.LookbackDays = 180
	}
	if opts.ProximityBand <= 0 {
		opts.ProximityBand = 0.03
	}
	if opts.DryUpFraction <= 0 {
		opts.DryUpFraction = 0.7
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Scanner{bars: bars, opts: opts, log: slog.Default().With("component", "scan")}
}

// Score screens the last bar of s. The bar must sit in an uptrend
// (MA20 > MA60), within the proximity band of MA20, and trade below the
// dry-up fraction of its 5-day average volume. Survivors score
// recent_gain*50 + (1 - volume/(vol_ma5+1))*30.
func Score(s indicator.Series, proximityBand, dryUpFraction float64) (Candidate, bool) {
	if len(s) < indicator.MA60Period || len(s) < gainLookback {
		return Candidate{}, false
	}
	last := s.Last()
	if !indicator.Defined(last.MA20) || !indicator.Defined(last.MA60) || !indicator.Defined(last.VolMA5) {
		return Candidate{}, false
	}
	if last.MA20 <= last.MA60 {
		return Candidate{}, false
	}
	if math.Abs(last.Close-last.MA20)/last.MA20 > proximityBand {
		return Candidate{}, false
	}
	vol := float64(last.Volume)
	if vol >= last.VolMA5*dryUpFraction {
		return Candidate{}, false
	}

	ref := s[len(s)-gainLookback].Close
	gain := (last.Close - ref) / ref
	ratio := vol / (last.VolMA5 + 1)
	return Candidate{
		Symbol:     last.Symbol,
		Date:       last.Timestamp,
		Close:      last.Close,
		MA20:       last.MA20,
		MA60:       last.MA60,
		VolMA5:     last.VolMA5,
		RecentGain: gain,
		VolRatio:   ratio,
		Score:      gain*50 + (1-ratio)*30,
	}, true
}

// Scan screens syms (every stored symbol when empty) and returns the top N
// candidates, best score first.
func (sc *Scanner) Scan(ctx context.Context, syms []string) ([]Candidate, error) {
	if len(syms) == 0 {
		var err error
		if syms, err = sc.bars.ListSymbols(ctx, sc.opts.Market); err != nil {
			return nil, fmt.Errorf("listing symbols: %w", err)
		}
	}
	syms, err := symbols.Filter(syms, sc.opts.Include, sc.opts.Exclude)
	if err != nil {
		return nil, err
	}

	end := sc.opts.Now().UTC()
	start := end.AddDate(0, 0, -sc.opts.LookbackDays)

	var cands []Candidate
	for _, sym := range syms {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		bars, err := sc.bars.ReadBars(ctx, sym, sc.opts.Market, start, end)
		if err != nil {
			sc.log.Warn("reading bars failed", "symbol", sym, "err", err)
			continue
		}
		c, ok := Score(indicator.Augment(bars), sc.opts.ProximityBand, sc.opts.DryUpFraction)
		if !ok {
			continue
		}
		sc.log.Info("candidate", "symbol", sym, "score", fmt.Sprintf("%.1f", c.Score))
		cands = append(cands, c)
	}

	sort.SliceStable(cands, func(i, j int) bool { return cands[i].Score > cands[j].Score })
	if len(cands) > sc.opts.TopN {
		cands = cands[:sc.opts.TopN]
	}
	sc.log.Info("scan complete", "scanned", len(syms), "top", Symbols(cands))
	return cands, nil
}

// Symbols returns the candidate symbols in rank order.
func Symbols(cands []Candidate) []string {
	out := make([]string, len(cands))
	for i, c := range cands {
		out[i] = c.Symbol
	}
	return out
}

// SaveCandidates writes the ranked symbol list as a JSON array.
func SaveCandidates(path string, cands []Candidate) error {
	data, err := json.MarshalIndent(Symbols(cands), "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// LoadCandidates reads a list written by SaveCandidates.
func LoadCandidates(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var syms []string
	if err := json.Unmarshal(data, &syms); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return syms, nil
}
