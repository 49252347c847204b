package engine

import (
	"math"
	"time"
)

// EquityPoint is the mark-to-market portfolio value at the close of a bar.
type EquityPoint struct {
	Date   time.Time `json:"date"`
	Equity float64   `json:"equity"`
}

// Metrics summarizes a run. Returns are fractions, WinRate is a percentage.
// A round trip closed at exactly zero counts toward NumTrades but is neither
// a win nor a loss.
type Metrics struct {
	TotalReturn  float64 `json:"total_return"`
	NumTrades    int     `json:"num_trades"`
	Wins         int     `json:"wins"`
	Losses       int     `json:"losses"`
	WinRate      float64 `json:"win_rate"`
	AvgReturn    float64 `json:"avg_return"`
	BestReturn   float64 `json:"best_return"`
	WorstReturn  float64 `json:"worst_return"`
	ProfitFactor float64 `json:"profit_factor"`
	MaxDrawdown  float64 `json:"max_drawdown"`
	Exposure     float64 `json:"exposure"`
}

// profitFactorCap stands in for an infinite profit factor (no losing trades).
const profitFactorCap = 999

// computeMetrics rolls up closed round trips and the equity curve.
func computeMetrics(ledger Ledger, equity []EquityPoint, initialCash, nav float64) Metrics {
	var m Metrics
	if initialCash > 0 {
		m.TotalReturn = (nav - initialCash) / initialCash
	}

	var sum, gains, losses float64
	best, worst := math.Inf(-1), math.Inf(1)
	for _, ev := range ledger.Sells() {
		r := ev.RealizedReturn
		m.NumTrades++
		sum += r
		switch {
		case r > 0:
			m.Wins++
			gains += r
		case r < 0:
			m.Losses++
			losses += -r
		}
		best = math.Max(best, r)
		worst = math.Min(worst, r)
	}
	if m.NumTrades > 0 {
		m.WinRate = 100 * float64(m.Wins) / float64(m.NumTrades)
		m.AvgReturn = sum / float64(m.NumTrades)
		m.BestReturn, m.WorstReturn = best, worst
	}
	switch {
	case losses == 0 && gains > 0:
		m.ProfitFactor = profitFactorCap
	case losses > 0:
		m.ProfitFactor = gains / losses
	}

	m.MaxDrawdown = maxDrawdown(equity)
	m.Exposure = exposure(ledger, equity)
	return m
}

// maxDrawdown is the largest peak-to-trough decline of the curve as a
// positive fraction of the peak.
func maxDrawdown(equity []EquityPoint) float64 {
	var peak, dd float64
	for _, p := range equity {
		if p.Equity > peak {
			peak = p.Equity
		}
		if peak > 0 {
			dd = math.Max(dd, (peak-p.Equity)/peak)
		}
	}
	return dd
}

// exposure is the fraction of simulated bars that ended with a position open.
func exposure(ledger Ledger, equity []EquityPoint) float64 {
	if len(equity) == 0 {
		return 0
	}
	held := 0
	j := 0
	long := false
	for _, p := range equity {
		for j < len(ledger) && !ledger[j].Date.After(p.Date) {
			long = ledger[j].Kind == KindBuy
			j++
		}
		if long {
			held++
		}
	}
	return float64(held) / float64(len(equity))
}
