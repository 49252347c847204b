// Package engine simulates the dip-buying strategy over a single symbol's
// daily bars: a Flat/Long position state machine driven by strategy
// decisions on the way in and take-profit/stop-loss rules on the way out.
package engine

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"dipsniper/internal/domain"
	"dipsniper/internal/indicator"
	"dipsniper/internal/strategy"
)

var (
	// ErrMalformedSeries is returned when bars are out of order or carry
	// impossible values.
	ErrMalformedSeries = errors.New("malformed bar series")

	// ErrInvalidConfig is returned when the strategy configuration fails
	// validation.
	ErrInvalidConfig = errors.New("invalid strategy config")
)

// OpenPosition describes a position still held at the end of a run.
type OpenPosition struct {
	Position
	LastClose  float64 `json:"last_close"`
	Unrealized float64 `json:"unrealized"`
}

// Result is the outcome of one simulation.
type Result struct {
	InitialCash float64       `json:"initial_cash"`
	Cash        float64       `json:"cash"`
	NAV         float64       `json:"nav"`
	Ledger      Ledger        `json:"ledger"`
	Open        *OpenPosition `json:"open,omitempty"`
	Equity      []EquityPoint `json:"equity"`
	Metrics     Metrics       `json:"metrics"`
	Bars        int           `json:"bars"`
}

// Engine runs simulations starting from a fixed amount of cash.
type Engine struct {
	initialCash decimal.Decimal
}

// New creates an Engine that starts each run with initialCash.
func New(initialCash float64) *Engine {
	return &Engine{initialCash: decimal.NewFromFloat(initialCash)}
}

// InitialCash returns the starting cash of every run.
func (e *Engine) InitialCash() float64 { return e.initialCash.InexactFloat64() }

// Validate checks that bars form a usable daily series: strictly
// increasing dates, positive closes, non-negative prices and volumes.
func Validate(bars []domain.Bar) error {
	for i, b := range bars {
		if b.Timestamp.IsZero() {
			return fmt.Errorf("%w: bar %d has no date", ErrMalformedSeries, i)
		}
		if i > 0 && !b.Timestamp.After(bars[i-1].Timestamp) {
			return fmt.Errorf("%w: bar %d (%s) not after %s", ErrMalformedSeries, i,
				b.Date(), bars[i-1].Date())
		}
		if math.IsNaN(b.Close) || math.IsInf(b.Close, 0) || b.Close <= 0 {
			return fmt.Errorf("%w: bar %d close %v", ErrMalformedSeries, i, b.Close)
		}
		for _, v := range []float64{b.Open, b.High, b.Low} {
			if math.IsNaN(v) || v < 0 {
				return fmt.Errorf("%w: bar %d price %v", ErrMalformedSeries, i, v)
			}
		}
		if b.Volume < 0 {
			return fmt.Errorf("%w: bar %d volume %d", ErrMalformedSeries, i, b.Volume)
		}
	}
	return nil
}

// Run validates bars, computes indicators and simulates cfg over them.
func (e *Engine) Run(bars []domain.Bar, cfg strategy.Config) (*Result, error) {
	if err := Validate(bars); err != nil {
		return nil, err
	}
	return e.RunSeries(indicator.Augment(bars), cfg)
}

// RunSeries simulates cfg over an already augmented series. The series is
// only read. A series no longer than the warm-up window produces an empty
// ledger with NAV equal to the initial cash.
func (e *Engine) RunSeries(s indicator.Series, cfg strategy.Config) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	res := &Result{
		InitialCash: e.initialCash.InexactFloat64(),
		Cash:        e.initialCash.InexactFloat64(),
		NAV:         e.initialCash.InexactFloat64(),
		Ledger:      Ledger{},
		Bars:        len(s),
	}
	warm := cfg.WarmUp()
	if len(s) <= warm {
		return res, nil
	}

	risk := NewRiskManager(cfg.TakeProfit, cfg.StopLoss)
	pf := NewPortfolio(e.initialCash)
	equity := make([]EquityPoint, 0, len(s)-warm)

	for i := warm; i < len(s); i++ {
		b := s[i]
		price := decimal.NewFromFloat(b.Close)

		if pos, long := pf.Position(); long {
			// Exits are evaluated before entries, and never re-enter the same bar.
			if ret, exit := risk.CheckExit(pos.EntryPrice, b.Close); exit {
				ev, _ := pf.Exit(b.Timestamp, price, ret)
				res.Ledger = append(res.Ledger, ev)
			}
		} else if strategy.Evaluate(s, cfg, i) == strategy.Buy {
			if ev, ok := pf.Enter(b.Timestamp, price, risk.Size(pf.Cash(), price)); ok {
				res.Ledger = append(res.Ledger, ev)
			}
		}

		equity = append(equity, EquityPoint{
			Date:   b.Timestamp,
			Equity: pf.NAV(price).InexactFloat64(),
		})
	}

	last := s.Last()
	lastClose := decimal.NewFromFloat(last.Close)
	res.Cash = pf.Cash().InexactFloat64()
	res.NAV = pf.NAV(lastClose).InexactFloat64()
	res.Equity = equity
	if pos, long := pf.Position(); long {
		res.Open = &OpenPosition{
			Position:   pos,
			LastClose:  last.Close,
			Unrealized: ReturnFrom(pos.EntryPrice, last.Close),
		}
	}
	res.Metrics = computeMetrics(res.Ledger, equity, res.InitialCash, res.NAV)
	return res, nil
}
