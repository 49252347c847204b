// Package pattern detects bullish reversal candles used as an optional
// rebound confirmation by the advanced dip strategy.
package pattern

import (
	"math"

	"dipsniper/internal/domain"
)

// Detector reports whether cur, read together with prev, forms a bullish
// reversal pattern.
type Detector interface {
	Name() string
	Bullish(prev, cur domain.Bar) bool
}

// ----- Tunable thresholds -----

const (
	dojiMaxBodyPct  = 0.10
	hammerLowerMin  = 0.60
	hammerUpperMax  = 0.15
	hammerBodyMin   = 0.15
	engulfBodyRatio = 1.20
)

type candleParts struct {
	Body, Upper, Lower, Range   float64
	BodyPct, UpperPct, LowerPct float64
	IsBull, IsBear, IsDoji      bool
}

func split(b domain.Bar) candleParts {
	tr := b.High - b.Low
	if tr <= 0 {
		tr = 1e-9
	}
	body := math.Abs(b.Close - b.Open)
	upper := b.High - math.Max(b.Close, b.Open)
	lower := math.Min(b.Close, b.Open) - b.Low

	cp := candleParts{
		Body: body, Upper: upper, Lower: lower, Range: tr,
		BodyPct:  body / tr,
		UpperPct: upper / tr,
		LowerPct: lower / tr,
		IsBull:   b.Close > b.Open,
		IsBear:   b.Open > b.Close,
	}
	cp.IsDoji = cp.BodyPct <= dojiMaxBodyPct
	return cp
}

// Candlestick matches a hammer or a bullish engulfing candle.
type Candlestick struct{}

var _ Detector = Candlestick{}

// Name returns "candlestick".
func (Candlestick) Name() string { return "candlestick" }

// Bullish implements Detector.
func (Candlestick) Bullish(prev, cur domain.Bar) bool {
	return Hammer(cur) || BullishEngulfing(prev, cur)
}

// Hammer reports a long lower wick, a small upper wick and a real body.
func Hammer(b domain.Bar) bool {
	cp := split(b)
	if cp.IsDoji || cp.BodyPct < hammerBodyMin {
		return false
	}
	return cp.LowerPct >= hammerLowerMin && cp.UpperPct <= hammerUpperMax
}

// BullishEngulfing reports a bull body that swallows the prior bear body.
func BullishEngulfing(prev, cur domain.Bar) bool {
	p, c := split(prev), split(cur)
	if !p.IsBear || !c.IsBull {
		return false
	}
	if c.Body < engulfBodyRatio*p.Body {
		return false
	}
	return cur.Open <= prev.Close && cur.Close >= prev.Open
}
