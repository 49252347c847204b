// Package indicator derives trend, volume and momentum indicators from a
// daily bar series. Every function is pure: inputs are never modified and
// bars before a rolling window is full carry NaN.
package indicator

import (
	"math"

	"dipsniper/internal/domain"
)

// Window lengths used by the dip strategies.
const (
	MA20Period   = 20
	MA60Period   = 60
	VolMA5Period = 5
	RSI14Period  = 14
)

// Bar is a domain bar with its derived indicator set attached.
type Bar struct {
	domain.Bar

	MA20   float64
	MA60   float64
	VolMA5 float64
	RSI14  float64
}

// Series is an augmented, date-ascending bar sequence.
type Series []Bar

// Defined reports whether v carries a value (i.e. is not the NaN marker).
func Defined(v float64) bool {
	return !math.IsNaN(v)
}

// Augment copies bars into a new Series and attaches MA20, MA60, VolMA5 and
// RSI14 to every element. The input slice is only read.
func Augment(bars []domain.Bar) Series {
	n := len(bars)
	closes := make([]float64, n)
	volumes := make([]float64, n)
	for i, b := range bars {
		closes[i] = b.Close
		volumes[i] = float64(b.Volume)
	}

	ma20 := SMA(closes, MA20Period)
	ma60 := SMA(closes, MA60Period)
	volMA5 := SMA(volumes, VolMA5Period)
	rsi := RSI(closes, RSI14Period)

	out := make(Series, n)
	for i, b := range bars {
		out[i] = Bar{
			Bar:    b,
			MA20:   ma20[i],
			MA60:   ma60[i],
			VolMA5: volMA5[i],
			RSI14:  rsi[i],
		}
	}
	return out
}

// SMA is the trailing simple moving average over p points, inclusive of the
// current point. The result is aligned to xs with NaN for the first p-1 slots.
// Each window is summed directly so equal inputs always give bit-identical
// outputs regardless of history.
func SMA(xs []float64, p int) []float64 {
	out := make([]float64, len(xs))
	for i := range xs {
		if p <= 0 || i < p-1 {
			out[i] = math.NaN()
			continue
		}
		var sum float64
		for _, x := range xs[i-p+1 : i+1] {
			sum += x
		}
		out[i] = sum / float64(p)
	}
	return out
}

// RSI computes the relative strength index from simple (non-exponential)
// rolling means of positive and negative close-to-close deltas over p
// deltas. The first defined value is at index p. A window whose average
// loss is zero yields NaN.
func RSI(closes []float64, p int) []float64 {
	out := make([]float64, len(closes))
	for i := range closes {
		if p <= 0 || i < p {
			out[i] = math.NaN()
			continue
		}
		var gain, loss float64
		for j := i - p + 1; j <= i; j++ {
			d := closes[j] - closes[j-1]
			if d > 0 {
				gain += d
			} else {
				loss -= d
			}
		}
		avgGain := gain / float64(p)
		avgLoss := loss / float64(p)
		if avgLoss == 0 {
			out[i] = math.NaN()
			continue
		}
		rs := avgGain / avgLoss
		out[i] = 100 - 100/(1+rs)
	}
	return out
}

// Closes extracts the close prices of s.
func (s Series) Closes() []float64 {
	out := make([]float64, len(s))
	for i := range s {
		out[i] = s[i].Close
	}
	return out
}

// Last returns the final bar of s. It panics on an empty series.
func (s Series) Last() Bar {
	return s[len(s)-1]
}
