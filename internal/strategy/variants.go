package strategy

import (
	"math"

	"dipsniper/internal/indicator"
)

// basicConditions: uptrend over MA20, a one-day pullback, and volume below
// VolumeFraction of the configured basis.
func basicConditions(s indicator.Series, cfg Config, i int) []Condition {
	today, prev := s[i], s[i-1]

	uptrend := indicator.Defined(today.MA20) && today.Close > today.MA20
	dip := today.Close < prev.Close

	vol := float64(today.Volume)
	var volDrop bool
	switch cfg.VolumeBasis {
	case VolumeMA5:
		volDrop = indicator.Defined(today.VolMA5) && vol < today.VolMA5*cfg.VolumeFraction
	default:
		volDrop = vol < float64(prev.Volume)*cfg.VolumeFraction
	}

	return []Condition{
		{Name: "uptrend", OK: uptrend},
		{Name: "dip", OK: dip},
		{Name: "volume_drop", OK: volDrop},
	}
}

// advancedConditions: bullish MA alignment, price near MA20, volume dry-up,
// a rebound, and optionally RSI inside a band.
func advancedConditions(s indicator.Series, cfg Config, i int) []Condition {
	today := s[i]

	aligned := indicator.Defined(today.MA20) && indicator.Defined(today.MA60) &&
		today.MA20 > today.MA60

	nearMA20 := false
	if indicator.Defined(today.MA20) && today.MA20 != 0 {
		nearMA20 = math.Abs(today.Close-today.MA20)/today.MA20 <= cfg.ProximityBand
	}

	dry := indicator.Defined(today.VolMA5) &&
		float64(today.Volume) <= today.VolMA5*cfg.DryUpFraction

	conds := []Condition{
		{Name: "aligned", OK: aligned},
		{Name: "near_ma20", OK: nearMA20},
		{Name: "volume_dry", OK: dry},
		{Name: "rebound", OK: rebound(s, cfg, i)},
	}

	if cfg.RSIBandEnabled() {
		rsi := today.RSI14
		ok := indicator.Defined(rsi) && rsi >= *cfg.RSIMin && rsi <= *cfg.RSIMax
		conds = append(conds, Condition{Name: "rsi_band", OK: ok})
	}
	return conds
}

func rebound(s indicator.Series, cfg Config, i int) bool {
	today, prev := s[i], s[i-1]
	bullCandle := today.Close > today.Open
	abovePrev := today.Close > prev.Close

	switch cfg.Rebound {
	case ReboundCandleAndPrev:
		return bullCandle && abovePrev
	case ReboundCandleOrPrev:
		return bullCandle || abovePrev
	case ReboundPattern:
		if cfg.Detector == nil {
			return bullCandle && abovePrev
		}
		return cfg.Detector.Bullish(prev.Bar, today.Bar)
	default:
		return abovePrev
	}
}
