// Package builtins provides the named strategy presets that ship with
// dipsniper.
package builtins

import (
	"dipsniper/internal/pattern"
	"dipsniper/internal/strategy"
)

// Preset names.
const (
	Basic           = "basic"
	BasicVolMA5     = "basic-vol5"
	Advanced        = "advanced"
	AdvancedRSI     = "advanced-rsi"
	AdvancedPattern = "advanced-pattern"
)

// Presets returns the built-in presets layered over base. base supplies the
// risk thresholds (stop-loss, take-profit) shared by every preset.
func Presets(base strategy.Config) []strategy.Preset {
	base = base.WithDefaults()

	basic := base
	basic.Variant = strategy.Basic
	basic.VolumeBasis = strategy.VolumePrevDay

	basicMA5 := basic
	basicMA5.VolumeBasis = strategy.VolumeMA5
	basicMA5.VolumeFraction = 0.8

	adv := base
	adv.Variant = strategy.Advanced
	adv.Rebound = strategy.ReboundPrevClose

	advRSI := adv
	advRSI.ProximityBand = 0.05
	advRSI.Rebound = strategy.ReboundCandleOrPrev
	lo, hi := 30.0, 60.0
	advRSI.RSIMin, advRSI.RSIMax = &lo, &hi

	advPattern := adv
	advPattern.Rebound = strategy.ReboundPattern
	advPattern.Detector = pattern.Candlestick{}

	return []strategy.Preset{
		{Name: Basic, Description: "close above MA20, down day, volume < 70% of prior day", Config: basic},
		{Name: BasicVolMA5, Description: "basic dip measured against the 5-day volume average", Config: basicMA5},
		{Name: Advanced, Description: "MA20 > MA60, within 3% of MA20, volume dry-up, close above prior close", Config: adv},
		{Name: AdvancedRSI, Description: "advanced with a 5% band, candle-or-close rebound and RSI 30-60", Config: advRSI},
		{Name: AdvancedPattern, Description: "advanced confirmed by a hammer or bullish engulfing candle", Config: advPattern},
	}
}

// Register adds every built-in preset to r.
func Register(r *strategy.Registry, base strategy.Config) {
	for _, p := range Presets(base) {
		r.Register(p)
	}
}

// NewRegistry returns a Registry populated with the built-in presets.
func NewRegistry(base strategy.Config) *strategy.Registry {
	r := strategy.NewRegistry()
	Register(r, base)
	return r
}
