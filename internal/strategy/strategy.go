// Package strategy implements the entry-signal variants of the dip buying
// rule and a Registry of named strategy presets.
//
// A strategy only ever proposes entries. Exits are owned by the engine's
// risk rules.
package strategy

import (
	"errors"
	"fmt"
	"sort"

	"dipsniper/internal/indicator"
	"dipsniper/internal/pattern"
)

// ErrUnknownPreset is returned by Registry.Get for an unregistered name.
var ErrUnknownPreset = errors.New("unknown strategy preset")

// Variant selects the entry rule set. The set is closed; Evaluate switches
// over it exhaustively.
type Variant string

const (
	Basic    Variant = "basic"
	Advanced Variant = "advanced"
)

// Valid reports whether v is one of the known variants.
func (v Variant) Valid() bool {
	return v == Basic || v == Advanced
}

// Decision is the outcome of evaluating one bar.
type Decision int

const (
	None Decision = iota
	Buy
)

func (d Decision) String() string {
	if d == Buy {
		return "BUY"
	}
	return "NONE"
}

// VolumeBasis is what the basic variant compares today's volume against.
type VolumeBasis string

const (
	VolumePrevDay VolumeBasis = "prev_day"
	VolumeMA5     VolumeBasis = "vol_ma5"
)

// ReboundPolicy is how the advanced variant confirms a bounce.
type ReboundPolicy string

const (
	// ReboundPrevClose requires close above the previous close.
	ReboundPrevClose ReboundPolicy = "prev_close"
	// ReboundCandleAndPrev requires close above open and above the previous close.
	ReboundCandleAndPrev ReboundPolicy = "candle_and_prev"
	// ReboundCandleOrPrev requires close above open or above the previous close.
	ReboundCandleOrPrev ReboundPolicy = "candle_or_prev"
	// ReboundPattern asks Config.Detector; without one it behaves like
	// ReboundCandleAndPrev.
	ReboundPattern ReboundPolicy = "pattern"
)

// Config holds the thresholds of one run. It is treated as immutable once a
// run starts.
type Config struct {
	Variant    Variant `yaml:"variant" json:"variant"`
	StopLoss   float64 `yaml:"stop_loss" json:"stop_loss"`
	TakeProfit float64 `yaml:"take_profit" json:"take_profit"`

	// Basic variant.
	VolumeFraction float64     `yaml:"volume_fraction" json:"volume_fraction"`
	VolumeBasis    VolumeBasis `yaml:"volume_basis" json:"volume_basis"`

	// Advanced variant.
	ProximityBand float64       `yaml:"proximity_band" json:"proximity_band"`
	DryUpFraction float64       `yaml:"dry_up_fraction" json:"dry_up_fraction"`
	Rebound       ReboundPolicy `yaml:"rebound" json:"rebound"`
	RSIMin        *float64      `yaml:"rsi_min,omitempty" json:"rsi_min,omitempty"`
	RSIMax        *float64      `yaml:"rsi_max,omitempty" json:"rsi_max,omitempty"`

	Detector pattern.Detector `yaml:"-" json:"-"`
}

// DefaultConfig returns the basic variant with the thresholds used by the
// batch backtests: 3% stop-loss, 5% take-profit, 70% volume drop.
func DefaultConfig() Config {
	return Config{
		Variant:        Basic,
		StopLoss:       0.03,
		TakeProfit:     0.05,
		VolumeFraction: 0.7,
		VolumeBasis:    VolumePrevDay,
		ProximityBand:  0.03,
		DryUpFraction:  0.7,
		Rebound:        ReboundPrevClose,
	}
}

// WithDefaults fills every zero-valued threshold from DefaultConfig.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.Variant == "" {
		c.Variant = d.Variant
	}
	if c.StopLoss == 0 {
		c.StopLoss = d.StopLoss
	}
	if c.TakeProfit == 0 {
		c.TakeProfit = d.TakeProfit
	}
	if c.VolumeFraction == 0 {
		c.VolumeFraction = d.VolumeFraction
	}
	if c.VolumeBasis == "" {
		c.VolumeBasis = d.VolumeBasis
	}
	if c.ProximityBand == 0 {
		c.ProximityBand = d.ProximityBand
	}
	if c.DryUpFraction == 0 {
		c.DryUpFraction = d.DryUpFraction
	}
	if c.Rebound == "" {
		c.Rebound = d.Rebound
	}
	return c
}

// Validate checks the thresholds for internal consistency.
func (c Config) Validate() error {
	if !c.Variant.Valid() {
		return fmt.Errorf("unknown variant %q", c.Variant)
	}
	if c.StopLoss <= 0 {
		return fmt.Errorf("stop_loss must be > 0, got %v", c.StopLoss)
	}
	if c.TakeProfit <= 0 {
		return fmt.Errorf("take_profit must be > 0, got %v", c.TakeProfit)
	}
	if c.VolumeFraction <= 0 || c.DryUpFraction <= 0 || c.ProximityBand <= 0 {
		return fmt.Errorf("volume_fraction, dry_up_fraction and proximity_band must be > 0")
	}
	switch c.VolumeBasis {
	case VolumePrevDay, VolumeMA5:
	default:
		return fmt.Errorf("unknown volume_basis %q", c.VolumeBasis)
	}
	switch c.Rebound {
	case ReboundPrevClose, ReboundCandleAndPrev, ReboundCandleOrPrev, ReboundPattern:
	default:
		return fmt.Errorf("unknown rebound policy %q", c.Rebound)
	}
	if c.RSIBandEnabled() && *c.RSIMin > *c.RSIMax {
		return fmt.Errorf("rsi_min %v above rsi_max %v", *c.RSIMin, *c.RSIMax)
	}
	return nil
}

// RSIBandEnabled reports whether both RSI bounds were supplied.
func (c Config) RSIBandEnabled() bool {
	return c.RSIMin != nil && c.RSIMax != nil
}

// WarmUp is the first bar index at which every indicator the variant reads
// can be defined.
func (c Config) WarmUp() int {
	if c.Variant == Advanced {
		return indicator.MA60Period
	}
	return indicator.MA20Period
}

// Condition is one named entry requirement and whether it held.
type Condition struct {
	Name string
	OK   bool
}

// Conditions evaluates every requirement of the configured variant at index.
// It returns nil when index has no prior bar or is out of range.
func Conditions(s indicator.Series, cfg Config, index int) []Condition {
	if index < 1 || index >= len(s) {
		return nil
	}
	switch cfg.Variant {
	case Basic:
		return basicConditions(s, cfg, index)
	case Advanced:
		return advancedConditions(s, cfg, index)
	}
	return nil
}

// Evaluate returns Buy when every condition of the configured variant holds
// at index, and None otherwise. An undefined indicator fails its condition.
func Evaluate(s indicator.Series, cfg Config, index int) Decision {
	conds := Conditions(s, cfg, index)
	if len(conds) == 0 {
		return None
	}
	for _, c := range conds {
		if !c.OK {
			return None
		}
	}
	return Buy
}

// ---------------------------------------------------------------------------
// Registry
// ---------------------------------------------------------------------------

// Preset is a named, ready-to-run strategy configuration.
type Preset struct {
	Name        string
	Description string
	Config      Config
}

// Registry holds named presets for lookup and enumeration.
type Registry struct {
	presets map[string]Preset
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		presets: make(map[string]Preset),
	}
}

// Register adds p, replacing any preset with the same name.
func (r *Registry) Register(p Preset) {
	r.presets[p.Name] = p
}

// Get retrieves a preset by name.
func (r *Registry) Get(name string) (Preset, error) {
	p, ok := r.presets[name]
	if !ok {
		return Preset{}, fmt.Errorf("%w: %q", ErrUnknownPreset, name)
	}
	return p, nil
}

// List returns all registered preset names in sorted order.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.presets))
	for name := range r.presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
