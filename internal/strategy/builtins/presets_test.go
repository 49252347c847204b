package builtins

import (
	"testing"

	"dipsniper/internal/strategy"
)

func TestPresetsValidate(t *testing.T) {
	for _, p := range Presets(strategy.DefaultConfig()) {
		if err := p.Config.Validate(); err != nil {
			t.Errorf("preset %q: Validate() = %v", p.Name, err)
		}
	}
}

func TestPresetsInheritRiskThresholds(t *testing.T) {
	base := strategy.Config{StopLoss: 0.02, TakeProfit: 0.1}
	r := NewRegistry(base)

	for _, name := range r.List() {
		p, err := r.Get(name)
		if err != nil {
			t.Fatalf("Get(%q): %v", name, err)
		}
		if p.Config.StopLoss != 0.02 || p.Config.TakeProfit != 0.1 {
			t.Errorf("preset %q: SL/TP = %v/%v, want 0.02/0.1", name, p.Config.StopLoss, p.Config.TakeProfit)
		}
	}
}

func TestAdvancedRSIBandEnabled(t *testing.T) {
	r := NewRegistry(strategy.DefaultConfig())
	p, err := r.Get(AdvancedRSI)
	if err != nil {
		t.Fatal(err)
	}
	if !p.Config.RSIBandEnabled() {
		t.Fatal("advanced-rsi should enable the RSI band")
	}
	adv, _ := r.Get(Advanced)
	if adv.Config.RSIBandEnabled() {
		t.Fatal("advanced should leave the RSI band disabled")
	}
}
