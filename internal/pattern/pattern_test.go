package pattern

import (
	"testing"

	"dipsniper/internal/domain"
)

func c(o, h, l, cl float64) domain.Bar {
	return domain.Bar{Open: o, High: h, Low: l, Close: cl}
}

func TestHammer(t *testing.T) {
	if !Hammer(c(100, 105, 80, 104)) {
		t.Fatal("expected hammer for long lower wick candle")
	}
	if Hammer(c(100, 120, 99, 101)) {
		t.Fatal("long upper wick should not be a hammer")
	}
}

func TestBullishEngulfing(t *testing.T) {
	prev := c(105, 106, 99, 100)
	cur := c(99, 108, 98, 107)
	if !BullishEngulfing(prev, cur) {
		t.Fatal("expected bullish engulfing")
	}
	if BullishEngulfing(cur, prev) {
		t.Fatal("reversed order should not engulf")
	}
}

func TestCandlestickDetector(t *testing.T) {
	var d Detector = Candlestick{}
	if d.Name() != "candlestick" {
		t.Errorf("Name() = %q, want %q", d.Name(), "candlestick")
	}
	flat := c(100, 100, 100, 100)
	if d.Bullish(flat, flat) {
		t.Error("flat candles should not be bullish")
	}
	if !d.Bullish(flat, c(100, 105, 80, 104)) {
		t.Error("hammer should be reported bullish")
	}
}
