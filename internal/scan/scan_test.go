package scan

import (
	"context"
	"math"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"dipsniper/internal/domain"
	"dipsniper/internal/indicator"
	"dipsniper/internal/store"
)

var day0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// trend builds n bars rising by step per bar; the last bar trades lastVol.
func trend(symbol string, n int, step float64, lastVol int64) []domain.Bar {
	bars := make([]domain.Bar, n)
	for i := range bars {
		c := 100 + float64(i)*step
		v := int64(1000)
		if i == n-1 {
			v = lastVol
		}
		bars[i] = domain.Bar{Symbol: symbol, Timestamp: day0.AddDate(0, 0, i), Open: c, High: c, Low: c, Close: c, Volume: v}
	}
	return bars
}

func TestScore(t *testing.T) {
	c, ok := Score(indicator.Augment(trend("UP", 80, 0.2, 300)), 0.03, 0.7)
	if !ok {
		t.Fatal("Score rejected a dip in an uptrend")
	}
	wantGain := (115.8 - 112.0) / 112.0
	wantRatio := 300.0 / 861.0
	want := wantGain*50 + (1-wantRatio)*30
	if math.Abs(c.Score-want) > 1e-9 {
		t.Errorf("Score = %v, want %v", c.Score, want)
	}
	if math.Abs(c.RecentGain-wantGain) > 1e-9 || math.Abs(c.VolRatio-wantRatio) > 1e-9 {
		t.Errorf("gain/ratio = %v/%v, want %v/%v", c.RecentGain, c.VolRatio, wantGain, wantRatio)
	}

	rejects := map[string][]domain.Bar{
		"flat":       trend("FLAT", 80, 0, 300),
		"normal vol": trend("VOL", 80, 0.2, 1000),
		"too steep":  trend("STEEP", 80, 1, 300),
		"short":      trend("SHORT", 40, 0.2, 300),
	}
	for name, bars := range rejects {
		if _, ok := Score(indicator.Augment(bars), 0.03, 0.7); ok {
			t.Errorf("%s: Score accepted", name)
		}
	}
}

func TestScan(t *testing.T) {
	dir := t.TempDir()
	ps := store.NewParquetStore(dir)
	ctx := context.Background()
	for _, bars := range [][]domain.Bar{
		trend("UP", 80, 0.2, 300),
		trend("DRY", 80, 0.2, 100),
		trend("FLAT", 80, 0, 300),
		trend("VOL", 80, 0.2, 1000),
	} {
		if err := ps.WriteBars(ctx, bars); err != nil {
			t.Fatal(err)
		}
	}

	now := func() time.Time { return day0.AddDate(0, 0, 80) }
	sc := NewScanner(ps, Options{TopN: 5, Now: now})
	cands, err := sc.Scan(ctx, nil)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if got := Symbols(cands); !reflect.DeepEqual(got, []string{"DRY", "UP"}) {
		t.Errorf("Scan = %v, want [DRY UP]", got)
	}

	top1, err := NewScanner(ps, Options{TopN: 1, Now: now}).Scan(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(top1) != 1 || top1[0].Symbol != "DRY" {
		t.Errorf("TopN=1 = %v, want [DRY]", Symbols(top1))
	}

	excl, err := NewScanner(ps, Options{Exclude: []string{"D*"}, Now: now}).Scan(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := Symbols(excl); !reflect.DeepEqual(got, []string{"UP"}) {
		t.Errorf("Scan excluding D* = %v, want [UP]", got)
	}

	path := filepath.Join(dir, "config", "candidates.json")
	if err := SaveCandidates(path, cands); err != nil {
		t.Fatal(err)
	}
	loaded, err := LoadCandidates(path)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(loaded, []string{"DRY", "UP"}) {
		t.Errorf("LoadCandidates = %v", loaded)
	}
}
