package trader

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"dipsniper/internal/broker"
	"dipsniper/internal/domain"
	"dipsniper/internal/store"
	"dipsniper/internal/strategy"
)

var day0 = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

// dipSeries climbs by 1 per bar with a low-volume down day every fifth bar.
// With 25 bars the last bar is a dip the basic preset buys at 122.5.
func dipSeries(symbol string, n int) []domain.Bar {
	bars := make([]domain.Bar, n)
	for i := range bars {
		c := 100 + float64(i)
		v := int64(1000)
		if i%5 == 4 {
			c -= 1.5
			v = 500
		}
		bars[i] = domain.Bar{Symbol: symbol, Timestamp: day0.AddDate(0, 0, i), Open: c, High: c, Low: c, Close: c, Volume: v}
	}
	return bars
}

type fixture struct {
	sim *broker.SimulatorBroker
	db  *store.SQLiteStore
	tr  *Trader
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	dir := t.TempDir()
	ps := store.NewParquetStore(dir)
	ctx := context.Background()
	if err := ps.WriteBars(ctx, dipSeries("TEST", 25)); err != nil {
		t.Fatal(err)
	}
	if err := ps.WriteBars(ctx, dipSeries("UP", 24)); err != nil {
		t.Fatal(err)
	}
	db, err := store.NewSQLiteStore(filepath.Join(dir, "trader.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	sim := broker.NewSimulatorBroker(10000)
	sim.SetPrice("TEST", 122.5)
	sim.SetPrice("UP", 123)

	opts.StrategyID = "basic"
	opts.Now = func() time.Time { return day0.AddDate(0, 0, 25) }
	return &fixture{sim: sim, db: db, tr: New(ps, sim, strategy.DefaultConfig(), db, db, nil, opts)}
}

func TestRunOnceBuys(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	intents, err := f.tr.RunOnce(ctx, []string{"test", "UP", "MISSING"})
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if len(intents) != 3 {
		t.Fatalf("got %d intents, want 3", len(intents))
	}

	buy := intents[0]
	if buy.Action != ActionBuy || buy.Qty != 81 || buy.Price != 122.5 {
		t.Errorf("TEST intent = %+v, want buy 81 @ 122.5", buy)
	}
	if buy.Order == nil || buy.Order.Status != domain.OrderStatusFilled {
		t.Fatalf("TEST order = %+v, want filled", buy.Order)
	}
	if intents[1].Action != ActionHold || intents[1].Reason != "no signal" {
		t.Errorf("UP intent = %+v, want hold", intents[1])
	}
	if intents[2].Action != ActionSkip {
		t.Errorf("MISSING intent = %+v, want skip", intents[2])
	}

	sigs, err := f.db.ListSignals(ctx, "basic", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(sigs) != 1 || sigs[0].Type != domain.SignalTypeBuy || sigs[0].Metadata["qty"] != "81" {
		t.Errorf("signals = %+v", sigs)
	}
	saved, err := f.db.GetOrder(ctx, buy.Order.ID)
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if saved.Qty != 81 || saved.Side != domain.OrderSideBuy {
		t.Errorf("saved order = %+v", saved)
	}

	// Now long: the same bar neither re-enters nor exits.
	again, err := f.tr.RunOnce(ctx, []string{"TEST"})
	if err != nil {
		t.Fatal(err)
	}
	if again[0].Action != ActionHold {
		t.Errorf("second run = %+v, want hold", again[0])
	}
}

func TestRunOnceTakesProfit(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	f.sim.SetPrice("TEST", 100)
	if _, err := f.sim.SubmitOrder(ctx, &domain.Order{Symbol: "TEST", Side: domain.OrderSideBuy, Type: domain.OrderTypeMarket, Qty: 50}); err != nil {
		t.Fatal(err)
	}
	f.sim.SetPrice("TEST", 122.5)

	intents, err := f.tr.RunOnce(ctx, []string{"TEST"})
	if err != nil {
		t.Fatal(err)
	}
	in := intents[0]
	if in.Action != ActionSell || in.Qty != 50 || in.Reason != "take profit" {
		t.Errorf("intent = %+v, want sell 50 on take profit", in)
	}
	if in.Return < 0.2249 || in.Return > 0.2251 {
		t.Errorf("Return = %v, want 0.225", in.Return)
	}
	positions, _ := f.sim.GetPositions(ctx)
	if len(positions) != 0 {
		t.Errorf("positions after sell = %+v", positions)
	}
}

func TestRunOnceDryRun(t *testing.T) {
	f := newFixture(t, Options{DryRun: true})
	ctx := context.Background()

	intents, err := f.tr.RunOnce(ctx, []string{"TEST"})
	if err != nil {
		t.Fatal(err)
	}
	if intents[0].Action != ActionBuy || intents[0].Order != nil {
		t.Errorf("dry-run intent = %+v, want buy without order", intents[0])
	}
	acct, _ := f.sim.GetAccount(ctx)
	if acct.Cash != 10000 {
		t.Errorf("cash = %v, dry run must not trade", acct.Cash)
	}
	sigs, _ := f.db.ListSignals(ctx, "basic", 10)
	if len(sigs) != 1 {
		t.Errorf("dry run recorded %d signals, want 1", len(sigs))
	}
}

func TestRunOnceCapsPosition(t *testing.T) {
	f := newFixture(t, Options{MaxPositionPct: 0.5})
	intents, err := f.tr.RunOnce(context.Background(), []string{"TEST"})
	if err != nil {
		t.Fatal(err)
	}
	// floor(5000 / 122.5) = 40
	if intents[0].Qty != 40 || intents[0].Order == nil {
		t.Errorf("intent = %+v, want a filled buy of 40", intents[0])
	}
}

func TestRunOnceSkipsStaleBar(t *testing.T) {
	f := newFixture(t, Options{})
	f.tr.opts.Now = func() time.Time { return day0.AddDate(0, 2, 0) }
	ctx := context.Background()

	intents, err := f.tr.RunOnce(ctx, []string{"TEST"})
	if err != nil {
		t.Fatal(err)
	}
	in := intents[0]
	if !in.Stale || in.Action != ActionSkip || in.Order != nil {
		t.Fatalf("intent = %+v, want a stale skip without order", in)
	}
	if in.Reason != "stale bar 2024-01-26, buy not sent" {
		t.Errorf("Reason = %q", in.Reason)
	}
	acct, _ := f.sim.GetAccount(ctx)
	if acct.Cash != 10000 {
		t.Errorf("cash = %v, stale bar must not trade", acct.Cash)
	}
	if sigs, _ := f.db.ListSignals(ctx, "basic", 10); len(sigs) != 0 {
		t.Errorf("stale bar recorded %d signals, want 0", len(sigs))
	}

	f.tr.opts.AllowStale = true
	intents, err = f.tr.RunOnce(ctx, []string{"TEST"})
	if err != nil {
		t.Fatal(err)
	}
	if intents[0].Action != ActionBuy || intents[0].Order == nil {
		t.Errorf("AllowStale intent = %+v, want a submitted buy", intents[0])
	}
}
