package tradeparams

import (
	"os"
	"path/filepath"
	"testing"

	"dipsniper/internal/strategy"
)

func TestSetGetPersist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "params", "trade-params.json")
	s := NewStore(path)

	if err := s.Set("aapl", KeyTakeProfit, 0.08); err != nil {
		t.Fatal(err)
	}
	if err := s.Set("AAPL", KeyStopLoss, 0.02); err != nil {
		t.Fatal(err)
	}
	if got := s.Get("AAPL"); got[KeyTakeProfit] != 0.08 || got[KeyStopLoss] != 0.02 {
		t.Errorf("Get(AAPL) = %v", got)
	}

	reloaded := NewStore(path)
	if got := reloaded.Get("aapl"); len(got) != 2 {
		t.Errorf("reloaded Get(aapl) = %v, want 2 keys", got)
	}

	reloaded.Delete("AAPL", KeyTakeProfit)
	reloaded.Delete("AAPL", KeyStopLoss)
	if snap := reloaded.Snapshot(); len(snap) != 0 {
		t.Errorf("Snapshot after deleting everything = %v", snap)
	}
}

func TestLoadNullFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trade-params.json")
	if err := os.WriteFile(path, []byte("null"), 0o644); err != nil {
		t.Fatal(err)
	}
	s := NewStore(path)
	if err := s.Set("AAPL", KeyTakeProfit, 0.1); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got := NewStore(path).Get("AAPL"); got[KeyTakeProfit] != 0.1 {
		t.Errorf("reloaded Get(AAPL) = %v", got)
	}
}

func TestSetRejects(t *testing.T) {
	s := NewStore("")
	if err := s.Set("AAPL", "leverage", 2); err == nil {
		t.Error("Set accepted an unknown key")
	}
	if err := s.Set("AAPL", KeyStopLoss, 0); err == nil {
		t.Error("Set accepted a zero stop loss")
	}
	if err := s.Set("AAPL", KeyRSIMin, 0); err != nil {
		t.Errorf("Set(rsi_min, 0) = %v, want nil", err)
	}
}

func TestApply(t *testing.T) {
	s := NewStore("")
	mustSet := func(sym, key string, v float64) {
		t.Helper()
		if err := s.Set(sym, key, v); err != nil {
			t.Fatal(err)
		}
	}
	mustSet(AllSymbols, KeyTakeProfit, 0.1)
	mustSet(AllSymbols, KeyStopLoss, 0.05)
	mustSet("TSLA", KeyTakeProfit, 0.2)
	mustSet("TSLA", KeyRSIMin, 30)
	mustSet("TSLA", KeyRSIMax, 70)

	base := strategy.DefaultConfig()

	msft := s.Apply(base, "MSFT")
	if msft.TakeProfit != 0.1 || msft.StopLoss != 0.05 || msft.RSIBandEnabled() {
		t.Errorf("MSFT config = %+v", msft)
	}

	tsla := s.Apply(base, "tsla")
	if tsla.TakeProfit != 0.2 || tsla.StopLoss != 0.05 {
		t.Errorf("TSLA tp/sl = %v/%v, want 0.2/0.05", tsla.TakeProfit, tsla.StopLoss)
	}
	if !tsla.RSIBandEnabled() || *tsla.RSIMin != 30 || *tsla.RSIMax != 70 {
		t.Errorf("TSLA RSI band = %v..%v", tsla.RSIMin, tsla.RSIMax)
	}
	if base.TakeProfit != 0.05 {
		t.Error("Apply modified its input")
	}
}

func TestSubscribe(t *testing.T) {
	s := NewStore("")
	if err := s.Set("AAPL", KeyTakeProfit, 0.08); err != nil {
		t.Fatal(err)
	}

	id, ch := s.Subscribe(4)
	snap := <-ch
	if snap.Type != "snapshot" || snap.Data["AAPL"][KeyTakeProfit] != 0.08 {
		t.Errorf("first event = %+v, want snapshot", snap)
	}

	if err := s.Set("MSFT", KeyStopLoss, 0.04); err != nil {
		t.Fatal(err)
	}
	ev := <-ch
	if ev.Type != "set" || ev.Symbol != "MSFT" || ev.Key != KeyStopLoss || ev.Value != 0.04 {
		t.Errorf("set event = %+v", ev)
	}

	s.Delete("MSFT", KeyStopLoss)
	if ev := <-ch; ev.Type != "delete" || ev.Symbol != "MSFT" {
		t.Errorf("delete event = %+v", ev)
	}

	s.Unsubscribe(id)
	if _, ok := <-ch; ok {
		t.Error("channel still open after Unsubscribe")
	}
}
