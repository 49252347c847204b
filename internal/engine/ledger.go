package engine

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"strconv"
	"time"
)

// Kind is the side of a recorded trade.
type Kind string

const (
	KindBuy  Kind = "BUY"
	KindSell Kind = "SELL"
)

// TradeEvent is one immutable ledger entry. RealizedReturn is only
// meaningful for SELL events: it is zero on BUY events and left out of their
// JSON and CSV forms. Cash is the cash balance right after the event.
type TradeEvent struct {
	Date           time.Time `json:"date"`
	Kind           Kind      `json:"kind"`
	Price          float64   `json:"price"`
	Shares         int64     `json:"shares"`
	RealizedReturn float64   `json:"realized_return"`
	Cash           float64   `json:"cash"`
}

// MarshalJSON writes realized_return on SELL events only.
func (ev TradeEvent) MarshalJSON() ([]byte, error) {
	type event TradeEvent
	out := struct {
		event
		RealizedReturn *float64 `json:"realized_return,omitempty"`
	}{event: event(ev)}
	if ev.Kind == KindSell {
		r := ev.RealizedReturn
		out.RealizedReturn = &r
	}
	return json.Marshal(out)
}

// Ledger is the append-only, chronologically ordered trade record of a run.
type Ledger []TradeEvent

// Sells returns only the SELL events.
func (l Ledger) Sells() []TradeEvent {
	var out []TradeEvent
	for _, ev := range l {
		if ev.Kind == KindSell {
			out = append(out, ev)
		}
	}
	return out
}

// LedgerHeader is the column order used by Records and WriteCSV.
var LedgerHeader = []string{"date", "kind", "price", "shares", "realized_return", "cash"}

// Records flattens the ledger into string rows matching LedgerHeader.
func (l Ledger) Records() [][]string {
	rows := make([][]string, 0, len(l))
	for _, ev := range l {
		ret := ""
		if ev.Kind == KindSell {
			ret = formatF(ev.RealizedReturn)
		}
		rows = append(rows, []string{
			ev.Date.Format("2006-01-02"),
			string(ev.Kind),
			formatF(ev.Price),
			strconv.FormatInt(ev.Shares, 10),
			ret,
			formatF(ev.Cash),
		})
	}
	return rows
}

// WriteCSV writes the ledger with a header row to w.
func (l Ledger) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(LedgerHeader); err != nil {
		return err
	}
	if err := cw.WriteAll(l.Records()); err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}

func formatF(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }
