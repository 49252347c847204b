// Package notify delivers backtest and trading reports to people: a
// Telegram bot or the terminal.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"dipsniper/internal/backtest"
	"dipsniper/internal/trader"
)

// Notifier sends a preformatted message.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// Report is the summary of one backtest run.
type Report struct {
	Symbol      string
	Preset      string
	Currency    string
	InitialCash float64
	NAV         float64
	Events      int
	Closed      int
	WinRate     float64
}

// ProfitPct is the total return in percent.
func (r Report) ProfitPct() float64 {
	if r.InitialCash == 0 {
		return 0
	}
	return (r.NAV - r.InitialCash) / r.InitialCash * 100
}

// NewReport summarises res. Currency follows the market: KRW for "kr",
// USD otherwise.
func NewReport(res *backtest.BacktestResult) Report {
	cur := "$"
	if res.Market == "kr" {
		cur = "₩"
	}
	return Report{
		Symbol:      res.Symbol,
		Preset:      res.Preset,
		Currency:    cur,
		InitialCash: res.InitialCash,
		NAV:         res.NAV,
		Events:      len(res.Ledger),
		Closed:      res.Metrics.NumTrades,
		WinRate:     res.Metrics.WinRate,
	}
}

// FormatReport renders r as Telegram-flavoured Markdown.
func FormatReport(r Report) string {
	emoji := "📉"
	if r.NAV > r.InitialCash {
		emoji = "🚀"
	}
	var b strings.Builder
	b.WriteString("*DipSniper Backtest Report*\n")
	if r.Symbol != "" {
		fmt.Fprintf(&b, "%s `%s`\n", r.Symbol, r.Preset)
	}
	b.WriteString("--------------------------------\n")
	fmt.Fprintf(&b, "%s *Profit:* %.2f%%\n", emoji, r.ProfitPct())
	fmt.Fprintf(&b, "💰 *Final:* %s%s\n", r.Currency, humanize.Comma(int64(r.NAV+0.5)))
	fmt.Fprintf(&b, "📊 *Trades:* %d (%d closed, %.1f%% won)\n", r.Events, r.Closed, r.WinRate)
	return b.String()
}

// FormatIntents renders the orders of a trader run as Markdown. Holds and
// skips are counted, not listed. It returns "" when nothing traded.
func FormatIntents(intents []trader.Intent) string {
	var b strings.Builder
	var idle int
	for _, in := range intents {
		switch in.Action {
		case trader.ActionBuy:
			fmt.Fprintf(&b, "🟢 *BUY* `%s` %d @ %.2f\n", in.Symbol, in.Qty, in.Price)
		case trader.ActionSell:
			fmt.Fprintf(&b, "🔴 *SELL* `%s` %d @ %.2f (%+.2f%%, %s)\n", in.Symbol, in.Qty, in.Price, in.Return*100, in.Reason)
		default:
			idle++
			continue
		}
		if in.Err != "" {
			fmt.Fprintf(&b, "⚠️ %s\n", in.Err)
		}
	}
	if b.Len() == 0 {
		return ""
	}
	return fmt.Sprintf("*DipSniper Orders*\n%s_%d symbols unchanged_\n", b.String(), idle)
}

// SendReport formats r and delivers it through every notifier. All
// notifiers are tried; their errors are joined.
func SendReport(ctx context.Context, r Report, notifiers ...Notifier) error {
	text := FormatReport(r)
	var errs []error
	for _, n := range notifiers {
		if err := n.Notify(ctx, text); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
