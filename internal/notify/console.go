package notify

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"dipsniper/internal/backtest"
	"dipsniper/internal/engine"
	"dipsniper/internal/scan"
	"dipsniper/internal/trader"
)

var _ Notifier = (*Console)(nil)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("4"))
	headerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	buyStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	gainStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	lossStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

// Console prints reports and ledgers to a terminal.
type Console struct {
	w io.Writer
}

// NewConsole creates a Console writing to w.
func NewConsole(w io.Writer) *Console { return &Console{w: w} }

// Notify prints text with its Markdown emphasis stripped.
func (c *Console) Notify(_ context.Context, text string) error {
	plain := strings.NewReplacer("*", "", "`", "").Replace(text)
	_, err := fmt.Fprint(c.w, plain)
	return err
}

// PrintResult prints the run header and its ledger table.
func (c *Console) PrintResult(res *backtest.BacktestResult) error {
	_, err := fmt.Fprint(c.w, RenderResult(res))
	return err
}

// RenderResult formats a run as a styled ledger table followed by the
// headline numbers.
func RenderResult(res *backtest.BacktestResult) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf(" %s  %s  %s..%s ", res.Symbol, res.Preset,
		res.Start.Format("2006-01-02"), res.End.Format("2006-01-02"))))
	b.WriteString("\n")
	b.WriteString(RenderLedger(res.Ledger))

	ret := res.ReturnPct()
	retStyle := gainStyle
	if ret < 0 {
		retStyle = lossStyle
	}
	fmt.Fprintf(&b, "%s %s  %s %.2f  %s %d  %s %.1f%%  %s %.2f%%\n",
		dimStyle.Render("return"), retStyle.Render(fmt.Sprintf("%+.2f%%", ret)),
		dimStyle.Render("nav"), res.NAV,
		dimStyle.Render("trades"), res.Metrics.NumTrades,
		dimStyle.Render("win"), res.Metrics.WinRate,
		dimStyle.Render("maxDD"), res.Metrics.MaxDrawdown*100,
	)
	if res.Open != nil {
		fmt.Fprintf(&b, "%s %d @ %.2f (last %.2f, %+.2f%%)\n", dimStyle.Render("open"),
			res.Open.Shares, res.Open.EntryPrice, res.Open.LastClose, res.Open.Unrealized*100)
	}
	return b.String()
}

// RenderLedger formats trade events one per line.
func RenderLedger(ledger engine.Ledger) string {
	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("%-10s  %-4s  %10s  %8s  %8s  %14s", "DATE", "SIDE", "PRICE", "SHARES", "RETURN", "CASH")))
	b.WriteString("\n")
	for _, ev := range ledger {
		side := buyStyle.Render(fmt.Sprintf("%-4s", ev.Kind))
		ret := fmt.Sprintf("%8s", "")
		if ev.Kind == engine.KindSell {
			ret = fmt.Sprintf("%+7.2f%%", ev.RealizedReturn*100)
			if ev.RealizedReturn >= 0 {
				side, ret = gainStyle.Render(fmt.Sprintf("%-4s", ev.Kind)), gainStyle.Render(ret)
			} else {
				side, ret = lossStyle.Render(fmt.Sprintf("%-4s", ev.Kind)), lossStyle.Render(ret)
			}
		}
		fmt.Fprintf(&b, "%s  %s  %10.2f  %8d  %s  %14.2f\n",
			ev.Date.Format("2006-01-02"), side, ev.Price, ev.Shares, ret, ev.Cash)
	}
	return b.String()
}

// RenderBatch formats the per-preset comparison of a batch and names the
// winner.
func RenderBatch(rep *backtest.BatchReport) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf(" batch  %d runs ", len(rep.Results))))
	b.WriteString("\n")
	b.WriteString(headerStyle.Render(fmt.Sprintf("%-18s  %5s  %10s  %8s  %7s", "PRESET", "RUNS", "AVG RET", "WIN", "TRADES")))
	b.WriteString("\n")
	for _, s := range rep.Summary {
		style := gainStyle
		if s.AvgReturnPct < 0 {
			style = lossStyle
		}
		fmt.Fprintf(&b, "%-18s  %5d  %s  %7.1f%%  %7d\n",
			s.Preset, s.Runs, style.Render(fmt.Sprintf("%+9.2f%%", s.AvgReturnPct)), s.AvgWinRate, s.Trades)
	}
	if rep.Winner != "" {
		fmt.Fprintf(&b, "%s %s\n", dimStyle.Render("winner"), buyStyle.Render(rep.Winner))
	} else if len(rep.Summary) > 1 {
		fmt.Fprintf(&b, "%s\n", dimStyle.Render("no clear winner"))
	}
	if len(rep.Skipped) > 0 {
		fmt.Fprintf(&b, "%s %s\n", dimStyle.Render("skipped"), strings.Join(rep.Skipped, " "))
	}
	for sym, msg := range rep.Failed {
		fmt.Fprintf(&b, "%s %s: %s\n", lossStyle.Render("failed"), sym, msg)
	}
	return b.String()
}

// RenderCandidates formats scan results best first.
func RenderCandidates(cands []scan.Candidate) string {
	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("%-3s  %-8s  %-10s  %10s  %10s  %8s  %8s  %7s", "#", "SYMBOL", "DATE", "CLOSE", "MA20", "GAIN", "VOL/MA5", "SCORE")))
	b.WriteString("\n")
	for i, c := range cands {
		fmt.Fprintf(&b, "%-3d  %s  %-10s  %10.2f  %10.2f  %+7.2f%%  %8.2f  %7.2f\n",
			i+1, buyStyle.Render(fmt.Sprintf("%-8s", c.Symbol)), c.Date.Format("2006-01-02"),
			c.Close, c.MA20, c.RecentGain*100, c.VolRatio, c.Score)
	}
	if len(cands) == 0 {
		b.WriteString(dimStyle.Render("no candidates"))
		b.WriteString("\n")
	}
	return b.String()
}

// RenderIntents formats the trader's decisions, one symbol per line.
func RenderIntents(intents []trader.Intent) string {
	var b strings.Builder
	for _, in := range intents {
		action := dimStyle.Render(fmt.Sprintf("%-4s", in.Action))
		switch in.Action {
		case trader.ActionBuy:
			action = buyStyle.Render(fmt.Sprintf("%-4s", in.Action))
		case trader.ActionSell:
			action = gainStyle.Render(fmt.Sprintf("%-4s", in.Action))
			if in.Return < 0 {
				action = lossStyle.Render(fmt.Sprintf("%-4s", in.Action))
			}
		}
		line := fmt.Sprintf("%-8s  %s  %10.2f  %6d  %s", in.Symbol, action, in.Price, in.Qty, in.Reason)
		if in.Stale {
			line += dimStyle.Render("  (stale)")
		}
		if in.Err != "" {
			line += "  " + lossStyle.Render(in.Err)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}
