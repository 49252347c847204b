// Package trader applies the dip strategy to live accounts: for each symbol
// it evaluates the newest daily bar with the same exit-then-entry rules the
// backtests use and sends the resulting orders to a broker.
package trader

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"dipsniper/internal/broker"
	"dipsniper/internal/domain"
	"dipsniper/internal/engine"
	"dipsniper/internal/indicator"
	"dipsniper/internal/store"
	"dipsniper/internal/strategy"
	"dipsniper/internal/util"
)

// Action is what the trader decided for a symbol.
type Action string

const (
	ActionHold Action = "hold"
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
	ActionSkip Action = "skip"
)

// Intent is the decision for one symbol and, once submitted, its order.
type Intent struct {
	Symbol string        `json:"symbol"`
	Action Action        `json:"action"`
	Date   time.Time     `json:"date"`
	Price  float64       `json:"price"`
	Qty    int64         `json:"qty,omitempty"`
	Return float64       `json:"return,omitempty"`
	Reason string        `json:"reason,omitempty"`
	Stale  bool          `json:"stale,omitempty"`
	Order  *domain.Order `json:"order,omitempty"`
	Err    string        `json:"error,omitempty"`
}

// Overrides adjusts the strategy configuration for one symbol.
type Overrides interface {
	Apply(cfg strategy.Config, symbol string) strategy.Config
}

// priceFeeder is implemented by brokers that fill at a supplied price,
// such as the simulator.
type priceFeeder interface {
	SetPrice(symbol string, price float64)
}

// Options configures a Trader.
type Options struct {
	Market         string
	StrategyID     string  // recorded on signals; usually the preset name
	LookbackDays   int     // calendar days of bars to load, default 180
	MaxPositionPct float64 // share of cash per entry, default 1
	// DryRun records signals without sending orders.
	DryRun bool
	// AllowStale lets orders go out when the newest bar predates the last
	// completed session. Otherwise such buys and sells are skipped.
	AllowStale bool
	Now        func() time.Time
}

// Trader evaluates symbols and routes orders.
type Trader struct {
	bars      store.BarStore
	broker    broker.Broker
	exec      *engine.Executor
	signals   store.SignalStore
	orders    store.OrderStore
	cfg       strategy.Config
	overrides Overrides
	cal       *util.TradingCalendar
	opts      Options
	log       *slog.Logger
}

// New creates a Trader. signals, orders and overrides may be nil.
func New(bars store.BarStore, b broker.Broker, cfg strategy.Config, signals store.SignalStore, orders store.OrderStore, overrides Overrides, opts Options) *Trader {
	if opts.Market == "" {
		opts.Market = string(domain.MarketUS)
	}
	if opts.LookbackDays <= 0 {
		opts.LookbackDays = 180
	}
	if opts.MaxPositionPct <= 0 || opts.MaxPositionPct > 1 {
		opts.MaxPositionPct = 1
	}
	if opts.StrategyID == "" {
		opts.StrategyID = string(cfg.Variant)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	risk := engine.NewRiskManager(cfg.TakeProfit, cfg.StopLoss).WithMaxPositionPct(opts.MaxPositionPct)
	return &Trader{
		bars:      bars,
		broker:    b,
		exec:      engine.NewExecutor(b, risk),
		signals:   signals,
		orders:    orders,
		cfg:       cfg,
		overrides: overrides,
		cal:       util.NewTradingCalendar(domain.Market(opts.Market)),
		opts:      opts,
		log:       slog.Default().With("component", "trader", "broker", b.Name()),
	}
}

// RunOnce evaluates every symbol in order and submits the resulting orders.
// Symbol level failures are reported on their Intent; only broker-wide
// failures abort the run.
func (t *Trader) RunOnce(ctx context.Context, symbols []string) ([]Intent, error) {
	positions, err := t.exec.GetPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching positions: %w", err)
	}
	held := make(map[string]domain.Position, len(positions))
	for _, p := range positions {
		if p.Qty > 0 {
			held[strings.ToUpper(p.Symbol)] = p
		}
	}

	intents := make([]Intent, 0, len(symbols))
	for _, sym := range symbols {
		if err := ctx.Err(); err != nil {
			return intents, err
		}
		sym = strings.ToUpper(sym)
		in := t.decide(ctx, sym, held)
		if in.Stale && !t.opts.AllowStale && (in.Action == ActionBuy || in.Action == ActionSell) {
			in.Reason = fmt.Sprintf("stale bar %s, %s not sent", in.Date.Format(domain.DateLayout), in.Action)
			in.Action = ActionSkip
		}
		if in.Action == ActionBuy || in.Action == ActionSell {
			t.act(ctx, &in)
		}
		t.log.Info("evaluated", "symbol", sym, "action", in.Action, "price", in.Price, "qty", in.Qty, "reason", in.Reason)
		intents = append(intents, in)
	}
	return intents, nil
}

// decide runs the exit-then-entry rules on sym's newest bar.
func (t *Trader) decide(ctx context.Context, sym string, held map[string]domain.Position) Intent {
	in := Intent{Symbol: sym, Action: ActionHold}
	cfg := t.cfg
	if t.overrides != nil {
		cfg = t.overrides.Apply(cfg, sym)
	}

	now := t.opts.Now()
	bars, err := t.bars.ReadBars(ctx, sym, t.opts.Market, now.AddDate(0, 0, -t.opts.LookbackDays), now)
	if err != nil {
		in.Action, in.Err = ActionSkip, err.Error()
		return in
	}
	if err := engine.Validate(bars); err != nil {
		in.Action, in.Err = ActionSkip, err.Error()
		return in
	}
	if len(bars) <= cfg.WarmUp() {
		in.Action, in.Reason = ActionSkip, fmt.Sprintf("need more than %d bars, have %d", cfg.WarmUp(), len(bars))
		return in
	}

	series := indicator.Augment(bars)
	last := series.Last()
	in.Date, in.Price = last.Timestamp, last.Close
	in.Stale = last.Date() < t.cal.LastCompletedSession(now).Format(domain.DateLayout)
	if pf, ok := t.broker.(priceFeeder); ok {
		pf.SetPrice(sym, last.Close)
	}

	risk := engine.NewRiskManager(cfg.TakeProfit, cfg.StopLoss).WithMaxPositionPct(t.opts.MaxPositionPct)

	if pos, ok := held[sym]; ok {
		pct, exit := risk.CheckExit(pos.AvgEntry, last.Close)
		in.Return = pct
		if exit {
			in.Action, in.Qty = ActionSell, pos.Qty
			in.Reason = "take profit"
			if pct < 0 {
				in.Reason = "stop loss"
			}
		} else {
			in.Reason = fmt.Sprintf("holding %d at %+.2f%%", pos.Qty, pct*100)
		}
		return in
	}

	if strategy.Evaluate(series, cfg, len(series)-1) != strategy.Buy {
		in.Reason = "no signal"
		return in
	}
	acct, err := t.exec.Account(ctx)
	if err != nil {
		in.Action, in.Err = ActionSkip, err.Error()
		return in
	}
	in.Qty = risk.Size(decimal.NewFromFloat(acct.Cash), decimal.NewFromFloat(last.Close))
	if in.Qty == 0 {
		in.Reason = "insufficient cash"
		return in
	}
	in.Action, in.Reason = ActionBuy, string(cfg.Variant)+" dip"
	return in
}

// act records the signal and, unless dry-running, submits the order.
func (t *Trader) act(ctx context.Context, in *Intent) {
	if t.signals != nil {
		sig := &domain.Signal{
			StrategyID: t.opts.StrategyID,
			Symbol:     in.Symbol,
			Type:       domain.SignalTypeBuy,
			Strength:   1,
			Metadata: map[string]string{
				"price":  strconv.FormatFloat(in.Price, 'f', -1, 64),
				"qty":    strconv.FormatInt(in.Qty, 10),
				"reason": in.Reason,
				"date":   in.Date.Format(domain.DateLayout),
			},
			CreatedAt: t.opts.Now().UTC(),
		}
		if in.Action == ActionSell {
			sig.Type = domain.SignalTypeSell
			sig.Strength = in.Return
		}
		if err := t.signals.SaveSignal(ctx, sig); err != nil {
			t.log.Error("saving signal", "symbol", in.Symbol, "err", err)
		}
	}
	if t.opts.DryRun {
		return
	}

	side := domain.OrderSideBuy
	if in.Action == ActionSell {
		side = domain.OrderSideSell
	}
	now := t.opts.Now().UTC()
	order := &domain.Order{
		ID:        uuid.NewString(),
		Symbol:    in.Symbol,
		Side:      side,
		Type:      domain.OrderTypeMarket,
		Status:    domain.OrderStatusNew,
		Qty:       in.Qty,
		CreatedAt: now,
		UpdatedAt: now,
	}
	placed, err := t.exec.SubmitOrder(ctx, order, in.Price)
	if err != nil {
		in.Err = err.Error()
		return
	}
	in.Order = placed
	if t.orders != nil {
		if err := t.orders.SaveOrder(ctx, placed); err != nil {
			t.log.Error("saving order", "id", placed.ID, "err", err)
		}
	}
}
