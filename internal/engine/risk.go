package engine

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"dipsniper/internal/domain"
)

// RiskManager owns the exit rule of an open position and the sizing of new
// entries. In live trading it also enforces a pre-trade exposure limit.
type RiskManager struct {
	takeProfit     float64
	stopLoss       float64
	maxPositionPct float64
}

// NewRiskManager creates a RiskManager with the given exit thresholds,
// expressed as fractional returns from the entry price (e.g. 0.05 for 5%).
// Entries are sized with all available cash until WithMaxPositionPct is used.
func NewRiskManager(takeProfit, stopLoss float64) *RiskManager {
	return &RiskManager{
		takeProfit:     takeProfit,
		stopLoss:       stopLoss,
		maxPositionPct: 1,
	}
}

// WithMaxPositionPct caps the fraction of cash (or equity, for CheckOrder)
// committed to a single position. Values outside (0, 1] are ignored.
func (rm *RiskManager) WithMaxPositionPct(pct float64) *RiskManager {
	if pct > 0 && pct <= 1 {
		rm.maxPositionPct = pct
	}
	return rm
}

// ReturnFrom is the fractional return of price relative to entry.
func ReturnFrom(entry, price float64) float64 {
	return (price - entry) / entry
}

// CheckExit reports the return from entry to price and whether it crosses
// a threshold. Both comparisons are strict: a return of exactly the
// take-profit or exactly minus the stop-loss keeps the position open.
func (rm *RiskManager) CheckExit(entry, price float64) (pct float64, exit bool) {
	pct = ReturnFrom(entry, price)
	return pct, pct > rm.takeProfit || pct < -rm.stopLoss
}

// Size returns the whole number of shares affordable at price with the
// permitted share of cash. It never returns a quantity whose cost exceeds
// that budget.
func (rm *RiskManager) Size(cash, price decimal.Decimal) int64 {
	if !price.IsPositive() || !cash.IsPositive() {
		return 0
	}
	budget := cash
	if rm.maxPositionPct < 1 {
		budget = cash.Mul(decimal.NewFromFloat(rm.maxPositionPct))
	}
	shares := budget.Div(price).Floor().IntPart()
	for shares > 0 && price.Mul(decimal.NewFromInt(shares)).GreaterThan(budget) {
		shares--
	}
	return shares
}

// CheckOrder evaluates whether a proposed live order complies with the
// exposure limit given the account state and a reference price.
func (rm *RiskManager) CheckOrder(_ context.Context, order *domain.Order, account *domain.AccountInfo, price float64) error {
	if order.Qty <= 0 {
		return fmt.Errorf("order %s: quantity must be positive, got %d", order.Symbol, order.Qty)
	}
	if order.Side != domain.OrderSideBuy {
		return nil
	}
	notional := float64(order.Qty) * price
	if notional > account.Cash {
		return fmt.Errorf("order %s: notional %.2f exceeds cash %.2f", order.Symbol, notional, account.Cash)
	}
	if limit := rm.maxPositionPct * account.Equity; notional > limit {
		return fmt.Errorf("order %s: notional %.2f exceeds position limit %.2f", order.Symbol, notional, limit)
	}
	return nil
}
