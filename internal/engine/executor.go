package engine

import (
	"context"
	"fmt"
	"log/slog"

	"dipsniper/internal/broker"
	"dipsniper/internal/domain"
)

// Executor routes live orders to a broker after pre-trade risk checks.
type Executor struct {
	broker broker.Broker
	risk   *RiskManager
	log    *slog.Logger
}

// NewExecutor creates an Executor wired with the given broker and risk manager.
func NewExecutor(b broker.Broker, risk *RiskManager) *Executor {
	return &Executor{
		broker: b,
		risk:   risk,
		log:    slog.Default().With("component", "executor", "broker", b.Name()),
	}
}

// SubmitOrder checks the order against the account and the exposure limit
// using refPrice, then forwards it to the broker.
func (x *Executor) SubmitOrder(ctx context.Context, order *domain.Order, refPrice float64) (*domain.Order, error) {
	account, err := x.broker.GetAccount(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching account: %w", err)
	}
	if err := x.risk.CheckOrder(ctx, order, account, refPrice); err != nil {
		x.log.Warn("order rejected by risk check", "symbol", order.Symbol, "error", err)
		return nil, err
	}
	placed, err := x.broker.SubmitOrder(ctx, order)
	if err != nil {
		return nil, fmt.Errorf("submitting %s %s: %w", order.Side, order.Symbol, err)
	}
	x.log.Info("order submitted",
		"id", placed.ID,
		"symbol", placed.Symbol,
		"side", placed.Side,
		"qty", placed.Qty,
		"status", placed.Status,
	)
	return placed, nil
}

// CancelOrder requests cancellation of an open order.
func (x *Executor) CancelOrder(ctx context.Context, orderID string) error {
	if err := x.broker.CancelOrder(ctx, orderID); err != nil {
		return fmt.Errorf("cancelling order %s: %w", orderID, err)
	}
	return nil
}

// GetPositions returns all currently open positions at the broker.
func (x *Executor) GetPositions(ctx context.Context) ([]domain.Position, error) {
	return x.broker.GetPositions(ctx)
}

// Account returns the broker's account snapshot.
func (x *Executor) Account(ctx context.Context) (*domain.AccountInfo, error) {
	return x.broker.GetAccount(ctx)
}
