// Package broker connects the trader to an account: Alpaca for paper and
// live trading, or an in-memory simulator.
package broker

import (
	"context"

	"dipsniper/internal/domain"
)

// Broker is the account the trader sends whole-share market orders to.
type Broker interface {
	// Name is "alpaca" or "simulator"; it tags log lines.
	Name() string

	// SubmitOrder places order and returns it as the broker recorded it,
	// including the broker's ID and fill state.
	SubmitOrder(ctx context.Context, order *domain.Order) (*domain.Order, error)

	CancelOrder(ctx context.Context, orderID string) error

	// GetPositions lists open positions. The trader treats a symbol with
	// positive quantity as Long.
	GetPositions(ctx context.Context) ([]domain.Position, error)

	// GetAccount returns cash and equity; entries are sized from cash.
	GetAccount(ctx context.Context) (*domain.AccountInfo, error)
}
