package broker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"dipsniper/internal/domain"
)

// Compile-time interface check.
var _ Broker = (*SimulatorBroker)(nil)

var (
	// ErrNoPrice is returned when an order is submitted for a symbol with no
	// known price.
	ErrNoPrice = errors.New("no price for symbol")
	// ErrInsufficient is returned when cash or shares do not cover an order.
	ErrInsufficient = errors.New("insufficient cash or position")
)

// SimulatorBroker implements the Broker interface for paper trading. Market
// orders fill immediately at the last price set with SetPrice. State lives in
// memory and is safe for concurrent use.
type SimulatorBroker struct {
	mu        sync.Mutex
	cash      decimal.Decimal
	prices    map[string]decimal.Decimal
	positions map[string]*domain.Position
	orders    map[string]*domain.Order
	now       func() time.Time
}

// NewSimulatorBroker creates a SimulatorBroker holding startingCash.
func NewSimulatorBroker(startingCash float64) *SimulatorBroker {
	return &SimulatorBroker{
		cash:      decimal.NewFromFloat(startingCash),
		prices:    make(map[string]decimal.Decimal),
		positions: make(map[string]*domain.Position),
		orders:    make(map[string]*domain.Order),
		now:       time.Now,
	}
}

// Name returns "simulator".
func (b *SimulatorBroker) Name() string {
	return "simulator"
}

// SetPrice records the price at which subsequent orders for symbol fill.
func (b *SimulatorBroker) SetPrice(symbol string, price float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prices[symbol] = decimal.NewFromFloat(price)
	if p, ok := b.positions[symbol]; ok {
		p.MarketVal = price * float64(p.Qty)
		p.Unrealized = (price - p.AvgEntry) * float64(p.Qty)
	}
}

// SubmitOrder fills the order immediately at the last known price. Orders
// that cannot be covered are recorded as rejected and return ErrInsufficient.
func (b *SimulatorBroker) SubmitOrder(_ context.Context, order *domain.Order) (*domain.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	o := *order
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	o.CreatedAt = b.now()
	o.UpdatedAt = o.CreatedAt

	price, ok := b.prices[o.Symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoPrice, o.Symbol)
	}
	qty := decimal.NewFromInt(o.Qty)
	notional := price.Mul(qty)

	pos := b.positions[o.Symbol]
	switch o.Side {
	case domain.OrderSideBuy:
		if o.Qty <= 0 || notional.GreaterThan(b.cash) {
			return b.reject(&o)
		}
		b.cash = b.cash.Sub(notional)
		if pos == nil {
			pos = &domain.Position{Symbol: o.Symbol, Side: domain.PositionSideLong, EntryDate: o.CreatedAt}
			b.positions[o.Symbol] = pos
		}
		cost := decimal.NewFromFloat(pos.AvgEntry).Mul(decimal.NewFromInt(pos.Qty)).Add(notional)
		pos.Qty += o.Qty
		pos.AvgEntry = cost.Div(decimal.NewFromInt(pos.Qty)).InexactFloat64()
	case domain.OrderSideSell:
		if o.Qty <= 0 || pos == nil || pos.Qty < o.Qty {
			return b.reject(&o)
		}
		b.cash = b.cash.Add(notional)
		pos.Qty -= o.Qty
		if pos.Qty == 0 {
			delete(b.positions, o.Symbol)
		}
	default:
		return b.reject(&o)
	}
	if pos != nil && pos.Qty > 0 {
		last := price.InexactFloat64()
		pos.MarketVal = last * float64(pos.Qty)
		pos.Unrealized = (last - pos.AvgEntry) * float64(pos.Qty)
	}

	o.Status = domain.OrderStatusFilled
	o.FilledQty = o.Qty
	o.FilledAvgPrice = price.InexactFloat64()
	b.orders[o.ID] = &o
	out := o
	return &out, nil
}

func (b *SimulatorBroker) reject(o *domain.Order) (*domain.Order, error) {
	o.Status = domain.OrderStatusRejected
	b.orders[o.ID] = o
	return nil, fmt.Errorf("%w: %s %d %s", ErrInsufficient, o.Side, o.Qty, o.Symbol)
}

// CancelOrder marks an open order as cancelled. Orders in a terminal state
// cannot be cancelled.
func (b *SimulatorBroker) CancelOrder(_ context.Context, orderID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.orders[orderID]
	if !ok {
		return fmt.Errorf("order %s not found", orderID)
	}
	if o.Status.Terminal() {
		return fmt.Errorf("order %s already %s", orderID, o.Status)
	}
	o.Status = domain.OrderStatusCancelled
	o.UpdatedAt = b.now()
	return nil
}

// GetPositions returns copies of all simulated positions sorted by symbol.
func (b *SimulatorBroker) GetPositions(_ context.Context) ([]domain.Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	positions := make([]domain.Position, 0, len(b.positions))
	for _, p := range b.positions {
		positions = append(positions, *p)
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i].Symbol < positions[j].Symbol })
	return positions, nil
}

// GetAccount returns cash and equity marked at the last known prices.
func (b *SimulatorBroker) GetAccount(_ context.Context) (*domain.AccountInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	equity := b.cash
	for sym, p := range b.positions {
		equity = equity.Add(b.prices[sym].Mul(decimal.NewFromInt(p.Qty)))
	}
	cash := b.cash.InexactFloat64()
	return &domain.AccountInfo{
		Equity:      equity.InexactFloat64(),
		Cash:        cash,
		BuyingPower: cash,
	}, nil
}
