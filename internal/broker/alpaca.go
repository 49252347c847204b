package broker

import (
	"context"
	"fmt"
	"strings"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/shopspring/decimal"

	"dipsniper/internal/domain"
)

// Compile-time interface check.
var _ Broker = (*AlpacaBroker)(nil)

// AlpacaBroker implements the Broker interface using the Alpaca trading API.
// Orders are whole-share day orders.
type AlpacaBroker struct {
	client *alpaca.Client
}

// NewAlpacaBroker creates a new AlpacaBroker configured with the given
// credentials and API endpoint (paper or live).
func NewAlpacaBroker(apiKey, apiSecret, baseURL string) *AlpacaBroker {
	return &AlpacaBroker{
		client: alpaca.NewClient(alpaca.ClientOpts{
			APIKey:    apiKey,
			APISecret: apiSecret,
			BaseURL:   baseURL,
		}),
	}
}

// Name returns "alpaca".
func (b *AlpacaBroker) Name() string {
	return "alpaca"
}

// SubmitOrder places the order with Alpaca and returns it as acknowledged.
func (b *AlpacaBroker) SubmitOrder(ctx context.Context, order *domain.Order) (*domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	qty := decimal.NewFromInt(order.Qty)
	req := alpaca.PlaceOrderRequest{
		Symbol:        order.Symbol,
		Qty:           &qty,
		Side:          alpaca.Buy,
		Type:          alpaca.Market,
		TimeInForce:   alpaca.Day,
		ClientOrderID: order.ID,
	}
	if order.Side == domain.OrderSideSell {
		req.Side = alpaca.Sell
	}
	if order.Type == domain.OrderTypeLimit {
		req.Type = alpaca.Limit
	}

	placed, err := b.client.PlaceOrder(req)
	if err != nil {
		return nil, fmt.Errorf("PlaceOrder %s: %w", order.Symbol, err)
	}
	return fromAlpacaOrder(placed, order), nil
}

// CancelOrder requests cancellation of an open order.
func (b *AlpacaBroker) CancelOrder(ctx context.Context, orderID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.client.CancelOrder(orderID); err != nil {
		return fmt.Errorf("CancelOrder %s: %w", orderID, err)
	}
	return nil
}

// GetPositions returns all open positions in the Alpaca account.
func (b *AlpacaBroker) GetPositions(ctx context.Context) ([]domain.Position, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	positions, err := b.client.GetPositions()
	if err != nil {
		return nil, fmt.Errorf("GetPositions: %w", err)
	}
	out := make([]domain.Position, 0, len(positions))
	for _, p := range positions {
		pos := domain.Position{
			Symbol:   p.Symbol,
			Qty:      p.Qty.IntPart(),
			AvgEntry: p.AvgEntryPrice.InexactFloat64(),
			Side:     domain.PositionSideLong,
		}
		if p.MarketValue != nil {
			pos.MarketVal = p.MarketValue.InexactFloat64()
		}
		if p.UnrealizedPL != nil {
			pos.Unrealized = p.UnrealizedPL.InexactFloat64()
		}
		out = append(out, pos)
	}
	return out, nil
}

// GetAccount returns the current account balances.
func (b *AlpacaBroker) GetAccount(ctx context.Context) (*domain.AccountInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	acct, err := b.client.GetAccount()
	if err != nil {
		return nil, fmt.Errorf("GetAccount: %w", err)
	}
	return &domain.AccountInfo{
		Equity:      acct.Equity.InexactFloat64(),
		Cash:        acct.Cash.InexactFloat64(),
		BuyingPower: acct.BuyingPower.InexactFloat64(),
	}, nil
}

func fromAlpacaOrder(o *alpaca.Order, req *domain.Order) *domain.Order {
	out := *req
	out.ID = o.ID
	out.Status = orderStatus(o.Status)
	out.FilledQty = o.FilledQty.IntPart()
	if o.FilledAvgPrice != nil {
		out.FilledAvgPrice = o.FilledAvgPrice.InexactFloat64()
	}
	out.CreatedAt = o.CreatedAt
	out.UpdatedAt = o.UpdatedAt
	return &out
}

func orderStatus(s string) domain.OrderStatus {
	switch strings.ToLower(s) {
	case "filled":
		return domain.OrderStatusFilled
	case "canceled", "cancelled", "expired":
		return domain.OrderStatusCancelled
	case "rejected":
		return domain.OrderStatusRejected
	default:
		return domain.OrderStatusNew
	}
}
