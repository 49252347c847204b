// Package domain holds the core value types shared across dipsniper: bars,
// orders, positions, signals and account snapshots.
package domain

import "time"

// Market identifies the exchange group a symbol trades on.
type Market string

const (
	MarketUS Market = "us"
	MarketKR Market = "kr"
)

// Bar is one day of OHLCV data for a symbol.
type Bar struct {
	Symbol     string
	Timestamp  time.Time
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     int64
	TradeCount int64
	VWAP       float64
}

// Date is the bar's trading day in UTC as YYYY-MM-DD.
func (b Bar) Date() string { return b.Timestamp.UTC().Format(DateLayout) }

// OrderSide is the direction of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderType is the pricing instruction of an order.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// DateLayout is the YYYY-MM-DD form used for trading days throughout.
const DateLayout = "2006-01-02"

// OrderStatus tracks an order through its lifecycle.
type OrderStatus string

const (
	OrderStatusNew       OrderStatus = "new"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusRejected  OrderStatus = "rejected"
)

// Terminal reports whether no further transition is possible.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusFilled || s == OrderStatusCancelled || s == OrderStatusRejected
}

// Order is a trade intent sent to a broker.
type Order struct {
	ID             string
	Symbol         string
	Side           OrderSide
	Type           OrderType
	Status         OrderStatus
	Qty            int64
	FilledQty      int64
	FilledAvgPrice float64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// PositionSide is long or flat; dipsniper never shorts.
type PositionSide string

const (
	PositionSideLong PositionSide = "long"
	PositionSideFlat PositionSide = "flat"
)

// Position is a holding reported by a broker.
type Position struct {
	Symbol     string
	Qty        int64
	AvgEntry   float64
	Side       PositionSide
	EntryDate  time.Time
	MarketVal  float64
	Unrealized float64
}

// SignalType is the action proposed by a strategy or exit rule.
type SignalType string

const (
	SignalTypeBuy  SignalType = "buy"
	SignalTypeSell SignalType = "sell"
)

// Signal records a proposed action for auditing by the live trader.
type Signal struct {
	ID         int64
	StrategyID string
	Symbol     string
	Type       SignalType
	Strength   float64
	Metadata   map[string]string
	CreatedAt  time.Time
}

// AccountInfo is a snapshot of brokerage account balances.
type AccountInfo struct {
	Equity      float64
	Cash        float64
	BuyingPower float64
}
