package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

// State is the position state of a single-symbol portfolio.
type State int

const (
	Flat State = iota
	Long
)

func (s State) String() string {
	if s == Long {
		return "long"
	}
	return "flat"
}

// Position is the one open holding of a Long portfolio.
type Position struct {
	EntryPrice float64   `json:"entry_price"`
	Shares     int64     `json:"shares"`
	EntryDate  time.Time `json:"entry_date"`
}

// Portfolio is cash plus at most one open Position. It is the two-state
// machine Flat <-> Long; every transition yields a TradeEvent.
type Portfolio struct {
	cash decimal.Decimal
	pos  *Position
}

// NewPortfolio creates a Flat portfolio holding cash.
func NewPortfolio(cash decimal.Decimal) *Portfolio {
	return &Portfolio{cash: cash}
}

// State reports Flat or Long.
func (p *Portfolio) State() State {
	if p.pos != nil {
		return Long
	}
	return Flat
}

// Cash returns uninvested cash.
func (p *Portfolio) Cash() decimal.Decimal { return p.cash }

// Position returns the open position, if any.
func (p *Portfolio) Position() (Position, bool) {
	if p.pos == nil {
		return Position{}, false
	}
	return *p.pos, true
}

// Enter opens a position of shares at price. It refuses (returning false)
// when already Long or when shares is not positive.
func (p *Portfolio) Enter(date time.Time, price decimal.Decimal, shares int64) (TradeEvent, bool) {
	if p.pos != nil || shares <= 0 {
		return TradeEvent{}, false
	}
	cost := price.Mul(decimal.NewFromInt(shares))
	p.cash = p.cash.Sub(cost)
	p.pos = &Position{
		EntryPrice: price.InexactFloat64(),
		Shares:     shares,
		EntryDate:  date,
	}
	return TradeEvent{
		Date:   date,
		Kind:   KindBuy,
		Price:  price.InexactFloat64(),
		Shares: shares,
		Cash:   p.cash.InexactFloat64(),
	}, true
}

// Exit closes the open position at price, recording ret as the realized
// return. It refuses (returning false) when Flat.
func (p *Portfolio) Exit(date time.Time, price decimal.Decimal, ret float64) (TradeEvent, bool) {
	if p.pos == nil {
		return TradeEvent{}, false
	}
	shares := p.pos.Shares
	p.cash = p.cash.Add(price.Mul(decimal.NewFromInt(shares)))
	p.pos = nil
	return TradeEvent{
		Date:           date,
		Kind:           KindSell,
		Price:          price.InexactFloat64(),
		Shares:         shares,
		RealizedReturn: ret,
		Cash:           p.cash.InexactFloat64(),
	}, true
}

// NAV is cash plus the open position marked at lastClose.
func (p *Portfolio) NAV(lastClose decimal.Decimal) decimal.Decimal {
	if p.pos == nil {
		return p.cash
	}
	return p.cash.Add(lastClose.Mul(decimal.NewFromInt(p.pos.Shares)))
}
