// Package store defines storage interfaces for persisting and retrieving
// bars, backtest runs with their ledgers, live orders and signals.
package store

import (
	"context"
	"errors"
	"time"

	"dipsniper/internal/domain"
	"dipsniper/internal/engine"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// BarStore persists and retrieves OHLCV bar data.
type BarStore interface {
	// WriteBars persists a batch of bars to storage.
	WriteBars(ctx context.Context, bars []domain.Bar) error

	// ReadBars returns bars for the given symbol and market within [start, end].
	ReadBars(ctx context.Context, symbol string, market string, start, end time.Time) ([]domain.Bar, error)

	// ListSymbols returns all distinct symbols available in the given market.
	ListSymbols(ctx context.Context, market string) ([]string, error)
}

// Run is one persisted backtest: its parameters, summary and ledger.
type Run struct {
	ID          string         `json:"id"`
	Symbol      string         `json:"symbol"`
	Market      string         `json:"market"`
	Preset      string         `json:"preset"`
	Variant     string         `json:"variant"`
	Start       time.Time      `json:"start"`
	End         time.Time      `json:"end"`
	InitialCash float64        `json:"initial_cash"`
	NAV         float64        `json:"nav"`
	Metrics     engine.Metrics `json:"metrics"`
	Config      string         `json:"config"` // strategy.Config as JSON
	CreatedAt   time.Time      `json:"created_at"`
	Ledger      engine.Ledger  `json:"ledger,omitempty"`
}

// RunFilter narrows ListRuns. Zero values match everything.
type RunFilter struct {
	Symbol string
	Preset string
	Limit  int
}

// RunStore persists backtest runs.
type RunStore interface {
	// SaveRun stores the run and its ledger atomically.
	SaveRun(ctx context.Context, run *Run) error

	// GetRun returns the run with its ledger, or ErrNotFound.
	GetRun(ctx context.Context, id string) (*Run, error)

	// ListRuns returns the most recent runs without ledgers.
	ListRuns(ctx context.Context, f RunFilter) ([]Run, error)
}

// OrderStore persists and retrieves live order records.
type OrderStore interface {
	// SaveOrder inserts a new order into storage.
	SaveOrder(ctx context.Context, order *domain.Order) error

	// GetOrder retrieves a single order by its ID.
	GetOrder(ctx context.Context, id string) (*domain.Order, error)

	// ListOrders returns all orders matching the given status.
	ListOrders(ctx context.Context, status domain.OrderStatus) ([]domain.Order, error)

	// UpdateOrder persists changes to an existing order.
	UpdateOrder(ctx context.Context, order *domain.Order) error
}

// SignalStore persists and retrieves trading signals.
type SignalStore interface {
	// SaveSignal inserts a new signal into storage.
	SaveSignal(ctx context.Context, signal *domain.Signal) error

	// ListSignals returns the most recent signals for a strategy, up to limit.
	ListSignals(ctx context.Context, strategyID string, limit int) ([]domain.Signal, error)
}
