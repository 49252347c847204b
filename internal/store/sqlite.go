package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"dipsniper/internal/domain"
	"dipsniper/internal/engine"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface checks.
var _ RunStore = (*SQLiteStore)(nil)
var _ OrderStore = (*SQLiteStore)(nil)
var _ SignalStore = (*SQLiteStore)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id            TEXT PRIMARY KEY,
	symbol        TEXT NOT NULL,
	market        TEXT NOT NULL,
	preset        TEXT NOT NULL,
	variant       TEXT NOT NULL,
	start_ms      INTEGER NOT NULL,
	end_ms        INTEGER NOT NULL,
	initial_cash  REAL NOT NULL,
	nav           REAL NOT NULL,
	metrics       TEXT NOT NULL,
	config        TEXT NOT NULL,
	created_ms    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS runs_symbol ON runs(symbol, created_ms);

CREATE TABLE IF NOT EXISTS trade_events (
	run_id           TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	seq              INTEGER NOT NULL,
	date_ms          INTEGER NOT NULL,
	kind             TEXT NOT NULL,
	price            REAL NOT NULL,
	shares           INTEGER NOT NULL,
	realized_return  REAL NOT NULL,
	cash             REAL NOT NULL,
	PRIMARY KEY (run_id, seq)
);

CREATE TABLE IF NOT EXISTS orders (
	id                TEXT PRIMARY KEY,
	symbol            TEXT NOT NULL,
	side              TEXT NOT NULL,
	type              TEXT NOT NULL,
	status            TEXT NOT NULL,
	qty               INTEGER NOT NULL,
	filled_qty        INTEGER NOT NULL,
	filled_avg_price  REAL NOT NULL,
	created_ms        INTEGER NOT NULL,
	updated_ms        INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS signals (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	strategy_id  TEXT NOT NULL,
	symbol       TEXT NOT NULL,
	type         TEXT NOT NULL,
	strength     REAL NOT NULL,
	metadata     TEXT NOT NULL,
	created_ms   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS signals_strategy ON signals(strategy_id, created_ms);
`

// SQLiteStore implements RunStore, OrderStore, and SignalStore backed by a
// SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, applies the
// schema and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// SQLite allows one writer; batch runs save concurrently.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// RunStore implementation
// ---------------------------------------------------------------------------

// SaveRun inserts the run and its ledger in one transaction.
func (s *SQLiteStore) SaveRun(ctx context.Context, run *Run) error {
	metrics, err := json.Marshal(run.Metrics)
	if err != nil {
		return fmt.Errorf("encoding metrics: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `INSERT INTO runs
		(id, symbol, market, preset, variant, start_ms, end_ms, initial_cash, nav, metrics, config, created_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Symbol, run.Market, run.Preset, run.Variant,
		run.Start.UnixMilli(), run.End.UnixMilli(),
		run.InitialCash, run.NAV, string(metrics), run.Config, run.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("inserting run %s: %w", run.ID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO trade_events
		(run_id, seq, date_ms, kind, price, shares, realized_return, cash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i, ev := range run.Ledger {
		if _, err := stmt.ExecContext(ctx, run.ID, i, ev.Date.UnixMilli(), string(ev.Kind),
			ev.Price, ev.Shares, ev.RealizedReturn, ev.Cash); err != nil {
			return fmt.Errorf("inserting trade event %d of run %s: %w", i, run.ID, err)
		}
	}
	return tx.Commit()
}

const runColumns = `id, symbol, market, preset, variant, start_ms, end_ms, initial_cash, nav, metrics, config, created_ms`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var (
		r                         Run
		startMS, endMS, createdMS int64
		metrics                   string
	)
	if err := row.Scan(&r.ID, &r.Symbol, &r.Market, &r.Preset, &r.Variant,
		&startMS, &endMS, &r.InitialCash, &r.NAV, &metrics, &r.Config, &createdMS); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(metrics), &r.Metrics); err != nil {
		return nil, fmt.Errorf("decoding metrics of run %s: %w", r.ID, err)
	}
	r.Start = time.UnixMilli(startMS).UTC()
	r.End = time.UnixMilli(endMS).UTC()
	r.CreatedAt = time.UnixMilli(createdMS).UTC()
	return &r, nil
}

// GetRun returns the run with its ledger in event order.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	run, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT date_ms, kind, price, shares, realized_return, cash
		FROM trade_events WHERE run_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	run.Ledger = engine.Ledger{}
	for rows.Next() {
		var (
			ev     engine.TradeEvent
			dateMS int64
			kind   string
		)
		if err := rows.Scan(&dateMS, &kind, &ev.Price, &ev.Shares, &ev.RealizedReturn, &ev.Cash); err != nil {
			return nil, err
		}
		ev.Date = time.UnixMilli(dateMS).UTC()
		ev.Kind = engine.Kind(kind)
		run.Ledger = append(run.Ledger, ev)
	}
	return run, rows.Err()
}

// ListRuns returns runs newest first, without ledgers.
func (s *SQLiteStore) ListRuns(ctx context.Context, f RunFilter) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE 1=1`
	var args []any
	if f.Symbol != "" {
		query += ` AND symbol = ?`
		args = append(args, f.Symbol)
	}
	if f.Preset != "" {
		query += ` AND preset = ?`
		args = append(args, f.Preset)
	}
	query += ` ORDER BY created_ms DESC, id`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// ---------------------------------------------------------------------------
// OrderStore implementation
// ---------------------------------------------------------------------------

// SaveOrder inserts a new order into the database.
func (s *SQLiteStore) SaveOrder(ctx context.Context, o *domain.Order) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO orders
		(id, symbol, side, type, status, qty, filled_qty, filled_avg_price, created_ms, updated_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.Symbol, string(o.Side), string(o.Type), string(o.Status),
		o.Qty, o.FilledQty, o.FilledAvgPrice, o.CreatedAt.UnixMilli(), o.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("inserting order %s: %w", o.ID, err)
	}
	return nil
}

const orderColumns = `id, symbol, side, type, status, qty, filled_qty, filled_avg_price, created_ms, updated_ms`

func scanOrder(row rowScanner) (*domain.Order, error) {
	var (
		o                    domain.Order
		side, typ, status    string
		createdMS, updatedMS int64
	)
	if err := row.Scan(&o.ID, &o.Symbol, &side, &typ, &status,
		&o.Qty, &o.FilledQty, &o.FilledAvgPrice, &createdMS, &updatedMS); err != nil {
		return nil, err
	}
	o.Side = domain.OrderSide(side)
	o.Type = domain.OrderType(typ)
	o.Status = domain.OrderStatus(status)
	o.CreatedAt = time.UnixMilli(createdMS).UTC()
	o.UpdatedAt = time.UnixMilli(updatedMS).UTC()
	return &o, nil
}

// GetOrder retrieves a single order by its ID.
func (s *SQLiteStore) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	o, err := scanOrder(s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	return o, err
}

// ListOrders returns all orders matching the given status, oldest first.
func (s *SQLiteStore) ListOrders(ctx context.Context, status domain.OrderStatus) ([]domain.Order, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE status = ? ORDER BY created_ms, id`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

// UpdateOrder persists status and fill changes to an existing order.
func (s *SQLiteStore) UpdateOrder(ctx context.Context, o *domain.Order) error {
	res, err := s.db.ExecContext(ctx, `UPDATE orders
		SET status = ?, filled_qty = ?, filled_avg_price = ?, updated_ms = ?
		WHERE id = ?`,
		string(o.Status), o.FilledQty, o.FilledAvgPrice, o.UpdatedAt.UnixMilli(), o.ID)
	if err != nil {
		return fmt.Errorf("updating order %s: %w", o.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("order %s: %w", o.ID, ErrNotFound)
	}
	return nil
}

// ---------------------------------------------------------------------------
// SignalStore implementation
// ---------------------------------------------------------------------------

// SaveSignal inserts a new signal and sets its ID.
func (s *SQLiteStore) SaveSignal(ctx context.Context, sig *domain.Signal) error {
	meta, err := json.Marshal(sig.Metadata)
	if err != nil {
		return fmt.Errorf("encoding signal metadata: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO signals
		(strategy_id, symbol, type, strength, metadata, created_ms)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sig.StrategyID, sig.Symbol, string(sig.Type), sig.Strength, string(meta), sig.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("inserting signal: %w", err)
	}
	sig.ID, err = res.LastInsertId()
	return err
}

// ListSignals returns the most recent signals for a strategy, up to limit.
func (s *SQLiteStore) ListSignals(ctx context.Context, strategyID string, limit int) ([]domain.Signal, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, strategy_id, symbol, type, strength, metadata, created_ms
		FROM signals WHERE strategy_id = ? ORDER BY created_ms DESC, id DESC LIMIT ?`, strategyID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var signals []domain.Signal
	for rows.Next() {
		var (
			sig       domain.Signal
			typ, meta string
			createdMS int64
		)
		if err := rows.Scan(&sig.ID, &sig.StrategyID, &sig.Symbol, &typ, &sig.Strength, &meta, &createdMS); err != nil {
			return nil, err
		}
		sig.Type = domain.SignalType(typ)
		sig.CreatedAt = time.UnixMilli(createdMS).UTC()
		if err := json.Unmarshal([]byte(meta), &sig.Metadata); err != nil {
			return nil, fmt.Errorf("decoding signal %d metadata: %w", sig.ID, err)
		}
		signals = append(signals, sig)
	}
	return signals, rows.Err()
}
