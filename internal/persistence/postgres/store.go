// Package postgres journals fills, allocation decisions, and equity history
// to PostgreSQL. Persistence is optional and best effort; the engine runs
// without it.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// FillRecord is one executed order as written to the journal.
type FillRecord struct {
	OrderID    string    `db:"order_id"`
	StrategyID string    `db:"strategy_id"`
	Symbol     string    `db:"symbol"`
	Side       string    `db:"side"`
	Quantity   float64   `db:"qty"`
	Price      float64   `db:"price"`
	Timestamp  time.Time `db:"ts"`
}

// DecisionRecord is one allocation decision with its weight map as JSONB.
type DecisionRecord struct {
	Timestamp  time.Time
	Regime     string
	Confidence float64
	Weights    map[string]float64
}

// EquityPoint is one sample of the equity curve.
type EquityPoint struct {
	Timestamp   time.Time `db:"ts"`
	Equity      float64   `db:"equity"`
	RealizedPnL float64   `db:"realized_pnl"`
	DrawdownPct float64   `db:"drawdown_pct"`
}

const schema = `
CREATE TABLE IF NOT EXISTS fills (
	id           BIGSERIAL PRIMARY KEY,
	order_id     TEXT NOT NULL UNIQUE,
	strategy_id  TEXT NOT NULL,
	symbol       TEXT NOT NULL,
	side         TEXT NOT NULL,
	qty          DOUBLE PRECISION NOT NULL,
	price        DOUBLE PRECISION NOT NULL,
	ts           TIMESTAMPTZ NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS fills_ts_idx ON fills (ts DESC);

CREATE TABLE IF NOT EXISTS allocation_decisions (
	id          BIGSERIAL PRIMARY KEY,
	ts          TIMESTAMPTZ NOT NULL,
	regime      TEXT NOT NULL,
	confidence  DOUBLE PRECISION NOT NULL,
	weights     JSONB NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS allocation_decisions_ts_idx ON allocation_decisions (ts DESC);

CREATE TABLE IF NOT EXISTS equity_history (
	id            BIGSERIAL PRIMARY KEY,
	ts            TIMESTAMPTZ NOT NULL,
	equity        DOUBLE PRECISION NOT NULL,
	realized_pnl  DOUBLE PRECISION NOT NULL,
	drawdown_pct  DOUBLE PRECISION NOT NULL
);
CREATE INDEX IF NOT EXISTS equity_history_ts_idx ON equity_history (ts DESC);
`

// Store is the PostgreSQL journal.
type Store struct {
	db      *sqlx.DB
	timeout time.Duration
}

// Open connects to PostgreSQL and verifies the connection.
func Open(dsn string, timeout time.Duration) (*Store, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)
	return &Store{db: db, timeout: timeout}, nil
}

// EnsureSchema creates the journal tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// InsertFill journals one fill. A replayed order ID is a no-op.
func (s *Store) InsertFill(ctx context.Context, f FillRecord) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := `
		INSERT INTO fills (order_id, strategy_id, symbol, side, qty, price, ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.db.ExecContext(ctx, query,
		f.OrderID, f.StrategyID, f.Symbol, f.Side, f.Quantity, f.Price, f.Timestamp)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return nil
		}
		return fmt.Errorf("insert fill: %w", err)
	}
	return nil
}

// InsertDecision journals one allocation decision.
func (s *Store) InsertDecision(ctx context.Context, d DecisionRecord) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	weightsJSON, err := json.Marshal(d.Weights)
	if err != nil {
		return fmt.Errorf("marshal weights: %w", err)
	}

	query := `
		INSERT INTO allocation_decisions (ts, regime, confidence, weights)
		VALUES ($1, $2, $3, $4)`

	if _, err := s.db.ExecContext(ctx, query, d.Timestamp, d.Regime, d.Confidence, weightsJSON); err != nil {
		return fmt.Errorf("insert decision: %w", err)
	}
	return nil
}

// InsertEquityPoint journals one equity curve sample.
func (s *Store) InsertEquityPoint(ctx context.Context, p EquityPoint) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := `
		INSERT INTO equity_history (ts, equity, realized_pnl, drawdown_pct)
		VALUES ($1, $2, $3, $4)`

	if _, err := s.db.ExecContext(ctx, query, p.Timestamp, p.Equity, p.RealizedPnL, p.DrawdownPct); err != nil {
		return fmt.Errorf("insert equity point: %w", err)
	}
	return nil
}

// RecentFills returns the newest fills, newest first.
func (s *Store) RecentFills(ctx context.Context, limit int) ([]FillRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := `
		SELECT order_id, strategy_id, symbol, side, qty, price, ts
		FROM fills
		ORDER BY ts DESC
		LIMIT $1`

	var fills []FillRecord
	if err := s.db.SelectContext(ctx, &fills, query, limit); err != nil {
		return nil, fmt.Errorf("query recent fills: %w", err)
	}
	return fills, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}
