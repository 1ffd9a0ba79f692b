// Package storage persists conditional-order history to SQLite. The
// trigger engine never touches it directly; bootstrap subscribes the
// store to the engine's order topics.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite"

	"github.com/qtmspin/alpaca-api-service-sub001/internal/domain"
)

// OrderStore writes one row per order plus one history row per
// lifecycle transition.
type OrderStore struct {
	db *sql.DB
}

// NewOrderStore opens (or creates) the SQLite database with WAL mode.
func NewOrderStore(dbPath string) (*OrderStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return nil, fmt.Errorf("set pragma %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS orders (
			id TEXT PRIMARY KEY,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			qty TEXT NOT NULL,
			kind TEXT NOT NULL,
			time_in_force TEXT NOT NULL,
			status TEXT NOT NULL,
			snapshot BLOB NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);
	`); err != nil {
		return nil, fmt.Errorf("create orders table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS order_history (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			order_id TEXT NOT NULL REFERENCES orders(id),
			status TEXT NOT NULL,
			snapshot BLOB NOT NULL,
			at INTEGER NOT NULL
		);
	`); err != nil {
		return nil, fmt.Errorf("create order_history table: %w", err)
	}

	return &OrderStore{db: db}, nil
}

// Record upserts the order row and appends a history row for its current
// status.
func (s *OrderStore) Record(ctx context.Context, order domain.ConditionalOrder) error {
	snapshot, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("marshal order %s: %w", order.ID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO orders (id, symbol, side, qty, kind, time_in_force, status, snapshot, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET status=excluded.status, snapshot=excluded.snapshot, updated_at=excluded.updated_at`,
		order.ID, order.Symbol, string(order.Side), order.Qty.String(), string(order.Kind),
		string(order.TimeInForce), string(order.Status), snapshot,
		order.CreatedAt.UnixMicro(), order.UpdatedAt.UnixMicro(),
	)
	if err != nil {
		return fmt.Errorf("upsert order %s: %w", order.ID, err)
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO order_history (order_id, status, snapshot, at) VALUES (?, ?, ?, ?)",
		order.ID, string(order.Status), snapshot, order.UpdatedAt.UnixMicro(),
	)
	if err != nil {
		return fmt.Errorf("append history for %s: %w", order.ID, err)
	}
	return nil
}

// HistoryRow is one recorded lifecycle transition.
type HistoryRow struct {
	OrderID string
	Status  domain.Status
	At      time.Time
}

// History returns the recorded transitions for one order, oldest first.
func (s *OrderStore) History(ctx context.Context, orderID string) ([]HistoryRow, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT order_id, status, at FROM order_history WHERE order_id = ? ORDER BY seq", orderID)
	if err != nil {
		return nil, fmt.Errorf("query history for %s: %w", orderID, err)
	}
	defer rows.Close()

	var out []HistoryRow
	for rows.Next() {
		var row HistoryRow
		var status string
		var at int64
		if err := rows.Scan(&row.OrderID, &status, &at); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		row.Status = domain.Status(status)
		row.At = time.UnixMicro(at)
		out = append(out, row)
	}
	return out, rows.Err()
}

// OrdersByStatus returns stored order snapshots with the given status.
func (s *OrderStore) OrdersByStatus(ctx context.Context, status domain.Status) ([]domain.ConditionalOrder, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT snapshot FROM orders WHERE status = ? ORDER BY created_at", string(status))
	if err != nil {
		return nil, fmt.Errorf("query orders by status: %w", err)
	}
	defer rows.Close()

	var out []domain.ConditionalOrder
	for rows.Next() {
		var snapshot []byte
		if err := rows.Scan(&snapshot); err != nil {
			return nil, fmt.Errorf("scan order snapshot: %w", err)
		}
		var order domain.ConditionalOrder
		if err := json.Unmarshal(snapshot, &order); err != nil {
			return nil, fmt.Errorf("unmarshal order snapshot: %w", err)
		}
		out = append(out, order)
	}
	return out, rows.Err()
}

// Close releases the database handle.
func (s *OrderStore) Close() error {
	return s.db.Close()
}
