package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TradeLogStore is the append-only order attempt log.
type TradeLogStore struct {
	d   *Database
	now func() time.Time
}

// TradeLogs returns the trade log store.
func (d *Database) TradeLogs() *TradeLogStore {
	return &TradeLogStore{d: d, now: time.Now}
}

const tradeLogColumns = `id, user_id, market, side, price, volume, amount, fee, status, message, strategy, order_id, created_at`

// Append stores e, assigning an id and timestamp when missing.
func (s *TradeLogStore) Append(ctx context.Context, e TradeLogEntry) (TradeLogEntry, error) {
	if e.UserID == "" {
		return e, ErrUserIDRequired
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}
	e.CreatedAt = e.CreatedAt.UTC().Truncate(time.Millisecond)
	_, err := s.d.DB.ExecContext(ctx, `
		INSERT INTO trade_logs (`+tradeLogColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.UserID, e.Market, e.Side, e.Price, e.Volume, e.Amount, e.Fee, e.Status, e.Message,
		e.Strategy, e.OrderID, toMillis(e.CreatedAt))
	if err != nil {
		return e, fmt.Errorf("append trade log: %w", err)
	}
	return e, nil
}

// List returns up to limit entries of userID, most recent first.
func (s *TradeLogStore) List(ctx context.Context, userID string, limit int) ([]TradeLogEntry, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}
	if limit <= 0 {
		limit = 100
	}
	return s.query(ctx, `SELECT `+tradeLogColumns+` FROM trade_logs WHERE user_id = ?
		ORDER BY created_at DESC, rowid DESC LIMIT ?`, userID, limit)
}

// ListAll returns every entry of userID, oldest first.
func (s *TradeLogStore) ListAll(ctx context.Context, userID string) ([]TradeLogEntry, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}
	return s.query(ctx, `SELECT `+tradeLogColumns+` FROM trade_logs WHERE user_id = ?
		ORDER BY created_at ASC, rowid ASC`, userID)
}

// CountSuccessful returns the number of filled orders of userID.
func (s *TradeLogStore) CountSuccessful(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, ErrUserIDRequired
	}
	var n int
	err := s.d.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM trade_logs WHERE user_id = ? AND status = ?`,
		userID, StatusSuccess).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count trade logs: %w", err)
	}
	return n, nil
}

func (s *TradeLogStore) query(ctx context.Context, q string, args ...interface{}) ([]TradeLogEntry, error) {
	rows, err := s.d.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query trade logs: %w", err)
	}
	defer rows.Close()

	var out []TradeLogEntry
	for rows.Next() {
		var (
			e  TradeLogEntry
			ts int64
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.Market, &e.Side, &e.Price, &e.Volume, &e.Amount, &e.Fee,
			&e.Status, &e.Message, &e.Strategy, &e.OrderID, &ts); err != nil {
			return nil, fmt.Errorf("scan trade log: %w", err)
		}
		e.CreatedAt = fromMillis(ts)
		out = append(out, e)
	}
	return out, rows.Err()
}
