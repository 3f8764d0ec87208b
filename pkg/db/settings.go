package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// SettingsStore persists trading settings and per-market state.
type SettingsStore struct {
	d   *Database
	now func() time.Time
}

// Settings returns the settings store.
func (d *Database) Settings() *SettingsStore {
	return &SettingsStore{d: d, now: time.Now}
}

const settingsColumns = `user_id, is_active, market, strategy, buy_threshold, sell_threshold, target_amount,
	fee_rate, stop_loss_percent, take_profit_percent, grid_step_percent,
	portfolio_markets, portfolio_allocations, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSettings(r rowScanner) (TradingSettings, error) {
	var (
		s                   TradingSettings
		markets, allocs     string
		createdAt, updateAt int64
	)
	err := r.Scan(&s.UserID, &s.Active, &s.Market, &s.Strategy, &s.BuyThreshold, &s.SellThreshold,
		&s.TargetAmount, &s.FeeRate, &s.StopLossPercent, &s.TakeProfitPercent, &s.GridStepPercent,
		&markets, &allocs, &createdAt, &updateAt)
	if err != nil {
		return s, err
	}
	if err := json.Unmarshal([]byte(markets), &s.PortfolioMarkets); err != nil {
		return s, fmt.Errorf("decode portfolio_markets: %w", err)
	}
	if err := json.Unmarshal([]byte(allocs), &s.PortfolioAllocations); err != nil {
		return s, fmt.Errorf("decode portfolio_allocations: %w", err)
	}
	s.CreatedAt, s.UpdatedAt = fromMillis(createdAt), fromMillis(updateAt)
	return s, nil
}

// GetActiveSettings returns every active user's settings, ordered by user id.
func (s *SettingsStore) GetActiveSettings(ctx context.Context) ([]TradingSettings, error) {
	rows, err := s.d.DB.QueryContext(ctx, `SELECT `+settingsColumns+` FROM trading_settings WHERE is_active = 1 ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("query active settings: %w", err)
	}
	defer rows.Close()

	var out []TradingSettings
	for rows.Next() {
		ts, err := scanSettings(rows)
		if err != nil {
			return nil, fmt.Errorf("scan settings: %w", err)
		}
		out = append(out, ts)
	}
	return out, rows.Err()
}

// GetSettings returns the settings of userID or ErrNotFound.
func (s *SettingsStore) GetSettings(ctx context.Context, userID string) (*TradingSettings, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}
	return getSettings(ctx, s.d.DB, userID)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func getSettings(ctx context.Context, q querier, userID string) (*TradingSettings, error) {
	ts, err := scanSettings(q.QueryRowContext(ctx, `SELECT `+settingsColumns+` FROM trading_settings WHERE user_id = ?`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get settings: %w", err)
	}
	return &ts, nil
}

// UpdateSettings applies patch to the user's settings, creating the default
// record first when none exists. The read-modify-write runs in one transaction.
func (s *SettingsStore) UpdateSettings(ctx context.Context, userID string, patch SettingsPatch) (*TradingSettings, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}
	var updated TradingSettings
	err := s.d.withTx(ctx, func(tx *sql.Tx) error {
		cur, err := getSettings(ctx, tx, userID)
		switch {
		case errors.Is(err, ErrNotFound):
			def := DefaultSettings(userID)
			cur = &def
			cur.CreatedAt = s.now()
		case err != nil:
			return err
		}
		patch.Apply(cur)
		cur.UpdatedAt = s.now()

		markets, _ := json.Marshal(nonNilStrings(cur.PortfolioMarkets))
		allocs, _ := json.Marshal(nonNilFloats(cur.PortfolioAllocations))
		_, err = tx.ExecContext(ctx, `
			INSERT INTO trading_settings (`+settingsColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(user_id) DO UPDATE SET
				is_active = excluded.is_active,
				market = excluded.market,
				strategy = excluded.strategy,
				buy_threshold = excluded.buy_threshold,
				sell_threshold = excluded.sell_threshold,
				target_amount = excluded.target_amount,
				fee_rate = excluded.fee_rate,
				stop_loss_percent = excluded.stop_loss_percent,
				take_profit_percent = excluded.take_profit_percent,
				grid_step_percent = excluded.grid_step_percent,
				portfolio_markets = excluded.portfolio_markets,
				portfolio_allocations = excluded.portfolio_allocations,
				updated_at = excluded.updated_at
		`, cur.UserID, cur.Active, cur.Market, cur.Strategy, cur.BuyThreshold, cur.SellThreshold,
			cur.TargetAmount, cur.FeeRate, cur.StopLossPercent, cur.TakeProfitPercent, cur.GridStepPercent,
			string(markets), string(allocs), toMillis(cur.CreatedAt), toMillis(cur.UpdatedAt))
		if err != nil {
			return fmt.Errorf("upsert settings: %w", err)
		}
		updated = *cur
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// GetMarketState returns the state for (userID, market). A missing row is the
// zero state, i.e. awaiting its reference price.
func (s *SettingsStore) GetMarketState(ctx context.Context, userID, market string) (MarketState, error) {
	if userID == "" {
		return MarketState{}, ErrUserIDRequired
	}
	return getMarketState(ctx, s.d.DB, userID, market)
}

func getMarketState(ctx context.Context, q querier, userID, market string) (MarketState, error) {
	ms := MarketState{UserID: userID, Market: market}
	var lastTrade, updated int64
	err := q.QueryRowContext(ctx, `
		SELECT reference_price, entry_price, last_trade_at, updated_at
		FROM market_states WHERE user_id = ? AND market = ?
	`, userID, market).Scan(&ms.ReferencePrice, &ms.EntryPrice, &lastTrade, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return ms, nil
	}
	if err != nil {
		return ms, fmt.Errorf("get market state: %w", err)
	}
	ms.LastTradeAt, ms.UpdatedAt = fromMillis(lastTrade), fromMillis(updated)
	return ms, nil
}

// ListMarketStates returns every stored market state of userID.
func (s *SettingsStore) ListMarketStates(ctx context.Context, userID string) ([]MarketState, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}
	rows, err := s.d.DB.QueryContext(ctx, `
		SELECT market, reference_price, entry_price, last_trade_at, updated_at
		FROM market_states WHERE user_id = ? ORDER BY market
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query market states: %w", err)
	}
	defer rows.Close()

	var out []MarketState
	for rows.Next() {
		ms := MarketState{UserID: userID}
		var lastTrade, updated int64
		if err := rows.Scan(&ms.Market, &ms.ReferencePrice, &ms.EntryPrice, &lastTrade, &updated); err != nil {
			return nil, fmt.Errorf("scan market state: %w", err)
		}
		ms.LastTradeAt, ms.UpdatedAt = fromMillis(lastTrade), fromMillis(updated)
		out = append(out, ms)
	}
	return out, rows.Err()
}

// InitializeReference sets the reference price only if it is still unset.
// It reports whether this call set it.
func (s *SettingsStore) InitializeReference(ctx context.Context, userID, market string, price float64) (bool, error) {
	if userID == "" {
		return false, ErrUserIDRequired
	}
	res, err := s.d.DB.ExecContext(ctx, `
		INSERT INTO market_states (user_id, market, reference_price, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, market) DO UPDATE SET
			reference_price = excluded.reference_price,
			updated_at = excluded.updated_at
		WHERE market_states.reference_price = 0
	`, userID, market, price, toMillis(s.now()))
	if err != nil {
		return false, fmt.Errorf("initialize reference: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ClaimTradeSlot atomically moves last_trade_at from prev to next. It fails
// (false, nil) when another writer traded since prev was read, which closes the
// window between the cooldown check and recording the trade.
func (s *SettingsStore) ClaimTradeSlot(ctx context.Context, userID, market string, prev, next time.Time) (bool, error) {
	if userID == "" {
		return false, ErrUserIDRequired
	}
	res, err := s.d.DB.ExecContext(ctx, `
		INSERT INTO market_states (user_id, market, last_trade_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, market) DO UPDATE SET
			last_trade_at = excluded.last_trade_at,
			updated_at = excluded.updated_at
		WHERE market_states.last_trade_at = ?
	`, userID, market, toMillis(next), toMillis(s.now()), toMillis(prev))
	if err != nil {
		return false, fmt.Errorf("claim trade slot: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ReleaseTradeSlot undoes a claim after a failed order, unless someone else
// has claimed the slot in the meantime.
func (s *SettingsStore) ReleaseTradeSlot(ctx context.Context, userID, market string, claimed, prev time.Time) error {
	_, err := s.d.DB.ExecContext(ctx, `
		UPDATE market_states SET last_trade_at = ?, updated_at = ?
		WHERE user_id = ? AND market = ? AND last_trade_at = ?
	`, toMillis(prev), toMillis(s.now()), userID, market, toMillis(claimed))
	if err != nil {
		return fmt.Errorf("release trade slot: %w", err)
	}
	return nil
}

// UpdateMarketState runs fn on the current state inside a transaction and
// stores the result.
func (s *SettingsStore) UpdateMarketState(ctx context.Context, userID, market string, fn func(*MarketState) error) (MarketState, error) {
	if userID == "" {
		return MarketState{}, ErrUserIDRequired
	}
	var out MarketState
	err := s.d.withTx(ctx, func(tx *sql.Tx) error {
		ms, err := getMarketState(ctx, tx, userID, market)
		if err != nil {
			return err
		}
		if err := fn(&ms); err != nil {
			return err
		}
		ms.UserID, ms.Market, ms.UpdatedAt = userID, market, s.now()
		_, err = tx.ExecContext(ctx, `
			INSERT INTO market_states (user_id, market, reference_price, entry_price, last_trade_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(user_id, market) DO UPDATE SET
				reference_price = excluded.reference_price,
				entry_price = excluded.entry_price,
				last_trade_at = excluded.last_trade_at,
				updated_at = excluded.updated_at
		`, userID, market, ms.ReferencePrice, ms.EntryPrice, toMillis(ms.LastTradeAt), toMillis(ms.UpdatedAt))
		if err != nil {
			return fmt.Errorf("upsert market state: %w", err)
		}
		out = ms
		return nil
	})
	return out, err
}

// SaveMarketState overwrites the stored state of (ms.UserID, ms.Market).
func (s *SettingsStore) SaveMarketState(ctx context.Context, ms MarketState) (MarketState, error) {
	return s.UpdateMarketState(ctx, ms.UserID, ms.Market, func(cur *MarketState) error {
		cur.ReferencePrice = ms.ReferencePrice
		cur.EntryPrice = ms.EntryPrice
		cur.LastTradeAt = ms.LastTradeAt
		return nil
	})
}

// ResetMarketStates clears every reference price of userID so the next cycle
// re-initializes them. Cooldown timestamps and entry prices are kept.
func (s *SettingsStore) ResetMarketStates(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrUserIDRequired
	}
	_, err := s.d.DB.ExecContext(ctx, `UPDATE market_states SET reference_price = 0, updated_at = ? WHERE user_id = ?`,
		toMillis(s.now()), userID)
	if err != nil {
		return fmt.Errorf("reset market states: %w", err)
	}
	return nil
}

func nonNilStrings(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func nonNilFloats(v []float64) []float64 {
	if v == nil {
		return []float64{}
	}
	return v
}
