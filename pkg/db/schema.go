package db

import (
	"database/sql"
	"fmt"
)

// Timestamps are stored as unix milliseconds (0 = unset).
const schema = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS trading_settings (
    user_id TEXT PRIMARY KEY,
    is_active INTEGER NOT NULL DEFAULT 0,
    market TEXT NOT NULL,
    strategy TEXT NOT NULL,
    buy_threshold REAL NOT NULL,
    sell_threshold REAL NOT NULL,
    target_amount REAL NOT NULL,
    fee_rate REAL NOT NULL,
    stop_loss_percent REAL NOT NULL DEFAULT 0,
    take_profit_percent REAL NOT NULL DEFAULT 0,
    portfolio_markets TEXT NOT NULL DEFAULT '[]',
    portfolio_allocations TEXT NOT NULL DEFAULT '[]',
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS market_states (
    user_id TEXT NOT NULL,
    market TEXT NOT NULL,
    reference_price REAL NOT NULL DEFAULT 0,
    entry_price REAL NOT NULL DEFAULT 0,
    last_trade_at INTEGER NOT NULL DEFAULT 0,
    updated_at INTEGER NOT NULL,
    PRIMARY KEY (user_id, market)
);

CREATE TABLE IF NOT EXISTS trade_logs (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    market TEXT NOT NULL,
    side TEXT NOT NULL,
    price REAL NOT NULL,
    volume REAL NOT NULL,
    amount REAL NOT NULL,
    fee REAL NOT NULL DEFAULT 0,
    status TEXT NOT NULL,
    message TEXT NOT NULL DEFAULT '',
    strategy TEXT NOT NULL DEFAULT '',
    order_id TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trade_logs_user_time ON trade_logs(user_id, created_at);

CREATE TABLE IF NOT EXISTS credentials (
    user_id TEXT PRIMARY KEY,
    access_key TEXT NOT NULL,
    secret_key TEXT NOT NULL,
    key_version INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);
`

// ApplyMigrations bootstraps the schema; keep lightweight for fast startup.
func ApplyMigrations(d *Database) error {
	if d == nil || d.DB == nil {
		return fmt.Errorf("database is not initialized")
	}
	if _, err := d.DB.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	// Columns added after the first release.
	if err := ensureColumn(d.DB, "trading_settings", "grid_step_percent", "REAL NOT NULL DEFAULT 0"); err != nil {
		return err
	}
	return nil
}

// ensureColumn adds a column if it does not already exist.
func ensureColumn(db *sql.DB, table, column, definition string) error {
	exists, err := columnExists(db, table, column)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	alter := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, definition)
	if _, err := db.Exec(alter); err != nil {
		return fmt.Errorf("alter table %s add column %s: %w", table, column, err)
	}
	return nil
}

func columnExists(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		return false, fmt.Errorf("pragma table_info(%s): %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid        int
			name       string
			colType    string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultVal, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
