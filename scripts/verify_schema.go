package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"

	_ "modernc.org/sqlite"
)

// expected lists the tables and columns the trading core relies on.
var expected = map[string][]string{
	"trading_settings": {"user_id", "is_active", "market", "strategy", "buy_threshold", "sell_threshold",
		"target_amount", "fee_rate", "stop_loss_percent", "take_profit_percent", "grid_step_percent",
		"portfolio_markets", "portfolio_allocations"},
	"market_states": {"user_id", "market", "reference_price", "entry_price", "last_trade_at"},
	"trade_logs":    {"id", "user_id", "market", "side", "price", "volume", "amount", "fee", "status", "message", "created_at"},
	"credentials":   {"user_id", "access_key", "secret_key", "key_version"},
}

func main() {
	dbPath := "./data/autotrade.db"
	if len(os.Args) > 1 {
		dbPath = os.Args[1]
	}
	fmt.Printf("Verifying database at: %s\n", dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		log.Fatalf("Failed to open DB: %v", err)
	}
	defer db.Close()

	missing := 0
	for _, table := range []string{"trading_settings", "market_states", "trade_logs", "credentials"} {
		cols, err := columns(db, table)
		if err != nil {
			log.Fatalf("Query failed: %v", err)
		}
		if len(cols) == 0 {
			fmt.Printf("❌ %s table MISSING\n", table)
			missing++
			continue
		}
		fmt.Printf("✓ %s table exists\n", table)
		for _, c := range expected[table] {
			if !cols[c] {
				fmt.Printf("  ❌ %s.%s column MISSING\n", table, c)
				missing++
			}
		}
	}
	if missing > 0 {
		os.Exit(1)
	}
	fmt.Println("Schema OK")
}

func columns(db *sql.DB, table string) (map[string]bool, error) {
	rows, err := db.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]bool{}
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
			return nil, err
		}
		out[name] = true
	}
	return out, rows.Err()
}
