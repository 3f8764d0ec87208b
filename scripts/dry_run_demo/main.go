package main

import (
	"context"
	"log"
	"math"
	"sync"

	"autotrade-core/internal/events"
	"autotrade-core/internal/order"
	"autotrade-core/internal/stats"
	"autotrade-core/internal/strategy"
	"autotrade-core/pkg/config"
	"autotrade-core/pkg/db"
	"autotrade-core/pkg/exchanges/common"
	"autotrade-core/pkg/exchanges/paper"
	"autotrade-core/pkg/market"
)

// dry_run_demo runs a few order flows through the real executor against the
// paper gateway and an in-memory database. No exchange is contacted.
//
// Usage:
//   go run ./scripts/dry_run_demo
//
// It will:
//   1) BUY then SELL the same market at a higher price.
//   2) Try a BUY that exceeds the paper balance.
//   3) Print the trade log and the resulting statistics.

type scriptedFeed struct {
	mu    sync.Mutex
	price float64
}

func (f *scriptedFeed) set(p float64) {
	f.mu.Lock()
	f.price = p
	f.mu.Unlock()
}

func (f *scriptedFeed) Ticker(context.Context, string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.price, nil
}

func (f *scriptedFeed) Candles(context.Context, string, market.Resolution, int) ([]market.Candle, error) {
	return nil, nil
}

func main() {
	log.Println("=== DRY-RUN demo starting ===")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config error: %v", err)
	}
	initialBalance := cfg.DryRunInitialBalance
	if initialBalance <= 0 {
		initialBalance = 1_000_000
	}

	database, err := db.New(":memory:")
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	ctx := context.Background()
	feed := &scriptedFeed{price: 50_000_000}
	gw := paper.New(feed, paper.Config{InitialBalance: initialBalance, FeeRate: cfg.DefaultFeeRate})
	exec := order.NewExecutor(database, gw, events.NewBus(), nil)
	creds := common.Credentials{AccessKey: "demo", SecretKey: "demo"}

	const userID, mkt = "demo-user", "KRW-BTC"
	run := func(sig strategy.Signal) {
		price, _ := feed.Ticker(ctx, mkt)
		holdings, _ := gw.Balance(ctx, creds, market.Currency(mkt))
		entry, err := exec.Execute(ctx, order.Request{
			UserID:      userID,
			Credentials: creds,
			Market:      mkt,
			Strategy:    "demo",
			Signal:      sig,
			Price:       price,
			FeeRate:     cfg.DefaultFeeRate,
			Holdings:    holdings,
			Manual:      true,
		})
		log.Printf("  %s %s status=%s amount=%.0f volume=%.8f err=%v", entry.Side, entry.Market, entry.Status, entry.Amount, entry.Volume, err)
	}

	log.Printf("[SCENARIO 1] Simple BUY then SELL on %s", mkt)
	run(strategy.Signal{Action: strategy.ActionBuy, Amount: 100_000, Reason: strategy.ReasonManual})
	feed.set(52_000_000)
	held, _ := gw.Balance(ctx, creds, market.Currency(mkt))
	run(strategy.Signal{Action: strategy.ActionSell, Volume: held, Reason: strategy.ReasonManual})

	log.Printf("[SCENARIO 2] Oversized BUY to trigger insufficient balance")
	run(strategy.Signal{Action: strategy.ActionBuy, Amount: math.Ceil(initialBalance * 2), Reason: strategy.ReasonManual})

	log.Println("[SCENARIO DONE] Final DRY-RUN state:")
	krw, _ := gw.Balance(ctx, creds, market.QuoteCurrency)
	log.Printf("  KRW balance: %.0f (started with %.0f)", krw, initialBalance)

	entries, err := database.TradeLogs().ListAll(ctx, userID)
	if err != nil {
		log.Fatalf("list trades: %v", err)
	}
	rep := stats.Aggregate(entries)
	log.Printf("  round trips=%d win rate=%.1f%% realized=%.0f KRW", len(rep.RoundTrips), rep.WinRate, rep.TotalProfit)

	log.Println("=== DRY-RUN demo finished ===")
}
