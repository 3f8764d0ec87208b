package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"autotrade-core/pkg/crypto"
	"autotrade-core/pkg/exchanges/common"
)

func newTestDB(t *testing.T) *Database {
	t.Helper()
	database, err := New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := ApplyMigrations(database); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}
	return database
}

func ptr[T any](v T) *T { return &v }

func TestStoresRequireUserID(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()
	settings, logs := database.Settings(), database.TradeLogs()

	t.Run("GetSettings", func(t *testing.T) {
		if _, err := settings.GetSettings(ctx, ""); err != ErrUserIDRequired {
			t.Errorf("expected ErrUserIDRequired, got %v", err)
		}
	})
	t.Run("UpdateSettings", func(t *testing.T) {
		if _, err := settings.UpdateSettings(ctx, "", SettingsPatch{}); err != ErrUserIDRequired {
			t.Errorf("expected ErrUserIDRequired, got %v", err)
		}
	})
	t.Run("List", func(t *testing.T) {
		if _, err := logs.List(ctx, "", 10); err != ErrUserIDRequired {
			t.Errorf("expected ErrUserIDRequired, got %v", err)
		}
	})
	t.Run("Append", func(t *testing.T) {
		if _, err := logs.Append(ctx, TradeLogEntry{}); err != ErrUserIDRequired {
			t.Errorf("expected ErrUserIDRequired, got %v", err)
		}
	})
}

func TestMigrationsAreIdempotent(t *testing.T) {
	database := newTestDB(t)
	if err := ApplyMigrations(database); err != nil {
		t.Fatalf("second migration run: %v", err)
	}
	ok, err := columnExists(database.DB, "trading_settings", "grid_step_percent")
	if err != nil || !ok {
		t.Fatalf("grid_step_percent missing: %v", err)
	}
}

func TestUpdateSettingsUpsert(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()
	store := database.Settings()

	if _, err := store.GetSettings(ctx, "u1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	created, err := store.UpdateSettings(ctx, "u1", SettingsPatch{Active: ptr(true), TargetAmount: ptr(20000.0)})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Strategy != "percent" || created.Market != "KRW-BTC" || created.TargetAmount != 20000 || !created.Active {
		t.Fatalf("defaults not applied: %+v", created)
	}

	updated, err := store.UpdateSettings(ctx, "u1", SettingsPatch{
		Strategy:             ptr("grid"),
		PortfolioMarkets:     ptr([]string{"KRW-BTC", "KRW-ETH"}),
		PortfolioAllocations: ptr([]float64{60, 40}),
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.TargetAmount != 20000 || updated.Strategy != "grid" {
		t.Fatalf("partial update lost fields: %+v", updated)
	}

	got, err := store.GetSettings(ctx, "u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.PortfolioMarkets) != 2 || got.PortfolioAllocations[1] != 40 {
		t.Fatalf("portfolio not persisted: %+v", got)
	}

	if _, err := store.UpdateSettings(ctx, "u2", SettingsPatch{}); err != nil {
		t.Fatal(err)
	}
	active, err := store.GetActiveSettings(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 1 || active[0].UserID != "u1" {
		t.Fatalf("active = %+v", active)
	}
}

func TestMarketStateIsKeyedByMarket(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()
	store := database.Settings()

	if ok, err := store.InitializeReference(ctx, "u1", "KRW-BTC", 100); err != nil || !ok {
		t.Fatalf("init: %v %v", ok, err)
	}
	if ok, _ := store.InitializeReference(ctx, "u1", "KRW-BTC", 200); ok {
		t.Fatal("second init must not overwrite")
	}

	btc, _ := store.GetMarketState(ctx, "u1", "KRW-BTC")
	eth, _ := store.GetMarketState(ctx, "u1", "KRW-ETH")
	if btc.ReferencePrice != 100 || eth.ReferencePrice != 0 {
		t.Fatalf("btc=%+v eth=%+v", btc, eth)
	}

	if err := store.ResetMarketStates(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
	btc, _ = store.GetMarketState(ctx, "u1", "KRW-BTC")
	if btc.ReferencePrice != 0 {
		t.Fatalf("reset did not clear reference: %+v", btc)
	}
}

func TestClaimTradeSlotCompareAndSwap(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()
	store := database.Settings()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	ok, err := store.ClaimTradeSlot(ctx, "u1", "KRW-BTC", time.Time{}, now)
	if err != nil || !ok {
		t.Fatalf("first claim: %v %v", ok, err)
	}
	// A second writer holding the stale snapshot loses.
	if ok, _ := store.ClaimTradeSlot(ctx, "u1", "KRW-BTC", time.Time{}, now.Add(time.Second)); ok {
		t.Fatal("stale claim must fail")
	}

	if err := store.ReleaseTradeSlot(ctx, "u1", "KRW-BTC", now, time.Time{}); err != nil {
		t.Fatal(err)
	}
	ms, _ := store.GetMarketState(ctx, "u1", "KRW-BTC")
	if !ms.LastTradeAt.IsZero() {
		t.Fatalf("release did not restore: %v", ms.LastTradeAt)
	}
}

func TestUpdateMarketState(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()
	store := database.Settings()

	ms, err := store.UpdateMarketState(ctx, "u1", "KRW-BTC", func(ms *MarketState) error {
		ms.ReferencePrice = 50
		ms.EntryPrice = 49
		return nil
	})
	if err != nil || ms.ReferencePrice != 50 {
		t.Fatalf("update: %+v %v", ms, err)
	}

	boom := errors.New("boom")
	if _, err := store.UpdateMarketState(ctx, "u1", "KRW-BTC", func(ms *MarketState) error {
		ms.ReferencePrice = 1
		return boom
	}); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	ms, _ = store.GetMarketState(ctx, "u1", "KRW-BTC")
	if ms.ReferencePrice != 50 {
		t.Fatalf("failed update was not rolled back: %+v", ms)
	}

	states, err := store.ListMarketStates(ctx, "u1")
	if err != nil || len(states) != 1 || states[0].EntryPrice != 49 {
		t.Fatalf("list: %+v %v", states, err)
	}
}

func TestTradeLogOrdering(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()
	logs := database.TradeLogs()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	for i, status := range []string{StatusSuccess, StatusFailed, StatusSuccess} {
		if _, err := logs.Append(ctx, TradeLogEntry{
			UserID: "u1", Market: "KRW-BTC", Side: SideBid, Price: float64(100 + i), Volume: 1,
			Status: status, CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := logs.Append(ctx, TradeLogEntry{UserID: "u2", Market: "KRW-BTC", Side: SideAsk, Status: StatusSuccess}); err != nil {
		t.Fatal(err)
	}

	recent, err := logs.List(ctx, "u1", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 2 || recent[0].Price != 102 || recent[1].Price != 101 {
		t.Fatalf("List not most-recent-first: %+v", recent)
	}
	if recent[0].ID == "" || !recent[0].CreatedAt.Equal(base.Add(2*time.Minute)) {
		t.Fatalf("id/timestamp not round-tripped: %+v", recent[0])
	}

	all, _ := logs.ListAll(ctx, "u1")
	if len(all) != 3 || all[0].Price != 100 {
		t.Fatalf("ListAll = %+v", all)
	}
	if n, _ := logs.CountSuccessful(ctx, "u1"); n != 2 {
		t.Fatalf("CountSuccessful = %d", n)
	}
}

func TestCredentialsAreSealed(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()
	key, _ := crypto.GenerateKey()
	sealer, _ := crypto.NewSealer(map[int][]byte{1: key})
	store := database.Credentials(sealer)

	if _, err := store.Get(ctx, "u1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := store.Save(ctx, "u1", common.Credentials{AccessKey: "ak", SecretKey: "sk"}); err != nil {
		t.Fatal(err)
	}

	var raw string
	if err := database.DB.QueryRow(`SELECT secret_key FROM credentials WHERE user_id = 'u1'`).Scan(&raw); err != nil {
		t.Fatal(err)
	}
	if !crypto.IsSealed(raw) {
		t.Fatalf("secret stored in clear: %q", raw)
	}

	creds, err := store.Get(ctx, "u1")
	if err != nil || creds.AccessKey != "ak" || creds.SecretKey != "sk" {
		t.Fatalf("get = %+v %v", creds, err)
	}
	if err := store.Delete(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Get(ctx, "u1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("after delete: %v", err)
	}
}
