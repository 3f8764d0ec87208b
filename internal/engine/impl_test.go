package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autotrade-core/internal/events"
	"autotrade-core/internal/order"
	"autotrade-core/internal/strategy"
	"autotrade-core/pkg/crypto"
	"autotrade-core/pkg/db"
	"autotrade-core/pkg/exchanges/common"
	"autotrade-core/pkg/exchanges/paper"
	"autotrade-core/pkg/market"
)

type staticFeed struct{ price float64 }

func (f *staticFeed) Ticker(context.Context, string) (float64, error) { return f.price, nil }

func (f *staticFeed) Candles(_ context.Context, _ string, res market.Resolution, count int) ([]market.Candle, error) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]market.Candle, count)
	for i := range out {
		c := f.price * (1 + 0.01*float64(2-i%5))
		out[i] = market.Candle{Time: start.Add(time.Duration(i) * res.Duration()), Open: c, High: c * 1.001, Low: c * 0.999, Close: c, Volume: 1}
	}
	return out, nil
}

func newEngine(t *testing.T) (*Impl, *db.Database) {
	t.Helper()
	database, err := db.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, db.ApplyMigrations(database))

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	sealer, err := crypto.NewSealer(map[int][]byte{1: key})
	require.NoError(t, err)

	gw := paper.New(&staticFeed{price: 50_000_000}, paper.Config{InitialBalance: 1_000_000, FeeRate: 0.0005})
	eng := NewImpl(Config{
		DB:       database,
		Sealer:   sealer,
		Gateway:  gw,
		Executor: order.NewExecutor(database, gw, events.NewBus(), nil),
		Meta:     SystemStatus{DryRun: true, Venue: "paper"},
	})
	return eng, database
}

func saveKeys(t *testing.T, eng *Impl, userID string) {
	t.Helper()
	v, err := eng.SaveCredentials(context.Background(), userID, common.Credentials{AccessKey: "ak", SecretKey: "sk"})
	require.NoError(t, err)
	require.True(t, v.Valid)
}

func ptr[T any](v T) *T { return &v }

func TestUpdateSettingsValidation(t *testing.T) {
	eng, _ := newEngine(t)
	ctx := context.Background()

	cases := map[string]db.SettingsPatch{
		"unknown strategy": {Strategy: ptr("martingale")},
		"bad market":       {Market: ptr("USDT-BTC")},
		"small target":     {TargetAmount: ptr(4999.0)},
		"zero threshold":   {BuyThreshold: ptr(0.0)},
		"rsi levels":       {Strategy: ptr("rsi"), BuyThreshold: ptr(70.0), SellThreshold: ptr(30.0)},
		"fee rate":         {FeeRate: ptr(0.5)},
		"allocations":      {PortfolioMarkets: ptr([]string{"KRW-BTC", "KRW-ETH"}), PortfolioAllocations: ptr([]float64{1})},
	}
	for name, patch := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := eng.UpdateSettings(ctx, "u1", patch)
			assert.ErrorIs(t, err, ErrInvalidSettings)
		})
	}
}

func TestStrategySwitchAppliesPresetsAndResets(t *testing.T) {
	eng, database := newEngine(t)
	ctx := context.Background()
	_, err := database.Settings().InitializeReference(ctx, "u1", "KRW-BTC", 100)
	require.NoError(t, err)

	s, err := eng.UpdateSettings(ctx, "u1", db.SettingsPatch{Strategy: ptr("rsi"), Market: ptr("krw-btc")})
	require.NoError(t, err)
	assert.Equal(t, "rsi", s.Strategy)
	assert.Equal(t, "KRW-BTC", s.Market)
	assert.Equal(t, 30.0, s.BuyThreshold)
	assert.Equal(t, 70.0, s.SellThreshold)

	ms, err := database.Settings().GetMarketState(ctx, "u1", "KRW-BTC")
	require.NoError(t, err)
	assert.Zero(t, ms.ReferencePrice)
}

func TestManualTradeRoundTrip(t *testing.T) {
	eng, _ := newEngine(t)
	ctx := context.Background()

	_, err := eng.ManualTrade(ctx, "u1", ManualTradeRequest{Side: "buy"})
	assert.ErrorIs(t, err, ErrNoCredentials)

	saveKeys(t, eng, "u1")
	_, err = eng.ManualTrade(ctx, "u1", ManualTradeRequest{Side: "buy", Amount: 4000})
	assert.ErrorIs(t, err, ErrBelowMinimum)
	_, err = eng.ManualTrade(ctx, "u1", ManualTradeRequest{Side: "hodl"})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	buy, err := eng.ManualTrade(ctx, "u1", ManualTradeRequest{Side: "buy", Amount: 20000})
	require.NoError(t, err)
	assert.Equal(t, db.StatusSuccess, buy.Status)
	assert.Equal(t, "manual", buy.Strategy)

	sell, err := eng.ManualTrade(ctx, "u1", ManualTradeRequest{Side: "sell"})
	require.NoError(t, err)
	assert.InDelta(t, buy.Volume, sell.Volume, 1e-12)

	rep, err := eng.GetStatistics(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, rep.TotalTrades)

	trades, err := eng.ListTrades(ctx, "u1", 0)
	require.NoError(t, err)
	assert.Len(t, trades, 2)
}

func TestGetStatus(t *testing.T) {
	eng, _ := newEngine(t)
	ctx := context.Background()

	st, err := eng.GetStatus(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, st.HasCredentials)
	assert.Equal(t, 50_000_000.0, st.Price)
	require.NotNil(t, st.Indicators)
	assert.True(t, st.Indicators.RSI >= 0 && st.Indicators.RSI <= 100)

	saveKeys(t, eng, "u1")
	_, err = eng.ManualTrade(ctx, "u1", ManualTradeRequest{Side: "buy", Amount: 100000})
	require.NoError(t, err)

	st, err = eng.GetStatus(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, st.HasCredentials)
	require.Len(t, st.Holdings, 1)
	assert.Equal(t, "BTC", st.Holdings[0].Currency)
	assert.Equal(t, 1, st.TradeCount)
	assert.InDelta(t, 1_000_000-100000*0.0005, st.TotalAssetValue, 1e-6)
}

func TestRunBacktest(t *testing.T) {
	eng, _ := newEngine(t)
	ctx := context.Background()

	_, err := eng.RunBacktest(ctx, "u1", BacktestRequest{Days: 0})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = eng.RunBacktest(ctx, "u1", BacktestRequest{Days: 31})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	res, err := eng.RunBacktest(ctx, "u1", BacktestRequest{Days: 3, Strategy: string(strategy.KindPercent)})
	require.NoError(t, err)
	assert.Greater(t, res.TotalTrades, 0)
	assert.Equal(t, res.WinTrades+res.LossTrades, res.TotalTrades)
}

func TestVerifyWithoutCredentials(t *testing.T) {
	eng, _ := newEngine(t)
	v, err := eng.VerifyCredentials(context.Background(), "u1")
	require.NoError(t, err)
	assert.False(t, v.Valid)
}
