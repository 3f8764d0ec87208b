package backtest

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autotrade-core/internal/strategy"
	"autotrade-core/pkg/market"
)

func hourly(closes ...float64) []market.Candle {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]market.Candle, len(closes))
	for i, c := range closes {
		out[i] = market.Candle{Time: start.Add(time.Duration(i) * time.Hour), Open: c, High: c, Low: c, Close: c, Volume: 1}
	}
	return out
}

func percentRequest() Request {
	return Request{
		Market:  "KRW-BTC",
		Kind:    strategy.KindPercent,
		Params:  strategy.Params{BuyThreshold: 0.5, SellThreshold: 0.5, TargetAmount: 10000},
		FeeRate: 0.0005,
	}
}

func TestRunPercentRoundTrip(t *testing.T) {
	res, err := Run(nil, hourly(100000, 99000, 100500), percentRequest())
	require.NoError(t, err)

	require.Len(t, res.Trades, 2)
	assert.Equal(t, "buy", res.Trades[0].Side)
	assert.Equal(t, "sell", res.Trades[1].Side)
	assert.Equal(t, 1, res.TotalTrades)
	assert.Equal(t, 1, res.WinTrades)
	assert.Equal(t, 100.0, res.WinRate)

	cost := 10000 * 1.0005
	proceeds := 10000.0 / 99000 * 100500 * 0.9995
	assert.InDelta(t, proceeds-cost, res.TotalProfit, 1e-6)
	assert.InDelta(t, DefaultInitialBalance+proceeds-cost, res.FinalBalance, 1e-6)
}

func TestRunTracksDrawdown(t *testing.T) {
	res, err := Run(nil, hourly(100000, 99000, 50000), percentRequest())
	require.NoError(t, err)
	assert.Equal(t, 0, res.TotalTrades)
	assert.Greater(t, res.MaxDrawdown, 0.0)
	assert.Less(t, res.FinalBalance, float64(DefaultInitialBalance))
}

func TestRunIsDeterministic(t *testing.T) {
	closes := make([]float64, 24*10)
	for i := range closes {
		closes[i] = 50_000_000 + 1_500_000*math.Sin(float64(i)/5) + float64(i%7)*20_000
	}
	candles := hourly(closes...)
	for _, kind := range strategy.Kinds {
		req := percentRequest()
		req.Kind = kind
		if kind == strategy.KindRSI {
			req.Params.BuyThreshold, req.Params.SellThreshold = 30, 70
		}
		a, err := Run(nil, candles, req)
		require.NoError(t, err)
		b, err := Run(nil, candles, req)
		require.NoError(t, err)

		ja, _ := json.Marshal(a)
		jb, _ := json.Marshal(b)
		assert.Equal(t, string(ja), string(jb), "kind %s", kind)
	}
}

func TestRunRejectsEmptySeries(t *testing.T) {
	_, err := Run(nil, nil, percentRequest())
	assert.ErrorIs(t, err, ErrNoCandles)
}
