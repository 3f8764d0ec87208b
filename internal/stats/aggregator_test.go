package stats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autotrade-core/pkg/db"
)

var t0 = time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC) // Monday

func entry(side string, price, volume, fee float64, at time.Duration) db.TradeLogEntry {
	return db.TradeLogEntry{
		UserID: "u1", Market: "KRW-BTC", Side: side, Price: price, Volume: volume,
		Amount: price * volume, Fee: fee, Status: db.StatusSuccess, CreatedAt: t0.Add(at),
	}
}

func TestSingleRoundTrip(t *testing.T) {
	rep := Aggregate([]db.TradeLogEntry{
		entry(db.SideBid, 100, 1, 0, 0),
		entry(db.SideAsk, 110, 1, 0, time.Hour),
	})
	require.Len(t, rep.RoundTrips, 1)
	assert.InDelta(t, 10.0, rep.TotalProfit, 1e-9)
	assert.Equal(t, 100.0, rep.WinRate)
	assert.Equal(t, ProfitFactorSentinel, rep.ProfitFactor)
	assert.Empty(t, rep.OpenLots)
	require.Len(t, rep.Daily, 1)
	assert.Equal(t, "2024-03-04", rep.Daily[0].Period)
	assert.Equal(t, "2024-W10", rep.Weekly[0].Period)
	assert.Equal(t, "2024-03", rep.Monthly[0].Period)
}

func TestFIFOWithFees(t *testing.T) {
	failed := entry(db.SideAsk, 1000, 5, 0, 30*time.Minute)
	failed.Status = db.StatusFailed

	rep := Aggregate([]db.TradeLogEntry{
		entry(db.SideAsk, 130, 1, 0, 3*time.Hour), // out of order on purpose
		entry(db.SideBid, 100, 1, 2, 0),
		failed,
		entry(db.SideBid, 120, 1, 2, time.Hour),
		entry(db.SideAsk, 90, 1, 1, 2*time.Hour),
	})
	require.Len(t, rep.RoundTrips, 2)

	first := rep.RoundTrips[0]
	assert.Equal(t, 100.0, first.BuyPrice)
	assert.InDelta(t, -10-2-1, first.Profit, 1e-9)

	second := rep.RoundTrips[1]
	assert.Equal(t, 120.0, second.BuyPrice)
	assert.InDelta(t, 10-2, second.Profit, 1e-9)

	assert.Equal(t, 1, rep.WinTrades)
	assert.Equal(t, 1, rep.LossTrades)
	assert.InDelta(t, 8.0/13.0, rep.ProfitFactor, 1e-9)
	assert.InDelta(t, 8.0, rep.Best.Profit, 1e-9)
	assert.InDelta(t, -13.0, rep.Worst.Profit, 1e-9)
	assert.InDelta(t, 5.0, rep.TotalFees, 1e-9)
}

func TestPartialSellLeavesOpenLot(t *testing.T) {
	rep := Aggregate([]db.TradeLogEntry{
		entry(db.SideBid, 100, 2, 4, 0),
		entry(db.SideAsk, 110, 0.5, 0, time.Hour),
	})
	require.Len(t, rep.OpenLots, 1)
	lot := rep.OpenLots[0]
	assert.InDelta(t, 1.5, lot.Volume, 1e-12)
	assert.InDelta(t, 3.0, lot.Fee, 1e-12)
	assert.InDelta(t, 0.5*10-1, rep.TotalProfit, 1e-9)

	assert.InDelta(t, 1.5*20-3, Unrealized(rep.OpenLots, map[string]float64{"KRW-BTC": 120}), 1e-9)
	assert.Zero(t, Unrealized(rep.OpenLots, nil))
}

func TestEmptyLog(t *testing.T) {
	rep := Aggregate(nil)
	assert.Zero(t, rep.TotalTrades)
	assert.Zero(t, rep.ProfitFactor)
	assert.Nil(t, rep.Best)
	assert.NotNil(t, rep.RoundTrips)
}
