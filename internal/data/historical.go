package data

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"autotrade-core/pkg/exchanges/common"
	"autotrade-core/pkg/market"
)

// MaxCandles caps a single historical load.
const MaxCandles = 1000

var ErrInvalidWindow = errors.New("data: invalid history window")

// HistoricalDataService loads candle history for replays.
type HistoricalDataService struct {
	source common.MarketData
}

// NewHistoricalDataService creates a new service instance.
func NewHistoricalDataService(source common.MarketData) *HistoricalDataService {
	return &HistoricalDataService{source: source}
}

// CandleCount is the number of res bars covering days.
func CandleCount(res market.Resolution, days int) int {
	d := res.Duration()
	if d <= 0 || days <= 0 {
		return 0
	}
	return int(time.Duration(days) * 24 * time.Hour / d)
}

// GetCandles fetches days of res candles for mkt, oldest first, with
// duplicates and bars without a close price removed.
func (s *HistoricalDataService) GetCandles(ctx context.Context, mkt string, res market.Resolution, days int) ([]market.Candle, error) {
	count := CandleCount(res, days)
	if count <= 0 {
		return nil, fmt.Errorf("%w: %d days of %q", ErrInvalidWindow, days, res)
	}
	if count > MaxCandles {
		return nil, fmt.Errorf("%w: %d candles exceeds %d", ErrInvalidWindow, count, MaxCandles)
	}

	raw, err := s.source.Candles(ctx, mkt, res, count)
	if err != nil {
		return nil, err
	}
	return Clean(raw), nil
}

// Clean sorts candles by time and drops duplicates and zero closes.
// The input slice is not modified.
func Clean(candles []market.Candle) []market.Candle {
	out := make([]market.Candle, 0, len(candles))
	for _, c := range candles {
		if c.Close > 0 {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })

	n := 0
	for i, c := range out {
		if i > 0 && c.Time.Equal(out[n-1].Time) {
			out[n-1] = c
			continue
		}
		out[n] = c
		n++
	}
	return out[:n]
}
