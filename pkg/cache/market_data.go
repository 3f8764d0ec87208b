package cache

import (
	"context"
	"fmt"
	"time"

	"autotrade-core/pkg/exchanges/common"
	"autotrade-core/pkg/market"
)

const (
	DefaultTickerTTL = 2 * time.Second
	DefaultCandleTTL = 5 * time.Second
)

// Gateway serves tickers and candles from a short-lived cache so users watching
// the same market within one tick share a single venue request.
type Gateway struct {
	common.Gateway
	tickers *Sharded[float64]
	candles *Sharded[[]market.Candle]
}

// Wrap decorates gw. Non-positive TTLs fall back to the defaults.
func Wrap(gw common.Gateway, tickerTTL, candleTTL time.Duration) *Gateway {
	if tickerTTL <= 0 {
		tickerTTL = DefaultTickerTTL
	}
	if candleTTL <= 0 {
		candleTTL = DefaultCandleTTL
	}
	return &Gateway{
		Gateway: gw,
		tickers: NewSharded[float64](tickerTTL),
		candles: NewSharded[[]market.Candle](candleTTL),
	}
}

func (g *Gateway) Ticker(ctx context.Context, mkt string) (float64, error) {
	if p, ok := g.tickers.Get(mkt); ok {
		return p, nil
	}
	p, err := g.Gateway.Ticker(ctx, mkt)
	if err != nil {
		return 0, err
	}
	g.tickers.Set(mkt, p)
	return p, nil
}

func (g *Gateway) Candles(ctx context.Context, mkt string, res market.Resolution, count int) ([]market.Candle, error) {
	key := fmt.Sprintf("%s|%s|%d", mkt, res, count)
	if cs, ok := g.candles.Get(key); ok {
		return cs, nil
	}
	cs, err := g.Gateway.Candles(ctx, mkt, res, count)
	if err != nil {
		return nil, err
	}
	g.candles.Set(key, cs)
	return cs, nil
}

// Cleanup drops expired entries from both caches.
func (g *Gateway) Cleanup() int {
	return g.tickers.Cleanup() + g.candles.Cleanup()
}
