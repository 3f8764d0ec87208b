package upbit

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"autotrade-core/pkg/market"
)

type tickerResponse struct {
	Market     string  `json:"market"`
	TradePrice float64 `json:"trade_price"`
}

type candleResponse struct {
	Market        string  `json:"market"`
	DateTimeUTC   string  `json:"candle_date_time_utc"`
	OpeningPrice  float64 `json:"opening_price"`
	HighPrice     float64 `json:"high_price"`
	LowPrice      float64 `json:"low_price"`
	TradePrice    float64 `json:"trade_price"`
	AccTradeVol   float64 `json:"candle_acc_trade_volume"`
	TimestampMsec int64   `json:"timestamp"`
}

const candleTimeLayout = "2006-01-02T15:04:05"

// Ticker returns the last trade price of m.
func (c *Client) Ticker(ctx context.Context, m string) (float64, error) {
	var out []tickerResponse
	if err := c.doPublic(ctx, "/v1/ticker", url.Values{"markets": {m}}, &out); err != nil {
		return 0, err
	}
	if len(out) == 0 || out[0].TradePrice <= 0 {
		return 0, fmt.Errorf("upbit ticker %s: empty response", m)
	}
	return out[0].TradePrice, nil
}

// Candles returns up to count candles oldest first, paging backwards past the
// 200-per-request limit.
func (c *Client) Candles(ctx context.Context, m string, res market.Resolution, count int) ([]market.Candle, error) {
	path, err := candlePath(res)
	if err != nil {
		return nil, err
	}
	if count <= 0 {
		return nil, nil
	}

	var (
		newestFirst []market.Candle
		to          string
	)
	for remaining := count; remaining > 0; {
		page := remaining
		if page > maxCandlesPerRequest {
			page = maxCandlesPerRequest
		}
		params := url.Values{"market": {m}, "count": {strconv.Itoa(page)}}
		if to != "" {
			params.Set("to", to)
		}
		var out []candleResponse
		if err := c.doPublic(ctx, path, params, &out); err != nil {
			return nil, err
		}
		for _, r := range out {
			candle, err := r.toCandle()
			if err != nil {
				return nil, err
			}
			newestFirst = append(newestFirst, candle)
		}
		if len(out) < page {
			break
		}
		remaining -= len(out)
		to = newestFirst[len(newestFirst)-1].Time.Format(candleTimeLayout) + "Z"
	}

	candles := make([]market.Candle, len(newestFirst))
	for i, cdl := range newestFirst {
		candles[len(candles)-1-i] = cdl
	}
	return candles, nil
}

func (r candleResponse) toCandle() (market.Candle, error) {
	ts, err := time.Parse(candleTimeLayout, r.DateTimeUTC)
	if err != nil {
		return market.Candle{}, fmt.Errorf("upbit candle time %q: %w", r.DateTimeUTC, err)
	}
	return market.Candle{
		Time:   ts.UTC(),
		Open:   r.OpeningPrice,
		High:   r.HighPrice,
		Low:    r.LowPrice,
		Close:  r.TradePrice,
		Volume: r.AccTradeVol,
	}, nil
}

func candlePath(res market.Resolution) (string, error) {
	switch res {
	case market.Minute1:
		return "/v1/candles/minutes/1", nil
	case market.Minute5:
		return "/v1/candles/minutes/5", nil
	case market.Minute15:
		return "/v1/candles/minutes/15", nil
	case market.Minute60:
		return "/v1/candles/minutes/60", nil
	case market.Minute240:
		return "/v1/candles/minutes/240", nil
	case market.Day:
		return "/v1/candles/days", nil
	}
	return "", fmt.Errorf("upbit: unsupported resolution %q", res)
}
