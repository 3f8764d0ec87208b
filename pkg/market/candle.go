// Package market holds exchange-neutral market data types.
package market

import (
	"strings"
	"time"
)

// MinOrderValue is the smallest order value (KRW) the exchange accepts.
const MinOrderValue = 5000.0

// QuoteCurrency is the settlement currency of every supported market.
const QuoteCurrency = "KRW"

// Candle is one OHLCV bar. Series are ordered oldest to newest.
type Candle struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Resolution is a candle interval.
type Resolution string

const (
	Minute1   Resolution = "1m"
	Minute5   Resolution = "5m"
	Minute15  Resolution = "15m"
	Minute60  Resolution = "60m"
	Minute240 Resolution = "240m"
	Day       Resolution = "1d"
)

// Duration returns the bar length.
func (r Resolution) Duration() time.Duration {
	switch r {
	case Minute1:
		return time.Minute
	case Minute5:
		return 5 * time.Minute
	case Minute15:
		return 15 * time.Minute
	case Minute60:
		return time.Hour
	case Minute240:
		return 4 * time.Hour
	case Day:
		return 24 * time.Hour
	}
	return 0
}

// Currency returns the traded asset of a market code ("KRW-BTC" -> "BTC").
func Currency(market string) string {
	if i := strings.IndexByte(market, '-'); i >= 0 {
		return market[i+1:]
	}
	return market
}

// Normalize upper-cases and trims a market code.
func Normalize(market string) string {
	return strings.ToUpper(strings.TrimSpace(market))
}

// Valid reports whether market looks like "KRW-XXX".
func Valid(market string) bool {
	m := Normalize(market)
	return strings.HasPrefix(m, QuoteCurrency+"-") && len(m) > len(QuoteCurrency)+1
}
