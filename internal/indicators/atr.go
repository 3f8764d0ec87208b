package indicators

import (
	"math"

	"autotrade-core/pkg/market"
)

// ATR averages the true range over the last period candles.
// Short series average whatever true ranges are available.
func ATR(candles []market.Candle, period int) float64 {
	switch len(candles) {
	case 0:
		return 0
	case 1:
		return candles[0].High - candles[0].Low
	}
	if period <= 0 {
		period = 14
	}
	start := 1
	if len(candles)-period > start {
		start = len(candles) - period
	}
	sum := 0.0
	for i := start; i < len(candles); i++ {
		c, prev := candles[i], candles[i-1].Close
		tr := math.Max(c.High-c.Low, math.Max(math.Abs(c.High-prev), math.Abs(c.Low-prev)))
		sum += tr
	}
	return sum / float64(len(candles)-start)
}

// ATRPercent expresses ATR as a percentage of the last close.
func ATRPercent(candles []market.Candle, period int) float64 {
	if len(candles) == 0 || candles[len(candles)-1].Close == 0 {
		return 0
	}
	return ATR(candles, period) / candles[len(candles)-1].Close * 100
}
