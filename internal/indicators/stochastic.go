package indicators

import "autotrade-core/pkg/market"

// StochasticResult carries the smoothed %K and its %D signal line.
type StochasticResult struct {
	K float64 `json:"k"`
	D float64 `json:"d"`
}

// Stochastic computes the slow stochastic oscillator. Returns 50/50 when fewer than period candles exist.
func Stochastic(candles []market.Candle, period, smoothK, smoothD int) StochasticResult {
	if period <= 0 || len(candles) < period {
		return StochasticResult{K: 50, D: 50}
	}
	raw := make([]float64, 0, len(candles)-period+1)
	for end := period; end <= len(candles); end++ {
		window := candles[end-period : end]
		lo, hi := window[0].Low, window[0].High
		for _, c := range window[1:] {
			if c.Low < lo {
				lo = c.Low
			}
			if c.High > hi {
				hi = c.High
			}
		}
		last := window[len(window)-1].Close
		if hi == lo {
			raw = append(raw, 50)
			continue
		}
		raw = append(raw, (last-lo)/(hi-lo)*100)
	}

	k := rolling(raw, smoothK)
	return StochasticResult{K: k[len(k)-1], D: SMA(k, smoothD)}
}

// rolling returns the SMA of values at every index it can be computed for,
// or values unchanged when the window is longer than the series.
func rolling(values []float64, window int) []float64 {
	if window <= 1 || len(values) < window {
		return values
	}
	out := make([]float64, 0, len(values)-window+1)
	for end := window; end <= len(values); end++ {
		out = append(out, SMA(values[:end], window))
	}
	return out
}
