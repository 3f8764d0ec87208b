package indicators

import (
	"math"
	"testing"
	"time"

	"autotrade-core/pkg/market"
)

func series(n int, f func(i int) float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = f(i)
	}
	return out
}

func candlesFrom(closes []float64) []market.Candle {
	out := make([]market.Candle, len(closes))
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, c := range closes {
		out[i] = market.Candle{Time: start.Add(time.Duration(i) * time.Minute), Open: c, High: c + 1, Low: c - 1, Close: c, Volume: 1}
	}
	return out
}

func TestRSI(t *testing.T) {
	t.Run("short history is neutral", func(t *testing.T) {
		if got := RSI([]float64{1, 2, 3}, 14); got != 50 {
			t.Errorf("RSI = %v, want 50", got)
		}
	})
	t.Run("no losses", func(t *testing.T) {
		if got := RSI(series(20, func(i int) float64 { return float64(i) }), 14); got != 100 {
			t.Errorf("RSI = %v, want 100", got)
		}
	})
	t.Run("only losses", func(t *testing.T) {
		if got := RSI(series(20, func(i int) float64 { return 100 - float64(i) }), 14); got != 0 {
			t.Errorf("RSI = %v, want 0", got)
		}
	})
	t.Run("bounded", func(t *testing.T) {
		vals := series(200, func(i int) float64 { return 100 + 10*math.Sin(float64(i)/3) })
		for n := 15; n <= len(vals); n++ {
			r := RSI(vals[:n], 14)
			if r < 0 || r > 100 {
				t.Fatalf("RSI out of range at %d: %v", n, r)
			}
		}
	})
}

func TestSMA(t *testing.T) {
	vals := []float64{1, 2, 3, 4, 5, 6}
	if got := SMA(vals, 3); got != 5 {
		t.Errorf("SMA = %v, want 5", got)
	}
	if got := SMA(vals, 10); got != 6 {
		t.Errorf("SMA with short history = %v, want last value 6", got)
	}
	if got := SMA(nil, 3); got != 0 {
		t.Errorf("SMA(nil) = %v", got)
	}
}

func TestEMASeededWithFirst(t *testing.T) {
	if got := EMA([]float64{10}, 5); got != 10 {
		t.Errorf("EMA single = %v", got)
	}
	// k = 2/3 -> 10 + (13-10)*2/3 = 12
	if got := EMA([]float64{10, 13}, 2); math.Abs(got-12) > 1e-12 {
		t.Errorf("EMA = %v, want 12", got)
	}
}

func TestMACD(t *testing.T) {
	if got := MACD(series(30, func(i int) float64 { return float64(i) }), 12, 26, 9); got != (MACDResult{}) {
		t.Errorf("short MACD = %+v, want zeros", got)
	}
	up := MACD(series(100, func(i int) float64 { return float64(i) }), 12, 26, 9)
	if up.MACD <= 0 {
		t.Errorf("rising series should give positive MACD, got %+v", up)
	}
	if math.Abs(up.Histogram-(up.MACD-up.Signal)) > 1e-12 {
		t.Errorf("histogram mismatch: %+v", up)
	}
}

func TestBollinger(t *testing.T) {
	short := Bollinger([]float64{1, 2, 3}, 20, 2)
	if short.Upper != 3 || short.Lower != 3 || short.Middle != 3 {
		t.Errorf("short bands should collapse to SMA: %+v", short)
	}
	flat := Bollinger(series(20, func(int) float64 { return 5 }), 20, 2)
	if flat.Width() != 0 {
		t.Errorf("flat width = %v", flat.Width())
	}
	b := Bollinger([]float64{2, 4, 4, 4, 5, 5, 7, 9}, 8, 2)
	// population sd of that set is 2
	if b.Middle != 5 || b.Upper != 9 || b.Lower != 1 {
		t.Errorf("bands = %+v", b)
	}
}

func TestStochastic(t *testing.T) {
	if got := Stochastic(candlesFrom([]float64{1, 2}), 14, 3, 3); got.K != 50 || got.D != 50 {
		t.Errorf("short stochastic = %+v", got)
	}
	rising := Stochastic(candlesFrom(series(40, func(i int) float64 { return float64(10 + i) })), 14, 3, 3)
	if rising.K < 80 || rising.K > 100 {
		t.Errorf("rising %%K = %v", rising.K)
	}
}

func TestATR(t *testing.T) {
	c := candlesFrom(series(30, func(int) float64 { return 100 }))
	if got := ATR(c, 14); got != 2 {
		t.Errorf("ATR = %v, want 2", got)
	}
	if got := ATRPercent(c, 14); math.Abs(got-2) > 1e-9 {
		t.Errorf("ATR%% = %v, want 2", got)
	}
	if ATR(nil, 14) != 0 {
		t.Error("ATR(nil) should be 0")
	}
}

func TestDeterministic(t *testing.T) {
	vals := series(120, func(i int) float64 { return 100 + math.Cos(float64(i)) })
	c := candlesFrom(vals)
	for i := 0; i < 3; i++ {
		if RSI(vals, 14) != RSI(vals, 14) || MACD(vals, 12, 26, 9) != MACD(vals, 12, 26, 9) ||
			Stochastic(c, 14, 3, 3) != Stochastic(c, 14, 3, 3) || ATR(c, 14) != ATR(c, 14) {
			t.Fatal("indicator output not stable")
		}
	}
}
