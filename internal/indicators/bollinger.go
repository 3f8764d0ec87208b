package indicators

import "math"

// Bands holds Bollinger band levels.
type Bands struct {
	Upper  float64 `json:"upper"`
	Middle float64 `json:"middle"`
	Lower  float64 `json:"lower"`
}

// Width returns (upper-lower)/middle, or 0 when middle is zero.
func (b Bands) Width() float64 {
	if b.Middle == 0 {
		return 0
	}
	return (b.Upper - b.Lower) / b.Middle
}

// Bollinger returns SMA ± stdDev·σ (population σ) over the last period values.
// With short history all three bands collapse to the SMA.
func Bollinger(values []float64, period int, stdDev float64) Bands {
	mid := SMA(values, period)
	if period <= 0 || len(values) < period {
		return Bands{Upper: mid, Middle: mid, Lower: mid}
	}
	window := values[len(values)-period:]
	variance := 0.0
	for _, v := range window {
		d := v - mid
		variance += d * d
	}
	sd := math.Sqrt(variance / float64(period))
	return Bands{Upper: mid + stdDev*sd, Middle: mid, Lower: mid - stdDev*sd}
}
