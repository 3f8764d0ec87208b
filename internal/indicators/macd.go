package indicators

// MACDResult is the last value of each MACD component.
type MACDResult struct {
	MACD      float64 `json:"macd"`
	Signal    float64 `json:"signal"`
	Histogram float64 `json:"histogram"`
}

// MACD computes EMA(short)-EMA(long), its EMA(signal) and their difference.
// All zeros when history is shorter than long+signal.
func MACD(values []float64, short, long, signal int) MACDResult {
	if len(values) < long+signal {
		return MACDResult{}
	}
	fast := EMASeries(values, short)
	slow := EMASeries(values, long)
	line := make([]float64, len(values))
	for i := range values {
		line[i] = fast[i] - slow[i]
	}
	sig := EMA(line, signal)
	m := line[len(line)-1]
	return MACDResult{MACD: m, Signal: sig, Histogram: m - sig}
}
