// Package fee derives the minimum profitable move and per-trade fees from a fee rate.
package fee

import "math"

// SlippageMargin is added on top of the round-trip fee.
const SlippageMargin = 0.0005

// DefaultRate is the exchange taker fee for KRW markets.
const DefaultRate = 0.0005

// Model is a fee schedule for one account.
type Model struct {
	Rate float64
}

// New returns a model for rate; negative rates fall back to DefaultRate.
func New(rate float64) Model {
	if rate < 0 {
		rate = DefaultRate
	}
	return Model{Rate: rate}
}

// Buffer is the minimum round-trip price move (fraction) that can be profitable.
func (m Model) Buffer() float64 {
	return 2*m.Rate + SlippageMargin
}

// BufferPercent is Buffer expressed in percent.
func (m Model) BufferPercent() float64 {
	return m.Buffer() * 100
}

// Fee returns the fee charged on an order of the given value.
func (m Model) Fee(amount float64) float64 {
	return amount * m.Rate
}

// Effective raises a percent threshold to the fee buffer; it never lowers it.
func (m Model) Effective(thresholdPercent float64) float64 {
	return math.Max(thresholdPercent, m.BufferPercent())
}
