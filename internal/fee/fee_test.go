package fee

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBufferNeverBelowRoundTripFee(t *testing.T) {
	for _, rate := range []float64{0, 0.0001, 0.0005, 0.0025, 0.01} {
		m := New(rate)
		assert.GreaterOrEqual(t, m.Buffer(), 2*rate, "rate %v", rate)
	}
}

func TestDefaultBuffer(t *testing.T) {
	m := New(DefaultRate)
	assert.InDelta(t, 0.0015, m.Buffer(), 1e-12)
	assert.InDelta(t, 0.15, m.BufferPercent(), 1e-12)
	assert.InDelta(t, 5.0, m.Fee(10000), 1e-12)
}

func TestEffectiveRaisesOnly(t *testing.T) {
	m := New(DefaultRate)
	assert.Equal(t, 0.5, m.Effective(0.5))
	assert.InDelta(t, 0.15, m.Effective(0.1), 1e-12)
	assert.False(t, math.IsNaN(m.Effective(0)))
}

func TestNegativeRateFallsBack(t *testing.T) {
	assert.Equal(t, DefaultRate, New(-1).Rate)
}
