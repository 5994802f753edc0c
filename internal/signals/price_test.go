package signals

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMomentum(t *testing.T) {
	m := NewMomentum()

	assert.Zero(t, m.Predict("AAPL", nil).Confidence)
	assert.Zero(t, m.Predict("AAPL", []float64{100}).Confidence)

	// +10% over the window scales x5 and clamps to 1
	up := ramp(100, 110, 20)
	sig := m.Predict("AAPL", up)
	assert.InDelta(t, 0.5, sig.Confidence, 1e-9)
	assert.Equal(t, "lstm", sig.Source)

	// +30% clamps
	surge := ramp(100, 130, 20)
	assert.InDelta(t, 1.0, m.Predict("AAPL", surge).Confidence, 1e-9)

	down := ramp(100, 90, 20)
	assert.InDelta(t, -0.5, m.Predict("AAPL", down).Confidence, 1e-9)
}

func TestMeanReversion(t *testing.T) {
	m := NewMeanReversion()

	assert.Zero(t, m.Predict("AAPL", ramp(100, 101, 5)).Confidence)

	// ten bars at 100 then a close at 110: 10% above the mean -> -0.3
	closes := append(flat(100, 10), 110)
	sig := m.Predict("AAPL", closes)
	assert.InDelta(t, -0.3, sig.Confidence, 1e-9)
	assert.InDelta(t, (100-110.0)*0.1, sig.PredictedDelta, 1e-9)
	assert.Equal(t, "xgboost", sig.Source)

	// below the mean reads bullish
	dip := append(flat(100, 10), 90)
	assert.InDelta(t, 0.3, m.Predict("AAPL", dip).Confidence, 1e-9)
}

func TestTechnical(t *testing.T) {
	tech := NewTechnical()

	assert.Zero(t, tech.Predict("AAPL", flat(100, 10)).Confidence)

	// a flat series has nothing to say
	sig := tech.Predict("AAPL", flat(100, 60))
	assert.InDelta(t, 0, sig.Confidence, 1e-9)

	// a monotonic move is a trending regime: momentum dominates the blend,
	// so the composite follows the trend's direction
	selloff := ramp(200, 100, 60)
	assert.Negative(t, tech.Predict("AAPL", selloff).Confidence)
	rally := ramp(100, 200, 60)
	assert.Positive(t, tech.Predict("AAPL", rally).Confidence)
}

func TestTrendStrengthSeparatesRegimes(t *testing.T) {
	// monotonic ramp: displacement equals path length
	assert.InDelta(t, 100, trendStrength(ramp(100, 150, 40), 14), 1e-9)

	// symmetric chop: lots of path, little displacement
	chop := make([]float64, 40)
	for i := range chop {
		if i%2 == 0 {
			chop[i] = 100
		} else {
			chop[i] = 110
		}
	}
	assert.Less(t, trendStrength(chop, 14), 25.0)
}

func TestRSIBounds(t *testing.T) {
	r, ok := rsi(ramp(100, 120, 20), 14)
	assert.True(t, ok)
	assert.InDelta(t, 100, r, 1e-9, "all gains")

	r, ok = rsi(flat(100, 20), 14)
	assert.True(t, ok)
	assert.InDelta(t, 50, r, 1e-9, "no movement")

	_, ok = rsi(flat(100, 5), 14)
	assert.False(t, ok)
}

func ramp(from, to float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = from + (to-from)*float64(i)/float64(n-1)
	}
	return out
}

func flat(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}
