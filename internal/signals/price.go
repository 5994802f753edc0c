package signals

import (
	"github.com/paperquant/trading-agent/internal/decision"
)

// Momentum is the sequence-model slot of the ensemble: next-step return
// estimated from lookback-window momentum, scaled x5 into a directional
// confidence. Swap in a trained model here without touching the engine.
type Momentum struct {
	Lookback int
}

// NewMomentum returns a predictor over the default 20-bar window.
func NewMomentum() *Momentum { return &Momentum{Lookback: 20} }

// Predict maps the lookback-window return into [-1, 1].
func (m *Momentum) Predict(symbol string, closes []float64) decision.Signal {
	if len(closes) < 2 {
		return decision.Signal{Source: "lstm"}
	}
	window := m.Lookback
	if window > len(closes) {
		window = len(closes)
	}
	recent := closes[len(closes)-window:]
	start, end := recent[0], recent[len(recent)-1]
	if start == 0 {
		return decision.Signal{Source: "lstm"}
	}
	ret := (end - start) / start
	return decision.Signal{
		Confidence:     clamp1(ret * 5),
		PredictedDelta: ret * end,
		Source:         "lstm",
	}
}

// MeanReversion is the boosted-tree slot: deviation from the short moving
// average read as a reversion signal, above the mean bearish and below it
// bullish.
type MeanReversion struct {
	Window int
}

// NewMeanReversion returns a predictor over the default 10-bar window.
func NewMeanReversion() *MeanReversion { return &MeanReversion{Window: 10} }

// Predict maps the deviation from the Window-bar mean into [-1, 1].
func (m *MeanReversion) Predict(symbol string, closes []float64) decision.Signal {
	if len(closes) < m.Window+1 {
		return decision.Signal{Source: "xgboost"}
	}
	recent := closes[len(closes)-m.Window-1:]
	current := recent[len(recent)-1]
	ma := 0.0
	for _, c := range recent[:len(recent)-1] {
		ma += c
	}
	ma /= float64(len(recent) - 1)
	if ma == 0 {
		return decision.Signal{Source: "xgboost"}
	}
	deviation := (current - ma) / ma
	return decision.Signal{
		Confidence:     clamp1(-deviation * 3),
		PredictedDelta: (ma - current) * 0.1,
		Source:         "xgboost",
	}
}

func clamp1(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}
