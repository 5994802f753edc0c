package signals

import (
	"math"

	"github.com/paperquant/trading-agent/internal/decision"
)

// Indicator parameters.
const (
	rsiPeriod       = 14
	macdFast        = 12
	macdSlow        = 26
	macdSignal      = 9
	bollingerPeriod = 20
	bollingerStd    = 2.0
	adxPeriod       = 14
	adxTrending     = 25.0
)

// Technical blends RSI, MACD, Bollinger %B and trend confirmation into one
// directional signal, with the blend weights switched by a trending/ranging
// regime read.
type Technical struct{}

// NewTechnical returns the technical-composite predictor.
func NewTechnical() *Technical { return &Technical{} }

// minBars is the shortest series the composite can be computed on.
func (t *Technical) minBars() int {
	n := rsiPeriod + 1
	if macdSlow+macdSignal > n {
		n = macdSlow + macdSignal
	}
	if bollingerPeriod > n {
		n = bollingerPeriod
	}
	return n
}

// Predict computes the regime-blended composite in [-1, 1].
func (t *Technical) Predict(symbol string, closes []float64) decision.Signal {
	if len(closes) < t.minBars() {
		return decision.Signal{Source: "technical"}
	}
	last := closes[len(closes)-1]

	rsiScore := 0.0
	if r, ok := rsi(closes, rsiPeriod); ok {
		rsiScore = (50 - r) / 50
		switch {
		case r <= 30:
			rsiScore = 0.5 + 0.5*(30-r)/30
		case r >= 70:
			rsiScore = -0.5 - 0.5*(r-70)/30
		}
		rsiScore = clamp1(rsiScore)
	}

	macdScore := 0.0
	if hist, ok := macdHistogram(closes); ok && last != 0 {
		macdScore = clamp1(hist / last * 100 * 25)
	}

	bbScore := 0.0
	if pctB, ok := bollingerPctB(closes); ok {
		bbScore = clamp1((0.5 - pctB) * 2)
	}

	trendScore := 0.0
	if len(closes) >= 21 {
		window := closes[len(closes)-21 : len(closes)-1]
		ma := 0.0
		for _, c := range window {
			ma += c
		}
		ma /= 20
		if ma > 0 {
			trendScore = clamp1((last - ma) / ma * 40)
		}
	}

	var composite float64
	if trendStrength(closes, adxPeriod) > adxTrending {
		// trending regime: momentum indicators lead
		composite = 0.50*macdScore + 0.30*trendScore + 0.10*rsiScore + 0.10*bbScore
	} else {
		// ranging regime: oscillators lead
		composite = 0.40*rsiScore + 0.40*bbScore + 0.10*macdScore + 0.10*trendScore
	}
	composite = clamp1(composite)

	return decision.Signal{
		Confidence:     composite,
		PredictedDelta: composite * last * 0.01,
		Source:         "technical",
	}
}

// rsi is the 0-100 relative strength index over the trailing period.
func rsi(closes []float64, period int) (float64, bool) {
	if len(closes) < period+1 {
		return 0, false
	}
	var avgGain, avgLoss float64
	for i := len(closes) - period; i < len(closes); i++ {
		chg := closes[i] - closes[i-1]
		if chg > 0 {
			avgGain += chg
		} else {
			avgLoss -= chg
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)
	if avgLoss == 0 {
		if avgGain > 0 {
			return 100, true
		}
		return 50, true
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs), true
}

func ema(data []float64, period int) []float64 {
	out := make([]float64, len(data))
	mult := 2.0 / float64(period+1)
	for i, v := range data {
		if i == 0 {
			out[i] = v
			continue
		}
		out[i] = (v-out[i-1])*mult + out[i-1]
	}
	return out
}

// macdHistogram is MACD line minus signal line; positive reads bullish.
func macdHistogram(closes []float64) (float64, bool) {
	if len(closes) < macdSlow+macdSignal {
		return 0, false
	}
	fast := ema(closes, macdFast)
	slow := ema(closes, macdSlow)
	line := make([]float64, len(closes))
	for i := range closes {
		line[i] = fast[i] - slow[i]
	}
	signal := ema(line, macdSignal)
	return line[len(line)-1] - signal[len(signal)-1], true
}

// bollingerPctB is (price-lower)/(upper-lower); >1 overbought, <0 oversold.
func bollingerPctB(closes []float64) (float64, bool) {
	if len(closes) < bollingerPeriod {
		return 0, false
	}
	recent := closes[len(closes)-bollingerPeriod:]
	ma := 0.0
	for _, c := range recent {
		ma += c
	}
	ma /= bollingerPeriod
	variance := 0.0
	for _, c := range recent {
		variance += (c - ma) * (c - ma)
	}
	variance /= bollingerPeriod
	std := math.Sqrt(variance)
	if std == 0 {
		return 0.5, true
	}
	upper := ma + bollingerStd*std
	lower := ma - bollingerStd*std
	return (closes[len(closes)-1] - lower) / (upper - lower), true
}

// trendStrength is a displacement/path-length ADX proxy in 0-100. A true ADX
// needs DM+/DM- over highs and lows we don't carry; displacement over total
// movement behaves the same for regime switching.
func trendStrength(closes []float64, period int) float64 {
	if len(closes) < period*2 {
		return 0
	}
	displace := math.Abs(closes[len(closes)-1] - closes[len(closes)-period])
	recent := closes[len(closes)-period:]
	path := 0.0
	for i := 1; i < len(recent); i++ {
		path += math.Abs(recent[i] - recent[i-1])
	}
	if path == 0 {
		return 0
	}
	return displace / path * 100
}
