package decision

import (
	"fmt"
	"math"

	"github.com/paperquant/trading-agent/internal/observ"
)

// Actions produced by the engine.
const (
	ActionBuy  = "Buy"
	ActionSell = "Sell"
	ActionHold = "Hold"
)

// Signal is a price-derived forecast. Confidence is directional in [-1, 1];
// providers return a zero-value Signal rather than an error when they cannot
// produce one.
type Signal struct {
	Confidence     float64 `json:"confidence_score"`
	PredictedDelta float64 `json:"predicted_delta"`
	Source         string  `json:"source"`
}

// TextSignal is an LLM-scored view from text or macro context. Score is
// polarity/stance in [-1, 1], Confidence in [0, 1]; its contribution to the
// composite is Score*Confidence.
type TextSignal struct {
	Score      float64 `json:"score"`
	Confidence float64 `json:"confidence"`
	Summary    string  `json:"summary"`
	Source     string  `json:"source"`
}

// Effective is the text signal's weight-ready contribution.
func (t TextSignal) Effective() float64 { return t.Score * t.Confidence }

// TextContext carries the raw material the text scorers work from.
type TextContext struct {
	Headlines       []string
	MacroIndicators map[string]float64
}

// PriceSignalProvider forecasts from a close-price series. Implementations
// must not fail: insufficient data or internal errors degrade to a neutral
// Signal (confidence 0).
type PriceSignalProvider interface {
	Predict(symbol string, closes []float64) Signal
}

// TextSignalProvider scores text/macro context. Implementations degrade to a
// neutral TextSignal (score 0, confidence 0) on missing credentials or API
// failure.
type TextSignalProvider interface {
	Score(symbol string, tc TextContext) TextSignal
}

// ReasoningFunc receives one audit record per pipeline sub-step. The audit
// trail is a required side effect of every decision, not optional logging.
type ReasoningFunc func(symbol, step, message string, data map[string]any)

// Input is one symbol's snapshot handed to Decide.
type Input struct {
	Symbol           string
	Closes           []float64
	Text             TextContext
	CurrentPrice     float64
	VolatilityAnnual float64
	SpreadPct        float64
}

// Decision is the engine output. GuardrailTriggered implies ActionHold with
// zero size.
type Decision struct {
	Action             string             `json:"action"`
	PositionSize       float64            `json:"position_size"`
	Confidence         float64            `json:"confidence"`
	Reason             string             `json:"reason"`
	GuardrailTriggered bool               `json:"guardrail_triggered"`
	WeightsUsed        map[string]float64 `json:"weights_used"`
}

// Engine combines two ML-style price predictors, a technical composite and
// two text scorers into a single sized decision.
type Engine struct {
	lstm      PriceSignalProvider
	xgboost   PriceSignalProvider
	technical PriceSignalProvider
	sentiment TextSignalProvider
	macro     TextSignalProvider
	emit      ReasoningFunc
}

// NewEngine wires the five providers. Nil providers are replaced with neutral
// stand-ins so a partially configured engine still holds rather than panics.
// onReasoning may be nil when no audit sink is attached (e.g. unit tests).
func NewEngine(lstm, xgboost, technical PriceSignalProvider, sentiment, macro TextSignalProvider, onReasoning ReasoningFunc) *Engine {
	if lstm == nil {
		lstm = neutralPrice{"lstm"}
	}
	if xgboost == nil {
		xgboost = neutralPrice{"xgboost"}
	}
	if technical == nil {
		technical = neutralPrice{"technical"}
	}
	if sentiment == nil {
		sentiment = neutralText{"sentiment"}
	}
	if macro == nil {
		macro = neutralText{"macro"}
	}
	return &Engine{lstm: lstm, xgboost: xgboost, technical: technical, sentiment: sentiment, macro: macro, emit: onReasoning}
}

// WithoutReasoning returns a copy of the engine with no audit sink attached.
// Replays call Decide once per bar; routing those steps into the live
// reasoning log would swamp it.
func (e *Engine) WithoutReasoning() *Engine {
	c := *e
	c.emit = nil
	return &c
}

type neutralPrice struct{ name string }

func (n neutralPrice) Predict(string, []float64) Signal { return Signal{Source: n.name} }

type neutralText struct{ name string }

func (n neutralText) Score(string, TextContext) TextSignal { return TextSignal{Source: n.name} }

func weights() map[string]float64 {
	return map[string]float64{
		"lstm":      WeightLSTM,
		"xgboost":   WeightXGBoost,
		"technical": WeightTechnical,
		"sentiment": WeightSentiment,
		"macro":     WeightMacro,
	}
}

func (e *Engine) step(symbol, step, message string, data map[string]any) {
	if e.emit != nil {
		e.emit(symbol, step, message, data)
	}
}

// Decide runs the full pipeline for one symbol under the given policy.
func (e *Engine) Decide(in Input, p Policy) Decision {
	e.step(in.Symbol, "start", fmt.Sprintf("Running ensemble for %s (%s)", in.Symbol, p.Name), nil)

	// 1. Hard guardrails override everything; no signal is computed past here.
	if p.ApplyGuardrails {
		if reason, ok := checkGuardrails(in.VolatilityAnnual, in.SpreadPct); !ok {
			e.step(in.Symbol, "guardrail", reason, map[string]any{"triggered": true})
			observ.IncCounter("engine_guardrail_trips_total", map[string]string{"symbol": in.Symbol})
			return Decision{
				Action:             ActionHold,
				Reason:             reason,
				GuardrailTriggered: true,
				WeightsUsed:        weights(),
			}
		}
	}

	// 2. Gather the five signals; providers degrade to neutral on their own.
	lstm := e.lstm.Predict(in.Symbol, in.Closes)
	e.step(in.Symbol, "lstm", fmt.Sprintf("LSTM confidence=%.3f delta=%.4f", lstm.Confidence, lstm.PredictedDelta),
		map[string]any{"confidence": lstm.Confidence, "delta": lstm.PredictedDelta})

	xgb := e.xgboost.Predict(in.Symbol, in.Closes)
	e.step(in.Symbol, "xgboost", fmt.Sprintf("XGBoost confidence=%.3f delta=%.4f", xgb.Confidence, xgb.PredictedDelta),
		map[string]any{"confidence": xgb.Confidence, "delta": xgb.PredictedDelta})

	tech := e.technical.Predict(in.Symbol, in.Closes)
	e.step(in.Symbol, "technical", fmt.Sprintf("Technical confidence=%.3f", tech.Confidence),
		map[string]any{"confidence": tech.Confidence})

	sent := e.sentiment.Score(in.Symbol, in.Text)
	e.step(in.Symbol, "sentiment", fmt.Sprintf("Sentiment polarity=%.3f confidence=%.2f", sent.Score, sent.Confidence),
		map[string]any{"polarity": sent.Score, "confidence": sent.Confidence, "summary": sent.Summary})

	macro := e.macro.Score(in.Symbol, in.Text)
	e.step(in.Symbol, "macro", fmt.Sprintf("Macro stance=%.3f confidence=%.2f", macro.Score, macro.Confidence),
		map[string]any{"stance": macro.Score, "confidence": macro.Confidence, "summary": macro.Summary})

	sentEff := sent.Effective()
	macroEff := macro.Effective()

	// 3. Weighted composite, clamped to [-1, 1].
	composite := clamp(
		WeightLSTM*lstm.Confidence+
			WeightXGBoost*xgb.Confidence+
			WeightTechnical*tech.Confidence+
			WeightSentiment*sentEff+
			WeightMacro*macroEff,
		-1, 1)

	// 4. Aggregate confidence. Price confidences are squared before averaging
	// to damp weak momentum reads relative to the LLM-reported confidences;
	// the asymmetry is deliberate.
	confidence := clamp(
		(lstm.Confidence*lstm.Confidence+
			xgb.Confidence*xgb.Confidence+
			tech.Confidence*tech.Confidence+
			sent.Confidence+
			macro.Confidence)/5,
		0, 1)

	e.step(in.Symbol, "ensemble", fmt.Sprintf("Composite=%.3f confidence=%.3f", composite, confidence),
		map[string]any{"composite": composite, "confidence": confidence, "weights": weights()})

	// 5. Agreement vote across the five effective values.
	effective := []float64{lstm.Confidence, xgb.Confidence, tech.Confidence, sentEff, macroEff}
	agreement, agreeCount := vote(effective)
	e.step(in.Symbol, "agreement", fmt.Sprintf("Agreement=%s votes=%d", agreement, agreeCount),
		map[string]any{"agreement": agreement, "votes": agreeCount})

	// 6. Trend alignment against the prior 20-bar moving average.
	trendMult, trendPct := trendMultiplier(in.Closes, composite)
	if trendMult != 1.0 {
		e.step(in.Symbol, "trend", fmt.Sprintf("Counter-trend (%.1f%% vs MA%d): size multiplier %.2f", trendPct*100, TrendWindow, trendMult),
			map[string]any{"trend_pct": trendPct, "multiplier": trendMult})
	} else {
		e.step(in.Symbol, "trend", fmt.Sprintf("Trend aligned (%.1f%% vs MA%d): size multiplier 1.00", trendPct*100, TrendWindow),
			map[string]any{"trend_pct": trendPct, "multiplier": trendMult})
	}

	// 7. Confidence floor: no trade on noise.
	if p.ApplyFloor {
		if confidence < ConfidenceFloor {
			reason := fmt.Sprintf("Confidence %.3f below floor %.2f", confidence, ConfidenceFloor)
			e.step(in.Symbol, "confidence_floor", reason, map[string]any{"confidence": confidence})
			return Decision{Action: ActionHold, Confidence: confidence, Reason: reason, WeightsUsed: weights()}
		}
		e.step(in.Symbol, "confidence_floor", fmt.Sprintf("Confidence %.3f clears floor %.2f", confidence, ConfidenceFloor),
			map[string]any{"confidence": confidence})
	}

	// 8. Headwind veto: strong contrary text signals halve the composite
	// (dampen, not cancel). Buy side trips on either text signal; sell side
	// needs both tailwinds.
	if p.ApplyHeadwindVeto {
		switch {
		case composite >= HeadwindTrigger && (macroEff < -HeadwindTextLine || sentEff < -HeadwindTextLine):
			composite *= 0.5
			e.step(in.Symbol, "headwind", fmt.Sprintf("Text headwind (macro=%.2f sentiment=%.2f): composite halved to %.3f", macroEff, sentEff, composite),
				map[string]any{"composite": composite})
		case composite <= -HeadwindTrigger && macroEff > HeadwindTextLine && sentEff > HeadwindTextLine:
			composite *= 0.5
			e.step(in.Symbol, "headwind", fmt.Sprintf("Text tailwind (macro=%.2f sentiment=%.2f): composite halved to %.3f", macroEff, sentEff, composite),
				map[string]any{"composite": composite})
		default:
			e.step(in.Symbol, "headwind", fmt.Sprintf("No text veto (macro=%.2f sentiment=%.2f): composite %.3f unchanged", macroEff, sentEff, composite),
				map[string]any{"composite": composite})
		}
	}

	// 9. Thresholds with agreement gating: a lone text signal cannot force a
	// trade without at least one corroborating vote in its direction.
	action := ActionHold
	switch {
	case composite >= p.BuyThreshold && (!p.RequireAgreement || (agreement == "bull" && agreeCount >= 1)):
		action = ActionBuy
	case composite <= p.SellThreshold && (!p.RequireAgreement || (agreement == "bear" && agreeCount >= 1)):
		action = ActionSell
	}

	// 10. Position sizing.
	size := 0.0
	if action != ActionHold {
		if p.FullControlSizing {
			size = clamp(0.5*math.Abs(composite)*(0.3+0.7*confidence), 0, p.MaxPositionSize)
		} else {
			size = clamp(p.KellyFraction*math.Abs(composite)*confidence, 0, p.MaxPositionSize)
			if in.VolatilityAnnual > VolScaleKnee {
				size *= VolScaleKnee / in.VolatilityAnnual
			}
			size *= agreementMultiplier(agreeCount)
			size *= trendMult
			if action == ActionBuy && size < MinBuySize {
				size = MinBuySize
			}
			size = clamp(size, 0, p.MaxPositionSize)
		}
	}

	reason := fmt.Sprintf("LSTM=%.2f, XGB=%.2f, Tech=%.2f, Sentiment=%.2f, Macro=%.2f -> composite=%.2f (%s, votes=%d)",
		lstm.Confidence, xgb.Confidence, tech.Confidence, sent.Score, macro.Score, composite, agreement, agreeCount)
	e.step(in.Symbol, "decision", fmt.Sprintf("%s size=%.3f: %s", action, size, reason),
		map[string]any{"action": action, "position_size": size})
	observ.IncCounter("engine_decisions_total", map[string]string{"action": action})

	return Decision{
		Action:       action,
		PositionSize: size,
		Confidence:   confidence,
		Reason:       reason,
		WeightsUsed:  weights(),
	}
}

// checkGuardrails returns (reason, false) when volatility or spread exceed
// their hard ceilings.
func checkGuardrails(volAnnual, spreadPct float64) (string, bool) {
	if volAnnual > MaxVolatilityAnnual {
		return fmt.Sprintf("Volatility %.2f exceeds max %.2f", volAnnual, MaxVolatilityAnnual), false
	}
	if spreadPct > MaxSpreadPct {
		return fmt.Sprintf("Bid-ask spread %.2f exceeds max %.2f", spreadPct, MaxSpreadPct), false
	}
	return "", true
}

// vote tallies effective values beyond ±VoteThreshold. The majority side wins;
// a tie is neutral with zero votes.
func vote(effective []float64) (string, int) {
	bulls, bears := 0, 0
	for _, v := range effective {
		switch {
		case v > VoteThreshold:
			bulls++
		case v < -VoteThreshold:
			bears++
		}
	}
	switch {
	case bulls > bears:
		return "bull", bulls
	case bears > bulls:
		return "bear", bears
	default:
		return "neutral", 0
	}
}

// trendMultiplier damps trades fighting the short-term trend: buying >3%
// below the prior 20-bar average or selling >3% above it shrinks size by
// max(TrendDampFloor, 1±trendPct).
func trendMultiplier(closes []float64, composite float64) (mult, trendPct float64) {
	mult = 1.0
	if len(closes) < TrendWindow+1 {
		return mult, 0
	}
	last := closes[len(closes)-1]
	window := closes[len(closes)-1-TrendWindow : len(closes)-1]
	ma := 0.0
	for _, c := range window {
		ma += c
	}
	ma /= float64(TrendWindow)
	if ma <= 0 {
		return mult, 0
	}
	trendPct = (last - ma) / ma
	switch {
	case composite > 0 && trendPct < -TrendBandPct:
		mult = math.Max(TrendDampFloor, 1+trendPct)
	case composite < 0 && trendPct > TrendBandPct:
		mult = math.Max(TrendDampFloor, 1-trendPct)
	}
	return mult, trendPct
}

func agreementMultiplier(agreeCount int) float64 {
	switch {
	case agreeCount >= 4:
		return 1.0
	case agreeCount == 2:
		return 0.6
	default:
		return 0.8
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
