package decision

// Ensemble weights, fixed per mode and summing to 1.0.
const (
	WeightLSTM      = 0.35
	WeightXGBoost   = 0.15
	WeightTechnical = 0.10
	WeightSentiment = 0.30
	WeightMacro     = 0.10
)

// Hard guardrail ceilings checked before any signal is computed.
const (
	MaxVolatilityAnnual = 0.50
	MaxSpreadPct        = 0.50
)

// Pipeline constants shared by both policies.
const (
	ConfidenceFloor  = 0.12 // below this, guarded mode holds
	VoteThreshold    = 0.05 // effective value beyond ±this counts as a vote
	TrendWindow      = 20   // bars in the moving average (needs TrendWindow+1 closes)
	TrendBandPct     = 0.03 // misalignment beyond this triggers damping
	TrendDampFloor   = 0.3
	HeadwindTrigger  = 0.10 // |composite| at which the text veto is considered
	HeadwindTextLine = 0.55 // text-effective magnitude that counts as a headwind
	VolScaleKnee     = 0.35 // above this annual vol, size scales by knee/vol
	MinBuySize       = 0.02 // buys below this are floored up to avoid rounding starvation
)

// Policy parameterizes the decision pipeline instead of forking it: guarded
// and full-control share the signal and composite math and differ only in
// which protective filters apply and how sizing works.
type Policy struct {
	Name              string
	BuyThreshold      float64
	SellThreshold     float64
	KellyFraction     float64
	MaxPositionSize   float64
	ApplyGuardrails   bool // volatility/spread hard gate
	ApplyFloor        bool // aggregate-confidence floor
	ApplyHeadwindVeto bool // text-signal damping of contrarian composites
	RequireAgreement  bool // need >=1 agreeing vote in the trade direction
	FullControlSizing bool // raw-composite sizing, no risk multipliers
}

// GuardedPolicy returns the protective default pipeline. Profile "aggressive"
// widens the sell threshold and sizing caps; anything else is "normal".
func GuardedPolicy(profile string) Policy {
	p := Policy{
		Name:              "guarded",
		BuyThreshold:      0.08,
		SellThreshold:     -0.08,
		KellyFraction:     0.25,
		MaxPositionSize:   0.20,
		ApplyGuardrails:   true,
		ApplyFloor:        true,
		ApplyHeadwindVeto: true,
		RequireAgreement:  true,
	}
	if profile == "aggressive" {
		p.Name = "guarded-aggressive"
		p.SellThreshold = -0.10
		p.KellyFraction = 0.35
		p.MaxPositionSize = 0.30
	}
	return p
}

// FullControlPolicy is the explicit escape hatch: no guardrail, no confidence
// floor, no headwind veto, no agreement gating, tighter thresholds, and a raw
// composite-driven size up to half of capital. Users opt into this knowing
// every protective filter is off; guarded mode is never weakened to match it.
func FullControlPolicy() Policy {
	return Policy{
		Name:              "full-control",
		BuyThreshold:      0.04,
		SellThreshold:     -0.04,
		MaxPositionSize:   0.50,
		FullControlSizing: true,
	}
}
