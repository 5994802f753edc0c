package adapters

import (
	"context"
	"sort"

	"github.com/paperquant/trading-agent/internal/observ"
)

// Volatility ranking parameters.
const (
	// market caps under the cutoff get a boost: smaller names trade wilder
	// than their realized vol alone suggests
	smallCapCutoff = 50_000_000_000
	// hourly bars used per symbol
	volLookbackBars = 8
	minVolBars      = 4
)

// alwaysVolatile are high-interest names pinned to the front of the ranking
// whenever they are in the candidate set and have data.
var alwaysVolatile = []string{"GME", "AMC"}

// VolatilityRanker scores candidate symbols by recent intraday volatility
// with a small-cap boost.
type VolatilityRanker struct {
	data MarketData
}

// NewVolatilityRanker builds a ranker over the given feed.
func NewVolatilityRanker(data MarketData) *VolatilityRanker {
	return &VolatilityRanker{data: data}
}

// VolatilityScore is one ranked candidate.
type VolatilityScore struct {
	Symbol    string  `json:"symbol"`
	Score     float64 `json:"volatility_score"`
	MarketCap int64   `json:"market_cap"`
}

// score computes the boosted volatility for one symbol; ok is false when the
// symbol lacks enough bars.
func (r *VolatilityRanker) score(ctx context.Context, symbol string) (VolatilityScore, bool) {
	closes, err := r.data.HourlyCloses(ctx, symbol, volLookbackBars)
	if err != nil || len(closes) < minVolBars {
		return VolatilityScore{}, false
	}
	vol := AnnualizedVolatility(closes, HourlyPeriods)
	if vol == 0 {
		return VolatilityScore{}, false
	}
	var mcap int64
	if q, err := r.data.Quote(ctx, symbol); err == nil {
		mcap = q.MarketCap
	}
	if mcap > 0 && mcap < smallCapCutoff {
		vol *= 1 + 0.5*(1-float64(mcap)/smallCapCutoff)
	}
	return VolatilityScore{Symbol: symbol, Score: vol, MarketCap: mcap}, true
}

// Rank scores every candidate and returns them ordered by descending score.
func (r *VolatilityRanker) Rank(ctx context.Context, candidates []string) []VolatilityScore {
	var scored []VolatilityScore
	for _, sym := range candidates {
		sym = NormalizeSymbol(sym)
		if sym == "" {
			continue
		}
		s, ok := r.score(ctx, sym)
		if !ok {
			observ.Logger.Debug().Str("symbol", sym).Msg("volatility scan skipped symbol")
			continue
		}
		scored = append(scored, s)
	}
	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	return scored
}

// TopVolatile returns the topN symbols by score, with pinned high-interest
// names first when present in the scored set.
func (r *VolatilityRanker) TopVolatile(ctx context.Context, candidates []string, topN int) []string {
	if topN <= 0 {
		topN = 25
	}
	scored := r.Rank(ctx, candidates)
	byScore := make(map[string]bool, len(scored))
	for _, s := range scored {
		byScore[s.Symbol] = true
	}
	ordered := make([]string, 0, topN)
	seen := make(map[string]bool)
	for _, pin := range alwaysVolatile {
		if byScore[pin] && !seen[pin] {
			ordered = append(ordered, pin)
			seen[pin] = true
		}
	}
	for _, s := range scored {
		if len(ordered) >= topN {
			break
		}
		if !seen[s.Symbol] {
			ordered = append(ordered, s.Symbol)
			seen[s.Symbol] = true
		}
	}
	if len(ordered) > topN {
		ordered = ordered[:topN]
	}
	return ordered
}
