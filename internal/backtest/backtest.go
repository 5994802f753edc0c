package backtest

import (
	"context"
	"fmt"
	"math"

	"github.com/paperquant/trading-agent/internal/adapters"
	"github.com/paperquant/trading-agent/internal/decision"
	"github.com/paperquant/trading-agent/internal/observ"
)

// Simulation parameters.
const (
	// bars reserved before the first simulated decision
	LookbackMin = 35
	InitialCash = 10000.0
	// daily closes fed into the volatility guardrail
	volWindow = 60
	// equity curve points returned to callers
	curveTail = 20
)

// Result is one symbol's backtest summary.
type Result struct {
	Symbol          string    `json:"symbol"`
	Days            int       `json:"days"`
	FullControl     bool      `json:"full_control"`
	InitialCash     float64   `json:"initial_cash"`
	FinalEquity     float64   `json:"final_equity"`
	TotalReturnPct  float64   `json:"total_return_pct"`
	SharpeRatio     float64   `json:"sharpe_ratio"`
	MaxDrawdownPct  float64   `json:"max_drawdown_pct"`
	WinRatePct      float64   `json:"win_rate_pct"`
	NumTrades       int       `json:"num_trades"`
	EquityCurveTail []float64 `json:"equity_curve_tail"`
}

// Simulator replays the decision engine over historical closes. When news and
// macro clients are attached, each bar's text context is fetched as of that
// bar's date; nil clients leave the text signals neutral and the price signals
// carry the simulation.
type Simulator struct {
	engine *decision.Engine
	data   adapters.MarketData
	news   *adapters.NewsClient
	macro  *adapters.MacroClient
}

// NewSimulator wires a simulator over the given engine and feed. The engine's
// audit sink is detached so replays never write the live reasoning log; news
// and macro may be nil.
func NewSimulator(engine *decision.Engine, data adapters.MarketData, news *adapters.NewsClient, macro *adapters.MacroClient) *Simulator {
	return &Simulator{engine: engine.WithoutReasoning(), data: data, news: news, macro: macro}
}

// Run replays the last days of symbol's closes, deciding once per bar and
// marking equity to the next bar's close.
func (s *Simulator) Run(ctx context.Context, symbol string, days int, fullControl bool) (Result, error) {
	symbol = adapters.NormalizeSymbol(symbol)
	if symbol == "" {
		return Result{}, fmt.Errorf("symbol required")
	}
	if days <= 0 {
		days = 90
	}
	bars, err := s.data.DailyBars(ctx, symbol, days)
	if err != nil {
		return Result{}, fmt.Errorf("failed to load history for %s: %w", symbol, err)
	}
	if len(bars) < LookbackMin+5 {
		return Result{}, fmt.Errorf("need at least %d bars of history for %s, have %d", LookbackMin+5, symbol, len(bars))
	}
	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}

	policy := decision.GuardedPolicy("normal")
	if fullControl {
		policy = decision.FullControlPolicy()
	}

	cash := InitialCash
	position := 0.0
	costBasis := 0.0
	curve := []float64{InitialCash}
	var tradePnLs []float64

	for i := LookbackMin; i < len(closes)-1; i++ {
		history := closes[:i+1]
		price := closes[i]
		next := closes[i+1]

		volCloses := history
		if len(volCloses) > volWindow {
			volCloses = volCloses[len(volCloses)-volWindow:]
		}

		// text context dated to the simulated bar so scorers never read
		// coverage or prints from the symbol's future
		var text decision.TextContext
		if s.news != nil {
			text.Headlines = s.news.HeadlinesAsOf(symbol, 10, bars[i].Date)
		}
		if s.macro != nil {
			text.MacroIndicators = s.macro.IndicatorsAsOf(bars[i].Date)
		}

		d := s.engine.Decide(decision.Input{
			Symbol:           symbol,
			Closes:           history,
			Text:             text,
			CurrentPrice:     price,
			VolatilityAnnual: adapters.AnnualizedVolatility(volCloses, adapters.DailyPeriods),
		}, policy)

		switch {
		case d.Action == decision.ActionBuy && cash > 0 && d.PositionSize > 0 && price > 0:
			amount := cash * d.PositionSize
			qty := amount / price
			costBasis = (costBasis*position + amount) / (position + qty)
			position += qty
			cash -= amount
		case d.Action == decision.ActionSell && position > 0 && d.PositionSize > 0:
			qty := position * d.PositionSize
			tradePnLs = append(tradePnLs, (price-costBasis)*qty)
			cash += qty * price
			position -= qty
			if position < 1e-9 {
				position = 0
				costBasis = 0
			}
		}

		curve = append(curve, cash+position*next)
	}

	final := curve[len(curve)-1]
	tail := curve
	if len(tail) > curveTail {
		tail = tail[len(tail)-curveTail:]
	}
	res := Result{
		Symbol:          symbol,
		Days:            days,
		FullControl:     fullControl,
		InitialCash:     InitialCash,
		FinalEquity:     final,
		TotalReturnPct:  (final - InitialCash) / InitialCash * 100,
		SharpeRatio:     SharpeRatio(curve),
		MaxDrawdownPct:  MaxDrawdownPct(curve),
		WinRatePct:      winRatePct(tradePnLs),
		NumTrades:       len(tradePnLs),
		EquityCurveTail: tail,
	}
	observ.IncCounter("backtests_total", map[string]string{"symbol": symbol})
	return res, nil
}

// SharpeRatio is mean/std of the curve's simple returns annualized by sqrt(252),
// 0 when the curve is too short or degenerate.
func SharpeRatio(curve []float64) float64 {
	var returns []float64
	for i := 1; i < len(curve); i++ {
		if curve[i-1] > 0 {
			returns = append(returns, (curve[i]-curve[i-1])/curve[i-1])
		}
	}
	if len(returns) < 2 {
		return 0
	}
	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	variance := 0.0
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	std := math.Sqrt(variance / float64(len(returns)))
	if std == 0 {
		return 0
	}
	return mean / std * math.Sqrt(252)
}

// MaxDrawdownPct is the largest peak-to-trough decline over the curve.
func MaxDrawdownPct(curve []float64) float64 {
	if len(curve) == 0 {
		return 0
	}
	peak := curve[0]
	maxDD := 0.0
	for _, eq := range curve {
		if eq > peak {
			peak = eq
		}
		if peak > 0 {
			if dd := (peak - eq) / peak * 100; dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}

func winRatePct(pnls []float64) float64 {
	if len(pnls) == 0 {
		return 0
	}
	wins := 0
	for _, p := range pnls {
		if p > 0 {
			wins++
		}
	}
	return float64(wins) / float64(len(pnls)) * 100
}
