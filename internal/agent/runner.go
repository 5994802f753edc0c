package agent

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/paperquant/trading-agent/internal/adapters"
	"github.com/paperquant/trading-agent/internal/alerts"
	"github.com/paperquant/trading-agent/internal/decision"
	"github.com/paperquant/trading-agent/internal/ledger"
	"github.com/paperquant/trading-agent/internal/observ"
)

// Safeguards applied when the volatile universe is enabled.
const (
	// stop-loss forced on when volatile trading is enabled and the user set
	// none (guarded mode only)
	DefaultStopLossPctVolatile = 5.0
	// buys in symbols that came only from the volatile scan are capped at
	// this fraction of cycle-start cash
	MaxSizeVolatileOnly = 0.15
	// daily closes used for the volatility guardrail input
	volCloseWindow = 60
)

// ErrCycleRunning is returned when a cycle is requested while one is active.
var ErrCycleRunning = errors.New("cycle already running")

// Config carries the runner's static knobs.
type Config struct {
	HistoryDays     int
	RiskProfile     string
	NormalListPath  string
	VolatileCanPath string
	VolatileTopN    int
	MaxHeadlines    int
}

// Runner executes full trading cycles over the symbol universe.
type Runner struct {
	store  *ledger.Store
	engine *decision.Engine
	data   adapters.MarketData
	news   *adapters.NewsClient
	macro  *adapters.MacroClient
	ranker *adapters.VolatilityRanker
	notify alerts.Notifier
	cfg    Config

	mu sync.Mutex
}

// NewRunner wires the cycle runner. news, macro, ranker and notify may be nil
// or no-op; the runner degrades rather than failing.
func NewRunner(store *ledger.Store, engine *decision.Engine, data adapters.MarketData,
	news *adapters.NewsClient, macro *adapters.MacroClient, ranker *adapters.VolatilityRanker,
	notify alerts.Notifier, cfg Config) *Runner {
	if notify == nil {
		notify = alerts.Noop{}
	}
	if cfg.HistoryDays <= 0 {
		cfg.HistoryDays = 60
	}
	if cfg.MaxHeadlines <= 0 {
		cfg.MaxHeadlines = 15
	}
	return &Runner{
		store: store, engine: engine, data: data,
		news: news, macro: macro, ranker: ranker,
		notify: notify, cfg: cfg,
	}
}

// RunCycle runs one pass over the universe: stop-loss/take-profit checks,
// ensemble decisions, execution, then a digest. Per-symbol failures are
// isolated; only cross-cutting problems return an error.
func (r *Runner) RunCycle(ctx context.Context) error {
	if !r.mu.TryLock() {
		return ErrCycleRunning
	}
	defer r.mu.Unlock()

	settings, err := r.store.Settings()
	if err != nil {
		return fmt.Errorf("failed to load agent settings: %w", err)
	}
	if !settings.Enabled {
		observ.Logger.Debug().Msg("cycle skipped: agent disabled")
		return nil
	}

	universe, volatileOnly, err := r.buildUniverse(ctx, settings)
	if err != nil {
		return err
	}
	if len(universe) == 0 {
		observ.Logger.Warn().Msg("cycle skipped: empty universe (no watchlist, symbol lists or positions)")
		return nil
	}

	policy := decision.GuardedPolicy(r.cfg.RiskProfile)
	if settings.FullControl {
		policy = decision.FullControlPolicy()
	}

	stopLoss := settings.StopLossPct
	if !settings.FullControl && settings.IncludeVolatile && stopLoss == nil {
		def := DefaultStopLossPctVolatile
		stopLoss = &def
		r.reason("VOLATILE", "guardrail",
			fmt.Sprintf("Volatile on: using default stop-loss %.0f%% (set your own to override)", def),
			map[string]any{"default_stop_loss_pct": def})
	}

	// cash snapshot: all buys this cycle size against the same base so the
	// first symbol in iteration order gets no structural advantage
	cycleStartCash, err := r.store.CashBalance()
	if err != nil {
		return fmt.Errorf("failed to read cycle-start cash: %w", err)
	}

	observ.Logger.Info().
		Int("symbols", len(universe)).
		Str("policy", policy.Name).
		Bool("volatile", settings.IncludeVolatile).
		Msg("cycle starting")
	started := time.Now()

	var updates []string
	for _, symbol := range universe {
		update, err := r.runSymbol(ctx, symbol, policy, settings, stopLoss, cycleStartCash, volatileOnly[symbol])
		if err != nil {
			observ.Logger.Error().Err(err).Str("symbol", symbol).Msg("symbol cycle failed")
			r.reason(symbol, "error", err.Error(), nil)
			continue
		}
		if update != "" {
			updates = append(updates, update)
		}
	}

	r.notify.Send(r.digest(ctx, updates))
	observ.IncCounter("agent_cycles_total", nil)
	observ.SetGauge("agent_last_cycle_trades", float64(len(updates)), nil)
	observ.Logger.Info().
		Int("trades", len(updates)).
		Dur("elapsed", time.Since(started)).
		Msg("cycle finished")
	return nil
}

// buildUniverse assembles watchlist + normal list + optional volatile top-N +
// held positions, de-duplicated in that order. volatileOnly marks symbols that
// entered purely through the volatility scan.
func (r *Runner) buildUniverse(ctx context.Context, settings ledger.Settings) ([]string, map[string]bool, error) {
	seen := make(map[string]bool)
	var universe []string
	add := func(sym string) {
		sym = adapters.NormalizeSymbol(sym)
		if sym != "" && !seen[sym] {
			seen[sym] = true
			universe = append(universe, sym)
		}
	}

	watch, err := r.store.Watchlist()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load watchlist: %w", err)
	}
	for _, s := range watch {
		add(s)
	}

	normal, err := adapters.LoadSymbolList(r.cfg.NormalListPath)
	if err != nil {
		observ.Logger.Warn().Err(err).Msg("normal symbol list unreadable")
	}
	for _, s := range normal {
		add(s)
	}

	volatileOnly := make(map[string]bool)
	if settings.IncludeVolatile && r.ranker != nil {
		candidates, err := adapters.LoadSymbolList(r.cfg.VolatileCanPath)
		if err != nil {
			observ.Logger.Warn().Err(err).Msg("volatile candidate list unreadable")
		}
		if len(candidates) > 0 {
			var extra []string
			for _, s := range r.ranker.TopVolatile(ctx, candidates, r.cfg.VolatileTopN) {
				if !seen[s] {
					extra = append(extra, s)
					volatileOnly[s] = true
					add(s)
				}
			}
			if len(extra) > 0 {
				r.reason("VOLATILE", "volatile",
					fmt.Sprintf("Added %d volatile symbols (intraday vol + small-cap bias): %s", len(extra), strings.Join(head(extra, 10), ", ")),
					map[string]any{"count": len(extra), "symbols": extra})
			}
		}
	}

	// held names always get a decision, even when they fell out of the lists
	positions, err := r.store.Positions()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load positions: %w", err)
	}
	for _, p := range positions {
		add(p.Symbol)
	}
	return universe, volatileOnly, nil
}

// runSymbol handles one symbol end to end and returns a digest line when a
// trade happened.
func (r *Runner) runSymbol(ctx context.Context, symbol string, policy decision.Policy,
	settings ledger.Settings, stopLoss *float64, cycleStartCash float64, volatileOnly bool) (string, error) {

	quote, quoteErr := r.data.Quote(ctx, symbol)
	pos, held, err := r.store.Position(symbol)
	if err != nil {
		return "", err
	}

	// stop-loss / take-profit pre-empt the engine in guarded mode
	if !settings.FullControl && held && quoteErr == nil && pos.AvgCost > 0 && pos.Quantity > 0 {
		pnlPct := (quote.Price - pos.AvgCost) / pos.AvgCost * 100
		if stopLoss != nil && pnlPct <= -*stopLoss {
			return r.exitPosition(symbol, pos, quote.Price, policy.Name,
				fmt.Sprintf("Stop-loss: P&L %.1f%% <= -%.1f%%", pnlPct, *stopLoss), "stop_loss", pnlPct)
		}
		if settings.TakeProfitPct != nil && pnlPct >= *settings.TakeProfitPct {
			return r.exitPosition(symbol, pos, quote.Price, policy.Name,
				fmt.Sprintf("Take-profit: P&L %.1f%% >= %.1f%%", pnlPct, *settings.TakeProfitPct), "take_profit", pnlPct)
		}
	}

	closes, err := r.data.DailyCloses(ctx, symbol, r.cfg.HistoryDays)
	if err != nil {
		observ.Logger.Debug().Err(err).Str("symbol", symbol).Msg("no price history, deciding without closes")
	}
	volCloses := closes
	if len(volCloses) > volCloseWindow {
		volCloses = volCloses[len(volCloses)-volCloseWindow:]
	}

	in := decision.Input{
		Symbol: symbol,
		Closes: closes,
		Text: decision.TextContext{
			Headlines:       r.news.Headlines(symbol, r.cfg.MaxHeadlines),
			MacroIndicators: r.macro.Indicators(),
		},
		CurrentPrice:     quote.Price,
		VolatilityAnnual: adapters.AnnualizedVolatility(volCloses, adapters.DailyPeriods),
		SpreadPct:        quote.SpreadPct(),
	}
	d := r.engine.Decide(in, policy)

	// the history row lands before execution so a crash mid-trade still
	// leaves the decision on record
	histID, err := r.store.AddHistory(ledger.HistoryEntry{
		Symbol:             symbol,
		Action:             d.Action,
		Price:              quote.Price,
		PositionSize:       d.PositionSize,
		Confidence:         d.Confidence,
		Reason:             d.Reason,
		GuardrailTriggered: d.GuardrailTriggered,
		Mode:               policy.Name,
	})
	if err != nil {
		return "", err
	}

	if d.Action == decision.ActionHold || d.PositionSize <= 0 {
		return "", nil
	}
	if quoteErr != nil || quote.Price <= 0 {
		r.reason(symbol, "execute", "Skipped: no quote/price", nil)
		return "", nil
	}

	size := d.PositionSize
	if !settings.FullControl && volatileOnly && size > MaxSizeVolatileOnly {
		size = MaxSizeVolatileOnly
		r.reason(symbol, "guardrail",
			fmt.Sprintf("Volatile-only symbol: position size capped to %.0f%% of cash", MaxSizeVolatileOnly*100),
			map[string]any{"capped": true})
	}

	switch d.Action {
	case decision.ActionBuy:
		intended := cycleStartCash * size
		liveCash, err := r.store.CashBalance()
		if err != nil {
			return "", err
		}
		spend := math.Min(intended, liveCash)
		qty := 0.0
		if quote.Price > 0 {
			qty = spend / quote.Price
		}
		if qty <= 0 || spend <= 0 {
			return "", nil
		}
		orderID, err := r.store.Buy(symbol, qty, quote.Price, d.Reason)
		if err != nil {
			r.reason(symbol, "execute", fmt.Sprintf("Buy failed: %v", err), nil)
			return "", nil
		}
		if err := r.store.MarkHistoryExecuted(histID, orderID, qty); err != nil {
			return "", err
		}
		r.reason(symbol, "execute", fmt.Sprintf("Executed buy %.4f @ %.2f", qty, quote.Price), map[string]any{"order_id": orderID})
		return fmt.Sprintf("📈 BUY %s %.2f @ $%.2f", symbol, qty, quote.Price), nil

	case decision.ActionSell:
		if !held || pos.Quantity <= 0 {
			return "", nil
		}
		qty := pos.Quantity * size
		if qty <= 0 {
			return "", nil
		}
		orderID, err := r.store.Sell(symbol, qty, quote.Price, d.Reason)
		if err != nil {
			r.reason(symbol, "execute", fmt.Sprintf("Sell failed: %v", err), nil)
			return "", nil
		}
		if err := r.store.MarkHistoryExecuted(histID, orderID, qty); err != nil {
			return "", err
		}
		r.reason(symbol, "execute", fmt.Sprintf("Executed sell %.4f @ %.2f", qty, quote.Price), map[string]any{"order_id": orderID})
		return fmt.Sprintf("📉 SELL %s %.2f @ $%.2f", symbol, qty, quote.Price), nil
	}
	return "", nil
}

// exitPosition sells the whole position on a stop-loss or take-profit trip.
func (r *Runner) exitPosition(symbol string, pos ledger.Position, price float64, mode, reason, step string, pnlPct float64) (string, error) {
	orderID, sellErr := r.store.Sell(symbol, pos.Quantity, price, reason)
	entry := ledger.HistoryEntry{
		Symbol:             symbol,
		Action:             decision.ActionSell,
		Quantity:           pos.Quantity,
		Price:              price,
		PositionSize:       1.0,
		Reason:             reason,
		GuardrailTriggered: true,
		Executed:           sellErr == nil,
		Mode:               mode,
	}
	if sellErr == nil {
		entry.OrderID = &orderID
	}
	if _, err := r.store.AddHistory(entry); err != nil {
		return "", err
	}
	r.reason(symbol, step, reason+", sold full position", map[string]any{"pnl_pct": pnlPct})
	if sellErr != nil {
		return "", fmt.Errorf("%s sell failed: %w", step, sellErr)
	}
	observ.IncCounter("agent_protective_exits_total", map[string]string{"kind": step})
	marker := "🛑"
	if step == "take_profit" {
		marker = "✅"
	}
	return fmt.Sprintf("%s SELL %s (%s) P&L %.1f%%", marker, symbol, strings.ReplaceAll(step, "_", "-"), pnlPct), nil
}

// digest renders the end-of-cycle message with a mark-to-market portfolio
// summary.
func (r *Runner) digest(ctx context.Context, updates []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🤖 Trading Agent — %s UTC\n", time.Now().UTC().Format("2006-01-02 15:04"))
	if len(updates) > 0 {
		b.WriteString(strings.Join(updates, "\n"))
		b.WriteString("\n")
	} else {
		b.WriteString("No trades this cycle (all Hold or no signals). Agent is running.\n")
	}

	cash, err := r.store.CashBalance()
	if err != nil {
		return b.String()
	}
	positions, err := r.store.Positions()
	if err != nil {
		return b.String()
	}
	positionsValue := 0.0
	var lines []string
	for _, p := range positions {
		price := p.AvgCost
		if q, err := r.data.Quote(ctx, p.Symbol); err == nil && q.Price > 0 {
			price = q.Price
		}
		val := p.Quantity * price
		positionsValue += val
		lines = append(lines, fmt.Sprintf("  %s: %.2f @ $%.2f = $%.2f", p.Symbol, p.Quantity, price, val))
	}
	b.WriteString("\n📊 Portfolio\n")
	fmt.Fprintf(&b, "  Cash: $%.2f\n", cash)
	fmt.Fprintf(&b, "  Positions: $%.2f\n", positionsValue)
	if len(lines) > 0 {
		b.WriteString(strings.Join(lines, "\n"))
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "  Total: $%.2f", cash+positionsValue)
	return b.String()
}

func (r *Runner) reason(symbol, step, message string, data map[string]any) {
	if err := r.store.AddReasoning(symbol, step, message, data); err != nil {
		observ.Logger.Warn().Err(err).Str("symbol", symbol).Msg("failed to record reasoning")
	}
}

func head(list []string, n int) []string {
	if len(list) <= n {
		return list
	}
	return list[:n]
}
