package backtest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paperquant/trading-agent/internal/adapters"
	"github.com/paperquant/trading-agent/internal/decision"
)

type staticPrice struct {
	name string
	conf float64
}

func (s staticPrice) Predict(string, []float64) decision.Signal {
	return decision.Signal{Confidence: s.conf, Source: s.name}
}

func newSim(conf float64, feed adapters.MarketData) *Simulator {
	engine := decision.NewEngine(
		staticPrice{"lstm", conf}, staticPrice{"xgboost", conf}, staticPrice{"technical", conf},
		nil, nil, nil,
	)
	return NewSimulator(engine, feed, nil, nil)
}

func TestRun_RejectsShortHistory(t *testing.T) {
	feed := adapters.NewMock()
	feed.SetDaily("AAPL", make([]float64, LookbackMin))
	_, err := newSim(0, feed).Run(context.Background(), "AAPL", 90, false)
	assert.Error(t, err)
}

func TestRun_HoldOnlyKeepsCashFlat(t *testing.T) {
	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	feed := adapters.NewMock()
	feed.SetDaily("AAPL", closes)

	res, err := newSim(0, feed).Run(context.Background(), "aapl", 90, false)
	require.NoError(t, err)
	assert.Equal(t, "AAPL", res.Symbol)
	assert.Zero(t, res.NumTrades)
	assert.InDelta(t, InitialCash, res.FinalEquity, 1e-9)
	assert.Zero(t, res.TotalReturnPct)
	assert.Zero(t, res.SharpeRatio, "flat equity has no excess return")
}

func TestRun_BuysRideTheTrend(t *testing.T) {
	// steady uptrend with constant bullish signals: the replay keeps buying
	// and equity must beat pure cash
	closes := make([]float64, 80)
	for i := range closes {
		closes[i] = 100 * (1 + 0.005*float64(i))
	}
	feed := adapters.NewMock()
	feed.SetDaily("NVDA", closes)

	res, err := newSim(0.8, feed).Run(context.Background(), "NVDA", 90, false)
	require.NoError(t, err)
	assert.Greater(t, res.FinalEquity, InitialCash)
	assert.Positive(t, res.TotalReturnPct)
	assert.Positive(t, res.SharpeRatio)
	assert.LessOrEqual(t, len(res.EquityCurveTail), 20)
}

func TestRun_TextContextDatedToSimulatedBar(t *testing.T) {
	var mu sync.Mutex
	var toDates []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		toDates = append(toDates, r.URL.Query().Get("to"))
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"articles":[{"title":"dated coverage"}]}`))
	}))
	defer srv.Close()

	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	feed := adapters.NewMock()
	feed.SetDaily("AAPL", closes)

	engine := decision.NewEngine(
		staticPrice{"lstm", 0}, staticPrice{"xgboost", 0}, staticPrice{"technical", 0},
		nil, nil, nil,
	)
	news := adapters.NewNewsClient(srv.URL, "key", time.Second)
	sim := NewSimulator(engine, feed, news, nil)

	bars, err := feed.DailyBars(context.Background(), "AAPL", 90)
	require.NoError(t, err)
	_, err = sim.Run(context.Background(), "AAPL", 90, false)
	require.NoError(t, err)

	// one headline fetch per decided bar, each window ending on that bar's
	// own date, never on the final bar still in the symbol's future
	require.Len(t, toDates, len(bars)-1-LookbackMin)
	last := bars[len(bars)-1].Date.Format("2006-01-02")
	for i, to := range toDates {
		assert.Equal(t, bars[LookbackMin+i].Date.Format("2006-01-02"), to)
		assert.Less(t, to, last)
	}
}

func TestSharpeRatio(t *testing.T) {
	assert.Zero(t, SharpeRatio([]float64{10000}))
	assert.Zero(t, SharpeRatio([]float64{10000, 10000, 10000}))

	// equity curve 10000 -> 10100 -> 9900 -> 10500
	curve := []float64{10000, 10100, 9900, 10500}
	// returns: 0.01, -0.019802, 0.060606; mean 0.016935
	// population std 0.033191; sharpe = mean/std*sqrt(252) = 8.0995
	assert.InDelta(t, 8.0995, SharpeRatio(curve), 1e-3)
}

func TestMaxDrawdownPct(t *testing.T) {
	curve := []float64{10000, 10100, 9900, 10500}
	// peak 10100 -> trough 9900: 1.9802%
	assert.InDelta(t, 1.9802, MaxDrawdownPct(curve), 1e-3)
	assert.Zero(t, MaxDrawdownPct([]float64{1, 2, 3}))
}

func TestWinRate(t *testing.T) {
	assert.Zero(t, winRatePct(nil))
	assert.InDelta(t, 66.6667, winRatePct([]float64{5, -3, 12}), 1e-3)
}
