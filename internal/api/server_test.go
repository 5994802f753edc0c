package api

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paperquant/trading-agent/internal/adapters"
	"github.com/paperquant/trading-agent/internal/agent"
	"github.com/paperquant/trading-agent/internal/backtest"
	"github.com/paperquant/trading-agent/internal/decision"
	"github.com/paperquant/trading-agent/internal/ledger"
)

func newTestServer(t *testing.T) (*Server, *ledger.Store, *adapters.Mock) {
	t.Helper()
	store, err := ledger.Open(filepath.Join(t.TempDir(), "api.db"), 10000)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	feed := adapters.NewMock()
	engine := decision.NewEngine(nil, nil, nil, nil, nil, nil)
	runner := agent.NewRunner(store, engine, feed, nil, nil, nil, nil, agent.Config{RiskProfile: "normal"})
	sim := backtest.NewSimulator(engine, feed, nil, nil)
	return New(store, runner, sim, feed), store, feed
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestAgentStatusRoundTrip(t *testing.T) {
	s, _, _ := newTestServer(t)

	w := do(t, s, http.MethodGet, "/api/agent/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"enabled":false`)

	w = do(t, s, http.MethodPost, "/api/agent/status", `{"enabled":true,"stop_loss_pct":5,"full_control":true}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"enabled":true`)
	assert.Contains(t, w.Body.String(), `"stop_loss_pct":5`)
	assert.Contains(t, w.Body.String(), `"full_control":true`)

	// null clears the threshold
	w = do(t, s, http.MethodPost, "/api/agent/status", `{"stop_loss_pct":null}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"stop_loss_pct":null`)
}

func TestAgentStatusRejectsBadPct(t *testing.T) {
	s, _, _ := newTestServer(t)
	for _, body := range []string{
		`{"stop_loss_pct":0}`,
		`{"stop_loss_pct":150}`,
		`{"take_profit_pct":-5}`,
		`{"take_profit_pct":"lots"}`,
	} {
		w := do(t, s, http.MethodPost, "/api/agent/status", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
	}
}

func TestAgentRun_DisabledStillSucceeds(t *testing.T) {
	s, _, _ := newTestServer(t)
	w := do(t, s, http.MethodPost, "/api/agent/run", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestPlaceOrderAndPortfolio(t *testing.T) {
	s, _, feed := newTestServer(t)
	feed.SetQuote(adapters.Quote{Symbol: "AAPL", Price: 100})

	w := do(t, s, http.MethodPost, "/api/portfolio/order", `{"symbol":"aapl","side":"buy","quantity":10}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, s, http.MethodGet, "/api/portfolio", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"cash_balance":9000`)
	assert.Contains(t, w.Body.String(), `"AAPL"`)

	// selling more than held is a client error
	w = do(t, s, http.MethodPost, "/api/portfolio/order", `{"symbol":"AAPL","side":"sell","quantity":50}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// unknown symbol surfaces as upstream failure
	w = do(t, s, http.MethodPost, "/api/portfolio/order", `{"symbol":"NOPE","side":"buy","quantity":1}`)
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestAgentStatusRejectsNonBoolSwitch(t *testing.T) {
	s, store, _ := newTestServer(t)
	for _, body := range []string{
		`{"enabled":"yes"}`,
		`{"include_volatile":1}`,
		`{"full_control":"true"}`,
	} {
		w := do(t, s, http.MethodPost, "/api/agent/status", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
	}
	set, err := store.Settings()
	require.NoError(t, err)
	assert.False(t, set.Enabled, "rejected update must not change settings")
}

func TestLimitOrderLifecycle(t *testing.T) {
	s, store, feed := newTestServer(t)
	feed.SetQuote(adapters.Quote{Symbol: "AAPL", Price: 100})

	// a buy limit below the market rests
	w := do(t, s, http.MethodPost, "/api/portfolio/order",
		`{"symbol":"AAPL","side":"buy","quantity":5,"order_type":"limit","limit_price":90}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "pending")

	w = do(t, s, http.MethodGet, "/api/portfolio", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"cash_balance":10000`, "resting order must not move cash")

	// once the quote drops through the limit, the portfolio sweep fills it
	// at the live price
	feed.SetQuote(adapters.Quote{Symbol: "AAPL", Price: 88})
	w = do(t, s, http.MethodGet, "/api/portfolio", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"cash_balance":9560`)
	assert.Contains(t, w.Body.String(), `"AAPL"`)

	orders, err := store.LimitOrders(10)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "filled", orders[0].Status)
}

func TestLimitOrderSellNeedsCoveredPosition(t *testing.T) {
	s, store, feed := newTestServer(t)
	feed.SetQuote(adapters.Quote{Symbol: "AAPL", Price: 100})

	// sell limit with no position stays pending even when price qualifies
	w := do(t, s, http.MethodPost, "/api/portfolio/order",
		`{"symbol":"AAPL","side":"sell","quantity":5,"order_type":"limit","limit_price":95}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	do(t, s, http.MethodGet, "/api/portfolio", "")
	pending, err := store.PendingLimitOrders()
	require.NoError(t, err)
	require.Len(t, pending, 1)

	// with shares in hand the same sweep fills the sell
	_, err = store.Buy("AAPL", 5, 100, "test")
	require.NoError(t, err)
	do(t, s, http.MethodGet, "/api/portfolio", "")
	pending, err = store.PendingLimitOrders()
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestLimitOrderCancelEndpoint(t *testing.T) {
	s, _, feed := newTestServer(t)
	feed.SetQuote(adapters.Quote{Symbol: "NVDA", Price: 500})

	w := do(t, s, http.MethodPost, "/api/portfolio/order",
		`{"symbol":"NVDA","side":"buy","quantity":1,"order_type":"limit","limit_price":400}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, s, http.MethodGet, "/api/portfolio/limit-orders", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"pending"`)

	w = do(t, s, http.MethodDelete, "/api/portfolio/limit-orders/1", "")
	require.Equal(t, http.StatusOK, w.Code)
	w = do(t, s, http.MethodDelete, "/api/portfolio/limit-orders/1", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	// a limit order without a price is rejected up front
	w = do(t, s, http.MethodPost, "/api/portfolio/order",
		`{"symbol":"NVDA","side":"buy","quantity":1,"order_type":"limit"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPortfolioCashAndReset(t *testing.T) {
	s, store, _ := newTestServer(t)

	w := do(t, s, http.MethodPost, "/api/portfolio/cash", `{"amount":5000,"action":"deposit"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"cash_balance":15000`)

	w = do(t, s, http.MethodPost, "/api/portfolio/cash", `{"amount":100000,"action":"withdraw"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, s, http.MethodPost, "/api/portfolio/reset", `{"initial_cash":20000}`)
	require.Equal(t, http.StatusOK, w.Code)
	cash, err := store.CashBalance()
	require.NoError(t, err)
	assert.InDelta(t, 20000, cash, 1e-9)
}

func TestWatchlistEndpoints(t *testing.T) {
	s, _, _ := newTestServer(t)

	w := do(t, s, http.MethodPost, "/api/watchlist", `{"symbol":"nvda"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"NVDA"`)

	w = do(t, s, http.MethodDelete, "/api/watchlist/NVDA", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"symbols":null`)
}

func TestBacktestEndpoint(t *testing.T) {
	s, _, feed := newTestServer(t)

	w := do(t, s, http.MethodGet, "/api/backtest", "")
	assert.Equal(t, http.StatusBadRequest, w.Code, "symbol required")

	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	feed.SetDaily("AAPL", closes)
	w = do(t, s, http.MethodGet, "/api/backtest?symbol=AAPL&days=90", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"total_return_pct"`)
}

func TestHealthAndMetrics(t *testing.T) {
	s, _, _ := newTestServer(t)
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/health", "").Code)
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/metrics", "").Code)
}

func TestAgentHistoryEndpoint(t *testing.T) {
	s, store, _ := newTestServer(t)
	_, err := store.AddHistory(ledger.HistoryEntry{Symbol: "AAPL", Action: "Hold", Reason: "quiet tape", Mode: "normal"})
	require.NoError(t, err)

	w := do(t, s, http.MethodGet, "/api/agent/history?symbol=AAPL", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "quiet tape")
}
