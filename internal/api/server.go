package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/paperquant/trading-agent/internal/adapters"
	"github.com/paperquant/trading-agent/internal/agent"
	"github.com/paperquant/trading-agent/internal/backtest"
	"github.com/paperquant/trading-agent/internal/config"
	"github.com/paperquant/trading-agent/internal/ledger"
	"github.com/paperquant/trading-agent/internal/observ"
)

// Server exposes the agent's control surface over HTTP.
type Server struct {
	store  *ledger.Store
	runner *agent.Runner
	sim    *backtest.Simulator
	data   adapters.MarketData
	engine *gin.Engine
}

// New assembles the router. sim may be nil to disable the backtest endpoint.
func New(store *ledger.Store, runner *agent.Runner, sim *backtest.Simulator, data adapters.MarketData) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{store: store, runner: runner, sim: sim, data: data}

	r := gin.New()
	r.Use(gin.Recovery(), requestLog())

	r.GET("/health", s.health)
	r.GET("/metrics", gin.WrapH(observ.Handler()))

	api := r.Group("/api")
	{
		ag := api.Group("/agent")
		ag.GET("/status", s.agentStatus)
		ag.POST("/status", s.agentSetStatus)
		ag.POST("/run", s.agentRun)
		ag.GET("/reasoning", s.agentReasoning)
		ag.GET("/history", s.agentHistory)

		pf := api.Group("/portfolio")
		pf.GET("", s.portfolio)
		pf.POST("/reset", s.portfolioReset)
		pf.POST("/cash", s.portfolioCash)
		pf.POST("/order", s.placeOrder)
		pf.GET("/limit-orders", s.limitOrders)
		pf.DELETE("/limit-orders/:id", s.cancelLimitOrder)

		wl := api.Group("/watchlist")
		wl.GET("", s.watchlist)
		wl.POST("", s.watchlistAdd)
		wl.DELETE("/:symbol", s.watchlistRemove)

		api.GET("/backtest", s.runBacktest)
	}
	s.engine = r
	return s
}

// Serve blocks on the listener until it fails.
func (s *Server) Serve(port int) error {
	addr := fmt.Sprintf(":%d", port)
	observ.Logger.Info().Str("addr", addr).Msg("api listening")
	return s.engine.Run(addr)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.engine }

func requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		observ.Logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("http request")
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "uptime": observ.Uptime().String()})
}

func (s *Server) agentStatus(c *gin.Context) {
	settings, err := s.store.Settings()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, settings)
}

// agentSetStatus applies a partial settings update. A null stop_loss_pct or
// take_profit_pct clears the threshold.
func (s *Server) agentSetStatus(c *gin.Context) {
	var body map[string]any
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
		return
	}
	for _, f := range []struct {
		key string
		set func(bool) error
	}{
		{"enabled", s.store.SetEnabled},
		{"include_volatile", s.store.SetIncludeVolatile},
		{"full_control", s.store.SetFullControl},
	} {
		v, ok := body[f.key]
		if !ok {
			continue
		}
		b, ok := v.(bool)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("%s must be a boolean", f.key)})
			return
		}
		if err := f.set(b); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	}
	if err := s.applyPct(body, "stop_loss_pct", s.store.SetStopLossPct); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.applyPct(body, "take_profit_pct", s.store.SetTakeProfitPct); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.agentStatus(c)
}

func (s *Server) applyPct(body map[string]any, key string, set func(*float64) error) error {
	v, ok := body[key]
	if !ok {
		return nil
	}
	if v == nil {
		return set(nil)
	}
	pct, ok := v.(float64)
	if !ok {
		return fmt.Errorf("%s must be a number or null", key)
	}
	if err := config.ValidatePct(key, pct); err != nil {
		return err
	}
	return set(&pct)
}

func (s *Server) agentRun(c *gin.Context) {
	err := s.runner.RunCycle(c.Request.Context())
	switch {
	case errors.Is(err, agent.ErrCycleRunning):
		c.JSON(http.StatusConflict, gin.H{"error": "cycle already running"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, gin.H{"message": "cycle completed"})
	}
}

func (s *Server) agentReasoning(c *gin.Context) {
	limit := intQuery(c, "limit", 100, 500)
	symbol := adapters.NormalizeSymbol(c.Query("symbol"))
	entries, err := s.store.Reasoning(limit, symbol)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reasoning": entries})
}

func (s *Server) agentHistory(c *gin.Context) {
	limit := intQuery(c, "limit", 50, 200)
	symbol := adapters.NormalizeSymbol(c.Query("symbol"))
	entries, err := s.store.History(limit, symbol)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": entries})
}

func (s *Server) portfolio(c *gin.Context) {
	s.fillPendingLimitOrders(c.Request.Context())
	cash, err := s.store.CashBalance()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	initial, err := s.store.InitialBalance()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	positions, err := s.store.Positions()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	orders, err := s.store.Orders(30)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"cash_balance":    cash,
		"initial_balance": initial,
		"positions":       positions,
		"orders":          orders,
	})
}

func (s *Server) portfolioReset(c *gin.Context) {
	var body struct {
		InitialCash float64 `json:"initial_cash"`
	}
	_ = c.ShouldBindJSON(&body)
	if body.InitialCash <= 0 {
		body.InitialCash = ledger.DefaultInitialCash
	}
	if err := s.store.Reset(body.InitialCash); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Paper account reset.", "cash_balance": body.InitialCash})
}

func (s *Server) portfolioCash(c *gin.Context) {
	var body struct {
		Amount float64 `json:"amount"`
		Action string  `json:"action"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Amount <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "amount must be positive"})
		return
	}
	delta := body.Amount
	switch body.Action {
	case "deposit":
	case "withdraw":
		delta = -delta
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "action must be deposit or withdraw"})
		return
	}
	cash, err := s.store.AdjustCash(delta)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cash_balance": cash})
}

// placeOrder executes a manual market order at the live quote, or parks a
// limit order when order_type is "limit".
func (s *Server) placeOrder(c *gin.Context) {
	var body struct {
		Symbol     string  `json:"symbol"`
		Side       string  `json:"side"`
		Quantity   float64 `json:"quantity"`
		OrderType  string  `json:"order_type"`
		LimitPrice float64 `json:"limit_price"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
		return
	}
	symbol := adapters.NormalizeSymbol(body.Symbol)
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol is required"})
		return
	}
	if body.Side != "buy" && body.Side != "sell" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "side must be buy or sell"})
		return
	}
	if body.Quantity <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "quantity must be positive"})
		return
	}
	if body.OrderType == "limit" {
		if body.LimitPrice <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit price is required and must be positive"})
			return
		}
		order, err := s.store.AddLimitOrder(symbol, body.Side, body.Quantity, body.LimitPrice)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"message":     fmt.Sprintf("Limit %s %.4f %s @ $%.2f (pending)", body.Side, body.Quantity, symbol, body.LimitPrice),
			"limit_order": order,
		})
		return
	}
	quote, err := s.data.Quote(c.Request.Context(), symbol)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	var orderID int64
	if body.Side == "buy" {
		orderID, err = s.store.Buy(symbol, body.Quantity, quote.Price, "manual order")
	} else {
		orderID, err = s.store.Sell(symbol, body.Quantity, quote.Price, "manual order")
	}
	if err != nil {
		status := http.StatusBadRequest
		if !errors.Is(err, ledger.ErrInsufficientCash) &&
			!errors.Is(err, ledger.ErrNoPosition) &&
			!errors.Is(err, ledger.ErrInsufficientShares) &&
			!errors.Is(err, ledger.ErrInvalidOrder) {
			status = http.StatusInternalServerError
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":  fmt.Sprintf("%s %.4f %s @ $%.2f", body.Side, body.Quantity, symbol, quote.Price),
		"order_id": orderID,
		"price":    quote.Price,
	})
}

// fillPendingLimitOrders sweeps open limit orders against live quotes. A buy
// fills once the price is at or under its limit; a sell once the price is at
// or over it and the position still covers the quantity. Fills execute at the
// live price, not the limit. Quote misses leave the order pending.
func (s *Server) fillPendingLimitOrders(ctx context.Context) {
	pending, err := s.store.PendingLimitOrders()
	if err != nil {
		observ.Logger.Error().Err(err).Msg("limit order sweep failed")
		return
	}
	for _, o := range pending {
		quote, err := s.data.Quote(ctx, o.Symbol)
		if err != nil {
			continue
		}
		price := quote.Price
		reason := fmt.Sprintf("limit order #%d @ $%.2f", o.ID, o.LimitPrice)
		switch {
		case o.Side == "buy" && price <= o.LimitPrice:
			if _, err := s.store.Buy(o.Symbol, o.Quantity, price, reason); err != nil {
				continue
			}
		case o.Side == "sell" && price >= o.LimitPrice:
			pos, ok, err := s.store.Position(o.Symbol)
			if err != nil || !ok || pos.Quantity < o.Quantity {
				continue
			}
			if _, err := s.store.Sell(o.Symbol, o.Quantity, price, reason); err != nil {
				continue
			}
		default:
			continue
		}
		if err := s.store.MarkLimitOrderFilled(o.ID); err != nil {
			observ.Logger.Error().Err(err).Int64("order_id", o.ID).Msg("failed to mark limit order filled")
		}
	}
}

func (s *Server) limitOrders(c *gin.Context) {
	orders, err := s.store.LimitOrders(50)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"limit_orders": orders})
}

func (s *Server) cancelLimitOrder(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "order id must be an integer"})
		return
	}
	ok, err := s.store.CancelLimitOrder(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "order not found or already filled/cancelled"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Limit order cancelled"})
}

func (s *Server) watchlist(c *gin.Context) {
	symbols, err := s.store.Watchlist()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbols": symbols})
}

func (s *Server) watchlistAdd(c *gin.Context) {
	var body struct {
		Symbol string `json:"symbol"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
		return
	}
	symbol := adapters.NormalizeSymbol(body.Symbol)
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol is required"})
		return
	}
	if err := s.store.AddWatch(symbol); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.watchlist(c)
}

func (s *Server) watchlistRemove(c *gin.Context) {
	symbol := adapters.NormalizeSymbol(c.Param("symbol"))
	if err := s.store.RemoveWatch(symbol); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.watchlist(c)
}

func (s *Server) runBacktest(c *gin.Context) {
	if s.sim == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "backtest not available"})
		return
	}
	symbol := adapters.NormalizeSymbol(c.Query("symbol"))
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol is required"})
		return
	}
	days := intQuery(c, "days", 90, 365)
	fullControl := c.Query("full_control") == "true"
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Minute)
	defer cancel()

	res, err := s.sim.Run(ctx, symbol, days, fullControl)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, res)
}

func intQuery(c *gin.Context, key string, def, max int) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil || v <= 0 {
		return def
	}
	if v > max {
		return max
	}
	return v
}
