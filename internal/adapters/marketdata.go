package adapters

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/piquette/finance-go/chart"
	"github.com/piquette/finance-go/datetime"
	"github.com/piquette/finance-go/equity"
	"golang.org/x/time/rate"

	"github.com/paperquant/trading-agent/internal/observ"
)

// Quote is a point-in-time price snapshot. Bid/Ask are zero outside market
// hours; SpreadPct degrades to zero then rather than blocking trades.
type Quote struct {
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	Bid       float64 `json:"bid"`
	Ask       float64 `json:"ask"`
	MarketCap int64   `json:"market_cap"`
}

// SpreadPct is (ask-bid)/mid, or 0 when either side is missing.
func (q Quote) SpreadPct() float64 {
	if q.Bid <= 0 || q.Ask <= 0 || q.Ask < q.Bid {
		return 0
	}
	mid := (q.Bid + q.Ask) / 2
	if mid == 0 {
		return 0
	}
	return (q.Ask - q.Bid) / mid
}

// Bar is one dated close. Replays need the date to assemble as-of text
// context without looking ahead.
type Bar struct {
	Date  time.Time `json:"date"`
	Close float64   `json:"close"`
}

// MarketData is the price feed the agent runs on.
type MarketData interface {
	Quote(ctx context.Context, symbol string) (Quote, error)
	// DailyCloses returns up to days of daily closes, oldest first.
	DailyCloses(ctx context.Context, symbol string, days int) ([]float64, error)
	// DailyBars returns the same series with bar dates, oldest first.
	DailyBars(ctx context.Context, symbol string, days int) ([]Bar, error)
	// HourlyCloses returns up to bars recent hourly closes, oldest first.
	HourlyCloses(ctx context.Context, symbol string, bars int) ([]float64, error)
}

// Yahoo serves MarketData from Yahoo Finance, rate-limited so a large
// universe scan doesn't trip upstream throttling.
type Yahoo struct {
	limiter *rate.Limiter
}

// NewYahoo builds the feed capped at rps requests per second.
func NewYahoo(rps float64) *Yahoo {
	if rps <= 0 {
		rps = 2
	}
	return &Yahoo{limiter: rate.NewLimiter(rate.Limit(rps), 1)}
}

// Quote fetches the live snapshot for symbol.
func (y *Yahoo) Quote(ctx context.Context, symbol string) (Quote, error) {
	symbol = NormalizeSymbol(symbol)
	if symbol == "" {
		return Quote{}, fmt.Errorf("empty symbol")
	}
	if err := y.limiter.Wait(ctx); err != nil {
		return Quote{}, err
	}
	// equity.Get rather than quote.Get: the equity payload carries the same
	// market snapshot plus MarketCap, which the volatility ranker needs.
	q, err := equity.Get(symbol)
	if err != nil {
		return Quote{}, fmt.Errorf("failed to fetch quote for %s: %w", symbol, err)
	}
	if q == nil || q.RegularMarketPrice <= 0 {
		return Quote{}, fmt.Errorf("no tradable price for %s", symbol)
	}
	observ.IncCounter("marketdata_requests_total", map[string]string{"kind": "quote"})
	return Quote{
		Symbol:    symbol,
		Price:     q.RegularMarketPrice,
		Bid:       q.Bid,
		Ask:       q.Ask,
		MarketCap: q.MarketCap,
	}, nil
}

// DailyCloses fetches up to days of daily bars ending today.
func (y *Yahoo) DailyCloses(ctx context.Context, symbol string, days int) ([]float64, error) {
	bars, err := y.DailyBars(ctx, symbol, days)
	if err != nil {
		return nil, err
	}
	return closesOf(bars), nil
}

// DailyBars fetches up to days of dated daily bars ending today.
func (y *Yahoo) DailyBars(ctx context.Context, symbol string, days int) ([]Bar, error) {
	return y.bars(ctx, symbol, datetime.OneDay, time.Now().AddDate(0, 0, -days))
}

// HourlyCloses fetches recent hourly bars and trims to the last bars.
func (y *Yahoo) HourlyCloses(ctx context.Context, symbol string, bars int) ([]float64, error) {
	dated, err := y.bars(ctx, symbol, datetime.OneHour, time.Now().AddDate(0, 0, -5))
	if err != nil {
		return nil, err
	}
	closes := closesOf(dated)
	if len(closes) > bars {
		closes = closes[len(closes)-bars:]
	}
	return closes, nil
}

func (y *Yahoo) bars(ctx context.Context, symbol string, interval datetime.Interval, start time.Time) ([]Bar, error) {
	symbol = NormalizeSymbol(symbol)
	if symbol == "" {
		return nil, fmt.Errorf("empty symbol")
	}
	if err := y.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	end := time.Now()
	iter := chart.Get(&chart.Params{
		Symbol:   symbol,
		Start:    datetime.New(&start),
		End:      datetime.New(&end),
		Interval: interval,
	})
	var out []Bar
	for iter.Next() {
		b := iter.Bar()
		c := b.Close.InexactFloat64()
		if c > 0 {
			out = append(out, Bar{Date: time.Unix(int64(b.Timestamp), 0).UTC(), Close: c})
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to fetch history for %s: %w", symbol, err)
	}
	observ.IncCounter("marketdata_requests_total", map[string]string{"kind": "history"})
	return out, nil
}

func closesOf(bars []Bar) []float64 {
	closes := make([]float64, 0, len(bars))
	for _, b := range bars {
		closes = append(closes, b.Close)
	}
	return closes
}

// NormalizeSymbol uppercases and trims a user-supplied ticker.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// AnnualizedVolatility is the std dev of log returns scaled by periodsPerYear
// (252 for daily bars, 252*6.5 for hourly). Zero when the series is too short.
func AnnualizedVolatility(closes []float64, periodsPerYear float64) float64 {
	var returns []float64
	for i := 1; i < len(closes); i++ {
		if closes[i-1] > 0 {
			returns = append(returns, math.Log(closes[i]/closes[i-1]))
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
	variance /= float64(len(returns))
	return math.Sqrt(variance * periodsPerYear)
}

// Periods-per-year scales for AnnualizedVolatility.
const (
	DailyPeriods  = 252.0
	HourlyPeriods = 252.0 * 6.5
)
