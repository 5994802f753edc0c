package adapters

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Mock is an in-memory MarketData feed for tests and offline runs.
type Mock struct {
	mu     sync.Mutex
	quotes map[string]Quote
	daily  map[string][]float64
	hourly map[string][]float64
}

// NewMock returns an empty feed; unknown symbols error like a live miss.
func NewMock() *Mock {
	return &Mock{
		quotes: make(map[string]Quote),
		daily:  make(map[string][]float64),
		hourly: make(map[string][]float64),
	}
}

// SetQuote installs the snapshot returned for symbol.
func (m *Mock) SetQuote(q Quote) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quotes[NormalizeSymbol(q.Symbol)] = q
}

// SetDaily installs the daily close series for symbol.
func (m *Mock) SetDaily(symbol string, closes []float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.daily[NormalizeSymbol(symbol)] = closes
}

// SetHourly installs the hourly close series for symbol.
func (m *Mock) SetHourly(symbol string, closes []float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hourly[NormalizeSymbol(symbol)] = closes
}

// Quote implements MarketData.
func (m *Mock) Quote(_ context.Context, symbol string) (Quote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.quotes[NormalizeSymbol(symbol)]
	if !ok {
		return Quote{}, fmt.Errorf("no tradable price for %s", symbol)
	}
	return q, nil
}

// DailyCloses implements MarketData.
func (m *Mock) DailyCloses(_ context.Context, symbol string, days int) ([]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	closes, ok := m.daily[NormalizeSymbol(symbol)]
	if !ok {
		return nil, fmt.Errorf("no history for %s", symbol)
	}
	if len(closes) > days {
		closes = closes[len(closes)-days:]
	}
	return closes, nil
}

// DailyBars implements MarketData. Dates are synthesized one calendar day
// apart, ending today, which is enough for as-of replay tests.
func (m *Mock) DailyBars(_ context.Context, symbol string, days int) ([]Bar, error) {
	closes, err := m.DailyCloses(context.Background(), symbol, days)
	if err != nil {
		return nil, err
	}
	today := time.Now().UTC().Truncate(24 * time.Hour)
	bars := make([]Bar, len(closes))
	for i, c := range closes {
		bars[i] = Bar{Date: today.AddDate(0, 0, i-len(closes)+1), Close: c}
	}
	return bars, nil
}

// HourlyCloses implements MarketData.
func (m *Mock) HourlyCloses(_ context.Context, symbol string, bars int) ([]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	closes, ok := m.hourly[NormalizeSymbol(symbol)]
	if !ok {
		return nil, fmt.Errorf("no history for %s", symbol)
	}
	if len(closes) > bars {
		closes = closes[len(closes)-bars:]
	}
	return closes, nil
}
