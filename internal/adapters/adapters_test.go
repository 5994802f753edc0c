package adapters

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuoteSpreadPct(t *testing.T) {
	assert.InDelta(t, 0.02, Quote{Bid: 99, Ask: 101, Price: 100}.SpreadPct(), 1e-9)
	assert.Zero(t, Quote{Price: 100}.SpreadPct(), "missing bid/ask degrades to zero")
	assert.Zero(t, Quote{Bid: 101, Ask: 99}.SpreadPct(), "crossed book is junk data")
}

func TestAnnualizedVolatility(t *testing.T) {
	assert.Zero(t, AnnualizedVolatility([]float64{100, 101}, DailyPeriods))
	assert.Zero(t, AnnualizedVolatility([]float64{100, 100, 100, 100}, DailyPeriods), "flat series")
	assert.Positive(t, AnnualizedVolatility([]float64{100, 105, 98, 103, 97}, DailyPeriods))
}

func TestVolatilityRanker(t *testing.T) {
	feed := NewMock()
	feed.SetHourly("WILD", []float64{100, 110, 95, 108, 92, 105})
	feed.SetHourly("CALM", []float64{100, 100.2, 99.9, 100.1, 100.0, 100.2})
	feed.SetHourly("GME", []float64{20, 20.4, 19.7, 20.2, 19.9, 20.3})
	feed.SetQuote(Quote{Symbol: "WILD", Price: 100, MarketCap: 2_000_000_000})
	feed.SetQuote(Quote{Symbol: "CALM", Price: 100, MarketCap: 900_000_000_000})
	feed.SetQuote(Quote{Symbol: "GME", Price: 20, MarketCap: 10_000_000_000})

	r := NewVolatilityRanker(feed)
	top := r.TopVolatile(context.Background(), []string{"WILD", "CALM", "GME", "NODATA"}, 2)

	// GME is pinned first despite ranking below WILD on raw volatility
	require.Equal(t, []string{"GME", "WILD"}, top)
}

func TestVolatilityRanker_SmallCapBoost(t *testing.T) {
	series := []float64{100, 103, 98, 102, 97, 101}
	feed := NewMock()
	feed.SetHourly("SMALL", series)
	feed.SetHourly("LARGE", series)
	feed.SetQuote(Quote{Symbol: "SMALL", Price: 100, MarketCap: 1_000_000_000})
	feed.SetQuote(Quote{Symbol: "LARGE", Price: 100, MarketCap: 500_000_000_000})

	scored := NewVolatilityRanker(feed).Rank(context.Background(), []string{"LARGE", "SMALL"})
	require.Len(t, scored, 2)
	assert.Equal(t, "SMALL", scored[0].Symbol, "equal realized vol must rank the small cap higher")
	assert.Greater(t, scored[0].Score, scored[1].Score)
}

func TestLoadSymbolList(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "symbols.json")
	require.NoError(t, os.WriteFile(path, []byte(`["aapl", "NVDA", " aapl ", ""]`), 0o644))

	syms, err := LoadSymbolList(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL", "NVDA"}, syms)

	missing, err := LoadSymbolList(filepath.Join(dir, "nope.json"))
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestNewsClient_FallsBackToStub(t *testing.T) {
	// no key configured
	n := NewNewsClient("http://unused", "", time.Second)
	got := n.Headlines("AAPL", 5)
	require.Len(t, got, 1)
	assert.Contains(t, got[0], "AAPL")

	// upstream error
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()
	n = NewNewsClient(srv.URL, "key", time.Second)
	got = n.Headlines("AAPL", 5)
	require.Len(t, got, 1)
	assert.Contains(t, got[0], "news fetch failed")
}

func TestNewsClient_ParsesTitles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/everything", r.URL.Path)
		assert.Equal(t, "AAPL", r.URL.Query().Get("q"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"articles":[{"title":"Apple beats"},{"title":""},{"title":"iPhone demand"}]}`))
	}))
	defer srv.Close()

	n := NewNewsClient(srv.URL, "key", time.Second)
	got := n.Headlines("aapl", 5)
	assert.Equal(t, []string{"Apple beats", "iPhone demand"}, got)
}

func TestNewsClient_AsOfWindowTracksRequestedDay(t *testing.T) {
	var from, to string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		from = r.URL.Query().Get("from")
		to = r.URL.Query().Get("to")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"articles":[{"title":"Archive story"}]}`))
	}))
	defer srv.Close()

	asOf := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	n := NewNewsClient(srv.URL, "key", time.Second)
	got := n.HeadlinesAsOf("AAPL", 5, asOf)
	assert.Equal(t, []string{"Archive story"}, got)
	assert.Equal(t, "2024-03-13", from)
	assert.Equal(t, "2024-03-15", to)
}

func TestMacroClient(t *testing.T) {
	assert.Nil(t, NewMacroClient("http://unused", "", time.Second).Indicators())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "FEDERAL_FUNDS_RATE", r.URL.Query().Get("function"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":[{"value":"5.25"}]}`))
	}))
	defer srv.Close()

	got := NewMacroClient(srv.URL, "key", time.Second).Indicators()
	require.NotNil(t, got)
	assert.InDelta(t, 5.25, got["fed_funds_rate"], 1e-9)
}

func TestMacroClient_AsOfSkipsFutureReadings(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":[
			{"date":"2024-06-01","value":"5.50"},
			{"date":"2024-03-01","value":"5.25"},
			{"date":"2024-01-01","value":"5.00"}
		]}`))
	}))
	defer srv.Close()

	m := NewMacroClient(srv.URL, "key", time.Second)
	got := m.IndicatorsAsOf(time.Date(2024, 4, 15, 0, 0, 0, 0, time.UTC))
	require.NotNil(t, got)
	assert.InDelta(t, 5.25, got["fed_funds_rate"], 1e-9, "must use the newest reading published on or before the as-of day")

	got = m.IndicatorsAsOf(time.Date(2023, 12, 1, 0, 0, 0, 0, time.UTC))
	assert.Nil(t, got, "no reading existed yet")
}
