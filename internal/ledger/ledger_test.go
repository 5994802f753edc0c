package ledger

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "ledger.db"), 10000)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBuy_BlendsAverageCost(t *testing.T) {
	s := openTestStore(t)

	_, err := s.Buy("AAPL", 10, 50, "test")
	require.NoError(t, err)
	_, err = s.Buy("AAPL", 5, 60, "test")
	require.NoError(t, err)

	p, ok, err := s.Position("AAPL")
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 15, p.Quantity, 1e-9)
	assert.InDelta(t, 53.3333, p.AvgCost, 1e-3)

	cash, err := s.CashBalance()
	require.NoError(t, err)
	assert.InDelta(t, 9200, cash, 1e-9)
}

func TestBuy_InsufficientCashLeavesStateUntouched(t *testing.T) {
	s := openTestStore(t)

	_, err := s.Buy("NVDA", 100, 200, "test")
	require.ErrorIs(t, err, ErrInsufficientCash)

	cash, err := s.CashBalance()
	require.NoError(t, err)
	assert.InDelta(t, 10000, cash, 1e-9)
	_, ok, err := s.Position("NVDA")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSell_RoundTripRestoresCash(t *testing.T) {
	s := openTestStore(t)

	_, err := s.Buy("MSFT", 10, 100, "test")
	require.NoError(t, err)
	_, err = s.Sell("MSFT", 10, 100, "test")
	require.NoError(t, err)

	cash, err := s.CashBalance()
	require.NoError(t, err)
	assert.InDelta(t, 10000, cash, 1e-9)
	_, ok, err := s.Position("MSFT")
	require.NoError(t, err)
	assert.False(t, ok, "position should be closed after full sell")
}

func TestSell_ClosesDustWithinEpsilon(t *testing.T) {
	s := openTestStore(t)

	_, err := s.Buy("MSFT", 10, 100, "test")
	require.NoError(t, err)
	// float drift may leave the runner asking for fractionally more than held
	_, err = s.Sell("MSFT", 10.00005, 100, "test")
	require.NoError(t, err)
	_, ok, err := s.Position("MSFT")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSell_Rejections(t *testing.T) {
	s := openTestStore(t)

	_, err := s.Sell("GOOG", 1, 100, "test")
	assert.ErrorIs(t, err, ErrNoPosition)

	_, err = s.Buy("GOOG", 5, 100, "test")
	require.NoError(t, err)
	_, err = s.Sell("GOOG", 6, 100, "test")
	assert.ErrorIs(t, err, ErrInsufficientShares)

	_, err = s.Sell("GOOG", 0, 100, "test")
	assert.ErrorIs(t, err, ErrInvalidOrder)
	_, err = s.Buy("GOOG", 1, -5, "test")
	assert.ErrorIs(t, err, ErrInvalidOrder)
}

func TestOrders_CarryTotalAndPositionTimestamp(t *testing.T) {
	s := openTestStore(t)

	_, err := s.Buy("AAPL", 10, 50, "test")
	require.NoError(t, err)
	_, err = s.Sell("AAPL", 4, 55, "test")
	require.NoError(t, err)

	orders, err := s.Orders(10)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.InDelta(t, 220, orders[0].Total, 1e-9)
	assert.InDelta(t, 500, orders[1].Total, 1e-9)

	p, ok, err := s.Position("AAPL")
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEmpty(t, p.UpdatedAt)
}

func TestReset(t *testing.T) {
	s := openTestStore(t)

	_, err := s.Buy("AAPL", 10, 50, "test")
	require.NoError(t, err)
	require.NoError(t, s.SetEnabled(true))
	require.NoError(t, s.Reset(25000))

	cash, err := s.CashBalance()
	require.NoError(t, err)
	assert.InDelta(t, 25000, cash, 1e-9)
	initial, err := s.InitialBalance()
	require.NoError(t, err)
	assert.InDelta(t, 25000, initial, 1e-9)

	positions, err := s.Positions()
	require.NoError(t, err)
	assert.Empty(t, positions)
	orders, err := s.Orders(10)
	require.NoError(t, err)
	assert.Empty(t, orders)

	// settings survive a reset
	set, err := s.Settings()
	require.NoError(t, err)
	assert.True(t, set.Enabled)
}

func TestAdjustCash(t *testing.T) {
	s := openTestStore(t)

	cash, err := s.AdjustCash(5000)
	require.NoError(t, err)
	assert.InDelta(t, 15000, cash, 1e-9)
	initial, err := s.InitialBalance()
	require.NoError(t, err)
	assert.InDelta(t, 15000, initial, 1e-9)

	_, err = s.AdjustCash(-20000)
	assert.ErrorIs(t, err, ErrInsufficientCash)
}

func TestSettings_RoundTrip(t *testing.T) {
	s := openTestStore(t)

	set, err := s.Settings()
	require.NoError(t, err)
	assert.False(t, set.Enabled)
	assert.Nil(t, set.StopLossPct)

	sl := 5.0
	require.NoError(t, s.SetEnabled(true))
	require.NoError(t, s.SetIncludeVolatile(true))
	require.NoError(t, s.SetFullControl(true))
	require.NoError(t, s.SetStopLossPct(&sl))

	set, err = s.Settings()
	require.NoError(t, err)
	assert.True(t, set.Enabled)
	assert.True(t, set.IncludeVolatile)
	assert.True(t, set.FullControl)
	require.NotNil(t, set.StopLossPct)
	assert.InDelta(t, 5.0, *set.StopLossPct, 1e-9)

	require.NoError(t, s.SetStopLossPct(nil))
	set, err = s.Settings()
	require.NoError(t, err)
	assert.Nil(t, set.StopLossPct)
}

func TestHistory_RecordThenMarkExecuted(t *testing.T) {
	s := openTestStore(t)

	id, err := s.AddHistory(HistoryEntry{
		Symbol: "AAPL", Action: "Buy", Price: 150, PositionSize: 0.1,
		Confidence: 0.4, Reason: "strong composite", Mode: "normal",
	})
	require.NoError(t, err)

	orderID, err := s.Buy("AAPL", 6.6, 150, "strong composite")
	require.NoError(t, err)
	require.NoError(t, s.MarkHistoryExecuted(id, orderID, 6.6))

	entries, err := s.History(10, "AAPL")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Executed)
	require.NotNil(t, entries[0].OrderID)
	assert.Equal(t, orderID, *entries[0].OrderID)
	assert.InDelta(t, 6.6, entries[0].Quantity, 1e-9)
}

func TestReasoning_FilterBySymbol(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.AddReasoning("AAPL", "start", "running", nil))
	require.NoError(t, s.AddReasoning("NVDA", "start", "running", map[string]any{"votes": 3}))

	all, err := s.Reasoning(50, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	nvda, err := s.Reasoning(50, "NVDA")
	require.NoError(t, err)
	require.Len(t, nvda, 1)
	assert.Contains(t, nvda[0].Data, "votes")
}

func TestWatchlist(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.AddWatch("AAPL"))
	require.NoError(t, s.AddWatch("AAPL")) // idempotent
	require.NoError(t, s.AddWatch("NVDA"))

	list, err := s.Watchlist()
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL", "NVDA"}, list)

	require.NoError(t, s.RemoveWatch("AAPL"))
	list, err = s.Watchlist()
	require.NoError(t, err)
	assert.Equal(t, []string{"NVDA"}, list)
}
