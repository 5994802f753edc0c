package ledger

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/paperquant/trading-agent/internal/observ"
)

// QtyEpsilon is the share-count tolerance: positions at or below it after a
// sell are closed outright, and sells may exceed the held quantity by at most
// this much to absorb float drift.
const QtyEpsilon = 1e-4

// DefaultInitialCash seeds a fresh paper account.
const DefaultInitialCash = 10000.0

// Sentinel errors surfaced by trade operations.
var (
	ErrInsufficientCash   = errors.New("insufficient cash")
	ErrNoPosition         = errors.New("no position held")
	ErrInsufficientShares = errors.New("insufficient shares")
	ErrInvalidOrder       = errors.New("invalid order")
)

// Position is one open holding with its average cost basis.
type Position struct {
	Symbol    string  `json:"symbol"`
	Quantity  float64 `json:"quantity"`
	AvgCost   float64 `json:"avg_cost"`
	UpdatedAt string  `json:"updated_at"`
}

// Order is one filled paper trade. Total is the cash moved, quantity x price.
type Order struct {
	ID        int64   `json:"id"`
	Symbol    string  `json:"symbol"`
	Side      string  `json:"side"`
	Quantity  float64 `json:"quantity"`
	Price     float64 `json:"price"`
	Total     float64 `json:"total"`
	Reason    string  `json:"reason"`
	CreatedAt string  `json:"created_at"`
}

// Settings are the user-tunable agent switches persisted across restarts.
// StopLossPct/TakeProfitPct are percentages in (0, 100]; nil means unset.
type Settings struct {
	Enabled         bool     `json:"enabled"`
	IncludeVolatile bool     `json:"include_volatile"`
	FullControl     bool     `json:"full_control"`
	StopLossPct     *float64 `json:"stop_loss_pct"`
	TakeProfitPct   *float64 `json:"take_profit_pct"`
}

// ReasoningEntry is one audit record from the decision pipeline.
type ReasoningEntry struct {
	ID        int64  `json:"id"`
	Symbol    string `json:"symbol"`
	Step      string `json:"step"`
	Message   string `json:"message"`
	Data      string `json:"data,omitempty"`
	CreatedAt string `json:"created_at"`
}

// HistoryEntry is one per-symbol cycle outcome. Executed and OrderID are
// filled in after the trade attempt via MarkHistoryExecuted.
type HistoryEntry struct {
	ID                 int64   `json:"id"`
	Symbol             string  `json:"symbol"`
	Action             string  `json:"action"`
	Quantity           float64 `json:"quantity"`
	Price              float64 `json:"price"`
	PositionSize       float64 `json:"position_size"`
	Confidence         float64 `json:"confidence"`
	Reason             string  `json:"reason"`
	GuardrailTriggered bool    `json:"guardrail_triggered"`
	Executed           bool    `json:"executed"`
	OrderID            *int64  `json:"order_id"`
	Mode               string  `json:"mode"`
	CreatedAt          string  `json:"created_at"`
}

// Store is the sqlite-backed paper ledger. All cash/position mutations are
// serialized behind a single mutex so a buy can never observe cash mid-sell.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

const schema = `
CREATE TABLE IF NOT EXISTS account (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    cash REAL NOT NULL,
    initial_balance REAL NOT NULL
);
CREATE TABLE IF NOT EXISTS portfolio (
    symbol TEXT PRIMARY KEY,
    quantity REAL NOT NULL,
    avg_cost REAL NOT NULL,
    updated_at TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS orders (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    symbol TEXT NOT NULL,
    side TEXT NOT NULL,
    quantity REAL NOT NULL,
    price REAL NOT NULL,
    total REAL NOT NULL DEFAULT 0,
    reason TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS limit_orders (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    symbol TEXT NOT NULL,
    side TEXT NOT NULL,
    quantity REAL NOT NULL,
    limit_price REAL NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending',
    created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS agent_settings (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS agent_reasoning (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    symbol TEXT NOT NULL,
    step TEXT NOT NULL,
    message TEXT NOT NULL,
    data TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS agent_history (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    symbol TEXT NOT NULL,
    action TEXT NOT NULL,
    quantity REAL NOT NULL DEFAULT 0,
    price REAL NOT NULL DEFAULT 0,
    position_size REAL NOT NULL DEFAULT 0,
    confidence REAL NOT NULL DEFAULT 0,
    reason TEXT NOT NULL DEFAULT '',
    guardrail_triggered INTEGER NOT NULL DEFAULT 0,
    executed INTEGER NOT NULL DEFAULT 0,
    order_id INTEGER,
    mode TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS watchlist (
    symbol TEXT PRIMARY KEY,
    added_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_reasoning_symbol ON agent_reasoning(symbol, id);
CREATE INDEX IF NOT EXISTS idx_history_symbol ON agent_history(symbol, id);
`

// Open opens (or creates) the ledger database at path and seeds the account
// row with initialCash when none exists.
func Open(path string, initialCash float64) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger db: %w", err)
	}
	// sqlite handles one writer at a time; a larger pool just trades errors
	// for lock contention.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init ledger schema: %w", err)
	}
	if _, err := db.Exec(
		`INSERT INTO account (id, cash, initial_balance) VALUES (1, ?, ?) ON CONFLICT(id) DO NOTHING`,
		initialCash, initialCash,
	); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to seed account: %w", err)
	}
	observ.Logger.Info().Str("path", path).Msg("ledger opened")
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

func now() string { return time.Now().UTC().Format(time.RFC3339) }

// CashBalance returns the current free cash.
func (s *Store) CashBalance() (float64, error) {
	var cash float64
	err := s.db.QueryRow(`SELECT cash FROM account WHERE id = 1`).Scan(&cash)
	if err != nil {
		return 0, fmt.Errorf("failed to read cash balance: %w", err)
	}
	return cash, nil
}

// InitialBalance returns the deposit base used for total-return math.
func (s *Store) InitialBalance() (float64, error) {
	var bal float64
	err := s.db.QueryRow(`SELECT initial_balance FROM account WHERE id = 1`).Scan(&bal)
	if err != nil {
		return 0, fmt.Errorf("failed to read initial balance: %w", err)
	}
	return bal, nil
}

// AdjustCash applies a signed delta to both cash and the initial balance, as
// a deposit or withdrawal would. It returns the new cash balance.
func (s *Store) AdjustCash(delta float64) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cash, err := s.CashBalance()
	if err != nil {
		return 0, err
	}
	if cash+delta < 0 {
		return 0, fmt.Errorf("%w: withdrawal %.2f exceeds cash %.2f", ErrInsufficientCash, -delta, cash)
	}
	_, err = s.db.Exec(`UPDATE account SET cash = cash + ?, initial_balance = initial_balance + ? WHERE id = 1`, delta, delta)
	if err != nil {
		return 0, fmt.Errorf("failed to adjust cash: %w", err)
	}
	return cash + delta, nil
}

// Buy debits cash, upserts the position at a blended average cost and records
// the order, all in one transaction. Returns the order id.
func (s *Store) Buy(symbol string, qty, price float64, reason string) (int64, error) {
	if qty <= 0 || price <= 0 {
		return 0, fmt.Errorf("%w: buy %s qty=%.4f price=%.4f", ErrInvalidOrder, symbol, qty, price)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin buy tx: %w", err)
	}
	defer tx.Rollback()

	var cash float64
	if err := tx.QueryRow(`SELECT cash FROM account WHERE id = 1`).Scan(&cash); err != nil {
		return 0, fmt.Errorf("failed to read cash: %w", err)
	}
	cost := qty * price
	if cost > cash {
		return 0, fmt.Errorf("%w: need %.2f, have %.2f", ErrInsufficientCash, cost, cash)
	}
	if _, err := tx.Exec(`UPDATE account SET cash = cash - ? WHERE id = 1`, cost); err != nil {
		return 0, fmt.Errorf("failed to debit cash: %w", err)
	}

	ts := now()
	var heldQty, avgCost float64
	err = tx.QueryRow(`SELECT quantity, avg_cost FROM portfolio WHERE symbol = ?`, symbol).Scan(&heldQty, &avgCost)
	switch {
	case err == sql.ErrNoRows:
		_, err = tx.Exec(`INSERT INTO portfolio (symbol, quantity, avg_cost, updated_at) VALUES (?, ?, ?, ?)`, symbol, qty, price, ts)
	case err == nil:
		newQty := heldQty + qty
		blended := (heldQty*avgCost + cost) / newQty
		_, err = tx.Exec(`UPDATE portfolio SET quantity = ?, avg_cost = ?, updated_at = ? WHERE symbol = ?`, newQty, blended, ts, symbol)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to upsert position: %w", err)
	}

	res, err := tx.Exec(`INSERT INTO orders (symbol, side, quantity, price, total, reason, created_at) VALUES (?, 'buy', ?, ?, ?, ?, ?)`,
		symbol, qty, price, cost, reason, ts)
	if err != nil {
		return 0, fmt.Errorf("failed to record buy order: %w", err)
	}
	orderID, _ := res.LastInsertId()
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit buy: %w", err)
	}
	observ.IncCounter("ledger_orders_total", map[string]string{"side": "buy"})
	observ.Logger.Info().Str("symbol", symbol).Float64("qty", qty).Float64("price", price).Int64("order_id", orderID).Msg("buy filled")
	return orderID, nil
}

// Sell credits proceeds at the given price, decrements the position (closing
// it when the remainder is within QtyEpsilon) and records the order.
func (s *Store) Sell(symbol string, qty, price float64, reason string) (int64, error) {
	if qty <= 0 || price <= 0 {
		return 0, fmt.Errorf("%w: sell %s qty=%.4f price=%.4f", ErrInvalidOrder, symbol, qty, price)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin sell tx: %w", err)
	}
	defer tx.Rollback()

	var heldQty, avgCost float64
	err = tx.QueryRow(`SELECT quantity, avg_cost FROM portfolio WHERE symbol = ?`, symbol).Scan(&heldQty, &avgCost)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("%w: %s", ErrNoPosition, symbol)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read position: %w", err)
	}
	if qty > heldQty+QtyEpsilon {
		return 0, fmt.Errorf("%w: sell %.4f > held %.4f %s", ErrInsufficientShares, qty, heldQty, symbol)
	}

	if _, err := tx.Exec(`UPDATE account SET cash = cash + ? WHERE id = 1`, qty*price); err != nil {
		return 0, fmt.Errorf("failed to credit cash: %w", err)
	}

	ts := now()
	remaining := heldQty - qty
	if remaining <= QtyEpsilon {
		_, err = tx.Exec(`DELETE FROM portfolio WHERE symbol = ?`, symbol)
	} else {
		_, err = tx.Exec(`UPDATE portfolio SET quantity = ?, updated_at = ? WHERE symbol = ?`, remaining, ts, symbol)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to decrement position: %w", err)
	}

	res, err := tx.Exec(`INSERT INTO orders (symbol, side, quantity, price, total, reason, created_at) VALUES (?, 'sell', ?, ?, ?, ?, ?)`,
		symbol, qty, price, qty*price, reason, ts)
	if err != nil {
		return 0, fmt.Errorf("failed to record sell order: %w", err)
	}
	orderID, _ := res.LastInsertId()
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit sell: %w", err)
	}
	observ.IncCounter("ledger_orders_total", map[string]string{"side": "sell"})
	observ.Logger.Info().Str("symbol", symbol).Float64("qty", qty).Float64("price", price).Float64("pnl_per_share", price-avgCost).Int64("order_id", orderID).Msg("sell filled")
	return orderID, nil
}

// Reset restores cash and initial_balance to startingCash and wipes positions
// and orders. Settings, reasoning, history and the watchlist survive.
func (s *Store) Reset(startingCash float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin reset tx: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.Exec(`UPDATE account SET cash = ?, initial_balance = ? WHERE id = 1`, startingCash, startingCash); err != nil {
		return fmt.Errorf("failed to reset account: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM portfolio`); err != nil {
		return fmt.Errorf("failed to clear positions: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM orders`); err != nil {
		return fmt.Errorf("failed to clear orders: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit reset: %w", err)
	}
	observ.Logger.Warn().Float64("cash", startingCash).Msg("ledger reset")
	return nil
}

// Positions returns all open holdings ordered by symbol.
func (s *Store) Positions() ([]Position, error) {
	rows, err := s.db.Query(`SELECT symbol, quantity, avg_cost, updated_at FROM portfolio ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("failed to list positions: %w", err)
	}
	defer rows.Close()
	var out []Position
	for rows.Next() {
		var p Position
		if err := rows.Scan(&p.Symbol, &p.Quantity, &p.AvgCost, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Position returns the holding for symbol; ok is false when none is open.
func (s *Store) Position(symbol string) (Position, bool, error) {
	var p Position
	err := s.db.QueryRow(`SELECT symbol, quantity, avg_cost, updated_at FROM portfolio WHERE symbol = ?`, symbol).
		Scan(&p.Symbol, &p.Quantity, &p.AvgCost, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return Position{}, false, nil
	}
	if err != nil {
		return Position{}, false, fmt.Errorf("failed to read position: %w", err)
	}
	return p, true, nil
}

// Orders returns the most recent filled orders, newest first.
func (s *Store) Orders(limit int) ([]Order, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`SELECT id, symbol, side, quantity, price, total, reason, created_at FROM orders ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	defer rows.Close()
	var out []Order
	for rows.Next() {
		var o Order
		if err := rows.Scan(&o.ID, &o.Symbol, &o.Side, &o.Quantity, &o.Price, &o.Total, &o.Reason, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
