package ledger

import (
	"fmt"

	"github.com/paperquant/trading-agent/internal/observ"
)

// LimitOrder is a resting order that fills when the live quote crosses its
// limit price. Status is pending, filled or cancelled.
type LimitOrder struct {
	ID         int64   `json:"id"`
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side"`
	Quantity   float64 `json:"quantity"`
	LimitPrice float64 `json:"limit_price"`
	Status     string  `json:"status"`
	CreatedAt  string  `json:"created_at"`
}

// AddLimitOrder records a pending limit order and returns it.
func (s *Store) AddLimitOrder(symbol, side string, qty, limitPrice float64) (LimitOrder, error) {
	if side != "buy" && side != "sell" {
		return LimitOrder{}, fmt.Errorf("%w: side must be buy or sell", ErrInvalidOrder)
	}
	if qty <= 0 || limitPrice <= 0 {
		return LimitOrder{}, fmt.Errorf("%w: limit %s %s qty=%.4f price=%.4f", ErrInvalidOrder, side, symbol, qty, limitPrice)
	}
	o := LimitOrder{Symbol: symbol, Side: side, Quantity: qty, LimitPrice: limitPrice, Status: "pending", CreatedAt: now()}
	res, err := s.db.Exec(`INSERT INTO limit_orders (symbol, side, quantity, limit_price, status, created_at) VALUES (?, ?, ?, ?, 'pending', ?)`,
		o.Symbol, o.Side, o.Quantity, o.LimitPrice, o.CreatedAt)
	if err != nil {
		return LimitOrder{}, fmt.Errorf("failed to record limit order: %w", err)
	}
	o.ID, _ = res.LastInsertId()
	observ.IncCounter("ledger_limit_orders_total", map[string]string{"side": side})
	observ.Logger.Info().Str("symbol", symbol).Str("side", side).Float64("qty", qty).Float64("limit", limitPrice).Int64("order_id", o.ID).Msg("limit order placed")
	return o, nil
}

// LimitOrders returns recent limit orders, pending ones first then newest.
func (s *Store) LimitOrders(limit int) ([]LimitOrder, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.scanLimitOrders(
		`SELECT id, symbol, side, quantity, limit_price, status, created_at FROM limit_orders
		 ORDER BY status = 'pending' DESC, id DESC LIMIT ?`, limit)
}

// PendingLimitOrders returns all open limit orders, oldest first.
func (s *Store) PendingLimitOrders() ([]LimitOrder, error) {
	return s.scanLimitOrders(
		`SELECT id, symbol, side, quantity, limit_price, status, created_at FROM limit_orders
		 WHERE status = 'pending' ORDER BY id`)
}

func (s *Store) scanLimitOrders(query string, args ...any) ([]LimitOrder, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list limit orders: %w", err)
	}
	defer rows.Close()
	var out []LimitOrder
	for rows.Next() {
		var o LimitOrder
		if err := rows.Scan(&o.ID, &o.Symbol, &o.Side, &o.Quantity, &o.LimitPrice, &o.Status, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan limit order: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// MarkLimitOrderFilled flips a pending order to filled.
func (s *Store) MarkLimitOrderFilled(id int64) error {
	_, err := s.db.Exec(`UPDATE limit_orders SET status = 'filled' WHERE id = ? AND status = 'pending'`, id)
	if err != nil {
		return fmt.Errorf("failed to mark limit order filled: %w", err)
	}
	return nil
}

// CancelLimitOrder cancels an order while it is still pending. It reports
// whether a row changed; a filled or unknown order leaves it false.
func (s *Store) CancelLimitOrder(id int64) (bool, error) {
	res, err := s.db.Exec(`UPDATE limit_orders SET status = 'cancelled' WHERE id = ? AND status = 'pending'`, id)
	if err != nil {
		return false, fmt.Errorf("failed to cancel limit order: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to cancel limit order: %w", err)
	}
	return n > 0, nil
}
