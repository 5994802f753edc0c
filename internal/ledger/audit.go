package ledger

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
)

// Settings keys in agent_settings.
const (
	keyEnabled         = "enabled"
	keyIncludeVolatile = "include_volatile"
	keyFullControl     = "full_control"
	keyStopLossPct     = "stop_loss_pct"
	keyTakeProfitPct   = "take_profit_pct"
)

func (s *Store) setting(key string) (string, bool, error) {
	var v string
	err := s.db.QueryRow(`SELECT value FROM agent_settings WHERE key = ?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read setting %s: %w", key, err)
	}
	return v, true, nil
}

func (s *Store) putSetting(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO agent_settings (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value)
	if err != nil {
		return fmt.Errorf("failed to write setting %s: %w", key, err)
	}
	return nil
}

func (s *Store) deleteSetting(key string) error {
	if _, err := s.db.Exec(`DELETE FROM agent_settings WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete setting %s: %w", key, err)
	}
	return nil
}

func (s *Store) boolSetting(key string) (bool, error) {
	v, ok, err := s.setting(key)
	if err != nil || !ok {
		return false, err
	}
	return v == "true" || v == "1", nil
}

func (s *Store) pctSetting(key string) (*float64, error) {
	v, ok, err := s.setting(key)
	if err != nil || !ok {
		return nil, err
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse setting %s=%q: %w", key, v, err)
	}
	return &f, nil
}

// Settings reads the full persisted settings snapshot. Missing keys fall back
// to zero values (agent disabled, thresholds unset).
func (s *Store) Settings() (Settings, error) {
	var set Settings
	var err error
	if set.Enabled, err = s.boolSetting(keyEnabled); err != nil {
		return set, err
	}
	if set.IncludeVolatile, err = s.boolSetting(keyIncludeVolatile); err != nil {
		return set, err
	}
	if set.FullControl, err = s.boolSetting(keyFullControl); err != nil {
		return set, err
	}
	if set.StopLossPct, err = s.pctSetting(keyStopLossPct); err != nil {
		return set, err
	}
	if set.TakeProfitPct, err = s.pctSetting(keyTakeProfitPct); err != nil {
		return set, err
	}
	return set, nil
}

// SetEnabled flips the master agent switch.
func (s *Store) SetEnabled(on bool) error { return s.putSetting(keyEnabled, strconv.FormatBool(on)) }

// SetIncludeVolatile toggles the volatile-universe expansion.
func (s *Store) SetIncludeVolatile(on bool) error {
	return s.putSetting(keyIncludeVolatile, strconv.FormatBool(on))
}

// SetFullControl toggles full-control mode.
func (s *Store) SetFullControl(on bool) error {
	return s.putSetting(keyFullControl, strconv.FormatBool(on))
}

// SetStopLossPct persists the stop-loss percentage; nil clears it.
func (s *Store) SetStopLossPct(pct *float64) error {
	if pct == nil {
		return s.deleteSetting(keyStopLossPct)
	}
	return s.putSetting(keyStopLossPct, strconv.FormatFloat(*pct, 'f', -1, 64))
}

// SetTakeProfitPct persists the take-profit percentage; nil clears it.
func (s *Store) SetTakeProfitPct(pct *float64) error {
	if pct == nil {
		return s.deleteSetting(keyTakeProfitPct)
	}
	return s.putSetting(keyTakeProfitPct, strconv.FormatFloat(*pct, 'f', -1, 64))
}

// AddReasoning appends one pipeline audit record. data is stored as JSON and
// may be nil.
func (s *Store) AddReasoning(symbol, step, message string, data map[string]any) error {
	payload := ""
	if len(data) > 0 {
		b, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("failed to marshal reasoning data: %w", err)
		}
		payload = string(b)
	}
	_, err := s.db.Exec(
		`INSERT INTO agent_reasoning (symbol, step, message, data, created_at) VALUES (?, ?, ?, ?, ?)`,
		symbol, step, message, payload, now())
	if err != nil {
		return fmt.Errorf("failed to record reasoning: %w", err)
	}
	return nil
}

// Reasoning returns the newest audit records, optionally filtered by symbol.
func (s *Store) Reasoning(limit int, symbol string) ([]ReasoningEntry, error) {
	if limit <= 0 {
		limit = 200
	}
	query := `SELECT id, symbol, step, message, data, created_at FROM agent_reasoning`
	args := []any{}
	if symbol != "" {
		query += ` WHERE symbol = ?`
		args = append(args, symbol)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list reasoning: %w", err)
	}
	defer rows.Close()
	var out []ReasoningEntry
	for rows.Next() {
		var e ReasoningEntry
		if err := rows.Scan(&e.ID, &e.Symbol, &e.Step, &e.Message, &e.Data, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan reasoning: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// AddHistory records one per-symbol cycle outcome and returns its row id.
// Rows are written before any trade executes; MarkHistoryExecuted updates the
// row afterwards.
func (s *Store) AddHistory(h HistoryEntry) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO agent_history (symbol, action, quantity, price, position_size, confidence, reason, guardrail_triggered, executed, order_id, mode, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		h.Symbol, h.Action, h.Quantity, h.Price, h.PositionSize, h.Confidence, h.Reason,
		boolToInt(h.GuardrailTriggered), boolToInt(h.Executed), h.OrderID, h.Mode, now())
	if err != nil {
		return 0, fmt.Errorf("failed to record history: %w", err)
	}
	return res.LastInsertId()
}

// MarkHistoryExecuted flags a history row as executed and attaches the fill's
// order id and final quantity.
func (s *Store) MarkHistoryExecuted(id, orderID int64, qty float64) error {
	_, err := s.db.Exec(`UPDATE agent_history SET executed = 1, order_id = ?, quantity = ? WHERE id = ?`, orderID, qty, id)
	if err != nil {
		return fmt.Errorf("failed to mark history executed: %w", err)
	}
	return nil
}

// History returns the newest cycle outcomes, optionally filtered by symbol.
func (s *Store) History(limit int, symbol string) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, symbol, action, quantity, price, position_size, confidence, reason, guardrail_triggered, executed, order_id, mode, created_at FROM agent_history`
	args := []any{}
	if symbol != "" {
		query += ` WHERE symbol = ?`
		args = append(args, symbol)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	defer rows.Close()
	var out []HistoryEntry
	for rows.Next() {
		var h HistoryEntry
		var guardrail, executed int
		var orderID sql.NullInt64
		if err := rows.Scan(&h.ID, &h.Symbol, &h.Action, &h.Quantity, &h.Price, &h.PositionSize, &h.Confidence,
			&h.Reason, &guardrail, &executed, &orderID, &h.Mode, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		h.GuardrailTriggered = guardrail != 0
		h.Executed = executed != 0
		if orderID.Valid {
			h.OrderID = &orderID.Int64
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// Watchlist returns the watched symbols in insertion order.
func (s *Store) Watchlist() ([]string, error) {
	rows, err := s.db.Query(`SELECT symbol FROM watchlist ORDER BY added_at, symbol`)
	if err != nil {
		return nil, fmt.Errorf("failed to list watchlist: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var sym string
		if err := rows.Scan(&sym); err != nil {
			return nil, fmt.Errorf("failed to scan watchlist: %w", err)
		}
		out = append(out, sym)
	}
	return out, rows.Err()
}

// AddWatch adds a symbol to the watchlist; re-adding is a no-op.
func (s *Store) AddWatch(symbol string) error {
	_, err := s.db.Exec(`INSERT INTO watchlist (symbol, added_at) VALUES (?, ?) ON CONFLICT(symbol) DO NOTHING`, symbol, now())
	if err != nil {
		return fmt.Errorf("failed to add watch: %w", err)
	}
	return nil
}

// RemoveWatch drops a symbol from the watchlist.
func (s *Store) RemoveWatch(symbol string) error {
	if _, err := s.db.Exec(`DELETE FROM watchlist WHERE symbol = ?`, symbol); err != nil {
		return fmt.Errorf("failed to remove watch: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
