package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// SavedBacktest is a named, re-runnable backtest configuration. Promoted
// optimizer and evolver candidates land here too.
type SavedBacktest struct {
	ID             int64           `json:"id"`
	Name           string          `json:"name"`
	Strategy       string          `json:"strategy"`
	Symbol         string          `json:"symbol"`
	Timeframe      string          `json:"timeframe"`
	Params         json.RawMessage `json:"params"`
	InitialCapital float64         `json:"initial_capital"`
	MinNotional    float64         `json:"min_notional"`
	Days           int             `json:"days"`
	CreatedTS      int64           `json:"created_ts"`
}

// SaveBacktest upserts a configuration by name and returns its id.
func (d *DB) SaveBacktest(b *SavedBacktest) (int64, error) {
	params := b.Params
	if len(params) == 0 {
		params = json.RawMessage("{}")
	}
	if b.Days <= 0 {
		b.Days = 365
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.sql.Exec(`
		INSERT INTO saved_backtests(name, strategy, symbol, timeframe, params_json, initial_capital, min_notional, days, created_ts)
		VALUES(?,?,?,?,?,?,?,?,?)
		ON CONFLICT(name) DO UPDATE SET
			strategy=excluded.strategy,
			symbol=excluded.symbol,
			timeframe=excluded.timeframe,
			params_json=excluded.params_json,
			initial_capital=excluded.initial_capital,
			min_notional=excluded.min_notional,
			days=excluded.days,
			created_ts=excluded.created_ts`,
		b.Name, b.Strategy, b.Symbol, b.Timeframe, string(params), b.InitialCapital, b.MinNotional, b.Days, time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("save backtest: %w", err)
	}
	var id int64
	if err := d.sql.QueryRow("SELECT id FROM saved_backtests WHERE name = ?", b.Name).Scan(&id); err != nil {
		return 0, fmt.Errorf("save backtest: %w", err)
	}
	return id, nil
}

// ListSavedBacktests returns all configurations, newest first.
func (d *DB) ListSavedBacktests() ([]SavedBacktest, error) {
	rows, err := d.sql.Query(`
		SELECT id, name, strategy, symbol, timeframe, params_json, initial_capital, min_notional, days, created_ts
		FROM saved_backtests ORDER BY created_ts DESC`)
	if err != nil {
		return nil, fmt.Errorf("list saved backtests: %w", err)
	}
	defer rows.Close()

	var out []SavedBacktest
	for rows.Next() {
		var b SavedBacktest
		var params string
		if err := rows.Scan(&b.ID, &b.Name, &b.Strategy, &b.Symbol, &b.Timeframe, &params,
			&b.InitialCapital, &b.MinNotional, &b.Days, &b.CreatedTS); err != nil {
			return nil, err
		}
		b.Params = json.RawMessage(params)
		out = append(out, b)
	}
	return out, rows.Err()
}

// GetSavedBacktest fetches one configuration by id, or nil.
func (d *DB) GetSavedBacktest(id int64) (*SavedBacktest, error) {
	var b SavedBacktest
	var params string
	err := d.sql.QueryRow(`
		SELECT id, name, strategy, symbol, timeframe, params_json, initial_capital, min_notional, days, created_ts
		FROM saved_backtests WHERE id = ?`, id).Scan(
		&b.ID, &b.Name, &b.Strategy, &b.Symbol, &b.Timeframe, &params,
		&b.InitialCapital, &b.MinNotional, &b.Days, &b.CreatedTS)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get saved backtest: %w", err)
	}
	b.Params = json.RawMessage(params)
	return &b, nil
}

// DeleteSavedBacktest removes a configuration. Returns whether a row existed.
func (d *DB) DeleteSavedBacktest(id int64) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	res, err := d.sql.Exec("DELETE FROM saved_backtests WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("delete saved backtest: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
