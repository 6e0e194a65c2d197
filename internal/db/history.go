package db

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// NameEquity pairs a scope member with its equity at snapshot time.
type NameEquity struct {
	Name   string
	Equity float64
}

// SnapshotEquity records one tick's equity at bot, manager, and portfolio
// scope. The portfolio row is the sum of the manager rows.
func (d *DB) SnapshotEquity(portfolioName string, managers, bots []NameEquity) error {
	ts := time.Now().Unix()
	d.mu.Lock()
	defer d.mu.Unlock()

	tx, err := d.sql.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare("INSERT INTO equity_history(ts, scope, name, equity) VALUES(?,?,?,?)")
	if err != nil {
		return fmt.Errorf("snapshot equity: %w", err)
	}
	defer stmt.Close()

	total := 0.0
	for _, m := range managers {
		total += m.Equity
		if _, err := stmt.Exec(ts, "manager", m.Name, m.Equity); err != nil {
			return fmt.Errorf("snapshot equity: %w", err)
		}
	}
	for _, b := range bots {
		if _, err := stmt.Exec(ts, "bot", b.Name, b.Equity); err != nil {
			return fmt.Errorf("snapshot equity: %w", err)
		}
	}
	if _, err := stmt.Exec(ts, "portfolio", portfolioName, total); err != nil {
		return fmt.Errorf("snapshot equity: %w", err)
	}
	return tx.Commit()
}

// EquityPoint is one equity_history sample.
type EquityPoint struct {
	TS     int64   `json:"ts"`
	Scope  string  `json:"scope"`
	Name   string  `json:"name"`
	Equity float64 `json:"equity"`
}

// EquityHistory returns samples for a scope (and optionally one name),
// oldest first.
func (d *DB) EquityHistory(scope, name string, limit int) ([]EquityPoint, error) {
	if limit <= 0 {
		limit = 1000
	}
	sqlParts := []string{"SELECT ts, scope, name, equity FROM equity_history WHERE scope = ?"}
	args := []interface{}{scope}
	if name != "" {
		sqlParts = append(sqlParts, "AND name = ?")
		args = append(args, name)
	}
	sqlParts = append(sqlParts, "ORDER BY ts DESC LIMIT ?")
	args = append(args, limit)

	rows, err := d.sql.Query(strings.Join(sqlParts, " "), args...)
	if err != nil {
		return nil, fmt.Errorf("equity history: %w", err)
	}
	defer rows.Close()

	var out []EquityPoint
	for rows.Next() {
		var p EquityPoint
		if err := rows.Scan(&p.TS, &p.Scope, &p.Name, &p.Equity); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// query newest-first for the limit, serve oldest-first
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// RecordParams appends a param_history row for a worker's strategy config.
// Written on worker creation and on strategy reassignment.
func (d *DB) RecordParams(botName, strategy string, params json.RawMessage) error {
	if len(params) == 0 {
		params = json.RawMessage("{}")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.sql.Exec(
		"INSERT INTO param_history(ts, bot_name, strategy, params_json) VALUES(?,?,?,?)",
		time.Now().Unix(), botName, strategy, string(params))
	if err != nil {
		return fmt.Errorf("record params: %w", err)
	}
	return nil
}
