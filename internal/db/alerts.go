package db

import (
	"fmt"
	"time"
)

// PriceAlert is a one-shot price threshold watch.
type PriceAlert struct {
	ID          int64   `json:"id"`
	Symbol      string  `json:"symbol"`
	Condition   string  `json:"condition"` // above | below
	Price       float64 `json:"price"`
	CreatedTS   int64   `json:"created_ts"`
	TriggeredTS *int64  `json:"triggered_ts"`
	Active      bool    `json:"active"`
}

// CreatePriceAlert registers a new alert and returns its id.
func (d *DB) CreatePriceAlert(symbol, condition string, price float64) (int64, error) {
	if condition != "above" && condition != "below" {
		return 0, fmt.Errorf("invalid alert condition %q", condition)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	res, err := d.sql.Exec(
		"INSERT INTO price_alerts(symbol, condition, price, created_ts, active) VALUES(?,?,?,?,1)",
		symbol, condition, price, time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("create price alert: %w", err)
	}
	return res.LastInsertId()
}

// ListPriceAlerts returns alerts, optionally only active ones, newest first.
func (d *DB) ListPriceAlerts(activeOnly bool) ([]PriceAlert, error) {
	query := "SELECT id, symbol, condition, price, created_ts, triggered_ts, active FROM price_alerts"
	if activeOnly {
		query += " WHERE active = 1"
	}
	query += " ORDER BY id DESC"

	rows, err := d.sql.Query(query)
	if err != nil {
		return nil, fmt.Errorf("list price alerts: %w", err)
	}
	defer rows.Close()

	var out []PriceAlert
	for rows.Next() {
		var a PriceAlert
		var active int
		if err := rows.Scan(&a.ID, &a.Symbol, &a.Condition, &a.Price, &a.CreatedTS, &a.TriggeredTS, &active); err != nil {
			return nil, err
		}
		a.Active = active == 1
		out = append(out, a)
	}
	return out, rows.Err()
}

// MarkAlertTriggered deactivates an alert and stamps the trigger time.
func (d *DB) MarkAlertTriggered(id int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.sql.Exec(
		"UPDATE price_alerts SET active = 0, triggered_ts = ? WHERE id = ?",
		time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("mark alert triggered: %w", err)
	}
	return nil
}

// DeletePriceAlert removes an alert. Returns whether a row existed.
func (d *DB) DeletePriceAlert(id int64) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	res, err := d.sql.Exec("DELETE FROM price_alerts WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("delete price alert: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
