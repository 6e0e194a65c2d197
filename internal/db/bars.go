package db

import (
	"fmt"
	"strings"
)

// BarRow is one cached OHLCV sample.
type BarRow struct {
	TS     int64   `json:"ts"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
	Source string  `json:"source,omitempty"`
}

// StoreBars caches historical bars, ignoring duplicates on (symbol, tf, ts).
func (d *DB) StoreBars(symbol, timeframe string, bars []BarRow, source string) error {
	if len(bars) == 0 {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	tx, err := d.sql.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		"INSERT OR IGNORE INTO bars(symbol, timeframe, ts, open, high, low, close, volume, source) VALUES(?,?,?,?,?,?,?,?,?)")
	if err != nil {
		return fmt.Errorf("store bars: %w", err)
	}
	defer stmt.Close()

	for _, b := range bars {
		if _, err := stmt.Exec(symbol, timeframe, b.TS, b.Open, b.High, b.Low, b.Close, b.Volume, source); err != nil {
			return fmt.Errorf("store bars: %w", err)
		}
	}
	return tx.Commit()
}

// GetBars returns cached bars oldest first, optionally bounded by [startTS, endTS]
// (zero means unbounded) and a row limit (zero means no limit).
func (d *DB) GetBars(symbol, timeframe string, startTS, endTS int64, limit int) ([]BarRow, error) {
	sqlParts := []string{"SELECT ts, open, high, low, close, volume, source FROM bars WHERE symbol = ? AND timeframe = ?"}
	args := []interface{}{symbol, timeframe}
	if startTS > 0 {
		sqlParts = append(sqlParts, "AND ts >= ?")
		args = append(args, startTS)
	}
	if endTS > 0 {
		sqlParts = append(sqlParts, "AND ts <= ?")
		args = append(args, endTS)
	}
	sqlParts = append(sqlParts, "ORDER BY ts ASC")
	if limit > 0 {
		sqlParts = append(sqlParts, "LIMIT ?")
		args = append(args, limit)
	}

	rows, err := d.sql.Query(strings.Join(sqlParts, " "), args...)
	if err != nil {
		return nil, fmt.Errorf("get bars: %w", err)
	}
	defer rows.Close()

	var out []BarRow
	for rows.Next() {
		var b BarRow
		if err := rows.Scan(&b.TS, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume, &b.Source); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// GetRecentBars returns the newest `limit` cached bars, oldest first.
func (d *DB) GetRecentBars(symbol, timeframe string, limit int) ([]BarRow, error) {
	rows, err := d.sql.Query(
		"SELECT ts, open, high, low, close, volume, source FROM bars WHERE symbol = ? AND timeframe = ? ORDER BY ts DESC LIMIT ?",
		symbol, timeframe, limit)
	if err != nil {
		return nil, fmt.Errorf("recent bars: %w", err)
	}
	defer rows.Close()

	var out []BarRow
	for rows.Next() {
		var b BarRow
		if err := rows.Scan(&b.TS, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume, &b.Source); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// BarCoverage describes the cached range for a (symbol, timeframe).
type BarCoverage struct {
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe"`
	StartTS   int64  `json:"start_ts"`
	EndTS     int64  `json:"end_ts"`
	Count     int    `json:"count"`
}

// GetBarCoverage reports the cached bar range, or nil if nothing is cached.
func (d *DB) GetBarCoverage(symbol, timeframe string) (*BarCoverage, error) {
	var start, end *int64
	var count int
	err := d.sql.QueryRow(
		"SELECT MIN(ts), MAX(ts), COUNT(*) FROM bars WHERE symbol = ? AND timeframe = ?",
		symbol, timeframe).Scan(&start, &end, &count)
	if err != nil {
		return nil, fmt.Errorf("bar coverage: %w", err)
	}
	if count == 0 || start == nil || end == nil {
		return nil, nil
	}
	return &BarCoverage{Symbol: symbol, Timeframe: timeframe, StartTS: *start, EndTS: *end, Count: count}, nil
}
