package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// Runtime settings keys. Values are JSON-encoded in the settings table.
const (
	SettingTradingPaused       = "trading_paused"
	SettingAutoRebalance       = "auto_rebalance_enabled"
	SettingExecutionMode       = "execution_mode"
	SettingTradingTimeframe    = "trading_timeframe"
	SettingNumActiveStrategies = "num_active_strategies"
	SettingCapitalLimitUSDT    = "capital_limit_usdt"
	SettingMinStrategyScore    = "min_strategy_score"
)

// GetSetting returns the raw JSON value for a key, or false if unset.
func (d *DB) GetSetting(key string) (json.RawMessage, bool) {
	var value string
	err := d.sql.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false
	}
	if err != nil {
		return nil, false
	}
	return json.RawMessage(value), true
}

// SetSetting JSON-encodes and stores a setting value.
func (d *DB) SetSetting(key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("set setting %s: %w", key, err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err = d.sql.Exec(`
		INSERT INTO settings(key, value) VALUES(?,?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value`,
		key, string(data))
	if err != nil {
		return fmt.Errorf("set setting %s: %w", key, err)
	}
	return nil
}

// DeleteSetting removes a setting key.
func (d *DB) DeleteSetting(key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.sql.Exec("DELETE FROM settings WHERE key = ?", key)
	return err
}

// SettingBool reads a boolean setting with a default.
func (d *DB) SettingBool(key string, def bool) bool {
	raw, ok := d.GetSetting(key)
	if !ok {
		return def
	}
	var v bool
	if err := json.Unmarshal(raw, &v); err != nil {
		return def
	}
	return v
}

// SettingFloat reads a numeric setting with a default.
func (d *DB) SettingFloat(key string, def float64) float64 {
	raw, ok := d.GetSetting(key)
	if !ok {
		return def
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return def
	}
	return v
}

// SettingInt reads an integer setting with a default.
func (d *DB) SettingInt(key string, def int) int {
	raw, ok := d.GetSetting(key)
	if !ok {
		return def
	}
	var v int
	if err := json.Unmarshal(raw, &v); err != nil {
		var f float64
		if err := json.Unmarshal(raw, &f); err != nil {
			return def
		}
		return int(f)
	}
	return v
}

// SettingString reads a string setting with a default.
func (d *DB) SettingString(key string, def string) string {
	raw, ok := d.GetSetting(key)
	if !ok {
		return def
	}
	var v string
	if err := json.Unmarshal(raw, &v); err != nil {
		return def
	}
	return v
}
