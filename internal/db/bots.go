package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// BotRow is the persisted snapshot of a worker.
type BotRow struct {
	Name               string          `json:"name"`
	Manager            string          `json:"manager"`
	Symbol             string          `json:"symbol"`
	TF                 string          `json:"tf"`
	Strategy           string          `json:"strategy"`
	Params             json.RawMessage `json:"params"`
	Allocation         float64         `json:"allocation"`
	StartingAllocation float64         `json:"starting_allocation"`
	Cash               float64         `json:"cash"`
	PosQty             float64         `json:"pos_qty"`
	AvgPrice           float64         `json:"avg_price"`
	Equity             float64         `json:"equity"`
	Score              float64         `json:"score"`
	Trades             int             `json:"trades"`
	UpdatedTS          int64           `json:"updated_ts"`
}

// UpsertBot inserts or updates a worker snapshot. A zero StartingAllocation
// means "keep whatever is already stored, or fall back to allocation" —
// starting_allocation is a fixed P&L baseline that rebalancing never moves.
func (d *DB) UpsertBot(b *BotRow) error {
	params := b.Params
	if len(params) == 0 {
		params = json.RawMessage("{}")
	}
	var startAlloc sql.NullFloat64
	if b.StartingAllocation > 0 {
		startAlloc = sql.NullFloat64{Float64: b.StartingAllocation, Valid: true}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.sql.Exec(`
		INSERT INTO bots(name, manager, symbol, tf, strategy, params_json, allocation, starting_allocation, cash, pos_qty, avg_price, equity, score, trades, updated_ts)
		VALUES(?,?,?,?,?,?,?,COALESCE(?, ?),?,?,?,?,?,?,?)
		ON CONFLICT(name) DO UPDATE SET
			manager=excluded.manager,
			symbol=excluded.symbol,
			tf=excluded.tf,
			strategy=excluded.strategy,
			params_json=excluded.params_json,
			allocation=excluded.allocation,
			starting_allocation=COALESCE(bots.starting_allocation, excluded.starting_allocation),
			cash=excluded.cash,
			pos_qty=excluded.pos_qty,
			avg_price=excluded.avg_price,
			equity=excluded.equity,
			score=excluded.score,
			trades=excluded.trades,
			updated_ts=excluded.updated_ts`,
		b.Name, nullStr(b.Manager), b.Symbol, b.TF, b.Strategy, string(params),
		b.Allocation, startAlloc, b.Allocation,
		b.Cash, b.PosQty, b.AvgPrice, b.Equity, b.Score, b.Trades, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert bot %s: %w", b.Name, err)
	}
	return nil
}

// LoadBots returns all persisted worker snapshots keyed by name.
func (d *DB) LoadBots() (map[string]*BotRow, error) {
	rows, err := d.sql.Query(`
		SELECT name, manager, symbol, tf, strategy, params_json, allocation, starting_allocation, cash, pos_qty, avg_price, equity, score, trades, updated_ts
		FROM bots`)
	if err != nil {
		return nil, fmt.Errorf("load bots: %w", err)
	}
	defer rows.Close()

	out := make(map[string]*BotRow)
	for rows.Next() {
		var b BotRow
		var manager sql.NullString
		var startAlloc sql.NullFloat64
		var params string
		if err := rows.Scan(&b.Name, &manager, &b.Symbol, &b.TF, &b.Strategy, &params,
			&b.Allocation, &startAlloc, &b.Cash, &b.PosQty, &b.AvgPrice, &b.Equity, &b.Score, &b.Trades, &b.UpdatedTS); err != nil {
			return nil, err
		}
		b.Manager = manager.String
		b.Params = json.RawMessage(params)
		if startAlloc.Valid {
			b.StartingAllocation = startAlloc.Float64
		} else {
			b.StartingAllocation = b.Allocation
		}
		out[b.Name] = &b
	}
	return out, rows.Err()
}

// EnsureBot creates a minimal bot row if none exists, so trades recorded
// under that name satisfy the foreign key. Used by manual trading.
func (d *DB) EnsureBot(name, symbol, tf string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.sql.Exec(`
		INSERT OR IGNORE INTO bots(name, manager, symbol, tf, strategy, params_json, allocation, starting_allocation, cash, pos_qty, avg_price, equity, score, trades, updated_ts)
		VALUES(?, NULL, ?, ?, 'Manual', '{}', 0, 0, 0, 0, 0, 0, 0, 0, ?)`,
		name, symbol, tf, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("ensure bot %s: %w", name, err)
	}
	return nil
}

// DeleteBot removes a worker snapshot; its trades go with it (cascade).
func (d *DB) DeleteBot(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.sql.Exec("DELETE FROM bots WHERE name = ?", name)
	return err
}

// ResetCounts reports what a testing reset removed.
type ResetCounts struct {
	TradesDeleted int `json:"trades_deleted"`
	EquityDeleted int `json:"equity_deleted"`
	BotsReset     int `json:"bots_reset"`
}

// ResetForTesting wipes the trade log and equity history and rewinds every
// bot to its starting allocation. Callers must hold the pause gate.
func (d *DB) ResetForTesting() (*ResetCounts, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	tx, err := d.sql.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var out ResetCounts
	res, err := tx.Exec("DELETE FROM trades")
	if err != nil {
		return nil, fmt.Errorf("reset trades: %w", err)
	}
	n, _ := res.RowsAffected()
	out.TradesDeleted = int(n)

	res, err = tx.Exec("DELETE FROM equity_history")
	if err != nil {
		return nil, fmt.Errorf("reset equity history: %w", err)
	}
	n, _ = res.RowsAffected()
	out.EquityDeleted = int(n)

	res, err = tx.Exec(`
		UPDATE bots SET
			allocation = starting_allocation,
			cash       = starting_allocation,
			pos_qty    = 0,
			avg_price  = 0,
			equity     = starting_allocation,
			score      = 0,
			trades     = 0,
			updated_ts = ?`, time.Now().Unix())
	if err != nil {
		return nil, fmt.Errorf("reset bots: %w", err)
	}
	n, _ = res.RowsAffected()
	out.BotsReset = int(n)

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &out, nil
}

func nullStr(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
