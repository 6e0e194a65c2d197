package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

// OptimizationResult is one ranked grid-sweep outcome.
type OptimizationResult struct {
	ID          int64           `json:"id"`
	Strategy    string          `json:"strategy"`
	Symbol      string          `json:"symbol"`
	Timeframe   string          `json:"timeframe"`
	Params      json.RawMessage `json:"params"`
	Score       float64         `json:"score"`
	TotalReturn float64         `json:"total_return"`
	SharpeRatio float64         `json:"sharpe_ratio"`
	MaxDrawdown float64         `json:"max_drawdown"`
	TotalTrades int             `json:"total_trades"`
	WinRate     float64         `json:"win_rate"`
	Days        int             `json:"days"`
	TestedTS    int64           `json:"tested_ts"`
}

// SaveOptimizationResult upserts a result keyed by (strategy, symbol,
// timeframe, params) so repeated sweeps refresh rather than duplicate.
func (d *DB) SaveOptimizationResult(r *OptimizationResult) error {
	params := r.Params
	if len(params) == 0 {
		params = json.RawMessage("{}")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.sql.Exec(`
		INSERT INTO optimization_results(strategy, symbol, timeframe, params_json, score,
			total_return, sharpe_ratio, max_drawdown, total_trades, win_rate, days, tested_ts)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(strategy, symbol, timeframe, params_json) DO UPDATE SET
			score=excluded.score,
			total_return=excluded.total_return,
			sharpe_ratio=excluded.sharpe_ratio,
			max_drawdown=excluded.max_drawdown,
			total_trades=excluded.total_trades,
			win_rate=excluded.win_rate,
			days=excluded.days,
			tested_ts=excluded.tested_ts`,
		r.Strategy, r.Symbol, r.Timeframe, string(params), r.Score,
		r.TotalReturn, r.SharpeRatio, r.MaxDrawdown, r.TotalTrades, r.WinRate, r.Days, r.TestedTS)
	if err != nil {
		return fmt.Errorf("save optimization result: %w", err)
	}
	return nil
}

// ListOptimizationResults returns ranked results, best score first.
func (d *DB) ListOptimizationResults(strategy, symbol string, limit int) ([]OptimizationResult, error) {
	if limit <= 0 {
		limit = 100
	}
	sqlParts := []string{`
		SELECT id, strategy, symbol, timeframe, params_json, score,
		       total_return, sharpe_ratio, max_drawdown, total_trades, win_rate, days, tested_ts
		FROM optimization_results
		WHERE 1=1`}
	var args []interface{}
	if strategy != "" {
		sqlParts = append(sqlParts, "AND strategy = ?")
		args = append(args, strategy)
	}
	if symbol != "" {
		sqlParts = append(sqlParts, "AND symbol = ?")
		args = append(args, symbol)
	}
	sqlParts = append(sqlParts, "ORDER BY score DESC LIMIT ?")
	args = append(args, limit)

	rows, err := d.sql.Query(strings.Join(sqlParts, " "), args...)
	if err != nil {
		return nil, fmt.Errorf("list optimization results: %w", err)
	}
	defer rows.Close()

	var out []OptimizationResult
	for rows.Next() {
		var r OptimizationResult
		var params string
		if err := rows.Scan(&r.ID, &r.Strategy, &r.Symbol, &r.Timeframe, &params, &r.Score,
			&r.TotalReturn, &r.SharpeRatio, &r.MaxDrawdown, &r.TotalTrades, &r.WinRate, &r.Days, &r.TestedTS); err != nil {
			return nil, err
		}
		r.Params = json.RawMessage(params)
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetOptimizationResult fetches one result by id, or nil.
func (d *DB) GetOptimizationResult(id int64) (*OptimizationResult, error) {
	var r OptimizationResult
	var params string
	err := d.sql.QueryRow(`
		SELECT id, strategy, symbol, timeframe, params_json, score,
		       total_return, sharpe_ratio, max_drawdown, total_trades, win_rate, days, tested_ts
		FROM optimization_results WHERE id = ?`, id).Scan(
		&r.ID, &r.Strategy, &r.Symbol, &r.Timeframe, &params, &r.Score,
		&r.TotalReturn, &r.SharpeRatio, &r.MaxDrawdown, &r.TotalTrades, &r.WinRate, &r.Days, &r.TestedTS)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get optimization result: %w", err)
	}
	r.Params = json.RawMessage(params)
	return &r, nil
}

// EvolvedStrategy is one genome ranked by the genetic evolver.
type EvolvedStrategy struct {
	ID          int64           `json:"id"`
	Genome      json.RawMessage `json:"genome"`
	Symbol      string          `json:"symbol"`
	Timeframe   string          `json:"timeframe"`
	Score       float64         `json:"score"`
	TotalReturn float64         `json:"total_return"`
	SharpeRatio float64         `json:"sharpe_ratio"`
	MaxDrawdown float64         `json:"max_drawdown"`
	TotalTrades int             `json:"total_trades"`
	WinRate     float64         `json:"win_rate"`
	Generation  int             `json:"generation"`
	Days        int             `json:"days"`
	TestedTS    int64           `json:"tested_ts"`
}

// SaveEvolvedStrategy appends a ranked genome for one generation.
func (d *DB) SaveEvolvedStrategy(e *EvolvedStrategy) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	res, err := d.sql.Exec(`
		INSERT INTO evolved_strategies(genome_json, symbol, timeframe, score,
			total_return, sharpe_ratio, max_drawdown, total_trades, win_rate, generation, days, tested_ts)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`,
		string(e.Genome), e.Symbol, e.Timeframe, e.Score,
		e.TotalReturn, e.SharpeRatio, e.MaxDrawdown, e.TotalTrades, e.WinRate, e.Generation, e.Days, e.TestedTS)
	if err != nil {
		return 0, fmt.Errorf("save evolved strategy: %w", err)
	}
	return res.LastInsertId()
}

// ListEvolvedStrategies returns ranked genomes, best score first.
// minScore filters when non-nil; symbol filters when non-empty.
func (d *DB) ListEvolvedStrategies(symbol string, minScore *float64, limit int) ([]EvolvedStrategy, error) {
	if limit <= 0 {
		limit = 100
	}
	sqlParts := []string{`
		SELECT id, genome_json, symbol, timeframe, score,
		       total_return, sharpe_ratio, max_drawdown, total_trades, win_rate, generation, days, tested_ts
		FROM evolved_strategies
		WHERE 1=1`}
	var args []interface{}
	if symbol != "" {
		sqlParts = append(sqlParts, "AND symbol = ?")
		args = append(args, symbol)
	}
	if minScore != nil {
		sqlParts = append(sqlParts, "AND score >= ?")
		args = append(args, *minScore)
	}
	sqlParts = append(sqlParts, "ORDER BY score DESC LIMIT ?")
	args = append(args, limit)

	rows, err := d.sql.Query(strings.Join(sqlParts, " "), args...)
	if err != nil {
		return nil, fmt.Errorf("list evolved strategies: %w", err)
	}
	defer rows.Close()

	var out []EvolvedStrategy
	for rows.Next() {
		var e EvolvedStrategy
		var genome string
		if err := rows.Scan(&e.ID, &genome, &e.Symbol, &e.Timeframe, &e.Score,
			&e.TotalReturn, &e.SharpeRatio, &e.MaxDrawdown, &e.TotalTrades, &e.WinRate, &e.Generation, &e.Days, &e.TestedTS); err != nil {
			return nil, err
		}
		e.Genome = json.RawMessage(genome)
		out = append(out, e)
	}
	return out, rows.Err()
}

// TopEvolvedForPortfolio returns the best N genomes across all symbols with
// score above minScore, for the live portfolio build.
func (d *DB) TopEvolvedForPortfolio(n int, minScore float64) ([]EvolvedStrategy, error) {
	return d.ListEvolvedStrategies("", &minScore, n)
}

// GetEvolvedStrategy fetches one genome by id, or nil.
func (d *DB) GetEvolvedStrategy(id int64) (*EvolvedStrategy, error) {
	var e EvolvedStrategy
	var genome string
	err := d.sql.QueryRow(`
		SELECT id, genome_json, symbol, timeframe, score,
		       total_return, sharpe_ratio, max_drawdown, total_trades, win_rate, generation, days, tested_ts
		FROM evolved_strategies WHERE id = ?`, id).Scan(
		&e.ID, &genome, &e.Symbol, &e.Timeframe, &e.Score,
		&e.TotalReturn, &e.SharpeRatio, &e.MaxDrawdown, &e.TotalTrades, &e.WinRate, &e.Generation, &e.Days, &e.TestedTS)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get evolved strategy: %w", err)
	}
	e.Genome = json.RawMessage(genome)
	return &e, nil
}
