package db

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Trade is one append-only fill record. Trades are never mutated after insert.
type Trade struct {
	ID      int64   `json:"id"`
	TS      int64   `json:"ts"`
	Bot     string  `json:"bot"`
	Manager string  `json:"manager"`
	Symbol  string  `json:"symbol"`
	Side    string  `json:"side"`
	Qty     float64 `json:"qty"`
	Price   float64 `json:"price"`
	Fee     float64 `json:"fee"`
	IsMaker bool    `json:"is_maker"`
}

// RecordTrade appends a fill to the trade log. A zero ts means "now".
func (d *DB) RecordTrade(botName, symbol, side string, qty, price, fee float64, isMaker bool, ts int64) error {
	if ts == 0 {
		ts = time.Now().Unix()
	}
	maker := 0
	if isMaker {
		maker = 1
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.sql.Exec(
		"INSERT INTO trades(ts, bot_name, symbol, side, qty, price, fee, is_maker) VALUES(?,?,?,?,?,?,?,?)",
		ts, botName, symbol, side, qty, price, fee, maker,
	)
	if err != nil {
		return fmt.Errorf("record trade: %w", err)
	}
	return nil
}

// TradeFilter narrows trade queries. Zero values mean "no filter".
type TradeFilter struct {
	Limit   int
	SinceID int64
	Bot     string
	Symbol  string
	Manager string
}

// ListTrades returns recent trades, most recent first.
func (d *DB) ListTrades(f TradeFilter) ([]Trade, error) {
	if f.Limit <= 0 {
		f.Limit = 100
	}
	sqlParts := []string{
		"SELECT t.id, t.ts, t.bot_name, b.manager, t.symbol, t.side, t.qty, t.price, t.fee, t.is_maker",
		"FROM trades t LEFT JOIN bots b ON b.name = t.bot_name",
		"WHERE 1=1",
	}
	var args []interface{}
	if f.SinceID > 0 {
		sqlParts = append(sqlParts, "AND t.id > ?")
		args = append(args, f.SinceID)
	}
	if f.Bot != "" {
		sqlParts = append(sqlParts, "AND t.bot_name = ?")
		args = append(args, f.Bot)
	}
	if f.Symbol != "" {
		sqlParts = append(sqlParts, "AND t.symbol = ?")
		args = append(args, f.Symbol)
	}
	if f.Manager != "" {
		sqlParts = append(sqlParts, "AND b.manager = ?")
		args = append(args, f.Manager)
	}
	sqlParts = append(sqlParts, "ORDER BY t.id DESC LIMIT ?")
	args = append(args, f.Limit)

	rows, err := d.sql.Query(strings.Join(sqlParts, " "), args...)
	if err != nil {
		return nil, fmt.Errorf("list trades: %w", err)
	}
	defer rows.Close()

	var out []Trade
	for rows.Next() {
		var t Trade
		var manager sql.NullString
		var maker int
		if err := rows.Scan(&t.ID, &t.TS, &t.Bot, &manager, &t.Symbol, &t.Side, &t.Qty, &t.Price, &t.Fee, &maker); err != nil {
			return nil, err
		}
		t.Manager = manager.String
		t.IsMaker = maker == 1
		out = append(out, t)
	}
	return out, rows.Err()
}

// TradeCounts returns the number of trades per bot.
func (d *DB) TradeCounts() (map[string]int, error) {
	rows, err := d.sql.Query("SELECT bot_name, COUNT(*) FROM trades GROUP BY bot_name")
	if err != nil {
		return nil, fmt.Errorf("trade counts: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var name string
		var n int
		if err := rows.Scan(&name, &n); err != nil {
			return nil, err
		}
		out[name] = n
	}
	return out, rows.Err()
}

// FeeStats summarizes trading costs with a maker/taker split.
type FeeStats struct {
	TotalTrades   int     `json:"total_trades"`
	TotalFees     float64 `json:"total_fees"`
	MakerFees     float64 `json:"maker_fees"`
	TakerFees     float64 `json:"taker_fees"`
	MakerCount    int     `json:"maker_count"`
	TakerCount    int     `json:"taker_count"`
	MakerRatio    float64 `json:"maker_ratio"`
	TotalVolume   float64 `json:"total_volume"`
	FeePercentage float64 `json:"fee_percentage"`
}

// FeeStatistics returns aggregated fee numbers, optionally filtered by
// bot or manager.
func (d *DB) FeeStatistics(bot, manager string) (*FeeStats, error) {
	sqlParts := []string{`
		SELECT COUNT(*),
		       COALESCE(SUM(t.fee), 0),
		       COALESCE(SUM(CASE WHEN t.is_maker = 1 THEN t.fee ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN t.is_maker = 0 THEN t.fee ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN t.is_maker = 1 THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN t.is_maker = 0 THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(t.qty * t.price), 0)
		FROM trades t LEFT JOIN bots b ON b.name = t.bot_name
		WHERE 1=1`}
	var args []interface{}
	if bot != "" {
		sqlParts = append(sqlParts, "AND t.bot_name = ?")
		args = append(args, bot)
	}
	if manager != "" {
		sqlParts = append(sqlParts, "AND b.manager = ?")
		args = append(args, manager)
	}

	var s FeeStats
	err := d.sql.QueryRow(strings.Join(sqlParts, " "), args...).Scan(
		&s.TotalTrades, &s.TotalFees, &s.MakerFees, &s.TakerFees, &s.MakerCount, &s.TakerCount, &s.TotalVolume)
	if err != nil {
		return nil, fmt.Errorf("fee statistics: %w", err)
	}
	if s.TotalTrades > 0 {
		s.MakerRatio = float64(s.MakerCount) / float64(s.TotalTrades)
	}
	if s.TotalVolume > 0 {
		s.FeePercentage = s.TotalFees / s.TotalVolume * 100
	}
	return &s, nil
}
