package db

import (
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"
)

const qtyEpsilon = 1e-12

// stablecoin-vs-stablecoin pairs carry no meaningful P&L
var stablecoinPairs = map[string]bool{
	"USDC_USDT": true,
	"BUSD_USDT": true,
	"USDT_USDC": true,
	"USDT_BUSD": true,
}

// RoundTrip is a matched (or partially matched) pair of opposite-side fills.
// Round-trips are derived from the trade log and never stored.
type RoundTrip struct {
	Bot        string  `json:"bot"`
	Manager    string  `json:"manager"`
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side"` // LONG | SHORT
	Qty        float64 `json:"qty"`
	EntryPrice float64 `json:"entry_price"`
	ExitPrice  float64 `json:"exit_price"`
	PnL        float64 `json:"pnl"`
	PnLPct     float64 `json:"pnl_pct"`
	OpenTS     int64   `json:"open_ts"`
	CloseTS    int64   `json:"close_ts"`
	DurationS  int64   `json:"duration_s"`
}

// RoundtripFilter narrows round-trip reconstruction. FeeBps, when non-zero,
// applies a per-side fee-as-slippage adjustment to effective prices.
type RoundtripFilter struct {
	Limit   int
	Bot     string
	Symbol  string
	Manager string
	FeeBps  float64
}

type lot struct {
	openTS  int64
	side    string
	qty     float64
	px      float64
	manager string
}

// ListRoundtrips reconstructs closed round-trips from raw trades with FIFO
// lot matching. Partial closes produce round-trips even if the bot never
// goes net-flat; a crossing trade flips the position into a fresh lot.
// Output is most-recent-close first, truncated to the limit.
func (d *DB) ListRoundtrips(f RoundtripFilter) ([]RoundTrip, error) {
	if f.Limit <= 0 {
		f.Limit = 100
	}
	sqlParts := []string{
		"SELECT t.ts, t.bot_name, b.manager, t.symbol, t.side, t.qty, t.price",
		"FROM trades t LEFT JOIN bots b ON b.name = t.bot_name",
		"WHERE 1=1",
	}
	var args []interface{}
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
	sqlParts = append(sqlParts, "ORDER BY t.id ASC")

	rows, err := d.sql.Query(strings.Join(sqlParts, " "), args...)
	if err != nil {
		return nil, fmt.Errorf("list roundtrips: %w", err)
	}
	defer rows.Close()

	type rawTrade struct {
		ts      int64
		manager string
		side    string
		qty     float64
		price   float64
	}
	type groupKey struct{ bot, symbol string }

	groups := make(map[groupKey][]rawTrade)
	var order []groupKey // first-seen order keeps output deterministic
	for rows.Next() {
		var ts int64
		var bot, symbol, side string
		var manager sql.NullString
		var qty, price float64
		if err := rows.Scan(&ts, &bot, &manager, &symbol, &side, &qty, &price); err != nil {
			return nil, err
		}
		k := groupKey{bot, symbol}
		if _, seen := groups[k]; !seen {
			order = append(order, k)
		}
		groups[k] = append(groups[k], rawTrade{ts, manager.String, strings.ToUpper(side), qty, price})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	feeRate := f.FeeBps / 10000.0
	var out []RoundTrip

	for _, k := range order {
		var lots []lot
		for _, t := range groups[k] {
			if t.qty <= 0 {
				continue
			}
			pxEff := t.price * (1 + feeRate)
			if t.side == "SELL" {
				pxEff = t.price * (1 - feeRate)
			}

			if len(lots) == 0 || lots[0].side == t.side {
				lots = append(lots, lot{t.ts, t.side, t.qty, pxEff, t.manager})
				continue
			}

			remain := t.qty
			for remain > qtyEpsilon && len(lots) > 0 && lots[0].side != t.side {
				head := &lots[0]
				take := head.qty
				if remain < take {
					take = remain
				}
				head.qty -= take
				remain -= take

				sideLabel := "SHORT"
				if head.side == "BUY" {
					sideLabel = "LONG"
				}
				pnl := (pxEff - head.px) * take
				pnlPct := (pxEff - head.px) / head.px
				if sideLabel == "SHORT" {
					pnl = (head.px - pxEff) * take
					pnlPct = (head.px - pxEff) / head.px
				}
				out = append(out, RoundTrip{
					Bot:        k.bot,
					Manager:    head.manager,
					Symbol:     k.symbol,
					Side:       sideLabel,
					Qty:        take,
					EntryPrice: head.px,
					ExitPrice:  pxEff,
					PnL:        pnl,
					PnLPct:     pnlPct,
					OpenTS:     head.openTS,
					CloseTS:    t.ts,
					DurationS:  t.ts - head.openTS,
				})
				if head.qty <= qtyEpsilon {
					lots = lots[1:]
				}
			}
			// leftover quantity opens a fresh lot (position flip)
			if remain > qtyEpsilon {
				lots = append(lots, lot{t.ts, t.side, remain, pxEff, t.manager})
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].CloseTS > out[j].CloseTS })
	if len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// OpenPosition is the net unclosed exposure of a (bot, symbol) pair.
type OpenPosition struct {
	Bot        string   `json:"bot"`
	Manager    string   `json:"manager"`
	Symbol     string   `json:"symbol"`
	Side       string   `json:"side"` // LONG | SHORT
	Qty        float64  `json:"qty"`
	AvgCost    float64  `json:"avg_cost"`
	OpenTS     int64    `json:"open_ts"`
	Unrealized *float64 `json:"unrealized"`
}

// PositionFilter narrows open-position queries. MarkPrices, when provided,
// adds unrealized P&L against the given symbol marks.
type PositionFilter struct {
	Bot        string
	Symbol     string
	Manager    string
	MarkPrices map[string]float64
}

// ListOpenPositions nets the trade log per (bot, symbol) and reports the
// remaining exposure with a VWAP entry cost.
func (d *DB) ListOpenPositions(f PositionFilter) ([]OpenPosition, error) {
	sqlParts := []string{
		"SELECT t.ts, t.bot_name, b.manager, t.symbol, t.side, t.qty, t.price",
		"FROM trades t LEFT JOIN bots b ON b.name = t.bot_name",
		"WHERE 1=1",
	}
	var args []interface{}
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
	sqlParts = append(sqlParts, "ORDER BY t.id ASC")

	rows, err := d.sql.Query(strings.Join(sqlParts, " "), args...)
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	defer rows.Close()

	type posAcc struct {
		bot, manager, symbol string
		netQty               float64
		entryQty             float64
		entryCost            float64
		openTS               int64
	}
	type groupKey struct{ bot, symbol string }
	acc := make(map[groupKey]*posAcc)

	for rows.Next() {
		var ts int64
		var bot, symbol, side string
		var manager sql.NullString
		var qty, price float64
		if err := rows.Scan(&ts, &bot, &manager, &symbol, &side, &qty, &price); err != nil {
			return nil, err
		}
		side = strings.ToUpper(side)
		k := groupKey{bot, symbol}
		p, ok := acc[k]
		if !ok {
			p = &posAcc{bot: bot, manager: manager.String, symbol: symbol, openTS: ts}
			acc[k] = p
		}
		signed := qty
		if side == "SELL" {
			signed = -qty
		}
		prev := p.netQty
		p.netQty = prev + signed
		if prev == 0 {
			p.openTS = ts
		}
		// adds grow the VWAP basis, reductions remove at the current average
		if (p.netQty >= 0 && side == "BUY") || (p.netQty < 0 && side == "SELL") {
			p.entryQty += qty
			p.entryCost += qty * price
		} else {
			reduce := qty
			if reduce > p.entryQty {
				reduce = p.entryQty
			}
			if reduce > 0 && p.entryQty > 0 {
				avg := p.entryCost / p.entryQty
				p.entryQty -= reduce
				p.entryCost -= reduce * avg
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var out []OpenPosition
	for _, p := range acc {
		if p.netQty > -qtyEpsilon && p.netQty < qtyEpsilon {
			continue
		}
		side := "LONG"
		qty := p.netQty
		if p.netQty < 0 {
			side = "SHORT"
			qty = -p.netQty
		}
		avgCost := 0.0
		if p.entryQty > 0 {
			avgCost = p.entryCost / p.entryQty
		}
		pos := OpenPosition{
			Bot:     p.bot,
			Manager: p.manager,
			Symbol:  p.symbol,
			Side:    side,
			Qty:     qty,
			AvgCost: avgCost,
			OpenTS:  p.openTS,
		}
		if mark, ok := f.MarkPrices[p.symbol]; ok {
			u := (mark - avgCost) * qty
			if side == "SHORT" {
				u = (avgCost - mark) * qty
			}
			pos.Unrealized = &u
		}
		out = append(out, pos)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].OpenTS != out[j].OpenTS {
			return out[i].OpenTS > out[j].OpenTS
		}
		if out[i].Bot != out[j].Bot {
			return out[i].Bot < out[j].Bot
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out, nil
}

// RealizedPnL sums round-trip P&L, skipping stablecoin conversion pairs
// when excludeStables is set.
func (d *DB) RealizedPnL(excludeStables bool) (float64, error) {
	rts, err := d.ListRoundtrips(RoundtripFilter{Limit: 100000})
	if err != nil {
		return 0, err
	}
	total := 0.0
	for _, rt := range rts {
		if excludeStables && stablecoinPairs[rt.Symbol] {
			continue
		}
		total += rt.PnL
	}
	return total, nil
}

// TodaysPnL sums round-trip P&L closed since midnight in Sydney.
func (d *DB) TodaysPnL() (float64, error) {
	loc, err := time.LoadLocation("Australia/Sydney")
	if err != nil {
		loc = time.UTC
	}
	now := time.Now().In(loc)
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc).Unix()

	rts, err := d.ListRoundtrips(RoundtripFilter{Limit: 100000})
	if err != nil {
		return 0, err
	}
	total := 0.0
	for _, rt := range rts {
		if rt.CloseTS < dayStart || stablecoinPairs[rt.Symbol] {
			continue
		}
		total += rt.PnL
	}
	return total, nil
}
