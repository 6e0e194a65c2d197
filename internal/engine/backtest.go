package engine

import (
	"fmt"
	"math"

	"tradebot/internal/market"
	"tradebot/internal/strategy"
)

// Backtester replays a strategy over historical bars with the same sizing
// rules the live workers use.
type Backtester struct {
	InitialCapital float64
	MinNotional    float64
	CommissionRate float64

	equityCurve []EquityPoint
	trades      []BacktestTrade
}

// EquityPoint is one (bar, equity) sample of the simulated account.
type EquityPoint struct {
	TS     int64   `json:"ts"`
	Equity float64 `json:"equity"`
}

// BacktestTrade is one simulated fill.
type BacktestTrade struct {
	TS    int64   `json:"ts"`
	Side  string  `json:"side"`
	Qty   float64 `json:"qty"`
	Price float64 `json:"price"`
	Fee   float64 `json:"fee"`
}

// BacktestRoundTrip pairs an entry with its exit for P&L reporting.
type BacktestRoundTrip struct {
	EntryTS    int64   `json:"entry_ts"`
	ExitTS     int64   `json:"exit_ts"`
	Side       string  `json:"side"`
	Qty        float64 `json:"qty"`
	EntryPrice float64 `json:"entry_price"`
	ExitPrice  float64 `json:"exit_price"`
	PnL        float64 `json:"pnl"`
}

// BacktestMetrics summarizes a completed run.
type BacktestMetrics struct {
	TotalReturnPct     float64 `json:"total_return_pct"`
	Sharpe             float64 `json:"sharpe"`
	MaxDrawdownPct     float64 `json:"max_drawdown_pct"`
	WinRatePct         float64 `json:"win_rate_pct"`
	ProfitFactor       float64 `json:"profit_factor"`
	TotalTrades        int     `json:"total_trades"`
	RoundTrips         int     `json:"round_trips"`
	WinningTrades      int     `json:"winning_trades"`
	LosingTrades       int     `json:"losing_trades"`
	AvgWin             float64 `json:"avg_win"`
	AvgLoss            float64 `json:"avg_loss"`
	AvgTrade           float64 `json:"avg_trade"`
	MaxConsecutiveLoss int     `json:"max_consecutive_losses"`
	FinalEquity        float64 `json:"final_equity"`
	Days               float64 `json:"days"`
}

const backtestLookback = 200

func NewBacktester(initialCapital, minNotional, commissionRate float64) *Backtester {
	if initialCapital <= 0 {
		initialCapital = 1000
	}
	if minNotional <= 0 {
		minNotional = MinNotional
	}
	return &Backtester{
		InitialCapital: initialCapital,
		MinNotional:    minNotional,
		CommissionRate: commissionRate,
	}
}

// Run replays strat over [startTS, endTS] bars of symbol/tf. Each bar the
// strategy sees a trailing window and the simulated account trades toward
// its target exposure, long-only on cash like the live workers.
func (b *Backtester) Run(strat strategy.Strategy, provider market.DataProvider,
	symbol, tf string, startTS, endTS int64) (*BacktestMetrics, error) {

	tfSec, err := market.TFSeconds(tf)
	if err != nil {
		return nil, err
	}

	all, err := provider.History(symbol, tf, 1000)
	if err != nil {
		return nil, fmt.Errorf("backtest %s %s: %w", symbol, tf, err)
	}
	var bars []market.Bar
	for _, bar := range all {
		if bar.TS >= startTS && bar.TS <= endTS {
			bars = append(bars, bar)
		}
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("backtest %s %s: no bars in range", symbol, tf)
	}

	cash := b.InitialCapital
	var posQty float64

	b.equityCurve = b.equityCurve[:0]
	b.trades = b.trades[:0]

	for i := range bars {
		lo := i - backtestLookback + 1
		if lo < 0 {
			lo = 0
		}
		window := bars[lo : i+1]
		price := bars[i].Close
		if price <= 0 {
			continue
		}

		targetExp := strat.OnBar(window)
		equity := cash + posQty*price
		targetQty := equity * targetExp / price
		delta := targetQty - posQty

		if math.Abs(delta)*price >= b.MinNotional {
			side := "buy"
			qty := delta
			if delta < 0 {
				side = "sell"
				qty = -delta
			}
			if side == "buy" && qty*price > cash {
				qty = cash / price
			}
			if qty*price >= b.MinNotional {
				fee := qty * price * b.CommissionRate
				if side == "buy" {
					cash -= qty*price + fee
					posQty += qty
				} else {
					cash += qty*price - fee
					posQty -= qty
				}
				b.trades = append(b.trades, BacktestTrade{TS: bars[i].TS, Side: side, Qty: qty, Price: price, Fee: fee})
			}
		}

		b.equityCurve = append(b.equityCurve, EquityPoint{TS: bars[i].TS, Equity: cash + posQty*price})
	}

	return b.metrics(tfSec), nil
}

// EquityCurve returns the per-bar equity samples of the last run.
func (b *Backtester) EquityCurve() []EquityPoint { return b.equityCurve }

// TradeList returns the simulated fills of the last run.
func (b *Backtester) TradeList() []BacktestTrade { return b.trades }

// RoundTrips pairs the last run's fills sequentially into closed positions.
func (b *Backtester) RoundTrips() []BacktestRoundTrip {
	return pairRoundTrips(b.trades)
}

func (b *Backtester) metrics(tfSec int64) *BacktestMetrics {
	m := &BacktestMetrics{FinalEquity: b.InitialCapital}
	if len(b.equityCurve) == 0 {
		return m
	}
	final := b.equityCurve[len(b.equityCurve)-1].Equity
	m.FinalEquity = final
	m.TotalReturnPct = (final - b.InitialCapital) / b.InitialCapital * 100
	m.TotalTrades = len(b.trades)
	m.Days = float64(len(b.equityCurve)) * float64(tfSec) / 86400

	// annualized Sharpe over per-bar returns
	var rets []float64
	prev := b.InitialCapital
	for _, p := range b.equityCurve {
		if prev > 0 {
			rets = append(rets, (p.Equity-prev)/prev)
		}
		prev = p.Equity
	}
	if len(rets) > 1 {
		var sum float64
		for _, r := range rets {
			sum += r
		}
		mean := sum / float64(len(rets))
		var variance float64
		for _, r := range rets {
			variance += (r - mean) * (r - mean)
		}
		variance /= float64(len(rets))
		std := math.Sqrt(variance)
		if std > 0 {
			periodsPerYear := float64(365*86400) / float64(tfSec)
			m.Sharpe = mean / std * math.Sqrt(periodsPerYear)
		}
	}

	peak := b.InitialCapital
	for _, p := range b.equityCurve {
		if p.Equity > peak {
			peak = p.Equity
		}
		if peak > 0 {
			dd := (peak - p.Equity) / peak * 100
			if dd > m.MaxDrawdownPct {
				m.MaxDrawdownPct = dd
			}
		}
	}

	rts := b.RoundTrips()
	m.RoundTrips = len(rts)
	var grossWin, grossLoss, totalPnL float64
	consecutive := 0
	for _, rt := range rts {
		totalPnL += rt.PnL
		if rt.PnL > 0 {
			m.WinningTrades++
			grossWin += rt.PnL
			consecutive = 0
		} else {
			m.LosingTrades++
			grossLoss += -rt.PnL
			consecutive++
			if consecutive > m.MaxConsecutiveLoss {
				m.MaxConsecutiveLoss = consecutive
			}
		}
	}
	if len(rts) > 0 {
		m.WinRatePct = float64(m.WinningTrades) / float64(len(rts)) * 100
		m.AvgTrade = totalPnL / float64(len(rts))
	}
	if m.WinningTrades > 0 {
		m.AvgWin = grossWin / float64(m.WinningTrades)
	}
	if m.LosingTrades > 0 {
		m.AvgLoss = -grossLoss / float64(m.LosingTrades)
	}
	if grossLoss > 0 {
		m.ProfitFactor = grossWin / grossLoss
	} else if grossWin > 0 {
		m.ProfitFactor = math.Inf(1)
	}

	return m
}

// pairRoundTrips walks fills in order, matching each reducing fill against
// the running position to realize P&L. A fill that flips the position closes
// the old side first and opens the remainder.
func pairRoundTrips(trades []BacktestTrade) []BacktestRoundTrip {
	var out []BacktestRoundTrip
	var position float64
	var entryPrice float64
	var entryTS int64

	for _, t := range trades {
		signed := t.Qty
		if t.Side == "sell" {
			signed = -t.Qty
		}

		if position == 0 || (position > 0) == (signed > 0) {
			// extend: blend the entry price
			total := position + signed
			if total != 0 {
				entryPrice = (entryPrice*math.Abs(position) + t.Price*math.Abs(signed)) / math.Abs(total)
			}
			if position == 0 {
				entryTS = t.TS
			}
			position = total
			continue
		}

		closeQty := math.Min(math.Abs(position), math.Abs(signed))
		side := "long"
		pnl := (t.Price - entryPrice) * closeQty
		if position < 0 {
			side = "short"
			pnl = (entryPrice - t.Price) * closeQty
		}
		out = append(out, BacktestRoundTrip{
			EntryTS: entryTS, ExitTS: t.TS, Side: side, Qty: closeQty,
			EntryPrice: entryPrice, ExitPrice: t.Price, PnL: pnl,
		})

		remainder := position + signed
		if (remainder > 0) != (position > 0) && remainder != 0 {
			// flipped: the excess opens a fresh position at this fill
			entryPrice = t.Price
			entryTS = t.TS
		}
		position = remainder
		if position == 0 {
			entryPrice = 0
		}
	}
	return out
}

// Fitness scores a completed run for the optimizer and the evolver. A run
// with no trades scores zero.
func Fitness(m *BacktestMetrics) float64 {
	if m == nil || m.TotalTrades == 0 {
		return 0
	}
	sharpe := m.Sharpe
	if math.IsInf(sharpe, 0) || math.IsNaN(sharpe) {
		sharpe = 0
	}
	return 100 - m.MaxDrawdownPct + sharpe*10 + m.TotalReturnPct*0.1
}
