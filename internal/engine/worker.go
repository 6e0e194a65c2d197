package engine

import (
	"fmt"
	"math"
	"time"

	"tradebot/internal/db"
	"tradebot/internal/exec"
	"tradebot/internal/logger"
	"tradebot/internal/market"
	"tradebot/internal/metrics"
	"tradebot/internal/strategy"
)

const (
	// MinNotional is the smallest order value worth placing, in quote units.
	MinNotional = 100.0

	// tradeCooldown is the minimum wall-clock gap between two orders from
	// the same worker.
	tradeCooldown = 300 * time.Second

	// limitOffsetBps improves the limit price over the mark by 5 bps.
	limitOffsetBps = 5.0

	limitTimeoutSeconds = 60
	historyLimit        = 200

	scoreDecay = 0.9
	scoreClamp = 0.2
)

// Worker runs one (strategy, symbol) pair: it sizes the strategy's target
// exposure against its allocation and places orders, never borrowing.
type Worker struct {
	Name     string
	Symbol   string
	TF       string
	Manager  string
	Strategy strategy.Strategy

	Allocation         float64
	StartingAllocation float64
	Cash               float64
	PosQty             float64
	AvgPrice           float64
	Equity             float64
	Score              float64
	Trades             int

	data  market.DataProvider
	exec  exec.Client
	store *db.DB
	log   *DecisionLog
	now   func() time.Time

	lastBarTS   int64
	lastTradeTS int64
}

func NewWorker(name, symbol, tf string, strat strategy.Strategy, data market.DataProvider,
	execClient exec.Client, store *db.DB, log *DecisionLog, allocation float64) *Worker {
	return &Worker{
		Name:               name,
		Symbol:             symbol,
		TF:                 tf,
		Strategy:           strat,
		Allocation:         allocation,
		StartingAllocation: allocation,
		Cash:               allocation,
		Equity:             allocation,
		data:               data,
		exec:               execClient,
		store:              store,
		log:                log,
		now:                time.Now,
	}
}

// Hydrate restores persisted state from a bots row.
func (w *Worker) Hydrate(row *db.BotRow) {
	w.Allocation = row.Allocation
	w.StartingAllocation = row.StartingAllocation
	w.Cash = row.Cash
	w.PosQty = row.PosQty
	w.AvgPrice = row.AvgPrice
	w.Equity = row.Equity
	if w.Equity == 0 {
		w.Equity = w.Cash
	}
	w.Score = row.Score
	w.Trades = row.Trades
}

// Step runs one bar of the worker state machine. It never trades twice on
// the same bar and exits early on the notional, cooldown, and pause gates.
func (w *Worker) Step() error {
	bars, err := w.data.History(w.Symbol, w.TF, historyLimit)
	if err != nil {
		return fmt.Errorf("%s history: %w", w.Name, err)
	}
	if len(bars) == 0 {
		return nil
	}

	last := bars[len(bars)-1]
	if last.TS == w.lastBarTS {
		return nil
	}
	w.lastBarTS = last.TS
	price := last.Close
	if price <= 0 {
		return nil
	}

	targetExp := w.Strategy.OnBar(bars)
	w.log.Add(Decision{Bot: w.Name, Symbol: w.Symbol, Kind: DecisionSignal, Price: price, TargetExp: targetExp,
		Detail: fmt.Sprintf("target exposure %.2f", targetExp)})

	equityNow := w.Cash + w.PosQty*price
	targetQty := equityNow * targetExp / price
	delta := targetQty - w.PosQty

	// mark-to-market every bar, even when not trading
	w.Equity = equityNow
	w.AvgPrice = price

	if math.Abs(delta)*price < MinNotional {
		if delta != 0 {
			w.log.Add(Decision{Bot: w.Name, Symbol: w.Symbol, Kind: DecisionSkipMinNotional, Price: price, TargetExp: targetExp,
				Detail: fmt.Sprintf("notional %.2f below %.0f", math.Abs(delta)*price, MinNotional)})
		}
		w.updateScore()
		return nil
	}

	now := w.now()
	if w.lastTradeTS > 0 && now.Unix()-w.lastTradeTS < int64(tradeCooldown.Seconds()) {
		w.log.Add(Decision{Bot: w.Name, Symbol: w.Symbol, Kind: DecisionSkipCooldown, Price: price, TargetExp: targetExp})
		w.updateScore()
		return nil
	}

	if w.store.SettingBool(db.SettingTradingPaused, true) {
		w.log.Add(Decision{Bot: w.Name, Symbol: w.Symbol, Kind: DecisionSkipTradingPaused, Price: price, TargetExp: targetExp})
		w.updateScore()
		return nil
	}

	side := "buy"
	if delta < 0 {
		side = "sell"
	}
	qty := math.Abs(delta)

	// no leverage: a buy can never spend more cash than the worker holds
	if side == "buy" && qty*price > w.Cash {
		qty = w.Cash / price
		if qty*price < MinNotional {
			w.updateScore()
			return nil
		}
	}

	limitPrice := price * (1 - limitOffsetBps/10000)
	if side == "sell" {
		limitPrice = price * (1 + limitOffsetBps/10000)
	}

	fill, err := w.exec.LimitOrder(w.Symbol, side, qty, limitPrice, limitTimeoutSeconds)
	if err != nil {
		return fmt.Errorf("%s %s order: %w", w.Name, side, err)
	}
	if fill.Status != exec.StatusFilled || fill.FilledQty <= 0 {
		w.updateScore()
		return nil
	}

	if side == "buy" {
		w.Cash -= fill.FilledQty*fill.AvgPrice + fill.Fee
		w.PosQty += fill.FilledQty
	} else {
		w.Cash += fill.FilledQty*fill.AvgPrice - fill.Fee
		w.PosQty -= fill.FilledQty
	}
	w.Trades++
	w.lastTradeTS = now.Unix()
	w.Equity = w.Cash + w.PosQty*price
	metrics.TradesTotal.WithLabelValues(w.Name).Inc()

	w.log.Add(Decision{Bot: w.Name, Symbol: w.Symbol, Kind: DecisionTradeExecuted, Price: fill.AvgPrice, TargetExp: targetExp,
		Detail: fmt.Sprintf("%s %.6f @ %.2f (maker=%v fee=%.4f)", side, fill.FilledQty, fill.AvgPrice, fill.IsMaker, fill.Fee)})

	w.updateScore()
	return nil
}

// updateScore folds the return-on-allocation into a clamped EMA.
func (w *Worker) updateScore() {
	if w.Allocation <= 0 {
		return
	}
	ret := (w.Equity - w.Allocation) / w.Allocation
	w.Score = scoreDecay*w.Score + (1-scoreDecay)*ret
	if w.Score > scoreClamp {
		w.Score = scoreClamp
	} else if w.Score < -scoreClamp {
		w.Score = -scoreClamp
	}
}

// Persist writes the worker snapshot to the bots table.
func (w *Worker) Persist() {
	err := w.store.UpsertBot(&db.BotRow{
		Name:               w.Name,
		Manager:            w.Manager,
		Symbol:             w.Symbol,
		TF:                 w.TF,
		Strategy:           w.Strategy.Name(),
		Params:             w.Strategy.Params(),
		Allocation:         w.Allocation,
		StartingAllocation: w.StartingAllocation,
		Cash:               w.Cash,
		PosQty:             w.PosQty,
		AvgPrice:           w.AvgPrice,
		Equity:             w.Equity,
		Score:              w.Score,
		Trades:             w.Trades,
	})
	if err != nil {
		logger.Warn("ENGINE", fmt.Sprintf("persist %s: %v", w.Name, err))
	}
}

// Liquidate closes any open position with a market order at the given price.
func (w *Worker) Liquidate(price float64) (float64, error) {
	if w.PosQty == 0 || price <= 0 {
		return 0, nil
	}
	side := "sell"
	if w.PosQty < 0 {
		side = "buy"
	}
	qty := math.Abs(w.PosQty)
	fill, err := w.exec.MarketOrder(w.Symbol, side, qty, price)
	if err != nil {
		return 0, fmt.Errorf("%s liquidate: %w", w.Name, err)
	}
	if side == "sell" {
		w.Cash += fill.FilledQty*fill.AvgPrice - fill.Fee
		w.PosQty -= fill.FilledQty
	} else {
		w.Cash -= fill.FilledQty*fill.AvgPrice + fill.Fee
		w.PosQty += fill.FilledQty
	}
	w.Trades++
	w.Equity = w.Cash + w.PosQty*price
	return fill.FilledQty, nil
}

// SetStrategy swaps the evaluator and records the change.
func (w *Worker) SetStrategy(strat strategy.Strategy) {
	w.Strategy = strat
	if err := w.store.RecordParams(w.Name, strat.Name(), strat.Params()); err != nil {
		logger.Warn("ENGINE", fmt.Sprintf("record params %s: %v", w.Name, err))
	}
}
