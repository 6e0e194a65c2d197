package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"tradebot/internal/db"
	"tradebot/internal/logger"
	"tradebot/internal/market"
	"tradebot/internal/strategy"
)

const (
	optimizerTimeframe = "1d"
	optimizerDays      = 365
	optimizerCapital   = 1000
	optimizerKeepTop   = 5
)

// Optimizer sweeps the parametric strategy grids over daily history and
// persists the ranked results.
type Optimizer struct {
	store *db.DB
	data  market.DataProvider
	syms  []string
}

func NewOptimizer(store *db.DB, data market.DataProvider, symbols []string) *Optimizer {
	return &Optimizer{store: store, data: data, syms: symbols}
}

type optimizerCandidate struct {
	strat   strategy.Strategy
	metrics *BacktestMetrics
	score   float64
}

// Run sweeps every grid entry over every symbol. A candidate that errors
// scores zero; the sweep itself only fails on persistence errors.
func (o *Optimizer) Run(ctx context.Context) error {
	logger.Info("OPTIM", fmt.Sprintf("Grid sweep started (%d symbols, tf=%s, %dd)", len(o.syms), optimizerTimeframe, optimizerDays))

	endTS := time.Now().Unix()
	startTS := endTS - optimizerDays*86400

	for _, sym := range o.syms {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		for family, build := range gridBuilders() {
			candidates := make([]optimizerCandidate, 0)
			for _, strat := range build() {
				m := o.evaluate(strat, sym, startTS, endTS)
				candidates = append(candidates, optimizerCandidate{strat: strat, metrics: m, score: Fitness(m)})
			}
			sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
			if len(candidates) > optimizerKeepTop {
				candidates = candidates[:optimizerKeepTop]
			}
			for _, c := range candidates {
				r := &db.OptimizationResult{
					Strategy:  family,
					Symbol:    sym,
					Timeframe: optimizerTimeframe,
					Params:    c.strat.Params(),
					Score:     c.score,
					Days:      optimizerDays,
					TestedTS:  time.Now().Unix(),
				}
				if c.metrics != nil {
					r.TotalReturn = c.metrics.TotalReturnPct
					r.SharpeRatio = c.metrics.Sharpe
					r.MaxDrawdown = c.metrics.MaxDrawdownPct
					r.TotalTrades = c.metrics.TotalTrades
					r.WinRate = c.metrics.WinRatePct
				}
				if err := o.store.SaveOptimizationResult(r); err != nil {
					return fmt.Errorf("optimizer: %w", err)
				}
			}
		}
	}
	logger.Info("OPTIM", "Grid sweep finished")
	return nil
}

func (o *Optimizer) evaluate(strat strategy.Strategy, symbol string, startTS, endTS int64) *BacktestMetrics {
	bt := NewBacktester(optimizerCapital, MinNotional, 0.001)
	m, err := bt.Run(strat, o.data, symbol, optimizerTimeframe, startTS, endTS)
	if err != nil {
		logger.Warn("OPTIM", fmt.Sprintf("%s on %s: %v", strat.Name(), symbol, err))
		return nil
	}
	return m
}

func gridBuilders() map[string]func() []strategy.Strategy {
	return map[string]func() []strategy.Strategy{
		"MeanReversion": func() []strategy.Strategy {
			out := make([]strategy.Strategy, 0, len(strategy.MeanReversionGrid))
			for _, p := range strategy.MeanReversionGrid {
				out = append(out, strategy.NewMeanReversion(p))
			}
			return out
		},
		"Breakout": func() []strategy.Strategy {
			out := make([]strategy.Strategy, 0, len(strategy.BreakoutGrid))
			for _, p := range strategy.BreakoutGrid {
				out = append(out, strategy.NewBreakout(p))
			}
			return out
		},
		"TrendFollow": func() []strategy.Strategy {
			out := make([]strategy.Strategy, 0, len(strategy.TrendFollowGrid))
			for _, p := range strategy.TrendFollowGrid {
				out = append(out, strategy.NewTrendFollow(p))
			}
			return out
		},
	}
}
