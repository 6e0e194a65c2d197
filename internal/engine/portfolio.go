package engine

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"tradebot/internal/config"
	"tradebot/internal/db"
	"tradebot/internal/exec"
	"tradebot/internal/logger"
	"tradebot/internal/market"
	"tradebot/internal/metrics"
	"tradebot/internal/strategy"
)

const autoRebalanceEvery = 60

// Portfolio is the top allocator level: it steps every manager each bar,
// reweights capital across strategy families, and snapshots equity.
type Portfolio struct {
	mu       sync.RWMutex
	Managers []*StrategyManager

	MinAllocFrac float64
	MaxAllocFrac float64

	store   *db.DB
	data    market.DataProvider
	log     *DecisionLog
	newExec func(bot string) exec.Client
	tf      string

	tick int
}

// ExecFactory builds an execution client for one worker, honoring the
// configured execution mode.
func ExecFactory(cfg *config.Config, store *db.DB) func(bot string) exec.Client {
	return func(bot string) exec.Client {
		mode := store.SettingString(db.SettingExecutionMode, cfg.Trading.ExecutionMode)
		if mode == "binance_testnet" {
			return exec.NewBinanceTestnetExec(bot, cfg.Binance.APIKey, cfg.Binance.APISecret, store)
		}
		return exec.NewPaperExec(bot, store)
	}
}

// BuildPortfolio assembles workers from the top evolved strategies, falling
// back to the parametric grids when none qualify, then hydrates persisted
// state from the bots table.
func BuildPortfolio(cfg *config.Config, store *db.DB, data market.DataProvider,
	log *DecisionLog, newExec func(bot string) exec.Client) (*Portfolio, error) {

	tf := store.SettingString(db.SettingTradingTimeframe, cfg.Trading.Timeframe)
	allocPerBot := cfg.Trading.AllocPerBot

	numStrategies := store.SettingInt(db.SettingNumActiveStrategies, 5)
	minScore := store.SettingFloat(db.SettingMinStrategyScore, 0)

	var managers []*StrategyManager

	evolved, err := store.TopEvolvedForPortfolio(numStrategies, minScore)
	if err != nil {
		return nil, err
	}
	if len(evolved) > 0 {
		var workers []*Worker
		for _, e := range evolved {
			g, err := strategy.ParseGenome(e.Genome)
			if err != nil {
				logger.Warn("ENGINE", fmt.Sprintf("evolved #%d unparseable, skipping: %v", e.ID, err))
				continue
			}
			name := fmt.Sprintf("evo%d_%s_%s", e.ID, strings.ToLower(e.Symbol), tf)
			workers = append(workers, NewWorker(name, e.Symbol, tf,
				strategy.NewGenomeStrategy(g), data, newExec(name), store, log, allocPerBot))
		}
		if len(workers) > 0 {
			managers = append(managers, NewStrategyManager("evolved", workers, 0.05, 0.70))
			logger.Info("ENGINE", fmt.Sprintf("Portfolio built from %d evolved strategies", len(workers)))
		}
	}

	if len(managers) == 0 {
		var mr, bo, tfw []*Worker
		for _, sym := range cfg.Trading.Symbols {
			for idx, p := range strategy.MeanReversionGrid {
				name := fmt.Sprintf("mr_%s_%s_p%d", strings.ToLower(sym), tf, idx+1)
				mr = append(mr, NewWorker(name, sym, tf, strategy.NewMeanReversion(p), data, newExec(name), store, log, allocPerBot))
			}
			for idx, p := range strategy.BreakoutGrid {
				name := fmt.Sprintf("bo_%s_%s_p%d", strings.ToLower(sym), tf, idx+1)
				bo = append(bo, NewWorker(name, sym, tf, strategy.NewBreakout(p), data, newExec(name), store, log, allocPerBot))
			}
			for idx, p := range strategy.TrendFollowGrid {
				name := fmt.Sprintf("tf_%s_%s_p%d", strings.ToLower(sym), tf, idx+1)
				tfw = append(tfw, NewWorker(name, sym, tf, strategy.NewTrendFollow(p), data, newExec(name), store, log, allocPerBot))
			}
		}
		managers = []*StrategyManager{
			NewStrategyManager("mean_reversion", mr, 0.05, 0.70),
			NewStrategyManager("breakout", bo, 0.05, 0.70),
			NewStrategyManager("trend_follow", tfw, 0.05, 0.70),
		}
		logger.Info("ENGINE", "Portfolio built from parametric grids (no evolved strategies yet)")
	}

	p := &Portfolio{
		Managers:     managers,
		MinAllocFrac: 0.10,
		MaxAllocFrac: 0.60,
		store:        store,
		data:         data,
		log:          log,
		newExec:      newExec,
		tf:           tf,
	}
	p.applyCapitalLimit()
	if err := p.hydrate(); err != nil {
		return nil, err
	}
	return p, nil
}

// applyCapitalLimit scales fresh allocations down so the whole portfolio
// fits under the configured USDT cap.
func (p *Portfolio) applyCapitalLimit() {
	limit := p.store.SettingFloat(db.SettingCapitalLimitUSDT, 0)
	if limit <= 0 {
		return
	}
	var total float64
	for _, w := range p.allWorkers() {
		total += w.Allocation
	}
	if total <= limit {
		return
	}
	scale := limit / total
	for _, w := range p.allWorkers() {
		w.Allocation *= scale
		w.StartingAllocation *= scale
		w.Cash *= scale
		w.Equity *= scale
	}
	logger.Info("ENGINE", fmt.Sprintf("Capital limit %.0f USDT: allocations scaled by %.3f", limit, scale))
}

// hydrate restores persisted worker state; new workers are seeded into the
// bots table with their params recorded.
func (p *Portfolio) hydrate() error {
	saved, err := p.store.LoadBots()
	if err != nil {
		return err
	}
	for _, w := range p.allWorkers() {
		row, ok := saved[w.Name]
		if !ok {
			if err := p.store.RecordParams(w.Name, w.Strategy.Name(), w.Strategy.Params()); err != nil {
				return err
			}
			w.Persist()
			continue
		}
		w.Hydrate(row)
	}
	return nil
}

func (p *Portfolio) allWorkers() []*Worker {
	var out []*Worker
	for _, m := range p.Managers {
		out = append(out, m.Workers...)
	}
	return out
}

// Step advances the whole portfolio one bar: every manager steps its
// workers, cross-family reweights and auto-rebalance run on their cadences,
// and the resulting state is persisted and snapshotted.
func (p *Portfolio) Step() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, m := range p.Managers {
		m.Step()
	}

	p.tick++
	if p.tick%rebalanceEvery == 0 {
		p.rebalanceAcross()
	}
	if p.tick%autoRebalanceEvery == 0 && p.store.SettingBool(db.SettingAutoRebalance, false) {
		p.autoRebalance()
	}

	for _, w := range p.allWorkers() {
		w.Persist()
	}
	p.snapshotEquity()

	metrics.StepsTotal.Inc()
	var total float64
	for _, m := range p.Managers {
		eq := m.TotalEquity()
		total += eq
		metrics.ManagerEquity.WithLabelValues(m.Name).Set(eq)
	}
	metrics.PortfolioEquity.Set(total)
}

// rebalanceAcross reweights capital between families by average positive
// score and pushes each family's target down to its workers in proportion
// to their share of the family's equity.
func (p *Portfolio) rebalanceAcross() {
	if len(p.Managers) == 0 {
		return
	}
	scores := make([]float64, len(p.Managers))
	var totalEquity float64
	for i, m := range p.Managers {
		scores[i] = m.AvgPositiveScore()
		totalEquity += m.TotalEquity()
	}
	shares := reweightShares(scores, p.MinAllocFrac, p.MaxAllocFrac)
	for i, m := range p.Managers {
		target := totalEquity * shares[i]
		mgrEquity := m.TotalEquity()
		for _, w := range m.Workers {
			if mgrEquity > 0 {
				w.Allocation = target * (w.Equity / mgrEquity)
			} else if len(m.Workers) > 0 {
				w.Allocation = target / float64(len(m.Workers))
			}
		}
	}
}

// autoRebalance reassigns the worst-performing fifth of the workers to the
// best-scoring family, keeping their symbol and mapping the parameter index
// from the _p<k> suffix of their name.
func (p *Portfolio) autoRebalance() {
	if len(p.Managers) < 2 {
		return
	}
	best := p.Managers[0]
	for _, m := range p.Managers[1:] {
		if m.AvgPositiveScore() > best.AvgPositiveScore() {
			best = m
		}
	}

	all := p.allWorkers()
	sort.SliceStable(all, func(i, j int) bool { return all[i].Score < all[j].Score })
	moveCount := len(all) / 5
	moved := 0
	for _, w := range all {
		if moved >= moveCount {
			break
		}
		if w.Manager == best.Name {
			continue
		}
		strat := p.strategyForFamily(best.Name, paramIndex(w.Name))
		if strat == nil {
			continue
		}
		p.removeWorker(w)
		w.Manager = best.Name
		w.SetStrategy(strat)
		best.Workers = append(best.Workers, w)
		moved++
		logger.Info("ENGINE", fmt.Sprintf("Auto-rebalance: %s moved to %s", w.Name, best.Name))
	}
}

// paramIndex extracts k from a trailing _p<k> name suffix, defaulting to 1.
func paramIndex(name string) int {
	i := strings.LastIndex(name, "_p")
	if i < 0 {
		return 1
	}
	k, err := strconv.Atoi(name[i+2:])
	if err != nil || k < 1 {
		return 1
	}
	return k
}

func (p *Portfolio) strategyForFamily(family string, idx int) strategy.Strategy {
	switch family {
	case "mean_reversion":
		return strategy.NewMeanReversion(strategy.MeanReversionGrid[(idx-1)%len(strategy.MeanReversionGrid)])
	case "breakout":
		return strategy.NewBreakout(strategy.BreakoutGrid[(idx-1)%len(strategy.BreakoutGrid)])
	case "trend_follow":
		return strategy.NewTrendFollow(strategy.TrendFollowGrid[(idx-1)%len(strategy.TrendFollowGrid)])
	}
	return nil
}

func (p *Portfolio) removeWorker(w *Worker) {
	for _, m := range p.Managers {
		for i, cur := range m.Workers {
			if cur == w {
				m.Workers = append(m.Workers[:i], m.Workers[i+1:]...)
				return
			}
		}
	}
}

func (p *Portfolio) snapshotEquity() {
	managers := make([]db.NameEquity, 0, len(p.Managers))
	var bots []db.NameEquity
	for _, m := range p.Managers {
		managers = append(managers, db.NameEquity{Name: m.Name, Equity: m.TotalEquity()})
		for _, w := range m.Workers {
			bots = append(bots, db.NameEquity{Name: w.Name, Equity: w.Equity})
		}
	}
	if err := p.store.SnapshotEquity("portfolio", managers, bots); err != nil {
		logger.Warn("ENGINE", fmt.Sprintf("equity snapshot: %v", err))
	}
}

// Timeframe is the bar interval the portfolio steps on.
func (p *Portfolio) Timeframe() string { return p.tf }

// ActiveSymbols lists the distinct symbols across all workers.
func (p *Portfolio) ActiveSymbols() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	seen := make(map[string]bool)
	var out []string
	for _, w := range p.allWorkers() {
		if !seen[w.Symbol] {
			seen[w.Symbol] = true
			out = append(out, w.Symbol)
		}
	}
	sort.Strings(out)
	return out
}

// WorkerSnapshot is a read-only view of a worker for the HTTP layer.
type WorkerSnapshot struct {
	Name       string          `json:"name"`
	Manager    string          `json:"manager"`
	Symbol     string          `json:"symbol"`
	TF         string          `json:"tf"`
	Strategy   string          `json:"strategy"`
	Params     json.RawMessage `json:"params"`
	Allocation float64         `json:"allocation"`
	StartAlloc float64         `json:"starting_allocation"`
	Cash       float64         `json:"cash"`
	PosQty     float64         `json:"pos_qty"`
	AvgPrice   float64         `json:"avg_price"`
	Equity     float64         `json:"equity"`
	Score      float64         `json:"score"`
	Trades     int             `json:"trades"`
}

// ManagerSnapshot aggregates one family for the HTTP layer.
type ManagerSnapshot struct {
	Name     string           `json:"name"`
	Equity   float64          `json:"equity"`
	AvgScore float64          `json:"avg_score"`
	Workers  []WorkerSnapshot `json:"bots"`
}

// Snapshot captures the live state for /portfolio.json.
func (p *Portfolio) Snapshot() []ManagerSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]ManagerSnapshot, 0, len(p.Managers))
	for _, m := range p.Managers {
		ms := ManagerSnapshot{Name: m.Name, Equity: m.TotalEquity(), AvgScore: m.AvgPositiveScore()}
		for _, w := range m.Workers {
			ms.Workers = append(ms.Workers, WorkerSnapshot{
				Name: w.Name, Manager: w.Manager, Symbol: w.Symbol, TF: w.TF,
				Strategy: w.Strategy.Name(), Params: w.Strategy.Params(),
				Allocation: w.Allocation, StartAlloc: w.StartingAllocation, Cash: w.Cash, PosQty: w.PosQty,
				AvgPrice: w.AvgPrice, Equity: w.Equity, Score: w.Score, Trades: w.Trades,
			})
		}
		out = append(out, ms)
	}
	return out
}

// ReassignWorker swaps a worker's evaluator: a named parametric strategy
// with default params, or one loaded from saved:<id> / evolved:<id>.
func (p *Portfolio) ReassignWorker(workerName, strategySpec string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var target *Worker
	for _, w := range p.allWorkers() {
		if w.Name == workerName {
			target = w
			break
		}
	}
	if target == nil {
		return fmt.Errorf("unknown worker %q", workerName)
	}

	strat, err := p.resolveStrategy(strategySpec)
	if err != nil {
		return err
	}
	target.SetStrategy(strat)
	target.Persist()
	return nil
}

func (p *Portfolio) resolveStrategy(spec string) (strategy.Strategy, error) {
	if id, ok := strings.CutPrefix(spec, "saved:"); ok {
		sid, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad saved strategy id %q", id)
		}
		saved, err := p.store.GetSavedBacktest(sid)
		if err != nil {
			return nil, err
		}
		if saved == nil {
			return nil, fmt.Errorf("saved backtest %d not found", sid)
		}
		return strategy.Build(saved.Strategy, saved.Params)
	}
	if id, ok := strings.CutPrefix(spec, "evolved:"); ok {
		eid, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad evolved strategy id %q", id)
		}
		evolved, err := p.store.GetEvolvedStrategy(eid)
		if err != nil {
			return nil, err
		}
		if evolved == nil {
			return nil, fmt.Errorf("evolved strategy %d not found", eid)
		}
		return strategy.Build("GenomeStrategy", evolved.Genome)
	}
	return strategy.Build(spec, nil)
}

// LiquidationResult summarizes one emergency close.
type LiquidationResult struct {
	Bot    string  `json:"bot"`
	Symbol string  `json:"symbol"`
	Qty    float64 `json:"qty"`
	Error  string  `json:"error,omitempty"`
}

// LiquidateAll closes every open position at the latest price and pauses
// trading.
func (p *Portfolio) LiquidateAll() []LiquidationResult {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.store.SetSetting(db.SettingTradingPaused, true); err != nil {
		logger.Warn("ENGINE", fmt.Sprintf("pause on liquidate: %v", err))
	}

	var out []LiquidationResult
	for _, w := range p.allWorkers() {
		if w.PosQty == 0 {
			continue
		}
		res := LiquidationResult{Bot: w.Name, Symbol: w.Symbol}
		price := w.AvgPrice
		if bars, err := p.data.History(w.Symbol, w.TF, 1); err == nil && len(bars) > 0 {
			price = bars[len(bars)-1].Close
		}
		qty, err := w.Liquidate(price)
		if err != nil {
			res.Error = err.Error()
		} else {
			res.Qty = qty
		}
		w.Persist()
		out = append(out, res)
	}
	return out
}

// Decisions exposes the shared decision log.
func (p *Portfolio) Decisions() []Decision { return p.log.Recent() }
