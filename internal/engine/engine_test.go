package engine

import (
	"encoding/json"
	"math"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradebot/internal/db"
	"tradebot/internal/exec"
	"tradebot/internal/market"
	"tradebot/internal/strategy"
)

func openTestStore(t *testing.T) *db.DB {
	t.Helper()
	store, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// fakeProvider serves a fixed tape, honoring limit from the newest end.
type fakeProvider struct {
	bars []market.Bar
}

func (p *fakeProvider) History(symbol, tf string, limit int) ([]market.Bar, error) {
	if limit > 0 && len(p.bars) > limit {
		return p.bars[len(p.bars)-limit:], nil
	}
	return p.bars, nil
}

// fakeExec fills every order at the requested price and counts calls.
type fakeExec struct {
	limitCalls  int
	marketCalls int
	lastSide    string
	lastQty     float64
	fillStatus  string
}

func (e *fakeExec) LimitOrder(symbol, side string, qty, limitPrice float64, timeoutSeconds int) (exec.Fill, error) {
	e.limitCalls++
	e.lastSide = side
	e.lastQty = qty
	status := e.fillStatus
	if status == "" {
		status = exec.StatusFilled
	}
	if status != exec.StatusFilled {
		return exec.Fill{Status: status}, nil
	}
	return exec.Fill{Status: exec.StatusFilled, FilledQty: qty, AvgPrice: limitPrice, IsMaker: true}, nil
}

func (e *fakeExec) MarketOrder(symbol, side string, qty, priceHint float64) (exec.Fill, error) {
	e.marketCalls++
	e.lastSide = side
	e.lastQty = qty
	fee := qty * priceHint * 0.001
	return exec.Fill{Status: exec.StatusFilled, FilledQty: qty, AvgPrice: priceHint, Fee: fee, IsMaker: false}, nil
}

// stubStrategy returns a fixed target exposure.
type stubStrategy struct {
	target float64
}

func (s *stubStrategy) OnBar(bars []market.Bar) float64 { return s.target }
func (s *stubStrategy) Name() string                    { return "Stub" }
func (s *stubStrategy) Params() json.RawMessage         { return json.RawMessage("{}") }

func dailyTape(n int, start float64, step float64) []market.Bar {
	now := time.Now().Unix()
	bars := make([]market.Bar, n)
	for i := range bars {
		price := start + step*float64(i)
		bars[i] = market.Bar{
			TS:     now - int64(n-i)*86400,
			Open:   price,
			High:   price * 1.01,
			Low:    price * 0.99,
			Close:  price,
			Volume: 100,
		}
	}
	return bars
}

func newTestWorker(t *testing.T, store *db.DB, provider market.DataProvider, ex exec.Client, target float64) *Worker {
	t.Helper()
	w := NewWorker("w1", "BTC_USDT", "1m", &stubStrategy{target: target}, provider, ex, store, NewDecisionLog(), 1000)
	w.now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	return w
}

func unpause(t *testing.T, store *db.DB) {
	t.Helper()
	require.NoError(t, store.SetSetting(db.SettingTradingPaused, false))
}

func TestReweightShares_SumsToOneWithinBounds(t *testing.T) {
	shares := reweightShares([]float64{0.15, 0.05, -0.1, 0.0}, 0.05, 0.70)
	var sum float64
	for _, s := range shares {
		assert.GreaterOrEqual(t, s, 0.05-1e-9)
		assert.LessOrEqual(t, s, 0.70+1e-9)
		sum += s
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
	// the best score holds the largest share
	assert.Greater(t, shares[0], shares[1])
}

func TestReweightShares_UniformWhenNoPositiveScore(t *testing.T) {
	shares := reweightShares([]float64{-0.1, -0.2, 0}, 0.05, 0.70)
	for _, s := range shares {
		assert.InDelta(t, 1.0/3.0, s, 1e-9)
	}
}

func TestReweightShares_InfeasibleBoundsDegradeToUniform(t *testing.T) {
	shares := reweightShares([]float64{1, 0, 0}, 0.40, 0.45) // 3*0.40 > 1
	for _, s := range shares {
		assert.InDelta(t, 1.0/3.0, s, 1e-9)
	}
}

func TestClampAndNormalize_PinsDominantShare(t *testing.T) {
	shares := clampAndNormalize([]float64{0.9, 0.05, 0.05}, 0.05, 0.60)
	assert.InDelta(t, 0.60, shares[0], 1e-9)
	var sum float64
	for _, s := range shares {
		sum += s
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
}

func TestWorker_StepExecutesTrade(t *testing.T) {
	store := openTestStore(t)
	unpause(t, store)
	ex := &fakeExec{}
	provider := &fakeProvider{bars: dailyTape(10, 100, 0)}
	w := newTestWorker(t, store, provider, ex, 1.0)

	require.NoError(t, w.Step())

	assert.Equal(t, 1, ex.limitCalls)
	assert.Equal(t, "buy", ex.lastSide)
	assert.Equal(t, 1, w.Trades)
	assert.Greater(t, w.PosQty, 0.0)
	// bought at the improved limit, just below 100
	assert.Less(t, w.Cash, 1.0)
}

func TestWorker_SameBarDoesNotTradeTwice(t *testing.T) {
	store := openTestStore(t)
	unpause(t, store)
	ex := &fakeExec{}
	provider := &fakeProvider{bars: dailyTape(10, 100, 0)}
	w := newTestWorker(t, store, provider, ex, 1.0)
	w.now = func() time.Time { return time.Now() }
	w.lastTradeTS = 0

	require.NoError(t, w.Step())
	require.NoError(t, w.Step())
	assert.Equal(t, 1, ex.limitCalls)
}

func TestWorker_SkipsBelowMinNotional(t *testing.T) {
	store := openTestStore(t)
	unpause(t, store)
	ex := &fakeExec{}
	provider := &fakeProvider{bars: dailyTape(10, 100, 0)}
	w := newTestWorker(t, store, provider, ex, 0.05) // 5% of 1000 = 50 < 100

	require.NoError(t, w.Step())
	assert.Equal(t, 0, ex.limitCalls)
	assert.Equal(t, 0, w.Trades)
}

func TestWorker_CooldownBlocksSecondTrade(t *testing.T) {
	store := openTestStore(t)
	unpause(t, store)
	ex := &fakeExec{}
	provider := &fakeProvider{bars: dailyTape(10, 100, 0)}
	w := newTestWorker(t, store, provider, ex, 1.0)

	base := time.Unix(1_700_000_000, 0)
	w.now = func() time.Time { return base }
	require.NoError(t, w.Step())
	require.Equal(t, 1, ex.limitCalls)

	// flip target so a fresh bar wants to trade again inside the cooldown
	w.Strategy = &stubStrategy{target: 0}
	provider.bars = append(provider.bars, market.Bar{TS: provider.bars[len(provider.bars)-1].TS + 86400, Close: 100, Open: 100, High: 101, Low: 99})
	w.now = func() time.Time { return base.Add(100 * time.Second) }
	require.NoError(t, w.Step())
	assert.Equal(t, 1, ex.limitCalls)

	// past the cooldown the exit goes through
	provider.bars = append(provider.bars, market.Bar{TS: provider.bars[len(provider.bars)-1].TS + 86400, Close: 100, Open: 100, High: 101, Low: 99})
	w.now = func() time.Time { return base.Add(400 * time.Second) }
	require.NoError(t, w.Step())
	assert.Equal(t, 2, ex.limitCalls)
	assert.Equal(t, "sell", ex.lastSide)
}

func TestWorker_PausedByDefault(t *testing.T) {
	store := openTestStore(t)
	ex := &fakeExec{}
	provider := &fakeProvider{bars: dailyTape(10, 100, 0)}
	w := newTestWorker(t, store, provider, ex, 1.0)

	require.NoError(t, w.Step())
	assert.Equal(t, 0, ex.limitCalls)
}

func TestWorker_BuyNeverExceedsCash(t *testing.T) {
	store := openTestStore(t)
	unpause(t, store)
	ex := &fakeExec{}
	provider := &fakeProvider{bars: dailyTape(10, 100, 0)}
	w := newTestWorker(t, store, provider, ex, 1.0)
	w.Cash = 500
	w.PosQty = 5 // equity 1000, target 10 units, delta 5 costs 500

	require.NoError(t, w.Step())
	require.Equal(t, 1, ex.limitCalls)
	assert.LessOrEqual(t, ex.lastQty*100, 500.0+1e-6)
}

func TestWorker_UnfilledOrderLeavesStateUntouched(t *testing.T) {
	store := openTestStore(t)
	unpause(t, store)
	ex := &fakeExec{fillStatus: exec.StatusTimeout}
	provider := &fakeProvider{bars: dailyTape(10, 100, 0)}
	w := newTestWorker(t, store, provider, ex, 1.0)

	require.NoError(t, w.Step())
	assert.Equal(t, 1, ex.limitCalls)
	assert.Equal(t, 0, w.Trades)
	assert.Equal(t, 0.0, w.PosQty)
	assert.Equal(t, 1000.0, w.Cash)
}

func TestWorker_ScoreStaysClamped(t *testing.T) {
	store := openTestStore(t)
	w := newTestWorker(t, store, &fakeProvider{}, &fakeExec{}, 0)
	w.Equity = 10000 // huge unrealized gain
	for i := 0; i < 200; i++ {
		w.updateScore()
	}
	assert.InDelta(t, scoreClamp, w.Score, 1e-9)

	w.Score = 0
	w.Equity = 0
	for i := 0; i < 200; i++ {
		w.updateScore()
	}
	assert.InDelta(t, -scoreClamp, w.Score, 1e-9)
}

func TestWorker_Liquidate(t *testing.T) {
	store := openTestStore(t)
	ex := &fakeExec{}
	w := newTestWorker(t, store, &fakeProvider{}, ex, 0)
	w.Cash = 0
	w.PosQty = 2

	qty, err := w.Liquidate(100)
	require.NoError(t, err)
	assert.Equal(t, 2.0, qty)
	assert.Equal(t, 1, ex.marketCalls)
	assert.Equal(t, "sell", ex.lastSide)
	assert.Equal(t, 0.0, w.PosQty)
	assert.InDelta(t, 200-0.2, w.Cash, 1e-9)
}

func TestDecisionLog_BoundedNewestFirst(t *testing.T) {
	log := NewDecisionLog()
	for i := 0; i < 150; i++ {
		log.Add(Decision{TS: int64(i + 1), Bot: "w", Kind: DecisionSignal})
	}
	recent := log.Recent()
	require.Len(t, recent, decisionLogSize)
	assert.Equal(t, int64(150), recent[0].TS)
	assert.Equal(t, int64(51), recent[len(recent)-1].TS)
}

func TestManager_RebalanceShiftsAllocationToScore(t *testing.T) {
	store := openTestStore(t)
	provider := &fakeProvider{bars: dailyTape(10, 100, 0)}
	var workers []*Worker
	for _, name := range []string{"a", "b", "c"} {
		w := NewWorker(name, "BTC_USDT", "1m", &stubStrategy{}, provider, &fakeExec{}, store, NewDecisionLog(), 1000)
		workers = append(workers, w)
	}
	workers[0].Score = 0.2
	workers[1].Score = 0.0
	workers[2].Score = -0.1

	m := NewStrategyManager("fam", workers, 0.05, 0.70)
	for i := 0; i < rebalanceEvery; i++ {
		m.Step()
	}

	total := workers[0].Allocation + workers[1].Allocation + workers[2].Allocation
	assert.InDelta(t, m.TotalEquity(), total, 1e-6)
	assert.Greater(t, workers[0].Allocation, workers[1].Allocation)
	assert.GreaterOrEqual(t, workers[2].Allocation, m.TotalEquity()*0.05-1e-6)
	// starting allocation is never rewritten by rebalances
	assert.Equal(t, 1000.0, workers[0].StartingAllocation)
}

func TestNextBarTime_AlignsWithBuffer(t *testing.T) {
	now := time.Unix(1_700_000_030, 0) // 30s into a minute
	next := nextBarTime(now, 60)
	assert.Equal(t, int64(1_700_000_060+2), next.Unix())

	// exactly on the boundary still waits for the next bar
	next = nextBarTime(time.Unix(1_700_000_040, 0), 20)
	assert.Equal(t, int64(1_700_000_060+2), next.Unix())
}

func TestBacktester_BuyAndHoldMetrics(t *testing.T) {
	bars := dailyTape(100, 100, 1) // steady climb 100 -> 199
	bt := NewBacktester(1000, 100, 0)
	now := time.Now().Unix()
	m, err := bt.Run(&stubStrategy{target: 1.0}, &fakeProvider{bars: bars}, "BTC_USDT", "1d", now-200*86400, now)
	require.NoError(t, err)

	assert.Equal(t, 1, m.TotalTrades)
	assert.Greater(t, m.TotalReturnPct, 90.0)
	assert.Greater(t, m.Sharpe, 0.0)
	assert.Less(t, m.MaxDrawdownPct, 1.0)
	assert.Greater(t, m.FinalEquity, 1900.0)
	assert.Len(t, bt.EquityCurve(), 100)
}

func TestBacktester_RoundTripPnL(t *testing.T) {
	trades := []BacktestTrade{
		{TS: 1, Side: "buy", Qty: 2, Price: 100},
		{TS: 2, Side: "sell", Qty: 2, Price: 110},
		{TS: 3, Side: "buy", Qty: 1, Price: 120},
		{TS: 4, Side: "sell", Qty: 1, Price: 115},
	}
	rts := pairRoundTrips(trades)
	require.Len(t, rts, 2)
	assert.InDelta(t, 20.0, rts[0].PnL, 1e-9)
	assert.Equal(t, "long", rts[0].Side)
	assert.InDelta(t, -5.0, rts[1].PnL, 1e-9)
}

func TestBacktester_RoundTripHandlesFlip(t *testing.T) {
	trades := []BacktestTrade{
		{TS: 1, Side: "buy", Qty: 1, Price: 100},
		{TS: 2, Side: "sell", Qty: 3, Price: 110}, // closes 1 long, opens 2 short
		{TS: 3, Side: "buy", Qty: 2, Price: 105},
	}
	rts := pairRoundTrips(trades)
	require.Len(t, rts, 2)
	assert.InDelta(t, 10.0, rts[0].PnL, 1e-9)
	assert.Equal(t, "short", rts[1].Side)
	assert.InDelta(t, 10.0, rts[1].PnL, 1e-9) // (110-105)*2
}

func TestBacktester_NoBarsInRangeFails(t *testing.T) {
	bt := NewBacktester(1000, 100, 0)
	_, err := bt.Run(&stubStrategy{}, &fakeProvider{bars: dailyTape(10, 100, 0)}, "BTC_USDT", "1d", 1, 2)
	assert.Error(t, err)
}

func TestFitness(t *testing.T) {
	assert.Equal(t, 0.0, Fitness(&BacktestMetrics{TotalTrades: 0, TotalReturnPct: 50}))
	m := &BacktestMetrics{TotalTrades: 5, MaxDrawdownPct: 10, Sharpe: 1.5, TotalReturnPct: 20}
	assert.InDelta(t, 100-10+15+2, Fitness(m), 1e-9)
	inf := &BacktestMetrics{TotalTrades: 1, Sharpe: math.Inf(1)}
	assert.False(t, math.IsInf(Fitness(inf), 0))
}

func TestOptimizer_PersistsRankedResults(t *testing.T) {
	store := openTestStore(t)
	provider := &fakeProvider{bars: dailyTape(300, 100, 0.5)}
	opt := NewOptimizer(store, provider, []string{"BTC_USDT"})
	require.NoError(t, opt.Run(t.Context()))

	results, err := store.ListOptimizationResults("", "BTC_USDT", 50)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
	}
	assert.Equal(t, "1d", results[0].Timeframe)
	assert.Equal(t, 365, results[0].Days)
}

func TestEvolver_GenerationPersistsTopGenomes(t *testing.T) {
	store := openTestStore(t)
	provider := &fakeProvider{bars: dailyTape(300, 100, 0.5)}
	ev := NewEvolver(store, provider, []string{"BTC_USDT"}, 42)
	ev.InitializePopulation()
	require.Len(t, ev.population, evolverPopulation)

	require.NoError(t, ev.EvolveGeneration(t.Context()))
	assert.Equal(t, 1, ev.Generation())
	assert.Len(t, ev.population, evolverPopulation)

	saved, err := store.ListEvolvedStrategies("BTC_USDT", nil, 50)
	require.NoError(t, err)
	assert.Len(t, saved, evolverSaveTop)
	for _, s := range saved {
		assert.Equal(t, 1, s.Generation)
		assert.NotEmpty(t, s.Genome)
	}
}

func TestEvolver_PopulationActuallyVaries(t *testing.T) {
	matchesSeed := func(g *strategy.Genome) bool {
		for _, s := range strategy.SeedGenomes() {
			if reflect.DeepEqual(g, s) {
				return true
			}
		}
		return false
	}

	ev := NewEvolver(nil, nil, nil, 1)
	ev.InitializePopulation()
	require.Len(t, ev.population, evolverPopulation)

	varied := 0
	for _, g := range ev.population {
		require.NoError(t, g.Validate())
		if !matchesSeed(g) {
			varied++
		}
	}
	assert.Greater(t, varied, 0, "initial population must contain mutated seeds")

	// breeding must do the same: mutated children differ from their survivor parents
	store := openTestStore(t)
	provider := &fakeProvider{bars: dailyTape(300, 100, 0.5)}
	ev2 := NewEvolver(store, provider, []string{"BTC_USDT"}, 7)
	require.NoError(t, ev2.EvolveGeneration(t.Context()))

	fresh := 0
	for _, g := range ev2.population {
		if !matchesSeed(g) {
			fresh++
		}
	}
	assert.Greater(t, fresh, 0, "bred generation must not be all seed copies")
}
