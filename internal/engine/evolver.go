package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"tradebot/internal/db"
	"tradebot/internal/logger"
	"tradebot/internal/market"
	"tradebot/internal/strategy"
)

const (
	evolverPopulation = 20
	evolverSurvivors  = 5
	evolverMutation   = 0.7
	evolverCrossover  = 0.3
	evolverSaveTop    = 10

	evolverTimeframe = "1d"
	evolverDays      = 365
	evolverCapital   = 1000
)

// Evolver breeds genome strategies against daily history. Each generation is
// evaluated on every symbol, the best survive, and mutated or crossed-over
// offspring refill the population.
type Evolver struct {
	store *db.DB
	data  market.DataProvider
	syms  []string
	rng   *rand.Rand

	generation int
	population []*strategy.Genome
}

func NewEvolver(store *db.DB, data market.DataProvider, symbols []string, seed int64) *Evolver {
	return &Evolver{
		store: store,
		data:  data,
		syms:  symbols,
		rng:   rand.New(rand.NewSource(seed)),
	}
}

// InitializePopulation seeds the population from the hand-built genomes plus
// mutated copies of them.
func (e *Evolver) InitializePopulation() {
	seeds := strategy.SeedGenomes()
	e.population = e.population[:0]
	e.population = append(e.population, seeds...)
	for len(e.population) < evolverPopulation {
		g := seeds[e.rng.Intn(len(seeds))].Mutate(e.rng)
		e.population = append(e.population, g)
	}
	e.generation = 0
}

type evalResult struct {
	genome  *strategy.Genome
	symbol  string
	metrics *BacktestMetrics
	score   float64
}

// EvolveGeneration evaluates the current population, persists the best, and
// breeds the next generation.
func (e *Evolver) EvolveGeneration(ctx context.Context) error {
	if len(e.population) == 0 {
		e.InitializePopulation()
	}
	e.generation++

	endTS := time.Now().Unix()
	startTS := endTS - evolverDays*86400

	var results []evalResult
	for _, g := range e.population {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		for _, sym := range e.syms {
			bt := NewBacktester(evolverCapital, MinNotional, 0.001)
			m, err := bt.Run(strategy.NewGenomeStrategy(g), e.data, sym, evolverTimeframe, startTS, endTS)
			if err != nil {
				logger.Warn("EVOLVE", fmt.Sprintf("gen %d eval on %s: %v", e.generation, sym, err))
				results = append(results, evalResult{genome: g, symbol: sym})
				continue
			}
			results = append(results, evalResult{genome: g, symbol: sym, metrics: m, score: Fitness(m)})
		}
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].score > results[j].score })

	saveN := evolverSaveTop
	if saveN > len(results) {
		saveN = len(results)
	}
	for _, r := range results[:saveN] {
		genomeJSON, err := json.Marshal(r.genome)
		if err != nil {
			return fmt.Errorf("evolver: %w", err)
		}
		row := &db.EvolvedStrategy{
			Genome:     genomeJSON,
			Symbol:     r.symbol,
			Timeframe:  evolverTimeframe,
			Score:      r.score,
			Generation: e.generation,
			Days:       evolverDays,
			TestedTS:   time.Now().Unix(),
		}
		if r.metrics != nil {
			row.TotalReturn = r.metrics.TotalReturnPct
			row.SharpeRatio = r.metrics.Sharpe
			row.MaxDrawdown = r.metrics.MaxDrawdownPct
			row.TotalTrades = r.metrics.TotalTrades
			row.WinRate = r.metrics.WinRatePct
		}
		if _, err := e.store.SaveEvolvedStrategy(row); err != nil {
			return fmt.Errorf("evolver: %w", err)
		}
	}

	// survivors are the best distinct genomes across all symbol evaluations
	var survivors []*strategy.Genome
	seen := make(map[*strategy.Genome]bool)
	for _, r := range results {
		if seen[r.genome] {
			continue
		}
		seen[r.genome] = true
		survivors = append(survivors, r.genome)
		if len(survivors) == evolverSurvivors {
			break
		}
	}
	if len(survivors) == 0 {
		e.InitializePopulation()
		return nil
	}

	next := make([]*strategy.Genome, 0, evolverPopulation)
	next = append(next, survivors...)
	for len(next) < evolverPopulation {
		roll := e.rng.Float64()
		var child *strategy.Genome
		switch {
		case roll < evolverMutation:
			child = survivors[e.rng.Intn(len(survivors))].Mutate(e.rng)
		case roll < evolverMutation+evolverCrossover:
			a := survivors[e.rng.Intn(len(survivors))]
			b := survivors[e.rng.Intn(len(survivors))]
			child = strategy.CrossoverGenomes(a, b, e.rng)
		default:
			child = next[e.rng.Intn(len(next))].Mutate(e.rng)
		}
		next = append(next, child)
	}
	e.population = next

	best := results[0]
	logger.Info("EVOLVE", fmt.Sprintf("Generation %d done: best score %.2f on %s", e.generation, best.score, best.symbol))
	return nil
}

// Generation reports the last completed generation number.
func (e *Evolver) Generation() int { return e.generation }
