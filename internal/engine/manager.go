package engine

import (
	"fmt"
	"math"

	"tradebot/internal/logger"
)

// rebalanceEvery dampens allocation churn: reweights run every N ticks.
const rebalanceEvery = 5

// StrategyManager groups the workers of one strategy family and reweights
// capital between them by score.
type StrategyManager struct {
	Name         string
	Workers      []*Worker
	MinAllocFrac float64
	MaxAllocFrac float64

	tick int
}

func NewStrategyManager(name string, workers []*Worker, minFrac, maxFrac float64) *StrategyManager {
	for _, w := range workers {
		w.Manager = name
	}
	return &StrategyManager{Name: name, Workers: workers, MinAllocFrac: minFrac, MaxAllocFrac: maxFrac}
}

// Step advances every worker one bar. A failing worker is logged and skipped
// this tick; the others still run.
func (m *StrategyManager) Step() {
	for _, w := range m.Workers {
		if err := w.Step(); err != nil {
			logger.Warn("ENGINE", fmt.Sprintf("worker %s: %v", w.Name, err))
		}
	}
	m.tick++
	if m.tick%rebalanceEvery == 0 {
		m.rebalance()
	}
}

// rebalance reweights the team's pooled equity by positive score.
func (m *StrategyManager) rebalance() {
	if len(m.Workers) == 0 {
		return
	}
	scores := make([]float64, len(m.Workers))
	var totalEquity float64
	for i, w := range m.Workers {
		scores[i] = w.Score
		totalEquity += w.Equity
	}
	shares := reweightShares(scores, m.MinAllocFrac, m.MaxAllocFrac)
	for i, w := range m.Workers {
		w.Allocation = totalEquity * shares[i]
	}
}

// TotalEquity sums the team's worker equities.
func (m *StrategyManager) TotalEquity() float64 {
	var total float64
	for _, w := range m.Workers {
		total += w.Equity
	}
	return total
}

// AvgPositiveScore is the mean clamped-positive worker score, the signal the
// portfolio uses to weight this family.
func (m *StrategyManager) AvgPositiveScore() float64 {
	if len(m.Workers) == 0 {
		return 0
	}
	var sum float64
	for _, w := range m.Workers {
		sum += math.Max(0, w.Score)
	}
	return sum / float64(len(m.Workers))
}
