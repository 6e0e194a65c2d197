package strategy

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"strconv"

	"tradebot/internal/market"
)

// Genome is the genetic representation of a trading strategy: a set of
// indicator declarations plus entry/exit rules over their computed values.
// It round-trips through JSON for persistence in evolved_strategies and
// saved_backtests.
type Genome struct {
	Indicators  []IndicatorSpec `json:"indicators"`
	EntryLong   Rule            `json:"entry_long"`
	ExitLong    Rule            `json:"exit_long"`
	EntryShort  Rule            `json:"entry_short,omitempty"`
	ExitShort   Rule            `json:"exit_short,omitempty"`
	ConfirmBars int             `json:"confirm_bars"`
}

// IndicatorSpec declares one indicator to compute each bar. Type is one of
// SMA, EMA, RSI, BB, ATR. Source applies to SMA/EMA only.
type IndicatorSpec struct {
	Type   string  `json:"type"`
	Period int     `json:"period"`
	Source string  `json:"source,omitempty"`
	StdDev float64 `json:"std_dev,omitempty"`
}

// Rule is a conjunction or disjunction of conditions.
type Rule struct {
	Conditions []Condition `json:"conditions,omitempty"`
	Logic      string      `json:"logic,omitempty"` // AND | OR
}

// Condition compares a named value against another named value or a literal.
type Condition struct {
	Type  string  `json:"type"` // indicator_compare | price_compare
	Left  string  `json:"left"`
	Op    string  `json:"op"` // > < >= <= ==
	Right Operand `json:"right"`
}

// Operand is either an indicator/price key or a numeric literal.
type Operand struct {
	Key   string
	Value float64
	IsNum bool
}

func NumOperand(v float64) Operand  { return Operand{Value: v, IsNum: true} }
func KeyOperand(k string) Operand   { return Operand{Key: k} }
func (o Operand) String() string {
	if o.IsNum {
		return strconv.FormatFloat(o.Value, 'g', -1, 64)
	}
	return o.Key
}

func (o Operand) MarshalJSON() ([]byte, error) {
	if o.IsNum {
		return json.Marshal(o.Value)
	}
	return json.Marshal(o.Key)
}

func (o *Operand) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		o.Key = s
		o.IsNum = false
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("operand must be a string or a number: %s", data)
	}
	o.Value = f
	o.IsNum = true
	return nil
}

// ParseGenome decodes and validates a genome document.
func ParseGenome(data json.RawMessage) (*Genome, error) {
	var g Genome
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("parse genome: %w", err)
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return &g, nil
}

// Validate rejects unknown indicator types, operators, and condition kinds.
func (g *Genome) Validate() error {
	for _, ind := range g.Indicators {
		switch ind.Type {
		case "SMA", "EMA", "RSI", "BB", "ATR":
		default:
			return fmt.Errorf("unknown indicator type %q", ind.Type)
		}
		if ind.Period <= 0 {
			return fmt.Errorf("indicator %s has non-positive period %d", ind.Type, ind.Period)
		}
	}
	for _, rule := range []Rule{g.EntryLong, g.ExitLong, g.EntryShort, g.ExitShort} {
		for _, c := range rule.Conditions {
			switch c.Type {
			case "indicator_compare", "price_compare":
			default:
				return fmt.Errorf("unknown condition type %q", c.Type)
			}
			switch c.Op {
			case ">", "<", ">=", "<=", "==":
			default:
				return fmt.Errorf("unknown operator %q", c.Op)
			}
		}
	}
	return nil
}

func (g *Genome) JSON() json.RawMessage { return mustJSON(g) }

// Clone returns a deep copy.
func (g *Genome) Clone() *Genome {
	c := *g
	c.Indicators = append([]IndicatorSpec(nil), g.Indicators...)
	c.EntryLong = g.EntryLong.clone()
	c.ExitLong = g.ExitLong.clone()
	c.EntryShort = g.EntryShort.clone()
	c.ExitShort = g.ExitShort.clone()
	return &c
}

func (r Rule) clone() Rule {
	out := r
	out.Conditions = append([]Condition(nil), r.Conditions...)
	return out
}

// Mutate returns a mutated copy, leaving the receiver untouched.
func (g *Genome) Mutate(rng *rand.Rand) *Genome {
	child := g.Clone()
	switch rng.Intn(6) {
	case 0:
		child.addRandomIndicator(rng)
	case 1:
		if len(child.Indicators) > 1 {
			i := rng.Intn(len(child.Indicators))
			child.Indicators = append(child.Indicators[:i], child.Indicators[i+1:]...)
		}
	case 2:
		if len(child.Indicators) > 0 {
			child.mutateIndicator(rng, rng.Intn(len(child.Indicators)))
		}
	case 3:
		if rng.Float64() < 0.5 && child.EntryLong.Logic != "" {
			if child.EntryLong.Logic == "AND" {
				child.EntryLong.Logic = "OR"
			} else {
				child.EntryLong.Logic = "AND"
			}
		}
	case 4:
		child.mutateThresholds(rng)
	case 5:
		child.ConfirmBars = 1 + rng.Intn(5)
	}
	return child
}

func (g *Genome) addRandomIndicator(rng *rand.Rand) {
	switch []string{"SMA", "EMA", "RSI", "BB", "ATR"}[rng.Intn(5)] {
	case "SMA":
		g.Indicators = append(g.Indicators, IndicatorSpec{Type: "SMA",
			Period: pickInt(rng, 10, 20, 50, 100, 200),
			Source: pickStr(rng, "close", "high", "low")})
	case "EMA":
		g.Indicators = append(g.Indicators, IndicatorSpec{Type: "EMA",
			Period: pickInt(rng, 10, 20, 50, 100, 200),
			Source: pickStr(rng, "close", "high", "low")})
	case "RSI":
		g.Indicators = append(g.Indicators, IndicatorSpec{Type: "RSI",
			Period: pickInt(rng, 7, 14, 21, 28)})
	case "BB":
		g.Indicators = append(g.Indicators, IndicatorSpec{Type: "BB",
			Period: pickInt(rng, 10, 20, 30),
			StdDev: pickFloat(rng, 1.5, 2.0, 2.5, 3.0)})
	case "ATR":
		g.Indicators = append(g.Indicators, IndicatorSpec{Type: "ATR",
			Period: pickInt(rng, 7, 14, 21)})
	}
}

func (g *Genome) mutateIndicator(rng *rand.Rand, idx int) {
	ind := &g.Indicators[idx]
	if ind.Period > 0 {
		span := int(float64(ind.Period) * 0.2)
		if span > 0 {
			ind.Period += rng.Intn(2*span+1) - span
		}
		if ind.Period < 5 {
			ind.Period = 5
		}
	}
	if ind.StdDev > 0 {
		ind.StdDev = math.Max(1.0, ind.StdDev+rng.Float64()-0.5)
	}
}

func (g *Genome) mutateThresholds(rng *rand.Rand) {
	for _, rule := range []*Rule{&g.EntryLong, &g.ExitLong} {
		for i := range rule.Conditions {
			if rule.Conditions[i].Right.IsNum {
				rule.Conditions[i].Right.Value += rng.Float64()*20 - 10
			}
		}
	}
}

// CrossoverGenomes breeds a child from two parents: 2-5 indicators sampled
// from the union, rule sets taken whole from either parent.
func CrossoverGenomes(a, b *Genome, rng *rand.Rand) *Genome {
	pool := append(append([]IndicatorSpec(nil), a.Indicators...), b.Indicators...)
	n := 2 + rng.Intn(4)
	if n > len(pool) {
		n = len(pool)
	}
	rng.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })

	child := &Genome{Indicators: pool[:n]}
	if rng.Intn(2) == 0 {
		child.EntryLong = a.EntryLong.clone()
	} else {
		child.EntryLong = b.EntryLong.clone()
	}
	if rng.Intn(2) == 0 {
		child.ExitLong = a.ExitLong.clone()
	} else {
		child.ExitLong = b.ExitLong.clone()
	}
	if rng.Intn(2) == 0 {
		child.ConfirmBars = a.ConfirmBars
	} else {
		child.ConfirmBars = b.ConfirmBars
	}
	return child
}

func pickInt(rng *rand.Rand, choices ...int) int       { return choices[rng.Intn(len(choices))] }
func pickStr(rng *rand.Rand, choices ...string) string { return choices[rng.Intn(len(choices))] }
func pickFloat(rng *rand.Rand, choices ...float64) float64 {
	return choices[rng.Intn(len(choices))]
}

// GenomeStrategy executes a genome over a rolling buffer of bars.
type GenomeStrategy struct {
	genome  *Genome
	buffer  []market.Bar
	lastTS  int64
	confirm confirmFilter
	held    float64
}

const (
	genomeBufferSize = 300
	genomeMinBars    = 50
)

func NewGenomeStrategy(g *Genome) *GenomeStrategy {
	return &GenomeStrategy{genome: g, confirm: newConfirmFilter(g.ConfirmBars)}
}

func (s *GenomeStrategy) Name() string            { return "GenomeStrategy" }
func (s *GenomeStrategy) Params() json.RawMessage { return s.genome.JSON() }
func (s *GenomeStrategy) Genome() *Genome         { return s.genome }

// OnBar evaluates entry and exit rules over the buffered bars. When neither
// rule fires the signal currently in force is held.
func (s *GenomeStrategy) OnBar(bars []market.Bar) float64 {
	for _, b := range bars {
		if b.TS <= s.lastTS {
			continue
		}
		s.lastTS = b.TS
		s.buffer = append(s.buffer, b)
	}
	if len(s.buffer) > genomeBufferSize {
		s.buffer = s.buffer[len(s.buffer)-genomeBufferSize:]
	}
	if len(s.buffer) < genomeMinBars {
		return 0
	}

	values := s.computeIndicators()
	raw := s.held
	if evalRule(s.genome.EntryLong, values) {
		raw = 1
	} else if evalRule(s.genome.ExitLong, values) {
		raw = 0
	}
	s.held = s.confirm.apply(raw)
	return s.held
}

// computeIndicators evaluates the declared indicators over the buffer.
// Warm-up gaps leave keys absent, which makes dependent conditions false.
func (s *GenomeStrategy) computeIndicators() map[string]float64 {
	closes := make([]float64, len(s.buffer))
	highs := make([]float64, len(s.buffer))
	lows := make([]float64, len(s.buffer))
	for i, b := range s.buffer {
		closes[i], highs[i], lows[i] = b.Close, b.High, b.Low
	}
	source := func(name string) []float64 {
		switch name {
		case "high":
			return highs
		case "low":
			return lows
		}
		return closes
	}

	values := make(map[string]float64)
	for _, ind := range s.genome.Indicators {
		switch ind.Type {
		case "SMA":
			if v, ok := sma(source(ind.Source), ind.Period); ok {
				values[fmt.Sprintf("SMA_%d", ind.Period)] = v
			}
		case "EMA":
			if v, ok := emaIndicator(source(ind.Source), ind.Period); ok {
				values[fmt.Sprintf("EMA_%d", ind.Period)] = v
			}
		case "RSI":
			if v, ok := rsiIndicator(closes, ind.Period); ok {
				values["RSI"] = v
			}
		case "BB":
			if lo, mid, up, ok := bollinger(closes, ind.Period, ind.StdDev); ok {
				values["BB_lower"], values["BB_middle"], values["BB_upper"] = lo, mid, up
			}
		case "ATR":
			if v, ok := atrIndicator(s.buffer, ind.Period); ok {
				values["ATR"] = v
			}
		}
	}

	last := s.buffer[len(s.buffer)-1]
	values["close"] = last.Close
	values["high"] = last.High
	values["low"] = last.Low
	return values
}

func evalRule(rule Rule, values map[string]float64) bool {
	if len(rule.Conditions) == 0 {
		return false
	}
	logic := rule.Logic
	if logic == "" {
		logic = "AND"
	}
	for _, cond := range rule.Conditions {
		ok := evalCondition(cond, values)
		if logic == "AND" && !ok {
			return false
		}
		if logic != "AND" && ok {
			return true
		}
	}
	return logic == "AND"
}

func evalCondition(cond Condition, values map[string]float64) bool {
	left, ok := values[cond.Left]
	if !ok {
		return false
	}
	var right float64
	if cond.Right.IsNum {
		right = cond.Right.Value
	} else {
		right, ok = values[cond.Right.Key]
		if !ok {
			return false
		}
	}
	switch cond.Op {
	case ">":
		return left > right
	case "<":
		return left < right
	case ">=":
		return left >= right
	case "<=":
		return left <= right
	case "==":
		return math.Abs(left-right) < 1e-9
	}
	return false
}
