package strategy

import (
	"encoding/json"
	"fmt"
	"strings"

	"tradebot/internal/market"
)

// Strategy turns a window of bars into a target exposure in [-1, +1].
// Evaluators own their rolling buffers; callers feed whatever window the
// provider returned and the evaluator keeps its own state across calls.
type Strategy interface {
	OnBar(bars []market.Bar) float64
	Name() string
	Params() json.RawMessage
}

// confirmFilter suppresses a raw signal until it has repeated for `need`
// consecutive bars. Disagreement resets the streak; the previously
// confirmed signal stays in force until the new one confirms.
type confirmFilter struct {
	need      int
	count     int
	candidate float64
	confirmed float64
}

func newConfirmFilter(need int) confirmFilter {
	if need < 1 {
		need = 1
	}
	return confirmFilter{need: need}
}

func (c *confirmFilter) apply(raw float64) float64 {
	if raw == c.candidate {
		c.count++
	} else {
		c.candidate = raw
		c.count = 1
	}
	if c.count >= c.need {
		c.confirmed = raw
	}
	return c.confirmed
}

func mustJSON(v interface{}) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return b
}

// Build constructs a named strategy from its JSON parameters. Genome
// strategies take the full genome document as params.
func Build(name string, params json.RawMessage) (Strategy, error) {
	switch name {
	case "MeanReversion":
		var p MeanReversionParams
		if len(params) > 0 {
			if err := json.Unmarshal(params, &p); err != nil {
				return nil, fmt.Errorf("mean reversion params: %w", err)
			}
		}
		return NewMeanReversion(p), nil
	case "Breakout":
		var p BreakoutParams
		if len(params) > 0 {
			if err := json.Unmarshal(params, &p); err != nil {
				return nil, fmt.Errorf("breakout params: %w", err)
			}
		}
		return NewBreakout(p), nil
	case "TrendFollow":
		var p TrendFollowParams
		if len(params) > 0 {
			if err := json.Unmarshal(params, &p); err != nil {
				return nil, fmt.Errorf("trend follow params: %w", err)
			}
		}
		return NewTrendFollow(p), nil
	case "GenomeStrategy":
		g, err := ParseGenome(params)
		if err != nil {
			return nil, err
		}
		return NewGenomeStrategy(g), nil
	}
	return nil, fmt.Errorf("unknown strategy %q", name)
}

// KnownStrategies lists the buildable strategy names.
func KnownStrategies() []string {
	return []string{"MeanReversion", "Breakout", "TrendFollow", "GenomeStrategy"}
}

// IsKnown reports whether name is a buildable strategy.
func IsKnown(name string) bool {
	for _, n := range KnownStrategies() {
		if strings.EqualFold(n, name) {
			return true
		}
	}
	return false
}
