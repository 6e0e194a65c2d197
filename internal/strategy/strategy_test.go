package strategy

import (
	"encoding/json"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradebot/internal/market"
)

func closesToBars(closes []float64) []market.Bar {
	bars := make([]market.Bar, len(closes))
	for i, c := range closes {
		bars[i] = market.Bar{TS: int64(i+1) * 60, Open: c, High: c, Low: c, Close: c, Volume: 1}
	}
	return bars
}

func TestIndicators(t *testing.T) {
	vals := []float64{1, 2, 3, 4, 5}

	v, ok := sma(vals, 3)
	require.True(t, ok)
	assert.InDelta(t, 4.0, v, 1e-9)

	_, ok = sma(vals, 10)
	assert.False(t, ok, "sma should not produce a value during warm-up")

	e, ok := emaIndicator(vals, 3)
	require.True(t, ok)
	// seeded with SMA(1,2,3)=2, then 4 and 5 at k=0.5
	assert.InDelta(t, 4.0, e, 1e-9)

	// monotone rise has zero losses
	r, ok := rsiIndicator(vals, 3)
	require.True(t, ok)
	assert.Equal(t, 100.0, r)

	lo, mid, up, ok := bollinger([]float64{2, 2, 2, 2}, 4, 2.0)
	require.True(t, ok)
	assert.Equal(t, 2.0, mid)
	assert.Equal(t, lo, up, "zero variance collapses the bands")
}

func TestATR_WarmUp(t *testing.T) {
	bars := []market.Bar{
		{High: 10, Low: 8, Close: 9},
		{High: 11, Low: 9, Close: 10},
		{High: 12, Low: 10, Close: 11},
	}
	_, ok := atrIndicator(bars, 3)
	assert.False(t, ok, "needs period+1 bars")

	v, ok := atrIndicator(bars, 2)
	require.True(t, ok)
	assert.InDelta(t, 2.0, v, 1e-9)
}

func TestConfirmFilter(t *testing.T) {
	c := newConfirmFilter(2)
	assert.Equal(t, 0.0, c.apply(1), "first bar of a new signal is not confirmed")
	assert.Equal(t, 1.0, c.apply(1), "second consecutive bar confirms")
	assert.Equal(t, 1.0, c.apply(0), "single disagreement keeps the confirmed signal")
	assert.Equal(t, 0.0, c.apply(0))
}

func TestMeanReversion_Signals(t *testing.T) {
	s := NewMeanReversion(MeanReversionParams{Lookback: 5, Band: 1.0, ConfirmBars: 1})

	flat := make([]float64, 10)
	for i := range flat {
		flat[i] = 100
	}
	assert.Equal(t, 0.0, s.OnBar(closesToBars(flat)))

	// a sharp drop below the band goes long
	assert.Equal(t, 1.0, s.OnBar([]market.Bar{{TS: 11 * 60, Close: 80}}))

	// a spike above goes short
	s2 := NewMeanReversion(MeanReversionParams{Lookback: 5, Band: 1.0, ConfirmBars: 1})
	s2.OnBar(closesToBars(flat))
	assert.Equal(t, -1.0, s2.OnBar([]market.Bar{{TS: 11 * 60, Close: 120}}))
}

func TestBreakout_Signals(t *testing.T) {
	s := NewBreakout(BreakoutParams{Lookback: 3, ConfirmBars: 1})
	warm := []market.Bar{
		{TS: 60, High: 10, Low: 9, Close: 9.5},
		{TS: 120, High: 10.5, Low: 9.2, Close: 10},
		{TS: 180, High: 10.8, Low: 9.5, Close: 10.2},
	}
	assert.Equal(t, 0.0, s.OnBar(warm[:2]), "warm-up")
	assert.Equal(t, 0.0, s.OnBar(warm[2:]))

	assert.Equal(t, 1.0, s.OnBar([]market.Bar{{TS: 240, High: 12, Low: 11, Close: 12}}))
	assert.Equal(t, -1.0, s.OnBar([]market.Bar{{TS: 300, High: 9, Low: 8, Close: 8}}))
}

func TestTrendFollow_Signals(t *testing.T) {
	s := NewTrendFollow(TrendFollowParams{Fast: 2, Slow: 4, ConfirmBars: 1})
	assert.Equal(t, 1.0, s.OnBar(closesToBars([]float64{1, 2, 3, 4, 5})), "rising closes put fast above slow")

	s2 := NewTrendFollow(TrendFollowParams{Fast: 2, Slow: 4, ConfirmBars: 1})
	assert.Equal(t, -1.0, s2.OnBar(closesToBars([]float64{5, 4, 3, 2, 1})))
}

func TestGenome_ValidateRejectsUnknowns(t *testing.T) {
	_, err := ParseGenome(json.RawMessage(`{"indicators":[{"type":"MACD","period":12}]}`))
	assert.Error(t, err)

	_, err = ParseGenome(json.RawMessage(`{
		"indicators":[{"type":"RSI","period":14}],
		"entry_long":{"conditions":[{"type":"indicator_compare","left":"RSI","op":"!=","right":30}],"logic":"AND"}
	}`))
	assert.Error(t, err)

	_, err = ParseGenome(json.RawMessage(`{
		"indicators":[{"type":"RSI","period":14}],
		"entry_long":{"conditions":[{"type":"magic","left":"RSI","op":"<","right":30}],"logic":"AND"}
	}`))
	assert.Error(t, err)
}

func TestGenome_JSONRoundTrip(t *testing.T) {
	for _, seed := range SeedGenomes() {
		require.NoError(t, seed.Validate())
		parsed, err := ParseGenome(seed.JSON())
		require.NoError(t, err)
		assert.Equal(t, seed, parsed)
	}
}

func TestOperand_JSON(t *testing.T) {
	var o Operand
	require.NoError(t, json.Unmarshal([]byte(`30`), &o))
	assert.True(t, o.IsNum)
	assert.Equal(t, 30.0, o.Value)

	require.NoError(t, json.Unmarshal([]byte(`"SMA_20"`), &o))
	assert.False(t, o.IsNum)
	assert.Equal(t, "SMA_20", o.Key)

	assert.Error(t, json.Unmarshal([]byte(`{"x":1}`), &o))
}

func TestGenomeStrategy_RSIMeanReversion(t *testing.T) {
	g := SeedGenomes()[0] // RSI<30 enter, RSI>70 exit
	g.ConfirmBars = 1
	s := NewGenomeStrategy(g)

	// 60 flat bars then a steady decline pushes RSI to 0
	closes := make([]float64, 0, 80)
	for i := 0; i < 60; i++ {
		closes = append(closes, 100)
	}
	assert.Equal(t, 0.0, s.OnBar(closesToBars(closes)))

	var sig float64
	for i := 0; i < 20; i++ {
		sig = s.OnBar([]market.Bar{{TS: int64(61+i) * 60, Close: 100 - float64(i+1)}})
	}
	assert.Equal(t, 1.0, sig, "declining tape drives RSI under 30")

	// a long rally drives RSI over 70 and exits
	for i := 0; i < 30; i++ {
		sig = s.OnBar([]market.Bar{{TS: int64(81+i) * 60, Close: 80 + float64(i+1)*2}})
	}
	assert.Equal(t, 0.0, sig)
}

func TestGenomeStrategy_HoldsSignalWhenNoRuleFires(t *testing.T) {
	g := &Genome{
		Indicators: []IndicatorSpec{{Type: "RSI", Period: 14}},
		EntryLong: Rule{Logic: "AND", Conditions: []Condition{
			{Type: "indicator_compare", Left: "RSI", Op: "<", Right: NumOperand(30)},
		}},
		ExitLong: Rule{Logic: "OR", Conditions: []Condition{
			{Type: "indicator_compare", Left: "RSI", Op: ">", Right: NumOperand(99.5)},
		}},
		ConfirmBars: 1,
	}
	s := NewGenomeStrategy(g)

	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = 100
	}
	s.OnBar(closesToBars(closes))
	var sig float64
	for i := 0; i < 20; i++ {
		sig = s.OnBar([]market.Bar{{TS: int64(61+i) * 60, Close: 100 - float64(i+1)}})
	}
	require.Equal(t, 1.0, sig)

	// drifting sideways fires neither rule; the long is held
	for i := 0; i < 5; i++ {
		sig = s.OnBar([]market.Bar{{TS: int64(81+i) * 60, Close: 80 + float64(i%2)}})
	}
	assert.Equal(t, 1.0, sig)
}

func TestGenomeStrategy_MissingIndicatorEvaluatesFalse(t *testing.T) {
	g := &Genome{
		Indicators: []IndicatorSpec{{Type: "SMA", Period: 200}},
		EntryLong: Rule{Logic: "AND", Conditions: []Condition{
			{Type: "price_compare", Left: "close", Op: ">", Right: KeyOperand("SMA_200")},
		}},
		ConfirmBars: 1,
	}
	s := NewGenomeStrategy(g)

	closes := make([]float64, 100) // enough to evaluate, not enough for SMA_200
	for i := range closes {
		closes[i] = 100
	}
	assert.Equal(t, 0.0, s.OnBar(closesToBars(closes)))
}

func TestGenome_MutateProducesValidGenomes(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	seeds := SeedGenomes()
	for i := 0; i < 100; i++ {
		parent := seeds[i%len(seeds)]
		child := parent.Mutate(rng)
		require.NoError(t, child.Validate(), "mutation %d", i)
		assert.GreaterOrEqual(t, child.ConfirmBars, 0)
	}
	// the parent is never modified in place
	assert.Equal(t, SeedGenomes(), seeds)
}

func TestGenome_Crossover(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	seeds := SeedGenomes()
	for i := 0; i < 50; i++ {
		child := CrossoverGenomes(seeds[1], seeds[4], rng)
		require.NoError(t, child.Validate())
		assert.GreaterOrEqual(t, len(child.Indicators), 2)
		assert.LessOrEqual(t, len(child.Indicators), 5)
	}
}

func TestBuild(t *testing.T) {
	s, err := Build("MeanReversion", json.RawMessage(`{"lookback":20,"band":2.0}`))
	require.NoError(t, err)
	assert.Equal(t, "MeanReversion", s.Name())

	s, err = Build("GenomeStrategy", SeedGenomes()[0].JSON())
	require.NoError(t, err)
	assert.Equal(t, "GenomeStrategy", s.Name())

	_, err = Build("Quantum", nil)
	assert.Error(t, err)

	_, err = Build("GenomeStrategy", json.RawMessage(`{"indicators":[{"type":"X","period":1}]}`))
	assert.Error(t, err)
}
