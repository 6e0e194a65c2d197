package strategy

// SeedGenomes returns the hand-crafted starting population for evolution:
// RSI mean reversion, SMA crossover with trend, Bollinger bounce, EMA trend,
// and a multi-indicator confluence setup.
func SeedGenomes() []*Genome {
	return []*Genome{
		{
			Indicators: []IndicatorSpec{{Type: "RSI", Period: 14}},
			EntryLong: Rule{Logic: "AND", Conditions: []Condition{
				{Type: "indicator_compare", Left: "RSI", Op: "<", Right: NumOperand(30)},
			}},
			ExitLong: Rule{Logic: "OR", Conditions: []Condition{
				{Type: "indicator_compare", Left: "RSI", Op: ">", Right: NumOperand(70)},
			}},
			ConfirmBars: 2,
		},
		{
			Indicators: []IndicatorSpec{
				{Type: "SMA", Period: 20, Source: "close"},
				{Type: "SMA", Period: 50, Source: "close"},
			},
			EntryLong: Rule{Logic: "AND", Conditions: []Condition{
				{Type: "price_compare", Left: "close", Op: ">", Right: KeyOperand("SMA_20")},
				{Type: "indicator_compare", Left: "SMA_20", Op: ">", Right: KeyOperand("SMA_50")},
			}},
			ExitLong: Rule{Logic: "OR", Conditions: []Condition{
				{Type: "price_compare", Left: "close", Op: "<", Right: KeyOperand("SMA_20")},
			}},
			ConfirmBars: 2,
		},
		{
			Indicators: []IndicatorSpec{
				{Type: "BB", Period: 20, StdDev: 2.0},
				{Type: "RSI", Period: 14},
			},
			EntryLong: Rule{Logic: "AND", Conditions: []Condition{
				{Type: "price_compare", Left: "close", Op: "<", Right: KeyOperand("BB_lower")},
				{Type: "indicator_compare", Left: "RSI", Op: "<", Right: NumOperand(40)},
			}},
			ExitLong: Rule{Logic: "OR", Conditions: []Condition{
				{Type: "price_compare", Left: "close", Op: ">", Right: KeyOperand("BB_upper")},
			}},
			ConfirmBars: 2,
		},
		{
			Indicators: []IndicatorSpec{
				{Type: "EMA", Period: 20, Source: "close"},
				{Type: "ATR", Period: 14},
			},
			EntryLong: Rule{Logic: "AND", Conditions: []Condition{
				{Type: "price_compare", Left: "close", Op: ">", Right: KeyOperand("EMA_20")},
			}},
			ExitLong: Rule{Logic: "OR", Conditions: []Condition{
				{Type: "price_compare", Left: "close", Op: "<", Right: KeyOperand("EMA_20")},
			}},
			ConfirmBars: 3,
		},
		{
			Indicators: []IndicatorSpec{
				{Type: "SMA", Period: 50, Source: "close"},
				{Type: "RSI", Period: 14},
				{Type: "BB", Period: 20, StdDev: 2.0},
			},
			EntryLong: Rule{Logic: "AND", Conditions: []Condition{
				{Type: "price_compare", Left: "close", Op: ">", Right: KeyOperand("SMA_50")},
				{Type: "indicator_compare", Left: "RSI", Op: "<", Right: NumOperand(50)},
				{Type: "price_compare", Left: "close", Op: ">", Right: KeyOperand("BB_lower")},
			}},
			ExitLong: Rule{Logic: "OR", Conditions: []Condition{
				{Type: "indicator_compare", Left: "RSI", Op: ">", Right: NumOperand(70)},
			}},
			ConfirmBars: 2,
		},
	}
}
