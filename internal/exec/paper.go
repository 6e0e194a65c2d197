package exec

import (
	"math/rand"
)

const (
	takerFeeRate  = 0.001 // 0.10%
	makerFillProb = 0.80
)

// PaperExec simulates fills instantly. Market orders fill at the price hint
// and pay the taker fee. Limit orders fill at the limit price and rest on
// the book often enough to be classified maker (fee-free) most of the time.
type PaperExec struct {
	bot   string
	store TradeRecorder
	rng   func() float64
}

func NewPaperExec(bot string, store TradeRecorder) *PaperExec {
	return &PaperExec{bot: bot, store: store, rng: rand.Float64}
}

// NewPaperExecWithRand fixes the maker/taker coin flip for tests.
func NewPaperExecWithRand(bot string, store TradeRecorder, rng func() float64) *PaperExec {
	return &PaperExec{bot: bot, store: store, rng: rng}
}

func (p *PaperExec) MarketOrder(symbol, side string, qty, priceHint float64) (Fill, error) {
	fee := qty * priceHint * takerFeeRate
	fill := Fill{Status: StatusFilled, FilledQty: qty, AvgPrice: priceHint, Fee: fee, IsMaker: false}
	if err := p.store.RecordTrade(p.bot, symbol, side, qty, priceHint, fee, false, 0); err != nil {
		return Fill{}, err
	}
	return fill, nil
}

func (p *PaperExec) LimitOrder(symbol, side string, qty, limitPrice float64, timeoutSeconds int) (Fill, error) {
	isMaker := p.rng() < makerFillProb
	var fee float64
	if !isMaker {
		fee = qty * limitPrice * takerFeeRate
	}
	fill := Fill{Status: StatusFilled, FilledQty: qty, AvgPrice: limitPrice, Fee: fee, IsMaker: isMaker}
	if err := p.store.RecordTrade(p.bot, symbol, side, qty, limitPrice, fee, isMaker, 0); err != nil {
		return Fill{}, err
	}
	return fill, nil
}
