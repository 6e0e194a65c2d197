package strategy

import (
	"encoding/json"
	"math"

	"tradebot/internal/market"
)

// MeanReversionParams configure a Bollinger-style band fade on an SMA with a
// mean absolute deviation band.
type MeanReversionParams struct {
	Lookback    int     `json:"lookback"`
	Band        float64 `json:"band"`
	ConfirmBars int     `json:"confirm_bars"`
}

type MeanReversion struct {
	params  MeanReversionParams
	closes  []float64
	lastTS  int64
	confirm confirmFilter
}

func NewMeanReversion(p MeanReversionParams) *MeanReversion {
	if p.Lookback <= 0 {
		p.Lookback = 20
	}
	if p.Band <= 0 {
		p.Band = 2.0
	}
	return &MeanReversion{params: p, confirm: newConfirmFilter(p.ConfirmBars)}
}

func (s *MeanReversion) Name() string            { return "MeanReversion" }
func (s *MeanReversion) Params() json.RawMessage { return mustJSON(s.params) }

func (s *MeanReversion) OnBar(bars []market.Bar) float64 {
	for _, b := range bars {
		if b.TS <= s.lastTS {
			continue
		}
		s.lastTS = b.TS
		s.closes = appendBounded(s.closes, b.Close, maxInt(s.params.Lookback, 50))
	}
	if len(s.closes) < s.params.Lookback {
		return s.confirm.apply(0)
	}
	ma, _ := sma(s.closes, s.params.Lookback)

	devs := make([]float64, len(s.closes))
	for i, c := range s.closes {
		devs[i] = math.Abs(c - ma)
	}
	dev, _ := sma(devs, s.params.Lookback)
	if dev == 0 {
		dev = 1.0
	}

	last := s.closes[len(s.closes)-1]
	raw := 0.0
	if last < ma-s.params.Band*dev {
		raw = 1
	} else if last > ma+s.params.Band*dev {
		raw = -1
	}
	return s.confirm.apply(raw)
}

// BreakoutParams configure a channel breakout over recent highs and lows.
type BreakoutParams struct {
	Lookback    int `json:"lookback"`
	ConfirmBars int `json:"confirm_bars"`
}

type Breakout struct {
	params  BreakoutParams
	highs   []float64
	lows    []float64
	last    float64
	lastTS  int64
	confirm confirmFilter
}

func NewBreakout(p BreakoutParams) *Breakout {
	if p.Lookback <= 0 {
		p.Lookback = 50
	}
	return &Breakout{params: p, confirm: newConfirmFilter(p.ConfirmBars)}
}

func (s *Breakout) Name() string            { return "Breakout" }
func (s *Breakout) Params() json.RawMessage { return mustJSON(s.params) }

func (s *Breakout) OnBar(bars []market.Bar) float64 {
	for _, b := range bars {
		if b.TS <= s.lastTS {
			continue
		}
		s.lastTS = b.TS
		s.highs = appendBounded(s.highs, b.High, s.params.Lookback)
		s.lows = appendBounded(s.lows, b.Low, s.params.Lookback)
		s.last = b.Close
	}
	if len(s.highs) < s.params.Lookback {
		return s.confirm.apply(0)
	}
	raw := 0.0
	if s.last >= maxOf(s.highs) {
		raw = 1
	} else if s.last <= minOf(s.lows) {
		raw = -1
	}
	return s.confirm.apply(raw)
}

// TrendFollowParams configure a fast/slow SMA cross.
type TrendFollowParams struct {
	Fast        int `json:"fast"`
	Slow        int `json:"slow"`
	ConfirmBars int `json:"confirm_bars"`
}

type TrendFollow struct {
	params  TrendFollowParams
	closes  []float64
	lastTS  int64
	confirm confirmFilter
}

func NewTrendFollow(p TrendFollowParams) *TrendFollow {
	if p.Fast <= 0 {
		p.Fast = 10
	}
	if p.Slow <= 0 {
		p.Slow = 50
	}
	return &TrendFollow{params: p, confirm: newConfirmFilter(p.ConfirmBars)}
}

func (s *TrendFollow) Name() string            { return "TrendFollow" }
func (s *TrendFollow) Params() json.RawMessage { return mustJSON(s.params) }

func (s *TrendFollow) OnBar(bars []market.Bar) float64 {
	for _, b := range bars {
		if b.TS <= s.lastTS {
			continue
		}
		s.lastTS = b.TS
		s.closes = appendBounded(s.closes, b.Close, maxInt(s.params.Slow, 200))
	}
	if len(s.closes) < s.params.Slow {
		return s.confirm.apply(0)
	}
	fast, _ := sma(s.closes, s.params.Fast)
	slow, _ := sma(s.closes, s.params.Slow)
	raw := 0.0
	if fast > slow {
		raw = 1
	} else if fast < slow {
		raw = -1
	}
	return s.confirm.apply(raw)
}

// Built-in parameter grids swept by the optimizer and used as the portfolio
// fallback when no evolved strategies qualify.
var (
	MeanReversionGrid = []MeanReversionParams{
		{Lookback: 20, Band: 2.0, ConfirmBars: 1},
		{Lookback: 50, Band: 2.0, ConfirmBars: 1},
		{Lookback: 100, Band: 2.5, ConfirmBars: 1},
	}
	BreakoutGrid = []BreakoutParams{
		{Lookback: 20, ConfirmBars: 1},
		{Lookback: 60, ConfirmBars: 1},
		{Lookback: 120, ConfirmBars: 1},
	}
	TrendFollowGrid = []TrendFollowParams{
		{Fast: 10, Slow: 50, ConfirmBars: 1},
		{Fast: 20, Slow: 100, ConfirmBars: 1},
		{Fast: 50, Slow: 200, ConfirmBars: 1},
	}
)

func appendBounded(buf []float64, v float64, max int) []float64 {
	buf = append(buf, v)
	if len(buf) > max {
		buf = buf[len(buf)-max:]
	}
	return buf
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func maxOf(vals []float64) float64 {
	m := vals[0]
	for _, v := range vals[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

func minOf(vals []float64) float64 {
	m := vals[0]
	for _, v := range vals[1:] {
		if v < m {
			m = v
		}
	}
	return m
}
