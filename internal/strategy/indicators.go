package strategy

import (
	"math"

	"tradebot/internal/market"
)

// Indicator helpers return (value, ok); ok is false during warm-up when the
// window is too short to produce a value.

func sma(values []float64, period int) (float64, bool) {
	if period <= 0 || len(values) < period {
		return 0, false
	}
	var sum float64
	for _, v := range values[len(values)-period:] {
		sum += v
	}
	return sum / float64(period), true
}

func emaIndicator(values []float64, period int) (float64, bool) {
	if period <= 0 || len(values) < period {
		return 0, false
	}
	var seed float64
	for _, v := range values[:period] {
		seed += v
	}
	ema := seed / float64(period)
	k := 2.0 / float64(period+1)
	for _, v := range values[period:] {
		ema = (v-ema)*k + ema
	}
	return ema, true
}

func rsiIndicator(values []float64, period int) (float64, bool) {
	if period <= 0 || len(values) < period+1 {
		return 0, false
	}
	gains := make([]float64, 0, len(values)-1)
	losses := make([]float64, 0, len(values)-1)
	for i := 1; i < len(values); i++ {
		change := values[i] - values[i-1]
		gains = append(gains, math.Max(change, 0))
		losses = append(losses, math.Max(-change, 0))
	}
	avgGain, _ := sma(gains, period)
	avgLoss, _ := sma(losses, period)
	if avgLoss == 0 {
		return 100, true
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs), true
}

// bollinger uses population standard deviation over the window.
func bollinger(values []float64, period int, stdDev float64) (lower, middle, upper float64, ok bool) {
	if period <= 0 || len(values) < period {
		return 0, 0, 0, false
	}
	recent := values[len(values)-period:]
	var sum float64
	for _, v := range recent {
		sum += v
	}
	middle = sum / float64(period)
	var variance float64
	for _, v := range recent {
		variance += (v - middle) * (v - middle)
	}
	std := math.Sqrt(variance / float64(period))
	return middle - std*stdDev, middle, middle + std*stdDev, true
}

func atrIndicator(bars []market.Bar, period int) (float64, bool) {
	if period <= 0 || len(bars) < period+1 {
		return 0, false
	}
	trs := make([]float64, 0, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		tr := bars[i].High - bars[i].Low
		if d := math.Abs(bars[i].High - bars[i-1].Close); d > tr {
			tr = d
		}
		if d := math.Abs(bars[i].Low - bars[i-1].Close); d > tr {
			tr = d
		}
		trs = append(trs, tr)
	}
	return sma(trs, period)
}
