package market

import "fmt"

// Bar is one immutable OHLCV sample. TS identifies the bar.
type Bar struct {
	TS     int64   `json:"ts"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// DataProvider serves recent bars oldest-first, honoring limit as a hard cap.
type DataProvider interface {
	History(symbol, timeframe string, limit int) ([]Bar, error)
}

var tfSeconds = map[string]int64{
	"1m":  60,
	"3m":  180,
	"5m":  300,
	"15m": 900,
	"30m": 1800,
	"1h":  3600,
	"4h":  14400,
	"8h":  28800,
	"1d":  86400,
	"7d":  604800,
	"1w":  604800,
}

// TFSeconds returns the duration of one bar for a timeframe.
func TFSeconds(tf string) (int64, error) {
	sec, ok := tfSeconds[tf]
	if !ok {
		return 0, fmt.Errorf("unknown timeframe %q", tf)
	}
	return sec, nil
}

// ValidTimeframe reports whether tf is a recognized timeframe.
func ValidTimeframe(tf string) bool {
	_, ok := tfSeconds[tf]
	return ok
}
