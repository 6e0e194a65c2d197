package market

import (
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"tradebot/internal/db"
)

const gateMaxBars = 1000

// BackfillGate pulls up to 1000 bars per symbol from Gate.io into the bar
// cache. Symbols already holding enough cached bars are skipped. Returns a
// per-symbol status message.
func BackfillGate(store *db.DB, gate *GateClient, symbols []string, timeframe string, bars int) map[string]string {
	if bars > gateMaxBars {
		bars = gateMaxBars
	}

	results := make(map[string]string, len(symbols))
	var mu sync.Mutex
	set := func(symbol, msg string) {
		mu.Lock()
		results[symbol] = msg
		mu.Unlock()
	}

	var g errgroup.Group
	g.SetLimit(3)
	for _, symbol := range symbols {
		g.Go(func() error {
			coverage, err := store.GetBarCoverage(symbol, timeframe)
			if err != nil {
				set(symbol, fmt.Sprintf("error: %v", err))
				return nil
			}
			if coverage != nil && coverage.Count >= bars {
				set(symbol, fmt.Sprintf("already cached (%d bars)", coverage.Count))
				return nil
			}

			fetched, err := gate.History(symbol, timeframe, bars)
			if err != nil {
				set(symbol, fmt.Sprintf("error: %v", err))
				return nil
			}
			if len(fetched) == 0 {
				set(symbol, "no data returned")
				return nil
			}
			if err := store.StoreBars(symbol, timeframe, rowsFromBars(fetched), "gate"); err != nil {
				set(symbol, fmt.Sprintf("error: %v", err))
				return nil
			}

			count := len(fetched)
			if final, err := store.GetBarCoverage(symbol, timeframe); err == nil && final != nil {
				count = final.Count
			}
			set(symbol, fmt.Sprintf("cached %d bars (%s)", count, timeframe))
			return nil
		})
	}
	g.Wait()
	return results
}

// BackfillDaily pulls daily bars from CoinGecko, serially, pacing requests
// for the free-tier rate limit. Days above 90 are clamped.
func BackfillDaily(store *db.DB, gecko *CoinGeckoClient, symbols []string, days int) map[string]string {
	if days > 90 {
		days = 90
	}

	results := make(map[string]string, len(symbols))
	for _, symbol := range symbols {
		coverage, err := store.GetBarCoverage(symbol, "1d")
		if err != nil {
			results[symbol] = fmt.Sprintf("error: %v", err)
			continue
		}
		if coverage != nil && coverage.Count >= days {
			results[symbol] = fmt.Sprintf("already cached (%d bars)", coverage.Count)
			continue
		}

		gecko.Wait()
		bars, err := gecko.History(symbol, "1d", days)
		if err != nil {
			results[symbol] = fmt.Sprintf("error: %v", err)
			continue
		}
		if len(bars) == 0 {
			results[symbol] = "no data returned"
			continue
		}
		if err := store.StoreBars(symbol, "1d", rowsFromBars(bars), "coingecko"); err != nil {
			results[symbol] = fmt.Sprintf("error: %v", err)
			continue
		}

		count := len(bars)
		if final, err := store.GetBarCoverage(symbol, "1d"); err == nil && final != nil {
			count = final.Count
		}
		results[symbol] = fmt.Sprintf("cached %d daily bars", count)
	}
	return results
}
