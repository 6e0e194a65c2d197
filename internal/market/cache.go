package market

import (
	"fmt"

	"golang.org/x/sync/singleflight"

	"tradebot/internal/db"
)

// CachedProvider wraps a DataProvider with the SQLite bar cache. Closed bars
// never change, so cached rows never expire. Concurrent workers asking for
// the same (symbol, timeframe) share a single upstream fetch.
type CachedProvider struct {
	provider DataProvider
	store    *db.DB
	source   string
	group    singleflight.Group
}

func NewCachedProvider(provider DataProvider, store *db.DB, source string) *CachedProvider {
	return &CachedProvider{provider: provider, store: store, source: source}
}

// History serves from the cache when it holds at least `limit` bars,
// otherwise fetches from the underlying provider and caches the result.
func (c *CachedProvider) History(symbol, timeframe string, limit int) ([]Bar, error) {
	coverage, err := c.store.GetBarCoverage(symbol, timeframe)
	if err != nil {
		return nil, err
	}
	if coverage != nil && coverage.Count >= limit {
		rows, err := c.store.GetRecentBars(symbol, timeframe, limit)
		if err != nil {
			return nil, err
		}
		if len(rows) >= limit {
			return barsFromRows(rows), nil
		}
	}

	key := fmt.Sprintf("%s|%s|%d", symbol, timeframe, limit)
	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		bars, err := c.provider.History(symbol, timeframe, limit)
		if err != nil {
			return nil, err
		}
		if len(bars) > 0 {
			if err := c.store.StoreBars(symbol, timeframe, rowsFromBars(bars), c.source); err != nil {
				return nil, err
			}
		}
		return bars, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]Bar), nil
}

func barsFromRows(rows []db.BarRow) []Bar {
	out := make([]Bar, len(rows))
	for i, r := range rows {
		out[i] = Bar{TS: r.TS, Open: r.Open, High: r.High, Low: r.Low, Close: r.Close, Volume: r.Volume}
	}
	return out
}

func rowsFromBars(bars []Bar) []db.BarRow {
	out := make([]db.BarRow, len(bars))
	for i, b := range bars {
		out[i] = db.BarRow{TS: b.TS, Open: b.Open, High: b.High, Low: b.Low, Close: b.Close, Volume: b.Volume}
	}
	return out
}
