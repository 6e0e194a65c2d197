package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const gateBaseURL = "https://api.gateio.ws/api/v4"

// GateClient is a Gate.io public candlestick client with a short in-memory
// TTL cache per (symbol, timeframe) so a burst of workers on the same bar
// does not hammer the API.
type GateClient struct {
	http    *http.Client
	base    string
	limiter *rate.Limiter
	ttl     time.Duration

	mu    sync.Mutex
	cache map[cacheKey]*cacheEntry
}

type cacheKey struct {
	symbol string
	tf     string
}

type cacheEntry struct {
	fetched time.Time
	bars    []Bar
}

// NewGateClient creates a Gate.io client with rate limiting and a 5s cache.
func NewGateClient() *GateClient {
	return &GateClient{
		http:    &http.Client{Timeout: 10 * time.Second},
		base:    gateBaseURL,
		limiter: rate.NewLimiter(rate.Limit(10), 20),
		ttl:     5 * time.Second,
		cache:   make(map[cacheKey]*cacheEntry),
	}
}

// NewGateClientWithBase is for tests pointing at a stub server.
func NewGateClientWithBase(base string) *GateClient {
	c := NewGateClient()
	c.base = base
	return c
}

// History fetches recent candlesticks oldest-first. On a network failure it
// serves the last good cache if one exists.
func (c *GateClient) History(symbol, timeframe string, limit int) ([]Bar, error) {
	if !ValidTimeframe(timeframe) {
		return nil, fmt.Errorf("unsupported timeframe %q", timeframe)
	}
	key := cacheKey{symbol, timeframe}

	c.mu.Lock()
	cached := c.cache[key]
	if cached != nil && time.Since(cached.fetched) < c.ttl {
		bars := tail(cached.bars, limit)
		c.mu.Unlock()
		return bars, nil
	}
	c.mu.Unlock()

	bars, err := c.fetch(symbol, timeframe, limit)
	if err != nil {
		if cached != nil {
			return tail(cached.bars, limit), nil
		}
		return nil, err
	}

	c.mu.Lock()
	c.cache[key] = &cacheEntry{fetched: time.Now(), bars: bars}
	c.mu.Unlock()
	return tail(bars, limit), nil
}

func (c *GateClient) fetch(symbol, timeframe string, limit int) ([]Bar, error) {
	c.limiter.Wait(context.Background())

	u := fmt.Sprintf("%s/spot/candlesticks?%s", c.base, url.Values{
		"currency_pair": {symbol},
		"interval":      {timeframe},
		"limit":         {strconv.Itoa(limit)},
	}.Encode())

	resp, err := c.http.Get(u)
	if err != nil {
		return nil, fmt.Errorf("gate fetch %s: %w", symbol, err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		resp.Body.Close()
		time.Sleep(1500 * time.Millisecond)
		resp, err = c.http.Get(u)
		if err != nil {
			return nil, fmt.Errorf("gate fetch %s: %w", symbol, err)
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("gate %d: %s", resp.StatusCode, string(body))
	}

	// Gate rows are arrays of strings: [ts, open, close, high, low, volume, ...]
	var raw [][]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("gate decode: %w", err)
	}

	bars := make([]Bar, 0, len(raw))
	for _, row := range raw {
		if len(row) < 6 {
			continue
		}
		ts, err0 := rawFloat(row[0])
		op, err1 := rawFloat(row[1])
		cl, err2 := rawFloat(row[2])
		hi, err3 := rawFloat(row[3])
		lo, err4 := rawFloat(row[4])
		vol, err5 := rawFloat(row[5])
		if err0 != nil || err1 != nil || err2 != nil || err3 != nil || err4 != nil || err5 != nil {
			continue
		}
		bars = append(bars, Bar{TS: int64(ts), Open: op, High: hi, Low: lo, Close: cl, Volume: vol})
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].TS < bars[j].TS })
	return bars, nil
}

// rawFloat parses a JSON value that may be a quoted number or a bare number.
func rawFloat(raw json.RawMessage) (float64, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strconv.ParseFloat(s, 64)
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, err
	}
	return f, nil
}

func tail(bars []Bar, limit int) []Bar {
	if limit > 0 && len(bars) > limit {
		return bars[len(bars)-limit:]
	}
	return bars
}

// LastPrice returns the latest close for a symbol, with its bar timestamp.
func (c *GateClient) LastPrice(symbol, timeframe string) (int64, float64, error) {
	bars, err := c.History(symbol, timeframe, 1)
	if err != nil {
		return 0, 0, err
	}
	if len(bars) == 0 {
		return 0, 0, fmt.Errorf("no bars for %s", symbol)
	}
	last := bars[len(bars)-1]
	return last.TS, last.Close, nil
}
