package market

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"time"

	"golang.org/x/time/rate"
)

const coinGeckoBaseURL = "https://api.coingecko.com/api/v3"

// coinGeckoIDs maps exchange pairs to CoinGecko coin ids.
var coinGeckoIDs = map[string]string{
	"BTC_USDT":   "bitcoin",
	"ETH_USDT":   "ethereum",
	"SOL_USDT":   "solana",
	"BNB_USDT":   "binancecoin",
	"XRP_USDT":   "ripple",
	"ADA_USDT":   "cardano",
	"AVAX_USDT":  "avalanche-2",
	"DOGE_USDT":  "dogecoin",
	"DOT_USDT":   "polkadot",
	"MATIC_USDT": "matic-network",
}

// CoinGeckoClient serves daily OHLC history from the free CoinGecko API.
// The free tier caps the /ohlc endpoint at roughly 90 days, so requests
// above that are clamped. Volume is not available on this endpoint.
type CoinGeckoClient struct {
	http    *http.Client
	base    string
	limiter *rate.Limiter
}

func NewCoinGeckoClient() *CoinGeckoClient {
	return &CoinGeckoClient{
		http:    &http.Client{Timeout: 15 * time.Second},
		base:    coinGeckoBaseURL,
		limiter: rate.NewLimiter(rate.Every(5*time.Second), 1),
	}
}

// NewCoinGeckoClientWithBase is for tests pointing at a stub server.
func NewCoinGeckoClientWithBase(base string) *CoinGeckoClient {
	c := NewCoinGeckoClient()
	c.base = base
	c.limiter = rate.NewLimiter(rate.Inf, 1)
	return c
}

// History fetches daily bars oldest-first. Only the "1d" timeframe is served.
func (c *CoinGeckoClient) History(symbol, timeframe string, limit int) ([]Bar, error) {
	if timeframe != "1d" {
		return nil, fmt.Errorf("coingecko only serves 1d bars, got %q", timeframe)
	}
	coinID, ok := coinGeckoIDs[symbol]
	if !ok {
		return nil, fmt.Errorf("unsupported symbol %q for coingecko", symbol)
	}
	days := limit
	if days > 90 {
		days = 90
	}

	req, err := http.NewRequest(http.MethodGet,
		fmt.Sprintf("%s/coins/%s/ohlc?%s", c.base, coinID, url.Values{
			"vs_currency": {"usd"},
			"days":        {fmt.Sprint(days)},
		}.Encode()), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "tradebot/1.0")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coingecko fetch %s: %w", symbol, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("coingecko %d: %s", resp.StatusCode, string(body))
	}

	// Rows are [timestamp_ms, open, high, low, close].
	var raw [][]float64
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("coingecko decode: %w", err)
	}
	bars := make([]Bar, 0, len(raw))
	for _, row := range raw {
		if len(row) < 5 {
			continue
		}
		bars = append(bars, Bar{
			TS:    int64(row[0]) / 1000,
			Open:  row[1],
			High:  row[2],
			Low:   row[3],
			Close: row[4],
		})
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].TS < bars[j].TS })
	return bars, nil
}

// Wait blocks until the next request slot per the free-tier rate budget.
func (c *CoinGeckoClient) Wait() {
	r := c.limiter.Reserve()
	time.Sleep(r.Delay())
}
