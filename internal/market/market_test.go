package market

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"

	"tradebot/internal/db"
)

func openTestStore(t *testing.T) *db.DB {
	t.Helper()
	d, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func gateResponse() string {
	// newest first on the wire, rows are [ts, open, close, high, low, volume]
	return `[
		["180","2.0","2.5","3.0","1.5","8"],
		["60","1.0","1.5","2.0","0.5","10"],
		["120","1.5","2.0","2.5","1.0","12"]
	]`
}

func TestGateClient_ParsesAndSortsBars(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/spot/candlesticks" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("currency_pair"); got != "BTC_USDT" {
			t.Errorf("currency_pair = %s", got)
		}
		fmt.Fprint(w, gateResponse())
	}))
	defer srv.Close()

	c := NewGateClientWithBase(srv.URL)
	bars, err := c.History("BTC_USDT", "1m", 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(bars) != 3 {
		t.Fatalf("bars = %d, want 3", len(bars))
	}
	if bars[0].TS != 60 || bars[2].TS != 180 {
		t.Errorf("bars not oldest-first: %d..%d", bars[0].TS, bars[2].TS)
	}
	if bars[0].Open != 1.0 || bars[0].Close != 1.5 || bars[0].High != 2.0 || bars[0].Low != 0.5 || bars[0].Volume != 10 {
		t.Errorf("bar fields misparsed: %+v", bars[0])
	}
}

func TestGateClient_RetriesOnceOn429(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, gateResponse())
	}))
	defer srv.Close()

	c := NewGateClientWithBase(srv.URL)
	bars, err := c.History("BTC_USDT", "1m", 10)
	if err != nil {
		t.Fatalf("History after 429: %v", err)
	}
	if len(bars) != 3 {
		t.Errorf("bars = %d, want 3", len(bars))
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestGateClient_ServesCacheOnNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, gateResponse())
	}))

	c := NewGateClientWithBase(srv.URL)
	if _, err := c.History("BTC_USDT", "1m", 10); err != nil {
		t.Fatalf("warm-up fetch: %v", err)
	}

	srv.Close()
	c.ttl = 0 // force a refetch attempt, which will fail

	bars, err := c.History("BTC_USDT", "1m", 2)
	if err != nil {
		t.Fatalf("cached fallback: %v", err)
	}
	if len(bars) != 2 || bars[1].TS != 180 {
		t.Errorf("fallback bars = %+v", bars)
	}
}

func TestGateClient_RejectsUnknownTimeframe(t *testing.T) {
	c := NewGateClient()
	if _, err := c.History("BTC_USDT", "2m", 10); err == nil {
		t.Error("expected error for unknown timeframe")
	}
}

func TestCoinGeckoClient_DailyBars(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/coins/bitcoin/ohlc" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("days"); got != "90" {
			t.Errorf("days = %s, want 90 (clamped)", got)
		}
		fmt.Fprint(w, `[[1706745600000, 100, 110, 95, 105], [1706832000000, 105, 112, 101, 108]]`)
	}))
	defer srv.Close()

	c := NewCoinGeckoClientWithBase(srv.URL)
	bars, err := c.History("BTC_USDT", "1d", 365)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(bars) != 2 {
		t.Fatalf("bars = %d, want 2", len(bars))
	}
	if bars[0].TS != 1706745600 {
		t.Errorf("ts = %d, want seconds not ms", bars[0].TS)
	}
	if bars[0].Volume != 0 {
		t.Errorf("volume = %v, want 0", bars[0].Volume)
	}

	if _, err := c.History("BTC_USDT", "1m", 10); err == nil {
		t.Error("expected error for non-daily timeframe")
	}
	if _, err := c.History("FOO_USDT", "1d", 10); err == nil {
		t.Error("expected error for unmapped symbol")
	}
}

type countingProvider struct {
	calls int32
	bars  []Bar
	err   error
}

func (p *countingProvider) History(symbol, timeframe string, limit int) ([]Bar, error) {
	atomic.AddInt32(&p.calls, 1)
	if p.err != nil {
		return nil, p.err
	}
	return p.bars, nil
}

func TestCachedProvider_ReadThrough(t *testing.T) {
	store := openTestStore(t)
	upstream := &countingProvider{bars: []Bar{
		{TS: 60, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10},
		{TS: 120, Open: 1.5, High: 2.5, Low: 1, Close: 2, Volume: 12},
		{TS: 180, Open: 2, High: 3, Low: 1.5, Close: 2.5, Volume: 8},
	}}
	c := NewCachedProvider(upstream, store, "gate")

	first, err := c.History("BTC_USDT", "1m", 3)
	if err != nil {
		t.Fatalf("cold fetch: %v", err)
	}
	if len(first) != 3 {
		t.Fatalf("bars = %d, want 3", len(first))
	}
	if upstream.calls != 1 {
		t.Errorf("upstream calls = %d, want 1", upstream.calls)
	}

	// warm: served entirely from the bar cache
	second, err := c.History("BTC_USDT", "1m", 3)
	if err != nil {
		t.Fatalf("warm fetch: %v", err)
	}
	if upstream.calls != 1 {
		t.Errorf("upstream calls after cache hit = %d, want 1", upstream.calls)
	}
	if second[0].TS != 60 || second[2].Close != 2.5 {
		t.Errorf("cached bars = %+v", second)
	}

	// asking for more than cached goes back upstream
	if _, err := c.History("BTC_USDT", "1m", 5); err != nil {
		t.Fatal(err)
	}
	if upstream.calls != 2 {
		t.Errorf("upstream calls = %d, want 2", upstream.calls)
	}
}

func TestBackfillGate_SkipsCoveredSymbols(t *testing.T) {
	store := openTestStore(t)
	if err := store.StoreBars("BTC_USDT", "1d", []db.BarRow{
		{TS: 86400, Close: 1}, {TS: 172800, Close: 2},
	}, "gate"); err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[["259200","3.0","3.5","4.0","2.5","5"]]`)
	}))
	defer srv.Close()

	results := BackfillGate(store, NewGateClientWithBase(srv.URL), []string{"BTC_USDT", "ETH_USDT"}, "1d", 2)
	if results["BTC_USDT"] != "already cached (2 bars)" {
		t.Errorf("BTC status = %q", results["BTC_USDT"])
	}
	if results["ETH_USDT"] != "cached 1 bars (1d)" {
		t.Errorf("ETH status = %q", results["ETH_USDT"])
	}

	cov, err := store.GetBarCoverage("ETH_USDT", "1d")
	if err != nil || cov == nil || cov.Count != 1 {
		t.Errorf("ETH coverage = %+v, err %v", cov, err)
	}
}
