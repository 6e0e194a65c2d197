package exec

import (
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

type recordedTrade struct {
	bot, symbol, side string
	qty, price, fee   float64
	isMaker           bool
}

type fakeRecorder struct {
	trades []recordedTrade
	err    error
}

func (f *fakeRecorder) RecordTrade(bot, symbol, side string, qty, price, fee float64, isMaker bool, ts int64) error {
	if f.err != nil {
		return f.err
	}
	f.trades = append(f.trades, recordedTrade{bot, symbol, side, qty, price, fee, isMaker})
	return nil
}

func TestPaperExec_MarketOrder(t *testing.T) {
	rec := &fakeRecorder{}
	p := NewPaperExec("w1", rec)

	fill, err := p.MarketOrder("BTC_USDT", "buy", 0.5, 50000)
	if err != nil {
		t.Fatalf("MarketOrder: %v", err)
	}
	if fill.Status != StatusFilled || fill.FilledQty != 0.5 || fill.AvgPrice != 50000 {
		t.Errorf("fill = %+v", fill)
	}
	if fill.IsMaker {
		t.Error("market orders are always taker")
	}
	if math.Abs(fill.Fee-25) > 1e-9 {
		t.Errorf("fee = %v, want 25 (0.1%% of 25000)", fill.Fee)
	}
	if len(rec.trades) != 1 || rec.trades[0].bot != "w1" || rec.trades[0].fee != fill.Fee {
		t.Errorf("recorded = %+v", rec.trades)
	}
}

func TestPaperExec_LimitOrderMakerTakerSplit(t *testing.T) {
	rec := &fakeRecorder{}
	maker := NewPaperExecWithRand("w1", rec, func() float64 { return 0.5 })
	fill, err := maker.LimitOrder("BTC_USDT", "buy", 1, 100, 60)
	if err != nil {
		t.Fatal(err)
	}
	if !fill.IsMaker || fill.Fee != 0 {
		t.Errorf("maker fill = %+v, want free maker", fill)
	}

	taker := NewPaperExecWithRand("w1", rec, func() float64 { return 0.95 })
	fill, err = taker.LimitOrder("BTC_USDT", "sell", 1, 100, 60)
	if err != nil {
		t.Fatal(err)
	}
	if fill.IsMaker {
		t.Error("rng above fill probability should be taker")
	}
	if math.Abs(fill.Fee-0.1) > 1e-9 {
		t.Errorf("taker fee = %v, want 0.1", fill.Fee)
	}
	if len(rec.trades) != 2 {
		t.Errorf("trades recorded = %d, want 2", len(rec.trades))
	}
}

func TestFormatQtyAndPrice(t *testing.T) {
	if got := formatQty("BTC_USDT", 0.123456789); got != "0.12345" {
		t.Errorf("BTC qty = %q", got)
	}
	if got := formatQty("SOL_USDT", 12.3456); got != "12.34" {
		t.Errorf("SOL qty = %q", got)
	}
	if got := formatPrice("BTC_USDT", 50000.123); got != "50000.12" {
		t.Errorf("BTC price = %q", got)
	}
	if got := formatPrice("SOL_USDT", 150.12345); got != "150.123" {
		t.Errorf("SOL price = %q", got)
	}
}

func TestBinanceExec_LimitOrderRestsThenFills(t *testing.T) {
	var polls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-MBX-APIKEY") != "key" {
			t.Error("missing api key header")
		}
		if r.URL.Query().Get("signature") == "" {
			t.Error("missing signature")
		}
		switch r.Method {
		case http.MethodPost:
			fmt.Fprint(w, `{"status":"NEW","executedQty":"0","cummulativeQuoteQty":"0"}`)
		case http.MethodGet:
			if atomic.AddInt32(&polls, 1) < 2 {
				fmt.Fprint(w, `{"status":"NEW","executedQty":"0","cummulativeQuoteQty":"0"}`)
				return
			}
			fmt.Fprint(w, `{"status":"FILLED","executedQty":"0.5","cummulativeQuoteQty":"25000"}`)
		}
	}))
	defer srv.Close()

	rec := &fakeRecorder{}
	e := NewBinanceTestnetExecWithBase("w1", "key", "secret", srv.URL, rec)

	fill, err := e.LimitOrder("BTC_USDT", "buy", 0.5, 50000, 2)
	if err != nil {
		t.Fatalf("LimitOrder: %v", err)
	}
	if fill.Status != StatusFilled || fill.FilledQty != 0.5 || fill.AvgPrice != 50000 {
		t.Errorf("fill = %+v", fill)
	}
	if !fill.IsMaker || fill.Fee != 0 {
		t.Errorf("rested fill should be maker with no fee: %+v", fill)
	}
	if len(rec.trades) != 1 || !rec.trades[0].isMaker {
		t.Errorf("recorded = %+v", rec.trades)
	}
}

func TestBinanceExec_ImmediateFillIsTaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"FILLED","executedQty":"1","cummulativeQuoteQty":"100"}`)
	}))
	defer srv.Close()

	rec := &fakeRecorder{}
	e := NewBinanceTestnetExecWithBase("w1", "key", "secret", srv.URL, rec)
	fill, err := e.LimitOrder("ETH_USDT", "buy", 1, 100, 2)
	if err != nil {
		t.Fatal(err)
	}
	if fill.IsMaker {
		t.Error("immediate fill should be taker")
	}
	if math.Abs(fill.Fee-0.1) > 1e-9 {
		t.Errorf("fee = %v, want estimated 0.1%%", fill.Fee)
	}
}

func TestBinanceExec_TimeoutCancels(t *testing.T) {
	var cancelled int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			atomic.StoreInt32(&cancelled, 1)
		}
		fmt.Fprint(w, `{"status":"NEW","executedQty":"0","cummulativeQuoteQty":"0"}`)
	}))
	defer srv.Close()

	rec := &fakeRecorder{}
	e := NewBinanceTestnetExecWithBase("w1", "key", "secret", srv.URL, rec)
	fill, err := e.LimitOrder("BTC_USDT", "buy", 0.5, 50000, 0)
	if err != nil {
		t.Fatal(err)
	}
	if fill.Status != StatusTimeout {
		t.Errorf("status = %q, want timeout", fill.Status)
	}
	if atomic.LoadInt32(&cancelled) != 1 {
		t.Error("cancel was not attempted")
	}
	if len(rec.trades) != 0 {
		t.Errorf("timeout should not record a trade: %+v", rec.trades)
	}
}

func TestBinanceExec_NetworkFailureFallsBackToPaper(t *testing.T) {
	rec := &fakeRecorder{}
	e := NewBinanceTestnetExecWithBase("w1", "key", "secret", "http://127.0.0.1:1", rec)
	e.paper = NewPaperExecWithRand("w1", rec, func() float64 { return 0.1 })

	fill, err := e.LimitOrder("BTC_USDT", "buy", 0.5, 50000, 1)
	if err != nil {
		t.Fatalf("fallback should not error: %v", err)
	}
	if fill.Status != StatusFilled || fill.AvgPrice != 50000 {
		t.Errorf("paper fallback fill = %+v", fill)
	}
	if len(rec.trades) != 1 {
		t.Errorf("trades = %d, want 1 paper trade", len(rec.trades))
	}
}
