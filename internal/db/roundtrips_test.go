package db

import (
	"math"
	"reflect"
	"testing"
)

func seedBot(t *testing.T, d *DB, name, manager, symbol string) {
	t.Helper()
	err := d.UpsertBot(&BotRow{Name: name, Manager: manager, Symbol: symbol, TF: "1m",
		Strategy: "Breakout", Allocation: 1000, Cash: 1000, Equity: 1000})
	if err != nil {
		t.Fatalf("seed bot %s: %v", name, err)
	}
}

func TestRoundtrips_FIFOLongPair(t *testing.T) {
	d := openTestDB(t)
	defer d.Close()
	seedBot(t, d, "w1", "breakout", "BTC_USDT")

	// buy 1 @ 100, buy 1 @ 110, sell 1 @ 130, sell 1 @ 120
	for i, tr := range []struct {
		side       string
		qty, price float64
	}{
		{"buy", 1, 100}, {"buy", 1, 110}, {"sell", 1, 130}, {"sell", 1, 120},
	} {
		if err := d.RecordTrade("w1", "BTC_USDT", tr.side, tr.qty, tr.price, 0, true, int64(100+i)); err != nil {
			t.Fatal(err)
		}
	}

	rts, err := d.ListRoundtrips(RoundtripFilter{})
	if err != nil {
		t.Fatalf("ListRoundtrips: %v", err)
	}
	if len(rts) != 2 {
		t.Fatalf("roundtrips = %d, want 2", len(rts))
	}
	// newest close first: sell@120 matched the 110 lot
	if rts[0].PnL != 10 || rts[0].Side != "LONG" {
		t.Errorf("rt[0] = %+v, want LONG pnl 10", rts[0])
	}
	if rts[1].PnL != 30 || rts[1].Side != "LONG" {
		t.Errorf("rt[1] = %+v, want LONG pnl 30", rts[1])
	}
	total := rts[0].PnL + rts[1].PnL
	if total != 40 {
		t.Errorf("total pnl = %v, want 40", total)
	}
	if rts[1].DurationS != 2 {
		t.Errorf("duration = %d, want 2", rts[1].DurationS)
	}
}

func TestRoundtrips_PositionFlip(t *testing.T) {
	d := openTestDB(t)
	defer d.Close()
	seedBot(t, d, "w1", "breakout", "ETH_USDT")

	// long 1, then sell 2: closes the long and opens a 1-unit short
	d.RecordTrade("w1", "ETH_USDT", "buy", 1, 100, 0, true, 10)
	d.RecordTrade("w1", "ETH_USDT", "sell", 2, 110, 0, true, 20)
	d.RecordTrade("w1", "ETH_USDT", "buy", 1, 90, 0, true, 30)

	rts, err := d.ListRoundtrips(RoundtripFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(rts) != 2 {
		t.Fatalf("roundtrips = %d, want 2 (long close + short close)", len(rts))
	}
	if rts[0].Side != "SHORT" || math.Abs(rts[0].PnL-20) > 1e-9 {
		t.Errorf("short rt = %+v, want pnl 20", rts[0])
	}
	if rts[1].Side != "LONG" || math.Abs(rts[1].PnL-10) > 1e-9 {
		t.Errorf("long rt = %+v, want pnl 10", rts[1])
	}

	pos, err := d.ListOpenPositions(PositionFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(pos) != 0 {
		t.Errorf("open positions = %+v, want flat", pos)
	}
}

func TestRoundtrips_FeeBpsAdjustsEffectivePrices(t *testing.T) {
	d := openTestDB(t)
	defer d.Close()
	seedBot(t, d, "w1", "breakout", "BTC_USDT")

	d.RecordTrade("w1", "BTC_USDT", "buy", 1, 100, 0, true, 10)
	d.RecordTrade("w1", "BTC_USDT", "sell", 1, 110, 0, true, 20)

	rts, err := d.ListRoundtrips(RoundtripFilter{FeeBps: 10}) // 10 bps per side
	if err != nil {
		t.Fatal(err)
	}
	if len(rts) != 1 {
		t.Fatalf("roundtrips = %d, want 1", len(rts))
	}
	entry := 100 * 1.001
	exit := 110 * 0.999
	if math.Abs(rts[0].PnL-(exit-entry)) > 1e-9 {
		t.Errorf("pnl = %v, want %v", rts[0].PnL, exit-entry)
	}
}

func TestRoundtrips_Deterministic(t *testing.T) {
	d := openTestDB(t)
	defer d.Close()
	seedBot(t, d, "w1", "breakout", "BTC_USDT")
	seedBot(t, d, "w2", "trend_follow", "ETH_USDT")

	d.RecordTrade("w1", "BTC_USDT", "buy", 1, 100, 0, true, 10)
	d.RecordTrade("w2", "ETH_USDT", "buy", 2, 50, 0, true, 11)
	d.RecordTrade("w1", "BTC_USDT", "sell", 1, 105, 0, true, 12)
	d.RecordTrade("w2", "ETH_USDT", "sell", 2, 49, 0, true, 12)

	first, err := d.ListRoundtrips(RoundtripFilter{})
	if err != nil {
		t.Fatal(err)
	}
	for range 10 {
		again, err := d.ListRoundtrips(RoundtripFilter{})
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("reconstruction not deterministic:\n%+v\nvs\n%+v", first, again)
		}
	}
}

func TestRoundtrips_Filters(t *testing.T) {
	d := openTestDB(t)
	defer d.Close()
	seedBot(t, d, "w1", "breakout", "BTC_USDT")
	seedBot(t, d, "w2", "trend_follow", "BTC_USDT")

	d.RecordTrade("w1", "BTC_USDT", "buy", 1, 100, 0, true, 10)
	d.RecordTrade("w1", "BTC_USDT", "sell", 1, 110, 0, true, 11)
	d.RecordTrade("w2", "BTC_USDT", "buy", 1, 100, 0, true, 12)
	d.RecordTrade("w2", "BTC_USDT", "sell", 1, 90, 0, true, 13)

	byBot, err := d.ListRoundtrips(RoundtripFilter{Bot: "w1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(byBot) != 1 || byBot[0].PnL != 10 {
		t.Errorf("bot filter = %+v", byBot)
	}

	byMgr, err := d.ListRoundtrips(RoundtripFilter{Manager: "trend_follow"})
	if err != nil {
		t.Fatal(err)
	}
	if len(byMgr) != 1 || byMgr[0].PnL != -10 {
		t.Errorf("manager filter = %+v", byMgr)
	}
}

func TestOpenPositions_VWAPAndUnrealized(t *testing.T) {
	d := openTestDB(t)
	defer d.Close()
	seedBot(t, d, "w1", "breakout", "BTC_USDT")

	d.RecordTrade("w1", "BTC_USDT", "buy", 1, 100, 0, true, 10)
	d.RecordTrade("w1", "BTC_USDT", "buy", 1, 120, 0, true, 20)
	d.RecordTrade("w1", "BTC_USDT", "sell", 0.5, 130, 0, true, 30)

	pos, err := d.ListOpenPositions(PositionFilter{MarkPrices: map[string]float64{"BTC_USDT": 140}})
	if err != nil {
		t.Fatal(err)
	}
	if len(pos) != 1 {
		t.Fatalf("positions = %d, want 1", len(pos))
	}
	p := pos[0]
	if p.Side != "LONG" || math.Abs(p.Qty-1.5) > 1e-9 {
		t.Errorf("position = %+v, want LONG 1.5", p)
	}
	if math.Abs(p.AvgCost-110) > 1e-9 {
		t.Errorf("avg cost = %v, want 110 (VWAP of 100/120)", p.AvgCost)
	}
	if p.Unrealized == nil || math.Abs(*p.Unrealized-45) > 1e-9 {
		t.Errorf("unrealized = %v, want 45", p.Unrealized)
	}
}

func TestRealizedPnL_ExcludesStablePairs(t *testing.T) {
	d := openTestDB(t)
	defer d.Close()
	seedBot(t, d, "w1", "breakout", "BTC_USDT")
	seedBot(t, d, "w2", "breakout", "USDC_USDT")

	d.RecordTrade("w1", "BTC_USDT", "buy", 1, 100, 0, true, 10)
	d.RecordTrade("w1", "BTC_USDT", "sell", 1, 130, 0, true, 20)
	d.RecordTrade("w2", "USDC_USDT", "buy", 1000, 0.999, 0, true, 10)
	d.RecordTrade("w2", "USDC_USDT", "sell", 1000, 1.001, 0, true, 20)

	withStables, err := d.RealizedPnL(false)
	if err != nil {
		t.Fatal(err)
	}
	without, err := d.RealizedPnL(true)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(without-30) > 1e-9 {
		t.Errorf("pnl excluding stables = %v, want 30", without)
	}
	if withStables <= without {
		t.Errorf("stable pair pnl should add: %v vs %v", withStables, without)
	}
}

func TestFeeStatistics(t *testing.T) {
	d := openTestDB(t)
	defer d.Close()
	seedBot(t, d, "w1", "breakout", "BTC_USDT")

	d.RecordTrade("w1", "BTC_USDT", "buy", 1, 100, 0, true, 10)    // maker, free
	d.RecordTrade("w1", "BTC_USDT", "sell", 1, 100, 0.1, false, 20) // taker

	s, err := d.FeeStatistics("", "")
	if err != nil {
		t.Fatal(err)
	}
	if s.TotalTrades != 2 || s.MakerCount != 1 || s.TakerCount != 1 {
		t.Errorf("counts = %+v", s)
	}
	if math.Abs(s.TotalFees-0.1) > 1e-9 || math.Abs(s.TakerFees-0.1) > 1e-9 || s.MakerFees != 0 {
		t.Errorf("fees = %+v", s)
	}
	if math.Abs(s.MakerRatio-0.5) > 1e-9 {
		t.Errorf("maker ratio = %v, want 0.5", s.MakerRatio)
	}
	if math.Abs(s.TotalVolume-200) > 1e-9 {
		t.Errorf("volume = %v, want 200", s.TotalVolume)
	}

	empty, err := d.FeeStatistics("nope", "")
	if err != nil {
		t.Fatal(err)
	}
	if empty.TotalTrades != 0 || empty.MakerRatio != 0 || empty.FeePercentage != 0 {
		t.Errorf("empty stats = %+v", empty)
	}
}
