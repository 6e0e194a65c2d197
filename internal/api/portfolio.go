package api

import (
	"net/http"

	"tradebot/internal/db"
)

// markPrices resolves the latest close per active symbol.
func (s *Server) markPrices() map[string]float64 {
	out := make(map[string]float64)
	tf := s.portfolio.Timeframe()
	for _, sym := range s.portfolio.ActiveSymbols() {
		bars, err := s.data.History(sym, tf, 1)
		if err != nil || len(bars) == 0 {
			continue
		}
		out[sym] = bars[len(bars)-1].Close
	}
	return out
}

func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	managers := s.portfolio.Snapshot()

	var totalEquity, totalStarting float64
	for _, m := range managers {
		for _, b := range m.Workers {
			totalEquity += b.Equity
			totalStarting += b.StartAlloc
		}
	}

	realized, err := s.store.RealizedPnL(true)
	if err != nil {
		writeError(w, 500, err.Error())
		return
	}
	todays, err := s.store.TodaysPnL()
	if err != nil {
		writeError(w, 500, err.Error())
		return
	}

	var unrealized float64
	positions, err := s.store.ListOpenPositions(db.PositionFilter{MarkPrices: s.markPrices()})
	if err == nil {
		for _, p := range positions {
			if p.Unrealized != nil {
				unrealized += *p.Unrealized
			}
		}
	}

	writeJSON(w, map[string]interface{}{
		"managers":       managers,
		"total_equity":   totalEquity,
		"total_pnl":      totalEquity - totalStarting,
		"realized_pnl":   realized,
		"unrealized_pnl": unrealized,
		"todays_pnl":     todays,
		"execution_mode": s.store.SettingString(db.SettingExecutionMode, s.cfg.Trading.ExecutionMode),
		"trading_paused": s.store.SettingBool(db.SettingTradingPaused, true),
		"timeframe":      s.portfolio.Timeframe(),
	})
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	trades, err := s.store.ListTrades(db.TradeFilter{
		Limit:   queryInt(r, "limit", 100),
		SinceID: queryInt64(r, "since_id", 0),
		Bot:     r.URL.Query().Get("bot"),
		Symbol:  r.URL.Query().Get("symbol"),
		Manager: r.URL.Query().Get("manager"),
	})
	if err != nil {
		writeError(w, 500, err.Error())
		return
	}
	if trades == nil {
		trades = []db.Trade{}
	}
	writeJSON(w, map[string]interface{}{"trades": trades})
}

func (s *Server) handleRoundtrips(w http.ResponseWriter, r *http.Request) {
	rts, err := s.store.ListRoundtrips(db.RoundtripFilter{
		Limit:   queryInt(r, "limit", 100),
		Bot:     r.URL.Query().Get("bot"),
		Symbol:  r.URL.Query().Get("symbol"),
		Manager: r.URL.Query().Get("manager"),
		FeeBps:  queryFloat(r, "fee_bps", 0),
	})
	if err != nil {
		writeError(w, 500, err.Error())
		return
	}
	if rts == nil {
		rts = []db.RoundTrip{}
	}
	writeJSON(w, map[string]interface{}{"roundtrips": rts})
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	positions, err := s.store.ListOpenPositions(db.PositionFilter{
		Bot:        r.URL.Query().Get("bot"),
		Symbol:     r.URL.Query().Get("symbol"),
		Manager:    r.URL.Query().Get("manager"),
		MarkPrices: s.markPrices(),
	})
	if err != nil {
		writeError(w, 500, err.Error())
		return
	}
	if positions == nil {
		positions = []db.OpenPosition{}
	}
	writeJSON(w, map[string]interface{}{"positions": positions})
}

type priceEntry struct {
	Symbol string  `json:"symbol"`
	TS     int64   `json:"ts"`
	Price  float64 `json:"price"`
}

func (s *Server) handlePrices(w http.ResponseWriter, r *http.Request) {
	tf := s.portfolio.Timeframe()
	out := []priceEntry{}
	for _, sym := range s.portfolio.ActiveSymbols() {
		bars, err := s.data.History(sym, tf, 1)
		if err != nil || len(bars) == 0 {
			continue
		}
		last := bars[len(bars)-1]
		out = append(out, priceEntry{Symbol: sym, TS: last.TS, Price: last.Close})
	}
	writeJSON(w, out)
}

func (s *Server) handleFees(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.FeeStatistics(r.URL.Query().Get("bot"), r.URL.Query().Get("manager"))
	if err != nil {
		writeError(w, 500, err.Error())
		return
	}
	writeJSON(w, stats)
}

func (s *Server) handleDecisions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{"decisions": s.portfolio.Decisions()})
}
