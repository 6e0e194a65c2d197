package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"tradebot/internal/db"
	"tradebot/internal/engine"
	"tradebot/internal/market"
	"tradebot/internal/strategy"
)

type backtestRequest struct {
	Strategy       string          `json:"strategy"`
	Symbol         string          `json:"symbol"`
	Timeframe      string          `json:"timeframe"`
	Params         json.RawMessage `json:"params"`
	Days           int             `json:"days"`
	InitialCapital float64         `json:"initial_capital"`
	MinNotional    float64         `json:"min_notional"`
}

func (req *backtestRequest) normalize() {
	if req.Timeframe == "" {
		req.Timeframe = "1d"
	}
	if req.Days <= 0 {
		req.Days = 365
	}
	if req.InitialCapital <= 0 {
		req.InitialCapital = 1000
	}
	if req.MinNotional <= 0 {
		req.MinNotional = engine.MinNotional
	}
}

func (s *Server) runBacktest(req backtestRequest) (map[string]interface{}, error) {
	req.normalize()
	if !market.ValidTimeframe(req.Timeframe) {
		return nil, fmt.Errorf("unknown timeframe %q", req.Timeframe)
	}
	strat, err := strategy.Build(req.Strategy, req.Params)
	if err != nil {
		return nil, err
	}

	endTS := time.Now().Unix()
	startTS := endTS - int64(req.Days)*86400

	bt := engine.NewBacktester(req.InitialCapital, req.MinNotional, 0.001)
	m, err := bt.Run(strat, s.data, req.Symbol, req.Timeframe, startTS, endTS)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"metrics":      m,
		"equity_curve": bt.EquityCurve(),
		"trades":       bt.TradeList(),
		"roundtrips":   bt.RoundTrips(),
		"config":       req,
	}, nil
}

func (s *Server) handleBacktest(w http.ResponseWriter, r *http.Request) {
	var req backtestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, 400, "invalid json")
		return
	}
	result, err := s.runBacktest(req)
	if err != nil {
		writeError(w, 400, err.Error())
		return
	}
	writeJSON(w, result)
}

func (s *Server) handleListSavedBacktests(w http.ResponseWriter, r *http.Request) {
	saved, err := s.store.ListSavedBacktests()
	if err != nil {
		writeError(w, 500, err.Error())
		return
	}
	if saved == nil {
		saved = []db.SavedBacktest{}
	}
	writeJSON(w, map[string]interface{}{"saved": saved})
}

func (s *Server) handleSaveBacktest(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
		backtestRequest
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Name == "" {
		writeError(w, 400, "name is required")
		return
	}
	body.normalize()
	if _, err := strategy.Build(body.Strategy, body.Params); err != nil {
		writeError(w, 400, err.Error())
		return
	}
	id, err := s.store.SaveBacktest(&db.SavedBacktest{
		Name:           body.Name,
		Strategy:       body.Strategy,
		Symbol:         body.Symbol,
		Timeframe:      body.Timeframe,
		Params:         body.Params,
		InitialCapital: body.InitialCapital,
		MinNotional:    body.MinNotional,
		Days:           body.Days,
	})
	if err != nil {
		writeError(w, 500, err.Error())
		return
	}
	writeJSON(w, map[string]int64{"id": id})
}

func (s *Server) handleRunSavedBacktest(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, 400, "invalid id")
		return
	}
	saved, err := s.store.GetSavedBacktest(id)
	if err != nil {
		writeError(w, 500, err.Error())
		return
	}
	if saved == nil {
		writeError(w, 404, "saved backtest not found")
		return
	}
	result, err := s.runBacktest(backtestRequest{
		Strategy:       saved.Strategy,
		Symbol:         saved.Symbol,
		Timeframe:      saved.Timeframe,
		Params:         saved.Params,
		Days:           saved.Days,
		InitialCapital: saved.InitialCapital,
		MinNotional:    saved.MinNotional,
	})
	if err != nil {
		writeError(w, 400, err.Error())
		return
	}
	result["saved"] = saved
	writeJSON(w, result)
}

func (s *Server) handleDeleteSavedBacktest(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, 400, "invalid id")
		return
	}
	existed, err := s.store.DeleteSavedBacktest(id)
	if err != nil {
		writeError(w, 500, err.Error())
		return
	}
	if !existed {
		writeError(w, 404, "saved backtest not found")
		return
	}
	writeJSON(w, map[string]bool{"ok": true})
}

func (s *Server) handleOptimizerResults(w http.ResponseWriter, r *http.Request) {
	results, err := s.store.ListOptimizationResults(
		r.URL.Query().Get("strategy"),
		r.URL.Query().Get("symbol"),
		queryInt(r, "limit", 100),
	)
	if err != nil {
		writeError(w, 500, err.Error())
		return
	}
	if results == nil {
		results = []db.OptimizationResult{}
	}
	writeJSON(w, map[string]interface{}{"results": results})
}

func (s *Server) handlePromoteOptimized(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, 400, "invalid id")
		return
	}
	res, err := s.store.GetOptimizationResult(id)
	if err != nil {
		writeError(w, 500, err.Error())
		return
	}
	if res == nil {
		writeError(w, 404, "optimization result not found")
		return
	}
	name := fmt.Sprintf("%s %s %s [Score %.0f]", res.Strategy, res.Symbol, res.Timeframe, res.Score)
	savedID, err := s.store.SaveBacktest(&db.SavedBacktest{
		Name:      name,
		Strategy:  res.Strategy,
		Symbol:    res.Symbol,
		Timeframe: res.Timeframe,
		Params:    res.Params,
		Days:      res.Days,
	})
	if err != nil {
		writeError(w, 500, err.Error())
		return
	}
	writeJSON(w, map[string]interface{}{"id": savedID, "name": name})
}

func (s *Server) handleEvolutionResults(w http.ResponseWriter, r *http.Request) {
	var minScore *float64
	if v := r.URL.Query().Get("min_score"); v != "" {
		f := queryFloat(r, "min_score", 0)
		minScore = &f
	}
	results, err := s.store.ListEvolvedStrategies(
		r.URL.Query().Get("symbol"),
		minScore,
		queryInt(r, "limit", 100),
	)
	if err != nil {
		writeError(w, 500, err.Error())
		return
	}
	if results == nil {
		results = []db.EvolvedStrategy{}
	}
	writeJSON(w, map[string]interface{}{"results": results})
}

func (s *Server) handlePromoteEvolved(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, 400, "invalid id")
		return
	}
	evolved, err := s.store.GetEvolvedStrategy(id)
	if err != nil {
		writeError(w, 500, err.Error())
		return
	}
	if evolved == nil {
		writeError(w, 404, "evolved strategy not found")
		return
	}
	base, _, _ := strings.Cut(evolved.Symbol, "_")
	name := fmt.Sprintf("Evolved Gen%d • %s • %s [Score %.0f]", evolved.Generation, base, evolved.Timeframe, evolved.Score)
	savedID, err := s.store.SaveBacktest(&db.SavedBacktest{
		Name:      name,
		Strategy:  "GenomeStrategy",
		Symbol:    evolved.Symbol,
		Timeframe: evolved.Timeframe,
		Params:    evolved.Genome,
		Days:      evolved.Days,
	})
	if err != nil {
		writeError(w, 500, err.Error())
		return
	}
	writeJSON(w, map[string]interface{}{"id": savedID, "name": name})
}

func (s *Server) handleDataCoverage(w http.ResponseWriter, r *http.Request) {
	tf := r.URL.Query().Get("timeframe")
	if tf == "" {
		tf = s.portfolio.Timeframe()
	}
	symbols := s.portfolio.ActiveSymbols()
	if sym := r.URL.Query().Get("symbol"); sym != "" {
		symbols = []string{sym}
	}

	out := []db.BarCoverage{}
	for _, sym := range symbols {
		cov, err := s.store.GetBarCoverage(sym, tf)
		if err != nil {
			writeError(w, 500, err.Error())
			return
		}
		if cov != nil {
			out = append(out, *cov)
		}
	}
	writeJSON(w, map[string]interface{}{"coverage": out, "timeframe": tf})
}

func (s *Server) handleDataBackfill(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Symbols   []string `json:"symbols"`
		Provider  string   `json:"provider"`
		Timeframe string   `json:"timeframe"`
		Bars      int      `json:"bars"`
		Days      int      `json:"days"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, 400, "invalid json")
		return
	}
	if len(body.Symbols) == 0 {
		body.Symbols = s.portfolio.ActiveSymbols()
	}
	if body.Timeframe == "" {
		body.Timeframe = s.portfolio.Timeframe()
	}
	if body.Bars <= 0 {
		body.Bars = 1000
	}
	if body.Days <= 0 {
		body.Days = 90
	}

	var status map[string]string
	switch body.Provider {
	case "", "gate":
		if !market.ValidTimeframe(body.Timeframe) {
			writeError(w, 400, "unknown timeframe")
			return
		}
		status = market.BackfillGate(s.store, s.gate, body.Symbols, body.Timeframe, body.Bars)
	case "coingecko":
		status = market.BackfillDaily(s.store, s.gecko, body.Symbols, body.Days)
	default:
		writeError(w, 400, "provider must be gate or coingecko")
		return
	}
	writeJSON(w, map[string]interface{}{"status": status})
}
