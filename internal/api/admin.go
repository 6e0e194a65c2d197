package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"tradebot/internal/db"
	"tradebot/internal/engine"
	"tradebot/internal/exec"
	"tradebot/internal/market"
)

func (s *Server) handleWorkerStrategy(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Worker   string `json:"worker"`
		Strategy string `json:"strategy"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Worker == "" || body.Strategy == "" {
		writeError(w, 400, "worker and strategy are required")
		return
	}
	if err := s.portfolio.ReassignWorker(body.Worker, body.Strategy); err != nil {
		writeError(w, 400, err.Error())
		return
	}
	writeJSON(w, map[string]bool{"ok": true})
}

func (s *Server) handleGetAutoRebalance(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]bool{"enabled": s.store.SettingBool(db.SettingAutoRebalance, false)})
}

func (s *Server) handleSetAutoRebalance(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, 400, "invalid json")
		return
	}
	if err := s.store.SetSetting(db.SettingAutoRebalance, body.Enabled); err != nil {
		writeError(w, 500, err.Error())
		return
	}
	writeJSON(w, map[string]bool{"enabled": body.Enabled})
}

func (s *Server) handlePauseTrading(w http.ResponseWriter, r *http.Request) {
	if err := s.store.SetSetting(db.SettingTradingPaused, true); err != nil {
		writeError(w, 500, err.Error())
		return
	}
	writeJSON(w, map[string]bool{"trading_paused": true})
}

func (s *Server) handleResumeTrading(w http.ResponseWriter, r *http.Request) {
	if err := s.store.SetSetting(db.SettingTradingPaused, false); err != nil {
		writeError(w, 500, err.Error())
		return
	}
	writeJSON(w, map[string]bool{"trading_paused": false})
}

func (s *Server) handleTradingStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{
		"trading_paused": s.store.SettingBool(db.SettingTradingPaused, true),
		"execution_mode": s.store.SettingString(db.SettingExecutionMode, s.cfg.Trading.ExecutionMode),
	})
}

func (s *Server) handleSetCapitalLimit(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CapitalLimitUSDT float64 `json:"capital_limit_usdt"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.CapitalLimitUSDT <= 0 {
		writeError(w, 400, "capital_limit_usdt must be positive")
		return
	}
	if err := s.store.SetSetting(db.SettingCapitalLimitUSDT, body.CapitalLimitUSDT); err != nil {
		writeError(w, 500, err.Error())
		return
	}
	writeJSON(w, map[string]interface{}{"capital_limit_usdt": body.CapitalLimitUSDT})
}

func (s *Server) handleClearCapitalLimit(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteSetting(db.SettingCapitalLimitUSDT); err != nil {
		writeError(w, 500, err.Error())
		return
	}
	writeJSON(w, map[string]bool{"ok": true})
}

func (s *Server) handleSetTimeframe(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Timeframe string `json:"timeframe"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || !market.ValidTimeframe(body.Timeframe) {
		writeError(w, 400, "unknown timeframe")
		return
	}
	if err := s.store.SetSetting(db.SettingTradingTimeframe, body.Timeframe); err != nil {
		writeError(w, 500, err.Error())
		return
	}
	writeJSON(w, map[string]interface{}{"timeframe": body.Timeframe, "note": "restart required to apply"})
}

func (s *Server) handleSetNumStrategies(w http.ResponseWriter, r *http.Request) {
	var body struct {
		NumStrategies int `json:"num_strategies"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.NumStrategies < 1 || body.NumStrategies > 20 {
		writeError(w, 400, "num_strategies must be between 1 and 20")
		return
	}
	if err := s.store.SetSetting(db.SettingNumActiveStrategies, body.NumStrategies); err != nil {
		writeError(w, 500, err.Error())
		return
	}
	writeJSON(w, map[string]interface{}{"num_strategies": body.NumStrategies, "note": "restart required to apply"})
}

func (s *Server) handleSetExecutionMode(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ExecutionMode string `json:"execution_mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, 400, "invalid json")
		return
	}
	switch body.ExecutionMode {
	case "paper":
	case "binance_testnet":
		if s.cfg.Binance.APIKey == "" || s.cfg.Binance.APISecret == "" {
			writeError(w, 400, "binance_testnet requires API credentials")
			return
		}
	default:
		writeError(w, 400, "execution_mode must be paper or binance_testnet")
		return
	}
	if err := s.store.SetSetting(db.SettingExecutionMode, body.ExecutionMode); err != nil {
		writeError(w, 500, err.Error())
		return
	}
	writeJSON(w, map[string]interface{}{"execution_mode": body.ExecutionMode})
}

func (s *Server) handleLiquidateAll(w http.ResponseWriter, r *http.Request) {
	results := s.portfolio.LiquidateAll()
	writeJSON(w, map[string]interface{}{
		"trading_paused": true,
		"liquidated":     results,
	})
}

func (s *Server) handleResetForTesting(w http.ResponseWriter, r *http.Request) {
	if !s.store.SettingBool(db.SettingTradingPaused, true) {
		writeError(w, http.StatusPreconditionFailed, "trading must be paused before reset")
		return
	}
	counts, err := s.store.ResetForTesting()
	if err != nil {
		writeError(w, 500, err.Error())
		return
	}
	writeJSON(w, counts)
}

func (s *Server) handleManualTrade(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Symbol     string  `json:"symbol"`
		Side       string  `json:"side"`
		Quantity   float64 `json:"quantity"`
		OrderType  string  `json:"order_type"`
		LimitPrice float64 `json:"limit_price"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, 400, "invalid json")
		return
	}
	if body.Side != "buy" && body.Side != "sell" {
		writeError(w, 400, "side must be buy or sell")
		return
	}
	if body.Quantity <= 0 {
		writeError(w, 400, "quantity must be positive")
		return
	}

	tf := s.portfolio.Timeframe()
	bars, err := s.data.History(body.Symbol, tf, 1)
	if err != nil || len(bars) == 0 {
		writeError(w, 400, fmt.Sprintf("no price available for %s", body.Symbol))
		return
	}
	price := bars[len(bars)-1].Close

	// the trades table keys on bots, so the manual pseudo-bot must exist first
	if err := s.store.EnsureBot("manual", body.Symbol, tf); err != nil {
		writeError(w, 500, err.Error())
		return
	}
	client := engine.ExecFactory(s.cfg, s.store)("manual")
	var fill exec.Fill
	switch body.OrderType {
	case "", "market":
		fill, err = client.MarketOrder(body.Symbol, body.Side, body.Quantity, price)
	case "limit":
		if body.LimitPrice <= 0 {
			writeError(w, 400, "limit_price required for limit orders")
			return
		}
		fill, err = client.LimitOrder(body.Symbol, body.Side, body.Quantity, body.LimitPrice, 60)
	default:
		writeError(w, 400, "order_type must be market or limit")
		return
	}
	if err != nil {
		writeError(w, 500, err.Error())
		return
	}
	writeJSON(w, map[string]interface{}{"fill": fill, "symbol": body.Symbol, "side": body.Side})
}

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := s.store.ListPriceAlerts(r.URL.Query().Get("active") == "true")
	if err != nil {
		writeError(w, 500, err.Error())
		return
	}
	if alerts == nil {
		alerts = []db.PriceAlert{}
	}
	writeJSON(w, map[string]interface{}{"alerts": alerts})
}

func (s *Server) handleCreateAlert(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Symbol    string  `json:"symbol"`
		Condition string  `json:"condition"`
		Price     float64 `json:"price"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Symbol == "" || body.Price <= 0 {
		writeError(w, 400, "symbol, condition and a positive price are required")
		return
	}
	id, err := s.store.CreatePriceAlert(body.Symbol, body.Condition, body.Price)
	if err != nil {
		writeError(w, 400, err.Error())
		return
	}
	writeJSON(w, map[string]int64{"id": id})
}

func (s *Server) handleDeleteAlert(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, 400, "invalid alert id")
		return
	}
	existed, err := s.store.DeletePriceAlert(id)
	if err != nil {
		writeError(w, 500, err.Error())
		return
	}
	if !existed {
		writeError(w, 404, "alert not found")
		return
	}
	writeJSON(w, map[string]bool{"ok": true})
}
