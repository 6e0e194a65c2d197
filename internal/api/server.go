package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tradebot/internal/auth"
	"tradebot/internal/config"
	"tradebot/internal/db"
	"tradebot/internal/engine"
	"tradebot/internal/market"
	"tradebot/internal/metrics"
)

const sessionCookie = "tradebot_session"

// Server is the HTTP API over the live portfolio and the store.
type Server struct {
	cfg       *config.Config
	store     *db.DB
	portfolio *engine.Portfolio
	data      market.DataProvider
	gate      *market.GateClient
	gecko     *market.CoinGeckoClient

	creds    auth.Credentials
	sessions *auth.SessionStore
}

// NewServer wires the API to the running engine.
func NewServer(cfg *config.Config, store *db.DB, portfolio *engine.Portfolio,
	data market.DataProvider, gate *market.GateClient, gecko *market.CoinGeckoClient) *Server {
	return &Server{
		cfg:       cfg,
		store:     store,
		portfolio: portfolio,
		data:      data,
		gate:      gate,
		gecko:     gecko,
		creds:     auth.Credentials{Username: cfg.Auth.Username, PasswordHash: cfg.Auth.PasswordHash},
		sessions:  auth.NewSessionStore(),
	}
}

// Handler returns the full route table behind CORS and session auth.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Auth
	mux.HandleFunc("POST /api/login", s.handleLogin)
	mux.HandleFunc("POST /api/logout", s.handleLogout)
	mux.HandleFunc("GET /api/auth/status", s.handleAuthStatus)

	// Read surface
	mux.HandleFunc("GET /portfolio.json", s.requireAuth(s.handlePortfolio))
	mux.HandleFunc("GET /trades.json", s.requireAuth(s.handleTrades))
	mux.HandleFunc("GET /roundtrips.json", s.requireAuth(s.handleRoundtrips))
	mux.HandleFunc("GET /positions.json", s.requireAuth(s.handlePositions))
	mux.HandleFunc("GET /prices.json", s.requireAuth(s.handlePrices))
	mux.HandleFunc("GET /fees.json", s.requireAuth(s.handleFees))
	mux.HandleFunc("GET /decisions.json", s.requireAuth(s.handleDecisions))

	// Worker and settings controls
	mux.HandleFunc("POST /api/worker/strategy", s.requireAuth(s.handleWorkerStrategy))
	mux.HandleFunc("GET /api/auto-rebalance", s.requireAuth(s.handleGetAutoRebalance))
	mux.HandleFunc("POST /api/auto-rebalance", s.requireAuth(s.handleSetAutoRebalance))
	mux.HandleFunc("POST /api/pause-trading", s.requireAuth(s.handlePauseTrading))
	mux.HandleFunc("POST /api/resume-trading", s.requireAuth(s.handleResumeTrading))
	mux.HandleFunc("GET /api/trading-status", s.requireAuth(s.handleTradingStatus))
	mux.HandleFunc("POST /api/set-capital-limit", s.requireAuth(s.handleSetCapitalLimit))
	mux.HandleFunc("DELETE /api/set-capital-limit", s.requireAuth(s.handleClearCapitalLimit))
	mux.HandleFunc("POST /api/set-timeframe", s.requireAuth(s.handleSetTimeframe))
	mux.HandleFunc("POST /api/set-num-strategies", s.requireAuth(s.handleSetNumStrategies))
	mux.HandleFunc("POST /api/set-execution-mode", s.requireAuth(s.handleSetExecutionMode))
	mux.HandleFunc("POST /api/liquidate-all", s.requireAuth(s.handleLiquidateAll))
	mux.HandleFunc("POST /api/reset-for-testing", s.requireAuth(s.handleResetForTesting))
	mux.HandleFunc("POST /api/manual-trade", s.requireAuth(s.handleManualTrade))

	// Price alerts
	mux.HandleFunc("GET /api/alerts", s.requireAuth(s.handleListAlerts))
	mux.HandleFunc("POST /api/alerts", s.requireAuth(s.handleCreateAlert))
	mux.HandleFunc("DELETE /api/alerts/{id}", s.requireAuth(s.handleDeleteAlert))

	// Backtesting and research
	mux.HandleFunc("POST /backtest", s.requireAuth(s.handleBacktest))
	mux.HandleFunc("GET /backtest/saved", s.requireAuth(s.handleListSavedBacktests))
	mux.HandleFunc("POST /backtest/saved", s.requireAuth(s.handleSaveBacktest))
	mux.HandleFunc("GET /backtest/saved/{id}", s.requireAuth(s.handleRunSavedBacktest))
	mux.HandleFunc("DELETE /backtest/saved/{id}", s.requireAuth(s.handleDeleteSavedBacktest))
	mux.HandleFunc("GET /optimizer/results", s.requireAuth(s.handleOptimizerResults))
	mux.HandleFunc("POST /optimizer/promote/{id}", s.requireAuth(s.handlePromoteOptimized))
	mux.HandleFunc("GET /evolution/results", s.requireAuth(s.handleEvolutionResults))
	mux.HandleFunc("POST /evolution/promote/{id}", s.requireAuth(s.handlePromoteEvolved))

	// Bar cache
	mux.HandleFunc("GET /data/coverage", s.requireAuth(s.handleDataCoverage))
	mux.HandleFunc("POST /data/backfill", s.requireAuth(s.handleDataBackfill))

	mux.Handle("GET /metrics", promhttp.Handler())

	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(204)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(sessionCookie)
		if err != nil || !s.sessions.Valid(cookie.Value) {
			metrics.HTTPRequests.WithLabelValues(r.URL.Path, "4xx").Inc()
			writeError(w, http.StatusUnauthorized, "not authenticated")
			return
		}
		metrics.HTTPRequests.WithLabelValues(r.URL.Path, "2xx").Inc()
		next(w, r)
	}
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, 400, "invalid json")
		return
	}
	if !s.creds.Verify(body.Username, body.Password) {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	token := s.sessions.Create()
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, map[string]bool{"ok": true})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(sessionCookie); err == nil {
		s.sessions.Delete(cookie.Value)
	}
	http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: "", Path: "/", MaxAge: -1})
	writeJSON(w, map[string]bool{"ok": true})
}

func (s *Server) handleAuthStatus(w http.ResponseWriter, r *http.Request) {
	authed := false
	if cookie, err := r.Cookie(sessionCookie); err == nil {
		authed = s.sessions.Valid(cookie.Value)
	}
	writeJSON(w, map[string]bool{"authenticated": authed})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func queryInt64(r *http.Request, key string, def int64) int64 {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func queryFloat(r *http.Request, key string, def float64) float64 {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
