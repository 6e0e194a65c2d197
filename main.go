package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tradebot/internal/alerts"
	"tradebot/internal/api"
	"tradebot/internal/config"
	"tradebot/internal/db"
	"tradebot/internal/engine"
	"tradebot/internal/logger"
	"tradebot/internal/market"
)

var version = "dev"

func main() {
	port := flag.Int("port", 8000, "HTTP server port")
	configPath := flag.String("config", "config.yaml", "path to YAML config")
	flag.Parse()

	logger.Banner(version)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("CONFIG", fmt.Sprintf("Load failed: %v", err))
		os.Exit(1)
	}

	store, err := db.Open(cfg.DBPath)
	if err != nil {
		logger.Error("DB", fmt.Sprintf("Failed to open database: %v", err))
		os.Exit(1)
	}
	defer store.Close()

	mode := store.SettingString(db.SettingExecutionMode, cfg.Trading.ExecutionMode)
	if mode == "binance_testnet" && (cfg.Binance.APIKey == "" || cfg.Binance.APISecret == "") {
		logger.Error("CONFIG", "execution_mode binance_testnet requires BINANCE_TESTNET_API_KEY and BINANCE_TESTNET_API_SECRET")
		os.Exit(1)
	}

	gate := market.NewGateClient()
	gecko := market.NewCoinGeckoClient()
	data := market.NewCachedProvider(gate, store, "gate")

	decisions := engine.NewDecisionLog()
	portfolio, err := engine.BuildPortfolio(cfg, store, data, decisions, engine.ExecFactory(cfg, store))
	if err != nil {
		logger.Error("ENGINE", fmt.Sprintf("Portfolio build failed: %v", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !cfg.Loops.DisableScheduler {
		go engine.RunForever(ctx, portfolio)
	} else {
		logger.Warn("SCHED", "Scheduler disabled")
	}

	if !cfg.Loops.DisableOptimizer {
		optimizer := engine.NewOptimizer(store, data, cfg.Trading.Symbols)
		go engine.RunPeriodic(ctx, "optimizer", cfg.OptimizerInterval(), optimizer.Run)
	}

	if !cfg.Loops.DisableEvolution {
		evolver := engine.NewEvolver(store, data, cfg.Trading.Symbols, time.Now().UnixNano())
		go engine.RunPeriodic(ctx, "evolution", cfg.EvolutionInterval(), evolver.EvolveGeneration)
	}

	if !cfg.Loops.DisableAlerts {
		monitor := alerts.NewMonitor(store, data, portfolio.Timeframe(), nil)
		go monitor.Run(ctx)
	}

	srv := api.NewServer(cfg, store, portfolio, data, gate, gecko)

	addr := fmt.Sprintf("127.0.0.1:%d", *port)
	logger.Server(addr)

	httpServer := &http.Server{Addr: addr, Handler: srv.Handler()}
	go func() {
		<-ctx.Done()
		httpServer.Shutdown(context.Background())
	}()
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Server", fmt.Sprintf("Failed: %v", err))
		os.Exit(1)
	}
}
