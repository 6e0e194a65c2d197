package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if c.DBPath != "trading.db" {
		t.Errorf("DBPath = %q, want trading.db", c.DBPath)
	}
	if len(c.Trading.Symbols) != 3 {
		t.Errorf("Symbols = %v, want 3 defaults", c.Trading.Symbols)
	}
	if c.Trading.Timeframe != "1m" {
		t.Errorf("Timeframe = %q, want 1m", c.Trading.Timeframe)
	}
	if c.Trading.AllocPerBot != 1000 {
		t.Errorf("AllocPerBot = %v, want 1000", c.Trading.AllocPerBot)
	}
	if c.Trading.ExecutionMode != "paper" {
		t.Errorf("ExecutionMode = %q, want paper", c.Trading.ExecutionMode)
	}
	if c.Loops.OptimizerIntervalHours != 24 || c.Loops.EvolutionIntervalHours != 24 {
		t.Errorf("interval hours = %d/%d, want 24/24", c.Loops.OptimizerIntervalHours, c.Loops.EvolutionIntervalHours)
	}
}

func TestLoad_YAMLAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
trading:
  symbols: [BTC_USDT]
  timeframe: 1h
db_path: from_yaml.db
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("BOT_DB", "from_env.db")
	t.Setenv("APP_DISABLE_OPTIMIZER", "1")

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if c.DBPath != "from_env.db" {
		t.Errorf("DBPath = %q, env should win over yaml", c.DBPath)
	}
	if c.Trading.Timeframe != "1h" {
		t.Errorf("Timeframe = %q, want 1h from yaml", c.Trading.Timeframe)
	}
	if len(c.Trading.Symbols) != 1 || c.Trading.Symbols[0] != "BTC_USDT" {
		t.Errorf("Symbols = %v", c.Trading.Symbols)
	}
	if !c.Loops.DisableOptimizer {
		t.Error("APP_DISABLE_OPTIMIZER=1 should disable the optimizer loop")
	}
}

func TestRequiresBinanceCredentials(t *testing.T) {
	c := &Config{}
	c.Trading.ExecutionMode = "paper"
	if c.RequiresBinanceCredentials() {
		t.Error("paper mode must not require credentials")
	}
	c.Trading.ExecutionMode = "binance_testnet"
	if !c.RequiresBinanceCredentials() {
		t.Error("binance_testnet mode must require credentials")
	}
}
