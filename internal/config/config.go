package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full engine configuration. YAML supplies the static shape,
// environment variables override it, runtime knobs live in the settings table.
type Config struct {
	Trading Trading `yaml:"trading"`
	Loops   Loops   `yaml:"loops"`
	Binance Binance `yaml:"binance"`
	Auth    Auth    `yaml:"auth"`
	DBPath  string  `yaml:"db_path"`
}

// Trading controls the live portfolio.
type Trading struct {
	Symbols       []string `yaml:"symbols"`
	Timeframe     string   `yaml:"timeframe"`
	AllocPerBot   float64  `yaml:"alloc_per_bot"`
	ExecutionMode string   `yaml:"execution_mode"` // paper | binance_testnet
}

// Loops enables/disables the background loops.
type Loops struct {
	DisableScheduler bool `yaml:"disable_scheduler"`
	DisableOptimizer bool `yaml:"disable_optimizer"`
	DisableEvolution bool `yaml:"disable_evolution"`
	DisableAlerts    bool `yaml:"disable_alerts"`

	OptimizerIntervalHours int `yaml:"optimizer_interval_hours"`
	EvolutionIntervalHours int `yaml:"evolution_interval_hours"`
}

// Binance holds testnet credentials.
type Binance struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
}

// Auth holds the single-user login credentials.
type Auth struct {
	SecretKey    string `yaml:"secret_key"`
	Username     string `yaml:"username"`
	PasswordHash string `yaml:"password_hash"` // bcrypt
}

// Load reads the optional YAML file, the optional .env file, and the
// environment, in increasing precedence. A missing YAML file is not an error.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config.Load: parse %q: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	return &cfg, nil
}

// OptimizerInterval returns the optimizer cadence as a duration.
func (c *Config) OptimizerInterval() time.Duration {
	return time.Duration(c.Loops.OptimizerIntervalHours) * time.Hour
}

// EvolutionInterval returns the evolver cadence as a duration.
func (c *Config) EvolutionInterval() time.Duration {
	return time.Duration(c.Loops.EvolutionIntervalHours) * time.Hour
}

// RequiresBinanceCredentials reports whether the configured execution mode
// cannot run without API keys.
func (c *Config) RequiresBinanceCredentials() bool {
	return c.Trading.ExecutionMode == "binance_testnet"
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BOT_DB"); v != "" {
		cfg.DBPath = v
	}
	if envBool("APP_DISABLE_LOOP") {
		cfg.Loops.DisableScheduler = true
	}
	if envBool("APP_DISABLE_OPTIMIZER") {
		cfg.Loops.DisableOptimizer = true
	}
	if envBool("APP_DISABLE_EVOLUTION") {
		cfg.Loops.DisableEvolution = true
	}
	if envBool("APP_DISABLE_ALERTS") {
		cfg.Loops.DisableAlerts = true
	}
	if v := os.Getenv("BINANCE_TESTNET_API_KEY"); v != "" {
		cfg.Binance.APIKey = v
	}
	if v := os.Getenv("BINANCE_TESTNET_API_SECRET"); v != "" {
		cfg.Binance.APISecret = v
	}
	if v := os.Getenv("SECRET_KEY"); v != "" {
		cfg.Auth.SecretKey = v
	}
	if v := os.Getenv("AUTH_USERNAME"); v != "" {
		cfg.Auth.Username = v
	}
	if v := os.Getenv("AUTH_PASSWORD_HASH"); v != "" {
		cfg.Auth.PasswordHash = v
	}
}

func setDefaults(cfg *Config) {
	if cfg.DBPath == "" {
		cfg.DBPath = "trading.db"
	}
	if len(cfg.Trading.Symbols) == 0 {
		cfg.Trading.Symbols = []string{"BTC_USDT", "ETH_USDT", "SOL_USDT"}
	}
	if cfg.Trading.Timeframe == "" {
		cfg.Trading.Timeframe = "1m"
	}
	if cfg.Trading.AllocPerBot <= 0 {
		cfg.Trading.AllocPerBot = 1000
	}
	if cfg.Trading.ExecutionMode == "" {
		cfg.Trading.ExecutionMode = "paper"
	}
	if cfg.Loops.OptimizerIntervalHours <= 0 {
		cfg.Loops.OptimizerIntervalHours = 24
	}
	if cfg.Loops.EvolutionIntervalHours <= 0 {
		cfg.Loops.EvolutionIntervalHours = 24
	}
}

func envBool(key string) bool {
	v := os.Getenv(key)
	if v == "" {
		return false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return v == "1" || v == "yes"
	}
	return b
}
