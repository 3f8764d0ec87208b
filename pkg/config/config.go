package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the trading core.
type Config struct {
	Port string

	// Exchange
	UpbitBaseURL   string
	DefaultFeeRate float64 // decimal (e.g. 0.0005 = 5 bps)

	// Execution
	SchedulerEnabled bool
	TickInterval     time.Duration
	UserTimeout      time.Duration

	// Entry-price reconciliation against exchange holdings; 0 disables it.
	ReconcileInterval time.Duration

	// Dry-run simulation
	DryRun               bool
	DryRunInitialBalance float64 // KRW credited to every paper account

	// Strategy presets (yaml); built-in defaults are used when the file is missing.
	StrategyPresetsPath string

	// Database
	DBPath string

	// Auth / secrets
	JWTSecret           string
	MasterEncryptionKey string

	// Logging
	LogLevel string
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", "8080"),
		UpbitBaseURL:         strings.TrimRight(getEnv("UPBIT_BASE_URL", "https://api.upbit.com"), "/"),
		DefaultFeeRate:       getEnvFloat("DEFAULT_FEE_RATE", 0.0005),
		SchedulerEnabled:     getEnv("SCHEDULER_ENABLED", "true") == "true",
		TickInterval:         getEnvDuration("TICK_INTERVAL", 10*time.Second),
		UserTimeout:          getEnvDuration("USER_TIMEOUT", 30*time.Second),
		ReconcileInterval:    getEnvDuration("RECONCILE_INTERVAL", 5*time.Minute),
		DryRun:               getEnv("DRY_RUN", "false") == "true",
		DryRunInitialBalance: getEnvFloat("DRY_RUN_INITIAL_BALANCE", 1_000_000),
		StrategyPresetsPath:  getEnv("STRATEGY_PRESETS_PATH", "./strategies.yaml"),
		DBPath:               getEnv("DB_PATH", "./data/autotrade.db"),
		JWTSecret:            getEnv("JWT_SECRET", "dev-secret"),
		MasterEncryptionKey:  os.Getenv("MASTER_ENCRYPTION_KEY"),
		LogLevel:             strings.ToLower(getEnv("LOG_LEVEL", "info")),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the scheduler cannot run with.
func (c *Config) Validate() error {
	if c.TickInterval <= 0 {
		return errors.New("TICK_INTERVAL must be positive")
	}
	if c.UserTimeout <= 0 {
		return errors.New("USER_TIMEOUT must be positive")
	}
	if c.ReconcileInterval < 0 {
		return errors.New("RECONCILE_INTERVAL must not be negative")
	}
	if c.DefaultFeeRate < 0 || c.DefaultFeeRate >= 0.01 {
		return errors.New("DEFAULT_FEE_RATE must be in [0, 0.01)")
	}
	if c.DryRun && c.DryRunInitialBalance <= 0 {
		return errors.New("DRY_RUN_INITIAL_BALANCE must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

// getEnvDuration accepts Go durations ("10s") or bare seconds ("10").
func getEnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return def
}
