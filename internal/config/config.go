// Package config handles loading and validating configuration from a YAML
// file and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration values for the watcher.
type Config struct {
	// Real-time data stream
	WebSocketURL string `yaml:"websocket_url"`

	// Data API (wallet history lookups)
	DataAPIBase       string `yaml:"data_api_base"`
	RequestsPerMinute int    `yaml:"requests_per_minute"`

	// Low-history detector
	LargeTradeUSD       float64 `yaml:"large_trade_usd"`
	LowHistoryThreshold int     `yaml:"low_history_threshold"`
	CacheTTLHours       int     `yaml:"cache_ttl_hours"`

	// Concentrated-betting detector
	MinVolumeUSD              float64 `yaml:"min_volume_usd"`
	MaxTradesForConcentration int     `yaml:"max_trades_for_concentration"`
	MinConcentration          float64 `yaml:"min_concentration"`

	// Profitable-trader detector
	MinTradesForAnalysis   int     `yaml:"min_trades_for_analysis"`
	MinProfitFactor        float64 `yaml:"min_profit_factor"`
	MinWinRate             float64 `yaml:"min_win_rate"`
	HighFrequencyThreshold float64 `yaml:"high_frequency_threshold"`

	// Database
	DBPath string `yaml:"db_path"`

	// Pipeline
	WorkerCount int `yaml:"worker_count"`
	TradeBuffer int `yaml:"trade_buffer"`

	// Logging
	LogLevel string `yaml:"log_level"`
}

// CacheTTL returns the wallet cache TTL as a duration.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLHours) * time.Hour
}

// Load reads configuration with the following priority:
// environment variables > YAML config file > hardcoded defaults.
// A .env file is loaded first if present.
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load()

	cfg := defaults()

	if configPath != "" {
		if err := loadYAML(configPath, cfg); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		WebSocketURL:      "wss://ws-live-data.polymarket.com",
		DataAPIBase:       "https://data-api.polymarket.com",
		RequestsPerMinute: 15,

		LargeTradeUSD:       20000,
		LowHistoryThreshold: 10,
		CacheTTLHours:       24,

		MinVolumeUSD:              25000,
		MaxTradesForConcentration: 25,
		MinConcentration:          0.30,

		MinTradesForAnalysis:   50,
		MinProfitFactor:        2.0,
		MinWinRate:             0.65,
		HighFrequencyThreshold: 100,

		DBPath: "./data/watcher.db",

		WorkerCount: 4,
		TradeBuffer: 1000,

		LogLevel: "INFO",
	}
}

func loadYAML(path string, cfg *Config) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.WebSocketURL = getEnv("WEBSOCKET_URL", cfg.WebSocketURL)
	cfg.DataAPIBase = getEnv("DATA_API_BASE", cfg.DataAPIBase)
	cfg.RequestsPerMinute = getEnvInt("REQUESTS_PER_MINUTE", cfg.RequestsPerMinute)

	cfg.LargeTradeUSD = getEnvFloat("LARGE_TRADE_USD", cfg.LargeTradeUSD)
	cfg.LowHistoryThreshold = getEnvInt("LOW_HISTORY_THRESHOLD", cfg.LowHistoryThreshold)
	cfg.CacheTTLHours = getEnvInt("CACHE_TTL_HOURS", cfg.CacheTTLHours)

	cfg.MinVolumeUSD = getEnvFloat("MIN_VOLUME_USD", cfg.MinVolumeUSD)
	cfg.MaxTradesForConcentration = getEnvInt("MAX_TRADES_FOR_CONCENTRATION", cfg.MaxTradesForConcentration)
	cfg.MinConcentration = getEnvFloat("MIN_CONCENTRATION", cfg.MinConcentration)

	cfg.MinTradesForAnalysis = getEnvInt("MIN_TRADES_FOR_ANALYSIS", cfg.MinTradesForAnalysis)
	cfg.MinProfitFactor = getEnvFloat("MIN_PROFIT_FACTOR", cfg.MinProfitFactor)
	cfg.MinWinRate = getEnvFloat("MIN_WIN_RATE", cfg.MinWinRate)
	cfg.HighFrequencyThreshold = getEnvFloat("HIGH_FREQUENCY_THRESHOLD", cfg.HighFrequencyThreshold)

	cfg.DBPath = getEnv("DB_PATH", cfg.DBPath)

	cfg.WorkerCount = getEnvInt("WORKER_COUNT", cfg.WorkerCount)
	cfg.TradeBuffer = getEnvInt("TRADE_BUFFER", cfg.TradeBuffer)

	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
}

// Validate checks that required configuration values are set and valid.
func (c *Config) Validate() error {
	if c.WebSocketURL == "" {
		return fmt.Errorf("WEBSOCKET_URL is required")
	}

	if c.DataAPIBase == "" {
		return fmt.Errorf("DATA_API_BASE is required")
	}

	if c.RequestsPerMinute < 1 {
		return fmt.Errorf("REQUESTS_PER_MINUTE must be at least 1")
	}

	if c.LargeTradeUSD <= 0 {
		return fmt.Errorf("LARGE_TRADE_USD must be positive")
	}

	if c.LowHistoryThreshold < 1 {
		return fmt.Errorf("LOW_HISTORY_THRESHOLD must be at least 1")
	}

	if c.CacheTTLHours < 1 {
		return fmt.Errorf("CACHE_TTL_HOURS must be at least 1")
	}

	if c.MinVolumeUSD <= 0 {
		return fmt.Errorf("MIN_VOLUME_USD must be positive")
	}

	if c.MinConcentration <= 0 || c.MinConcentration > 1 {
		return fmt.Errorf("MIN_CONCENTRATION must be in (0, 1]")
	}

	if c.MinWinRate <= 0 || c.MinWinRate > 1 {
		return fmt.Errorf("MIN_WIN_RATE must be in (0, 1]")
	}

	if c.MinTradesForAnalysis < 1 {
		return fmt.Errorf("MIN_TRADES_FOR_ANALYSIS must be at least 1")
	}

	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH is required")
	}

	if c.WorkerCount < 1 {
		return fmt.Errorf("WORKER_COUNT must be at least 1")
	}

	if c.TradeBuffer < 1 {
		return fmt.Errorf("TRADE_BUFFER must be at least 1")
	}

	return nil
}

// getEnv retrieves an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an environment variable as an integer or returns a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat retrieves an environment variable as a float64 or returns a default.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}
