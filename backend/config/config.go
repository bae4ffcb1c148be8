// Package config loads the execution core's configuration from the
// environment, adapted from the teacher's godotenv + getEnv* Load() pattern.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every option the execution core reads at startup.
type Config struct {
	Environment string
	LogLevel    string

	Trading      TradingConfig
	Simulator    SimulatorConfig
	Subscription SubscriptionConfig
	Idempotency  IdempotencyConfig
	OrderTimeout OrderTimeoutConfig
	Session      SessionConfig
	Recorder     RecorderConfig

	Broker BrokerConfig
	Redis  RedisConfig
}

// TradingConfig selects LIVE vs SIMULATOR (§4.1, §4.11 safety rule).
type TradingConfig struct {
	Mode string // "LIVE" or "SIMULATOR"
}

// SimulatorConfig configures the Virtual Order Book (§4.7).
type SimulatorConfig struct {
	SlippageBps int
}

// SubscriptionConfig configures the Subscription Manager (§4.8).
type SubscriptionConfig struct {
	MaxInstruments int
}

// IdempotencyConfig configures the dedup window (§4.2, §9 Open Question).
type IdempotencyConfig struct {
	Window time.Duration
}

// OrderTimeoutConfig configures the Timeout Monitor (§4.6).
type OrderTimeoutConfig struct {
	Market time.Duration
	Limit  time.Duration
}

// SessionConfig configures the Session Coordinator (§4.9).
type SessionConfig struct {
	SixAMBoundary string // "HH:MM", local time the access token expires
}

// RecorderConfig configures the Tick Recorder (§4.11, §6).
type RecorderConfig struct {
	Directory           string
	AutoStart           bool
	CompressAfterClose  bool
	FlushIntervalMs     int
}

// BrokerConfig carries the external brokerage credentials (§6).
type BrokerConfig struct {
	APIKey    string
	APISecret string
	BaseURL   string
	StreamURL string
}

// RedisConfig backs the Idempotency Store and Session Coordinator's durable
// token cache.
type RedisConfig struct {
	Host     string
	Port     string
	Password string
}

// Load reads configuration from the environment (and an optional .env file).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		Trading: TradingConfig{
			Mode: strings.ToUpper(getEnv("TRADING_MODE", "SIMULATOR")),
		},

		Simulator: SimulatorConfig{
			SlippageBps: getEnvAsInt("SIMULATOR_SLIPPAGE_BPS", 5),
		},

		Subscription: SubscriptionConfig{
			MaxInstruments: getEnvAsInt("SUBSCRIPTION_MAX_INSTRUMENTS", 3000),
		},

		Idempotency: IdempotencyConfig{
			Window: getEnvAsDuration("IDEMPOTENCY_WINDOW", 5*time.Minute),
		},

		OrderTimeout: OrderTimeoutConfig{
			Market: getEnvAsDuration("ORDER_TIMEOUT_MARKET", 10*time.Second),
			Limit:  getEnvAsDuration("ORDER_TIMEOUT_LIMIT", 30*time.Second),
		},

		Session: SessionConfig{
			SixAMBoundary: getEnv("SESSION_SIX_AM_BOUNDARY", "06:00"),
		},

		Recorder: RecorderConfig{
			Directory:          getEnv("RECORDER_DIRECTORY", "./data/ticks"),
			AutoStart:          getEnvAsBool("RECORDER_AUTO_START", true),
			CompressAfterClose: getEnvAsBool("RECORDER_COMPRESS_AFTER_CLOSE", true),
			FlushIntervalMs:    getEnvAsInt("RECORDER_FLUSH_INTERVAL_MS", 5*60*1000),
		},

		Broker: BrokerConfig{
			APIKey:    getEnv("BROKER_API_KEY", ""),
			APISecret: getEnv("BROKER_API_SECRET", ""),
			BaseURL:   getEnv("BROKER_BASE_URL", "https://api.kite.trade"),
			StreamURL: getEnv("BROKER_STREAM_URL", "wss://ws.kite.trade"),
		},

		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required configuration for the selected trading mode.
func (c *Config) Validate() error {
	if c.Trading.Mode != "LIVE" && c.Trading.Mode != "SIMULATOR" {
		return fmt.Errorf("TRADING_MODE must be LIVE or SIMULATOR, got %q", c.Trading.Mode)
	}
	if c.Trading.Mode == "LIVE" {
		if c.Broker.APIKey == "" || c.Broker.APISecret == "" {
			return fmt.Errorf("BROKER_API_KEY and BROKER_API_SECRET are required in LIVE mode")
		}
	}
	return nil
}

func getEnv(key string, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if v, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return v
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	v := getEnv(key, "")
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
