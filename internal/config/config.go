package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultAppName         = "NandaPoints"
	defaultAppEnv          = "development"
	defaultPort            = "8080"
	defaultLogLevel        = "info"
	defaultAgentName       = "nanda-adapter"
	defaultPaywallPrice    = 10000
	defaultPaywallDesc     = "Premium API access"
	defaultPaywallTimeout  = 60
	defaultShutdownDelay   = 10 * time.Second
	defaultIdempotencyTTL  = 24 * time.Hour
	idemTTLSecondsEnvVar   = "IDEMPOTENCY_TTL_SECONDS"
	idemTTLDurEnvVar       = "IDEMPOTENCY_TTL"
	shutdownSecondsEnvVar  = "SHUTDOWN_TIMEOUT_SECONDS"
	shutdownDurationEnvVar = "SHUTDOWN_TIMEOUT"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName  string
	AppEnv   string
	Port     string
	LogLevel string

	// DatabaseURL and RedisURL may be empty in development, in which case the
	// service runs on in-memory stores.
	DatabaseURL string
	RedisURL    string

	// AgentName is the agent this server collects payments as.
	AgentName string
	// FacilitatorURL is advertised in 402 challenges; it defaults to this
	// server's own address since the facilitator is embedded.
	FacilitatorURL string
	// ReceiptSigningSeed derives the facilitator's receipt signing key. When
	// empty, receipts are issued unsigned.
	ReceiptSigningSeed string

	PaywallPrice          int64
	PaywallDescription    string
	PaywallTimeoutSeconds int

	ShutdownPeriod time.Duration
	IdempotencyTTL time.Duration
}

// Load reads configuration values from the environment and populates a Config instance.
func Load() (Config, error) {
	cfg := Config{
		AppName:               getEnv("APP_NAME", defaultAppName),
		AppEnv:                getEnv("APP_ENV", defaultAppEnv),
		Port:                  getEnv("PORT", defaultPort),
		LogLevel:              strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		RedisURL:              os.Getenv("REDIS_URL"),
		AgentName:             getEnv("AGENT_NAME", defaultAgentName),
		ReceiptSigningSeed:    os.Getenv("RECEIPT_SIGNING_SEED"),
		PaywallPrice:          defaultPaywallPrice,
		PaywallDescription:    getEnv("PAYWALL_DESCRIPTION", defaultPaywallDesc),
		PaywallTimeoutSeconds: defaultPaywallTimeout,
		ShutdownPeriod:        defaultShutdownDelay,
		IdempotencyTTL:        defaultIdempotencyTTL,
	}
	cfg.FacilitatorURL = getEnv("FACILITATOR_URL", "http://localhost:"+strings.TrimPrefix(cfg.Port, ":"))

	if v := os.Getenv("PAYWALL_PRICE"); v != "" {
		price, err := strconv.ParseInt(v, 10, 64)
		if err != nil || price <= 0 {
			return Config{}, fmt.Errorf("invalid PAYWALL_PRICE: %q", v)
		}
		cfg.PaywallPrice = price
	}

	if v := os.Getenv("PAYWALL_TIMEOUT_SECONDS"); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil || seconds <= 0 {
			return Config{}, fmt.Errorf("invalid PAYWALL_TIMEOUT_SECONDS: %q", v)
		}
		cfg.PaywallTimeoutSeconds = seconds
	}

	if v := os.Getenv(shutdownSecondsEnvVar); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", shutdownSecondsEnvVar, err)
		}
		cfg.ShutdownPeriod = time.Duration(seconds) * time.Second
	} else if v := os.Getenv(shutdownDurationEnvVar); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", shutdownDurationEnvVar, err)
		}
		cfg.ShutdownPeriod = d
	}

	if v := os.Getenv(idemTTLSecondsEnvVar); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", idemTTLSecondsEnvVar, err)
		}
		cfg.IdempotencyTTL = time.Duration(seconds) * time.Second
	} else if v := os.Getenv(idemTTLDurEnvVar); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", idemTTLDurEnvVar, err)
		}
		cfg.IdempotencyTTL = d
	}

	if !cfg.IsDev() {
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("DATABASE_URL must be set when APP_ENV=%s", cfg.AppEnv)
		}
		if cfg.RedisURL == "" {
			return Config{}, fmt.Errorf("REDIS_URL must be set when APP_ENV=%s", cfg.AppEnv)
		}
	}

	return cfg, nil
}

// IsDev reports whether the app runs in a development-like environment, where
// in-memory stores are an acceptable substitute for Postgres and Redis.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local":
		return true
	default:
		return false
	}
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
