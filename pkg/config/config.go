// Package config loads controller configuration from environment variables.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/polyrun/polyrun/pkg/errs"
)

// SelectionStrategy names a runtime-selection strategy.
type SelectionStrategy string

const (
	StrategyPrefix    SelectionStrategy = "prefix"
	StrategyConfig    SelectionStrategy = "config"
	StrategyDiscovery SelectionStrategy = "discovery"
)

// Config holds the full controller configuration.
type Config struct {
	Host string
	Port int

	DatabaseURL    string
	DBMaxOpenConns int
	DBMaxIdleConns int
	RedisURL       string

	SessionExpiry          time.Duration
	SessionCleanupInterval time.Duration

	Runtime RuntimeConfig

	RequestLoggingEnabled bool
}

// RuntimeConfig holds worker endpoints and dispatch policy.
type RuntimeConfig struct {
	NodeJSRuntimeURL string
	PythonRuntimeURL string
	RustRuntimeURL   string

	Timeout         time.Duration
	FallbackTimeout time.Duration
	MaxRetries      int
	MaxScriptSize   int

	Protocol string // "json" or "rpc"

	OpenFaaSGatewayURL string

	SelectionStrategy   SelectionStrategy
	RuntimeMappingsFile string
	KubernetesNamespace string
	CacheTTL            time.Duration
}

// Load reads configuration from the environment. Missing required
// variables or unparseable values return a config error.
func Load() (*Config, error) {
	port, err := intEnv("PORT", 8080)
	if err != nil {
		return nil, err
	}

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		return nil, errs.New(errs.KindConfig, "DATABASE_URL environment variable not set")
	}
	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		return nil, errs.New(errs.KindConfig, "REDIS_URL environment variable not set")
	}

	dbMaxOpen, err := intEnv("DB_MAX_OPEN_CONNS", 10)
	if err != nil {
		return nil, err
	}
	dbMaxIdle, err := intEnv("DB_MAX_IDLE_CONNS", 5)
	if err != nil {
		return nil, err
	}

	sessionExpiry, err := intEnv("SESSION_EXPIRY_SECONDS", 3600)
	if err != nil {
		return nil, err
	}
	// Sessions must expire strictly after creation.
	if sessionExpiry <= 0 {
		return nil, errs.New(errs.KindConfig, "SESSION_EXPIRY_SECONDS must be positive, got %d", sessionExpiry)
	}
	cleanupInterval, err := intEnv("SESSION_CLEANUP_INTERVAL_SECONDS", 300)
	if err != nil {
		return nil, err
	}

	runtime, err := loadRuntimeConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Host:                   getEnvOrDefault("HOST", "0.0.0.0"),
		Port:                   port,
		DatabaseURL:            databaseURL,
		DBMaxOpenConns:         dbMaxOpen,
		DBMaxIdleConns:         dbMaxIdle,
		RedisURL:               redisURL,
		SessionExpiry:          time.Duration(sessionExpiry) * time.Second,
		SessionCleanupInterval: time.Duration(cleanupInterval) * time.Second,
		Runtime:                runtime,
		RequestLoggingEnabled:  boolEnv("REQUEST_LOGGING_ENABLED", true),
	}, nil
}

func loadRuntimeConfig() (RuntimeConfig, error) {
	var cfg RuntimeConfig

	for _, v := range []struct {
		key  string
		dest *string
	}{
		{"NODEJS_RUNTIME_URL", &cfg.NodeJSRuntimeURL},
		{"PYTHON_RUNTIME_URL", &cfg.PythonRuntimeURL},
		{"RUST_RUNTIME_URL", &cfg.RustRuntimeURL},
	} {
		val := os.Getenv(v.key)
		if val == "" {
			return RuntimeConfig{}, errs.New(errs.KindConfig, "%s environment variable not set", v.key)
		}
		*v.dest = val
	}

	timeout, err := intEnv("RUNTIME_TIMEOUT_SECONDS", 30)
	if err != nil {
		return RuntimeConfig{}, err
	}
	fallbackTimeout, err := intEnv("RUNTIME_FALLBACK_TIMEOUT_SECONDS", 15)
	if err != nil {
		return RuntimeConfig{}, err
	}
	maxRetries, err := intEnv("RUNTIME_MAX_RETRIES", 3)
	if err != nil {
		return RuntimeConfig{}, err
	}
	maxScriptSize, err := intEnv("MAX_SCRIPT_SIZE", 1048576)
	if err != nil {
		return RuntimeConfig{}, err
	}
	cacheTTL, err := intEnv("CACHE_TTL_SECONDS", 3600)
	if err != nil {
		return RuntimeConfig{}, err
	}

	protocol := getEnvOrDefault("RUNTIME_PROTOCOL", "json")
	if protocol != "json" && protocol != "rpc" {
		return RuntimeConfig{}, errs.New(errs.KindConfig, "invalid RUNTIME_PROTOCOL %q: must be json or rpc", protocol)
	}

	strategy := SelectionStrategy(getEnvOrDefault("SELECTION_STRATEGY", string(StrategyPrefix)))
	switch strategy {
	case StrategyPrefix, StrategyConfig, StrategyDiscovery:
	default:
		return RuntimeConfig{}, errs.New(errs.KindConfig, "invalid SELECTION_STRATEGY %q", strategy)
	}

	cfg.Timeout = time.Duration(timeout) * time.Second
	cfg.FallbackTimeout = time.Duration(fallbackTimeout) * time.Second
	cfg.MaxRetries = maxRetries
	cfg.MaxScriptSize = maxScriptSize
	cfg.Protocol = protocol
	cfg.OpenFaaSGatewayURL = os.Getenv("OPENFAAS_GATEWAY_URL")
	cfg.SelectionStrategy = strategy
	cfg.RuntimeMappingsFile = os.Getenv("RUNTIME_MAPPINGS_FILE")
	cfg.KubernetesNamespace = os.Getenv("KUBERNETES_NAMESPACE")
	cfg.CacheTTL = time.Duration(cacheTTL) * time.Second

	return cfg, nil
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func intEnv(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, errs.New(errs.KindConfig, "invalid %s: %q", key, val)
	}
	return n, nil
}

func boolEnv(key string, defaultVal bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultVal
	}
	return b
}
