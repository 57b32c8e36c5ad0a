// Package config loads process configuration from the environment (spec
// SPEC_FULL.md §A.3): plain os.Getenv, matching the teacher's convention of
// reading configuration directly at the point of use rather than through an
// env-struct library. Every field defaults so the zero-config path runs
// locally against the file-backed document store.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// StoreBackend selects which internal/docstore.Store implementation the
// process wires up.
type StoreBackend string

const (
	StoreBackendFile  StoreBackend = "file"
	StoreBackendRedis StoreBackend = "redis"
)

// Config is the fully-resolved process configuration.
type Config struct {
	// ListenAddr is where the WebSocket/HTTP upgrade endpoint listens.
	ListenAddr string
	// MetricsAddr is where the Prometheus /metrics and /healthz exporter
	// listens (SPEC_FULL.md §C.4).
	MetricsAddr string

	// ContentRoot is the filesystem root under which per-experience state
	// and template content live (spec §6.3), used regardless of StoreBackend
	// for template resolution.
	ContentRoot string

	StoreBackend StoreBackend
	// RedisAddr is only consulted when StoreBackend is "redis".
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// JWTSecret is the pre-shared HMAC secret the auth adapter verifies
	// bearer tokens against (spec §4.8).
	JWTSecret    []byte
	AuthCacheTTL time.Duration

	LogLevel  string
	LogFormat string // "json" or "text"

	WSIdleTimeout    time.Duration
	WSOutboundBuffer int
	WSRateLimit      float64
	WSRateBurst      int

	// InterpreterURL is the base URL of the external interpreter service
	// for slow-path commands, i.e. actions that are neither "@" admin verbs
	// nor fast handlers (spec §1's "external collaborator"). Empty means no
	// interpreter is configured; such commands fail with not_implemented.
	InterpreterURL     string
	InterpreterTimeout time.Duration
}

const (
	defaultListenAddr         = ":8080"
	defaultMetricsAddr        = ":9090"
	defaultContentRoot        = "./data"
	defaultAuthCacheTTL       = 15 * time.Minute
	defaultLogLevel           = "info"
	defaultLogFormat          = "json"
	defaultWSIdleTimeout      = 30 * time.Minute
	defaultWSOutboundBuffer   = 32
	defaultWSRateLimit        = 20.0
	defaultWSRateBurst        = 40
	defaultRedisDB            = 0
	defaultInterpreterTimeout = 30 * time.Second
)

// Load reads configuration from the environment, applying defaults for
// every unset variable. Returns an error only if a set variable has a value
// that cannot be parsed (e.g. a non-numeric GAIA_REDIS_DB) or if
// GAIA_JWT_SECRET is unset (there is no safe default for a signing secret).
func Load() (*Config, error) {
	secret := os.Getenv("GAIA_JWT_SECRET")
	if secret == "" {
		return nil, fmt.Errorf("config: GAIA_JWT_SECRET must be set")
	}

	cfg := &Config{
		ListenAddr:       getenvDefault("GAIA_LISTEN_ADDR", defaultListenAddr),
		MetricsAddr:      getenvDefault("GAIA_METRICS_ADDR", defaultMetricsAddr),
		ContentRoot:      getenvDefault("GAIA_CONTENT_ROOT", defaultContentRoot),
		StoreBackend:     StoreBackend(getenvDefault("GAIA_STORE_BACKEND", string(StoreBackendFile))),
		RedisAddr:        getenvDefault("GAIA_REDIS_ADDR", "localhost:6379"),
		RedisPassword:    os.Getenv("GAIA_REDIS_PASSWORD"),
		JWTSecret:        []byte(secret),
		LogLevel:         getenvDefault("GAIA_LOG_LEVEL", defaultLogLevel),
		LogFormat:        getenvDefault("GAIA_LOG_FORMAT", defaultLogFormat),
		AuthCacheTTL:     defaultAuthCacheTTL,
		WSIdleTimeout:    defaultWSIdleTimeout,
		WSOutboundBuffer: defaultWSOutboundBuffer,
		WSRateLimit:      defaultWSRateLimit,
		WSRateBurst:      defaultWSRateBurst,
		RedisDB:          defaultRedisDB,
		InterpreterURL:   os.Getenv("GAIA_INTERPRETER_URL"),
	}

	var err error
	if cfg.AuthCacheTTL, err = getenvDuration("GAIA_AUTH_CACHE_TTL", defaultAuthCacheTTL); err != nil {
		return nil, err
	}
	if cfg.WSIdleTimeout, err = getenvDuration("GAIA_WS_IDLE_TIMEOUT", defaultWSIdleTimeout); err != nil {
		return nil, err
	}
	if cfg.WSOutboundBuffer, err = getenvInt("GAIA_WS_OUTBOUND_BUFFER", defaultWSOutboundBuffer); err != nil {
		return nil, err
	}
	if cfg.WSRateBurst, err = getenvInt("GAIA_WS_RATE_BURST", defaultWSRateBurst); err != nil {
		return nil, err
	}
	if cfg.RedisDB, err = getenvInt("GAIA_REDIS_DB", defaultRedisDB); err != nil {
		return nil, err
	}
	if cfg.WSRateLimit, err = getenvFloat("GAIA_WS_RATE_LIMIT", defaultWSRateLimit); err != nil {
		return nil, err
	}
	if cfg.InterpreterTimeout, err = getenvDuration("GAIA_INTERPRETER_TIMEOUT", defaultInterpreterTimeout); err != nil {
		return nil, err
	}

	if cfg.StoreBackend != StoreBackendFile && cfg.StoreBackend != StoreBackendRedis {
		return nil, fmt.Errorf("config: GAIA_STORE_BACKEND must be %q or %q, got %q", StoreBackendFile, StoreBackendRedis, cfg.StoreBackend)
	}

	return cfg, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return d, nil
}

func getenvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}

func getenvFloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return f, nil
}
