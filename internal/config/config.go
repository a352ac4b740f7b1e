// Package config loads the service configuration with viper: built-in
// defaults, then an optional TOML file named by LEDGER_CONFIG, then
// LEDGER_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. LEDGER_PORT.
const EnvPrefix = "LEDGER"

// Config holds all application configuration.
type Config struct {
	// Server
	Port            int
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Store
	DatabasePath string
	BusyTimeout  time.Duration
	MaxConns     int

	// Calendar used to decide "today" for accruals and billing cycles.
	Timezone *time.Location

	// Benchmark rate source
	BenchmarkURL string
	HTTPTimeout  time.Duration

	// Resilience
	MaxRetries     int
	InitialBackoff time.Duration
	MaxConcurrency int
	QueueTimeout   time.Duration

	// Cache
	RateCacheTTL time.Duration

	// Pending actions
	PendingTTL time.Duration

	// Observability
	OTLPEndpoint string

	// JWT
	JWTSecret string
	JWTIssuer string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("shutdown_timeout", 15*time.Second)

	v.SetDefault("database_path", "ledger.db")
	v.SetDefault("busy_timeout", 5*time.Second)
	v.SetDefault("max_conns", 4)

	v.SetDefault("timezone", "America/Cuiaba")

	v.SetDefault("benchmark_url", "https://api.bcb.gov.br/dados/serie/bcdata.sgs.12/dados")
	v.SetDefault("http_timeout", 10*time.Second)

	v.SetDefault("max_retries", 3)
	v.SetDefault("initial_backoff", 100*time.Millisecond)
	v.SetDefault("max_concurrency", 50)
	v.SetDefault("queue_timeout", 2*time.Second)

	v.SetDefault("rate_cache_ttl", 6*time.Hour)
	v.SetDefault("pending_ttl", 10*time.Minute)

	v.SetDefault("otlp_endpoint", "")

	v.SetDefault("jwt_secret", "ledger-default-dev-secret-change-me")
	v.SetDefault("jwt_issuer", "")
}

// Load reads configuration from defaults, the optional config file and the
// environment.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType("toml")
	if path := os.Getenv(EnvPrefix + "_CONFIG"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	tz, err := time.LoadLocation(v.GetString("timezone"))
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", v.GetString("timezone"), err)
	}

	cfg := &Config{
		Port:            v.GetInt("port"),
		LogLevel:        v.GetString("log_level"),
		LogFormat:       v.GetString("log_format"),
		ShutdownTimeout: v.GetDuration("shutdown_timeout"),

		DatabasePath: v.GetString("database_path"),
		BusyTimeout:  v.GetDuration("busy_timeout"),
		MaxConns:     v.GetInt("max_conns"),

		Timezone: tz,

		BenchmarkURL: v.GetString("benchmark_url"),
		HTTPTimeout:  v.GetDuration("http_timeout"),

		MaxRetries:     v.GetInt("max_retries"),
		InitialBackoff: v.GetDuration("initial_backoff"),
		MaxConcurrency: v.GetInt("max_concurrency"),
		QueueTimeout:   v.GetDuration("queue_timeout"),

		RateCacheTTL: v.GetDuration("rate_cache_ttl"),
		PendingTTL:   v.GetDuration("pending_ttl"),

		OTLPEndpoint: v.GetString("otlp_endpoint"),

		JWTSecret: v.GetString("jwt_secret"),
		JWTIssuer: v.GetString("jwt_issuer"),
	}

	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("port out of range: %d", cfg.Port)
	}
	if cfg.DatabasePath == "" {
		return nil, fmt.Errorf("database_path must not be empty")
	}
	return cfg, nil
}
