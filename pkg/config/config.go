package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	Server        ServerConfig
	Ops           OpsConfig
	Database      DatabaseConfig
	Maps          MapsConfig
	Dispatch      DispatchConfig
	Redis         RedisConfig
	NATS          NATSConfig
	Observability ObservabilityConfig
	Resilience    ResilienceConfig
}

// ServerConfig holds the TCP gateway configuration.
type ServerConfig struct {
	ListenPort  int
	Environment string
	ServiceName string
	// IdleTimeoutSeconds closes connections with no complete frame for this long.
	IdleTimeoutSeconds int
	// MaxFrameBytes caps a single newline-terminated frame.
	MaxFrameBytes int
}

// OpsConfig holds the HTTP sidecar listener (health + metrics).
type OpsConfig struct {
	Addr    string
	Enabled bool
}

// DatabaseConfig holds database configuration. URL, when set, wins over the
// discrete fields; the --db-path CLI flag lands here.
type DatabaseConfig struct {
	URL      string
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
	MinConns int
}

// MapsConfig holds map provider configuration.
type MapsConfig struct {
	Provider          string // "google" or "here"
	APIKey            string
	Endpoint          string // base URL override; the --map-endpoint CLI flag lands here
	TimeoutSeconds    int
	FallbackProviders []string
	CacheEnabled      bool
	CacheTTLSeconds   int
}

// DispatchConfig holds orchestration tuning.
type DispatchConfig struct {
	FanoutWidth            int
	PendingTimeoutSeconds  int
	ConfirmTimeoutSeconds  int
	SweepIntervalSeconds   int
	SelectorLimit          int
	OnlineStalenessMinutes int
	ScheduleGraceMinutes   int
}

// RedisConfig holds Redis configuration for the advisory route memo.
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     string
	Password string
	DB       int
}

// NATSConfig holds event-bus configuration.
type NATSConfig struct {
	Enabled    bool
	URL        string
	StreamName string
}

// ObservabilityConfig groups tracing and error reporting.
type ObservabilityConfig struct {
	SentryDSN       string
	TracingEnabled  bool
	OTLPEndpoint    string
	TraceSampleRate float64
}

// ResilienceConfig groups runtime resilience controls.
type ResilienceConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

// CircuitBreakerConfig captures breaker tuning for upstream map providers.
type CircuitBreakerConfig struct {
	Enabled          bool
	FailureThreshold int
	SuccessThreshold int
	TimeoutSeconds   int
	IntervalSeconds  int
}

// Load reads configuration from the environment. A .env file is honored
// when present. CLI flags are applied on top by the caller.
func Load(serviceName string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			ListenPort:         getEnvAsInt("LISTEN_PORT", 7077),
			Environment:        getEnv("ENVIRONMENT", "development"),
			ServiceName:        serviceName,
			IdleTimeoutSeconds: getEnvAsInt("CONN_IDLE_TIMEOUT_SECONDS", 600),
			MaxFrameBytes:      getEnvAsInt("MAX_FRAME_BYTES", 1<<20),
		},
		Ops: OpsConfig{
			Addr:    getEnv("OPS_ADDR", ":8081"),
			Enabled: getEnvAsBool("OPS_ENABLED", true),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "aubus"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: getEnvAsInt("DB_MAX_CONNS", 25),
			MinConns: getEnvAsInt("DB_MIN_CONNS", 5),
		},
		Maps: MapsConfig{
			Provider:          getEnv("MAPS_PROVIDER", "google"),
			APIKey:            getEnv("MAPS_API_KEY", ""),
			Endpoint:          getEnv("MAPS_ENDPOINT", ""),
			TimeoutSeconds:    getEnvAsInt("MAPS_TIMEOUT_SECONDS", 5),
			FallbackProviders: splitList(getEnv("MAPS_FALLBACK_PROVIDERS", "")),
			CacheEnabled:      getEnvAsBool("MAPS_CACHE_ENABLED", false),
			CacheTTLSeconds:   getEnvAsInt("MAPS_CACHE_TTL_SECONDS", 60),
		},
		Dispatch: DispatchConfig{
			FanoutWidth:            getEnvAsInt("FANOUT_WIDTH", 3),
			PendingTimeoutSeconds:  getEnvAsInt("PENDING_TIMEOUT_SECONDS", 60),
			ConfirmTimeoutSeconds:  getEnvAsInt("CONFIRM_TIMEOUT_SECONDS", 120),
			SweepIntervalSeconds:   getEnvAsInt("SWEEP_INTERVAL_SECONDS", 10),
			SelectorLimit:          getEnvAsInt("SELECTOR_LIMIT", 10),
			OnlineStalenessMinutes: getEnvAsInt("ONLINE_STALENESS_MINUTES", 5),
			ScheduleGraceMinutes:   getEnvAsInt("SCHEDULE_GRACE_MINUTES", 5),
		},
		Redis: RedisConfig{
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		NATS: NATSConfig{
			Enabled:    getEnvAsBool("NATS_ENABLED", false),
			URL:        getEnv("NATS_URL", "nats://localhost:4222"),
			StreamName: getEnv("NATS_STREAM", "AUBUS"),
		},
		Observability: ObservabilityConfig{
			SentryDSN:       getEnv("SENTRY_DSN", ""),
			TracingEnabled:  getEnvAsBool("TRACING_ENABLED", false),
			OTLPEndpoint:    getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			TraceSampleRate: getEnvAsFloat("OTEL_TRACE_SAMPLE_RATE", 0),
		},
		Resilience: ResilienceConfig{
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:          getEnvAsBool("CB_ENABLED", true),
				FailureThreshold: getEnvAsInt("CB_FAILURE_THRESHOLD", 5),
				SuccessThreshold: getEnvAsInt("CB_SUCCESS_THRESHOLD", 1),
				TimeoutSeconds:   getEnvAsInt("CB_TIMEOUT_SECONDS", 30),
				IntervalSeconds:  getEnvAsInt("CB_INTERVAL_SECONDS", 60),
			},
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks invariants. Callers that layer CLI flags on top of a
// loaded config re-run it afterwards.
func (c *Config) Validate() error {
	if c.Server.ListenPort <= 0 || c.Server.ListenPort > 65535 {
		return fmt.Errorf("invalid listen port %d", c.Server.ListenPort)
	}
	if c.Dispatch.FanoutWidth < 1 {
		return fmt.Errorf("fanout width must be at least 1, got %d", c.Dispatch.FanoutWidth)
	}
	if c.Dispatch.PendingTimeoutSeconds < 1 {
		return fmt.Errorf("pending timeout must be at least 1s, got %d", c.Dispatch.PendingTimeoutSeconds)
	}
	if c.Dispatch.ConfirmTimeoutSeconds < 1 {
		return fmt.Errorf("confirm timeout must be at least 1s, got %d", c.Dispatch.ConfirmTimeoutSeconds)
	}
	if c.Dispatch.SweepIntervalSeconds < 1 {
		return fmt.Errorf("sweep interval must be at least 1s, got %d", c.Dispatch.SweepIntervalSeconds)
	}
	switch c.Maps.Provider {
	case "google", "here":
	default:
		return fmt.Errorf("unknown maps provider %q", c.Maps.Provider)
	}
	return nil
}

// DSN returns the database connection string.
func (c *DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// RedisAddr returns the Redis address.
func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func splitList(value string) []string {
	if value == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
