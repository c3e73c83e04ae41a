package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/platinummonkey/grants/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Auth          AuthConfig
	RateLimit     RateLimitConfig
	Notify        NotifyConfig
	Assignments   AssignmentsConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// DatabaseConfig selects the SQL driver and pool sizing
type DatabaseConfig struct {
	Driver          string // postgres or sqlite3
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	AutoMigrate     bool
}

// RedisConfig is optional; an empty URL disables Redis
type RedisConfig struct {
	URL        string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
}

// AuthConfig controls how the acting user is identified
type AuthConfig struct {
	OIDCIssuer   string
	OIDCClientID string
	// ActorClaim names the ID token claim holding the numeric user id
	ActorClaim string
	// TrustActorHeader accepts X-Actor-ID when OIDC is not configured
	TrustActorHeader bool
}

// RateLimitConfig bounds the public verification endpoint per client
type RateLimitConfig struct {
	VerifyRequestsPerWindow int
	VerifyWindow            time.Duration
	VerifyBurst             int
}

// NotifyConfig configures the outbox relay and delivery channels
type NotifyConfig struct {
	SMTPHost      string
	SMTPPort      int
	SMTPUsername  string
	SMTPPassword  string
	SMTPFrom      string
	SMSGatewayURL string
	SMSAPIKey     string
	VerifyBaseURL string

	DispatchTimeout   time.Duration
	RelaySchedule     string
	RelayBatchSize    int
	MaxAttempts       int
	InitialRetryDelay time.Duration
	MaxRetryDelay     time.Duration
}

// AssignmentsConfig tunes the lifecycle, orchestration and resolver
type AssignmentsConfig struct {
	CatalogPath        string
	BatchWorkers       int
	ImportWorkers      int
	ItemTimeout        time.Duration
	MaxImportRows      int
	DirectoryCacheSize int
	DirectoryCacheTTL  time.Duration
	// ResolverLegacyActiveGate counts every active assignment, not only VERIFIED ones
	ResolverLegacyActiveGate bool
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel observability.LogLevel

	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
}

// LoadConfig loads configuration from environment variables. Each envFile
// (default ".env") is read first without overriding variables already set;
// missing files are ignored.
func LoadConfig(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Redis:         loadRedisConfig(),
		Auth:          loadAuthConfig(),
		RateLimit:     loadRateLimitConfig(),
		Notify:        loadNotifyConfig(),
		Assignments:   loadAssignmentsConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("GRANTS_HOST", "0.0.0.0"),
		Port:            getEnv("GRANTS_PORT", "8080"),
		ReadTimeout:     getEnvDuration("GRANTS_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("GRANTS_WRITE_TIMEOUT", 60*time.Second),
		IdleTimeout:     getEnvDuration("GRANTS_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("GRANTS_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("GRANTS_HEALTH_PORT", "9090"),
	}
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          getEnv("GRANTS_DB_DRIVER", "postgres"),
		URL:             getEnv("GRANTS_DB_URL", ""),
		MaxOpenConns:    getEnvInt("GRANTS_DB_MAX_OPEN_CONNS", 20),
		MaxIdleConns:    getEnvInt("GRANTS_DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvDuration("GRANTS_DB_CONN_MAX_LIFETIME", 5*time.Minute),
		AutoMigrate:     getEnvBool("GRANTS_DB_AUTO_MIGRATE", false),
	}
}

func loadRedisConfig() RedisConfig {
	return RedisConfig{
		URL:        getEnv("GRANTS_REDIS_URL", ""),
		Password:   getEnv("GRANTS_REDIS_PASSWORD", ""),
		DB:         getEnvInt("GRANTS_REDIS_DB", 0),
		PoolSize:   getEnvInt("GRANTS_REDIS_POOL_SIZE", 10),
		MaxRetries: getEnvInt("GRANTS_REDIS_MAX_RETRIES", 3),
	}
}

func loadAuthConfig() AuthConfig {
	return AuthConfig{
		OIDCIssuer:       getEnv("GRANTS_OIDC_ISSUER", ""),
		OIDCClientID:     getEnv("GRANTS_OIDC_CLIENT_ID", ""),
		ActorClaim:       getEnv("GRANTS_OIDC_ACTOR_CLAIM", "uid"),
		TrustActorHeader: getEnvBool("GRANTS_TRUST_ACTOR_HEADER", false),
	}
}

func loadRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		VerifyRequestsPerWindow: getEnvInt("GRANTS_VERIFY_RATE_LIMIT", 10),
		VerifyWindow:            getEnvDuration("GRANTS_VERIFY_RATE_WINDOW", time.Minute),
		VerifyBurst:             getEnvInt("GRANTS_VERIFY_RATE_BURST", 5),
	}
}

func loadNotifyConfig() NotifyConfig {
	return NotifyConfig{
		SMTPHost:          getEnv("GRANTS_SMTP_HOST", ""),
		SMTPPort:          getEnvInt("GRANTS_SMTP_PORT", 587),
		SMTPUsername:      getEnv("GRANTS_SMTP_USERNAME", ""),
		SMTPPassword:      getEnv("GRANTS_SMTP_PASSWORD", ""),
		SMTPFrom:          getEnv("GRANTS_SMTP_FROM", "no-reply@localhost"),
		SMSGatewayURL:     getEnv("GRANTS_SMS_GATEWAY_URL", ""),
		SMSAPIKey:         getEnv("GRANTS_SMS_API_KEY", ""),
		VerifyBaseURL:     getEnv("GRANTS_VERIFY_BASE_URL", "http://localhost:8080/verify"),
		DispatchTimeout:   getEnvDuration("GRANTS_NOTIFY_TIMEOUT", 10*time.Second),
		RelaySchedule:     getEnv("GRANTS_NOTIFY_RELAY_SCHEDULE", "@every 1m"),
		RelayBatchSize:    getEnvInt("GRANTS_NOTIFY_RELAY_BATCH", 100),
		MaxAttempts:       getEnvInt("GRANTS_NOTIFY_MAX_ATTEMPTS", 5),
		InitialRetryDelay: getEnvDuration("GRANTS_NOTIFY_INITIAL_DELAY", 30*time.Second),
		MaxRetryDelay:     getEnvDuration("GRANTS_NOTIFY_MAX_DELAY", 30*time.Minute),
	}
}

func loadAssignmentsConfig() AssignmentsConfig {
	return AssignmentsConfig{
		CatalogPath:              getEnv("GRANTS_CATALOG_PATH", ""),
		BatchWorkers:             getEnvInt("GRANTS_BATCH_WORKERS", 4),
		ImportWorkers:            getEnvInt("GRANTS_IMPORT_WORKERS", 8),
		ItemTimeout:              getEnvDuration("GRANTS_ITEM_TIMEOUT", 10*time.Second),
		MaxImportRows:            getEnvInt("GRANTS_MAX_IMPORT_ROWS", 5000),
		DirectoryCacheSize:       getEnvInt("GRANTS_DIRECTORY_CACHE_SIZE", 1024),
		DirectoryCacheTTL:        getEnvDuration("GRANTS_DIRECTORY_CACHE_TTL", 5*time.Minute),
		ResolverLegacyActiveGate: getEnvBool("GRANTS_RESOLVER_LEGACY_ACTIVE_GATE", false),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("GRANTS_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("GRANTS_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("GRANTS_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("GRANTS_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("GRANTS_OTEL_SERVICE_NAME", "grantsd"),
		OTelServiceVersion: getEnv("GRANTS_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("GRANTS_OTEL_INSECURE", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	switch c.Database.Driver {
	case "postgres", "sqlite3":
	default:
		return fmt.Errorf("invalid database driver: %s (must be postgres or sqlite3)", c.Database.Driver)
	}
	if c.Database.URL == "" {
		return fmt.Errorf("database URL is required")
	}

	if (c.Auth.OIDCIssuer == "") != (c.Auth.OIDCClientID == "") {
		return fmt.Errorf("OIDC issuer and client id must be set together")
	}

	if c.RateLimit.VerifyRequestsPerWindow <= 0 || c.RateLimit.VerifyWindow <= 0 {
		return fmt.Errorf("verify rate limit must be positive")
	}

	if c.Notify.MaxAttempts <= 0 {
		return fmt.Errorf("notification max attempts must be positive")
	}

	if c.Assignments.BatchWorkers <= 0 || c.Assignments.ImportWorkers <= 0 {
		return fmt.Errorf("worker counts must be positive")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// OIDCEnabled reports whether bearer tokens are verified against an issuer
func (a AuthConfig) OIDCEnabled() bool {
	return a.OIDCIssuer != ""
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
