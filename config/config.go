package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/leadforge/mission-service/internal/telemetry"
)

// Config holds the application configuration
type Config struct {
	Server    ServerConfig     `mapstructure:"server"`
	Database  DatabaseConfig   `mapstructure:"database"`
	Auth      AuthConfig       `mapstructure:"auth"`
	Quota     QuotaConfig      `mapstructure:"quota"`
	Processor ProcessorConfig  `mapstructure:"processor"`
	Rescue    RescueConfig     `mapstructure:"rescue"`
	Followup  FollowupConfig   `mapstructure:"followup"`
	Locks     LocksConfig      `mapstructure:"locks"`
	Providers ProvidersConfig  `mapstructure:"providers"`
	AI        AIConfig         `mapstructure:"ai"`
	RateLimit RateLimitConfig  `mapstructure:"rate_limit"`
	Storage   StorageConfig    `mapstructure:"storage"`
	Logging   LoggingConfig    `mapstructure:"logging"`
	Telemetry telemetry.Config `mapstructure:"telemetry"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	Host         string        `mapstructure:"host"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// CronTimeout bounds /cron/* requests. It must leave room for the
	// response inside WriteTimeout.
	CronTimeout  time.Duration `mapstructure:"cron_timeout"`

	// Per-client limits on the operator API.
	APIRequestsPerSecond float64 `mapstructure:"api_requests_per_second"`
	APIBurst             int     `mapstructure:"api_burst"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	MaxConnections  int           `mapstructure:"max_connections"`
	MinConnections  int           `mapstructure:"min_connections"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// AuthConfig holds scoped token and internal key settings
type AuthConfig struct {
	TokenSecret    string   `mapstructure:"token_secret"`
	OrganizationID string   `mapstructure:"organization_id"`
	AllowedScopes  []string `mapstructure:"allowed_scopes"`
	MaxTTLSeconds  int      `mapstructure:"max_ttl_seconds"`
	InternalAPIKey string   `mapstructure:"internal_api_key"`
}

// QuotaConfig holds per-organization daily limits. A negative limit means unlimited.
type QuotaConfig struct {
	DailySearchLimit      int `mapstructure:"daily_search_limit"`
	DailySearchRunsLimit  int `mapstructure:"daily_search_runs_limit"`
	DailyEnrichLimit      int `mapstructure:"daily_enrich_limit"`
	DailyInvestigateLimit int `mapstructure:"daily_investigate_limit"`
	DailyContactLimit     int `mapstructure:"daily_contact_limit"`
}

// ProcessorConfig holds task processor settings
type ProcessorConfig struct {
	WorkerID          string        `mapstructure:"worker_id"`
	BatchSize         int           `mapstructure:"batch_size"`
	Concurrency       int           `mapstructure:"concurrency"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	TaskTimeout       time.Duration `mapstructure:"task_timeout"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	Enabled           bool          `mapstructure:"enabled"`
}

// RescueConfig holds stuck-task sweep settings
type RescueConfig struct {
	Interval         time.Duration `mapstructure:"interval"`
	OlderThanMinutes int           `mapstructure:"older_than_minutes"`
	Limit            int           `mapstructure:"limit"`
	RetentionDays    int           `mapstructure:"retention_days"`
}

// FollowupConfig holds follow-up cron settings
type FollowupConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	Enabled     bool          `mapstructure:"enabled"`
	Concurrency int           `mapstructure:"concurrency"`
}

// LocksConfig selects and configures the lead lock backend
type LocksConfig struct {
	Backend     string `mapstructure:"backend"`
	DynamoTable string `mapstructure:"dynamo_table"`
	Region      string `mapstructure:"region"`
	Endpoint    string `mapstructure:"endpoint"`
	NATSURL     string `mapstructure:"nats_url"`
	Bucket      string `mapstructure:"bucket"`
}

// ProvidersConfig holds the endpoints of the external pipeline collaborators
type ProvidersConfig struct {
	SearchURL      string        `mapstructure:"search_url"`
	EnrichURL      string        `mapstructure:"enrich_url"`
	InvestigateURL string        `mapstructure:"investigate_url"`
	SendURL        string        `mapstructure:"send_url"`
	APIKey         string        `mapstructure:"api_key"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

// AIConfig holds content generation settings
type AIConfig struct {
	APIKey    string `mapstructure:"api_key"`
	BaseURL   string `mapstructure:"base_url"`
	Model     string `mapstructure:"model"`
	MaxTokens int    `mapstructure:"max_tokens"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerSecond int `mapstructure:"requests_per_second"`
	Burst             int `mapstructure:"burst"`
	MaxRetries        int `mapstructure:"max_retries"`
	InitialBackoffMs  int `mapstructure:"initial_backoff_ms"`
	MaxBackoffMs      int `mapstructure:"max_backoff_ms"`
}

// StorageConfig holds storage configuration
type StorageConfig struct {
	Type     string `mapstructure:"type"`
	BasePath string `mapstructure:"base_path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Format  string `mapstructure:"format"`
	NoColor bool   `mapstructure:"no_color"`
}

// Load loads the configuration from file, .env, and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	// .env is optional
	if err := loadEnvFile(); err != nil {
		log.Debug().Err(err).Msg(".env file not loaded")
	}

	v.SetEnvPrefix("MISSION_SERVICE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvVars(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Scope lists from the environment arrive comma separated.
	cfg.Auth.AllowedScopes = splitList(strings.Join(cfg.Auth.AllowedScopes, ","))

	return &cfg, nil
}

// loadEnvFile loads the first .env file found in the usual locations.
func loadEnvFile() error {
	for _, path := range []string{".env", "./config/.env"} {
		if _, err := os.Stat(path); err == nil {
			return godotenv.Load(path)
		}
	}
	return fmt.Errorf("no .env file found")
}

// bindEnvVars binds unprefixed environment variables to config keys
func bindEnvVars(v *viper.Viper) {
	v.BindEnv("database.url", "DATABASE_URL")

	v.BindEnv("server.port", "PORT")
	v.BindEnv("server.host", "HOST")

	v.BindEnv("logging.level", "LOG_LEVEL")

	v.BindEnv("auth.token_secret", "TOKEN_SECRET")
	v.BindEnv("auth.organization_id", "ORGANIZATION_ID")
	v.BindEnv("auth.allowed_scopes", "ALLOWED_SCOPES")
	v.BindEnv("auth.max_ttl_seconds", "TOKEN_MAX_TTL_SECONDS")
	v.BindEnv("auth.internal_api_key", "INTERNAL_API_KEY")

	v.BindEnv("ai.api_key", "ANTHROPIC_API_KEY")
	v.BindEnv("providers.api_key", "PROVIDERS_API_KEY")

	v.BindEnv("locks.nats_url", "NATS_URL")
	v.BindEnv("locks.region", "AWS_REGION")

	v.BindEnv("storage.base_path", "STORAGE_PATH")

	v.BindEnv("telemetry.enabled", "OTEL_ENABLED")
	v.BindEnv("telemetry.endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")
	v.BindEnv("telemetry.service_name", "OTEL_SERVICE_NAME")
	v.BindEnv("telemetry.environment", "ENVIRONMENT")
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 120*time.Second)
	v.SetDefault("server.cron_timeout", 100*time.Second)
	v.SetDefault("server.api_requests_per_second", 10)
	v.SetDefault("server.api_burst", 20)

	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_connections", 5)
	v.SetDefault("database.max_conn_lifetime", 1*time.Hour)
	v.SetDefault("database.max_conn_idle_time", 30*time.Minute)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("auth.allowed_scopes", []string{"*"})
	v.SetDefault("auth.max_ttl_seconds", 1800)

	v.SetDefault("quota.daily_search_limit", 500)
	v.SetDefault("quota.daily_search_runs_limit", 20)
	v.SetDefault("quota.daily_enrich_limit", 300)
	v.SetDefault("quota.daily_investigate_limit", 100)
	v.SetDefault("quota.daily_contact_limit", 50)

	v.SetDefault("processor.batch_size", 5)
	v.SetDefault("processor.concurrency", 3)
	v.SetDefault("processor.poll_interval", 15*time.Second)
	v.SetDefault("processor.task_timeout", 45*time.Second)
	v.SetDefault("processor.heartbeat_interval", 10*time.Second)
	v.SetDefault("processor.enabled", true)

	v.SetDefault("rescue.interval", 5*time.Minute)
	v.SetDefault("rescue.older_than_minutes", 15)
	v.SetDefault("rescue.limit", 100)
	v.SetDefault("rescue.retention_days", 30)

	v.SetDefault("followup.interval", 1*time.Hour)
	v.SetDefault("followup.enabled", true)
	v.SetDefault("followup.concurrency", 4)

	v.SetDefault("locks.backend", "postgres")
	v.SetDefault("locks.dynamo_table", "lead_locks")
	v.SetDefault("locks.region", "us-east-1")
	v.SetDefault("locks.bucket", "lead_locks")

	v.SetDefault("providers.timeout", 45*time.Second)

	v.SetDefault("ai.model", "claude-sonnet-4-5")
	v.SetDefault("ai.max_tokens", 2048)

	v.SetDefault("rate_limit.requests_per_second", 50)
	v.SetDefault("rate_limit.burst", 100)
	v.SetDefault("rate_limit.max_retries", 3)
	v.SetDefault("rate_limit.initial_backoff_ms", 200)
	v.SetDefault("rate_limit.max_backoff_ms", 10000)

	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.base_path", "./data/reports")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.no_color", false)

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.endpoint", "localhost:4317")
	v.SetDefault("telemetry.service_name", telemetry.DefaultServiceName)
}

// Validate checks the settings the service cannot start without.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Auth.TokenSecret) == "" {
		return fmt.Errorf("auth.token_secret (TOKEN_SECRET) is required")
	}
	if strings.TrimSpace(c.Auth.OrganizationID) == "" {
		return fmt.Errorf("auth.organization_id (ORGANIZATION_ID) is required")
	}
	switch c.Locks.Backend {
	case "postgres", "memory":
	case "dynamodb":
		if c.Locks.DynamoTable == "" {
			return fmt.Errorf("locks.dynamo_table is required for the dynamodb backend")
		}
	case "nats":
		if c.Locks.NATSURL == "" {
			return fmt.Errorf("locks.nats_url (NATS_URL) is required for the nats backend")
		}
	default:
		return fmt.Errorf("unknown locks.backend %q", c.Locks.Backend)
	}
	if c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		return fmt.Errorf("telemetry.endpoint is required when telemetry is enabled")
	}
	if c.Processor.TaskTimeout <= 0 {
		return fmt.Errorf("processor.task_timeout must be positive")
	}
	if c.Server.CronTimeout <= 0 || c.Server.CronTimeout >= c.Server.WriteTimeout {
		return fmt.Errorf("server.cron_timeout must be positive and below server.write_timeout")
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
