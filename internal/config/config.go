package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server    ServerConfig    `mapstructure:"server" validate:"required"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Auth      AuthConfig      `mapstructure:"auth" validate:"required"`
	VectorDB  VectorDBConfig  `mapstructure:"vectordb" validate:"required"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Notify    NotifyConfig    `mapstructure:"notify"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel        string        `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
	// LockFile elects the process that runs scheduled jobs.
	LockFile string `mapstructure:"lock_file" validate:"required"`
}

// DatabaseConfig contains the run history database settings.
// An empty URL disables run history.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"omitempty,url"`
}

// AuthConfig contains all authentication and authorization settings.
type AuthConfig struct {
	JWTSecret            string `mapstructure:"jwt_secret" validate:"required,min=32"`
	TokenLifetimeMinutes int    `mapstructure:"token_lifetime_minutes" validate:"required,gt=0"`
	Issuer               string `mapstructure:"issuer" validate:"required"`
	Audience             string `mapstructure:"audience" validate:"required"`
}

// VectorDBConfig contains the remote vector store settings.
type VectorDBConfig struct {
	BaseURL string        `mapstructure:"base_url" validate:"required,url"`
	Timeout time.Duration `mapstructure:"timeout" validate:"gt=0"`
	// RequestInterval is the minimum spacing between two outbound requests.
	RequestInterval time.Duration `mapstructure:"request_interval" validate:"gte=0"`
	// QueueSize bounds the outbound request queue. Zero means unbounded.
	QueueSize     int           `mapstructure:"queue_size" validate:"gte=0"`
	RecordLimit   int           `mapstructure:"record_limit" validate:"gt=0,lte=100"`
	RetryTimes    int           `mapstructure:"retry_times" validate:"gte=0"`
	QueryCacheTTL time.Duration `mapstructure:"query_cache_ttl" validate:"gte=0"`
}

// SchedulerConfig contains the scheduled job settings.
type SchedulerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// ReportSpec is the cron spec of the failed run report.
	ReportSpec    string        `mapstructure:"report_spec" validate:"required_if=Enabled true"`
	BridgeTimeout time.Duration `mapstructure:"bridge_timeout" validate:"gte=0"`
}

// NotifyConfig contains the chat webhook settings.
type NotifyConfig struct {
	WebhookURL string `mapstructure:"webhook_url" validate:"omitempty,url"`
}
