package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable read by Load.
const EnvPrefix = "DOCSYNC"

// ErrInvalidConfig is returned when the loaded configuration fails validation.
var ErrInvalidConfig = errors.New("invalid configuration")

// setDefaults registers every known key so that environment variables can
// override it during Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.lock_file", "./docsync.lock")

	v.SetDefault("database.url", "")

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_lifetime_minutes", 180)
	v.SetDefault("auth.issuer", "api-backend")
	v.SetDefault("auth.audience", "user")

	v.SetDefault("vectordb.base_url", "")
	v.SetDefault("vectordb.timeout", "300s")
	v.SetDefault("vectordb.request_interval", "50ms")
	v.SetDefault("vectordb.queue_size", 0)
	v.SetDefault("vectordb.record_limit", 100)
	v.SetDefault("vectordb.retry_times", 2)
	v.SetDefault("vectordb.query_cache_ttl", "30s")

	v.SetDefault("scheduler.enabled", false)
	v.SetDefault("scheduler.report_spec", "@every 1h")
	v.SetDefault("scheduler.bridge_timeout", "30s")

	v.SetDefault("notify.webhook_url", "")
}

// Load reads configuration from environment variables and, when path is not
// empty, from the given config file. Environment variables take precedence
// over values from the file. The result is validated before it is returned.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks cfg against its validate tags.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}
