package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Load reads configuration from an optional config.yaml and from
// environment variables with the TASKFORGE_ prefix. Environment variables
// take precedence over values from the config file, which in turn override
// the built-in defaults. Returns a populated Config struct or an error if
// loading or validation fails.
func Load() (*Config, error) {
	v := viper.New()

	// Defaults. Every key needs one so AutomaticEnv can see it.
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("scheduler.tick_interval", "100ms")
	v.SetDefault("scheduler.max_concurrent_tasks", 10)
	v.SetDefault("scheduler.default_executor", "pool")
	v.SetDefault("scheduler.worker_count", 0)
	v.SetDefault("scheduler.async_limit", 8)
	v.SetDefault("scheduler.queue_size", 64)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No config file is fine; env vars and defaults cover everything.
	}

	v.SetEnvPrefix("TASKFORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}
