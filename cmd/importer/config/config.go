// Package config builds component configurations from CLI flags and
// environment settings.
package config

import (
	"time"

	"github.com/spf13/viper"

	"iati-import-service/internal/batch"
	"iati-import-service/internal/parseapi"
	"iati-import-service/internal/registry"
	"iati-import-service/pkg/logger"
)

// CreateLoggerConfig derives the logger configuration from the verbose flag
// and any configured log settings.
func CreateLoggerConfig() *logger.Config {
	if viper.GetBool("verbose") {
		return logger.DebugConfig()
	}

	cfg := logger.DefaultConfig()
	if level := viper.GetString("log-level"); level != "" {
		cfg.Level = logger.Level(level)
	}
	if format := viper.GetString("log-format"); format != "" {
		cfg.Format = logger.Format(format)
	}
	return cfg
}

// CreateRegistryConfig builds the registry client configuration. The
// gateway URL covers the parse, fetch and batch endpoints.
func CreateRegistryConfig() *registry.Config {
	cfg := registry.DefaultConfig()
	if url := viper.GetString("gateway-url"); url != "" {
		cfg.BaseURL = url
	}
	if timeout := viper.GetDuration("fetch-timeout"); timeout > 0 {
		cfg.Timeout = timeout
	}
	if ttl := viper.GetDuration("cache-ttl"); ttl > 0 {
		cfg.CacheTTL = ttl
	}
	return cfg
}

// CreateParseConfig builds the parse client configuration.
func CreateParseConfig() *parseapi.Config {
	cfg := parseapi.DefaultConfig()
	if url := viper.GetString("gateway-url"); url != "" {
		cfg.BaseURL = url
	}
	return cfg
}

// CreateBatchConfig builds the batch client configuration.
func CreateBatchConfig() *batch.Config {
	cfg := batch.DefaultConfig()
	if url := viper.GetString("gateway-url"); url != "" {
		cfg.BaseURL = url
	}
	if interval := viper.GetDuration("poll-interval"); interval > 0 {
		cfg.PollInterval = interval
	}
	if timeout := viper.GetDuration("poll-timeout"); timeout > 0 {
		cfg.PollTimeout = timeout
	}
	return cfg
}

// StorePath returns the activity store location. An empty value disables
// local matching.
func StorePath() string {
	return viper.GetString("store-path")
}

// ListenAddr returns the HTTP listen address for serve mode.
func ListenAddr() string {
	if addr := viper.GetString("listen"); addr != "" {
		return addr
	}
	return ":8080"
}

// ShutdownTimeout bounds graceful HTTP shutdown.
func ShutdownTimeout() time.Duration {
	if timeout := viper.GetDuration("shutdown-timeout"); timeout > 0 {
		return timeout
	}
	return 10 * time.Second
}
