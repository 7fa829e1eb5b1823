// Package config loads process configuration from environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all application configuration, loaded from environment variables.
type Config struct {
	// Mode selects the runtime mode: "once" (single sync and exit) or "daemon"
	// (long-running process exposing the diagnostics HTTP surface).
	Mode string `env:"VULNSYNC_MODE" envDefault:"once"`

	// Diagnostics HTTP surface (daemon mode only).
	Host string `env:"VULNSYNC_HOST" envDefault:"127.0.0.1"`
	Port int    `env:"VULNSYNC_PORT" envDefault:"8090"`

	// StoragePath is the path to the embedded database file. The containing
	// directory is created if it does not exist.
	StoragePath string `env:"VULNSYNC_STORAGE_PATH" envDefault:"./storage/vanta_vulnerabilities.db"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Telemetry
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	MetricsPath  string `env:"METRICS_PATH" envDefault:"/metrics"`

	// Sync behavior
	BatchSize   int  `env:"VULNSYNC_BATCH_SIZE" envDefault:"1000"`
	Incremental bool `env:"VULNSYNC_INCREMENTAL" envDefault:"false"`

	// Remote API
	APIBaseURL  string        `env:"VULNSYNC_API_BASE_URL" envDefault:"https://api.vanta.com"`
	AuthURL     string        `env:"VULNSYNC_AUTH_URL" envDefault:"https://api.vanta.com/oauth/token"`
	HTTPTimeout time.Duration `env:"VULNSYNC_HTTP_TIMEOUT" envDefault:"120s"`

	// Credentials (consumed by the credentials.Store port, not read directly
	// by the API client — see internal/credentials).
	ClientID     string `env:"VANTA_CLIENT_ID"`
	ClientSecret string `env:"VANTA_CLIENT_SECRET"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config from env: %w", err)
	}
	return cfg, nil
}

// ListenAddr returns the address the diagnostics HTTP server should listen on.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
