package config

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/kelseyhightower/envconfig"

	"github.com/git-pkgs/feed/internal/core"
)

// Config holds all feed configuration.
type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Downloads DownloadsConfig
	Auth      AuthConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
	Upstream  UpstreamConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host           string `envconfig:"FEED_HOST" default:"0.0.0.0"`
	Port           string `envconfig:"FEED_PORT" default:"8080"`
	BaseURL        string `envconfig:"FEED_BASE_URL" default:"http://localhost:8080"`
	MaxUploadBytes int64  `envconfig:"FEED_MAX_UPLOAD_BYTES" default:"52428800"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// StorageConfig holds package store configuration.
type StorageConfig struct {
	PackagesPath   string `envconfig:"FEED_PACKAGES_PATH" default:"/var/nuget/packages"`
	AllowOverwrite bool   `envconfig:"FEED_ALLOW_OVERWRITE" default:"true"`
}

// DownloadsConfig selects the download counter backend.
type DownloadsConfig struct {
	Backend string `envconfig:"FEED_DOWNLOADS_BACKEND" default:"sqlite"`
	Path    string `envconfig:"FEED_DOWNLOADS_PATH" default:"/var/nuget/downloads.db"`
}

// AuthConfig holds the publish/delete API key. An empty key disables both.
type AuthConfig struct {
	APIKey string `envconfig:"FEED_API_KEY"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// UpstreamConfig controls importing packages from other feeds.
// Each source is name=url, with url the flat container base address, for
// example FEED_UPSTREAM_SOURCES=internal=https://nuget.internal/v3-flatcontainer/.
type UpstreamConfig struct {
	Enabled bool     `envconfig:"FEED_IMPORT_ENABLED" default:"true"`
	Sources []string `envconfig:"FEED_UPSTREAM_SOURCES"`
}

// SourceMap parses Sources into a name to URL map.
func (u UpstreamConfig) SourceMap() (map[string]string, error) {
	m := make(map[string]string, len(u.Sources))
	for _, src := range u.Sources {
		name, raw, ok := strings.Cut(src, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("upstream source %q is not name=url", src)
		}
		raw = strings.TrimSpace(raw)
		if parsed, err := url.Parse(raw); err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			return nil, fmt.Errorf("invalid url %q for upstream source %q", raw, name)
		}
		m[name] = raw
	}
	return m, nil
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from the environment or returns Default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           "8080",
			BaseURL:        "http://localhost:8080",
			MaxUploadBytes: 50 << 20,
		},
		Storage: StorageConfig{
			PackagesPath:   "/var/nuget/packages",
			AllowOverwrite: true,
		},
		Downloads: DownloadsConfig{
			Backend: "sqlite",
			Path:    "/var/nuget/downloads.db",
		},
		Logging: LogConfig{
			Level: "info",
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
		Upstream: UpstreamConfig{
			Enabled: true,
		},
	}
}

// Validate reports every problem with c.
func (c *Config) Validate() error {
	var errs []error

	if port, err := strconv.Atoi(c.Server.Port); err != nil || port < 1 || port > 65535 {
		errs = append(errs, fmt.Errorf("invalid port %q", c.Server.Port))
	}
	if u, err := url.Parse(c.Server.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("invalid base url %q", c.Server.BaseURL))
	}
	if c.Server.MaxUploadBytes <= 0 {
		errs = append(errs, fmt.Errorf("max upload bytes must be positive, got %d", c.Server.MaxUploadBytes))
	}
	if c.Storage.PackagesPath == "" {
		errs = append(errs, errors.New("packages path is required"))
	}
	if !slices.Contains(core.SupportedCounters(), c.Downloads.Backend) {
		errs = append(errs, fmt.Errorf("unknown downloads backend %q (have %v)", c.Downloads.Backend, core.SupportedCounters()))
	}
	if c.Downloads.Backend == "sqlite" && c.Downloads.Path == "" {
		errs = append(errs, errors.New("downloads path is required for the sqlite backend"))
	}
	if c.RateLimit.Enabled && (c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst <= 0) {
		errs = append(errs, errors.New("rate limit rps and burst must be positive"))
	}
	if _, err := c.Upstream.SourceMap(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}
