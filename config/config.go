// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package config provides configuration management for the Tempest dashboard client.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	apperrors "github.com/soothill/tempest-dashboard/pkg/errors"
)

// Defaults applied when a field is left empty.
const (
	DefaultServerURL     = "http://localhost:8080"
	DefaultAPIPrefix     = "/api/v1"
	DefaultPollInterval  = 60 * time.Second
	DefaultRange         = "24h"
	DefaultCacheVersion  = "tempest-dashboard-v1"
	DefaultCacheDir      = "/var/cache/tempest-dashboard"
	DefaultCacheMaxSize  = 100 * 1024 * 1024
	DefaultCacheMaxAge   = 7 * 24 * time.Hour
	DefaultManifestPath  = "/plugins.json"
	DefaultAdminAddress  = "localhost:9090"
	DefaultServiceType   = "_tempestd._tcp"
	DefaultDomain        = "local."
	DefaultDiscoveryWait = 3 * time.Second
)

// DefaultLibraryAssets are the pinned third-party bundles cached at install.
var DefaultLibraryAssets = []string{
	"https://cdn.jsdelivr.net/npm/chart.js@4.5.1/dist/chart.umd.min.js",
	"https://cdn.jsdelivr.net/npm/chartjs-adapter-date-fns@3.0.0/dist/chartjs-adapter-date-fns.bundle.min.js",
	"https://cdn.jsdelivr.net/npm/hammerjs@2.0.8/hammer.min.js",
	"https://cdn.jsdelivr.net/npm/chartjs-plugin-zoom@2.2.0/dist/chartjs-plugin-zoom.min.js",
}

// Config represents the application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Dashboard     DashboardConfig     `yaml:"dashboard"`
	Cache         CacheConfig         `yaml:"cache"`
	Plugins       PluginsConfig       `yaml:"plugins"`
	Discovery     DiscoveryConfig     `yaml:"discovery"`
	Admin         AdminConfig         `yaml:"admin"`
	Preferences   PreferencesConfig   `yaml:"preferences"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// ServerConfig holds telemetry server settings. An empty URL defers to the
// persisted preference, then discovery, then DefaultServerURL.
type ServerConfig struct {
	URL       string        `yaml:"url" validate:"omitempty,url"`
	APIPrefix string        `yaml:"api_prefix" validate:"startswith=/"`
	Timeout   time.Duration `yaml:"timeout"`
}

// DashboardConfig holds refresh and display settings
type DashboardConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	DefaultRange string        `yaml:"default_range" validate:"oneof=6h 24h 7d 30d 90d"`
	Units        string        `yaml:"units" validate:"omitempty,oneof=metric imperial"`
	ThemeURL     string        `yaml:"theme_url" validate:"omitempty,url"`
	StaticOrigin string        `yaml:"static_origin" validate:"omitempty,url"`
}

// CacheConfig holds cache-interception layer settings
type CacheConfig struct {
	Dir             string        `yaml:"dir" validate:"required"`
	Version         string        `yaml:"version" validate:"required"`
	MaxSize         int64         `yaml:"max_size" validate:"gt=0"`
	MaxAge          time.Duration `yaml:"max_age"`
	StaticAssets    []string      `yaml:"static_assets" validate:"dive,startswith=/"`
	LibraryAssets   []string      `yaml:"library_assets" validate:"dive,url"`
	BreakerFailures uint32        `yaml:"breaker_failures"`
	BreakerTimeout  time.Duration `yaml:"breaker_timeout"`
}

// PluginsConfig holds plugin runtime settings. Servers maps plugin names
// to server origin overrides.
type PluginsConfig struct {
	Enabled      bool              `yaml:"enabled"`
	ManifestPath string            `yaml:"manifest_path" validate:"startswith=/"`
	Servers      map[string]string `yaml:"servers" validate:"dive,url"`
}

// DiscoveryConfig holds mDNS discovery settings
type DiscoveryConfig struct {
	Enabled     bool          `yaml:"enabled"`
	ServiceType string        `yaml:"service_type" validate:"required"`
	Domain      string        `yaml:"domain" validate:"required"`
	Timeout     time.Duration `yaml:"timeout"`
}

// AdminConfig holds the local control surface settings
type AdminConfig struct {
	Address string `yaml:"address" validate:"required,listen_addr"`
}

// PreferencesConfig holds the preference store location. An empty path
// places it in the cache directory.
type PreferencesConfig struct {
	Path string `yaml:"path"`
}

// NotificationsConfig holds alerting settings
type NotificationsConfig struct {
	SlackWebhookURL string `yaml:"slack_webhook_url" validate:"omitempty,url"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn warning error fatal panic"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("listen_addr", func(fl validator.FieldLevel) bool {
		return validListenAddr(v, fl.Field().String())
	})
	return v
}

// validListenAddr accepts host:port where the host may be empty and port 0
// asks the kernel for a free port.
func validListenAddr(v *validator.Validate, addr string) bool {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if _, err := strconv.ParseUint(port, 10, 16); err != nil {
		return false
	}
	if host == "" || net.ParseIP(host) != nil {
		return true
	}
	return v.Var(host, "hostname_rfc1123") == nil
}

// Load reads configuration from a YAML file and applies environment
// variable overrides and defaults. An empty path skips the file.
func Load(path string) (*Config, error) {
	var cfg Config
	cfg.Plugins.Enabled = true
	cfg.Discovery.Enabled = true

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnvironmentOverrides()
	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// applyEnvironmentOverrides applies environment variable overrides to the configuration
func (c *Config) applyEnvironmentOverrides() {
	if u := os.Getenv("TEMPEST_SERVER_URL"); u != "" {
		c.Server.URL = u
	}
	if units := os.Getenv("TEMPEST_UNITS"); units != "" {
		c.Dashboard.Units = units
	}
	if dir := os.Getenv("TEMPEST_CACHE_DIR"); dir != "" {
		c.Cache.Dir = dir
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if webhook := os.Getenv("SLACK_WEBHOOK_URL"); webhook != "" {
		c.Notifications.SlackWebhookURL = webhook
	}
	if interval := os.Getenv("TEMPEST_POLL_INTERVAL"); interval != "" {
		duration, parseErr := time.ParseDuration(interval)
		if parseErr == nil {
			c.Dashboard.PollInterval = duration
		} else {
			fmt.Fprintf(os.Stderr, "Warning: Failed to parse TEMPEST_POLL_INTERVAL '%s': %v\n", interval, parseErr)
		}
	}
}

// setDefaults sets default values for configuration fields if not provided
func (c *Config) setDefaults() {
	if c.Server.APIPrefix == "" {
		c.Server.APIPrefix = DefaultAPIPrefix
	}
	if c.Server.Timeout == 0 {
		c.Server.Timeout = 30 * time.Second
	}
	if c.Dashboard.PollInterval == 0 {
		c.Dashboard.PollInterval = DefaultPollInterval
	}
	if c.Dashboard.DefaultRange == "" {
		c.Dashboard.DefaultRange = DefaultRange
	}
	if c.Cache.Dir == "" {
		c.Cache.Dir = DefaultCacheDir
	}
	if c.Cache.Version == "" {
		c.Cache.Version = DefaultCacheVersion
	}
	if c.Cache.MaxSize == 0 {
		c.Cache.MaxSize = DefaultCacheMaxSize
	}
	if c.Cache.MaxAge == 0 {
		c.Cache.MaxAge = DefaultCacheMaxAge
	}
	if c.Cache.StaticAssets == nil {
		c.Cache.StaticAssets = []string{DefaultManifestPath}
	}
	if c.Cache.LibraryAssets == nil {
		c.Cache.LibraryAssets = append([]string(nil), DefaultLibraryAssets...)
	}
	if c.Cache.BreakerFailures == 0 {
		c.Cache.BreakerFailures = 5
	}
	if c.Cache.BreakerTimeout == 0 {
		c.Cache.BreakerTimeout = 30 * time.Second
	}
	if c.Plugins.ManifestPath == "" {
		c.Plugins.ManifestPath = DefaultManifestPath
	}
	if c.Discovery.ServiceType == "" {
		c.Discovery.ServiceType = DefaultServiceType
	}
	if c.Discovery.Domain == "" {
		c.Discovery.Domain = DefaultDomain
	}
	if c.Discovery.Timeout == 0 {
		c.Discovery.Timeout = DefaultDiscoveryWait
	}
	if c.Admin.Address == "" {
		c.Admin.Address = DefaultAdminAddress
	}
	if c.Preferences.Path == "" {
		c.Preferences.Path = filepath.Join(c.Cache.Dir, "preferences.db")
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return toConfigError(err)
	}

	if validateErr := c.validateServer(); validateErr != nil {
		return validateErr
	}

	if validateErr := c.validateDashboard(); validateErr != nil {
		return validateErr
	}

	if validateErr := c.validateCache(); validateErr != nil {
		return validateErr
	}

	return nil
}

// toConfigError reports the first failed validator tag as a ConfigError.
func toConfigError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return apperrors.NewConfigError("config", "", err)
	}
	fe := verrs[0]
	field := strings.TrimPrefix(fe.Namespace(), "Config.")
	reason := fmt.Errorf("failed %q validation", fe.Tag())
	if fe.Param() != "" {
		reason = fmt.Errorf("failed %q validation (%s)", fe.Tag(), fe.Param())
	}
	return apperrors.NewConfigError(field, fmt.Sprint(fe.Value()), reason)
}

// validateServer checks the server URL is an absolute http(s) origin
func (c *Config) validateServer() error {
	if c.Server.URL != "" {
		if err := ValidateServerURL(c.Server.URL); err != nil {
			return apperrors.NewConfigError("server.url", c.Server.URL, err)
		}
	}
	if c.Server.Timeout < time.Second {
		return apperrors.NewConfigError("server.timeout", c.Server.Timeout.String(), fmt.Errorf("must be at least 1 second"))
	}
	for name, origin := range c.Plugins.Servers {
		if err := ValidateServerURL(origin); err != nil {
			return apperrors.NewConfigError("plugins.servers."+name, origin, err)
		}
	}
	return nil
}

// validateDashboard validates the refresh settings
func (c *Config) validateDashboard() error {
	if c.Dashboard.PollInterval < time.Second {
		return apperrors.NewConfigError("dashboard.poll_interval", c.Dashboard.PollInterval.String(), fmt.Errorf("must be at least 1 second"))
	}
	if c.Dashboard.PollInterval > time.Hour {
		return apperrors.NewConfigError("dashboard.poll_interval", c.Dashboard.PollInterval.String(), fmt.Errorf("must not exceed 1 hour"))
	}
	return nil
}

// validateCache validates the cache layer settings
func (c *Config) validateCache() error {
	if c.Cache.MaxAge < time.Hour {
		return apperrors.NewConfigError("cache.max_age", c.Cache.MaxAge.String(), fmt.Errorf("must be at least 1 hour"))
	}
	if c.Cache.BreakerTimeout < time.Second {
		return apperrors.NewConfigError("cache.breaker_timeout", c.Cache.BreakerTimeout.String(), fmt.Errorf("must be at least 1 second"))
	}
	return nil
}

// ValidateServerURL checks that raw is an absolute http or https URL with a
// host. The error wraps ErrInvalidServerURL.
func ValidateServerURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return apperrors.WrapValidationError("server", raw, "not a valid URL", apperrors.ErrInvalidServerURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return apperrors.WrapValidationError("server", raw, "scheme must be http or https", apperrors.ErrInvalidServerURL)
	}
	if u.Host == "" {
		return apperrors.WrapValidationError("server", raw, "host is required", apperrors.ErrInvalidServerURL)
	}
	return nil
}

// Origin reduces a valid server URL to scheme://host[:port].
func Origin(raw string) (string, error) {
	if err := ValidateServerURL(raw); err != nil {
		return "", err
	}
	u, _ := url.Parse(raw)
	return u.Scheme + "://" + u.Host, nil
}
