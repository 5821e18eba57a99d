// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/soothill/tempest-dashboard/api"
	"github.com/soothill/tempest-dashboard/app"
	"github.com/soothill/tempest-dashboard/config"
	"github.com/soothill/tempest-dashboard/pkg/logger"
)

const healthCheckTimeout = 5 * time.Second

// pluginServers collects repeated -plugin-server name=url flags.
type pluginServers map[string]string

func (p pluginServers) String() string {
	pairs := make([]string, 0, len(p))
	for name, origin := range p {
		pairs = append(pairs, name+"="+origin)
	}
	sort.Strings(pairs)
	return strings.Join(pairs, ",")
}

func (p pluginServers) Set(value string) error {
	name, origin, ok := strings.Cut(value, "=")
	if !ok || name == "" || origin == "" {
		return fmt.Errorf("expected name=url, got %q", value)
	}
	p[name] = origin
	return nil
}

type options struct {
	configPath     string
	healthCheck    bool
	validateConfig bool
	overrides      config.Overrides
}

func parseFlags(fs *flag.FlagSet, args []string) (*options, error) {
	opts := &options{}
	servers := pluginServers{}

	fs.StringVar(&opts.configPath, "config", "config.yaml", "Path to configuration file")
	fs.StringVar(&opts.overrides.Server, "server", "", "Telemetry server URL for this launch")
	fs.StringVar(&opts.overrides.Units, "units", "", "Unit system for this launch (metric or imperial)")
	fs.StringVar(&opts.overrides.Theme, "theme", "", "Theme URL for this launch")
	fs.Var(servers, "plugin-server", "Server URL for a plugin as name=url (repeatable)")
	fs.BoolVar(&opts.healthCheck, "health-check", false, "Check the telemetry server and exit")
	fs.BoolVar(&opts.validateConfig, "validate-config", false, "Validate configuration file and exit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	opts.overrides.PluginServers = servers
	return opts, nil
}

func main() {
	opts, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		os.Exit(2)
	}

	if err := godotenv.Load(); err != nil {
		fmt.Fprintf(os.Stderr, "No .env file loaded: %v\n", err)
	}

	if opts.healthCheck {
		os.Exit(performHealthCheck(opts.configPath, opts.overrides.Server))
	}

	if opts.validateConfig {
		os.Exit(performConfigValidation(opts.configPath))
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		logger.Initialize("error")
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger.Initialize(cfg.Logging.Level)
	logger.Info().Msg("Starting Tempest dashboard client")
	logger.Info().Dur("poll_interval", cfg.Dashboard.PollInterval).
		Str("default_range", cfg.Dashboard.DefaultRange).
		Bool("discovery", cfg.Discovery.Enabled).
		Bool("plugins", cfg.Plugins.Enabled).
		Msg("Configuration loaded")

	ctx := context.Background()
	application, err := app.New(ctx, cfg, app.Options{
		ConfigPath: opts.configPath,
		Overrides:  opts.overrides,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize application")
	}

	setupDebugSignalHandlers(application)

	if err := application.Run(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Application exited with error")
	}
}

// performHealthCheck checks the telemetry server and returns an exit code
func performHealthCheck(configPath, server string) int {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: could not load config: %v\n", err)
		return 1
	}

	if server == "" {
		server = cfg.Server.URL
	}
	if server == "" {
		server = config.DefaultServerURL
	}

	ctx, cancel := context.WithTimeout(context.Background(), healthCheckTimeout)
	defer cancel()

	client := api.NewClient(server, api.WithPrefix(cfg.Server.APIPrefix))
	health, err := client.CheckHealth(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %s is unreachable: %v\n", server, err)
		return 1
	}

	fmt.Printf("Health check passed: %s is %s (version %s)\n", server, health.Status, health.Version)
	return 0
}

// performConfigValidation validates the configuration file and returns exit code
func performConfigValidation(configPath string) int {
	logger.Initialize("info")
	logger.Info().Str("path", configPath).Msg("Validating configuration file")

	if err := config.ValidateWithSchema(configPath); err != nil {
		logger.Error().Err(err).Msg("Configuration schema validation failed")
		fmt.Fprintf(os.Stderr, "\n❌ Configuration validation FAILED\n")
		return 1
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error().Err(err).Msg("Configuration validation failed")
		fmt.Fprintf(os.Stderr, "\n❌ Configuration validation FAILED\n")
		fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
		return 1
	}

	server := cfg.Server.URL
	if server == "" {
		server = "(preference, discovery or " + config.DefaultServerURL + ")"
	}

	fmt.Println("\n✅ Configuration validation PASSED")
	fmt.Println("\nConfiguration summary:")
	fmt.Printf("  Server URL: %s\n", server)
	fmt.Printf("  API Prefix: %s\n", cfg.Server.APIPrefix)
	fmt.Printf("  Poll Interval: %s\n", cfg.Dashboard.PollInterval)
	fmt.Printf("  Default Range: %s\n", cfg.Dashboard.DefaultRange)
	fmt.Printf("  Log Level: %s\n", cfg.Logging.Level)
	fmt.Printf("  Cache Directory: %s\n", cfg.Cache.Dir)
	fmt.Printf("  Cache Version: %s\n", cfg.Cache.Version)
	fmt.Printf("  Cache Max Size: %d MB\n", cfg.Cache.MaxSize/(1024*1024))
	fmt.Printf("  Cache Max Age: %s\n", cfg.Cache.MaxAge)
	fmt.Printf("  Plugins: %t (manifest %s)\n", cfg.Plugins.Enabled, cfg.Plugins.ManifestPath)
	fmt.Printf("  Discovery: %t (%s.%s)\n", cfg.Discovery.Enabled, cfg.Discovery.ServiceType, cfg.Discovery.Domain)
	fmt.Printf("  Admin Address: %s\n", cfg.Admin.Address)

	if cfg.Notifications.SlackWebhookURL != "" {
		fmt.Println("  Slack Notifications: Enabled")
	} else {
		fmt.Println("  Slack Notifications: Disabled")
	}

	fmt.Println("\nAll validation checks passed. Configuration is ready for use.")
	return 0
}
