// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package app wires the dashboard client together and runs it.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/soothill/tempest-dashboard/api"
	"github.com/soothill/tempest-dashboard/cache"
	"github.com/soothill/tempest-dashboard/charts"
	"github.com/soothill/tempest-dashboard/config"
	"github.com/soothill/tempest-dashboard/controls"
	"github.com/soothill/tempest-dashboard/discovery"
	"github.com/soothill/tempest-dashboard/monitoring"
	"github.com/soothill/tempest-dashboard/pkg/interfaces"
	"github.com/soothill/tempest-dashboard/pkg/logger"
	"github.com/soothill/tempest-dashboard/pkg/notifications"
	"github.com/soothill/tempest-dashboard/plugins"
	"github.com/soothill/tempest-dashboard/plugins/builtin"
	"github.com/soothill/tempest-dashboard/render"
	"github.com/soothill/tempest-dashboard/state"
	"github.com/soothill/tempest-dashboard/storage"
)

const (
	signalChannelSize    = 1
	bootstrapTimeout     = 30 * time.Second
	shutdownTimeout      = 5 * time.Second
	cacheCleanupInterval = time.Hour
)

// Status labels shown when startup cannot reach a usable server.
const (
	LabelDisconnected = "Disconnected"
	LabelNoStations   = "No stations"
)

// Options carries startup settings that do not live in the config file.
type Options struct {
	// ConfigPath is watched for SIGHUP reloads; empty disables reloads
	ConfigPath string

	// Overrides are per-launch preference overrides (command-line flags)
	Overrides config.Overrides

	// Transport carries every outbound request; nil uses http.DefaultTransport
	Transport http.RoundTripper

	// Scheduler drives polling; nil uses real tickers
	Scheduler monitoring.Scheduler
}

// App holds every dashboard component.
type App struct {
	cfg  *config.Config
	opts Options

	notifier     *notifications.SlackNotifier
	cacheStorage *storage.FileCacheStorage
	prefsStore   *storage.PrefsStore
	scanner      *discovery.Scanner
	prefs        *config.Preferences
	worker       *cache.Worker
	httpClient   *http.Client
	client       *api.Client
	store        *state.Store
	palette      *charts.Provider
	dashboard    *render.Dashboard
	controls     *controls.Controls
	orch         *monitoring.Orchestrator
	plugins      *plugins.Runtime
	server       *http.Server

	configWatcher *config.Watcher
	configChan    chan *config.Config

	bootMu      sync.Mutex
	mu          sync.Mutex
	ready       bool
	unsubscribe func()

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates the application. It opens the cache and preference stores
// and resolves the telemetry server, which may involve mDNS discovery.
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	a := &App{cfg: cfg, opts: opts}
	a.ctx, a.cancel = context.WithCancel(context.Background())

	a.notifier = notifications.NewSlackNotifier(cfg.Notifications.SlackWebhookURL)
	if a.notifier.IsEnabled() {
		logger.Info().Msg("Slack notifications enabled")
	} else {
		logger.Info().Msg("Slack notifications disabled (no webhook URL configured)")
	}

	var err error
	a.cacheStorage, err = storage.NewFileCacheStorage(cfg.Cache.Dir, cfg.Cache.MaxSize, cfg.Cache.MaxAge, a.notifier)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cache storage: %w", err)
	}
	logger.Info().Str("directory", cfg.Cache.Dir).
		Int64("max_size_mb", cfg.Cache.MaxSize/(1024*1024)).
		Dur("max_age", cfg.Cache.MaxAge).
		Msg("Cache storage initialized")

	if err := os.MkdirAll(filepath.Dir(cfg.Preferences.Path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create preference directory: %w", err)
	}
	a.prefsStore, err = storage.OpenPrefsStore(cfg.Preferences.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open preference store: %w", err)
	}

	var locator interfaces.ServerLocator
	if cfg.Discovery.Enabled {
		a.scanner = discovery.NewScanner(cfg.Discovery.ServiceType, cfg.Discovery.Domain)
		locator = &alertingLocator{locator: a.scanner, notifier: a.notifier}
	}
	a.prefs = config.NewPreferences(a.prefsStore, locator, cfg.Discovery.Timeout, a.overrides())
	serverURL := a.prefs.ServerURL(ctx)

	staticOrigin := cfg.Dashboard.StaticOrigin
	if staticOrigin == "" {
		staticOrigin = serverURL
	}
	a.worker = cache.NewWorker(a.cacheStorage, opts.Transport, cache.Config{
		Version:         cfg.Cache.Version,
		APIPrefix:       strings.TrimRight(cfg.Server.APIPrefix, "/") + "/",
		StaticOrigin:    staticOrigin,
		StaticAssets:    cfg.Cache.StaticAssets,
		LibraryAssets:   cfg.Cache.LibraryAssets,
		BreakerFailures: cfg.Cache.BreakerFailures,
		BreakerTimeout:  cfg.Cache.BreakerTimeout,
	})
	a.httpClient = a.worker.Client(cfg.Server.Timeout)

	clientOpts := []api.Option{api.WithHTTPClient(a.httpClient), api.WithPrefix(cfg.Server.APIPrefix)}
	a.client = api.NewClient(serverURL, clientOpts...)

	a.store = state.New()
	a.palette = charts.NewProvider()
	a.dashboard = render.NewDashboard(a.store, a.palette)
	a.controls = controls.New(a.store, a.prefsStore)
	a.controls.Init(state.UnitSystem(a.prefs.Units(ctx)))
	if cfg.Dashboard.DefaultRange != controls.DefaultRange {
		if err := a.controls.SelectPreset(cfg.Dashboard.DefaultRange); err != nil {
			return nil, fmt.Errorf("invalid default range: %w", err)
		}
	}

	a.orch = monitoring.NewOrchestrator(a.store, a.client, a.controls, a.dashboard, monitoring.Options{
		PollInterval: cfg.Dashboard.PollInterval,
		Scheduler:    opts.Scheduler,
		Notifier:     a.notifier,
	})
	a.orch.SetServer(serverURL)

	if cfg.Plugins.Enabled {
		a.plugins, err = a.newPluginRuntime(staticOrigin, clientOpts)
		if err != nil {
			return nil, err
		}
	}

	a.server = &http.Server{
		Addr:              cfg.Admin.Address,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if opts.ConfigPath != "" {
		a.configChan = make(chan *config.Config, 1)
		a.configWatcher = config.NewWatcher(opts.ConfigPath, a.configChan)
	}

	logger.Info().Str("server", serverURL).Str("static_origin", staticOrigin).
		Bool("plugins", cfg.Plugins.Enabled).Msg("Dashboard client initialized")
	return a, nil
}

func (a *App) overrides() config.Overrides {
	o := a.opts.Overrides
	if o.Server == "" {
		o.Server = a.cfg.Server.URL
	}
	if o.Units == "" {
		o.Units = a.cfg.Dashboard.Units
	}
	if o.Theme == "" {
		o.Theme = a.cfg.Dashboard.ThemeURL
	}
	servers := make(map[string]string, len(a.cfg.Plugins.Servers)+len(o.PluginServers))
	for name, origin := range a.cfg.Plugins.Servers {
		servers[name] = origin
	}
	for name, origin := range o.PluginServers {
		servers[name] = origin
	}
	o.PluginServers = servers
	return o
}

func (a *App) newPluginRuntime(staticOrigin string, clientOpts []api.Option) (*plugins.Runtime, error) {
	registry := plugins.NewRegistry()
	builtin.Register(registry, a.client, clientOpts...)

	luaLoader, err := plugins.NewLuaLoader(a.httpClient, staticOrigin)
	if err != nil {
		return nil, fmt.Errorf("failed to create plugin loader: %w", err)
	}
	loader := plugins.NewSchemeLoader()
	loader.Handle(registry, plugins.BuiltinScheme)
	loader.Handle(luaLoader, "", "http", "https")

	return plugins.NewRuntime(plugins.Options{
		ManifestURL: strings.TrimRight(staticOrigin, "/") + a.cfg.Plugins.ManifestPath,
		Client:      a.httpClient,
		Loader:      loader,
		Store:       a.store,
		Palette:     a.palette,
		Servers:     a.prefs,
	}), nil
}

// Run starts the application and blocks until ctx is cancelled or a
// shutdown signal arrives.
func (a *App) Run(ctx context.Context) error {
	go func() {
		select {
		case <-ctx.Done():
			a.cancel()
		case <-a.ctx.Done():
		}
	}()
	defer a.cancel()

	a.setupSignalHandler()
	a.startAdminServer()
	a.startConfigWatcher()
	a.startCacheCleanup()

	a.installCache(a.ctx)
	a.loadTheme(a.ctx)
	if err := a.Bootstrap(); err != nil {
		logger.Warn().Err(err).Msg("Dashboard started without a usable server")
	}

	<-a.ctx.Done()
	logger.Info().Msg("Shutting down")
	a.performCleanup()
	return nil
}

// installCache pre-populates the cache partition and drops stale ones.
// Failures are logged; the dashboard works uncached.
func (a *App) installCache(ctx context.Context) {
	if err := a.worker.Install(ctx); err != nil {
		logger.Warn().Err(err).Str("version", a.worker.Version()).Msg("Cache install failed, continuing uncached")
	}
	removed, err := a.worker.Activate(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("Cache activation failed")
		return
	}
	if len(removed) > 0 {
		logger.Info().Strs("removed", removed).Msg("Removed stale cache partitions")
	}
}

func (a *App) loadTheme(ctx context.Context) {
	palette, err := charts.LoadTheme(ctx, a.httpClient, a.prefs.ThemeURL(ctx))
	if err != nil {
		logger.Warn().Err(err).Msg("Theme load failed, using default colors")
	}
	a.palette.SetPalette(palette)
}

// Bootstrap connects to the current server and starts the refresh loop:
// health check, station list, store subscriptions, charts, the first
// refresh, plugins and polling. It can be called again after the server
// changes.
func (a *App) Bootstrap() error {
	a.bootMu.Lock()
	defer a.bootMu.Unlock()

	ctx, cancel := context.WithTimeout(a.ctx, bootstrapTimeout)
	defer cancel()

	a.mu.Lock()
	a.ready = false
	if a.unsubscribe != nil {
		a.unsubscribe()
		a.unsubscribe = nil
	}
	a.mu.Unlock()

	a.orch.StopPolling()
	if a.plugins != nil {
		a.plugins.DestroyAll(ctx)
	}
	server := a.client.BaseURL()
	a.orch.SetServer(server)

	if _, err := a.client.CheckHealth(ctx); err != nil {
		a.orch.SetStatus(monitoring.StatusOffline, LabelDisconnected, err)
		return fmt.Errorf("health check against %s failed: %w", server, err)
	}

	stations, err := a.client.ListStations(ctx)
	if err != nil {
		a.orch.SetStatus(monitoring.StatusOffline, LabelDisconnected, err)
		return fmt.Errorf("failed to list stations: %w", err)
	}
	stationID, err := a.controls.PopulateStations(stations)
	if err != nil {
		a.orch.SetStatus(monitoring.StatusOffline, LabelNoStations, err)
		return err
	}
	logger.Info().Str("server", server).Int("stations", len(stations)).Int("station_id", stationID).Msg("Connected to telemetry server")

	unsubscribe := a.orch.Subscribe(a.ctx)
	a.dashboard.DestroyCharts()
	a.dashboard.CreateCharts()
	a.orch.Refresh(a.ctx)

	if a.plugins != nil {
		a.plugins.Load(a.ctx)
		a.orch.SetPlugins(a.plugins)
	}
	a.orch.StartPolling(a.ctx)

	a.mu.Lock()
	a.unsubscribe = unsubscribe
	a.ready = true
	a.mu.Unlock()
	return nil
}

// ChangeServer validates and persists a new server origin, points the API
// client at it and bootstraps again.
func (a *App) ChangeServer(ctx context.Context, raw string) (string, error) {
	origin, err := a.prefs.SetServerURL(ctx, raw)
	if err != nil {
		return "", err
	}
	a.client.SetBaseURL(origin)
	logger.Info().Str("server", origin).Msg("Telemetry server changed")
	if err := a.notifier.SendMessage(ctx, "Tempest dashboard switched to "+origin); err != nil {
		logger.Warn().Err(err).Msg("Failed to send server change notification")
	}
	return origin, a.Bootstrap()
}

// alertingLocator reports discovery failures to Slack.
type alertingLocator struct {
	locator  interfaces.ServerLocator
	notifier *notifications.SlackNotifier
}

func (l *alertingLocator) Locate(ctx context.Context, timeout time.Duration) (string, error) {
	origin, err := l.locator.Locate(ctx, timeout)
	if err != nil && l.notifier.IsEnabled() {
		if sendErr := l.notifier.SendDiscoveryFailure(ctx, err); sendErr != nil {
			logger.Warn().Err(sendErr).Msg("Failed to send discovery failure alert")
		}
	}
	return origin, err
}

// Ready reports whether the last bootstrap completed.
func (a *App) Ready() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ready
}

// Shutdown stops the application as if a signal had been received.
func (a *App) Shutdown() {
	a.cancel()
}

func (a *App) startAdminServer() {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		logger.Info().Str("addr", a.server.Addr).Msg("Starting admin server")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("Admin server failed")
		}
	}()
}

// setupSignalHandler sets up graceful shutdown on interrupt signals
func (a *App) setupSignalHandler() {
	sigChan := make(chan os.Signal, signalChannelSize)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			logger.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
			a.cancel()
		case <-a.ctx.Done():
		}
	}()
}

// startConfigWatcher applies reloaded configuration: the poll interval,
// the theme and the log level take effect without a restart.
func (a *App) startConfigWatcher() {
	if a.configWatcher == nil {
		return
	}
	a.configWatcher.Start(a.ctx)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for {
			select {
			case <-a.ctx.Done():
				logger.Info().Msg("Config watcher goroutine shutting down")
				return
			case reloaded := <-a.configChan:
				a.applyConfig(reloaded)
			}
		}
	}()
}

func (a *App) applyConfig(cfg *config.Config) {
	a.mu.Lock()
	old := a.cfg
	a.cfg = cfg
	a.mu.Unlock()

	if cfg.Logging.Level != old.Logging.Level {
		logger.Initialize(cfg.Logging.Level)
	}
	if cfg.Dashboard.PollInterval != old.Dashboard.PollInterval {
		a.orch.UpdatePollInterval(cfg.Dashboard.PollInterval)
		logger.Info().Dur("poll_interval", cfg.Dashboard.PollInterval).Msg("Poll interval updated")
	}
	if cfg.Dashboard.ThemeURL != old.Dashboard.ThemeURL {
		if err := a.prefs.SetThemeURL(a.ctx, cfg.Dashboard.ThemeURL); err != nil {
			logger.Warn().Err(err).Msg("Failed to persist theme URL")
		}
		a.loadTheme(a.ctx)
	}
	logger.Info().Msg("Application configuration updated")
}

func (a *App) startCacheCleanup() {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ticker := time.NewTicker(cacheCleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-a.ctx.Done():
				return
			case <-ticker.C:
				if err := a.cacheStorage.CleanupOld(); err != nil {
					logger.Warn().Err(err).Msg("Cache cleanup failed")
				}
			}
		}
	}()
}

// performCleanup stops polling, tears plugins and charts down and waits
// for every goroutine.
func (a *App) performCleanup() {
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	a.orch.StopPolling()
	if a.plugins != nil {
		a.plugins.DestroyAll(shutdownCtx)
	}
	a.dashboard.DestroyCharts()

	if err := a.server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Admin server shutdown error")
	} else {
		logger.Info().Msg("Admin server stopped")
	}
	if a.configWatcher != nil {
		a.configWatcher.Stop()
	}

	logger.Info().Msg("Waiting for goroutines to finish...")
	a.orch.Wait()
	a.worker.Close()
	a.wg.Wait()

	if err := a.prefsStore.Close(); err != nil {
		logger.Warn().Err(err).Msg("Failed to close preference store")
	}
	logger.Info().Msg("All goroutines finished, exiting")
}

// Close releases stores without running the shutdown sequence. It is for
// callers that never called Run.
func (a *App) Close() {
	a.cancel()
	a.orch.StopPolling()
	a.orch.Wait()
	a.worker.Close()
	_ = a.prefsStore.Close()
}

// DumpApplicationState dumps current application state to logs
func (a *App) DumpApplicationState() {
	logger.Info().Msg("=== APPLICATION STATE DUMP (SIGUSR1) ===")

	snap := a.orch.Snapshot()
	logger.Info().
		Str("server", snap.Server).
		Str("status", snap.Status).
		Str("label", snap.Label).
		Bool("polling", snap.Polling).
		Bool("hidden", snap.Hidden).
		Int("countdown", snap.Countdown).
		Str("last_cycle", snap.LastCycle).
		Msg("Refresh state")

	for key, value := range a.store.Snapshot() {
		logger.Info().Str("key", key).Interface("value", value).Msg("Store value")
	}

	if a.plugins != nil {
		logger.Info().Strs("plugins", a.plugins.Names()).Msg("Active plugins")
	}
	if a.scanner != nil {
		for _, srv := range a.scanner.Servers() {
			logger.Info().Str("id", srv.ID()).Str("name", srv.Name).Str("origin", srv.Origin()).Msg("Discovered server")
		}
	}
	logger.Info().
		Str("version", a.worker.Version()).
		Int64("size_bytes", a.cacheStorage.GetCacheSize()).
		Int64("max_bytes", a.cacheStorage.GetMaxSize()).
		Msg("Cache state")

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	logger.Info().
		Uint64("alloc_mb", m.Alloc/1024/1024).
		Uint64("total_alloc_mb", m.TotalAlloc/1024/1024).
		Uint32("num_gc", m.NumGC).
		Int("num_goroutines", runtime.NumGoroutine()).
		Msg("Runtime statistics")

	logger.Info().Msg("=== END STATE DUMP ===")
}

// DumpGoroutineStackTraces dumps all goroutine stack traces to logs
func DumpGoroutineStackTraces() {
	logger.Info().Msg("=== GOROUTINE STACK TRACES (SIGUSR2) ===")
	logger.Info().Int("num_goroutines", runtime.NumGoroutine()).Msg("Current goroutine count")

	buf := make([]byte, 1024*1024)
	stackLen := runtime.Stack(buf, true)
	logger.Info().Str("stack_traces", string(buf[:stackLen])).Msg("Full stack trace")

	logger.Info().Msg("=== END STACK TRACES ===")
}
