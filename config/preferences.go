// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package config

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/soothill/tempest-dashboard/pkg/interfaces"
	"github.com/soothill/tempest-dashboard/pkg/logger"
	"github.com/soothill/tempest-dashboard/storage"
)

// Overrides are per-run settings that take priority over persisted ones,
// typically from command-line flags.
type Overrides struct {
	Server        string
	Units         string
	Theme         string
	PluginServers map[string]string
}

// Preferences resolves client settings from overrides, the preference store
// and, for the server origin, mDNS discovery.
type Preferences struct {
	store     interfaces.PreferenceStore
	locator   interfaces.ServerLocator
	timeout   time.Duration
	overrides Overrides
	log       zerolog.Logger
}

// NewPreferences creates a resolver. locator may be nil to skip discovery.
func NewPreferences(store interfaces.PreferenceStore, locator interfaces.ServerLocator, discoveryTimeout time.Duration, overrides Overrides) *Preferences {
	return &Preferences{
		store:     store,
		locator:   locator,
		timeout:   discoveryTimeout,
		overrides: overrides,
		log:       logger.Component("preferences"),
	}
}

// ServerURL resolves the telemetry server origin:
// override > persisted > discovered > DefaultServerURL.
// A valid override is persisted; an invalid one is ignored.
func (p *Preferences) ServerURL(ctx context.Context) string {
	if p.overrides.Server != "" {
		origin, err := p.SetServerURL(ctx, p.overrides.Server)
		if err == nil {
			return origin
		}
		p.log.Warn().Err(err).Str("server", p.overrides.Server).Msg("Ignoring invalid server override")
	}

	if stored := p.get(ctx, storage.PrefServer); stored != "" {
		return stored
	}

	if p.locator != nil {
		origin, err := p.locator.Locate(ctx, p.timeout)
		if err == nil {
			p.log.Info().Str("server", origin).Msg("Using discovered telemetry server")
			return origin
		}
		p.log.Debug().Err(err).Msg("Server discovery found nothing")
	}

	return DefaultServerURL
}

// SetServerURL validates raw, persists its origin and returns it.
func (p *Preferences) SetServerURL(ctx context.Context, raw string) (string, error) {
	origin, err := Origin(raw)
	if err != nil {
		return "", err
	}
	p.set(ctx, storage.PrefServer, origin)
	return origin, nil
}

// Units resolves the unit system: override > persisted > metric.
// Unknown values are skipped.
func (p *Preferences) Units(ctx context.Context) string {
	for _, u := range []string{p.overrides.Units, p.get(ctx, storage.PrefUnits)} {
		if u == "metric" || u == "imperial" {
			return u
		}
	}
	return "metric"
}

// ThemeURL resolves the custom theme document: override > persisted.
func (p *Preferences) ThemeURL(ctx context.Context) string {
	if p.overrides.Theme != "" {
		return p.overrides.Theme
	}
	return p.get(ctx, storage.PrefTheme)
}

// SetThemeURL persists a theme URL. An empty value clears it.
func (p *Preferences) SetThemeURL(ctx context.Context, raw string) error {
	if raw == "" {
		if p.store == nil {
			return nil
		}
		return p.store.Delete(ctx, storage.PrefTheme)
	}
	if err := ValidateServerURL(raw); err != nil {
		return err
	}
	p.set(ctx, storage.PrefTheme, raw)
	return nil
}

// PluginServerURL resolves a plugin's own server origin:
// override > persisted > "" (no dedicated server).
func (p *Preferences) PluginServerURL(ctx context.Context, name string) string {
	if raw := p.overrides.PluginServers[name]; raw != "" {
		origin, err := Origin(raw)
		if err == nil {
			p.set(ctx, storage.PluginServerKey(name), origin)
			return origin
		}
		p.log.Warn().Err(err).Str("plugin", name).Msg("Ignoring invalid plugin server override")
	}
	return p.get(ctx, storage.PluginServerKey(name))
}

func (p *Preferences) get(ctx context.Context, key string) string {
	if p.store == nil {
		return ""
	}
	v, ok, err := p.store.Get(ctx, key)
	if err != nil {
		p.log.Warn().Err(err).Str("key", key).Msg("Failed to read preference")
		return ""
	}
	if !ok {
		return ""
	}
	return v
}

func (p *Preferences) set(ctx context.Context, key, value string) {
	if p.store == nil {
		return
	}
	if err := p.store.Set(ctx, key, value); err != nil {
		p.log.Warn().Err(err).Str("key", key).Msg("Failed to persist preference")
	}
}
