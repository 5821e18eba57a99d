// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package plugins

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/rs/zerolog"

	"github.com/soothill/tempest-dashboard/charts"
	apperrors "github.com/soothill/tempest-dashboard/pkg/errors"
	"github.com/soothill/tempest-dashboard/pkg/logger"
	"github.com/soothill/tempest-dashboard/pkg/metrics"
	"github.com/soothill/tempest-dashboard/state"
)

// ErrNotFound is returned for operations on a plugin that is not active.
var ErrNotFound = errors.New("plugin not found")

// Options configures a Runtime.
type Options struct {
	// ManifestURL is the absolute URL of the manifest document
	ManifestURL string

	// Client fetches the manifest; it should go through the cache worker
	Client *http.Client

	Loader  Loader
	Store   *state.Store
	Palette *charts.Provider
	Servers ServerResolver
}

type active struct {
	name    string
	plugin  *Plugin
	section *Section
}

// Runtime holds the active plugin list. Its methods are safe for
// concurrent use. No lock is held while a hook runs.
type Runtime struct {
	mu     sync.Mutex
	opts   Options
	active []*active
	log    zerolog.Logger
}

// NewRuntime creates a runtime with no active plugins.
func NewRuntime(opts Options) *Runtime {
	if opts.Client == nil {
		opts.Client = http.DefaultClient
	}
	if opts.Palette == nil {
		opts.Palette = charts.NewProvider()
	}
	return &Runtime{
		opts: opts,
		log:  logger.Component("plugins"),
	}
}

// Load destroys any active plugins, then fetches the manifest and loads
// its entries one at a time in manifest order. A manifest that cannot be
// fetched or fails validation yields zero plugins. A plugin failing any
// load phase is skipped and leaves no section behind. Load returns the
// number of active plugins.
func (r *Runtime) Load(ctx context.Context) int {
	r.DestroyAll(ctx)

	descriptors, err := FetchManifest(ctx, r.opts.Client, r.opts.ManifestURL)
	if err != nil {
		r.log.Info().Err(err).Str("manifest", r.opts.ManifestURL).Msg("No plugins loaded")
		return 0
	}

	loaded := make([]*active, 0, len(descriptors))
	for _, d := range descriptors {
		if a := r.loadOne(ctx, d); a != nil {
			loaded = append(loaded, a)
		}
	}

	r.mu.Lock()
	r.active = loaded
	r.mu.Unlock()
	metrics.PluginsActive.Set(float64(len(loaded)))

	r.log.Info().Int("manifest_entries", len(descriptors)).Int("active", len(loaded)).Msg("Plugins loaded")
	return len(loaded)
}

func (r *Runtime) loadOne(ctx context.Context, d Descriptor) *active {
	var p *Plugin
	err := r.guard(d.Name, PhaseLoad, func() error {
		var err error
		p, err = r.opts.Loader.Load(ctx, d)
		return err
	})
	if err != nil || p == nil {
		return nil
	}

	a := &active{name: d.Name, plugin: p}
	if p.Init != nil {
		if err := r.guard(d.Name, PhaseInit, func() error {
			return p.Init(ctx, r.capabilities(a))
		}); err != nil {
			return nil
		}
	}

	if p.Render != nil {
		var markup string
		if err := r.guard(d.Name, PhaseRender, func() error {
			var err error
			markup, err = p.Render(ctx)
			return err
		}); err != nil {
			return nil
		}
		title := p.Label
		if title == "" {
			title = d.Name
		}
		a.section = &Section{Name: d.Name, Title: title, Markup: markup}
	}

	if p.CreateCharts != nil {
		if err := r.guard(d.Name, PhaseCreateCharts, func() error {
			return p.CreateCharts(ctx, r.capabilities(a))
		}); err != nil {
			return nil
		}
	}

	r.log.Debug().Str("plugin", d.Name).Bool("section", a.section != nil).Msg("Plugin active")
	return a
}

// RefreshAll runs every active plugin's refresh hook in load order. A
// failing plugin does not prevent the others from refreshing.
func (r *Runtime) RefreshAll(ctx context.Context) {
	for _, a := range r.snapshot() {
		if a.plugin.Refresh == nil {
			continue
		}
		_ = r.guard(a.name, PhaseRefresh, func() error {
			return a.plugin.Refresh(ctx, r.capabilities(a))
		})
	}
}

// DestroyAll runs every active plugin's destroy hook and clears the list.
func (r *Runtime) DestroyAll(ctx context.Context) {
	r.mu.Lock()
	list := r.active
	r.active = nil
	r.mu.Unlock()

	for _, a := range list {
		if a.plugin.Destroy == nil {
			continue
		}
		_ = r.guard(a.name, PhaseDestroy, func() error {
			return a.plugin.Destroy(ctx)
		})
	}
	metrics.PluginsActive.Set(0)
}

// Names returns the active plugin names in load order.
func (r *Runtime) Names() []string {
	list := r.snapshot()
	names := make([]string, len(list))
	for i, a := range list {
		names[i] = a.name
	}
	return names
}

// Sections returns copies of the active sections in load order.
func (r *Runtime) Sections() []Section {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Section, 0, len(r.active))
	for _, a := range r.active {
		if a.section != nil {
			out = append(out, *a.section)
		}
	}
	return out
}

// Toggle flips the collapsed state of the named plugin's section.
func (r *Runtime) Toggle(name string) (collapsed bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.active {
		if a.name == name && a.section != nil {
			return a.section.Toggle(), nil
		}
	}
	return false, fmt.Errorf("%w: %q has no section", ErrNotFound, name)
}

func (r *Runtime) snapshot() []*active {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*active(nil), r.active...)
}

func (r *Runtime) capabilities(a *active) *Capabilities {
	var update func(string)
	if a.section != nil {
		update = func(markup string) {
			r.mu.Lock()
			a.section.Markup = markup
			r.mu.Unlock()
		}
	}
	return NewCapabilities(a.name, r.opts.Store, r.opts.Palette.Palette(), r.opts.Servers, update)
}

// guard runs fn inside the plugin failure boundary.
func (r *Runtime) guard(plugin, phase string, fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
		if err != nil {
			err = apperrors.NewPluginError(plugin, phase, err)
			metrics.PluginErrors.WithLabelValues(plugin, phase).Inc()
			r.log.Error().Err(err).Str("plugin", plugin).Str("phase", phase).Msg("Plugin failed")
		}
	}()
	return fn()
}
