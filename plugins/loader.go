// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package plugins

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
)

// ErrUnknownPlugin is returned when no loader can resolve a descriptor's URL.
var ErrUnknownPlugin = errors.New("unknown plugin")

// Loader resolves a manifest entry into a plugin module.
type Loader interface {
	Load(ctx context.Context, d Descriptor) (*Plugin, error)
}

// LoaderFunc adapts a function to the Loader interface.
type LoaderFunc func(ctx context.Context, d Descriptor) (*Plugin, error)

// Load calls f.
func (f LoaderFunc) Load(ctx context.Context, d Descriptor) (*Plugin, error) {
	return f(ctx, d)
}

// BuiltinScheme is the URL scheme of compiled-in plugins, as in
// "builtin:daily-summary".
const BuiltinScheme = "builtin"

// Factory creates a fresh instance of a compiled-in plugin.
type Factory func() *Plugin

// Registry loads compiled-in plugins by name.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory under name, replacing any previous one.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Names returns the registered plugin names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Load resolves "builtin:<name>" URLs.
func (r *Registry) Load(_ context.Context, d Descriptor) (*Plugin, error) {
	name, ok := strings.CutPrefix(d.URL, BuiltinScheme+":")
	if !ok {
		return nil, fmt.Errorf("%w: %q is not a builtin URL", ErrUnknownPlugin, d.URL)
	}
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: builtin %q", ErrUnknownPlugin, name)
	}
	p := f()
	if p == nil {
		return nil, fmt.Errorf("builtin %q produced no plugin", name)
	}
	return p, nil
}

// SchemeLoader dispatches to a loader by the scheme of the descriptor's URL.
// Relative URLs have the empty scheme.
type SchemeLoader struct {
	mu      sync.RWMutex
	loaders map[string]Loader
}

// NewSchemeLoader creates a loader with no schemes registered.
func NewSchemeLoader() *SchemeLoader {
	return &SchemeLoader{loaders: make(map[string]Loader)}
}

// Handle routes URLs with the given schemes to l.
func (s *SchemeLoader) Handle(l Loader, schemes ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, scheme := range schemes {
		s.loaders[strings.ToLower(scheme)] = l
	}
}

// Load implements Loader.
func (s *SchemeLoader) Load(ctx context.Context, d Descriptor) (*Plugin, error) {
	u, err := url.Parse(d.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid plugin URL %q: %w", d.URL, err)
	}
	s.mu.RLock()
	l, ok := s.loaders[strings.ToLower(u.Scheme)]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: no loader for scheme %q", ErrUnknownPlugin, u.Scheme)
	}
	return l.Load(ctx, d)
}
