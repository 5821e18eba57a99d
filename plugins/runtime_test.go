// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package plugins

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/soothill/tempest-dashboard/pkg/errors"
	"github.com/soothill/tempest-dashboard/state"
)

func manifestServer(t *testing.T, body string) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/plugins.json" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv.URL + "/plugins.json"
}

type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(call string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

// tracked returns a plugin that records every hook call under name.
func tracked(rec *recorder, name string) *Plugin {
	return &Plugin{
		Init: func(context.Context, *Capabilities) error {
			rec.add(name + ":init")
			return nil
		},
		Render: func(context.Context) (string, error) {
			rec.add(name + ":render")
			return "<div>" + name + "</div>", nil
		},
		CreateCharts: func(context.Context, *Capabilities) error {
			rec.add(name + ":create_charts")
			return nil
		},
		Refresh: func(context.Context, *Capabilities) error {
			rec.add(name + ":refresh")
			return nil
		},
		Destroy: func(context.Context) error {
			rec.add(name + ":destroy")
			return nil
		},
	}
}

func newRuntime(t *testing.T, manifest string, loader Loader) *Runtime {
	t.Helper()
	return NewRuntime(Options{
		ManifestURL: manifestServer(t, manifest),
		Loader:      loader,
		Store:       state.New(),
	})
}

func TestLoad_WindRoseImportFails(t *testing.T) {
	loader := LoaderFunc(func(_ context.Context, d Descriptor) (*Plugin, error) {
		return nil, errors.New("module not found: " + d.URL)
	})
	rt := newRuntime(t, `[{"name":"wind-rose","url":"./plugins/wind-rose.lua"}]`, loader)

	assert.Equal(t, 0, rt.Load(context.Background()))
	assert.Empty(t, rt.Names())
	assert.Empty(t, rt.Sections())
}

func TestLoad_LifecycleOrder(t *testing.T) {
	rec := &recorder{}
	reg := NewRegistry()
	reg.Register("a", func() *Plugin { return tracked(rec, "a") })
	reg.Register("b", func() *Plugin { return tracked(rec, "b") })

	rt := newRuntime(t, `[{"name":"a","url":"builtin:a"},{"name":"b","url":"builtin:b"}]`, reg)
	require.Equal(t, 2, rt.Load(context.Background()))

	assert.Equal(t, []string{
		"a:init", "a:render", "a:create_charts",
		"b:init", "b:render", "b:create_charts",
	}, rec.list())
	assert.Equal(t, []string{"a", "b"}, rt.Names())

	sections := rt.Sections()
	require.Len(t, sections, 2)
	assert.Equal(t, Section{Name: "a", Title: "a", Markup: "<div>a</div>"}, sections[0])
}

func TestLoad_SkipsEntriesWithoutNameOrURL(t *testing.T) {
	rec := &recorder{}
	reg := NewRegistry()
	reg.Register("ok", func() *Plugin { return tracked(rec, "ok") })

	manifest := `[{"name":"","url":"builtin:ok"},{"name":"missing-url"},{"name":"ok","url":"builtin:ok"}]`
	rt := newRuntime(t, manifest, reg)

	assert.Equal(t, 1, rt.Load(context.Background()))
	assert.Equal(t, []string{"ok"}, rt.Names())
}

func TestLoad_ManifestRejected(t *testing.T) {
	tests := []struct {
		name     string
		manifest string
	}{
		{"object instead of array", `{"name":"a","url":"builtin:a"}`},
		{"entry not an object", `["builtin:a"]`},
		{"name not a string", `[{"name":42,"url":"builtin:a"}]`},
		{"not json", `<html>`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			loader := LoaderFunc(func(context.Context, Descriptor) (*Plugin, error) {
				called = true
				return &Plugin{}, nil
			})
			rt := newRuntime(t, tt.manifest, loader)

			assert.Equal(t, 0, rt.Load(context.Background()))
			assert.False(t, called, "loader must not run for a rejected manifest")
		})
	}
}

func TestLoad_ManifestMissing(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	rt := NewRuntime(Options{
		ManifestURL: srv.URL + "/plugins.json",
		Loader:      NewRegistry(),
		Store:       state.New(),
	})
	assert.Equal(t, 0, rt.Load(context.Background()))
}

func TestLoad_LaterPhaseFailureLeavesNoSection(t *testing.T) {
	reg := NewRegistry()
	reg.Register("broken", func() *Plugin {
		return &Plugin{
			Render: func(context.Context) (string, error) { return "<p>broken</p>", nil },
			CreateCharts: func(context.Context, *Capabilities) error {
				return errors.New("canvas missing")
			},
		}
	})
	reg.Register("fine", func() *Plugin {
		return &Plugin{
			Label:  "Fine Plugin",
			Render: func(context.Context) (string, error) { return "<p>fine</p>", nil },
		}
	})

	rt := newRuntime(t, `[{"name":"broken","url":"builtin:broken"},{"name":"fine","url":"builtin:fine"}]`, reg)
	require.Equal(t, 1, rt.Load(context.Background()))

	sections := rt.Sections()
	require.Len(t, sections, 1)
	assert.Equal(t, "fine", sections[0].Name)
	assert.Equal(t, "Fine Plugin", sections[0].Title)
}

func TestLoad_PanicInInitIsContained(t *testing.T) {
	reg := NewRegistry()
	reg.Register("panics", func() *Plugin {
		return &Plugin{Init: func(context.Context, *Capabilities) error { panic("boom") }}
	})
	reg.Register("calm", func() *Plugin { return &Plugin{} })

	rt := newRuntime(t, `[{"name":"panics","url":"builtin:panics"},{"name":"calm","url":"builtin:calm"}]`, reg)
	assert.Equal(t, 1, rt.Load(context.Background()))
	assert.Equal(t, []string{"calm"}, rt.Names())
}

func TestRefreshAll_FailureDoesNotBlockSibling(t *testing.T) {
	rec := &recorder{}
	reg := NewRegistry()
	reg.Register("throws", func() *Plugin {
		return &Plugin{Refresh: func(context.Context, *Capabilities) error {
			rec.add("throws:refresh")
			return errors.New("upstream down")
		}}
	})
	reg.Register("panics", func() *Plugin {
		return &Plugin{Refresh: func(context.Context, *Capabilities) error {
			rec.add("panics:refresh")
			panic("nil map")
		}}
	})
	reg.Register("sibling", func() *Plugin { return tracked(rec, "sibling") })

	manifest := `[{"name":"throws","url":"builtin:throws"},{"name":"panics","url":"builtin:panics"},{"name":"sibling","url":"builtin:sibling"}]`
	rt := newRuntime(t, manifest, reg)
	require.Equal(t, 3, rt.Load(context.Background()))

	rt.RefreshAll(context.Background())
	rt.RefreshAll(context.Background())

	calls := rec.list()
	assert.Equal(t, 2, count(calls, "sibling:refresh"))
	assert.Equal(t, 2, count(calls, "throws:refresh"))
	assert.Equal(t, 2, count(calls, "panics:refresh"))
	assert.Len(t, rt.Names(), 3)
}

func TestDestroyAll(t *testing.T) {
	rec := &recorder{}
	reg := NewRegistry()
	reg.Register("a", func() *Plugin { return tracked(rec, "a") })
	reg.Register("b", func() *Plugin {
		return &Plugin{Destroy: func(context.Context) error { return errors.New("already gone") }}
	})

	rt := newRuntime(t, `[{"name":"a","url":"builtin:a"},{"name":"b","url":"builtin:b"}]`, reg)
	require.Equal(t, 2, rt.Load(context.Background()))

	rt.DestroyAll(context.Background())
	assert.Empty(t, rt.Names())
	assert.Empty(t, rt.Sections())
	assert.Contains(t, rec.list(), "a:destroy")

	// a second teardown has nothing left to destroy
	rt.DestroyAll(context.Background())
	assert.Equal(t, 1, count(rec.list(), "a:destroy"))
}

func TestLoad_ReloadDestroysPrevious(t *testing.T) {
	rec := &recorder{}
	reg := NewRegistry()
	reg.Register("a", func() *Plugin { return tracked(rec, "a") })

	rt := newRuntime(t, `[{"name":"a","url":"builtin:a"}]`, reg)
	require.Equal(t, 1, rt.Load(context.Background()))
	require.Equal(t, 1, rt.Load(context.Background()))

	assert.Equal(t, 1, count(rec.list(), "a:destroy"))
	assert.Equal(t, 2, count(rec.list(), "a:init"))
	assert.Equal(t, []string{"a"}, rt.Names())
}

func TestToggle(t *testing.T) {
	reg := NewRegistry()
	reg.Register("shown", func() *Plugin {
		return &Plugin{Render: func(context.Context) (string, error) { return "x", nil }}
	})
	reg.Register("headless", func() *Plugin { return &Plugin{} })

	rt := newRuntime(t, `[{"name":"shown","url":"builtin:shown"},{"name":"headless","url":"builtin:headless"}]`, reg)
	require.Equal(t, 2, rt.Load(context.Background()))

	collapsed, err := rt.Toggle("shown")
	require.NoError(t, err)
	assert.True(t, collapsed)
	assert.True(t, rt.Sections()[0].Collapsed)

	collapsed, err = rt.Toggle("shown")
	require.NoError(t, err)
	assert.False(t, collapsed)

	_, err = rt.Toggle("headless")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = rt.Toggle("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCapabilities_UpdateSectionAndSnapshots(t *testing.T) {
	store := state.New()
	state.Set(store, state.Units, state.Imperial)
	state.Set(store, state.TimeRange, "7d")

	var seenUnits, seenRange string
	reg := NewRegistry()
	reg.Register("live", func() *Plugin {
		return &Plugin{
			Render: func(context.Context) (string, error) { return "loading", nil },
			Refresh: func(_ context.Context, caps *Capabilities) error {
				seenUnits = caps.Units()
				seenRange = caps.TimeRange().Range
				v := 21.0
				caps.UpdateSection(caps.FormatTemp(&v, ""))
				return nil
			},
		}
	})

	rt := NewRuntime(Options{
		ManifestURL: manifestServer(t, `[{"name":"live","url":"builtin:live"}]`),
		Loader:      reg,
		Store:       store,
	})
	require.Equal(t, 1, rt.Load(context.Background()))
	rt.RefreshAll(context.Background())

	assert.Equal(t, "imperial", seenUnits)
	assert.Equal(t, "7d", seenRange)
	assert.Equal(t, "21.0°F", rt.Sections()[0].Markup)
}

func TestGuard_WrapsPluginError(t *testing.T) {
	rt := NewRuntime(Options{Store: state.New()})

	err := rt.guard("p", PhaseRefresh, func() error { return errors.New("bad") })
	var pe *apperrors.PluginError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "p", pe.Plugin)
	assert.Equal(t, PhaseRefresh, pe.Phase)

	err = rt.guard("p", PhaseInit, func() error { panic("kaboom") })
	require.ErrorAs(t, err, &pe)
	assert.Contains(t, err.Error(), "kaboom")

	assert.NoError(t, rt.guard("p", PhaseInit, func() error { return nil }))
}

func TestSchemeLoader(t *testing.T) {
	reg := NewRegistry()
	reg.Register("x", func() *Plugin { return &Plugin{Label: "X"} })

	relative := LoaderFunc(func(_ context.Context, d Descriptor) (*Plugin, error) {
		return &Plugin{Label: "relative " + d.URL}, nil
	})

	sl := NewSchemeLoader()
	sl.Handle(reg, BuiltinScheme)
	sl.Handle(relative, "", "HTTP")

	p, err := sl.Load(context.Background(), Descriptor{Name: "x", URL: "builtin:x"})
	require.NoError(t, err)
	assert.Equal(t, "X", p.Label)

	p, err = sl.Load(context.Background(), Descriptor{Name: "r", URL: "./r.lua"})
	require.NoError(t, err)
	assert.Equal(t, "relative ./r.lua", p.Label)

	_, err = sl.Load(context.Background(), Descriptor{Name: "h", URL: "http://example.com/h.lua"})
	assert.NoError(t, err)

	_, err = sl.Load(context.Background(), Descriptor{Name: "f", URL: "ftp://example.com/f.lua"})
	assert.ErrorIs(t, err, ErrUnknownPlugin)

	_, err = reg.Load(context.Background(), Descriptor{Name: "y", URL: "builtin:y"})
	assert.ErrorIs(t, err, ErrUnknownPlugin)
	assert.Equal(t, []string{"x"}, reg.Names())
}

func count(list []string, want string) int {
	n := 0
	for _, s := range list {
		if s == want {
			n++
		}
	}
	return n
}
