// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package plugins

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soothill/tempest-dashboard/api"
	"github.com/soothill/tempest-dashboard/charts"
	"github.com/soothill/tempest-dashboard/state"
)

const rainScript = `
local plugin = { label = "Rain Today" }
local calls = 0

function plugin.init(ctx)
  plugin.units = ctx.units
end

function plugin.render()
  return "<div id='rain'>" .. plugin.units .. "</div>"
end

function plugin.create_charts(ctx)
  local ds = ctx.make_dataset("Rain", { { x = "2024-06-01T12:00:00Z", y = 1.5 } }, ctx.chart_colors.rain)
  ctx.set("rainDataset", ds.label .. ":" .. ds.backgroundColor)
end

function plugin.refresh(ctx)
  calls = calls + 1
  local obs = ctx.get("currentObservation")
  local origin = ctx.server_url() or "none"
  return ctx.format_temp(obs.air_temperature) .. " " .. ctx.time_range.range .. " " .. origin .. " " .. calls
end

function plugin.destroy()
  calls = 0
end

return plugin
`

type staticServers map[string]string

func (s staticServers) PluginServerURL(_ context.Context, name string) string {
	return s[name]
}

func TestCompileLua_Hooks(t *testing.T) {
	p, err := CompileLua("rain", rainScript)
	require.NoError(t, err)

	assert.Equal(t, "Rain Today", p.Label)
	assert.NotNil(t, p.Init)
	assert.NotNil(t, p.Render)
	assert.NotNil(t, p.CreateCharts)
	assert.NotNil(t, p.Refresh)
	assert.NotNil(t, p.Destroy)
}

func TestCompileLua_OptionalHooks(t *testing.T) {
	p, err := CompileLua("bare", `return { refresh = function(ctx) end }`)
	require.NoError(t, err)

	assert.Empty(t, p.Label)
	assert.Nil(t, p.Init)
	assert.Nil(t, p.Render)
	assert.Nil(t, p.CreateCharts)
	assert.NotNil(t, p.Refresh)
	assert.Nil(t, p.Destroy)
}

func TestCompileLua_Errors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"syntax error", `return {`},
		{"runtime error", `error("no canvas")`},
		{"not a table", `return 42`},
		{"nothing returned", `local x = 1`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CompileLua("bad", tt.src)
			assert.Error(t, err)
		})
	}
}

func TestLuaPlugin_EndToEnd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/plugins.json":
			_, _ = w.Write([]byte(`[{"name":"rain","url":"./plugins/rain.lua"}]`))
		case "/plugins/rain.lua":
			_, _ = w.Write([]byte(rainScript))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	luaLoader, err := NewLuaLoader(srv.Client(), srv.URL+"/")
	require.NoError(t, err)
	loader := NewSchemeLoader()
	loader.Handle(luaLoader, "", "http", "https")

	store := state.New()
	state.Set(store, state.Units, state.Metric)
	state.Set(store, state.TimeRange, "24h")
	temp := 18.34
	state.Set(store, state.CurrentObservation, &api.Observation{AirTemperature: &temp})

	rt := NewRuntime(Options{
		ManifestURL: srv.URL + "/plugins.json",
		Client:      srv.Client(),
		Loader:      loader,
		Store:       store,
		Servers:     staticServers{"rain": "http://rain.local:8080"},
	})
	require.Equal(t, 1, rt.Load(context.Background()))

	sections := rt.Sections()
	require.Len(t, sections, 1)
	assert.Equal(t, "Rain Today", sections[0].Title)
	assert.Equal(t, "<div id='rain'>metric</div>", sections[0].Markup)

	ds, ok := store.GetAny("rainDataset")
	require.True(t, ok)
	assert.Equal(t, "Rain:#3b82f620", ds)

	rt.RefreshAll(context.Background())
	assert.Equal(t, "18.3°C 24h http://rain.local:8080 1", rt.Sections()[0].Markup)

	rt.RefreshAll(context.Background())
	assert.Equal(t, "18.3°C 24h http://rain.local:8080 2", rt.Sections()[0].Markup)

	rt.DestroyAll(context.Background())
	assert.Empty(t, rt.Sections())
}

func TestLuaPlugin_SetRejectsMistypedValue(t *testing.T) {
	p, err := CompileLua("bad-set", `
return {
  refresh = function(ctx) ctx.set("stationId", "not a number") end
}`)
	require.NoError(t, err)

	store := state.New()
	caps := NewCapabilities("bad-set", store, charts.DefaultPalette(), nil, nil)
	err = p.Refresh(context.Background(), caps)
	assert.Error(t, err)
	_, ok := store.GetAny("stationId")
	assert.False(t, ok)
}

func TestLuaPlugin_SetCoercesStationID(t *testing.T) {
	p, err := CompileLua("station", `
return {
  init = function(ctx) ctx.set("stationId", 42) end
}`)
	require.NoError(t, err)

	store := state.New()
	require.NoError(t, p.Init(context.Background(), NewCapabilities("station", store, charts.DefaultPalette(), nil, nil)))
	assert.Equal(t, 42, state.GetOr(store, state.StationID, 0))
}

func TestLuaPlugin_FormatTimestamp(t *testing.T) {
	p, err := CompileLua("ts", `
return {
  refresh = function(ctx)
    ctx.set("formatted", ctx.format_timestamp(ctx.time_range["end"]))
    ctx.set("missing", ctx.format_timestamp(nil))
  end
}`)
	require.NoError(t, err)

	endTime := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	store := state.New()
	state.Set(store, state.EndTime, endTime)

	require.NoError(t, p.Refresh(context.Background(), NewCapabilities("ts", store, charts.DefaultPalette(), nil, nil)))
	got, _ := store.GetAny("formatted")
	assert.Equal(t, endTime.Local().Format("2006-01-02 15:04:05"), got)
	missing, _ := store.GetAny("missing")
	assert.Equal(t, "--", missing)
}

func TestLuaLoader_RelativeWithoutBase(t *testing.T) {
	l, err := NewLuaLoader(nil, "")
	require.NoError(t, err)

	_, err = l.Load(context.Background(), Descriptor{Name: "x", URL: "./x.lua"})
	assert.Error(t, err)
}

func TestLuaLoader_ScriptNotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	l, err := NewLuaLoader(srv.Client(), srv.URL)
	require.NoError(t, err)
	_, err = l.Load(context.Background(), Descriptor{Name: "x", URL: "/x.lua"})
	assert.Error(t, err)
}
