// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package plugins

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/Shopify/go-lua"

	"github.com/soothill/tempest-dashboard/charts"
)

const maxScriptSize = 1 << 20

// LuaLoader fetches plugin scripts over HTTP and runs them with an embedded
// Lua interpreter. A script must return a table; its optional fields are
// label (string) and the functions init, render, create_charts, refresh
// and destroy:
//
//	local plugin = { label = "Rain" }
//
//	function plugin.init(ctx) end
//	function plugin.render() return "<div id='rain'></div>" end
//	function plugin.refresh(ctx)
//	  return "<p>" .. ctx.format_temp(ctx.get("currentObservation").air_temperature) .. "</p>"
//	end
//
//	return plugin
//
// Hooks receiving ctx get a table with get, set, format_temp,
// format_timestamp, server_url, make_dataset, base_options, units,
// time_range, chart_colors and ui_colors. A string returned from refresh
// replaces the plugin's section markup.
type LuaLoader struct {
	client *http.Client
	base   *url.URL
}

// NewLuaLoader creates a loader resolving relative script URLs against baseURL.
func NewLuaLoader(client *http.Client, baseURL string) (*LuaLoader, error) {
	l := &LuaLoader{client: client}
	if baseURL != "" {
		u, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid plugin base URL: %w", err)
		}
		l.base = u
	}
	if l.client == nil {
		l.client = http.DefaultClient
	}
	return l, nil
}

// Load implements Loader.
func (l *LuaLoader) Load(ctx context.Context, d Descriptor) (*Plugin, error) {
	src, err := l.fetch(ctx, d.URL)
	if err != nil {
		return nil, err
	}
	return CompileLua(d.Name, src)
}

func (l *LuaLoader) fetch(ctx context.Context, raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid script URL %q: %w", raw, err)
	}
	if l.base != nil {
		u = l.base.ResolveReference(u)
	}
	if !u.IsAbs() {
		return "", fmt.Errorf("script URL %q is relative and no base URL is set", raw)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to create script request: %w", err)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch script: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("script %s returned HTTP %d", u, resp.StatusCode)
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxScriptSize))
	if err != nil {
		return "", fmt.Errorf("failed to read script: %w", err)
	}
	return string(b), nil
}

// CompileLua runs a plugin script and binds the hooks of the table it returns.
func CompileLua(name, src string) (*Plugin, error) {
	ls := lua.NewState()
	lua.OpenLibraries(ls)
	if err := lua.LoadBuffer(ls, src, "@"+name, "t"); err != nil {
		return nil, fmt.Errorf("failed to compile %s: %w", name, err)
	}
	if err := ls.ProtectedCall(0, 1, 0); err != nil {
		return nil, fmt.Errorf("failed to run %s: %w", name, err)
	}
	if !ls.IsTable(-1) {
		return nil, fmt.Errorf("%s: script must return a table, got %s", name, lua.TypeNameOf(ls, -1))
	}
	ls.SetTop(1)

	m := &luaModule{state: ls}
	p := &Plugin{Label: m.label()}
	if m.has("init") {
		p.Init = func(ctx context.Context, caps *Capabilities) error {
			_, err := m.call(ctx, "init", caps)
			return err
		}
	}
	if m.has("render") {
		p.Render = func(ctx context.Context) (string, error) {
			return m.call(ctx, "render", nil)
		}
	}
	if m.has("create_charts") {
		p.CreateCharts = func(ctx context.Context, caps *Capabilities) error {
			_, err := m.call(ctx, "create_charts", caps)
			return err
		}
	}
	if m.has("refresh") {
		p.Refresh = func(ctx context.Context, caps *Capabilities) error {
			markup, err := m.call(ctx, "refresh", caps)
			if err == nil && markup != "" {
				caps.UpdateSection(markup)
			}
			return err
		}
	}
	if m.has("destroy") {
		p.Destroy = func(ctx context.Context) error {
			_, err := m.call(ctx, "destroy", nil)
			return err
		}
	}
	return p, nil
}

// luaModule owns an interpreter whose stack holds the module table at index 1.
type luaModule struct {
	mu    sync.Mutex
	state *lua.State
}

func (m *luaModule) has(hook string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Field(1, hook)
	ok := m.state.IsFunction(-1)
	m.state.Pop(1)
	return ok
}

func (m *luaModule) label() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Field(1, "label")
	defer m.state.Pop(1)
	if m.state.TypeOf(-1) != lua.TypeString {
		return ""
	}
	s, _ := m.state.ToString(-1)
	return s
}

// call invokes hook with the capability table when caps is non-nil and
// returns its result when that result is a string.
func (m *luaModule) call(ctx context.Context, hook string, caps *Capabilities) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.state
	defer l.SetTop(1)

	l.Field(1, hook)
	args := 0
	if caps != nil {
		pushCapabilities(ctx, l, caps)
		args = 1
	}
	if err := l.ProtectedCall(args, 1, 0); err != nil {
		return "", err
	}
	if l.TypeOf(-1) != lua.TypeString {
		return "", nil
	}
	s, _ := l.ToString(-1)
	return s, nil
}

func pushCapabilities(ctx context.Context, l *lua.State, caps *Capabilities) {
	l.NewTable()
	fn := func(name string, f lua.Function) {
		l.PushGoFunction(f)
		l.SetField(-2, name)
	}

	fn("get", func(l *lua.State) int {
		v, ok := caps.Store.GetAny(lua.CheckString(l, 1))
		if !ok {
			l.PushNil()
			return 1
		}
		pushValue(l, v)
		return 1
	})
	fn("set", func(l *lua.State) int {
		key := lua.CheckString(l, 1)
		if err := caps.Store.SetAny(key, toGo(l, 2)); err != nil {
			lua.Errorf(l, "set %s: %s", key, err.Error())
		}
		return 0
	})
	fn("format_temp", func(l *lua.State) int {
		if l.IsNoneOrNil(1) {
			l.PushString(caps.FormatTemp(nil, ""))
			return 1
		}
		v := lua.CheckNumber(l, 1)
		l.PushString(caps.FormatTemp(&v, lua.OptString(l, 2, "")))
		return 1
	})
	fn("format_timestamp", func(l *lua.State) int {
		t, _ := toTime(toGo(l, 1))
		l.PushString(caps.FormatTimestamp(t))
		return 1
	})
	fn("server_url", func(l *lua.State) int {
		origin := caps.ServerURL(ctx, lua.OptString(l, 1, caps.Plugin()))
		if origin == "" {
			l.PushNil()
			return 1
		}
		l.PushString(origin)
		return 1
	})
	fn("make_dataset", func(l *lua.State) int {
		label := lua.CheckString(l, 1)
		color := lua.CheckString(l, 3)
		pushValue(l, caps.MakeDataset(label, toPoints(toGo(l, 2)), color))
		return 1
	})
	fn("base_options", func(l *lua.State) int {
		pushValue(l, caps.BaseOptions(lua.OptString(l, 1, "")))
		return 1
	})

	l.PushString(caps.Units())
	l.SetField(-2, "units")
	pushValue(l, caps.TimeRange())
	l.SetField(-2, "time_range")
	pushValue(l, caps.ChartColors().Map())
	l.SetField(-2, "chart_colors")
	pushValue(l, caps.UIColors().Map())
	l.SetField(-2, "ui_colors")
}

// pushValue pushes v as its JSON shape: structs and maps become tables,
// times become RFC 3339 strings.
func pushValue(l *lua.State, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		l.PushNil()
		return
	}
	var generic any
	if err := json.Unmarshal(b, &generic); err != nil {
		l.PushNil()
		return
	}
	pushJSON(l, generic)
}

func pushJSON(l *lua.State, v any) {
	switch x := v.(type) {
	case nil:
		l.PushNil()
	case bool:
		l.PushBoolean(x)
	case float64:
		l.PushNumber(x)
	case string:
		l.PushString(x)
	case []any:
		l.CreateTable(len(x), 0)
		for i, e := range x {
			pushJSON(l, e)
			l.RawSetInt(-2, i+1)
		}
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		l.CreateTable(0, len(x))
		for _, k := range keys {
			pushJSON(l, x[k])
			l.SetField(-2, k)
		}
	default:
		l.PushNil()
	}
}

func toGo(l *lua.State, index int) any {
	switch l.TypeOf(index) {
	case lua.TypeString:
		s, _ := l.ToString(index)
		return s
	case lua.TypeNumber:
		n, _ := l.ToNumber(index)
		return n
	case lua.TypeBoolean:
		return l.ToBoolean(index)
	case lua.TypeTable:
		return tableToGo(l, index)
	default:
		return nil
	}
}

// tableToGo converts a sequence to []any and anything else to map[string]any.
func tableToGo(l *lua.State, index int) any {
	index = l.AbsIndex(index)
	named := map[string]any{}
	seq := map[int]any{}
	l.PushNil()
	for l.Next(index) {
		switch l.TypeOf(-2) {
		case lua.TypeString:
			k, _ := l.ToString(-2)
			named[k] = toGo(l, -1)
		case lua.TypeNumber:
			n, _ := l.ToNumber(-2)
			if i := int(n); float64(i) == n && i > 0 {
				seq[i] = toGo(l, -1)
			} else {
				named[strconv.FormatFloat(n, 'f', -1, 64)] = toGo(l, -1)
			}
		}
		l.Pop(1)
	}

	if len(named) == 0 && len(seq) > 0 {
		out := make([]any, len(seq))
		contiguous := true
		for i := 1; i <= len(seq); i++ {
			v, ok := seq[i]
			if !ok {
				contiguous = false
				break
			}
			out[i-1] = v
		}
		if contiguous {
			return out
		}
	}
	for i, v := range seq {
		named[strconv.Itoa(i)] = v
	}
	return named
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case string:
		parsed, err := time.Parse(time.RFC3339, t)
		return parsed, err == nil
	case float64:
		return time.UnixMilli(int64(t)), true
	}
	return time.Time{}, false
}

// toPoints reads a sequence of {x = <time>, y = <number|nil>} tables.
func toPoints(v any) []charts.Point {
	items, _ := v.([]any)
	points := make([]charts.Point, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		x, ok := toTime(m["x"])
		if !ok {
			continue
		}
		p := charts.Point{X: x}
		if y, ok := m["y"].(float64); ok {
			p.Y = &y
		}
		points = append(points, p)
	}
	return points
}
