// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package plugins loads dashboard extensions listed in a JSON manifest and
// drives their lifecycle.
//
// A plugin is a Plugin value whose hooks are all optional. Loading runs
// init, render and create_charts in that order; refresh runs after every
// refresh cycle; destroy runs on teardown. Every hook runs inside a failure
// boundary: a returned error or a panic is logged, counted and contained
// to the plugin that raised it.
//
// Section markup is whatever the plugin's render hook returned. It is kept
// verbatim and is trusted exactly as far as the manifest that listed the
// plugin is trusted.
package plugins

import (
	"context"
	"time"

	"github.com/soothill/tempest-dashboard/charts"
	"github.com/soothill/tempest-dashboard/state"
)

// Lifecycle phase names used in logs, metrics and PluginError.
const (
	PhaseLoad         = "load"
	PhaseInit         = "init"
	PhaseRender       = "render"
	PhaseCreateCharts = "create_charts"
	PhaseRefresh      = "refresh"
	PhaseDestroy      = "destroy"
)

// Plugin is a loaded plugin module. A nil hook is skipped.
type Plugin struct {
	// Label is the section title; the manifest name is used when empty
	Label string

	Init         func(ctx context.Context, caps *Capabilities) error
	Render       func(ctx context.Context) (string, error)
	CreateCharts func(ctx context.Context, caps *Capabilities) error
	Refresh      func(ctx context.Context, caps *Capabilities) error
	Destroy      func(ctx context.Context) error
}

// Section is the collapsible display region of a plugin that rendered.
type Section struct {
	Name      string `json:"name"`
	Title     string `json:"title"`
	Markup    string `json:"markup"`
	Collapsed bool   `json:"collapsed"`
}

// Toggle flips the collapsed state and returns the new state.
func (s *Section) Toggle() bool {
	s.Collapsed = !s.Collapsed
	return s.Collapsed
}

// ServerResolver resolves the server origin configured for a named plugin.
type ServerResolver interface {
	PluginServerURL(ctx context.Context, name string) string
}

// TimeRange is a point-in-time view of the dashboard's time selection.
type TimeRange struct {
	Type  state.RangeType `json:"type"`
	Range string          `json:"range"`
	Start time.Time       `json:"start"`
	End   time.Time       `json:"end"`
}

// Capabilities is what a plugin hook may use. A fresh value is built for
// every hook invocation, so Units, TimeRange and the palette reflect the
// dashboard at call time.
type Capabilities struct {
	Store *state.Store

	plugin  string
	palette charts.Palette
	servers ServerResolver
	update  func(markup string)
}

// NewCapabilities builds the capability context for the named plugin.
// update receives replacement section markup and may be nil.
func NewCapabilities(plugin string, store *state.Store, palette charts.Palette, servers ServerResolver, update func(string)) *Capabilities {
	return &Capabilities{
		Store:   store,
		plugin:  plugin,
		palette: palette,
		servers: servers,
		update:  update,
	}
}

// Plugin returns the manifest name of the plugin these capabilities belong to.
func (c *Capabilities) Plugin() string {
	return c.plugin
}

// Units returns the active unit system, metric when unset.
func (c *Capabilities) Units() string {
	return string(state.GetOr(c.Store, state.Units, state.Metric))
}

// TimeRange returns the current time selection.
func (c *Capabilities) TimeRange() TimeRange {
	return TimeRange{
		Type:  state.GetOr(c.Store, state.TimeRangeType, state.Preset),
		Range: state.GetOr(c.Store, state.TimeRange, ""),
		Start: state.GetOr(c.Store, state.StartTime, time.Time{}),
		End:   state.GetOr(c.Store, state.EndTime, time.Time{}),
	}
}

// FormatTemp formats a temperature in the given units, or the active units
// when units is empty.
func (c *Capabilities) FormatTemp(v *float64, units string) string {
	if units == "" {
		units = c.Units()
	}
	return charts.FormatTemp(v, units)
}

// FormatTimestamp formats t in local time.
func (c *Capabilities) FormatTimestamp(t time.Time) string {
	return charts.FormatTimestamp(t)
}

// MakeDataset builds a chart dataset.
func (c *Capabilities) MakeDataset(label string, data []charts.Point, color string) charts.Dataset {
	return charts.MakeDataset(label, data, color)
}

// BaseOptions returns the shared chart options themed with the UI colors.
func (c *Capabilities) BaseOptions(yTitle string) map[string]any {
	return charts.BaseOptions(yTitle, c.palette.UI)
}

// ChartColors returns the active series colors.
func (c *Capabilities) ChartColors() charts.ChartColors {
	return c.palette.Chart
}

// UIColors returns the active interface colors.
func (c *Capabilities) UIColors() charts.UIColors {
	return c.palette.UI
}

// ServerURL returns the origin configured for the named plugin, or "" when
// none is configured.
func (c *Capabilities) ServerURL(ctx context.Context, name string) string {
	if c.servers == nil {
		return ""
	}
	return c.servers.PluginServerURL(ctx, name)
}

// UpdateSection replaces the markup of the plugin's section. It is a no-op
// for plugins without a section.
func (c *Capabilities) UpdateSection(markup string) {
	if c.update != nil {
		c.update(markup)
	}
}
