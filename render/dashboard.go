// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package render keeps a headless model of the dashboard screen. It is the
// presentation collaborator of the refresh orchestrator: every call updates
// the model and is logged, and the admin surface serves the model as JSON.
package render

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/soothill/tempest-dashboard/api"
	"github.com/soothill/tempest-dashboard/charts"
	"github.com/soothill/tempest-dashboard/pkg/logger"
	"github.com/soothill/tempest-dashboard/state"
)

// View is a copy of the dashboard model.
type View struct {
	Status        string         `json:"status"`
	StatusLabel   string         `json:"status_label"`
	Loading       bool           `json:"loading"`
	Stats         []StatBox      `json:"stats"`
	ChartsCreated bool           `json:"charts_created"`
	Charts        []charts.Chart `json:"charts,omitempty"`
	Points        int            `json:"points"`
	ZoomResets    int            `json:"zoom_resets"`
	LastUpdated   string         `json:"last_updated"`
	Countdown     int            `json:"countdown"`
}

// Dashboard implements interfaces.Renderer.
type Dashboard struct {
	mu      sync.RWMutex
	store   *state.Store
	palette *charts.Provider
	view    View
	log     zerolog.Logger
}

// NewDashboard creates an empty dashboard model. Units come from store at
// render time and colors from palette.
func NewDashboard(store *state.Store, palette *charts.Provider) *Dashboard {
	if palette == nil {
		palette = charts.NewProvider()
	}
	return &Dashboard{
		store:   store,
		palette: palette,
		view:    View{LastUpdated: "--"},
		log:     logger.Component("render"),
	}
}

func (d *Dashboard) units() string {
	return string(state.GetOr(d.store, state.Units, state.Metric))
}

// RenderCurrent lays out the current-conditions grid.
func (d *Dashboard) RenderCurrent(obs *api.Observation) {
	units := d.units()
	stats := BuildStats(obs, units)

	d.mu.Lock()
	d.view.Stats = stats
	d.view.Loading = false
	d.mu.Unlock()

	ev := d.log.Info().Str("units", units)
	if obs != nil {
		ev = ev.Time("observed", obs.Timestamp).Str("temperature", charts.FormatTemp(obs.AirTemperature, units))
	}
	ev.Msg("Current conditions rendered")
}

// UpdateCharts rebuilds the chart data from observations. It is ignored
// until CreateCharts has run.
func (d *Dashboard) UpdateCharts(observations []api.Observation) {
	built := charts.BuildCharts(observations, d.palette.Palette(), d.units())

	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.view.ChartsCreated {
		d.log.Debug().Msg("Chart update before charts exist, ignoring")
		return
	}
	d.view.Charts = built
	d.view.Points = len(observations)
	d.log.Info().Int("points", len(observations)).Int("charts", len(built)).Msg("Charts updated")
}

// ResetZoom clears chart zoom.
func (d *Dashboard) ResetZoom() {
	d.mu.Lock()
	d.view.ZoomResets++
	d.mu.Unlock()
	d.log.Debug().Msg("Chart zoom reset")
}

// ShowLoading replaces the grid with placeholders.
func (d *Dashboard) ShowLoading() {
	d.mu.Lock()
	d.view.Loading = true
	d.view.Stats = LoadingStats()
	d.mu.Unlock()
}

// SetStatus updates the connection indicator.
func (d *Dashboard) SetStatus(status, label string) {
	d.mu.Lock()
	changed := d.view.Status != status || d.view.StatusLabel != label
	d.view.Status = status
	d.view.StatusLabel = label
	d.mu.Unlock()

	if changed {
		d.log.Info().Str("status", status).Str("label", label).Msg("Connection status")
	}
}

// SetLastUpdated records when the last refresh settled.
func (d *Dashboard) SetLastUpdated(t time.Time) {
	d.mu.Lock()
	d.view.LastUpdated = charts.FormatTimestamp(t)
	d.mu.Unlock()
}

// SetCountdown shows seconds until the next poll.
func (d *Dashboard) SetCountdown(seconds int) {
	d.mu.Lock()
	d.view.Countdown = seconds
	d.mu.Unlock()
	d.log.Trace().Int("seconds", seconds).Msg("Countdown")
}

// CreateCharts creates the empty core charts.
func (d *Dashboard) CreateCharts() {
	built := charts.BuildCharts(nil, d.palette.Palette(), d.units())

	d.mu.Lock()
	d.view.ChartsCreated = true
	d.view.Charts = built
	d.view.Points = 0
	d.mu.Unlock()
	d.log.Debug().Int("charts", len(built)).Msg("Charts created")
}

// DestroyCharts tears the charts down.
func (d *Dashboard) DestroyCharts() {
	d.mu.Lock()
	d.view.ChartsCreated = false
	d.view.Charts = nil
	d.view.Points = 0
	d.mu.Unlock()
	d.log.Debug().Msg("Charts destroyed")
}

// View returns a copy of the model. Chart data is omitted unless
// withCharts is set.
func (d *Dashboard) View(withCharts bool) View {
	d.mu.RLock()
	defer d.mu.RUnlock()
	v := d.view
	v.Stats = append([]StatBox(nil), d.view.Stats...)
	if withCharts {
		v.Charts = append([]charts.Chart(nil), d.view.Charts...)
	} else {
		v.Charts = nil
	}
	return v
}
