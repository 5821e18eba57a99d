// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package interfaces

import (
	"context"
	"time"

	"github.com/soothill/tempest-dashboard/api"
)

// TelemetryClient is the subset of the telemetry API the refresh
// orchestrator depends on.
type TelemetryClient interface {
	GetCurrentObservation(ctx context.Context, stationID int, units string) (*api.Observation, error)
	GetObservations(ctx context.Context, stationID int, start, end time.Time, opts api.ObservationOptions) (*api.ObservationSeries, error)
}

// PluginRefresher runs the refresh hook of every active plugin.
// Implementations must isolate plugin failures and never return them.
type PluginRefresher interface {
	RefreshAll(ctx context.Context)
}

// Renderer is the presentation collaborator driven by the orchestrator.
type Renderer interface {
	// RenderCurrent displays the current conditions; obs may be nil
	RenderCurrent(obs *api.Observation)

	// UpdateCharts replaces chart data with the given series
	UpdateCharts(observations []api.Observation)

	// ResetZoom clears any chart zoom state
	ResetZoom()

	// ShowLoading shows a placeholder while data is refetched
	ShowLoading()

	// SetStatus updates the connection indicator
	SetStatus(status, label string)

	// SetLastUpdated records when the last cycle settled
	SetLastUpdated(t time.Time)

	// SetCountdown shows seconds until the next poll
	SetCountdown(seconds int)

	// CreateCharts builds chart instances
	CreateCharts()

	// DestroyCharts tears down chart instances
	DestroyCharts()
}
