// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package controls implements the dashboard's user controls as store writers:
// time-range presets, custom ranges, unit switching and station selection.
// Rejected input returns a ValidationError and leaves the store untouched.
package controls

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/soothill/tempest-dashboard/api"
	apperrors "github.com/soothill/tempest-dashboard/pkg/errors"
	"github.com/soothill/tempest-dashboard/pkg/interfaces"
	"github.com/soothill/tempest-dashboard/pkg/logger"
	"github.com/soothill/tempest-dashboard/state"
	"github.com/soothill/tempest-dashboard/storage"
)

// TimeRange is a selectable rolling window.
type TimeRange struct {
	ID    string
	Label string
	Hours int
}

// Duration returns the window length.
func (r TimeRange) Duration() time.Duration {
	return time.Duration(r.Hours) * time.Hour
}

// TimeRanges lists the presets in display order.
var TimeRanges = []TimeRange{
	{ID: "6h", Label: "6 Hours", Hours: 6},
	{ID: "24h", Label: "24 Hours", Hours: 24},
	{ID: "7d", Label: "7 Days", Hours: 168},
	{ID: "30d", Label: "30 Days", Hours: 720},
	{ID: "90d", Label: "90 Days", Hours: 2160},
}

// DefaultRange is the preset selected at startup.
const DefaultRange = "24h"

// LookupRange finds a preset by id.
func LookupRange(id string) (TimeRange, bool) {
	for _, r := range TimeRanges {
		if r.ID == id {
			return r, true
		}
	}
	return TimeRange{}, false
}

// PresetWindow returns the rolling window for preset id ending at now.
func PresetWindow(id string, now time.Time) (start, end time.Time, ok bool) {
	r, ok := LookupRange(id)
	if !ok {
		return time.Time{}, time.Time{}, false
	}
	return now.Add(-r.Duration()), now, true
}

// Controls writes user selections into the store.
type Controls struct {
	store *state.Store
	prefs interfaces.PreferenceStore
	now   func() time.Time
	log   zerolog.Logger
}

// New creates controls over store. prefs may be nil.
func New(store *state.Store, prefs interfaces.PreferenceStore) *Controls {
	return &Controls{
		store: store,
		prefs: prefs,
		now:   time.Now,
		log:   logger.Component("controls"),
	}
}

// SetClock replaces the time source.
func (c *Controls) SetClock(now func() time.Time) {
	c.now = now
}

// Init seeds the store with the unit system and the default preset window.
func (c *Controls) Init(units state.UnitSystem) {
	if !units.Valid() {
		units = state.Metric
	}
	state.Set(c.store, state.Units, units)
	state.Set(c.store, state.TimeRange, DefaultRange)
	state.Set(c.store, state.TimeRangeType, state.Preset)
	c.updateTimeRange(DefaultRange)
}

// SelectPreset switches to a rolling window.
func (c *Controls) SelectPreset(id string) error {
	if _, ok := LookupRange(id); !ok {
		return apperrors.WrapValidationError("timeRange", id, "unknown preset", apperrors.ErrInvalidRange)
	}
	state.Set(c.store, state.TimeRange, id)
	state.Set(c.store, state.TimeRangeType, state.Preset)
	c.updateTimeRange(id)
	c.log.Debug().Str("range", id).Msg("Selected preset range")
	return nil
}

// NextWindow computes the live window for the active preset without
// writing it. It reports false in custom mode.
func (c *Controls) NextWindow() (start, end time.Time, ok bool) {
	if state.GetOr(c.store, state.TimeRangeType, state.Preset) != state.Preset {
		return time.Time{}, time.Time{}, false
	}
	return PresetWindow(state.GetOr(c.store, state.TimeRange, DefaultRange), c.now())
}

// ApplyWindow writes a precomputed window.
func (c *Controls) ApplyWindow(start, end time.Time) {
	state.Set(c.store, state.StartTime, start)
	state.Set(c.store, state.EndTime, end)
}

func (c *Controls) updateTimeRange(id string) {
	if start, end, ok := PresetWindow(id, c.now()); ok {
		c.ApplyWindow(start, end)
	}
}

// ApplyCustomRange switches to a fixed window. start must precede end and
// end must not be in the future.
func (c *Controls) ApplyCustomRange(start, end time.Time) error {
	if start.IsZero() || end.IsZero() {
		return apperrors.WrapValidationError("range", nil, "start and end are required", apperrors.ErrInvalidRange)
	}
	if !start.Before(end) {
		return apperrors.WrapValidationError("range", start.Format(time.RFC3339), "start must be before end", apperrors.ErrInvalidRange)
	}
	if end.After(c.now()) {
		return apperrors.WrapValidationError("range", end.Format(time.RFC3339), "end is in the future", apperrors.ErrInvalidRange)
	}

	state.Set(c.store, state.TimeRangeType, state.Custom)
	c.ApplyWindow(start.UTC(), end.UTC())
	c.log.Debug().Time("start", start).Time("end", end).Msg("Applied custom range")
	return nil
}

// SwitchUnits changes the unit system and persists the choice.
func (c *Controls) SwitchUnits(ctx context.Context, units string) error {
	u := state.UnitSystem(units)
	if !u.Valid() {
		return apperrors.NewValidationError("units", units, "must be metric or imperial")
	}
	if c.prefs != nil {
		if err := c.prefs.Set(ctx, storage.PrefUnits, units); err != nil {
			c.log.Warn().Err(err).Msg("Failed to persist unit preference")
		}
	}
	state.Set(c.store, state.Units, u)
	return nil
}

// SelectStation changes the active station.
func (c *Controls) SelectStation(id int) error {
	if id <= 0 {
		return apperrors.NewValidationError("stationId", id, "must be positive")
	}
	state.Set(c.store, state.StationID, id)
	return nil
}

// PopulateStations keeps the current station when it is in the list and
// otherwise selects the first one. It returns the active station id.
func (c *Controls) PopulateStations(stations []api.Station) (int, error) {
	if len(stations) == 0 {
		return 0, apperrors.ErrNoStation
	}
	if saved, ok := state.Get(c.store, state.StationID); ok {
		for _, s := range stations {
			if s.StationID == saved {
				return saved, nil
			}
		}
	}
	first := stations[0].StationID
	state.Set(c.store, state.StationID, first)
	return first, nil
}
