// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package controls

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soothill/tempest-dashboard/api"
	apperrors "github.com/soothill/tempest-dashboard/pkg/errors"
	"github.com/soothill/tempest-dashboard/state"
	"github.com/soothill/tempest-dashboard/storage"
)

type memPrefs struct {
	mu     sync.Mutex
	values map[string]string
}

func (m *memPrefs) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *memPrefs) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.values == nil {
		m.values = map[string]string{}
	}
	m.values[key] = value
	return nil
}

func (m *memPrefs) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newControls(t *testing.T) (*Controls, *state.Store, *memPrefs) {
	t.Helper()
	store := state.New()
	prefs := &memPrefs{}
	c := New(store, prefs)
	c.SetClock(func() time.Time { return fixedNow })
	return c, store, prefs
}

func TestLookupRange(t *testing.T) {
	tests := []struct {
		id    string
		hours int
		ok    bool
	}{
		{"6h", 6, true},
		{"24h", 24, true},
		{"7d", 168, true},
		{"30d", 720, true},
		{"90d", 2160, true},
		{"1y", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			r, ok := LookupRange(tt.id)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.hours, r.Hours)
		})
	}
}

func TestInitSeedsDefaultWindow(t *testing.T) {
	c, store, _ := newControls(t)
	c.Init("")

	assert.Equal(t, state.Metric, state.GetOr(store, state.Units, ""))
	assert.Equal(t, DefaultRange, state.GetOr(store, state.TimeRange, ""))
	assert.Equal(t, state.Preset, state.GetOr(store, state.TimeRangeType, ""))
	assert.Equal(t, fixedNow, state.GetOr(store, state.EndTime, time.Time{}))
	assert.Equal(t, fixedNow.Add(-24*time.Hour), state.GetOr(store, state.StartTime, time.Time{}))
}

func TestSelectPreset(t *testing.T) {
	c, store, _ := newControls(t)
	c.Init(state.Imperial)

	var ends []time.Time
	state.On(store, state.EndTime, func(v time.Time) { ends = append(ends, v) })

	require.NoError(t, c.SelectPreset("7d"))
	assert.Equal(t, "7d", state.GetOr(store, state.TimeRange, ""))
	assert.Equal(t, fixedNow.Add(-168*time.Hour), state.GetOr(store, state.StartTime, time.Time{}))
	assert.Len(t, ends, 1)

	err := c.SelectPreset("bogus")
	assert.True(t, errors.Is(err, apperrors.ErrInvalidRange))
	assert.Equal(t, "7d", state.GetOr(store, state.TimeRange, ""))
	assert.Len(t, ends, 1)
}

func TestApplyCustomRangeRejectsInvalidInput(t *testing.T) {
	c, store, _ := newControls(t)
	c.Init(state.Metric)
	before := store.Snapshot()

	notified := 0
	state.On(store, state.EndTime, func(time.Time) { notified++ })

	tests := []struct {
		name       string
		start, end time.Time
	}{
		{"start equals end", fixedNow.Add(-time.Hour), fixedNow.Add(-time.Hour)},
		{"start after end", fixedNow.Add(-time.Hour), fixedNow.Add(-2 * time.Hour)},
		{"future end", fixedNow.Add(-time.Hour), fixedNow.Add(time.Minute)},
		{"missing start", time.Time{}, fixedNow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.ApplyCustomRange(tt.start, tt.end)
			require.Error(t, err)
			assert.True(t, apperrors.IsValidationError(err))
			assert.True(t, errors.Is(err, apperrors.ErrInvalidRange))
		})
	}

	assert.Equal(t, before, store.Snapshot())
	assert.Zero(t, notified)
}

func TestApplyCustomRange(t *testing.T) {
	c, store, _ := newControls(t)
	c.Init(state.Metric)

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	require.NoError(t, c.ApplyCustomRange(start, end))

	assert.Equal(t, state.Custom, state.GetOr(store, state.TimeRangeType, ""))
	assert.Equal(t, start, state.GetOr(store, state.StartTime, time.Time{}))
	assert.Equal(t, end, state.GetOr(store, state.EndTime, time.Time{}))
	assert.Equal(t, "5m", api.ResolutionForSpan(end.Sub(start)))

	_, _, ok := c.NextWindow()
	assert.False(t, ok, "custom ranges do not move")
	assert.Equal(t, end, state.GetOr(store, state.EndTime, time.Time{}))
}

func TestNextWindowMovesPresetWindow(t *testing.T) {
	c, store, _ := newControls(t)
	c.Init(state.Metric)

	later := fixedNow.Add(5 * time.Minute)
	c.SetClock(func() time.Time { return later })

	start, end, ok := c.NextWindow()
	require.True(t, ok)
	assert.Equal(t, later, end)
	assert.Equal(t, later.Add(-24*time.Hour), start)
	assert.Equal(t, fixedNow, state.GetOr(store, state.EndTime, time.Time{}), "NextWindow does not write")

	c.ApplyWindow(start, end)
	assert.Equal(t, later, state.GetOr(store, state.EndTime, time.Time{}))
}

func TestSwitchUnits(t *testing.T) {
	c, store, prefs := newControls(t)
	ctx := context.Background()

	require.NoError(t, c.SwitchUnits(ctx, "imperial"))
	assert.Equal(t, state.Imperial, state.GetOr(store, state.Units, ""))
	v, ok, _ := prefs.Get(ctx, storage.PrefUnits)
	assert.True(t, ok)
	assert.Equal(t, "imperial", v)

	err := c.SwitchUnits(ctx, "kelvin")
	assert.True(t, apperrors.IsValidationError(err))
	assert.Equal(t, state.Imperial, state.GetOr(store, state.Units, ""))
}

func TestPopulateStations(t *testing.T) {
	c, store, _ := newControls(t)

	_, err := c.PopulateStations(nil)
	assert.ErrorIs(t, err, apperrors.ErrNoStation)

	stations := []api.Station{{StationID: 10}, {StationID: 20}}
	id, err := c.PopulateStations(stations)
	require.NoError(t, err)
	assert.Equal(t, 10, id)

	require.NoError(t, c.SelectStation(20))
	id, err = c.PopulateStations(stations)
	require.NoError(t, err)
	assert.Equal(t, 20, id, "saved station is kept")

	state.Set(store, state.StationID, 99)
	id, _ = c.PopulateStations(stations)
	assert.Equal(t, 10, id)

	assert.Error(t, c.SelectStation(0))
}
