// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package state

import (
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soothill/tempest-dashboard/api"
	apperrors "github.com/soothill/tempest-dashboard/pkg/errors"
)

func TestSetNotifiesEveryWriteInRegistrationOrder(t *testing.T) {
	s := New()
	var calls []string

	On(s, StationID, func(v int) { calls = append(calls, "a:"+strconv.Itoa(v)) })
	On(s, StationID, func(v int) { calls = append(calls, "b:"+strconv.Itoa(v)) })

	Set(s, StationID, 1)
	Set(s, StationID, 1)
	Set(s, StationID, 2)

	assert.Equal(t, []string{"a:1", "b:1", "a:1", "b:1", "a:2", "b:2"}, calls)
}

func TestUnsubscribeRemovesExactlyOneRegistration(t *testing.T) {
	s := New()
	var a, b int

	fn := func(int) { a++ }
	unsubA := On(s, StationID, fn)
	On(s, StationID, func(int) { b++ })

	Set(s, StationID, 1)
	unsubA()
	unsubA()
	Set(s, StationID, 2)

	assert.Equal(t, 1, a)
	assert.Equal(t, 2, b)
	assert.Equal(t, 1, s.SubscriberCount(StationID.Name()))
}

func TestSameFunctionRegisteredTwice(t *testing.T) {
	s := New()
	n := 0
	fn := func(UnitSystem) { n++ }

	unsub1 := On(s, Units, fn)
	On(s, Units, fn)

	Set(s, Units, Metric)
	assert.Equal(t, 2, n)

	unsub1()
	Set(s, Units, Imperial)
	assert.Equal(t, 3, n)
}

func TestReentrantSetRunsNestedSubscribersFirst(t *testing.T) {
	s := New()
	var order []string

	On(s, TimeRange, func(v string) {
		order = append(order, "range:"+v)
		Set(s, TimeRangeType, Preset)
		order = append(order, "range-done")
	})
	On(s, TimeRangeType, func(v RangeType) {
		order = append(order, "type:"+string(v))
	})

	Set(s, TimeRange, "24h")

	assert.Equal(t, []string{"range:24h", "type:preset", "range-done"}, order)
}

func TestSubscriberMayUnsubscribeDuringDelivery(t *testing.T) {
	s := New()
	var second int
	var unsub func()
	unsub = On(s, StationID, func(int) { unsub() })
	On(s, StationID, func(int) { second++ })

	Set(s, StationID, 1)
	Set(s, StationID, 2)

	assert.Equal(t, 2, second)
	assert.Equal(t, 1, s.SubscriberCount(StationID.Name()))
}

func TestSubscriberRemovedBySiblingIsSkipped(t *testing.T) {
	s := New()
	var calls []string
	var unsubB func()
	On(s, StationID, func(int) {
		calls = append(calls, "a")
		unsubB()
	})
	unsubB = On(s, StationID, func(int) { calls = append(calls, "b") })
	On(s, StationID, func(int) { calls = append(calls, "c") })

	Set(s, StationID, 1)
	Set(s, StationID, 2)

	assert.Equal(t, []string{"a", "c", "a", "c"}, calls)
	assert.Equal(t, 2, s.SubscriberCount(StationID.Name()))
}

func TestGetTyped(t *testing.T) {
	s := New()

	_, ok := Get(s, StationID)
	assert.False(t, ok)
	assert.Equal(t, Metric, GetOr(s, Units, Metric))

	obs := &api.Observation{StationID: 7}
	Set(s, CurrentObservation, obs)
	got, ok := Get(s, CurrentObservation)
	require.True(t, ok)
	assert.Same(t, obs, got)
}

func TestSetAnyCoercesDeclaredKeys(t *testing.T) {
	s := New()

	require.NoError(t, s.SetAny("stationId", float64(42)))
	id, ok := Get(s, StationID)
	require.True(t, ok)
	assert.Equal(t, 42, id)

	require.NoError(t, s.SetAny("units", "imperial"))
	assert.Equal(t, Imperial, GetOr(s, Units, Metric))

	require.NoError(t, s.SetAny("endTime", "2024-01-02T00:00:00Z"))
	end, ok := Get(s, EndTime)
	require.True(t, ok)
	assert.True(t, end.Equal(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)))
}

func TestSetAnyRejectsMismatchedTypes(t *testing.T) {
	s := New()
	Set(s, StationID, 5)
	notified := 0
	On(s, StationID, func(int) { notified++ })

	tests := []struct {
		name string
		key  string
		val  any
	}{
		{"fractional station", "stationId", 1.5},
		{"bool station", "stationId", true},
		{"unknown units", "units", "kelvin"},
		{"bad time", "startTime", "yesterday"},
		{"bad range type", "timeRangeType", "rolling"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.SetAny(tt.key, tt.val)
			require.Error(t, err)
			assert.ErrorIs(t, err, apperrors.ErrTypeMismatch)
		})
	}

	assert.Equal(t, 0, notified)
	assert.Equal(t, 5, GetOr(s, StationID, 0))
}

func TestUndeclaredKeysAcceptAnything(t *testing.T) {
	s := New()
	assert.False(t, Declared("windRose.sector"))

	var seen []any
	s.OnAny("windRose.sector", func(v any) { seen = append(seen, v) })

	require.NoError(t, s.SetAny("windRose.sector", "NE"))
	require.NoError(t, s.SetAny("windRose.sector", 3.0))

	assert.Equal(t, []any{"NE", 3.0}, seen)
	assert.Equal(t, []string{"windRose.sector"}, s.Keys())
}

func TestTypedSubscriberSkipsForeignValues(t *testing.T) {
	s := New()
	k := NewKey[string]("plugin.note")
	var got []string
	On(s, k, func(v string) { got = append(got, v) })

	require.NoError(t, s.SetAny(k.Name(), 12.0))
	Set(s, k, "hello")

	assert.Equal(t, []string{"hello"}, got)
}

func TestConcurrentWrites(t *testing.T) {
	s := New()
	var mu sync.Mutex
	count := 0
	On(s, StationID, func(int) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			Set(s, StationID, i)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 50, count)
	assert.Len(t, s.Snapshot(), 1)
}
