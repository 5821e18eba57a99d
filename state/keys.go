// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package state

import (
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/soothill/tempest-dashboard/api"
)

// Key names a store entry holding values of type T.
type Key[T any] struct {
	name string
}

// Name returns the key name.
func (k Key[T]) Name() string { return k.name }

// NewKey returns a typed handle for an undeclared key. Plugins and tests
// use it for keys outside the dashboard schema; no coercion applies.
func NewKey[T any](name string) Key[T] {
	return Key[T]{name: name}
}

// UnitSystem selects the units the server converts readings into.
type UnitSystem string

// Unit systems accepted by the telemetry server.
const (
	Metric   UnitSystem = "metric"
	Imperial UnitSystem = "imperial"
)

// Valid reports whether u is a known unit system.
func (u UnitSystem) Valid() bool { return u == Metric || u == Imperial }

// RangeType distinguishes rolling windows from fixed ones.
type RangeType string

// Range types.
const (
	Preset RangeType = "preset"
	Custom RangeType = "custom"
)

// Declared dashboard keys.
var (
	StationID          = declare("stationId", coerceInt)
	Units              = declare("units", coerceUnits)
	TimeRangeType      = declare("timeRangeType", coerceRangeType)
	TimeRange          = declare[string]("timeRange", nil)
	StartTime          = declare("startTime", coerceTime)
	EndTime            = declare("endTime", coerceTime)
	CurrentObservation = declare[*api.Observation]("currentObservation", nil)
)

type decl struct {
	typeName string
	coerce   func(any) (any, error)
}

var (
	schemaMu sync.RWMutex
	schema   = map[string]decl{}
)

func declare[T any](name string, convert func(any) (T, bool)) Key[T] {
	var zero T
	typeName := fmt.Sprintf("%T", zero)
	if typeName == "<nil>" {
		typeName = fmt.Sprintf("%T", &zero)[1:]
	}
	d := decl{
		typeName: typeName,
		coerce: func(v any) (any, error) {
			if v == nil {
				return zero, nil
			}
			if tv, ok := v.(T); ok {
				return tv, nil
			}
			if convert != nil {
				if tv, ok := convert(v); ok {
					return tv, nil
				}
			}
			return nil, fmt.Errorf("cannot use %T as %s", v, typeName)
		},
	}
	schemaMu.Lock()
	schema[name] = d
	schemaMu.Unlock()
	return Key[T]{name: name}
}

func lookupDecl(name string) (decl, bool) {
	schemaMu.RLock()
	defer schemaMu.RUnlock()
	d, ok := schema[name]
	return d, ok
}

// Declared reports whether name is part of the dashboard schema.
func Declared(name string) bool {
	_, ok := lookupDecl(name)
	return ok
}

func coerceInt(v any) (int, bool) {
	switch n := v.(type) {
	case int64:
		return int(n), true
	case int32:
		return int(n), true
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) || math.IsNaN(n) {
			return 0, false
		}
		return int(n), true
	case string:
		i, err := strconv.Atoi(n)
		return i, err == nil
	}
	return 0, false
}

func coerceUnits(v any) (UnitSystem, bool) {
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	u := UnitSystem(s)
	return u, u.Valid()
}

func coerceRangeType(v any) (RangeType, bool) {
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	r := RangeType(s)
	return r, r == Preset || r == Custom
}

func coerceTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case string:
		parsed, err := time.Parse(time.RFC3339, t)
		return parsed, err == nil
	case float64:
		return time.UnixMilli(int64(t)).UTC(), true
	case int64:
		return time.UnixMilli(t).UTC(), true
	}
	return time.Time{}, false
}
