// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package charts

import (
	"strconv"
	"time"
)

// UnitLabels are the axis suffixes for a unit system.
type UnitLabels struct {
	Temp     string
	Wind     string
	Pressure string
	Rain     string
}

// LabelsFor returns the unit labels for "metric" or "imperial".
func LabelsFor(units string) UnitLabels {
	if units == "imperial" {
		return UnitLabels{Temp: "°F", Wind: "mph", Pressure: "inHg", Rain: "in"}
	}
	return UnitLabels{Temp: "°C", Wind: "m/s", Pressure: "hPa", Rain: "mm"}
}

// FormatTemp formats a temperature with one decimal and the unit suffix.
// A nil value formats as "--".
func FormatTemp(v *float64, units string) string {
	if v == nil {
		return "--"
	}
	return strconv.FormatFloat(*v, 'f', 1, 64) + LabelsFor(units).Temp
}

// FormatValue formats v with the given number of decimals, or "--" for nil.
func FormatValue(v *float64, decimals int) string {
	if v == nil {
		return "--"
	}
	return strconv.FormatFloat(*v, 'f', decimals, 64)
}

// FormatTimestamp formats t in local time, or "--" for the zero time.
func FormatTimestamp(t time.Time) string {
	if t.IsZero() {
		return "--"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

// UVLevel names the UV index band.
func UVLevel(index float64) string {
	switch {
	case index <= 2:
		return "Low"
	case index <= 5:
		return "Moderate"
	case index <= 7:
		return "High"
	case index <= 10:
		return "Very High"
	default:
		return "Extreme"
	}
}
