// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package render

import (
	"strconv"
	"strings"

	"github.com/soothill/tempest-dashboard/api"
	"github.com/soothill/tempest-dashboard/charts"
)

// StatBox is one tile of the current-conditions grid.
type StatBox struct {
	Label     string `json:"label"`
	Value     string `json:"value"`
	Unit      string `json:"unit,omitempty"`
	Secondary string `json:"secondary,omitempty"`
	Loading   bool   `json:"loading,omitempty"`
}

var loadingLabels = []string{"Temperature", "Humidity", "Wind", "Pressure", "UV Index", "Rain"}

// LoadingStats returns the placeholder grid shown while data is refetched.
func LoadingStats() []StatBox {
	boxes := make([]StatBox, len(loadingLabels))
	for i, label := range loadingLabels {
		boxes[i] = StatBox{Label: label, Value: "--", Loading: true}
	}
	return boxes
}

// BuildStats lays out the current-conditions grid for obs. A nil
// observation yields a single empty temperature tile.
func BuildStats(obs *api.Observation, units string) []StatBox {
	labels := charts.LabelsFor(units)
	metric := units != "imperial"

	if obs == nil {
		return []StatBox{{Label: "Temperature", Value: "--", Unit: labels.Temp}}
	}

	pressureDecimals, rainDecimals := 1, 1
	distUnit := "km"
	if !metric {
		pressureDecimals, rainDecimals = 2, 2
		distUnit = "mi"
	}

	uv := 0.0
	if obs.UVIndex != nil {
		uv = *obs.UVIndex
	}

	boxes := []StatBox{
		{
			Label:     "Temperature",
			Value:     charts.FormatValue(obs.AirTemperature, 1),
			Unit:      labels.Temp,
			Secondary: "Feels like " + charts.FormatValue(obs.FeelsLike, 1) + labels.Temp,
		},
		{
			Label:     "Humidity",
			Value:     charts.FormatValue(obs.RelativeHumidity, 0),
			Unit:      "%",
			Secondary: "Dew point " + charts.FormatValue(obs.DewPoint, 1) + labels.Temp,
		},
		{
			Label:     "Wind",
			Value:     charts.FormatValue(obs.WindAvg, 1),
			Unit:      labels.Wind,
			Secondary: strings.TrimSpace("Gust " + charts.FormatValue(obs.WindGust, 1) + " " + labels.Wind + " " + obs.WindDirectionCardinal),
		},
		{
			Label: "Pressure",
			Value: charts.FormatValue(obs.StationPressure, pressureDecimals),
			Unit:  labels.Pressure,
		},
		{
			Label:     "UV Index",
			Value:     charts.FormatValue(obs.UVIndex, 0),
			Secondary: charts.UVLevel(uv),
		},
		{
			Label: "Rain",
			Value: charts.FormatValue(obs.RainAccumulation, rainDecimals),
			Unit:  labels.Rain,
		},
		{
			Label: "Solar Radiation",
			Value: charts.FormatValue(obs.SolarRadiation, 0),
			Unit:  "W/m²",
		},
	}

	if obs.LightningStrikeCount > 0 {
		boxes = append(boxes, StatBox{
			Label:     "Lightning",
			Value:     strconv.Itoa(obs.LightningStrikeCount),
			Unit:      "strikes",
			Secondary: "Avg distance " + charts.FormatValue(obs.LightningAvgDistance, 1) + " " + distUnit,
		})
	}
	return boxes
}
