// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package charts

import (
	"time"

	"github.com/soothill/tempest-dashboard/api"
)

// Point is one sample on a time axis. A nil Y is a gap.
type Point struct {
	X time.Time `json:"x"`
	Y *float64  `json:"y"`
}

// Dataset is one line on a chart.
type Dataset struct {
	Label           string  `json:"label"`
	Data            []Point `json:"data"`
	BorderColor     string  `json:"borderColor"`
	BackgroundColor string  `json:"backgroundColor"`
	Fill            bool    `json:"fill"`
	YAxisID         string  `json:"yAxisID,omitempty"`
}

// MakeDataset builds a line dataset with a translucent fill color.
func MakeDataset(label string, data []Point, color string) Dataset {
	return Dataset{
		Label:           label,
		Data:            data,
		BorderColor:     color,
		BackgroundColor: color + "20",
		Fill:            false,
	}
}

// BaseOptions returns the shared line-chart options: time x-axis, themed
// grid and ticks, tooltip colors and wheel/pinch zoom on x.
func BaseOptions(yTitle string, ui UIColors) map[string]any {
	return map[string]any{
		"responsive":          true,
		"maintainAspectRatio": false,
		"animation":           false,
		"interaction": map[string]any{
			"mode":      "index",
			"intersect": false,
		},
		"scales": map[string]any{
			"x": map[string]any{
				"type": "time",
				"time": map[string]any{
					"displayFormats": map[string]any{
						"minute": "HH:mm",
						"hour":   "HH:mm",
						"day":    "MMM d",
					},
				},
				"grid":  map[string]any{"color": ui.GridColor},
				"ticks": map[string]any{"color": ui.TextMuted},
			},
			"y": map[string]any{
				"title": map[string]any{
					"display": yTitle != "",
					"text":    yTitle,
					"color":   ui.TextSecondary,
				},
				"grid":  map[string]any{"color": ui.GridColor},
				"ticks": map[string]any{"color": ui.TextMuted},
			},
		},
		"plugins": map[string]any{
			"legend": map[string]any{
				"labels": map[string]any{"color": ui.TextSecondary},
			},
			"tooltip": map[string]any{
				"backgroundColor": ui.TooltipBg,
				"titleColor":      ui.TooltipTitle,
				"bodyColor":       ui.TooltipBody,
				"borderColor":     ui.TooltipBorder,
				"borderWidth":     1,
			},
			"zoom": map[string]any{
				"zoom": map[string]any{
					"wheel": map[string]any{"enabled": true},
					"pinch": map[string]any{"enabled": true},
					"mode":  "x",
				},
				"pan": map[string]any{"enabled": true, "mode": "x"},
			},
		},
	}
}

// Chart is a named chart with its datasets and options.
type Chart struct {
	Name     string         `json:"name"`
	Datasets []Dataset      `json:"datasets"`
	Options  map[string]any `json:"options"`
}

// Chart names produced by BuildCharts, in display order.
const (
	ChartTemperature = "temperature"
	ChartHumidity    = "humidity"
	ChartWind        = "wind"
	ChartPressure    = "pressure"
	ChartRain        = "rain"
	ChartSolar       = "solar"
)

// BuildCharts turns an observation series into the core dashboard charts.
func BuildCharts(obs []api.Observation, palette Palette, units string) []Chart {
	labels := LabelsFor(units)
	series := func(pick func(api.Observation) *float64) []Point {
		points := make([]Point, len(obs))
		for i, o := range obs {
			points[i] = Point{X: o.Timestamp, Y: pick(o)}
		}
		return points
	}
	c := palette.Chart

	return []Chart{
		{
			Name: ChartTemperature,
			Datasets: []Dataset{
				MakeDataset("Temperature", series(func(o api.Observation) *float64 { return o.AirTemperature }), c.Temperature),
				MakeDataset("Feels Like", series(func(o api.Observation) *float64 { return o.FeelsLike }), c.FeelsLike),
				MakeDataset("Dew Point", series(func(o api.Observation) *float64 { return o.DewPoint }), c.DewPoint),
			},
			Options: BaseOptions(labels.Temp, palette.UI),
		},
		{
			Name: ChartHumidity,
			Datasets: []Dataset{
				MakeDataset("Humidity", series(func(o api.Observation) *float64 { return o.RelativeHumidity }), c.Humidity),
			},
			Options: BaseOptions("%", palette.UI),
		},
		{
			Name: ChartWind,
			Datasets: []Dataset{
				MakeDataset("Average", series(func(o api.Observation) *float64 { return o.WindAvg }), c.WindAvg),
				MakeDataset("Gust", series(func(o api.Observation) *float64 { return o.WindGust }), c.WindGust),
				MakeDataset("Lull", series(func(o api.Observation) *float64 { return o.WindLull }), c.WindLull),
			},
			Options: BaseOptions(labels.Wind, palette.UI),
		},
		{
			Name: ChartPressure,
			Datasets: []Dataset{
				MakeDataset("Pressure", series(func(o api.Observation) *float64 { return o.StationPressure }), c.Pressure),
			},
			Options: BaseOptions(labels.Pressure, palette.UI),
		},
		{
			Name: ChartRain,
			Datasets: []Dataset{
				MakeDataset("Rain", series(func(o api.Observation) *float64 { return o.RainAccumulation }), c.Rain),
			},
			Options: BaseOptions(labels.Rain, palette.UI),
		},
		{
			Name: ChartSolar,
			Datasets: []Dataset{
				MakeDataset("Solar Radiation", series(func(o api.Observation) *float64 { return o.SolarRadiation }), c.Solar),
				MakeDataset("UV Index", series(func(o api.Observation) *float64 { return o.UVIndex }), c.UV),
			},
			Options: BaseOptions("W/m²", palette.UI),
		},
	}
}
