// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package charts

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soothill/tempest-dashboard/api"
)

func ptr(v float64) *float64 { return &v }

func TestFormatTemp(t *testing.T) {
	tests := []struct {
		name  string
		value *float64
		units string
		want  string
	}{
		{"nil", nil, "metric", "--"},
		{"metric", ptr(21.44), "metric", "21.4°C"},
		{"imperial", ptr(70.56), "imperial", "70.6°F"},
		{"negative", ptr(-3), "metric", "-3.0°C"},
		{"unknown units fall back to metric", ptr(1), "kelvin", "1.0°C"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatTemp(tt.value, tt.units))
		})
	}
}

func TestFormatTimestamp(t *testing.T) {
	assert.Equal(t, "--", FormatTimestamp(time.Time{}))
	ts := time.Date(2025, 3, 4, 5, 6, 7, 0, time.Local)
	assert.Equal(t, "2025-03-04 05:06:07", FormatTimestamp(ts))
}

func TestUVLevel(t *testing.T) {
	assert.Equal(t, "Low", UVLevel(2))
	assert.Equal(t, "Moderate", UVLevel(3))
	assert.Equal(t, "High", UVLevel(7))
	assert.Equal(t, "Very High", UVLevel(10))
	assert.Equal(t, "Extreme", UVLevel(11))
}

func TestMakeDataset(t *testing.T) {
	ds := MakeDataset("Temp", nil, "#ef4444")
	assert.Equal(t, "#ef4444", ds.BorderColor)
	assert.Equal(t, "#ef444420", ds.BackgroundColor)
	assert.False(t, ds.Fill)
}

func TestBaseOptionsUsesUIColors(t *testing.T) {
	ui := DefaultPalette().UI
	opts := BaseOptions("°C", ui)

	scales := opts["scales"].(map[string]any)
	y := scales["y"].(map[string]any)
	title := y["title"].(map[string]any)
	assert.Equal(t, "°C", title["text"])
	assert.Equal(t, ui.GridColor, y["grid"].(map[string]any)["color"])

	tooltip := opts["plugins"].(map[string]any)["tooltip"].(map[string]any)
	assert.Equal(t, ui.TooltipBg, tooltip["backgroundColor"])
}

func TestPaletteMergeKeepsDefaultsForEmptyFields(t *testing.T) {
	theme := Palette{Chart: ChartColors{Temperature: "#000000"}}
	merged := DefaultPalette().Merge(theme)

	assert.Equal(t, "#000000", merged.Chart.Temperature)
	assert.Equal(t, DefaultPalette().Chart.Humidity, merged.Chart.Humidity)
	assert.Equal(t, DefaultPalette().UI, merged.UI)
}

func TestColorMaps(t *testing.T) {
	m := DefaultPalette().Chart.Map()
	assert.Equal(t, "#ef4444", m["temperature"])
	assert.Len(t, m, 11)

	ui := DefaultPalette().UI.Map()
	assert.Equal(t, "#334155", ui["gridColor"])
}

func TestLoadTheme(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/theme.json" {
			_, _ = w.Write([]byte(`{"chart":{"rain":"#123456"},"ui":{"textPrimary":"#ffffff"}}`))
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	palette, err := LoadTheme(context.Background(), srv.Client(), srv.URL+"/theme.json")
	require.NoError(t, err)
	assert.Equal(t, "#123456", palette.Chart.Rain)
	assert.Equal(t, "#ffffff", palette.UI.TextPrimary)
	assert.Equal(t, DefaultPalette().Chart.Solar, palette.Chart.Solar)

	palette, err = LoadTheme(context.Background(), srv.Client(), srv.URL+"/missing.json")
	assert.Error(t, err)
	assert.Equal(t, DefaultPalette(), palette)

	palette, err = LoadTheme(context.Background(), srv.Client(), "")
	require.NoError(t, err)
	assert.Equal(t, DefaultPalette(), palette)
}

func TestProvider(t *testing.T) {
	p := NewProvider()
	assert.Equal(t, DefaultPalette(), p.Palette())

	custom := DefaultPalette()
	custom.Chart.UV = "#abcdef"
	p.SetPalette(custom)
	assert.Equal(t, "#abcdef", p.Palette().Chart.UV)
}

func TestBuildCharts(t *testing.T) {
	now := time.Now()
	obs := []api.Observation{
		{Timestamp: now.Add(-time.Minute), AirTemperature: ptr(20), RelativeHumidity: ptr(50)},
		{Timestamp: now, AirTemperature: ptr(21)},
	}
	charts := BuildCharts(obs, DefaultPalette(), "imperial")
	require.Len(t, charts, 6)
	assert.Equal(t, ChartTemperature, charts[0].Name)

	temp := charts[0].Datasets[0]
	require.Len(t, temp.Data, 2)
	assert.Equal(t, 21.0, *temp.Data[1].Y)

	humidity := charts[1].Datasets[0]
	assert.Nil(t, humidity.Data[1].Y)

	title := charts[0].Options["scales"].(map[string]any)["y"].(map[string]any)["title"].(map[string]any)
	assert.Equal(t, "°F", title["text"])
}
