// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package charts holds chart defaults, the color palette and value
// formatters shared by the renderer and plugins.
package charts

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/soothill/tempest-dashboard/pkg/logger"
)

// ChartColors are the series colors.
type ChartColors struct {
	Temperature string `json:"temperature"`
	FeelsLike   string `json:"feelsLike"`
	DewPoint    string `json:"dewPoint"`
	Humidity    string `json:"humidity"`
	WindAvg     string `json:"windAvg"`
	WindGust    string `json:"windGust"`
	WindLull    string `json:"windLull"`
	Pressure    string `json:"pressure"`
	Rain        string `json:"rain"`
	Solar       string `json:"solar"`
	UV          string `json:"uv"`
}

// UIColors are the colors of text, grid lines and tooltips.
type UIColors struct {
	TextPrimary   string `json:"textPrimary"`
	TextSecondary string `json:"textSecondary"`
	TextMuted     string `json:"textMuted"`
	GridColor     string `json:"gridColor"`
	BorderColor   string `json:"borderColor"`
	TooltipBg     string `json:"tooltipBg"`
	TooltipTitle  string `json:"tooltipTitle"`
	TooltipBody   string `json:"tooltipBody"`
	TooltipBorder string `json:"tooltipBorder"`
}

// Palette is the full set of colors. A theme document has the same shape.
type Palette struct {
	Chart ChartColors `json:"chart"`
	UI    UIColors    `json:"ui"`
}

// DefaultPalette returns the built-in dark palette.
func DefaultPalette() Palette {
	return Palette{
		Chart: ChartColors{
			Temperature: "#ef4444",
			FeelsLike:   "#f97316",
			DewPoint:    "#06b6d4",
			Humidity:    "#3b82f6",
			WindAvg:     "#22c55e",
			WindGust:    "#ef4444",
			WindLull:    "#86efac",
			Pressure:    "#a855f7",
			Rain:        "#3b82f6",
			Solar:       "#eab308",
			UV:          "#f97316",
		},
		UI: UIColors{
			TextPrimary:   "#e2e8f0",
			TextSecondary: "#94a3b8",
			TextMuted:     "#64748b",
			GridColor:     "#334155",
			BorderColor:   "#334155",
			TooltipBg:     "rgba(15, 23, 42, 0.9)",
			TooltipTitle:  "#e2e8f0",
			TooltipBody:   "#94a3b8",
			TooltipBorder: "rgba(51, 65, 85, 0.5)",
		},
	}
}

// Merge returns p with every non-empty color from theme applied.
func (p Palette) Merge(theme Palette) Palette {
	out := p
	over := func(dst *string, src string) {
		if src != "" {
			*dst = src
		}
	}
	over(&out.Chart.Temperature, theme.Chart.Temperature)
	over(&out.Chart.FeelsLike, theme.Chart.FeelsLike)
	over(&out.Chart.DewPoint, theme.Chart.DewPoint)
	over(&out.Chart.Humidity, theme.Chart.Humidity)
	over(&out.Chart.WindAvg, theme.Chart.WindAvg)
	over(&out.Chart.WindGust, theme.Chart.WindGust)
	over(&out.Chart.WindLull, theme.Chart.WindLull)
	over(&out.Chart.Pressure, theme.Chart.Pressure)
	over(&out.Chart.Rain, theme.Chart.Rain)
	over(&out.Chart.Solar, theme.Chart.Solar)
	over(&out.Chart.UV, theme.Chart.UV)
	over(&out.UI.TextPrimary, theme.UI.TextPrimary)
	over(&out.UI.TextSecondary, theme.UI.TextSecondary)
	over(&out.UI.TextMuted, theme.UI.TextMuted)
	over(&out.UI.GridColor, theme.UI.GridColor)
	over(&out.UI.BorderColor, theme.UI.BorderColor)
	over(&out.UI.TooltipBg, theme.UI.TooltipBg)
	over(&out.UI.TooltipTitle, theme.UI.TooltipTitle)
	over(&out.UI.TooltipBody, theme.UI.TooltipBody)
	over(&out.UI.TooltipBorder, theme.UI.TooltipBorder)
	return out
}

// Map flattens colors into a name→color map keyed by their JSON names.
func (c ChartColors) Map() map[string]string {
	return toMap(c)
}

// Map flattens colors into a name→color map keyed by their JSON names.
func (c UIColors) Map() map[string]string {
	return toMap(c)
}

func toMap(v any) map[string]string {
	data, _ := json.Marshal(v)
	out := map[string]string{}
	_ = json.Unmarshal(data, &out)
	return out
}

// Provider holds the current palette. Readers get snapshots.
type Provider struct {
	mu      sync.RWMutex
	palette Palette
}

// NewProvider starts from the default palette.
func NewProvider() *Provider {
	return &Provider{palette: DefaultPalette()}
}

// Palette returns the current palette.
func (p *Provider) Palette() Palette {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.palette
}

// SetPalette replaces the current palette.
func (p *Provider) SetPalette(palette Palette) {
	p.mu.Lock()
	p.palette = palette
	p.mu.Unlock()
}

// LoadTheme fetches a theme document and merges it over the defaults.
// An empty themeURL yields the defaults.
func LoadTheme(ctx context.Context, client *http.Client, themeURL string) (Palette, error) {
	if themeURL == "" {
		return DefaultPalette(), nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, themeURL, nil)
	if err != nil {
		return DefaultPalette(), fmt.Errorf("build theme request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return DefaultPalette(), fmt.Errorf("fetch theme: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return DefaultPalette(), fmt.Errorf("fetch theme: HTTP %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return DefaultPalette(), fmt.Errorf("read theme: %w", err)
	}

	var theme Palette
	if err := json.Unmarshal(body, &theme); err != nil {
		return DefaultPalette(), fmt.Errorf("parse theme: %w", err)
	}
	logger.Debug().Str("url", themeURL).Msg("Loaded custom theme")
	return DefaultPalette().Merge(theme), nil
}
