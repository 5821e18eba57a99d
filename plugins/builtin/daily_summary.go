// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package builtin holds plugins compiled into the dashboard. They are
// listed in the manifest as "builtin:<name>".
package builtin

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"time"

	"github.com/soothill/tempest-dashboard/api"
	"github.com/soothill/tempest-dashboard/charts"
	apperrors "github.com/soothill/tempest-dashboard/pkg/errors"
	"github.com/soothill/tempest-dashboard/plugins"
	"github.com/soothill/tempest-dashboard/state"
)

// DailySummaryName is the registry name of the daily summary plugin.
const DailySummaryName = "daily-summary"

var summaryTemplate = template.Must(template.New("summary").Parse(
	`<div class="daily-summary">` +
		`<p class="summary-date">{{.Date}}</p>` +
		`<table>` +
		`<tr><th>High</th><td>{{.High}}</td></tr>` +
		`<tr><th>Low</th><td>{{.Low}}</td></tr>` +
		`<tr><th>Rain</th><td>{{.Rain}}</td></tr>` +
		`<tr><th>Max gust</th><td>{{.Gust}}</td></tr>` +
		`<tr><th>Max UV</th><td>{{.UV}}</td></tr>` +
		`<tr><th>Observations</th><td>{{.Count}}</td></tr>` +
		`</table>` +
		`<p class="summary-range">Data from {{.Oldest}} to {{.Newest}}</p>` +
		`</div>`))

const summaryPlaceholder = `<div class="daily-summary">Loading summary…</div>`

type summaryView struct {
	Date   string
	High   string
	Low    string
	Rain   string
	Gust   string
	UV     string
	Count  int
	Oldest string
	Newest string
}

// dailySummary shows today's summary for the selected station. It talks
// to its own server when one is configured for it and to the dashboard's
// server otherwise.
type dailySummary struct {
	main *api.Client
	opts []api.Option
	now  func() time.Time
}

// NewDailySummary returns a factory for the daily summary plugin. opts
// configure the client built for a plugin-specific server.
func NewDailySummary(main *api.Client, opts ...api.Option) plugins.Factory {
	return func() *plugins.Plugin {
		d := &dailySummary{main: main, opts: opts, now: time.Now}
		return d.plugin()
	}
}

// Register adds every builtin plugin to reg.
func Register(reg *plugins.Registry, main *api.Client, opts ...api.Option) {
	reg.Register(DailySummaryName, NewDailySummary(main, opts...))
}

func (d *dailySummary) plugin() *plugins.Plugin {
	return &plugins.Plugin{
		Label: "Today's Summary",
		Render: func(context.Context) (string, error) {
			return summaryPlaceholder, nil
		},
		Refresh: d.refresh,
	}
}

func (d *dailySummary) client(ctx context.Context, caps *plugins.Capabilities) *api.Client {
	if origin := caps.ServerURL(ctx, caps.Plugin()); origin != "" {
		return api.NewClient(origin, d.opts...)
	}
	return d.main
}

func (d *dailySummary) refresh(ctx context.Context, caps *plugins.Capabilities) error {
	stationID, ok := state.Get(caps.Store, state.StationID)
	if !ok || stationID <= 0 {
		return apperrors.ErrNoStation
	}

	client := d.client(ctx, caps)
	units := caps.Units()
	date := d.now().Format(api.DateLayout)

	summary, err := client.GetDailySummary(ctx, stationID, date, units)
	if err != nil {
		return fmt.Errorf("daily summary: %w", err)
	}
	rng, err := client.GetObservationRange(ctx, stationID)
	if err != nil {
		return fmt.Errorf("observation range: %w", err)
	}

	labels := charts.LabelsFor(units)
	view := summaryView{
		Date:   summary.Date,
		High:   caps.FormatTemp(summary.Temperature.High, units),
		Low:    caps.FormatTemp(summary.Temperature.Low, units),
		Rain:   withUnit(charts.FormatValue(summary.RainTotal, 2), labels.Rain),
		Gust:   withUnit(charts.FormatValue(summary.Wind.Max, 1), labels.Wind),
		UV:     charts.FormatValue(summary.UVMax, 1),
		Count:  summary.ObservationCount,
		Oldest: caps.FormatTimestamp(rng.Oldest),
		Newest: caps.FormatTimestamp(rng.Newest),
	}

	var buf bytes.Buffer
	if err := summaryTemplate.Execute(&buf, view); err != nil {
		return fmt.Errorf("render summary: %w", err)
	}
	caps.UpdateSection(buf.String())
	return nil
}

func withUnit(v, unit string) string {
	if v == "--" {
		return v
	}
	return v + " " + unit
}
