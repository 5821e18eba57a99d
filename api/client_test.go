// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/soothill/tempest-dashboard/pkg/errors"
)

func TestGetObservations_CustomRangeDefaultsResolution(t *testing.T) {
	var got url.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/stations/99999/observations", r.URL.Path)
		got = r.URL.Query()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"station_id":99999,"resolution":"5m","observations":[{"timestamp":"2024-01-01T00:05:00Z","air_temperature":22.5}]}`))
	}))
	defer server.Close()

	c := NewClient(server.URL)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	series, err := c.GetObservations(context.Background(), 99999, start, end, ObservationOptions{})
	require.NoError(t, err)

	assert.Equal(t, "5m", got.Get("resolution"))
	assert.Equal(t, "metric", got.Get("units"))
	assert.Equal(t, "2024-01-01T00:00:00Z", got.Get("start"))
	assert.Equal(t, "2024-01-02T00:00:00Z", got.Get("end"))
	assert.Empty(t, got.Get("limit"))
	require.Len(t, series.Observations, 1)
	require.NotNil(t, series.Observations[0].AirTemperature)
	assert.InDelta(t, 22.5, *series.Observations[0].AirTemperature, 0.001)
	assert.Nil(t, series.Observations[0].FeelsLike)
}

func TestGetObservations_ExplicitResolutionOverrides(t *testing.T) {
	var got url.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.URL.Query()
		_, _ = w.Write([]byte(`{"observations":[]}`))
	}))
	defer server.Close()

	c := NewClient(server.URL)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := c.GetObservations(context.Background(), 1, start, start.Add(24*time.Hour),
		ObservationOptions{Units: "imperial", Resolution: "1h", Limit: 500, Offset: 100})
	require.NoError(t, err)

	assert.Equal(t, "1h", got.Get("resolution"))
	assert.Equal(t, "imperial", got.Get("units"))
	assert.Equal(t, "500", got.Get("limit"))
	assert.Equal(t, "100", got.Get("offset"))
}

func TestAPIErrorSurfacedVerbatim(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"server message", http.StatusNotFound, `{"error":"station not found","code":404}`, "station not found"},
		{"no error field", http.StatusInternalServerError, `{}`, "HTTP 500"},
		{"empty error field", http.StatusBadGateway, `{"error":""}`, "HTTP 502"},
		{"non-json body", http.StatusServiceUnavailable, `Offline`, "Service Unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := NewClient(server.URL).GetStation(context.Background(), 12345)
			require.Error(t, err)
			assert.Equal(t, tt.want, err.Error())

			var apiErr *apperrors.APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.status, apiErr.Status)
			assert.Equal(t, tt.want, apiErr.Message)
			assert.Equal(t, "/stations/12345", apiErr.Path)
		})
	}
}

func TestNetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	addr := server.URL
	server.Close()

	_, err := NewClient(addr).CheckHealth(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.IsNetworkError(err))
}

func TestInvalidBaseURL(t *testing.T) {
	_, err := NewClient("not a url").ListStations(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrInvalidServerURL)
}

func TestSetBaseURLAndPrefix(t *testing.T) {
	var path string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_, _ = w.Write([]byte(`[{"station_id":7,"name":""}]`))
	}))
	defer server.Close()

	c := NewClient("http://unused.invalid", WithPrefix("api/v2/"))
	c.SetBaseURL(server.URL + "/")
	assert.Equal(t, server.URL, c.BaseURL())

	stations, err := c.ListStations(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/api/v2/stations", path)
	require.Len(t, stations, 1)
	assert.Equal(t, "Station 7", stations[0].DisplayName())
}

func TestGetDailySummaryAndRange(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/stations/5/summary":
			assert.Equal(t, "2025-06-01", r.URL.Query().Get("date"))
			_, _ = w.Write([]byte(`{"station_id":5,"date":"2025-06-01","temperature":{"high":28.5,"low":12.3,"avg":20.4},"rain_total":2.5,"observation_count":1440}`))
		case "/api/v1/stations/5/range":
			_, _ = w.Write([]byte(`{"station_id":5,"oldest":"2025-01-01T00:00:00Z","newest":"2025-06-01T12:00:00Z","total_observations":1000}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	c := NewClient(server.URL)
	summary, err := c.GetDailySummary(context.Background(), 5, "2025-06-01", "")
	require.NoError(t, err)
	require.NotNil(t, summary.Temperature.High)
	assert.InDelta(t, 28.5, *summary.Temperature.High, 0.001)
	assert.Equal(t, 1440, summary.ObservationCount)

	rng, err := c.GetObservationRange(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), rng.TotalObservations)
	assert.Equal(t, 2025, rng.Oldest.Year())
}
