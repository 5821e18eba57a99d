// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package api

import (
	"strconv"
	"time"
)

// HealthStatus is the response of GET /health.
type HealthStatus struct {
	Status   string          `json:"status"`
	Version  string          `json:"version"`
	Uptime   string          `json:"uptime"`
	Stations []StationHealth `json:"stations"`
	Database *DatabaseHealth `json:"database,omitempty"`
}

// StationHealth describes one station's ingest state as seen by the server.
type StationHealth struct {
	StationID             int     `json:"station_id"`
	Name                  string  `json:"name"`
	Websocket             string  `json:"websocket"`
	LastObservation       string  `json:"last_observation"`
	ObservationAgeSeconds float64 `json:"observation_age_seconds"`
	DataRangeOldest       string  `json:"data_range_oldest"`
	DataRangeNewest       string  `json:"data_range_newest"`
}

// DatabaseHealth describes the server's backing store.
type DatabaseHealth struct {
	Driver            string `json:"driver"`
	Status            string `json:"status"`
	TotalObservations int64  `json:"total_observations"`
}

// Station is a weather station known to the server.
type Station struct {
	StationID       int     `json:"station_id"`
	DeviceID        int     `json:"device_id"`
	Name            string  `json:"name"`
	Latitude        float64 `json:"latitude"`
	Longitude       float64 `json:"longitude"`
	Elevation       float64 `json:"elevation"`
	Status          string  `json:"status,omitempty"`
	LastObservation string  `json:"last_observation,omitempty"`
	CreatedAt       string  `json:"created_at,omitempty"`
	UpdatedAt       string  `json:"updated_at,omitempty"`
}

// DisplayName returns the station name, or a generated label when unnamed.
func (s Station) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	return "Station " + strconv.Itoa(s.StationID)
}

// Observation is a single reading. Measurements are pointers because the
// server reports missing sensor values as null.
type Observation struct {
	Timestamp             time.Time `json:"timestamp"`
	StationID             int       `json:"station_id"`
	WindLull              *float64  `json:"wind_lull"`
	WindAvg               *float64  `json:"wind_avg"`
	WindGust              *float64  `json:"wind_gust"`
	WindDirection         *float64  `json:"wind_direction"`
	WindDirectionCardinal string    `json:"wind_direction_cardinal,omitempty"`
	StationPressure       *float64  `json:"station_pressure"`
	AirTemperature        *float64  `json:"air_temperature"`
	RelativeHumidity      *float64  `json:"relative_humidity"`
	UVIndex               *float64  `json:"uv_index"`
	SolarRadiation        *float64  `json:"solar_radiation"`
	RainAccumulation      *float64  `json:"rain_accumulation"`
	PrecipitationType     int       `json:"precipitation_type"`
	LightningAvgDistance  *float64  `json:"lightning_avg_distance"`
	LightningStrikeCount  int       `json:"lightning_strike_count"`
	Battery               *float64  `json:"battery"`
	FeelsLike             *float64  `json:"feels_like"`
	DewPoint              *float64  `json:"dew_point"`
	Units                 string    `json:"units,omitempty"`
}

// ObservationSeries is a page of historical observations.
type ObservationSeries struct {
	StationID    int           `json:"station_id"`
	Start        string        `json:"start"`
	End          string        `json:"end"`
	Resolution   string        `json:"resolution"`
	Units        string        `json:"units"`
	Total        int           `json:"total"`
	Limit        int           `json:"limit"`
	Offset       int           `json:"offset"`
	Observations []Observation `json:"observations"`
}

// ObservationOptions tunes a historical series request. Zero values are
// omitted from the query; an empty Resolution is chosen from the span.
type ObservationOptions struct {
	Units      string
	Resolution string
	Limit      int
	Offset     int
}

// HighLowAvg summarises one measurement over a day.
type HighLowAvg struct {
	High *float64 `json:"high,omitempty"`
	Low  *float64 `json:"low,omitempty"`
	Avg  *float64 `json:"avg,omitempty"`
}

// WindSummary summarises wind over a day.
type WindSummary struct {
	Max *float64 `json:"max,omitempty"`
	Avg *float64 `json:"avg,omitempty"`
}

// DailySummary is the response of GET /stations/{id}/summary.
type DailySummary struct {
	StationID         int         `json:"station_id"`
	Date              string      `json:"date"`
	Units             string      `json:"units"`
	Temperature       HighLowAvg  `json:"temperature"`
	Humidity          HighLowAvg  `json:"humidity"`
	Wind              WindSummary `json:"wind"`
	Pressure          HighLowAvg  `json:"pressure"`
	RainTotal         *float64    `json:"rain_total"`
	UVMax             *float64    `json:"uv_max"`
	SolarRadiationMax *float64    `json:"solar_radiation_max"`
	LightningTotal    int         `json:"lightning_total"`
	ObservationCount  int         `json:"observation_count"`
}

// ObservationRange is the response of GET /stations/{id}/range.
type ObservationRange struct {
	StationID         int       `json:"station_id"`
	Oldest            time.Time `json:"oldest"`
	Newest            time.Time `json:"newest"`
	TotalObservations int64     `json:"total_observations"`
}
