// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package api is a client for the tempestd telemetry REST API.
//
// Every request is a GET under the configured API prefix (default /api/v1).
// Non-2xx responses carry a JSON body {"error": "..."} whose message is
// surfaced verbatim as an *errors.APIError. Transport failures become
// *errors.NetworkError. No retries are performed; the next poll cycle is
// the retry.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	apperrors "github.com/soothill/tempest-dashboard/pkg/errors"
	"github.com/soothill/tempest-dashboard/pkg/logger"
	"github.com/soothill/tempest-dashboard/pkg/metrics"
)

const (
	// DefaultPrefix is the path prefix of the telemetry API
	DefaultPrefix = "/api/v1"

	// DateLayout is the layout of the summary endpoint's date parameter
	DateLayout = "2006-01-02"

	defaultUnits = "metric"
)

// Client talks to one telemetry server. The base URL may be swapped at
// runtime with SetBaseURL; in-flight requests keep the URL they started with.
type Client struct {
	mu         sync.RWMutex
	baseURL    string
	prefix     string
	httpClient *http.Client
	log        zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for requests. The dashboard
// passes a client whose transport is the cache worker.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithPrefix overrides the API path prefix.
func WithPrefix(prefix string) Option {
	return func(c *Client) {
		if prefix != "" {
			c.prefix = "/" + strings.Trim(prefix, "/")
		}
	}
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		prefix:     DefaultPrefix,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        logger.Component("api"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the current server origin.
func (c *Client) BaseURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.baseURL
}

// SetBaseURL points subsequent requests at a different server.
func (c *Client) SetBaseURL(baseURL string) {
	c.mu.Lock()
	c.baseURL = strings.TrimRight(baseURL, "/")
	c.mu.Unlock()
}

// CheckHealth calls GET /health.
func (c *Client) CheckHealth(ctx context.Context) (*HealthStatus, error) {
	var out HealthStatus
	if err := c.getJSON(ctx, "health", "/health", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListStations calls GET /stations.
func (c *Client) ListStations(ctx context.Context) ([]Station, error) {
	var out []Station
	if err := c.getJSON(ctx, "stations", "/stations", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetStation calls GET /stations/{id}.
func (c *Client) GetStation(ctx context.Context, stationID int) (*Station, error) {
	var out Station
	if err := c.getJSON(ctx, "station", stationPath(stationID, ""), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetCurrentObservation calls GET /stations/{id}/current.
func (c *Client) GetCurrentObservation(ctx context.Context, stationID int, units string) (*Observation, error) {
	q := url.Values{}
	q.Set("units", unitsOrDefault(units))

	var out Observation
	if err := c.getJSON(ctx, "current", stationPath(stationID, "/current"), q, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetObservations calls GET /stations/{id}/observations for [start, end].
// When opts.Resolution is empty it is chosen by ResolutionForSpan.
func (c *Client) GetObservations(ctx context.Context, stationID int, start, end time.Time, opts ObservationOptions) (*ObservationSeries, error) {
	resolution := opts.Resolution
	if resolution == "" {
		resolution = ResolutionForSpan(end.Sub(start))
	}

	q := url.Values{}
	q.Set("start", start.UTC().Format(time.RFC3339))
	q.Set("end", end.UTC().Format(time.RFC3339))
	q.Set("resolution", resolution)
	q.Set("units", unitsOrDefault(opts.Units))
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		q.Set("offset", strconv.Itoa(opts.Offset))
	}

	var out ObservationSeries
	if err := c.getJSON(ctx, "observations", stationPath(stationID, "/observations"), q, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetDailySummary calls GET /stations/{id}/summary for a YYYY-MM-DD date.
func (c *Client) GetDailySummary(ctx context.Context, stationID int, date, units string) (*DailySummary, error) {
	q := url.Values{}
	if date != "" {
		q.Set("date", date)
	}
	q.Set("units", unitsOrDefault(units))

	var out DailySummary
	if err := c.getJSON(ctx, "summary", stationPath(stationID, "/summary"), q, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetObservationRange calls GET /stations/{id}/range.
func (c *Client) GetObservationRange(ctx context.Context, stationID int) (*ObservationRange, error) {
	var out ObservationRange
	if err := c.getJSON(ctx, "range", stationPath(stationID, "/range"), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint, path string, query url.Values, out any) error {
	start := time.Now()
	defer func() {
		metrics.APIRequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}()

	base, err := url.Parse(c.BaseURL())
	if err != nil || base.Scheme == "" || base.Host == "" {
		return apperrors.WrapValidationError("server", c.BaseURL(), "server URL must be absolute", apperrors.ErrInvalidServerURL)
	}
	u := base.ResolveReference(&url.URL{Path: c.prefix + path})
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.NewNetworkError("GET "+path, base.Host, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperrors.NewNetworkError("read "+path, base.Host, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := apperrors.NewAPIError(resp.StatusCode, path, errorMessage(resp.StatusCode, body))
		c.log.Debug().Int("status", resp.StatusCode).Str("path", path).Str("error", apiErr.Message).Msg("API request failed")
		return apiErr
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parse %s response: %w", endpoint, err)
	}
	return nil
}

// errorMessage extracts the server's error string. A body that is not JSON
// yields the status text; a missing or empty error field yields "HTTP <status>".
func errorMessage(status int, body []byte) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return http.StatusText(status)
	}
	if payload.Error == "" {
		return "HTTP " + strconv.Itoa(status)
	}
	return payload.Error
}

func stationPath(stationID int, suffix string) string {
	return "/stations/" + strconv.Itoa(stationID) + suffix
}

func unitsOrDefault(units string) string {
	if units == "" {
		return defaultUnits
	}
	return units
}
