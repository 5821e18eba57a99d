// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package app

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/soothill/tempest-dashboard/monitoring"
	apperrors "github.com/soothill/tempest-dashboard/pkg/errors"
	"github.com/soothill/tempest-dashboard/pkg/logger"
	"github.com/soothill/tempest-dashboard/plugins"
	"github.com/soothill/tempest-dashboard/render"
)

const maxRequestBody = 64 * 1024

var validate = validator.New(validator.WithRequiredStructEnabled())

type visibilityRequest struct {
	Hidden *bool `json:"hidden" validate:"required"`
}

type stationRequest struct {
	StationID int `json:"station_id" validate:"required,gt=0"`
}

type unitsRequest struct {
	Units string `json:"units" validate:"required,oneof=metric imperial"`
}

// rangeRequest selects either a preset or a custom window.
type rangeRequest struct {
	Range string     `json:"range" validate:"omitempty,excluded_with=Start"`
	Start *time.Time `json:"start" validate:"required_without=Range"`
	End   *time.Time `json:"end" validate:"required_with=Start"`
}

type serverRequest struct {
	URL string `json:"url" validate:"required,url"`
}

// StatusResponse is served by GET /status.
type StatusResponse struct {
	Refresh  monitoring.Snapshot `json:"refresh"`
	View     render.View         `json:"view"`
	Sections []plugins.Section   `json:"sections"`
	Cache    string              `json:"cache_version"`
	Ready    bool                `json:"ready"`
}

// Handler returns the admin router: metrics, health probes and the
// dashboard controls.
func (a *App) Handler() http.Handler {
	r := mux.NewRouter()

	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	healthLimit := rateLimitMiddleware(rate.NewLimiter(10, 20))
	readyLimit := rateLimitMiddleware(rate.NewLimiter(10, 20))
	r.Handle("/health", healthLimit(http.HandlerFunc(healthCheckHandler))).Methods(http.MethodGet)
	r.Handle("/ready", readyLimit(http.HandlerFunc(a.readinessCheckHandler))).Methods(http.MethodGet)

	r.HandleFunc("/status", a.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/visibility", a.handleVisibility).Methods(http.MethodPost)
	r.HandleFunc("/station", a.handleStation).Methods(http.MethodPost)
	r.HandleFunc("/units", a.handleUnits).Methods(http.MethodPost)
	r.HandleFunc("/range", a.handleRange).Methods(http.MethodPost)
	r.HandleFunc("/server", a.handleServer).Methods(http.MethodPost)
	r.HandleFunc("/plugins", a.handlePlugins).Methods(http.MethodGet)
	r.HandleFunc("/plugins/{name}/toggle", a.handleToggle).Methods(http.MethodPost)

	return r
}

// rateLimitMiddleware returns 429 once the token bucket is exhausted.
func rateLimitMiddleware(limiter *rate.Limiter) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				logger.Warn().
					Str("remote_addr", r.RemoteAddr).
					Str("path", r.URL.Path).
					Msg("Rate limit exceeded")
				writeError(w, http.StatusTooManyRequests, "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// healthCheckHandler reports liveness
func healthCheckHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// readinessCheckHandler reports whether the last bootstrap reached the server
func (a *App) readinessCheckHandler(w http.ResponseWriter, _ *http.Request) {
	status, label := a.orch.Status()
	if !a.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"server": a.client.BaseURL(),
			"reason": label,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":     "ready",
		"server":     a.client.BaseURL(),
		"connection": status,
	})
}

func (a *App) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Refresh:  a.orch.Snapshot(),
		View:     a.dashboard.View(r.URL.Query().Get("charts") == "1"),
		Sections: []plugins.Section{},
		Cache:    a.worker.Version(),
		Ready:    a.Ready(),
	}
	if a.plugins != nil {
		resp.Sections = a.plugins.Sections()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *App) handleVisibility(w http.ResponseWriter, r *http.Request) {
	var req visibilityRequest
	if !decode(w, r, &req) {
		return
	}
	a.orch.SetVisibility(a.ctx, *req.Hidden)
	writeJSON(w, http.StatusOK, map[string]bool{"hidden": *req.Hidden})
}

func (a *App) handleStation(w http.ResponseWriter, r *http.Request) {
	var req stationRequest
	if !decode(w, r, &req) {
		return
	}
	if err := a.controls.SelectStation(req.StationID); err != nil {
		writeControlError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"station_id": req.StationID})
}

func (a *App) handleUnits(w http.ResponseWriter, r *http.Request) {
	var req unitsRequest
	if !decode(w, r, &req) {
		return
	}
	if err := a.controls.SwitchUnits(r.Context(), req.Units); err != nil {
		writeControlError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"units": req.Units})
}

func (a *App) handleRange(w http.ResponseWriter, r *http.Request) {
	var req rangeRequest
	if !decode(w, r, &req) {
		return
	}

	var err error
	if req.Range != "" {
		err = a.controls.SelectPreset(req.Range)
	} else {
		err = a.controls.ApplyCustomRange(*req.Start, *req.End)
	}
	if err != nil {
		writeControlError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a.store.Snapshot())
}

func (a *App) handleServer(w http.ResponseWriter, r *http.Request) {
	var req serverRequest
	if !decode(w, r, &req) {
		return
	}

	origin, err := a.ChangeServer(r.Context(), req.URL)
	if origin == "" {
		writeControlError(w, err)
		return
	}
	status, label := a.orch.Status()
	resp := map[string]string{"server": origin, "status": status, "label": label}
	if err != nil {
		resp["error"] = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *App) handlePlugins(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{"names": []string{}, "sections": []plugins.Section{}}
	if a.plugins != nil {
		resp["names"] = a.plugins.Names()
		resp["sections"] = a.plugins.Sections()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *App) handleToggle(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if a.plugins == nil {
		writeError(w, http.StatusNotFound, "plugins are disabled")
		return
	}
	collapsed, err := a.plugins.Toggle(name)
	if errors.Is(err, plugins.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"name": name, "collapsed": collapsed})
}

// decode reads a JSON body into v and validates it. It writes a 400 and
// returns false on failure.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	if err := validate.Struct(v); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func writeControlError(w http.ResponseWriter, err error) {
	if apperrors.IsValidationError(err) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

// writeJSON writes v as a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug().Err(err).Msg("Failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
