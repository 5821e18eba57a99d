// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package errors provides structured error types for the Tempest dashboard client.
//
// The types follow the dashboard's error taxonomy:
//
//   - Connectivity: APIError (server answered non-2xx) and NetworkError
//     (server unreachable). Both drive the status indicator.
//   - Input validation: ValidationError for server URLs, custom date ranges
//     and control requests. Rejected input never mutates state.
//   - Plugin: PluginError carries the plugin name and lifecycle phase.
//   - Cache layer: CacheError for partition storage operations.
//   - Configuration: ConfigError.
//
// # Example Usage
//
//	obs, err := client.GetCurrentObservation(ctx, stationID, "metric")
//	var apiErr *errors.APIError
//	if errors.As(err, &apiErr) {
//	    log.Printf("server said: %s", apiErr.Message)
//	}
package errors

import (
	"errors"
	"fmt"
)

// APIError is returned when the telemetry server answers with a non-2xx status.
// Message is the server's `error` field, surfaced verbatim.
type APIError struct {
	Status  int
	Path    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("HTTP %d", e.Status)
}

// NewAPIError creates a new API error.
func NewAPIError(status int, path, message string) *APIError {
	return &APIError{Status: status, Path: path, Message: message}
}

// IsAPIError checks if an error is an APIError.
func IsAPIError(err error) bool {
	var ae *APIError
	return errors.As(err, &ae)
}

// NetworkError represents a transport-level failure talking to a server.
type NetworkError struct {
	Op   string // Operation being performed (e.g., "GET /stations", "mDNS browse")
	Addr string // Network address or URL (if applicable)
	Err  error  // Underlying error
}

func (e *NetworkError) Error() string {
	if e.Addr != "" {
		return fmt.Sprintf("network %s (%s): %v", e.Op, e.Addr, e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("network %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("network %s failed", e.Op)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// NewNetworkError creates a new network error.
func NewNetworkError(op string, addr string, err error) *NetworkError {
	return &NetworkError{Op: op, Addr: addr, Err: err}
}

// IsNetworkError checks if an error is a NetworkError.
func IsNetworkError(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

// ValidationError represents rejected user or control input.
type ValidationError struct {
	Field   string // Field that failed validation
	Value   any    // Invalid value
	Reason  string // Why validation failed
	Details error  // Additional details (optional)
}

func (e *ValidationError) Error() string {
	if e.Details != nil {
		return fmt.Sprintf("validation error: field %q with value %v: %s (%v)", e.Field, e.Value, e.Reason, e.Details)
	}
	return fmt.Sprintf("validation error: field %q with value %v: %s", e.Field, e.Value, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return e.Details
}

// NewValidationError creates a new validation error.
func NewValidationError(field string, value any, reason string) *ValidationError {
	return &ValidationError{Field: field, Value: value, Reason: reason}
}

// WrapValidationError creates a validation error carrying an underlying cause.
func WrapValidationError(field string, value any, reason string, details error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Reason: reason, Details: details}
}

// IsValidationError checks if an error is a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// PluginError represents a failure inside one plugin's lifecycle phase.
type PluginError struct {
	Plugin string // Plugin name from the manifest
	Phase  string // load, init, render, create_charts, refresh, destroy
	Err    error  // Underlying error or recovered panic
}

func (e *PluginError) Error() string {
	return fmt.Sprintf("plugin %q %s: %v", e.Plugin, e.Phase, e.Err)
}

func (e *PluginError) Unwrap() error {
	return e.Err
}

// NewPluginError creates a new plugin error.
func NewPluginError(plugin, phase string, err error) *PluginError {
	return &PluginError{Plugin: plugin, Phase: phase, Err: err}
}

// IsPluginError checks if an error is a PluginError.
func IsPluginError(err error) bool {
	var pe *PluginError
	return errors.As(err, &pe)
}

// CacheError represents an error in a cache partition operation.
type CacheError struct {
	Op        string // Operation being performed (e.g., "put", "match", "delete")
	Partition string // Partition name
	Err       error  // Underlying error
}

func (e *CacheError) Error() string {
	if e.Partition != "" {
		return fmt.Sprintf("cache %s (partition=%s): %v", e.Op, e.Partition, e.Err)
	}
	return fmt.Sprintf("cache %s: %v", e.Op, e.Err)
}

func (e *CacheError) Unwrap() error {
	return e.Err
}

// NewCacheError creates a new cache error.
func NewCacheError(op, partition string, err error) *CacheError {
	return &CacheError{Op: op, Partition: partition, Err: err}
}

// IsCacheError checks if an error is a CacheError.
func IsCacheError(err error) bool {
	var ce *CacheError
	return errors.As(err, &ce)
}

// ConfigError represents a configuration error.
type ConfigError struct {
	Field string // Configuration field that caused the error
	Value string // Invalid value (optional, may be redacted for sensitive fields)
	Err   error  // Underlying error or description
}

func (e *ConfigError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("config error in field %q (value=%q): %v", e.Field, e.Value, e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("config error in field %q: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("config error in field %q", e.Field)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// NewConfigError creates a new configuration error.
func NewConfigError(field string, value string, err error) *ConfigError {
	return &ConfigError{Field: field, Value: value, Err: err}
}

// IsConfigError checks if an error is a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// Sentinel errors for common conditions
var (
	// ErrOffline indicates no server and no cached copy could answer
	ErrOffline = errors.New("offline")

	// ErrInvalidServerURL indicates a server URL that cannot be parsed into an origin
	ErrInvalidServerURL = errors.New("invalid server URL")

	// ErrInvalidRange indicates a rejected custom time range
	ErrInvalidRange = errors.New("invalid time range")

	// ErrTypeMismatch indicates a store write whose value does not fit the key's type
	ErrTypeMismatch = errors.New("value type does not match key")

	// ErrNoStation indicates no station is selected
	ErrNoStation = errors.New("no station selected")
)
