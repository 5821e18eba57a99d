// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package interfaces defines abstract interfaces for core system components.
// This package promotes loose coupling and testability by allowing
// dependency injection and easy mocking in tests.
package interfaces

import (
	"context"
	"net/http"
	"time"
)

// CachedResponse is a stored request→response pair.
type CachedResponse struct {
	Key        string      `json:"key"`
	Method     string      `json:"method"`
	URL        string      `json:"url"`
	Status     int         `json:"status"`
	StatusText string      `json:"status_text"`
	Header     http.Header `json:"header"`
	Body       []byte      `json:"body"`
	StoredAt   time.Time   `json:"stored_at"`
}

// CachePartition is one named cache of request→response pairs.
type CachePartition interface {
	// Name returns the partition name
	Name() string

	// Match returns the stored response for key, if any
	Match(key string) (*CachedResponse, bool, error)

	// Put stores or overwrites the response for key
	Put(key string, resp *CachedResponse) error

	// PutAll stores every entry or none of them
	PutAll(entries []*CachedResponse) error
}

// CacheStorage enumerates and manages named cache partitions.
type CacheStorage interface {
	// Open returns the named partition, creating it if it does not exist
	Open(name string) (CachePartition, error)

	// Partitions lists the names of all existing partitions
	Partitions() ([]string, error)

	// Delete removes a partition and all of its entries
	Delete(name string) (bool, error)
}

// PreferenceStore persists small client settings across restarts.
type PreferenceStore interface {
	// Get returns the stored value for key and whether it exists
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores value under key
	Set(ctx context.Context, key, value string) error

	// Delete removes key
	Delete(ctx context.Context, key string) error
}
