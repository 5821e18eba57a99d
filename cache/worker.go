// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package cache implements the request-interception cache layer.
//
// Worker is an http.RoundTripper placed under every outbound client the
// dashboard uses. GET requests under the API prefix are served
// stale-while-revalidate; every other GET is served cache-first. Other
// methods pass straight through. RoundTrip never returns an error: network
// failures become synthetic 503 responses.
//
// The cache lives in one partition named after the version tag. Install
// pre-populates it with the static bundle and pinned library assets;
// Activate deletes every partition from older versions.
package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	apperrors "github.com/soothill/tempest-dashboard/pkg/errors"
	"github.com/soothill/tempest-dashboard/pkg/interfaces"
	"github.com/soothill/tempest-dashboard/pkg/logger"
	"github.com/soothill/tempest-dashboard/pkg/metrics"
)

const (
	// DefaultVersion is the partition name of the current cache layout.
	DefaultVersion = "tempest-dashboard-v1"

	// DefaultAPIPrefix selects requests served stale-while-revalidate.
	DefaultAPIPrefix = "/api/"

	strategySWR         = "stale-while-revalidate"
	strategyCacheFirst  = "cache-first"
	strategyPassthrough = "passthrough"
)

// Config describes the cache layer.
type Config struct {
	// Version names the only partition this worker reads and writes
	Version string

	// APIPrefix is the path prefix of API requests
	APIPrefix string

	// StaticOrigin resolves relative StaticAssets
	StaticOrigin string

	// StaticAssets are pre-populated at install time
	StaticAssets []string

	// LibraryAssets are absolute URLs of pinned third-party bundles
	LibraryAssets []string

	// BreakerFailures is the number of consecutive transport failures that
	// opens a host's breaker
	BreakerFailures uint32

	// BreakerTimeout is how long an open breaker rejects requests
	BreakerTimeout time.Duration
}

// Worker intercepts outbound requests and applies the routing strategies.
type Worker struct {
	cfg     Config
	storage interfaces.CacheStorage
	next    http.RoundTripper
	log     zerolog.Logger

	partitionOnce sync.Once
	partition     interfaces.CachePartition
	partitionErr  error

	breakerMu sync.Mutex
	breakers  map[string]*gobreaker.CircuitBreaker

	revalidations sync.WaitGroup
}

// NewWorker creates a worker storing into storage and forwarding network
// requests to next (http.DefaultTransport when nil).
func NewWorker(storage interfaces.CacheStorage, next http.RoundTripper, cfg Config) *Worker {
	if next == nil {
		next = http.DefaultTransport
	}
	if cfg.Version == "" {
		cfg.Version = DefaultVersion
	}
	if cfg.APIPrefix == "" {
		cfg.APIPrefix = DefaultAPIPrefix
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = 30 * time.Second
	}
	return &Worker{
		cfg:      cfg,
		storage:  storage,
		next:     next,
		log:      logger.Component("cache"),
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// Client returns an http.Client whose requests go through the worker.
func (w *Worker) Client(timeout time.Duration) *http.Client {
	return &http.Client{Transport: w, Timeout: timeout}
}

// Version returns the partition name in use.
func (w *Worker) Version() string {
	return w.cfg.Version
}

// Install fetches every static and library asset concurrently and stores
// them in one batch. If any fetch fails or answers non-ok, nothing is stored.
func (w *Worker) Install(ctx context.Context) error {
	urls, err := w.installURLs()
	if err != nil {
		return err
	}

	start := time.Now()
	w.log.Info().Int("assets", len(urls)).Str("version", w.cfg.Version).Msg("Installing cache")

	var wg sync.WaitGroup
	entries := make([]*interfaces.CachedResponse, len(urls))
	errCh := make(chan error, len(urls))
	for i, u := range urls {
		wg.Add(1)
		go func(i int, u string) {
			defer wg.Done()
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
			if err != nil {
				errCh <- fmt.Errorf("install %s: %w", u, err)
				return
			}
			entry, err := w.fetch(req)
			if err != nil {
				errCh <- fmt.Errorf("install %s: %w", u, err)
				return
			}
			if !ok(entry.Status) {
				errCh <- fmt.Errorf("install %s: HTTP %d", u, entry.Status)
				return
			}
			entries[i] = entry
		}(i, u)
	}
	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		w.log.Warn().Int("errors", len(errs)).Msg("Cache install failed; nothing stored")
		return apperrors.NewCacheError("install", w.cfg.Version, errors.Join(errs...))
	}

	p, err := w.openPartition()
	if err != nil {
		return err
	}
	if err := p.PutAll(entries); err != nil {
		return err
	}

	w.log.Info().
		Int("assets", len(entries)).
		Dur("duration", time.Since(start)).
		Msg("Cache installed")
	return nil
}

// Activate deletes every partition whose name is not the current version
// and returns the deleted names.
func (w *Worker) Activate(ctx context.Context) ([]string, error) {
	names, err := w.storage.Partitions()
	if err != nil {
		return nil, err
	}

	var deleted []string
	for _, name := range names {
		if name == w.cfg.Version {
			continue
		}
		if err := ctx.Err(); err != nil {
			return deleted, err
		}
		ok, err := w.storage.Delete(name)
		if err != nil {
			return deleted, err
		}
		if ok {
			deleted = append(deleted, name)
		}
	}

	if len(deleted) > 0 {
		w.log.Info().Strs("partitions", deleted).Msg("Deleted stale cache partitions")
	}
	return deleted, nil
}

// RoundTrip routes req by method and path. It never returns an error.
func (w *Worker) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method != http.MethodGet {
		return w.passthrough(req), nil
	}
	if strings.HasPrefix(req.URL.Path, w.cfg.APIPrefix) {
		return w.staleWhileRevalidate(req), nil
	}
	return w.cacheFirst(req), nil
}

// Close waits for background revalidations to finish.
func (w *Worker) Close() {
	w.revalidations.Wait()
}

func (w *Worker) staleWhileRevalidate(req *http.Request) *http.Response {
	key := cacheKey(req)

	if cached, found := w.match(key); found {
		metrics.CacheHits.WithLabelValues(strategySWR).Inc()
		bg := req.Clone(context.WithoutCancel(req.Context()))
		w.revalidations.Add(1)
		go func() {
			defer w.revalidations.Done()
			w.revalidate(bg, key)
		}()
		return cached.toResponse(req)
	}

	metrics.CacheMisses.WithLabelValues(strategySWR).Inc()
	entry, err := w.fetch(req)
	if err != nil {
		w.log.Debug().Err(err).Str("url", req.URL.String()).Msg("API request failed with no cached copy")
		metrics.CacheOfflineResponses.WithLabelValues(strategySWR).Inc()
		return offlineJSON(req)
	}
	if ok(entry.Status) {
		w.store(key, entry)
	}
	return response(*entry).toResponse(req)
}

// revalidate refreshes key from the network. Only ok responses overwrite
// the cached entry.
func (w *Worker) revalidate(req *http.Request, key string) {
	entry, err := w.fetch(req)
	switch {
	case err != nil:
		metrics.CacheRevalidations.WithLabelValues("failed").Inc()
		w.log.Debug().Err(err).Str("url", req.URL.String()).Msg("Revalidation failed; keeping cached copy")
	case !ok(entry.Status):
		metrics.CacheRevalidations.WithLabelValues("rejected").Inc()
		w.log.Debug().Int("status", entry.Status).Str("url", req.URL.String()).Msg("Revalidation answered non-ok; keeping cached copy")
	default:
		w.store(key, entry)
		metrics.CacheRevalidations.WithLabelValues("stored").Inc()
	}
}

func (w *Worker) cacheFirst(req *http.Request) *http.Response {
	key := cacheKey(req)

	if cached, found := w.match(key); found {
		metrics.CacheHits.WithLabelValues(strategyCacheFirst).Inc()
		return cached.toResponse(req)
	}

	metrics.CacheMisses.WithLabelValues(strategyCacheFirst).Inc()
	entry, err := w.fetch(req)
	if err != nil {
		w.log.Debug().Err(err).Str("url", req.URL.String()).Msg("Asset request failed with no cached copy")
		metrics.CacheOfflineResponses.WithLabelValues(strategyCacheFirst).Inc()
		return offlineText(req)
	}
	if ok(entry.Status) {
		w.store(key, entry)
	}
	return response(*entry).toResponse(req)
}

func (w *Worker) passthrough(req *http.Request) *http.Response {
	entry, err := w.fetch(req)
	if err != nil {
		metrics.CacheOfflineResponses.WithLabelValues(strategyPassthrough).Inc()
		return offlineText(req)
	}
	return response(*entry).toResponse(req)
}

// fetch performs req on the network through the host's breaker and reads
// the whole body. An open breaker is reported like any transport failure.
func (w *Worker) fetch(req *http.Request) (*interfaces.CachedResponse, error) {
	cb := w.breaker(req.URL.Host)
	result, err := cb.Execute(func() (interface{}, error) {
		resp, err := w.next.RoundTrip(req)
		if err != nil {
			return nil, err
		}
		defer func() { _ = resp.Body.Close() }()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		return &interfaces.CachedResponse{
			Key:        cacheKey(req),
			Method:     req.Method,
			URL:        req.URL.String(),
			Status:     resp.StatusCode,
			StatusText: statusText(resp),
			Header:     resp.Header.Clone(),
			Body:       body,
		}, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			w.log.Debug().Str("host", req.URL.Host).Msg("Circuit breaker open, skipping network")
		}
		return nil, apperrors.NewNetworkError(req.Method+" "+req.URL.Path, req.URL.Host, err)
	}
	return result.(*interfaces.CachedResponse), nil
}

func (w *Worker) breaker(host string) *gobreaker.CircuitBreaker {
	w.breakerMu.Lock()
	defer w.breakerMu.Unlock()

	if cb, exists := w.breakers[host]; exists {
		return cb
	}
	threshold := w.cfg.BreakerFailures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        host,
		MaxRequests: 1,
		Timeout:     w.cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			w.log.Warn().Str("host", name).Str("from", from.String()).Str("to", to.String()).Msg("Circuit breaker state changed")
		},
	})
	w.breakers[host] = cb
	return cb
}

func (w *Worker) openPartition() (interfaces.CachePartition, error) {
	w.partitionOnce.Do(func() {
		w.partition, w.partitionErr = w.storage.Open(w.cfg.Version)
	})
	return w.partition, w.partitionErr
}

func (w *Worker) match(key string) (response, bool) {
	p, err := w.openPartition()
	if err != nil {
		w.log.Warn().Err(err).Msg("Cache partition unavailable")
		return response{}, false
	}
	entry, found, err := p.Match(key)
	if err != nil {
		w.log.Warn().Err(err).Str("key", key).Msg("Cache lookup failed")
		return response{}, false
	}
	if !found {
		return response{}, false
	}
	return response(*entry), true
}

func (w *Worker) store(key string, entry *interfaces.CachedResponse) {
	p, err := w.openPartition()
	if err != nil {
		w.log.Warn().Err(err).Msg("Cache partition unavailable")
		return
	}
	if err := p.Put(key, entry); err != nil {
		w.log.Warn().Err(err).Str("key", key).Msg("Failed to store response")
	}
}

func (w *Worker) installURLs() ([]string, error) {
	urls := make([]string, 0, len(w.cfg.StaticAssets)+len(w.cfg.LibraryAssets))
	if len(w.cfg.StaticAssets) > 0 {
		base, err := url.Parse(w.cfg.StaticOrigin)
		if err != nil || base.Scheme == "" || base.Host == "" {
			return nil, apperrors.NewCacheError("install", w.cfg.Version,
				fmt.Errorf("static origin %q must be an absolute URL", w.cfg.StaticOrigin))
		}
		for _, asset := range w.cfg.StaticAssets {
			ref, err := url.Parse(asset)
			if err != nil {
				return nil, apperrors.NewCacheError("install", w.cfg.Version, fmt.Errorf("static asset %q: %w", asset, err))
			}
			urls = append(urls, base.ResolveReference(ref).String())
		}
	}
	urls = append(urls, w.cfg.LibraryAssets...)
	return urls, nil
}

func cacheKey(req *http.Request) string {
	return req.Method + " " + req.URL.String()
}

func ok(status int) bool {
	return status >= 200 && status <= 299
}

func statusText(resp *http.Response) string {
	if _, text, found := strings.Cut(resp.Status, " "); found && text != "" {
		return text
	}
	return http.StatusText(resp.StatusCode)
}

// response is a stored or freshly fetched response that can be replayed
// any number of times.
type response interfaces.CachedResponse

func (r response) toResponse(req *http.Request) *http.Response {
	header := r.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", r.Status, r.StatusText),
		StatusCode:    r.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(r.Body)),
		ContentLength: int64(len(r.Body)),
		Request:       req,
	}
}

func offlineJSON(req *http.Request) *http.Response {
	return response{
		Status:     http.StatusServiceUnavailable,
		StatusText: "Service Unavailable",
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       []byte(`{"error":"Offline"}`),
	}.toResponse(req)
}

func offlineText(req *http.Request) *http.Response {
	return response{
		Status:     http.StatusServiceUnavailable,
		StatusText: "Service Unavailable",
		Header:     http.Header{"Content-Type": []string{"text/plain; charset=utf-8"}},
		Body:       []byte("Offline"),
	}.toResponse(req)
}
