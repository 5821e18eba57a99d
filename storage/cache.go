// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	apperrors "github.com/soothill/tempest-dashboard/pkg/errors"
	"github.com/soothill/tempest-dashboard/pkg/interfaces"
	"github.com/soothill/tempest-dashboard/pkg/logger"
	"github.com/soothill/tempest-dashboard/pkg/metrics"
	"github.com/soothill/tempest-dashboard/pkg/util"
)

const (
	defaultCacheDir = "/var/cache/tempest-dashboard"
	cacheFilePrefix = "cache_"
	cacheFileExt    = ".json"
	defaultMaxSize  = 100 * 1024 * 1024 // 100 MB
	defaultMaxAge   = 7 * 24 * time.Hour
	warnThreshold   = 0.8
	notifyTimeout   = 5 * time.Second
)

// CacheWarner is notified when the cache crosses its warning threshold.
type CacheWarner interface {
	SendCacheWarning(ctx context.Context, cacheSize, maxSize int64) error
	IsEnabled() bool
}

// FileCacheStorage keeps named cache partitions on disk, one directory per
// partition and one JSON file per entry. It survives restarts.
type FileCacheStorage struct {
	cacheDir string
	maxSize  int64
	maxAge   time.Duration
	notifier CacheWarner

	mu          sync.Mutex
	sizes       map[string]int64 // entry file path -> size
	currentSize int64
	warned      bool
}

// NewFileCacheStorage creates the cache root, measures what is already on
// disk and drops entries older than maxAge.
func NewFileCacheStorage(cacheDir string, maxSize int64, maxAge time.Duration, notifier CacheWarner) (*FileCacheStorage, error) {
	if cacheDir == "" {
		cacheDir = defaultCacheDir
	}
	if maxSize <= 0 {
		maxSize = defaultMaxSize
	}
	if maxAge <= 0 {
		maxAge = defaultMaxAge
	}

	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return nil, apperrors.NewCacheError("init", "", fmt.Errorf("failed to create cache directory: %w", err))
	}

	fs := &FileCacheStorage{
		cacheDir: cacheDir,
		maxSize:  maxSize,
		maxAge:   maxAge,
		notifier: notifier,
		sizes:    make(map[string]int64),
	}

	if err := fs.updateCurrentSize(); err != nil {
		logger.Warn().Err(err).Msg("Failed to calculate initial cache size")
	}

	if err := fs.CleanupOld(); err != nil {
		logger.Warn().Err(err).Msg("Failed to cleanup old cache files")
	}

	return fs, nil
}

// Open returns the named partition, creating its directory if needed.
func (fs *FileCacheStorage) Open(name string) (interfaces.CachePartition, error) {
	if err := validatePartitionName(name); err != nil {
		return nil, apperrors.NewCacheError("open", name, err)
	}
	dir := filepath.Join(fs.cacheDir, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, apperrors.NewCacheError("open", name, err)
	}
	return &filePartition{name: name, dir: dir, owner: fs}, nil
}

// Partitions lists partition names in sorted order.
func (fs *FileCacheStorage) Partitions() ([]string, error) {
	entries, err := os.ReadDir(fs.cacheDir)
	if err != nil {
		return nil, apperrors.NewCacheError("list", "", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Delete removes a partition. It reports false when the partition did not exist.
func (fs *FileCacheStorage) Delete(name string) (bool, error) {
	if err := validatePartitionName(name); err != nil {
		return false, apperrors.NewCacheError("delete", name, err)
	}
	dir := filepath.Join(fs.cacheDir, name)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return false, nil
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := os.RemoveAll(dir); err != nil {
		return false, apperrors.NewCacheError("delete", name, err)
	}
	prefix := dir + string(os.PathSeparator)
	for path, size := range fs.sizes {
		if strings.HasPrefix(path, prefix) {
			fs.currentSize -= size
			delete(fs.sizes, path)
		}
	}
	fs.publishSize()

	logger.Debug().Str("partition", name).Msg("Deleted cache partition")
	return true, nil
}

// CleanupOld removes entries older than maxAge from every partition.
func (fs *FileCacheStorage) CleanupOld() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	files, err := filepath.Glob(filepath.Join(fs.cacheDir, "*", cacheFilePrefix+"*"+cacheFileExt))
	if err != nil {
		return fmt.Errorf("failed to list cache files: %w", err)
	}

	cutoff := time.Now().Add(-fs.maxAge)
	deletedCount := 0

	for _, file := range files {
		data, err := util.ReadFileSafely(file)
		if err != nil {
			continue
		}

		var cached interfaces.CachedResponse
		if err := json.Unmarshal(data, &cached); err != nil {
			continue
		}

		if cached.StoredAt.Before(cutoff) {
			if err := os.Remove(file); err != nil {
				logger.Warn().Err(err).Str("file", file).Msg("Failed to delete old cache file")
				continue
			}
			deletedCount++
			fs.currentSize -= fs.sizes[file]
			delete(fs.sizes, file)
		}
	}

	if deletedCount > 0 {
		logger.Info().Int("count", deletedCount).Msg("Cleaned up old cache files")
	}
	fs.publishSize()

	return nil
}

// GetCacheSize returns the current cache size in bytes
func (fs *FileCacheStorage) GetCacheSize() int64 {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.currentSize
}

// GetMaxSize returns the maximum cache size
func (fs *FileCacheStorage) GetMaxSize() int64 {
	return fs.maxSize
}

// updateCurrentSize recalculates the current cache size
func (fs *FileCacheStorage) updateCurrentSize() error {
	files, err := filepath.Glob(filepath.Join(fs.cacheDir, "*", cacheFilePrefix+"*"+cacheFileExt))
	if err != nil {
		return fmt.Errorf("failed to list cache files: %w", err)
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	var totalSize int64
	for _, file := range files {
		info, err := os.Stat(file)
		if err != nil {
			continue
		}
		fs.sizes[file] = info.Size()
		totalSize += info.Size()
	}

	fs.currentSize = totalSize
	fs.publishSize()
	return nil
}

// write stores pre-encoded entries. Every file is staged before any is
// renamed into place so a failed batch leaves the partition untouched.
func (fs *FileCacheStorage) write(partition string, files map[string][]byte) error {
	fs.mu.Lock()

	var delta int64
	for path, data := range files {
		delta += int64(len(data)) - fs.sizes[path]
	}
	if fs.currentSize+delta > fs.maxSize {
		fs.mu.Unlock()
		return apperrors.NewCacheError("put", partition, fmt.Errorf("cache is full (%d + %d > %d bytes)", fs.currentSize, delta, fs.maxSize))
	}

	staged := make(map[string]string, len(files))
	rollback := func() {
		for _, tmp := range staged {
			_ = os.Remove(tmp)
		}
	}
	for path, data := range files {
		tmp := path + ".staged"
		if err := util.WriteFileAtomic(tmp, data, 0644); err != nil {
			rollback()
			fs.mu.Unlock()
			return apperrors.NewCacheError("put", partition, err)
		}
		staged[path] = tmp
	}
	for path, tmp := range staged {
		if err := os.Rename(tmp, path); err != nil {
			rollback()
			fs.mu.Unlock()
			return apperrors.NewCacheError("put", partition, err)
		}
		delete(staged, path)
		fs.currentSize += int64(len(files[path])) - fs.sizes[path]
		fs.sizes[path] = int64(len(files[path]))
	}
	fs.publishSize()

	size, warn := fs.currentSize, fs.checkThreshold()
	fs.mu.Unlock()

	logger.Debug().
		Str("partition", partition).
		Int("entries", len(files)).
		Int64("cache_size", size).
		Msg("Written entries to cache")

	if warn && fs.notifier != nil && fs.notifier.IsEnabled() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := fs.notifier.SendCacheWarning(ctx, size, fs.maxSize); err != nil {
			logger.Error().Err(err).Msg("Failed to send cache warning alert")
		}
	}
	return nil
}

// checkThreshold reports whether the warning threshold was just crossed.
// Callers must hold fs.mu.
func (fs *FileCacheStorage) checkThreshold() bool {
	over := float64(fs.currentSize)/float64(fs.maxSize) > warnThreshold
	crossed := over && !fs.warned
	fs.warned = over
	return crossed
}

func (fs *FileCacheStorage) publishSize() {
	metrics.CacheSizeBytes.Set(float64(fs.currentSize))
}

func validatePartitionName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("invalid partition name %q", name)
	}
	return nil
}

// filePartition is one directory of cache entries.
type filePartition struct {
	name  string
	dir   string
	owner *FileCacheStorage
}

func (p *filePartition) Name() string { return p.name }

// Match reads the entry for key. A corrupt entry file reads as a miss.
func (p *filePartition) Match(key string) (*interfaces.CachedResponse, bool, error) {
	data, err := util.ReadFileSafely(p.filename(key))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, apperrors.NewCacheError("match", p.name, err)
	}

	var cached interfaces.CachedResponse
	if err := json.Unmarshal(data, &cached); err != nil {
		logger.Warn().Err(err).Str("partition", p.name).Str("key", key).Msg("Failed to unmarshal cache file")
		return nil, false, nil
	}
	return &cached, true, nil
}

// Put stores resp under key, overwriting any previous entry.
func (p *filePartition) Put(key string, resp *interfaces.CachedResponse) error {
	return p.PutAll([]*interfaces.CachedResponse{withKey(key, resp)})
}

// PutAll stores every entry, keyed by its Key field, or none of them.
func (p *filePartition) PutAll(entries []*interfaces.CachedResponse) error {
	files := make(map[string][]byte, len(entries))
	for _, e := range entries {
		if e.Key == "" {
			return apperrors.NewCacheError("put", p.name, fmt.Errorf("entry for %s has no key", e.URL))
		}
		if e.StoredAt.IsZero() {
			e.StoredAt = time.Now()
		}
		data, err := json.Marshal(e)
		if err != nil {
			return apperrors.NewCacheError("put", p.name, fmt.Errorf("failed to marshal entry: %w", err))
		}
		files[p.filename(e.Key)] = data
	}
	return p.owner.write(p.name, files)
}

func (p *filePartition) filename(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(p.dir, cacheFilePrefix+hex.EncodeToString(sum[:])+cacheFileExt)
}

func withKey(key string, resp *interfaces.CachedResponse) *interfaces.CachedResponse {
	cp := *resp
	cp.Key = key
	return &cp
}
