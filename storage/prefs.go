// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/soothill/tempest-dashboard/pkg/logger"
)

// Preference keys shared with the browser dashboard's local storage layout.
const (
	PrefServer = "tempest-dashboard-server"
	PrefUnits  = "tempest-dashboard-units"
	PrefTheme  = "tempest-dashboard-theme"
)

// PluginServerKey returns the preference key for a plugin's own server origin.
func PluginServerKey(plugin string) string {
	return "tempest-plugin-" + plugin + "-server"
}

const prefsSchema = `CREATE TABLE IF NOT EXISTS preferences (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at INTEGER NOT NULL
)`

// PrefsStore persists client preferences in SQLite.
type PrefsStore struct {
	sqlDB *sql.DB
}

// OpenPrefsStore opens (or creates) the preference database at path.
func OpenPrefsStore(path string) (*PrefsStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("preferences path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(prefsSchema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("create preferences table: %w", err)
	}
	logger.Debug().Str("path", cleanPath).Msg("Opened preference store")
	return &PrefsStore{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *PrefsStore) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Get returns the value stored under key.
func (s *PrefsStore) Get(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	var value string
	err := s.sqlDB.QueryRowContext(ctx, `SELECT value FROM preferences WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get preference %q: %w", key, err)
	}
	return value, true, nil
}

// Set stores value under key, replacing any previous value.
func (s *PrefsStore) Set(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("preference key is required")
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO preferences (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("set preference %q: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *PrefsStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM preferences WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete preference %q: %w", key, err)
	}
	return nil
}

// All returns every stored preference.
func (s *PrefsStore) All(ctx context.Context) (map[string]string, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT key, value FROM preferences ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("list preferences: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan preference: %w", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}
