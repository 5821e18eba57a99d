// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package interfaces

import (
	"context"
)

// Notifier defines the interface for sending notifications.
type Notifier interface {
	// SendAlert sends a notification with the given level, title, and message.
	SendAlert(ctx context.Context, level, title, message string) error
	// IsEnabled returns true if the notifier is configured and enabled.
	IsEnabled() bool
}

// StatusNotifier is a Notifier that knows the dashboard's alert vocabulary.
type StatusNotifier interface {
	Notifier
	SendServerOffline(ctx context.Context, server string, err error) error
	SendServerRecovery(ctx context.Context, server string) error
	SendCacheWarning(ctx context.Context, cacheSize, maxSize int64) error
}
