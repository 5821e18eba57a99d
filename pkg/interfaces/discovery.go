// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package interfaces

import (
	"context"
	"time"
)

// ServerLocator finds a telemetry server on the local network.
// Implementations should support mDNS/DNS-SD discovery protocols.
type ServerLocator interface {
	// Locate browses for at most timeout and returns the origin of the
	// preferred server, e.g. "http://192.168.1.20:8080"
	Locate(ctx context.Context, timeout time.Duration) (string, error)
}
