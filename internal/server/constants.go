// Package server provides HTTP and WebSocket handlers
package server

import "time"

// Server configuration constants
const (
	// Upper bound on JSON request bodies
	MaxRequestBytes = 1 << 16

	// Per-message write deadline on WebSocket subscribers
	WSWriteTimeout = 5 * time.Second

	// Session starts allowed per client IP per window
	IPRateLimitRequests        = 10
	IPRateLimitWindow          = time.Second
	IPRateLimitCleanupInterval = 5 * time.Minute  // How often to purge stale IP entries
	IPRateLimitEntryTTL        = 10 * time.Minute // TTL for inactive IP entries

	// Retention used by cleanup requests without an explicit age
	DefaultRetentionDays = 30
)
