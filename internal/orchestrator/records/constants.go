// Package records batches detection records on their way to the store.
package records

import "time"

// Batcher defaults
const (
	DefaultBatcherMaxSize    = 50
	DefaultBatcherFlushDelay = 2 * time.Second

	// Upper bound for one background flush
	FlushTimeout = 10 * time.Second
)
