// Package voice turns a stream of audio buffers into windowed voice verdicts.
package voice

// Voice processing defaults
const (
	// Model input window when none is configured (4s at 16kHz)
	DefaultWindowSamples = 64000

	// Score history length when none is configured
	DefaultRollingWindowSize = 5

	// Scores required before a window outcome leaves Analyzing
	DefaultMinimumAlertSize = 3
)
