// Package orchestrator runs video and voice detection sessions.
package orchestrator

import "time"

// Session driver configuration constants
const (
	// Pause between writing the summary and the final notification
	FinalizeDelay = 100 * time.Millisecond

	// Consumer sleep when the audio queue is empty
	IdleWait = 10 * time.Millisecond

	// Video capture cadence when none is configured
	DefaultCaptureInterval = 500 * time.Millisecond

	// Audio queue capacity in buffers
	DefaultAudioQueueSize = 1024

	// Audio read length per producer iteration
	DefaultCaptureDuration = time.Second

	// Bound on model unloading after a session
	ClearTimeout = 5 * time.Second

	DefaultResultsDir = "results"

	// Pipeline names used in results, metrics and events
	PipelineVideo = "video"
	PipelineVoice = "voice"
)
