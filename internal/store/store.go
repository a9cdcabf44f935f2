// Package store persists detection records for later upload and cleanup.
//
// Two implementations exist: Postgres (pgxpool) for installations with a
// database, and Memory for single-process use and tests. Both assign
// increasing serial numbers in insertion order.
package store

import (
	"context"
	"time"
)

// Face is one flagged face batch of a video session.
type Face struct {
	SerialNumber               int64
	Timestamp                  time.Time
	ProbFakeScore              float32
	ContourRatio               float32
	ProportionOfFakes          float32
	ProbFakeThreshold          float32
	FakeAndContourThreshold    float32
	MaskThreshold              float32
	ProportionOfFakesThreshold float32
	ModelIdentifier            string
	BackgroundRun              bool
	ArtifactLocation           string
	RawArtifactLocation        string // empty when screen capture is opted out
	GridIndex                  int
	Uploaded                   bool
	DeletedLocally             bool
}

// Voice is one flagged voice window.
type Voice struct {
	SerialNumber               int64
	Timestamp                  time.Time
	Score                      float32
	ProportionOfFakes          float32
	Threshold                  float32
	ProportionOfFakesThreshold float32
	ModelIdentifier            string
	UseWinReverser             bool
	BackgroundRun              bool
	ArtifactLocation           string
	Uploaded                   bool
	DeletedLocally             bool
}

// Recorder accepts finalized records.
type Recorder interface {
	InsertFace(ctx context.Context, f Face) (int64, error)
	InsertVoice(ctx context.Context, v Voice) (int64, error)
}

// Store is the full record store.
type Store interface {
	Recorder
	Faces(ctx context.Context) ([]Face, error)
	Voices(ctx context.Context) ([]Voice, error)
	FacesOlderThan(ctx context.Context, cutoff time.Time) ([]Face, error)
	VoicesOlderThan(ctx context.Context, cutoff time.Time) ([]Voice, error)
	FacesNotUploaded(ctx context.Context) ([]Face, error)
	VoicesNotUploaded(ctx context.Context) ([]Voice, error)
	MarkFaceUploaded(ctx context.Context, serial int64) error
	MarkVoiceUploaded(ctx context.Context, serial int64) error
	MarkFaceDeleted(ctx context.Context, serial int64) error
	MarkVoiceDeleted(ctx context.Context, serial int64) error
	Close()
}
