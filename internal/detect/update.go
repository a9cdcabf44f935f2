// Package detect defines the update protocol streamed by detection sessions.
//
// Video and voice sessions each emit a sealed union of updates. Consumers
// switch over the concrete types and must treat an unknown type as an error.
package detect

import (
	"fmt"
	"image"
	"math"
)

// Mode selects which threshold set a session uses.
type Mode string

const (
	ModeLiveCall   Mode = "live_call"
	ModeWebSurfing Mode = "web_surfing"
)

// IsValid reports whether m is a known mode.
func (m Mode) IsValid() bool {
	return m == ModeLiveCall || m == ModeWebSurfing
}

// ParseMode converts a user-supplied string into a Mode.
func ParseMode(s string) (Mode, error) {
	m := Mode(s)
	if !m.IsValid() {
		return "", fmt.Errorf("unknown mode %q (want %q or %q)", s, ModeLiveCall, ModeWebSurfing)
	}
	return m, nil
}

// VideoUpdate is one of FacePreview, FaceClassification or ResultNotification.
type VideoUpdate interface {
	isVideoUpdate()
}

// VoiceUpdate is one of VoiceClassification, VoiceGraphScore or ResultNotification.
type VoiceUpdate interface {
	isVoiceUpdate()
}

// ScreenshotFace is one detected face from one capture.
type ScreenshotFace struct {
	Raw           image.Image
	Resized       image.Image
	Mask          *image.Gray
	ProbFakeScore float32
	ContourRatio  float32
	MaskScore     float32
	IsFake        bool
	Screen        int
}

// FacePreview carries the latest batch of faces for live display.
type FacePreview struct {
	Faces []ScreenshotFace
	Grid  image.Image
}

// FaceClassification is the latched session-level video verdict.
type FaceClassification int

const (
	FaceReal FaceClassification = iota
	FaceDeepfake
)

func (c FaceClassification) String() string {
	switch c {
	case FaceReal:
		return "real"
	case FaceDeepfake:
		return "deepfake"
	default:
		return fmt.Sprintf("FaceClassification(%d)", int(c))
	}
}

// VoiceClassification is the session-level voice verdict.
type VoiceClassification int

// Values match the integer codes the desktop client expects.
const (
	VoiceReal      VoiceClassification = 0
	VoiceDeepfake  VoiceClassification = 1
	VoiceAnalyzing VoiceClassification = 2
	VoiceInvalid   VoiceClassification = 3
	VoiceNone      VoiceClassification = 4
)

func (c VoiceClassification) String() string {
	switch c {
	case VoiceReal:
		return "real"
	case VoiceDeepfake:
		return "deepfake"
	case VoiceAnalyzing:
		return "analyzing"
	case VoiceInvalid:
		return "invalid"
	case VoiceNone:
		return "none"
	default:
		return fmt.Sprintf("VoiceClassification(%d)", int(c))
	}
}

// VoiceGraphScore is a per-window score in [0,1] for visualization.
type VoiceGraphScore struct {
	Score float32
}

// ResultNotification announces a written artifact. Exactly one notification
// with IsLast set ends every session.
type ResultNotification struct {
	IsLast     bool
	ResultPath string
}

func (FacePreview) isVideoUpdate()        {}
func (FaceClassification) isVideoUpdate() {}
func (ResultNotification) isVideoUpdate() {}

func (VoiceClassification) isVoiceUpdate() {}
func (VoiceGraphScore) isVoiceUpdate()     {}
func (ResultNotification) isVoiceUpdate()  {}

// ClampScore maps a raw model score into [0,1].
func ClampScore(s float32) float32 {
	switch {
	case math.IsNaN(float64(s)):
		return 0
	case s < 0:
		return 0
	case s > 1:
		return 1
	default:
		return s
	}
}
