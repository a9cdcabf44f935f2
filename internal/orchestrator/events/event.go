// Package events fans session updates out to live subscribers.
package events

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image/png"
	"time"

	"github.com/GriffinCanCode/deepwatch/internal/detect"
	apperrors "github.com/GriffinCanCode/deepwatch/internal/errors"
)

// Event types
const (
	TypeFacePreview         = "face_preview"
	TypeFaceClassification  = "face_classification"
	TypeVoiceClassification = "voice_classification"
	TypeVoiceGraphScore     = "voice_graph_score"
	TypeResult              = "result"
	TypeGraphHistory        = "voice_graph_history"
	TypeSessionError        = "session_error"
)

// Event is the JSON form of one session update.
type Event struct {
	SessionID      string    `json:"session_id"`
	Pipeline       string    `json:"pipeline"`
	Type           string    `json:"type"`
	Time           time.Time `json:"time"`
	Classification string    `json:"classification,omitempty"`
	Code           *int      `json:"code,omitempty"`
	Score          *float32  `json:"score,omitempty"`
	Faces          []Face    `json:"faces,omitempty"`
	Grid           string    `json:"grid,omitempty"` // base64 PNG
	ResultPath     string    `json:"result_path,omitempty"`
	IsLast         bool      `json:"is_last,omitempty"`
	History        []float32 `json:"history,omitempty"`
	Error          string    `json:"error,omitempty"`
	ErrorCode      string    `json:"error_code,omitempty"`
}

// Face is the per-face part of a preview event.
type Face struct {
	Screen        int     `json:"screen"`
	ProbFakeScore float32 `json:"prob_fake_score"`
	ContourRatio  float32 `json:"contour_ratio"`
	MaskScore     float32 `json:"mask_score"`
	IsFake        bool    `json:"is_fake"`
}

// FromVideo converts a video update.
func FromVideo(sessionID string, u detect.VideoUpdate) (Event, error) {
	ev := Event{SessionID: sessionID, Pipeline: "video", Time: time.Now()}
	switch u := u.(type) {
	case detect.FacePreview:
		ev.Type = TypeFacePreview
		for _, f := range u.Faces {
			ev.Faces = append(ev.Faces, Face{
				Screen: f.Screen, ProbFakeScore: f.ProbFakeScore,
				ContourRatio: f.ContourRatio, MaskScore: f.MaskScore, IsFake: f.IsFake,
			})
		}
		if u.Grid != nil {
			var buf bytes.Buffer
			if err := png.Encode(&buf, u.Grid); err != nil {
				return Event{}, fmt.Errorf("events: encode grid: %w", err)
			}
			ev.Grid = base64.StdEncoding.EncodeToString(buf.Bytes())
		}
	case detect.FaceClassification:
		ev.Type = TypeFaceClassification
		ev.Classification = u.String()
		code := int(u)
		ev.Code = &code
	case detect.ResultNotification:
		setResult(&ev, u)
	default:
		return Event{}, fmt.Errorf("events: unknown video update %T", u)
	}
	return ev, nil
}

// FromVoice converts a voice update.
func FromVoice(sessionID string, u detect.VoiceUpdate) (Event, error) {
	ev := Event{SessionID: sessionID, Pipeline: "voice", Time: time.Now()}
	switch u := u.(type) {
	case detect.VoiceClassification:
		ev.Type = TypeVoiceClassification
		ev.Classification = u.String()
		code := int(u)
		ev.Code = &code
	case detect.VoiceGraphScore:
		ev.Type = TypeVoiceGraphScore
		score := u.Score
		ev.Score = &score
	case detect.ResultNotification:
		setResult(&ev, u)
	default:
		return Event{}, fmt.Errorf("events: unknown voice update %T", u)
	}
	return ev, nil
}

// SessionError reports a session that ended with err. Sessions that fail
// before their first update only surface through this event.
func SessionError(sessionID, pipeline string, err error) Event {
	return Event{
		SessionID: sessionID,
		Pipeline:  pipeline,
		Type:      TypeSessionError,
		Time:      time.Now(),
		Error:     err.Error(),
		ErrorCode: string(apperrors.CodeOf(err)),
	}
}

func setResult(ev *Event, r detect.ResultNotification) {
	ev.Type = TypeResult
	ev.ResultPath = r.ResultPath
	ev.IsLast = r.IsLast
}
