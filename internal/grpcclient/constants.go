// Package grpcclient talks to the model server that runs the vision and
// voice networks.
package grpcclient

import "time"

// Client defaults
const (
	DefaultKeepaliveTime    = 10 * time.Second
	DefaultKeepaliveTimeout = 3 * time.Second

	// Per-call deadline for scoring requests
	DefaultCallTimeout = 2 * time.Second

	// Model loading may read large files from disk
	DefaultSetupTimeout = 30 * time.Second
)

// Inference service method names.
const (
	serviceName        = "deepwatch.inference.v1.Inference"
	methodLoadModel    = "/" + serviceName + "/LoadModel"
	methodDetectFaces  = "/" + serviceName + "/DetectFaces"
	methodScoreFace    = "/" + serviceName + "/ScoreFace"
	methodScoreVoice   = "/" + serviceName + "/ScoreVoice"
	methodUnload       = "/" + serviceName + "/Unload"
	kindVision         = "vision"
	kindVoice          = "voice"
	metricDetectFaces  = "detect_faces"
	metricScoreFace    = "score_face"
	metricScoreVoice   = "score_voice"
	metricModelControl = "model_control"
)
