package grpcclient

import (
	"context"

	apperrors "github.com/GriffinCanCode/deepwatch/internal/errors"
	"github.com/GriffinCanCode/deepwatch/internal/resilience"
)

// VoiceEngine scores audio windows on the model server.
type VoiceEngine struct {
	c       *Client
	breaker *resilience.Breaker
}

// Setup loads the voice model identified by modelID.
func (v *VoiceEngine) Setup(ctx context.Context, modelID string) error {
	v.breaker.Reset()
	return v.c.loadModel(ctx, v.breaker, kindVoice, modelID)
}

// Clear unloads the voice model.
func (v *VoiceEngine) Clear(ctx context.Context) error {
	return v.c.unload(ctx, v.breaker, kindVoice)
}

// Infer returns the raw model score of one window.
func (v *VoiceEngine) Infer(ctx context.Context, window []float32, useWinReverser bool) (float32, error) {
	resp, err := v.c.call(ctx, v.breaker, metricScoreVoice, methodScoreVoice, map[string]any{
		"samples":          encodeSamples(window),
		"use_win_reverser": useWinReverser,
	}, v.c.opts.CallTimeout)
	if err != nil {
		return 0, err
	}
	score, err := number(resp, "score")
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.CodeInferenceFailed, "score voice")
	}
	return float32(score), nil
}
