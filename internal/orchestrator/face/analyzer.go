package face

import (
	"context"
	"fmt"
	"image"
	"log/slog"

	"github.com/GriffinCanCode/deepwatch/internal/detect"
)

// Region is one face found by the detector, in frame coordinates.
type Region struct {
	Box  image.Rectangle
	Mask *image.Gray
}

// Engine is the vision model: face detection plus per-face scoring.
type Engine interface {
	DetectFaces(ctx context.Context, frame image.Image, size, maxFaces int) ([]Region, error)
	ScoreFace(ctx context.Context, face image.Image) (float32, error)
}

// AnalyzerConfig sizes the detection and scoring inputs.
type AnalyzerConfig struct {
	DetectionSize int
	MaxFaces      int
	InputSize     int
}

// Analyzer runs detection and scoring on single frames.
type Analyzer struct {
	engine Engine
	cls    *Classifier
	cache  *FrameCache
	cfg    AnalyzerConfig
	log    *slog.Logger
}

// NewAnalyzer creates an analyzer. cache may be nil.
func NewAnalyzer(engine Engine, cls *Classifier, cache *FrameCache, cfg AnalyzerConfig, log *slog.Logger) *Analyzer {
	if log == nil {
		log = slog.Default()
	}
	return &Analyzer{engine: engine, cls: cls, cache: cache, cfg: cfg, log: log}
}

// Analyze returns the scored faces of one display capture. A face whose
// score cannot be computed is skipped.
func (a *Analyzer) Analyze(ctx context.Context, screen int, frame image.Image) ([]detect.ScreenshotFace, error) {
	if a.cache != nil {
		cached, hash, ok := a.cache.Lookup(screen, frame)
		if ok {
			return cached, nil
		}
		faces, err := a.analyze(ctx, screen, frame)
		if err == nil {
			a.cache.Store(screen, hash, faces)
		}
		return faces, err
	}
	return a.analyze(ctx, screen, frame)
}

func (a *Analyzer) analyze(ctx context.Context, screen int, frame image.Image) ([]detect.ScreenshotFace, error) {
	regions, err := a.engine.DetectFaces(ctx, frame, a.cfg.DetectionSize, a.cfg.MaxFaces)
	if err != nil {
		return nil, fmt.Errorf("detect faces on screen %d: %w", screen, err)
	}
	if a.cfg.MaxFaces > 0 && len(regions) > a.cfg.MaxFaces {
		regions = regions[:a.cfg.MaxFaces]
	}

	faces := make([]detect.ScreenshotFace, 0, len(regions))
	for _, r := range regions {
		raw, resized := Crop(frame, r.Box, a.cfg.InputSize)
		if raw == nil {
			continue
		}
		prob, err := a.engine.ScoreFace(ctx, resized)
		if err != nil {
			a.log.Warn("face scoring failed", "screen", screen, "error", err)
			continue
		}
		prob = detect.ClampScore(prob)
		v := a.cls.Evaluate(r.Mask, prob)
		faces = append(faces, detect.ScreenshotFace{
			Raw:           raw,
			Resized:       resized,
			Mask:          r.Mask,
			ProbFakeScore: prob,
			ContourRatio:  v.ContourRatio,
			MaskScore:     v.MaskScore,
			IsFake:        v.IsFake,
			Screen:        screen,
		})
	}
	return faces, nil
}

// AnyFake reports whether at least one face is flagged.
func AnyFake(faces []detect.ScreenshotFace) bool {
	for _, f := range faces {
		if f.IsFake {
			return true
		}
	}
	return false
}
