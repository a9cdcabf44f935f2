package orchestrator

import (
	"context"
	"image"
	"log/slog"
	"time"

	"github.com/GriffinCanCode/deepwatch/internal/config"
	"github.com/GriffinCanCode/deepwatch/internal/detect"
	apperrors "github.com/GriffinCanCode/deepwatch/internal/errors"
	"github.com/GriffinCanCode/deepwatch/internal/orchestrator/face"
	"github.com/GriffinCanCode/deepwatch/internal/results"
	"github.com/GriffinCanCode/deepwatch/internal/store"
	"github.com/GriffinCanCode/deepwatch/internal/trace"
)

// RunVideoDetection captures frames until ctx ends or req.Duration elapses,
// emitting a preview per capture and the verdict whenever it changes. It
// always ends with exactly one ResultNotification{IsLast: true}, unless
// setup fails, in which case nothing is emitted and a CodeEnvironmentSetup
// error is returned. A capture failure ends the session and is returned
// after the final notification.
func (m *Manager) RunVideoDetection(ctx context.Context, req VideoRequest, capture CaptureFunc, emit func(detect.VideoUpdate)) error {
	if err := validate(req.Mode, m.vision != nil && capture != nil && emit != nil); err != nil {
		return err
	}
	release, err := m.acquire(m.visionBusy, PipelineVideo)
	if err != nil {
		return err
	}
	defer release()

	req.SessionID = sessionID(req.SessionID)
	ctx = trace.WithContext(ctx, trace.ForSession(req.SessionID))
	log := trace.Logger(ctx, m.log).With("pipeline", PipelineVideo, "mode", req.Mode)
	th := m.det.VideoFor(req.Mode)

	out, err := m.results.Open(PipelineVideo, req.SessionID)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeEnvironmentSetup, "video session setup")
	}
	if err := m.vision.Setup(ctx, th.ModelIdentifier); err != nil {
		log.Error("video setup failed", "model", th.ModelIdentifier, "error", err)
		return apperrors.Wrap(err, apperrors.CodeEnvironmentSetup, "video session setup")
	}
	defer m.clear(ctx, m.vision, log)
	defer m.metrics.SessionStarted(ctx, PipelineVideo)()

	s := m.newVideoSession(req, th, out, log, emit)
	log.Info("video session started", "model", th.ModelIdentifier, "duration", req.Duration, "window", s.windowSize)

	started := m.now()
	loopErr := s.run(ctx, capture, started)

	sum := results.Summary{
		SessionID:         req.SessionID,
		Pipeline:          PipelineVideo,
		Mode:              string(req.Mode),
		ModelIdentifier:   th.ModelIdentifier,
		BackgroundRun:     req.Background,
		StartedAt:         started,
		EndedAt:           m.now(),
		Verdict:           s.cls.Current().String(),
		Samples:           s.captures,
		Flagged:           s.flagged,
		ProportionOfFakes: s.cls.ProportionOfFakes(),
		Cancelled:         ctx.Err() != nil,
	}
	if loopErr != nil {
		sum.Error = loopErr.Error()
	}
	m.finalize(ctx, log, out, sum, func(r detect.ResultNotification) { emit(r) })
	return loopErr
}

type videoSession struct {
	m          *Manager
	req        VideoRequest
	th         config.VideoThresholds
	out        *results.Session
	log        *slog.Logger
	emit       func(detect.VideoUpdate)
	cls        *face.Classifier
	analyzer   *face.Analyzer
	windowSize int

	captures int
	flagged  int
	last     detect.FaceClassification
	reported bool
}

func (m *Manager) newVideoSession(req VideoRequest, th config.VideoThresholds, out *results.Session, log *slog.Logger, emit func(detect.VideoUpdate)) *videoSession {
	vs := m.det.Video
	rate := float64(time.Second) / float64(m.captureInterval)
	window := vs.WindowSamples(rate)
	cls := face.NewClassifier(face.Config{
		Thresholds: face.Thresholds{
			ProbFake:       th.ProbFakeThreshold,
			FakeAndContour: th.FakeAndContourThreshold,
			Mask:           th.MaskThreshold,
			FakeProportion: th.FakeProportionThreshold,
		},
		WindowSize:       window,
		MinimumAlertSize: vs.RollingWindowMinimumAlertSize,
		Cooldown:         vs.Cooldown(),
	})
	analyzer := face.NewAnalyzer(m.vision, cls, face.NewFrameCache(log), face.AnalyzerConfig{
		DetectionSize: vs.DetectionSize,
		MaxFaces:      vs.MaxNumberFaces,
		InputSize:     vs.FaceInputSize,
	}, log)
	return &videoSession{
		m: m, req: req, th: th, out: out, log: log, emit: emit,
		cls: cls, analyzer: analyzer, windowSize: window,
	}
}

func (s *videoSession) run(ctx context.Context, capture CaptureFunc, started time.Time) error {
	ticker := time.NewTicker(s.m.captureInterval)
	defer ticker.Stop()

	for s.live(ctx, started) {
		frames, err := capture(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.log.Error("screen capture failed", "error", err)
			return apperrors.Wrap(err, apperrors.CodeCaptureFailed, "video capture")
		}
		s.m.metrics.RecordFrames(ctx, len(frames))
		s.step(ctx, frames)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
	return nil
}

func (s *videoSession) live(ctx context.Context, started time.Time) bool {
	if ctx.Err() != nil {
		return false
	}
	return s.req.Duration <= 0 || s.m.now().Sub(started) < s.req.Duration
}

// step analyses one capture. Captures without faces leave the window
// untouched and only refresh the latch.
func (s *videoSession) step(ctx context.Context, frames []image.Image) {
	var faces []detect.ScreenshotFace
	for i, frame := range frames {
		found, err := s.analyzer.Analyze(ctx, i, frame)
		if err != nil {
			s.log.Warn("face analysis failed", "screen", i, "error", err)
			continue
		}
		faces = append(faces, found...)
	}
	s.captures++

	verdict := s.cls.Current()
	if len(faces) > 0 {
		verdict = s.cls.Push(face.AnyFake(faces))
	}
	s.cls.SetPreview(faces)

	if ctx.Err() != nil {
		return
	}
	s.emit(detect.FacePreview{Faces: faces, Grid: s.cls.PreviewGrid(face.DefaultCellSize)})
	if !s.reported || verdict != s.last {
		s.last, s.reported = verdict, true
		s.m.metrics.RecordVerdict(ctx, PipelineVideo, verdict.String())
		s.log.Info("video verdict", "verdict", verdict, "proportion_of_fakes", s.cls.ProportionOfFakes())
		s.emit(verdict)
	}
	if verdict == detect.FaceDeepfake && face.AnyFake(faces) {
		if path := s.persist(ctx, frames, faces); path != "" && ctx.Err() == nil {
			s.emit(detect.ResultNotification{ResultPath: path})
		}
	}
}

// persist writes the grid and the frames of a flagged capture and queues
// one record per face. It returns the grid path, or "" on failure.
func (s *videoSession) persist(ctx context.Context, frames []image.Image, faces []detect.ScreenshotFace) string {
	s.flagged++
	gridPath, err := s.out.WriteFaceGrid(ctx, face.Grid(faces, face.DefaultCellSize))
	if err != nil {
		s.log.Warn("failed to save face grid", "error", err)
		return ""
	}

	framePaths := make(map[int]string)
	for _, f := range faces {
		if _, ok := framePaths[f.Screen]; ok || f.Screen >= len(frames) {
			continue
		}
		path, err := s.out.WriteFrame(ctx, frames[f.Screen])
		if err != nil {
			s.log.Warn("failed to save frame", "screen", f.Screen, "error", err)
		}
		framePaths[f.Screen] = path
	}

	proportion := float32(s.cls.ProportionOfFakes())
	for i, f := range faces {
		s.m.records.AddFace(store.Face{
			Timestamp:                  s.m.now(),
			ProbFakeScore:              f.ProbFakeScore,
			ContourRatio:               f.ContourRatio,
			ProportionOfFakes:          proportion,
			ProbFakeThreshold:          float32(s.th.ProbFakeThreshold),
			FakeAndContourThreshold:    float32(s.th.FakeAndContourThreshold),
			MaskThreshold:              float32(s.th.MaskThreshold),
			ProportionOfFakesThreshold: float32(s.th.FakeProportionThreshold),
			ModelIdentifier:            s.th.ModelIdentifier,
			BackgroundRun:              s.req.Background,
			ArtifactLocation:           gridPath,
			RawArtifactLocation:        framePaths[f.Screen],
			GridIndex:                  i,
		})
	}
	return gridPath
}
