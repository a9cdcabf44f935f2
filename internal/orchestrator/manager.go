package orchestrator

import (
	"context"
	"image"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/GriffinCanCode/deepwatch/internal/config"
	"github.com/GriffinCanCode/deepwatch/internal/detect"
	apperrors "github.com/GriffinCanCode/deepwatch/internal/errors"
	"github.com/GriffinCanCode/deepwatch/internal/observe"
	"github.com/GriffinCanCode/deepwatch/internal/orchestrator/face"
	"github.com/GriffinCanCode/deepwatch/internal/orchestrator/records"
	"github.com/GriffinCanCode/deepwatch/internal/orchestrator/voice"
	"github.com/GriffinCanCode/deepwatch/internal/results"
	"github.com/GriffinCanCode/deepwatch/internal/store"
	"github.com/GriffinCanCode/deepwatch/internal/syncx"
)

// VisionEngine is the video model. It serves one session at a time, between
// Setup and Clear.
type VisionEngine interface {
	face.Engine
	Setup(ctx context.Context, modelID string) error
	Clear(ctx context.Context) error
}

// VoiceEngine is the voice model. It serves one session at a time, between
// Setup and Clear.
type VoiceEngine interface {
	voice.Engine
	Setup(ctx context.Context, modelID string) error
	Clear(ctx context.Context) error
}

// CaptureFunc returns one frame per attached display.
type CaptureFunc func(ctx context.Context) ([]image.Image, error)

// VideoRequest parameterizes a video session. A zero Duration runs until ctx
// ends.
type VideoRequest struct {
	SessionID  string
	Mode       detect.Mode
	Background bool
	Duration   time.Duration
}

// VoiceRequest parameterizes a voice session. A zero Duration runs until ctx
// ends.
type VoiceRequest struct {
	SessionID       string
	Mode            detect.Mode
	Background      bool
	Duration        time.Duration
	CaptureDuration time.Duration
}

// Options configures a Manager.
type Options struct {
	Vision          VisionEngine
	Voice           VoiceEngine
	Detection       config.Detection
	Records         *records.Batcher
	Results         *results.Writer
	Metrics         *observe.Metrics
	Logger          *slog.Logger
	CaptureInterval time.Duration
	AudioQueueSize  int
}

// Manager owns the engines and runs sessions on them.
type Manager struct {
	vision          VisionEngine
	voice           VoiceEngine
	det             config.Detection
	records         *records.Batcher
	results         *results.Writer
	metrics         *observe.Metrics
	log             *slog.Logger
	captureInterval time.Duration
	queueSize       int

	visionBusy *syncx.RWGuard[bool]
	voiceBusy  *syncx.RWGuard[bool]

	now   func() time.Time
	sleep func(time.Duration)
}

// New creates a manager. Missing collaborators get in-process defaults.
func New(opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = observe.Discard()
	}
	if opts.Records == nil {
		opts.Records = records.NewBatcher(store.NewMemory(), 0, 0, opts.Logger)
	}
	if opts.Results == nil {
		opts.Results = results.NewWriter(DefaultResultsDir, opts.Detection.App.OptOutOfScreenCapture, opts.Metrics, opts.Logger)
	}
	if opts.CaptureInterval <= 0 {
		opts.CaptureInterval = DefaultCaptureInterval
	}
	if opts.AudioQueueSize <= 0 {
		opts.AudioQueueSize = DefaultAudioQueueSize
	}
	return &Manager{
		vision:          opts.Vision,
		voice:           opts.Voice,
		det:             opts.Detection,
		records:         opts.Records,
		results:         opts.Results,
		metrics:         opts.Metrics,
		log:             opts.Logger,
		captureInterval: opts.CaptureInterval,
		queueSize:       opts.AudioQueueSize,
		visionBusy:      syncx.NewGuard(false),
		voiceBusy:       syncx.NewGuard(false),
		now:             time.Now,
		sleep:           time.Sleep,
	}
}

// Busy reports whether a session holds the engine of pipeline.
func (m *Manager) Busy(pipeline string) bool {
	if pipeline == PipelineVideo {
		return m.visionBusy.Get()
	}
	return m.voiceBusy.Get()
}

// acquire takes the engine lease of pipeline or fails with CodeSessionActive.
func (m *Manager) acquire(busy *syncx.RWGuard[bool], pipeline string) (func(), error) {
	if !busy.CompareAndSet(func(b bool) bool { return !b }, true) {
		return nil, apperrors.Newf(apperrors.CodeSessionActive, "a %s session is already running", pipeline)
	}
	return func() { busy.Set(false) }, nil
}

// clear unloads a model even when the session context is already done.
func (m *Manager) clear(ctx context.Context, engine interface{ Clear(context.Context) error }, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ClearTimeout)
	defer cancel()
	if err := engine.Clear(ctx); err != nil {
		log.Warn("failed to clear engine", "error", err)
	}
}

// finalize flushes records, writes the summary and emits the single final
// notification after FinalizeDelay.
func (m *Manager) finalize(ctx context.Context, log *slog.Logger, out *results.Session, sum results.Summary, emitLast func(detect.ResultNotification)) {
	ctx = context.WithoutCancel(ctx)
	if err := m.records.Flush(ctx); err != nil {
		log.Warn("failed to store session records", "error", err)
	}

	path, err := out.WriteSummary(ctx, sum)
	if err != nil {
		log.Error("failed to write session summary", "error", err)
		path = out.Dir()
	}
	m.sleep(FinalizeDelay)
	log.Info("session finished", "verdict", sum.Verdict, "samples", sum.Samples, "flagged", sum.Flagged, "result", path)
	emitLast(detect.ResultNotification{IsLast: true, ResultPath: path})
}

func sessionID(id string) string {
	if id == "" {
		return uuid.NewString()
	}
	return id
}

// validate checks a request; wired reports that the engine and the update
// callback are present.
func validate(mode detect.Mode, wired bool) error {
	if !mode.IsValid() {
		return apperrors.Newf(apperrors.CodeInvalidArgument, "unknown mode %q", mode)
	}
	if !wired {
		return apperrors.New(apperrors.CodeInvalidArgument, "session needs an engine and an update callback")
	}
	return nil
}
