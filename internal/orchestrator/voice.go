package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/GriffinCanCode/deepwatch/internal/audio"
	"github.com/GriffinCanCode/deepwatch/internal/config"
	"github.com/GriffinCanCode/deepwatch/internal/detect"
	apperrors "github.com/GriffinCanCode/deepwatch/internal/errors"
	"github.com/GriffinCanCode/deepwatch/internal/orchestrator/voice"
	"github.com/GriffinCanCode/deepwatch/internal/results"
	"github.com/GriffinCanCode/deepwatch/internal/store"
	"github.com/GriffinCanCode/deepwatch/internal/trace"
)

// errSessionDone cancels the producer once the consumer has finished.
var errSessionDone = errors.New("voice session finished")

// RunVoiceSession captures audio from src and runs RunVoiceDetection on it.
// Producer and consumer share one session context: a saturated queue or a
// capture failure stops the consumer, and a finished consumer stops the
// producer. Saturation ends the session without an error.
func (m *Manager) RunVoiceSession(ctx context.Context, req VoiceRequest, src audio.Source, emit func(detect.VoiceUpdate)) error {
	if src == nil {
		return apperrors.New(apperrors.CodeInvalidArgument, "voice session needs an audio source")
	}
	req.SessionID = sessionID(req.SessionID)
	if req.CaptureDuration <= 0 {
		req.CaptureDuration = DefaultCaptureDuration
	}

	sctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	q := audio.NewQueue(m.queueSize)
	log := m.log.With("session", req.SessionID, "pipeline", PipelineVoice)

	g, gctx := errgroup.WithContext(sctx)
	g.Go(func() error {
		return audio.RunProducer(gctx, cancel, src, q, audio.ProducerConfig{
			CaptureDuration: req.CaptureDuration,
			Logger:          log,
			OnSaturated:     func() { m.metrics.RecordSaturation(ctx) },
		})
	})
	g.Go(func() error {
		defer cancel(errSessionDone)
		return m.RunVoiceDetection(gctx, req, q, emit)
	})
	err := g.Wait()

	if errors.Is(context.Cause(sctx), audio.ErrQueueSaturated) {
		log.Warn("voice session stopped, consumer fell behind capture")
	}
	return err
}

// RunVoiceDetection consumes q until ctx ends, req.Duration elapses or the
// queue is closed and drained. Every window result is emitted as a
// classification followed by a graph score. The session always ends with
// exactly one ResultNotification{IsLast: true}, unless setup fails.
func (m *Manager) RunVoiceDetection(ctx context.Context, req VoiceRequest, q *audio.Queue, emit func(detect.VoiceUpdate)) error {
	if err := validate(req.Mode, m.voice != nil && q != nil && emit != nil); err != nil {
		return err
	}
	release, err := m.acquire(m.voiceBusy, PipelineVoice)
	if err != nil {
		return err
	}
	defer release()

	req.SessionID = sessionID(req.SessionID)
	ctx = trace.WithContext(ctx, trace.ForSession(req.SessionID))
	log := trace.Logger(ctx, m.log).With("pipeline", PipelineVoice, "mode", req.Mode)
	th := m.det.VoiceFor(req.Mode)

	out, err := m.results.Open(PipelineVoice, req.SessionID)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeEnvironmentSetup, "voice session setup")
	}
	if err := m.voice.Setup(ctx, th.ModelIdentifier); err != nil {
		log.Error("voice setup failed", "model", th.ModelIdentifier, "error", err)
		return apperrors.Wrap(err, apperrors.CodeEnvironmentSetup, "voice session setup")
	}
	defer m.clear(ctx, m.voice, log)
	defer m.metrics.SessionStarted(ctx, PipelineVoice)()

	vs := m.det.Voice
	s := &voiceSession{
		m: m, req: req, th: th, out: out, log: log, emit: emit,
		useWinReverser: vs.UseWinReverser,
		proc: voice.NewProcessor(m.voice, voice.Config{
			WindowSamples:     vs.WindowSamples,
			HopSamples:        vs.HopSamples,
			RollingWindowSize: vs.RollingWindowSize,
			MinimumAlertSize:  vs.MinimumAlertSize,
			ProbThreshold:     th.ProbScoreThreshold,
			UseWinReverser:    vs.UseWinReverser,
		}, log),
	}
	defer s.proc.EmptyBuffers()
	log.Info("voice session started", "model", th.ModelIdentifier, "duration", req.Duration)

	started := m.now()
	loopErr := s.run(ctx, q, started)

	sum := results.Summary{
		SessionID:         req.SessionID,
		Pipeline:          PipelineVoice,
		Mode:              string(req.Mode),
		ModelIdentifier:   th.ModelIdentifier,
		BackgroundRun:     req.Background,
		StartedAt:         started,
		EndedAt:           m.now(),
		Verdict:           s.last.String(),
		Samples:           s.windows,
		Flagged:           s.flagged,
		ProportionOfFakes: s.proc.ProportionOfFakes(),
		Cancelled:         ctx.Err() != nil,
	}
	if loopErr != nil {
		sum.Error = loopErr.Error()
	}
	m.finalize(ctx, log, out, sum, func(r detect.ResultNotification) { emit(r) })
	return loopErr
}

type voiceSession struct {
	m              *Manager
	req            VoiceRequest
	th             config.VoiceThresholds
	out            *results.Session
	log            *slog.Logger
	emit           func(detect.VoiceUpdate)
	proc           *voice.Processor
	useWinReverser bool

	windows int
	flagged int
	last    detect.VoiceClassification
}

func (s *voiceSession) run(ctx context.Context, q *audio.Queue, started time.Time) error {
	s.last = detect.VoiceNone
	for ctx.Err() == nil {
		if s.req.Duration > 0 && s.m.now().Sub(started) >= s.req.Duration {
			return nil
		}
		switch st := s.proc.Poll(ctx, q).(type) {
		case voice.NoChange:
			if q.Drained() {
				return nil
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(IdleWait):
			}
		case voice.NoAudio:
		case voice.NewInference:
			if err := s.handle(ctx, st); err != nil {
				return err
			}
		default:
			return apperrors.Newf(apperrors.CodeInternal, "voice: unknown state %T", st)
		}
	}
	return nil
}

func (s *voiceSession) handle(ctx context.Context, st voice.NewInference) error {
	cls, err := voice.Classify(st, s.th.FakeProportionThreshold)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternal, "classify voice window")
	}
	s.windows++

	var artifact string
	if df, ok := st.Outcome.(voice.DeepFake); ok {
		artifact = s.persist(ctx, df, st.ProportionOfFakes)
	}

	if ctx.Err() != nil {
		return nil
	}
	if cls != s.last {
		s.m.metrics.RecordVerdict(ctx, PipelineVoice, cls.String())
		s.log.Info("voice verdict", "verdict", cls, "proportion_of_fakes", st.ProportionOfFakes)
	}
	s.last = cls
	s.emit(cls)
	if _, invalid := st.Outcome.(voice.Invalid); !invalid {
		s.emit(detect.VoiceGraphScore{Score: detect.ClampScore(st.Score)})
	}
	if artifact != "" {
		s.emit(detect.ResultNotification{ResultPath: artifact})
	}
	return nil
}

// persist saves a flagged window as a clip and queues its record.
func (s *voiceSession) persist(ctx context.Context, df voice.DeepFake, proportion float64) string {
	s.flagged++
	path, err := s.out.WriteVoiceClip(ctx, df.Samples, df.Rate)
	if err != nil {
		s.log.Warn("failed to save voice clip", "error", err)
		return ""
	}
	s.m.records.AddVoice(store.Voice{
		Timestamp:                  s.m.now(),
		Score:                      df.Score,
		ProportionOfFakes:          float32(proportion),
		Threshold:                  float32(s.th.ProbScoreThreshold),
		ProportionOfFakesThreshold: float32(s.th.FakeProportionThreshold),
		ModelIdentifier:            s.th.ModelIdentifier,
		UseWinReverser:             s.useWinReverser,
		BackgroundRun:              s.req.Background,
		ArtifactLocation:           path,
	})
	return path
}
