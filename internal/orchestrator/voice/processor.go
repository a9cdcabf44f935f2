package voice

import (
	"context"
	"errors"
	"log/slog"
	"math"

	"github.com/GriffinCanCode/deepwatch/internal/audio"
	"github.com/GriffinCanCode/deepwatch/internal/rolling"
)

// Engine scores one window of normalized mono samples.
type Engine interface {
	Infer(ctx context.Context, window []float32, useWinReverser bool) (float32, error)
}

// Config for the voice processor
type Config struct {
	WindowSamples     int
	HopSamples        int // new samples between inferences; 0 means WindowSamples
	RollingWindowSize int
	MinimumAlertSize  int
	ProbThreshold     float64
	UseWinReverser    bool
}

func (c Config) withDefaults() Config {
	if c.WindowSamples <= 0 {
		c.WindowSamples = DefaultWindowSamples
	}
	if c.HopSamples <= 0 || c.HopSamples > c.WindowSamples {
		c.HopSamples = c.WindowSamples
	}
	if c.RollingWindowSize <= 0 {
		c.RollingWindowSize = DefaultRollingWindowSize
	}
	if c.MinimumAlertSize < 0 {
		c.MinimumAlertSize = DefaultMinimumAlertSize
	}
	return c
}

// Processor accumulates audio into model windows and tracks the score
// history. It belongs to a single session and is not safe for concurrent use.
type Processor struct {
	engine  Engine
	cfg     Config
	log     *slog.Logger
	window  *rolling.Buffer[float32]
	scores  *rolling.Buffer[float32]
	pending int // samples appended since the last inference
	rate    int
}

// NewProcessor creates a voice processor
func NewProcessor(engine Engine, cfg Config, log *slog.Logger) *Processor {
	cfg = cfg.withDefaults()
	if log == nil {
		log = slog.Default()
	}
	return &Processor{
		engine: engine,
		cfg:    cfg,
		log:    log,
		window: rolling.New[float32](cfg.WindowSamples),
		scores: rolling.New[float32](cfg.RollingWindowSize),
	}
}

// Poll takes at most one buffer from q and processes it.
func (p *Processor) Poll(ctx context.Context, q *audio.Queue) State {
	buf, ok := q.TryDequeue()
	if !ok {
		return NoChange{}
	}
	return p.Load(ctx, buf, q.Drained())
}

// Load appends buf to the window and runs inference once enough new audio
// has arrived. With noMoreIncoming set, a partial window is zero-padded and
// scored so the tail of a session is not lost.
func (p *Processor) Load(ctx context.Context, buf audio.Buffer, noMoreIncoming bool) State {
	samples, err := buf.Mono()
	if err != nil {
		p.log.Debug("rejecting audio buffer", "error", err)
		return NewInference{Outcome: Invalid{Reason: err.Error()}, ProportionOfFakes: p.ProportionOfFakes(), History: p.scores.Len()}
	}
	if p.rate != 0 && buf.Rate != p.rate {
		p.log.Warn("sample rate changed, discarding partial window", "from", p.rate, "to", buf.Rate)
		p.window.Clear()
		p.pending = 0
	}
	p.rate = buf.Rate

	p.window.AppendSlice(samples)
	p.pending += len(samples)

	ready := p.window.Full() && p.pending >= p.cfg.HopSamples
	if !ready && (!noMoreIncoming || p.pending == 0) {
		return NoAudio{}
	}
	return p.infer(ctx)
}

func (p *Processor) infer(ctx context.Context) State {
	window := make([]float32, p.cfg.WindowSamples)
	copy(window, p.window.Items())
	p.pending = 0

	score, err := p.engine.Infer(ctx, window, p.cfg.UseWinReverser)
	if err == nil && math.IsNaN(float64(score)) {
		err = errNaNScore
	}
	if err != nil {
		p.log.Warn("voice inference failed", "error", err)
		return NewInference{Outcome: Invalid{Reason: err.Error()}, ProportionOfFakes: p.ProportionOfFakes(), History: p.scores.Len()}
	}

	p.scores.Append(score)
	st := NewInference{Score: score, ProportionOfFakes: p.ProportionOfFakes(), History: p.scores.Len()}
	switch {
	case p.scores.Len() < p.cfg.MinimumAlertSize:
		st.Outcome = Analyzing{}
	case float64(score) > p.cfg.ProbThreshold:
		st.Outcome = DeepFake{Samples: window, Rate: p.rate, Score: score}
	default:
		st.Outcome = Real{Score: score}
	}
	return st
}

// ProportionOfFakes is the fraction of recent scores above the threshold.
func (p *Processor) ProportionOfFakes() float64 {
	return p.scores.Proportion(func(s float32) bool { return float64(s) > p.cfg.ProbThreshold })
}

// Scores returns the score history, oldest first.
func (p *Processor) Scores() []float32 { return p.scores.Items() }

// EmptyBuffers clears all rolling state.
func (p *Processor) EmptyBuffers() {
	p.window.Clear()
	p.scores.Clear()
	p.pending = 0
	p.rate = 0
}

var errNaNScore = errors.New("model returned NaN score")
