// Package observe holds the OpenTelemetry instruments of detection sessions.
//
// Instruments are created from an injected metric.MeterProvider. InitProvider
// installs a provider that bridges them to the Prometheus /metrics endpoint;
// tests pass a provider with a ManualReader.
package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "github.com/GriffinCanCode/deepwatch"

// Metrics holds every instrument. All fields are safe for concurrent use.
type Metrics struct {
	// InferenceDuration tracks model server latency, by "kind" (detect_faces,
	// score_face, score_voice) and "status".
	InferenceDuration metric.Float64Histogram

	// Verdicts counts emitted classification changes, by "pipeline" and "verdict".
	Verdicts metric.Int64Counter

	// ActiveSessions tracks running sessions, by "pipeline".
	ActiveSessions metric.Int64UpDownCounter

	// FramesCaptured counts display captures fed to the video loop.
	FramesCaptured metric.Int64Counter

	// QueueSaturations counts voice sessions stopped by a full capture queue.
	QueueSaturations metric.Int64Counter

	// ArtifactsWritten counts files written to the results directory, by "kind".
	ArtifactsWritten metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes, by "breaker" and "to".
	BreakerTransitions metric.Int64Counter
}

var latencyBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5}

// NewMetrics creates the instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.InferenceDuration, err = m.Float64Histogram("deepwatch.inference.duration",
		metric.WithDescription("Latency of calls to the model server."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Verdicts, err = m.Int64Counter("deepwatch.verdicts",
		metric.WithDescription("Session verdict changes."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("deepwatch.sessions.active",
		metric.WithDescription("Detection sessions currently running."),
	); err != nil {
		return nil, err
	}
	if met.FramesCaptured, err = m.Int64Counter("deepwatch.frames.captured",
		metric.WithDescription("Display captures analysed."),
	); err != nil {
		return nil, err
	}
	if met.QueueSaturations, err = m.Int64Counter("deepwatch.audio.queue_saturations",
		metric.WithDescription("Voice sessions ended by a saturated capture queue."),
	); err != nil {
		return nil, err
	}
	if met.ArtifactsWritten, err = m.Int64Counter("deepwatch.artifacts.written",
		metric.WithDescription("Result files written."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("deepwatch.breaker.transitions",
		metric.WithDescription("Circuit breaker state changes."),
	); err != nil {
		return nil, err
	}
	return met, nil
}

// Discard returns instruments that record nothing.
func Discard() *Metrics {
	m, _ := NewMetrics(noop.NewMeterProvider())
	return m
}

// RecordInference observes one model call started at start.
func (m *Metrics) RecordInference(ctx context.Context, kind string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.InferenceDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("status", status),
	))
}

// RecordVerdict counts a verdict change of pipeline ("video" or "voice").
func (m *Metrics) RecordVerdict(ctx context.Context, pipeline, verdict string) {
	m.Verdicts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("pipeline", pipeline),
		attribute.String("verdict", verdict),
	))
}

// SessionStarted marks a session of pipeline as running and returns the
// function that marks it finished.
func (m *Metrics) SessionStarted(ctx context.Context, pipeline string) func() {
	attrs := metric.WithAttributes(attribute.String("pipeline", pipeline))
	m.ActiveSessions.Add(ctx, 1, attrs)
	return func() { m.ActiveSessions.Add(context.WithoutCancel(ctx), -1, attrs) }
}

// RecordArtifact counts one written result file of kind.
func (m *Metrics) RecordArtifact(ctx context.Context, kind string) {
	m.ArtifactsWritten.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordBreaker counts a breaker moving to state to.
func (m *Metrics) RecordBreaker(name, to string) {
	m.BreakerTransitions.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("breaker", name),
		attribute.String("to", to),
	))
}

// RecordFrames counts n display captures.
func (m *Metrics) RecordFrames(ctx context.Context, n int) {
	m.FramesCaptured.Add(ctx, int64(n))
}

// RecordSaturation counts a voice session stopped by its capture queue.
func (m *Metrics) RecordSaturation(ctx context.Context) {
	m.QueueSaturations.Add(ctx, 1)
}
