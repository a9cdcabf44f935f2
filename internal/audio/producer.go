package audio

import (
	"context"
	"errors"
	"log/slog"
	"time"

	apperrors "github.com/GriffinCanCode/deepwatch/internal/errors"
)

// ErrQueueSaturated is the cancellation cause set when the consumer falls
// behind and the queue rejects a buffer.
var ErrQueueSaturated = apperrors.New(apperrors.CodeQueueSaturated, "audio queue saturated")

// Source reads one fixed-duration block of audio.
type Source interface {
	Read(ctx context.Context, d time.Duration) (Buffer, error)
}

// ProducerConfig configures RunProducer.
type ProducerConfig struct {
	CaptureDuration time.Duration
	Logger          *slog.Logger
	OnSaturated     func()
}

// RunProducer reads from src and enqueues into q until ctx ends. The queue is
// closed on return so the consumer can flush its last partial window.
//
// A rejected enqueue cancels the session with ErrQueueSaturated and returns
// nil. A read failure cancels the session with the failure and returns it as
// a CodeCaptureFailed error.
func RunProducer(ctx context.Context, cancel context.CancelCauseFunc, src Source, q *Queue, cfg ProducerConfig) error {
	defer q.Close()
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	if cfg.CaptureDuration <= 0 {
		cfg.CaptureDuration = time.Second
	}

	for ctx.Err() == nil {
		buf, err := src.Read(ctx, cfg.CaptureDuration)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			capErr := apperrors.Wrap(err, apperrors.CodeCaptureFailed, "audio capture read")
			cancel(capErr)
			return capErr
		}

		if !q.TryEnqueue(buf) {
			log.Warn("audio queue saturated, stopping session", "queued", q.Len(), "capacity", q.Cap())
			if cfg.OnSaturated != nil {
				cfg.OnSaturated()
			}
			cancel(ErrQueueSaturated)
			return nil
		}
	}
	return nil
}
