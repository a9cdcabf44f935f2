package records

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/GriffinCanCode/deepwatch/internal/store"
	"github.com/GriffinCanCode/deepwatch/internal/trace"
)

// Batcher accumulates face and voice records and writes them in batches.
type Batcher struct {
	rec        store.Recorder
	maxSize    int
	flushDelay time.Duration
	log        *slog.Logger

	mu     sync.Mutex
	faces  []store.Face
	voices []store.Voice
	timer  *time.Timer
	errs   []error
	wg     sync.WaitGroup
}

// NewBatcher creates a record batcher.
func NewBatcher(rec store.Recorder, maxSize int, flushDelay time.Duration, log *slog.Logger) *Batcher {
	if maxSize <= 0 {
		maxSize = DefaultBatcherMaxSize
	}
	if flushDelay <= 0 {
		flushDelay = DefaultBatcherFlushDelay
	}
	if log == nil {
		log = slog.Default()
	}
	return &Batcher{rec: rec, maxSize: maxSize, flushDelay: flushDelay, log: log}
}

// AddFace queues a face record.
func (b *Batcher) AddFace(f store.Face) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.faces = append(b.faces, f)
	b.scheduleLocked()
}

// AddVoice queues a voice record.
func (b *Batcher) AddVoice(v store.Voice) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.voices = append(b.voices, v)
	b.scheduleLocked()
}

// Pending returns the number of queued records.
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.faces) + len(b.voices)
}

func (b *Batcher) scheduleLocked() {
	if len(b.faces)+len(b.voices) >= b.maxSize {
		b.flushLocked()
		return
	}
	// Start or reset timer for delayed flush
	if b.timer == nil {
		b.timer = time.AfterFunc(b.flushDelay, b.timerFlush)
	} else {
		b.timer.Reset(b.flushDelay)
	}
}

func (b *Batcher) timerFlush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flushLocked()
}

func (b *Batcher) takeLocked() ([]store.Face, []store.Voice) {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	faces, voices := b.faces, b.voices
	b.faces, b.voices = nil, nil
	return faces, voices
}

func (b *Batcher) flushLocked() {
	faces, voices := b.takeLocked()
	if len(faces)+len(voices) == 0 {
		return
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), FlushTimeout)
		defer cancel()
		if err := b.write(ctx, faces, voices); err != nil {
			b.mu.Lock()
			b.errs = append(b.errs, err)
			b.mu.Unlock()
		}
	}()
}

func (b *Batcher) write(ctx context.Context, faces []store.Face, voices []store.Voice) error {
	ctx, span := trace.StartSpan(ctx, "records_flush")
	log := trace.Logger(ctx, b.log)

	var errs []error
	for _, f := range faces {
		if _, err := b.rec.InsertFace(ctx, f); err != nil {
			errs = append(errs, fmt.Errorf("insert face: %w", err))
		}
	}
	for _, v := range voices {
		if _, err := b.rec.InsertVoice(ctx, v); err != nil {
			errs = append(errs, fmt.Errorf("insert voice: %w", err))
		}
	}
	err := errors.Join(errs...)
	span.Finish(err)
	if err != nil {
		log.Warn("record batch failed", "error", err, "faces", len(faces), "voices", len(voices))
	} else {
		log.Debug("record batch stored", "faces", len(faces), "voices", len(voices), "duration", span.Duration())
	}
	return err
}

// Flush writes every queued record, waits for background batches and
// returns the failures seen since the previous Flush.
func (b *Batcher) Flush(ctx context.Context) error {
	b.mu.Lock()
	faces, voices := b.takeLocked()
	b.mu.Unlock()

	b.wg.Wait()
	var err error
	if len(faces)+len(voices) > 0 {
		err = b.write(ctx, faces, voices)
	}

	b.mu.Lock()
	errs := append(b.errs, err)
	b.errs = nil
	b.mu.Unlock()
	return errors.Join(errs...)
}
