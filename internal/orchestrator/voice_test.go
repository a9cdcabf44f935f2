package orchestrator

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/GriffinCanCode/deepwatch/internal/audio"
	"github.com/GriffinCanCode/deepwatch/internal/detect"
	apperrors "github.com/GriffinCanCode/deepwatch/internal/errors"
)

func window(v float32) audio.Buffer {
	return audio.FromFloat32([]float32{v, v, v, v}, 16000, 1)
}

func filledQueue(n int) *audio.Queue {
	q := audio.NewQueue(n)
	for range n {
		q.TryEnqueue(window(0.1))
	}
	q.Close()
	return q
}

// Scores [0.9 0.95 0.1 0.92 0.93], threshold 0.5, proportion threshold 0.6,
// window 5, minimum alert 3.
func TestVoiceDetectionScenario(t *testing.T) {
	engine := &fakeVoice{scores: []float32{0.9, 0.95, 0.1, 0.92, 0.93}}
	h := newHarness(t, nil, engine)
	var rec recorder[detect.VoiceUpdate]

	err := h.m.RunVoiceDetection(context.Background(), VoiceRequest{SessionID: "a1", Mode: detect.ModeWebSurfing}, filledQueue(5), rec.emit)
	if err != nil {
		t.Fatalf("RunVoiceDetection() error = %v", err)
	}

	want := []detect.VoiceUpdate{
		detect.VoiceAnalyzing, detect.VoiceGraphScore{Score: 0.9},
		detect.VoiceAnalyzing, detect.VoiceGraphScore{Score: 0.95},
		detect.VoiceDeepfake, detect.VoiceGraphScore{Score: 0.1},
		detect.VoiceDeepfake, detect.VoiceGraphScore{Score: 0.92}, nil,
		detect.VoiceDeepfake, detect.VoiceGraphScore{Score: 0.93}, nil,
		nil,
	}
	got := rec.all()
	if len(got) != len(want) {
		t.Fatalf("updates = %d %v, want %d", len(got), got, len(want))
	}
	for i := range want {
		if want[i] == nil {
			if _, ok := got[i].(detect.ResultNotification); !ok {
				t.Errorf("update %d = %#v, want a ResultNotification", i, got[i])
			}
			continue
		}
		if got[i] != want[i] {
			t.Errorf("update %d = %#v, want %#v", i, got[i], want[i])
		}
	}
	if n, last := finalCount(got); n != 1 || !last {
		t.Fatalf("final notifications = %d, last = %v", n, last)
	}

	voices, _ := h.mem.Voices(context.Background())
	if len(voices) != 2 {
		t.Fatalf("stored voices = %d, want 2 flagged windows", len(voices))
	}
	for _, v := range voices {
		if _, err := os.Stat(v.ArtifactLocation); err != nil {
			t.Errorf("clip %s missing: %v", v.ArtifactLocation, err)
		}
		if v.ModelIdentifier != "voice-test" || v.Threshold != 0.5 {
			t.Errorf("voice record = %+v", v)
		}
	}
	if setups, clears := engine.counts(); setups != 1 || clears != 1 {
		t.Errorf("setup/clear = %d/%d, want 1/1", setups, clears)
	}
}

func TestVoiceCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var rec recorder[detect.VoiceUpdate]
	cancelledAt := -1
	engine := &fakeVoice{scores: []float32{0.9}, onInfer: func(_ context.Context, call int) error {
		if call == 2 {
			cancelledAt = len(rec.all())
			cancel()
		}
		return nil
	}}
	h := newHarness(t, nil, engine)

	q := audio.NewQueue(8)
	for range 8 {
		q.TryEnqueue(window(0.2))
	}
	if err := h.m.RunVoiceDetection(ctx, VoiceRequest{Mode: detect.ModeWebSurfing}, q, rec.emit); err != nil {
		t.Fatal(err)
	}

	updates := rec.all()
	if cancelledAt != 2 {
		t.Fatalf("updates before cancel = %d, want 2", cancelledAt)
	}
	if len(updates)-cancelledAt != 1 {
		t.Errorf("%d updates after cancellation, want only the final one", len(updates)-cancelledAt)
	}
	if n, last := finalCount(updates); n != 1 || !last {
		t.Errorf("final notifications = %d, last = %v", n, last)
	}
}

func TestVoiceSetupFailure(t *testing.T) {
	engine := &fakeVoice{scores: []float32{0.5}}
	engine.setupErr = errors.New("no model")
	h := newHarness(t, nil, engine)
	var rec recorder[detect.VoiceUpdate]

	err := h.m.RunVoiceDetection(context.Background(), VoiceRequest{Mode: detect.ModeLiveCall}, filledQueue(1), rec.emit)
	if !apperrors.IsCode(err, apperrors.CodeEnvironmentSetup) {
		t.Fatalf("RunVoiceDetection() = %v, want ENVIRONMENT_SETUP_FAILED", err)
	}
	if len(rec.all()) != 0 {
		t.Errorf("updates = %v, want none", rec.all())
	}
	if engine.calls != 0 {
		t.Error("engine must not infer after a failed setup")
	}
}

func TestVoiceSessionActive(t *testing.T) {
	h := newHarness(t, nil, &fakeVoice{scores: []float32{0.5}})
	release, err := h.m.acquire(h.m.voiceBusy, PipelineVoice)
	if err != nil {
		t.Fatal(err)
	}
	defer release()

	err = h.m.RunVoiceDetection(context.Background(), VoiceRequest{Mode: detect.ModeLiveCall}, filledQueue(1), func(detect.VoiceUpdate) {})
	if !apperrors.IsCode(err, apperrors.CodeSessionActive) {
		t.Errorf("RunVoiceDetection() = %v, want SESSION_ACTIVE", err)
	}

	release()
	if _, err := h.m.acquire(h.m.voiceBusy, PipelineVoice); err != nil {
		t.Errorf("lease should be free after release: %v", err)
	}
}

// instantSource returns a 4-sample buffer on every read, or err.
type instantSource struct{ err error }

func (s instantSource) Read(ctx context.Context, _ time.Duration) (audio.Buffer, error) {
	if s.err != nil {
		return audio.Buffer{}, s.err
	}
	return window(0.3), nil
}

func TestVoiceSessionSaturation(t *testing.T) {
	// The first inference blocks until the session is cancelled, so the
	// producer overruns the two-slot queue.
	engine := &fakeVoice{scores: []float32{0.9}, onInfer: func(ctx context.Context, _ int) error {
		<-ctx.Done()
		return ctx.Err()
	}}
	h := newHarness(t, nil, engine)
	var rec recorder[detect.VoiceUpdate]

	err := h.m.RunVoiceSession(context.Background(), VoiceRequest{Mode: detect.ModeWebSurfing, CaptureDuration: time.Millisecond}, instantSource{}, rec.emit)
	if err != nil {
		t.Fatalf("RunVoiceSession() = %v, want nil on saturation", err)
	}
	updates := rec.all()
	if n, last := finalCount(updates); len(updates) != 1 || n != 1 || !last {
		t.Errorf("updates = %v, want only the final notification", updates)
	}
	if h.m.Busy(PipelineVoice) {
		t.Error("engine lease should be released")
	}
}

func TestVoiceSessionCaptureFailure(t *testing.T) {
	engine := &fakeVoice{scores: []float32{0.5}}
	h := newHarness(t, nil, engine)
	var rec recorder[detect.VoiceUpdate]

	devErr := errors.New("microphone unplugged")
	err := h.m.RunVoiceSession(context.Background(), VoiceRequest{Mode: detect.ModeWebSurfing}, instantSource{err: devErr}, rec.emit)
	if !apperrors.IsCode(err, apperrors.CodeCaptureFailed) || !errors.Is(err, devErr) {
		t.Fatalf("RunVoiceSession() = %v, want CAPTURE_FAILED", err)
	}
	if n, last := finalCount(rec.all()); n != 1 || !last {
		t.Errorf("final notifications = %d, last = %v", n, last)
	}
}

func TestVoiceSessionDuration(t *testing.T) {
	engine := &fakeVoice{scores: []float32{0.2}}
	h := newHarness(t, nil, engine)
	h.m.queueSize = DefaultAudioQueueSize
	var rec recorder[detect.VoiceUpdate]

	src := pacedSource{every: 2 * time.Millisecond}
	err := h.m.RunVoiceSession(context.Background(), VoiceRequest{Mode: detect.ModeLiveCall, Duration: 40 * time.Millisecond}, src, rec.emit)
	if err != nil {
		t.Fatalf("RunVoiceSession() = %v", err)
	}
	updates := rec.all()
	if n, last := finalCount(updates); n != 1 || !last {
		t.Fatalf("final notifications = %d, last = %v", n, last)
	}
	if len(updates) < 2 {
		t.Error("expected window updates before the final notification")
	}
}

// pacedSource returns one window per interval, like a real device.
type pacedSource struct{ every time.Duration }

func (s pacedSource) Read(ctx context.Context, _ time.Duration) (audio.Buffer, error) {
	select {
	case <-ctx.Done():
		return audio.Buffer{}, ctx.Err()
	case <-time.After(s.every):
		return window(0.3), nil
	}
}
