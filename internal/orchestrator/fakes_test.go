package orchestrator

import (
	"context"
	"image"
	"image/color"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/GriffinCanCode/deepwatch/internal/config"
	"github.com/GriffinCanCode/deepwatch/internal/detect"
	"github.com/GriffinCanCode/deepwatch/internal/observe"
	"github.com/GriffinCanCode/deepwatch/internal/orchestrator/face"
	"github.com/GriffinCanCode/deepwatch/internal/orchestrator/records"
	"github.com/GriffinCanCode/deepwatch/internal/results"
	"github.com/GriffinCanCode/deepwatch/internal/store"
)

// engineCalls counts the lifecycle calls shared by both fake engines.
type engineCalls struct {
	mu       sync.Mutex
	setupErr error
	setups   []string
	clears   int
}

func (e *engineCalls) Setup(_ context.Context, modelID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.setups = append(e.setups, modelID)
	return e.setupErr
}

func (e *engineCalls) Clear(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.clears++
	return nil
}

func (e *engineCalls) counts() (int, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.setups), e.clears
}

// fakeVision finds one centered face per frame with a solid mask and
// scores every face with score.
type fakeVision struct {
	engineCalls
	score float32
}

func (f *fakeVision) DetectFaces(_ context.Context, frame image.Image, _, _ int) ([]face.Region, error) {
	b := frame.Bounds()
	box := image.Rect(b.Dx()/4, b.Dy()/4, 3*b.Dx()/4, 3*b.Dy()/4)
	mask := image.NewGray(image.Rect(0, 0, box.Dx(), box.Dy()))
	for i := range mask.Pix {
		mask.Pix[i] = 255
	}
	return []face.Region{{Box: box, Mask: mask}}, nil
}

func (f *fakeVision) ScoreFace(context.Context, image.Image) (float32, error) {
	return f.score, nil
}

// fakeVoice returns scores in order; onInfer runs before each result.
type fakeVoice struct {
	engineCalls
	scores  []float32
	calls   int
	onInfer func(ctx context.Context, call int) error
}

func (f *fakeVoice) Infer(ctx context.Context, _ []float32, _ bool) (float32, error) {
	f.calls++
	if f.onInfer != nil {
		if err := f.onInfer(ctx, f.calls); err != nil {
			return 0, err
		}
	}
	return f.scores[(f.calls-1)%len(f.scores)], nil
}

func testDetection() config.Detection {
	det := config.DefaultDetection()
	det.Voice.WindowSamples = 4
	det.Voice.RollingWindowSize = 5
	det.Voice.MinimumAlertSize = 3
	det.Voice.Generic = config.VoiceThresholds{ModelIdentifier: "voice-test", ProbScoreThreshold: 0.5, FakeProportionThreshold: 0.6}
	det.Video.FaceInputSize = 16
	det.Video.DetectionSize = 64
	det.Video.RollingWindowMinimumAlertSize = 3
	det.Video.RollingWindowExpiryDuration = 0.06 // about six captures at 100 per second
	det.Video.RollingWindowCooldownDuration = 60
	det.Video.Generic = config.VideoThresholds{
		ModelIdentifier: "video-test", ProbFakeThreshold: 0.6,
		FakeAndContourThreshold: 1.0, MaskThreshold: 0.4, FakeProportionThreshold: 0.5,
	}
	return det
}

type harness struct {
	m      *Manager
	mem    *store.Memory
	dir    string
	sleeps []time.Duration
}

func newHarness(t *testing.T, vision VisionEngine, voice VoiceEngine) *harness {
	t.Helper()
	log := slog.New(slog.DiscardHandler)
	h := &harness{mem: store.NewMemory(), dir: t.TempDir()}
	h.m = New(Options{
		Vision:          vision,
		Voice:           voice,
		Detection:       testDetection(),
		Records:         records.NewBatcher(h.mem, 0, time.Hour, log),
		Results:         results.NewWriter(h.dir, false, observe.Discard(), log),
		Logger:          log,
		CaptureInterval: 10 * time.Millisecond,
		AudioQueueSize:  2,
	})
	h.m.sleep = func(d time.Duration) { h.sleeps = append(h.sleeps, d) }
	return h
}

// recorder collects updates of either pipeline in order.
type recorder[T any] struct {
	mu      sync.Mutex
	updates []T
}

func (r *recorder[T]) emit(u T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
}

func (r *recorder[T]) all() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]T(nil), r.updates...)
}

// finalCount returns how many updates are final notifications and whether
// the last update is one.
func finalCount[T any](updates []T) (int, bool) {
	n := 0
	for _, u := range updates {
		if r, ok := any(u).(detect.ResultNotification); ok && r.IsLast {
			n++
		}
	}
	if len(updates) == 0 {
		return n, false
	}
	r, ok := any(updates[len(updates)-1]).(detect.ResultNotification)
	return n, ok && r.IsLast
}

func grayFrame() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := range 64 {
		for x := range 64 {
			img.Set(x, y, color.Gray{Y: 128})
		}
	}
	return img
}
