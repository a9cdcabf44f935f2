package server

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/GriffinCanCode/deepwatch/internal/audio"
	"github.com/GriffinCanCode/deepwatch/internal/detect"
	apperrors "github.com/GriffinCanCode/deepwatch/internal/errors"
	"github.com/GriffinCanCode/deepwatch/internal/orchestrator"
	"github.com/GriffinCanCode/deepwatch/internal/orchestrator/events"
	"github.com/GriffinCanCode/deepwatch/internal/store"
)

// fakeRunner emits one classification and the final notification. With
// block set it waits for cancellation in between.
type fakeRunner struct {
	mu        sync.Mutex
	busy      map[string]bool
	videoReqs []orchestrator.VideoRequest
	voiceReqs []orchestrator.VoiceRequest
	cancelled int
	block     bool
	err       error
	started   chan string
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{busy: map[string]bool{}, started: make(chan string, 8)}
}

func (f *fakeRunner) Busy(pipeline string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.busy[pipeline]
}

func (f *fakeRunner) RunVideoDetection(ctx context.Context, req orchestrator.VideoRequest, _ orchestrator.CaptureFunc, emit func(detect.VideoUpdate)) error {
	f.mu.Lock()
	f.videoReqs = append(f.videoReqs, req)
	f.mu.Unlock()
	f.started <- req.SessionID
	if f.err != nil {
		return f.err
	}
	emit(detect.FaceReal)
	f.wait(ctx)
	emit(detect.ResultNotification{IsLast: true, ResultPath: "summary.json"})
	return nil
}

func (f *fakeRunner) RunVoiceSession(ctx context.Context, req orchestrator.VoiceRequest, _ audio.Source, emit func(detect.VoiceUpdate)) error {
	f.mu.Lock()
	f.voiceReqs = append(f.voiceReqs, req)
	f.mu.Unlock()
	f.started <- req.SessionID
	if f.err != nil {
		return f.err
	}
	emit(detect.VoiceAnalyzing)
	emit(detect.VoiceGraphScore{Score: 0.3})
	f.wait(ctx)
	emit(detect.ResultNotification{IsLast: true, ResultPath: "summary.json"})
	return nil
}

func (f *fakeRunner) wait(ctx context.Context) {
	if !f.block {
		return
	}
	<-ctx.Done()
	f.mu.Lock()
	f.cancelled++
	f.mu.Unlock()
}

type fakeCleaner struct {
	days []int
	err  error
}

func (c *fakeCleaner) DeleteFilesFromDisk(_ context.Context, days int) (store.CleanupReport, error) {
	c.days = append(c.days, days)
	return store.CleanupReport{Faces: 2, Files: 3}, c.err
}

type silentSource struct{}

func (silentSource) Read(context.Context, time.Duration) (audio.Buffer, error) {
	return audio.FromFloat32(make([]float32, 16), 16000, 1), nil
}

func quiet() *slog.Logger { return slog.New(slog.DiscardHandler) }

func noCapture(context.Context) ([]image.Image, error) { return nil, nil }

func newTestServer(runner *fakeRunner, mutate func(*Options)) *Server {
	opts := Options{Runner: runner, Capture: noCapture, Logger: quiet()}
	if mutate != nil {
		mutate(&opts)
	}
	return New(opts)
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCORSMiddleware(t *testing.T) {
	handler := corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("OPTIONS", "/test", http.NoBody)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("OPTIONS status = %d, want %d", rec.Code, http.StatusOK)
	}
	if v := rec.Header().Get("Access-Control-Allow-Origin"); v != "*" {
		t.Errorf("CORS origin = %q, want %q", v, "*")
	}
	if v := rec.Header().Get("Access-Control-Allow-Methods"); v != "GET, POST, DELETE, OPTIONS" {
		t.Errorf("CORS methods = %q, want %q", v, "GET, POST, DELETE, OPTIONS")
	}
}

func TestVideoSessionStreamsEvents(t *testing.T) {
	runner := newFakeRunner()
	srv := newTestServer(runner, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("websocket.Dial error: %v", err)
	}
	defer func() { _ = conn.CloseNow() }()

	var ev events.Event
	if err := wsjson.Read(ctx, conn, &ev); err != nil {
		t.Fatalf("read history: %v", err)
	}
	if ev.Type != events.TypeGraphHistory || len(ev.History) != events.DefaultGraphHistory {
		t.Errorf("first event = %s with %d scores, want graph history", ev.Type, len(ev.History))
	}

	resp, err := http.Post(ts.URL+"/api/sessions/video", "application/json",
		strings.NewReader(`{"mode":"live_call","duration_seconds":2}`))
	if err != nil {
		t.Fatalf("POST error: %v", err)
	}
	var info SessionInfo
	_ = json.NewDecoder(resp.Body).Decode(&info)
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusAccepted)
	}
	if info.ID == "" || info.Pipeline != orchestrator.PipelineVideo || info.Mode != detect.ModeLiveCall {
		t.Errorf("session info = %+v", info)
	}

	wantTypes := []string{events.TypeFaceClassification, events.TypeResult}
	for i, want := range wantTypes {
		var got events.Event
		if err := wsjson.Read(ctx, conn, &got); err != nil {
			t.Fatalf("read event %d: %v", i, err)
		}
		if got.Type != want || got.SessionID != info.ID {
			t.Errorf("event %d = %s for %q, want %s for %q", i, got.Type, got.SessionID, want, info.ID)
		}
		if want == events.TypeResult && !got.IsLast {
			t.Error("result event should be last")
		}
	}

	runner.mu.Lock()
	defer runner.mu.Unlock()
	if len(runner.videoReqs) != 1 || runner.videoReqs[0].Duration != 2*time.Second {
		t.Errorf("video requests = %+v", runner.videoReqs)
	}
}

func TestListAndStopSession(t *testing.T) {
	runner := newFakeRunner()
	runner.block = true
	srv := newTestServer(runner, nil)
	h := srv.Handler()

	rec := do(t, h, "POST", "/api/sessions/video", `{"mode":"web_surfing"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("start status = %d: %s", rec.Code, rec.Body)
	}
	id := <-runner.started

	var list struct {
		Sessions []SessionInfo `json:"sessions"`
	}
	rec = do(t, h, "GET", "/api/sessions", "")
	_ = json.NewDecoder(rec.Body).Decode(&list)
	if len(list.Sessions) != 1 || list.Sessions[0].ID != id {
		t.Fatalf("sessions = %+v, want one with id %s", list.Sessions, id)
	}

	if rec := do(t, h, "DELETE", "/api/sessions/"+id, ""); rec.Code != http.StatusAccepted {
		t.Errorf("DELETE status = %d, want %d", rec.Code, http.StatusAccepted)
	}
	srv.Close()

	runner.mu.Lock()
	cancelled := runner.cancelled
	runner.mu.Unlock()
	if cancelled != 1 {
		t.Errorf("cancelled sessions = %d, want 1", cancelled)
	}

	rec = do(t, h, "GET", "/api/sessions", "")
	list.Sessions = nil
	_ = json.NewDecoder(rec.Body).Decode(&list)
	if len(list.Sessions) != 0 {
		t.Errorf("sessions after stop = %+v, want none", list.Sessions)
	}
}

func TestStopUnknownSession(t *testing.T) {
	srv := newTestServer(newFakeRunner(), nil)
	defer srv.Close()

	rec := do(t, srv.Handler(), "DELETE", "/api/sessions/nope", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestStartSessionRejected(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		body   string
		busy   string
		mutate func(*Options)
		want   int
		code   apperrors.Code
	}{
		{name: "unknown mode", path: "/api/sessions/video", body: `{"mode":"bogus"}`, want: http.StatusBadRequest, code: apperrors.CodeInvalidArgument},
		{name: "missing mode", path: "/api/sessions/voice", body: ``, want: http.StatusBadRequest, code: apperrors.CodeInvalidArgument},
		{name: "unknown field", path: "/api/sessions/video", body: `{"mode":"live_call","fps":3}`, want: http.StatusBadRequest, code: apperrors.CodeInvalidArgument},
		{name: "negative duration", path: "/api/sessions/video", body: `{"mode":"live_call","duration_seconds":-1}`, want: http.StatusBadRequest, code: apperrors.CodeInvalidArgument},
		{name: "video busy", path: "/api/sessions/video", body: `{"mode":"live_call"}`, busy: orchestrator.PipelineVideo, want: http.StatusConflict, code: apperrors.CodeSessionActive},
		{name: "voice busy", path: "/api/sessions/voice", body: `{"mode":"live_call"}`, busy: orchestrator.PipelineVoice, want: http.StatusConflict, code: apperrors.CodeSessionActive,
			mutate: func(o *Options) {
				o.OpenAudio = func() (audio.Source, func(), error) { return silentSource{}, func() {}, nil }
			}},
		{name: "no screen capture", path: "/api/sessions/video", body: `{"mode":"live_call"}`, want: http.StatusServiceUnavailable, code: apperrors.CodeUnavailable,
			mutate: func(o *Options) { o.Capture = nil }},
		{name: "no audio", path: "/api/sessions/voice", body: `{"mode":"live_call"}`, want: http.StatusServiceUnavailable, code: apperrors.CodeUnavailable},
		{name: "audio device fails", path: "/api/sessions/voice", body: `{"mode":"live_call"}`, want: http.StatusServiceUnavailable, code: apperrors.CodeCaptureFailed,
			mutate: func(o *Options) {
				o.OpenAudio = func() (audio.Source, func(), error) { return nil, nil, errors.New("no input device") }
			}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := newFakeRunner()
			if tt.busy != "" {
				runner.busy[tt.busy] = true
			}
			srv := newTestServer(runner, tt.mutate)
			defer srv.Close()

			rec := do(t, srv.Handler(), "POST", tt.path, tt.body)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", rec.Code, tt.want, rec.Body)
			}
			var body map[string]string
			_ = json.NewDecoder(rec.Body).Decode(&body)
			if body["code"] != string(tt.code) {
				t.Errorf("code = %q, want %q", body["code"], tt.code)
			}
			if n := len(runner.started); n != 0 {
				t.Errorf("sessions started = %d, want 0", n)
			}
		})
	}
}

func TestSessionErrorPublished(t *testing.T) {
	hub := events.NewHub(0, 0, quiet())
	updates, unsubscribe := hub.Subscribe()
	defer unsubscribe()
	<-updates

	runner := newFakeRunner()
	runner.err = apperrors.New(apperrors.CodeEnvironmentSetup, "model missing")
	srv := newTestServer(runner, func(o *Options) { o.Hub = hub })

	if rec := do(t, srv.Handler(), "POST", "/api/sessions/video", `{"mode":"live_call"}`); rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusAccepted)
	}
	srv.Close()

	ev := <-updates
	if ev.Type != events.TypeSessionError || ev.ErrorCode != string(apperrors.CodeEnvironmentSetup) {
		t.Errorf("event = %+v, want session error with setup code", ev)
	}
}

func TestVoiceSessionReleasesDevice(t *testing.T) {
	hub := events.NewHub(0, 0, quiet())
	updates, unsubscribe := hub.Subscribe()
	defer unsubscribe()
	<-updates

	released := 0
	runner := newFakeRunner()
	srv := newTestServer(runner, func(o *Options) {
		o.Hub = hub
		o.OpenAudio = func() (audio.Source, func(), error) {
			return silentSource{}, func() { released++ }, nil
		}
	})

	rec := do(t, srv.Handler(), "POST", "/api/sessions/voice", `{"mode":"web_surfing","capture_ms":250}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusAccepted)
	}
	srv.Close()

	if released != 1 {
		t.Errorf("device released %d times, want 1", released)
	}
	if got := runner.voiceReqs[0].CaptureDuration; got != 250*time.Millisecond {
		t.Errorf("CaptureDuration = %v, want 250ms", got)
	}

	wantTypes := []string{events.TypeVoiceClassification, events.TypeVoiceGraphScore, events.TypeResult}
	for i, want := range wantTypes {
		ev := <-updates
		if ev.Type != want || ev.Pipeline != orchestrator.PipelineVoice {
			t.Errorf("event %d = %s/%s, want %s/voice", i, ev.Pipeline, ev.Type, want)
		}
	}
	if got := hub.GraphHistory(); got[len(got)-1] != 0.3 {
		t.Errorf("latest graph score = %v, want 0.3", got[len(got)-1])
	}
}

func TestCleanup(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		cleaner  *fakeCleaner
		want     int
		wantDays int
	}{
		{name: "default retention", body: ``, cleaner: &fakeCleaner{}, want: http.StatusOK, wantDays: DefaultRetentionDays},
		{name: "explicit days", body: `{"days":7}`, cleaner: &fakeCleaner{}, want: http.StatusOK, wantDays: 7},
		{name: "zero days", body: `{"days":0}`, cleaner: &fakeCleaner{}, want: http.StatusOK, wantDays: 0},
		{name: "negative days", body: `{"days":-1}`, cleaner: &fakeCleaner{}, want: http.StatusBadRequest, wantDays: -1},
		{name: "store failure", body: `{"days":3}`, cleaner: &fakeCleaner{err: errors.New("db down")}, want: http.StatusInternalServerError, wantDays: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(newFakeRunner(), func(o *Options) { o.Cleaner = tt.cleaner })
			defer srv.Close()

			rec := do(t, srv.Handler(), "POST", "/api/results/cleanup", tt.body)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", rec.Code, tt.want, rec.Body)
			}
			if tt.wantDays < 0 {
				if len(tt.cleaner.days) != 0 {
					t.Error("cleaner should not run for a rejected request")
				}
				return
			}
			if len(tt.cleaner.days) != 1 || tt.cleaner.days[0] != tt.wantDays {
				t.Errorf("cleaner days = %v, want [%d]", tt.cleaner.days, tt.wantDays)
			}
			if tt.want == http.StatusOK {
				var rep store.CleanupReport
				_ = json.NewDecoder(rec.Body).Decode(&rep)
				if rep.Faces != 2 || rep.Files != 3 {
					t.Errorf("report = %+v", rep)
				}
			}
		})
	}
}

func TestCleanupWithoutStore(t *testing.T) {
	srv := newTestServer(newFakeRunner(), nil)
	defer srv.Close()

	if rec := do(t, srv.Handler(), "POST", "/api/results/cleanup", ``); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	runner := newFakeRunner()
	runner.busy[orchestrator.PipelineVoice] = true
	srv := newTestServer(runner, nil)
	defer srv.Close()
	h := srv.Handler()

	rec := do(t, h, "GET", "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status = %d", rec.Code)
	}
	var health map[string]any
	_ = json.NewDecoder(rec.Body).Decode(&health)
	if health["status"] != "ok" || health["voice_busy"] != true || health["video_busy"] != false {
		t.Errorf("health = %v", health)
	}
	if rec.Header().Get("X-Trace-ID") == "" {
		t.Error("responses should carry a trace id")
	}

	if rec := do(t, h, "GET", "/metrics", ""); rec.Code != http.StatusOK {
		t.Errorf("metrics status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestIPLimiter(t *testing.T) {
	now := time.Unix(1000, 0)
	l := newIPLimiter(2, time.Second)
	l.now = func() time.Time { return now }

	steps := []struct {
		ip   string
		want bool
	}{
		{"10.0.0.1", true},
		{"10.0.0.1", true},
		{"10.0.0.1", false},
		{"10.0.0.2", true},
	}
	for i, s := range steps {
		if got := l.allow(s.ip); got != s.want {
			t.Errorf("step %d: allow(%s) = %v, want %v", i, s.ip, got, s.want)
		}
	}

	now = now.Add(1100 * time.Millisecond)
	if !l.allow("10.0.0.1") {
		t.Error("window should slide after one second")
	}

	now = now.Add(IPRateLimitEntryTTL + IPRateLimitCleanupInterval)
	l.allow("10.0.0.3")
	if len(l.clients) != 1 {
		t.Errorf("clients after purge = %d, want 1", len(l.clients))
	}
}

func TestRateLimitedStart(t *testing.T) {
	runner := newFakeRunner()
	runner.busy[orchestrator.PipelineVideo] = true
	srv := newTestServer(runner, nil)
	defer srv.Close()
	h := srv.Handler()

	var last int
	for range IPRateLimitRequests + 1 {
		last = do(t, h, "POST", "/api/sessions/video", `{"mode":"live_call"}`).Code
	}
	if last != http.StatusTooManyRequests {
		t.Errorf("status after %d requests = %d, want %d", IPRateLimitRequests+1, last, http.StatusTooManyRequests)
	}
}
