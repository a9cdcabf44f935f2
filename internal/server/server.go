package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/GriffinCanCode/deepwatch/internal/audio"
	"github.com/GriffinCanCode/deepwatch/internal/detect"
	apperrors "github.com/GriffinCanCode/deepwatch/internal/errors"
	"github.com/GriffinCanCode/deepwatch/internal/orchestrator"
	"github.com/GriffinCanCode/deepwatch/internal/orchestrator/events"
	"github.com/GriffinCanCode/deepwatch/internal/store"
	"github.com/GriffinCanCode/deepwatch/internal/trace"
)

// Runner runs detection sessions; *orchestrator.Manager implements it.
type Runner interface {
	Busy(pipeline string) bool
	RunVideoDetection(ctx context.Context, req orchestrator.VideoRequest, capture orchestrator.CaptureFunc, emit func(detect.VideoUpdate)) error
	RunVoiceSession(ctx context.Context, req orchestrator.VoiceRequest, src audio.Source, emit func(detect.VoiceUpdate)) error
}

// Cleaner removes artifacts of old records.
type Cleaner interface {
	DeleteFilesFromDisk(ctx context.Context, days int) (store.CleanupReport, error)
}

// AudioOpener opens the capture device for one voice session. The returned
// func releases the device.
type AudioOpener func() (audio.Source, func(), error)

// Options configures a Server. Capture, OpenAudio and Cleaner are optional;
// the endpoints that need them answer 503 without them.
type Options struct {
	Runner        Runner
	Hub           *events.Hub
	Capture       orchestrator.CaptureFunc
	OpenAudio     AudioOpener
	Cleaner       Cleaner
	RetentionDays int
	Logger        *slog.Logger
}

// SessionInfo describes a running session.
type SessionInfo struct {
	ID         string      `json:"id"`
	Pipeline   string      `json:"pipeline"`
	Mode       detect.Mode `json:"mode"`
	Background bool        `json:"background"`
	StartedAt  time.Time   `json:"started_at"`
}

// sessionRequest is the body of POST /api/sessions/{video,voice}.
type sessionRequest struct {
	Mode            string  `json:"mode"`
	Background      bool    `json:"background"`
	DurationSeconds float64 `json:"duration_seconds"`
	CaptureMillis   int     `json:"capture_ms"`
}

func (r sessionRequest) duration() time.Duration {
	return time.Duration(r.DurationSeconds * float64(time.Second))
}

type session struct {
	info   SessionInfo
	cancel context.CancelFunc
}

// Server handles HTTP and WebSocket connections.
type Server struct {
	opts    Options
	hub     *events.Hub
	log     *slog.Logger
	limiter *ipLimiter

	ctx  context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	mu       sync.RWMutex
	sessions map[string]*session
}

// New creates a new server.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Hub == nil {
		opts.Hub = events.NewHub(0, 0, opts.Logger)
	}
	if opts.RetentionDays <= 0 {
		opts.RetentionDays = DefaultRetentionDays
	}
	ctx, stop := context.WithCancel(context.Background())
	return &Server{
		opts:     opts,
		hub:      opts.Hub,
		log:      opts.Logger,
		limiter:  newIPLimiter(IPRateLimitRequests, IPRateLimitWindow),
		ctx:      ctx,
		stop:     stop,
		sessions: make(map[string]*session),
	}
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// WebSocket endpoint
	mux.HandleFunc("/ws", s.handleWebSocket)

	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", s.handleHealth)

	// REST API
	mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	mux.Handle("POST /api/sessions/video", s.limiter.middleware(s.handleStartVideo))
	mux.Handle("POST /api/sessions/voice", s.limiter.middleware(s.handleStartVoice))
	mux.HandleFunc("DELETE /api/sessions/{id}", s.handleStopSession)
	mux.HandleFunc("POST /api/results/cleanup", s.handleCleanup)

	// Apply middleware: trace -> CORS
	return corsMiddleware(trace.Middleware(mux))
}

// Close cancels every running session and waits for them to finish,
// including their final notifications.
func (s *Server) Close() {
	s.stop()
	s.wg.Wait()
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	log := trace.Logger(r.Context(), s.log)
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		log.Error("websocket accept error", "error", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	// Clients only listen; CloseRead handles control frames and ends ctx
	// when the peer goes away.
	ctx := conn.CloseRead(r.Context())
	updates, unsubscribe := s.hub.Subscribe()
	defer unsubscribe()

	log.Info("websocket connected", "remote", r.RemoteAddr)
	for {
		select {
		case <-ctx.Done():
			log.Debug("websocket closed", "remote", r.RemoteAddr)
			return
		case <-s.ctx.Done():
			_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
			return
		case ev, ok := <-updates:
			if !ok {
				log.Warn("websocket subscriber dropped", "remote", r.RemoteAddr)
				_ = conn.Close(websocket.StatusTryAgainLater, "subscriber too slow")
				return
			}
			wctx, cancel := context.WithTimeout(ctx, WSWriteTimeout)
			err := wsjson.Write(wctx, conn, ev)
			cancel()
			if err != nil {
				log.Debug("websocket write error", "error", err)
				return
			}
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"video_busy":  s.opts.Runner.Busy(orchestrator.PipelineVideo),
		"voice_busy":  s.opts.Runner.Busy(orchestrator.PipelineVoice),
		"sessions":    s.sessionCount(),
		"subscribers": s.hub.Subscribers(),
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	list := make([]SessionInfo, 0, len(s.sessions))
	for _, sess := range s.sessions {
		list = append(list, sess.info)
	}
	s.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool { return list[i].StartedAt.Before(list[j].StartedAt) })
	writeJSON(w, http.StatusOK, map[string]any{"sessions": list})
}

func (s *Server) handleStartVideo(w http.ResponseWriter, r *http.Request) {
	req, mode, err := decodeSessionRequest(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	if s.opts.Capture == nil {
		writeError(w, apperrors.New(apperrors.CodeUnavailable, "screen capture is not available"))
		return
	}
	if err := s.checkIdle(orchestrator.PipelineVideo); err != nil {
		writeError(w, err)
		return
	}

	info := s.newInfo(orchestrator.PipelineVideo, mode, req.Background)
	vr := orchestrator.VideoRequest{SessionID: info.ID, Mode: mode, Background: req.Background, Duration: req.duration()}
	s.launch(info, func(ctx context.Context) error {
		return s.opts.Runner.RunVideoDetection(ctx, vr, s.opts.Capture, func(u detect.VideoUpdate) {
			s.publish(events.FromVideo(info.ID, u))
		})
	})
	trace.Logger(r.Context(), s.log).Info("video session started", "session", info.ID, "mode", mode)
	writeJSON(w, http.StatusAccepted, info)
}

func (s *Server) handleStartVoice(w http.ResponseWriter, r *http.Request) {
	req, mode, err := decodeSessionRequest(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	if s.opts.OpenAudio == nil {
		writeError(w, apperrors.New(apperrors.CodeUnavailable, "audio capture is not available"))
		return
	}
	if err := s.checkIdle(orchestrator.PipelineVoice); err != nil {
		writeError(w, err)
		return
	}
	src, release, err := s.opts.OpenAudio()
	if err != nil {
		writeError(w, apperrors.Wrap(err, apperrors.CodeCaptureFailed, "open audio device"))
		return
	}

	info := s.newInfo(orchestrator.PipelineVoice, mode, req.Background)
	vr := orchestrator.VoiceRequest{
		SessionID:       info.ID,
		Mode:            mode,
		Background:      req.Background,
		Duration:        req.duration(),
		CaptureDuration: time.Duration(req.CaptureMillis) * time.Millisecond,
	}
	s.launch(info, func(ctx context.Context) error {
		defer release()
		return s.opts.Runner.RunVoiceSession(ctx, vr, src, func(u detect.VoiceUpdate) {
			s.publish(events.FromVoice(info.ID, u))
		})
	})
	trace.Logger(r.Context(), s.log).Info("voice session started", "session", info.ID, "mode", mode)
	writeJSON(w, http.StatusAccepted, info)
}

// handleStopSession cancels a running session. The session still delivers
// its final notification.
func (s *Server) handleStopSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		writeError(w, apperrors.Newf(apperrors.CodeNotFound, "no running session %q", id))
		return
	}
	sess.cancel()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "stopping", "id": id})
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	if s.opts.Cleaner == nil {
		writeError(w, apperrors.New(apperrors.CodeUnavailable, "no record store configured"))
		return
	}
	var body struct {
		Days *int `json:"days"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, err)
		return
	}
	days := s.opts.RetentionDays
	if body.Days != nil {
		days = *body.Days
	}
	if days < 0 {
		writeError(w, apperrors.Newf(apperrors.CodeInvalidArgument, "days must not be negative, got %d", days))
		return
	}

	rep, err := s.opts.Cleaner.DeleteFilesFromDisk(r.Context(), days)
	if err != nil {
		writeError(w, apperrors.Wrap(err, apperrors.CodeStorageFailed, "cleanup failed"))
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) checkIdle(pipeline string) error {
	if s.opts.Runner.Busy(pipeline) {
		return apperrors.Newf(apperrors.CodeSessionActive, "a %s session is already running", pipeline)
	}
	return nil
}

func (s *Server) newInfo(pipeline string, mode detect.Mode, background bool) SessionInfo {
	return SessionInfo{
		ID:         uuid.NewString(),
		Pipeline:   pipeline,
		Mode:       mode,
		Background: background,
		StartedAt:  time.Now(),
	}
}

// launch runs a session in the background under the server's lifetime.
func (s *Server) launch(info SessionInfo, run func(context.Context) error) {
	ctx, cancel := context.WithCancel(s.ctx)
	s.mu.Lock()
	s.sessions[info.ID] = &session{info: info, cancel: cancel}
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()

		err := run(ctx)

		s.mu.Lock()
		delete(s.sessions, info.ID)
		s.mu.Unlock()

		if err != nil {
			s.log.Warn("session ended with error", "session", info.ID, "pipeline", info.Pipeline, "error", err)
			s.hub.Publish(events.SessionError(info.ID, info.Pipeline, err))
			return
		}
		s.log.Info("session ended", "session", info.ID, "pipeline", info.Pipeline)
	}()
}

func (s *Server) publish(ev events.Event, err error) {
	if err != nil {
		s.log.Error("dropping update", "error", err)
		return
	}
	s.hub.Publish(ev)
}

func (s *Server) sessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func decodeSessionRequest(w http.ResponseWriter, r *http.Request) (sessionRequest, detect.Mode, error) {
	var req sessionRequest
	if err := decodeBody(w, r, &req); err != nil {
		return req, "", err
	}
	mode, err := detect.ParseMode(req.Mode)
	if err != nil {
		return req, "", apperrors.Wrap(err, apperrors.CodeInvalidArgument, "invalid mode")
	}
	if req.DurationSeconds < 0 || req.CaptureMillis < 0 {
		return req, "", apperrors.New(apperrors.CodeInvalidArgument, "durations must not be negative")
	}
	return req, mode, nil
}

// decodeBody decodes an optional JSON body; an empty body leaves v untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return apperrors.Wrap(err, apperrors.CodeInvalidArgument, "malformed request body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	code := apperrors.CodeOf(err)
	writeJSON(w, httpStatus(code), map[string]string{"error": err.Error(), "code": string(code)})
}

func httpStatus(code apperrors.Code) int {
	switch code {
	case apperrors.CodeInvalidArgument, apperrors.CodeConfigInvalid:
		return http.StatusBadRequest
	case apperrors.CodeNotFound:
		return http.StatusNotFound
	case apperrors.CodeSessionActive:
		return http.StatusConflict
	case apperrors.CodeQueueSaturated:
		return http.StatusTooManyRequests
	case apperrors.CodeUnavailable, apperrors.CodeCaptureFailed:
		return http.StatusServiceUnavailable
	case apperrors.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
