// Package results writes the artifacts of a detection session: face grids,
// captured frames, flagged voice clips and the session summary.
package results

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	apperrors "github.com/GriffinCanCode/deepwatch/internal/errors"
	"github.com/GriffinCanCode/deepwatch/internal/observe"
)

// Artifact kinds, also used as metric labels.
const (
	KindGrid    = "face_grid"
	KindFrame   = "frame"
	KindClip    = "voice_clip"
	KindSummary = "summary"
)

// SummaryFile is the name of the per-session summary inside its directory.
const SummaryFile = "summary.json"

// Writer creates session directories under a root.
type Writer struct {
	root    string
	optOut  bool
	metrics *observe.Metrics
	log     *slog.Logger
}

// NewWriter creates a Writer rooted at root. With optOutOfScreenCapture set,
// full frames are never written.
func NewWriter(root string, optOutOfScreenCapture bool, metrics *observe.Metrics, log *slog.Logger) *Writer {
	if metrics == nil {
		metrics = observe.Discard()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Writer{root: root, optOut: optOutOfScreenCapture, metrics: metrics, log: log}
}

// Root returns the directory all sessions are written under.
func (w *Writer) Root() string { return w.root }

// Open creates the directory of one session.
func (w *Writer) Open(pipeline, sessionID string) (*Session, error) {
	dir := filepath.Join(w.root, pipeline+"-"+sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, apperrors.Wrapf(err, apperrors.CodeStorageFailed, "create results dir %s", dir)
	}
	return &Session{w: w, dir: dir}, nil
}

// Session is the artifact directory of one running session. Safe for
// concurrent use.
type Session struct {
	w   *Writer
	dir string

	mu        sync.Mutex
	seq       int
	artifacts []string
}

// Dir returns the session directory.
func (s *Session) Dir() string { return s.dir }

// Artifacts lists every file written so far, in write order.
func (s *Session) Artifacts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.artifacts...)
}

// WriteFaceGrid saves the preview grid of one flagged capture.
func (s *Session) WriteFaceGrid(ctx context.Context, grid image.Image) (string, error) {
	return s.write(ctx, KindGrid, "png", func(w io.Writer) error { return png.Encode(w, grid) })
}

// WriteFrame saves a full display capture. It returns "" when the user opted
// out of screen capture.
func (s *Session) WriteFrame(ctx context.Context, frame image.Image) (string, error) {
	if s.w.optOut {
		return "", nil
	}
	return s.write(ctx, KindFrame, "png", func(w io.Writer) error { return png.Encode(w, frame) })
}

// WriteVoiceClip saves a flagged voice window as 16-bit PCM WAV.
func (s *Session) WriteVoiceClip(ctx context.Context, samples []float32, rate int) (string, error) {
	return s.write(ctx, KindClip, "wav", func(w io.Writer) error {
		_, err := w.Write(EncodeWAV(samples, rate))
		return err
	})
}

// WriteSummary saves sum as summary.json and returns its path.
func (s *Session) WriteSummary(ctx context.Context, sum Summary) (string, error) {
	sum.Artifacts = s.Artifacts()
	path := filepath.Join(s.dir, SummaryFile)
	err := writeAtomic(path, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(sum)
	})
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.CodeStorageFailed, "write session summary")
	}
	s.w.metrics.RecordArtifact(ctx, KindSummary)
	return path, nil
}

func (s *Session) write(ctx context.Context, kind, ext string, encode func(io.Writer) error) (string, error) {
	s.mu.Lock()
	s.seq++
	path := filepath.Join(s.dir, fmt.Sprintf("%s-%04d.%s", kind, s.seq, ext))
	s.mu.Unlock()

	if err := writeAtomic(path, encode); err != nil {
		return "", apperrors.Wrapf(err, apperrors.CodeStorageFailed, "write %s", kind)
	}

	s.mu.Lock()
	s.artifacts = append(s.artifacts, path)
	s.mu.Unlock()
	s.w.metrics.RecordArtifact(ctx, kind)
	s.w.log.Debug("artifact written", "kind", kind, "path", path)
	return path, nil
}

// writeAtomic encodes into a temp file and renames it into place, so a path
// is never observed half-written.
func writeAtomic(path string, encode func(io.Writer) error) error {
	f, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if err := encode(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// Summary describes a finished session.
type Summary struct {
	SessionID         string    `json:"session_id"`
	Pipeline          string    `json:"pipeline"`
	Mode              string    `json:"mode"`
	ModelIdentifier   string    `json:"model_identifier"`
	BackgroundRun     bool      `json:"background_run"`
	StartedAt         time.Time `json:"started_at"`
	EndedAt           time.Time `json:"ended_at"`
	Verdict           string    `json:"verdict"`
	Samples           int       `json:"samples"`
	Flagged           int       `json:"flagged"`
	ProportionOfFakes float64   `json:"proportion_of_fakes"`
	Cancelled         bool      `json:"cancelled"`
	Error             string    `json:"error,omitempty"`
	Artifacts         []string  `json:"artifacts"`
}
