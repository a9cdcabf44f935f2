package screen

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	apperrors "github.com/GriffinCanCode/deepwatch/internal/errors"
)

// fakeBackend writes n solid PNGs of increasing width.
type fakeBackend struct {
	n   int
	err error
}

func (f fakeBackend) captureFiles(_ context.Context, dir string) ([]string, error) {
	var paths []string
	for i, p := range displayFiles(dir, "png")[:f.n] {
		img := image.NewRGBA(image.Rect(0, 0, 10*(i+1), 8))
		for j := range img.Pix {
			img.Pix[j] = 0xff
		}
		img.Set(0, 0, color.Black)
		out, err := os.Create(p)
		if err != nil {
			return nil, err
		}
		if err := png.Encode(out, img); err != nil {
			out.Close()
			return nil, err
		}
		out.Close()
		paths = append(paths, p)
	}
	return paths, f.err
}

func newTestCapturer(t *testing.T, b backend) *baseCapturer {
	t.Helper()
	c := newBase(b, slog.New(slog.DiscardHandler))
	t.Cleanup(c.Close)
	return c
}

func TestCaptureOneImagePerDisplay(t *testing.T) {
	c := newTestCapturer(t, fakeBackend{n: 2})

	imgs, err := c.Capture(context.Background())
	if err != nil {
		t.Fatalf("Capture() error = %v", err)
	}
	if len(imgs) != 2 {
		t.Fatalf("images = %d, want 2", len(imgs))
	}
	for i, img := range imgs {
		if w := img.Bounds().Dx(); w != 10*(i+1) {
			t.Errorf("display %d width = %d, want %d", i, w, 10*(i+1))
		}
	}

	left, _ := filepath.Glob(filepath.Join(c.tempDir, "*.png"))
	if len(left) != 0 {
		t.Errorf("temp files left behind: %v", left)
	}
}

func TestCaptureBackendError(t *testing.T) {
	c := newTestCapturer(t, fakeBackend{n: 1, err: errors.New("tool crashed")})

	_, err := c.Capture(context.Background())
	if !apperrors.IsCode(err, apperrors.CodeCaptureFailed) {
		t.Errorf("Capture() = %v, want CAPTURE_FAILED", err)
	}
}

func TestCaptureNoImages(t *testing.T) {
	c := newTestCapturer(t, fakeBackend{n: 0})

	if _, err := c.Capture(context.Background()); !apperrors.IsCode(err, apperrors.CodeCaptureFailed) {
		t.Errorf("Capture() = %v, want CAPTURE_FAILED", err)
	}
}

func TestCaptureUndecodableFile(t *testing.T) {
	c := newTestCapturer(t, garbageBackend{})

	if _, err := c.Capture(context.Background()); !apperrors.IsCode(err, apperrors.CodeCaptureFailed) {
		t.Errorf("Capture() = %v, want CAPTURE_FAILED", err)
	}
}

type garbageBackend struct{}

func (garbageBackend) captureFiles(_ context.Context, dir string) ([]string, error) {
	p := filepath.Join(dir, "display-0.png")
	return []string{p}, os.WriteFile(p, []byte("not an image"), 0o600)
}

func TestCloseRemovesTempDir(t *testing.T) {
	c := newBase(fakeBackend{}, slog.New(slog.DiscardHandler))
	dir := c.tempDir
	c.Close()
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Error("temp directory should be removed after Close")
	}
}

func TestExistingSkipsMissing(t *testing.T) {
	dir := t.TempDir()
	files := displayFiles(dir, "png")
	if err := os.WriteFile(files[1], nil, 0o600); err != nil {
		t.Fatal(err)
	}
	got := existing(files)
	if len(got) != 1 || got[0] != files[1] {
		t.Errorf("existing() = %v, want [%s]", got, files[1])
	}
}
