// Package screen provides platform-agnostic screen capture
package screen

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg" // JPEG decoder
	_ "image/png"  // PNG decoder
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	apperrors "github.com/GriffinCanCode/deepwatch/internal/errors"
)

// MaxDisplays bounds the number of displays captured per call.
const MaxDisplays = 4

// Capturer captures one image per attached display.
type Capturer interface {
	Capture(ctx context.Context) ([]image.Image, error)
	Close()
}

// backend writes one image file per display into dir and returns the paths
// in display order.
type backend interface {
	captureFiles(ctx context.Context, dir string) ([]string, error)
}

// baseCapturer decodes backend output and cleans up the temp files
type baseCapturer struct {
	backend
	tempDir string
	log     *slog.Logger
}

func newBase(b backend, log *slog.Logger) *baseCapturer {
	if log == nil {
		log = slog.Default()
	}
	tmpDir, err := os.MkdirTemp("", "deepwatch-screen-*")
	if err != nil {
		log.Error("failed to create temp dir", "error", err)
		tmpDir = os.TempDir()
	}
	return &baseCapturer{backend: b, tempDir: tmpDir, log: log}
}

func (c *baseCapturer) Capture(ctx context.Context) ([]image.Image, error) {
	paths, err := c.captureFiles(ctx, c.tempDir)
	defer func() {
		for _, p := range paths {
			os.Remove(p)
		}
	}()
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeCaptureFailed, "screen capture")
	}
	if len(paths) == 0 {
		return nil, apperrors.New(apperrors.CodeCaptureFailed, "screen capture produced no images")
	}

	images := make([]image.Image, 0, len(paths))
	for _, p := range paths {
		img, err := decodeFile(p)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeCaptureFailed, "screen capture")
		}
		images = append(images, img)
	}
	return images, nil
}

func (c *baseCapturer) Close() {
	if c.tempDir != "" && c.tempDir != os.TempDir() {
		os.RemoveAll(c.tempDir)
	}
}

func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return img, nil
}

// displayFiles names one output file per display slot.
func displayFiles(dir, ext string) []string {
	out := make([]string, MaxDisplays)
	for i := range out {
		out[i] = filepath.Join(dir, fmt.Sprintf("display-%d.%s", i, ext))
	}
	return out
}

// existing keeps the paths that were written, sorted by name.
func existing(paths []string) []string {
	var out []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}
