//go:build darwin

package screen

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
)

type darwinBackend struct{}

// screencapture writes one file per display and ignores the extra names.
func (darwinBackend) captureFiles(ctx context.Context, dir string) ([]string, error) {
	files := displayFiles(dir, "png")
	args := append([]string{"-x", "-t", "png"}, files...)
	cmd := exec.CommandContext(ctx, "screencapture", args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return existing(files), fmt.Errorf("screencapture: %w: %s", err, stderr.String())
	}
	return existing(files), nil
}

// New creates a platform-specific screen capturer
func New(log *slog.Logger) Capturer {
	return newBase(darwinBackend{}, log)
}
