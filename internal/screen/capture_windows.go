//go:build windows

package screen

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
)

// One PNG per screen, named by screen index.
const psCapture = `
Add-Type -AssemblyName System.Windows.Forms,System.Drawing
$i = 0
foreach ($s in [System.Windows.Forms.Screen]::AllScreens | Select-Object -First %d) {
  $b = $s.Bounds
  $bmp = New-Object System.Drawing.Bitmap $b.Width, $b.Height
  $g = [System.Drawing.Graphics]::FromImage($bmp)
  $g.CopyFromScreen($b.Location, [System.Drawing.Point]::Empty, $b.Size)
  $bmp.Save((Join-Path '%s' ("display-" + $i + ".png")), [System.Drawing.Imaging.ImageFormat]::Png)
  $g.Dispose(); $bmp.Dispose(); $i++
}`

type windowsBackend struct{}

func (windowsBackend) captureFiles(ctx context.Context, dir string) ([]string, error) {
	script := fmt.Sprintf(psCapture, MaxDisplays, filepath.Clean(dir))
	cmd := exec.CommandContext(ctx, "powershell", "-NoProfile", "-NonInteractive", "-Command", script)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	files := displayFiles(dir, "png")
	if err := cmd.Run(); err != nil {
		return existing(files), fmt.Errorf("powershell capture: %w: %s", err, stderr.String())
	}
	return existing(files), nil
}

// New creates a platform-specific screen capturer
func New(log *slog.Logger) Capturer {
	return newBase(windowsBackend{}, log)
}
