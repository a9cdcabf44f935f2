package store

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func touch(t *testing.T, path string) string {
	t.Helper()
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDeleteFilesFromDisk(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := NewMemory()

	grid := touch(t, filepath.Join(dir, "grid.png"))
	raw := touch(t, filepath.Join(dir, "raw.png"))
	fresh := touch(t, filepath.Join(dir, "fresh.png"))
	clip := touch(t, filepath.Join(dir, "clip.wav"))

	m.InsertFace(ctx, Face{Timestamp: now.AddDate(0, 0, -10), ArtifactLocation: grid, RawArtifactLocation: raw})
	m.InsertFace(ctx, Face{Timestamp: now.AddDate(0, 0, -9), ArtifactLocation: grid, GridIndex: 1})
	m.InsertFace(ctx, Face{Timestamp: now.AddDate(0, 0, -1), ArtifactLocation: fresh})
	m.InsertVoice(ctx, Voice{Timestamp: now.AddDate(0, 0, -8), ArtifactLocation: clip})

	c := NewCleaner(m, slog.New(slog.DiscardHandler))
	c.now = func() time.Time { return now }

	rep, err := c.DeleteFilesFromDisk(ctx, 7)
	if err != nil {
		t.Fatalf("DeleteFilesFromDisk() = %v", err)
	}
	want := CleanupReport{Faces: 2, Voices: 1, Files: 3}
	if rep != want {
		t.Errorf("report = %+v, want %+v", rep, want)
	}

	for _, p := range []string{grid, raw, clip} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Errorf("%s should be removed", p)
		}
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Errorf("recent artifact removed: %v", err)
	}

	faces, _ := m.Faces(ctx)
	if !faces[0].DeletedLocally || !faces[1].DeletedLocally || faces[2].DeletedLocally {
		t.Errorf("deleted flags = [%v %v %v], want [true true false]",
			faces[0].DeletedLocally, faces[1].DeletedLocally, faces[2].DeletedLocally)
	}

	rep, _ = c.DeleteFilesFromDisk(ctx, 7)
	if rep != (CleanupReport{}) {
		t.Errorf("second pass = %+v, want nothing left", rep)
	}
}
