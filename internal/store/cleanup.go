package store

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"time"
)

// Cleaner removes artifacts of old records from disk.
type Cleaner struct {
	store Store
	log   *slog.Logger
	now   func() time.Time
}

// NewCleaner creates a cleaner over s.
func NewCleaner(s Store, log *slog.Logger) *Cleaner {
	if log == nil {
		log = slog.Default()
	}
	return &Cleaner{store: s, log: log, now: time.Now}
}

// CleanupReport counts what one cleanup pass removed.
type CleanupReport struct {
	Faces  int `json:"faces"`
	Voices int `json:"voices"`
	Files  int `json:"files"`
}

// DeleteFilesFromDisk deletes the artifacts of every record older than days
// and marks the record as deleted locally. Files that are already gone are
// not an error; a record whose files cannot be removed stays unmarked.
func (c *Cleaner) DeleteFilesFromDisk(ctx context.Context, days int) (CleanupReport, error) {
	var rep CleanupReport
	cutoff := c.now().Add(-time.Duration(days) * 24 * time.Hour)

	faces, err := c.store.FacesOlderThan(ctx, cutoff)
	if err != nil {
		return rep, err
	}
	for _, f := range faces {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		n, ok := c.remove(f.ArtifactLocation, f.RawArtifactLocation)
		rep.Files += n
		if !ok {
			continue
		}
		if err := c.store.MarkFaceDeleted(ctx, f.SerialNumber); err != nil {
			return rep, err
		}
		rep.Faces++
	}

	voices, err := c.store.VoicesOlderThan(ctx, cutoff)
	if err != nil {
		return rep, err
	}
	for _, v := range voices {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		n, ok := c.remove(v.ArtifactLocation)
		rep.Files += n
		if !ok {
			continue
		}
		if err := c.store.MarkVoiceDeleted(ctx, v.SerialNumber); err != nil {
			return rep, err
		}
		rep.Voices++
	}

	c.log.Info("removed old detection artifacts", "days", days, "faces", rep.Faces, "voices", rep.Voices, "files", rep.Files)
	return rep, nil
}

func (c *Cleaner) remove(paths ...string) (removed int, ok bool) {
	ok = true
	for _, p := range paths {
		if p == "" {
			continue
		}
		err := os.Remove(p)
		switch {
		case err == nil:
			removed++
		case errors.Is(err, fs.ErrNotExist):
		default:
			c.log.Warn("could not remove artifact", "path", p, "error", err)
			ok = false
		}
	}
	return removed, ok
}
