package face

import (
	"image"
	"log/slog"
	"sync"

	"github.com/corona10/goimagehash"

	"github.com/GriffinCanCode/deepwatch/internal/detect"
)

// FrameCache remembers the faces found on each display keyed by the
// perceptual hash of the capture, so an unchanged screen is not re-scored.
type FrameCache struct {
	mu      sync.Mutex
	entries map[int]frameEntry
	log     *slog.Logger
}

type frameEntry struct {
	hash  *goimagehash.ImageHash
	faces []detect.ScreenshotFace
}

// NewFrameCache creates an empty cache.
func NewFrameCache(log *slog.Logger) *FrameCache {
	if log == nil {
		log = slog.Default()
	}
	return &FrameCache{entries: make(map[int]frameEntry), log: log}
}

// Lookup returns the cached faces for screen when img is close enough to the
// last stored capture. The returned hash is passed back to Store.
func (c *FrameCache) Lookup(screen int, img image.Image) ([]detect.ScreenshotFace, *goimagehash.ImageHash, bool) {
	hash, err := goimagehash.PerceptionHash(img)
	if err != nil {
		c.log.Debug("perception hash failed", "screen", screen, "error", err)
		return nil, nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	prev, ok := c.entries[screen]
	if !ok {
		return nil, hash, false
	}
	dist, err := prev.hash.Distance(hash)
	if err != nil || dist > MaxHashDistance {
		return nil, hash, false
	}
	c.log.Debug("reusing faces for unchanged screen", "screen", screen, "distance", dist)
	return prev.faces, hash, true
}

// Store records the faces found on screen for the capture with hash.
func (c *FrameCache) Store(screen int, hash *goimagehash.ImageHash, faces []detect.ScreenshotFace) {
	if hash == nil {
		return
	}
	c.mu.Lock()
	c.entries[screen] = frameEntry{hash: hash, faces: faces}
	c.mu.Unlock()
}

// Reset drops every entry.
func (c *FrameCache) Reset() {
	c.mu.Lock()
	clear(c.entries)
	c.mu.Unlock()
}
