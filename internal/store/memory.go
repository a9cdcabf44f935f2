package store

import (
	"context"
	"slices"
	"sync"
	"time"

	apperrors "github.com/GriffinCanCode/deepwatch/internal/errors"
)

// Memory is an in-process Store. All methods are safe for concurrent use.
type Memory struct {
	mu     sync.RWMutex
	faces  []Face
	voices []Voice
	nextF  int64
	nextV  int64
}

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) InsertFace(_ context.Context, f Face) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextF++
	f.SerialNumber = m.nextF
	f.Timestamp = timestampOrNow(f.Timestamp)
	m.faces = append(m.faces, f)
	return f.SerialNumber, nil
}

func (m *Memory) InsertVoice(_ context.Context, v Voice) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextV++
	v.SerialNumber = m.nextV
	v.Timestamp = timestampOrNow(v.Timestamp)
	m.voices = append(m.voices, v)
	return v.SerialNumber, nil
}

func (m *Memory) Faces(_ context.Context) ([]Face, error) {
	return m.selectFaces(func(Face) bool { return true }), nil
}

func (m *Memory) Voices(_ context.Context) ([]Voice, error) {
	return m.selectVoices(func(Voice) bool { return true }), nil
}

func (m *Memory) FacesOlderThan(_ context.Context, cutoff time.Time) ([]Face, error) {
	return m.selectFaces(func(f Face) bool { return f.Timestamp.Before(cutoff) && !f.DeletedLocally }), nil
}

func (m *Memory) VoicesOlderThan(_ context.Context, cutoff time.Time) ([]Voice, error) {
	return m.selectVoices(func(v Voice) bool { return v.Timestamp.Before(cutoff) && !v.DeletedLocally }), nil
}

func (m *Memory) FacesNotUploaded(_ context.Context) ([]Face, error) {
	return m.selectFaces(func(f Face) bool { return !f.Uploaded }), nil
}

func (m *Memory) VoicesNotUploaded(_ context.Context) ([]Voice, error) {
	return m.selectVoices(func(v Voice) bool { return !v.Uploaded }), nil
}

func (m *Memory) MarkFaceUploaded(_ context.Context, serial int64) error {
	return m.updateFace(serial, func(f *Face) { f.Uploaded = true })
}

func (m *Memory) MarkVoiceUploaded(_ context.Context, serial int64) error {
	return m.updateVoice(serial, func(v *Voice) { v.Uploaded = true })
}

func (m *Memory) MarkFaceDeleted(_ context.Context, serial int64) error {
	return m.updateFace(serial, func(f *Face) { f.DeletedLocally = true })
}

func (m *Memory) MarkVoiceDeleted(_ context.Context, serial int64) error {
	return m.updateVoice(serial, func(v *Voice) { v.DeletedLocally = true })
}

// Close is a no-op.
func (m *Memory) Close() {}

func (m *Memory) selectFaces(keep func(Face) bool) []Face {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Face
	for _, f := range m.faces {
		if keep(f) {
			out = append(out, f)
		}
	}
	return out
}

func (m *Memory) selectVoices(keep func(Voice) bool) []Voice {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Voice
	for _, v := range m.voices {
		if keep(v) {
			out = append(out, v)
		}
	}
	return out
}

func (m *Memory) updateFace(serial int64, fn func(*Face)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := slices.IndexFunc(m.faces, func(f Face) bool { return f.SerialNumber == serial })
	if i < 0 {
		return apperrors.Newf(apperrors.CodeNotFound, "face %d not found", serial)
	}
	fn(&m.faces[i])
	return nil
}

func (m *Memory) updateVoice(serial int64, fn func(*Voice)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := slices.IndexFunc(m.voices, func(v Voice) bool { return v.SerialNumber == serial })
	if i < 0 {
		return apperrors.Newf(apperrors.CodeNotFound, "voice %d not found", serial)
	}
	fn(&m.voices[i])
	return nil
}
