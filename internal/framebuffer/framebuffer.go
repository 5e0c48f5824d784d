// Package framebuffer holds the single latest-frame slot shared between
// the CV capture grabber thread and IPC/detector readers: a
// latest-frame buffer implemented as a mutex-guarded swap, the same
// copy-on-read idiom a status snapshot over a single mutex-protected
// struct would use. It is not lock-free: the writer and every reader
// take the same short-held mutex.
package framebuffer

import (
	"image"
	"sync"
	"time"
)

// RegionStats summarises a sampled sub-rectangle of the frame (e.g. the
// minimap crop), used by detector/capture diagnostics.
type RegionStats struct {
	Rect       image.Rectangle
	MeanBright float64
}

// Metadata describes a published frame without requiring the reader to
// decode it.
type Metadata struct {
	Timestamp time.Time
	Width     int
	Height    int
	SizeBytes int
	Region    *RegionStats
}

// Slot is the single (bytes, metadata) pair. The zero value is an empty,
// unpopulated slot.
type Slot struct {
	mu    sync.Mutex
	data  []byte
	meta  Metadata
	valid bool
}

// Update atomically replaces the slot's contents. The caller retains
// ownership of data's backing array; Update copies it so producers never
// block on consumer presence and consumers never observe a half-written
// frame.
func (s *Slot) Update(data []byte, meta Metadata) {
	cp := make([]byte, len(data))
	copy(cp, data)
	s.mu.Lock()
	s.data = cp
	s.meta = meta
	s.valid = true
	s.mu.Unlock()
}

// Read returns a copy of the latest published frame and its metadata.
// ok is false if no frame has ever been published.
func (s *Slot) Read() (data []byte, meta Metadata, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.valid {
		return nil, Metadata{}, false
	}
	cp := make([]byte, len(s.data))
	copy(cp, s.data)
	return cp, s.meta, true
}

// LatestMetadata returns only the metadata of the latest frame, avoiding a
// byte-slice copy when the caller doesn't need the image itself.
func (s *Slot) LatestMetadata() (Metadata, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meta, s.valid
}
