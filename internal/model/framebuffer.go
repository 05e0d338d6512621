// internal/model/framebuffer.go - State of the offscreen frame buffer
package model

import "sync"

// FrameBufferModel records the buffer size and the map position the buffer was
// last rendered at
type FrameBufferModel struct {
	Observable

	mu        sync.RWMutex
	dimension Dimension
	position  *MapPosition
	overdraw  float64
}

// NewFrameBufferModel creates an empty frame buffer model
func NewFrameBufferModel() *FrameBufferModel {
	return &FrameBufferModel{overdraw: 1}
}

// Dimension returns the allocated buffer size
func (f *FrameBufferModel) Dimension() Dimension {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dimension
}

// SetDimension records a reallocated buffer size
func (f *FrameBufferModel) SetDimension(d Dimension) {
	f.mu.Lock()
	f.dimension = d
	f.mu.Unlock()
	f.notifyObservers()
}

// MapPosition returns the position of the last completed render
func (f *FrameBufferModel) MapPosition() (MapPosition, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.position == nil {
		return MapPosition{}, false
	}
	return *f.position, true
}

// SetMapPosition records the position of a completed render
func (f *FrameBufferModel) SetMapPosition(pos MapPosition) {
	f.mu.Lock()
	f.position = &pos
	f.mu.Unlock()
	f.notifyObservers()
}

// OverdrawFactor returns the overdraw the buffer was allocated with
func (f *FrameBufferModel) OverdrawFactor() float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.overdraw
}

// SetOverdrawFactor records the overdraw used for allocation
func (f *FrameBufferModel) SetOverdrawFactor(overdraw float64) {
	f.mu.Lock()
	f.overdraw = overdraw
	f.mu.Unlock()
	f.notifyObservers()
}

// WithLock runs fn while holding the frame buffer model read lock. It must be
// nested inside MapViewPosition.WithLock when both are needed, and fn must not
// call setters of this model.
func (f *FrameBufferModel) WithLock(fn func(dimension Dimension, position *MapPosition)) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	var pos *MapPosition
	if f.position != nil {
		p := *f.position
		pos = &p
	}
	fn(f.dimension, pos)
}
