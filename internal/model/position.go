// internal/model/position.go - Observable map position
package model

import (
	"fmt"
	"math"
	"sync"
)

// Default zoom limits
const (
	DefaultZoomMin uint8 = 0
	DefaultZoomMax uint8 = 22
)

// MapPosition is an immutable snapshot of the viewport's center, zoom and rotation
type MapPosition struct {
	Center    LatLong `json:"center"`
	ZoomLevel uint8   `json:"zoom"`
	Rotation  float32 `json:"rotation"`
}

// NewMapPosition creates a position
func NewMapPosition(center LatLong, zoomLevel uint8, rotation float32) MapPosition {
	return MapPosition{Center: center, ZoomLevel: zoomLevel, Rotation: rotation}
}

// String returns a readable position
func (p MapPosition) String() string {
	return fmt.Sprintf("center=%s zoom=%d rotation=%.1f", p.Center, p.ZoomLevel, p.Rotation)
}

// MapViewPosition is the observable current position of the map view
type MapViewPosition struct {
	Observable

	mu       sync.RWMutex
	center   LatLong
	zoom     uint8
	rotation float32
	pivot    *LatLong
	zoomMin  uint8
	zoomMax  uint8
	display  *DisplayModel
}

// NewMapViewPosition creates a position at (0,0) zoom 0; display supplies the
// tile size used for pixel moves
func NewMapViewPosition(display *DisplayModel) *MapViewPosition {
	return &MapViewPosition{
		zoomMin: DefaultZoomMin,
		zoomMax: DefaultZoomMax,
		display: display,
	}
}

// MapPosition returns a snapshot of the current position
func (p *MapViewPosition) MapPosition() MapPosition {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snapshot()
}

func (p *MapViewPosition) snapshot() MapPosition {
	return MapPosition{Center: p.center, ZoomLevel: p.zoom, Rotation: p.rotation}
}

// WithLock runs fn while holding the position read lock. Callers that also take
// the frame buffer lock must take it inside fn, never the other way round.
func (p *MapViewPosition) WithLock(fn func(MapPosition)) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	fn(p.snapshot())
}

// Center returns the current center
func (p *MapViewPosition) Center() LatLong {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.center
}

// ZoomLevel returns the current zoom level
func (p *MapViewPosition) ZoomLevel() uint8 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.zoom
}

// Rotation returns the current rotation in degrees
func (p *MapViewPosition) Rotation() float32 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.rotation
}

// Pivot returns the zoom/rotation anchor, if one is set
func (p *MapViewPosition) Pivot() (LatLong, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.pivot == nil {
		return LatLong{}, false
	}
	return *p.pivot, true
}

// SetPivot anchors the next zoom or rotation at a geographic point
func (p *MapViewPosition) SetPivot(pivot LatLong) {
	p.mu.Lock()
	p.pivot = &pivot
	p.mu.Unlock()
}

// ClearPivot removes the anchor so transforms center on the view
func (p *MapViewPosition) ClearPivot() {
	p.mu.Lock()
	p.pivot = nil
	p.mu.Unlock()
}

// SetMapPosition replaces center, zoom and rotation at once
func (p *MapViewPosition) SetMapPosition(pos MapPosition) error {
	if err := pos.Center.Validate(); err != nil {
		return err
	}
	p.mu.Lock()
	p.center = pos.Center
	p.zoom = p.clampZoom(pos.ZoomLevel)
	p.rotation = normalizeRotation(pos.Rotation)
	p.mu.Unlock()
	p.notifyObservers()
	return nil
}

// SetCenter moves the view to a coordinate
func (p *MapViewPosition) SetCenter(center LatLong) error {
	if err := center.Validate(); err != nil {
		return err
	}
	p.mu.Lock()
	p.center = center
	p.mu.Unlock()
	p.notifyObservers()
	return nil
}

// SetZoomLevel changes the zoom, clamped to the zoom limits
func (p *MapViewPosition) SetZoomLevel(zoom uint8) {
	p.mu.Lock()
	p.zoom = p.clampZoom(zoom)
	p.mu.Unlock()
	p.notifyObservers()
}

// Zoom changes the zoom level by delta, clamped to the zoom limits
func (p *MapViewPosition) Zoom(delta int) {
	p.mu.Lock()
	z := int(p.zoom) + delta
	if z < 0 {
		z = 0
	}
	if z > math.MaxUint8 {
		z = math.MaxUint8
	}
	p.zoom = p.clampZoom(uint8(z))
	p.mu.Unlock()
	p.notifyObservers()
}

// ZoomIn increases the zoom level by one
func (p *MapViewPosition) ZoomIn() { p.Zoom(1) }

// ZoomOut decreases the zoom level by one
func (p *MapViewPosition) ZoomOut() { p.Zoom(-1) }

// SetRotation sets the rotation in degrees, normalized to [0, 360)
func (p *MapViewPosition) SetRotation(degrees float32) {
	p.mu.Lock()
	p.rotation = normalizeRotation(degrees)
	p.mu.Unlock()
	p.notifyObservers()
}

// MoveCenter pans the view by a pixel delta at the current zoom level. Positive
// dx moves the map content right (the center west).
func (p *MapViewPosition) MoveCenter(dx, dy float64) {
	tileSize := p.display.TileSize()

	p.mu.Lock()
	x, y := p.center.ToPixel(p.zoom, tileSize)
	mapSize := MapSize(p.zoom, tileSize)
	x = math.Min(math.Max(0, x-dx), mapSize)
	y = math.Min(math.Max(0, y-dy), mapSize)
	p.center = FromPixel(x, y, p.zoom, tileSize)
	p.center.Latitude = clampLatitude(p.center.Latitude)
	p.mu.Unlock()
	p.notifyObservers()
}

// ZoomLevelMin returns the lower zoom limit
func (p *MapViewPosition) ZoomLevelMin() uint8 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.zoomMin
}

// ZoomLevelMax returns the upper zoom limit
func (p *MapViewPosition) ZoomLevelMax() uint8 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.zoomMax
}

// SetZoomLimits restricts the zoom range and clamps the current zoom into it
func (p *MapViewPosition) SetZoomLimits(zoomMin, zoomMax uint8) error {
	if zoomMin > zoomMax {
		return fmt.Errorf("zoom min %d must not exceed zoom max %d", zoomMin, zoomMax)
	}
	p.mu.Lock()
	p.zoomMin = zoomMin
	p.zoomMax = zoomMax
	p.zoom = p.clampZoom(p.zoom)
	p.mu.Unlock()
	p.notifyObservers()
	return nil
}

func (p *MapViewPosition) clampZoom(zoom uint8) uint8 {
	if zoom < p.zoomMin {
		return p.zoomMin
	}
	if zoom > p.zoomMax {
		return p.zoomMax
	}
	return zoom
}

func normalizeRotation(degrees float32) float32 {
	r := math.Mod(float64(degrees), 360)
	if r < 0 {
		r += 360
	}
	return float32(r)
}
