// internal/model/display.go - Display parameters
package model

import (
	"fmt"
	"image/color"
	"math"
	"sync"
)

// DefaultTileSize is the unscaled tile side length in pixels
const DefaultTileSize uint32 = 256

// DisplayModel holds the tile pixel size and the scale and overdraw factors
type DisplayModel struct {
	Observable

	mu           sync.RWMutex
	baseTileSize uint32
	deviceScale  float64
	userScale    float64
	overdraw     float64
	background   color.NRGBA
}

// NewDisplayModel creates a display with unit scale factors
func NewDisplayModel(baseTileSize uint32) *DisplayModel {
	if baseTileSize == 0 {
		baseTileSize = DefaultTileSize
	}
	return &DisplayModel{
		baseTileSize: baseTileSize,
		deviceScale:  1,
		userScale:    1,
		overdraw:     1.2,
		background:   color.NRGBA{R: 0xee, G: 0xee, B: 0xee, A: 0xff},
	}
}

// TileSize returns the scaled tile size in pixels
func (d *DisplayModel) TileSize() uint32 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return uint32(math.Round(float64(d.baseTileSize) * d.deviceScale * d.userScale))
}

// ScaleFactor returns device scale times user scale
func (d *DisplayModel) ScaleFactor() float64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.deviceScale * d.userScale
}

// DeviceScaleFactor returns the display density factor
func (d *DisplayModel) DeviceScaleFactor() float64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.deviceScale
}

// SetDeviceScaleFactor sets the display density factor
func (d *DisplayModel) SetDeviceScaleFactor(scale float64) error {
	if !(scale > 0) {
		return fmt.Errorf("device scale factor must be positive, got %v", scale)
	}
	d.mu.Lock()
	d.deviceScale = scale
	d.mu.Unlock()
	d.notifyObservers()
	return nil
}

// UserScaleFactor returns the user-selected magnification
func (d *DisplayModel) UserScaleFactor() float64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.userScale
}

// SetUserScaleFactor sets the user-selected magnification
func (d *DisplayModel) SetUserScaleFactor(scale float64) error {
	if !(scale > 0) {
		return fmt.Errorf("user scale factor must be positive, got %v", scale)
	}
	d.mu.Lock()
	d.userScale = scale
	d.mu.Unlock()
	d.notifyObservers()
	return nil
}

// OverdrawFactor returns how much larger than the view the frame buffer is
func (d *DisplayModel) OverdrawFactor() float64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.overdraw
}

// SetOverdrawFactor sets the frame buffer overdraw; it must be at least 1
func (d *DisplayModel) SetOverdrawFactor(overdraw float64) error {
	if !(overdraw >= 1) {
		return fmt.Errorf("overdraw factor must be at least 1, got %v", overdraw)
	}
	d.mu.Lock()
	d.overdraw = overdraw
	d.mu.Unlock()
	d.notifyObservers()
	return nil
}

// Background returns the map background color
func (d *DisplayModel) Background() color.NRGBA {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.background
}

// SetBackground sets the map background color
func (d *DisplayModel) SetBackground(c color.NRGBA) {
	d.mu.Lock()
	d.background = c
	d.mu.Unlock()
	d.notifyObservers()
}
