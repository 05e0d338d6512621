package model

import (
	"fmt"
	"math"
	"sync"
)

// Dimension is a pixel size
type Dimension struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// IsEmpty reports a zero-area dimension
func (d Dimension) IsEmpty() bool {
	return d.Width <= 0 || d.Height <= 0
}

// Scale returns the dimension multiplied by factor, rounded up
func (d Dimension) Scale(factor float64) Dimension {
	return Dimension{
		Width:  int(math.Ceil(float64(d.Width) * factor)),
		Height: int(math.Ceil(float64(d.Height) * factor)),
	}
}

// MapViewDimension is the observable size of the view
type MapViewDimension struct {
	Observable

	mu        sync.RWMutex
	dimension Dimension
}

// NewMapViewDimension creates an empty view dimension
func NewMapViewDimension() *MapViewDimension {
	return &MapViewDimension{}
}

// Dimension returns the current size
func (m *MapViewDimension) Dimension() Dimension {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dimension
}

// SetDimension resizes the view
func (m *MapViewDimension) SetDimension(d Dimension) error {
	if d.Width < 0 || d.Height < 0 {
		return fmt.Errorf("invalid dimension %dx%d", d.Width, d.Height)
	}
	m.mu.Lock()
	changed := m.dimension != d
	m.dimension = d
	m.mu.Unlock()
	if changed {
		m.notifyObservers()
	}
	return nil
}
