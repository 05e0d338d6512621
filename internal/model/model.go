// internal/model/model.go - Aggregate of all view models
package model

// Model bundles the sub-models shared by controllers, layers and the scheduler
type Model struct {
	Display     *DisplayModel
	Position    *MapViewPosition
	Dimension   *MapViewDimension
	FrameBuffer *FrameBufferModel
}

// NewModel creates a model with the given unscaled tile size
func NewModel(tileSize uint32) *Model {
	display := NewDisplayModel(tileSize)
	return &Model{
		Display:     display,
		Position:    NewMapViewPosition(display),
		Dimension:   NewMapViewDimension(),
		FrameBuffer: NewFrameBufferModel(),
	}
}

// RemoveObserver unsubscribes o from every sub-model
func (m *Model) RemoveObserver(o Observer) {
	m.Display.RemoveObserver(o)
	m.Position.RemoveObserver(o)
	m.Dimension.RemoveObserver(o)
	m.FrameBuffer.RemoveObserver(o)
}

// MapPosition returns the current map position
func (m *Model) MapPosition() MapPosition {
	return m.Position.MapPosition()
}

// TileSize returns the current scaled tile size
func (m *Model) TileSize() uint32 {
	return m.Display.TileSize()
}
