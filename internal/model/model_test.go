package model

import (
	"math"
	"sync/atomic"
	"testing"
)

type countingObserver struct {
	calls atomic.Int32
}

func (o *countingObserver) OnChange() {
	o.calls.Add(1)
}

func TestMercatorRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		ll   LatLong
		zoom uint8
	}{
		{"origin", NewLatLong(0, 0), 0},
		{"berlin", NewLatLong(52.52, 13.405), 12},
		{"south west", NewLatLong(-33.86, -151.2), 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			x, y := tt.ll.ToPixel(tt.zoom, 256)
			got := FromPixel(x, y, tt.zoom, 256)
			if math.Abs(got.Latitude-tt.ll.Latitude) > 1e-9 || math.Abs(got.Longitude-tt.ll.Longitude) > 1e-9 {
				t.Errorf("FromPixel(ToPixel(%v)) = %v", tt.ll, got)
			}
		})
	}
}

func TestPixelCoordinatesAtZoomZero(t *testing.T) {
	x, y := NewLatLong(0, 180).ToPixel(0, 256)
	if x != 256 || math.Abs(y-128) > 1e-9 {
		t.Errorf("ToPixel(0,180) = (%v, %v), want (256, 128)", x, y)
	}
	x, y = NewLatLong(LatitudeMax, -180).ToPixel(1, 256)
	if x != 0 || math.Abs(y) > 1e-6 {
		t.Errorf("ToPixel(max,-180) = (%v, %v), want (0, 0)", x, y)
	}
}

func TestLatLongValidate(t *testing.T) {
	tests := []struct {
		ll      LatLong
		wantErr bool
	}{
		{NewLatLong(10, 20), false},
		{NewLatLong(89, 0), true},
		{NewLatLong(0, 181), true},
		{NewLatLong(math.NaN(), 0), true},
	}
	for _, tt := range tests {
		if err := tt.ll.Validate(); (err != nil) != tt.wantErr {
			t.Errorf("Validate(%v) error = %v, wantErr %v", tt.ll, err, tt.wantErr)
		}
	}
}

func TestPositionNotifiesObservers(t *testing.T) {
	m := NewModel(256)
	o := &countingObserver{}
	m.Position.AddObserver(o)
	m.Position.AddObserver(o)

	m.Position.SetZoomLevel(5)
	m.Position.ZoomIn()
	if err := m.Position.SetCenter(NewLatLong(1, 2)); err != nil {
		t.Fatal(err)
	}
	if got := o.calls.Load(); got != 3 {
		t.Errorf("observer calls = %d, want 3", got)
	}

	m.RemoveObserver(o)
	m.Position.ZoomOut()
	if got := o.calls.Load(); got != 3 {
		t.Errorf("removed observer was notified, calls = %d", got)
	}
	if got := m.Position.ZoomLevel(); got != 5 {
		t.Errorf("ZoomLevel() = %d, want 5", got)
	}
}

func TestZoomLimits(t *testing.T) {
	p := NewMapViewPosition(NewDisplayModel(256))
	if err := p.SetZoomLimits(3, 8); err != nil {
		t.Fatal(err)
	}
	if got := p.ZoomLevel(); got != 3 {
		t.Errorf("ZoomLevel() after limits = %d, want 3", got)
	}
	p.SetZoomLevel(20)
	if got := p.ZoomLevel(); got != 8 {
		t.Errorf("ZoomLevel() = %d, want 8", got)
	}
	p.Zoom(-100)
	if got := p.ZoomLevel(); got != 3 {
		t.Errorf("ZoomLevel() = %d, want 3", got)
	}
	if err := p.SetZoomLimits(9, 2); err == nil {
		t.Error("SetZoomLimits(9, 2) succeeded")
	}
}

func TestMoveCenter(t *testing.T) {
	p := NewMapViewPosition(NewDisplayModel(256))
	p.SetZoomLevel(1)

	p.MoveCenter(-128, 0)
	if got := p.Center().Longitude; math.Abs(got-90) > 1e-9 {
		t.Errorf("Longitude after move = %v, want 90", got)
	}
	if got := p.Center().Latitude; math.Abs(got) > 1e-9 {
		t.Errorf("Latitude after horizontal move = %v, want 0", got)
	}
}

func TestRotationNormalized(t *testing.T) {
	p := NewMapViewPosition(NewDisplayModel(256))
	p.SetRotation(-90)
	if got := p.Rotation(); got != 270 {
		t.Errorf("Rotation() = %v, want 270", got)
	}
}

func TestDisplayTileSize(t *testing.T) {
	d := NewDisplayModel(256)
	if err := d.SetDeviceScaleFactor(2); err != nil {
		t.Fatal(err)
	}
	if err := d.SetUserScaleFactor(1.5); err != nil {
		t.Fatal(err)
	}
	if got := d.TileSize(); got != 768 {
		t.Errorf("TileSize() = %d, want 768", got)
	}
	if err := d.SetOverdrawFactor(0.5); err == nil {
		t.Error("SetOverdrawFactor(0.5) succeeded")
	}
}

func TestDimensionNotifiesOnlyOnChange(t *testing.T) {
	d := NewMapViewDimension()
	o := &countingObserver{}
	d.AddObserver(o)

	d.SetDimension(Dimension{Width: 100, Height: 50})
	d.SetDimension(Dimension{Width: 100, Height: 50})
	if got := o.calls.Load(); got != 1 {
		t.Errorf("observer calls = %d, want 1", got)
	}
	if got := (Dimension{Width: 100, Height: 50}).Scale(1.2); got != (Dimension{Width: 120, Height: 60}) {
		t.Errorf("Scale(1.2) = %v", got)
	}
}
