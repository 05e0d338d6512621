// internal/model/mercator.go - Web mercator pixel conversions
package model

import (
	"fmt"
	"math"
)

// Latitude bounds of the square web mercator world
const (
	LatitudeMax  = 85.05112877980659
	LatitudeMin  = -LatitudeMax
	LongitudeMax = 180.0
	LongitudeMin = -180.0
)

// LatLong is a geographic coordinate in degrees
type LatLong struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// NewLatLong creates a coordinate
func NewLatLong(latitude, longitude float64) LatLong {
	return LatLong{Latitude: latitude, Longitude: longitude}
}

// Validate rejects coordinates outside the mercator world
func (l LatLong) Validate() error {
	if math.IsNaN(l.Latitude) || l.Latitude < LatitudeMin || l.Latitude > LatitudeMax {
		return fmt.Errorf("invalid latitude %v: must be between %v and %v", l.Latitude, LatitudeMin, LatitudeMax)
	}
	if math.IsNaN(l.Longitude) || l.Longitude < LongitudeMin || l.Longitude > LongitudeMax {
		return fmt.Errorf("invalid longitude %v: must be between %v and %v", l.Longitude, LongitudeMin, LongitudeMax)
	}
	return nil
}

// String returns "lat,lon"
func (l LatLong) String() string {
	return fmt.Sprintf("%.6f,%.6f", l.Latitude, l.Longitude)
}

// MapSize returns the side length in pixels of the world at a zoom level
func MapSize(zoomLevel uint8, tileSize uint32) float64 {
	return float64(uint64(tileSize) << zoomLevel)
}

// LongitudeToPixelX converts a longitude to an absolute pixel x coordinate
func LongitudeToPixelX(longitude float64, zoomLevel uint8, tileSize uint32) float64 {
	return (longitude + 180) / 360 * MapSize(zoomLevel, tileSize)
}

// LatitudeToPixelY converts a latitude to an absolute pixel y coordinate
func LatitudeToPixelY(latitude float64, zoomLevel uint8, tileSize uint32) float64 {
	sinLatitude := math.Sin(clampLatitude(latitude) * math.Pi / 180)
	mapSize := MapSize(zoomLevel, tileSize)
	y := (0.5 - math.Log((1+sinLatitude)/(1-sinLatitude))/(4*math.Pi)) * mapSize
	return math.Min(math.Max(0, y), mapSize)
}

// PixelXToLongitude converts an absolute pixel x coordinate to a longitude
func PixelXToLongitude(pixelX float64, zoomLevel uint8, tileSize uint32) float64 {
	return 360*(pixelX/MapSize(zoomLevel, tileSize)) - 180
}

// PixelYToLatitude converts an absolute pixel y coordinate to a latitude
func PixelYToLatitude(pixelY float64, zoomLevel uint8, tileSize uint32) float64 {
	y := 0.5 - pixelY/MapSize(zoomLevel, tileSize)
	return 90 - 360*math.Atan(math.Exp(-y*2*math.Pi))/math.Pi
}

// ToPixel converts a coordinate to absolute pixel coordinates
func (l LatLong) ToPixel(zoomLevel uint8, tileSize uint32) (float64, float64) {
	return LongitudeToPixelX(l.Longitude, zoomLevel, tileSize), LatitudeToPixelY(l.Latitude, zoomLevel, tileSize)
}

// FromPixel converts absolute pixel coordinates to a coordinate
func FromPixel(x, y float64, zoomLevel uint8, tileSize uint32) LatLong {
	return LatLong{
		Latitude:  PixelYToLatitude(y, zoomLevel, tileSize),
		Longitude: PixelXToLongitude(x, zoomLevel, tileSize),
	}
}

func clampLatitude(latitude float64) float64 {
	return math.Max(LatitudeMin, math.Min(LatitudeMax, latitude))
}
