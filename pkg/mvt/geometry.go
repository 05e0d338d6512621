// pkg/mvt/geometry.go - Shared geometry transformation utilities
package mvt

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// applyGeometryTransform applies a transformation function to all coordinates in a geometry
func applyGeometryTransform(geom orb.Geometry, transform func(orb.Point) orb.Point) orb.Geometry {
	switch g := geom.(type) {
	case orb.Point:
		return transform(g)
	case orb.MultiPoint:
		result := make(orb.MultiPoint, len(g))
		for i, point := range g {
			result[i] = transform(point)
		}
		return result
	case orb.LineString:
		result := make(orb.LineString, len(g))
		for i, point := range g {
			result[i] = transform(point)
		}
		return result
	case orb.MultiLineString:
		result := make(orb.MultiLineString, len(g))
		for i, lineString := range g {
			result[i] = applyGeometryTransform(lineString, transform).(orb.LineString)
		}
		return result
	case orb.Ring:
		result := make(orb.Ring, len(g))
		for i, point := range g {
			result[i] = transform(point)
		}
		return result
	case orb.Polygon:
		result := make(orb.Polygon, len(g))
		for i, ring := range g {
			result[i] = applyGeometryTransform(ring, transform).(orb.Ring)
		}
		return result
	case orb.MultiPolygon:
		result := make(orb.MultiPolygon, len(g))
		for i, polygon := range g {
			result[i] = applyGeometryTransform(polygon, transform).(orb.Polygon)
		}
		return result
	default:
		return geom
	}
}

// IsClosed reports whether a geometry encloses an area
func IsClosed(geom orb.Geometry) bool {
	switch g := geom.(type) {
	case orb.Polygon, orb.MultiPolygon, orb.Ring:
		return true
	case orb.LineString:
		return len(g) > 2 && g[0].Equal(g[len(g)-1])
	}
	return false
}

// LabelPoint returns where a caption or symbol for the geometry is placed: the
// point itself, the centroid of an area, or the middle vertex of a line
func LabelPoint(geom orb.Geometry) (orb.Point, bool) {
	switch g := geom.(type) {
	case orb.Point:
		return g, true
	case orb.MultiPoint:
		if len(g) == 0 {
			return orb.Point{}, false
		}
		return g[0], true
	case orb.LineString:
		if len(g) == 0 {
			return orb.Point{}, false
		}
		return g[len(g)/2], true
	case orb.MultiLineString:
		if len(g) == 0 {
			return orb.Point{}, false
		}
		return LabelPoint(g[0])
	case orb.Ring:
		return LabelPoint(orb.Polygon{g})
	case orb.Polygon:
		if len(g) == 0 || len(g[0]) == 0 {
			return orb.Point{}, false
		}
		c, _ := planar.CentroidArea(g)
		return c, true
	case orb.MultiPolygon:
		if len(g) == 0 {
			return orb.Point{}, false
		}
		c, _ := planar.CentroidArea(g)
		return c, true
	}
	return orb.Point{}, false
}

// Paths returns the coordinate sequences of a line or area geometry
func Paths(geom orb.Geometry) []orb.LineString {
	switch g := geom.(type) {
	case orb.LineString:
		return []orb.LineString{g}
	case orb.MultiLineString:
		out := make([]orb.LineString, len(g))
		copy(out, g)
		return out
	case orb.Ring:
		return []orb.LineString{orb.LineString(g)}
	case orb.Polygon:
		out := make([]orb.LineString, len(g))
		for i, ring := range g {
			out[i] = orb.LineString(ring)
		}
		return out
	case orb.MultiPolygon:
		var out []orb.LineString
		for _, polygon := range g {
			out = append(out, Paths(polygon)...)
		}
		return out
	}
	return nil
}
