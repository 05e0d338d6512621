package view

import (
	"math"

	"golang.org/x/image/math/f64"
)

// identity is the affine transform that leaves points unchanged
var identity = f64.Aff3{1, 0, 0, 0, 1, 0}

// multiply returns a∘b: b applied first, then a
func multiply(a, b f64.Aff3) f64.Aff3 {
	return f64.Aff3{
		a[0]*b[0] + a[1]*b[3], a[0]*b[1] + a[1]*b[4], a[0]*b[2] + a[1]*b[5] + a[2],
		a[3]*b[0] + a[4]*b[3], a[3]*b[1] + a[4]*b[4], a[3]*b[2] + a[4]*b[5] + a[5],
	}
}

func translation(dx, dy float64) f64.Aff3 {
	return f64.Aff3{1, 0, dx, 0, 1, dy}
}

// scaleAbout scales by s around (px, py)
func scaleAbout(s, px, py float64) f64.Aff3 {
	return f64.Aff3{s, 0, px - s*px, 0, s, py - s*py}
}

// rotateAbout rotates clockwise (screen coordinates) by degrees around (px, py)
func rotateAbout(degrees, px, py float64) f64.Aff3 {
	sin, cos := math.Sincos(degrees * math.Pi / 180)
	return f64.Aff3{
		cos, -sin, px - cos*px + sin*py,
		sin, cos, py - sin*px - cos*py,
	}
}

// apply maps a point through m
func apply(m f64.Aff3, x, y float64) (float64, float64) {
	return m[0]*x + m[1]*y + m[2], m[3]*x + m[4]*y + m[5]
}
