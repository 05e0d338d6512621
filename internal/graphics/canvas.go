package graphics

import (
	"image"
	"image/color"

	"github.com/fogleman/gg"
)

// Point is a pixel position on a canvas
type Point struct {
	X, Y float64
}

// Stroke describes how a path outline is painted
type Stroke struct {
	Color     color.NRGBA
	Width     float64
	Dash      []float64
	RoundCaps bool
}

// Canvas paints styled primitives. Implementations are not safe for concurrent use.
type Canvas interface {
	FillPolygon(rings [][]Point, fill color.NRGBA)
	StrokePath(path []Point, stroke Stroke)
	DrawCircle(center Point, radius float64, fill color.NRGBA, stroke Stroke)
	DrawText(text string, at Point, size float64, fill color.NRGBA)
	DrawBitmap(b Bitmap, at Point)
	FillColor(c color.NRGBA)
}

// GGCanvas implements Canvas on top of a fogleman/gg context
type GGCanvas struct {
	dc *gg.Context
}

// NewCanvas creates a canvas of the given pixel size
func NewCanvas(width, height int) *GGCanvas {
	return &GGCanvas{dc: gg.NewContext(width, height)}
}

// FillColor floods the whole canvas
func (c *GGCanvas) FillColor(fill color.NRGBA) {
	c.dc.SetColor(fill)
	c.dc.Clear()
}

// FillPolygon fills the rings with the even-odd rule so inner rings cut holes
func (c *GGCanvas) FillPolygon(rings [][]Point, fill color.NRGBA) {
	c.dc.NewSubPath()
	for _, ring := range rings {
		for i, p := range ring {
			if i == 0 {
				c.dc.MoveTo(p.X, p.Y)
			} else {
				c.dc.LineTo(p.X, p.Y)
			}
		}
		c.dc.ClosePath()
		c.dc.NewSubPath()
	}
	c.dc.SetFillRule(gg.FillRuleEvenOdd)
	c.dc.SetColor(fill)
	c.dc.Fill()
}

// StrokePath strokes an open path
func (c *GGCanvas) StrokePath(path []Point, stroke Stroke) {
	if len(path) < 2 || stroke.Width <= 0 {
		return
	}
	c.dc.NewSubPath()
	c.dc.MoveTo(path[0].X, path[0].Y)
	for _, p := range path[1:] {
		c.dc.LineTo(p.X, p.Y)
	}
	c.applyStroke(stroke)
	c.dc.Stroke()
}

// DrawCircle fills and optionally outlines a circle
func (c *GGCanvas) DrawCircle(center Point, radius float64, fill color.NRGBA, stroke Stroke) {
	c.dc.DrawCircle(center.X, center.Y, radius)
	c.dc.SetColor(fill)
	if stroke.Width > 0 {
		c.dc.FillPreserve()
		c.applyStroke(stroke)
		c.dc.Stroke()
		return
	}
	c.dc.Fill()
}

// DrawText draws a label centered on the given point with the built-in face
func (c *GGCanvas) DrawText(text string, at Point, size float64, fill color.NRGBA) {
	c.dc.SetColor(fill)
	c.dc.DrawStringAnchored(text, at.X, at.Y, 0.5, 0.5)
}

// DrawBitmap draws a bitmap centered on the given point
func (c *GGCanvas) DrawBitmap(b Bitmap, at Point) {
	img := b.Image()
	if img == nil {
		return
	}
	c.dc.DrawImageAnchored(img, int(at.X), int(at.Y), 0.5, 0.5)
}

// Bitmap copies the canvas pixels into a new bitmap
func (c *GGCanvas) Bitmap() *ImageBitmap {
	return FromImage(c.dc.Image())
}

// Image exposes the canvas pixels
func (c *GGCanvas) Image() image.Image {
	return c.dc.Image()
}

func (c *GGCanvas) applyStroke(stroke Stroke) {
	c.dc.SetColor(stroke.Color)
	c.dc.SetLineWidth(stroke.Width)
	if len(stroke.Dash) > 0 {
		c.dc.SetDash(stroke.Dash...)
	} else {
		c.dc.SetDash()
	}
	if stroke.RoundCaps {
		c.dc.SetLineCapRound()
	} else {
		c.dc.SetLineCapButt()
	}
}
