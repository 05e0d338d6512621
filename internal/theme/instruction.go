// internal/theme/instruction.go - Render instruction variants
package theme

import "image/color"

// Instruction is one drawing operation produced by rule matching. The concrete
// types are Area, Line, Caption, Circle, Symbol, PathText and LineSymbol;
// renderers switch on them.
type Instruction interface {
	// Level is the z-order bucket; lower levels paint first
	Level() int
	scaled(stroke, text float64) Instruction
}

type level int

// Level implements Instruction
func (l level) Level() int { return int(l) }

// Area fills (and optionally strokes or patterns) a closed way
type Area struct {
	level
	Fill        color.NRGBA
	Stroke      color.NRGBA
	StrokeWidth float64
	Src         string
}

func (a Area) scaled(stroke, _ float64) Instruction {
	a.StrokeWidth *= stroke
	return a
}

// Line strokes a way
type Line struct {
	level
	Stroke      color.NRGBA
	StrokeWidth float64
	Dash        []float64
	Cap         string
	Src         string
}

func (l Line) scaled(stroke, _ float64) Instruction {
	l.StrokeWidth *= stroke
	if len(l.Dash) > 0 {
		dash := make([]float64, len(l.Dash))
		for i, d := range l.Dash {
			dash[i] = d * stroke
		}
		l.Dash = dash
	}
	return l
}

// Caption labels a node or the center of an area with the value of Key
type Caption struct {
	level
	Key         string
	FontSize    float64
	FontFamily  string
	FontStyle   string
	Fill        color.NRGBA
	Stroke      color.NRGBA
	StrokeWidth float64
	Dy          float64
}

func (c Caption) scaled(_, text float64) Instruction {
	c.FontSize *= text
	c.StrokeWidth *= text
	c.Dy *= text
	return c
}

// Circle draws a circle at a node
type Circle struct {
	level
	Radius      float64
	ScaleRadius bool
	Fill        color.NRGBA
	Stroke      color.NRGBA
	StrokeWidth float64
}

func (c Circle) scaled(stroke, _ float64) Instruction {
	if c.ScaleRadius {
		c.Radius *= stroke
	}
	c.StrokeWidth *= stroke
	return c
}

// Symbol places a bitmap at a node or area center
type Symbol struct {
	level
	Src string
}

func (s Symbol) scaled(_, _ float64) Instruction { return s }

// PathText writes the value of Key along a way
type PathText struct {
	level
	Key         string
	FontSize    float64
	FontFamily  string
	FontStyle   string
	Fill        color.NRGBA
	Stroke      color.NRGBA
	StrokeWidth float64
	Dy          float64
}

func (p PathText) scaled(_, text float64) Instruction {
	p.FontSize *= text
	p.StrokeWidth *= text
	p.Dy *= text
	return p
}

// LineSymbol places a bitmap along a way
type LineSymbol struct {
	level
	Src         string
	AlignCenter bool
	Repeat      bool
}

func (l LineSymbol) scaled(_, _ float64) Instruction { return l }
