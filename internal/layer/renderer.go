// internal/layer/renderer.go - Vector tile rendering through a render theme
package layer

import (
	"fmt"
	"image/color"
	"sort"

	"github.com/paulmach/orb"
	"github.com/spf13/cast"

	"github.com/valpere/tilerender/internal"
	"github.com/valpere/tilerender/internal/graphics"
	"github.com/valpere/tilerender/internal/theme"
	"github.com/valpere/tilerender/internal/tile"
	"github.com/valpere/tilerender/pkg/mvt"
)

// DefaultSimplifyBelow is the zoom level under which geometries are simplified
const DefaultSimplifyBelow = 12

// simplifyTolerance is the Douglas-Peucker tolerance in pixels
const simplifyTolerance = 0.5

// TileRenderer paints decoded vector tiles. Every feature is matched against the
// theme, the resulting instructions are bucketed by level and painted lowest
// level first. A renderer holds no per-tile state and may be shared by workers.
type TileRenderer struct {
	SimplifyBelow uint8
	Transparent   bool
	TextScale     float64
}

// NewTileRenderer creates a renderer with default settings
func NewTileRenderer() *TileRenderer {
	return &TileRenderer{SimplifyBelow: DefaultSimplifyBelow, TextScale: 1}
}

// paintOp is one instruction bound to the feature it paints
type paintOp struct {
	instruction theme.Instruction
	feature     *mvt.DecodedFeature
}

// Render decodes data and paints it for t
func (r *TileRenderer) Render(th *theme.RenderTheme, data []byte, t tile.Tile) (graphics.Bitmap, error) {
	decoder := mvt.NewDecoder(t.TileSize)
	if t.ZoomLevel < r.SimplifyBelow {
		decoder = decoder.WithSimplification(simplifyTolerance)
	}
	decoded, err := decoder.Decode(data, int(t.ZoomLevel), int(t.X), int(t.Y))
	if err != nil {
		return nil, internal.NewError(internal.ErrorCodeProcessing, fmt.Sprintf("failed to decode vector tile %s", t), err)
	}

	buckets := r.match(th, decoded, t.ZoomLevel)

	canvas := graphics.NewCanvas(int(t.TileSize), int(t.TileSize))
	if !r.Transparent {
		canvas.FillColor(th.Background())
	}
	for _, ops := range buckets {
		for _, op := range ops {
			r.paint(canvas, th, op)
		}
	}
	return canvas.Bitmap(), nil
}

// match returns the paint operations of every feature, one bucket per level
func (r *TileRenderer) match(th *theme.RenderTheme, decoded *mvt.DecodedTile, zoom uint8) [][]paintOp {
	levels := th.Levels()
	index := make(map[int]int, len(levels))
	for i, l := range levels {
		index[l] = i
	}
	buckets := make([][]paintOp, len(levels)+1)

	for _, f := range decoded.Features() {
		tags := Tags(f.Tags)
		var instructions []theme.Instruction
		if f.IsNode() {
			instructions = th.MatchNode(tags, zoom)
		} else {
			instructions = th.MatchWay(tags, zoom, f.IsClosed())
		}
		for _, ins := range instructions {
			i, ok := index[ins.Level()]
			if !ok {
				i = len(levels)
			}
			buckets[i] = append(buckets[i], paintOp{instruction: ins, feature: f})
		}
	}
	return buckets
}

// Tags converts feature properties into theme tags sorted by key. Values that
// cannot be represented as text are dropped.
func Tags(properties map[string]interface{}) []theme.Tag {
	tags := make([]theme.Tag, 0, len(properties))
	for k, v := range properties {
		s, err := cast.ToStringE(v)
		if err != nil {
			continue
		}
		tags = append(tags, theme.Tag{Key: k, Value: s})
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i].Key < tags[j].Key })
	return tags
}

func (r *TileRenderer) paint(c graphics.Canvas, th *theme.RenderTheme, op paintOp) {
	geometry := op.feature.Geometry

	switch v := op.instruction.(type) {
	case theme.Area:
		for _, rings := range polygons(geometry) {
			if v.Fill.A > 0 {
				c.FillPolygon(rings, v.Fill)
			}
			if v.StrokeWidth > 0 {
				for _, ring := range rings {
					c.StrokePath(ring, graphics.Stroke{Color: v.Stroke, Width: v.StrokeWidth})
				}
			}
		}
		if v.Src != "" {
			if at, ok := mvt.LabelPoint(geometry); ok {
				r.drawSymbol(c, th, v.Src, toPoint(at))
			}
		}

	case theme.Line:
		stroke := graphics.Stroke{Color: v.Stroke, Width: v.StrokeWidth, Dash: v.Dash, RoundCaps: v.Cap == "round"}
		for _, path := range mvt.Paths(geometry) {
			c.StrokePath(toPoints(path), stroke)
		}

	case theme.Caption:
		r.drawLabel(c, op.feature, v.Key, v.FontSize, v.Fill, v.Dy)

	case theme.PathText:
		if !op.feature.IsNode() {
			r.drawLabel(c, op.feature, v.Key, v.FontSize, v.Fill, v.Dy)
		}

	case theme.Circle:
		if at, ok := mvt.LabelPoint(geometry); ok {
			c.DrawCircle(toPoint(at), v.Radius, v.Fill, graphics.Stroke{Color: v.Stroke, Width: v.StrokeWidth})
		}

	case theme.Symbol:
		if at, ok := mvt.LabelPoint(geometry); ok {
			r.drawSymbol(c, th, v.Src, toPoint(at))
		}

	case theme.LineSymbol:
		for _, path := range mvt.Paths(geometry) {
			for _, at := range lineSymbolPositions(path, v) {
				r.drawSymbol(c, th, v.Src, toPoint(at))
			}
		}
	}
}

func (r *TileRenderer) drawLabel(c graphics.Canvas, f *mvt.DecodedFeature, key string, size float64, fill color.NRGBA, dy float64) {
	text := cast.ToString(f.Tags[key])
	if text == "" {
		return
	}
	at, ok := mvt.LabelPoint(f.Geometry)
	if !ok {
		return
	}
	scale := r.TextScale
	if scale <= 0 {
		scale = 1
	}
	c.DrawText(text, graphics.Point{X: at[0], Y: at[1] + dy}, size*scale, fill)
}

func (r *TileRenderer) drawSymbol(c graphics.Canvas, th *theme.RenderTheme, src string, at graphics.Point) {
	bitmap, err := th.Symbol(src)
	if err != nil {
		internal.Logger().Warn("symbol unavailable", "src", src, "error", err)
		return
	}
	c.DrawBitmap(bitmap, at)
}

// lineSymbolPositions places a symbol at the middle of the path, at its start,
// or at every vertex when repeated
func lineSymbolPositions(path orb.LineString, ls theme.LineSymbol) []orb.Point {
	if len(path) == 0 {
		return nil
	}
	switch {
	case ls.Repeat:
		return path
	case ls.AlignCenter:
		return []orb.Point{path[len(path)/2]}
	default:
		return []orb.Point{path[0]}
	}
}

// polygons returns the rings of every polygon in an area geometry
func polygons(geometry orb.Geometry) [][][]graphics.Point {
	switch g := geometry.(type) {
	case orb.Polygon:
		return [][][]graphics.Point{rings(g)}
	case orb.MultiPolygon:
		out := make([][][]graphics.Point, 0, len(g))
		for _, p := range g {
			out = append(out, rings(p))
		}
		return out
	case orb.LineString:
		if mvt.IsClosed(g) {
			return [][][]graphics.Point{{toPoints(g)}}
		}
	}
	return nil
}

func rings(p orb.Polygon) [][]graphics.Point {
	out := make([][]graphics.Point, len(p))
	for i, ring := range p {
		out[i] = toPoints(orb.LineString(ring))
	}
	return out
}

func toPoints(path orb.LineString) []graphics.Point {
	out := make([]graphics.Point, len(path))
	for i, p := range path {
		out[i] = toPoint(p)
	}
	return out
}

func toPoint(p orb.Point) graphics.Point {
	return graphics.Point{X: p[0], Y: p[1]}
}
