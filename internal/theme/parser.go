// internal/theme/parser.go - XML render theme parser
package theme

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"image/color"
	"io"
	"math"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/cast"
	"github.com/zeebo/xxh3"

	"github.com/valpere/tilerender/internal"
)

const rootElement = "rendertheme"

// allowed attributes per element
var elementAttributes = map[string][]string{
	rootElement:  {"version", "map-background", "base-stroke-width", "base-text-size"},
	"rule":       {"e", "k", "v", "closed", "zoom-min", "zoom-max", "cat", "id"},
	"area":       {"src", "fill", "stroke", "stroke-width", "level", "cat"},
	"line":       {"src", "stroke", "stroke-width", "stroke-dasharray", "stroke-linecap", "level", "cat"},
	"caption":    {"k", "font-size", "font-family", "font-style", "fill", "stroke", "stroke-width", "dy", "level", "cat"},
	"circle":     {"r", "scale-radius", "fill", "stroke", "stroke-width", "level", "cat"},
	"symbol":     {"src", "level", "id", "cat"},
	"pathText":   {"k", "font-size", "font-family", "font-style", "fill", "stroke", "stroke-width", "dy", "level", "cat"},
	"lineSymbol": {"src", "align-center", "repeat", "level", "cat"},
}

var mandatoryAttributes = map[string][]string{
	"rule":       {"e", "k", "v"},
	"caption":    {"k"},
	"circle":     {"r"},
	"symbol":     {"src"},
	"pathText":   {"k"},
	"lineSymbol": {"src"},
}

var (
	fontFamilies = []string{"default", "sans_serif", "serif", "monospace"}
	fontStyles   = []string{"normal", "bold", "italic", "bold_italic"}
	lineCaps     = []string{"butt", "round", "square"}
)

// Parse reads a theme document. Symbol resources are resolved through loader,
// which may be nil for themes without bitmaps. Any syntax error aborts the parse
// with an error wrapping ErrMalformedTheme.
func Parse(r io.Reader, loader ResourceLoader) (*RenderTheme, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, internal.NewError(internal.ErrorCodeFileSystem, "failed to read render theme", err)
	}

	p := &parser{
		decoder: xml.NewDecoder(bytes.NewReader(data)),
		theme:   newRenderTheme(),
		levels:  make(map[int]struct{}),
	}
	if err := p.parse(); err != nil {
		return nil, err
	}

	t := p.theme
	t.loader = loader
	t.id = strconv.FormatUint(xxh3.Hash(data), 16)
	for l := range p.levels {
		t.levels = append(t.levels, l)
	}
	sort.Ints(t.levels)

	replaced := 0
	for _, rule := range t.rules {
		replaced += rule.optimize(nil)
	}
	internal.Logger().Debug("render theme parsed",
		"id", t.id,
		"rules", t.Rules(),
		"levels", len(t.levels),
		"redundant_matchers", replaced)
	return t, nil
}

// LoadFile parses the theme at path; symbol sources resolve relative to its
// directory
func LoadFile(fs afero.Fs, themePath string) (*RenderTheme, error) {
	f, err := fs.Open(themePath)
	if err != nil {
		return nil, internal.NewError(internal.ErrorCodeFileSystem, "failed to open render theme", err)
	}
	defer f.Close()
	return Parse(f, NewFsResourceLoader(fs, path.Dir(themePath)))
}

type parser struct {
	decoder    *xml.Decoder
	theme      *RenderTheme
	stack      []*Rule
	elements   []string
	levels     map[int]struct{}
	nextLevel  int
	rootClosed bool
	seenRoot   bool
}

func (p *parser) errorf(format string, args ...any) error {
	line, col := p.decoder.InputPos()
	return fmt.Errorf("%w: line %d col %d: %s", ErrMalformedTheme, line, col, fmt.Sprintf(format, args...))
}

func (p *parser) parse() error {
	for {
		tok, err := p.decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedTheme, err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if err := p.startElement(t); err != nil {
				return err
			}
		case xml.EndElement:
			p.endElement(t)
		case xml.CharData:
			if len(bytes.TrimSpace(t)) > 0 {
				return p.errorf("unexpected text %q", strings.TrimSpace(string(t)))
			}
		}
	}

	if !p.seenRoot {
		return p.errorf("missing %s element", rootElement)
	}
	if !p.rootClosed {
		return p.errorf("unterminated %s element", rootElement)
	}
	return nil
}

func (p *parser) parent() string {
	if len(p.elements) == 0 {
		return ""
	}
	return p.elements[len(p.elements)-1]
}

func (p *parser) startElement(el xml.StartElement) error {
	name := el.Name.Local
	allowed, known := elementAttributes[name]
	if !known {
		return p.errorf("unknown element %q", name)
	}
	attrs, err := p.attributes(name, el.Attr, allowed)
	if err != nil {
		return err
	}

	switch parent := p.parent(); {
	case name == rootElement:
		if p.seenRoot || parent != "" {
			return p.errorf("unexpected %s element", rootElement)
		}
		p.seenRoot = true
		if err := p.parseRoot(attrs); err != nil {
			return err
		}
	case name == "rule":
		if parent != rootElement && parent != "rule" {
			return p.errorf("rule must be nested in %s or rule, not %q", rootElement, parent)
		}
		rule, err := p.parseRule(attrs)
		if err != nil {
			return err
		}
		if len(p.stack) == 0 {
			p.theme.rules = append(p.theme.rules, rule)
		} else {
			top := p.stack[len(p.stack)-1]
			top.children = append(top.children, rule)
		}
		p.stack = append(p.stack, rule)
	default:
		if parent != "rule" {
			return p.errorf("%s must be nested in a rule, not %q", name, parent)
		}
		instruction, err := p.parseInstruction(name, attrs)
		if err != nil {
			return err
		}
		top := p.stack[len(p.stack)-1]
		top.instructions = append(top.instructions, instruction)
	}

	p.elements = append(p.elements, name)
	return nil
}

func (p *parser) endElement(el xml.EndElement) {
	if len(p.elements) == 0 {
		return
	}
	p.elements = p.elements[:len(p.elements)-1]
	switch el.Name.Local {
	case "rule":
		p.stack = p.stack[:len(p.stack)-1]
	case rootElement:
		p.rootClosed = true
	}
}

// attributes checks names against the allowed set and presence of mandatory ones
func (p *parser) attributes(element string, attrs []xml.Attr, allowed []string) (map[string]string, error) {
	out := make(map[string]string, len(attrs))
	for _, a := range attrs {
		if a.Name.Space != "" || a.Name.Local == "xmlns" {
			continue
		}
		if !contains(allowed, a.Name.Local) {
			return nil, p.errorf("unknown attribute %q on %s", a.Name.Local, element)
		}
		out[a.Name.Local] = a.Value
	}
	for _, name := range mandatoryAttributes[element] {
		if _, ok := out[name]; !ok {
			return nil, p.errorf("missing attribute %q on %s", name, element)
		}
	}
	return out, nil
}

func (p *parser) parseRoot(attrs map[string]string) error {
	var err error
	if v, ok := attrs["map-background"]; ok {
		if p.theme.background, err = p.color(v); err != nil {
			return err
		}
	}
	if v, ok := attrs["base-stroke-width"]; ok {
		if p.theme.baseStrokeWidth, err = p.positive("base-stroke-width", v); err != nil {
			return err
		}
	}
	if v, ok := attrs["base-text-size"]; ok {
		if p.theme.baseTextSize, err = p.positive("base-text-size", v); err != nil {
			return err
		}
	}
	return nil
}

func (p *parser) parseRule(attrs map[string]string) (*Rule, error) {
	rule := newRule()

	switch attrs["e"] {
	case "any":
		rule.element = ElementAny
	case "node":
		rule.element = ElementNode
	case "way":
		rule.element = ElementWay
	default:
		return nil, p.errorf("invalid element type %q", attrs["e"])
	}

	switch attrs["closed"] {
	case "", "any":
		rule.closed = ClosedAny
	case "yes":
		rule.closed = ClosedYes
	case "no":
		rule.closed = ClosedNo
	default:
		return nil, p.errorf("invalid closed value %q", attrs["closed"])
	}

	var err error
	if v, ok := attrs["zoom-min"]; ok {
		if rule.zoomMin, err = p.zoom("zoom-min", v); err != nil {
			return nil, err
		}
	}
	if v, ok := attrs["zoom-max"]; ok {
		if rule.zoomMax, err = p.zoom("zoom-max", v); err != nil {
			return nil, err
		}
	}
	if rule.zoomMin > rule.zoomMax {
		return nil, p.errorf("zoom-min %d exceeds zoom-max %d", rule.zoomMin, rule.zoomMax)
	}

	if attrs["k"] == "" || attrs["v"] == "" {
		return nil, p.errorf("empty k or v attribute")
	}
	rule.keyMatcher = newMatcher(attrs["k"], false)
	rule.valueMatcher = newMatcher(attrs["v"], true)
	return rule, nil
}

func (p *parser) parseInstruction(name string, attrs map[string]string) (Instruction, error) {
	lvl, err := p.level(attrs)
	if err != nil {
		return nil, err
	}

	switch name {
	case "area":
		a := Area{level: lvl, Src: attrs["src"]}
		if a.Fill, err = p.optionalColor(attrs, "fill"); err != nil {
			return nil, err
		}
		if a.Stroke, err = p.optionalColor(attrs, "stroke"); err != nil {
			return nil, err
		}
		if a.StrokeWidth, err = p.optionalFloat(attrs, "stroke-width", 0); err != nil {
			return nil, err
		}
		return a, nil

	case "line":
		l := Line{level: lvl, Src: attrs["src"], Cap: "round"}
		if l.Stroke, err = p.optionalColor(attrs, "stroke"); err != nil {
			return nil, err
		}
		if l.StrokeWidth, err = p.optionalFloat(attrs, "stroke-width", 0); err != nil {
			return nil, err
		}
		if v, ok := attrs["stroke-dasharray"]; ok {
			if l.Dash, err = p.dash(v); err != nil {
				return nil, err
			}
		}
		if v, ok := attrs["stroke-linecap"]; ok {
			if !contains(lineCaps, v) {
				return nil, p.errorf("invalid stroke-linecap %q", v)
			}
			l.Cap = v
		}
		return l, nil

	case "caption", "pathText":
		text, err := p.text(attrs)
		if err != nil {
			return nil, err
		}
		if name == "caption" {
			return Caption(text.withLevel(lvl)), nil
		}
		return PathText(text.withLevel(lvl)), nil

	case "circle":
		c := Circle{level: lvl}
		if c.Radius, err = p.positive("r", attrs["r"]); err != nil {
			return nil, err
		}
		if c.ScaleRadius, err = p.optionalBool(attrs, "scale-radius"); err != nil {
			return nil, err
		}
		if c.Fill, err = p.optionalColor(attrs, "fill"); err != nil {
			return nil, err
		}
		if c.Stroke, err = p.optionalColor(attrs, "stroke"); err != nil {
			return nil, err
		}
		if c.StrokeWidth, err = p.optionalFloat(attrs, "stroke-width", 0); err != nil {
			return nil, err
		}
		return c, nil

	case "symbol":
		return Symbol{level: lvl, Src: attrs["src"]}, nil

	case "lineSymbol":
		s := LineSymbol{level: lvl, Src: attrs["src"]}
		if s.AlignCenter, err = p.optionalBool(attrs, "align-center"); err != nil {
			return nil, err
		}
		if s.Repeat, err = p.optionalBool(attrs, "repeat"); err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, p.errorf("unknown instruction %q", name)
}

// textStyle is the attribute set shared by caption and pathText
type textStyle Caption

func (s textStyle) withLevel(l level) textStyle {
	s.level = l
	return s
}

func (p *parser) text(attrs map[string]string) (textStyle, error) {
	s := textStyle{Key: attrs["k"], FontFamily: "default", FontStyle: "normal"}
	var err error
	if s.FontSize, err = p.optionalFloat(attrs, "font-size", 10); err != nil {
		return s, err
	}
	if v, ok := attrs["font-family"]; ok {
		if !contains(fontFamilies, v) {
			return s, p.errorf("invalid font-family %q", v)
		}
		s.FontFamily = v
	}
	if v, ok := attrs["font-style"]; ok {
		if !contains(fontStyles, v) {
			return s, p.errorf("invalid font-style %q", v)
		}
		s.FontStyle = v
	}
	if s.Fill, err = p.optionalColor(attrs, "fill"); err != nil {
		return s, err
	}
	if _, ok := attrs["fill"]; !ok {
		s.Fill = color.NRGBA{A: 0xff}
	}
	if s.Stroke, err = p.optionalColor(attrs, "stroke"); err != nil {
		return s, err
	}
	if s.StrokeWidth, err = p.optionalFloat(attrs, "stroke-width", 0); err != nil {
		return s, err
	}
	if v, ok := attrs["dy"]; ok {
		if s.Dy, err = parseNumber(v); err != nil {
			return s, p.errorf("invalid dy %q", v)
		}
	}
	return s, nil
}

// level returns the explicit level or the next one in declaration order
func (p *parser) level(attrs map[string]string) (level, error) {
	if v, ok := attrs["level"]; ok {
		u, err := strconv.ParseUint(v, 10, 31)
		if err != nil {
			return 0, p.errorf("invalid level %q", v)
		}
		n := int(u)
		p.levels[n] = struct{}{}
		return level(n), nil
	}
	n := p.nextLevel
	p.nextLevel++
	p.levels[n] = struct{}{}
	return level(n), nil
}

func (p *parser) zoom(name, value string) (uint8, error) {
	n, err := strconv.ParseUint(value, 10, 8)
	if err != nil || n > uint64(DefaultZoomMax) {
		return 0, p.errorf("invalid %s %q", name, value)
	}
	return uint8(n), nil
}

// parseNumber accepts finite decimal numbers only
func parseNumber(v string) (float64, error) {
	if strings.ContainsAny(v, "xX_") {
		return 0, fmt.Errorf("not a decimal number: %q", v)
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("not a finite number: %q", v)
	}
	return f, nil
}

func (p *parser) positive(name, value string) (float64, error) {
	f, err := parseNumber(value)
	if err != nil || !(f > 0) {
		return 0, p.errorf("invalid %s %q: must be a positive number", name, value)
	}
	return f, nil
}

func (p *parser) optionalFloat(attrs map[string]string, name string, def float64) (float64, error) {
	v, ok := attrs[name]
	if !ok {
		return def, nil
	}
	f, err := parseNumber(v)
	if err != nil || f < 0 {
		return 0, p.errorf("invalid %s %q", name, v)
	}
	return f, nil
}

func (p *parser) optionalBool(attrs map[string]string, name string) (bool, error) {
	v, ok := attrs[name]
	if !ok {
		return false, nil
	}
	b, err := cast.ToBoolE(v)
	if err != nil {
		return false, p.errorf("invalid %s %q", name, v)
	}
	return b, nil
}

func (p *parser) optionalColor(attrs map[string]string, name string) (color.NRGBA, error) {
	v, ok := attrs[name]
	if !ok {
		return color.NRGBA{}, nil
	}
	return p.color(v)
}

func (p *parser) color(value string) (color.NRGBA, error) {
	c, err := ParseColor(value)
	if err != nil {
		return c, p.errorf("%v", err)
	}
	return c, nil
}

func (p *parser) dash(value string) ([]float64, error) {
	parts := strings.Split(value, ",")
	dash := make([]float64, 0, len(parts))
	for _, part := range parts {
		f, err := parseNumber(strings.TrimSpace(part))
		if err != nil || !(f > 0) {
			return nil, p.errorf("invalid stroke-dasharray %q", value)
		}
		dash = append(dash, f)
	}
	return dash, nil
}

// ParseColor accepts #RRGGBB and #AARRGGBB
func ParseColor(value string) (color.NRGBA, error) {
	if !strings.HasPrefix(value, "#") || (len(value) != 7 && len(value) != 9) {
		return color.NRGBA{}, fmt.Errorf("invalid color %q: want #RRGGBB or #AARRGGBB", value)
	}
	n, err := strconv.ParseUint(value[1:], 16, 32)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("invalid color %q: %v", value, err)
	}

	c := color.NRGBA{
		R: uint8(n >> 16),
		G: uint8(n >> 8),
		B: uint8(n),
		A: 0xff,
	}
	if len(value) == 9 {
		c.A = uint8(n >> 24)
	}
	return c, nil
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
