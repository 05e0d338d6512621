// Package theme parses XML render themes into a rule tree and matches tagged map
// features against it, producing level-ordered drawing instructions.
package theme

import (
	"fmt"
	"image/color"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/golang/groupcache/lru"

	"github.com/valpere/tilerender/internal"
	"github.com/valpere/tilerender/internal/graphics"
)

const matchCacheSize = 1024

// Theme errors
var (
	ErrMalformedTheme = internal.NewError(internal.ErrorCodeTheme, "malformed render theme", nil)
	ErrThemeDestroyed = internal.NewError(internal.ErrorCodeContract, "render theme destroyed", nil)
	ErrInvalidScale   = internal.NewError(internal.ErrorCodeValidation, "scale factor must be positive", nil)
)

// RenderTheme is a parsed theme. Matching is safe for concurrent use.
type RenderTheme struct {
	mu              sync.RWMutex
	rules           []*Rule
	background      color.NRGBA
	baseStrokeWidth float64
	baseTextSize    float64
	strokeScales    map[uint8]float64
	textScales      map[uint8]float64
	levels          []int
	id              string

	cacheMu    sync.Mutex
	matchCache *lru.Cache

	symbolsMu   sync.Mutex
	symbols     map[string]graphics.Bitmap
	loader      ResourceLoader
	destroyed   bool
	destroyOnce sync.Once
}

func newRenderTheme() *RenderTheme {
	return &RenderTheme{
		background:      color.NRGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff},
		baseStrokeWidth: 1,
		baseTextSize:    1,
		strokeScales:    make(map[uint8]float64),
		textScales:      make(map[uint8]float64),
		matchCache:      lru.New(matchCacheSize),
		symbols:         make(map[string]graphics.Bitmap),
	}
}

// ID identifies the theme document; equal documents share an ID
func (t *RenderTheme) ID() string {
	return t.id
}

// Background returns the map background color
func (t *RenderTheme) Background() color.NRGBA {
	return t.background
}

// Rules returns the number of rules in the tree
func (t *RenderTheme) Rules() int {
	count := 0
	for _, r := range t.rules {
		r.walk(func(*Rule) { count++ })
	}
	return count
}

// GetLevels returns the number of distinct render levels the theme uses
func (t *RenderTheme) GetLevels() int {
	return len(t.levels)
}

// Levels returns the distinct render levels in ascending order
func (t *RenderTheme) Levels() []int {
	out := make([]int, len(t.levels))
	copy(out, t.levels)
	return out
}

// MatchNode returns the scaled instructions for a point feature, ordered by level
func (t *RenderTheme) MatchNode(tags []Tag, zoom uint8) []Instruction {
	key := matchKey("n", tags, zoom)
	templates, ok := t.cached(key)
	if !ok {
		for _, r := range t.rules {
			templates = r.matchNode(tags, zoom, templates)
		}
		sortByLevel(templates)
		t.store(key, templates)
	}
	return t.scale(templates, zoom)
}

// MatchWay returns the scaled instructions for a line or area feature, ordered
// by level
func (t *RenderTheme) MatchWay(tags []Tag, zoom uint8, closed bool) []Instruction {
	kind := "o"
	if closed {
		kind = "c"
	}
	key := matchKey(kind, tags, zoom)
	templates, ok := t.cached(key)
	if !ok {
		for _, r := range t.rules {
			templates = r.matchWay(tags, zoom, closed, templates)
		}
		sortByLevel(templates)
		t.store(key, templates)
	}
	return t.scale(templates, zoom)
}

func sortByLevel(instructions []Instruction) {
	sort.SliceStable(instructions, func(i, j int) bool {
		return instructions[i].Level() < instructions[j].Level()
	})
}

func (t *RenderTheme) cached(key string) ([]Instruction, bool) {
	t.cacheMu.Lock()
	defer t.cacheMu.Unlock()
	v, ok := t.matchCache.Get(key)
	if !ok {
		return nil, false
	}
	return v.([]Instruction), true
}

func (t *RenderTheme) store(key string, templates []Instruction) {
	t.cacheMu.Lock()
	defer t.cacheMu.Unlock()
	t.matchCache.Add(key, templates)
}

// scale copies templates applying the stroke and text factors of a zoom level
func (t *RenderTheme) scale(templates []Instruction, zoom uint8) []Instruction {
	t.mu.RLock()
	stroke := t.baseStrokeWidth * scaleAt(t.strokeScales, zoom)
	text := t.baseTextSize * scaleAt(t.textScales, zoom)
	t.mu.RUnlock()

	out := make([]Instruction, len(templates))
	for i, instruction := range templates {
		out[i] = instruction.scaled(stroke, text)
	}
	return out
}

func scaleAt(scales map[uint8]float64, zoom uint8) float64 {
	if s, ok := scales[zoom]; ok {
		return s
	}
	return 1
}

// ScaleStrokeWidth sets the stroke width factor used at a zoom level
func (t *RenderTheme) ScaleStrokeWidth(factor float64, zoom uint8) error {
	if err := checkScale(factor); err != nil {
		return err
	}
	t.mu.Lock()
	t.strokeScales[zoom] = factor
	t.mu.Unlock()
	return nil
}

// ScaleTextSize sets the text size factor used at a zoom level
func (t *RenderTheme) ScaleTextSize(factor float64, zoom uint8) error {
	if err := checkScale(factor); err != nil {
		return err
	}
	t.mu.Lock()
	t.textScales[zoom] = factor
	t.mu.Unlock()
	return nil
}

func checkScale(factor float64) error {
	if !(factor > 0) || math.IsInf(factor, 1) {
		return fmt.Errorf("%w: %v", ErrInvalidScale, factor)
	}
	return nil
}

// Symbol returns the bitmap referenced by src, loading it on first use. The
// bitmap belongs to the theme and stays valid until Destroy; callers that keep
// it longer must Retain it.
func (t *RenderTheme) Symbol(src string) (graphics.Bitmap, error) {
	t.symbolsMu.Lock()
	defer t.symbolsMu.Unlock()

	if t.destroyed {
		return nil, ErrThemeDestroyed
	}
	if b, ok := t.symbols[src]; ok {
		return b, nil
	}
	if t.loader == nil {
		return nil, internal.NewError(internal.ErrorCodeNotFound, "no resource loader for symbol "+src, nil)
	}

	b, err := t.loader.Load(src)
	if err != nil {
		return nil, err
	}
	t.symbols[src] = b
	return b, nil
}

// Destroy releases the loaded symbol bitmaps. Further calls are no-ops.
func (t *RenderTheme) Destroy() {
	t.destroyOnce.Do(func() {
		t.symbolsMu.Lock()
		for src, b := range t.symbols {
			b.Release()
			delete(t.symbols, src)
		}
		t.destroyed = true
		t.symbolsMu.Unlock()

		t.cacheMu.Lock()
		t.matchCache.Clear()
		t.cacheMu.Unlock()
	})
}

// matchKey builds the match cache key from the tags in a stable order
func matchKey(kind string, tags []Tag, zoom uint8) string {
	sorted := make([]Tag, len(tags))
	copy(sorted, tags)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Key != sorted[j].Key {
			return sorted[i].Key < sorted[j].Key
		}
		return sorted[i].Value < sorted[j].Value
	})

	var sb strings.Builder
	sb.WriteString(kind)
	sb.WriteByte('|')
	sb.WriteString(strconv.Itoa(int(zoom)))
	for _, tag := range sorted {
		sb.WriteByte('|')
		sb.WriteString(strconv.Quote(tag.Key))
		sb.WriteByte('=')
		sb.WriteString(strconv.Quote(tag.Value))
	}
	return sb.String()
}
