// internal/theme/rule.go - Rule tree and matching
package theme

import "fmt"

// Element restricts a rule to nodes, ways or both
type Element int

const (
	ElementAny Element = iota
	ElementNode
	ElementWay
)

// Closed restricts way rules to closed or open ways
type Closed int

const (
	ClosedAny Closed = iota
	ClosedYes
	ClosedNo
)

// Zoom range used when a rule omits zoom-min or zoom-max
const (
	DefaultZoomMin uint8 = 0
	DefaultZoomMax uint8 = 127
)

// Rule is a node of the rule tree. A rule whose zoom range and matchers accept a
// feature contributes its instructions and then refines through its children.
type Rule struct {
	element      Element
	closed       Closed
	zoomMin      uint8
	zoomMax      uint8
	keyMatcher   AttributeMatcher
	valueMatcher AttributeMatcher
	instructions []Instruction
	children     []*Rule
}

func newRule() *Rule {
	return &Rule{
		zoomMin:      DefaultZoomMin,
		zoomMax:      DefaultZoomMax,
		keyMatcher:   AnyMatcher{},
		valueMatcher: AnyMatcher{},
	}
}

func (r *Rule) String() string {
	return fmt.Sprintf("rule(e=%d k=%v v=%v zoom=%d-%d)", r.element, r.keyMatcher, r.valueMatcher, r.zoomMin, r.zoomMax)
}

func (r *Rule) inZoom(zoom uint8) bool {
	return zoom >= r.zoomMin && zoom <= r.zoomMax
}

func (r *Rule) matchesNode(tags []Tag, zoom uint8) bool {
	return r.element != ElementWay &&
		r.inZoom(zoom) &&
		r.keyMatcher.Matches(tags) &&
		r.valueMatcher.Matches(tags)
}

func (r *Rule) matchesWay(tags []Tag, zoom uint8, closed bool) bool {
	if r.element == ElementNode || !r.inZoom(zoom) {
		return false
	}
	if (r.closed == ClosedYes && !closed) || (r.closed == ClosedNo && closed) {
		return false
	}
	return r.keyMatcher.Matches(tags) && r.valueMatcher.Matches(tags)
}

func (r *Rule) matchNode(tags []Tag, zoom uint8, out []Instruction) []Instruction {
	if !r.matchesNode(tags, zoom) {
		return out
	}
	out = append(out, r.instructions...)
	for _, child := range r.children {
		out = child.matchNode(tags, zoom, out)
	}
	return out
}

func (r *Rule) matchWay(tags []Tag, zoom uint8, closed bool, out []Instruction) []Instruction {
	if !r.matchesWay(tags, zoom, closed) {
		return out
	}
	out = append(out, r.instructions...)
	for _, child := range r.children {
		out = child.matchWay(tags, zoom, closed, out)
	}
	return out
}

// walk visits r and its descendants depth first
func (r *Rule) walk(fn func(*Rule)) {
	fn(r)
	for _, child := range r.children {
		child.walk(fn)
	}
}

// optimize replaces child matchers already implied by an ancestor with AnyMatcher.
// A child is only evaluated after all its ancestors matched, so if an ancestor's
// matcher is covered by the child's, the child's check cannot fail.
func (r *Rule) optimize(ancestors []*Rule) int {
	replaced := 0
	for _, a := range ancestors {
		if _, ok := r.keyMatcher.(AnyMatcher); !ok && a.keyMatcher.IsCoveredBy(r.keyMatcher) {
			r.keyMatcher = AnyMatcher{}
			replaced++
		}
		if _, ok := r.valueMatcher.(AnyMatcher); !ok && a.valueMatcher.IsCoveredBy(r.valueMatcher) {
			r.valueMatcher = AnyMatcher{}
			replaced++
		}
	}

	ancestors = append(ancestors, r)
	for _, child := range r.children {
		replaced += child.optimize(ancestors)
	}
	return replaced
}
