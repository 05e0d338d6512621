package theme

import (
	"sort"
	"strings"
)

// Tag is a key/value attribute of a map feature
type Tag struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// AttributeMatcher decides whether a rule accepts a tag set
type AttributeMatcher interface {
	Matches(tags []Tag) bool
	// IsCoveredBy reports whether other accepts every tag set this matcher
	// accepts. It is conservative: false does not prove the opposite.
	IsCoveredBy(other AttributeMatcher) bool
}

// AnyMatcher accepts every tag set
type AnyMatcher struct{}

// Matches implements AttributeMatcher
func (AnyMatcher) Matches([]Tag) bool { return true }

// IsCoveredBy implements AttributeMatcher
func (AnyMatcher) IsCoveredBy(other AttributeMatcher) bool {
	_, ok := other.(AnyMatcher)
	return ok
}

func (AnyMatcher) String() string { return "*" }

// KeyMatcher accepts tag sets containing at least one of its keys
type KeyMatcher struct {
	keys map[string]struct{}
}

// NewKeyMatcher creates a matcher for the given keys
func NewKeyMatcher(keys ...string) KeyMatcher {
	return KeyMatcher{keys: toSet(keys)}
}

// Matches implements AttributeMatcher
func (m KeyMatcher) Matches(tags []Tag) bool {
	for _, tag := range tags {
		if _, ok := m.keys[tag.Key]; ok {
			return true
		}
	}
	return false
}

// IsCoveredBy implements AttributeMatcher
func (m KeyMatcher) IsCoveredBy(other AttributeMatcher) bool {
	switch o := other.(type) {
	case AnyMatcher:
		return true
	case KeyMatcher:
		return isSubset(m.keys, o.keys)
	}
	return false
}

func (m KeyMatcher) String() string { return "k=" + joinSet(m.keys) }

// ValueMatcher accepts tag sets containing at least one of its values
type ValueMatcher struct {
	values map[string]struct{}
}

// NewValueMatcher creates a matcher for the given values
func NewValueMatcher(values ...string) ValueMatcher {
	return ValueMatcher{values: toSet(values)}
}

// Matches implements AttributeMatcher
func (m ValueMatcher) Matches(tags []Tag) bool {
	for _, tag := range tags {
		if _, ok := m.values[tag.Value]; ok {
			return true
		}
	}
	return false
}

// IsCoveredBy implements AttributeMatcher
func (m ValueMatcher) IsCoveredBy(other AttributeMatcher) bool {
	switch o := other.(type) {
	case AnyMatcher:
		return true
	case ValueMatcher:
		return isSubset(m.values, o.values)
	}
	return false
}

func (m ValueMatcher) String() string { return "v=" + joinSet(m.values) }

// newMatcher builds a matcher from a "|" separated list; "*" matches anything
func newMatcher(list string, values bool) AttributeMatcher {
	parts := strings.Split(list, "|")
	for _, p := range parts {
		if p == "*" {
			return AnyMatcher{}
		}
	}
	if values {
		return NewValueMatcher(parts...)
	}
	return NewKeyMatcher(parts...)
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		set[item] = struct{}{}
	}
	return set
}

func isSubset(a, b map[string]struct{}) bool {
	for item := range a {
		if _, ok := b[item]; !ok {
			return false
		}
	}
	return true
}

func joinSet(set map[string]struct{}) string {
	items := make([]string, 0, len(set))
	for item := range set {
		items = append(items, item)
	}
	sort.Strings(items)
	return strings.Join(items, "|")
}
