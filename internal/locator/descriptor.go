// File: internal/locator/descriptor.go
// Package locator resolves semantic field descriptors to live page
// elements under a DOM whose structure is not under our control. Each
// field carries an ordered list of fallback strategies; the first one
// that yields a usable element wins, and staleness is a recoverable
// outcome rather than a failure.
package locator

import "strings"

// StrategyKind identifies one resolution technique.
type StrategyKind string

const (
	// StableAttribute matches a CSS selector built from attributes that
	// rarely churn (data-testid, name, aria-label set by the page itself).
	StableAttribute StrategyKind = "stable_attribute"
	// LabelText associates an input with the visible text of its label.
	LabelText StrategyKind = "label_text"
	// AriaRole matches by accessibility role plus accessible name.
	AriaRole StrategyKind = "aria_role"
	// Landmark locates the field positionally relative to a known anchor
	// element that survives layout churn (e.g. the form container).
	Landmark StrategyKind = "landmark"
)

// Strategy is one candidate resolution technique for a field. Which
// fields are meaningful depends on Kind.
type Strategy struct {
	Kind StrategyKind

	// Selector is the CSS selector for StableAttribute.
	Selector string
	// Label is the visible label text for LabelText.
	Label string
	// Role and Name feed the AriaRole selector.
	Role string
	Name string
	// Anchor and Relative form a descendant selector for Landmark.
	Anchor   string
	Relative string
}

// Normalizer transforms a raw string value into its canonical form before
// it is typed into the page and before readback comparison.
type Normalizer func(string) string

// FieldDescriptor describes one semantic form field and how to find it.
type FieldDescriptor struct {
	// Key is the semantic field key ("title", "precio", "bedrooms", ...).
	Key string
	// Strategies are tried strictly in order; the first resolvable wins.
	Strategies []Strategy
	// Required fields abort the plan when they cannot be filled.
	Required bool
	// Normalize canonicalizes values for fill and readback. Nil means
	// whitespace trimming only.
	Normalize Normalizer
}

// NormalizeValue applies the descriptor's normalizer, defaulting to a
// whitespace trim.
func (d FieldDescriptor) NormalizeValue(v string) string {
	if d.Normalize != nil {
		return d.Normalize(v)
	}
	return strings.TrimSpace(v)
}
