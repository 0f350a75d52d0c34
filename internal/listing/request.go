// File: internal/listing/request.go
// Package listing holds the listing data model, the per-kind field
// registries and the interaction plan builder. A ListingRequest is
// consumed exactly once to produce an immutable Plan; requests that fail
// validation never produce a plan.
package listing

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode"
)

// Kind discriminates the two supported listing categories.
type Kind string

const (
	KindItem     Kind = "item"
	KindProperty Kind = "property"
)

// Valid reports whether the kind is one of the supported categories.
func (k Kind) Valid() bool {
	return k == KindItem || k == KindProperty
}

// ListingRequest is the caller-supplied description of one marketplace
// post under construction.
type ListingRequest struct {
	Kind        Kind              `json:"kind"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	// Fields maps optional semantic keys (precio, location, bedrooms, ...)
	// to raw string values; unknown keys are ignored by the plan builder.
	Fields map[string]string `json:"fields,omitempty"`
	// Images are local file references, applied in the given order after
	// natural filename sorting.
	Images []string `json:"images,omitempty"`
}

var (
	ErrEmptyTitle       = errors.New("listing: title is required and must be non-empty")
	ErrEmptyDescription = errors.New("listing: description is required and must be non-empty")
)

// Validate enforces the request invariants. A request with an empty
// title or description never produces a Plan.
func (r ListingRequest) Validate() error {
	if !r.Kind.Valid() {
		return fmt.Errorf("listing: unknown kind %q", r.Kind)
	}
	if strings.TrimSpace(r.Title) == "" {
		return ErrEmptyTitle
	}
	if strings.TrimSpace(r.Description) == "" {
		return ErrEmptyDescription
	}
	return nil
}

// SortImagesNatural orders image references by natural filename order, so
// photo_2.jpg sorts before photo_10.jpg. Returns a new slice; the request
// is not mutated.
func SortImagesNatural(images []string) []string {
	sorted := make([]string, len(images))
	copy(sorted, images)
	sort.SliceStable(sorted, func(i, j int) bool {
		return naturalLess(sorted[i], sorted[j])
	})
	return sorted
}

// naturalLess compares strings chunk-wise, treating digit runs as
// numbers.
func naturalLess(a, b string) bool {
	for len(a) > 0 && len(b) > 0 {
		ca, restA := chunk(a)
		cb, restB := chunk(b)
		if ca != cb {
			na, aNum := chunkValue(ca)
			nb, bNum := chunkValue(cb)
			if aNum && bNum {
				if na != nb {
					return na < nb
				}
			} else {
				return ca < cb
			}
		}
		a, b = restA, restB
	}
	return len(a) < len(b)
}

// chunk splits off the leading run of digits or non-digits.
func chunk(s string) (string, string) {
	if s == "" {
		return "", ""
	}
	isDigit := unicode.IsDigit(rune(s[0]))
	for i := 1; i < len(s); i++ {
		if unicode.IsDigit(rune(s[i])) != isDigit {
			return s[:i], s[i:]
		}
	}
	return s, ""
}

func chunkValue(c string) (int64, bool) {
	var n int64
	for _, r := range c {
		if !unicode.IsDigit(r) {
			return 0, false
		}
		n = n*10 + int64(r-'0')
	}
	return n, true
}
