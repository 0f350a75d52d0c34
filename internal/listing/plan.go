// File: internal/listing/plan.go
package listing

import (
	"fmt"

	"github.com/Hawhaz/marketstage/internal/locator"
)

// Step is one atomic UI action of an interaction plan.
type Step struct {
	Action Action
	Field  locator.FieldDescriptor
	// Value is the normalized value for Type/Select steps.
	Value string
	// Images carries the capped, ordered image references for Upload.
	Images []string
}

// Plan is the ordered sequence of steps staging one listing. It is built
// once from a request plus the per-kind registry and never mutated.
type Plan struct {
	Kind    Kind
	FormURL string
	Steps   []Step
	// Dropped counts images beyond the per-kind cap that were discarded
	// deterministically (first N kept, in order).
	Dropped int
}

// Caps holds the per-kind image limits. They are policy values from
// configuration, not compiled-in contracts.
type Caps struct {
	MaxImagesItem     int `mapstructure:"max_images_item" yaml:"max_images_item"`
	MaxImagesProperty int `mapstructure:"max_images_property" yaml:"max_images_property"`
}

// DefaultCaps mirrors the historical limits of the target UI.
func DefaultCaps() Caps {
	return Caps{MaxImagesItem: 10, MaxImagesProperty: 50}
}

func (c Caps) forKind(kind Kind) int {
	if kind == KindProperty {
		return c.MaxImagesProperty
	}
	return c.MaxImagesItem
}

// BuildPlan validates the request and derives the immutable interaction
// plan: one fill step per registry field that has a value, then the image
// upload, then the review advance as the terminal step. No publish step
// exists.
func BuildPlan(req ListingRequest, reg *Registry, caps Caps) (*Plan, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if reg == nil {
		reg = DefaultRegistry(req.Kind)
	}
	if reg.Kind != req.Kind {
		return nil, fmt.Errorf("listing: registry kind %q does not match request kind %q", reg.Kind, req.Kind)
	}

	plan := &Plan{Kind: req.Kind, FormURL: reg.FormURL}

	for _, entry := range reg.Fields {
		value, ok := valueFor(req, entry.Descriptor.Key)
		if !ok {
			continue
		}
		plan.Steps = append(plan.Steps, Step{
			Action: entry.Action,
			Field:  entry.Descriptor,
			Value:  entry.Descriptor.NormalizeValue(value),
		})
	}

	images := SortImagesNatural(req.Images)
	limit := caps.forKind(req.Kind)
	if limit > 0 && len(images) > limit {
		plan.Dropped = len(images) - limit
		images = images[:limit]
	}
	if len(images) > 0 {
		plan.Steps = append(plan.Steps, Step{
			Action: ActionUpload,
			Field:  reg.Upload,
			Images: images,
		})
	}

	plan.Steps = append(plan.Steps, Step{Action: ActionClick, Field: reg.Review})

	return plan, nil
}

// valueFor resolves a semantic key against the request, with title and
// description coming from their dedicated fields.
func valueFor(req ListingRequest, key string) (string, bool) {
	switch key {
	case "title":
		return req.Title, true
	case "description":
		return req.Description, true
	}
	v, ok := req.Fields[key]
	return v, ok && v != ""
}
