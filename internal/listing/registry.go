// File: internal/listing/registry.go
package listing

import (
	"strings"
	"unicode"

	"github.com/Hawhaz/marketstage/internal/locator"
)

// Action is one atomic UI action kind in an interaction plan.
type Action string

const (
	ActionClick  Action = "click"
	ActionType   Action = "type"
	ActionSelect Action = "select"
	ActionUpload Action = "upload"
	ActionWait   Action = "wait"
)

// Entry binds a field descriptor to the action used to apply its value.
type Entry struct {
	Descriptor locator.FieldDescriptor
	Action     Action
}

// Registry is the closed, per-kind catalog of fields the plan builder
// knows how to stage, in form order. Unknown request keys are ignored;
// fields absent from the request are skipped unless the form itself
// requires them.
type Registry struct {
	Kind Kind
	// FormURL is the creation form for this kind and doubles as the
	// known-good anchor location for structural recovery reloads.
	FormURL string
	Fields  []Entry
	// Upload is the file input receiving the image sequence.
	Upload locator.FieldDescriptor
	// Review advances the form to the draft review screen.
	Review locator.FieldDescriptor
	// StageDraft saves the reviewable draft. There is deliberately no
	// descriptor for the public publish control anywhere in the registry.
	StageDraft locator.FieldDescriptor
}

// NormalizeDigits keeps only digits, for price-like fields whose UI
// reformats with currency symbols and thousands separators.
func NormalizeDigits(v string) string {
	var sb strings.Builder
	for _, r := range v {
		if unicode.IsDigit(r) {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// NormalizeText trims and collapses internal whitespace runs.
func NormalizeText(v string) string {
	return strings.Join(strings.Fields(v), " ")
}

// textField builds the common fallback chain for a typed text field.
func textField(key, testID, label, ariaName string, required bool, norm locator.Normalizer) Entry {
	return Entry{
		Action: ActionType,
		Descriptor: locator.FieldDescriptor{
			Key:      key,
			Required: required,
			Normalize: norm,
			Strategies: []locator.Strategy{
				{Kind: locator.StableAttribute, Selector: `[data-testid="` + testID + `"]`},
				{Kind: locator.LabelText, Label: label},
				{Kind: locator.AriaRole, Role: "textbox", Name: ariaName},
				{Kind: locator.Landmark, Anchor: `[role="main"] form`, Relative: `input[name="` + key + `"]`},
			},
		},
	}
}

func buttonField(key, testID, ariaName string) locator.FieldDescriptor {
	return locator.FieldDescriptor{
		Key:      key,
		Required: true,
		Strategies: []locator.Strategy{
			{Kind: locator.StableAttribute, Selector: `[data-testid="` + testID + `"]`},
			{Kind: locator.AriaRole, Role: "button", Name: ariaName},
			{Kind: locator.Landmark, Anchor: `[role="main"]`, Relative: `div[aria-label="` + ariaName + `"]`},
		},
	}
}

// DefaultRegistry returns the built-in registry for a listing kind.
func DefaultRegistry(kind Kind) *Registry {
	common := Registry{
		Kind:   kind,
		Upload: uploadField(),
		Review: buttonField("review", "marketplace-composer-next", "Next"),
		StageDraft: buttonField("stage_draft", "marketplace-composer-save-draft", "Save draft"),
	}

	switch kind {
	case KindProperty:
		common.FormURL = "https://www.facebook.com/marketplace/create/rental"
		common.Fields = []Entry{
			textField("title", "marketplace-composer-title-input", "Title", "Title", true, nil),
			textField("precio", "marketplace-composer-price-input", "Price", "Price", true, locator.Normalizer(NormalizeDigits)),
			textField("description", "marketplace-composer-description-input", "Description", "Description", true, locator.Normalizer(NormalizeText)),
			textField("location", "marketplace-composer-location-input", "Location", "Location", false, nil),
			textField("bedrooms", "marketplace-composer-bedrooms-input", "Bedrooms", "Number of bedrooms", false, locator.Normalizer(NormalizeDigits)),
			textField("bathrooms", "marketplace-composer-bathrooms-input", "Bathrooms", "Number of bathrooms", false, locator.Normalizer(NormalizeDigits)),
			textField("size", "marketplace-composer-size-input", "Property size", "Property size", false, locator.Normalizer(NormalizeDigits)),
			selectField("property_type", "marketplace-composer-property-type", "Property type"),
		}
	default: // KindItem
		common.FormURL = "https://www.facebook.com/marketplace/create/item"
		common.Fields = []Entry{
			textField("title", "marketplace-composer-title-input", "Title", "Title", true, nil),
			textField("precio", "marketplace-composer-price-input", "Price", "Price", true, locator.Normalizer(NormalizeDigits)),
			selectField("category", "marketplace-composer-category-select", "Category"),
			selectField("condition", "marketplace-composer-condition-select", "Condition"),
			textField("description", "marketplace-composer-description-input", "Description", "Description", true, locator.Normalizer(NormalizeText)),
			textField("location", "marketplace-composer-location-input", "Location", "Location", false, nil),
		}
	}
	return &common
}

func selectField(key, testID, label string) Entry {
	return Entry{
		Action: ActionSelect,
		Descriptor: locator.FieldDescriptor{
			Key:      key,
			Required: false,
			Strategies: []locator.Strategy{
				{Kind: locator.StableAttribute, Selector: `[data-testid="` + testID + `"]`},
				{Kind: locator.LabelText, Label: label},
				{Kind: locator.AriaRole, Role: "combobox", Name: label},
			},
		},
	}
}

func uploadField() locator.FieldDescriptor {
	return locator.FieldDescriptor{
		Key:      "images",
		Required: false,
		Strategies: []locator.Strategy{
			{Kind: locator.StableAttribute, Selector: `input[type="file"][accept*="image"]`},
			{Kind: locator.Landmark, Anchor: `[role="main"] form`, Relative: `input[type="file"]`},
		},
	}
}
