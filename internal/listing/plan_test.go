// File: internal/listing/plan_test.go
package listing

import (
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func propertyRequest() ListingRequest {
	return ListingRequest{
		Kind:        KindProperty,
		Title:       "Casa Moderna",
		Description: "3 recámaras",
		Fields:      map[string]string{"precio": "25000"},
	}
}

func TestBuildPlanRejectsEmptyTitle(t *testing.T) {
	req := propertyRequest()
	req.Title = "   "

	plan, err := BuildPlan(req, nil, DefaultCaps())
	require.ErrorIs(t, err, ErrEmptyTitle)
	assert.Nil(t, plan, "no plan may exist for an invalid request")
}

func TestBuildPlanRejectsEmptyDescription(t *testing.T) {
	req := propertyRequest()
	req.Description = ""

	_, err := BuildPlan(req, nil, DefaultCaps())
	require.ErrorIs(t, err, ErrEmptyDescription)
}

func TestBuildPlanRejectsUnknownKind(t *testing.T) {
	req := propertyRequest()
	req.Kind = "vehicle"

	_, err := BuildPlan(req, nil, DefaultCaps())
	require.Error(t, err)
}

func TestBuildPlanRegistryKindMismatch(t *testing.T) {
	_, err := BuildPlan(propertyRequest(), DefaultRegistry(KindItem), DefaultCaps())
	require.Error(t, err)
}

func TestBuildPlanFieldOrderAndValues(t *testing.T) {
	req := propertyRequest()
	req.Fields["bedrooms"] = "3"

	plan, err := BuildPlan(req, nil, DefaultCaps())
	require.NoError(t, err)

	var keys []string
	for _, s := range plan.Steps {
		if s.Action == ActionType || s.Action == ActionSelect {
			keys = append(keys, s.Field.Key)
		}
	}
	// Registry order, not request-map order.
	assert.Equal(t, []string{"title", "precio", "description", "bedrooms"}, keys)

	// Price normalization strips everything but digits.
	for _, s := range plan.Steps {
		if s.Field.Key == "precio" {
			assert.Equal(t, "25000", s.Value)
		}
	}
}

func TestBuildPlanSkipsAbsentOptionalFields(t *testing.T) {
	plan, err := BuildPlan(propertyRequest(), nil, DefaultCaps())
	require.NoError(t, err)

	for _, s := range plan.Steps {
		assert.NotEqual(t, "bathrooms", s.Field.Key, "absent optional field must not produce a step")
	}
}

func TestBuildPlanEndsWithReviewAdvanceNotPublish(t *testing.T) {
	plan, err := BuildPlan(propertyRequest(), nil, DefaultCaps())
	require.NoError(t, err)
	require.NotEmpty(t, plan.Steps)

	last := plan.Steps[len(plan.Steps)-1]
	assert.Equal(t, ActionClick, last.Action)
	assert.Equal(t, "review", last.Field.Key)
}

func TestBuildPlanImageCapKeepsFirstNInOrder(t *testing.T) {
	req := propertyRequest()
	req.Kind = KindItem
	caps := Caps{MaxImagesItem: 3, MaxImagesProperty: 50}
	for i := 1; i <= 6; i++ {
		req.Images = append(req.Images, fmt.Sprintf("photo_%d.jpg", i))
	}

	plan, err := BuildPlan(req, DefaultRegistry(KindItem), caps)
	require.NoError(t, err)

	var upload *Step
	for i := range plan.Steps {
		if plan.Steps[i].Action == ActionUpload {
			upload = &plan.Steps[i]
		}
	}
	require.NotNil(t, upload)
	assert.Equal(t, 3, plan.Dropped)
	want := []string{"photo_1.jpg", "photo_2.jpg", "photo_3.jpg"}
	if diff := cmp.Diff(want, upload.Images); diff != "" {
		t.Errorf("capped images mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildPlanPropertyCapHigherThanItem(t *testing.T) {
	caps := DefaultCaps()
	assert.Greater(t, caps.MaxImagesProperty, caps.MaxImagesItem)
}

func TestBuildPlanNoImagesNoUploadStep(t *testing.T) {
	plan, err := BuildPlan(propertyRequest(), nil, DefaultCaps())
	require.NoError(t, err)

	for _, s := range plan.Steps {
		assert.NotEqual(t, ActionUpload, s.Action)
	}
}

func TestSortImagesNatural(t *testing.T) {
	in := []string{"img_10.jpg", "img_2.jpg", "cover.jpg", "img_1.jpg"}
	got := SortImagesNatural(in)
	assert.Equal(t, []string{"cover.jpg", "img_1.jpg", "img_2.jpg", "img_10.jpg"}, got)
	// Input untouched.
	assert.Equal(t, []string{"img_10.jpg", "img_2.jpg", "cover.jpg", "img_1.jpg"}, in)
}

func TestNormalizeDigits(t *testing.T) {
	assert.Equal(t, "25000", NormalizeDigits("$25,000 MXN"))
	assert.Equal(t, "", NormalizeDigits("gratis"))
}

func TestNormalizeText(t *testing.T) {
	assert.Equal(t, "3 recámaras 2 baños", NormalizeText("  3 recámaras\n\t2   baños "))
}
