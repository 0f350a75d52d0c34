// File: internal/engine/machine_test.go
package engine

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Hawhaz/marketstage/internal/errs"
	"github.com/Hawhaz/marketstage/internal/listing"
	"github.com/Hawhaz/marketstage/internal/locator"
	"github.com/Hawhaz/marketstage/internal/recovery"
)

// fakeDriver simulates a loaded creation form in memory.
type fakeDriver struct {
	mu sync.Mutex

	present map[string]bool
	values  map[string]string
	html    string
	epoch   uint64

	navs    []string
	clicks  []string
	uploads [][]string

	// navErr, when set, fails every navigation.
	navErr error
	// typeFailures holds per-selector errors consumed one per TypeText call.
	typeFailures map[string][]error
	// probeMisses makes the next N probes of a selector report absent.
	probeMisses map[string]int
	// readOverride forces the readback value for a selector.
	readOverride map[string]string
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		present:      make(map[string]bool),
		values:       make(map[string]string),
		html:         "<html><body></body></html>",
		typeFailures: make(map[string][]error),
		probeMisses:  make(map[string]int),
		readOverride: make(map[string]string),
	}
}

func (f *fakeDriver) ProbeCSS(_ context.Context, selector string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n := f.probeMisses[selector]; n > 0 {
		f.probeMisses[selector] = n - 1
		return false, nil
	}
	return f.present[selector], nil
}

func (f *fakeDriver) Snapshot(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.html, nil
}

func (f *fakeDriver) NavigationEpoch() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.epoch
}

func (f *fakeDriver) Navigate(_ context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.navErr != nil {
		return f.navErr
	}
	f.navs = append(f.navs, url)
	f.epoch++
	return nil
}

func (f *fakeDriver) Click(_ context.Context, selector string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clicks = append(f.clicks, selector)
	return nil
}

func (f *fakeDriver) TypeText(_ context.Context, selector, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if queue := f.typeFailures[selector]; len(queue) > 0 {
		err := queue[0]
		f.typeFailures[selector] = queue[1:]
		if errs.KindOf(err) == errs.KindStale {
			// The element detached: the old handle probes absent until
			// the page settles again.
			f.probeMisses[selector] = 1
		}
		return err
	}
	f.values[selector] = text
	return nil
}

func (f *fakeDriver) SelectOption(_ context.Context, selector, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[selector] = value
	return nil
}

func (f *fakeDriver) Upload(_ context.Context, _ string, paths []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, paths)
	return nil
}

func (f *fakeDriver) ReadValue(_ context.Context, selector string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if v, ok := f.readOverride[selector]; ok {
		return v, nil
	}
	return f.values[selector], nil
}

func (f *fakeDriver) Screenshot(context.Context, string) (string, error) {
	return "screenshots/fake.png", nil
}

func (f *fakeDriver) Pause(context.Context, float64) error { return nil }

// selectors of the default property registry's stable-attribute strategy.
const (
	selTitle       = `[data-testid="marketplace-composer-title-input"]`
	selPrice       = `[data-testid="marketplace-composer-price-input"]`
	selDescription = `[data-testid="marketplace-composer-description-input"]`
	selReview      = `[data-testid="marketplace-composer-next"]`
	selStageDraft  = `[data-testid="marketplace-composer-save-draft"]`
	selUpload      = `input[type="file"][accept*="image"]`
)

func (f *fakeDriver) loadPropertyForm() {
	for _, sel := range []string{selTitle, selPrice, selDescription, selReview, selStageDraft, selUpload} {
		f.present[sel] = true
	}
}

func fastPolicy() recovery.Policy {
	p := recovery.DefaultPolicy()
	p.BackoffBase = time.Millisecond
	p.BackoffMax = 5 * time.Millisecond
	return p
}

func newTestMachine(driver *fakeDriver, policy recovery.Policy, opts Options) *Machine {
	logger := zap.NewNop()
	loc := locator.New(driver, locator.DefaultConfig(), logger)
	rec := recovery.New(policy, logger, rand.New(rand.NewSource(1)))
	return New(driver, loc, rec, opts, logger)
}

func propertyRequest() listing.ListingRequest {
	return listing.ListingRequest{
		Kind:        listing.KindProperty,
		Title:       "Casa Moderna",
		Description: "3 recámaras",
		Fields:      map[string]string{"precio": "25000"},
	}
}

func appliedFields(trail []AttemptRecord) []string {
	var out []string
	for _, rec := range trail {
		if rec.Class == classApplied {
			out = append(out, rec.Field)
		}
	}
	return out
}

func countClass(trail []AttemptRecord, class string) int {
	n := 0
	for _, rec := range trail {
		if rec.Class == class {
			n++
		}
	}
	return n
}

func TestRunStagesPropertyDraftToReviewPause(t *testing.T) {
	driver := newFakeDriver()
	driver.loadPropertyForm()
	m := newTestMachine(driver, fastPolicy(), Options{})

	plan, err := listing.BuildPlan(propertyRequest(), nil, listing.DefaultCaps())
	require.NoError(t, err)

	result, err := m.Run(context.Background(), plan, nil)
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, StateReviewingDraft, result.FinalState)

	// One navigation to the rental composer, no publish-capable control
	// ever clicked.
	require.Len(t, driver.navs, 1)
	assert.Contains(t, driver.navs[0], "/marketplace/create/rental")
	assert.NotContains(t, driver.clicks, selStageDraft)
	assert.Contains(t, driver.clicks, selReview)

	// Values landed on the right controls.
	assert.Equal(t, "Casa Moderna", driver.values[selTitle])
	assert.Equal(t, "25000", driver.values[selPrice])
	assert.Equal(t, "3 recámaras", driver.values[selDescription])

	// One applied trail entry per filled field plus the review advance.
	assert.Equal(t, []string{"title", "precio", "description", "review"}, appliedFields(result.Trail))
	assert.Zero(t, countClass(result.Trail, "transient"))
}

func TestRunStageDraftOptionAdvancesToDone(t *testing.T) {
	driver := newFakeDriver()
	driver.loadPropertyForm()
	m := newTestMachine(driver, fastPolicy(), Options{StageDraft: true})

	plan, err := listing.BuildPlan(propertyRequest(), nil, listing.DefaultCaps())
	require.NoError(t, err)

	result, err := m.Run(context.Background(), plan, nil)
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, StateDone, result.FinalState)
	assert.Contains(t, driver.clicks, selStageDraft)
}

func TestRunUploadsImagesInOrder(t *testing.T) {
	driver := newFakeDriver()
	driver.loadPropertyForm()
	m := newTestMachine(driver, fastPolicy(), Options{})

	req := propertyRequest()
	req.Images = []string{"casa-10.jpg", "casa-2.jpg", "casa-1.jpg"}
	plan, err := listing.BuildPlan(req, nil, listing.DefaultCaps())
	require.NoError(t, err)

	result, err := m.Run(context.Background(), plan, nil)
	require.NoError(t, err)
	require.True(t, result.Success)

	require.Len(t, driver.uploads, 1)
	assert.Equal(t, []string{"casa-1.jpg", "casa-2.jpg", "casa-10.jpg"}, driver.uploads[0])
}

func TestRunRequiredFieldExhaustsExactRetryBound(t *testing.T) {
	driver := newFakeDriver()
	driver.loadPropertyForm()
	// The title readback never matches what was typed.
	driver.readOverride[selTitle] = "Casa Mdoerna"

	policy := fastPolicy()
	m := newTestMachine(driver, policy, Options{})

	plan, err := listing.BuildPlan(propertyRequest(), nil, listing.DefaultCaps())
	require.NoError(t, err)

	result, err := m.Run(context.Background(), plan, nil)
	require.Error(t, err)
	require.NotNil(t, result)

	assert.False(t, result.Success)
	assert.Equal(t, StateFailed, result.FinalState)

	// MaxTransientRetries retry decisions plus the terminal give-up, each
	// leaving one transient record. Not a single attempt more.
	assert.Equal(t, policy.MaxTransientRetries+1, countClass(result.Trail, "transient"))

	require.NotEmpty(t, result.Fields)
	assert.Equal(t, FieldResult{Field: "title", Outcome: OutcomeFailed}, result.Fields[0])
}

func TestRunOptionalFieldSkippedAfterExhaustion(t *testing.T) {
	driver := newFakeDriver()
	driver.loadPropertyForm()
	bedrooms := `[data-testid="marketplace-composer-bedrooms-input"]`
	driver.present[bedrooms] = true
	driver.readOverride[bedrooms] = "9"

	m := newTestMachine(driver, fastPolicy(), Options{})

	req := propertyRequest()
	req.Fields["bedrooms"] = "3"
	plan, err := listing.BuildPlan(req, nil, listing.DefaultCaps())
	require.NoError(t, err)

	result, err := m.Run(context.Background(), plan, nil)
	require.NoError(t, err, "optional field exhaustion must not fail the plan")

	assert.True(t, result.Success)
	var bedroomsResult *FieldResult
	for i := range result.Fields {
		if result.Fields[i].Field == "bedrooms" {
			bedroomsResult = &result.Fields[i]
		}
	}
	require.NotNil(t, bedroomsResult)
	assert.Equal(t, OutcomeSkipped, bedroomsResult.Outcome)
}

func TestRunSingleStalenessRecordsExactlyOneTransient(t *testing.T) {
	driver := newFakeDriver()
	driver.loadPropertyForm()
	// First type into the title fails stale; the detached handle then
	// probes absent once, forcing a re-resolution on the retry.
	driver.typeFailures[selTitle] = []error{errs.Stale("browser.type", "title", nil)}

	m := newTestMachine(driver, fastPolicy(), Options{})

	plan, err := listing.BuildPlan(propertyRequest(), nil, listing.DefaultCaps())
	require.NoError(t, err)

	result, err := m.Run(context.Background(), plan, nil)
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, 1, countClass(result.Trail, "transient"),
		"one staleness event must leave exactly one transient record")
	assert.Equal(t, "Casa Moderna", driver.values[selTitle])
}

func TestRunFatalNavigationAbortsWithTrail(t *testing.T) {
	driver := newFakeDriver()
	driver.navErr = errs.AuthenticationLost("browser.navigate", nil)

	m := newTestMachine(driver, fastPolicy(), Options{})

	plan, err := listing.BuildPlan(propertyRequest(), nil, listing.DefaultCaps())
	require.NoError(t, err)

	result, err := m.Run(context.Background(), plan, nil)
	require.Error(t, err)
	require.NotNil(t, result, "failed runs still return the trail")

	assert.False(t, result.Success)
	assert.Equal(t, StateFailed, result.FinalState)
	assert.Equal(t, 1, countClass(result.Trail, "fatal"))
	assert.Empty(t, driver.values, "no field writes after a fatal navigation")
}

func TestRunStructuralFailureEscalatesThroughReload(t *testing.T) {
	driver := newFakeDriver()
	driver.loadPropertyForm()
	// The title control never exists under any strategy.
	delete(driver.present, selTitle)

	policy := fastPolicy()
	m := newTestMachine(driver, policy, Options{})

	plan, err := listing.BuildPlan(propertyRequest(), nil, listing.DefaultCaps())
	require.NoError(t, err)

	result, err := m.Run(context.Background(), plan, nil)
	require.Error(t, err)

	assert.False(t, result.Success)
	// Initial navigation plus exactly one escalation reload.
	assert.Len(t, driver.navs, 2)
	assert.Equal(t, 2, countClass(result.Trail, "structural"))
}

func TestRunEscalationReplaysCompletedUploads(t *testing.T) {
	driver := newFakeDriver()
	driver.loadPropertyForm()
	// The review control never resolves, so its step escalates through an
	// anchor reload after the images already landed.
	delete(driver.present, selReview)

	m := newTestMachine(driver, fastPolicy(), Options{})

	req := propertyRequest()
	req.Images = []string{"casa-1.jpg", "casa-2.jpg"}
	plan, err := listing.BuildPlan(req, nil, listing.DefaultCaps())
	require.NoError(t, err)

	result, err := m.Run(context.Background(), plan, nil)
	require.Error(t, err)
	require.NotNil(t, result)

	// The reload wipes page state, so the completed upload must be replayed
	// or the draft silently loses its images.
	require.Len(t, driver.uploads, 2, "escalation reload must replay the completed upload")
	assert.Equal(t, []string{"casa-1.jpg", "casa-2.jpg"}, driver.uploads[0])
	assert.Equal(t, driver.uploads[0], driver.uploads[1], "replayed images must keep the capped order")
}

func TestRunFailureRecordsCarryScreenshotRefs(t *testing.T) {
	driver := newFakeDriver()
	driver.loadPropertyForm()
	driver.readOverride[selTitle] = "Casa Mdoerna"

	m := newTestMachine(driver, fastPolicy(), Options{})

	plan, err := listing.BuildPlan(propertyRequest(), nil, listing.DefaultCaps())
	require.NoError(t, err)

	result, err := m.Run(context.Background(), plan, nil)
	require.Error(t, err)
	require.NotNil(t, result)

	failures := 0
	for _, rec := range result.Trail {
		if rec.Class == classApplied {
			assert.Empty(t, rec.Screenshot, "applied record for %q must not carry a screenshot", rec.Field)
			continue
		}
		failures++
		assert.NotEmpty(t, rec.Screenshot, "failure record for %q missing its screenshot ref", rec.Field)
	}
	assert.Greater(t, failures, 0)
}

func TestRunDeadlineFailsTheRun(t *testing.T) {
	driver := newFakeDriver()
	driver.loadPropertyForm()
	driver.readOverride[selTitle] = "never right"

	policy := fastPolicy()
	policy.MaxTransientRetries = 1000
	policy.BackoffBase = 50 * time.Millisecond
	policy.BackoffMax = 50 * time.Millisecond
	m := newTestMachine(driver, policy, Options{Deadline: 120 * time.Millisecond})

	plan, err := listing.BuildPlan(propertyRequest(), nil, listing.DefaultCaps())
	require.NoError(t, err)

	start := time.Now()
	result, err := m.Run(context.Background(), plan, nil)
	require.Error(t, err)
	assert.False(t, result.Success)
	assert.Less(t, time.Since(start), 2*time.Second, "deadline must cut the retry loop short")
}
