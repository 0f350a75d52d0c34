// File: internal/engine/machine.go
// Package engine runs the form-filling state machine: it walks an
// interaction plan step by step, verifies every applied value by reading
// it back, and routes failures through the recovery controller. The
// machine stops at the draft review screen; it stages the draft only
// when explicitly asked and has no path to a public publish.
package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Hawhaz/marketstage/internal/errs"
	"github.com/Hawhaz/marketstage/internal/listing"
	"github.com/Hawhaz/marketstage/internal/locator"
	"github.com/Hawhaz/marketstage/internal/recovery"
)

// classApplied marks trail entries for successfully applied steps.
const classApplied = "applied"

// interFieldPauseMs is the mean think time between form fields.
const interFieldPauseMs = 700

// Options tune one staging run.
type Options struct {
	// Deadline bounds the whole run. Zero means the caller's context
	// rules alone.
	Deadline time.Duration
	// StageDraft makes the machine advance past the review pause and
	// click the draft-save control. It never publishes either way.
	StageDraft bool
}

// Machine is the form-filling state machine for one listing. It is
// single-use: create one per plan.
type Machine struct {
	driver Driver
	loc    *locator.Locator
	rec    *recovery.Controller
	logger *zap.Logger
	opts   Options

	state    State
	trail    []AttemptRecord
	fields   []FieldResult
	lastShot string
}

// New creates a Machine bound to one driver.
func New(driver Driver, loc *locator.Locator, rec *recovery.Controller, opts Options, logger *zap.Logger) *Machine {
	return &Machine{
		driver: driver,
		loc:    loc,
		rec:    rec,
		opts:   opts,
		logger: logger.Named("engine"),
		state:  StateIdle,
	}
}

// State returns the machine's current state.
func (m *Machine) State() State { return m.state }

// Run executes the plan to the review pause (or through draft staging
// when configured). The returned Result is always non-nil; its trail is
// populated even when the run fails.
func (m *Machine) Run(ctx context.Context, plan *listing.Plan, reg *listing.Registry) (*Result, error) {
	if reg == nil {
		reg = listing.DefaultRegistry(plan.Kind)
	}
	if m.opts.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.opts.Deadline)
		defer cancel()
	}

	m.transition(StateNavigatingToForm)
	if err := m.navigateStep(ctx, plan.FormURL); err != nil {
		return m.fail(ctx, err)
	}

	var completed []listing.Step
	for _, step := range plan.Steps {
		m.transition(stateFor(step))
		if err := m.driver.Pause(ctx, interFieldPauseMs); err != nil {
			return m.fail(ctx, errs.Timeout("engine.pause", err))
		}

		outcome, err := m.executeStep(ctx, plan, completed, step)
		m.fields = append(m.fields, FieldResult{Field: step.Field.Key, Outcome: outcome})
		if err != nil {
			return m.fail(ctx, err)
		}
		if outcome == OutcomeApplied {
			m.record(step.Field.Key, classApplied, nil, "")
			completed = append(completed, step)
		}
	}

	// The plan's last step advanced to the draft review screen.
	m.transition(StateReviewingDraft)
	m.lastShot = m.screenshot(ctx, "review")

	if !m.opts.StageDraft {
		m.logger.Info("Draft at review pause, awaiting operator confirmation.",
			zap.String("kind", string(plan.Kind)),
		)
		return m.finish(plan, StateReviewingDraft), nil
	}

	m.transition(StateSubmitting)
	stage := listing.Step{Action: listing.ActionClick, Field: reg.StageDraft}
	outcome, err := m.executeStep(ctx, plan, completed, stage)
	m.fields = append(m.fields, FieldResult{Field: stage.Field.Key, Outcome: outcome})
	if err != nil {
		return m.fail(ctx, err)
	}
	m.record(stage.Field.Key, classApplied, nil, "")
	m.lastShot = m.screenshot(ctx, "staged")

	m.transition(StateDone)
	return m.finish(plan, StateDone), nil
}

// executeStep applies one step with its own independent recovery
// budgets. It returns a plan-fatal error only for aborts and exhausted
// required fields.
func (m *Machine) executeStep(ctx context.Context, plan *listing.Plan, completed []listing.Step, step listing.Step) (Outcome, error) {
	budget := &recovery.Budget{}
	var handle *locator.Resolved

	for {
		if ctx.Err() != nil {
			return OutcomeFailed, errs.Timeout("engine.step", ctx.Err())
		}

		err := m.attemptStep(ctx, step, &handle)
		if err == nil {
			return OutcomeApplied, nil
		}

		decision := m.rec.Decide(budget, err)
		m.record(step.Field.Key, decision.Class.String(), err,
			m.screenshot(ctx, step.Field.Key+"-"+decision.Class.String()))

		switch decision.Verb {
		case recovery.VerbRetry:
			if err := sleepCtx(ctx, decision.Backoff); err != nil {
				return OutcomeFailed, errs.Timeout("engine.backoff", err)
			}

		case recovery.VerbEscalate:
			if rerr := m.reanchor(ctx, plan, completed); rerr != nil {
				return OutcomeFailed, rerr
			}
			handle = nil

		case recovery.VerbGiveUpField:
			if step.Field.Required {
				return OutcomeFailed, fmt.Errorf("engine: required field %q exhausted its retries: %w", step.Field.Key, err)
			}
			m.logger.Warn("Skipping optional field after exhausted retries.",
				zap.String("field", step.Field.Key),
				zap.Error(err),
			)
			return OutcomeSkipped, nil

		default: // recovery.VerbAbort
			return OutcomeFailed, err
		}
	}
}

// attemptStep resolves the step's element and applies its action once.
// On retries the handle is re-checked and, if stale, transparently
// re-resolved; the staleness itself was already recorded when the
// failing attempt went through the recovery controller.
func (m *Machine) attemptStep(ctx context.Context, step listing.Step, handle **locator.Resolved) error {
	if *handle == nil {
		res, err := m.loc.Resolve(ctx, step.Field)
		if err != nil {
			return err
		}
		*handle = res
	} else {
		res, reresolved, err := m.loc.EnsureFresh(ctx, *handle, step.Field)
		if err != nil {
			*handle = nil
			return err
		}
		if reresolved {
			m.logger.Debug("Stale handle re-resolved.",
				zap.String("field", step.Field.Key),
				zap.String("strategy", string(res.Strategy)),
			)
		}
		*handle = res
	}

	selector := (*handle).Selector
	switch step.Action {
	case listing.ActionType:
		if err := m.driver.TypeText(ctx, selector, step.Value); err != nil {
			return err
		}
		return m.verify(ctx, step, selector)

	case listing.ActionSelect:
		if err := m.driver.SelectOption(ctx, selector, step.Value); err != nil {
			return err
		}
		return m.verify(ctx, step, selector)

	case listing.ActionUpload:
		return m.driver.Upload(ctx, selector, step.Images)

	case listing.ActionClick:
		return m.driver.Click(ctx, selector)

	case listing.ActionWait:
		return m.driver.Pause(ctx, interFieldPauseMs)

	default:
		return errs.New(errs.KindFatal, "engine.step", step.Field.Key, fmt.Errorf("unknown action %q", step.Action))
	}
}

// verify reads the applied value back from the element and compares it,
// after normalization, with the intended value.
func (m *Machine) verify(ctx context.Context, step listing.Step, selector string) error {
	got, err := m.driver.ReadValue(ctx, selector)
	if err != nil {
		return err
	}
	if normalized := step.Field.NormalizeValue(got); normalized != step.Value {
		return errs.ValidationMismatch("engine.verify", step.Field.Key,
			fmt.Errorf("form shows %q, want %q", normalized, step.Value))
	}
	return nil
}

// navigateStep loads the form with its own recovery budget. A structural
// decision simply re-navigates; there is no older anchor to fall back to.
func (m *Machine) navigateStep(ctx context.Context, url string) error {
	budget := &recovery.Budget{}
	for {
		err := m.driver.Navigate(ctx, url)
		if err == nil {
			return nil
		}

		decision := m.rec.Decide(budget, err)
		m.record("form", decision.Class.String(), err,
			m.screenshot(ctx, "form-"+decision.Class.String()))

		switch decision.Verb {
		case recovery.VerbRetry, recovery.VerbEscalate:
			if serr := sleepCtx(ctx, decision.Backoff); serr != nil {
				return errs.Timeout("engine.navigate", serr)
			}
		default:
			return err
		}
	}
}

// reanchor reloads the form and replays the already-completed value and
// upload steps so the failing step retries against a coherent page. The
// reload wipes page state, so skipping a completed upload here would
// silently strip the draft of its images.
func (m *Machine) reanchor(ctx context.Context, plan *listing.Plan, completed []listing.Step) error {
	m.logger.Info("Escalating: reloading form anchor and replaying completed fields.",
		zap.Int("completed", len(completed)),
	)
	if err := m.driver.Navigate(ctx, plan.FormURL); err != nil {
		return fmt.Errorf("engine: reanchor navigation: %w", err)
	}

	for _, prior := range completed {
		switch prior.Action {
		case listing.ActionType, listing.ActionSelect, listing.ActionUpload:
		default:
			continue
		}
		res, err := m.loc.Resolve(ctx, prior.Field)
		if err != nil {
			return fmt.Errorf("engine: reanchor lost field %q: %w", prior.Field.Key, err)
		}
		switch prior.Action {
		case listing.ActionType:
			err = m.driver.TypeText(ctx, res.Selector, prior.Value)
		case listing.ActionSelect:
			err = m.driver.SelectOption(ctx, res.Selector, prior.Value)
		case listing.ActionUpload:
			err = m.driver.Upload(ctx, res.Selector, prior.Images)
		}
		if err != nil {
			return fmt.Errorf("engine: reanchor replay of %q: %w", prior.Field.Key, err)
		}
	}
	return nil
}

func (m *Machine) transition(next State) {
	if m.state == next {
		return
	}
	m.logger.Debug("State transition.",
		zap.Stringer("from", m.state),
		zap.Stringer("to", next),
	)
	m.state = next
}

// record appends one trail entry. err nil marks a successful apply.
func (m *Machine) record(field, class string, err error, shot string) {
	rec := AttemptRecord{
		Field:      field,
		State:      m.state.String(),
		Class:      class,
		At:         time.Now().UTC(),
		Screenshot: shot,
	}
	if err != nil {
		rec.Detail = err.Error()
	}
	m.trail = append(m.trail, rec)
}

func (m *Machine) screenshot(ctx context.Context, label string) string {
	path, err := m.driver.Screenshot(ctx, label)
	if err != nil {
		m.logger.Debug("Screenshot capture failed.", zap.String("label", label), zap.Error(err))
		return m.lastShot
	}
	return path
}

func (m *Machine) finish(plan *listing.Plan, final State) *Result {
	m.state = final
	return &Result{
		Success:        true,
		FinalState:     final,
		FinalStateName: final.String(),
		Trail:          m.trail,
		Fields:         m.fields,
		DroppedImages:  plan.Dropped,
		LastScreenshot: m.lastShot,
	}
}

// fail finalizes the trail, captures a failure screenshot, and returns
// the failed result alongside the terminal error.
func (m *Machine) fail(ctx context.Context, err error) (*Result, error) {
	m.lastShot = m.screenshot(ctx, "failed")
	m.transition(StateFailed)
	m.logger.Error("Staging run failed.", zap.Error(err))
	return &Result{
		Success:        false,
		FinalState:     StateFailed,
		FinalStateName: StateFailed.String(),
		Trail:          m.trail,
		Fields:         m.fields,
		LastScreenshot: m.lastShot,
	}, err
}

// stateFor maps a plan step to the machine state it runs under.
func stateFor(step listing.Step) State {
	switch {
	case step.Action == listing.ActionUpload:
		return StateUploadingImages
	case step.Field.Key == "review":
		return StateReviewingDraft
	case step.Field.Key == "stage_draft":
		return StateSubmitting
	default:
		return StateFillingField
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
