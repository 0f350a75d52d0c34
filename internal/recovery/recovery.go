// File: internal/recovery/recovery.go
// Package recovery classifies step failures and decides whether the state
// machine retries in place, escalates through a reload, gives up on the
// field, or aborts the whole plan. Transient and structural budgets are
// tracked independently per step and never reset across escalations.
package recovery

import (
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/Hawhaz/marketstage/internal/errs"
)

// Class is the recovery classification of one step failure.
type Class int

const (
	// ClassTransient covers stale handles, single probe or navigation
	// timeouts and readback mismatches: retry the same step in place.
	ClassTransient Class = iota
	// ClassStructural means every candidate selector was exhausted; the
	// page layout likely changed and a reload from the anchor is worth
	// exactly one attempt.
	ClassStructural
	// ClassFatal aborts the plan immediately: lost authentication, rate
	// limiting, or anything unclassified.
	ClassFatal
)

func (c Class) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassStructural:
		return "structural"
	default:
		return "fatal"
	}
}

// Classify maps the error taxonomy onto recovery classes.
func Classify(err error) Class {
	switch errs.KindOf(err) {
	case errs.KindStale, errs.KindTimeout, errs.KindValidationMismatch:
		return ClassTransient
	case errs.KindNotFound:
		return ClassStructural
	default:
		return ClassFatal
	}
}

// Verb is what the state machine should do next.
type Verb int

const (
	// VerbRetry retries the same step in place after Decision.Backoff.
	VerbRetry Verb = iota
	// VerbEscalate reloads from the known-good anchor, re-derives the
	// position in the plan, and retries the step exactly once.
	VerbEscalate
	// VerbGiveUpField marks the field's terminal outcome: fatal for
	// required fields, skipped for optional ones.
	VerbGiveUpField
	// VerbAbort terminates the whole plan and surfaces the classification.
	VerbAbort
)

// Decision is the controller's verdict for one failure.
type Decision struct {
	Class   Class
	Verb    Verb
	Backoff time.Duration
}

// Policy holds the retry bounds and backoff parameters. These are
// configurable defaults, not fixed contracts.
type Policy struct {
	MaxTransientRetries  int           `mapstructure:"max_transient_retries" yaml:"max_transient_retries"`
	MaxStructuralRetries int           `mapstructure:"max_structural_retries" yaml:"max_structural_retries"`
	BackoffBase          time.Duration `mapstructure:"backoff_base" yaml:"backoff_base"`
	BackoffFactor        float64       `mapstructure:"backoff_factor" yaml:"backoff_factor"`
	BackoffMax           time.Duration `mapstructure:"backoff_max" yaml:"backoff_max"`
}

// DefaultPolicy mirrors the defaults the target UI tolerates well.
func DefaultPolicy() Policy {
	return Policy{
		MaxTransientRetries:  3,
		MaxStructuralRetries: 1,
		BackoffBase:          500 * time.Millisecond,
		BackoffFactor:        2.0,
		BackoffMax:           8 * time.Second,
	}
}

// Budget tracks per-step retry consumption. The two counters are
// deliberately independent: escalating to structural does not refund
// transient attempts, and vice versa.
type Budget struct {
	transientUsed  int
	structuralUsed int
}

// TransientUsed reports consumed transient retries.
func (b *Budget) TransientUsed() int { return b.transientUsed }

// StructuralUsed reports consumed structural escalations.
func (b *Budget) StructuralUsed() int { return b.structuralUsed }

// Controller drives retry, escalate and abort decisions.
type Controller struct {
	policy Policy
	logger *zap.Logger
	rng    *rand.Rand
}

// New creates a Controller. The rng only jitters backoff; pass a seeded
// source for reproducible tests.
func New(policy Policy, logger *zap.Logger, rng *rand.Rand) *Controller {
	if policy.BackoffBase <= 0 {
		policy.BackoffBase = DefaultPolicy().BackoffBase
	}
	if policy.BackoffFactor < 1 {
		policy.BackoffFactor = DefaultPolicy().BackoffFactor
	}
	if policy.BackoffMax <= 0 {
		policy.BackoffMax = DefaultPolicy().BackoffMax
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Controller{policy: policy, logger: logger.Named("recovery"), rng: rng}
}

// Policy returns the active policy.
func (c *Controller) Policy() Policy { return c.policy }

// Decide consumes budget for the failure and returns the next verb. The
// budget belongs to one step; callers allocate a fresh Budget per step.
func (c *Controller) Decide(budget *Budget, err error) Decision {
	class := Classify(err)

	switch class {
	case ClassFatal:
		c.logger.Warn("Fatal interaction failure, aborting plan", zap.Error(err))
		return Decision{Class: class, Verb: VerbAbort}

	case ClassStructural:
		if budget.structuralUsed < c.policy.MaxStructuralRetries {
			budget.structuralUsed++
			c.logger.Info("Structural failure, escalating through anchor reload",
				zap.Int("escalation", budget.structuralUsed),
				zap.Error(err),
			)
			return Decision{Class: class, Verb: VerbEscalate}
		}
		return Decision{Class: class, Verb: VerbGiveUpField}

	default: // ClassTransient
		if budget.transientUsed < c.policy.MaxTransientRetries {
			budget.transientUsed++
			backoff := c.backoff(budget.transientUsed)
			c.logger.Debug("Transient failure, retrying in place",
				zap.Int("attempt", budget.transientUsed),
				zap.Duration("backoff", backoff),
				zap.Error(err),
			)
			return Decision{Class: class, Verb: VerbRetry, Backoff: backoff}
		}
		return Decision{Class: class, Verb: VerbGiveUpField}
	}
}

// backoff computes bounded exponential backoff with +/-20% jitter.
func (c *Controller) backoff(attempt int) time.Duration {
	d := float64(c.policy.BackoffBase) * math.Pow(c.policy.BackoffFactor, float64(attempt-1))
	d *= 1.0 + (c.rng.Float64()*0.4 - 0.2)
	if ceil := float64(c.policy.BackoffMax); d > ceil {
		d = ceil
	}
	return time.Duration(d)
}
