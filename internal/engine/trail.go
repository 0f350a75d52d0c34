// File: internal/engine/trail.go
package engine

import "time"

// State is the form-filling state machine's position.
type State int

const (
	StateIdle State = iota
	StateNavigatingToForm
	StateFillingField
	StateUploadingImages
	StateReviewingDraft
	StateSubmitting
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateNavigatingToForm:
		return "navigating_to_form"
	case StateFillingField:
		return "filling_field"
	case StateUploadingImages:
		return "uploading_images"
	case StateReviewingDraft:
		return "reviewing_draft"
	case StateSubmitting:
		return "submitting"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// AttemptRecord is one entry of the append-only recovery trail. Every
// retry, escalation, self-healed staleness and terminal failure leaves
// exactly one record.
type AttemptRecord struct {
	Field  string    `json:"field"`
	State  string    `json:"state"`
	Class  string    `json:"class"`
	Detail string    `json:"detail"`
	At     time.Time `json:"at"`
	// Screenshot references a diagnostic capture taken when the attempt
	// failed; empty for applied records.
	Screenshot string `json:"screenshot,omitempty"`
}

// Outcome is the terminal status of one plan step.
type Outcome string

const (
	OutcomeApplied Outcome = "applied"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// FieldResult is the per-field summary of a staging run.
type FieldResult struct {
	Field   string  `json:"field"`
	Outcome Outcome `json:"outcome"`
}

// Result is the outcome of one staging run. Trail and Fields are always
// populated, including on failure, so operators can reconstruct what the
// machine did.
type Result struct {
	Success        bool            `json:"success"`
	FinalState     State           `json:"-"`
	FinalStateName string          `json:"final_state"`
	Trail          []AttemptRecord `json:"trail,omitempty"`
	Fields         []FieldResult   `json:"fields,omitempty"`
	DroppedImages  int             `json:"dropped_images,omitempty"`
	LastScreenshot string          `json:"last_screenshot,omitempty"`
}
