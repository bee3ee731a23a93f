package models

import (
	"time"

	id "allograft/pkg/domain"
	dErrors "allograft/pkg/domain-errors"
)

// ProcedureStatus is the surgical-procedure lifecycle state.
type ProcedureStatus string

const (
	ProcedureScheduled  ProcedureStatus = "scheduled"
	ProcedureInProgress ProcedureStatus = "in-progress"
	ProcedureCompleted  ProcedureStatus = "completed"
	ProcedureCancelled  ProcedureStatus = "cancelled"
)

var procedureTransitions = map[ProcedureStatus][]ProcedureStatus{
	// scheduled→completed lets an operator report a finished surgery without
	// having marked it in-progress first.
	ProcedureScheduled:  {ProcedureInProgress, ProcedureCompleted, ProcedureCancelled},
	ProcedureInProgress: {ProcedureCompleted, ProcedureCancelled},
	ProcedureCompleted:  {},
	ProcedureCancelled:  {},
}

// CanTransitionTo reports whether the status may legally move to next.
func (s ProcedureStatus) CanTransitionTo(next ProcedureStatus) bool {
	for _, t := range procedureTransitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// ParseProcedureStatus validates a caller-supplied status string.
func ParseProcedureStatus(raw string) (ProcedureStatus, error) {
	s := ProcedureStatus(raw)
	if _, ok := procedureTransitions[s]; !ok {
		return "", dErrors.Newf(dErrors.CodeValidation, "unknown procedure status %q", raw)
	}
	return s, nil
}

// ProcedureOutcome records how a completed procedure ended. Required when the
// procedure reaches completed.
type ProcedureOutcome string

const (
	OutcomeSuccessful    ProcedureOutcome = "successful"
	OutcomeFailed        ProcedureOutcome = "failed"
	OutcomeComplications ProcedureOutcome = "complications"
)

var procedureOutcomes = map[ProcedureOutcome]struct{}{
	OutcomeSuccessful: {}, OutcomeFailed: {}, OutcomeComplications: {},
}

// ParseProcedureOutcome validates a caller-supplied outcome string.
func ParseProcedureOutcome(raw string) (ProcedureOutcome, error) {
	o := ProcedureOutcome(raw)
	if _, ok := procedureOutcomes[o]; !ok {
		return "", dErrors.Newf(dErrors.CodeValidation, "unknown procedure outcome %q", raw)
	}
	return o, nil
}

// TransplantProcedure is the surgery realizing one confirmed compatibility.
// It is 1:1 with its compatibility; organ and receiver are back-references.
type TransplantProcedure struct {
	ID              id.ProcedureID     `json:"id"`
	CompatibilityID id.CompatibilityID `json:"compatibility_id"`
	OrganID         id.OrganID         `json:"organ_id"`
	ReceiverID      id.ReceiverID      `json:"receiver_id"`
	Status          ProcedureStatus    `json:"status"`
	Outcome         ProcedureOutcome   `json:"outcome,omitempty"`
	ScheduledDate   time.Time          `json:"scheduled_date"`
	ActualDate      *time.Time         `json:"actual_date,omitempty"`
	DurationMinutes int                `json:"duration_minutes,omitempty"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

// Transition validates and applies a status change in one call.
func (p *TransplantProcedure) Transition(next ProcedureStatus, now time.Time) error {
	if !p.Status.CanTransitionTo(next) {
		return dErrors.Newf(dErrors.CodeInvalidState,
			"procedure %s cannot move from %s to %s", p.ID, p.Status, next)
	}
	p.Status = next
	p.UpdatedAt = now
	return nil
}

// CanComplete checks the procedure may be completed with the given outcome.
// Completion requires an outcome; space for one is never inferred.
func (p *TransplantProcedure) CanComplete(outcome ProcedureOutcome) error {
	if outcome == "" {
		return dErrors.New(dErrors.CodeValidation, "procedure outcome is required to complete")
	}
	if _, ok := procedureOutcomes[outcome]; !ok {
		return dErrors.Newf(dErrors.CodeValidation, "unknown procedure outcome %q", outcome)
	}
	if !p.Status.CanTransitionTo(ProcedureCompleted) {
		return dErrors.Newf(dErrors.CodeInvalidState,
			"procedure %s is %s and cannot be completed", p.ID, p.Status)
	}
	return nil
}

// ApplyCompletion records outcome and timing. Call CanComplete first.
func (p *TransplantProcedure) ApplyCompletion(outcome ProcedureOutcome, actual time.Time, durationMinutes int, now time.Time) {
	p.Status = ProcedureCompleted
	p.Outcome = outcome
	p.ActualDate = &actual
	if durationMinutes > 0 {
		p.DurationMinutes = durationMinutes
	}
	p.UpdatedAt = now
}
