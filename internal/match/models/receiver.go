package models

import (
	"time"

	id "allograft/pkg/domain"
	dErrors "allograft/pkg/domain-errors"
)

// ReceiverStatus is the waiting-list lifecycle state. Forward-only except
// deceased, which is reachable from any state.
type ReceiverStatus string

const (
	ReceiverWaiting      ReceiverStatus = "waiting"
	ReceiverMatched      ReceiverStatus = "matched"
	ReceiverTransplanted ReceiverStatus = "transplanted"
	ReceiverInactive     ReceiverStatus = "inactive"
	ReceiverDeceased     ReceiverStatus = "deceased"
)

var receiverTransitions = map[ReceiverStatus][]ReceiverStatus{
	ReceiverWaiting:      {ReceiverMatched, ReceiverInactive, ReceiverDeceased},
	ReceiverMatched:      {ReceiverTransplanted, ReceiverDeceased},
	ReceiverTransplanted: {ReceiverDeceased},
	ReceiverInactive:     {ReceiverDeceased},
	ReceiverDeceased:     {},
}

// CanTransitionTo reports whether the status may legally move to next.
func (s ReceiverStatus) CanTransitionTo(next ReceiverStatus) bool {
	for _, t := range receiverTransitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// ParseReceiverStatus validates a caller-supplied status string.
func ParseReceiverStatus(raw string) (ReceiverStatus, error) {
	s := ReceiverStatus(raw)
	if _, ok := receiverTransitions[s]; !ok {
		return "", dErrors.Newf(dErrors.CodeValidation, "unknown receiver status %q", raw)
	}
	return s, nil
}

// Urgency levels run 1 (most urgent) through 5.
const (
	UrgencyMost  = 1
	UrgencyLeast = 5
)

// Receiver is a person on the waiting list needing a transplant, prioritized
// by urgency.
type Receiver struct {
	ID            id.ReceiverID  `json:"id"`
	BloodType     BloodType      `json:"blood_type"`
	HLAType       string         `json:"hla_type,omitempty"` // comma-separated marker list
	DateOfBirth   time.Time      `json:"date_of_birth"`
	UrgencyStatus int            `json:"urgency_status"`
	NeededOrgan   OrganType      `json:"needed_organ"`
	Status        ReceiverStatus `json:"status"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Validate enforces receiver field invariants at the boundary.
func (r *Receiver) Validate() error {
	if !r.BloodType.Valid() {
		return dErrors.Newf(dErrors.CodeValidation, "unknown blood type %q", r.BloodType)
	}
	if r.UrgencyStatus < UrgencyMost || r.UrgencyStatus > UrgencyLeast {
		return dErrors.Newf(dErrors.CodeValidation,
			"urgency must be between %d and %d, got %d", UrgencyMost, UrgencyLeast, r.UrgencyStatus)
	}
	return nil
}

// Transition validates and applies a status change in one call.
func (r *Receiver) Transition(next ReceiverStatus, now time.Time) error {
	if !r.Status.CanTransitionTo(next) {
		return dErrors.Newf(dErrors.CodeInvalidState,
			"receiver %s cannot move from %s to %s", r.ID, r.Status, next)
	}
	r.Status = next
	r.UpdatedAt = now
	return nil
}

// CanMarkDeceased checks whether the deceased transition is still possible.
func (r *Receiver) CanMarkDeceased() error {
	if r.Status == ReceiverDeceased {
		return dErrors.Newf(dErrors.CodeInvalidState, "receiver %s is already deceased", r.ID)
	}
	return nil
}

// ApplyDeceased marks the receiver deceased. Call CanMarkDeceased first.
func (r *Receiver) ApplyDeceased(now time.Time) {
	r.Status = ReceiverDeceased
	r.UpdatedAt = now
}
