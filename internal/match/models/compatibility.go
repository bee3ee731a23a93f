package models

import (
	"time"

	id "allograft/pkg/domain"
	dErrors "allograft/pkg/domain-errors"
)

// CompatibilityStatus is the lifecycle of a scored pairing. rejected and
// completed are terminal; records are never deleted, only transitioned.
type CompatibilityStatus string

const (
	CompatibilityPotential CompatibilityStatus = "potential"
	CompatibilityConfirmed CompatibilityStatus = "confirmed"
	CompatibilityRejected  CompatibilityStatus = "rejected"
	CompatibilityCompleted CompatibilityStatus = "completed"
)

var compatibilityTransitions = map[CompatibilityStatus][]CompatibilityStatus{
	CompatibilityPotential: {CompatibilityConfirmed, CompatibilityRejected},
	CompatibilityConfirmed: {CompatibilityCompleted},
	CompatibilityRejected:  {},
	CompatibilityCompleted: {},
}

// CanTransitionTo reports whether the status may legally move to next.
func (s CompatibilityStatus) CanTransitionTo(next CompatibilityStatus) bool {
	for _, t := range compatibilityTransitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Active reports whether the pairing still blocks a duplicate for the same
// organ-receiver pair. Only rejected records free the pair.
func (s CompatibilityStatus) Active() bool {
	return s != CompatibilityRejected
}

// ParseCompatibilityStatus validates a caller-supplied status string.
func ParseCompatibilityStatus(raw string) (CompatibilityStatus, error) {
	s := CompatibilityStatus(raw)
	if _, ok := compatibilityTransitions[s]; !ok {
		return "", dErrors.Newf(dErrors.CodeValidation, "unknown compatibility status %q", raw)
	}
	return s, nil
}

// Compatibility is a scored candidate pairing between one organ and one
// receiver. It exclusively owns the pairing: at most one non-rejected record
// may exist per (organ, receiver) pair, and at most one may be confirmed per
// organ at any time.
type Compatibility struct {
	ID         id.CompatibilityID  `json:"id"`
	OrganID    id.OrganID          `json:"organ_id"`
	ReceiverID id.ReceiverID       `json:"receiver_id"`
	Score      int                 `json:"score"`
	Status     CompatibilityStatus `json:"status"`
	MatchDate  time.Time           `json:"match_date"`
	Notes      string              `json:"notes,omitempty"`
	UpdatedAt  time.Time           `json:"updated_at"`
}

// NewCompatibility constructs a potential pairing with an already-computed
// score.
func NewCompatibility(organID id.OrganID, receiverID id.ReceiverID, score int, now time.Time) (*Compatibility, error) {
	if score < 0 || score > 100 {
		return nil, dErrors.Newf(dErrors.CodeValidation, "score must be in [0,100], got %d", score)
	}
	return &Compatibility{
		ID:         id.NewCompatibilityID(),
		OrganID:    organID,
		ReceiverID: receiverID,
		Score:      score,
		Status:     CompatibilityPotential,
		MatchDate:  now,
		UpdatedAt:  now,
	}, nil
}

// CanConfirm checks the pairing is still open for confirmation.
func (c *Compatibility) CanConfirm() error {
	if !c.Status.CanTransitionTo(CompatibilityConfirmed) {
		return dErrors.Newf(dErrors.CodeInvalidState,
			"compatibility %s is %s, only potential matches can be confirmed", c.ID, c.Status)
	}
	return nil
}

// ApplyConfirm transitions the pairing to confirmed. Call CanConfirm first.
func (c *Compatibility) ApplyConfirm(now time.Time) {
	c.Status = CompatibilityConfirmed
	c.UpdatedAt = now
}

// Transition validates and applies a status change in one call.
func (c *Compatibility) Transition(next CompatibilityStatus, now time.Time) error {
	if !c.Status.CanTransitionTo(next) {
		return dErrors.Newf(dErrors.CodeInvalidState,
			"compatibility %s cannot move from %s to %s", c.ID, c.Status, next)
	}
	c.Status = next
	c.UpdatedAt = now
	return nil
}
