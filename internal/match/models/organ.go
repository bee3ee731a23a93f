package models

import (
	"time"

	id "allograft/pkg/domain"
	dErrors "allograft/pkg/domain-errors"
)

// OrganType enumerates the transplantable organ kinds tracked by the system.
type OrganType string

const (
	OrganHeart     OrganType = "heart"
	OrganLiver     OrganType = "liver"
	OrganKidney    OrganType = "kidney"
	OrganLung      OrganType = "lung"
	OrganPancreas  OrganType = "pancreas"
	OrganIntestine OrganType = "intestine"
)

var organTypes = map[OrganType]struct{}{
	OrganHeart: {}, OrganLiver: {}, OrganKidney: {},
	OrganLung: {}, OrganPancreas: {}, OrganIntestine: {},
}

// ParseOrganType validates a caller-supplied organ type string.
func ParseOrganType(raw string) (OrganType, error) {
	t := OrganType(raw)
	if _, ok := organTypes[t]; !ok {
		return "", dErrors.Newf(dErrors.CodeValidation, "unknown organ type %q", raw)
	}
	return t, nil
}

// OrganCondition grades the retrieved organ.
type OrganCondition string

const (
	ConditionExcellent OrganCondition = "excellent"
	ConditionGood      OrganCondition = "good"
	ConditionFair      OrganCondition = "fair"
	ConditionPoor      OrganCondition = "poor"
)

// OrganStatus is the organ lifecycle state. Transitions are forward-only
// except expiration, which is reachable from any non-terminal state.
type OrganStatus string

const (
	OrganAvailable    OrganStatus = "available"
	OrganMatched      OrganStatus = "matched"
	OrganInTransit    OrganStatus = "in-transit"
	OrganDelivered    OrganStatus = "delivered"
	OrganTransplanted OrganStatus = "transplanted"
	OrganExpired      OrganStatus = "expired"
)

// organStages orders the forward lifecycle. An organ may move to any later
// stage (a procedure can complete while the organ is still marked matched,
// and transport can start before a match exists), never backward.
// Expiration is reachable from every non-terminal state.
var organStages = map[OrganStatus]int{
	OrganAvailable:    0,
	OrganMatched:      1,
	OrganInTransit:    2,
	OrganDelivered:    3,
	OrganTransplanted: 4,
}

// CanTransitionTo reports whether the status may legally move to next.
func (s OrganStatus) CanTransitionTo(next OrganStatus) bool {
	if s.Terminal() {
		return false
	}
	if next == OrganExpired {
		return true
	}
	from, ok := organStages[s]
	if !ok {
		return false
	}
	to, ok := organStages[next]
	if !ok {
		return false
	}
	return to > from
}

// Terminal reports whether no further transition is possible.
func (s OrganStatus) Terminal() bool {
	return s == OrganTransplanted || s == OrganExpired
}

// ParseOrganStatus validates a caller-supplied status string.
func ParseOrganStatus(raw string) (OrganStatus, error) {
	s := OrganStatus(raw)
	if _, ok := organStages[s]; !ok && s != OrganExpired {
		return "", dErrors.Newf(dErrors.CodeValidation, "unknown organ status %q", raw)
	}
	return s, nil
}

// DonorProfile carries the donor attributes scoring needs. The organ owns a
// copy; the donor record itself lives outside this core.
type DonorProfile struct {
	BloodType   BloodType `json:"blood_type"`
	HLAType     string    `json:"hla_type,omitempty"` // comma-separated marker list
	DateOfBirth time.Time `json:"date_of_birth"`
}

// Organ is a physical transplantable unit retrieved from a donor, tracked
// through a status lifecycle until transplanted or expired.
type Organ struct {
	ID             id.OrganID     `json:"id"`
	Type           OrganType      `json:"type"`
	Condition      OrganCondition `json:"condition"`
	Status         OrganStatus    `json:"status"`
	RetrievalDate  time.Time      `json:"retrieval_date"`
	ExpirationDate time.Time      `json:"expiration_date"`
	Donor          DonorProfile   `json:"donor"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Transition validates and applies a status change in one call.
func (o *Organ) Transition(next OrganStatus, now time.Time) error {
	if !o.Status.CanTransitionTo(next) {
		return dErrors.Newf(dErrors.CodeInvalidState,
			"organ %s cannot move from %s to %s", o.ID, o.Status, next)
	}
	o.Status = next
	o.UpdatedAt = now
	return nil
}

// CanExpire checks whether the organ may still expire.
func (o *Organ) CanExpire() error {
	if o.Status.Terminal() {
		return dErrors.Newf(dErrors.CodeInvalidState,
			"organ %s is already %s", o.ID, o.Status)
	}
	return nil
}

// ApplyExpiration marks the organ expired. Call CanExpire first.
func (o *Organ) ApplyExpiration(now time.Time) {
	o.Status = OrganExpired
	o.UpdatedAt = now
}
