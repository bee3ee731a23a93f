package models

import (
	"time"

	id "allograft/pkg/domain"
	dErrors "allograft/pkg/domain-errors"
)

// TransportationStatus is the transport-leg lifecycle state.
type TransportationStatus string

const (
	TransportScheduled TransportationStatus = "scheduled"
	TransportInTransit TransportationStatus = "in-transit"
	TransportDelivered TransportationStatus = "delivered"
	TransportDelayed   TransportationStatus = "delayed"
	TransportCancelled TransportationStatus = "cancelled"
)

var transportationTransitions = map[TransportationStatus][]TransportationStatus{
	TransportScheduled: {TransportInTransit, TransportCancelled},
	TransportInTransit: {TransportDelivered, TransportDelayed, TransportCancelled},
	TransportDelayed:   {TransportDelivered, TransportCancelled},
	TransportDelivered: {},
	TransportCancelled: {},
}

// CanTransitionTo reports whether the status may legally move to next.
func (s TransportationStatus) CanTransitionTo(next TransportationStatus) bool {
	for _, t := range transportationTransitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s TransportationStatus) Terminal() bool {
	return len(transportationTransitions[s]) == 0
}

// ParseTransportationStatus validates a caller-supplied status string.
func ParseTransportationStatus(raw string) (TransportationStatus, error) {
	s := TransportationStatus(raw)
	if _, ok := transportationTransitions[s]; !ok {
		return "", dErrors.Newf(dErrors.CodeValidation, "unknown transportation status %q", raw)
	}
	return s, nil
}

// Transportation is one transport leg moving an organ between institutions.
// The organ is referenced, never owned.
type Transportation struct {
	ID                     id.TransportationID  `json:"id"`
	OrganID                id.OrganID           `json:"organ_id"`
	OriginInstitution      string               `json:"origin_institution"`
	DestinationInstitution string               `json:"destination_institution"`
	DepartureTime          time.Time            `json:"departure_time"`
	EstimatedArrivalTime   time.Time            `json:"estimated_arrival_time"`
	ActualArrivalTime      *time.Time           `json:"actual_arrival_time,omitempty"`
	Status                 TransportationStatus `json:"status"`
	UpdatedAt              time.Time            `json:"updated_at"`
}

// Transition validates and applies a status change in one call.
func (t *Transportation) Transition(next TransportationStatus, now time.Time) error {
	if !t.Status.CanTransitionTo(next) {
		return dErrors.Newf(dErrors.CodeInvalidState,
			"transportation %s cannot move from %s to %s", t.ID, t.Status, next)
	}
	t.Status = next
	t.UpdatedAt = now
	return nil
}

// StampArrival records the actual arrival time if not already set.
func (t *Transportation) StampArrival(arrived time.Time) {
	if t.ActualArrivalTime == nil {
		t.ActualArrivalTime = &arrived
	}
}
