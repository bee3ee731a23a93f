package service

import (
	id "allograft/pkg/domain"
)

// Event payloads. These are the wire contract for downstream consumers
// (notification fan-out, audit); field names are stable.

type matchEventPayload struct {
	CompatibilityID id.CompatibilityID `json:"compatibility_id"`
	OrganID         id.OrganID         `json:"organ_id"`
	ReceiverID      id.ReceiverID      `json:"receiver_id"`
	Score           int                `json:"score"`
}

type transportEventPayload struct {
	TransportationID id.TransportationID `json:"transportation_id"`
	OrganID          id.OrganID          `json:"organ_id"`
	FromStatus       string              `json:"from_status,omitempty"`
	ToStatus         string              `json:"to_status"`
}

type procedureEventPayload struct {
	ProcedureID     id.ProcedureID     `json:"procedure_id"`
	CompatibilityID id.CompatibilityID `json:"compatibility_id"`
	OrganID         id.OrganID         `json:"organ_id"`
	ReceiverID      id.ReceiverID      `json:"receiver_id"`
	Outcome         string             `json:"outcome,omitempty"`
}

type organEventPayload struct {
	OrganID id.OrganID `json:"organ_id"`
	Status  string     `json:"status"`
}

type receiverEventPayload struct {
	ReceiverID id.ReceiverID `json:"receiver_id"`
	Status     string        `json:"status"`
}
