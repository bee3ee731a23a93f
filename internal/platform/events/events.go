// Package events delivers domain events emitted by the allocation
// coordinator. Delivery is fire-and-forget: the coordinator publishes after
// its transaction commits and never fails an operation because a publish
// failed.
package events

import (
	"context"
	"time"
)

// Domain event names. Stable API for downstream consumers.
const (
	MatchCreated           = "match.created"
	MatchConfirmed         = "match.confirmed"
	MatchRejected          = "match.rejected"
	TransportScheduled     = "transport.scheduled"
	TransportStatusChanged = "transport.status_changed"
	ProcedureScheduled     = "procedure.scheduled"
	ProcedureCompleted     = "procedure.completed"
	OrganExpired           = "organ.expired"
	ReceiverDeceased       = "receiver.deceased"
)

// Event is one domain occurrence. Payload must be JSON-marshalable.
type Event struct {
	Name       string    `json:"name"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    any       `json:"payload"`
}

// Publisher is the outbound notification collaborator. Implementations must
// tolerate being called concurrently.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// PublisherFunc adapts a function to the Publisher interface.
type PublisherFunc func(ctx context.Context, event Event) error

func (f PublisherFunc) Publish(ctx context.Context, event Event) error {
	return f(ctx, event)
}
