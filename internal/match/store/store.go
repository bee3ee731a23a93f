// Package store persists the allocation entities. It exposes the narrow
// gateway the coordinator consumes: per-entity load/save plus the invariant
// lookups the matching rules need, and a transaction boundary for cascading
// updates.
//
// Implementations return pkg/platform/sentinel errors; the service layer
// translates them into coded domain errors.
package store

import (
	"context"
	"time"

	"allograft/internal/match/models"
	id "allograft/pkg/domain"
)

// Store is the persistence view the coordinator operates on. Inside RunInTx
// all calls share one transaction; reads of the organ row are locked for the
// duration so status read-modify-write is never split.
type Store interface {
	Organ(ctx context.Context, organID id.OrganID) (*models.Organ, error)
	SaveOrgan(ctx context.Context, organ *models.Organ) error
	// OrgansExpiringBefore lists non-terminal organs whose expiration date
	// falls before the cutoff.
	OrgansExpiringBefore(ctx context.Context, cutoff time.Time) ([]*models.Organ, error)

	Receiver(ctx context.Context, receiverID id.ReceiverID) (*models.Receiver, error)
	SaveReceiver(ctx context.Context, receiver *models.Receiver) error
	// WaitingReceivers lists receivers in waiting status needing the given
	// organ type, unordered.
	WaitingReceivers(ctx context.Context, organType models.OrganType) ([]*models.Receiver, error)

	Compatibility(ctx context.Context, compatibilityID id.CompatibilityID) (*models.Compatibility, error)
	SaveCompatibility(ctx context.Context, compatibility *models.Compatibility) error
	// ActiveCompatibilityForPair returns the non-rejected record for the pair,
	// or (nil, nil) when the pair is free.
	ActiveCompatibilityForPair(ctx context.Context, organID id.OrganID, receiverID id.ReceiverID) (*models.Compatibility, error)
	// ConfirmedCompatibilityForOrgan returns the confirmed record for the
	// organ, or (nil, nil) when none is confirmed.
	ConfirmedCompatibilityForOrgan(ctx context.Context, organID id.OrganID) (*models.Compatibility, error)
	// PotentialCompatibilitiesForOrgan lists the organ's open potential
	// records.
	PotentialCompatibilitiesForOrgan(ctx context.Context, organID id.OrganID) ([]*models.Compatibility, error)
	// PotentialCompatibilitiesForReceiver lists the receiver's open potential
	// records.
	PotentialCompatibilitiesForReceiver(ctx context.Context, receiverID id.ReceiverID) ([]*models.Compatibility, error)

	Transportation(ctx context.Context, transportID id.TransportationID) (*models.Transportation, error)
	SaveTransportation(ctx context.Context, transport *models.Transportation) error

	Procedure(ctx context.Context, procedureID id.ProcedureID) (*models.TransplantProcedure, error)
	SaveProcedure(ctx context.Context, procedure *models.TransplantProcedure) error
	// ProcedureForCompatibility returns the procedure 1:1 with the
	// compatibility, or (nil, nil) when none exists.
	ProcedureForCompatibility(ctx context.Context, compatibilityID id.CompatibilityID) (*models.TransplantProcedure, error)
}

// Tx provides the transaction boundary for cascading operations.
// Implementations may wrap a database transaction or, in-memory, a coarse
// lock; either way the callback observes serializable semantics. The callback
// must use the context it receives: that is where a database implementation
// carries the open transaction.
type Tx interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, s Store) error) error
}

// Gateway bundles the store with its transaction boundary; both
// implementations in this package satisfy it.
type Gateway interface {
	Store
	Tx
}
