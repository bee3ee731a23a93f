// Package domain defines uuid-backed identifier types for the allocation core.
// Distinct types keep an OrganID from ever being passed where a ReceiverID is
// expected; the compiler enforces it.
package domain

import (
	"github.com/google/uuid"

	dErrors "allograft/pkg/domain-errors"
)

type (
	// OrganID identifies a transplantable organ.
	OrganID uuid.UUID
	// ReceiverID identifies a person on the waiting list.
	ReceiverID uuid.UUID
	// CompatibilityID identifies a scored organ-receiver pairing.
	CompatibilityID uuid.UUID
	// TransportationID identifies an organ transport leg.
	TransportationID uuid.UUID
	// ProcedureID identifies a transplant procedure.
	ProcedureID uuid.UUID
)

func (id OrganID) String() string          { return uuid.UUID(id).String() }
func (id ReceiverID) String() string       { return uuid.UUID(id).String() }
func (id CompatibilityID) String() string  { return uuid.UUID(id).String() }
func (id TransportationID) String() string { return uuid.UUID(id).String() }
func (id ProcedureID) String() string      { return uuid.UUID(id).String() }

func (id OrganID) IsNil() bool          { return uuid.UUID(id) == uuid.Nil }
func (id ReceiverID) IsNil() bool       { return uuid.UUID(id) == uuid.Nil }
func (id CompatibilityID) IsNil() bool  { return uuid.UUID(id) == uuid.Nil }
func (id TransportationID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id ProcedureID) IsNil() bool      { return uuid.UUID(id) == uuid.Nil }

// NewOrganID returns a fresh random organ identifier.
func NewOrganID() OrganID { return OrganID(uuid.New()) }

// NewReceiverID returns a fresh random receiver identifier.
func NewReceiverID() ReceiverID { return ReceiverID(uuid.New()) }

// NewCompatibilityID returns a fresh random compatibility identifier.
func NewCompatibilityID() CompatibilityID { return CompatibilityID(uuid.New()) }

// NewTransportationID returns a fresh random transportation identifier.
func NewTransportationID() TransportationID { return TransportationID(uuid.New()) }

// NewProcedureID returns a fresh random procedure identifier.
func NewProcedureID() ProcedureID { return ProcedureID(uuid.New()) }

// parseUUID enforces the shared invariant: IDs must be valid, non-empty,
// non-nil UUIDs. Boundary layers call the typed wrappers below before
// anything reaches a store.
func parseUUID(raw, kind string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.Nil, dErrors.Newf(dErrors.CodeValidation, "%s id is required", kind)
	}
	parsed, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, dErrors.Wrap(err, dErrors.CodeValidation, kind+" id is not a valid UUID")
	}
	if parsed == uuid.Nil {
		return uuid.Nil, dErrors.Newf(dErrors.CodeValidation, "%s id must not be the nil UUID", kind)
	}
	return parsed, nil
}

// ParseOrganID parses and validates an organ identifier.
func ParseOrganID(raw string) (OrganID, error) {
	parsed, err := parseUUID(raw, "organ")
	return OrganID(parsed), err
}

// ParseReceiverID parses and validates a receiver identifier.
func ParseReceiverID(raw string) (ReceiverID, error) {
	parsed, err := parseUUID(raw, "receiver")
	return ReceiverID(parsed), err
}

// ParseCompatibilityID parses and validates a compatibility identifier.
func ParseCompatibilityID(raw string) (CompatibilityID, error) {
	parsed, err := parseUUID(raw, "compatibility")
	return CompatibilityID(parsed), err
}

// ParseTransportationID parses and validates a transportation identifier.
func ParseTransportationID(raw string) (TransportationID, error) {
	parsed, err := parseUUID(raw, "transportation")
	return TransportationID(parsed), err
}

// ParseProcedureID parses and validates a procedure identifier.
func ParseProcedureID(raw string) (ProcedureID, error) {
	parsed, err := parseUUID(raw, "procedure")
	return ProcedureID(parsed), err
}
