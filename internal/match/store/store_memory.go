package store

import (
	"context"
	"sync"
	"time"

	"allograft/internal/match/models"
	id "allograft/pkg/domain"
	dErrors "allograft/pkg/domain-errors"
	"allograft/pkg/platform/sentinel"
)

// defaultMemoryTxTimeout caps in-memory transactions the same way the
// postgres gateway caps database ones.
const defaultMemoryTxTimeout = 5 * time.Second

// InMemory is a map-backed gateway for tests and single-process deployments.
// RunInTx holds the write lock for the whole transaction and stages writes in
// an overlay that is merged only at commit, so readers never observe a
// partial cascade and a failed callback leaves nothing behind.
//
// Reads and writes deep-copy entities so callers never alias store state.
type InMemory struct {
	mu sync.RWMutex

	organs          map[id.OrganID]*models.Organ
	receivers       map[id.ReceiverID]*models.Receiver
	compatibilities map[id.CompatibilityID]*models.Compatibility
	transports      map[id.TransportationID]*models.Transportation
	procedures      map[id.ProcedureID]*models.TransplantProcedure
}

// NewInMemory constructs an empty in-memory gateway.
func NewInMemory() *InMemory {
	return &InMemory{
		organs:          make(map[id.OrganID]*models.Organ),
		receivers:       make(map[id.ReceiverID]*models.Receiver),
		compatibilities: make(map[id.CompatibilityID]*models.Compatibility),
		transports:      make(map[id.TransportationID]*models.Transportation),
		procedures:      make(map[id.ProcedureID]*models.TransplantProcedure),
	}
}

// RunInTx runs the callback against a staging view while holding the write
// lock. Staged writes become visible all at once on commit; on error they are
// discarded.
func (s *InMemory) RunInTx(ctx context.Context, fn func(ctx context.Context, s Store) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultMemoryTxTimeout)
		defer cancel()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	tx := newMemTx(s)
	if err := fn(ctx, tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (s *InMemory) Organ(ctx context.Context, organID id.OrganID) (*models.Organ, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	organ, ok := s.organs[organID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return copyOrgan(organ), nil
}

func (s *InMemory) SaveOrgan(ctx context.Context, organ *models.Organ) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.organs[organ.ID] = copyOrgan(organ)
	return nil
}

func (s *InMemory) OrgansExpiringBefore(ctx context.Context, cutoff time.Time) ([]*models.Organ, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Organ
	for _, organ := range s.organs {
		if !organ.Status.Terminal() && organ.ExpirationDate.Before(cutoff) {
			out = append(out, copyOrgan(organ))
		}
	}
	return out, nil
}

func (s *InMemory) Receiver(ctx context.Context, receiverID id.ReceiverID) (*models.Receiver, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	receiver, ok := s.receivers[receiverID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return copyReceiver(receiver), nil
}

func (s *InMemory) SaveReceiver(ctx context.Context, receiver *models.Receiver) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receivers[receiver.ID] = copyReceiver(receiver)
	return nil
}

func (s *InMemory) WaitingReceivers(ctx context.Context, organType models.OrganType) ([]*models.Receiver, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Receiver
	for _, receiver := range s.receivers {
		if receiver.Status == models.ReceiverWaiting && receiver.NeededOrgan == organType {
			out = append(out, copyReceiver(receiver))
		}
	}
	return out, nil
}

func (s *InMemory) Compatibility(ctx context.Context, compatibilityID id.CompatibilityID) (*models.Compatibility, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	compat, ok := s.compatibilities[compatibilityID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return copyCompatibility(compat), nil
}

func (s *InMemory) SaveCompatibility(ctx context.Context, compatibility *models.Compatibility) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.compatibilities[compatibility.ID] = copyCompatibility(compatibility)
	return nil
}

func (s *InMemory) ActiveCompatibilityForPair(ctx context.Context, organID id.OrganID, receiverID id.ReceiverID) (*models.Compatibility, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, compat := range s.compatibilities {
		if compat.OrganID == organID && compat.ReceiverID == receiverID && compat.Status.Active() {
			return copyCompatibility(compat), nil
		}
	}
	return nil, nil
}

func (s *InMemory) ConfirmedCompatibilityForOrgan(ctx context.Context, organID id.OrganID) (*models.Compatibility, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, compat := range s.compatibilities {
		if compat.OrganID == organID && compat.Status == models.CompatibilityConfirmed {
			return copyCompatibility(compat), nil
		}
	}
	return nil, nil
}

func (s *InMemory) PotentialCompatibilitiesForOrgan(ctx context.Context, organID id.OrganID) ([]*models.Compatibility, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Compatibility
	for _, compat := range s.compatibilities {
		if compat.OrganID == organID && compat.Status == models.CompatibilityPotential {
			out = append(out, copyCompatibility(compat))
		}
	}
	return out, nil
}

func (s *InMemory) PotentialCompatibilitiesForReceiver(ctx context.Context, receiverID id.ReceiverID) ([]*models.Compatibility, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Compatibility
	for _, compat := range s.compatibilities {
		if compat.ReceiverID == receiverID && compat.Status == models.CompatibilityPotential {
			out = append(out, copyCompatibility(compat))
		}
	}
	return out, nil
}

func (s *InMemory) Transportation(ctx context.Context, transportID id.TransportationID) (*models.Transportation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	transport, ok := s.transports[transportID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return copyTransportation(transport), nil
}

func (s *InMemory) SaveTransportation(ctx context.Context, transport *models.Transportation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transports[transport.ID] = copyTransportation(transport)
	return nil
}

func (s *InMemory) Procedure(ctx context.Context, procedureID id.ProcedureID) (*models.TransplantProcedure, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	procedure, ok := s.procedures[procedureID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return copyProcedure(procedure), nil
}

func (s *InMemory) SaveProcedure(ctx context.Context, procedure *models.TransplantProcedure) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.procedures[procedure.ID] = copyProcedure(procedure)
	return nil
}

func (s *InMemory) ProcedureForCompatibility(ctx context.Context, compatibilityID id.CompatibilityID) (*models.TransplantProcedure, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, procedure := range s.procedures {
		if procedure.CompatibilityID == compatibilityID {
			return copyProcedure(procedure), nil
		}
	}
	return nil, nil
}

// memTx is the staging view handed to RunInTx callbacks. The caller holds the
// store's write lock, so no method locks; writes land in the staged maps and
// reads see staged state over base state.
type memTx struct {
	base *InMemory

	organs          map[id.OrganID]*models.Organ
	receivers       map[id.ReceiverID]*models.Receiver
	compatibilities map[id.CompatibilityID]*models.Compatibility
	transports      map[id.TransportationID]*models.Transportation
	procedures      map[id.ProcedureID]*models.TransplantProcedure
}

func newMemTx(base *InMemory) *memTx {
	return &memTx{
		base:            base,
		organs:          make(map[id.OrganID]*models.Organ),
		receivers:       make(map[id.ReceiverID]*models.Receiver),
		compatibilities: make(map[id.CompatibilityID]*models.Compatibility),
		transports:      make(map[id.TransportationID]*models.Transportation),
		procedures:      make(map[id.ProcedureID]*models.TransplantProcedure),
	}
}

// commit merges staged writes into the base maps. Staged entries are private
// copies, so they move over as-is.
func (t *memTx) commit() {
	for organID, organ := range t.organs {
		t.base.organs[organID] = organ
	}
	for receiverID, receiver := range t.receivers {
		t.base.receivers[receiverID] = receiver
	}
	for compatID, compat := range t.compatibilities {
		t.base.compatibilities[compatID] = compat
	}
	for transportID, transport := range t.transports {
		t.base.transports[transportID] = transport
	}
	for procedureID, procedure := range t.procedures {
		t.base.procedures[procedureID] = procedure
	}
}

func (t *memTx) Organ(ctx context.Context, organID id.OrganID) (*models.Organ, error) {
	if organ, ok := t.organs[organID]; ok {
		return copyOrgan(organ), nil
	}
	if organ, ok := t.base.organs[organID]; ok {
		return copyOrgan(organ), nil
	}
	return nil, sentinel.ErrNotFound
}

func (t *memTx) SaveOrgan(ctx context.Context, organ *models.Organ) error {
	t.organs[organ.ID] = copyOrgan(organ)
	return nil
}

func (t *memTx) OrgansExpiringBefore(ctx context.Context, cutoff time.Time) ([]*models.Organ, error) {
	var out []*models.Organ
	t.eachOrgan(func(organ *models.Organ) {
		if !organ.Status.Terminal() && organ.ExpirationDate.Before(cutoff) {
			out = append(out, copyOrgan(organ))
		}
	})
	return out, nil
}

func (t *memTx) Receiver(ctx context.Context, receiverID id.ReceiverID) (*models.Receiver, error) {
	if receiver, ok := t.receivers[receiverID]; ok {
		return copyReceiver(receiver), nil
	}
	if receiver, ok := t.base.receivers[receiverID]; ok {
		return copyReceiver(receiver), nil
	}
	return nil, sentinel.ErrNotFound
}

func (t *memTx) SaveReceiver(ctx context.Context, receiver *models.Receiver) error {
	t.receivers[receiver.ID] = copyReceiver(receiver)
	return nil
}

func (t *memTx) WaitingReceivers(ctx context.Context, organType models.OrganType) ([]*models.Receiver, error) {
	var out []*models.Receiver
	t.eachReceiver(func(receiver *models.Receiver) {
		if receiver.Status == models.ReceiverWaiting && receiver.NeededOrgan == organType {
			out = append(out, copyReceiver(receiver))
		}
	})
	return out, nil
}

func (t *memTx) Compatibility(ctx context.Context, compatibilityID id.CompatibilityID) (*models.Compatibility, error) {
	if compat, ok := t.compatibilities[compatibilityID]; ok {
		return copyCompatibility(compat), nil
	}
	if compat, ok := t.base.compatibilities[compatibilityID]; ok {
		return copyCompatibility(compat), nil
	}
	return nil, sentinel.ErrNotFound
}

func (t *memTx) SaveCompatibility(ctx context.Context, compatibility *models.Compatibility) error {
	t.compatibilities[compatibility.ID] = copyCompatibility(compatibility)
	return nil
}

func (t *memTx) ActiveCompatibilityForPair(ctx context.Context, organID id.OrganID, receiverID id.ReceiverID) (*models.Compatibility, error) {
	var found *models.Compatibility
	t.eachCompatibility(func(compat *models.Compatibility) {
		if found == nil && compat.OrganID == organID && compat.ReceiverID == receiverID && compat.Status.Active() {
			found = copyCompatibility(compat)
		}
	})
	return found, nil
}

func (t *memTx) ConfirmedCompatibilityForOrgan(ctx context.Context, organID id.OrganID) (*models.Compatibility, error) {
	var found *models.Compatibility
	t.eachCompatibility(func(compat *models.Compatibility) {
		if found == nil && compat.OrganID == organID && compat.Status == models.CompatibilityConfirmed {
			found = copyCompatibility(compat)
		}
	})
	return found, nil
}

func (t *memTx) PotentialCompatibilitiesForOrgan(ctx context.Context, organID id.OrganID) ([]*models.Compatibility, error) {
	var out []*models.Compatibility
	t.eachCompatibility(func(compat *models.Compatibility) {
		if compat.OrganID == organID && compat.Status == models.CompatibilityPotential {
			out = append(out, copyCompatibility(compat))
		}
	})
	return out, nil
}

func (t *memTx) PotentialCompatibilitiesForReceiver(ctx context.Context, receiverID id.ReceiverID) ([]*models.Compatibility, error) {
	var out []*models.Compatibility
	t.eachCompatibility(func(compat *models.Compatibility) {
		if compat.ReceiverID == receiverID && compat.Status == models.CompatibilityPotential {
			out = append(out, copyCompatibility(compat))
		}
	})
	return out, nil
}

func (t *memTx) Transportation(ctx context.Context, transportID id.TransportationID) (*models.Transportation, error) {
	if transport, ok := t.transports[transportID]; ok {
		return copyTransportation(transport), nil
	}
	if transport, ok := t.base.transports[transportID]; ok {
		return copyTransportation(transport), nil
	}
	return nil, sentinel.ErrNotFound
}

func (t *memTx) SaveTransportation(ctx context.Context, transport *models.Transportation) error {
	t.transports[transport.ID] = copyTransportation(transport)
	return nil
}

func (t *memTx) Procedure(ctx context.Context, procedureID id.ProcedureID) (*models.TransplantProcedure, error) {
	if procedure, ok := t.procedures[procedureID]; ok {
		return copyProcedure(procedure), nil
	}
	if procedure, ok := t.base.procedures[procedureID]; ok {
		return copyProcedure(procedure), nil
	}
	return nil, sentinel.ErrNotFound
}

func (t *memTx) SaveProcedure(ctx context.Context, procedure *models.TransplantProcedure) error {
	t.procedures[procedure.ID] = copyProcedure(procedure)
	return nil
}

func (t *memTx) ProcedureForCompatibility(ctx context.Context, compatibilityID id.CompatibilityID) (*models.TransplantProcedure, error) {
	var found *models.TransplantProcedure
	t.eachProcedure(func(procedure *models.TransplantProcedure) {
		if found == nil && procedure.CompatibilityID == compatibilityID {
			found = copyProcedure(procedure)
		}
	})
	return found, nil
}

// eachX iterates the merged view: base entries superseded by a staged write
// are skipped, then staged entries follow.

func (t *memTx) eachOrgan(fn func(*models.Organ)) {
	for organID, organ := range t.base.organs {
		if _, staged := t.organs[organID]; staged {
			continue
		}
		fn(organ)
	}
	for _, organ := range t.organs {
		fn(organ)
	}
}

func (t *memTx) eachReceiver(fn func(*models.Receiver)) {
	for receiverID, receiver := range t.base.receivers {
		if _, staged := t.receivers[receiverID]; staged {
			continue
		}
		fn(receiver)
	}
	for _, receiver := range t.receivers {
		fn(receiver)
	}
}

func (t *memTx) eachCompatibility(fn func(*models.Compatibility)) {
	for compatID, compat := range t.base.compatibilities {
		if _, staged := t.compatibilities[compatID]; staged {
			continue
		}
		fn(compat)
	}
	for _, compat := range t.compatibilities {
		fn(compat)
	}
}

func (t *memTx) eachProcedure(fn func(*models.TransplantProcedure)) {
	for procedureID, procedure := range t.base.procedures {
		if _, staged := t.procedures[procedureID]; staged {
			continue
		}
		fn(procedure)
	}
	for _, procedure := range t.procedures {
		fn(procedure)
	}
}

func copyOrgan(o *models.Organ) *models.Organ {
	cp := *o
	return &cp
}

func copyReceiver(r *models.Receiver) *models.Receiver {
	cp := *r
	return &cp
}

func copyCompatibility(c *models.Compatibility) *models.Compatibility {
	cp := *c
	return &cp
}

func copyTransportation(t *models.Transportation) *models.Transportation {
	cp := *t
	if t.ActualArrivalTime != nil {
		arrival := *t.ActualArrivalTime
		cp.ActualArrivalTime = &arrival
	}
	return &cp
}

func copyProcedure(p *models.TransplantProcedure) *models.TransplantProcedure {
	cp := *p
	if p.ActualDate != nil {
		actual := *p.ActualDate
		cp.ActualDate = &actual
	}
	return &cp
}
