package service

import (
	"context"

	"golang.org/x/sync/errgroup"

	"allograft/internal/match/models"
	"allograft/internal/match/scoring"
	"allograft/internal/match/store"
	"allograft/internal/platform/events"
	id "allograft/pkg/domain"
	dErrors "allograft/pkg/domain-errors"
)

// candidateScoringConcurrency bounds the goroutines scoring a waiting list.
const candidateScoringConcurrency = 8

// CreateCompatibilityParams carries the optional inputs for match creation.
type CreateCompatibilityParams struct {
	// Score overrides the engine's computed score when non-nil. Must be in
	// [0,100].
	Score *int
	Notes string
}

// CreateCompatibility records a potential pairing between an available organ
// and a waiting receiver. The pair must be free: an existing non-rejected
// record for the same organ and receiver is a conflict.
func (c *Coordinator) CreateCompatibility(ctx context.Context, organID id.OrganID, receiverID id.ReceiverID, params CreateCompatibilityParams) (*models.Compatibility, error) {
	var created *models.Compatibility
	err := c.runInTx(ctx, func(ctx context.Context, s store.Store, queue *eventQueue) error {
		organ, err := s.Organ(ctx, organID)
		if err != nil {
			return wrapStoreErr(err, "organ")
		}
		if organ.Status != models.OrganAvailable {
			return dErrors.Newf(dErrors.CodeInvalidState,
				"organ %s is %s, not available for matching", organID, organ.Status)
		}

		receiver, err := s.Receiver(ctx, receiverID)
		if err != nil {
			return wrapStoreErr(err, "receiver")
		}
		if receiver.Status != models.ReceiverWaiting {
			return dErrors.Newf(dErrors.CodeInvalidState,
				"receiver %s is %s, not on the waiting list", receiverID, receiver.Status)
		}

		existing, err := s.ActiveCompatibilityForPair(ctx, organID, receiverID)
		if err != nil {
			return wrapStoreErr(err, "compatibility")
		}
		if existing != nil {
			return dErrors.Newf(dErrors.CodeConflict,
				"an active compatibility already exists for organ %s and receiver %s", organID, receiverID)
		}

		now := c.now()
		score := scoring.Score(organ.Donor, receiver, now)
		if params.Score != nil {
			score = *params.Score
		}

		compat, err := models.NewCompatibility(organID, receiverID, score, now)
		if err != nil {
			return err
		}
		compat.Notes = params.Notes
		if err := s.SaveCompatibility(ctx, compat); err != nil {
			return wrapStoreErr(err, "compatibility")
		}

		queue.add(events.MatchCreated, now, matchEventPayload{
			CompatibilityID: compat.ID,
			OrganID:         organID,
			ReceiverID:      receiverID,
			Score:           compat.Score,
		})
		created = compat
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.metrics.IncMatchesCreated()
	c.metrics.ObserveScore(created.Score)
	return created, nil
}

// Confirm transitions a potential compatibility to confirmed and cascades
// organ and receiver to matched in the same transaction.
//
// The organ status is re-checked inside the transaction: if another
// confirmation already advanced the organ, the result is a Conflict, never a
// second winner. Readers can therefore never observe a confirmed
// compatibility whose organ is still available.
func (c *Coordinator) Confirm(ctx context.Context, compatibilityID id.CompatibilityID) (*models.Compatibility, error) {
	var confirmed *models.Compatibility
	err := c.runInTx(ctx, func(ctx context.Context, s store.Store, queue *eventQueue) error {
		compat, err := s.Compatibility(ctx, compatibilityID)
		if err != nil {
			return wrapStoreErr(err, "compatibility")
		}
		if err := compat.CanConfirm(); err != nil {
			return err
		}

		// Compare-and-set on the organ row, held under the transaction's
		// lock for the rest of the cascade.
		organ, err := s.Organ(ctx, compat.OrganID)
		if err != nil {
			return wrapStoreErr(err, "organ")
		}
		if organ.Status != models.OrganAvailable {
			if organ.Status == models.OrganMatched {
				return dErrors.Newf(dErrors.CodeConflict,
					"organ %s was already matched by another confirmation", organ.ID)
			}
			return dErrors.Newf(dErrors.CodeInvalidState,
				"organ %s is %s and cannot be matched", organ.ID, organ.Status)
		}

		receiver, err := s.Receiver(ctx, compat.ReceiverID)
		if err != nil {
			return wrapStoreErr(err, "receiver")
		}
		if receiver.Status != models.ReceiverWaiting {
			if receiver.Status == models.ReceiverMatched {
				return dErrors.Newf(dErrors.CodeConflict,
					"receiver %s was already matched by another confirmation", receiver.ID)
			}
			return dErrors.Newf(dErrors.CodeInvalidState,
				"receiver %s is %s and cannot be matched", receiver.ID, receiver.Status)
		}

		now := c.now()
		compat.ApplyConfirm(now)
		if err := organ.Transition(models.OrganMatched, now); err != nil {
			return err
		}
		if err := receiver.Transition(models.ReceiverMatched, now); err != nil {
			return err
		}

		if err := s.SaveCompatibility(ctx, compat); err != nil {
			return wrapStoreErr(err, "compatibility")
		}
		if err := s.SaveOrgan(ctx, organ); err != nil {
			return wrapStoreErr(err, "organ")
		}
		if err := s.SaveReceiver(ctx, receiver); err != nil {
			return wrapStoreErr(err, "receiver")
		}

		queue.add(events.MatchConfirmed, now, matchEventPayload{
			CompatibilityID: compat.ID,
			OrganID:         compat.OrganID,
			ReceiverID:      compat.ReceiverID,
			Score:           compat.Score,
		})
		confirmed = compat
		return nil
	})
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeConflict) {
			c.metrics.IncConfirmConflicts()
		}
		return nil, err
	}
	c.metrics.IncMatchesConfirmed()
	return confirmed, nil
}

// Reject closes a potential compatibility. No cascade: the organ stays
// available and the receiver stays waiting for other matches.
func (c *Coordinator) Reject(ctx context.Context, compatibilityID id.CompatibilityID) (*models.Compatibility, error) {
	var rejected *models.Compatibility
	err := c.runInTx(ctx, func(ctx context.Context, s store.Store, queue *eventQueue) error {
		compat, err := s.Compatibility(ctx, compatibilityID)
		if err != nil {
			return wrapStoreErr(err, "compatibility")
		}
		now := c.now()
		if err := compat.Transition(models.CompatibilityRejected, now); err != nil {
			return err
		}
		if err := s.SaveCompatibility(ctx, compat); err != nil {
			return wrapStoreErr(err, "compatibility")
		}
		queue.add(events.MatchRejected, now, matchEventPayload{
			CompatibilityID: compat.ID,
			OrganID:         compat.OrganID,
			ReceiverID:      compat.ReceiverID,
			Score:           compat.Score,
		})
		rejected = compat
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.metrics.IncMatchesRejected()
	return rejected, nil
}

// FindCandidatesForOrgan scores every waiting receiver needing this organ
// type and returns them ordered by score descending. Read-only: no
// compatibility records are created and no transaction is held across the
// scoring.
func (c *Coordinator) FindCandidatesForOrgan(ctx context.Context, organID id.OrganID) ([]scoring.Candidate, error) {
	organ, err := c.gateway.Organ(ctx, organID)
	if err != nil {
		return nil, wrapStoreErr(err, "organ")
	}
	if organ.Status != models.OrganAvailable {
		return nil, dErrors.Newf(dErrors.CodeInvalidState,
			"organ %s is %s, not available for matching", organID, organ.Status)
	}

	waiting, err := c.gateway.WaitingReceivers(ctx, organ.Type)
	if err != nil {
		return nil, wrapStoreErr(err, "receivers")
	}

	now := c.now()
	candidates := make([]scoring.Candidate, len(waiting))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(candidateScoringConcurrency)
	for i, receiver := range waiting {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			candidates[i] = scoring.Candidate{
				Receiver: receiver,
				Score:    scoring.Score(organ.Donor, receiver, now),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "candidate scoring aborted")
	}

	scoring.SortCandidates(candidates)
	return candidates, nil
}
