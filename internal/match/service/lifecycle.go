package service

import (
	"context"

	"allograft/internal/match/models"
	"allograft/internal/match/store"
	"allograft/internal/platform/events"
	id "allograft/pkg/domain"
)

// ExpireOrgan marks an organ expired and closes its open potential matches in
// the same transaction, so no candidate pairing survives for an organ that
// can no longer be used.
func (c *Coordinator) ExpireOrgan(ctx context.Context, organID id.OrganID) (*models.Organ, error) {
	var expired *models.Organ
	err := c.runInTx(ctx, func(ctx context.Context, s store.Store, queue *eventQueue) error {
		organ, err := s.Organ(ctx, organID)
		if err != nil {
			return wrapStoreErr(err, "organ")
		}
		if err := organ.CanExpire(); err != nil {
			return err
		}

		open, err := s.PotentialCompatibilitiesForOrgan(ctx, organID)
		if err != nil {
			return wrapStoreErr(err, "compatibilities")
		}

		now := c.now()
		organ.ApplyExpiration(now)
		if err := s.SaveOrgan(ctx, organ); err != nil {
			return wrapStoreErr(err, "organ")
		}
		for _, compat := range open {
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
		}

		queue.add(events.OrganExpired, now, organEventPayload{
			OrganID: organ.ID,
			Status:  string(organ.Status),
		})
		expired = organ
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.metrics.IncOrgansExpired()
	return expired, nil
}

// MarkReceiverDeceased moves a receiver to deceased from any live state and
// closes the receiver's open potential matches in the same transaction.
func (c *Coordinator) MarkReceiverDeceased(ctx context.Context, receiverID id.ReceiverID) (*models.Receiver, error) {
	var deceased *models.Receiver
	err := c.runInTx(ctx, func(ctx context.Context, s store.Store, queue *eventQueue) error {
		receiver, err := s.Receiver(ctx, receiverID)
		if err != nil {
			return wrapStoreErr(err, "receiver")
		}
		if err := receiver.CanMarkDeceased(); err != nil {
			return err
		}

		open, err := s.PotentialCompatibilitiesForReceiver(ctx, receiverID)
		if err != nil {
			return wrapStoreErr(err, "compatibilities")
		}

		now := c.now()
		receiver.ApplyDeceased(now)
		if err := s.SaveReceiver(ctx, receiver); err != nil {
			return wrapStoreErr(err, "receiver")
		}
		for _, compat := range open {
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
		}

		queue.add(events.ReceiverDeceased, now, receiverEventPayload{
			ReceiverID: receiver.ID,
			Status:     string(receiver.Status),
		})
		deceased = receiver
		return nil
	})
	if err != nil {
		return nil, err
	}
	return deceased, nil
}

// SweepExpiredOrgans expires every non-terminal organ whose expiration date
// has passed. One organ per transaction so a single bad row cannot block the
// sweep; the first error aborts the pass and is returned alongside the count
// already expired.
func (c *Coordinator) SweepExpiredOrgans(ctx context.Context) (int, error) {
	due, err := c.gateway.OrgansExpiringBefore(ctx, c.now())
	if err != nil {
		return 0, wrapStoreErr(err, "organs")
	}

	expired := 0
	for _, organ := range due {
		if _, err := c.ExpireOrgan(ctx, organ.ID); err != nil {
			return expired, err
		}
		expired++
	}
	return expired, nil
}
