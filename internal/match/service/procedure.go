package service

import (
	"context"
	"time"

	"allograft/internal/match/models"
	"allograft/internal/match/store"
	"allograft/internal/platform/events"
	id "allograft/pkg/domain"
	dErrors "allograft/pkg/domain-errors"
)

// ScheduleProcedure creates the transplant procedure for a confirmed
// compatibility. A compatibility owns at most one procedure; a second
// schedule for the same compatibility is a conflict.
func (c *Coordinator) ScheduleProcedure(ctx context.Context, compatibilityID id.CompatibilityID, scheduledAt time.Time) (*models.TransplantProcedure, error) {
	var scheduled *models.TransplantProcedure
	err := c.runInTx(ctx, func(ctx context.Context, s store.Store, queue *eventQueue) error {
		compat, err := s.Compatibility(ctx, compatibilityID)
		if err != nil {
			return wrapStoreErr(err, "compatibility")
		}
		if compat.Status != models.CompatibilityConfirmed {
			return dErrors.Newf(dErrors.CodeInvalidState,
				"compatibility %s is %s, only confirmed matches get a procedure", compat.ID, compat.Status)
		}

		existing, err := s.ProcedureForCompatibility(ctx, compatibilityID)
		if err != nil {
			return wrapStoreErr(err, "procedure")
		}
		if existing != nil {
			return dErrors.Newf(dErrors.CodeConflict,
				"compatibility %s already has procedure %s", compat.ID, existing.ID)
		}

		now := c.now()
		procedure := &models.TransplantProcedure{
			ID:              id.NewProcedureID(),
			CompatibilityID: compat.ID,
			OrganID:         compat.OrganID,
			ReceiverID:      compat.ReceiverID,
			Status:          models.ProcedureScheduled,
			ScheduledDate:   scheduledAt,
			UpdatedAt:       now,
		}
		if err := s.SaveProcedure(ctx, procedure); err != nil {
			return wrapStoreErr(err, "procedure")
		}

		queue.add(events.ProcedureScheduled, now, procedureEventPayload{
			ProcedureID:     procedure.ID,
			CompatibilityID: procedure.CompatibilityID,
			OrganID:         procedure.OrganID,
			ReceiverID:      procedure.ReceiverID,
		})
		scheduled = procedure
		return nil
	})
	if err != nil {
		return nil, err
	}
	return scheduled, nil
}

// StartProcedure marks a scheduled procedure as in progress.
func (c *Coordinator) StartProcedure(ctx context.Context, procedureID id.ProcedureID) (*models.TransplantProcedure, error) {
	var started *models.TransplantProcedure
	err := c.runInTx(ctx, func(ctx context.Context, s store.Store, queue *eventQueue) error {
		procedure, err := s.Procedure(ctx, procedureID)
		if err != nil {
			return wrapStoreErr(err, "procedure")
		}
		now := c.now()
		if err := procedure.Transition(models.ProcedureInProgress, now); err != nil {
			return err
		}
		if procedure.ActualDate == nil {
			procedure.ActualDate = &now
		}
		if err := s.SaveProcedure(ctx, procedure); err != nil {
			return wrapStoreErr(err, "procedure")
		}
		started = procedure
		return nil
	})
	if err != nil {
		return nil, err
	}
	return started, nil
}

// CompleteProcedureParams carries the optional completion details.
type CompleteProcedureParams struct {
	// ActualDate defaults to the clock when nil.
	ActualDate      *time.Time
	DurationMinutes int
}

// CompleteProcedure records the surgery's outcome and cascades the whole
// allocation to its terminal states in one transaction: organ transplanted,
// receiver transplanted, compatibility completed. The outcome is required
// regardless of how the surgery ended.
func (c *Coordinator) CompleteProcedure(ctx context.Context, procedureID id.ProcedureID, outcome models.ProcedureOutcome, params CompleteProcedureParams) (*models.TransplantProcedure, error) {
	var completed *models.TransplantProcedure
	err := c.runInTx(ctx, func(ctx context.Context, s store.Store, queue *eventQueue) error {
		procedure, err := s.Procedure(ctx, procedureID)
		if err != nil {
			return wrapStoreErr(err, "procedure")
		}
		if err := procedure.CanComplete(outcome); err != nil {
			return err
		}

		compat, err := s.Compatibility(ctx, procedure.CompatibilityID)
		if err != nil {
			return wrapStoreErr(err, "compatibility")
		}
		organ, err := s.Organ(ctx, procedure.OrganID)
		if err != nil {
			return wrapStoreErr(err, "organ")
		}
		receiver, err := s.Receiver(ctx, procedure.ReceiverID)
		if err != nil {
			return wrapStoreErr(err, "receiver")
		}

		now := c.now()
		actual := now
		if params.ActualDate != nil {
			actual = *params.ActualDate
		}
		procedure.ApplyCompletion(outcome, actual, params.DurationMinutes, now)
		if err := compat.Transition(models.CompatibilityCompleted, now); err != nil {
			return err
		}
		if err := organ.Transition(models.OrganTransplanted, now); err != nil {
			return err
		}
		if err := receiver.Transition(models.ReceiverTransplanted, now); err != nil {
			return err
		}

		if err := s.SaveProcedure(ctx, procedure); err != nil {
			return wrapStoreErr(err, "procedure")
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

		queue.add(events.ProcedureCompleted, now, procedureEventPayload{
			ProcedureID:     procedure.ID,
			CompatibilityID: procedure.CompatibilityID,
			OrganID:         procedure.OrganID,
			ReceiverID:      procedure.ReceiverID,
			Outcome:         string(outcome),
		})
		completed = procedure
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.metrics.IncProceduresCompleted()
	return completed, nil
}
