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

// ScheduleTransportParams describes a new transport leg. Both institutions
// are required; the estimated arrival must not precede departure.
type ScheduleTransportParams struct {
	OrganID                id.OrganID
	OriginInstitution      string
	DestinationInstitution string
	DepartureTime          time.Time
	EstimatedArrivalTime   time.Time
}

func (p ScheduleTransportParams) validate() error {
	if p.OrganID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "organ id is required")
	}
	if p.OriginInstitution == "" {
		return dErrors.New(dErrors.CodeValidation, "origin institution is required")
	}
	if p.DestinationInstitution == "" {
		return dErrors.New(dErrors.CodeValidation, "destination institution is required")
	}
	if p.EstimatedArrivalTime.Before(p.DepartureTime) {
		return dErrors.New(dErrors.CodeValidation, "estimated arrival precedes departure")
	}
	return nil
}

// ScheduleTransport creates a scheduled transport leg for an organ that is
// still movable (available or matched). The organ's own status does not
// change until the leg departs.
func (c *Coordinator) ScheduleTransport(ctx context.Context, params ScheduleTransportParams) (*models.Transportation, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}
	var scheduled *models.Transportation
	err := c.runInTx(ctx, func(ctx context.Context, s store.Store, queue *eventQueue) error {
		organ, err := s.Organ(ctx, params.OrganID)
		if err != nil {
			return wrapStoreErr(err, "organ")
		}
		if organ.Status != models.OrganAvailable && organ.Status != models.OrganMatched {
			return dErrors.Newf(dErrors.CodeInvalidState,
				"organ %s is %s and cannot be scheduled for transport", organ.ID, organ.Status)
		}

		now := c.now()
		transport := &models.Transportation{
			ID:                     id.NewTransportationID(),
			OrganID:                params.OrganID,
			OriginInstitution:      params.OriginInstitution,
			DestinationInstitution: params.DestinationInstitution,
			DepartureTime:          params.DepartureTime,
			EstimatedArrivalTime:   params.EstimatedArrivalTime,
			Status:                 models.TransportScheduled,
			UpdatedAt:              now,
		}
		if err := s.SaveTransportation(ctx, transport); err != nil {
			return wrapStoreErr(err, "transportation")
		}

		queue.add(events.TransportScheduled, now, transportEventPayload{
			TransportationID: transport.ID,
			OrganID:          transport.OrganID,
			FromStatus:       "",
			ToStatus:         string(transport.Status),
		})
		scheduled = transport
		return nil
	})
	if err != nil {
		return nil, err
	}
	return scheduled, nil
}

// AdvanceTransportParams carries the optional stamps for a status change.
type AdvanceTransportParams struct {
	// ActualArrivalTime overrides the clock when moving to delivered. Ignored
	// for other targets, and ignored when an arrival is already stamped.
	ActualArrivalTime *time.Time
}

// AdvanceTransport moves a transport leg to the next status and cascades the
// organ in the same transaction: departure puts the organ in transit,
// delivery marks it delivered and stamps the actual arrival time once.
// Delays and cancellations touch only the leg.
func (c *Coordinator) AdvanceTransport(ctx context.Context, transportID id.TransportationID, next models.TransportationStatus, params AdvanceTransportParams) (*models.Transportation, error) {
	var advanced *models.Transportation
	err := c.runInTx(ctx, func(ctx context.Context, s store.Store, queue *eventQueue) error {
		transport, err := s.Transportation(ctx, transportID)
		if err != nil {
			return wrapStoreErr(err, "transportation")
		}
		from := transport.Status

		now := c.now()
		if err := transport.Transition(next, now); err != nil {
			return err
		}

		switch next {
		case models.TransportInTransit:
			organ, err := s.Organ(ctx, transport.OrganID)
			if err != nil {
				return wrapStoreErr(err, "organ")
			}
			if err := organ.Transition(models.OrganInTransit, now); err != nil {
				return err
			}
			if err := s.SaveOrgan(ctx, organ); err != nil {
				return wrapStoreErr(err, "organ")
			}
		case models.TransportDelivered:
			arrived := now
			if params.ActualArrivalTime != nil {
				arrived = *params.ActualArrivalTime
			}
			transport.StampArrival(arrived)

			organ, err := s.Organ(ctx, transport.OrganID)
			if err != nil {
				return wrapStoreErr(err, "organ")
			}
			if err := organ.Transition(models.OrganDelivered, now); err != nil {
				return err
			}
			if err := s.SaveOrgan(ctx, organ); err != nil {
				return wrapStoreErr(err, "organ")
			}
		}

		if err := s.SaveTransportation(ctx, transport); err != nil {
			return wrapStoreErr(err, "transportation")
		}

		queue.add(events.TransportStatusChanged, now, transportEventPayload{
			TransportationID: transport.ID,
			OrganID:          transport.OrganID,
			FromStatus:       string(from),
			ToStatus:         string(next),
		})
		advanced = transport
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.metrics.IncTransportsAdvanced()
	return advanced, nil
}
