package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"allograft/internal/match/models"
	"allograft/internal/match/store"
	"allograft/internal/platform/events"
	id "allograft/pkg/domain"
	dErrors "allograft/pkg/domain-errors"
)

// =============================================================================
// Allocation Coordinator Test Suite
// =============================================================================
// The coordinator carries all cross-entity invariants: single active match
// per organ, atomic cascades, and the confirm compare-and-set. Those are
// exercised here against the in-memory gateway; the postgres gateway repeats
// the race test under a real database in its integration suite.

type CoordinatorSuite struct {
	suite.Suite
	store       *store.InMemory
	sink        *events.Memory
	coordinator *Coordinator
	now         time.Time
}

func TestCoordinatorSuite(t *testing.T) {
	suite.Run(t, new(CoordinatorSuite))
}

func (s *CoordinatorSuite) SetupTest() {
	s.store = store.NewInMemory()
	s.sink = events.NewMemory()
	s.now = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

	var err error
	s.coordinator, err = New(s.store,
		WithPublisher(s.sink),
		WithClock(func() time.Time { return s.now }),
	)
	s.Require().NoError(err)
}

// seedOrgan stores an available kidney from an O- donor aged 45.
func (s *CoordinatorSuite) seedOrgan() *models.Organ {
	organ := &models.Organ{
		ID:        id.NewOrganID(),
		Type:      models.OrganKidney,
		Condition: models.ConditionGood,
		Status:    models.OrganAvailable,
		Donor: models.DonorProfile{
			BloodType:   models.BloodONeg,
			DateOfBirth: s.now.AddDate(-45, 0, 0),
		},
		RetrievalDate:  s.now.Add(-2 * time.Hour),
		ExpirationDate: s.now.Add(24 * time.Hour),
		UpdatedAt:      s.now,
	}
	s.Require().NoError(s.store.SaveOrgan(context.Background(), organ))
	return organ
}

// seedReceiver stores a waiting kidney receiver.
func (s *CoordinatorSuite) seedReceiver(urgency int) *models.Receiver {
	receiver := &models.Receiver{
		ID:            id.NewReceiverID(),
		BloodType:     models.BloodABPos,
		DateOfBirth:   s.now.AddDate(-45, 0, 0),
		UrgencyStatus: urgency,
		NeededOrgan:   models.OrganKidney,
		Status:        models.ReceiverWaiting,
		UpdatedAt:     s.now,
	}
	s.Require().NoError(s.store.SaveReceiver(context.Background(), receiver))
	return receiver
}

func (s *CoordinatorSuite) TestNew() {
	s.Run("nil gateway returns error", func() {
		_, err := New(nil)
		s.Error(err)
		s.Contains(err.Error(), "store gateway is required")
	})

	s.Run("valid gateway returns configured coordinator", func() {
		c, err := New(s.store)
		s.NoError(err)
		s.NotNil(c)
	})
}

// =============================================================================
// Match Creation
// =============================================================================

func (s *CoordinatorSuite) TestCreateCompatibility() {
	ctx := context.Background()

	s.Run("scores the pair and stores a potential match", func() {
		organ := s.seedOrgan()
		receiver := s.seedReceiver(models.UrgencyMost)

		compat, err := s.coordinator.CreateCompatibility(ctx, organ.ID, receiver.ID, CreateCompatibilityParams{})
		s.Require().NoError(err)
		s.Equal(models.CompatibilityPotential, compat.Status)
		// O- donor, no HLA, urgency 1, same age: 40+0+16+10.
		s.Equal(66, compat.Score)
		s.Equal(s.now, compat.MatchDate)

		published := s.sink.Named(events.MatchCreated)
		s.Require().Len(published, 1)
	})

	s.Run("explicit score overrides the engine", func() {
		organ := s.seedOrgan()
		receiver := s.seedReceiver(2)

		score := 85
		compat, err := s.coordinator.CreateCompatibility(ctx, organ.ID, receiver.ID, CreateCompatibilityParams{Score: &score, Notes: "manual review"})
		s.Require().NoError(err)
		s.Equal(85, compat.Score)
		s.Equal("manual review", compat.Notes)
	})

	s.Run("out-of-range explicit score is rejected", func() {
		organ := s.seedOrgan()
		receiver := s.seedReceiver(2)

		score := 101
		_, err := s.coordinator.CreateCompatibility(ctx, organ.ID, receiver.ID, CreateCompatibilityParams{Score: &score})
		s.Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("unknown organ returns not found", func() {
		receiver := s.seedReceiver(2)
		_, err := s.coordinator.CreateCompatibility(ctx, id.NewOrganID(), receiver.ID, CreateCompatibilityParams{})
		s.Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("non-available organ returns invalid state", func() {
		organ := s.seedOrgan()
		receiver := s.seedReceiver(2)
		organ.Status = models.OrganExpired
		s.Require().NoError(s.store.SaveOrgan(ctx, organ))

		_, err := s.coordinator.CreateCompatibility(ctx, organ.ID, receiver.ID, CreateCompatibilityParams{})
		s.Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
	})

	s.Run("non-waiting receiver returns invalid state", func() {
		organ := s.seedOrgan()
		receiver := s.seedReceiver(2)
		receiver.Status = models.ReceiverInactive
		s.Require().NoError(s.store.SaveReceiver(ctx, receiver))

		_, err := s.coordinator.CreateCompatibility(ctx, organ.ID, receiver.ID, CreateCompatibilityParams{})
		s.Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
	})

	s.Run("duplicate active pair returns conflict", func() {
		organ := s.seedOrgan()
		receiver := s.seedReceiver(2)

		_, err := s.coordinator.CreateCompatibility(ctx, organ.ID, receiver.ID, CreateCompatibilityParams{})
		s.Require().NoError(err)

		_, err = s.coordinator.CreateCompatibility(ctx, organ.ID, receiver.ID, CreateCompatibilityParams{})
		s.Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("rejected pair can be re-matched", func() {
		organ := s.seedOrgan()
		receiver := s.seedReceiver(2)

		first, err := s.coordinator.CreateCompatibility(ctx, organ.ID, receiver.ID, CreateCompatibilityParams{})
		s.Require().NoError(err)
		_, err = s.coordinator.Reject(ctx, first.ID)
		s.Require().NoError(err)

		second, err := s.coordinator.CreateCompatibility(ctx, organ.ID, receiver.ID, CreateCompatibilityParams{})
		s.NoError(err)
		s.NotEqual(first.ID, second.ID)
	})
}

// =============================================================================
// Candidate Search
// =============================================================================

func (s *CoordinatorSuite) TestFindCandidatesForOrgan() {
	ctx := context.Background()

	s.Run("returns waiting receivers of the needed type ordered by score", func() {
		organ := s.seedOrgan()
		urgent := s.seedReceiver(models.UrgencyMost)
		relaxed := s.seedReceiver(models.UrgencyLeast)

		// A liver receiver must not appear for a kidney.
		liver := s.seedReceiver(models.UrgencyMost)
		liver.NeededOrgan = models.OrganLiver
		s.Require().NoError(s.store.SaveReceiver(ctx, liver))

		candidates, err := s.coordinator.FindCandidatesForOrgan(ctx, organ.ID)
		s.Require().NoError(err)
		s.Require().Len(candidates, 2)
		s.Equal(urgent.ID, candidates[0].Receiver.ID)
		s.Equal(relaxed.ID, candidates[1].Receiver.ID)
		s.Greater(candidates[0].Score, candidates[1].Score)
	})

	s.Run("creates no compatibility records", func() {
		organ := s.seedOrgan()
		receiver := s.seedReceiver(2)

		_, err := s.coordinator.FindCandidatesForOrgan(ctx, organ.ID)
		s.Require().NoError(err)

		existing, err := s.store.ActiveCompatibilityForPair(ctx, organ.ID, receiver.ID)
		s.NoError(err)
		s.Nil(existing)
	})

	s.Run("non-available organ returns invalid state", func() {
		organ := s.seedOrgan()
		organ.Status = models.OrganMatched
		s.Require().NoError(s.store.SaveOrgan(ctx, organ))

		_, err := s.coordinator.FindCandidatesForOrgan(ctx, organ.ID)
		s.Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
	})
}

// =============================================================================
// Confirm / Reject
// =============================================================================

func (s *CoordinatorSuite) TestConfirm() {
	ctx := context.Background()

	s.Run("cascades compatibility, organ, and receiver together", func() {
		organ := s.seedOrgan()
		receiver := s.seedReceiver(2)
		compat, err := s.coordinator.CreateCompatibility(ctx, organ.ID, receiver.ID, CreateCompatibilityParams{})
		s.Require().NoError(err)

		confirmed, err := s.coordinator.Confirm(ctx, compat.ID)
		s.Require().NoError(err)
		s.Equal(models.CompatibilityConfirmed, confirmed.Status)

		storedOrgan, err := s.store.Organ(ctx, organ.ID)
		s.Require().NoError(err)
		s.Equal(models.OrganMatched, storedOrgan.Status)

		storedReceiver, err := s.store.Receiver(ctx, receiver.ID)
		s.Require().NoError(err)
		s.Equal(models.ReceiverMatched, storedReceiver.Status)

		s.Len(s.sink.Named(events.MatchConfirmed), 1)
	})

	s.Run("second confirm for the same organ returns conflict", func() {
		organ := s.seedOrgan()
		first := s.seedReceiver(1)
		second := s.seedReceiver(2)

		compatA, err := s.coordinator.CreateCompatibility(ctx, organ.ID, first.ID, CreateCompatibilityParams{})
		s.Require().NoError(err)
		compatB, err := s.coordinator.CreateCompatibility(ctx, organ.ID, second.ID, CreateCompatibilityParams{})
		s.Require().NoError(err)

		_, err = s.coordinator.Confirm(ctx, compatA.ID)
		s.Require().NoError(err)

		_, err = s.coordinator.Confirm(ctx, compatB.ID)
		s.Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))

		// The loser stays potential and the second receiver stays waiting.
		storedB, err := s.store.Compatibility(ctx, compatB.ID)
		s.Require().NoError(err)
		s.Equal(models.CompatibilityPotential, storedB.Status)

		storedReceiver, err := s.store.Receiver(ctx, second.ID)
		s.Require().NoError(err)
		s.Equal(models.ReceiverWaiting, storedReceiver.Status)
	})

	s.Run("confirming a rejected match returns invalid state", func() {
		organ := s.seedOrgan()
		receiver := s.seedReceiver(2)
		compat, err := s.coordinator.CreateCompatibility(ctx, organ.ID, receiver.ID, CreateCompatibilityParams{})
		s.Require().NoError(err)
		_, err = s.coordinator.Reject(ctx, compat.ID)
		s.Require().NoError(err)

		_, err = s.coordinator.Confirm(ctx, compat.ID)
		s.Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
	})

	s.Run("failed cascade leaves no partial state", func() {
		organ := s.seedOrgan()
		receiver := s.seedReceiver(2)
		compat, err := s.coordinator.CreateCompatibility(ctx, organ.ID, receiver.ID, CreateCompatibilityParams{})
		s.Require().NoError(err)

		// Force the receiver out from under the potential match.
		receiver.Status = models.ReceiverInactive
		s.Require().NoError(s.store.SaveReceiver(ctx, receiver))

		_, err = s.coordinator.Confirm(ctx, compat.ID)
		s.Require().Error(err)

		storedCompat, err := s.store.Compatibility(ctx, compat.ID)
		s.Require().NoError(err)
		s.Equal(models.CompatibilityPotential, storedCompat.Status)

		storedOrgan, err := s.store.Organ(ctx, organ.ID)
		s.Require().NoError(err)
		s.Equal(models.OrganAvailable, storedOrgan.Status)
	})
}

// TestConcurrentConfirmRace drives many goroutines at two potential matches
// sharing one organ: exactly one confirmation may win.
func (s *CoordinatorSuite) TestConcurrentConfirmRace() {
	ctx := context.Background()
	organ := s.seedOrgan()

	compatIDs := make([]id.CompatibilityID, 0, 8)
	for i := 0; i < cap(compatIDs); i++ {
		receiver := s.seedReceiver(1 + i%5)
		compat, err := s.coordinator.CreateCompatibility(ctx, organ.ID, receiver.ID, CreateCompatibilityParams{})
		s.Require().NoError(err)
		compatIDs = append(compatIDs, compat.ID)
	}

	var wg sync.WaitGroup
	var wins, conflicts atomic.Int32

	for _, compatID := range compatIDs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.coordinator.Confirm(ctx, compatID)
			switch {
			case err == nil:
				wins.Add(1)
			case dErrors.HasCode(err, dErrors.CodeConflict):
				conflicts.Add(1)
			default:
				s.Failf("unexpected confirm error", "%v", err)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), wins.Load())
	s.Equal(int32(len(compatIDs)-1), conflicts.Load())

	storedOrgan, err := s.store.Organ(ctx, organ.ID)
	s.Require().NoError(err)
	s.Equal(models.OrganMatched, storedOrgan.Status)

	confirmed, err := s.store.ConfirmedCompatibilityForOrgan(ctx, organ.ID)
	s.Require().NoError(err)
	s.Require().NotNil(confirmed)
	s.Len(s.sink.Named(events.MatchConfirmed), 1)
}

func (s *CoordinatorSuite) TestReject() {
	ctx := context.Background()
	organ := s.seedOrgan()
	receiver := s.seedReceiver(2)
	compat, err := s.coordinator.CreateCompatibility(ctx, organ.ID, receiver.ID, CreateCompatibilityParams{})
	s.Require().NoError(err)

	rejected, err := s.coordinator.Reject(ctx, compat.ID)
	s.Require().NoError(err)
	s.Equal(models.CompatibilityRejected, rejected.Status)

	// No cascade: both parties stay matchable.
	storedOrgan, err := s.store.Organ(ctx, organ.ID)
	s.Require().NoError(err)
	s.Equal(models.OrganAvailable, storedOrgan.Status)

	storedReceiver, err := s.store.Receiver(ctx, receiver.ID)
	s.Require().NoError(err)
	s.Equal(models.ReceiverWaiting, storedReceiver.Status)

	s.Len(s.sink.Named(events.MatchRejected), 1)
}

// =============================================================================
// Transport
// =============================================================================

func (s *CoordinatorSuite) transportParams(organID id.OrganID) ScheduleTransportParams {
	return ScheduleTransportParams{
		OrganID:                organID,
		OriginInstitution:      "General Hospital",
		DestinationInstitution: "University Medical Center",
		DepartureTime:          s.now.Add(time.Hour),
		EstimatedArrivalTime:   s.now.Add(3 * time.Hour),
	}
}

func (s *CoordinatorSuite) TestScheduleTransport() {
	ctx := context.Background()

	s.Run("creates a scheduled leg for an available organ", func() {
		organ := s.seedOrgan()
		transport, err := s.coordinator.ScheduleTransport(ctx, s.transportParams(organ.ID))
		s.Require().NoError(err)
		s.Equal(models.TransportScheduled, transport.Status)
		s.Nil(transport.ActualArrivalTime)
		s.Len(s.sink.Named(events.TransportScheduled), 1)
	})

	s.Run("matched organ can be scheduled", func() {
		organ := s.seedOrgan()
		organ.Status = models.OrganMatched
		s.Require().NoError(s.store.SaveOrgan(ctx, organ))

		_, err := s.coordinator.ScheduleTransport(ctx, s.transportParams(organ.ID))
		s.NoError(err)
	})

	s.Run("delivered organ cannot be scheduled", func() {
		organ := s.seedOrgan()
		organ.Status = models.OrganDelivered
		s.Require().NoError(s.store.SaveOrgan(ctx, organ))

		_, err := s.coordinator.ScheduleTransport(ctx, s.transportParams(organ.ID))
		s.Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
	})

	s.Run("missing institutions are rejected", func() {
		organ := s.seedOrgan()
		params := s.transportParams(organ.ID)
		params.DestinationInstitution = ""
		_, err := s.coordinator.ScheduleTransport(ctx, params)
		s.Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("arrival before departure is rejected", func() {
		organ := s.seedOrgan()
		params := s.transportParams(organ.ID)
		params.EstimatedArrivalTime = params.DepartureTime.Add(-time.Minute)
		_, err := s.coordinator.ScheduleTransport(ctx, params)
		s.Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func (s *CoordinatorSuite) TestAdvanceTransport() {
	ctx := context.Background()

	s.Run("departure cascades the organ to in-transit", func() {
		organ := s.seedOrgan()
		transport, err := s.coordinator.ScheduleTransport(ctx, s.transportParams(organ.ID))
		s.Require().NoError(err)

		advanced, err := s.coordinator.AdvanceTransport(ctx, transport.ID, models.TransportInTransit, AdvanceTransportParams{})
		s.Require().NoError(err)
		s.Equal(models.TransportInTransit, advanced.Status)

		storedOrgan, err := s.store.Organ(ctx, organ.ID)
		s.Require().NoError(err)
		s.Equal(models.OrganInTransit, storedOrgan.Status)
	})

	s.Run("delivery cascades the organ and stamps arrival once", func() {
		organ := s.seedOrgan()
		transport, err := s.coordinator.ScheduleTransport(ctx, s.transportParams(organ.ID))
		s.Require().NoError(err)
		_, err = s.coordinator.AdvanceTransport(ctx, transport.ID, models.TransportInTransit, AdvanceTransportParams{})
		s.Require().NoError(err)

		arrived := s.now.Add(2 * time.Hour)
		delivered, err := s.coordinator.AdvanceTransport(ctx, transport.ID, models.TransportDelivered, AdvanceTransportParams{ActualArrivalTime: &arrived})
		s.Require().NoError(err)
		s.Require().NotNil(delivered.ActualArrivalTime)
		s.Equal(arrived, *delivered.ActualArrivalTime)

		storedOrgan, err := s.store.Organ(ctx, organ.ID)
		s.Require().NoError(err)
		s.Equal(models.OrganDelivered, storedOrgan.Status)
	})

	s.Run("delay touches only the leg", func() {
		organ := s.seedOrgan()
		transport, err := s.coordinator.ScheduleTransport(ctx, s.transportParams(organ.ID))
		s.Require().NoError(err)
		_, err = s.coordinator.AdvanceTransport(ctx, transport.ID, models.TransportInTransit, AdvanceTransportParams{})
		s.Require().NoError(err)

		delayed, err := s.coordinator.AdvanceTransport(ctx, transport.ID, models.TransportDelayed, AdvanceTransportParams{})
		s.Require().NoError(err)
		s.Equal(models.TransportDelayed, delayed.Status)

		storedOrgan, err := s.store.Organ(ctx, organ.ID)
		s.Require().NoError(err)
		s.Equal(models.OrganInTransit, storedOrgan.Status)
	})

	s.Run("illegal leg transition returns invalid state", func() {
		organ := s.seedOrgan()
		transport, err := s.coordinator.ScheduleTransport(ctx, s.transportParams(organ.ID))
		s.Require().NoError(err)

		_, err = s.coordinator.AdvanceTransport(ctx, transport.ID, models.TransportDelivered, AdvanceTransportParams{})
		s.Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
	})
}

// =============================================================================
// Procedures
// =============================================================================

// confirmMatch is a helper building an organ-receiver pair up to a confirmed
// compatibility.
func (s *CoordinatorSuite) confirmMatch() (*models.Organ, *models.Receiver, *models.Compatibility) {
	ctx := context.Background()
	organ := s.seedOrgan()
	receiver := s.seedReceiver(2)
	compat, err := s.coordinator.CreateCompatibility(ctx, organ.ID, receiver.ID, CreateCompatibilityParams{})
	s.Require().NoError(err)
	confirmed, err := s.coordinator.Confirm(ctx, compat.ID)
	s.Require().NoError(err)
	return organ, receiver, confirmed
}

func (s *CoordinatorSuite) TestScheduleProcedure() {
	ctx := context.Background()

	s.Run("creates the procedure for a confirmed match", func() {
		_, _, compat := s.confirmMatch()
		procedure, err := s.coordinator.ScheduleProcedure(ctx, compat.ID, s.now.Add(48*time.Hour))
		s.Require().NoError(err)
		s.Equal(models.ProcedureScheduled, procedure.Status)
		s.Equal(compat.OrganID, procedure.OrganID)
		s.Equal(compat.ReceiverID, procedure.ReceiverID)
		s.Len(s.sink.Named(events.ProcedureScheduled), 1)
	})

	s.Run("potential match cannot get a procedure", func() {
		organ := s.seedOrgan()
		receiver := s.seedReceiver(2)
		compat, err := s.coordinator.CreateCompatibility(ctx, organ.ID, receiver.ID, CreateCompatibilityParams{})
		s.Require().NoError(err)

		_, err = s.coordinator.ScheduleProcedure(ctx, compat.ID, s.now)
		s.Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
	})

	s.Run("second procedure for the same match returns conflict", func() {
		_, _, compat := s.confirmMatch()
		_, err := s.coordinator.ScheduleProcedure(ctx, compat.ID, s.now.Add(48*time.Hour))
		s.Require().NoError(err)

		_, err = s.coordinator.ScheduleProcedure(ctx, compat.ID, s.now.Add(72*time.Hour))
		s.Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})
}

func (s *CoordinatorSuite) TestCompleteProcedure() {
	ctx := context.Background()

	s.Run("cascades organ, receiver, and compatibility to terminal states", func() {
		organ, receiver, compat := s.confirmMatch()
		procedure, err := s.coordinator.ScheduleProcedure(ctx, compat.ID, s.now.Add(48*time.Hour))
		s.Require().NoError(err)
		_, err = s.coordinator.StartProcedure(ctx, procedure.ID)
		s.Require().NoError(err)

		completed, err := s.coordinator.CompleteProcedure(ctx, procedure.ID, models.OutcomeSuccessful, CompleteProcedureParams{DurationMinutes: 310})
		s.Require().NoError(err)
		s.Equal(models.ProcedureCompleted, completed.Status)
		s.Equal(models.OutcomeSuccessful, completed.Outcome)
		s.Equal(310, completed.DurationMinutes)

		storedOrgan, err := s.store.Organ(ctx, organ.ID)
		s.Require().NoError(err)
		s.Equal(models.OrganTransplanted, storedOrgan.Status)

		storedReceiver, err := s.store.Receiver(ctx, receiver.ID)
		s.Require().NoError(err)
		s.Equal(models.ReceiverTransplanted, storedReceiver.Status)

		storedCompat, err := s.store.Compatibility(ctx, compat.ID)
		s.Require().NoError(err)
		s.Equal(models.CompatibilityCompleted, storedCompat.Status)

		s.Len(s.sink.Named(events.ProcedureCompleted), 1)
	})

	s.Run("missing outcome returns validation error", func() {
		_, _, compat := s.confirmMatch()
		procedure, err := s.coordinator.ScheduleProcedure(ctx, compat.ID, s.now)
		s.Require().NoError(err)

		_, err = s.coordinator.CompleteProcedure(ctx, procedure.ID, "", CompleteProcedureParams{})
		s.Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("unknown outcome returns validation error", func() {
		_, _, compat := s.confirmMatch()
		procedure, err := s.coordinator.ScheduleProcedure(ctx, compat.ID, s.now)
		s.Require().NoError(err)

		_, err = s.coordinator.CompleteProcedure(ctx, procedure.ID, "partial", CompleteProcedureParams{})
		s.Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("failed outcome still completes the workflow", func() {
		organ, _, compat := s.confirmMatch()
		procedure, err := s.coordinator.ScheduleProcedure(ctx, compat.ID, s.now)
		s.Require().NoError(err)

		completed, err := s.coordinator.CompleteProcedure(ctx, procedure.ID, models.OutcomeFailed, CompleteProcedureParams{})
		s.Require().NoError(err)
		s.Equal(models.OutcomeFailed, completed.Outcome)

		storedOrgan, err := s.store.Organ(ctx, organ.ID)
		s.Require().NoError(err)
		s.Equal(models.OrganTransplanted, storedOrgan.Status)
	})
}

// =============================================================================
// Lifecycle
// =============================================================================

func (s *CoordinatorSuite) TestExpireOrgan() {
	ctx := context.Background()

	s.Run("expires the organ and closes its open potentials", func() {
		organ := s.seedOrgan()
		first := s.seedReceiver(1)
		second := s.seedReceiver(2)
		compatA, err := s.coordinator.CreateCompatibility(ctx, organ.ID, first.ID, CreateCompatibilityParams{})
		s.Require().NoError(err)
		compatB, err := s.coordinator.CreateCompatibility(ctx, organ.ID, second.ID, CreateCompatibilityParams{})
		s.Require().NoError(err)

		expired, err := s.coordinator.ExpireOrgan(ctx, organ.ID)
		s.Require().NoError(err)
		s.Equal(models.OrganExpired, expired.Status)

		for _, compatID := range []id.CompatibilityID{compatA.ID, compatB.ID} {
			stored, err := s.store.Compatibility(ctx, compatID)
			s.Require().NoError(err)
			s.Equal(models.CompatibilityRejected, stored.Status)
		}
		s.Len(s.sink.Named(events.OrganExpired), 1)
		s.Len(s.sink.Named(events.MatchRejected), 2)
	})

	s.Run("transplanted organ cannot expire", func() {
		organ := s.seedOrgan()
		organ.Status = models.OrganTransplanted
		s.Require().NoError(s.store.SaveOrgan(ctx, organ))

		_, err := s.coordinator.ExpireOrgan(ctx, organ.ID)
		s.Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
	})
}

func (s *CoordinatorSuite) TestMarkReceiverDeceased() {
	ctx := context.Background()

	organ := s.seedOrgan()
	receiver := s.seedReceiver(2)
	compat, err := s.coordinator.CreateCompatibility(ctx, organ.ID, receiver.ID, CreateCompatibilityParams{})
	s.Require().NoError(err)

	deceased, err := s.coordinator.MarkReceiverDeceased(ctx, receiver.ID)
	s.Require().NoError(err)
	s.Equal(models.ReceiverDeceased, deceased.Status)

	stored, err := s.store.Compatibility(ctx, compat.ID)
	s.Require().NoError(err)
	s.Equal(models.CompatibilityRejected, stored.Status)

	// The organ is untouched and free for other receivers.
	storedOrgan, err := s.store.Organ(ctx, organ.ID)
	s.Require().NoError(err)
	s.Equal(models.OrganAvailable, storedOrgan.Status)

	s.Len(s.sink.Named(events.ReceiverDeceased), 1)
}

func (s *CoordinatorSuite) TestSweepExpiredOrgans() {
	ctx := context.Background()

	overdue := s.seedOrgan()
	overdue.ExpirationDate = s.now.Add(-time.Hour)
	s.Require().NoError(s.store.SaveOrgan(ctx, overdue))

	fresh := s.seedOrgan()

	expired, err := s.coordinator.SweepExpiredOrgans(ctx)
	s.Require().NoError(err)
	s.Equal(1, expired)

	storedOverdue, err := s.store.Organ(ctx, overdue.ID)
	s.Require().NoError(err)
	s.Equal(models.OrganExpired, storedOverdue.Status)

	storedFresh, err := s.store.Organ(ctx, fresh.ID)
	s.Require().NoError(err)
	s.Equal(models.OrganAvailable, storedFresh.Status)
}

// =============================================================================
// Event Delivery
// =============================================================================

func (s *CoordinatorSuite) TestPublishFailureDoesNotFailOperation() {
	ctx := context.Background()

	failing := events.PublisherFunc(func(context.Context, events.Event) error {
		return fmt.Errorf("broker unreachable")
	})
	coordinator, err := New(s.store,
		WithPublisher(failing),
		WithClock(func() time.Time { return s.now }),
	)
	s.Require().NoError(err)

	organ := s.seedOrgan()
	receiver := s.seedReceiver(2)

	compat, err := coordinator.CreateCompatibility(ctx, organ.ID, receiver.ID, CreateCompatibilityParams{})
	s.Require().NoError(err)

	// The committed state survives the failed publish.
	stored, err := s.store.Compatibility(ctx, compat.ID)
	s.Require().NoError(err)
	s.Equal(models.CompatibilityPotential, stored.Status)
}

// =============================================================================
// End to End
// =============================================================================

// TestKidneyAllocationEndToEnd walks one allocation through its whole life:
// match, confirm, transport, procedure, completion.
func (s *CoordinatorSuite) TestKidneyAllocationEndToEnd() {
	ctx := context.Background()

	organ := s.seedOrgan()
	receiver := s.seedReceiver(2)
	receiver.BloodType = models.BloodOPos
	s.Require().NoError(s.store.SaveReceiver(ctx, receiver))

	compat, err := s.coordinator.CreateCompatibility(ctx, organ.ID, receiver.ID, CreateCompatibilityParams{})
	s.Require().NoError(err)
	s.Equal(models.CompatibilityPotential, compat.Status)
	// 40 blood + 0 HLA + 12 urgency + 10 age.
	s.Equal(62, compat.Score)

	_, err = s.coordinator.Confirm(ctx, compat.ID)
	s.Require().NoError(err)

	transport, err := s.coordinator.ScheduleTransport(ctx, s.transportParams(organ.ID))
	s.Require().NoError(err)
	_, err = s.coordinator.AdvanceTransport(ctx, transport.ID, models.TransportInTransit, AdvanceTransportParams{})
	s.Require().NoError(err)
	_, err = s.coordinator.AdvanceTransport(ctx, transport.ID, models.TransportDelivered, AdvanceTransportParams{})
	s.Require().NoError(err)

	procedure, err := s.coordinator.ScheduleProcedure(ctx, compat.ID, s.now.Add(12*time.Hour))
	s.Require().NoError(err)
	_, err = s.coordinator.CompleteProcedure(ctx, procedure.ID, models.OutcomeSuccessful, CompleteProcedureParams{})
	s.Require().NoError(err)

	storedOrgan, err := s.store.Organ(ctx, organ.ID)
	s.Require().NoError(err)
	s.Equal(models.OrganTransplanted, storedOrgan.Status)

	storedReceiver, err := s.store.Receiver(ctx, receiver.ID)
	s.Require().NoError(err)
	s.Equal(models.ReceiverTransplanted, storedReceiver.Status)

	storedCompat, err := s.store.Compatibility(ctx, compat.ID)
	s.Require().NoError(err)
	s.Equal(models.CompatibilityCompleted, storedCompat.Status)

	names := make([]string, 0)
	for _, event := range s.sink.Events() {
		names = append(names, event.Name)
	}
	s.Equal([]string{
		events.MatchCreated,
		events.MatchConfirmed,
		events.TransportScheduled,
		events.TransportStatusChanged,
		events.TransportStatusChanged,
		events.ProcedureScheduled,
		events.ProcedureCompleted,
	}, names)
}
