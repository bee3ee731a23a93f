// Package service implements the allocation coordinator: the workflow engine
// that creates and confirms matches, tracks transport, and completes
// procedures while keeping organ, receiver, compatibility, transportation,
// and procedure state mutually consistent.
//
// Every cascading operation runs inside one store transaction. The organ row
// is the serialization point: its status is re-checked inside the transaction
// so two operators racing to confirm the same organ resolve to exactly one
// success and one conflict. Domain events are collected during the
// transaction and published only after commit; publish failures are logged,
// never surfaced.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"allograft/internal/match/store"
	"allograft/internal/platform/events"
	"allograft/internal/platform/metrics"
	dErrors "allograft/pkg/domain-errors"
	"allograft/pkg/platform/sentinel"
)

// Coordinator orchestrates the allocation workflow.
type Coordinator struct {
	gateway   store.Gateway
	publisher events.Publisher
	logger    *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger for event-publish failures and sweeps.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// WithPublisher sets the outbound event publisher.
func WithPublisher(publisher events.Publisher) Option {
	return func(c *Coordinator) {
		c.publisher = publisher
	}
}

// WithMetrics wires Prometheus instruments.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// WithClock overrides the time source. Tests use it to pin scoring and
// timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.now = now
	}
}

// New constructs a Coordinator over the given persistence gateway.
func New(gateway store.Gateway, opts ...Option) (*Coordinator, error) {
	if gateway == nil {
		return nil, fmt.Errorf("store gateway is required")
	}
	c := &Coordinator{
		gateway: gateway,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// runInTx executes fn in one transaction and publishes the events fn queued
// only after the transaction commits.
func (c *Coordinator) runInTx(ctx context.Context, fn func(ctx context.Context, s store.Store, queue *eventQueue) error) error {
	queue := &eventQueue{}
	err := c.gateway.RunInTx(ctx, func(txCtx context.Context, s store.Store) error {
		return fn(txCtx, s, queue)
	})
	if err != nil {
		return wrapStoreErr(err, "allocation record")
	}
	c.publish(ctx, queue.events)
	return nil
}

// publish delivers the queued events. Failures are logged and swallowed: the
// state transition has already committed and must not be rolled back or
// reported failed because notification lagged.
func (c *Coordinator) publish(ctx context.Context, queued []events.Event) {
	if c.publisher == nil {
		return
	}
	for _, event := range queued {
		if err := c.publisher.Publish(ctx, event); err != nil {
			c.logger.Warn("event publish failed",
				"event", event.Name,
				"error", err,
			)
		}
	}
}

// eventQueue accumulates events during a transaction for post-commit
// publication.
type eventQueue struct {
	events []events.Event
}

func (q *eventQueue) add(name string, occurredAt time.Time, payload any) {
	q.events = append(q.events, events.Event{Name: name, OccurredAt: occurredAt, Payload: payload})
}

// wrapStoreErr translates store sentinels into coded domain errors so callers
// can branch on the code. Transient infra failures become retryable
// CodeUnavailable; everything unexpected is CodeInternal.
func wrapStoreErr(err error, entity string) error {
	if err == nil {
		return nil
	}
	// Already-coded errors pass through so the original code survives
	// re-wrapping at outer layers.
	var coded *dErrors.Error
	if errors.As(err, &coded) {
		return err
	}
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.Wrap(err, dErrors.CodeNotFound, entity+" not found")
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.Wrap(err, dErrors.CodeConflict, entity+" conflicts with an existing record")
	case errors.Is(err, sentinel.ErrInvalidState):
		return dErrors.Wrap(err, dErrors.CodeInvalidState, entity+" is in an invalid state")
	case errors.Is(err, sentinel.ErrUnavailable):
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "storage temporarily unavailable")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to access "+entity)
	}
}
