// Package booking is the appointment lifecycle: booking, completion and
// cancellation with their guards, loyalty side effects and events.
package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	otelx "github.com/groombook/groombook/libs/otel"
	"github.com/groombook/groombook/services/booking-service/internal/assignment"
	"github.com/groombook/groombook/services/booking-service/internal/metrics"
	"github.com/groombook/groombook/services/booking-service/internal/model"
	"github.com/groombook/groombook/services/booking-service/internal/outbox"
	"github.com/groombook/groombook/services/booking-service/internal/policy"
	"github.com/groombook/groombook/services/booking-service/internal/storage"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// CancellationNotice is how far ahead of the start an appointment must be cancelled.
const CancellationNotice = 24 * time.Hour

type Config struct {
	Store   storage.Store
	Rules   policy.Rules
	Logger  *slog.Logger
	Hooks   *Hooks           // optional
	Metrics *metrics.Metrics // optional
	Now     func() time.Time // defaults to time.Now
}

type Service struct {
	store   storage.Store
	rules   policy.Rules
	assign  assignment.Policy
	logger  *slog.Logger
	hooks   *Hooks
	metrics *metrics.Metrics
	now     func() time.Time
	tracer  trace.Tracer
}

func NewService(cfg Config) *Service {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store: cfg.Store,
		rules: cfg.Rules,
		assign: assignment.Policy{
			Strict:         cfg.Rules.StrictGroomer,
			PreventOverlap: cfg.Rules.PreventOverlap,
		},
		logger:  logger,
		hooks:   cfg.Hooks,
		metrics: cfg.Metrics,
		now:     now,
		tracer:  otelx.Tracer("booking"),
	}
}

// Get returns one appointment. Customers may only read their own.
func (s *Service) Get(ctx context.Context, actor model.Actor, id string) (model.Appointment, error) {
	appt, err := s.store.GetAppointment(ctx, id)
	if errors.Is(err, model.ErrNotFound) {
		return model.Appointment{}, notFound("appointment", id)
	}
	if err != nil {
		return model.Appointment{}, fmt.Errorf("get appointment: %w", err)
	}
	if actor.Role == model.RoleCustomer && appt.CustomerID != actor.ID {
		return model.Appointment{}, ownership(GuardCaller, "appointment %s belongs to another customer", id)
	}
	return appt, nil
}

// finish records the outcome of an operation on its span and metrics.
func (s *Service) finish(span trace.Span, op string, err error) {
	defer span.End()
	if err == nil {
		return
	}
	if rej, ok := AsRejection(err); ok {
		s.metrics.IncRejection(op, string(rej.Kind))
		span.SetAttributes(
			attribute.String("booking.rejection.kind", string(rej.Kind)),
			attribute.String("booking.rejection.guard", rej.Guard),
		)
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func (s *Service) recordEvent(ctx context.Context, tx storage.Tx, topic string, appt model.Appointment, balance *int, at time.Time) error {
	payload := outbox.NewAppointmentPayload(appt, at)
	if balance != nil {
		payload = payload.WithLoyaltyBalance(*balance)
	}
	evt, err := outbox.NewAppointmentEvent(topic, payload)
	if err != nil {
		return err
	}
	if err := tx.RecordEvent(ctx, evt); err != nil {
		return fmt.Errorf("record %s: %w", topic, err)
	}
	return nil
}
