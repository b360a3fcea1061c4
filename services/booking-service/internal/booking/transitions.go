package booking

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/groombook/groombook/services/booking-service/internal/loyalty"
	"github.com/groombook/groombook/services/booking-service/internal/model"
	"github.com/groombook/groombook/services/booking-service/internal/outbox"
	"github.com/groombook/groombook/services/booking-service/internal/storage"
	"go.opentelemetry.io/otel/attribute"
)

// Complete moves a Confirmed appointment to Completed. Only the assigned
// groomer may complete it, on the scheduled day, once the service duration
// has elapsed.
func (s *Service) Complete(ctx context.Context, actor model.Actor, id string) (appt model.Appointment, err error) {
	ctx, span := s.tracer.Start(ctx, "booking.Complete")
	defer func() { s.finish(span, "complete", err) }()
	span.SetAttributes(attribute.String("booking.appointment_id", id))

	err = s.store.InTx(ctx, func(tx storage.Tx) error {
		current, err := s.lockAppointment(ctx, tx, id)
		if err != nil {
			return err
		}
		now := s.now()
		if rej := s.completionGuard(actor, current, now); rej != nil {
			return rej
		}

		current.Status = model.StatusCompleted
		current.CompletedAt = &now
		if err := tx.UpdateAppointment(ctx, current); err != nil {
			return fmt.Errorf("update appointment: %w", err)
		}
		if err := s.recordEvent(ctx, tx, outbox.TopicAppointmentCompleted, current, nil, now); err != nil {
			return err
		}
		appt = current
		return nil
	})
	if err != nil {
		return model.Appointment{}, err
	}

	s.metrics.IncTransition(string(model.StatusCompleted))
	s.logger.Info("appointment completed", "appointment_id", appt.ID, "staff_id", appt.StaffID)
	s.hooks.publish(ctx, Event{Type: AppointmentCompleted, Appointment: appt, OccurredAt: *appt.CompletedAt})
	return appt, nil
}

func (s *Service) completionGuard(actor model.Actor, appt model.Appointment, now time.Time) *Rejection {
	if appt.Status.Terminal() {
		return invalidTransition(GuardTerminal, "appointment %s is already %s", appt.ID, appt.Status)
	}
	if appt.StaffID == "" || actor.ID != appt.StaffID {
		return invalidTransition(GuardAssignedStaff, "only the assigned groomer can complete appointment %s", appt.ID)
	}
	if !s.rules.SameDay(now, appt.ScheduledAt) {
		scheduled := s.rules.Day(appt.ScheduledAt).Format("2006-01-02")
		return invalidTransition(GuardSameDay, "wrong day: appointment %s can only be completed on %s", appt.ID, scheduled)
	}
	eligibleAt := appt.EndsAt()
	if now.Before(eligibleAt) {
		minutes := int(math.Ceil(eligibleAt.Sub(now).Minutes()))
		rej := invalidTransition(GuardDurationElapsed, "too early: appointment %s can be completed in %d minute(s)", appt.ID, minutes)
		rej.MinutesRemaining = minutes
		return rej
	}
	return nil
}

// Cancel moves a Confirmed appointment to Cancelled and takes back the
// booking's loyalty points. The owner, any groomer or an admin may cancel, and
// only more than 24 hours before the start.
func (s *Service) Cancel(ctx context.Context, actor model.Actor, id, reason string) (appt model.Appointment, err error) {
	ctx, span := s.tracer.Start(ctx, "booking.Cancel")
	defer func() { s.finish(span, "cancel", err) }()
	span.SetAttributes(attribute.String("booking.appointment_id", id))

	var balance int
	err = s.store.InTx(ctx, func(tx storage.Tx) error {
		current, err := s.lockAppointment(ctx, tx, id)
		if err != nil {
			return err
		}
		now := s.now()
		if rej := cancellationGuard(actor, current, now); rej != nil {
			return rej
		}

		current.Status = model.StatusCancelled
		current.CancelReason = strings.TrimSpace(reason)
		current.CancelledAt = &now
		if err := tx.UpdateAppointment(ctx, current); err != nil {
			return fmt.Errorf("update appointment: %w", err)
		}
		balance, err = loyalty.Debit(ctx, tx, current.CustomerID, loyalty.PointsPerCancellation)
		if err != nil {
			return err
		}
		if err := s.recordEvent(ctx, tx, outbox.TopicAppointmentCancelled, current, &balance, now); err != nil {
			return err
		}
		appt = current
		return nil
	})
	if err != nil {
		return model.Appointment{}, err
	}

	s.metrics.IncTransition(string(model.StatusCancelled))
	s.metrics.AddLoyalty("debit", loyalty.PointsPerCancellation)
	s.logger.Info("appointment cancelled", "appointment_id", appt.ID, "cancelled_by", actor.ID, "role", actor.Role)
	s.hooks.publish(ctx, Event{Type: AppointmentCancelled, Appointment: appt, LoyaltyBalance: balance, OccurredAt: *appt.CancelledAt})
	return appt, nil
}

func cancellationGuard(actor model.Actor, appt model.Appointment, now time.Time) *Rejection {
	if appt.Status.Terminal() {
		return invalidTransition(GuardTerminal, "appointment %s is already %s", appt.ID, appt.Status)
	}
	switch actor.Role {
	case model.RoleStaff, model.RoleAdmin:
	case model.RoleCustomer:
		if actor.ID != appt.CustomerID {
			return ownership(GuardCaller, "appointment %s belongs to another customer", appt.ID)
		}
	default:
		return ownership(GuardCaller, "caller may not cancel appointment %s", appt.ID)
	}
	if appt.ScheduledAt.Sub(now) <= CancellationNotice {
		return invalidTransition(GuardCancelNotice, "appointments can only be cancelled more than 24 hours before the scheduled time")
	}
	return nil
}

func (s *Service) lockAppointment(ctx context.Context, tx storage.Tx, id string) (model.Appointment, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return model.Appointment{}, validation(GuardRequest, "appointment id is required")
	}
	appt, err := tx.GetAppointmentForUpdate(ctx, id)
	if errors.Is(err, model.ErrNotFound) {
		return model.Appointment{}, notFound("appointment", id)
	}
	if err != nil {
		return model.Appointment{}, fmt.Errorf("lock appointment: %w", err)
	}
	return appt, nil
}
