package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/groombook/groombook/services/booking-service/internal/assignment"
	"github.com/groombook/groombook/services/booking-service/internal/loyalty"
	"github.com/groombook/groombook/services/booking-service/internal/model"
	"github.com/groombook/groombook/services/booking-service/internal/outbox"
	"github.com/groombook/groombook/services/booking-service/internal/storage"
	"go.opentelemetry.io/otel/attribute"
)

// BookingRequest asks for one appointment per pet at the same time and service.
type BookingRequest struct {
	CustomerID     string
	PetIDs         []string
	ServiceID      string
	ScheduledAt    time.Time
	StaffID        string // empty means any available groomer
	SpecialRequest string
}

type PetFailure struct {
	PetID     string
	Rejection *Rejection
}

// BookingResult lists the appointments that were created and the pets that
// were refused. Each pet is booked in its own transaction.
type BookingResult struct {
	Appointments   []model.Appointment
	Failures       []PetFailure
	LoyaltyBalance int
}

// Book creates a Confirmed appointment per pet and credits the customer's
// loyalty balance once per appointment. A rejection of the whole request (bad
// input, unknown customer) comes back as an error; per-pet rejections are
// collected in the result. On a fault the appointments committed so far are
// returned along with the error.
func (s *Service) Book(ctx context.Context, actor model.Actor, req BookingRequest) (res BookingResult, err error) {
	ctx, span := s.tracer.Start(ctx, "booking.Book")
	defer func() { s.finish(span, "book", err) }()
	span.SetAttributes(
		attribute.String("booking.customer_id", req.CustomerID),
		attribute.Int("booking.pets", len(req.PetIDs)),
	)

	if rej := s.validateRequest(actor, &req); rej != nil {
		return BookingResult{}, rej
	}

	customer, err := s.store.GetCustomer(ctx, req.CustomerID)
	if errors.Is(err, model.ErrNotFound) {
		return BookingResult{}, notFound("customer", req.CustomerID)
	}
	if err != nil {
		return BookingResult{}, fmt.Errorf("get customer: %w", err)
	}
	res.LoyaltyBalance = customer.LoyaltyPoints

	var events []Event
	for _, petID := range req.PetIDs {
		var appt model.Appointment
		var balance int
		err := s.store.InTx(ctx, func(tx storage.Tx) error {
			var err error
			appt, balance, err = s.bookPet(ctx, tx, req, petID)
			return err
		})
		if rej, ok := AsRejection(err); ok {
			s.metrics.IncRejection("book", string(rej.Kind))
			res.Failures = append(res.Failures, PetFailure{PetID: petID, Rejection: rej})
			continue
		}
		if err != nil {
			s.hooks.publish(ctx, events...)
			return res, fmt.Errorf("book pet %s: %w", petID, err)
		}

		s.metrics.IncBooked()
		s.metrics.AddLoyalty("credit", loyalty.PointsPerBooking)
		s.logger.Info("appointment booked",
			"appointment_id", appt.ID,
			"customer_id", appt.CustomerID,
			"pet_id", appt.PetID,
			"staff_id", appt.StaffID,
			"scheduled_at", appt.ScheduledAt,
		)
		res.Appointments = append(res.Appointments, appt)
		res.LoyaltyBalance = balance
		events = append(events, Event{Type: AppointmentCreated, Appointment: appt, LoyaltyBalance: balance, OccurredAt: appt.CreatedAt})
	}

	s.hooks.publish(ctx, events...)
	return res, nil
}

func (s *Service) validateRequest(actor model.Actor, req *BookingRequest) *Rejection {
	req.CustomerID = strings.TrimSpace(req.CustomerID)
	req.ServiceID = strings.TrimSpace(req.ServiceID)
	req.StaffID = strings.TrimSpace(req.StaffID)

	if req.CustomerID == "" {
		return validation(GuardRequest, "customer is required")
	}
	if req.ServiceID == "" {
		return validation(GuardRequest, "service is required")
	}
	if req.ScheduledAt.IsZero() {
		return validation(GuardRequest, "date and time are required")
	}

	seen := make(map[string]bool, len(req.PetIDs))
	pets := make([]string, 0, len(req.PetIDs))
	for _, id := range req.PetIDs {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		pets = append(pets, id)
	}
	if len(pets) == 0 {
		return validation(GuardRequest, "at least one pet is required")
	}
	req.PetIDs = pets

	switch actor.Role {
	case model.RoleCustomer:
		if actor.ID != req.CustomerID {
			return ownership(GuardCaller, "customers can only book for themselves")
		}
	case model.RoleStaff, model.RoleAdmin:
	default:
		return validation(GuardCaller, "unknown caller role %q", actor.Role)
	}
	return nil
}

func (s *Service) bookPet(ctx context.Context, tx storage.Tx, req BookingRequest, petID string) (model.Appointment, int, error) {
	pet, err := tx.GetPet(ctx, petID)
	if errors.Is(err, model.ErrNotFound) {
		return model.Appointment{}, 0, notFound("pet", petID)
	}
	if err != nil {
		return model.Appointment{}, 0, fmt.Errorf("get pet: %w", err)
	}
	if pet.CustomerID != req.CustomerID {
		return model.Appointment{}, 0, ownership(GuardPetOwner, "pet %s does not belong to customer %s", petID, req.CustomerID)
	}

	service, err := tx.GetService(ctx, req.ServiceID)
	if errors.Is(err, model.ErrNotFound) {
		return model.Appointment{}, 0, notFound("service", req.ServiceID)
	}
	if err != nil {
		return model.Appointment{}, 0, fmt.Errorf("get service: %w", err)
	}

	now := s.now()
	if !req.ScheduledAt.After(now) {
		return model.Appointment{}, 0, validation(GuardFutureStart, "appointment time must be in the future")
	}

	seq, err := tx.NextAppointmentSeq(ctx)
	if err != nil {
		return model.Appointment{}, 0, err
	}

	duration := time.Duration(service.DurationMins) * time.Minute
	staffID, err := s.assign.Assign(ctx, tx, assignment.Request{
		StaffID:  req.StaffID,
		Start:    req.ScheduledAt,
		Duration: duration,
	})
	var aerr *assignment.Error
	if errors.As(err, &aerr) {
		return model.Appointment{}, 0, &Rejection{Kind: KindAssignment, Guard: GuardGroomer, Reason: aerr.Reason, Entity: "staff"}
	}
	if err != nil {
		return model.Appointment{}, 0, fmt.Errorf("assign groomer: %w", err)
	}
	if req.StaffID != "" && staffID == "" {
		s.logger.Warn("requested groomer not assignable; booking unassigned", "staff_id", req.StaffID, "pet_id", petID)
	}

	appt := model.Appointment{
		ID:             model.FormatAppointmentID(seq),
		CustomerID:     req.CustomerID,
		PetID:          pet.ID,
		ServiceID:      service.ID,
		StaffID:        staffID,
		ScheduledAt:    req.ScheduledAt,
		DurationMins:   service.DurationMins,
		SpecialRequest: req.SpecialRequest,
		Status:         model.StatusConfirmed,
		CreatedAt:      now,
	}
	err = tx.InsertAppointment(ctx, appt)
	if errors.Is(err, storage.ErrDuplicateID) {
		// rows imported after the sequence was seeded; catch up once
		if seq, err = tx.ResyncAppointmentSeq(ctx); err != nil {
			return model.Appointment{}, 0, err
		}
		appt.ID = model.FormatAppointmentID(seq)
		err = tx.InsertAppointment(ctx, appt)
	}
	if err != nil {
		return model.Appointment{}, 0, fmt.Errorf("insert appointment: %w", err)
	}

	balance, err := loyalty.Credit(ctx, tx, req.CustomerID, loyalty.PointsPerBooking)
	if err != nil {
		return model.Appointment{}, 0, err
	}
	if err := s.recordEvent(ctx, tx, outbox.TopicAppointmentCreated, appt, &balance, now); err != nil {
		return model.Appointment{}, 0, err
	}
	return appt, balance, nil
}
