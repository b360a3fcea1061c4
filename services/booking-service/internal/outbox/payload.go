package outbox

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/groombook/groombook/services/booking-service/internal/model"
)

// AppointmentPayload is the JSON body of every appointment event.
type AppointmentPayload struct {
	AppointmentID   string `json:"appointment_id"`
	CustomerID      string `json:"customer_id"`
	PetID           string `json:"pet_id"`
	ServiceID       string `json:"service_id"`
	StaffID         string `json:"staff_id,omitempty"`
	ScheduledAt     string `json:"scheduled_at"`
	DurationMinutes int    `json:"duration_minutes"`
	Status          string `json:"status"`
	Reason          string `json:"reason,omitempty"`
	LoyaltyBalance  *int   `json:"loyalty_balance,omitempty"`
	OccurredAt      string `json:"occurred_at"`
}

func NewAppointmentPayload(appt model.Appointment, at time.Time) AppointmentPayload {
	return AppointmentPayload{
		AppointmentID:   appt.ID,
		CustomerID:      appt.CustomerID,
		PetID:           appt.PetID,
		ServiceID:       appt.ServiceID,
		StaffID:         appt.StaffID,
		ScheduledAt:     appt.ScheduledAt.UTC().Format(time.RFC3339),
		DurationMinutes: appt.DurationMins,
		Status:          string(appt.Status),
		Reason:          appt.CancelReason,
		OccurredAt:      at.UTC().Format(time.RFC3339),
	}
}

// WithLoyaltyBalance attaches the customer's balance after the change.
func (p AppointmentPayload) WithLoyaltyBalance(points int) AppointmentPayload {
	p.LoyaltyBalance = &points
	return p
}

func NewAppointmentEvent(topic string, p AppointmentPayload) (Event, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", topic, err)
	}
	return Event{
		AggregateType: AggregateAppointment,
		AggregateID:   p.AppointmentID,
		EventType:     topic,
		Payload:       body,
	}, nil
}
