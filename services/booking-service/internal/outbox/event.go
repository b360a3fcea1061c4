package outbox

// Event is the domain event envelope written to the outbox table.
// The Kafka topic name equals EventType (one topic per event).
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

const AggregateAppointment = "appointment"

const (
	TopicAppointmentCreated   = "booking.appointment.created.v1"
	TopicAppointmentCancelled = "booking.appointment.cancelled.v1"
	TopicAppointmentCompleted = "booking.appointment.completed.v1"
)
