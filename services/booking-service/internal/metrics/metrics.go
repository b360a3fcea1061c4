package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the booking core.
type Metrics struct {
	// AppointmentsBooked is the number of appointments created.
	AppointmentsBooked prometheus.Counter

	// Transitions counts successful status changes by target status.
	Transitions *prometheus.CounterVec

	// Rejections counts refused operations by operation and rejection kind.
	Rejections *prometheus.CounterVec

	// LoyaltyPoints counts points moved by direction (credit, debit).
	LoyaltyPoints *prometheus.CounterVec

	// EventsPublished counts outbox events written to Kafka by type.
	EventsPublished *prometheus.CounterVec
}

// New creates the metrics and registers them with reg.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		AppointmentsBooked: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "appointments_booked_total",
			Help:      "Total number of appointments created",
		}),
		Transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "appointment_transitions_total",
			Help:      "Total number of appointment status transitions",
		}, []string{"status"}),
		Rejections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_rejections_total",
			Help:      "Total number of rejected booking operations",
		}, []string{"operation", "kind"}),
		LoyaltyPoints: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loyalty_points_total",
			Help:      "Total loyalty points credited or debited",
		}, []string{"direction"}),
		EventsPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_events_published_total",
			Help:      "Total number of outbox events published",
		}, []string{"event_type"}),
	}
}

// The helpers below accept a nil receiver so callers can run without metrics.

func (m *Metrics) IncBooked() {
	if m == nil {
		return
	}
	m.AppointmentsBooked.Inc()
}

func (m *Metrics) IncTransition(status string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(status).Inc()
}

func (m *Metrics) IncRejection(operation, kind string) {
	if m == nil {
		return
	}
	m.Rejections.WithLabelValues(operation, kind).Inc()
}

func (m *Metrics) AddLoyalty(direction string, points int) {
	if m == nil {
		return
	}
	m.LoyaltyPoints.WithLabelValues(direction).Add(float64(points))
}

func (m *Metrics) IncPublished(eventType string) {
	if m == nil {
		return
	}
	m.EventsPublished.WithLabelValues(eventType).Inc()
}
