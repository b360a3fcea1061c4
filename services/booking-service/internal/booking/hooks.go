package booking

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/groombook/groombook/services/booking-service/internal/model"
)

type EventType string

const (
	AppointmentCreated   EventType = "AppointmentCreated"
	AppointmentCancelled EventType = "AppointmentCancelled"
	AppointmentCompleted EventType = "AppointmentCompleted"
)

// Event is delivered to in-process subscribers after the change committed.
type Event struct {
	Type        EventType
	Appointment model.Appointment
	// LoyaltyBalance is the customer's balance after the change; zero for completions.
	LoyaltyBalance int
	OccurredAt     time.Time
}

type Handler func(ctx context.Context, evt Event) error

// Hooks is an in-process pub/sub for lifecycle events. Handlers run on their
// own goroutine; their errors and panics are logged and never reach the
// operation that produced the event.
type Hooks struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Handler
	logger      *slog.Logger
	wg          sync.WaitGroup
}

func NewHooks(logger *slog.Logger) *Hooks {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hooks{subscribers: make(map[EventType][]Handler), logger: logger}
}

func (h *Hooks) Subscribe(eventType EventType, handler Handler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subscribers[eventType] = append(h.subscribers[eventType], handler)
}

func (h *Hooks) publish(ctx context.Context, events ...Event) {
	if h == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for _, evt := range events {
		h.mu.RLock()
		handlers := append([]Handler(nil), h.subscribers[evt.Type]...)
		h.mu.RUnlock()

		for _, handler := range handlers {
			h.wg.Add(1)
			go h.run(ctx, handler, evt)
		}
	}
}

func (h *Hooks) run(ctx context.Context, handler Handler, evt Event) {
	defer h.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("hook panicked", "event", evt.Type, "appointment_id", evt.Appointment.ID, "panic", fmt.Sprint(r))
		}
	}()
	if err := handler(ctx, evt); err != nil {
		h.logger.Warn("hook failed", "event", evt.Type, "appointment_id", evt.Appointment.ID, "err", err)
	}
}

// Wait blocks until every dispatched handler has returned.
func (h *Hooks) Wait() {
	h.wg.Wait()
}
