package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/groombook/groombook/services/booking-service/internal/model"
	"github.com/groombook/groombook/services/booking-service/internal/outbox"
)

// Memory is an in-process Store. Transactions are serialized and work on a
// copy of the data that replaces the original only on commit.
type Memory struct {
	mu    sync.RWMutex
	state *memState
}

type memState struct {
	customers    map[string]model.Customer
	pets         map[string]model.Pet
	services     map[string]model.Service
	staff        map[string]model.Staff
	appointments map[string]model.Appointment
	seq          int64
	events       []outbox.Event
}

func NewMemory() *Memory {
	return &Memory{state: &memState{
		customers:    map[string]model.Customer{},
		pets:         map[string]model.Pet{},
		services:     map[string]model.Service{},
		staff:        map[string]model.Staff{},
		appointments: map[string]model.Appointment{},
	}}
}

func (m *Memory) AddCustomer(c model.Customer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.customers[c.ID] = c
}

func (m *Memory) AddPet(p model.Pet) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.pets[p.ID] = p
}

func (m *Memory) AddService(s model.Service) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.services[s.ID] = s
}

func (m *Memory) AddStaff(s model.Staff) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.staff[s.ID] = s
}

// AddAppointment loads an existing appointment. The ID sequence moves past
// its numeric suffix so new IDs never collide with loaded ones.
func (m *Memory) AddAppointment(a model.Appointment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.appointments[a.ID] = a
	if n, ok := model.AppointmentSeq(a.ID); ok && n > m.state.seq {
		m.state.seq = n
	}
}

// Events returns the events committed so far.
func (m *Memory) Events() []outbox.Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]outbox.Event(nil), m.state.events...)
}

func (m *Memory) InTx(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	work := m.state.clone()
	if err := fn(&memTx{memReader{work}}); err != nil {
		return err
	}
	m.state = work
	return nil
}

func (m *Memory) reader() memReader {
	return memReader{m.state}
}

func (m *Memory) GetCustomer(ctx context.Context, id string) (model.Customer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reader().GetCustomer(ctx, id)
}

func (m *Memory) GetPet(ctx context.Context, id string) (model.Pet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reader().GetPet(ctx, id)
}

func (m *Memory) GetService(ctx context.Context, id string) (model.Service, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reader().GetService(ctx, id)
}

func (m *Memory) GetStaff(ctx context.Context, id string) (model.Staff, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reader().GetStaff(ctx, id)
}

func (m *Memory) ListStaff(ctx context.Context) ([]model.Staff, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reader().ListStaff(ctx)
}

func (m *Memory) GetAppointment(ctx context.Context, id string) (model.Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reader().GetAppointment(ctx, id)
}

func (m *Memory) ListAppointments(ctx context.Context, f AppointmentFilter) ([]model.Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reader().ListAppointments(ctx, f)
}

func (m *Memory) StaffAppointments(ctx context.Context, staffID string, from, to time.Time) ([]model.Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reader().StaffAppointments(ctx, staffID, from, to)
}

func (s *memState) clone() *memState {
	out := &memState{
		customers:    make(map[string]model.Customer, len(s.customers)),
		pets:         s.pets,
		services:     s.services,
		staff:        s.staff,
		appointments: make(map[string]model.Appointment, len(s.appointments)),
		seq:          s.seq,
		events:       append([]outbox.Event(nil), s.events...),
	}
	for k, v := range s.customers {
		out.customers[k] = v
	}
	for k, v := range s.appointments {
		out.appointments[k] = v
	}
	return out
}

type memReader struct {
	s *memState
}

func (r memReader) GetCustomer(_ context.Context, id string) (model.Customer, error) {
	c, ok := r.s.customers[id]
	if !ok {
		return model.Customer{}, fmt.Errorf("customer %s: %w", id, model.ErrNotFound)
	}
	return c, nil
}

func (r memReader) GetPet(_ context.Context, id string) (model.Pet, error) {
	p, ok := r.s.pets[id]
	if !ok {
		return model.Pet{}, fmt.Errorf("pet %s: %w", id, model.ErrNotFound)
	}
	return p, nil
}

func (r memReader) GetService(_ context.Context, id string) (model.Service, error) {
	s, ok := r.s.services[id]
	if !ok {
		return model.Service{}, fmt.Errorf("service %s: %w", id, model.ErrNotFound)
	}
	return s, nil
}

func (r memReader) GetStaff(_ context.Context, id string) (model.Staff, error) {
	s, ok := r.s.staff[id]
	if !ok {
		return model.Staff{}, fmt.Errorf("staff %s: %w", id, model.ErrNotFound)
	}
	return s, nil
}

func (r memReader) ListStaff(context.Context) ([]model.Staff, error) {
	out := make([]model.Staff, 0, len(r.s.staff))
	for _, s := range r.s.staff {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r memReader) GetAppointment(_ context.Context, id string) (model.Appointment, error) {
	a, ok := r.s.appointments[id]
	if !ok {
		return model.Appointment{}, fmt.Errorf("appointment %s: %w", id, model.ErrNotFound)
	}
	return a, nil
}

func (r memReader) ListAppointments(_ context.Context, f AppointmentFilter) ([]model.Appointment, error) {
	var out []model.Appointment
	for _, a := range r.s.appointments {
		if f.Match(a) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ScheduledAt.Equal(out[j].ScheduledAt) {
			return out[i].ScheduledAt.Before(out[j].ScheduledAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r memReader) StaffAppointments(ctx context.Context, staffID string, from, to time.Time) ([]model.Appointment, error) {
	return r.ListAppointments(ctx, AppointmentFilter{StaffID: staffID, From: from, To: to, ExcludeCancelled: true})
}

type memTx struct {
	memReader
}

func (t *memTx) GetAppointmentForUpdate(ctx context.Context, id string) (model.Appointment, error) {
	return t.GetAppointment(ctx, id)
}

func (t *memTx) NextAppointmentSeq(context.Context) (int64, error) {
	t.s.seq++
	return t.s.seq, nil
}

func (t *memTx) ResyncAppointmentSeq(context.Context) (int64, error) {
	for id := range t.s.appointments {
		if n, ok := model.AppointmentSeq(id); ok && n > t.s.seq {
			t.s.seq = n
		}
	}
	t.s.seq++
	return t.s.seq, nil
}

func (t *memTx) InsertAppointment(_ context.Context, appt model.Appointment) error {
	if _, exists := t.s.appointments[appt.ID]; exists {
		return fmt.Errorf("appointment %s: %w", appt.ID, ErrDuplicateID)
	}
	t.s.appointments[appt.ID] = appt
	return nil
}

func (t *memTx) UpdateAppointment(_ context.Context, appt model.Appointment) error {
	if _, ok := t.s.appointments[appt.ID]; !ok {
		return fmt.Errorf("appointment %s: %w", appt.ID, model.ErrNotFound)
	}
	t.s.appointments[appt.ID] = appt
	return nil
}

func (t *memTx) SetLoyaltyPoints(_ context.Context, customerID string, points int) error {
	c, ok := t.s.customers[customerID]
	if !ok {
		return fmt.Errorf("customer %s: %w", customerID, model.ErrNotFound)
	}
	c.LoyaltyPoints = points
	t.s.customers[customerID] = c
	return nil
}

func (t *memTx) RecordEvent(_ context.Context, evt outbox.Event) error {
	t.s.events = append(t.s.events, evt)
	return nil
}
