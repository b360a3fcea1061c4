package booking

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/groombook/groombook/services/booking-service/internal/metrics"
	"github.com/groombook/groombook/services/booking-service/internal/model"
	"github.com/groombook/groombook/services/booking-service/internal/outbox"
	"github.com/groombook/groombook/services/booking-service/internal/policy"
	"github.com/groombook/groombook/services/booking-service/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

var (
	alice    = model.Actor{ID: "C001", Role: model.RoleCustomer}
	bob      = model.Actor{ID: "C002", Role: model.RoleCustomer}
	groomer1 = model.Actor{ID: "S001", Role: model.RoleStaff}
	groomer2 = model.Actor{ID: "S002", Role: model.RoleStaff}
	admin    = model.Actor{ID: "A001", Role: model.RoleAdmin}

	// 2025-01-10 14:00, a 60 minute service
	slot = time.Date(2025, 1, 10, 14, 0, 0, 0, time.UTC)
)

type fixture struct {
	store *storage.Memory
	clock *clock
	hooks *Hooks
	svc   *Service
}

func newFixture(t *testing.T, mutate ...func(*policy.Rules)) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store := storage.NewMemory()
	store.AddCustomer(model.Customer{ID: "C001", Name: "Alice"})
	store.AddCustomer(model.Customer{ID: "C002", Name: "Bob"})
	store.AddPet(model.Pet{ID: "P001", CustomerID: "C001", Name: "Rex"})
	store.AddPet(model.Pet{ID: "P002", CustomerID: "C001", Name: "Milo"})
	store.AddPet(model.Pet{ID: "P003", CustomerID: "C002", Name: "Luna"})
	store.AddPet(model.Pet{ID: "P004", CustomerID: "C001", Name: "Bella"})
	store.AddService(model.Service{ID: "SV01", Name: "Full groom", DurationMins: 60})
	store.AddStaff(model.Staff{ID: "S002", Name: "Sam", Role: model.RoleStaff})
	store.AddStaff(model.Staff{ID: "S001", Name: "Kim", Role: model.RoleStaff})
	store.AddStaff(model.Staff{ID: "A001", Name: "Owner", Role: model.RoleAdmin})

	rules := policy.Default()
	for _, m := range mutate {
		m(&rules)
	}
	clk := &clock{t: time.Date(2025, 1, 5, 9, 0, 0, 0, time.UTC)}
	hooks := NewHooks(logger)
	svc := NewService(Config{
		Store:   store,
		Rules:   rules,
		Logger:  logger,
		Hooks:   hooks,
		Metrics: metrics.New("test", prometheus.NewRegistry()),
		Now:     clk.Now,
	})
	return &fixture{store: store, clock: clk, hooks: hooks, svc: svc}
}

func (f *fixture) book(t *testing.T, at time.Time, pets ...string) []model.Appointment {
	t.Helper()
	res, err := f.svc.Book(context.Background(), alice, BookingRequest{
		CustomerID:  "C001",
		PetIDs:      pets,
		ServiceID:   "SV01",
		ScheduledAt: at,
	})
	require.NoError(t, err)
	require.Empty(t, res.Failures)
	return res.Appointments
}

func (f *fixture) balance(t *testing.T, customerID string) int {
	t.Helper()
	c, err := f.store.GetCustomer(context.Background(), customerID)
	require.NoError(t, err)
	return c.LoyaltyPoints
}

func requireRejection(t *testing.T, err error, kind Kind, guard string) *Rejection {
	t.Helper()
	rej, ok := AsRejection(err)
	require.True(t, ok, "expected a rejection, got %v", err)
	assert.Equal(t, kind, rej.Kind)
	if guard != "" {
		assert.Equal(t, guard, rej.Guard)
	}
	assert.NotEmpty(t, rej.Reason)
	return rej
}

func TestBook_OneAppointmentPerPet(t *testing.T) {
	f := newFixture(t)
	var created []Event
	var mu sync.Mutex
	f.hooks.Subscribe(AppointmentCreated, func(_ context.Context, evt Event) error {
		mu.Lock()
		defer mu.Unlock()
		created = append(created, evt)
		return nil
	})

	res, err := f.svc.Book(context.Background(), alice, BookingRequest{
		CustomerID:     "C001",
		PetIDs:         []string{"P001", "P002"},
		ServiceID:      "SV01",
		ScheduledAt:    slot,
		SpecialRequest: "short on the ears",
	})
	require.NoError(t, err)
	require.Len(t, res.Appointments, 2)
	assert.Empty(t, res.Failures)
	assert.Equal(t, 20, res.LoyaltyBalance)

	first := res.Appointments[0]
	assert.Equal(t, "AP001", first.ID)
	assert.Equal(t, "AP002", res.Appointments[1].ID)
	assert.Equal(t, model.StatusConfirmed, first.Status)
	assert.Equal(t, "S001", first.StaffID, "any available picks the first groomer by ID")
	assert.Equal(t, 60, first.DurationMins)
	assert.Equal(t, "short on the ears", first.SpecialRequest)
	assert.Equal(t, 20, f.balance(t, "C001"))

	events := f.store.Events()
	require.Len(t, events, 2)
	assert.Equal(t, outbox.TopicAppointmentCreated, events[0].EventType)
	assert.Equal(t, "AP001", events[0].AggregateID)

	f.hooks.Wait()
	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, created, 2)
}

func TestBook_PartialFailureCreditsOnlySuccesses(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.Book(context.Background(), alice, BookingRequest{
		CustomerID:  "C001",
		PetIDs:      []string{"P001", "P003"},
		ServiceID:   "SV01",
		ScheduledAt: slot,
	})
	require.NoError(t, err)
	require.Len(t, res.Appointments, 1)
	assert.Equal(t, "P001", res.Appointments[0].PetID)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "P003", res.Failures[0].PetID)
	assert.Equal(t, KindOwnership, res.Failures[0].Rejection.Kind)
	assert.Equal(t, GuardPetOwner, res.Failures[0].Rejection.Guard)

	assert.Equal(t, 10, f.balance(t, "C001"))
	assert.Len(t, f.store.Events(), 1)
}

func TestBook_NextIDFollowsHighestExisting(t *testing.T) {
	f := newFixture(t)
	for _, id := range []string{"AP005", "AP002", "AP007", "AP001", "AP003", "AP006", "AP004"} {
		f.store.AddAppointment(model.Appointment{
			ID: id, CustomerID: "C002", PetID: "P003", ServiceID: "SV01",
			ScheduledAt: slot, DurationMins: 60, Status: model.StatusConfirmed,
		})
	}

	appts := f.book(t, slot, "P001")
	assert.Equal(t, "AP008", appts[0].ID)
}

func TestBook_RejectedPetsConsumeNoID(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.Book(context.Background(), alice, BookingRequest{
		CustomerID: "C001", PetIDs: []string{"P003", "P001"}, ServiceID: "SV01", ScheduledAt: slot,
	})
	require.NoError(t, err)
	require.Len(t, res.Appointments, 1)
	assert.Equal(t, "AP001", res.Appointments[0].ID)
}

func TestBook_PerPetGuards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Book(ctx, alice, BookingRequest{
		CustomerID: "C001", PetIDs: []string{"P001"}, ServiceID: "SV01", ScheduledAt: f.clock.Now(),
	})
	require.NoError(t, err)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, KindValidation, res.Failures[0].Rejection.Kind)
	assert.Equal(t, GuardFutureStart, res.Failures[0].Rejection.Guard)

	res, err = f.svc.Book(ctx, alice, BookingRequest{
		CustomerID: "C001", PetIDs: []string{"P001"}, ServiceID: "SV99", ScheduledAt: slot,
	})
	require.NoError(t, err)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, KindNotFound, res.Failures[0].Rejection.Kind)
	assert.Equal(t, "service", res.Failures[0].Rejection.Entity)

	res, err = f.svc.Book(ctx, alice, BookingRequest{
		CustomerID: "C001", PetIDs: []string{"P404"}, ServiceID: "SV01", ScheduledAt: slot,
	})
	require.NoError(t, err)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "pet", res.Failures[0].Rejection.Entity)

	assert.Equal(t, 0, f.balance(t, "C001"))
	assert.Empty(t, f.store.Events())
}

func TestBook_WholeRequestRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Book(ctx, admin, BookingRequest{CustomerID: "C404", PetIDs: []string{"P001"}, ServiceID: "SV01", ScheduledAt: slot})
	rej := requireRejection(t, err, KindNotFound, "")
	assert.Equal(t, "customer", rej.Entity)

	_, err = f.svc.Book(ctx, bob, BookingRequest{CustomerID: "C001", PetIDs: []string{"P001"}, ServiceID: "SV01", ScheduledAt: slot})
	requireRejection(t, err, KindOwnership, GuardCaller)

	_, err = f.svc.Book(ctx, alice, BookingRequest{CustomerID: "C001", ServiceID: "SV01", ScheduledAt: slot})
	requireRejection(t, err, KindValidation, GuardRequest)

	_, err = f.svc.Book(ctx, alice, BookingRequest{CustomerID: "C001", PetIDs: []string{"P001"}, ServiceID: "SV01"})
	requireRejection(t, err, KindValidation, GuardRequest)
}

func TestBook_ExplicitGroomer(t *testing.T) {
	ctx := context.Background()
	req := BookingRequest{CustomerID: "C001", PetIDs: []string{"P001"}, ServiceID: "SV01", ScheduledAt: slot}

	f := newFixture(t)
	req.StaffID = "S002"
	res, err := f.svc.Book(ctx, alice, req)
	require.NoError(t, err)
	assert.Equal(t, "S002", res.Appointments[0].StaffID)

	req.StaffID = "S999"
	res, err = f.svc.Book(ctx, alice, req)
	require.NoError(t, err)
	require.Len(t, res.Appointments, 1)
	assert.Empty(t, res.Appointments[0].StaffID, "unknown groomer leaves the appointment unassigned")
	assert.Equal(t, "Not assigned", res.Appointments[0].StaffLabel())

	strict := newFixture(t, func(r *policy.Rules) { r.StrictGroomer = true })
	res, err = strict.svc.Book(ctx, alice, req)
	require.NoError(t, err)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, KindAssignment, res.Failures[0].Rejection.Kind)
	assert.Equal(t, 0, strict.balance(t, "C001"))
}

func TestBook_PreventOverlapToggle(t *testing.T) {
	ctx := context.Background()
	req := BookingRequest{CustomerID: "C001", PetIDs: []string{"P001", "P002", "P004"}, ServiceID: "SV01", ScheduledAt: slot}

	f := newFixture(t)
	res, err := f.svc.Book(ctx, alice, req)
	require.NoError(t, err)
	require.Len(t, res.Appointments, 3)
	for _, a := range res.Appointments {
		assert.Equal(t, "S001", a.StaffID, "double booking is allowed by default")
	}

	g := newFixture(t, func(r *policy.Rules) { r.PreventOverlap = true })
	res, err = g.svc.Book(ctx, alice, req)
	require.NoError(t, err)
	require.Len(t, res.Appointments, 2)
	assert.Equal(t, "S001", res.Appointments[0].StaffID)
	assert.Equal(t, "S002", res.Appointments[1].StaffID)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, KindAssignment, res.Failures[0].Rejection.Kind)
}

func TestCancel_24HourBoundary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	appts := f.book(t, slot, "P001", "P002")

	f.clock.Set(slot.Add(-(24*time.Hour + time.Minute)))
	cancelled, err := f.svc.Cancel(ctx, alice, appts[0].ID, "vet visit")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, cancelled.Status)
	assert.Equal(t, "vet visit", cancelled.CancelReason)
	require.NotNil(t, cancelled.CancelledAt)

	f.clock.Set(slot.Add(-(23*time.Hour + 59*time.Minute)))
	_, err = f.svc.Cancel(ctx, alice, appts[1].ID, "")
	rej := requireRejection(t, err, KindInvalidTransition, GuardCancelNotice)
	assert.Contains(t, rej.Reason, "24 hours")

	f.clock.Set(slot.Add(-24 * time.Hour))
	_, err = f.svc.Cancel(ctx, alice, appts[1].ID, "")
	requireRejection(t, err, KindInvalidTransition, GuardCancelNotice)

	stored, err := f.store.GetAppointment(ctx, appts[1].ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusConfirmed, stored.Status)
}

func TestCancel_Permissions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	appts := f.book(t, slot, "P001", "P002", "P004")

	_, err := f.svc.Cancel(ctx, bob, appts[0].ID, "")
	requireRejection(t, err, KindOwnership, GuardCaller)

	_, err = f.svc.Cancel(ctx, groomer2, appts[0].ID, "")
	require.NoError(t, err)
	_, err = f.svc.Cancel(ctx, admin, appts[1].ID, "")
	require.NoError(t, err)
	_, err = f.svc.Cancel(ctx, model.Actor{ID: "X", Role: "guest"}, appts[2].ID, "")
	requireRejection(t, err, KindOwnership, GuardCaller)

	_, err = f.svc.Cancel(ctx, alice, "AP999", "")
	rej := requireRejection(t, err, KindNotFound, "")
	assert.Equal(t, "appointment", rej.Entity)
}

func TestComplete_DayAndDurationGates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	appts := f.book(t, slot, "P001", "P002")

	f.clock.Set(time.Date(2025, 1, 10, 14, 30, 0, 0, time.UTC))
	_, err := f.svc.Complete(ctx, groomer1, appts[0].ID)
	rej := requireRejection(t, err, KindInvalidTransition, GuardDurationElapsed)
	assert.Equal(t, 30, rej.MinutesRemaining)
	assert.Contains(t, rej.Reason, "too early")

	f.clock.Set(time.Date(2025, 1, 10, 14, 59, 30, 0, time.UTC))
	_, err = f.svc.Complete(ctx, groomer1, appts[0].ID)
	rej = requireRejection(t, err, KindInvalidTransition, GuardDurationElapsed)
	assert.Equal(t, 1, rej.MinutesRemaining, "remaining minutes round up")

	f.clock.Set(time.Date(2025, 1, 10, 15, 0, 0, 0, time.UTC))
	done, err := f.svc.Complete(ctx, groomer1, appts[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, done.Status)
	require.NotNil(t, done.CompletedAt)

	f.clock.Set(time.Date(2025, 1, 11, 9, 0, 0, 0, time.UTC))
	_, err = f.svc.Complete(ctx, groomer1, appts[1].ID)
	rej = requireRejection(t, err, KindInvalidTransition, GuardSameDay)
	assert.Contains(t, rej.Reason, "wrong day")

	f.clock.Set(time.Date(2025, 1, 9, 23, 0, 0, 0, time.UTC))
	_, err = f.svc.Complete(ctx, groomer1, appts[1].ID)
	requireRejection(t, err, KindInvalidTransition, GuardSameDay)

	assert.Equal(t, 20, f.balance(t, "C001"), "completion does not touch loyalty")
}

func TestComplete_OnlyAssignedGroomer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	appts := f.book(t, slot, "P001")
	f.clock.Set(slot.Add(2 * time.Hour))

	_, err := f.svc.Complete(ctx, groomer2, appts[0].ID)
	requireRejection(t, err, KindInvalidTransition, GuardAssignedStaff)
	_, err = f.svc.Complete(ctx, admin, appts[0].ID)
	requireRejection(t, err, KindInvalidTransition, GuardAssignedStaff)
}

func TestComplete_UsesBusinessTimezone(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	f := newFixture(t, func(r *policy.Rules) { r.Location = ny })
	ctx := context.Background()

	// 20:00 New York on Jan 10 is 01:00 UTC on Jan 11.
	start := time.Date(2025, 1, 10, 20, 0, 0, 0, ny)
	appts := f.book(t, start, "P001")

	f.clock.Set(time.Date(2025, 1, 11, 2, 0, 0, 0, time.UTC))
	_, err = f.svc.Complete(ctx, groomer1, appts[0].ID)
	require.NoError(t, err)
}

func TestTerminalStatesAreFinal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	appts := f.book(t, slot, "P001", "P002")

	_, err := f.svc.Cancel(ctx, alice, appts[0].ID, "")
	require.NoError(t, err)
	f.clock.Set(slot.Add(time.Hour))
	_, err = f.svc.Complete(ctx, groomer1, appts[1].ID)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		for _, id := range []string{appts[0].ID, appts[1].ID} {
			_, err = f.svc.Cancel(ctx, admin, id, "")
			requireRejection(t, err, KindInvalidTransition, GuardTerminal)
			_, err = f.svc.Complete(ctx, groomer1, id)
			requireRejection(t, err, KindInvalidTransition, GuardTerminal)
		}
	}
	assert.Equal(t, 10, f.balance(t, "C001"))
}

func TestLoyaltyRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.AddCustomer(model.Customer{ID: "C001", Name: "Alice", LoyaltyPoints: 5})

	appts := f.book(t, slot, "P001", "P002", "P004")
	assert.Equal(t, 35, f.balance(t, "C001"))

	_, err := f.svc.Cancel(ctx, alice, appts[0].ID, "")
	require.NoError(t, err)
	assert.Equal(t, 25, f.balance(t, "C001"))

	// points spent elsewhere; further cancellations clamp at zero
	f.store.AddCustomer(model.Customer{ID: "C001", Name: "Alice", LoyaltyPoints: 5})
	_, err = f.svc.Cancel(ctx, alice, appts[1].ID, "")
	require.NoError(t, err)
	assert.Equal(t, 0, f.balance(t, "C001"))
	_, err = f.svc.Cancel(ctx, alice, appts[2].ID, "")
	require.NoError(t, err)
	assert.Equal(t, 0, f.balance(t, "C001"))
}

func TestHookFailuresDoNotAffectCaller(t *testing.T) {
	f := newFixture(t)
	f.hooks.Subscribe(AppointmentCancelled, func(context.Context, Event) error {
		panic("notifier down")
	})
	var got Event
	f.hooks.Subscribe(AppointmentCancelled, func(_ context.Context, evt Event) error {
		got = evt
		return assert.AnError
	})

	appts := f.book(t, slot, "P001")
	_, err := f.svc.Cancel(context.Background(), alice, appts[0].ID, "")
	require.NoError(t, err)

	f.hooks.Wait()
	assert.Equal(t, AppointmentCancelled, got.Type)
	assert.Equal(t, appts[0].ID, got.Appointment.ID)
	assert.Equal(t, 0, got.LoyaltyBalance)
}

func TestHooksWithoutLoggerSurviveFailingHandlers(t *testing.T) {
	h := NewHooks(nil)
	h.Subscribe(AppointmentCreated, func(context.Context, Event) error {
		return assert.AnError
	})
	h.Subscribe(AppointmentCreated, func(context.Context, Event) error {
		panic("notifier down")
	})
	var calls int
	var mu sync.Mutex
	h.Subscribe(AppointmentCreated, func(context.Context, Event) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return nil
	})

	require.NotPanics(t, func() {
		h.publish(context.Background(), Event{Type: AppointmentCreated, Appointment: model.Appointment{ID: "AP001"}})
		h.Wait()
	})
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
}

func TestGet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	appts := f.book(t, slot, "P001")

	got, err := f.svc.Get(ctx, alice, appts[0].ID)
	require.NoError(t, err)
	assert.Equal(t, appts[0].ID, got.ID)

	_, err = f.svc.Get(ctx, groomer2, appts[0].ID)
	require.NoError(t, err)

	_, err = f.svc.Get(ctx, bob, appts[0].ID)
	requireRejection(t, err, KindOwnership, GuardCaller)

	_, err = f.svc.Get(ctx, alice, "AP404")
	requireRejection(t, err, KindNotFound, "")
}

func TestConcurrentCancelSucceedsOnce(t *testing.T) {
	f := newFixture(t)
	appts := f.book(t, slot, "P001")

	var wg sync.WaitGroup
	results := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Cancel(context.Background(), alice, appts[0].ID, "")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
			continue
		}
		requireRejection(t, err, KindInvalidTransition, GuardTerminal)
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 0, f.balance(t, "C001"))
}

func TestBook_ResyncsSequenceOnImportedIDs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	err := f.store.InTx(ctx, func(tx storage.Tx) error {
		return tx.InsertAppointment(ctx, model.Appointment{
			ID: "AP002", CustomerID: "C002", PetID: "P003", ServiceID: "SV01",
			ScheduledAt: slot, DurationMins: 60, Status: model.StatusConfirmed,
		})
	})
	require.NoError(t, err)

	appts := f.book(t, slot.Add(24*time.Hour), "P001", "P002", "P004")
	require.Len(t, appts, 3)
	assert.Equal(t, "AP001", appts[0].ID)
	assert.Equal(t, "AP003", appts[1].ID)
	assert.Equal(t, "AP004", appts[2].ID)
	assert.Equal(t, 30, f.balance(t, "C001"))
}
