package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/groombook/groombook/libs/db"
	"github.com/groombook/groombook/services/booking-service/internal/model"
	"github.com/groombook/groombook/services/booking-service/internal/outbox"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const appointmentSequence = "appointment"

// cancelledSpellings are the lowercased status values stored rows use for a
// cancellation.
var cancelledSpellings = []string{"cancelled", "canceled"}

// Postgres is the production Store. Lifecycle transitions lock the appointment
// row and the customer row with SELECT ... FOR UPDATE.
type Postgres struct {
	pool   *db.Pool
	outbox *outbox.Repository
	pgReader
}

func NewPostgres(pool *db.Pool, outboxRepo *outbox.Repository) *Postgres {
	return &Postgres{pool: pool, outbox: outboxRepo, pgReader: pgReader{q: pool}}
}

func (p *Postgres) InTx(ctx context.Context, fn func(Tx) error) error {
	return p.pool.InTx(ctx, func(tx pgx.Tx) error {
		return fn(&pgTx{pgReader: pgReader{q: tx}, tx: tx, outbox: p.outbox})
	})
}

type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type pgReader struct {
	q queryer
}

func notFound(err error, entity, id string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", entity, id, model.ErrNotFound)
	}
	return fmt.Errorf("load %s %s: %w", entity, id, err)
}

func (r pgReader) GetCustomer(ctx context.Context, id string) (model.Customer, error) {
	return r.getCustomer(ctx, id, "")
}

func (r pgReader) getCustomer(ctx context.Context, id, lock string) (model.Customer, error) {
	var c model.Customer
	err := r.q.QueryRow(ctx, `
		SELECT id, name, loyalty_points
		FROM customers
		WHERE id = $1
	`+lock, id).Scan(&c.ID, &c.Name, &c.LoyaltyPoints)
	if err != nil {
		return model.Customer{}, notFound(err, "customer", id)
	}
	return c, nil
}

func (r pgReader) GetPet(ctx context.Context, id string) (model.Pet, error) {
	var p model.Pet
	err := r.q.QueryRow(ctx, `
		SELECT id, customer_id, name
		FROM pets
		WHERE id = $1
	`, id).Scan(&p.ID, &p.CustomerID, &p.Name)
	if err != nil {
		return model.Pet{}, notFound(err, "pet", id)
	}
	return p, nil
}

func (r pgReader) GetService(ctx context.Context, id string) (model.Service, error) {
	var s model.Service
	err := r.q.QueryRow(ctx, `
		SELECT id, name, duration_minutes
		FROM services
		WHERE id = $1
	`, id).Scan(&s.ID, &s.Name, &s.DurationMins)
	if err != nil {
		return model.Service{}, notFound(err, "service", id)
	}
	return s, nil
}

func (r pgReader) GetStaff(ctx context.Context, id string) (model.Staff, error) {
	var s model.Staff
	var role string
	err := r.q.QueryRow(ctx, `
		SELECT id, name, role
		FROM staff
		WHERE id = $1
	`, id).Scan(&s.ID, &s.Name, &role)
	if err != nil {
		return model.Staff{}, notFound(err, "staff", id)
	}
	s.Role, _ = model.ParseRole(role)
	return s, nil
}

func (r pgReader) ListStaff(ctx context.Context) ([]model.Staff, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, name, role
		FROM staff
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Staff
	for rows.Next() {
		var s model.Staff
		var role string
		if err := rows.Scan(&s.ID, &s.Name, &role); err != nil {
			return nil, err
		}
		s.Role, _ = model.ParseRole(role)
		out = append(out, s)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

const appointmentColumns = `
	id, customer_id, pet_id, service_id, COALESCE(staff_id, ''), scheduled_at, duration_minutes,
	special_request, status, COALESCE(cancel_reason, ''), cancelled_at, completed_at, created_at`

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var a model.Appointment
	var status string
	err := row.Scan(
		&a.ID,
		&a.CustomerID,
		&a.PetID,
		&a.ServiceID,
		&a.StaffID,
		&a.ScheduledAt,
		&a.DurationMins,
		&a.SpecialRequest,
		&status,
		&a.CancelReason,
		&a.CancelledAt,
		&a.CompletedAt,
		&a.CreatedAt,
	)
	if err != nil {
		return model.Appointment{}, err
	}
	// Older rows carry free-form casing.
	a.Status, err = model.ParseStatus(status)
	if err != nil {
		return model.Appointment{}, fmt.Errorf("appointment %s: %w", a.ID, err)
	}
	return a, nil
}

func (r pgReader) GetAppointment(ctx context.Context, id string) (model.Appointment, error) {
	return r.getAppointment(ctx, id, "")
}

func (r pgReader) getAppointment(ctx context.Context, id, lock string) (model.Appointment, error) {
	row := r.q.QueryRow(ctx, `SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`+lock, id)
	appt, err := scanAppointment(row)
	if err != nil {
		return model.Appointment{}, notFound(err, "appointment", id)
	}
	return appt, nil
}

func (r pgReader) ListAppointments(ctx context.Context, f AppointmentFilter) ([]model.Appointment, error) {
	var from, to *time.Time
	if !f.From.IsZero() {
		from = &f.From
	}
	if !f.To.IsZero() {
		to = &f.To
	}
	rows, err := r.q.Query(ctx, `SELECT `+appointmentColumns+`
		FROM appointments
		WHERE ($1 = '' OR customer_id = $1)
			AND ($2 = '' OR staff_id = $2)
			AND ($3::timestamptz IS NULL OR scheduled_at >= $3)
			AND ($4::timestamptz IS NULL OR scheduled_at < $4)
			AND (NOT $5 OR NOT (lower(status) = ANY($6)))
		ORDER BY scheduled_at ASC, id ASC
	`, f.CustomerID, f.StaffID, from, to, f.ExcludeCancelled, cancelledSpellings)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, appt)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func (r pgReader) StaffAppointments(ctx context.Context, staffID string, from, to time.Time) ([]model.Appointment, error) {
	return r.ListAppointments(ctx, AppointmentFilter{StaffID: staffID, From: from, To: to, ExcludeCancelled: true})
}

type pgTx struct {
	pgReader
	tx     pgx.Tx
	outbox *outbox.Repository
}

// GetCustomer locks the customer row so concurrent ledger updates for the same
// customer serialize.
func (t *pgTx) GetCustomer(ctx context.Context, id string) (model.Customer, error) {
	return t.getCustomer(ctx, id, " FOR UPDATE")
}

func (t *pgTx) GetAppointmentForUpdate(ctx context.Context, id string) (model.Appointment, error) {
	return t.getAppointment(ctx, id, " FOR UPDATE")
}

func (t *pgTx) NextAppointmentSeq(ctx context.Context) (int64, error) {
	var seq int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO id_sequences (name, value)
		VALUES ($1, 1)
		ON CONFLICT (name) DO UPDATE SET value = id_sequences.value + 1
		RETURNING value
	`, appointmentSequence).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("next appointment id: %w", err)
	}
	return seq, nil
}

func (t *pgTx) ResyncAppointmentSeq(ctx context.Context) (int64, error) {
	var seq int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO id_sequences (name, value)
		SELECT $1, COALESCE(MAX(CAST(SUBSTRING(id FROM 3) AS bigint)), 0) + 1
		FROM appointments
		WHERE id ~ '^AP[0-9]+$'
		ON CONFLICT (name) DO UPDATE SET value = GREATEST(id_sequences.value, EXCLUDED.value)
		RETURNING value
	`, appointmentSequence).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("resync appointment id: %w", err)
	}
	return seq, nil
}

// InsertAppointment runs inside a savepoint so a duplicate ID leaves the
// surrounding transaction usable for a retry.
func (t *pgTx) InsertAppointment(ctx context.Context, a model.Appointment) error {
	sp, err := t.tx.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = sp.Rollback(ctx) }()

	_, err = sp.Exec(ctx, `
		INSERT INTO appointments
			(id, customer_id, pet_id, service_id, staff_id, scheduled_at, duration_minutes, special_request, status, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $9, $10)
	`, a.ID, a.CustomerID, a.PetID, a.ServiceID, a.StaffID, a.ScheduledAt, a.DurationMins, a.SpecialRequest, string(a.Status), a.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("appointment %s: %w", a.ID, ErrDuplicateID)
	}
	if err != nil {
		return err
	}
	return sp.Commit(ctx)
}

func (t *pgTx) UpdateAppointment(ctx context.Context, a model.Appointment) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE appointments
		SET status = $2,
			cancel_reason = NULLIF($3, ''),
			cancelled_at = $4,
			completed_at = $5
		WHERE id = $1
	`, a.ID, string(a.Status), a.CancelReason, a.CancelledAt, a.CompletedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("appointment %s: %w", a.ID, model.ErrNotFound)
	}
	return nil
}

func (t *pgTx) SetLoyaltyPoints(ctx context.Context, customerID string, points int) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE customers
		SET loyalty_points = $2
		WHERE id = $1
	`, customerID, points)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("customer %s: %w", customerID, model.ErrNotFound)
	}
	return nil
}

func (t *pgTx) RecordEvent(ctx context.Context, evt outbox.Event) error {
	return t.outbox.Insert(ctx, t.tx, evt)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
