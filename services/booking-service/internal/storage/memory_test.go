package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/groombook/groombook/services/booking-service/internal/model"
	"github.com/groombook/groombook/services/booking-service/internal/outbox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var day = time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)

func TestMemory_SequenceSeededFromLoadedIDs(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	// stored out of order on purpose
	for _, id := range []string{"AP004", "AP007", "AP001", "AP002", "AP006", "AP003", "AP005"} {
		store.AddAppointment(model.Appointment{ID: id, ScheduledAt: day})
	}

	var seq int64
	err := store.InTx(ctx, func(tx Tx) error {
		var err error
		seq, err = tx.NextAppointmentSeq(ctx)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, "AP008", model.FormatAppointmentID(seq))
}

func TestMemory_RollbackDiscardsWrites(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	store.AddCustomer(model.Customer{ID: "C001", LoyaltyPoints: 10})

	boom := errors.New("boom")
	err := store.InTx(ctx, func(tx Tx) error {
		if _, err := tx.NextAppointmentSeq(ctx); err != nil {
			return err
		}
		require.NoError(t, tx.InsertAppointment(ctx, model.Appointment{ID: "AP001", CustomerID: "C001", ScheduledAt: day}))
		require.NoError(t, tx.SetLoyaltyPoints(ctx, "C001", 20))
		require.NoError(t, tx.RecordEvent(ctx, outbox.Event{EventType: outbox.TopicAppointmentCreated}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = store.GetAppointment(ctx, "AP001")
	assert.ErrorIs(t, err, model.ErrNotFound)
	c, err := store.GetCustomer(ctx, "C001")
	require.NoError(t, err)
	assert.Equal(t, 10, c.LoyaltyPoints)
	assert.Empty(t, store.Events())

	// the sequence is rolled back with everything else
	err = store.InTx(ctx, func(tx Tx) error {
		seq, err := tx.NextAppointmentSeq(ctx)
		assert.Equal(t, int64(1), seq)
		return err
	})
	require.NoError(t, err)
}

func TestMemory_ListAppointmentsFilterAndOrder(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	store.AddAppointment(model.Appointment{ID: "AP003", CustomerID: "C1", StaffID: "S1", ScheduledAt: day.Add(15 * time.Hour), Status: model.StatusConfirmed})
	store.AddAppointment(model.Appointment{ID: "AP001", CustomerID: "C1", StaffID: "S2", ScheduledAt: day.Add(9 * time.Hour), Status: model.StatusConfirmed})
	store.AddAppointment(model.Appointment{ID: "AP002", CustomerID: "C2", StaffID: "S1", ScheduledAt: day.Add(11 * time.Hour), Status: model.StatusCancelled})
	store.AddAppointment(model.Appointment{ID: "AP004", CustomerID: "C1", StaffID: "S1", ScheduledAt: day.Add(33 * time.Hour), Status: model.StatusConfirmed})

	got, err := store.ListAppointments(ctx, AppointmentFilter{CustomerID: "C1", From: day, To: day.AddDate(0, 0, 1)})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "AP001", got[0].ID)
	assert.Equal(t, "AP003", got[1].ID)

	got, err = store.StaffAppointments(ctx, "S1", day, day.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Len(t, got, 1, "cancelled appointments are excluded")
	assert.Equal(t, "AP003", got[0].ID)
}

func TestMemory_NotFound(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	_, err := store.GetPet(ctx, "P404")
	assert.ErrorIs(t, err, model.ErrNotFound)
	_, err = store.GetService(ctx, "SV404")
	assert.ErrorIs(t, err, model.ErrNotFound)
	_, err = store.GetStaff(ctx, "S404")
	assert.ErrorIs(t, err, model.ErrNotFound)

	err = store.InTx(ctx, func(tx Tx) error {
		return tx.SetLoyaltyPoints(ctx, "C404", 1)
	})
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestMemory_DuplicateIDAndResync(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	// written without advancing the sequence, as a bulk import would
	err := store.InTx(ctx, func(tx Tx) error {
		for _, id := range []string{"AP001", "AP004"} {
			if err := tx.InsertAppointment(ctx, model.Appointment{ID: id, ScheduledAt: day, Status: model.StatusConfirmed}); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	err = store.InTx(ctx, func(tx Tx) error {
		seq, err := tx.NextAppointmentSeq(ctx)
		require.NoError(t, err)
		err = tx.InsertAppointment(ctx, model.Appointment{ID: model.FormatAppointmentID(seq), ScheduledAt: day})
		require.ErrorIs(t, err, ErrDuplicateID)

		seq, err = tx.ResyncAppointmentSeq(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(5), seq)
		return nil
	})
	require.NoError(t, err)
}

func TestCancelledSpellingsMatchParseStatus(t *testing.T) {
	for _, s := range cancelledSpellings {
		got, err := model.ParseStatus(s)
		require.NoError(t, err, s)
		assert.Equal(t, model.StatusCancelled, got, s)
	}
	assert.Contains(t, cancelledSpellings, "canceled")
}
