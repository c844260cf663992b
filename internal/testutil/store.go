package testutil

import (
	"testing"
	"time"

	"tt-go/internal/store"
	"tt-go/internal/store/migrations"
	"tt-go/internal/track"
)

// NewTestStore creates a new in-memory SQLite store with schema applied.
// The store is automatically closed when the test completes.
func NewTestStore(t *testing.T) track.Store {
	t.Helper()

	db, err := store.OpenConnection(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}

	if err := migrations.Up(db); err != nil {
		db.Close()
		t.Fatalf("failed to apply migrations: %v", err)
	}

	st := store.NewSQLiteStoreFromDB(db)

	t.Cleanup(func() {
		st.Close()
	})

	return st
}

// NewShift builds an active shift with sensible defaults for tests.
func NewShift(id, employeeID string, clockInAt time.Time) *track.Shift {
	return &track.Shift{
		ID:         id,
		EmployeeID: employeeID,
		Status:     track.ShiftActive,
		ClockInAt:  clockInAt,
		ClockInLocation: track.Location{
			Latitude:  52.52,
			Longitude: 13.405,
			Accuracy:  8,
		},
		SyncStatus: track.SyncPending,
		CreatedAt:  clockInAt,
		UpdatedAt:  clockInAt,
	}
}

// NewSample builds a location sample attached to the given shift.
func NewSample(id string, shift *track.Shift, capturedAt time.Time) *track.LocationSample {
	return &track.LocationSample{
		ID:         id,
		ShiftID:    shift.ID,
		EmployeeID: shift.EmployeeID,
		Latitude:   52.52,
		Longitude:  13.405,
		Accuracy:   10,
		CapturedAt: capturedAt,
		SyncStatus: track.SyncPending,
		CreatedAt:  capturedAt,
	}
}

// CompleteShift marks the shift completed at the given time.
func CompleteShift(shift *track.Shift, at time.Time) *track.Shift {
	reason := track.ReasonManual
	shift.Status = track.ShiftCompleted
	shift.ClockOutAt = &at
	shift.ClockOutReason = &reason
	shift.UpdatedAt = at
	return shift
}
