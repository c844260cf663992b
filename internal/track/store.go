package track

import "time"

// Store provides the single local persistence interface. No other component
// touches disk directly. Every write path returns a *StoreError; multi-row
// writes are transactional and either fully commit or fully roll back.
type Store interface {
	// Shift operations

	// CreateShift inserts a new shift. Returns a constraint error if the
	// employee already has an active shift.
	CreateShift(shift *Shift) error

	// ActiveShift returns the employee's active shift, or nil if none.
	ActiveShift(employeeID string) (*Shift, error)

	// ActiveShifts returns every active shift across employees.
	// Used by the midnight boundary check.
	ActiveShifts() ([]*Shift, error)

	// ShiftByID returns a shift by its ID, or nil if not found.
	ShiftByID(id string) (*Shift, error)

	// UpdateShift persists all mutable shift fields.
	UpdateShift(shift *Shift) error

	// DeleteShift removes a shift row. Samples and gaps cascade.
	// Only used when a remote clock-in is rejected so the user can retry.
	DeleteShift(id string) error

	// PendingShifts returns completed shifts awaiting upload, oldest first.
	PendingShifts(limit int) ([]*Shift, error)

	// Location sample operations

	// InsertSample appends a sample. Samples are immutable once created.
	InsertSample(sample *LocationSample) error

	// SamplesForShift returns all samples for a shift in capture order.
	SamplesForShift(shiftID string) ([]*LocationSample, error)

	// PendingSamples returns samples awaiting upload, oldest first.
	PendingSamples(limit int) ([]*LocationSample, error)

	// Signal gap operations

	// OpenGap inserts an open gap (EndedAt nil). Returns a constraint error
	// if the shift already has an open gap.
	OpenGap(gap *SignalGap) error

	// CloseGap sets EndedAt on an open gap.
	CloseGap(id string, endedAt time.Time) error

	// OpenGapForShift returns the open gap for a shift, or nil if none.
	OpenGapForShift(shiftID string) (*SignalGap, error)

	// GapsForShift returns all gaps for a shift in start order.
	GapsForShift(shiftID string) ([]*SignalGap, error)

	// PendingGaps returns closed gaps awaiting upload, oldest first.
	PendingGaps(limit int) ([]*SignalGap, error)

	// Sync cursor operations

	// Cursor returns the singleton sync cursor, creating it lazily.
	Cursor() (*SyncCursor, error)

	// UpdateCursor persists the cursor.
	UpdateCursor(cursor *SyncCursor) error

	// AcquireSyncLock atomically sets the cursor in-progress flag.
	// Returns false if a sync is already running and its lease (staleAfter)
	// has not expired. A stale lease is taken over.
	AcquireSyncLock(now time.Time, staleAfter time.Duration) (bool, error)

	// ReleaseSyncLock clears the in-progress flag.
	ReleaseSyncLock() error

	// Sync bookkeeping

	// MarkSynced transitions records of the given type to synced.
	// For shifts, serverIDs maps record ID to the server-assigned ID.
	MarkSynced(rt RecordType, ids []string, serverIDs map[string]string) error

	// MarkSyncFailed increments a record's attempt counter and stores the
	// error. Returns the new attempt count.
	MarkSyncFailed(rt RecordType, id string, errMsg string) (int, error)

	// Quarantine operations

	// Quarantine inserts the quarantined record and removes the original
	// row in one transaction.
	Quarantine(rec *QuarantinedRecord) error

	// QuarantinedRecords lists quarantined records, optionally filtered by
	// type ("" for all), newest first.
	QuarantinedRecords(rt RecordType) ([]*QuarantinedRecord, error)

	// ReviewQuarantined transitions a pending record to resolved or
	// discarded with a note, stamped at reviewedAt. Any other transition is
	// a constraint error.
	ReviewQuarantined(id string, status ReviewStatus, note string, reviewedAt time.Time) error

	// QuarantineStats summarizes quarantine contents.
	QuarantineStats() (*QuarantineStats, error)

	// Diagnostic operations

	// InsertDiagnostic appends a diagnostic event.
	InsertDiagnostic(event *DiagnosticEvent) error

	// PendingDiagnostics returns events awaiting upload, oldest first.
	// Debug-severity events are never returned.
	PendingDiagnostics(limit int) ([]*DiagnosticEvent, error)

	// Counts and maintenance

	// PendingCounts reports pending record counts per type.
	PendingCounts() (*PendingCounts, error)

	// PruneSynced deletes oldest-synced samples and diagnostics beyond the
	// given row caps. Returns the number of rows removed.
	PruneSynced(maxSamples, maxDiagnostics int) (int, error)

	// SnapshotTo writes a complete copy of the store to destPath.
	SnapshotTo(destPath string) error

	// Close closes the store.
	Close() error
}
