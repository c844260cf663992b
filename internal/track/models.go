package track

import (
	"fmt"
	"time"
)

// ShiftStatus is the lifecycle state of a shift.
type ShiftStatus string

const (
	ShiftActive    ShiftStatus = "active"
	ShiftCompleted ShiftStatus = "completed"
)

// SyncStatus tracks where a record stands relative to the remote store.
// Location samples only ever use Pending and Synced.
type SyncStatus string

const (
	SyncPending SyncStatus = "pending"
	SyncSyncing SyncStatus = "syncing"
	SyncSynced  SyncStatus = "synced"
	SyncError   SyncStatus = "error"
)

// ClockOutReason records why a shift was closed.
type ClockOutReason string

const (
	ReasonManual            ClockOutReason = "manual"
	ReasonPermissionRevoked ClockOutReason = "auto_permission_revoked"
	ReasonMidnight          ClockOutReason = "auto_midnight"
	ReasonServerForced      ClockOutReason = "server_forced"
)

// RecordType identifies which table a quarantined record came from.
type RecordType string

const (
	RecordShift      RecordType = "shift"
	RecordSample     RecordType = "location_sample"
	RecordGap        RecordType = "signal_gap"
	RecordDiagnostic RecordType = "diagnostic"
)

// ReviewStatus is the human-review state of a quarantined record.
// Transitions are pending -> resolved or pending -> discarded only.
type ReviewStatus string

const (
	ReviewPending   ReviewStatus = "pending"
	ReviewResolved  ReviewStatus = "resolved"
	ReviewDiscarded ReviewStatus = "discarded"
)

// Severity is the diagnostic event severity. Debug events never leave the device.
type Severity string

const (
	SeverityDebug    Severity = "debug"
	SeverityInfo     Severity = "info"
	SeverityWarn     Severity = "warn"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Diagnostic categories used throughout the core.
const (
	CategoryCapture = "capture"
	CategoryShift   = "shift"
	CategorySync    = "sync"
	CategoryStore   = "store"
	CategoryGap     = "gap"
)

// Location is a captured position with its reported accuracy in meters.
type Location struct {
	Latitude  float64
	Longitude float64
	Accuracy  float64
}

// Validate checks the coordinate ranges.
func (l Location) Validate() error {
	if l.Latitude < -90 || l.Latitude > 90 {
		return fmt.Errorf("latitude out of range: %f", l.Latitude)
	}
	if l.Longitude < -180 || l.Longitude > 180 {
		return fmt.Errorf("longitude out of range: %f", l.Longitude)
	}
	return nil
}

// Shift is one clock-in-to-clock-out work session.
// At most one shift per employee may be in status "active" at any time;
// the store enforces this with a partial unique index.
type Shift struct {
	ID               string
	EmployeeID       string
	Status           ShiftStatus
	ClockInAt        time.Time
	ClockInLocation  Location
	ClockOutAt       *time.Time
	ClockOutLocation *Location
	ClockOutReason   *ClockOutReason
	ClockOutNote     *string
	SyncStatus       SyncStatus
	SyncAttempts     int
	ServerID         *string
	SyncError        *string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// LocationSample is a single GPS fix captured during an active shift.
// Samples are immutable once created; only sync bookkeeping changes.
type LocationSample struct {
	ID           string
	ShiftID      string
	EmployeeID   string
	Latitude     float64
	Longitude    float64
	Accuracy     float64
	CapturedAt   time.Time
	Speed        *float64
	Heading      *float64
	Altitude     *float64
	Mock         bool
	ActivityType *string
	SyncStatus   SyncStatus
	SyncAttempts int
	CreatedAt    time.Time
}

// SignalGap is a continuous interval during an active shift with no usable
// location sample. EndedAt is nil while the gap is open; when set it is
// always >= StartedAt. At most one gap per shift may be open.
type SignalGap struct {
	ID           string
	ShiftID      string
	EmployeeID   string
	StartedAt    time.Time
	EndedAt      *time.Time
	Reason       string
	SyncStatus   SyncStatus
	SyncAttempts int
	CreatedAt    time.Time
}

// Gap reasons.
const (
	GapReasonNoSamples         = "no_samples"
	GapReasonGPSLost           = "gps_lost"
	GapReasonPermissionRevoked = "permission_revoked"
)

// SyncCursor is the singleton row tracking sync scheduling state.
// Created lazily on first read.
type SyncCursor struct {
	LastAttemptAt       *time.Time
	LastSuccessAt       *time.Time
	ConsecutiveFailures int
	CurrentBackoff      time.Duration
	InProgress          bool
	InProgressSince     *time.Time
	LastError           *string
	PendingShifts       int
	PendingGaps         int
	PendingSamples      int
	PendingDiagnostics  int
}

// QuarantinedRecord holds a record the server rejected after the retry
// ceiling. The original row is removed; the serialized payload here is the
// only remaining copy. Never deleted automatically.
type QuarantinedRecord struct {
	ID            string
	RecordType    RecordType
	OriginalID    string
	Payload       string
	ErrorCode     string
	ErrorMessage  string
	QuarantinedAt time.Time
	ReviewStatus  ReviewStatus
	ReviewNote    *string
	ReviewedAt    *time.Time
}

// DiagnosticEvent is one entry in the structured, categorized event log.
type DiagnosticEvent struct {
	ID           string
	EmployeeID   string
	ShiftID      *string
	DeviceID     string
	Category     string
	Severity     Severity
	Message      string
	Metadata     map[string]any
	AppVersion   string
	Platform     string
	OSVersion    string
	SyncStatus   SyncStatus
	SyncAttempts int
	CreatedAt    time.Time
}

// PendingCounts reports how many records of each type are waiting for upload.
type PendingCounts struct {
	Shifts      int
	Gaps        int
	Samples     int
	Diagnostics int
}

// Total returns the sum across all record types.
func (c PendingCounts) Total() int {
	return c.Shifts + c.Gaps + c.Samples + c.Diagnostics
}

// QuarantineStats summarizes quarantine contents for admin review.
type QuarantineStats struct {
	Pending   int
	Resolved  int
	Discarded int
	ByType    map[RecordType]int
}
