package track

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// CaptureController is the orchestrator's handle on the background capture
// context. Satisfied by the capture service.
type CaptureController interface {
	// Start begins capture for the given shift.
	Start(shiftID string) error

	// Stop ends capture. Idempotent.
	Stop()

	// RequestRecovery forces a stream recovery attempt.
	RequestRecovery()
}

// ClockInGate is an injected predicate run before clock-in: version checks,
// permission gates, anything the host app requires. A non-nil error blocks
// the clock-in.
type ClockInGate func(ctx context.Context) error

// ShiftLifecycleConfig tunes shift orchestration.
type ShiftLifecycleConfig struct {
	// GracePeriod is how long after signal loss the lifecycle waits before
	// force-closing the shift. Hard timeout, not a retry-forever loop.
	GracePeriod time.Duration
}

// DefaultShiftLifecycleConfig uses the 5 minute grace period.
var DefaultShiftLifecycleConfig = ShiftLifecycleConfig{GracePeriod: 5 * time.Minute}

// ShiftLifecycle orchestrates clock-in and clock-out. It owns the
// single-active-shift invariant, starts and stops capture, and enforces the
// grace-period auto-clock-out.
type ShiftLifecycle struct {
	store      Store
	capture    CaptureController
	gaps       *GapDetector
	diag       *DiagnosticPipeline
	logger     Logger
	clock      Clock
	idgen      IDGenerator
	gate       ClockInGate // optional
	cfg        ShiftLifecycleConfig
	employeeID string

	mu            sync.Mutex
	graceDeadline *time.Time
}

// NewShiftLifecycle creates the lifecycle. gate may be nil.
func NewShiftLifecycle(store Store, capture CaptureController, gaps *GapDetector, diag *DiagnosticPipeline, logger Logger, clock Clock, idgen IDGenerator, gate ClockInGate, cfg ShiftLifecycleConfig, employeeID string) *ShiftLifecycle {
	return &ShiftLifecycle{
		store:      store,
		capture:    capture,
		gaps:       gaps,
		diag:       diag,
		logger:     logger,
		clock:      clock,
		idgen:      idgen,
		gate:       gate,
		cfg:        cfg,
		employeeID: employeeID,
	}
}

// ClockIn opens a new shift at the given location. The caller must have a
// captured location in hand; there is no silent clock-in without one.
// Returns ErrShiftActive if the employee already has an active shift.
func (s *ShiftLifecycle) ClockIn(ctx context.Context, loc Location) (*Shift, error) {
	if s.gate != nil {
		if err := s.gate(ctx); err != nil {
			return nil, fmt.Errorf("clock-in gate: %w", err)
		}
	}
	if err := loc.Validate(); err != nil {
		return nil, fmt.Errorf("clock-in location: %w", err)
	}

	existing, err := s.store.ActiveShift(s.employeeID)
	if err != nil {
		return nil, fmt.Errorf("checking for active shift: %w", err)
	}
	if existing != nil {
		return nil, ErrShiftActive
	}

	now := s.clock.Now()
	shift := &Shift{
		ID:              s.idgen.New(),
		EmployeeID:      s.employeeID,
		Status:          ShiftActive,
		ClockInAt:       now,
		ClockInLocation: loc,
		SyncStatus:      SyncPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.store.CreateShift(shift); err != nil {
		if IsConstraint(err) {
			return nil, ErrShiftActive
		}
		return nil, fmt.Errorf("creating shift: %w", err)
	}

	s.gaps.Watch(shift)
	if err := s.capture.Start(shift.ID); err != nil {
		// The shift stands; capture failure surfaces through gap detection
		// and the grace period rather than undoing the clock-in.
		s.diag.LogForShift(&shift.ID, CategoryCapture, SeverityError,
			"capture failed to start", map[string]any{"error": err.Error()})
	}

	s.diag.LogForShift(&shift.ID, CategoryShift, SeverityInfo, "clocked in", nil)
	s.logger.Info("clocked in", "shift_id", shift.ID, "employee_id", s.employeeID)
	return shift, nil
}

// ClockOut closes the active shift. The location is best effort: clock-out
// always succeeds locally even without one. note may be empty.
func (s *ShiftLifecycle) ClockOut(ctx context.Context, loc *Location, reason ClockOutReason, note string) (*Shift, error) {
	shift, err := s.store.ActiveShift(s.employeeID)
	if err != nil {
		return nil, fmt.Errorf("finding active shift: %w", err)
	}
	if shift == nil {
		return nil, ErrNoActiveShift
	}
	return s.closeShift(shift, s.clock.Now(), loc, reason, note)
}

// closeShift finalizes a shift: sets clock-out fields, closes any open gap
// at the clock-out time, stops capture, and cancels the grace countdown.
func (s *ShiftLifecycle) closeShift(shift *Shift, at time.Time, loc *Location, reason ClockOutReason, note string) (*Shift, error) {
	if loc != nil {
		if err := loc.Validate(); err != nil {
			// Best effort: a bad location is dropped, not fatal.
			s.logger.Warn("discarding invalid clock-out location", "error", err.Error())
			loc = nil
		}
	}

	shift.Status = ShiftCompleted
	shift.ClockOutAt = &at
	shift.ClockOutLocation = loc
	shift.ClockOutReason = &reason
	if note != "" {
		shift.ClockOutNote = &note
	}
	shift.SyncStatus = SyncPending
	shift.UpdatedAt = s.clock.Now()

	if err := s.store.UpdateShift(shift); err != nil {
		return nil, fmt.Errorf("closing shift: %w", err)
	}

	if err := s.gaps.NoteSignalRestored(shift.ID, at); err != nil {
		s.logger.Error("closing open gap at clock-out", "error", err.Error())
	}
	s.gaps.Unwatch(shift.ID)
	s.capture.Stop()

	s.mu.Lock()
	s.graceDeadline = nil
	s.mu.Unlock()

	s.diag.LogForShift(&shift.ID, CategoryShift, SeverityInfo, "clocked out",
		map[string]any{"reason": string(reason)})
	s.logger.Info("clocked out", "shift_id", shift.ID, "reason", string(reason))
	return shift, nil
}

// NoteSignalLost starts the grace countdown if a shift is active. Repeated
// calls while the countdown runs do not extend the deadline.
func (s *ShiftLifecycle) NoteSignalLost(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.graceDeadline != nil {
		return
	}
	deadline := now.Add(s.cfg.GracePeriod)
	s.graceDeadline = &deadline
	s.logger.Warn("signal lost, grace countdown started", "deadline", deadline.Format(time.RFC3339))
}

// NoteSignalRestored cancels the grace countdown.
func (s *ShiftLifecycle) NoteSignalRestored() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.graceDeadline != nil {
		s.graceDeadline = nil
		s.logger.Info("signal restored, grace countdown cancelled")
	}
}

// CheckGrace force-closes the active shift once the grace deadline passes.
// Called from the orchestrator tick; the deadline is re-checked against
// current state so a cancelled countdown never fires.
func (s *ShiftLifecycle) CheckGrace(now time.Time) error {
	s.mu.Lock()
	deadline := s.graceDeadline
	s.mu.Unlock()
	if deadline == nil || now.Before(*deadline) {
		return nil
	}

	shift, err := s.store.ActiveShift(s.employeeID)
	if err != nil {
		return fmt.Errorf("finding active shift: %w", err)
	}
	if shift == nil {
		s.mu.Lock()
		s.graceDeadline = nil
		s.mu.Unlock()
		return nil
	}

	s.diag.LogForShift(&shift.ID, CategoryShift, SeverityWarn,
		"grace period expired, forcing clock-out", nil)
	_, err = s.closeShift(shift, now, nil, ReasonPermissionRevoked, "")
	return err
}

// CheckBoundary force-closes active shifts that crossed local midnight.
// The clock-out time is the midnight boundary itself, not the check time.
func (s *ShiftLifecycle) CheckBoundary(now time.Time) error {
	shifts, err := s.store.ActiveShifts()
	if err != nil {
		return fmt.Errorf("listing active shifts: %w", err)
	}

	for _, shift := range shifts {
		in := shift.ClockInAt.In(now.Location())
		midnight := time.Date(in.Year(), in.Month(), in.Day(), 0, 0, 0, 0, now.Location()).AddDate(0, 0, 1)
		if now.Before(midnight) {
			continue
		}
		if _, err := s.closeShift(shift, midnight, nil, ReasonMidnight, ""); err != nil {
			return fmt.Errorf("closing shift at midnight: %w", err)
		}
	}
	return nil
}

// ApplyServerState reconciles a server-side view of a shift. A shift the
// server closed is closed locally rather than re-asserted as active.
func (s *ShiftLifecycle) ApplyServerState(state RemoteShiftState) error {
	shift, err := s.store.ShiftByID(state.ID)
	if err != nil {
		return fmt.Errorf("loading shift: %w", err)
	}
	if shift == nil || shift.Status != ShiftActive || state.Status != ShiftCompleted {
		return nil
	}

	closedAt := s.clock.Now()
	if state.ClosedAt != nil {
		if t, err := time.Parse(time.RFC3339, *state.ClosedAt); err == nil {
			closedAt = t
		}
	}
	if _, err := s.closeShift(shift, closedAt, nil, ReasonServerForced, ""); err != nil {
		return fmt.Errorf("applying server closure: %w", err)
	}
	return nil
}

// GraceDeadline returns the active grace deadline, or nil. Exposed for the
// UI layer's countdown display.
func (s *ShiftLifecycle) GraceDeadline() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.graceDeadline == nil {
		return nil
	}
	d := *s.graceDeadline
	return &d
}
