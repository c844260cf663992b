package track

import (
	"fmt"
	"sync"
	"time"
)

// Orchestrator is the foreground receiving side of the capture stream. It
// is the sole owner of the store handle: the capture context sends tagged
// messages and never touches persistence. Message handling errors are
// reported to the caller but never stop the stream.
type Orchestrator struct {
	store      Store
	gaps       *GapDetector
	lifecycle  *ShiftLifecycle
	diag       *DiagnosticPipeline
	logger     Logger
	clock      Clock
	idgen      IDGenerator
	employeeID string

	mu            sync.Mutex
	lastHeartbeat time.Time
}

// NewOrchestrator creates the orchestrator.
func NewOrchestrator(store Store, gaps *GapDetector, lifecycle *ShiftLifecycle, diag *DiagnosticPipeline, logger Logger, clock Clock, idgen IDGenerator, employeeID string) *Orchestrator {
	return &Orchestrator{
		store:      store,
		gaps:       gaps,
		lifecycle:  lifecycle,
		diag:       diag,
		logger:     logger,
		clock:      clock,
		idgen:      idgen,
		employeeID: employeeID,
	}
}

// HandleMessage processes one capture stream message. Unknown types are
// logged at warn and ignored.
func (o *Orchestrator) HandleMessage(m Message) error {
	if !m.Type.Known() {
		o.logger.Warn("unknown capture message type", "type", string(m.Type))
		return nil
	}

	switch m.Type {
	case MsgPosition:
		return o.handlePosition(m)

	case MsgGPSLost:
		shift, err := o.store.ActiveShift(o.employeeID)
		if err != nil {
			return fmt.Errorf("finding active shift: %w", err)
		}
		if shift != nil {
			if err := o.gaps.NoteSignalLost(shift, m.At, GapReasonGPSLost); err != nil {
				return err
			}
		}
		o.lifecycle.NoteSignalLost(m.At)

	case MsgGPSRestored, MsgStreamRecovered:
		shift, err := o.store.ActiveShift(o.employeeID)
		if err != nil {
			return fmt.Errorf("finding active shift: %w", err)
		}
		if shift != nil {
			if err := o.gaps.NoteSignalRestored(shift.ID, m.At); err != nil {
				return err
			}
		}
		o.lifecycle.NoteSignalRestored()
		if m.Type == MsgStreamRecovered {
			o.diag.Log(CategoryCapture, SeverityInfo, "capture stream recovered", nil)
		}

	case MsgStreamRecoveryFailing:
		o.diag.Log(CategoryCapture, SeverityError, "capture stream recovery failing", nil)

	case MsgError:
		o.diag.Log(CategoryCapture, SeverityDebug, "capture sample failed",
			map[string]any{"error": m.Error})

	case MsgHeartbeat:
		o.mu.Lock()
		o.lastHeartbeat = m.At
		o.mu.Unlock()

	case MsgStarted, MsgStopped, MsgStatus:
		o.logger.Debug("capture lifecycle message",
			"type", string(m.Type), "shift_id", m.ShiftID, "status", m.Status)

	case MsgDiagnostic:
		if m.Diagnostic != nil {
			o.diag.Log(m.Diagnostic.Category, m.Diagnostic.Severity, m.Diagnostic.Message, nil)
		}
	}
	return nil
}

// handlePosition persists a sample for the active shift, feeds the gap
// detector, and clears any grace countdown. Positions arriving with no
// active shift (late messages after clock-out) are dropped.
func (o *Orchestrator) handlePosition(m Message) error {
	if m.Position == nil {
		return nil
	}
	shift, err := o.store.ActiveShift(o.employeeID)
	if err != nil {
		return fmt.Errorf("finding active shift: %w", err)
	}
	if shift == nil || (m.ShiftID != "" && m.ShiftID != shift.ID) {
		o.logger.Debug("dropping position with no matching active shift", "shift_id", m.ShiftID)
		return nil
	}

	loc := Location{Latitude: m.Position.Latitude, Longitude: m.Position.Longitude, Accuracy: m.Position.Accuracy}
	if err := loc.Validate(); err != nil {
		o.diag.LogForShift(&shift.ID, CategoryCapture, SeverityWarn,
			"discarding out-of-range position", map[string]any{"error": err.Error()})
		return nil
	}

	sample := &LocationSample{
		ID:         o.idgen.New(),
		ShiftID:    shift.ID,
		EmployeeID: shift.EmployeeID,
		Latitude:   m.Position.Latitude,
		Longitude:  m.Position.Longitude,
		Accuracy:   m.Position.Accuracy,
		CapturedAt: m.Position.CapturedAt,
		Speed:      m.Position.Speed,
		Heading:    m.Position.Heading,
		Altitude:   m.Position.Altitude,
		Mock:       m.Position.Mock,
		SyncStatus: SyncPending,
		CreatedAt:  o.clock.Now(),
	}
	if err := o.store.InsertSample(sample); err != nil {
		return fmt.Errorf("persisting sample: %w", err)
	}

	if err := o.gaps.NoteSample(shift, m.Position.CapturedAt); err != nil {
		return err
	}
	o.lifecycle.NoteSignalRestored()
	return nil
}

// Tick runs the periodic checks: gap liveness, grace expiry, and the
// midnight boundary.
func (o *Orchestrator) Tick(now time.Time) error {
	if err := o.gaps.Check(now); err != nil {
		return fmt.Errorf("gap check: %w", err)
	}
	if err := o.lifecycle.CheckGrace(now); err != nil {
		return fmt.Errorf("grace check: %w", err)
	}
	if err := o.lifecycle.CheckBoundary(now); err != nil {
		return fmt.Errorf("boundary check: %w", err)
	}
	return nil
}

// LastHeartbeat returns when the capture context last reported in.
func (o *Orchestrator) LastHeartbeat() time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastHeartbeat
}
