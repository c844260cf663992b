package track

import (
	"fmt"
	"sync"
	"time"
)

// RecoveryRequester asks the capture context to force a stream recovery.
// Satisfied by the capture service.
type RecoveryRequester interface {
	RequestRecovery()
}

// GapDetectorConfig tunes gap detection.
type GapDetectorConfig struct {
	// Freshness is how long the capture stream may be silent during an
	// active shift before a gap opens.
	Freshness time.Duration

	// Escalation is how long a gap may stay open before the detector
	// forces a stream recovery attempt.
	Escalation time.Duration
}

// DefaultGapDetectorConfig opens gaps after 90s of silence and escalates
// after 3 minutes.
var DefaultGapDetectorConfig = GapDetectorConfig{
	Freshness:  90 * time.Second,
	Escalation: 3 * time.Minute,
}

// GapDetector watches the capture stream's liveness for active shifts.
// Gaps are recorded durably the moment they open, so a process crash during
// a gap still leaves a correct, eventually-closable record. Ticks come from
// the orchestrator loop; the detector owns no timers.
type GapDetector struct {
	store    Store
	logger   Logger
	clock    Clock
	idgen    IDGenerator
	cfg      GapDetectorConfig
	recovery RecoveryRequester // optional

	mu        sync.Mutex
	lastSeen  map[string]time.Time // shift ID -> last sample time
	escalated map[string]bool      // shift ID -> recovery already requested
}

// NewGapDetector creates a detector. recovery may be nil.
func NewGapDetector(store Store, logger Logger, clock Clock, idgen IDGenerator, cfg GapDetectorConfig, recovery RecoveryRequester) *GapDetector {
	return &GapDetector{
		store:     store,
		logger:    logger,
		clock:     clock,
		idgen:     idgen,
		cfg:       cfg,
		recovery:  recovery,
		lastSeen:  make(map[string]time.Time),
		escalated: make(map[string]bool),
	}
}

// Watch begins liveness tracking for a shift. If the shift has an open gap
// from a previous run it stays open until a sample closes it.
func (d *GapDetector) Watch(shift *Shift) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.lastSeen[shift.ID]; !ok {
		d.lastSeen[shift.ID] = shift.ClockInAt
	}
}

// Unwatch stops liveness tracking for a shift. The shift's open gap, if
// any, is left to the caller (clock-out closes it).
func (d *GapDetector) Unwatch(shiftID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.lastSeen, shiftID)
	delete(d.escalated, shiftID)
}

// NoteSample records a fresh sample and closes any open gap at the sample's
// capture time.
func (d *GapDetector) NoteSample(shift *Shift, at time.Time) error {
	d.mu.Lock()
	if last, ok := d.lastSeen[shift.ID]; !ok || at.After(last) {
		d.lastSeen[shift.ID] = at
	}
	d.escalated[shift.ID] = false
	d.mu.Unlock()

	return d.closeOpenGap(shift.ID, at)
}

// NoteSignalLost opens a gap immediately with the given reason. Used when
// the capture context reports provider loss rather than silently stalling.
func (d *GapDetector) NoteSignalLost(shift *Shift, at time.Time, reason string) error {
	return d.openGap(shift, at, reason)
}

// NoteSignalRestored closes any open gap at the given time.
func (d *GapDetector) NoteSignalRestored(shiftID string, at time.Time) error {
	return d.closeOpenGap(shiftID, at)
}

// Check runs one liveness pass over all watched shifts. Call it from the
// orchestrator tick.
func (d *GapDetector) Check(now time.Time) error {
	d.mu.Lock()
	watched := make(map[string]time.Time, len(d.lastSeen))
	for id, t := range d.lastSeen {
		watched[id] = t
	}
	d.mu.Unlock()

	for shiftID, last := range watched {
		open, err := d.store.OpenGapForShift(shiftID)
		if err != nil {
			return fmt.Errorf("checking open gap: %w", err)
		}

		if open == nil {
			if now.Sub(last) > d.cfg.Freshness {
				shift, err := d.store.ShiftByID(shiftID)
				if err != nil {
					return fmt.Errorf("loading shift: %w", err)
				}
				if shift == nil || shift.Status != ShiftActive {
					d.Unwatch(shiftID)
					continue
				}
				if err := d.openGap(shift, last, GapReasonNoSamples); err != nil {
					return err
				}
			}
			continue
		}

		// Gap already open: escalate once past the threshold.
		if now.Sub(open.StartedAt) > d.cfg.Escalation {
			d.mu.Lock()
			already := d.escalated[shiftID]
			d.escalated[shiftID] = true
			d.mu.Unlock()
			if !already && d.recovery != nil {
				d.logger.Warn("gap escalation threshold crossed, forcing stream recovery",
					"shift_id", shiftID, "open_for", now.Sub(open.StartedAt).String())
				d.recovery.RequestRecovery()
			}
		}
	}
	return nil
}

// openGap durably records a gap start. A gap already open for the shift is
// left alone.
func (d *GapDetector) openGap(shift *Shift, startedAt time.Time, reason string) error {
	existing, err := d.store.OpenGapForShift(shift.ID)
	if err != nil {
		return fmt.Errorf("checking open gap: %w", err)
	}
	if existing != nil {
		return nil
	}

	gap := &SignalGap{
		ID:         d.idgen.New(),
		ShiftID:    shift.ID,
		EmployeeID: shift.EmployeeID,
		StartedAt:  startedAt,
		Reason:     reason,
		SyncStatus: SyncPending,
		CreatedAt:  d.clock.Now(),
	}
	if err := d.store.OpenGap(gap); err != nil {
		return fmt.Errorf("opening gap: %w", err)
	}

	d.logger.Warn("signal gap opened", "shift_id", shift.ID, "reason", reason)
	return nil
}

// closeOpenGap closes the shift's open gap, if any. endedAt is clamped to
// the gap start so EndedAt >= StartedAt always holds.
func (d *GapDetector) closeOpenGap(shiftID string, endedAt time.Time) error {
	open, err := d.store.OpenGapForShift(shiftID)
	if err != nil {
		return fmt.Errorf("checking open gap: %w", err)
	}
	if open == nil {
		return nil
	}

	if endedAt.Before(open.StartedAt) {
		endedAt = open.StartedAt
	}
	if err := d.store.CloseGap(open.ID, endedAt); err != nil {
		return fmt.Errorf("closing gap: %w", err)
	}

	d.logger.Info("signal gap closed",
		"shift_id", shiftID, "duration", endedAt.Sub(open.StartedAt).String())
	return nil
}
