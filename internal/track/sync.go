package track

import (
	"context"
	"fmt"
	"time"
)

// SyncConfig tunes the sync engine.
type SyncConfig struct {
	// BatchSize bounds how many records go into one upload call.
	BatchSize int

	// RetryCeiling is how many non-transient rejections a record survives
	// before it moves to quarantine. Never applied to network failures.
	RetryCeiling int

	// LeaseTimeout is how old an in-progress flag may be before another
	// sync run takes it over (crash recovery).
	LeaseTimeout time.Duration

	// MaxSampleRows and MaxDiagnosticRows cap local storage; oldest synced
	// rows beyond the cap are pruned after a successful run. Zero disables.
	MaxSampleRows     int
	MaxDiagnosticRows int
}

// DefaultSyncConfig uses 50-record batches and a retry ceiling of 3.
var DefaultSyncConfig = SyncConfig{
	BatchSize:         50,
	RetryCeiling:      3,
	LeaseTimeout:      10 * time.Minute,
	MaxSampleRows:     50000,
	MaxDiagnosticRows: 5000,
}

// CategoryTally counts per-record outcomes for one upload category.
type CategoryTally struct {
	Accepted    int
	Duplicate   int
	Rejected    int
	Quarantined int
}

// SyncReport summarizes one sync cycle.
type SyncReport struct {
	StartedAt   time.Time
	Duration    time.Duration
	Shifts      CategoryTally
	Gaps        CategoryTally
	Samples     CategoryTally
	Diagnostics CategoryTally
	Reconciled  int
}

// SyncEngine drains the local store into the remote store in fixed priority
// order: shifts, then gaps, then samples, then diagnostics. Exactly one
// sync runs at a time, enforced through the cursor's in-progress flag.
type SyncEngine struct {
	store      Store
	remote     Remote
	backoff    *BackoffController
	quarantine *QuarantineManager
	lifecycle  *ShiftLifecycle // optional; enables server-closure reconciliation
	logger     Logger
	clock      Clock
	cfg        SyncConfig
}

// NewSyncEngine creates the engine. lifecycle may be nil, which disables
// the shift reconciliation pass.
func NewSyncEngine(store Store, remote Remote, backoff *BackoffController, quarantine *QuarantineManager, lifecycle *ShiftLifecycle, logger Logger, clock Clock, cfg SyncConfig) *SyncEngine {
	return &SyncEngine{
		store:      store,
		remote:     remote,
		backoff:    backoff,
		quarantine: quarantine,
		lifecycle:  lifecycle,
		logger:     logger,
		clock:      clock,
		cfg:        cfg,
	}
}

// Ready reports whether the backoff schedule allows a sync attempt now.
func (e *SyncEngine) Ready() (bool, error) {
	return e.backoff.Ready()
}

// RunOnce executes one sync cycle. A batch-level failure (network
// unreachable, timeout) leaves all records pending, bumps the backoff
// counter, and is returned; the report still reflects work done before the
// failure. Returns ErrSyncInProgress if another run holds the lock.
func (e *SyncEngine) RunOnce(ctx context.Context) (*SyncReport, error) {
	acquired, err := e.store.AcquireSyncLock(e.clock.Now(), e.cfg.LeaseTimeout)
	if err != nil {
		return nil, fmt.Errorf("acquiring sync lock: %w", err)
	}
	if !acquired {
		return nil, ErrSyncInProgress
	}
	defer func() {
		if err := e.store.ReleaseSyncLock(); err != nil {
			e.logger.Error("releasing sync lock", "error", err.Error())
		}
	}()

	if err := e.backoff.RecordAttempt(); err != nil {
		return nil, err
	}

	report := &SyncReport{StartedAt: e.clock.Now()}
	defer func() { report.Duration = e.clock.Now().Sub(report.StartedAt) }()

	// Priority order is fixed. Any batch failure below stops the cycle;
	// diagnostics are handled after and can never cause it to fail.
	err = runCategory(ctx, e, RecordShift, &report.Shifts,
		e.store.PendingShifts, e.remote.UploadShifts,
		func(s *Shift) (string, int) { return s.ID, s.SyncAttempts })
	if err == nil {
		err = runCategory(ctx, e, RecordGap, &report.Gaps,
			e.store.PendingGaps, e.remote.UploadGaps,
			func(g *SignalGap) (string, int) { return g.ID, g.SyncAttempts })
	}
	if err == nil {
		err = runCategory(ctx, e, RecordSample, &report.Samples,
			e.store.PendingSamples, e.remote.UploadSamples,
			func(s *LocationSample) (string, int) { return s.ID, s.SyncAttempts })
	}
	if err != nil {
		if wait, berr := e.backoff.RecordFailure(err); berr != nil {
			e.logger.Error("recording sync failure", "error", berr.Error())
		} else {
			e.logger.Warn("sync failed", "error", err.Error(), "next_backoff", wait.String())
		}
		return report, err
	}

	report.Reconciled = e.reconcileShifts(ctx)

	// Diagnostics are lowest priority and best effort.
	if derr := runCategory(ctx, e, RecordDiagnostic, &report.Diagnostics,
		e.store.PendingDiagnostics, e.remote.UploadDiagnostics,
		func(d *DiagnosticEvent) (string, int) { return d.ID, d.SyncAttempts }); derr != nil {
		e.logger.Warn("diagnostic sync failed", "error", derr.Error())
	}

	if err := e.backoff.RecordSuccess(); err != nil {
		return report, err
	}
	if err := e.refreshPendingCounts(); err != nil {
		e.logger.Error("refreshing pending counts", "error", err.Error())
	}
	if e.cfg.MaxSampleRows > 0 || e.cfg.MaxDiagnosticRows > 0 {
		if pruned, err := e.store.PruneSynced(e.cfg.MaxSampleRows, e.cfg.MaxDiagnosticRows); err != nil {
			e.logger.Error("pruning synced rows", "error", err.Error())
		} else if pruned > 0 {
			e.logger.Debug("pruned synced rows", "count", pruned)
		}
	}

	return report, nil
}

// runCategory uploads one category in bounded batches until its pending
// queue is empty. Cancellation is checked at batch boundaries only, so an
// in-flight call always completes and is never double-submitted.
func runCategory[T any](ctx context.Context, e *SyncEngine, rt RecordType, tally *CategoryTally,
	fetch func(limit int) ([]T, error),
	upload func(ctx context.Context, batch []T) (*BatchResult, error),
	meta func(T) (id string, attempts int)) error {

	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("sync cancelled: %w", err)
		}

		batch, err := fetch(e.cfg.BatchSize)
		if err != nil {
			return fmt.Errorf("fetching pending %ss: %w", rt, err)
		}
		if len(batch) == 0 {
			return nil
		}

		result, err := upload(ctx, batch)
		if err != nil {
			return fmt.Errorf("uploading %ss: %w", rt, err)
		}

		verdicts := make(map[string]*RecordResult, len(result.Results))
		for i := range result.Results {
			verdicts[result.Results[i].ID] = &result.Results[i]
		}

		quarantinedBefore := tally.Quarantined
		var syncedIDs []string
		serverIDs := make(map[string]string)
		for _, rec := range batch {
			id, _ := meta(rec)
			synced, err := applyOne(e, rt, tally, rec, verdicts[id], meta)
			if err != nil {
				return err
			}
			if synced {
				syncedIDs = append(syncedIDs, id)
				if sid := verdicts[id].ServerID; sid != "" {
					serverIDs[id] = sid
				}
			}
		}
		if len(syncedIDs) > 0 {
			if err := e.store.MarkSynced(rt, syncedIDs, serverIDs); err != nil {
				return fmt.Errorf("marking %ss synced: %w", rt, err)
			}
		}

		if len(batch) < e.cfg.BatchSize {
			return nil
		}
		// Nothing left the pending queue: the rest of this category is
		// rejected records waiting for their next attempt. Move on.
		if len(syncedIDs) == 0 && tally.Quarantined == quarantinedBefore {
			return nil
		}
	}
}

// applyOne folds one per-record outcome back into the store. Accepted and
// duplicate are both success; rejected records accrue attempts and move to
// quarantine at the retry ceiling. Returns whether the record should be
// marked synced.
func applyOne[T any](e *SyncEngine, rt RecordType, tally *CategoryTally, rec T, res *RecordResult, meta func(T) (string, int)) (bool, error) {
	id, attempts := meta(rec)

	if res == nil {
		// The server omitted a verdict; treat like a rejection but let the
		// retry ceiling decide, same as any malformed-response case.
		res = &RecordResult{ID: id, Outcome: OutcomeRejected,
			ErrorCode: "missing_result", ErrorMessage: "server returned no result for record"}
	}

	switch res.Outcome {
	case OutcomeRejected:
		tally.Rejected++
		if shift, ok := any(rec).(*Shift); ok && shift.Status == ShiftActive {
			return false, e.discardRejectedClockIn(shift, res, tally)
		}
		if attempts+1 >= e.cfg.RetryCeiling {
			tally.Quarantined++
			return false, e.quarantine.QuarantineRecord(rt, id, rec, res.ErrorCode, res.ErrorMessage)
		}
		if _, err := e.store.MarkSyncFailed(rt, id, res.ErrorMessage); err != nil {
			return false, fmt.Errorf("marking %s failed: %w", rt, err)
		}
		return false, nil
	case OutcomeDuplicate:
		tally.Duplicate++
		return true, nil
	default:
		tally.Accepted++
		return true, nil
	}
}

// discardRejectedClockIn handles the server refusing a shift that is still
// active locally. The row is removed right away so the employee can clock
// in again, instead of holding the active slot through the retry ceiling
// and a backed-off retry schedule. Anything already captured under the
// shift moves to quarantine with it; a shift with nothing captured yet is
// simply deleted.
func (e *SyncEngine) discardRejectedClockIn(shift *Shift, res *RecordResult, tally *CategoryTally) error {
	samples, err := e.store.SamplesForShift(shift.ID)
	if err != nil {
		return fmt.Errorf("loading samples of rejected shift: %w", err)
	}
	gaps, err := e.store.GapsForShift(shift.ID)
	if err != nil {
		return fmt.Errorf("loading gaps of rejected shift: %w", err)
	}

	if len(samples) > 0 || len(gaps) > 0 {
		tally.Quarantined++
		return e.quarantine.QuarantineRecord(RecordShift, shift.ID, shift, res.ErrorCode, res.ErrorMessage)
	}

	e.logger.Warn("clock-in rejected by server, removing local shift",
		"shift_id", shift.ID, "code", res.ErrorCode)
	if err := e.store.DeleteShift(shift.ID); err != nil {
		return fmt.Errorf("removing rejected shift: %w", err)
	}
	return nil
}

// reconcileShifts asks the server for its view of locally active shifts and
// applies any server-forced closures. Failures here are logged, not fatal:
// the upload half of the cycle already succeeded.
func (e *SyncEngine) reconcileShifts(ctx context.Context) int {
	if e.lifecycle == nil {
		return 0
	}
	active, err := e.store.ActiveShifts()
	if err != nil {
		e.logger.Error("listing active shifts for reconciliation", "error", err.Error())
		return 0
	}
	if len(active) == 0 {
		return 0
	}

	ids := make([]string, len(active))
	for i, s := range active {
		ids[i] = s.ID
	}
	states, err := e.remote.ShiftStates(ctx, ids)
	if err != nil {
		e.logger.Warn("fetching remote shift states", "error", err.Error())
		return 0
	}

	reconciled := 0
	for _, state := range states {
		if state.Status != ShiftCompleted {
			continue
		}
		if err := e.lifecycle.ApplyServerState(state); err != nil {
			e.logger.Error("applying server shift state", "shift_id", state.ID, "error", err.Error())
			continue
		}
		reconciled++
	}
	return reconciled
}

// refreshPendingCounts stores current pending counts on the cursor for the
// UI layer's sync indicator.
func (e *SyncEngine) refreshPendingCounts() error {
	counts, err := e.store.PendingCounts()
	if err != nil {
		return err
	}
	cur, err := e.store.Cursor()
	if err != nil {
		return err
	}
	cur.PendingShifts = counts.Shifts
	cur.PendingGaps = counts.Gaps
	cur.PendingSamples = counts.Samples
	cur.PendingDiagnostics = counts.Diagnostics
	return e.store.UpdateCursor(cur)
}
