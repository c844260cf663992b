package track_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"tt-go/internal/remote"
	"tt-go/internal/testutil"
	"tt-go/internal/track"
)

type syncFixture struct {
	store      track.Store
	clock      *testutil.StubClock
	remote     *remote.MemoryRemote
	backoff    *track.BackoffController
	quarantine *track.QuarantineManager
	engine     *track.SyncEngine
}

func newSyncFixture(t *testing.T) *syncFixture {
	return newSyncFixtureCfg(t, track.DefaultSyncConfig)
}

func newSyncFixtureCfg(t *testing.T, cfg track.SyncConfig) *syncFixture {
	t.Helper()

	st := testutil.NewTestStore(t)
	clock := testutil.FixedClock()
	idgen := testutil.NewStubIDGenerator()
	logger := track.NewNopLogger()
	rem := remote.NewMemoryRemote()

	backoff := track.NewBackoffController(st, clock, track.DefaultBackoffPolicy)
	quarantine := track.NewQuarantineManager(st, logger, clock, idgen)
	engine := track.NewSyncEngine(st, rem, backoff, quarantine, nil, logger, clock, cfg)

	return &syncFixture{
		store: st, clock: clock, remote: rem,
		backoff: backoff, quarantine: quarantine, engine: engine,
	}
}

// seedShift stores a completed shift with the given number of samples.
func (f *syncFixture) seedShift(t *testing.T, id string, samples int) *track.Shift {
	t.Helper()

	shift := testutil.NewShift(id, "emp-1", f.clock.Now())
	if err := f.store.CreateShift(shift); err != nil {
		t.Fatalf("CreateShift() error = %v", err)
	}
	for i := 0; i < samples; i++ {
		s := testutil.NewSample(fmt.Sprintf("%s-smp-%d", id, i), shift,
			f.clock.Now().Add(time.Duration(i)*time.Minute))
		if err := f.store.InsertSample(s); err != nil {
			t.Fatalf("InsertSample() error = %v", err)
		}
	}
	testutil.CompleteShift(shift, f.clock.Now().Add(time.Duration(samples)*time.Minute))
	if err := f.store.UpdateShift(shift); err != nil {
		t.Fatalf("UpdateShift() error = %v", err)
	}
	return shift
}

func TestSyncEngine_RunOnce(t *testing.T) {
	t.Run("drains all pending records", func(t *testing.T) {
		f := newSyncFixture(t)
		shift := f.seedShift(t, "shift-1", 3)

		gap := &track.SignalGap{
			ID: "gap-1", ShiftID: shift.ID, EmployeeID: shift.EmployeeID,
			StartedAt: f.clock.Now(), Reason: track.GapReasonGPSLost,
			SyncStatus: track.SyncPending, CreatedAt: f.clock.Now(),
		}
		if err := f.store.OpenGap(gap); err != nil {
			t.Fatalf("OpenGap() error = %v", err)
		}
		if err := f.store.CloseGap(gap.ID, f.clock.Now().Add(time.Minute)); err != nil {
			t.Fatalf("CloseGap() error = %v", err)
		}

		report, err := f.engine.RunOnce(context.Background())
		if err != nil {
			t.Fatalf("RunOnce() error = %v", err)
		}
		if report.Shifts.Accepted != 1 {
			t.Errorf("Shifts.Accepted = %d, want 1", report.Shifts.Accepted)
		}
		if report.Gaps.Accepted != 1 {
			t.Errorf("Gaps.Accepted = %d, want 1", report.Gaps.Accepted)
		}
		if report.Samples.Accepted != 3 {
			t.Errorf("Samples.Accepted = %d, want 3", report.Samples.Accepted)
		}

		counts, err := f.store.PendingCounts()
		if err != nil {
			t.Fatalf("PendingCounts() error = %v", err)
		}
		if counts.Shifts+counts.Gaps+counts.Samples != 0 {
			t.Errorf("pending after sync = %+v, want all zero", counts)
		}
	})

	t.Run("second run moves nothing", func(t *testing.T) {
		f := newSyncFixture(t)
		f.seedShift(t, "shift-1", 2)

		if _, err := f.engine.RunOnce(context.Background()); err != nil {
			t.Fatalf("first RunOnce() error = %v", err)
		}
		before := f.remote.SeenCount(track.RecordSample)

		report, err := f.engine.RunOnce(context.Background())
		if err != nil {
			t.Fatalf("second RunOnce() error = %v", err)
		}
		if got := report.Shifts.Accepted + report.Samples.Accepted; got != 0 {
			t.Errorf("second run accepted %d records, want 0", got)
		}
		if after := f.remote.SeenCount(track.RecordSample); after != before {
			t.Errorf("server sample count changed %d -> %d on re-run", before, after)
		}
	})

	t.Run("re-uploading an updated shift is a duplicate, not a new row", func(t *testing.T) {
		f := newSyncFixture(t)
		shift := f.seedShift(t, "shift-1", 0)

		if _, err := f.engine.RunOnce(context.Background()); err != nil {
			t.Fatalf("RunOnce() error = %v", err)
		}

		// Clock-out updates flip the shift back to pending for re-upload.
		note := "done"
		shift.ClockOutNote = &note
		shift.SyncStatus = track.SyncPending
		if err := f.store.UpdateShift(shift); err != nil {
			t.Fatalf("UpdateShift() error = %v", err)
		}

		report, err := f.engine.RunOnce(context.Background())
		if err != nil {
			t.Fatalf("RunOnce() error = %v", err)
		}
		if report.Shifts.Duplicate != 1 {
			t.Errorf("Shifts.Duplicate = %d, want 1", report.Shifts.Duplicate)
		}
		if got := f.remote.SeenCount(track.RecordShift); got != 1 {
			t.Errorf("server shift count = %d, want 1", got)
		}
	})

	t.Run("network failure leaves records pending and widens backoff", func(t *testing.T) {
		f := newSyncFixture(t)
		f.seedShift(t, "shift-1", 2)
		f.remote.FailNext(1)

		if _, err := f.engine.RunOnce(context.Background()); err == nil {
			t.Fatal("RunOnce() succeeded, want failure")
		}

		counts, _ := f.store.PendingCounts()
		if counts.Shifts != 1 || counts.Samples != 2 {
			t.Errorf("pending = %+v, want shift and samples untouched", counts)
		}
		cur, err := f.store.Cursor()
		if err != nil {
			t.Fatalf("Cursor() error = %v", err)
		}
		if cur.ConsecutiveFailures != 1 {
			t.Errorf("ConsecutiveFailures = %d, want 1", cur.ConsecutiveFailures)
		}
		if cur.CurrentBackoff != track.DefaultBackoffPolicy.Floor {
			t.Errorf("CurrentBackoff = %v, want floor %v", cur.CurrentBackoff, track.DefaultBackoffPolicy.Floor)
		}
		if ready, _ := f.engine.Ready(); ready {
			t.Error("Ready() = true right after a failure")
		}
	})

	t.Run("backoff doubles per failure and resets on success", func(t *testing.T) {
		f := newSyncFixture(t)
		f.seedShift(t, "shift-1", 0)

		want := []time.Duration{30 * time.Second, time.Minute, 2 * time.Minute}
		for i, w := range want {
			f.remote.FailNext(1)
			f.clock.Advance(time.Hour) // past any backoff window
			if _, err := f.engine.RunOnce(context.Background()); err == nil {
				t.Fatalf("attempt %d succeeded, want failure", i)
			}
			cur, _ := f.store.Cursor()
			if cur.CurrentBackoff != w {
				t.Errorf("backoff after failure %d = %v, want %v", i+1, cur.CurrentBackoff, w)
			}
		}

		f.clock.Advance(time.Hour)
		if _, err := f.engine.RunOnce(context.Background()); err != nil {
			t.Fatalf("RunOnce() error = %v", err)
		}
		cur, _ := f.store.Cursor()
		if cur.ConsecutiveFailures != 0 {
			t.Errorf("ConsecutiveFailures = %d after success, want 0", cur.ConsecutiveFailures)
		}
		if cur.CurrentBackoff != track.DefaultBackoffPolicy.Floor {
			t.Errorf("CurrentBackoff = %v after success, want floor", cur.CurrentBackoff)
		}
		if ready, _ := f.engine.Ready(); !ready {
			t.Error("Ready() = false after success")
		}
	})

	t.Run("only one run at a time", func(t *testing.T) {
		f := newSyncFixture(t)

		acquired, err := f.store.AcquireSyncLock(f.clock.Now(), 10*time.Minute)
		if err != nil || !acquired {
			t.Fatalf("AcquireSyncLock() = %v, %v", acquired, err)
		}

		if _, err := f.engine.RunOnce(context.Background()); !errors.Is(err, track.ErrSyncInProgress) {
			t.Fatalf("RunOnce() error = %v, want ErrSyncInProgress", err)
		}

		// A stale lease is taken over.
		f.clock.Advance(11 * time.Minute)
		if _, err := f.engine.RunOnce(context.Background()); err != nil {
			t.Fatalf("RunOnce() after stale lease error = %v", err)
		}
	})

	t.Run("refreshes cursor pending counts", func(t *testing.T) {
		f := newSyncFixture(t)
		f.seedShift(t, "shift-1", 1)

		if _, err := f.engine.RunOnce(context.Background()); err != nil {
			t.Fatalf("RunOnce() error = %v", err)
		}
		cur, _ := f.store.Cursor()
		if cur.PendingShifts != 0 || cur.PendingSamples != 0 {
			t.Errorf("cursor pending = %d shifts / %d samples, want 0/0",
				cur.PendingShifts, cur.PendingSamples)
		}
	})
}

func TestSyncEngine_Quarantine(t *testing.T) {
	t.Run("rejected record quarantines at the retry ceiling", func(t *testing.T) {
		f := newSyncFixture(t)
		shift := f.seedShift(t, "shift-1", 2)
		f.remote.Reject(shift.ID+"-smp-0", "invalid_payload", "latitude out of range")

		// Two runs retry the rejection; the third quarantines it.
		for i := 0; i < 2; i++ {
			report, err := f.engine.RunOnce(context.Background())
			if err != nil {
				t.Fatalf("run %d error = %v", i+1, err)
			}
			if report.Samples.Quarantined != 0 {
				t.Fatalf("run %d quarantined early", i+1)
			}
		}
		report, err := f.engine.RunOnce(context.Background())
		if err != nil {
			t.Fatalf("third run error = %v", err)
		}
		if report.Samples.Quarantined != 1 {
			t.Fatalf("Samples.Quarantined = %d, want 1", report.Samples.Quarantined)
		}

		quarantined, err := f.quarantine.List(track.RecordSample)
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if len(quarantined) != 1 {
			t.Fatalf("len(quarantined) = %d, want 1", len(quarantined))
		}
		q := quarantined[0]
		if q.OriginalID != shift.ID+"-smp-0" {
			t.Errorf("OriginalID = %q", q.OriginalID)
		}
		if q.ErrorCode != "invalid_payload" {
			t.Errorf("ErrorCode = %q", q.ErrorCode)
		}
		if q.Payload == "" {
			t.Error("quarantined payload is empty")
		}
	})

	t.Run("every record is accounted for", func(t *testing.T) {
		f := newSyncFixture(t)
		f.seedShift(t, "shift-1", 5)
		f.remote.Reject("shift-1-smp-2", "invalid_payload", "bad sample")

		for i := 0; i < 3; i++ {
			if _, err := f.engine.RunOnce(context.Background()); err != nil {
				t.Fatalf("run %d error = %v", i+1, err)
			}
		}

		counts, _ := f.store.PendingCounts()
		stats, err := f.quarantine.Stats()
		if err != nil {
			t.Fatalf("Stats() error = %v", err)
		}
		synced := f.remote.SeenCount(track.RecordSample)
		if got := counts.Samples + synced + stats.Pending; got != 5 {
			t.Errorf("pending %d + synced %d + quarantined %d = %d, want 5",
				counts.Samples, synced, stats.Pending, got)
		}
	})

	t.Run("a quarantined shift carries its unsynced samples and gaps", func(t *testing.T) {
		cfg := track.DefaultSyncConfig
		cfg.RetryCeiling = 1
		f := newSyncFixtureCfg(t, cfg)

		shift := f.seedShift(t, "shift-1", 5)
		gap := &track.SignalGap{
			ID: "gap-1", ShiftID: shift.ID, EmployeeID: shift.EmployeeID,
			StartedAt: f.clock.Now(), Reason: track.GapReasonGPSLost,
			SyncStatus: track.SyncPending, CreatedAt: f.clock.Now(),
		}
		if err := f.store.OpenGap(gap); err != nil {
			t.Fatalf("OpenGap() error = %v", err)
		}
		if err := f.store.CloseGap(gap.ID, f.clock.Now().Add(time.Minute)); err != nil {
			t.Fatalf("CloseGap() error = %v", err)
		}
		f.remote.Reject(shift.ID, "unknown_employee", "employee not on roster")

		report, err := f.engine.RunOnce(context.Background())
		if err != nil {
			t.Fatalf("RunOnce() error = %v", err)
		}
		if report.Shifts.Quarantined != 1 {
			t.Fatalf("Shifts.Quarantined = %d, want 1", report.Shifts.Quarantined)
		}

		counts, _ := f.store.PendingCounts()
		if counts.Shifts+counts.Gaps+counts.Samples != 0 {
			t.Errorf("pending after quarantine = %+v, want all zero", counts)
		}
		records, err := f.quarantine.List("")
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if len(records) != 7 {
			t.Fatalf("len(quarantined) = %d, want shift + 5 samples + gap = 7", len(records))
		}
		byType := map[track.RecordType]int{}
		for _, r := range records {
			byType[r.RecordType]++
			if r.Payload == "" {
				t.Errorf("quarantined %s %s has an empty payload", r.RecordType, r.OriginalID)
			}
		}
		if byType[track.RecordShift] != 1 || byType[track.RecordSample] != 5 || byType[track.RecordGap] != 1 {
			t.Errorf("quarantined by type = %v", byType)
		}
		if got := f.remote.SeenCount(track.RecordSample); got != 0 {
			t.Errorf("server sample count = %d, want 0", got)
		}
	})

	t.Run("a rejected clock-in frees the active slot for retry", func(t *testing.T) {
		f := newSyncFixture(t)
		shift := testutil.NewShift("shift-1", "emp-1", f.clock.Now())
		if err := f.store.CreateShift(shift); err != nil {
			t.Fatalf("CreateShift() error = %v", err)
		}
		f.remote.Reject(shift.ID, "unknown_employee", "employee not on roster")

		report, err := f.engine.RunOnce(context.Background())
		if err != nil {
			t.Fatalf("RunOnce() error = %v", err)
		}
		if report.Shifts.Rejected != 1 {
			t.Errorf("Shifts.Rejected = %d, want 1", report.Shifts.Rejected)
		}

		got, err := f.store.ShiftByID(shift.ID)
		if err != nil {
			t.Fatalf("ShiftByID() error = %v", err)
		}
		if got != nil {
			t.Fatal("rejected clock-in still present after sync")
		}
		// Nothing was captured yet, so nothing needs review.
		stats, _ := f.quarantine.Stats()
		if stats.Pending != 0 {
			t.Errorf("quarantine Pending = %d, want 0", stats.Pending)
		}
		// The employee can clock in again right away.
		if err := f.store.CreateShift(testutil.NewShift("shift-2", "emp-1", f.clock.Now())); err != nil {
			t.Fatalf("CreateShift() after rejection error = %v", err)
		}
	})

	t.Run("a rejected active shift with captured data moves to quarantine", func(t *testing.T) {
		f := newSyncFixture(t)
		shift := testutil.NewShift("shift-1", "emp-1", f.clock.Now())
		if err := f.store.CreateShift(shift); err != nil {
			t.Fatalf("CreateShift() error = %v", err)
		}
		for i := 0; i < 2; i++ {
			s := testutil.NewSample(fmt.Sprintf("smp-%d", i), shift, f.clock.Now().Add(time.Duration(i)*time.Minute))
			if err := f.store.InsertSample(s); err != nil {
				t.Fatalf("InsertSample() error = %v", err)
			}
		}
		f.remote.Reject(shift.ID, "unknown_employee", "employee not on roster")

		report, err := f.engine.RunOnce(context.Background())
		if err != nil {
			t.Fatalf("RunOnce() error = %v", err)
		}
		if report.Shifts.Quarantined != 1 {
			t.Errorf("Shifts.Quarantined = %d, want 1", report.Shifts.Quarantined)
		}

		if got, _ := f.store.ShiftByID(shift.ID); got != nil {
			t.Fatal("rejected shift still present after sync")
		}
		samples, _ := f.quarantine.List(track.RecordSample)
		if len(samples) != 2 {
			t.Errorf("quarantined samples = %d, want 2", len(samples))
		}
		counts, _ := f.store.PendingCounts()
		if counts.Samples != 0 {
			t.Errorf("pending samples = %d, want 0", counts.Samples)
		}
	})

	t.Run("review stamps the injected clock's time", func(t *testing.T) {
		cfg := track.DefaultSyncConfig
		cfg.RetryCeiling = 1
		f := newSyncFixtureCfg(t, cfg)
		f.seedShift(t, "shift-1", 0)
		f.remote.Reject("shift-1", "invalid_payload", "bad shift")

		if _, err := f.engine.RunOnce(context.Background()); err != nil {
			t.Fatalf("RunOnce() error = %v", err)
		}
		records, _ := f.quarantine.List(track.RecordShift)
		if len(records) != 1 {
			t.Fatalf("len(quarantined) = %d, want 1", len(records))
		}

		f.clock.Advance(45 * time.Minute)
		if err := f.quarantine.Resolve(records[0].ID, "re-entered"); err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		reviewed, _ := f.quarantine.List(track.RecordShift)
		if reviewed[0].ReviewedAt == nil || !reviewed[0].ReviewedAt.Equal(f.clock.Now()) {
			t.Errorf("ReviewedAt = %v, want %v", reviewed[0].ReviewedAt, f.clock.Now())
		}
	})

	t.Run("network failures never count toward the ceiling", func(t *testing.T) {
		f := newSyncFixture(t)
		shift := f.seedShift(t, "shift-1", 0)
		f.remote.FailNext(5)

		for i := 0; i < 5; i++ {
			f.clock.Advance(time.Hour)
			if _, err := f.engine.RunOnce(context.Background()); err == nil {
				t.Fatalf("run %d succeeded, want failure", i+1)
			}
		}

		stats, _ := f.quarantine.Stats()
		if stats.Pending != 0 {
			t.Errorf("quarantined %d records after network failures, want 0", stats.Pending)
		}
		got, err := f.store.ShiftByID(shift.ID)
		if err != nil || got == nil {
			t.Fatalf("ShiftByID() = %v, %v", got, err)
		}
	})
}

// A device that lost its sync bookkeeping (restored backup, recreated
// store) replays records the server already holds. The whole replay must
// come back as duplicates across multiple batches, never as new rows.
func TestSyncEngine_BatchReplay(t *testing.T) {
	first := newSyncFixture(t)
	first.seedShift(t, "shift-1", 60)

	report, err := first.engine.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("first device RunOnce() error = %v", err)
	}
	if report.Samples.Accepted != 60 {
		t.Fatalf("Samples.Accepted = %d, want 60", report.Samples.Accepted)
	}

	// Second store, same remote, same record IDs.
	st := testutil.NewTestStore(t)
	clock := testutil.FixedClock()
	backoff := track.NewBackoffController(st, clock, track.DefaultBackoffPolicy)
	quarantine := track.NewQuarantineManager(st, track.NewNopLogger(), clock, testutil.NewStubIDGenerator())
	engine := track.NewSyncEngine(st, first.remote, backoff, quarantine, nil,
		track.NewNopLogger(), clock, track.DefaultSyncConfig)
	replayed := &syncFixture{store: st, clock: clock, remote: first.remote,
		backoff: backoff, quarantine: quarantine, engine: engine}
	replayed.seedShift(t, "shift-1", 60)

	replay, err := engine.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("replay RunOnce() error = %v", err)
	}
	if replay.Samples.Duplicate != 60 || replay.Samples.Accepted != 0 {
		t.Errorf("replay samples = %d duplicate / %d accepted, want 60/0",
			replay.Samples.Duplicate, replay.Samples.Accepted)
	}
	if replay.Shifts.Duplicate != 1 {
		t.Errorf("replay Shifts.Duplicate = %d, want 1", replay.Shifts.Duplicate)
	}
	if got := first.remote.SeenCount(track.RecordSample); got != 60 {
		t.Errorf("server sample count = %d after replay, want 60", got)
	}
	counts, _ := st.PendingCounts()
	if counts.Shifts+counts.Samples != 0 {
		t.Errorf("pending after replay = %+v, want all zero", counts)
	}
}

func TestSyncEngine_Diagnostics(t *testing.T) {
	newDiag := func(id string, sev track.Severity) *track.DiagnosticEvent {
		return &track.DiagnosticEvent{
			ID: id, EmployeeID: "emp-1", DeviceID: "dev-1",
			Category: "sync", Severity: sev, Message: "test event",
			AppVersion: "test", Platform: "linux",
			SyncStatus: track.SyncPending, CreatedAt: time.Now().UTC(),
		}
	}

	t.Run("uploads pending diagnostics after the data categories", func(t *testing.T) {
		f := newSyncFixture(t)
		if err := f.store.InsertDiagnostic(newDiag("d-1", track.SeverityWarn)); err != nil {
			t.Fatalf("InsertDiagnostic() error = %v", err)
		}

		report, err := f.engine.RunOnce(context.Background())
		if err != nil {
			t.Fatalf("RunOnce() error = %v", err)
		}
		if report.Diagnostics.Accepted != 1 {
			t.Errorf("Diagnostics.Accepted = %d, want 1", report.Diagnostics.Accepted)
		}
	})

	t.Run("debug events stay local", func(t *testing.T) {
		f := newSyncFixture(t)
		if err := f.store.InsertDiagnostic(newDiag("d-1", track.SeverityDebug)); err != nil {
			t.Fatalf("InsertDiagnostic() error = %v", err)
		}

		report, err := f.engine.RunOnce(context.Background())
		if err != nil {
			t.Fatalf("RunOnce() error = %v", err)
		}
		if report.Diagnostics.Accepted != 0 {
			t.Errorf("Diagnostics.Accepted = %d, want 0", report.Diagnostics.Accepted)
		}
	})

	t.Run("a diagnostic upload failure does not fail the run", func(t *testing.T) {
		f := newSyncFixture(t)
		f.seedShift(t, "shift-1", 0)
		if err := f.store.InsertDiagnostic(newDiag("d-1", track.SeverityError)); err != nil {
			t.Fatalf("InsertDiagnostic() error = %v", err)
		}
		if _, err := f.engine.RunOnce(context.Background()); err != nil {
			t.Fatalf("RunOnce() error = %v", err)
		}

		// Now a run where only diagnostics are left and their upload fails.
		if err := f.store.InsertDiagnostic(newDiag("d-2", track.SeverityError)); err != nil {
			t.Fatalf("InsertDiagnostic() error = %v", err)
		}
		f.remote.FailNext(1)
		if _, err := f.engine.RunOnce(context.Background()); err != nil {
			t.Fatalf("RunOnce() with failing diagnostics error = %v, want nil", err)
		}
		cur, _ := f.store.Cursor()
		if cur.ConsecutiveFailures != 0 {
			t.Errorf("ConsecutiveFailures = %d, want 0 after best-effort diagnostic failure",
				cur.ConsecutiveFailures)
		}
	})
}

func TestSyncEngine_Reconciliation(t *testing.T) {
	f := newLifecycleFixture(t, nil)
	rem := remote.NewMemoryRemote()
	backoff := track.NewBackoffController(f.store, f.clock, track.DefaultBackoffPolicy)
	quarantine := track.NewQuarantineManager(f.store, track.NewNopLogger(), f.clock, testutil.NewStubIDGenerator())
	engine := track.NewSyncEngine(f.store, rem, backoff, quarantine, f.lifecycle,
		track.NewNopLogger(), f.clock, track.DefaultSyncConfig)

	shift, err := f.lifecycle.ClockIn(context.Background(), validLocation())
	if err != nil {
		t.Fatalf("ClockIn() error = %v", err)
	}

	closedAt := f.clock.Now().Add(30 * time.Minute).Format(time.RFC3339)
	rem.SetShiftState(track.RemoteShiftState{
		ID: shift.ID, Status: track.ShiftCompleted, ClosedAt: &closedAt,
	})
	f.clock.Advance(time.Hour)

	report, err := engine.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if report.Reconciled != 1 {
		t.Errorf("Reconciled = %d, want 1", report.Reconciled)
	}

	got, err := f.store.ShiftByID(shift.ID)
	if err != nil {
		t.Fatalf("ShiftByID() error = %v", err)
	}
	if got.Status != track.ShiftCompleted {
		t.Errorf("Status = %q, want completed after reconciliation", got.Status)
	}
	if got.ClockOutReason == nil || *got.ClockOutReason != track.ReasonServerForced {
		t.Errorf("ClockOutReason = %v, want %q", got.ClockOutReason, track.ReasonServerForced)
	}
}
