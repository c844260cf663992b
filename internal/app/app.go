package app

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"tt-go/internal/capture"
	"tt-go/internal/config"
	"tt-go/internal/keys"
	"tt-go/internal/remote"
	"tt-go/internal/store"
	"tt-go/internal/track"
)

// Version is set at build time.
var Version = "dev"

// tickInterval drives periodic lifecycle checks (gap detection, grace
// deadlines, the midnight boundary) in the agent loop.
const tickInterval = 30 * time.Second

// Options carries the platform-specific pieces the application cannot
// construct itself. Zero values get working defaults: no gate, an
// unavailable location provider, nominal thermal readings.
type Options struct {
	// Gate is consulted before a clock-in is accepted (geofence,
	// working-hours policy). nil means clock-ins are always allowed.
	Gate track.ClockInGate

	// Provider is the position source for the capture service.
	Provider capture.Provider

	// Thermal reports platform thermal pressure.
	Thermal capture.ThermalMonitor
}

// TrackerApp is the application layer between the CLI and the tracking
// core. It constructs all dependencies from config, exposes high-level
// operations, and manages the store lifecycle on Close.
type TrackerApp struct {
	cfg        *config.Config
	store      track.Store
	key        *keys.StoreKey
	remote     track.Remote
	capture    *capture.Service
	gaps       *track.GapDetector
	lifecycle  *track.ShiftLifecycle
	diag       *track.DiagnosticPipeline
	backoff    *track.BackoffController
	quarantine *track.QuarantineManager
	sync       *track.SyncEngine
	orch       *track.Orchestrator
	clock      track.Clock
	logFile    *os.File
}

// NewTrackerApp creates a fully wired TrackerApp from the given config.
// The caller must call Close when done.
func NewTrackerApp(cfg *config.Config, opts Options) (*TrackerApp, error) {
	if cfg.DeviceID == "" {
		return nil, fmt.Errorf("device_id not configured")
	}
	if cfg.EmployeeID == "" {
		return nil, fmt.Errorf("employee_id not configured")
	}

	logger, logFile, err := newLogger(cfg.LogDir, cfg.DeviceID)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	tl := &slogAdapter{l: logger}

	opened, err := store.OpenFromConfig(cfg.Database, cfg.Keys.KeyPath, cfg.DeviceID)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("opening store: %w", err)
	}
	st := opened.Store

	if err := st.CheckMigrations(); err != nil {
		st.Close()
		logFile.Close()
		return nil, fmt.Errorf("store schema out of date: %w", err)
	}

	rem, err := remote.NewRemoteFromConfig(cfg.Remote, cfg.DeviceID)
	if err != nil {
		st.Close()
		logFile.Close()
		return nil, fmt.Errorf("creating remote: %w", err)
	}

	clock := track.RealClock{}
	idgen := track.UUIDGenerator{}

	device := track.DeviceContext{
		EmployeeID: cfg.EmployeeID,
		DeviceID:   cfg.DeviceID,
		AppVersion: Version,
		Platform:   runtime.GOOS,
	}
	diag := track.NewDiagnosticPipeline(st, tl, clock, idgen, device)
	if opened.Recovered {
		diag.Log(track.CategoryStore, track.SeverityCritical,
			"local store recreated, previously captured data was lost", map[string]any{
				"reason": opened.Reason,
			})
	}

	provider := opts.Provider
	if provider == nil {
		provider = capture.UnavailableProvider{}
	}
	capSvc := capture.NewService(provider, opts.Thermal, clock, CaptureConfig(cfg.Capture))

	gaps := track.NewGapDetector(st, tl, clock, idgen, track.GapDetectorConfig{
		Freshness:  time.Duration(cfg.Gaps.FreshnessSeconds) * time.Second,
		Escalation: time.Duration(cfg.Gaps.EscalationSeconds) * time.Second,
	}, capSvc)

	lifecycle := track.NewShiftLifecycle(st, capSvc, gaps, diag, tl, clock, idgen, opts.Gate,
		track.ShiftLifecycleConfig{
			GracePeriod: time.Duration(cfg.Shift.GracePeriodMinutes) * time.Minute,
		}, cfg.EmployeeID)

	backoff := track.NewBackoffController(st, clock, track.BackoffPolicy{
		Floor: time.Duration(cfg.Sync.BackoffFloorSeconds) * time.Second,
		Cap:   time.Duration(cfg.Sync.BackoffCapSeconds) * time.Second,
	})
	quarantine := track.NewQuarantineManager(st, tl, clock, idgen)

	syncEngine := track.NewSyncEngine(st, rem, backoff, quarantine, lifecycle, tl, clock,
		track.SyncConfig{
			BatchSize:         cfg.Sync.BatchSize,
			RetryCeiling:      cfg.Sync.RetryCeiling,
			LeaseTimeout:      10 * time.Minute,
			MaxSampleRows:     cfg.Storage.MaxSampleRows,
			MaxDiagnosticRows: cfg.Storage.MaxDiagnosticRows,
		})

	orch := track.NewOrchestrator(st, gaps, lifecycle, diag, tl, clock, idgen, cfg.EmployeeID)

	return &TrackerApp{
		cfg:        cfg,
		store:      st,
		key:        opened.Key,
		remote:     rem,
		capture:    capSvc,
		gaps:       gaps,
		lifecycle:  lifecycle,
		diag:       diag,
		backoff:    backoff,
		quarantine: quarantine,
		sync:       syncEngine,
		orch:       orch,
		clock:      clock,
		logFile:    logFile,
	}, nil
}

// CaptureConfig converts the file config's capture section into the
// service's tuning, keeping defaults for unset values. Shared with the
// standalone capture subprocess.
func CaptureConfig(c config.CaptureConfig) capture.Config {
	cfg := capture.DefaultConfig
	if c.ActiveIntervalSeconds > 0 {
		cfg.ActiveInterval = time.Duration(c.ActiveIntervalSeconds) * time.Second
	}
	if c.StationaryIntervalSeconds > 0 {
		cfg.StationaryInterval = time.Duration(c.StationaryIntervalSeconds) * time.Second
	}
	if c.MaxIntervalSeconds > 0 {
		cfg.MaxInterval = time.Duration(c.MaxIntervalSeconds) * time.Second
	}
	if c.HeartbeatSeconds > 0 {
		cfg.Heartbeat = time.Duration(c.HeartbeatSeconds) * time.Second
	}
	if c.FixTimeoutSeconds > 0 {
		cfg.FixTimeout = time.Duration(c.FixTimeoutSeconds) * time.Second
	}
	return cfg
}

// ClockIn starts a shift at the given location.
func (a *TrackerApp) ClockIn(ctx context.Context, loc track.Location) (*track.Shift, error) {
	return a.lifecycle.ClockIn(ctx, loc)
}

// ClockOut ends the active shift. loc may be nil when no position is
// available; the clock-out is still recorded.
func (a *TrackerApp) ClockOut(ctx context.Context, loc *track.Location, note string) (*track.Shift, error) {
	return a.lifecycle.ClockOut(ctx, loc, track.ReasonManual, note)
}

// StatusReport is the device-local view shown by the status command.
type StatusReport struct {
	ActiveShift *track.Shift
	Pending     *track.PendingCounts
	Cursor      *track.SyncCursor
	Quarantine  *track.QuarantineStats
}

// Status gathers the current capture and sync state.
func (a *TrackerApp) Status() (*StatusReport, error) {
	shift, err := a.store.ActiveShift(a.cfg.EmployeeID)
	if err != nil {
		return nil, fmt.Errorf("reading active shift: %w", err)
	}
	pending, err := a.store.PendingCounts()
	if err != nil {
		return nil, fmt.Errorf("counting pending records: %w", err)
	}
	cursor, err := a.store.Cursor()
	if err != nil {
		return nil, fmt.Errorf("reading sync cursor: %w", err)
	}
	qstats, err := a.quarantine.Stats()
	if err != nil {
		return nil, fmt.Errorf("reading quarantine stats: %w", err)
	}
	return &StatusReport{
		ActiveShift: shift,
		Pending:     pending,
		Cursor:      cursor,
		Quarantine:  qstats,
	}, nil
}

// SyncNow runs one sync cycle immediately, ignoring the backoff schedule.
func (a *TrackerApp) SyncNow(ctx context.Context) (*track.SyncReport, error) {
	return a.sync.RunOnce(ctx)
}

// Quarantine exposes the review operations to the CLI.
func (a *TrackerApp) Quarantine() *track.QuarantineManager { return a.quarantine }

// Export snapshots the store and writes a passphrase-encrypted copy to
// destPath. The snapshot is a complete, self-contained database file.
func (a *TrackerApp) Export(destPath, passphrase string) error {
	tmp, err := os.CreateTemp("", "tt-export-*.db")
	if err != nil {
		return fmt.Errorf("creating temp file for export: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	os.Remove(tmpPath) // VACUUM INTO refuses to overwrite
	defer os.Remove(tmpPath)

	if err := a.store.SnapshotTo(tmpPath); err != nil {
		return fmt.Errorf("snapshotting store: %w", err)
	}

	src, err := os.Open(tmpPath)
	if err != nil {
		return fmt.Errorf("opening snapshot: %w", err)
	}
	defer src.Close()

	dst, err := os.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("creating export file: %w", err)
	}
	defer dst.Close()

	if err := keys.EncryptWithPassphrase(src, dst, passphrase); err != nil {
		os.Remove(destPath)
		return fmt.Errorf("encrypting export: %w", err)
	}
	return nil
}

// Run is the agent loop: it resumes any active shift, consumes capture
// messages, drives periodic lifecycle checks, and schedules sync cycles.
// Blocks until ctx is cancelled.
func (a *TrackerApp) Run(ctx context.Context) error {
	if err := a.resumeActiveShift(); err != nil {
		return err
	}

	tick := time.NewTicker(tickInterval)
	defer tick.Stop()
	syncTick := time.NewTicker(time.Duration(a.cfg.Sync.IntervalSeconds) * time.Second)
	defer syncTick.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case m := <-a.capture.Messages():
			if err := a.orch.HandleMessage(m); err != nil {
				a.diag.Log(track.CategoryCapture, track.SeverityError,
					"handling capture message failed", map[string]any{
						"type":  string(m.Type),
						"error": err.Error(),
					})
			}

		case <-tick.C:
			// The clock's reading keeps its local zone: the midnight
			// boundary check closes shifts at local midnight, not UTC.
			if err := a.orch.Tick(a.clock.Now()); err != nil {
				a.diag.Log(track.CategoryShift, track.SeverityError,
					"periodic check failed", map[string]any{"error": err.Error()})
			}

		case <-syncTick.C:
			ready, err := a.sync.Ready()
			if err != nil {
				a.diag.Log(track.CategorySync, track.SeverityError,
					"sync readiness check failed", map[string]any{"error": err.Error()})
				continue
			}
			if !ready {
				continue
			}
			if _, err := a.sync.RunOnce(ctx); err != nil && ctx.Err() == nil {
				// RunOnce already recorded the failure against the
				// backoff schedule; this is operator visibility only.
				a.diag.Log(track.CategorySync, track.SeverityWarn,
					"sync cycle failed", map[string]any{"error": err.Error()})
			}
		}
	}
}

// resumeActiveShift re-arms gap detection and capture for a shift that was
// active when the previous process exited.
func (a *TrackerApp) resumeActiveShift() error {
	shift, err := a.store.ActiveShift(a.cfg.EmployeeID)
	if err != nil {
		return fmt.Errorf("checking for active shift: %w", err)
	}
	if shift == nil {
		return nil
	}
	a.gaps.Watch(shift)
	if err := a.capture.Start(shift.ID); err != nil {
		a.diag.LogForShift(&shift.ID, track.CategoryCapture, track.SeverityError,
			"resuming capture failed", map[string]any{"error": err.Error()})
	}
	return nil
}

// Close shuts down capture, flushes diagnostics, and closes the store.
func (a *TrackerApp) Close() error {
	a.capture.Stop()
	a.diag.Close()

	var firstErr error
	if err := a.store.Close(); err != nil {
		firstErr = fmt.Errorf("closing store: %w", err)
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}
