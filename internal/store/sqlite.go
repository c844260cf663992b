// Package store implements the local persistence layer on SQLite. The
// database file is bound to the device key through an encrypted sentinel;
// a key mismatch triggers wipe-and-recreate recovery. It is the only
// package that touches disk; every other component goes through the
// track.Store interface.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"

	"tt-go/internal/store/migrations"
	"tt-go/internal/track"
)

// SQLiteStore implements track.Store.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

var _ track.Store = (*SQLiteStore)(nil)

// OpenConnection opens and configures a SQLite connection. path can be a
// file path or ":memory:". The pool is limited to one connection: the
// store is single-writer, and in-memory databases exist per connection.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	if path != ":memory:" {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %q: %w", pragma, err)
		}
	}
	return db, nil
}

// NewSQLiteStore opens a store at path and brings the schema up to date.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if err := migrations.Up(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating store: %w", err)
	}
	return &SQLiteStore{db: db, path: path}, nil
}

// NewSQLiteStoreFromDB wraps an existing connection. The caller is
// responsible for schema setup.
func NewSQLiteStoreFromDB(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db, path: ""}
}

// Path returns the database file path (or "" for wrapped connections).
func (s *SQLiteStore) Path() string { return s.path }

// CheckMigrations verifies the schema is current.
func (s *SQLiteStore) CheckMigrations() error {
	return migrations.Check(s.db)
}

// storeErr classifies a SQLite failure into a typed StoreError.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	kind := track.StoreIO
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		switch serr.Code {
		case sqlite3.ErrConstraint:
			kind = track.StoreConstraint
		case sqlite3.ErrCorrupt, sqlite3.ErrNotADB:
			kind = track.StoreCorruption
		}
	}
	return track.NewStoreError(kind, op, err)
}

// Shift operations

const shiftColumns = `id, employee_id, status,
	clock_in_at, clock_in_latitude, clock_in_longitude, clock_in_accuracy,
	clock_out_at, clock_out_latitude, clock_out_longitude, clock_out_accuracy,
	clock_out_reason, clock_out_note,
	sync_status, sync_attempts, server_id, sync_error, created_at, updated_at`

func (s *SQLiteStore) CreateShift(shift *track.Shift) error {
	var outAt sql.NullTime
	var outLat, outLon, outAcc sql.NullFloat64
	var outReason, outNote sql.NullString
	if shift.ClockOutAt != nil {
		outAt = sql.NullTime{Time: *shift.ClockOutAt, Valid: true}
	}
	if shift.ClockOutLocation != nil {
		outLat = sql.NullFloat64{Float64: shift.ClockOutLocation.Latitude, Valid: true}
		outLon = sql.NullFloat64{Float64: shift.ClockOutLocation.Longitude, Valid: true}
		outAcc = sql.NullFloat64{Float64: shift.ClockOutLocation.Accuracy, Valid: true}
	}
	if shift.ClockOutReason != nil {
		outReason = sql.NullString{String: string(*shift.ClockOutReason), Valid: true}
	}
	if shift.ClockOutNote != nil {
		outNote = sql.NullString{String: *shift.ClockOutNote, Valid: true}
	}

	_, err := s.db.Exec(`INSERT INTO shifts (`+shiftColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		shift.ID, shift.EmployeeID, string(shift.Status),
		shift.ClockInAt, shift.ClockInLocation.Latitude, shift.ClockInLocation.Longitude, shift.ClockInLocation.Accuracy,
		outAt, outLat, outLon, outAcc, outReason, outNote,
		string(shift.SyncStatus), shift.SyncAttempts, nullStr(shift.ServerID), nullStr(shift.SyncError),
		shift.CreatedAt, shift.UpdatedAt)
	return storeErr("creating shift", err)
}

func (s *SQLiteStore) ActiveShift(employeeID string) (*track.Shift, error) {
	row := s.db.QueryRow(`SELECT `+shiftColumns+` FROM shifts
		WHERE employee_id = ? AND status = 'active'`, employeeID)
	shift, err := scanShift(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("finding active shift", err)
	}
	return shift, nil
}

func (s *SQLiteStore) ActiveShifts() ([]*track.Shift, error) {
	rows, err := s.db.Query(`SELECT ` + shiftColumns + ` FROM shifts
		WHERE status = 'active' ORDER BY clock_in_at`)
	if err != nil {
		return nil, storeErr("listing active shifts", err)
	}
	defer rows.Close()
	return collectShifts(rows)
}

func (s *SQLiteStore) ShiftByID(id string) (*track.Shift, error) {
	row := s.db.QueryRow(`SELECT `+shiftColumns+` FROM shifts WHERE id = ?`, id)
	shift, err := scanShift(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("finding shift", err)
	}
	return shift, nil
}

func (s *SQLiteStore) UpdateShift(shift *track.Shift) error {
	var outAt sql.NullTime
	var outLat, outLon, outAcc sql.NullFloat64
	var outReason, outNote sql.NullString
	if shift.ClockOutAt != nil {
		outAt = sql.NullTime{Time: *shift.ClockOutAt, Valid: true}
	}
	if shift.ClockOutLocation != nil {
		outLat = sql.NullFloat64{Float64: shift.ClockOutLocation.Latitude, Valid: true}
		outLon = sql.NullFloat64{Float64: shift.ClockOutLocation.Longitude, Valid: true}
		outAcc = sql.NullFloat64{Float64: shift.ClockOutLocation.Accuracy, Valid: true}
	}
	if shift.ClockOutReason != nil {
		outReason = sql.NullString{String: string(*shift.ClockOutReason), Valid: true}
	}
	if shift.ClockOutNote != nil {
		outNote = sql.NullString{String: *shift.ClockOutNote, Valid: true}
	}

	_, err := s.db.Exec(`UPDATE shifts SET status = ?,
		clock_out_at = ?, clock_out_latitude = ?, clock_out_longitude = ?, clock_out_accuracy = ?,
		clock_out_reason = ?, clock_out_note = ?,
		sync_status = ?, sync_attempts = ?, server_id = ?, sync_error = ?, updated_at = ?
		WHERE id = ?`,
		string(shift.Status), outAt, outLat, outLon, outAcc, outReason, outNote,
		string(shift.SyncStatus), shift.SyncAttempts, nullStr(shift.ServerID), nullStr(shift.SyncError),
		shift.UpdatedAt, shift.ID)
	return storeErr("updating shift", err)
}

func (s *SQLiteStore) DeleteShift(id string) error {
	_, err := s.db.Exec(`DELETE FROM shifts WHERE id = ?`, id)
	return storeErr("deleting shift", err)
}

func (s *SQLiteStore) PendingShifts(limit int) ([]*track.Shift, error) {
	rows, err := s.db.Query(`SELECT `+shiftColumns+` FROM shifts
		WHERE sync_status IN ('pending', 'error')
		ORDER BY clock_in_at LIMIT ?`, limit)
	if err != nil {
		return nil, storeErr("listing pending shifts", err)
	}
	defer rows.Close()
	return collectShifts(rows)
}

// Location sample operations

const sampleColumns = `id, shift_id, employee_id, latitude, longitude, accuracy,
	captured_at, speed, heading, altitude, is_mock, activity_type,
	sync_status, sync_attempts, created_at`

func (s *SQLiteStore) InsertSample(sample *track.LocationSample) error {
	_, err := s.db.Exec(`INSERT INTO location_samples (`+sampleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sample.ID, sample.ShiftID, sample.EmployeeID,
		sample.Latitude, sample.Longitude, sample.Accuracy, sample.CapturedAt,
		nullFloat(sample.Speed), nullFloat(sample.Heading), nullFloat(sample.Altitude),
		sample.Mock, nullStr(sample.ActivityType),
		string(sample.SyncStatus), sample.SyncAttempts, sample.CreatedAt)
	return storeErr("inserting sample", err)
}

func (s *SQLiteStore) SamplesForShift(shiftID string) ([]*track.LocationSample, error) {
	rows, err := s.db.Query(`SELECT `+sampleColumns+` FROM location_samples
		WHERE shift_id = ? ORDER BY captured_at`, shiftID)
	if err != nil {
		return nil, storeErr("listing samples", err)
	}
	defer rows.Close()
	return collectSamples(rows)
}

func (s *SQLiteStore) PendingSamples(limit int) ([]*track.LocationSample, error) {
	rows, err := s.db.Query(`SELECT `+sampleColumns+` FROM location_samples
		WHERE sync_status = 'pending' ORDER BY captured_at LIMIT ?`, limit)
	if err != nil {
		return nil, storeErr("listing pending samples", err)
	}
	defer rows.Close()
	return collectSamples(rows)
}

// Signal gap operations

const gapColumns = `id, shift_id, employee_id, started_at, ended_at, reason,
	sync_status, sync_attempts, created_at`

func (s *SQLiteStore) OpenGap(gap *track.SignalGap) error {
	var endedAt sql.NullTime
	if gap.EndedAt != nil {
		endedAt = sql.NullTime{Time: *gap.EndedAt, Valid: true}
	}
	_, err := s.db.Exec(`INSERT INTO signal_gaps (`+gapColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		gap.ID, gap.ShiftID, gap.EmployeeID, gap.StartedAt, endedAt, gap.Reason,
		string(gap.SyncStatus), gap.SyncAttempts, gap.CreatedAt)
	return storeErr("opening gap", err)
}

func (s *SQLiteStore) CloseGap(id string, endedAt time.Time) error {
	_, err := s.db.Exec(`UPDATE signal_gaps SET ended_at = ?
		WHERE id = ? AND ended_at IS NULL`, endedAt, id)
	return storeErr("closing gap", err)
}

func (s *SQLiteStore) OpenGapForShift(shiftID string) (*track.SignalGap, error) {
	row := s.db.QueryRow(`SELECT `+gapColumns+` FROM signal_gaps
		WHERE shift_id = ? AND ended_at IS NULL`, shiftID)
	gap, err := scanGap(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("finding open gap", err)
	}
	return gap, nil
}

func (s *SQLiteStore) GapsForShift(shiftID string) ([]*track.SignalGap, error) {
	rows, err := s.db.Query(`SELECT `+gapColumns+` FROM signal_gaps
		WHERE shift_id = ? ORDER BY started_at`, shiftID)
	if err != nil {
		return nil, storeErr("listing gaps", err)
	}
	defer rows.Close()
	return collectGaps(rows)
}

func (s *SQLiteStore) PendingGaps(limit int) ([]*track.SignalGap, error) {
	rows, err := s.db.Query(`SELECT `+gapColumns+` FROM signal_gaps
		WHERE ended_at IS NOT NULL AND sync_status IN ('pending', 'error')
		ORDER BY started_at LIMIT ?`, limit)
	if err != nil {
		return nil, storeErr("listing pending gaps", err)
	}
	defer rows.Close()
	return collectGaps(rows)
}

// Sync cursor operations

const cursorColumns = `last_attempt_at, last_success_at, consecutive_failures,
	current_backoff_seconds, in_progress, in_progress_since, last_error,
	pending_shifts, pending_gaps, pending_samples, pending_diagnostics`

// Cursor returns the singleton cursor row, inserting it on first use.
func (s *SQLiteStore) Cursor() (*track.SyncCursor, error) {
	cur, err := s.readCursor()
	if err == nil || !errors.Is(err, sql.ErrNoRows) {
		if err != nil {
			return nil, storeErr("reading cursor", err)
		}
		return cur, nil
	}

	if _, err := s.db.Exec(`INSERT OR IGNORE INTO sync_cursor (id) VALUES ('singleton')`); err != nil {
		return nil, storeErr("creating cursor", err)
	}
	cur, err = s.readCursor()
	if err != nil {
		return nil, storeErr("reading cursor", err)
	}
	return cur, nil
}

func (s *SQLiteStore) readCursor() (*track.SyncCursor, error) {
	row := s.db.QueryRow(`SELECT ` + cursorColumns + ` FROM sync_cursor WHERE id = 'singleton'`)

	var cur track.SyncCursor
	var lastAttempt, lastSuccess, inProgressSince sql.NullTime
	var lastError sql.NullString
	var backoffSec int
	if err := row.Scan(&lastAttempt, &lastSuccess, &cur.ConsecutiveFailures,
		&backoffSec, &cur.InProgress, &inProgressSince, &lastError,
		&cur.PendingShifts, &cur.PendingGaps, &cur.PendingSamples, &cur.PendingDiagnostics); err != nil {
		return nil, err
	}
	cur.CurrentBackoff = time.Duration(backoffSec) * time.Second
	if lastAttempt.Valid {
		cur.LastAttemptAt = &lastAttempt.Time
	}
	if lastSuccess.Valid {
		cur.LastSuccessAt = &lastSuccess.Time
	}
	if inProgressSince.Valid {
		cur.InProgressSince = &inProgressSince.Time
	}
	if lastError.Valid {
		cur.LastError = &lastError.String
	}
	return &cur, nil
}

func (s *SQLiteStore) UpdateCursor(cur *track.SyncCursor) error {
	var lastAttempt, lastSuccess, inProgressSince sql.NullTime
	if cur.LastAttemptAt != nil {
		lastAttempt = sql.NullTime{Time: *cur.LastAttemptAt, Valid: true}
	}
	if cur.LastSuccessAt != nil {
		lastSuccess = sql.NullTime{Time: *cur.LastSuccessAt, Valid: true}
	}
	if cur.InProgressSince != nil {
		inProgressSince = sql.NullTime{Time: *cur.InProgressSince, Valid: true}
	}

	_, err := s.db.Exec(`UPDATE sync_cursor SET
		last_attempt_at = ?, last_success_at = ?, consecutive_failures = ?,
		current_backoff_seconds = ?, in_progress = ?, in_progress_since = ?, last_error = ?,
		pending_shifts = ?, pending_gaps = ?, pending_samples = ?, pending_diagnostics = ?
		WHERE id = 'singleton'`,
		lastAttempt, lastSuccess, cur.ConsecutiveFailures,
		int(cur.CurrentBackoff/time.Second), cur.InProgress, inProgressSince, nullStr(cur.LastError),
		cur.PendingShifts, cur.PendingGaps, cur.PendingSamples, cur.PendingDiagnostics)
	return storeErr("updating cursor", err)
}

// AcquireSyncLock sets the in-progress flag if no live sync holds it.
// A lease older than staleAfter is taken over: the previous run crashed.
func (s *SQLiteStore) AcquireSyncLock(now time.Time, staleAfter time.Duration) (bool, error) {
	if _, err := s.Cursor(); err != nil {
		return false, err
	}

	res, err := s.db.Exec(`UPDATE sync_cursor SET in_progress = 1, in_progress_since = ?
		WHERE id = 'singleton' AND (in_progress = 0
			OR in_progress_since IS NULL
			OR in_progress_since <= ?)`,
		now, now.Add(-staleAfter))
	if err != nil {
		return false, storeErr("acquiring sync lock", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storeErr("acquiring sync lock", err)
	}
	return n == 1, nil
}

func (s *SQLiteStore) ReleaseSyncLock() error {
	_, err := s.db.Exec(`UPDATE sync_cursor SET in_progress = 0, in_progress_since = NULL
		WHERE id = 'singleton'`)
	return storeErr("releasing sync lock", err)
}

// Sync bookkeeping

// tableFor maps a record type to its table. Quarantine and sync
// bookkeeping share it.
func tableFor(rt track.RecordType) (string, error) {
	switch rt {
	case track.RecordShift:
		return "shifts", nil
	case track.RecordSample:
		return "location_samples", nil
	case track.RecordGap:
		return "signal_gaps", nil
	case track.RecordDiagnostic:
		return "diagnostic_events", nil
	}
	return "", fmt.Errorf("unknown record type: %s", rt)
}

func (s *SQLiteStore) MarkSynced(rt track.RecordType, ids []string, serverIDs map[string]string) error {
	table, err := tableFor(rt)
	if err != nil {
		return storeErr("marking synced", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return storeErr("marking synced", err)
	}
	defer tx.Rollback()

	for _, id := range ids {
		if rt == track.RecordShift {
			var serverID sql.NullString
			if sid, ok := serverIDs[id]; ok {
				serverID = sql.NullString{String: sid, Valid: true}
			}
			_, err = tx.Exec(`UPDATE shifts SET sync_status = 'synced', sync_error = NULL,
				server_id = COALESCE(?, server_id) WHERE id = ?`, serverID, id)
		} else {
			_, err = tx.Exec(`UPDATE `+table+` SET sync_status = 'synced' WHERE id = ?`, id)
		}
		if err != nil {
			return storeErr("marking synced", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return storeErr("marking synced", err)
	}
	return nil
}

func (s *SQLiteStore) MarkSyncFailed(rt track.RecordType, id string, errMsg string) (int, error) {
	table, err := tableFor(rt)
	if err != nil {
		return 0, storeErr("marking sync failed", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, storeErr("marking sync failed", err)
	}
	defer tx.Rollback()

	switch rt {
	case track.RecordShift:
		_, err = tx.Exec(`UPDATE shifts SET sync_attempts = sync_attempts + 1,
			sync_status = 'error', sync_error = ? WHERE id = ?`, errMsg, id)
	case track.RecordSample:
		// Sample sync status is a two-state machine; failures stay pending.
		_, err = tx.Exec(`UPDATE location_samples SET sync_attempts = sync_attempts + 1
			WHERE id = ?`, id)
	default:
		_, err = tx.Exec(`UPDATE `+table+` SET sync_attempts = sync_attempts + 1,
			sync_status = 'error' WHERE id = ?`, id)
	}
	if err != nil {
		return 0, storeErr("marking sync failed", err)
	}

	var attempts int
	if err := tx.QueryRow(`SELECT sync_attempts FROM `+table+` WHERE id = ?`, id).Scan(&attempts); err != nil {
		return 0, storeErr("marking sync failed", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, storeErr("marking sync failed", err)
	}
	return attempts, nil
}

// Quarantine operations

// Quarantine inserts the quarantined copy and removes the original row in
// one transaction, so a record is never counted twice or lost in between.
func (s *SQLiteStore) Quarantine(rec *track.QuarantinedRecord) error {
	table, err := tableFor(rec.RecordType)
	if err != nil {
		return storeErr("quarantining record", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return storeErr("quarantining record", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`INSERT INTO quarantined_records
		(id, record_type, original_id, payload, error_code, error_message, quarantined_at, review_status, review_note, reviewed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, string(rec.RecordType), rec.OriginalID, rec.Payload,
		rec.ErrorCode, rec.ErrorMessage, rec.QuarantinedAt,
		string(rec.ReviewStatus), nullStr(rec.ReviewNote), nullTime(rec.ReviewedAt))
	if err != nil {
		return storeErr("quarantining record", err)
	}

	if _, err := tx.Exec(`DELETE FROM `+table+` WHERE id = ?`, rec.OriginalID); err != nil {
		return storeErr("quarantining record", err)
	}

	if err := tx.Commit(); err != nil {
		return storeErr("quarantining record", err)
	}
	return nil
}

func (s *SQLiteStore) QuarantinedRecords(rt track.RecordType) ([]*track.QuarantinedRecord, error) {
	query := `SELECT id, record_type, original_id, payload, error_code, error_message,
		quarantined_at, review_status, review_note, reviewed_at
		FROM quarantined_records`
	args := []any{}
	if rt != "" {
		query += ` WHERE record_type = ?`
		args = append(args, string(rt))
	}
	query += ` ORDER BY quarantined_at DESC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, storeErr("listing quarantined records", err)
	}
	defer rows.Close()

	var records []*track.QuarantinedRecord
	for rows.Next() {
		var rec track.QuarantinedRecord
		var rtStr, status string
		var note sql.NullString
		var reviewedAt sql.NullTime
		if err := rows.Scan(&rec.ID, &rtStr, &rec.OriginalID, &rec.Payload,
			&rec.ErrorCode, &rec.ErrorMessage, &rec.QuarantinedAt,
			&status, &note, &reviewedAt); err != nil {
			return nil, storeErr("scanning quarantined record", err)
		}
		rec.RecordType = track.RecordType(rtStr)
		rec.ReviewStatus = track.ReviewStatus(status)
		if note.Valid {
			rec.ReviewNote = &note.String
		}
		if reviewedAt.Valid {
			rec.ReviewedAt = &reviewedAt.Time
		}
		records = append(records, &rec)
	}
	return records, rows.Err()
}

// ReviewQuarantined moves a pending record to resolved or discarded.
// Reviewing a record twice, or an unknown one, is a constraint error.
func (s *SQLiteStore) ReviewQuarantined(id string, status track.ReviewStatus, note string, reviewedAt time.Time) error {
	if status != track.ReviewResolved && status != track.ReviewDiscarded {
		return track.NewStoreError(track.StoreConstraint, "reviewing quarantined record",
			fmt.Errorf("invalid review transition to %q", status))
	}

	res, err := s.db.Exec(`UPDATE quarantined_records
		SET review_status = ?, review_note = ?, reviewed_at = ?
		WHERE id = ? AND review_status = 'pending'`,
		string(status), note, reviewedAt, id)
	if err != nil {
		return storeErr("reviewing quarantined record", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr("reviewing quarantined record", err)
	}
	if n == 0 {
		return track.NewStoreError(track.StoreConstraint, "reviewing quarantined record",
			fmt.Errorf("no pending quarantined record with id %s", id))
	}
	return nil
}

func (s *SQLiteStore) QuarantineStats() (*track.QuarantineStats, error) {
	stats := &track.QuarantineStats{ByType: make(map[track.RecordType]int)}

	rows, err := s.db.Query(`SELECT review_status, record_type, COUNT(*)
		FROM quarantined_records GROUP BY review_status, record_type`)
	if err != nil {
		return nil, storeErr("reading quarantine stats", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status, rt string
		var count int
		if err := rows.Scan(&status, &rt, &count); err != nil {
			return nil, storeErr("scanning quarantine stats", err)
		}
		switch track.ReviewStatus(status) {
		case track.ReviewResolved:
			stats.Resolved += count
		case track.ReviewDiscarded:
			stats.Discarded += count
		default:
			stats.Pending += count
		}
		stats.ByType[track.RecordType(rt)] += count
	}
	return stats, rows.Err()
}

// Diagnostic operations

func (s *SQLiteStore) InsertDiagnostic(event *track.DiagnosticEvent) error {
	var metadata sql.NullString
	if len(event.Metadata) > 0 {
		data, err := json.Marshal(event.Metadata)
		if err != nil {
			return track.NewStoreError(track.StoreIO, "inserting diagnostic",
				fmt.Errorf("serializing metadata: %w", err))
		}
		metadata = sql.NullString{String: string(data), Valid: true}
	}

	_, err := s.db.Exec(`INSERT INTO diagnostic_events
		(id, employee_id, shift_id, device_id, category, severity, message, metadata,
		 app_version, platform, os_version, sync_status, sync_attempts, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.EmployeeID, nullStr(event.ShiftID), event.DeviceID,
		event.Category, string(event.Severity), event.Message, metadata,
		event.AppVersion, event.Platform, event.OSVersion,
		string(event.SyncStatus), event.SyncAttempts, event.CreatedAt)
	return storeErr("inserting diagnostic", err)
}

// PendingDiagnostics never returns debug events: those stay on the device.
func (s *SQLiteStore) PendingDiagnostics(limit int) ([]*track.DiagnosticEvent, error) {
	rows, err := s.db.Query(`SELECT id, employee_id, shift_id, device_id, category, severity,
		message, metadata, app_version, platform, os_version, sync_status, sync_attempts, created_at
		FROM diagnostic_events
		WHERE severity != 'debug' AND sync_status IN ('pending', 'error')
		ORDER BY created_at LIMIT ?`, limit)
	if err != nil {
		return nil, storeErr("listing pending diagnostics", err)
	}
	defer rows.Close()

	var events []*track.DiagnosticEvent
	for rows.Next() {
		var ev track.DiagnosticEvent
		var shiftID, metadata sql.NullString
		var severity, status string
		if err := rows.Scan(&ev.ID, &ev.EmployeeID, &shiftID, &ev.DeviceID, &ev.Category,
			&severity, &ev.Message, &metadata, &ev.AppVersion, &ev.Platform, &ev.OSVersion,
			&status, &ev.SyncAttempts, &ev.CreatedAt); err != nil {
			return nil, storeErr("scanning diagnostic", err)
		}
		ev.Severity = track.Severity(severity)
		ev.SyncStatus = track.SyncStatus(status)
		if shiftID.Valid {
			ev.ShiftID = &shiftID.String
		}
		if metadata.Valid {
			if err := json.Unmarshal([]byte(metadata.String), &ev.Metadata); err != nil {
				// Metadata that no longer parses is dropped, not fatal.
				ev.Metadata = nil
			}
		}
		events = append(events, &ev)
	}
	return events, rows.Err()
}

// Counts and maintenance

func (s *SQLiteStore) PendingCounts() (*track.PendingCounts, error) {
	var counts track.PendingCounts
	queries := []struct {
		dest  *int
		query string
	}{
		{&counts.Shifts, `SELECT COUNT(*) FROM shifts WHERE sync_status IN ('pending', 'error')`},
		{&counts.Gaps, `SELECT COUNT(*) FROM signal_gaps WHERE ended_at IS NOT NULL AND sync_status IN ('pending', 'error')`},
		{&counts.Samples, `SELECT COUNT(*) FROM location_samples WHERE sync_status = 'pending'`},
		{&counts.Diagnostics, `SELECT COUNT(*) FROM diagnostic_events WHERE severity != 'debug' AND sync_status IN ('pending', 'error')`},
	}
	for _, q := range queries {
		if err := s.db.QueryRow(q.query).Scan(q.dest); err != nil {
			return nil, storeErr("counting pending records", err)
		}
	}
	return &counts, nil
}

// PruneSynced trims each capped table back under its row cap, removing the
// oldest synced rows first. Unsynced rows are never pruned.
func (s *SQLiteStore) PruneSynced(maxSamples, maxDiagnostics int) (int, error) {
	pruned := 0

	targets := []struct {
		table   string
		orderBy string
		cap     int
	}{
		{"location_samples", "captured_at", maxSamples},
		{"diagnostic_events", "created_at", maxDiagnostics},
	}

	for _, t := range targets {
		if t.cap <= 0 {
			continue
		}
		var total int
		if err := s.db.QueryRow(`SELECT COUNT(*) FROM ` + t.table).Scan(&total); err != nil {
			return pruned, storeErr("counting rows for prune", err)
		}
		excess := total - t.cap
		if excess <= 0 {
			continue
		}
		res, err := s.db.Exec(`DELETE FROM `+t.table+` WHERE id IN (
			SELECT id FROM `+t.table+` WHERE sync_status = 'synced'
			ORDER BY `+t.orderBy+` LIMIT ?)`, excess)
		if err != nil {
			return pruned, storeErr("pruning synced rows", err)
		}
		if n, err := res.RowsAffected(); err == nil {
			pruned += int(n)
		}
	}
	return pruned, nil
}

// SnapshotTo creates a complete copy of the store at destPath using VACUUM INTO.
func (s *SQLiteStore) SnapshotTo(destPath string) error {
	if _, err := s.db.Exec(`VACUUM INTO ?`, destPath); err != nil {
		return storeErr("snapshotting store", err)
	}
	return nil
}

// Meta operations back the key-check sentinel.

func (s *SQLiteStore) metaGet(key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRow(`SELECT value FROM store_meta WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("reading store meta", err)
	}
	return value, nil
}

func (s *SQLiteStore) metaSet(key string, value []byte) error {
	_, err := s.db.Exec(`INSERT INTO store_meta (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value`, key, value)
	return storeErr("writing store meta", err)
}

// Close closes the store.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Scan helpers

type rowScanner interface {
	Scan(dest ...any) error
}

func scanShift(row rowScanner) (*track.Shift, error) {
	var shift track.Shift
	var status, syncStatus string
	var outAt sql.NullTime
	var outLat, outLon, outAcc sql.NullFloat64
	var outReason, outNote, serverID, syncError sql.NullString

	err := row.Scan(&shift.ID, &shift.EmployeeID, &status,
		&shift.ClockInAt, &shift.ClockInLocation.Latitude, &shift.ClockInLocation.Longitude, &shift.ClockInLocation.Accuracy,
		&outAt, &outLat, &outLon, &outAcc, &outReason, &outNote,
		&syncStatus, &shift.SyncAttempts, &serverID, &syncError,
		&shift.CreatedAt, &shift.UpdatedAt)
	if err != nil {
		return nil, err
	}

	shift.Status = track.ShiftStatus(status)
	shift.SyncStatus = track.SyncStatus(syncStatus)
	if outAt.Valid {
		shift.ClockOutAt = &outAt.Time
	}
	if outLat.Valid && outLon.Valid && outAcc.Valid {
		shift.ClockOutLocation = &track.Location{
			Latitude: outLat.Float64, Longitude: outLon.Float64, Accuracy: outAcc.Float64,
		}
	}
	if outReason.Valid {
		r := track.ClockOutReason(outReason.String)
		shift.ClockOutReason = &r
	}
	if outNote.Valid {
		shift.ClockOutNote = &outNote.String
	}
	if serverID.Valid {
		shift.ServerID = &serverID.String
	}
	if syncError.Valid {
		shift.SyncError = &syncError.String
	}
	return &shift, nil
}

func collectShifts(rows *sql.Rows) ([]*track.Shift, error) {
	var shifts []*track.Shift
	for rows.Next() {
		shift, err := scanShift(rows)
		if err != nil {
			return nil, storeErr("scanning shift", err)
		}
		shifts = append(shifts, shift)
	}
	return shifts, rows.Err()
}

func scanSample(row rowScanner) (*track.LocationSample, error) {
	var sample track.LocationSample
	var speed, heading, altitude sql.NullFloat64
	var activityType sql.NullString
	var syncStatus string

	err := row.Scan(&sample.ID, &sample.ShiftID, &sample.EmployeeID,
		&sample.Latitude, &sample.Longitude, &sample.Accuracy, &sample.CapturedAt,
		&speed, &heading, &altitude, &sample.Mock, &activityType,
		&syncStatus, &sample.SyncAttempts, &sample.CreatedAt)
	if err != nil {
		return nil, err
	}

	sample.SyncStatus = track.SyncStatus(syncStatus)
	if speed.Valid {
		sample.Speed = &speed.Float64
	}
	if heading.Valid {
		sample.Heading = &heading.Float64
	}
	if altitude.Valid {
		sample.Altitude = &altitude.Float64
	}
	if activityType.Valid {
		sample.ActivityType = &activityType.String
	}
	return &sample, nil
}

func collectSamples(rows *sql.Rows) ([]*track.LocationSample, error) {
	var samples []*track.LocationSample
	for rows.Next() {
		sample, err := scanSample(rows)
		if err != nil {
			return nil, storeErr("scanning sample", err)
		}
		samples = append(samples, sample)
	}
	return samples, rows.Err()
}

func scanGap(row rowScanner) (*track.SignalGap, error) {
	var gap track.SignalGap
	var endedAt sql.NullTime
	var syncStatus string

	err := row.Scan(&gap.ID, &gap.ShiftID, &gap.EmployeeID,
		&gap.StartedAt, &endedAt, &gap.Reason,
		&syncStatus, &gap.SyncAttempts, &gap.CreatedAt)
	if err != nil {
		return nil, err
	}

	gap.SyncStatus = track.SyncStatus(syncStatus)
	if endedAt.Valid {
		gap.EndedAt = &endedAt.Time
	}
	return &gap, nil
}

func collectGaps(rows *sql.Rows) ([]*track.SignalGap, error) {
	var gaps []*track.SignalGap
	for rows.Next() {
		gap, err := scanGap(rows)
		if err != nil {
			return nil, storeErr("scanning gap", err)
		}
		gaps = append(gaps, gap)
	}
	return gaps, rows.Err()
}

func nullStr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
