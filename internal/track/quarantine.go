package track

import (
	"encoding/json"
	"fmt"
)

// QuarantineManager moves records the server will never accept into the
// quarantine table. Nothing enters quarantine for transient failures, and
// nothing leaves it without human review.
type QuarantineManager struct {
	store  Store
	logger Logger
	clock  Clock
	idgen  IDGenerator
}

// NewQuarantineManager creates a manager over the given store.
func NewQuarantineManager(store Store, logger Logger, clock Clock, idgen IDGenerator) *QuarantineManager {
	return &QuarantineManager{store: store, logger: logger, clock: clock, idgen: idgen}
}

// QuarantineRecord serializes the rejected record and moves it to
// quarantine. Each original row is removed in the same transaction as its
// quarantine copy. Quarantining a shift first moves its unsynced samples
// and gaps too: removing the shift row cascades to them, and they must not
// vanish unaccounted.
func (q *QuarantineManager) QuarantineRecord(rt RecordType, originalID string, record any, errorCode, errorMessage string) error {
	if rt == RecordShift {
		if err := q.quarantineShiftChildren(originalID, errorCode); err != nil {
			return err
		}
	}
	return q.quarantineOne(rt, originalID, record, errorCode, errorMessage)
}

func (q *QuarantineManager) quarantineOne(rt RecordType, originalID string, record any, errorCode, errorMessage string) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("serializing %s %s: %w", rt, originalID, err)
	}

	rec := &QuarantinedRecord{
		ID:            q.idgen.New(),
		RecordType:    rt,
		OriginalID:    originalID,
		Payload:       string(payload),
		ErrorCode:     errorCode,
		ErrorMessage:  errorMessage,
		QuarantinedAt: q.clock.Now(),
		ReviewStatus:  ReviewPending,
	}

	if err := q.store.Quarantine(rec); err != nil {
		return fmt.Errorf("quarantining %s %s: %w", rt, originalID, err)
	}

	q.logger.Warn("record quarantined",
		"type", string(rt), "id", originalID, "code", errorCode)
	return nil
}

// quarantineShiftChildren moves a doomed shift's unsynced samples and gaps
// into quarantine one by one, before the shift row's cascade delete can
// reach them. Children the server already has are left to the cascade.
func (q *QuarantineManager) quarantineShiftChildren(shiftID, errorCode string) error {
	samples, err := q.store.SamplesForShift(shiftID)
	if err != nil {
		return fmt.Errorf("loading samples of quarantined shift %s: %w", shiftID, err)
	}
	for _, s := range samples {
		if s.SyncStatus == SyncSynced {
			continue
		}
		if err := q.quarantineOne(RecordSample, s.ID, s, errorCode, "parent shift quarantined"); err != nil {
			return err
		}
	}

	gaps, err := q.store.GapsForShift(shiftID)
	if err != nil {
		return fmt.Errorf("loading gaps of quarantined shift %s: %w", shiftID, err)
	}
	for _, g := range gaps {
		if g.SyncStatus == SyncSynced {
			continue
		}
		if err := q.quarantineOne(RecordGap, g.ID, g, errorCode, "parent shift quarantined"); err != nil {
			return err
		}
	}
	return nil
}

// List returns quarantined records, optionally filtered by type ("" for all).
func (q *QuarantineManager) List(rt RecordType) ([]*QuarantinedRecord, error) {
	return q.store.QuarantinedRecords(rt)
}

// Resolve marks a pending record as resolved with a review note.
func (q *QuarantineManager) Resolve(id, note string) error {
	if err := q.store.ReviewQuarantined(id, ReviewResolved, note, q.clock.Now()); err != nil {
		return fmt.Errorf("resolving quarantined record: %w", err)
	}
	return nil
}

// Discard marks a pending record as discarded with a review note.
func (q *QuarantineManager) Discard(id, note string) error {
	if err := q.store.ReviewQuarantined(id, ReviewDiscarded, note, q.clock.Now()); err != nil {
		return fmt.Errorf("discarding quarantined record: %w", err)
	}
	return nil
}

// Stats summarizes quarantine contents for admin review.
func (q *QuarantineManager) Stats() (*QuarantineStats, error) {
	return q.store.QuarantineStats()
}
