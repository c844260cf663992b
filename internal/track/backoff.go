package track

import (
	"fmt"
	"time"
)

// BackoffPolicy computes sync retry intervals: doubling from Floor up to
// Cap, resetting to Floor on success. Pure; all persisted state lives in
// the sync cursor.
type BackoffPolicy struct {
	Floor time.Duration
	Cap   time.Duration
}

// DefaultBackoffPolicy is 30s doubling to a 30min cap.
var DefaultBackoffPolicy = BackoffPolicy{Floor: 30 * time.Second, Cap: 30 * time.Minute}

// Next returns the interval to wait after an attempt. prev is the interval
// in effect before the attempt (zero means none yet).
func (p BackoffPolicy) Next(prev time.Duration, success bool) time.Duration {
	if success {
		return p.Floor
	}
	if prev < p.Floor {
		return p.Floor
	}
	next := prev * 2
	if next > p.Cap {
		return p.Cap
	}
	return next
}

// BackoffController persists failure streaks and intervals in the sync
// cursor. It owns no timers; the sync engine's own schedule consults Ready.
type BackoffController struct {
	store  Store
	clock  Clock
	policy BackoffPolicy
}

// NewBackoffController creates a controller over the given store.
func NewBackoffController(store Store, clock Clock, policy BackoffPolicy) *BackoffController {
	return &BackoffController{store: store, clock: clock, policy: policy}
}

// Ready reports whether enough time has passed since the last attempt for
// another sync to run. A never-attempted cursor is always ready.
func (b *BackoffController) Ready() (bool, error) {
	cur, err := b.store.Cursor()
	if err != nil {
		return false, fmt.Errorf("loading cursor: %w", err)
	}
	if cur.LastAttemptAt == nil || cur.ConsecutiveFailures == 0 {
		return true, nil
	}
	return !b.clock.Now().Before(cur.LastAttemptAt.Add(cur.CurrentBackoff)), nil
}

// RecordAttempt stamps the cursor with the attempt time.
func (b *BackoffController) RecordAttempt() error {
	cur, err := b.store.Cursor()
	if err != nil {
		return fmt.Errorf("loading cursor: %w", err)
	}
	now := b.clock.Now()
	cur.LastAttemptAt = &now
	if err := b.store.UpdateCursor(cur); err != nil {
		return fmt.Errorf("updating cursor: %w", err)
	}
	return nil
}

// RecordFailure increments the failure streak and widens the interval.
// Returns the interval to wait before the next attempt.
func (b *BackoffController) RecordFailure(cause error) (time.Duration, error) {
	cur, err := b.store.Cursor()
	if err != nil {
		return 0, fmt.Errorf("loading cursor: %w", err)
	}
	cur.ConsecutiveFailures++
	cur.CurrentBackoff = b.policy.Next(cur.CurrentBackoff, false)
	msg := cause.Error()
	cur.LastError = &msg
	if err := b.store.UpdateCursor(cur); err != nil {
		return 0, fmt.Errorf("updating cursor: %w", err)
	}
	return cur.CurrentBackoff, nil
}

// RecordSuccess resets the streak and interval to the floor.
func (b *BackoffController) RecordSuccess() error {
	cur, err := b.store.Cursor()
	if err != nil {
		return fmt.Errorf("loading cursor: %w", err)
	}
	now := b.clock.Now()
	cur.LastSuccessAt = &now
	cur.ConsecutiveFailures = 0
	cur.CurrentBackoff = b.policy.Floor
	cur.LastError = nil
	if err := b.store.UpdateCursor(cur); err != nil {
		return fmt.Errorf("updating cursor: %w", err)
	}
	return nil
}
