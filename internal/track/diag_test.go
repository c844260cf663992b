package track_test

import (
	"errors"
	"testing"

	"tt-go/internal/testutil"
	"tt-go/internal/track"
)

func newDiagPipeline(t *testing.T, st track.Store) *track.DiagnosticPipeline {
	t.Helper()
	return track.NewDiagnosticPipeline(st, track.NewNopLogger(), testutil.FixedClock(),
		testutil.NewStubIDGenerator(), track.DeviceContext{
			EmployeeID: "emp-1", DeviceID: "dev-1",
			AppVersion: "test", Platform: "linux", OSVersion: "6.1",
		})
}

func TestDiagnosticPipeline(t *testing.T) {
	t.Run("events are persisted with the device context", func(t *testing.T) {
		st := testutil.NewTestStore(t)
		p := newDiagPipeline(t, st)

		shiftID := "shift-1"
		p.Log("sync", track.SeverityWarn, "upload failed", map[string]any{"code": "timeout"})
		p.LogForShift(&shiftID, "capture", track.SeverityError, "provider stalled", nil)
		p.Close()

		events, err := st.PendingDiagnostics(10)
		if err != nil {
			t.Fatalf("PendingDiagnostics() error = %v", err)
		}
		if len(events) != 2 {
			t.Fatalf("len(events) = %d, want 2", len(events))
		}
		for _, ev := range events {
			if ev.EmployeeID != "emp-1" || ev.DeviceID != "dev-1" {
				t.Errorf("device context = %s/%s", ev.EmployeeID, ev.DeviceID)
			}
			if ev.AppVersion != "test" || ev.Platform != "linux" {
				t.Errorf("build stamp = %s/%s", ev.AppVersion, ev.Platform)
			}
		}
	})

	t.Run("logging after close is counted, not persisted", func(t *testing.T) {
		st := testutil.NewTestStore(t)
		p := newDiagPipeline(t, st)
		p.Close()

		p.Log("sync", track.SeverityInfo, "too late", nil)
		if got := p.Dropped(); got != 1 {
			t.Errorf("Dropped() = %d, want 1", got)
		}
		events, _ := st.PendingDiagnostics(10)
		if len(events) != 0 {
			t.Errorf("len(events) = %d, want 0", len(events))
		}
	})

	t.Run("write failures are counted and never surface", func(t *testing.T) {
		st := &failingDiagStore{Store: testutil.NewTestStore(t), fails: 1}
		p := newDiagPipeline(t, st)

		p.Log("sync", track.SeverityWarn, "first write fails", nil)
		p.Log("sync", track.SeverityWarn, "second write lands", nil)
		p.Close()

		if got := p.WriteFailures(); got != 1 {
			t.Errorf("WriteFailures() = %d, want 1", got)
		}
		events, err := st.PendingDiagnostics(10)
		if err != nil {
			t.Fatalf("PendingDiagnostics() error = %v", err)
		}
		if len(events) != 1 {
			t.Errorf("len(events) = %d, want 1", len(events))
		}
	})

	t.Run("close twice is safe", func(t *testing.T) {
		p := newDiagPipeline(t, testutil.NewTestStore(t))
		p.Close()
		p.Close()
	})
}

// failingDiagStore fails the first n diagnostic inserts.
type failingDiagStore struct {
	track.Store
	fails int
}

func (s *failingDiagStore) InsertDiagnostic(e *track.DiagnosticEvent) error {
	if s.fails > 0 {
		s.fails--
		return errors.New("disk full")
	}
	return s.Store.InsertDiagnostic(e)
}
