package remote

import (
	"context"
	"testing"
	"time"

	"tt-go/internal/track"
)

func memShift(id string) *track.Shift {
	return &track.Shift{
		ID: id, EmployeeID: "emp-1", Status: track.ShiftActive,
		ClockInAt: time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC),
	}
}

func TestMemoryRemote(t *testing.T) {
	t.Run("accepts new records and assigns server IDs", func(t *testing.T) {
		m := NewMemoryRemote()

		result, err := m.UploadShifts(context.Background(), []*track.Shift{memShift("a"), memShift("b")})
		if err != nil {
			t.Fatalf("UploadShifts() error = %v", err)
		}
		if len(result.Results) != 2 {
			t.Fatalf("len(results) = %d, want 2", len(result.Results))
		}
		seen := map[string]bool{}
		for _, res := range result.Results {
			if res.Outcome != track.OutcomeAccepted {
				t.Errorf("outcome for %s = %s", res.ID, res.Outcome)
			}
			if res.ServerID == "" || seen[res.ServerID] {
				t.Errorf("server ID %q missing or reused", res.ServerID)
			}
			seen[res.ServerID] = true
		}
		if m.SeenCount(track.RecordShift) != 2 {
			t.Errorf("SeenCount() = %d, want 2", m.SeenCount(track.RecordShift))
		}
	})

	t.Run("re-upload is a duplicate with the original server ID", func(t *testing.T) {
		m := NewMemoryRemote()

		first, err := m.UploadShifts(context.Background(), []*track.Shift{memShift("a")})
		if err != nil {
			t.Fatalf("UploadShifts() error = %v", err)
		}
		second, err := m.UploadShifts(context.Background(), []*track.Shift{memShift("a")})
		if err != nil {
			t.Fatalf("second UploadShifts() error = %v", err)
		}

		if second.Results[0].Outcome != track.OutcomeDuplicate {
			t.Errorf("outcome = %s, want duplicate", second.Results[0].Outcome)
		}
		if second.Results[0].ServerID != first.Results[0].ServerID {
			t.Errorf("server ID changed across uploads: %q vs %q",
				first.Results[0].ServerID, second.Results[0].ServerID)
		}
		if m.SeenCount(track.RecordShift) != 1 {
			t.Errorf("SeenCount() = %d, want 1", m.SeenCount(track.RecordShift))
		}
	})

	t.Run("scripted rejections", func(t *testing.T) {
		m := NewMemoryRemote()
		m.Reject("a", "invalid_payload", "bad latitude")

		result, err := m.UploadShifts(context.Background(), []*track.Shift{memShift("a"), memShift("b")})
		if err != nil {
			t.Fatalf("UploadShifts() error = %v", err)
		}

		byID := map[string]track.RecordResult{}
		for _, res := range result.Results {
			byID[res.ID] = res
		}
		if byID["a"].Outcome != track.OutcomeRejected || byID["a"].ErrorCode != "invalid_payload" {
			t.Errorf("rejected result = %+v", byID["a"])
		}
		if byID["b"].Outcome != track.OutcomeAccepted {
			t.Errorf("accepted result = %+v", byID["b"])
		}
	})

	t.Run("scripted failures burn down", func(t *testing.T) {
		m := NewMemoryRemote()
		m.FailNext(2)

		for i := 0; i < 2; i++ {
			if _, err := m.UploadShifts(context.Background(), []*track.Shift{memShift("a")}); err == nil {
				t.Fatalf("upload %d succeeded, want failure", i+1)
			}
		}
		if _, err := m.UploadShifts(context.Background(), []*track.Shift{memShift("a")}); err != nil {
			t.Fatalf("upload after failures error = %v", err)
		}
		if m.Calls[track.RecordShift] != 3 {
			t.Errorf("Calls = %d, want 3", m.Calls[track.RecordShift])
		}
	})

	t.Run("shift states reflect scripted closures", func(t *testing.T) {
		m := NewMemoryRemote()
		closedAt := "2026-01-15T18:00:00Z"
		m.SetShiftState(track.RemoteShiftState{
			ID: "shift-1", Status: track.ShiftCompleted, ClosedAt: &closedAt,
		})

		states, err := m.ShiftStates(context.Background(), []string{"shift-1", "shift-2"})
		if err != nil {
			t.Fatalf("ShiftStates() error = %v", err)
		}
		if states["shift-1"].Status != track.ShiftCompleted {
			t.Errorf("shift-1 = %+v", states["shift-1"])
		}
		if _, ok := states["shift-2"]; ok {
			t.Error("unknown shift returned a state")
		}
	})
}
