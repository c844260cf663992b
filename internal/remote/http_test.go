package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tt-go/internal/track"
)

func acceptAll(t *testing.T) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			DeviceID string            `json:"device_id"`
			Records  []json.RawMessage `json:"records"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding request: %v", err)
		}

		results := make([]track.RecordResult, 0, len(req.Records))
		for _, raw := range req.Records {
			var rec struct {
				ID string `json:"id"`
			}
			if err := json.Unmarshal(raw, &rec); err != nil {
				t.Errorf("decoding record: %v", err)
			}
			results = append(results, track.RecordResult{
				ID: rec.ID, Outcome: track.OutcomeAccepted, ServerID: "srv-" + rec.ID,
			})
		}
		json.NewEncoder(w).Encode(track.BatchResult{Results: results})
	}
}

func TestHTTPRemote_UploadShifts(t *testing.T) {
	var gotPath, gotDevice string
	var gotBody struct {
		DeviceID string `json:"device_id"`
		Records  []struct {
			ID         string  `json:"id"`
			EmployeeID string  `json:"employee_id"`
			Status     string  `json:"status"`
			ClockInAt  string  `json:"clock_in_at"`
			ClockInLat float64 `json:"clock_in_latitude"`
			ClockOutAt *string `json:"clock_out_at"`
			Reason     *string `json:"clock_out_reason"`
		} `json:"records"`
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotDevice = r.Header.Get("X-Device-ID")
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decoding body: %v", err)
		}
		json.NewEncoder(w).Encode(track.BatchResult{Results: []track.RecordResult{
			{ID: "shift-1", Outcome: track.OutcomeAccepted, ServerID: "srv-42"},
		}})
	}))
	defer srv.Close()

	r := NewHTTPRemote(srv.URL, "dev-1", 5*time.Second)

	clockIn := time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC)
	clockOut := clockIn.Add(8 * time.Hour)
	reason := track.ReasonManual
	shift := &track.Shift{
		ID: "shift-1", EmployeeID: "emp-1", Status: track.ShiftCompleted,
		ClockInAt:       clockIn,
		ClockInLocation: track.Location{Latitude: 52.52, Longitude: 13.405, Accuracy: 8},
		ClockOutAt:      &clockOut,
		ClockOutReason:  &reason,
	}

	result, err := r.UploadShifts(context.Background(), []*track.Shift{shift})
	if err != nil {
		t.Fatalf("UploadShifts() error = %v", err)
	}

	if gotPath != "/v1/sync/shifts" {
		t.Errorf("path = %q, want /v1/sync/shifts", gotPath)
	}
	if gotDevice != "dev-1" {
		t.Errorf("X-Device-ID = %q, want dev-1", gotDevice)
	}
	if gotBody.DeviceID != "dev-1" {
		t.Errorf("body device_id = %q", gotBody.DeviceID)
	}
	if len(gotBody.Records) != 1 {
		t.Fatalf("len(records) = %d, want 1", len(gotBody.Records))
	}
	rec := gotBody.Records[0]
	if rec.ID != "shift-1" || rec.EmployeeID != "emp-1" || rec.Status != "completed" {
		t.Errorf("record = %+v", rec)
	}
	if rec.ClockInAt != "2026-01-15T10:30:00Z" {
		t.Errorf("clock_in_at = %q", rec.ClockInAt)
	}
	if rec.ClockOutAt == nil || *rec.ClockOutAt != "2026-01-15T18:30:00Z" {
		t.Errorf("clock_out_at = %v", rec.ClockOutAt)
	}
	if rec.Reason == nil || *rec.Reason != "manual" {
		t.Errorf("clock_out_reason = %v", rec.Reason)
	}

	if len(result.Results) != 1 || result.Results[0].ServerID != "srv-42" {
		t.Errorf("result = %+v", result.Results)
	}
}

func TestHTTPRemote_UploadSamples(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		acceptAll(t)(w, r)
	}))
	defer srv.Close()

	r := NewHTTPRemote(srv.URL, "dev-1", 5*time.Second)
	speed := 1.2
	result, err := r.UploadSamples(context.Background(), []*track.LocationSample{{
		ID: "smp-1", ShiftID: "shift-1", EmployeeID: "emp-1",
		Latitude: 52.52, Longitude: 13.405, Accuracy: 10,
		CapturedAt: time.Date(2026, 1, 15, 10, 31, 0, 0, time.UTC),
		Speed:      &speed,
	}})
	if err != nil {
		t.Fatalf("UploadSamples() error = %v", err)
	}
	if gotPath != "/v1/sync/samples" {
		t.Errorf("path = %q", gotPath)
	}
	if len(result.Results) != 1 || result.Results[0].Outcome != track.OutcomeAccepted {
		t.Errorf("result = %+v", result.Results)
	}
}

func TestHTTPRemote_ShiftStates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/shifts/states" {
			t.Errorf("path = %q", r.URL.Path)
		}
		var req struct {
			IDs []string `json:"ids"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		if len(req.IDs) != 2 {
			t.Errorf("ids = %v", req.IDs)
		}
		closedAt := "2026-01-15T18:00:00Z"
		json.NewEncoder(w).Encode(map[string]any{
			"shifts": []track.RemoteShiftState{
				{ID: "shift-1", Status: track.ShiftCompleted, ClosedAt: &closedAt},
				{ID: "shift-2", Status: track.ShiftActive},
			},
		})
	}))
	defer srv.Close()

	r := NewHTTPRemote(srv.URL, "dev-1", 5*time.Second)
	states, err := r.ShiftStates(context.Background(), []string{"shift-1", "shift-2"})
	if err != nil {
		t.Fatalf("ShiftStates() error = %v", err)
	}
	if len(states) != 2 {
		t.Fatalf("len(states) = %d, want 2", len(states))
	}
	if states["shift-1"].Status != track.ShiftCompleted || states["shift-1"].ClosedAt == nil {
		t.Errorf("shift-1 state = %+v", states["shift-1"])
	}
	if states["shift-2"].Status != track.ShiftActive {
		t.Errorf("shift-2 state = %+v", states["shift-2"])
	}
}

func TestHTTPRemote_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
	}))
	defer srv.Close()

	r := NewHTTPRemote(srv.URL, "dev-1", 5*time.Second)
	if _, err := r.UploadGaps(context.Background(), nil); err == nil {
		t.Fatal("UploadGaps() against a 502 succeeded")
	}
}

func TestHTTPRemote_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // nothing listening anymore

	r := NewHTTPRemote(srv.URL, "dev-1", time.Second)
	if _, err := r.UploadShifts(context.Background(), nil); err == nil {
		t.Fatal("UploadShifts() against a closed server succeeded")
	}
}
