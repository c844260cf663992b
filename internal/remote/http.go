// Package remote provides implementations of the batch upload RPC used by
// the sync engine: an HTTP JSON client and an in-memory fake for tests.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"tt-go/internal/track"
)

// HTTPRemote talks JSON to the workforce backend's batch sync endpoints.
type HTTPRemote struct {
	baseURL  string
	deviceID string
	client   *http.Client
}

var _ track.Remote = (*HTTPRemote)(nil)

// NewHTTPRemote creates a client for baseURL (no trailing slash required).
func NewHTTPRemote(baseURL, deviceID string, timeout time.Duration) *HTTPRemote {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPRemote{
		baseURL:  baseURL,
		deviceID: deviceID,
		client:   &http.Client{Timeout: timeout},
	}
}

// Wire representations. The domain models stay free of transport tags;
// these structs define the JSON contract with the backend.

type wireShift struct {
	ID              string   `json:"id"`
	EmployeeID      string   `json:"employee_id"`
	Status          string   `json:"status"`
	ClockInAt       string   `json:"clock_in_at"`
	ClockInLat      float64  `json:"clock_in_latitude"`
	ClockInLon      float64  `json:"clock_in_longitude"`
	ClockInAccuracy float64  `json:"clock_in_accuracy"`
	ClockOutAt      *string  `json:"clock_out_at,omitempty"`
	ClockOutLat     *float64 `json:"clock_out_latitude,omitempty"`
	ClockOutLon     *float64 `json:"clock_out_longitude,omitempty"`
	ClockOutAcc     *float64 `json:"clock_out_accuracy,omitempty"`
	ClockOutReason  *string  `json:"clock_out_reason,omitempty"`
	ClockOutNote    *string  `json:"clock_out_note,omitempty"`
}

type wireSample struct {
	ID           string   `json:"id"`
	ShiftID      string   `json:"shift_id"`
	EmployeeID   string   `json:"employee_id"`
	Latitude     float64  `json:"latitude"`
	Longitude    float64  `json:"longitude"`
	Accuracy     float64  `json:"accuracy"`
	CapturedAt   string   `json:"captured_at"`
	Speed        *float64 `json:"speed,omitempty"`
	Heading      *float64 `json:"heading,omitempty"`
	Altitude     *float64 `json:"altitude,omitempty"`
	Mock         bool     `json:"is_mock"`
	ActivityType *string  `json:"activity_type,omitempty"`
}

type wireGap struct {
	ID         string  `json:"id"`
	ShiftID    string  `json:"shift_id"`
	EmployeeID string  `json:"employee_id"`
	StartedAt  string  `json:"started_at"`
	EndedAt    *string `json:"ended_at,omitempty"`
	Reason     string  `json:"reason"`
}

type wireDiagnostic struct {
	ID         string         `json:"id"`
	EmployeeID string         `json:"employee_id"`
	ShiftID    *string        `json:"shift_id,omitempty"`
	DeviceID   string         `json:"device_id"`
	Category   string         `json:"category"`
	Severity   string         `json:"severity"`
	Message    string         `json:"message"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	AppVersion string         `json:"app_version"`
	Platform   string         `json:"platform"`
	OSVersion  string         `json:"os_version"`
	CreatedAt  string         `json:"created_at"`
}

type batchRequest struct {
	DeviceID string `json:"device_id"`
	Records  any    `json:"records"`
}

func (r *HTTPRemote) UploadShifts(ctx context.Context, shifts []*track.Shift) (*track.BatchResult, error) {
	records := make([]wireShift, 0, len(shifts))
	for _, s := range shifts {
		ws := wireShift{
			ID:              s.ID,
			EmployeeID:      s.EmployeeID,
			Status:          string(s.Status),
			ClockInAt:       s.ClockInAt.UTC().Format(time.RFC3339),
			ClockInLat:      s.ClockInLocation.Latitude,
			ClockInLon:      s.ClockInLocation.Longitude,
			ClockInAccuracy: s.ClockInLocation.Accuracy,
			ClockOutNote:    s.ClockOutNote,
		}
		if s.ClockOutAt != nil {
			at := s.ClockOutAt.UTC().Format(time.RFC3339)
			ws.ClockOutAt = &at
		}
		if s.ClockOutLocation != nil {
			ws.ClockOutLat = &s.ClockOutLocation.Latitude
			ws.ClockOutLon = &s.ClockOutLocation.Longitude
			ws.ClockOutAcc = &s.ClockOutLocation.Accuracy
		}
		if s.ClockOutReason != nil {
			reason := string(*s.ClockOutReason)
			ws.ClockOutReason = &reason
		}
		records = append(records, ws)
	}
	return r.postBatch(ctx, "/v1/sync/shifts", records)
}

func (r *HTTPRemote) UploadGaps(ctx context.Context, gaps []*track.SignalGap) (*track.BatchResult, error) {
	records := make([]wireGap, 0, len(gaps))
	for _, g := range gaps {
		wg := wireGap{
			ID:         g.ID,
			ShiftID:    g.ShiftID,
			EmployeeID: g.EmployeeID,
			StartedAt:  g.StartedAt.UTC().Format(time.RFC3339),
			Reason:     g.Reason,
		}
		if g.EndedAt != nil {
			at := g.EndedAt.UTC().Format(time.RFC3339)
			wg.EndedAt = &at
		}
		records = append(records, wg)
	}
	return r.postBatch(ctx, "/v1/sync/gaps", records)
}

func (r *HTTPRemote) UploadSamples(ctx context.Context, samples []*track.LocationSample) (*track.BatchResult, error) {
	records := make([]wireSample, 0, len(samples))
	for _, s := range samples {
		records = append(records, wireSample{
			ID:           s.ID,
			ShiftID:      s.ShiftID,
			EmployeeID:   s.EmployeeID,
			Latitude:     s.Latitude,
			Longitude:    s.Longitude,
			Accuracy:     s.Accuracy,
			CapturedAt:   s.CapturedAt.UTC().Format(time.RFC3339),
			Speed:        s.Speed,
			Heading:      s.Heading,
			Altitude:     s.Altitude,
			Mock:         s.Mock,
			ActivityType: s.ActivityType,
		})
	}
	return r.postBatch(ctx, "/v1/sync/samples", records)
}

func (r *HTTPRemote) UploadDiagnostics(ctx context.Context, events []*track.DiagnosticEvent) (*track.BatchResult, error) {
	records := make([]wireDiagnostic, 0, len(events))
	for _, ev := range events {
		records = append(records, wireDiagnostic{
			ID:         ev.ID,
			EmployeeID: ev.EmployeeID,
			ShiftID:    ev.ShiftID,
			DeviceID:   ev.DeviceID,
			Category:   ev.Category,
			Severity:   string(ev.Severity),
			Message:    ev.Message,
			Metadata:   ev.Metadata,
			AppVersion: ev.AppVersion,
			Platform:   ev.Platform,
			OSVersion:  ev.OSVersion,
			CreatedAt:  ev.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return r.postBatch(ctx, "/v1/sync/diagnostics", records)
}

func (r *HTTPRemote) ShiftStates(ctx context.Context, ids []string) (map[string]track.RemoteShiftState, error) {
	body, err := json.Marshal(struct {
		IDs []string `json:"ids"`
	}{IDs: ids})
	if err != nil {
		return nil, fmt.Errorf("encoding shift state request: %w", err)
	}

	data, err := r.do(ctx, http.MethodPost, "/v1/shifts/states", body)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Shifts []track.RemoteShiftState `json:"shifts"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decoding shift state response: %w", err)
	}
	states := make(map[string]track.RemoteShiftState, len(resp.Shifts))
	for _, st := range resp.Shifts {
		states[st.ID] = st
	}
	return states, nil
}

func (r *HTTPRemote) postBatch(ctx context.Context, path string, records any) (*track.BatchResult, error) {
	body, err := json.Marshal(batchRequest{DeviceID: r.deviceID, Records: records})
	if err != nil {
		return nil, fmt.Errorf("encoding batch: %w", err)
	}

	data, err := r.do(ctx, http.MethodPost, path, body)
	if err != nil {
		return nil, err
	}

	var result track.BatchResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("decoding batch result: %w", err)
	}
	return &result, nil
}

func (r *HTTPRemote) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Device-ID", r.deviceID)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("reading %s response: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned %d: %s", path, resp.StatusCode, truncate(data, 200))
	}
	return data, nil
}

func truncate(data []byte, n int) string {
	if len(data) <= n {
		return string(data)
	}
	return string(data[:n]) + "..."
}
