package track

import "context"

// RecordOutcome is the per-record result of a batch upload.
type RecordOutcome string

const (
	// OutcomeAccepted means the server stored the record.
	OutcomeAccepted RecordOutcome = "accepted"

	// OutcomeDuplicate means the server had already stored a record with
	// this client ID. Treated as success.
	OutcomeDuplicate RecordOutcome = "duplicate"

	// OutcomeRejected means the server will not accept the record as-is
	// (validation failure, orphaned reference). Non-transient.
	OutcomeRejected RecordOutcome = "rejected"
)

// RecordResult is the server's verdict for one uploaded record.
type RecordResult struct {
	ID           string        `json:"id"`
	Outcome      RecordOutcome `json:"outcome"`
	ServerID     string        `json:"server_id,omitempty"`
	ErrorCode    string        `json:"error_code,omitempty"`
	ErrorMessage string        `json:"error_message,omitempty"`
}

// BatchResult holds per-record outcomes for one batch upload call.
// A batch-level failure (network unreachable, timeout) is reported as an
// error from the call instead, and leaves every record pending.
type BatchResult struct {
	Results []RecordResult `json:"results"`
}

// RemoteShiftState is the server's view of a shift, used to detect
// server-forced closure during reconciliation.
type RemoteShiftState struct {
	ID       string      `json:"id"`
	Status   ShiftStatus `json:"status"`
	ClosedAt *string     `json:"closed_at,omitempty"`
}

// Remote is the authoritative store's batch upload RPC. Every record
// carries a client-generated UUID; the server treats re-submission of the
// same UUID as a no-op duplicate, never an error.
type Remote interface {
	// UploadShifts uploads completed shifts.
	UploadShifts(ctx context.Context, shifts []*Shift) (*BatchResult, error)

	// UploadGaps uploads closed signal gaps.
	UploadGaps(ctx context.Context, gaps []*SignalGap) (*BatchResult, error)

	// UploadSamples uploads location samples.
	UploadSamples(ctx context.Context, samples []*LocationSample) (*BatchResult, error)

	// UploadDiagnostics uploads diagnostic events. Best effort; failures
	// here never fail a sync cycle.
	UploadDiagnostics(ctx context.Context, events []*DiagnosticEvent) (*BatchResult, error)

	// ShiftStates returns the server's state for the given shift IDs.
	// IDs unknown to the server are omitted from the result.
	ShiftStates(ctx context.Context, ids []string) (map[string]RemoteShiftState, error)
}
