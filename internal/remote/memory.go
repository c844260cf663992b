package remote

import (
	"context"
	"fmt"
	"sync"

	"tt-go/internal/track"
)

// Rejection describes why the in-memory remote should reject a record.
type Rejection struct {
	Code    string
	Message string
}

// MemoryRemote is an in-memory implementation of the batch RPC. It is
// idempotent the same way the real backend is: re-uploading a seen client
// ID yields a duplicate outcome. Tests script rejections per record ID and
// batch-level failures with FailNext.
type MemoryRemote struct {
	mu sync.Mutex

	seen       map[track.RecordType]map[string]string
	rejections map[string]Rejection
	states     map[string]track.RemoteShiftState
	failNext   int
	nextServer int

	// Uploaded counts successful (accepted) records per type.
	Uploaded map[track.RecordType]int
	// Calls counts batch upload calls per type, including failed ones.
	Calls map[track.RecordType]int
}

var _ track.Remote = (*MemoryRemote)(nil)

func NewMemoryRemote() *MemoryRemote {
	return &MemoryRemote{
		seen: map[track.RecordType]map[string]string{
			track.RecordShift:      {},
			track.RecordGap:        {},
			track.RecordSample:     {},
			track.RecordDiagnostic: {},
		},
		rejections: map[string]Rejection{},
		states:     map[string]track.RemoteShiftState{},
		Uploaded:   map[track.RecordType]int{},
		Calls:      map[track.RecordType]int{},
	}
}

// Reject makes every upload of the record with this client ID come back
// rejected with the given code and message.
func (m *MemoryRemote) Reject(id, code, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejections[id] = Rejection{Code: code, Message: message}
}

// FailNext makes the next n batch calls fail at the transport level.
func (m *MemoryRemote) FailNext(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = n
}

// SetShiftState scripts the server-side state returned by ShiftStates.
func (m *MemoryRemote) SetShiftState(state track.RemoteShiftState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[state.ID] = state
}

// SeenCount returns how many distinct records of the type were accepted.
func (m *MemoryRemote) SeenCount(rt track.RecordType) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.seen[rt])
}

func (m *MemoryRemote) upload(rt track.RecordType, ids []string) (*track.BatchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls[rt]++
	if m.failNext > 0 {
		m.failNext--
		return nil, fmt.Errorf("remote unavailable")
	}

	result := &track.BatchResult{Results: make([]track.RecordResult, 0, len(ids))}
	for _, id := range ids {
		if rej, ok := m.rejections[id]; ok {
			result.Results = append(result.Results, track.RecordResult{
				ID:           id,
				Outcome:      track.OutcomeRejected,
				ErrorCode:    rej.Code,
				ErrorMessage: rej.Message,
			})
			continue
		}
		if serverID, ok := m.seen[rt][id]; ok {
			result.Results = append(result.Results, track.RecordResult{
				ID:       id,
				Outcome:  track.OutcomeDuplicate,
				ServerID: serverID,
			})
			continue
		}
		m.nextServer++
		serverID := fmt.Sprintf("srv-%d", m.nextServer)
		m.seen[rt][id] = serverID
		m.Uploaded[rt]++
		result.Results = append(result.Results, track.RecordResult{
			ID:       id,
			Outcome:  track.OutcomeAccepted,
			ServerID: serverID,
		})
	}
	return result, nil
}

func (m *MemoryRemote) UploadShifts(_ context.Context, shifts []*track.Shift) (*track.BatchResult, error) {
	ids := make([]string, len(shifts))
	for i, s := range shifts {
		ids[i] = s.ID
	}
	return m.upload(track.RecordShift, ids)
}

func (m *MemoryRemote) UploadGaps(_ context.Context, gaps []*track.SignalGap) (*track.BatchResult, error) {
	ids := make([]string, len(gaps))
	for i, g := range gaps {
		ids[i] = g.ID
	}
	return m.upload(track.RecordGap, ids)
}

func (m *MemoryRemote) UploadSamples(_ context.Context, samples []*track.LocationSample) (*track.BatchResult, error) {
	ids := make([]string, len(samples))
	for i, s := range samples {
		ids[i] = s.ID
	}
	return m.upload(track.RecordSample, ids)
}

func (m *MemoryRemote) UploadDiagnostics(_ context.Context, events []*track.DiagnosticEvent) (*track.BatchResult, error) {
	ids := make([]string, len(events))
	for i, ev := range events {
		ids[i] = ev.ID
	}
	return m.upload(track.RecordDiagnostic, ids)
}

func (m *MemoryRemote) ShiftStates(_ context.Context, ids []string) (map[string]track.RemoteShiftState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failNext > 0 {
		m.failNext--
		return nil, fmt.Errorf("remote unavailable")
	}

	states := make(map[string]track.RemoteShiftState)
	for _, id := range ids {
		if st, ok := m.states[id]; ok {
			states[id] = st
		}
	}
	return states, nil
}
