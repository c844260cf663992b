package track

import "time"

// MessageType tags a capture stream message. The capture context and the
// orchestrator share no memory; everything crosses this protocol.
type MessageType string

const (
	MsgPosition              MessageType = "position"
	MsgError                 MessageType = "error"
	MsgHeartbeat             MessageType = "heartbeat"
	MsgStarted               MessageType = "started"
	MsgStopped               MessageType = "stopped"
	MsgStatus                MessageType = "status"
	MsgGPSLost               MessageType = "gps_lost"
	MsgGPSRestored           MessageType = "gps_restored"
	MsgStreamRecovered       MessageType = "stream_recovered"
	MsgStreamRecoveryFailing MessageType = "stream_recovery_failing"
	MsgDiagnostic            MessageType = "diagnostic"
)

// Known reports whether t is a message type this version understands.
// Unknown types are logged at warn severity and ignored, never fatal.
func (t MessageType) Known() bool {
	switch t {
	case MsgPosition, MsgError, MsgHeartbeat, MsgStarted, MsgStopped,
		MsgStatus, MsgGPSLost, MsgGPSRestored, MsgStreamRecovered,
		MsgStreamRecoveryFailing, MsgDiagnostic:
		return true
	}
	return false
}

// Position is a GPS fix as carried on the capture stream.
type Position struct {
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Accuracy   float64   `json:"accuracy"`
	Speed      *float64  `json:"speed,omitempty"`
	Heading    *float64  `json:"heading,omitempty"`
	Altitude   *float64  `json:"altitude,omitempty"`
	Mock       bool      `json:"mock,omitempty"`
	CapturedAt time.Time `json:"captured_at"`
}

// DiagnosticPayload carries a diagnostic event across the capture stream.
// The capture context never writes to the store itself.
type DiagnosticPayload struct {
	Category string   `json:"category"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// Message is one tagged variant on the capture stream. Exactly one of the
// optional fields is set, matching Type. On the wire this is one JSON
// object per line.
type Message struct {
	Type       MessageType        `json:"type"`
	ShiftID    string             `json:"shift_id,omitempty"`
	At         time.Time          `json:"at"`
	Position   *Position          `json:"position,omitempty"`
	Error      string             `json:"error,omitempty"`
	Status     string             `json:"status,omitempty"`
	Diagnostic *DiagnosticPayload `json:"diagnostic,omitempty"`
}
