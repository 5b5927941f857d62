package entities

import "fmt"

// CallState represents the local outbound-call state
type CallState string

const (
	CallStateIdle       CallState = "idle"
	CallStateInitiating CallState = "initiating"
	CallStateRinging    CallState = "ringing"
	CallStateAnswered   CallState = "answered"
	CallStateCompleted  CallState = "completed"
	CallStateFailed     CallState = "failed"
)

// IsTerminal reports whether the call makes no further transitions
func (s CallState) IsTerminal() bool {
	return s == CallStateCompleted || s == CallStateFailed
}

// OutboundCall is one agent-initiated call attempt. A new attempt
// always carries a new CallID; Duration is meaningful only once the
// call has been answered.
type OutboundCall struct {
	CallID      string    `json:"call_id"`
	AgentID     string    `json:"agent_id"`
	PhoneNumber string    `json:"phone_number"`
	State       CallState `json:"state"`
	Duration    int       `json:"duration_seconds"`
}

// FormatDuration renders seconds as mm:ss, or h:mm:ss past an hour
func FormatDuration(totalSeconds int) string {
	hours := totalSeconds / 3600
	minutes := (totalSeconds % 3600) / 60
	seconds := totalSeconds % 60

	if hours > 0 {
		return fmt.Sprintf("%d:%02d:%02d", hours, minutes, seconds)
	}
	return fmt.Sprintf("%02d:%02d", minutes, seconds)
}
