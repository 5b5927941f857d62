package gateway

import "github.com/voxarena/callctl/domain/entities"

// StartSessionRequest is the payload for starting a voice session
type StartSessionRequest struct {
	Identity string `json:"identity"`
}

// TransferRequest is the payload for initiating an in-call transfer
type TransferRequest struct {
	PhoneNumber  string `json:"phone_number" validate:"required"`
	TransferType string `json:"transfer_type" validate:"required"`
}

// TransfersResponse carries the transfer view of one session
type TransfersResponse struct {
	Active  *entities.Transfer  `json:"active,omitempty"`
	History []entities.Transfer `json:"history"`
}

// DialRequest is the payload for placing an outbound call. Callers
// send either a full E.164 phone_number or a country_code plus a
// national_number in local formatting, which the gateway composes.
type DialRequest struct {
	AgentID        string `json:"agent_id" validate:"required"`
	PhoneNumber    string `json:"phone_number"`
	CountryCode    string `json:"country_code"`
	NationalNumber string `json:"national_number"`
}

// CallResponse is the state snapshot of one outbound call
type CallResponse struct {
	CallID            string `json:"call_id,omitempty"`
	PhoneNumber       string `json:"phone_number,omitempty"`
	State             string `json:"state"`
	Duration          int    `json:"duration"`
	FormattedDuration string `json:"formatted_duration"`
}

// WatchRequest is the payload for opening a room's transcript pipeline
type WatchRequest struct {
	FeedURL string `json:"feed_url" validate:"required"`
}

// TranscriptResponse is the live transcript view of a watched room
type TranscriptResponse struct {
	Log      []entities.TranscriptSegment `json:"log"`
	Live     map[string]string            `json:"live"`
	Speaking map[string]bool              `json:"speaking"`
}

// StopResponse carries the teardown result of a watched room
type StopResponse struct {
	Transcript []entities.TranscriptSegment `json:"transcript"`
	Analysis   *entities.CallAnalysis       `json:"analysis,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
