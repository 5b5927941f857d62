package entities

import (
	"errors"
	"time"
)

// TransferType selects between warm and cold call transfer
type TransferType string

const (
	// TransferTypeWarm keeps the agent on the line until the target answers
	TransferTypeWarm TransferType = "warm"
	// TransferTypeCold disconnects the agent as soon as the target is bridged
	TransferTypeCold TransferType = "cold"
)

// TransferStatus represents the local transfer state
type TransferStatus string

const (
	TransferStatusInitiating TransferStatus = "initiating"
	TransferStatusRinging    TransferStatus = "ringing"
	TransferStatusConnected  TransferStatus = "connected"
	TransferStatusCompleted  TransferStatus = "completed"
	TransferStatusFailed     TransferStatus = "failed"
)

// Transfer is one attempt to move a call to a third-party number.
// It is mutated only by status reconciliation after creation and
// becomes immutable once terminal. At most one non-terminal transfer
// may exist per session.
type Transfer struct {
	ID          string         `json:"id"`
	SessionID   string         `json:"session_id"`
	PhoneNumber string         `json:"phone_number"`
	Type        TransferType   `json:"transfer_type"`
	Status      TransferStatus `json:"status"`
	InitiatedAt time.Time      `json:"initiated_at"`
	ConnectedAt *time.Time     `json:"connected_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// IsTerminal reports whether the transfer makes no further transitions
func (t *Transfer) IsTerminal() bool {
	return t.Status == TransferStatusCompleted || t.Status == TransferStatusFailed
}

// Validate validates the transfer data
func (t *Transfer) Validate() error {
	if t.SessionID == "" {
		return errors.New("session_id is required")
	}
	if !ValidE164(t.PhoneNumber) {
		return errors.New("phone_number must be E.164")
	}
	if t.Type != TransferTypeWarm && t.Type != TransferTypeCold {
		return errors.New("invalid transfer type")
	}
	return nil
}
