package repositories

import (
	"context"

	"github.com/voxarena/callctl/domain/entities"
)

// SessionService registers session records with the backend
type SessionService interface {
	// CreateSession tells the backend a session should be tracked
	CreateSession(ctx context.Context, roomName, userID string) (*entities.Session, error)
}

// TranscriptStore persists finalized transcript lines
type TranscriptStore interface {
	// SaveTranscript writes one finalized line, keyed by room name
	SaveTranscript(ctx context.Context, roomName, content string, speaker entities.Speaker) error
}

// TransferService drives in-call transfers through the backend
type TransferService interface {
	// CreateTransfer asks the telephony backend to move the call
	CreateTransfer(ctx context.Context, sessionID, phoneNumber string, transferType entities.TransferType) (*entities.Transfer, error)
	// ListTransfers returns every transfer recorded for a session
	ListTransfers(ctx context.Context, sessionID string) ([]entities.Transfer, error)
}

// TelephonyService drives agent-initiated outbound calls
type TelephonyService interface {
	// StartOutboundCall places a call and returns the provider call id
	StartOutboundCall(ctx context.Context, agentID, phoneNumber string) (string, error)
	// OutboundCallStatus returns the raw provider status string
	OutboundCallStatus(ctx context.Context, callID string) (string, error)
	// EndOutboundCall hangs up an in-flight call
	EndOutboundCall(ctx context.Context, callID string) error
}
