package entities

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// SessionStatus represents the lifecycle status of a voice session
type SessionStatus string

const (
	SessionStatusCreated   SessionStatus = "CREATED"
	SessionStatusActive    SessionStatus = "ACTIVE"
	SessionStatusCompleted SessionStatus = "COMPLETED"
	SessionStatusFailed    SessionStatus = "FAILED"
)

// Session identifies one live voice interaction. It is created at
// bootstrap, becomes active once media connects, and is terminal after
// disconnect. Other entities reference it by ID or room name only.
type Session struct {
	ID        string        `json:"id"`
	RoomName  string        `json:"room_name"`
	UserID    string        `json:"user_id,omitempty"`
	AgentID   string        `json:"agent_id,omitempty"`
	Status    SessionStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	EndedAt   *time.Time    `json:"ended_at,omitempty"`
}

// NewSession creates a session record for a room
func NewSession(roomName, userID string) *Session {
	return &Session{
		ID:        uuid.NewString(),
		RoomName:  roomName,
		UserID:    userID,
		Status:    SessionStatusCreated,
		CreatedAt: time.Now(),
	}
}

// Activate marks the session active once the media transport connects
func (s *Session) Activate() {
	if s.Status == SessionStatusCreated {
		s.Status = SessionStatusActive
	}
}

// Complete marks the session terminal after a normal disconnect
func (s *Session) Complete() {
	if s.IsTerminal() {
		return
	}
	now := time.Now()
	s.Status = SessionStatusCompleted
	s.EndedAt = &now
}

// Fail marks the session terminal after an abnormal disconnect
func (s *Session) Fail() {
	if s.IsTerminal() {
		return
	}
	now := time.Now()
	s.Status = SessionStatusFailed
	s.EndedAt = &now
}

// IsTerminal reports whether the session makes no further transitions
func (s *Session) IsTerminal() bool {
	return s.Status == SessionStatusCompleted || s.Status == SessionStatusFailed
}

// Validate validates the session data
func (s *Session) Validate() error {
	if s.RoomName == "" {
		return errors.New("room_name is required")
	}

	switch s.Status {
	case SessionStatusCreated, SessionStatusActive, SessionStatusCompleted, SessionStatusFailed:
		return nil
	default:
		return errors.New("invalid session status")
	}
}
