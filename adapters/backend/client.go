// Package backend is the REST client for the control-plane API. It
// implements every backend-facing repository interface over a single
// shared HTTP client.
package backend

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/voxarena/callctl/domain/entities"
)

const defaultTimeout = 10 * time.Second

// Client talks to the control-plane REST API
type Client struct {
	http   *resty.Client
	logger *zap.Logger
}

// NewClient creates a client rooted at baseURL
func NewClient(baseURL string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(defaultTimeout).
		SetHeader("Content-Type", "application/json")
	return &Client{http: httpClient, logger: logger}
}

type sessionPayload struct {
	ID        string    `json:"id"`
	RoomName  string    `json:"room_name"`
	UserID    string    `json:"user_id"`
	AgentID   string    `json:"agent_id,omitempty"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

type transferPayload struct {
	ID          string     `json:"id"`
	SessionID   string     `json:"session_id"`
	PhoneNumber string     `json:"phone_number"`
	Type        string     `json:"transfer_type"`
	Status      string     `json:"status"`
	InitiatedAt time.Time  `json:"initiated_at"`
	ConnectedAt *time.Time `json:"connected_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func (p transferPayload) entity() entities.Transfer {
	return entities.Transfer{
		ID:          p.ID,
		SessionID:   p.SessionID,
		PhoneNumber: p.PhoneNumber,
		Type:        entities.TransferType(p.Type),
		Status:      entities.TransferStatus(p.Status),
		InitiatedAt: p.InitiatedAt,
		ConnectedAt: p.ConnectedAt,
		CompletedAt: p.CompletedAt,
	}
}

// CreateSession registers a session for the given room
func (c *Client) CreateSession(ctx context.Context, roomName, userID string) (*entities.Session, error) {
	var out sessionPayload
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"room_name": roomName, "user_id": userID}).
		SetResult(&out).
		Post("/sessions/")
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("create session returned %d: %s", resp.StatusCode(), resp.String())
	}

	return &entities.Session{
		ID:        out.ID,
		RoomName:  out.RoomName,
		UserID:    out.UserID,
		AgentID:   out.AgentID,
		Status:    entities.SessionStatus(out.Status),
		CreatedAt: out.CreatedAt,
	}, nil
}

// SaveTranscript appends one finalized transcript line to the session
// identified by room name.
func (c *Client) SaveTranscript(ctx context.Context, roomName, content string, speaker entities.Speaker) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"content": content, "speaker": speaker.Wire()}).
		Post(fmt.Sprintf("/sessions/by-room/%s/transcripts", roomName))
	if err != nil {
		return fmt.Errorf("failed to save transcript: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("save transcript returned %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

// CreateTransfer asks the backend to move the call
func (c *Client) CreateTransfer(ctx context.Context, sessionID, phoneNumber string, transferType entities.TransferType) (*entities.Transfer, error) {
	var out transferPayload
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"phone_number":  phoneNumber,
			"transfer_type": string(transferType),
		}).
		SetResult(&out).
		Post(fmt.Sprintf("/sessions/%s/transfer", sessionID))
	if err != nil {
		return nil, fmt.Errorf("failed to create transfer: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("create transfer returned %d: %s", resp.StatusCode(), resp.String())
	}

	transfer := out.entity()
	return &transfer, nil
}

// ListTransfers returns every transfer recorded for the session
func (c *Client) ListTransfers(ctx context.Context, sessionID string) ([]entities.Transfer, error) {
	var out []transferPayload
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		Get(fmt.Sprintf("/sessions/%s/transfers", sessionID))
	if err != nil {
		return nil, fmt.Errorf("failed to list transfers: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("list transfers returned %d: %s", resp.StatusCode(), resp.String())
	}

	transfers := make([]entities.Transfer, 0, len(out))
	for _, p := range out {
		transfers = append(transfers, p.entity())
	}
	return transfers, nil
}

// StartOutboundCall places a call and returns the provider call id
func (c *Client) StartOutboundCall(ctx context.Context, agentID, phoneNumber string) (string, error) {
	var out struct {
		CallID string `json:"call_id"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"agent_id": agentID, "phone_number": phoneNumber}).
		SetResult(&out).
		Post("/telephony/outbound/call")
	if err != nil {
		return "", fmt.Errorf("failed to start outbound call: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("start outbound call returned %d: %s", resp.StatusCode(), resp.String())
	}
	if out.CallID == "" {
		return "", fmt.Errorf("start outbound call returned no call id")
	}
	return out.CallID, nil
}

// OutboundCallStatus returns the provider's raw status string
func (c *Client) OutboundCallStatus(ctx context.Context, callID string) (string, error) {
	var out struct {
		Status string `json:"status"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		Get(fmt.Sprintf("/telephony/outbound/call/%s/status", callID))
	if err != nil {
		return "", fmt.Errorf("failed to fetch call status: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("call status returned %d: %s", resp.StatusCode(), resp.String())
	}
	return out.Status, nil
}

// EndOutboundCall hangs up an in-flight call
func (c *Client) EndOutboundCall(ctx context.Context, callID string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		Post(fmt.Sprintf("/telephony/outbound/call/%s/end", callID))
	if err != nil {
		return fmt.Errorf("failed to end call: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("end call returned %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}
