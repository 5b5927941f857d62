// Package transfer manages the in-call transfer lifecycle for one
// session: at most one non-terminal transfer at a time, remote status
// reconciled by polling, terminal transfers frozen into history.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/voxarena/callctl/domain/entities"
	"github.com/voxarena/callctl/domain/repositories"
	"github.com/voxarena/callctl/internal/poller"
)

var (
	// ErrTransferActive rejects a second transfer while one is live
	ErrTransferActive = errors.New("a transfer is already in progress for this session")
	// ErrInvalidPhoneNumber rejects numbers that are not E.164
	ErrInvalidPhoneNumber = errors.New("phone number must be in E.164 format")
	// ErrInvalidTransferType rejects unknown transfer types
	ErrInvalidTransferType = errors.New("transfer type must be warm or cold")
	// ErrMachineClosed rejects requests once the machine is shut down
	ErrMachineClosed = errors.New("transfer machine is closed")
)

// Config wires a transfer machine to its collaborators
type Config struct {
	SessionID string
	Service   repositories.TransferService
	Logger    *zap.Logger

	// Clock and PollInterval override timing, mainly for tests
	Clock        clock.Clock
	PollInterval time.Duration
}

// Machine owns the transfer state for one session
type Machine struct {
	cfg Config

	mu      sync.Mutex
	active  *entities.Transfer
	history []entities.Transfer
	poll    *poller.Poller
	closed  bool
}

// NewMachine creates an idle transfer machine
func NewMachine(cfg Config) *Machine {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Machine{cfg: cfg}
}

// Attach loads the transfers already recorded for the session, so the
// single-active invariant holds across reconnects. A surviving
// non-terminal transfer resumes polling.
func (m *Machine) Attach(ctx context.Context) error {
	transfers, err := m.cfg.Service.ListTransfers(ctx, m.cfg.SessionID)
	if err != nil {
		return fmt.Errorf("failed to load transfers: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range transfers {
		t := transfers[i]
		if t.IsTerminal() {
			m.history = append(m.history, t)
		} else if m.active == nil {
			m.active = &t
		}
	}
	if m.active != nil {
		m.startPollingLocked()
	}
	return nil
}

// Request initiates a transfer. Validation failures and the
// single-active invariant are enforced before any request is issued;
// a creation failure leaves the machine unchanged.
func (m *Machine) Request(ctx context.Context, phoneNumber string, transferType entities.TransferType) (*entities.Transfer, error) {
	if !entities.ValidE164(phoneNumber) {
		return nil, ErrInvalidPhoneNumber
	}
	if transferType != entities.TransferTypeWarm && transferType != entities.TransferTypeCold {
		return nil, ErrInvalidTransferType
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrMachineClosed
	}
	if m.active != nil {
		m.mu.Unlock()
		return nil, ErrTransferActive
	}
	m.mu.Unlock()

	created, err := m.cfg.Service.CreateTransfer(ctx, m.cfg.SessionID, phoneNumber, transferType)
	if err != nil {
		return nil, fmt.Errorf("failed to initiate transfer: %w", err)
	}
	if mapped, ok := mapRemoteStatus(string(created.Status)); ok {
		created.Status = mapped
	} else {
		created.Status = entities.TransferStatusInitiating
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		// Close won the race; adopting the transfer now would leave it
		// non-terminal with no poll to finish it.
		return nil, ErrMachineClosed
	}
	if m.active != nil {
		// Lost the race to a concurrent Request; the backend enforces
		// the invariant too, so surface the rejection.
		return nil, ErrTransferActive
	}

	m.active = created
	m.cfg.Logger.Info("Transfer initiated",
		zap.String("sessionID", m.cfg.SessionID),
		zap.String("transferID", created.ID),
		zap.String("type", string(transferType)))

	if created.IsTerminal() {
		// Cold transfers can complete synchronously at creation.
		m.finishLocked(created.Status)
	} else {
		m.startPollingLocked()
	}

	snapshot := *created
	return &snapshot, nil
}

// Active returns a copy of the non-terminal transfer, if one exists
func (m *Machine) Active() *entities.Transfer {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return nil
	}
	snapshot := *m.active
	return &snapshot
}

// History returns the terminal transfers, oldest first
func (m *Machine) History() []entities.Transfer {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]entities.Transfer, len(m.history))
	copy(out, m.history)
	return out
}

// Close releases the polling interval; the machine accepts no further
// requests afterward.
func (m *Machine) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.stopPollingLocked()
}

func (m *Machine) startPollingLocked() {
	if m.closed || m.poll != nil || m.active == nil {
		return
	}

	transferID := m.active.ID
	p := poller.New(poller.Config{
		Interval: m.cfg.PollInterval,
		Clock:    m.cfg.Clock,
		Logger:   m.cfg.Logger,
		Last:     string(m.active.Status),
		Fetch: func(ctx context.Context) (string, error) {
			transfers, err := m.cfg.Service.ListTransfers(ctx, m.cfg.SessionID)
			if err != nil {
				return "", err
			}
			for i := range transfers {
				if transfers[i].ID == transferID {
					return string(transfers[i].Status), nil
				}
			}
			return "", errors.New("transfer not found in session listing")
		},
		Map: func(raw string) (string, bool) {
			status, ok := mapRemoteStatus(raw)
			return string(status), ok
		},
		IsTerminal: func(state string) bool {
			t := entities.Transfer{Status: entities.TransferStatus(state)}
			return t.IsTerminal()
		},
		OnTransition: func(state string) {
			m.applyStatus(entities.TransferStatus(state))
		},
	})
	m.poll = p
	p.Start()
}

func (m *Machine) stopPollingLocked() {
	if m.poll != nil {
		m.poll.Stop()
		m.poll = nil
	}
}

// applyStatus moves the active transfer to a newly observed status
func (m *Machine) applyStatus(status entities.TransferStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil || m.active.IsTerminal() {
		return
	}

	m.active.Status = status
	now := time.Now()
	switch status {
	case entities.TransferStatusConnected:
		if m.active.ConnectedAt == nil {
			m.active.ConnectedAt = &now
		}
	case entities.TransferStatusCompleted, entities.TransferStatusFailed:
		m.active.CompletedAt = &now
	}

	m.cfg.Logger.Info("Transfer status changed",
		zap.String("sessionID", m.cfg.SessionID),
		zap.String("transferID", m.active.ID),
		zap.String("status", string(status)))

	if m.active.IsTerminal() {
		m.finishLocked(status)
	}
}

// finishLocked freezes the active transfer into history
func (m *Machine) finishLocked(status entities.TransferStatus) {
	if m.active.CompletedAt == nil {
		now := time.Now()
		m.active.CompletedAt = &now
	}
	m.active.Status = status
	m.history = append(m.history, *m.active)
	m.active = nil
	m.stopPollingLocked()
}

// mapRemoteStatus converts backend status vocabulary to local states
func mapRemoteStatus(raw string) (entities.TransferStatus, bool) {
	switch raw {
	case "initiating", "initiated", "pending":
		return entities.TransferStatusInitiating, true
	case "ringing":
		return entities.TransferStatusRinging, true
	case "connected", "in-progress":
		return entities.TransferStatusConnected, true
	case "completed":
		return entities.TransferStatusCompleted, true
	case "failed", "error":
		return entities.TransferStatusFailed, true
	default:
		return "", false
	}
}
