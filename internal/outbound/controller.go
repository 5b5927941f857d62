// Package outbound manages one agent-initiated outbound call attempt:
// dial, poll provider status, account answered-call duration, and
// optimistic local hangup.
package outbound

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
	// ErrNotIdle rejects a dial while an attempt is in progress
	ErrNotIdle = errors.New("a call attempt is already in progress")
	// ErrInvalidPhoneNumber rejects numbers that are not E.164
	ErrInvalidPhoneNumber = errors.New("phone number must be in E.164 format")
	// ErrNoActiveCall rejects hangup when nothing is in flight
	ErrNoActiveCall = errors.New("no call in progress")
)

// Config wires an outbound controller to its collaborators
type Config struct {
	AgentID   string
	Telephony repositories.TelephonyService
	Logger    *zap.Logger

	// Clock drives duration accounting; clock.New() when nil
	Clock clock.Clock
	// PollInterval overrides the status poll cadence, mainly for tests
	PollInterval time.Duration
}

// Controller owns the outbound-call state for one agent
type Controller struct {
	cfg Config

	mu          sync.Mutex
	state       entities.CallState
	callID      string
	phoneNumber string
	answeredAt  time.Time
	frozen      int
	poll        *poller.Poller
}

// NewController creates an idle controller
func NewController(cfg Config) *Controller {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Controller{cfg: cfg, state: entities.CallStateIdle}
}

// Dial places a call. Valid only from idle; the number is validated
// before any request is issued. On success the controller holds the
// provider call id, reports ringing, and polls for status.
func (c *Controller) Dial(ctx context.Context, phoneNumber string) error {
	c.mu.Lock()
	if c.state != entities.CallStateIdle {
		c.mu.Unlock()
		return ErrNotIdle
	}
	if !entities.ValidE164(phoneNumber) {
		c.mu.Unlock()
		return ErrInvalidPhoneNumber
	}
	c.state = entities.CallStateInitiating
	c.phoneNumber = phoneNumber
	c.frozen = 0
	c.mu.Unlock()

	callID, err := c.cfg.Telephony.StartOutboundCall(ctx, c.cfg.AgentID, phoneNumber)
	if err != nil {
		c.mu.Lock()
		c.state = entities.CallStateFailed
		c.mu.Unlock()
		return fmt.Errorf("failed to initiate call: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.callID = callID
	c.state = entities.CallStateRinging
	c.startPollingLocked()

	c.cfg.Logger.Info("Outbound call initiated",
		zap.String("agentID", c.cfg.AgentID),
		zap.String("callID", callID),
		zap.String("phoneNumber", phoneNumber))
	return nil
}

// End hangs up. The local state flips to completed regardless of the
// request outcome; polling was already converging on the authoritative
// state, so a lost end-request cannot strand the UI.
func (c *Controller) End(ctx context.Context) error {
	c.mu.Lock()
	if c.state.IsTerminal() || c.state == entities.CallStateIdle {
		c.mu.Unlock()
		return ErrNoActiveCall
	}
	callID := c.callID
	c.mu.Unlock()

	if callID != "" {
		if err := c.cfg.Telephony.EndOutboundCall(ctx, callID); err != nil {
			c.cfg.Logger.Warn("End-call request failed, completing locally anyway",
				zap.String("callID", callID),
				zap.Error(err))
		}
	}

	c.applyState(entities.CallStateCompleted)
	return nil
}

// Reset returns the controller to idle, discarding the call id and
// duration. Every timer and poll is released first, on this and every
// other exit path.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopPollingLocked()
	c.state = entities.CallStateIdle
	c.callID = ""
	c.phoneNumber = ""
	c.answeredAt = time.Time{}
	c.frozen = 0
}

// Close releases the polling interval
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopPollingLocked()
}

// State returns the current call state
func (c *Controller) State() entities.CallState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Duration returns whole seconds spent in the answered state. It is 0
// until the call is answered, grows once per second while answered,
// and stays frozen once completed.
func (c *Controller) Duration() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.durationLocked()
}

func (c *Controller) durationLocked() int {
	if c.state == entities.CallStateAnswered {
		return int(c.cfg.Clock.Since(c.answeredAt) / time.Second)
	}
	return c.frozen
}

// Snapshot returns a copy of the current call record
func (c *Controller) Snapshot() entities.OutboundCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return entities.OutboundCall{
		CallID:      c.callID,
		AgentID:     c.cfg.AgentID,
		PhoneNumber: c.phoneNumber,
		State:       c.state,
		Duration:    c.durationLocked(),
	}
}

// FormattedDuration renders the duration for display
func (c *Controller) FormattedDuration() string {
	return entities.FormatDuration(c.Duration())
}

func (c *Controller) startPollingLocked() {
	if c.poll != nil {
		return
	}

	callID := c.callID
	p := poller.New(poller.Config{
		Interval: c.cfg.PollInterval,
		Clock:    c.cfg.Clock,
		Logger:   c.cfg.Logger,
		Last:     string(entities.CallStateRinging),
		Fetch: func(ctx context.Context) (string, error) {
			return c.cfg.Telephony.OutboundCallStatus(ctx, callID)
		},
		Map: func(raw string) (string, bool) {
			state, ok := mapProviderStatus(raw)
			return string(state), ok
		},
		IsTerminal: func(state string) bool {
			return entities.CallState(state).IsTerminal()
		},
		OnTransition: func(state string) {
			c.applyState(entities.CallState(state))
		},
	})
	c.poll = p
	p.Start()
}

func (c *Controller) stopPollingLocked() {
	if c.poll != nil {
		c.poll.Stop()
		c.poll = nil
	}
}

// applyState moves the call to a newly observed state
func (c *Controller) applyState(state entities.CallState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	// Idle means Reset already discarded the attempt; a stale poll
	// result must not revive it.
	if c.state == entities.CallStateIdle || c.state.IsTerminal() {
		return
	}

	previous := c.state
	c.state = state

	switch state {
	case entities.CallStateAnswered:
		if previous != entities.CallStateAnswered {
			// Duration counts from the answered transition only.
			c.answeredAt = c.cfg.Clock.Now()
			c.frozen = 0
		}
	case entities.CallStateCompleted:
		if previous == entities.CallStateAnswered {
			c.frozen = int(c.cfg.Clock.Since(c.answeredAt) / time.Second)
		}
		c.stopPollingLocked()
	case entities.CallStateFailed:
		c.stopPollingLocked()
	}

	c.cfg.Logger.Info("Outbound call state changed",
		zap.String("callID", c.callID),
		zap.String("from", string(previous)),
		zap.String("to", string(state)))
}

// mapProviderStatus converts the raw provider vocabulary to local
// call states. Unknown values carry no information.
func mapProviderStatus(raw string) (entities.CallState, bool) {
	switch raw {
	case "answered", "in-progress":
		return entities.CallStateAnswered, true
	case "completed":
		return entities.CallStateCompleted, true
	case "failed", "busy", "no-answer", "canceled":
		return entities.CallStateFailed, true
	case "ringing", "queued", "initiated":
		return entities.CallStateRinging, true
	default:
		return "", false
	}
}
