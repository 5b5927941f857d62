// Package gateway exposes the control plane over HTTP: session
// bootstrap, in-call transfers, and outbound calls.
package gateway

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/voxarena/callctl/domain/entities"
	"github.com/voxarena/callctl/domain/repositories"
	"github.com/voxarena/callctl/internal/bootstrap"
	"github.com/voxarena/callctl/internal/outbound"
	"github.com/voxarena/callctl/internal/session"
	"github.com/voxarena/callctl/internal/transfer"
)

// Gateway routes HTTP requests to the per-session and per-agent state
// machines, creating them on first use.
type Gateway struct {
	bootstrapper *bootstrap.Bootstrapper
	transfers    repositories.TransferService
	telephony    repositories.TelephonyService
	store        repositories.TranscriptStore
	analyzer     repositories.CallAnalyzer
	logger       *zap.Logger

	mu       sync.Mutex
	machines map[string]*transfer.Machine
	callers  map[string]*outbound.Controller
	watches  map[string]*session.Runtime
}

// New creates a gateway. The analyzer may be nil; room teardown then
// skips post-call analysis.
func New(bootstrapper *bootstrap.Bootstrapper, transfers repositories.TransferService, telephony repositories.TelephonyService, store repositories.TranscriptStore, analyzer repositories.CallAnalyzer, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		bootstrapper: bootstrapper,
		transfers:    transfers,
		telephony:    telephony,
		store:        store,
		analyzer:     analyzer,
		logger:       logger,
		machines:     make(map[string]*transfer.Machine),
		callers:      make(map[string]*outbound.Controller),
		watches:      make(map[string]*session.Runtime),
	}
}

// InitRoutes initializes all API routes
func (g *Gateway) InitRoutes(e *echo.Echo) {
	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"service": "callctl",
		})
	})

	v1 := e.Group("/api/v1")

	v1.POST("/sessions/start", g.startSession)

	v1.POST("/sessions/:id/transfers", g.requestTransfer)
	v1.GET("/sessions/:id/transfers", g.listTransfers)

	v1.POST("/calls", g.dial)
	v1.GET("/calls/:agent_id", g.callState)
	v1.POST("/calls/:agent_id/end", g.endCall)
	v1.POST("/calls/:agent_id/reset", g.resetCall)

	v1.POST("/rooms/:room/watch", g.watchRoom)
	v1.GET("/rooms/:room/transcript", g.roomTranscript)
	v1.POST("/rooms/:room/stop", g.stopRoom)
}

// Close releases every state machine the gateway created
func (g *Gateway) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, m := range g.machines {
		m.Close()
	}
	for _, c := range g.callers {
		c.Close()
	}
	for _, rt := range g.watches {
		if rt != nil {
			rt.Stop(context.Background())
		}
	}
}

func (g *Gateway) startSession(c echo.Context) error {
	var req StartSessionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}

	credential, err := g.bootstrapper.Start(c.Request().Context(), req.Identity)
	if err != nil {
		g.logger.Error("Session bootstrap failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "bootstrap_failed",
			Message: "Failed to start session",
		})
	}

	return c.JSON(http.StatusOK, credential)
}

func (g *Gateway) requestTransfer(c echo.Context) error {
	sessionID := c.Param("id")

	var req TransferRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}

	machine := g.machineFor(c, sessionID)
	created, err := machine.Request(c.Request().Context(), req.PhoneNumber, entities.TransferType(req.TransferType))
	switch {
	case errors.Is(err, transfer.ErrInvalidPhoneNumber), errors.Is(err, transfer.ErrInvalidTransferType):
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: err.Error(),
		})
	case errors.Is(err, transfer.ErrTransferActive):
		return c.JSON(http.StatusConflict, ErrorResponse{
			Error:   "transfer_active",
			Message: err.Error(),
		})
	case err != nil:
		g.logger.Error("Transfer request failed",
			zap.String("sessionID", sessionID),
			zap.Error(err))
		return c.JSON(http.StatusBadGateway, ErrorResponse{
			Error:   "transfer_failed",
			Message: "Failed to initiate transfer",
		})
	}

	return c.JSON(http.StatusCreated, created)
}

func (g *Gateway) listTransfers(c echo.Context) error {
	machine := g.machineFor(c, c.Param("id"))
	return c.JSON(http.StatusOK, TransfersResponse{
		Active:  machine.Active(),
		History: machine.History(),
	})
}

func (g *Gateway) dial(c echo.Context) error {
	var req DialRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}
	if req.AgentID == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "missing_fields",
			Message: "Agent id is required",
		})
	}

	phoneNumber := req.PhoneNumber
	if phoneNumber == "" && req.NationalNumber != "" {
		countryCode := req.CountryCode
		if countryCode == "" {
			countryCode = "+1"
		}
		phoneNumber = entities.ComposeNumber(countryCode, req.NationalNumber)
	}

	controller := g.controllerFor(req.AgentID)
	err := controller.Dial(c.Request().Context(), phoneNumber)
	switch {
	case errors.Is(err, outbound.ErrInvalidPhoneNumber):
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: err.Error(),
		})
	case errors.Is(err, outbound.ErrNotIdle):
		return c.JSON(http.StatusConflict, ErrorResponse{
			Error:   "call_in_progress",
			Message: err.Error(),
		})
	case err != nil:
		g.logger.Error("Outbound dial failed",
			zap.String("agentID", req.AgentID),
			zap.Error(err))
		return c.JSON(http.StatusBadGateway, ErrorResponse{
			Error:   "dial_failed",
			Message: "Failed to place call",
		})
	}

	return c.JSON(http.StatusCreated, callResponse(controller))
}

func (g *Gateway) callState(c echo.Context) error {
	return c.JSON(http.StatusOK, callResponse(g.controllerFor(c.Param("agent_id"))))
}

func (g *Gateway) endCall(c echo.Context) error {
	controller := g.controllerFor(c.Param("agent_id"))
	if err := controller.End(c.Request().Context()); err != nil {
		return c.JSON(http.StatusConflict, ErrorResponse{
			Error:   "no_active_call",
			Message: err.Error(),
		})
	}
	return c.JSON(http.StatusOK, callResponse(controller))
}

func (g *Gateway) resetCall(c echo.Context) error {
	controller := g.controllerFor(c.Param("agent_id"))
	controller.Reset()
	return c.JSON(http.StatusOK, callResponse(controller))
}

// watchRoom opens the room's transcript pipeline: the event feed is
// dialed and reconciled until the room is stopped.
func (g *Gateway) watchRoom(c echo.Context) error {
	roomName := c.Param("room")

	var req WatchRequest
	if err := c.Bind(&req); err != nil || req.FeedURL == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "A feed_url is required",
		})
	}

	// Reserve the room before dialing the feed. A nil entry marks a
	// watch still connecting; concurrent requests for the same room
	// must conflict here, not both dial.
	g.mu.Lock()
	if _, ok := g.watches[roomName]; ok {
		g.mu.Unlock()
		return c.JSON(http.StatusConflict, ErrorResponse{
			Error:   "already_watching",
			Message: "The room is already being watched",
		})
	}
	g.watches[roomName] = nil
	g.mu.Unlock()

	rt, err := session.Start(c.Request().Context(), session.Config{
		RoomName: roomName,
		FeedURL:  req.FeedURL,
		Store:    g.store,
		Analyzer: g.analyzer,
		Logger:   g.logger,
	})
	if err != nil {
		g.mu.Lock()
		delete(g.watches, roomName)
		g.mu.Unlock()
		g.logger.Error("Could not open event feed",
			zap.String("roomName", roomName),
			zap.Error(err))
		return c.JSON(http.StatusBadGateway, ErrorResponse{
			Error:   "feed_unreachable",
			Message: "Failed to connect to the event feed",
		})
	}

	g.mu.Lock()
	g.watches[roomName] = rt
	g.mu.Unlock()

	return c.JSON(http.StatusCreated, map[string]string{"room_name": roomName})
}

func (g *Gateway) roomTranscript(c echo.Context) error {
	g.mu.Lock()
	rt, ok := g.watches[c.Param("room")]
	g.mu.Unlock()
	if !ok || rt == nil {
		return c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "not_watching",
			Message: "The room is not being watched",
		})
	}

	resp := TranscriptResponse{
		Log:      rt.Log(),
		Live:     make(map[string]string),
		Speaking: make(map[string]bool),
	}
	for _, speaker := range []entities.Speaker{entities.SpeakerUser, entities.SpeakerAgent} {
		if text, ok := rt.Live(speaker); ok {
			resp.Live[string(speaker)] = text
		}
		resp.Speaking[string(speaker)] = rt.Speaking(speaker)
	}
	return c.JSON(http.StatusOK, resp)
}

// stopRoom tears the pipeline down and returns the finalized log with
// the post-call analysis, when one could be produced.
func (g *Gateway) stopRoom(c echo.Context) error {
	roomName := c.Param("room")

	g.mu.Lock()
	rt, ok := g.watches[roomName]
	if ok && rt != nil {
		delete(g.watches, roomName)
	}
	g.mu.Unlock()
	if !ok || rt == nil {
		return c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "not_watching",
			Message: "The room is not being watched",
		})
	}

	analysis := rt.Stop(c.Request().Context())
	return c.JSON(http.StatusOK, StopResponse{
		Transcript: rt.Log(),
		Analysis:   analysis,
	})
}

// machineFor returns the session's transfer machine, creating and
// attaching it on first use so the single-active invariant holds
// across gateway restarts.
func (g *Gateway) machineFor(c echo.Context, sessionID string) *transfer.Machine {
	g.mu.Lock()
	machine, ok := g.machines[sessionID]
	if !ok {
		machine = transfer.NewMachine(transfer.Config{
			SessionID: sessionID,
			Service:   g.transfers,
			Logger:    g.logger,
		})
		g.machines[sessionID] = machine
	}
	g.mu.Unlock()

	if !ok {
		if err := machine.Attach(c.Request().Context()); err != nil {
			g.logger.Warn("Could not load existing transfers",
				zap.String("sessionID", sessionID),
				zap.Error(err))
		}
	}
	return machine
}

func (g *Gateway) controllerFor(agentID string) *outbound.Controller {
	g.mu.Lock()
	defer g.mu.Unlock()
	controller, ok := g.callers[agentID]
	if !ok {
		controller = outbound.NewController(outbound.Config{
			AgentID:   agentID,
			Telephony: g.telephony,
			Logger:    g.logger,
		})
		g.callers[agentID] = controller
	}
	return controller
}

func callResponse(controller *outbound.Controller) CallResponse {
	snapshot := controller.Snapshot()
	return CallResponse{
		CallID:            snapshot.CallID,
		PhoneNumber:       snapshot.PhoneNumber,
		State:             string(snapshot.State),
		Duration:          snapshot.Duration,
		FormattedDuration: entities.FormatDuration(snapshot.Duration),
	}
}
