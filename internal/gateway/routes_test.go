package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxarena/callctl/domain/entities"
	"github.com/voxarena/callctl/internal/bootstrap"
)

type fakeBackend struct {
	mu        sync.Mutex
	transfers map[string][]entities.Transfer
	nextID    int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{transfers: make(map[string][]entities.Transfer)}
}

func (f *fakeBackend) CreateSession(ctx context.Context, roomName, userID string) (*entities.Session, error) {
	return &entities.Session{ID: "sess-1", RoomName: roomName, UserID: userID, Status: entities.SessionStatusCreated}, nil
}

func (f *fakeBackend) CreateTransfer(ctx context.Context, sessionID, phoneNumber string, transferType entities.TransferType) (*entities.Transfer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	t := entities.Transfer{
		ID:          fmt.Sprintf("tr-%d", f.nextID),
		SessionID:   sessionID,
		PhoneNumber: phoneNumber,
		Type:        transferType,
		Status:      entities.TransferStatus("initiated"),
		InitiatedAt: time.Now(),
	}
	f.transfers[sessionID] = append(f.transfers[sessionID], t)
	return &t, nil
}

func (f *fakeBackend) ListTransfers(ctx context.Context, sessionID string) ([]entities.Transfer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]entities.Transfer, len(f.transfers[sessionID]))
	copy(out, f.transfers[sessionID])
	return out, nil
}

func (f *fakeBackend) StartOutboundCall(ctx context.Context, agentID, phoneNumber string) (string, error) {
	return "call-1", nil
}

func (f *fakeBackend) OutboundCallStatus(ctx context.Context, callID string) (string, error) {
	return "ringing", nil
}

func (f *fakeBackend) EndOutboundCall(ctx context.Context, callID string) error {
	return nil
}

func (f *fakeBackend) SaveTranscript(ctx context.Context, roomName, content string, speaker entities.Speaker) error {
	return nil
}

func newTestGateway(backend *fakeBackend) (*echo.Echo, *Gateway) {
	b := bootstrap.New("wss://example.livekit.cloud", "api-key", "api-secret", backend, nil)
	g := New(b, backend, backend, backend, nil, nil)
	e := echo.New()
	g.InitRoutes(e)
	return e, g
}

func doJSON(e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	e, g := newTestGateway(newFakeBackend())
	defer g.Close()

	rec := doJSON(e, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStartSessionReturnsCredential(t *testing.T) {
	e, g := newTestGateway(newFakeBackend())
	defer g.Close()

	rec := doJSON(e, http.MethodPost, "/api/v1/sessions/start", `{"identity":"user-1"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var cred bootstrap.Credential
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cred))
	assert.NotEmpty(t, cred.Token)
	assert.True(t, strings.HasPrefix(cred.RoomName, "room_"))
	require.NotNil(t, cred.Session)
	assert.Equal(t, "user-1", cred.Session.UserID)
}

func TestTransferEndpoints(t *testing.T) {
	e, g := newTestGateway(newFakeBackend())
	defer g.Close()

	rec := doJSON(e, http.MethodPost, "/api/v1/sessions/sess-1/transfers",
		`{"phone_number":"+13105550000","transfer_type":"warm"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created entities.Transfer
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, entities.TransferStatusInitiating, created.Status)

	// A second transfer on the same session conflicts
	rec = doJSON(e, http.MethodPost, "/api/v1/sessions/sess-1/transfers",
		`{"phone_number":"+12125551234","transfer_type":"cold"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Validation failures are the caller's fault
	rec = doJSON(e, http.MethodPost, "/api/v1/sessions/sess-2/transfers",
		`{"phone_number":"310-555","transfer_type":"warm"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(e, http.MethodGet, "/api/v1/sessions/sess-1/transfers", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var listing TransfersResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	require.NotNil(t, listing.Active)
	assert.Equal(t, created.ID, listing.Active.ID)
}

func TestTransferInvariantSurvivesRestart(t *testing.T) {
	backend := newFakeBackend()

	e, g := newTestGateway(backend)
	rec := doJSON(e, http.MethodPost, "/api/v1/sessions/sess-1/transfers",
		`{"phone_number":"+13105550000","transfer_type":"warm"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	g.Close()

	// A fresh gateway over the same backend still refuses a second
	// transfer for the session.
	e2, g2 := newTestGateway(backend)
	defer g2.Close()
	rec = doJSON(e2, http.MethodPost, "/api/v1/sessions/sess-1/transfers",
		`{"phone_number":"+12125551234","transfer_type":"cold"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestOutboundCallEndpoints(t *testing.T) {
	e, g := newTestGateway(newFakeBackend())
	defer g.Close()

	rec := doJSON(e, http.MethodPost, "/api/v1/calls",
		`{"agent_id":"agent-1","phone_number":"+12125551234"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var call CallResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &call))
	assert.Equal(t, "call-1", call.CallID)
	assert.Equal(t, string(entities.CallStateRinging), call.State)
	assert.Equal(t, "00:00", call.FormattedDuration)

	// The same agent cannot dial twice
	rec = doJSON(e, http.MethodPost, "/api/v1/calls",
		`{"agent_id":"agent-1","phone_number":"+13105550000"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Another agent can
	rec = doJSON(e, http.MethodPost, "/api/v1/calls",
		`{"agent_id":"agent-2","phone_number":"+13105550000"}`)
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(e, http.MethodGet, "/api/v1/calls/agent-1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(e, http.MethodPost, "/api/v1/calls/agent-1/end", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &call))
	assert.Equal(t, string(entities.CallStateCompleted), call.State)

	// Ending again conflicts, reset clears the slate
	rec = doJSON(e, http.MethodPost, "/api/v1/calls/agent-1/end", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(e, http.MethodPost, "/api/v1/calls/agent-1/reset", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &call))
	assert.Equal(t, string(entities.CallStateIdle), call.State)
}

func TestRoomWatchLifecycle(t *testing.T) {
	upgrader := websocket.Upgrader{}
	feed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"type":"segment","segment":{"id":"a1","text":"hello","final":true},"participant":{"identity":"user-1"}}`))
		conn.ReadMessage()
	}))
	defer feed.Close()
	feedURL := "ws" + strings.TrimPrefix(feed.URL, "http")

	e, g := newTestGateway(newFakeBackend())
	defer g.Close()

	rec := doJSON(e, http.MethodPost, "/api/v1/rooms/room-42/watch",
		`{"feed_url":"`+feedURL+`"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	// Watching twice conflicts
	rec = doJSON(e, http.MethodPost, "/api/v1/rooms/room-42/watch",
		`{"feed_url":"`+feedURL+`"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	require.Eventually(t, func() bool {
		rec := doJSON(e, http.MethodGet, "/api/v1/rooms/room-42/transcript", "")
		if rec.Code != http.StatusOK {
			return false
		}
		var view TranscriptResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
			return false
		}
		return len(view.Log) == 1
	}, time.Second, 10*time.Millisecond)

	rec = doJSON(e, http.MethodPost, "/api/v1/rooms/room-42/stop", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var stopped StopResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stopped))
	require.Len(t, stopped.Transcript, 1)
	assert.Equal(t, "hello", stopped.Transcript[0].Text)

	// The room is gone after stop
	rec = doJSON(e, http.MethodGet, "/api/v1/rooms/room-42/transcript", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(e, http.MethodPost, "/api/v1/rooms/room-42/stop", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// Two watch requests racing for the same room must yield exactly one
// feed connection; the loser conflicts before it ever dials.
func TestConcurrentWatchAdmitsOneWinner(t *testing.T) {
	var dials atomic.Int32
	upgrader := websocket.Upgrader{}
	feed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dials.Add(1)
		time.Sleep(50 * time.Millisecond)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.ReadMessage()
	}))
	defer feed.Close()
	feedURL := "ws" + strings.TrimPrefix(feed.URL, "http")

	e, g := newTestGateway(newFakeBackend())
	defer g.Close()

	codes := make(chan int, 2)
	for i := 0; i < 2; i++ {
		go func() {
			rec := doJSON(e, http.MethodPost, "/api/v1/rooms/room-7/watch",
				`{"feed_url":"`+feedURL+`"}`)
			codes <- rec.Code
		}()
	}

	got := []int{<-codes, <-codes}
	sort.Ints(got)
	assert.Equal(t, []int{http.StatusCreated, http.StatusConflict}, got)
	assert.Equal(t, int32(1), dials.Load(), "both watch requests dialed the feed")

	rec := doJSON(e, http.MethodPost, "/api/v1/rooms/room-7/stop", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWatchRejectsUnreachableFeed(t *testing.T) {
	e, g := newTestGateway(newFakeBackend())
	defer g.Close()

	rec := doJSON(e, http.MethodPost, "/api/v1/rooms/room-42/watch",
		`{"feed_url":"ws://127.0.0.1:1/feed"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	rec = doJSON(e, http.MethodPost, "/api/v1/rooms/room-42/watch", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDialValidation(t *testing.T) {
	e, g := newTestGateway(newFakeBackend())
	defer g.Close()

	rec := doJSON(e, http.MethodPost, "/api/v1/calls",
		`{"agent_id":"agent-1","phone_number":"212-555-1234"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(e, http.MethodPost, "/api/v1/calls",
		`{"phone_number":"+12125551234"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDialComposesLocalNumbers(t *testing.T) {
	e, g := newTestGateway(newFakeBackend())
	defer g.Close()

	rec := doJSON(e, http.MethodPost, "/api/v1/calls",
		`{"agent_id":"agent-9","country_code":"+1","national_number":"(212) 555-1234"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var call CallResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &call))
	assert.Equal(t, "+12125551234", call.PhoneNumber)

	// Composition does not bypass validation
	rec = doJSON(e, http.MethodPost, "/api/v1/calls",
		`{"agent_id":"agent-10","country_code":"+1","national_number":"555"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
