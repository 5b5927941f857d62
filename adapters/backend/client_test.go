package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxarena/callctl/domain/entities"
)

func TestCreateSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/sessions/", r.URL.Path)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "room-42", body["room_name"])
		assert.Equal(t, "user-1", body["user_id"])

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(sessionPayload{
			ID:        "sess-1",
			RoomName:  "room-42",
			UserID:    "user-1",
			Status:    "CREATED",
			CreatedAt: time.Now(),
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	session, err := c.CreateSession(context.Background(), "room-42", "user-1")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", session.ID)
	assert.Equal(t, entities.SessionStatusCreated, session.Status)
}

func TestSaveTranscriptSendsWireSpeaker(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/sessions/by-room/room-42/transcripts", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	require.NoError(t, c.SaveTranscript(context.Background(), "room-42", "hello", entities.SpeakerAgent))
	assert.Equal(t, "hello", got["content"])
	assert.Equal(t, "AGENT", got["speaker"])
}

func TestTransferRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/sessions/sess-1/transfer":
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "+13105550000", body["phone_number"])
			assert.Equal(t, "cold", body["transfer_type"])
			json.NewEncoder(w).Encode(transferPayload{
				ID:          "tr-1",
				SessionID:   "sess-1",
				PhoneNumber: "+13105550000",
				Type:        "cold",
				Status:      "initiated",
				InitiatedAt: time.Now(),
			})
		case r.Method == http.MethodGet && r.URL.Path == "/sessions/sess-1/transfers":
			json.NewEncoder(w).Encode([]transferPayload{
				{ID: "tr-1", SessionID: "sess-1", Status: "ringing"},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)

	created, err := c.CreateTransfer(context.Background(), "sess-1", "+13105550000", entities.TransferTypeCold)
	require.NoError(t, err)
	assert.Equal(t, "tr-1", created.ID)
	assert.Equal(t, entities.TransferStatus("initiated"), created.Status)

	listed, err := c.ListTransfers(context.Background(), "sess-1")
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, entities.TransferStatus("ringing"), listed[0].Status)
}

func TestOutboundCallEndpoints(t *testing.T) {
	var ended bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/telephony/outbound/call":
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "agent-1", body["agent_id"])
			json.NewEncoder(w).Encode(map[string]string{"call_id": "call-9"})
		case "/telephony/outbound/call/call-9/status":
			json.NewEncoder(w).Encode(map[string]string{"status": "in-progress"})
		case "/telephony/outbound/call/call-9/end":
			ended = true
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)

	callID, err := c.StartOutboundCall(context.Background(), "agent-1", "+12125551234")
	require.NoError(t, err)
	assert.Equal(t, "call-9", callID)

	status, err := c.OutboundCallStatus(context.Background(), callID)
	require.NoError(t, err)
	assert.Equal(t, "in-progress", status)

	require.NoError(t, c.EndOutboundCall(context.Background(), callID))
	assert.True(t, ended)
}

func TestErrorStatusSurfacesAsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)

	_, err := c.CreateSession(context.Background(), "room-42", "user-1")
	assert.Error(t, err)

	_, err = c.StartOutboundCall(context.Background(), "agent-1", "+12125551234")
	assert.Error(t, err)

	assert.Error(t, c.SaveTranscript(context.Background(), "room-42", "x", entities.SpeakerUser))
}
