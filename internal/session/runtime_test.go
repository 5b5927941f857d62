package session

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxarena/callctl/domain/entities"
	"github.com/voxarena/callctl/domain/repositories"
)

type fakeStore struct {
	mu    sync.Mutex
	lines []string
}

func (s *fakeStore) SaveTranscript(ctx context.Context, roomName, content string, speaker entities.Speaker) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, content)
	return nil
}

type fakeAnalyzer struct {
	mu       sync.Mutex
	err      error
	segments []entities.TranscriptSegment
}

func (a *fakeAnalyzer) AnalyzeCall(ctx context.Context, segments []entities.TranscriptSegment) (*entities.CallAnalysis, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return nil, a.err
	}
	a.segments = segments
	return &entities.CallAnalysis{Summary: "short call", Sentiment: "neutral", Outcome: "resolved"}, nil
}

var upgrader = websocket.Upgrader{}

func feedServer(t *testing.T, frames []string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		for _, frame := range frames {
			require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))
		}
		conn.ReadMessage()
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestFeedFlowsIntoTranscript(t *testing.T) {
	srv := feedServer(t, []string{
		`{"type":"segment","segment":{"id":"a1","text":"hel","final":false},"participant":{"identity":"user-1"}}`,
		`{"type":"segment","segment":{"id":"a1","text":"hello","final":true},"participant":{"identity":"user-1"}}`,
		`{"type":"data","payload":{"type":"transcript","text":"hi there","speaker":"agent"}}`,
	})

	store := &fakeStore{}
	rt, err := Start(context.Background(), Config{
		RoomName: "room-42",
		FeedURL:  wsURL(srv),
		Store:    store,
	})
	require.NoError(t, err)
	defer rt.Stop(context.Background())

	require.Eventually(t, func() bool { return len(rt.Log()) == 2 },
		time.Second, 10*time.Millisecond)

	log := rt.Log()
	assert.Equal(t, "hello", log[0].Text)
	assert.Equal(t, entities.SpeakerUser, log[0].Speaker)
	assert.Equal(t, "hi there", log[1].Text)
	assert.Equal(t, entities.SpeakerAgent, log[1].Speaker)
}

func TestStopRunsAnalysisOverFinalizedLog(t *testing.T) {
	srv := feedServer(t, []string{
		`{"type":"segment","segment":{"id":"a1","text":"hello","final":true},"participant":{"identity":"user-1"}}`,
	})

	analyzer := &fakeAnalyzer{}
	rt, err := Start(context.Background(), Config{
		RoomName: "room-42",
		FeedURL:  wsURL(srv),
		Store:    &fakeStore{},
		Analyzer: analyzer,
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(rt.Log()) == 1 },
		time.Second, 10*time.Millisecond)

	analysis := rt.Stop(context.Background())
	require.NotNil(t, analysis)
	assert.Equal(t, "short call", analysis.Summary)
	require.Len(t, analyzer.segments, 1)

	// Stop is idempotent and does not re-run analysis
	assert.Nil(t, rt.Stop(context.Background()))
}

func TestStopSurvivesAnalysisFailure(t *testing.T) {
	srv := feedServer(t, []string{
		`{"type":"segment","segment":{"id":"a1","text":"hello","final":true},"participant":{"identity":"user-1"}}`,
	})

	rt, err := Start(context.Background(), Config{
		RoomName: "room-42",
		FeedURL:  wsURL(srv),
		Store:    &fakeStore{},
		Analyzer: &fakeAnalyzer{err: errors.New("quota exceeded")},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(rt.Log()) == 1 },
		time.Second, 10*time.Millisecond)
	assert.Nil(t, rt.Stop(context.Background()))
}

func TestStopWithoutAnalyzerOrTranscript(t *testing.T) {
	srv := feedServer(t, nil)

	rt, err := Start(context.Background(), Config{
		RoomName: "room-42",
		FeedURL:  wsURL(srv),
		Store:    &fakeStore{},
	})
	require.NoError(t, err)
	assert.Nil(t, rt.Stop(context.Background()))
}

type scriptedSource struct {
	events []struct {
		id, text string
		final    bool
	}
}

func (s *scriptedSource) Start(ctx context.Context, emit func(event repositories.SegmentEvent)) error {
	for _, ev := range s.events {
		emit(repositories.SegmentEvent{ID: ev.id, Text: ev.text, Final: ev.final})
	}
	<-ctx.Done()
	return ctx.Err()
}

func TestLocalSourceFeedsUserTranscript(t *testing.T) {
	srv := feedServer(t, nil)

	source := &scriptedSource{events: []struct {
		id, text string
		final    bool
	}{
		{"u1", "book a", false},
		{"u1", "book a table", true},
	}}

	rt, err := Start(context.Background(), Config{
		RoomName: "room-42",
		FeedURL:  wsURL(srv),
		Store:    &fakeStore{},
		Source:   source,
	})
	require.NoError(t, err)
	defer rt.Stop(context.Background())

	require.Eventually(t, func() bool { return len(rt.Log()) == 1 },
		time.Second, 10*time.Millisecond)

	log := rt.Log()
	assert.Equal(t, "book a table", log[0].Text)
	assert.Equal(t, entities.SpeakerUser, log[0].Speaker)
}

func TestStartFailsWhenFeedUnreachable(t *testing.T) {
	_, err := Start(context.Background(), Config{
		RoomName: "room-42",
		FeedURL:  "ws://127.0.0.1:1/feed",
		Store:    &fakeStore{},
	})
	assert.Error(t, err)
}
