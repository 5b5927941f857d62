// Package realtime subscribes to a room's live event feed over a
// websocket and dispatches transcription events into the session.
package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/voxarena/callctl/domain/repositories"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024
)

// Sink receives the events read off the feed
type Sink interface {
	HandleSegment(event repositories.SegmentEvent, participant repositories.Participant)
	HandleData(payload []byte)
}

// envelope is the wire frame of the event feed. Structured segment
// events carry a participant; everything else rides in the payload and
// is interpreted downstream.
type envelope struct {
	Type        string                     `json:"type"`
	Segment     *repositories.SegmentEvent `json:"segment,omitempty"`
	Participant repositories.Participant   `json:"participant,omitempty"`
	Payload     json.RawMessage            `json:"payload,omitempty"`
}

// Channel is one live subscription to a room's event feed
type Channel struct {
	conn   *websocket.Conn
	sink   Sink
	logger *zap.Logger

	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to the feed and starts the read and ping pumps
func Dial(ctx context.Context, url string, sink Sink, logger *zap.Logger) (*Channel, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}

	ch := &Channel{
		conn:   conn,
		sink:   sink,
		logger: logger,
		done:   make(chan struct{}),
	}

	go ch.writePump()
	go ch.readPump()
	return ch, nil
}

// Close tears down the subscription. Safe to call more than once.
func (ch *Channel) Close() {
	ch.closeOnce.Do(func() {
		close(ch.done)
		ch.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		ch.conn.Close()
	})
}

// Done closes when the read pump exits
func (ch *Channel) Done() <-chan struct{} {
	return ch.done
}

// readPump pumps messages from the feed into the sink
func (ch *Channel) readPump() {
	defer ch.Close()

	ch.conn.SetReadLimit(maxMessageSize)
	ch.conn.SetReadDeadline(time.Now().Add(pongWait))
	ch.conn.SetPongHandler(func(string) error {
		ch.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := ch.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				ch.logger.Error("Event feed error", zap.Error(err))
			}
			return
		}

		switch messageType {
		case websocket.TextMessage:
			ch.dispatch(message)
		case websocket.BinaryMessage:
			// Binary frames are raw data payloads
			ch.sink.HandleData(message)
		}
	}
}

// writePump keeps the connection alive with pings
func (ch *Channel) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ch.done:
			return
		case <-ticker.C:
			ch.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ch.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// dispatch routes one text frame into the sink
func (ch *Channel) dispatch(message []byte) {
	var env envelope
	if err := json.Unmarshal(message, &env); err != nil {
		ch.logger.Warn("Discarding unparseable event frame", zap.Error(err))
		return
	}

	switch env.Type {
	case "segment":
		if env.Segment == nil {
			ch.logger.Warn("Segment frame without a segment body")
			return
		}
		ch.sink.HandleSegment(*env.Segment, env.Participant)
	case "data":
		if len(env.Payload) > 0 {
			ch.sink.HandleData(env.Payload)
		}
	default:
		// The feed also carries presence and media frames this
		// process does not consume.
	}
}
