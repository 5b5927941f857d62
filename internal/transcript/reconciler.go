// Package transcript reconciles speech transcription events from two
// independent best-effort sources into one ordered, de-duplicated
// transcript log plus a per-speaker live preview.
package transcript

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/voxarena/callctl/domain/entities"
	"github.com/voxarena/callctl/domain/repositories"
)

const (
	// Quiet window after a segment-stream event before the speaking
	// indicator clears
	segmentQuiet = 500 * time.Millisecond

	// Quiet windows for the generic data-message path
	dataQuietUser  = 1500 * time.Millisecond
	dataQuietAgent = 2 * time.Second

	persistTimeout = 5 * time.Second
)

// dataMessage is the embedded JSON payload on the generic event channel
type dataMessage struct {
	Type    string `json:"type"`
	Text    string `json:"text"`
	Content string `json:"content"`
	Speaker string `json:"speaker"`
}

// Reconciler merges interim and final transcript segments, attributes
// speakers, and persists finalized lines. All state is owned
// exclusively by this instance; callers share only the room name.
type Reconciler struct {
	roomName string
	store    repositories.TranscriptStore
	logger   *zap.Logger
	clock    clock.Clock

	mu        sync.Mutex
	live      map[entities.Speaker]entities.TranscriptSegment
	finalized map[string]struct{}
	log       []entities.TranscriptSegment
	speaking  map[entities.Speaker]bool
	quiet     map[entities.Speaker]*clock.Timer
	closed    bool
}

// NewReconciler creates a reconciler for one session's room
func NewReconciler(roomName string, store repositories.TranscriptStore, logger *zap.Logger, clk clock.Clock) *Reconciler {
	if clk == nil {
		clk = clock.New()
	}
	return &Reconciler{
		roomName:  roomName,
		store:     store,
		logger:    logger,
		clock:     clk,
		live:      make(map[entities.Speaker]entities.TranscriptSegment),
		finalized: make(map[string]struct{}),
		speaking:  make(map[entities.Speaker]bool),
		quiet:     make(map[entities.Speaker]*clock.Timer),
	}
}

// HandleSegment ingests a structured segment-stream event
func (r *Reconciler) HandleSegment(seg repositories.SegmentEvent, p repositories.Participant) {
	text := strings.TrimSpace(seg.Text)
	if text == "" {
		return
	}

	speaker := attributeSpeaker(p)
	id := seg.ID
	if id == "" {
		id = uuid.NewString()
	}

	if !seg.Final {
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return
		}
		// Latest interim revision wins; earlier interim text for this
		// side is never appended anywhere.
		r.live[speaker] = entities.TranscriptSegment{
			ID:        id,
			Speaker:   speaker,
			Text:      text,
			Timestamp: time.Now(),
		}
		r.mu.Unlock()
		r.markSpeaking(speaker, segmentQuiet)
		return
	}

	r.finalize(id, speaker, text)
	r.markSpeaking(speaker, segmentQuiet)
}

// HandleData ingests a raw payload from the generic event channel.
// Anything that is not a JSON transcript envelope is dropped silently.
func (r *Reconciler) HandleData(payload []byte) {
	var msg dataMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return
	}
	if msg.Type != "transcription" && msg.Type != "transcript" {
		return
	}

	text := msg.Text
	if text == "" {
		text = msg.Content
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	speaker := entities.SpeakerUser
	quiet := dataQuietUser
	if msg.Speaker == "agent" {
		speaker = entities.SpeakerAgent
		quiet = dataQuietAgent
	}

	// The data path carries no segment id, so every message is its own
	// finalized utterance.
	r.finalize(uuid.NewString(), speaker, text)
	r.markSpeaking(speaker, quiet)
}

// finalize appends a segment to the log exactly once per id and kicks
// off the fire-and-forget persistence write.
func (r *Reconciler) finalize(id string, speaker entities.Speaker, text string) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	if _, seen := r.finalized[id]; seen {
		r.mu.Unlock()
		return
	}
	r.finalized[id] = struct{}{}
	delete(r.live, speaker)
	r.log = append(r.log, entities.TranscriptSegment{
		ID:        id,
		Speaker:   speaker,
		Text:      text,
		Final:     true,
		Timestamp: time.Now(),
	})
	r.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := r.store.SaveTranscript(ctx, r.roomName, text, speaker); err != nil {
			r.logger.Error("Failed to save transcript line",
				zap.String("room", r.roomName),
				zap.String("speaker", string(speaker)),
				zap.Error(err))
		}
	}()
}

// markSpeaking flips the speaking indicator on and schedules it to
// clear after the quiet window, resetting any pending clear.
func (r *Reconciler) markSpeaking(speaker entities.Speaker, quiet time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}

	r.speaking[speaker] = true
	if timer, ok := r.quiet[speaker]; ok {
		timer.Stop()
	}
	r.quiet[speaker] = r.clock.AfterFunc(quiet, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.speaking[speaker] = false
	})
}

// Log returns a copy of the ordered finalized transcript
func (r *Reconciler) Log() []entities.TranscriptSegment {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]entities.TranscriptSegment, len(r.log))
	copy(out, r.log)
	return out
}

// Live returns the current interim text for a speaker, if any
func (r *Reconciler) Live(speaker entities.Speaker) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seg, ok := r.live[speaker]
	return seg.Text, ok
}

// Speaking reports whether a side is currently speaking. This is a
// display approximation driven by event arrival, not a VAD signal.
func (r *Reconciler) Speaking(speaker entities.Speaker) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.speaking[speaker]
}

// Close releases the quiet timers; further events are ignored
func (r *Reconciler) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	for _, timer := range r.quiet {
		timer.Stop()
	}
}

// attributeSpeaker derives the speaker side. The explicit agent flag
// wins; otherwise a case-insensitive identity substring match is used
// as a best-effort fallback, defaulting to the user side.
func attributeSpeaker(p repositories.Participant) entities.Speaker {
	if p.IsAgent {
		return entities.SpeakerAgent
	}
	identity := strings.ToLower(p.Identity)
	if strings.Contains(identity, "agent") || strings.Contains(identity, "voxarena") {
		return entities.SpeakerAgent
	}
	return entities.SpeakerUser
}
