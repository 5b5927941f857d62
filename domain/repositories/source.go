package repositories

import "context"

// SegmentEvent is one revision of an utterance from a transcription
// source. The ID stays stable across interim revisions; Final marks
// the revision the source will not change again.
type SegmentEvent struct {
	ID    string `json:"id"`
	Text  string `json:"text"`
	Final bool   `json:"final"`
}

// Participant is the best-effort identity metadata attached to a
// segment event. IsAgent is authoritative when set; Identity is only
// a heuristic signal.
type Participant struct {
	Identity string `json:"identity"`
	IsAgent  bool   `json:"is_agent"`
}

// SegmentSource streams transcription segments from a live audio feed
type SegmentSource interface {
	// Start begins streaming; events are delivered until ctx is
	// canceled or the source runs out of audio
	Start(ctx context.Context, emit func(SegmentEvent)) error
}
