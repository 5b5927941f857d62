package entities

import "time"

// Speaker identifies which side of the call produced an utterance
type Speaker string

const (
	SpeakerUser  Speaker = "user"
	SpeakerAgent Speaker = "agent"
)

// Wire value expected by the transcript store ("USER" / "AGENT")
func (s Speaker) Wire() string {
	if s == SpeakerAgent {
		return "AGENT"
	}
	return "USER"
}

// TranscriptSegment is one utterance. The ID is stable across interim
// revisions of the same utterance; once Final is true the segment is
// immutable and eligible for exactly one append to the transcript log.
type TranscriptSegment struct {
	ID        string    `json:"id"`
	Speaker   Speaker   `json:"speaker"`
	Text      string    `json:"text"`
	Final     bool      `json:"final"`
	Timestamp time.Time `json:"timestamp"`
}
