// Package stt streams audio into Google Cloud Speech-to-Text and
// emits utterance segments, interim revisions included.
package stt

import (
	"context"
	"fmt"
	"io"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/voxarena/callctl/domain/repositories"
)

const chunkSize = 3200 // 100ms of 16kHz LINEAR16 audio

// StreamConfig describes the audio feed
type StreamConfig struct {
	Encoding   string
	SampleRate int
	Language   string
}

// GoogleSegmentSource implements SegmentSource over a streaming
// recognize session. Each utterance keeps one segment id across its
// interim revisions; the id rotates after the final revision.
type GoogleSegmentSource struct {
	audio  io.Reader
	config StreamConfig
	logger *zap.Logger
}

// NewGoogleSegmentSource wraps an audio feed
func NewGoogleSegmentSource(audio io.Reader, config StreamConfig, logger *zap.Logger) *GoogleSegmentSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Language == "" {
		config.Language = "en-US"
	}
	return &GoogleSegmentSource{audio: audio, config: config, logger: logger}
}

// Start streams audio until the feed or the context ends. Segment
// events are delivered on the caller's goroutine.
func (g *GoogleSegmentSource) Start(ctx context.Context, emit func(repositories.SegmentEvent)) error {
	client, err := speech.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("failed to create speech client: %w", err)
	}
	defer client.Close()

	stream, err := client.StreamingRecognize(ctx)
	if err != nil {
		return fmt.Errorf("failed to create streaming recognize: %w", err)
	}

	encoding, err := audioEncoding(g.config.Encoding)
	if err != nil {
		return err
	}

	if err := stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:        encoding,
					SampleRateHertz: int32(g.config.SampleRate),
					LanguageCode:    g.config.Language,
				},
				InterimResults: true,
			},
		},
	}); err != nil {
		return fmt.Errorf("failed to send streaming config: %w", err)
	}

	sendErr := make(chan error, 1)
	go func() {
		sendErr <- g.pumpAudio(ctx, stream)
	}()

	ids := newUtteranceIDs()
	for {
		resp, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to receive response: %w", err)
		}

		for _, result := range resp.Results {
			if len(result.Alternatives) == 0 {
				continue
			}
			emit(repositories.SegmentEvent{
				ID:    ids.current(result.IsFinal),
				Text:  result.Alternatives[0].Transcript,
				Final: result.IsFinal,
			})
		}
	}

	if err := <-sendErr; err != nil {
		return err
	}
	return nil
}

func (g *GoogleSegmentSource) pumpAudio(ctx context.Context, stream speechpb.Speech_StreamingRecognizeClient) error {
	buf := make([]byte, chunkSize)
	for {
		if ctx.Err() != nil {
			return stream.CloseSend()
		}

		n, err := g.audio.Read(buf)
		if n > 0 {
			if err := stream.Send(&speechpb.StreamingRecognizeRequest{
				StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
					AudioContent: buf[:n],
				},
			}); err != nil {
				return fmt.Errorf("failed to send audio data: %w", err)
			}
		}
		if err == io.EOF {
			return stream.CloseSend()
		}
		if err != nil {
			stream.CloseSend()
			return fmt.Errorf("audio feed failed: %w", err)
		}
	}
}

// utteranceIDs hands out one stable id per utterance
type utteranceIDs struct {
	id string
}

func newUtteranceIDs() *utteranceIDs {
	return &utteranceIDs{}
}

// current returns the id for the utterance in progress, rotating after
// the final revision so the next interim starts a fresh segment.
func (u *utteranceIDs) current(final bool) string {
	if u.id == "" {
		u.id = uuid.New().String()
	}
	id := u.id
	if final {
		u.id = ""
	}
	return id
}

// audioEncoding converts string encoding to the Speech API enum
func audioEncoding(encoding string) (speechpb.RecognitionConfig_AudioEncoding, error) {
	switch encoding {
	case "", "LINEAR16", "WAV":
		return speechpb.RecognitionConfig_LINEAR16, nil
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC, nil
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW, nil
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS, nil
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS, nil
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED, fmt.Errorf("unsupported encoding: %s", encoding)
	}
}
