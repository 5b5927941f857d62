// Package session ties one live session together: the realtime event
// feed flows into the transcript reconciler, and teardown runs the
// post-call analysis over the finalized log.
package session

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/voxarena/callctl/domain/entities"
	"github.com/voxarena/callctl/domain/repositories"
	"github.com/voxarena/callctl/internal/realtime"
	"github.com/voxarena/callctl/internal/transcript"
)

// Config wires a session runtime to its collaborators
type Config struct {
	RoomName string
	// FeedURL is the websocket address of the room's event feed
	FeedURL string
	Store   repositories.TranscriptStore
	// Analyzer may be nil; teardown then skips analysis
	Analyzer repositories.CallAnalyzer
	// Source optionally transcribes a local audio feed into the
	// user's side of the transcript, alongside the event feed.
	Source repositories.SegmentSource
	Logger *zap.Logger
}

// Runtime is one live session's transcript pipeline
type Runtime struct {
	cfg        Config
	reconciler *transcript.Reconciler
	channel    *realtime.Channel
	cancel     context.CancelFunc

	stopOnce sync.Once
}

// Start connects to the event feed and begins reconciling
func Start(ctx context.Context, cfg Config) (*Runtime, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	reconciler := transcript.NewReconciler(cfg.RoomName, cfg.Store, cfg.Logger, nil)
	channel, err := realtime.Dial(ctx, cfg.FeedURL, reconciler, cfg.Logger)
	if err != nil {
		reconciler.Close()
		return nil, err
	}

	sourceCtx, cancel := context.WithCancel(context.Background())
	rt := &Runtime{cfg: cfg, reconciler: reconciler, channel: channel, cancel: cancel}

	if cfg.Source != nil {
		local := repositories.Participant{Identity: "user"}
		go func() {
			err := cfg.Source.Start(sourceCtx, func(event repositories.SegmentEvent) {
				reconciler.HandleSegment(event, local)
			})
			if err != nil && sourceCtx.Err() == nil {
				cfg.Logger.Warn("Local transcription source failed",
					zap.String("roomName", cfg.RoomName),
					zap.Error(err))
			}
		}()
	}

	cfg.Logger.Info("Session runtime started", zap.String("roomName", cfg.RoomName))
	return rt, nil
}

// Log returns the finalized transcript so far, oldest first
func (r *Runtime) Log() []entities.TranscriptSegment {
	return r.reconciler.Log()
}

// Live returns the in-progress utterance for a speaker
func (r *Runtime) Live(speaker entities.Speaker) (string, bool) {
	return r.reconciler.Live(speaker)
}

// Speaking reports whether a speaker was recently active
func (r *Runtime) Speaking(speaker entities.Speaker) bool {
	return r.reconciler.Speaking(speaker)
}

// Stop tears the session down and runs post-call analysis over the
// finalized log. Analysis is best-effort: a failure is logged and Stop
// returns a nil analysis.
func (r *Runtime) Stop(ctx context.Context) *entities.CallAnalysis {
	var analysis *entities.CallAnalysis
	r.stopOnce.Do(func() {
		r.cancel()
		r.channel.Close()
		r.reconciler.Close()

		log := r.reconciler.Log()
		if r.cfg.Analyzer == nil || len(log) == 0 {
			return
		}

		result, err := r.cfg.Analyzer.AnalyzeCall(ctx, log)
		if err != nil {
			r.cfg.Logger.Warn("Post-call analysis failed",
				zap.String("roomName", r.cfg.RoomName),
				zap.Error(err))
			return
		}
		analysis = result
	})
	return analysis
}
