package repositories

import (
	"context"

	"github.com/voxarena/callctl/domain/entities"
)

// CallAnalyzer produces a post-call summary from a finalized transcript
type CallAnalyzer interface {
	AnalyzeCall(ctx context.Context, segments []entities.TranscriptSegment) (*entities.CallAnalysis, error)
}
