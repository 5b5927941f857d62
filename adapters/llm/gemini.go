// Package llm runs post-call analysis over the Gemini API.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/voxarena/callctl/domain/entities"
)

const (
	analysisModel   = "gemini-2.5-flash"
	analysisTimeout = 30 * time.Second
)

const analysisPrompt = `Analyze this voice call transcript and return ONLY a JSON object (no markdown, no code fences) with exactly these fields:
{
  "summary": "2-3 sentence summary of the conversation",
  "sentiment": "positive" or "neutral" or "negative",
  "sentiment_score": 0.0 to 1.0 (1.0 = most positive),
  "topics": ["topic1", "topic2"],
  "outcome": "resolved" or "unresolved" or "transferred" or "escalated",
  "action_items": ["action1", "action2"]
}

Transcript:
%s`

// GeminiAnalyzer implements the CallAnalyzer interface using Google's Gemini API
type GeminiAnalyzer struct {
	client *genai.Client
	logger *zap.Logger
	model  string
}

// NewGeminiAnalyzer creates a new Gemini analyzer instance
func NewGeminiAnalyzer(apiKey string, logger *zap.Logger) (*GeminiAnalyzer, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}

	ctx := context.Background()
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiAnalyzer{
		client: client,
		logger: logger,
		model:  analysisModel,
	}, nil
}

// AnalyzeCall summarizes a finished call from its transcript log
func (g *GeminiAnalyzer) AnalyzeCall(ctx context.Context, segments []entities.TranscriptSegment) (*entities.CallAnalysis, error) {
	if len(segments) == 0 {
		return nil, fmt.Errorf("no transcript to analyze")
	}

	prompt := fmt.Sprintf(analysisPrompt, transcriptText(segments))
	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	}

	ctx, cancel := context.WithTimeout(ctx, analysisTimeout)
	defer cancel()

	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}
	response, err := g.client.Models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return nil, fmt.Errorf("failed to generate analysis: %w", err)
	}

	if len(response.Candidates) == 0 || response.Candidates[0].Content == nil {
		return nil, fmt.Errorf("no analysis generated")
	}

	var raw string
	for _, part := range response.Candidates[0].Content.Parts {
		raw += part.Text
	}

	analysis, err := decodeAnalysis(raw)
	if err != nil {
		return nil, err
	}

	g.logger.Info("Call analysis completed",
		zap.String("sentiment", analysis.Sentiment),
		zap.String("outcome", analysis.Outcome))
	return analysis, nil
}

// transcriptText renders the log the way the model is prompted to read
// it, one "Speaker: line" per segment, oldest first.
func transcriptText(segments []entities.TranscriptSegment) string {
	var b strings.Builder
	for i, seg := range segments {
		if i > 0 {
			b.WriteByte('\n')
		}
		if seg.Speaker == entities.SpeakerAgent {
			b.WriteString("Agent: ")
		} else {
			b.WriteString("User: ")
		}
		b.WriteString(seg.Text)
	}
	return b.String()
}

// decodeAnalysis parses the model output. Code fences are stripped when
// the model ignores the no-markdown instruction.
func decodeAnalysis(raw string) (*entities.CallAnalysis, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		raw = strings.TrimSuffix(strings.TrimSpace(raw), "```")
	}

	var analysis entities.CallAnalysis
	if err := json.Unmarshal([]byte(raw), &analysis); err != nil {
		return nil, fmt.Errorf("failed to decode analysis: %w", err)
	}
	if analysis.Summary == "" {
		return nil, fmt.Errorf("analysis has no summary")
	}
	return &analysis, nil
}
