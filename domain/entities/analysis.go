package entities

// CallAnalysis is the post-call summary produced from a finalized
// transcript log. Sentiment score runs 0.0 (most negative) to 1.0.
type CallAnalysis struct {
	Summary        string   `json:"summary"`
	Sentiment      string   `json:"sentiment"`
	SentimentScore float64  `json:"sentiment_score"`
	Topics         []string `json:"topics"`
	Outcome        string   `json:"outcome"`
	ActionItems    []string `json:"action_items"`
}
