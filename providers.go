package calmscore

import "context"

// CounterpartGenerator produces the simulated patient or family member's next line.
// Built-in: OpenAICounterpart. Implement this for other model backends.
type CounterpartGenerator interface {
	Generate(ctx context.Context, systemPrompt string, prompt RuntimePrompt) (string, error)
	Model() string
}

// SuggestionGenerator produces coach-me phrases for one metric, ordered
// light, medium, strong. Built-in: OpenAICounterpart.
type SuggestionGenerator interface {
	Suggest(ctx context.Context, req SuggestionRequest) ([]string, error)
}

// SuggestionRequest is the context a suggestion generator sees.
type SuggestionRequest struct {
	SessionID      string           `json:"sessionId"`
	Metric         SuggestionMetric `json:"selectedMetric"`
	Strength       int              `json:"selectedStrength"`
	Variability    string           `json:"selectedVariability"` // low, medium or high
	Scenario       Scenario         `json:"scenario"`
	Transcript     []PromptTurn     `json:"transcript"`
	Metrics        SessionMetrics   `json:"metrics"`
	RecentDeltas   []TurnDeltas     `json:"recentDeltas"`
	AvoidPhrases   []string         `json:"avoidPhrases"`
	OutputContract string           `json:"output_contract"`
}
