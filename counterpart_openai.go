package calmscore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// DefaultSystemPrompt steers the counterpart when no prompt file is configured.
const DefaultSystemPrompt = `You are a simulated patient or family member in an emergency department de-escalation training exercise.
Stay in character as described by the runtime prompt. React to how the learner speaks: validation, clear next steps
and calm limits lower your escalation; commands, dismissal and threats raise it.
Never give or request medical advice, diagnoses or medication instructions.`

const suggestionSystemPrompt = `You are a coaching assistant for ED de-escalation training.
Rules:
- Provide communication coaching only. No medical advice, no diagnoses, no medication instructions.
- Generate exactly three phrase options: Light (+1), Medium (+2), Strong (+3).
- Each phrase must be 1-2 sentences, realistic for ED staff, and aligned to the selected metric only.
- Avoid repeating phrases already used by the learner.
- Respect any promised timeframes or actions.
- Output JSON only.`

// OpenAICounterpart voices the counterpart and drafts coach-me phrases via
// the OpenAI chat completions API. Implements CounterpartGenerator and
// SuggestionGenerator.
type OpenAICounterpart struct {
	client      *openai.Client
	model       string
	temperature float32
}

// OpenAIOption configures an OpenAICounterpart.
type OpenAIOption func(*openAISettings)

type openAISettings struct {
	model       string
	temperature float32
	baseURL     string
}

// WithOpenAIModel sets the chat model (default: gpt-4.1).
func WithOpenAIModel(model string) OpenAIOption {
	return func(s *openAISettings) { s.model = model }
}

// WithOpenAITemperature sets the sampling temperature for counterpart lines (default: 0.6).
func WithOpenAITemperature(t float32) OpenAIOption {
	return func(s *openAISettings) { s.temperature = t }
}

// WithOpenAIBaseURL points the client at a compatible API, including the
// "/v1" suffix (default: https://api.openai.com/v1).
func WithOpenAIBaseURL(url string) OpenAIOption {
	return func(s *openAISettings) { s.baseURL = url }
}

// NewOpenAICounterpart creates a generator backed by OpenAI.
func NewOpenAICounterpart(apiKey string, opts ...OpenAIOption) *OpenAICounterpart {
	s := openAISettings{model: "gpt-4.1", temperature: 0.6}
	for _, opt := range opts {
		opt(&s)
	}
	cfg := openai.DefaultConfig(apiKey)
	if s.baseURL != "" {
		cfg.BaseURL = s.baseURL
	}
	return &OpenAICounterpart{
		client:      openai.NewClientWithConfig(cfg),
		model:       s.model,
		temperature: s.temperature,
	}
}

func (c *OpenAICounterpart) Model() string { return c.model }

// Generate asks the model for the counterpart's next line. The model must
// answer with a JSON object {"patient": "..."}.
func (c *OpenAICounterpart) Generate(ctx context.Context, systemPrompt string, prompt RuntimePrompt) (string, error) {
	user, err := json.Marshal(map[string]any{
		"runtime_prompt":  prompt,
		"output_contract": "Return ONLY valid JSON with key: patient.",
	})
	if err != nil {
		return "", fmt.Errorf("calmscore: encode runtime prompt: %w", err)
	}

	text, err := c.complete(ctx, systemPrompt+"\n\nOUTPUT MUST BE JSON ONLY.", string(user), c.temperature)
	if err != nil {
		return "", err
	}

	var out struct {
		Patient string `json:"patient"`
	}
	if err := json.Unmarshal([]byte(stripCodeFence(text)), &out); err != nil {
		return "", fmt.Errorf("calmscore: counterpart returned invalid JSON: %w", err)
	}
	line := strings.TrimSpace(out.Patient)
	if line == "" {
		return "", errors.New("calmscore: counterpart returned an empty line")
	}
	return line, nil
}

// Suggest drafts three coach-me phrases. Fewer than three usable phrases is an error.
func (c *OpenAICounterpart) Suggest(ctx context.Context, req SuggestionRequest) ([]string, error) {
	req.OutputContract = "Return ONLY valid JSON with keys: metric, suggestions[{id,strength,label,phrase}]"
	user, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("calmscore: encode suggestion request: %w", err)
	}

	text, err := c.complete(ctx, suggestionSystemPrompt, string(user), variabilityTemperature(req.Variability))
	if err != nil {
		return nil, err
	}

	var out struct {
		Suggestions []struct {
			Phrase string `json:"phrase"`
		} `json:"suggestions"`
	}
	if err := json.Unmarshal([]byte(stripCodeFence(text)), &out); err != nil {
		return nil, fmt.Errorf("calmscore: suggestions returned invalid JSON: %w", err)
	}
	var phrases []string
	for _, s := range out.Suggestions {
		if p := strings.TrimSpace(s.Phrase); p != "" {
			phrases = append(phrases, p)
		}
		if len(phrases) == 3 {
			break
		}
	}
	if len(phrases) != 3 {
		return nil, fmt.Errorf("calmscore: expected 3 suggestions, got %d", len(phrases))
	}
	return phrases, nil
}

func (c *OpenAICounterpart) complete(ctx context.Context, system, user string, temperature float32) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature: temperature,
	})
	if err != nil {
		return "", fmt.Errorf("calmscore: openai chat: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("calmscore: openai chat: no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}

func variabilityTemperature(v string) float32 {
	switch v {
	case "high":
		return 1.0
	case "low":
		return 0.2
	}
	return 0.6
}

// stripCodeFence removes a surrounding ```json fence some models add.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
