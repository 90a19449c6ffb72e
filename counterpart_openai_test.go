package calmscore

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type chatRequest struct {
	Model       string  `json:"model"`
	Temperature float32 `json:"temperature"`
	Messages    []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

// fakeOpenAI answers every chat completion with content and records the requests.
func fakeOpenAI(t *testing.T, content string) (*OpenAICounterpart, *[]chatRequest) {
	t.Helper()
	var seen []chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("authorization = %q", got)
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		seen = append(seen, req)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"model":   req.Model,
			"choices": []map[string]any{{"index": 0, "message": map[string]string{"role": "assistant", "content": content}}},
		})
	}))
	t.Cleanup(srv.Close)

	c := NewOpenAICounterpart("test-key", WithOpenAIBaseURL(srv.URL+"/v1"), WithOpenAIModel("test-model"))
	return c, &seen
}

func testPrompt() RuntimePrompt {
	return BuildRuntimePrompt(PromptOptions{SessionID: "s1", Scenario: DefaultScenarios()[0]})
}

func TestOpenAIGenerate(t *testing.T) {
	c, seen := fakeOpenAI(t, "```json\n{\"patient\": \"  Four hours. Four!  \"}\n```")

	line, err := c.Generate(context.Background(), DefaultSystemPrompt, testPrompt())
	if err != nil {
		t.Fatal(err)
	}
	if line != "Four hours. Four!" {
		t.Errorf("line = %q", line)
	}
	if c.Model() != "test-model" {
		t.Errorf("model = %q", c.Model())
	}

	req := (*seen)[0]
	if req.Model != "test-model" || req.Temperature != 0.6 {
		t.Errorf("request model=%q temperature=%v", req.Model, req.Temperature)
	}
	if len(req.Messages) != 2 || !strings.HasSuffix(req.Messages[0].Content, "OUTPUT MUST BE JSON ONLY.") {
		t.Fatalf("messages = %+v", req.Messages)
	}
	if !strings.Contains(req.Messages[1].Content, `"runtime_prompt"`) || !strings.Contains(req.Messages[1].Content, `"session_id":"s1"`) {
		t.Errorf("user message = %s", req.Messages[1].Content)
	}
}

func TestOpenAIGenerateRejectsBadOutput(t *testing.T) {
	for name, content := range map[string]string{
		"not json":    "Four hours!",
		"empty line":  `{"patient": "   "}`,
		"missing key": `{"reply": "hi"}`,
	} {
		t.Run(name, func(t *testing.T) {
			c, _ := fakeOpenAI(t, content)
			if _, err := c.Generate(context.Background(), DefaultSystemPrompt, testPrompt()); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestOpenAISuggest(t *testing.T) {
	c, seen := fakeOpenAI(t, `{"metric":"clarity","suggestions":[
		{"id":"light","phrase":" One. "},
		{"id":"medium","phrase":""},
		{"id":"medium","phrase":"Two."},
		{"id":"strong","phrase":"Three."},
		{"id":"extra","phrase":"Four."}]}`)

	got, err := c.Suggest(context.Background(), SuggestionRequest{Metric: SuggestClarity, Variability: "high"})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(got, "|") != "One.|Two.|Three." {
		t.Errorf("phrases = %q", got)
	}
	req := (*seen)[0]
	if req.Temperature != 1.0 {
		t.Errorf("high variability temperature = %v, want 1", req.Temperature)
	}
	if !strings.Contains(req.Messages[1].Content, `"selectedMetric":"clarity"`) || !strings.Contains(req.Messages[1].Content, `"output_contract"`) {
		t.Errorf("user message = %s", req.Messages[1].Content)
	}
}

func TestOpenAISuggestNeedsThree(t *testing.T) {
	c, _ := fakeOpenAI(t, `{"suggestions":[{"phrase":"One."},{"phrase":"Two."}]}`)
	if _, err := c.Suggest(context.Background(), SuggestionRequest{Metric: SuggestEmpathy}); err == nil {
		t.Error("expected error for two suggestions")
	}
}

func TestVariabilityTemperature(t *testing.T) {
	for v, want := range map[string]float32{"high": 1.0, "low": 0.2, "medium": 0.6, "": 0.6} {
		if got := variabilityTemperature(v); got != want {
			t.Errorf("variabilityTemperature(%q) = %v, want %v", v, got, want)
		}
	}
}
