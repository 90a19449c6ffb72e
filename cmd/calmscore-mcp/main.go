// calmscore-mcp exposes the calmscore trainer as an MCP stdio server.
//
// Environment variables:
//
//	CALMSCORE_DB_PATH        SQLite database path (default: ./data/calmscore.db)
//	SCORING_PROFILE          Default rubric profile: strict, training, easy, medium, hard
//	CALMSCORE_RUBRIC_FILE    Optional YAML rubric overrides
//	CALMSCORE_TABLES_FILE    Optional YAML phrase tables
//	CALMSCORE_SCENARIOS_FILE Optional YAML scenario catalog
//	OPENAI_API_KEY           Enables the simulated counterpart and coach-me drafting
//	DEES_MODEL               Counterpart model (default: gpt-4.1)
//	DEES_TEMPERATURE         Counterpart temperature (default: 0.6)
//
// Usage:
//
//	go install github.com/goblincore/calmscore/cmd/calmscore-mcp
//	calmscore-mcp
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/goblincore/calmscore"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func main() {
	tr, err := calmscore.Init(calmscore.ConfigFromEnv())
	if err != nil {
		log.Fatalf("calmscore init: %v", err)
	}
	defer tr.Close()

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "calmscore-mcp",
		Version: "1.0.0",
	}, nil)

	// --- Stateless scoring ---
	mcp.AddTool(server, &mcp.Tool{
		Name:        "score_turn",
		Description: "Score one trainee utterance. Returns per-metric deltas (empathy, clarity, boundary, escalation) and the reasons behind them. Nothing is stored.",
	}, scoreTurnHandler(tr))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "apply_deltas",
		Description: "Fold turn deltas into session metrics with saturation (scores 0-100, escalation 0-5). Nothing is stored.",
	}, applyDeltasHandler(tr))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_rubric",
		Description: "Show the effective rubric for a profile after presets and configured overrides.",
	}, getRubricHandler(tr))

	// --- Sessions ---
	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_scenarios",
		Description: "List the training scenarios a session can be started against.",
	}, listScenariosHandler(tr))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "start_session",
		Description: "Start a training session for a scenario. Metrics begin at empathy/clarity/boundary 50 and escalation 2.",
	}, startSessionHandler(tr))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "submit_turn",
		Description: "Submit a trainee utterance to a session. Scores it, updates session metrics and returns coach feedback.",
	}, submitTurnHandler(tr))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "respond",
		Description: "Generate the simulated patient or family member's next line for a session.",
	}, respondHandler(tr))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "coach_me",
		Description: "Get three graded phrase suggestions (light, medium, strong) for empathy, clarity, boundaries or de-escalation.",
	}, coachMeHandler(tr))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "session_metrics",
		Description: "Show a session's accumulated metrics, readiness and transcript.",
	}, sessionMetricsHandler(tr))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "end_session",
		Description: "End a session and return its final readiness report.",
	}, endSessionHandler(tr))

	if err := server.Run(context.Background(), &mcp.StdioTransport{}); err != nil {
		log.Fatalf("calmscore-mcp: %v", err)
	}
}

// --- Input types ---

type hintInput struct {
	Metric       string `json:"metric"                  jsonschema:"Hinted skill: empathy, clarity, boundaries, calmness or escalation"`
	Strength     int    `json:"strength"                jsonschema:"Suggestion strength 1 (light), 2 (medium) or 3 (strong)"`
	SuggestionID string `json:"suggestion_id,omitempty" jsonschema:"Suggestion id; 'light' caps the delta instead of flooring it"`
}

type scoreTurnInput struct {
	Text             string     `json:"text"                         jsonschema:"The trainee utterance to score"`
	Profile          string     `json:"profile,omitempty"            jsonschema:"Rubric profile: strict, training, easy, medium, hard"`
	PreviousUserText string     `json:"previous_user_text,omitempty" jsonschema:"The trainee's previous utterance, for follow-through credit"`
	CoachHint        *hintInput `json:"coach_hint,omitempty"         jsonschema:"Coach-me suggestion the trainee just used"`
}

type applyDeltasInput struct {
	Current *calmscore.SessionMetrics `json:"current,omitempty" jsonschema:"Current session metrics (default: the initial state)"`
	Deltas  calmscore.TurnDeltas      `json:"deltas"            jsonschema:"Turn deltas to apply"`
}

type getRubricInput struct {
	Profile string `json:"profile,omitempty" jsonschema:"Rubric profile (default: the configured profile)"`
}

type listScenariosInput struct{}

type startSessionInput struct {
	ScenarioID string `json:"scenario_id"       jsonschema:"Scenario to rehearse"`
	AnonID     string `json:"anon_id,omitempty" jsonschema:"Anonymous trainee identifier"`
	Profile    string `json:"profile,omitempty" jsonschema:"Rubric profile for this session"`
}

type submitTurnInput struct {
	SessionID string     `json:"session_id"           jsonschema:"Session ID"`
	Text      string     `json:"text"                 jsonschema:"The trainee utterance"`
	CoachHint *hintInput `json:"coach_hint,omitempty" jsonschema:"Coach-me suggestion the trainee just used"`
}

type respondInput struct {
	SessionID          string   `json:"session_id"                    jsonschema:"Session ID"`
	EscalationOverride *float64 `json:"escalation_override,omitempty" jsonschema:"Replay the counterpart at this escalation level (1-5)"`
}

type coachMeInput struct {
	SessionID   string `json:"session_id"            jsonschema:"Session ID"`
	Metric      string `json:"metric,omitempty"      jsonschema:"empathy, clarity, boundaries or de-escalation (default empathy)"`
	Strength    int    `json:"strength,omitempty"    jsonschema:"Requested strength 1-3 (default 1)"`
	Variability string `json:"variability,omitempty" jsonschema:"low, medium or high (default medium)"`
}

type sessionInput struct {
	SessionID string `json:"session_id" jsonschema:"Session ID"`
}

// --- Handlers ---

func scoreTurnHandler(tr *calmscore.Trainer) func(context.Context, *mcp.CallToolRequest, scoreTurnInput) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input scoreTurnInput) (*mcp.CallToolResult, any, error) {
		profile := calmscore.Profile(input.Profile)
		res := tr.Score(input.Text, profile, toHint(input.CoachHint), input.PreviousUserText)
		return textResult(jsonString(map[string]any{
			"profile": tr.Rubric(profile).Profile,
			"deltas":  res.Deltas,
			"reasons": res.Reasons,
		})), nil, nil
	}
}

func applyDeltasHandler(tr *calmscore.Trainer) func(context.Context, *mcp.CallToolRequest, applyDeltasInput) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input applyDeltasInput) (*mcp.CallToolResult, any, error) {
		current := calmscore.InitialSessionMetrics()
		if input.Current != nil {
			current = *input.Current
		}
		return textResult(jsonString(tr.Apply(current, input.Deltas))), nil, nil
	}
}

func getRubricHandler(tr *calmscore.Trainer) func(context.Context, *mcp.CallToolRequest, getRubricInput) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input getRubricInput) (*mcp.CallToolResult, any, error) {
		return textResult(jsonString(tr.Rubric(calmscore.Profile(input.Profile)))), nil, nil
	}
}

func listScenariosHandler(tr *calmscore.Trainer) func(context.Context, *mcp.CallToolRequest, listScenariosInput) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input listScenariosInput) (*mcp.CallToolResult, any, error) {
		scenarios, err := tr.Store().ListScenarios()
		if err != nil {
			return textResult(fmt.Sprintf("error: %v", err)), nil, nil
		}
		out := make([]map[string]any, len(scenarios))
		for i, sc := range scenarios {
			out[i] = map[string]any{
				"id":         sc.ID,
				"type":       sc.Type,
				"title":      sc.Title,
				"summary":    sc.Summary,
				"difficulty": sc.Difficulty,
				"tags":       sc.Tags,
			}
		}
		return textResult(jsonString(out)), nil, nil
	}
}

func startSessionHandler(tr *calmscore.Trainer) func(context.Context, *mcp.CallToolRequest, startSessionInput) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input startSessionInput) (*mcp.CallToolResult, any, error) {
		sess, err := tr.StartSession(ctx, calmscore.StartSessionOptions{
			ScenarioID: input.ScenarioID,
			AnonID:     input.AnonID,
			Profile:    calmscore.Profile(input.Profile),
		})
		if err != nil {
			return textResult(fmt.Sprintf("error: %v", err)), nil, nil
		}
		return textResult(jsonString(sessionToMap(sess))), nil, nil
	}
}

func submitTurnHandler(tr *calmscore.Trainer) func(context.Context, *mcp.CallToolRequest, submitTurnInput) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input submitTurnInput) (*mcp.CallToolResult, any, error) {
		out, err := tr.SubmitTurn(ctx, calmscore.SubmitTurnOptions{
			SessionID: input.SessionID,
			Content:   input.Text,
			CoachHint: toHint(input.CoachHint),
		})
		if err != nil {
			return textResult(fmt.Sprintf("error: %v", err)), nil, nil
		}
		return textResult(jsonString(map[string]any{
			"turn_id": out.Turn.ID,
			"deltas":  out.Result.Deltas,
			"reasons": out.Result.Reasons,
			"metrics": out.Metrics,
			"coach":   out.Coach,
		})), nil, nil
	}
}

func respondHandler(tr *calmscore.Trainer) func(context.Context, *mcp.CallToolRequest, respondInput) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input respondInput) (*mcp.CallToolResult, any, error) {
		turn, err := tr.Respond(ctx, calmscore.RespondOptions{
			SessionID:          input.SessionID,
			EscalationOverride: input.EscalationOverride,
		})
		if err != nil {
			return textResult(fmt.Sprintf("error: %v", err)), nil, nil
		}
		return textResult(jsonString(turnToMap(turn))), nil, nil
	}
}

func coachMeHandler(tr *calmscore.Trainer) func(context.Context, *mcp.CallToolRequest, coachMeInput) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input coachMeInput) (*mcp.CallToolResult, any, error) {
		metric := calmscore.ParseSuggestionMetric(input.Metric)
		suggestions, err := tr.CoachMe(ctx, calmscore.CoachMeOptions{
			SessionID:   input.SessionID,
			Metric:      metric,
			Strength:    input.Strength,
			Variability: input.Variability,
		})
		if err != nil {
			return textResult(fmt.Sprintf("error: %v", err)), nil, nil
		}
		return textResult(jsonString(map[string]any{
			"metric":      metric,
			"hint_metric": metric.HintMetric(),
			"suggestions": suggestions,
		})), nil, nil
	}
}

func sessionMetricsHandler(tr *calmscore.Trainer) func(context.Context, *mcp.CallToolRequest, sessionInput) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input sessionInput) (*mcp.CallToolResult, any, error) {
		rep, err := tr.Report(input.SessionID)
		if err != nil {
			return textResult(fmt.Sprintf("error: %v", err)), nil, nil
		}
		turns, err := tr.Store().ListTurns(input.SessionID)
		if err != nil {
			return textResult(fmt.Sprintf("error: %v", err)), nil, nil
		}
		transcript := make([]map[string]any, len(turns))
		for i, t := range turns {
			transcript[i] = turnToMap(t)
		}
		out := reportToMap(rep)
		out["transcript"] = transcript
		return textResult(jsonString(out)), nil, nil
	}
}

func endSessionHandler(tr *calmscore.Trainer) func(context.Context, *mcp.CallToolRequest, sessionInput) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input sessionInput) (*mcp.CallToolResult, any, error) {
		rep, err := tr.EndSession(ctx, input.SessionID)
		if err != nil {
			return textResult(fmt.Sprintf("error: %v", err)), nil, nil
		}
		return textResult(jsonString(reportToMap(rep))), nil, nil
	}
}

// --- Helpers ---

func toHint(h *hintInput) *calmscore.CoachHint {
	if h == nil {
		return nil
	}
	return &calmscore.CoachHint{
		Metric:       calmscore.HintMetric(h.Metric),
		Strength:     h.Strength,
		SuggestionID: h.SuggestionID,
	}
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}
}

func sessionToMap(s calmscore.Session) map[string]any {
	m := map[string]any{
		"id":          s.ID,
		"scenario_id": s.ScenarioID,
		"profile":     s.Profile,
		"outcome":     s.Outcome,
		"summary":     s.Summary,
		"turn_count":  s.TurnCount,
		"started_at":  s.StartedAt.Format(time.RFC3339),
	}
	if s.EndedAt != nil {
		m["ended_at"] = s.EndedAt.Format(time.RFC3339)
	}
	return m
}

func turnToMap(t calmscore.Turn) map[string]any {
	m := map[string]any{
		"id":         t.ID,
		"role":       t.Role,
		"content":    t.Content,
		"source":     t.Source,
		"created_at": t.CreatedAt.Format(time.RFC3339),
	}
	if t.Model != "" {
		m["model"] = t.Model
	}
	if t.CoachCategory != "" {
		m["coach_category"] = t.CoachCategory
	}
	return m
}

func reportToMap(r calmscore.SessionReport) map[string]any {
	return map[string]any{
		"session":   sessionToMap(r.Session),
		"metrics":   r.Metrics,
		"readiness": r.Readiness,
		"coaching":  r.Coaching,
	}
}

func jsonString(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf(`{"error": "marshal: %v"}`, err)
	}
	return string(data)
}
