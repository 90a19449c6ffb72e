package calmscore

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"strings"
	"time"
)

// RuntimePrompt is the structured state handed to the counterpart generator
// each turn. It serializes to the v1 JSON shape.
type RuntimePrompt struct {
	Meta         PromptMeta         `json:"meta"`
	Environment  PromptEnvironment  `json:"environment"`
	Learner      PromptLearner      `json:"learner"`
	Scenario     PromptScenario     `json:"scenario"`
	Persona      PromptPersona      `json:"persona"`
	State        PromptState        `json:"state"`
	Constraints  PromptConstraints  `json:"constraints"`
	Conversation PromptConversation `json:"conversation"`
	Response     PromptResponse     `json:"response_instructions"`
}

type PromptMeta struct {
	SchemaVersion string `json:"schema_version"`
	SessionID     string `json:"session_id"`
	TurnIndex     int    `json:"turn_index"`
	Timestamp     string `json:"timestamp_iso"`
	Language      string `json:"language"`
}

type PromptEnvironment struct {
	Department *Department `json:"department"`
}

type PromptLearner struct {
	Role string `json:"role"`
}

type PromptScenario struct {
	ID              string   `json:"scenario_id"`
	Type            string   `json:"scenario_type"`
	Title           string   `json:"title"`
	Summary         string   `json:"summary,omitempty"`
	ObjectiveSkills []string `json:"objective_skills"`
	SuccessCriteria []string `json:"success_criteria"`
	FailureTriggers []string `json:"failure_triggers"`
}

type PromptPersona struct {
	ActorType          string   `json:"actor_type"`
	CommunicationStyle string   `json:"communication_style"`
	Stressors          []string `json:"stressors"`
	RedLines           []string `json:"red_lines"`
	CalmingSignals     []string `json:"calming_signals"`
}

type PromptState struct {
	EscalationLevel  int      `json:"escalation_level"`
	Emotions         []string `json:"emotions"`
	PrimaryComplaint string   `json:"primary_complaint"`
}

type PromptSafety struct {
	NoMedicalAdvice         bool `json:"no_medical_advice"`
	NoDiagnosis             bool `json:"no_diagnosis"`
	NoMedicationInstruction bool `json:"no_medication_instructions"`
	NoViolence              bool `json:"no_violence_roleplay_or_coaching"`
	NoSlursOrSexualContent  bool `json:"no_slurs_or_sexual_content"`
}

type PromptConstraints struct {
	GlobalSafety         PromptSafety `json:"global_safety"`
	DepartmentRules      []string     `json:"department_rules"`
	ProhibitedPhrases    []string     `json:"prohibited_phrases"`
	EscalationBoundaries []string     `json:"escalation_boundaries"`
}

type PromptTurn struct {
	Role      TurnRole `json:"role"`
	Content   string   `json:"content"`
	CreatedAt string   `json:"created_at,omitempty"`
}

type PromptConversation struct {
	SummarySoFar string       `json:"summary_so_far"`
	RecentTurns  []PromptTurn `json:"recent_turns"`
}

type PromptResponse struct {
	OutputMode   string   `json:"output_mode"`
	MinSentences int      `json:"min_sentences"`
	MaxSentences int      `json:"max_sentences"`
	Dynamics     []string `json:"deescalation_dynamics"`
}

var defaultProhibitedPhrases = []string{
	"You should sue",
	"Take these meds",
	"I can diagnose you",
}

var defaultDynamics = []string{
	"Respond as the patient or family member only.",
	"Keep the tone realistic and grounded in the scenario stressors.",
	"Do not coach or instruct the learner.",
}

// PromptOptions are the inputs of BuildRuntimePrompt.
type PromptOptions struct {
	SessionID          string
	Scenario           Scenario
	Turns              []Turn          // chronological
	Metrics            *SessionMetrics // nil means the initial escalation level
	TurnIndex          int
	RecentTurnLimit    int // default 6
	SummaryMaxChars    int // default 420
	LearnerRole        string
	EscalationOverride *float64
	Now                time.Time
}

// BuildRuntimePrompt assembles the counterpart's view of the session.
func BuildRuntimePrompt(opts PromptOptions) RuntimePrompt {
	if opts.RecentTurnLimit <= 0 {
		opts.RecentTurnLimit = 6
	}
	if opts.SummaryMaxChars <= 0 {
		opts.SummaryMaxChars = 420
	}
	if opts.LearnerRole == "" {
		opts.LearnerRole = "staff"
	}
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}

	level := 2.0
	if opts.Metrics != nil {
		level = opts.Metrics.Escalation
	}
	if opts.EscalationOverride != nil {
		level = *opts.EscalationOverride
	}
	escalation := ClampEscalationLevel(level)

	sc := opts.Scenario
	scenarioType := string(sc.Type)
	if scenarioType == "" {
		scenarioType = "UNSPECIFIED"
	}
	summary := firstNonEmpty(sc.Summary, sc.Description)
	complaint := firstNonEmpty(sc.Summary, sc.Description, sc.Title, "Primary concern not specified.")

	start := len(opts.Turns) - opts.RecentTurnLimit
	if start < 0 {
		start = 0
	}
	recent := make([]PromptTurn, 0, len(opts.Turns)-start)
	for _, t := range opts.Turns[start:] {
		pt := PromptTurn{Role: t.Role, Content: t.Content}
		if !t.CreatedAt.IsZero() {
			pt.CreatedAt = t.CreatedAt.UTC().Format(time.RFC3339)
		}
		recent = append(recent, pt)
	}

	return RuntimePrompt{
		Meta: PromptMeta{
			SchemaVersion: "v1",
			SessionID:     opts.SessionID,
			TurnIndex:     opts.TurnIndex,
			Timestamp:     opts.Now.UTC().Format(time.RFC3339),
			Language:      "en",
		},
		Environment: PromptEnvironment{Department: sc.Department},
		Learner:     PromptLearner{Role: opts.LearnerRole},
		Scenario: PromptScenario{
			ID:              sc.ID,
			Type:            scenarioType,
			Title:           sc.Title,
			Summary:         summary,
			ObjectiveSkills: nonNil(sc.Tags),
			SuccessCriteria: orDefault(sc.Persona.SuccessCriteria, []string{
				"Learner de-escalates without escalating conflict.",
				"Learner communicates a clear next step.",
			}),
			FailureTriggers: orDefault(sc.Persona.FailureTriggers, []string{
				"Learner escalates tone",
				"Learner dismisses concerns",
			}),
		},
		Persona: buildPersona(sc.Persona),
		State: PromptState{
			EscalationLevel:  escalation,
			Emotions:         emotionsFor(escalation, sc.Persona),
			PrimaryComplaint: complaint,
		},
		Constraints: PromptConstraints{
			GlobalSafety: PromptSafety{
				NoMedicalAdvice:         true,
				NoDiagnosis:             true,
				NoMedicationInstruction: true,
				NoViolence:              true,
				NoSlursOrSexualContent:  true,
			},
			DepartmentRules:      orDefault(sc.Constraints.DepartmentRules, departmentRules(sc.Department)),
			ProhibitedPhrases:    uniqueStrings(append(append([]string{}, sc.Constraints.ProhibitedPhrases...), defaultProhibitedPhrases...)),
			EscalationBoundaries: nonNil(sc.Constraints.EscalationBoundaries),
		},
		Conversation: PromptConversation{
			SummarySoFar: ConversationSummary(opts.Turns, opts.SummaryMaxChars),
			RecentTurns:  recent,
		},
		Response: PromptResponse{
			OutputMode:   "PATIENT_UTTERANCE_ONLY",
			MinSentences: 1,
			MaxSentences: 3,
			Dynamics:     defaultDynamics,
		},
	}
}

// ClampEscalationLevel rounds a session escalation level into the [1,5] band
// the counterpart understands. NaN reads as 2.
func ClampEscalationLevel(level float64) int {
	if math.IsNaN(level) {
		return 2
	}
	return int(clamp(math.Round(level), 1, 5))
}

func emotionsFor(level int, p PersonaSeed) []string {
	if len(p.BaselineEmotions) > 0 {
		return p.BaselineEmotions
	}
	switch {
	case level >= 4:
		return []string{"angry", "overwhelmed", "impatient"}
	case level == 3:
		return []string{"frustrated", "anxious"}
	}
	return []string{"concerned", "tense"}
}

func buildPersona(p PersonaSeed) PromptPersona {
	actor := "PATIENT"
	if p.ActorType == "FAMILY_MEMBER" {
		actor = "FAMILY_MEMBER"
	}
	style := p.CommunicationStyle
	if style == "" {
		style = "Stressed, direct, and emotionally reactive."
	}
	return PromptPersona{
		ActorType:          actor,
		CommunicationStyle: style,
		Stressors:          nonNil(p.Stressors),
		RedLines:           nonNil(p.RedLines),
		CalmingSignals:     nonNil(p.CalmingSignals),
	}
}

// ConversationSummary renders the last six turns as "ROLE: content" and
// truncates the result to maxChars, marking the cut with "...".
func ConversationSummary(turns []Turn, maxChars int) string {
	if len(turns) == 0 {
		return "No conversation yet."
	}
	start := len(turns) - 6
	if start < 0 {
		start = 0
	}
	parts := make([]string, 0, 6)
	for _, t := range turns[start:] {
		parts = append(parts, strings.ToUpper(string(t.Role))+": "+t.Content)
	}
	summary := strings.Join(parts, " ")
	if r := []rune(summary); len(r) > maxChars {
		return string(r[:maxChars]) + "..."
	}
	return summary
}

// PromptHash fingerprints a system prompt so stored turns can name the
// prompt revision that produced them.
func PromptHash(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:])
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func orDefault(v, def []string) []string {
	if len(v) > 0 {
		return v
	}
	return def
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
