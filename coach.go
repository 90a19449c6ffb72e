package calmscore

import (
	"strings"
)

// CoachCategory is the focus area of a coach turn.
type CoachCategory string

const (
	CoachEscalation CoachCategory = "Escalation"
	CoachEmpathy    CoachCategory = "Empathy"
	CoachBoundary   CoachCategory = "Boundary"
	CoachClarity    CoachCategory = "Clarity"
	CoachNeutral    CoachCategory = "Neutral"
)

var coachTips = map[CoachCategory]string{
	CoachEscalation: "Lower intensity. Avoid commands like 'calm down' - use validation + options.",
	CoachEmpathy:    "Lead with validation. Name the emotion + show you're listening before problem-solving.",
	CoachClarity:    "Give a short next step with a timeframe and what you'll do.",
	CoachBoundary:   "Set limits calmly and pair them with what you can do ('I can't X, but I can Y').",
	CoachNeutral:    "Add validation and one clear next step.",
}

var coachRewrites = map[CoachCategory]string{
	CoachEscalation: "I can see this is really frustrating. I want to help. Let's take a breath - here are two options we can do next...",
	CoachEmpathy:    "I understand this is upsetting. Thank you for telling me. I'm here with you.",
	CoachClarity:    "Here's what will happen next: I'm going to [action]. I'll be back with an update in [time].",
	CoachBoundary:   "I can't [request], but what I can do is [helpful action] right now.",
	CoachNeutral:    "I hear you. Here's what I can do next: [action]. I'll update you in [time].",
}

// coachPriority breaks ties between equal-magnitude deltas: earlier wins.
var coachPriority = []struct {
	metric   Metric
	category CoachCategory
}{
	{MetricEscalation, CoachEscalation},
	{MetricEmpathy, CoachEmpathy},
	{MetricBoundary, CoachBoundary},
	{MetricClarity, CoachClarity},
}

// CoachResponse is the feedback shown after a scored turn.
type CoachResponse struct {
	Category CoachCategory `json:"category"`
	Tip      string        `json:"tip"`
	Rewrite  string        `json:"rewrite"`
	NextStep string        `json:"next_step"`
	Content  string        `json:"content"`
}

// BuildCoachResponse picks the metric that moved most this turn and returns
// the matching tip, a model rewrite and a next step sized to how far the
// conversation has progressed.
func BuildCoachResponse(deltas TurnDeltas, reasons []Reason, userTurnCount int) CoachResponse {
	category := CoachNeutral
	var primary Metric
	best := 0.0
	for _, p := range coachPriority {
		if d := deltas.Get(p.metric); abs(d) > abs(best) {
			best = d
			primary = p.metric
			category = p.category
		}
	}

	var why string
	if primary == "" {
		why = "No scoring signals detected; try adding validation + one clear next step."
	} else {
		why = "delta based on scoring rules"
		for _, r := range reasons {
			if r.Kind == ReasonStructured && r.Metric == primary {
				why = r.String()
				break
			}
		}
	}

	resp := CoachResponse{
		Category: category,
		Tip:      coachTips[category],
		Rewrite:  coachRewrites[category],
		NextStep: nextStepPrompt(userTurnCount),
	}
	resp.Content = strings.Join([]string{
		"Category: " + string(category) + " (" + deltaBadges(deltas) + ")",
		"Why: " + why,
		"Tip: " + resp.Tip,
		"Rewrite: " + resp.Rewrite,
		resp.NextStep,
	}, "\n")
	return resp
}

func nextStepPrompt(userTurnCount int) string {
	switch {
	case userTurnCount <= 2:
		return "Next step: ask one clarifying question."
	case userTurnCount <= 4:
		return "Next step: offer two options and a timeframe."
	}
	return "Next step: summarize the agreement and confirm the next update."
}

// deltaBadges renders the non-zero deltas, or all four when none moved.
func deltaBadges(d TurnDeltas) string {
	all := []struct {
		label string
		value float64
	}{
		{"ΔE", d.Empathy},
		{"ΔC", d.Clarity},
		{"ΔB", d.Boundary},
		{"ΔEsc", d.Escalation},
	}
	var parts []string
	for _, b := range all {
		if b.value != 0 {
			parts = append(parts, b.label+":"+signed(b.value))
		}
	}
	if len(parts) == 0 {
		for _, b := range all {
			parts = append(parts, b.label+":"+signed(b.value))
		}
	}
	return strings.Join(parts, " ")
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// --- Coach-me suggestions ---

// SuggestionMetric is the skill a trainee asks for help with.
type SuggestionMetric string

const (
	SuggestEmpathy      SuggestionMetric = "empathy"
	SuggestClarity      SuggestionMetric = "clarity"
	SuggestBoundaries   SuggestionMetric = "boundaries"
	SuggestDeescalation SuggestionMetric = "de-escalation"
)

// ParseSuggestionMetric maps a name to a SuggestionMetric; unknown names are empathy.
func ParseSuggestionMetric(name string) SuggestionMetric {
	switch m := SuggestionMetric(name); m {
	case SuggestClarity, SuggestBoundaries, SuggestDeescalation:
		return m
	}
	return SuggestEmpathy
}

// HintMetric returns the scoring hint a suggestion for m feeds back into.
func (m SuggestionMetric) HintMetric() HintMetric {
	switch m {
	case SuggestClarity:
		return HintClarity
	case SuggestBoundaries:
		return HintBoundaries
	case SuggestDeescalation:
		return HintCalmness
	}
	return HintEmpathy
}

// Suggestion is one coach-me phrase at a given strength.
type Suggestion struct {
	ID       string `json:"id"` // light, medium or strong
	Strength int    `json:"strength"`
	Label    string `json:"label"`
	Phrase   string `json:"phrase"`
}

var suggestionTiers = []struct {
	id    string
	label string
}{
	{"light", "Light coaching nudge"},
	{"medium", "Medium coaching nudge"},
	{"strong", "Strong coaching nudge"},
}

var fallbackPhrases = map[SuggestionMetric][3]string{
	SuggestEmpathy: {
		"I hear you. This is stressful, and I want to help.",
		"I can see why this feels upsetting. Thank you for telling me what's going on.",
		"I understand this is really hard right now. I'm here with you, and I'm listening.",
	},
	SuggestClarity: {
		"Here's what I'm going to do next, and I'll check back shortly.",
		"Here's what will happen next: I'll [action], then I'll be back in [time].",
		"First I'll [action]. Then I'll return in [time] to update you on what's next.",
	},
	SuggestBoundaries: {
		"I want to help, and I need us to keep this calm so we can move forward.",
		"I can't do that, but what I can do is [helpful action] right now.",
		"I can't allow that behavior, but I will stay with you and explain the next step.",
	},
	SuggestDeescalation: {
		"Let's take a breath together. I'm here to help you.",
		"I hear you. Let's slow this down so I can help. Here are two options we can do next.",
		"I want to help, and I need us to lower the intensity. We can do option A or option B next.",
	},
}

// FallbackSuggestions returns the fixed light, medium and strong phrases for m.
func FallbackSuggestions(m SuggestionMetric) []Suggestion {
	phrases, ok := fallbackPhrases[m]
	if !ok {
		phrases = fallbackPhrases[SuggestEmpathy]
	}
	return tierSuggestions(phrases[:])
}

// tierSuggestions labels up to three phrases light, medium, strong in order.
func tierSuggestions(phrases []string) []Suggestion {
	out := make([]Suggestion, 0, 3)
	for i, p := range phrases {
		if i >= len(suggestionTiers) {
			break
		}
		out = append(out, Suggestion{
			ID:       suggestionTiers[i].id,
			Strength: i + 1,
			Label:    suggestionTiers[i].label,
			Phrase:   strings.TrimSpace(p),
		})
	}
	return out
}
