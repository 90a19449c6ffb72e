package calmscore

import (
	"strings"
	"testing"
)

func TestBuildCoachResponse(t *testing.T) {
	res := score("I understand this is frustrating, please give me a moment", ProfileStrict)
	resp := BuildCoachResponse(res.Deltas, res.Reasons, 1)

	if resp.Category != CoachEmpathy {
		t.Errorf("category = %s, want Empathy", resp.Category)
	}
	if resp.NextStep != "Next step: ask one clarifying question." {
		t.Errorf("next step = %q", resp.NextStep)
	}
	for _, want := range []string{
		"Category: Empathy (ΔE:+3 ΔEsc:-1)",
		"Why: empathy:+2 phrase:i understand",
		"Tip: " + coachTips[CoachEmpathy],
		"Rewrite: " + coachRewrites[CoachEmpathy],
	} {
		if !strings.Contains(resp.Content, want) {
			t.Errorf("content missing %q:\n%s", want, resp.Content)
		}
	}
}

func TestBuildCoachResponseTiePrefersEscalation(t *testing.T) {
	resp := BuildCoachResponse(TurnDeltas{Empathy: 1, Clarity: -1, Escalation: 1}, nil, 3)
	if resp.Category != CoachEscalation {
		t.Errorf("category = %s, want Escalation", resp.Category)
	}
	if !strings.Contains(resp.Content, "Why: delta based on scoring rules") {
		t.Errorf("missing fallback why:\n%s", resp.Content)
	}
	if resp.NextStep != "Next step: offer two options and a timeframe." {
		t.Errorf("next step = %q", resp.NextStep)
	}
}

func TestBuildCoachResponseNeutral(t *testing.T) {
	resp := BuildCoachResponse(TurnDeltas{}, []Reason{}, 7)
	if resp.Category != CoachNeutral {
		t.Errorf("category = %s, want Neutral", resp.Category)
	}
	if !strings.Contains(resp.Content, "(ΔE:+0 ΔC:+0 ΔB:+0 ΔEsc:+0)") {
		t.Errorf("neutral badges missing:\n%s", resp.Content)
	}
	if !strings.Contains(resp.Content, "No scoring signals detected") {
		t.Errorf("neutral why missing:\n%s", resp.Content)
	}
	if resp.NextStep != "Next step: summarize the agreement and confirm the next update." {
		t.Errorf("next step = %q", resp.NextStep)
	}
}

func TestFallbackSuggestions(t *testing.T) {
	got := FallbackSuggestions(SuggestDeescalation)
	if len(got) != 3 {
		t.Fatalf("expected 3 suggestions, got %d", len(got))
	}
	for i, id := range []string{"light", "medium", "strong"} {
		if got[i].ID != id || got[i].Strength != i+1 {
			t.Errorf("suggestion %d = %+v", i, got[i])
		}
		if got[i].Phrase == "" {
			t.Errorf("suggestion %d has no phrase", i)
		}
	}
	if got[0].Phrase != "Let's take a breath together. I'm here to help you." {
		t.Errorf("light phrase = %q", got[0].Phrase)
	}
}

func TestParseSuggestionMetric(t *testing.T) {
	tests := []struct {
		name string
		want SuggestionMetric
		hint HintMetric
	}{
		{"empathy", SuggestEmpathy, HintEmpathy},
		{"clarity", SuggestClarity, HintClarity},
		{"boundaries", SuggestBoundaries, HintBoundaries},
		{"de-escalation", SuggestDeescalation, HintCalmness},
		{"bogus", SuggestEmpathy, HintEmpathy},
	}
	for _, tt := range tests {
		m := ParseSuggestionMetric(tt.name)
		if m != tt.want || m.HintMetric() != tt.hint {
			t.Errorf("%q -> %s/%s, want %s/%s", tt.name, m, m.HintMetric(), tt.want, tt.hint)
		}
	}
}

func TestTierSuggestionsTrimsAndCaps(t *testing.T) {
	got := tierSuggestions([]string{" a ", "b", "c", "d"})
	if len(got) != 3 || got[0].Phrase != "a" {
		t.Errorf("got %+v", got)
	}
}
