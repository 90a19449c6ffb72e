package calmscore

import (
	"fmt"
	"os"
)

// ScenarioType classifies the conflict a scenario rehearses.
type ScenarioType string

const (
	ScenarioLongWait              ScenarioType = "LONG_WAIT_DELAY"
	ScenarioBoundaryViolation     ScenarioType = "BOUNDARY_VIOLATION"
	ScenarioMistrust              ScenarioType = "MISTRUST_OF_SYSTEM"
	ScenarioFearDrivenAnger       ScenarioType = "FEAR_DRIVEN_ANGER"
	ScenarioFamilyEscalation      ScenarioType = "FAMILY_MEMBER_ESCALATION"
	ScenarioPolicyVsCompassion    ScenarioType = "POLICY_VS_COMPASSION"
	ScenarioRepeatedComplaint     ScenarioType = "REPEATED_COMPLAINT_LOOP"
	ScenarioEscalateToAuthority   ScenarioType = "ESCALATE_TO_AUTHORITY"
	ScenarioDisrespectfulLanguage ScenarioType = "DISRESPECTFUL_LANGUAGE"
	ScenarioLastChance            ScenarioType = "LAST_CHANCE_INTERACTION"
)

// PersonaSeed shapes how the simulated counterpart behaves.
type PersonaSeed struct {
	ActorType          string   `yaml:"actor_type,omitempty" json:"actor_type,omitempty"` // PATIENT or FAMILY_MEMBER
	BaselineEmotions   []string `yaml:"baseline_emotions,omitempty" json:"baseline_emotions,omitempty"`
	CommunicationStyle string   `yaml:"communication_style,omitempty" json:"communication_style,omitempty"`
	Stressors          []string `yaml:"stressors,omitempty" json:"stressors,omitempty"`
	RedLines           []string `yaml:"red_lines,omitempty" json:"red_lines,omitempty"`
	CalmingSignals     []string `yaml:"calming_signals,omitempty" json:"calming_signals,omitempty"`
	SuccessCriteria    []string `yaml:"success_criteria,omitempty" json:"success_criteria,omitempty"`
	FailureTriggers    []string `yaml:"failure_triggers,omitempty" json:"failure_triggers,omitempty"`
}

// ScenarioConstraints restrict what the counterpart may say.
type ScenarioConstraints struct {
	DepartmentRules      []string `yaml:"department_rules,omitempty" json:"department_rules,omitempty"`
	ProhibitedPhrases    []string `yaml:"prohibited_phrases,omitempty" json:"prohibited_phrases,omitempty"`
	EscalationBoundaries []string `yaml:"escalation_boundaries,omitempty" json:"escalation_boundaries,omitempty"`
}

// Department is the hospital unit a scenario takes place in.
type Department struct {
	Code        string `yaml:"code" json:"code"`
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// Scenario is a rehearsable situation.
type Scenario struct {
	ID          string              `yaml:"id" json:"id"`
	Type        ScenarioType        `yaml:"type,omitempty" json:"scenario_type,omitempty"`
	Title       string              `yaml:"title" json:"title"`
	Summary     string              `yaml:"summary,omitempty" json:"summary,omitempty"`
	Description string              `yaml:"description,omitempty" json:"description,omitempty"`
	Difficulty  string              `yaml:"difficulty,omitempty" json:"difficulty,omitempty"`
	Tags        []string            `yaml:"tags,omitempty" json:"tags,omitempty"`
	Department  *Department         `yaml:"department,omitempty" json:"department,omitempty"`
	Persona     PersonaSeed         `yaml:"persona,omitempty" json:"persona_seed"`
	Constraints ScenarioConstraints `yaml:"constraints,omitempty" json:"constraints_refs"`
}

// ScenarioFile is a versioned list of scenarios stored on disk.
type ScenarioFile struct {
	Version   string     `yaml:"version"`
	Scenarios []Scenario `yaml:"scenarios"`
}

// ParseScenarios decodes a YAML scenario file. Every scenario needs an id and a title.
func ParseScenarios(data []byte) ([]Scenario, error) {
	var sf ScenarioFile
	if err := decodeStrictYAML(data, &sf); err != nil {
		return nil, fmt.Errorf("calmscore: parse scenarios: %w", err)
	}
	if sf.Version == "" {
		return nil, fmt.Errorf("calmscore: parse scenarios: missing version")
	}
	seen := make(map[string]bool, len(sf.Scenarios))
	for i, sc := range sf.Scenarios {
		if sc.ID == "" || sc.Title == "" {
			return nil, fmt.Errorf("calmscore: parse scenarios: scenario %d: id and title are required", i)
		}
		if seen[sc.ID] {
			return nil, fmt.Errorf("calmscore: parse scenarios: duplicate id %q", sc.ID)
		}
		seen[sc.ID] = true
	}
	return sf.Scenarios, nil
}

// LoadScenarios reads a YAML scenario file from disk.
func LoadScenarios(path string) ([]Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("calmscore: read scenarios: %w", err)
	}
	return ParseScenarios(data)
}

// DefaultScenarios is the built-in scenario catalog.
func DefaultScenarios() []Scenario {
	ed := &Department{Code: "ED", Name: "Emergency Department"}
	return []Scenario{
		{
			ID:         "ed-long-wait",
			Type:       ScenarioLongWait,
			Title:      "Four hours in the waiting room",
			Summary:    "A patient with abdominal pain has waited four hours and wants to be seen now.",
			Difficulty: "medium",
			Tags:       []string{"empathy", "clarity"},
			Department: ed,
			Persona: PersonaSeed{
				ActorType:          "PATIENT",
				CommunicationStyle: "Exhausted, sharp, repeats the wait time.",
				Stressors:          []string{"pain", "no updates", "missed work"},
				RedLines:           []string{"being told to calm down"},
				CalmingSignals:     []string{"a concrete time estimate", "acknowledging the wait"},
			},
		},
		{
			ID:         "ed-family-escalation",
			Type:       ScenarioFamilyEscalation,
			Title:      "Daughter demands to see her father",
			Summary:    "A family member insists on entering the resuscitation bay.",
			Difficulty: "hard",
			Tags:       []string{"boundaries", "de-escalation"},
			Department: ed,
			Persona: PersonaSeed{
				ActorType:          "FAMILY_MEMBER",
				BaselineEmotions:   []string{"frightened", "angry"},
				CommunicationStyle: "Loud, interrupts, fears the worst.",
				Stressors:          []string{"no information", "closed doors"},
				RedLines:           []string{"threats of security"},
				CalmingSignals:     []string{"being offered a next update", "a private place to wait"},
			},
			Constraints: ScenarioConstraints{
				EscalationBoundaries: []string{"Never describe physical violence."},
			},
		},
		{
			ID:         "ed-policy-vs-compassion",
			Type:       ScenarioPolicyVsCompassion,
			Title:      "Visitor limit at night",
			Summary:    "A partner wants to stay overnight against the visitor policy.",
			Difficulty: "easy",
			Tags:       []string{"boundaries", "empathy"},
			Department: ed,
			Persona: PersonaSeed{
				ActorType: "FAMILY_MEMBER",
				Stressors: []string{"fear of leaving", "long drive home"},
			},
		},
	}
}

var fallbackDepartmentRules = map[string]string{
	"ED":       "Follow ED escalation policy and stay calm.",
	"ICU":      "Respect ICU quiet hours and visitor guidelines.",
	"MEDSURG":  "Respect rounding schedules and care priorities.",
	"BH":       "Use trauma-informed language and maintain safety boundaries.",
	"LD":       "Prioritize maternal-fetal safety and privacy.",
	"NICU":     "Limit stimulation and follow infection control guidance.",
	"REG":      "Protect privacy and verify identity before sharing details.",
	"UC":       "Clarify urgent care scope and referral policy.",
	"SECURITY": "Use calm directives and least restrictive intervention.",
	"BILLING":  "Clarify billing policy without making promises.",
}

func departmentRules(d *Department) []string {
	if d == nil || d.Code == "" {
		return []string{"Follow local policy and remain professional."}
	}
	if rule, ok := fallbackDepartmentRules[d.Code]; ok {
		return []string{rule}
	}
	return []string{"Follow department policy and remain professional."}
}
