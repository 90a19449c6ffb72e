package calmscore

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

// Tables is the versioned phrase and threshold data the scorer runs on.
// It is plain configuration: replace it (see LoadTables) to retune or localize
// scoring without touching code.
type Tables struct {
	Version       string              `yaml:"version"`
	Profanity     []string            `yaml:"profanity"`
	Empathy       EmpathyTable        `yaml:"empathy"`
	Clarity       ClarityTable        `yaml:"clarity"`
	Boundary      BoundaryTable       `yaml:"boundary"`
	Escalation    EscalationTable     `yaml:"escalation"`
	FollowThrough FollowThroughTable  `yaml:"followThrough"`
	SessionClamps SessionClamps       `yaml:"sessionClamps"`
	Readiness     ReadinessThresholds `yaml:"readiness"`
}

type EmpathyTable struct {
	Phrases struct {
		Strong   []string `yaml:"strong"`
		Courtesy []string `yaml:"courtesy"`
		Negative []string `yaml:"negative"`
		Terse    []string `yaml:"terse"`
	} `yaml:"phrases"`
	Deltas struct {
		Strong    float64 `yaml:"strong"`
		Courtesy  float64 `yaml:"courtesy"`
		Negative  float64 `yaml:"negative"`
		Terse     float64 `yaml:"terse"`
		Profanity float64 `yaml:"profanity"`
	} `yaml:"deltas"`
	Clamp Range `yaml:"clamp"`
}

type ClarityTable struct {
	Phrases struct {
		Structured []string `yaml:"structured"`
	} `yaml:"phrases"`
	Deltas struct {
		Structured    float64 `yaml:"structured"`
		TimeEstimate  float64 `yaml:"timeEstimate"`
		LongMessage   float64 `yaml:"longMessage"`
		ManyQuestions float64 `yaml:"manyQuestions"`
	} `yaml:"deltas"`
	TimeEstimatePattern    string `yaml:"timeEstimatePattern"`
	LongMessageThreshold   int    `yaml:"longMessageThreshold"`
	ManyQuestionsThreshold int    `yaml:"manyQuestionsThreshold"`
	Clamp                  Range  `yaml:"clamp"`
}

type BoundaryTable struct {
	Phrases struct {
		Firm    []string `yaml:"firm"`
		Options []string `yaml:"options"`
		Threats []string `yaml:"threats"`
	} `yaml:"phrases"`
	CallSecurityPhrase string `yaml:"callSecurityPhrase"`
	// CallSecurityExemption suppresses the call-security penalty when present.
	CallSecurityExemption string `yaml:"callSecurityExemption"`
	Deltas                struct {
		Firm         float64 `yaml:"firm"`
		Options      float64 `yaml:"options"`
		Threats      float64 `yaml:"threats"`
		CallSecurity float64 `yaml:"callSecurity"`
	} `yaml:"deltas"`
	Clamp Range `yaml:"clamp"`
}

type EscalationTable struct {
	Phrases struct {
		Escalation []string `yaml:"escalation"`
		Terse      []string `yaml:"terse"`
		Demands    []string `yaml:"demands"`
		Calming    []string `yaml:"calming"`
	} `yaml:"phrases"`
	// DemandExemption neutralizes a demand phrase when present (e.g. "please").
	DemandExemption string `yaml:"demandExemption"`
	Deltas          struct {
		Escalation float64 `yaml:"escalation"`
		Calming    float64 `yaml:"calming"`
	} `yaml:"deltas"`
	AllCaps struct {
		Letters int     `yaml:"letters"`
		Ratio   float64 `yaml:"ratio"`
	} `yaml:"allCaps"`
	Clamp Range `yaml:"clamp"`
}

type FollowThroughTable struct {
	PromisePatterns []string `yaml:"promisePatterns"`
	FollowedPhrases []string `yaml:"followedPhrases"`
}

// SessionClamps are the absolute bounds of accumulated session metrics.
type SessionClamps struct {
	Empathy    Range `yaml:"empathy"`
	Clarity    Range `yaml:"clarity"`
	Boundary   Range `yaml:"boundary"`
	Escalation Range `yaml:"escalation"`
}

// DefaultTables returns the built-in English phrase tables.
func DefaultTables() Tables {
	var t Tables
	t.Version = "2024-1"
	t.Profanity = []string{"fuck", "shit", "bitch", "asshole"}

	t.Empathy.Phrases.Strong = []string{
		"i understand", "i'm sorry", "im sorry", "that sounds",
		"i can see", "thank you for", "it makes sense",
	}
	t.Empathy.Phrases.Courtesy = []string{"please", "thank you", "appreciate"}
	t.Empathy.Phrases.Negative = []string{"calm down", "relax", "listen"}
	t.Empathy.Phrases.Terse = []string{"be quiet", "silence"}
	t.Empathy.Deltas.Strong = 2
	t.Empathy.Deltas.Courtesy = 1
	t.Empathy.Deltas.Negative = -2
	t.Empathy.Deltas.Terse = -1
	t.Empathy.Deltas.Profanity = -3
	t.Empathy.Clamp = Range{Min: -5, Max: 5}

	t.Clarity.Phrases.Structured = []string{
		"here's what", "next", "first", "then",
		"in a moment", "what will happen", "we're going to",
	}
	t.Clarity.Deltas.Structured = 2
	t.Clarity.Deltas.TimeEstimate = 1
	t.Clarity.Deltas.LongMessage = -2
	t.Clarity.Deltas.ManyQuestions = -1
	t.Clarity.TimeEstimatePattern = `\b(\d{1,2})\s?(min|mins|minutes)\b`
	t.Clarity.LongMessageThreshold = 60
	t.Clarity.ManyQuestionsThreshold = 3
	t.Clarity.Clamp = Range{Min: -5, Max: 5}

	t.Boundary.Phrases.Firm = []string{
		"i can't", "i cannot", "i'm not able to", "for safety",
		"i need you to", "we need to", "i can help you with", "what i can do is",
	}
	t.Boundary.Phrases.Options = []string{"options", "choices", "you can either"}
	t.Boundary.Phrases.Threats = []string{"or else"}
	t.Boundary.CallSecurityPhrase = "i'll call security"
	t.Boundary.CallSecurityExemption = "for safety"
	t.Boundary.Deltas.Firm = 2
	t.Boundary.Deltas.Options = 1
	t.Boundary.Deltas.Threats = -2
	t.Boundary.Deltas.CallSecurity = -2
	t.Boundary.Clamp = Range{Min: -5, Max: 5}

	t.Escalation.Phrases.Escalation = []string{"stop", "now", "immediately", "shut up"}
	t.Escalation.Phrases.Terse = []string{"be quiet", "silence", "quiet", "enough"}
	t.Escalation.Phrases.Demands = []string{"you have to", "you need to"}
	t.Escalation.Phrases.Calming = []string{"i understand", "thank you", "please", "let's", "take a breath"}
	t.Escalation.DemandExemption = "please"
	t.Escalation.Deltas.Escalation = 1
	t.Escalation.Deltas.Calming = -1
	t.Escalation.AllCaps.Letters = 10
	t.Escalation.AllCaps.Ratio = 0.7
	t.Escalation.Clamp = Range{Min: -1, Max: 1}

	t.FollowThrough.PromisePatterns = []string{
		`(i'|i )?ll.*(back|update)`,
		`(\d{1,2})\s?(min|mins|minutes)`,
	}
	t.FollowThrough.FollowedPhrases = []string{"i'm back", "i am back", "as promised", "update"}

	t.SessionClamps = SessionClamps{
		Empathy:    Range{Min: 0, Max: 100},
		Clarity:    Range{Min: 0, Max: 100},
		Boundary:   Range{Min: 0, Max: 100},
		Escalation: Range{Min: 0, Max: 5},
	}
	t.Readiness = DefaultReadinessThresholds()
	return t
}

// Ruleset is a compiled, read-only form of Tables. Phrases are lowercased and
// regular expressions compiled once so scoring itself cannot fail.
type Ruleset struct {
	tables       Tables
	timeEstimate *regexp.Regexp
	promises     []*regexp.Regexp
}

// Compile validates the tables and prepares them for scoring.
func (t Tables) Compile() (*Ruleset, error) {
	if t.Version == "" {
		return nil, fmt.Errorf("calmscore: tables: missing version")
	}
	t = t.lowercased()

	rs := &Ruleset{tables: t}
	if t.Clarity.TimeEstimatePattern != "" {
		re, err := regexp.Compile(`(?i)` + t.Clarity.TimeEstimatePattern)
		if err != nil {
			return nil, fmt.Errorf("calmscore: tables: time estimate pattern: %w", err)
		}
		rs.timeEstimate = re
	}
	for _, p := range t.FollowThrough.PromisePatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("calmscore: tables: promise pattern %q: %w", p, err)
		}
		rs.promises = append(rs.promises, re)
	}
	return rs, nil
}

// Tables returns a copy of the data the ruleset was compiled from.
func (rs *Ruleset) Tables() Tables {
	return rs.tables
}

func (t Tables) lowercased() Tables {
	lower := func(in []string) []string {
		out := make([]string, len(in))
		for i, s := range in {
			out[i] = strings.ToLower(s)
		}
		return out
	}
	t.Profanity = lower(t.Profanity)
	t.Empathy.Phrases.Strong = lower(t.Empathy.Phrases.Strong)
	t.Empathy.Phrases.Courtesy = lower(t.Empathy.Phrases.Courtesy)
	t.Empathy.Phrases.Negative = lower(t.Empathy.Phrases.Negative)
	t.Empathy.Phrases.Terse = lower(t.Empathy.Phrases.Terse)
	t.Clarity.Phrases.Structured = lower(t.Clarity.Phrases.Structured)
	t.Boundary.Phrases.Firm = lower(t.Boundary.Phrases.Firm)
	t.Boundary.Phrases.Options = lower(t.Boundary.Phrases.Options)
	t.Boundary.Phrases.Threats = lower(t.Boundary.Phrases.Threats)
	t.Boundary.CallSecurityPhrase = strings.ToLower(t.Boundary.CallSecurityPhrase)
	t.Boundary.CallSecurityExemption = strings.ToLower(t.Boundary.CallSecurityExemption)
	t.Escalation.Phrases.Escalation = lower(t.Escalation.Phrases.Escalation)
	t.Escalation.Phrases.Terse = lower(t.Escalation.Phrases.Terse)
	t.Escalation.Phrases.Demands = lower(t.Escalation.Phrases.Demands)
	t.Escalation.Phrases.Calming = lower(t.Escalation.Phrases.Calming)
	t.Escalation.DemandExemption = strings.ToLower(t.Escalation.DemandExemption)
	t.FollowThrough.FollowedPhrases = lower(t.FollowThrough.FollowedPhrases)
	return t
}

var defaultRuleset = mustCompile(DefaultTables())

func mustCompile(t Tables) *Ruleset {
	rs, err := t.Compile()
	if err != nil {
		panic(err)
	}
	return rs
}

// DefaultRuleset returns the compiled built-in tables.
func DefaultRuleset() *Ruleset {
	return defaultRuleset
}

// ParseTables decodes a YAML tables document. Fields omitted in the document
// keep their built-in values.
func ParseTables(data []byte) (*Ruleset, error) {
	t := DefaultTables()
	if err := decodeStrictYAML(data, &t); err != nil {
		return nil, fmt.Errorf("calmscore: parse tables: %w", err)
	}
	return t.Compile()
}

// LoadTables reads a YAML tables file from disk.
func LoadTables(path string) (*Ruleset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("calmscore: read tables: %w", err)
	}
	return ParseTables(data)
}
