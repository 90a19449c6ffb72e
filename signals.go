package calmscore

import (
	"strings"
)

// Match reports whether a phrase list matched and which phrase matched first.
type Match struct {
	Present bool
	Phrase  string
}

// Signals are the boolean and phrase features detected in one utterance.
type Signals struct {
	Profanity Match

	EmpathyStrong   Match
	EmpathyCourtesy Match
	EmpathyNegative Match
	EmpathyTerse    Match

	ClarityStructured Match
	TimeEstimate      bool
	LongMessage       bool
	ManyQuestions     bool

	BoundaryFirm    Match
	BoundaryOptions Match
	BoundaryThreat  Match
	CallSecurity    bool

	EscalationPhrase Match
	EscalationTerse  Match
	Demand           Match
	Calming          Match
	DemandExempt     bool
	AllCaps          bool

	WordCount     int
	QuestionCount int
}

// ExtractSignals detects scoring signals in text using the given ruleset.
// Matching is case-insensitive substring containment; within a list the
// first phrase in list order wins. A nil ruleset uses the defaults.
func ExtractSignals(text string, rs *Ruleset) Signals {
	if rs == nil {
		rs = defaultRuleset
	}
	t := rs.tables
	lower := strings.ToLower(text)

	var s Signals
	s.Profanity = firstMatch(lower, t.Profanity)

	// Empathy: validation, courtesy, dismissive and terse phrasing
	s.EmpathyStrong = firstMatch(lower, t.Empathy.Phrases.Strong)
	s.EmpathyCourtesy = firstMatch(lower, t.Empathy.Phrases.Courtesy)
	s.EmpathyNegative = firstMatch(lower, t.Empathy.Phrases.Negative)
	s.EmpathyTerse = firstMatch(lower, t.Empathy.Phrases.Terse)

	// Clarity: structure, timeframes, length and question load
	s.ClarityStructured = firstMatch(lower, t.Clarity.Phrases.Structured)
	if rs.timeEstimate != nil {
		s.TimeEstimate = rs.timeEstimate.MatchString(lower)
	}
	s.WordCount = wordCount(text)
	s.QuestionCount = strings.Count(text, "?")
	s.LongMessage = s.WordCount > t.Clarity.LongMessageThreshold
	s.ManyQuestions = t.Clarity.ManyQuestionsThreshold > 0 && s.QuestionCount >= t.Clarity.ManyQuestionsThreshold

	// Boundary: firm limits, offered options, threats
	s.BoundaryFirm = firstMatch(lower, t.Boundary.Phrases.Firm)
	s.BoundaryOptions = firstMatch(lower, t.Boundary.Phrases.Options)
	s.BoundaryThreat = firstMatch(lower, t.Boundary.Phrases.Threats)
	if p := t.Boundary.CallSecurityPhrase; p != "" && strings.Contains(lower, p) {
		exempt := t.Boundary.CallSecurityExemption
		s.CallSecurity = exempt == "" || !strings.Contains(lower, exempt)
	}

	// Escalation: commands, terse orders, demands, shouting; calming phrases offset
	s.EscalationPhrase = firstMatch(lower, t.Escalation.Phrases.Escalation)
	s.EscalationTerse = firstMatch(lower, t.Escalation.Phrases.Terse)
	s.Demand = firstMatch(lower, t.Escalation.Phrases.Demands)
	s.Calming = firstMatch(lower, t.Escalation.Phrases.Calming)
	if e := t.Escalation.DemandExemption; e != "" {
		s.DemandExempt = strings.Contains(lower, e)
	}
	s.AllCaps = allCaps(text, t.Escalation.AllCaps.Letters, t.Escalation.AllCaps.Ratio)

	return s
}

func firstMatch(lower string, phrases []string) Match {
	for _, p := range phrases {
		if p != "" && strings.Contains(lower, p) {
			return Match{Present: true, Phrase: p}
		}
	}
	return Match{}
}

// allCaps counts only ASCII letters; other scripts never trigger shouting.
func allCaps(text string, minLetters int, ratio float64) bool {
	letters, upper := 0, 0
	for _, r := range text {
		switch {
		case r >= 'A' && r <= 'Z':
			letters++
			upper++
		case r >= 'a' && r <= 'z':
			letters++
		}
	}
	if letters == 0 || letters < minLetters {
		return false
	}
	return float64(upper)/float64(letters) >= ratio
}

// wordCount counts maximal runs of ASCII letters and digits.
func wordCount(text string) int {
	n := 0
	inWord := false
	for _, r := range text {
		isWord := (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if isWord && !inWord {
			n++
		}
		inWord = isWord
	}
	return n
}
