package calmscore

// rawDeltas turns detected signals into per-metric deltas clamped into each
// metric's static bound, recording one reason per contributing signal.
func rawDeltas(s Signals, rs *Ruleset, rec *reasonRecorder) TurnDeltas {
	t := rs.tables
	var d TurnDeltas

	// --- Empathy ---
	e := &t.Empathy
	d.Empathy += phraseDelta(rec, MetricEmpathy, s.EmpathyStrong, e.Deltas.Strong)
	d.Empathy += phraseDelta(rec, MetricEmpathy, s.EmpathyCourtesy, e.Deltas.Courtesy)
	d.Empathy += phraseDelta(rec, MetricEmpathy, s.EmpathyNegative, e.Deltas.Negative)
	d.Empathy += phraseDelta(rec, MetricEmpathy, s.EmpathyTerse, e.Deltas.Terse)
	if s.Profanity.Present {
		d.Empathy += e.Deltas.Profanity
		rec.structured(MetricEmpathy, e.Deltas.Profanity, "profanity:"+s.Profanity.Phrase)
	}
	d.Empathy = e.Clamp.Clamp(d.Empathy)

	// --- Clarity ---
	c := &t.Clarity
	d.Clarity += phraseDelta(rec, MetricClarity, s.ClarityStructured, c.Deltas.Structured)
	d.Clarity += ruleDelta(rec, MetricClarity, s.TimeEstimate, c.Deltas.TimeEstimate, "time_estimate")
	d.Clarity += ruleDelta(rec, MetricClarity, s.LongMessage, c.Deltas.LongMessage, "long_message")
	d.Clarity += ruleDelta(rec, MetricClarity, s.ManyQuestions, c.Deltas.ManyQuestions, "many_questions")
	d.Clarity = c.Clamp.Clamp(d.Clarity)

	// --- Boundary ---
	b := &t.Boundary
	d.Boundary += phraseDelta(rec, MetricBoundary, s.BoundaryFirm, b.Deltas.Firm)
	d.Boundary += phraseDelta(rec, MetricBoundary, s.BoundaryOptions, b.Deltas.Options)
	d.Boundary += phraseDelta(rec, MetricBoundary, s.BoundaryThreat, b.Deltas.Threats)
	d.Boundary += ruleDelta(rec, MetricBoundary, s.CallSecurity, b.Deltas.CallSecurity, "phrase:"+b.CallSecurityPhrase)
	d.Boundary = b.Clamp.Clamp(d.Boundary)

	// --- Escalation ---
	x := &t.Escalation
	if rule, ok := escalationRule(s); ok {
		d.Escalation += x.Deltas.Escalation
		rec.structured(MetricEscalation, x.Deltas.Escalation, rule)
	}
	d.Escalation += phraseDelta(rec, MetricEscalation, s.Calming, x.Deltas.Calming)
	d.Escalation = x.Clamp.Clamp(d.Escalation)

	return d
}

// escalationRule reports whether the escalation signal fires and names the
// highest-priority cause: profanity, all caps, terse phrase, escalation
// phrase, then an unsoftened demand.
func escalationRule(s Signals) (string, bool) {
	switch {
	case s.Profanity.Present:
		return "profanity:" + s.Profanity.Phrase, true
	case s.AllCaps:
		return "all_caps", true
	case s.EscalationTerse.Present:
		return "phrase:" + s.EscalationTerse.Phrase, true
	case s.EscalationPhrase.Present:
		return "phrase:" + s.EscalationPhrase.Phrase, true
	case s.Demand.Present && !s.DemandExempt:
		return "phrase:" + s.Demand.Phrase, true
	}
	return "", false
}

func phraseDelta(rec *reasonRecorder, m Metric, match Match, delta float64) float64 {
	if !match.Present {
		return 0
	}
	rec.structured(m, delta, "phrase:"+match.Phrase)
	return delta
}

func ruleDelta(rec *reasonRecorder, m Metric, fired bool, delta float64, rule string) float64 {
	if !fired {
		return 0
	}
	rec.structured(m, delta, rule)
	return delta
}
