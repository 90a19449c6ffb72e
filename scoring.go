package calmscore

import (
	"math"
	"strconv"
	"strings"
)

// TurnOptions carries the optional inputs of a single evaluation.
type TurnOptions struct {
	Rubric           *RubricConfig // nil resolves the environment default
	Rules            *Ruleset      // nil uses the built-in phrase tables
	CoachHint        *CoachHint
	PreviousUserText string // the trainee's previous turn, for follow-through
}

// TurnResult is the outcome of scoring one utterance.
type TurnResult struct {
	Deltas  TurnDeltas `json:"deltas"`
	Reasons []Reason   `json:"reasons"`
}

// --- Turn scoring ---

// ComputeTurnMetrics scores one trainee utterance.
//
//	raw deltas -> (training: combo, follow-through, coach hint) -> (non-strict: scale, clamp)
//
// It is deterministic and never fails; empty text yields zero deltas.
func ComputeTurnMetrics(text string, opts TurnOptions) TurnResult {
	var cfg RubricConfig
	if opts.Rubric != nil {
		cfg = *opts.Rubric
	} else {
		cfg = ResolveRubric(nil, "")
	}
	rs := opts.Rules
	if rs == nil {
		rs = defaultRuleset
	}

	rec := &reasonRecorder{}
	signals := ExtractSignals(text, rs)
	d := rawDeltas(signals, rs, rec)

	if cfg.Profile == ProfileTraining {
		d = applyTrainingAdjustments(d, cfg, opts, rs, strings.ToLower(text), rec)
	}
	if cfg.Profile != ProfileStrict {
		d = scaleAndClamp(d, cfg)
	}

	return TurnResult{Deltas: d, Reasons: rec.list()}
}

// --- Session accumulation ---

// ApplySessionMetricDeltas adds deltas to the session state and saturates
// each metric into its absolute bound. The caller serializes concurrent
// updates to the same session.
func ApplySessionMetricDeltas(current SessionMetrics, deltas TurnDeltas) SessionMetrics {
	return ApplySessionMetricDeltasWithin(current, deltas, defaultRuleset.tables.SessionClamps)
}

// ApplySessionMetricDeltasWithin is ApplySessionMetricDeltas with explicit bounds.
func ApplySessionMetricDeltasWithin(current SessionMetrics, deltas TurnDeltas, clamps SessionClamps) SessionMetrics {
	return SessionMetrics{
		Empathy:    clamps.Empathy.Clamp(current.Empathy + deltas.Empathy),
		Clarity:    clamps.Clarity.Clamp(current.Clarity + deltas.Clarity),
		Boundary:   clamps.Boundary.Clamp(current.Boundary + deltas.Boundary),
		Escalation: clamps.Escalation.Clamp(current.Escalation + deltas.Escalation),
	}
}

// --- Helpers ---

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}

// trimFloat formats v with the fewest digits that round-trip.
func trimFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
