package calmscore

import (
	"math"
	"strings"
)

// HintMetric is the skill a coach-me suggestion targeted.
type HintMetric string

const (
	HintEmpathy    HintMetric = "empathy"
	HintClarity    HintMetric = "clarity"
	HintBoundaries HintMetric = "boundaries"
	HintCalmness   HintMetric = "calmness"
	HintEscalation HintMetric = "escalation"
)

// CoachHint records that the trainee just used a coaching suggestion.
// Strength is 1 (light), 2 (medium) or 3 (strong); SuggestionID "light"
// caps the targeted delta instead of flooring it.
type CoachHint struct {
	Metric       HintMetric `json:"metric"`
	Strength     int        `json:"strength"`
	SuggestionID string     `json:"suggestionId,omitempty"`
}

// strengthValue maps a hint strength to the rubric's delta tier.
func strengthValue(strength int, sd StrengthDeltas) float64 {
	switch strength {
	case 1:
		return sd.Light
	case 2:
		return sd.Medium
	}
	return sd.Strong
}

// applyTrainingAdjustments runs the training-only cross-metric steps in
// order: combo bonus, follow-through, coach hint.
func applyTrainingAdjustments(d TurnDeltas, cfg RubricConfig, opts TurnOptions, rs *Ruleset, lower string, rec *reasonRecorder) TurnDeltas {
	d = applyComboBonus(d, cfg.ComboBonus, rec)
	if cfg.FollowThrough.Enabled {
		d = applyFollowThrough(d, cfg.FollowThrough, rs, opts.PreviousUserText, lower, rec)
	}
	if opts.CoachHint != nil {
		d = applyCoachHint(d, *opts.CoachHint, cfg.StrengthDeltas, rec)
	}
	return d
}

// applyComboBonus reduces escalation when two or more of empathy, clarity and
// boundary improved in the same turn. The reduction always lands on
// escalation; ComboBonus.ApplyTo is informational.
func applyComboBonus(d TurnDeltas, cb ComboBonus, rec *reasonRecorder) TurnDeltas {
	positive := 0
	for _, v := range []float64{d.Empathy, d.Clarity, d.Boundary} {
		if v > 0 {
			positive++
		}
	}
	if positive < 2 {
		return d
	}
	bonus := cb.Two
	if positive >= 3 {
		bonus = cb.Three
	}
	if bonus <= 0 {
		return d
	}
	d.Escalation -= bonus
	rec.free("combo_bonus:%s", trimFloat(-bonus))
	return d
}

// applyFollowThrough credits a turn that delivers on a promise made in the
// previous user turn ("I'll be back in 5 minutes" then "I'm back, as promised").
func applyFollowThrough(d TurnDeltas, ft FollowThrough, rs *Ruleset, previous, lower string, rec *reasonRecorder) TurnDeltas {
	if previous == "" {
		return d
	}
	prev := strings.ToLower(previous)
	promised := false
	for _, re := range rs.promises {
		if re.MatchString(prev) {
			promised = true
			break
		}
	}
	if !promised || !firstMatch(lower, rs.tables.FollowThrough.FollowedPhrases).Present {
		return d
	}
	d.Clarity += ft.Clarity
	d.Escalation -= ft.Escalation
	rec.free("follow_through:+%s", trimFloat(ft.Clarity))
	return d
}

// applyCoachHint biases the hinted metric toward the hint's strength tier.
// Only deltas that already improved are adjusted.
func applyCoachHint(d TurnDeltas, h CoachHint, sd StrengthDeltas, rec *reasonRecorder) TurnDeltas {
	sv := strengthValue(h.Strength, sd)
	bias := func(delta float64) float64 {
		if delta <= 0 {
			return delta
		}
		if h.SuggestionID == "light" {
			return math.Min(delta, sv)
		}
		return math.Max(delta, sv)
	}

	switch h.Metric {
	case HintEmpathy:
		d.Empathy = bias(d.Empathy)
		rec.free("coach_me_hint:empathy:%s", trimFloat(sv))
	case HintClarity:
		d.Clarity = bias(d.Clarity)
		rec.free("coach_me_hint:clarity:%s", trimFloat(sv))
	case HintBoundaries:
		d.Boundary = bias(d.Boundary)
		rec.free("coach_me_hint:boundaries:%s", trimFloat(sv))
	case HintCalmness, HintEscalation:
		if d.Escalation < 0 {
			d.Escalation = -math.Max(math.Abs(d.Escalation), sv)
			rec.free("coach_me_hint:calmness:-%s", trimFloat(sv))
		}
	}
	return d
}

// scaleAndClamp multiplies every delta by the profile scale and clamps the
// result into the per-turn bound.
func scaleAndClamp(d TurnDeltas, cfg RubricConfig) TurnDeltas {
	scale, ok := profileScale[cfg.Profile]
	if !ok {
		scale = 1
	}
	r := cfg.PerTurnClamp
	return TurnDeltas{
		Empathy:    r.Clamp(d.Empathy * scale),
		Clarity:    r.Clamp(d.Clarity * scale),
		Boundary:   r.Clamp(d.Boundary * scale),
		Escalation: r.Clamp(d.Escalation * scale),
	}
}
