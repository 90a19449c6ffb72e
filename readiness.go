package calmscore

import "sort"

// Readiness is the end-of-session verdict.
type Readiness string

const (
	ReadinessReady        Readiness = "Ready"
	ReadinessDeveloping   Readiness = "Developing"
	ReadinessNeedsSupport Readiness = "Needs support"
)

// ReadinessThresholds decide the readiness label from final session metrics.
type ReadinessThresholds struct {
	ReadyEscalationMax        float64 `yaml:"readyEscalationMax" json:"readyEscalationMax"`
	ReadyEmpathyMin           float64 `yaml:"readyEmpathyMin" json:"readyEmpathyMin"`
	NeedsSupportEscalationMin float64 `yaml:"needsSupportEscalationMin" json:"needsSupportEscalationMin"`
}

func DefaultReadinessThresholds() ReadinessThresholds {
	return ReadinessThresholds{
		ReadyEscalationMax:        1,
		ReadyEmpathyMin:           55,
		NeedsSupportEscalationMin: 4,
	}
}

// AssessReadiness labels a trainee from the final session metrics.
// Ready wins over Needs support when both could apply.
func AssessReadiness(m SessionMetrics, th ReadinessThresholds) Readiness {
	if m.Escalation <= th.ReadyEscalationMax && m.Empathy >= th.ReadyEmpathyMin {
		return ReadinessReady
	}
	if m.Escalation >= th.NeedsSupportEscalationMin {
		return ReadinessNeedsSupport
	}
	return ReadinessDeveloping
}

// CoachSummary aggregates the coach turns of a session.
type CoachSummary struct {
	PrimaryFocus string   `json:"primary_focus"` // most frequent coach category
	TopRewrites  []string `json:"top_rewrites"`  // most recent first, at most two
}

// SummarizeCoaching derives the coaching focus and latest rewrites from
// chronologically ordered turns. Ties on focus go to the category seen first.
func SummarizeCoaching(turns []Turn) CoachSummary {
	counts := map[string]int{}
	var order []string
	var rewrites []string
	for _, t := range turns {
		if t.Role != RoleCoach {
			continue
		}
		if t.CoachCategory != "" {
			if counts[t.CoachCategory] == 0 {
				order = append(order, t.CoachCategory)
			}
			counts[t.CoachCategory]++
		}
		if t.CoachRewrite != "" {
			rewrites = append(rewrites, t.CoachRewrite)
		}
	}

	sum := CoachSummary{TopRewrites: []string{}}
	if len(order) > 0 {
		sort.SliceStable(order, func(i, j int) bool { return counts[order[i]] > counts[order[j]] })
		sum.PrimaryFocus = order[0]
	}
	for i := len(rewrites) - 1; i >= 0 && len(sum.TopRewrites) < 2; i-- {
		sum.TopRewrites = append(sum.TopRewrites, rewrites[i])
	}
	return sum
}
