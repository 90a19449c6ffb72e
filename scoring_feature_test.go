package calmscore

import (
	"context"
	"fmt"
	"strconv"
	"testing"

	"github.com/cucumber/godog"
)

// TestScoringFeatures runs features/scoring.feature.
func TestScoringFeatures(t *testing.T) {
	suite := godog.TestSuite{
		Name:                "scoring",
		ScenarioInitializer: initializeScoringScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features"},
			Strict:   true,
			TestingT: t,
		},
	}
	if suite.Run() != 0 {
		t.Fatalf("non-zero godog status")
	}
}

func initializeScoringScenario(ctx *godog.ScenarioContext) {
	state := &scoringState{}
	ctx.Before(func(ctx context.Context, _ *godog.Scenario) (context.Context, error) {
		*state = scoringState{scorer: &Scorer{rules: DefaultRuleset()}}
		return ctx, nil
	})

	ctx.Step(`^the "([^"]+)" profile$`, state.givenProfile)
	ctx.Step(`^the previous utterance "([^"]*)"$`, state.givenPrevious)
	ctx.Step(`^a coach hint "([^"]+)" of strength (\d+)$`, state.givenHint)
	ctx.Step(`^a new session$`, state.givenSession)
	ctx.Step(`^the trainee says "([^"]*)"$`, state.traineeSays)
	ctx.Step(`^the deltas are applied$`, state.applyDeltas)
	ctx.Step(`^the (empathy|clarity|boundary|escalation) delta is (-?\d+)$`, state.deltaIs)
	ctx.Step(`^the reasons include "([^"]+)"$`, state.reasonsInclude)
	ctx.Step(`^the reasons are empty$`, state.reasonsEmpty)
	ctx.Step(`^the session (empathy|clarity|boundary|escalation) is (\d+)$`, state.sessionIs)
}

// scoringState holds one scenario's inputs and results.
type scoringState struct {
	scorer   *Scorer
	profile  Profile
	previous string
	hint     *CoachHint
	result   TurnResult
	metrics  SessionMetrics
}

func (s *scoringState) givenProfile(name string) error {
	s.profile = Profile(name)
	return nil
}

func (s *scoringState) givenPrevious(text string) error {
	s.previous = text
	return nil
}

func (s *scoringState) givenHint(metric string, strength int) error {
	s.hint = &CoachHint{Metric: HintMetric(metric), Strength: strength}
	return nil
}

func (s *scoringState) givenSession() error {
	s.metrics = InitialSessionMetrics()
	return nil
}

func (s *scoringState) traineeSays(text string) error {
	s.result = s.scorer.Score(text, s.profile, s.hint, s.previous)
	return nil
}

func (s *scoringState) applyDeltas() error {
	s.metrics = s.scorer.Apply(s.metrics, s.result.Deltas)
	return nil
}

func (s *scoringState) deltaIs(metric, value string) error {
	want, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return err
	}
	if got := s.result.Deltas.Get(Metric(metric)); got != want {
		return fmt.Errorf("%s delta = %v, want %v (reasons %v)", metric, got, want, ReasonStrings(s.result.Reasons))
	}
	return nil
}

func (s *scoringState) reasonsInclude(reason string) error {
	for _, r := range ReasonStrings(s.result.Reasons) {
		if r == reason {
			return nil
		}
	}
	return fmt.Errorf("reason %q not in %v", reason, ReasonStrings(s.result.Reasons))
}

func (s *scoringState) reasonsEmpty() error {
	if len(s.result.Reasons) != 0 {
		return fmt.Errorf("expected no reasons, got %v", ReasonStrings(s.result.Reasons))
	}
	return nil
}

func (s *scoringState) sessionIs(metric, value string) error {
	want, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return err
	}
	var got float64
	switch Metric(metric) {
	case MetricEmpathy:
		got = s.metrics.Empathy
	case MetricClarity:
		got = s.metrics.Clarity
	case MetricBoundary:
		got = s.metrics.Boundary
	case MetricEscalation:
		got = s.metrics.Escalation
	}
	if got != want {
		return fmt.Errorf("session %s = %v, want %v", metric, got, want)
	}
	return nil
}
