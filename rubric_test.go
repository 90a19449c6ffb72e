package calmscore

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestResolveRubricPresets(t *testing.T) {
	tests := []struct {
		profile Profile
		clamp   Range
		follow  bool
	}{
		{ProfileStrict, Range{Min: -5, Max: 5}, false},
		{ProfileTraining, Range{Min: -3, Max: 3}, true},
		{ProfileEasy, Range{Min: -50, Max: 50}, false},
		{ProfileMedium, Range{Min: -25, Max: 25}, false},
		{ProfileHard, Range{Min: -5, Max: 5}, false},
	}
	for _, tt := range tests {
		cfg := ResolveRubric(nil, tt.profile)
		if cfg.Profile != tt.profile {
			t.Errorf("profile = %s, want %s", cfg.Profile, tt.profile)
		}
		if cfg.PerTurnClamp != tt.clamp {
			t.Errorf("%s: clamp = %+v, want %+v", tt.profile, cfg.PerTurnClamp, tt.clamp)
		}
		if cfg.FollowThrough.Enabled != tt.follow {
			t.Errorf("%s: follow-through enabled = %v", tt.profile, cfg.FollowThrough.Enabled)
		}
		if cfg.StrengthDeltas != (StrengthDeltas{Light: 1, Medium: 2, Strong: 3}) {
			t.Errorf("%s: strength deltas = %+v", tt.profile, cfg.StrengthDeltas)
		}
		if cfg.ComboBonus != (ComboBonus{Two: 1, Three: 2, ApplyTo: MetricEscalation}) {
			t.Errorf("%s: combo = %+v", tt.profile, cfg.ComboBonus)
		}
	}
}

func TestResolveRubricUnknownProfileIsStrict(t *testing.T) {
	if got := ResolveRubric(nil, "bogus").Profile; got != ProfileStrict {
		t.Errorf("expected strict, got %s", got)
	}
}

func TestResolveRubricOverridesWin(t *testing.T) {
	o := &RubricOverrides{
		PerTurnClamp:   &RangeOverride{Max: Float(2)},
		StrengthDeltas: &StrengthDeltasOverride{Strong: Float(5)},
	}
	cfg := ResolveRubric(o, ProfileTraining)
	if cfg.PerTurnClamp != (Range{Min: -3, Max: 2}) {
		t.Errorf("clamp = %+v, want min from preset and max from override", cfg.PerTurnClamp)
	}
	if cfg.StrengthDeltas.Strong != 5 || cfg.StrengthDeltas.Light != 1 {
		t.Errorf("strength deltas = %+v", cfg.StrengthDeltas)
	}
}

func TestResolveRubricEnvironment(t *testing.T) {
	t.Setenv("SCORING_PROFILE", "medium")
	if got := ResolveRubric(nil, "").Profile; got != ProfileMedium {
		t.Errorf("expected medium from SCORING_PROFILE, got %s", got)
	}
	if got := ResolveRubric(nil, ProfileHard).Profile; got != ProfileHard {
		t.Errorf("explicit profile should beat env, got %s", got)
	}

	os.Unsetenv("SCORING_PROFILE")
	t.Setenv("NEXT_PUBLIC_SCORING_PROFILE", "training")
	if got := ResolveRubric(nil, "").Profile; got != ProfileTraining {
		t.Errorf("expected training from NEXT_PUBLIC_SCORING_PROFILE, got %s", got)
	}
}

func TestMergeOverrides(t *testing.T) {
	current := &RubricOverrides{
		StrengthDeltas: &StrengthDeltasOverride{Light: Float(5), Medium: Float(6)},
	}
	next := &RubricOverrides{
		StrengthDeltas: &StrengthDeltasOverride{Medium: Float(7)},
		FollowThrough:  &FollowThroughOverride{Enabled: Bool(true)},
	}
	merged := MergeOverrides(current, next)

	if *merged.StrengthDeltas.Light != 5 || *merged.StrengthDeltas.Medium != 7 {
		t.Errorf("strength deltas = light %v medium %v", *merged.StrengthDeltas.Light, *merged.StrengthDeltas.Medium)
	}
	if merged.StrengthDeltas.Strong != nil {
		t.Error("strong should stay unset")
	}
	if !*merged.FollowThrough.Enabled {
		t.Error("follow-through should be enabled")
	}
	if *current.StrengthDeltas.Medium != 6 {
		t.Error("MergeOverrides must not modify its inputs")
	}
	if MergeOverrides(nil, nil) != nil {
		t.Error("merging nothing should yield nil")
	}
}

func TestParseRubricFile(t *testing.T) {
	rf, err := ParseRubricFile([]byte(`
version: "2024-1"
profile: training
overrides:
  strengthDeltas:
    strong: 4
  perTurnClamp:
    min: -2
`))
	if err != nil {
		t.Fatal(err)
	}
	if rf.Profile != ProfileTraining {
		t.Errorf("profile = %s", rf.Profile)
	}
	cfg := ResolveRubric(&rf.Overrides, rf.Profile)
	if cfg.StrengthDeltas.Strong != 4 || cfg.PerTurnClamp != (Range{Min: -2, Max: 3}) {
		t.Errorf("resolved = %+v", cfg)
	}
}

func TestParseRubricFileErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{"missing version", "overrides: {}\n", "missing version"},
		{"unknown field", "version: \"1\"\nbogus: true\n", "bogus"},
		{"two documents", "version: \"1\"\n---\nversion: \"2\"\n", "multiple YAML documents"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRubricFile([]byte(tt.data))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestLoadRubricFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rubric.yaml")
	if err := os.WriteFile(path, []byte("version: \"1\"\nprofile: easy\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	rf, err := LoadRubricFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if rf.Profile != ProfileEasy {
		t.Errorf("profile = %s", rf.Profile)
	}
	if _, err := LoadRubricFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestResolveRubricIdempotent(t *testing.T) {
	overrides := &RubricOverrides{
		StrengthDeltas: &StrengthDeltasOverride{Strong: Float(4)},
		PerTurnClamp:   &RangeOverride{Min: Float(-2)},
	}
	for _, p := range []Profile{ProfileStrict, ProfileTraining, ProfileEasy, ProfileMedium, ProfileHard, "bogus"} {
		for _, o := range []*RubricOverrides{nil, overrides} {
			first := ResolveRubric(o, p)
			if second := ResolveRubric(o, p); !reflect.DeepEqual(first, second) {
				t.Errorf("%s: %+v != %+v", p, first, second)
			}
		}
	}
	if overrides.PerTurnClamp.Max != nil {
		t.Error("ResolveRubric must not modify the overrides")
	}
}

func TestProfileOverride(t *testing.T) {
	easy := ProfileEasy
	cfg := ResolveRubric(&RubricOverrides{Profile: &easy}, ProfileStrict)
	if cfg.Profile != ProfileEasy {
		t.Fatalf("profile = %s, want easy", cfg.Profile)
	}
	// the strict preset stays selected, so the baseline clamp applies to the easy scale
	if cfg.PerTurnClamp != (Range{Min: -5, Max: 5}) {
		t.Errorf("clamp = %+v", cfg.PerTurnClamp)
	}
	got := ComputeTurnMetrics("I understand", TurnOptions{Rubric: &cfg})
	if got.Deltas != (TurnDeltas{Empathy: 5, Escalation: -5}) {
		t.Errorf("deltas = %+v", got.Deltas)
	}

	bogus := Profile("bogus")
	if cfg := ResolveRubric(&RubricOverrides{Profile: &bogus}, ProfileTraining); cfg.Profile != ProfileStrict {
		t.Errorf("unknown override profile = %s, want strict", cfg.Profile)
	}

	training := ProfileTraining
	merged := MergeOverrides(&RubricOverrides{Profile: &easy}, &RubricOverrides{Profile: &training})
	if merged.Profile == nil || *merged.Profile != ProfileTraining {
		t.Errorf("merged profile = %v", merged.Profile)
	}
}
