package calmscore

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Profile is a named rubric preset.
type Profile string

const (
	ProfileStrict   Profile = "strict"
	ProfileTraining Profile = "training"
	ProfileEasy     Profile = "easy"
	ProfileMedium   Profile = "medium"
	ProfileHard     Profile = "hard"
)

// profileScale is the multiplier applied to every delta for non-strict profiles.
var profileScale = map[Profile]float64{
	ProfileTraining: 1,
	ProfileEasy:     10,
	ProfileMedium:   5,
	ProfileHard:     1,
}

// StrengthDeltas maps coach-hint strength tiers to delta values.
type StrengthDeltas struct {
	Light  float64 `json:"light" yaml:"light"`
	Medium float64 `json:"medium" yaml:"medium"`
	Strong float64 `json:"strong" yaml:"strong"`
}

// ComboBonus is the escalation reduction granted when several metrics improve at once.
type ComboBonus struct {
	Two     float64 `json:"two" yaml:"two"`
	Three   float64 `json:"three" yaml:"three"`
	ApplyTo Metric  `json:"applyTo" yaml:"applyTo"`
}

// Range is an inclusive [Min, Max] bound.
type Range struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

// Clamp restricts v to the range.
func (r Range) Clamp(v float64) float64 {
	return clamp(v, r.Min, r.Max)
}

// FollowThrough credits a trainee for keeping a promise from the previous turn.
type FollowThrough struct {
	Enabled    bool    `json:"enabled" yaml:"enabled"`
	Clarity    float64 `json:"clarity" yaml:"clarity"`
	Escalation float64 `json:"escalation" yaml:"escalation"`
}

// RubricConfig is the fully resolved scoring configuration for one evaluation.
// Treat it as immutable for the duration of a call.
type RubricConfig struct {
	Profile        Profile        `json:"profile" yaml:"profile"`
	StrengthDeltas StrengthDeltas `json:"strengthDeltas" yaml:"strengthDeltas"`
	ComboBonus     ComboBonus     `json:"comboBonus" yaml:"comboBonus"`
	PerTurnClamp   Range          `json:"perTurnClamp" yaml:"perTurnClamp"`
	FollowThrough  FollowThrough  `json:"followThrough" yaml:"followThrough"`
}

// RubricOverrides is a partial RubricConfig. Nil fields are inherited; each
// nested group merges field by field. Profile replaces the profile label that
// drives scaling and training adjustments but does not re-select the preset.
type RubricOverrides struct {
	Profile        *Profile                `json:"profile,omitempty" yaml:"profile,omitempty"`
	StrengthDeltas *StrengthDeltasOverride `json:"strengthDeltas,omitempty" yaml:"strengthDeltas,omitempty"`
	ComboBonus     *ComboBonusOverride     `json:"comboBonus,omitempty" yaml:"comboBonus,omitempty"`
	PerTurnClamp   *RangeOverride          `json:"perTurnClamp,omitempty" yaml:"perTurnClamp,omitempty"`
	FollowThrough  *FollowThroughOverride  `json:"followThrough,omitempty" yaml:"followThrough,omitempty"`
}

type StrengthDeltasOverride struct {
	Light  *float64 `json:"light,omitempty" yaml:"light,omitempty"`
	Medium *float64 `json:"medium,omitempty" yaml:"medium,omitempty"`
	Strong *float64 `json:"strong,omitempty" yaml:"strong,omitempty"`
}

type ComboBonusOverride struct {
	Two     *float64 `json:"two,omitempty" yaml:"two,omitempty"`
	Three   *float64 `json:"three,omitempty" yaml:"three,omitempty"`
	ApplyTo *Metric  `json:"applyTo,omitempty" yaml:"applyTo,omitempty"`
}

type RangeOverride struct {
	Min *float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Max *float64 `json:"max,omitempty" yaml:"max,omitempty"`
}

type FollowThroughOverride struct {
	Enabled    *bool    `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Clarity    *float64 `json:"clarity,omitempty" yaml:"clarity,omitempty"`
	Escalation *float64 `json:"escalation,omitempty" yaml:"escalation,omitempty"`
}

// Float returns a pointer to v, for building overrides inline.
func Float(v float64) *float64 { return &v }

// Bool returns a pointer to v, for building overrides inline.
func Bool(v bool) *bool { return &v }

// baselineRubric is the starting point of every resolution.
func baselineRubric() RubricConfig {
	return RubricConfig{
		Profile:        ProfileStrict,
		StrengthDeltas: StrengthDeltas{Light: 1, Medium: 2, Strong: 3},
		ComboBonus:     ComboBonus{Two: 1, Three: 2, ApplyTo: MetricEscalation},
		PerTurnClamp:   Range{Min: -5, Max: 5},
		FollowThrough:  FollowThrough{Enabled: false, Clarity: 1, Escalation: 1},
	}
}

// profilePreset returns the partial preset for a profile.
func profilePreset(p Profile) *RubricOverrides {
	switch p {
	case ProfileTraining:
		return &RubricOverrides{
			PerTurnClamp:  &RangeOverride{Min: Float(-3), Max: Float(3)},
			FollowThrough: &FollowThroughOverride{Enabled: Bool(true), Clarity: Float(1), Escalation: Float(1)},
		}
	case ProfileEasy:
		return &RubricOverrides{PerTurnClamp: &RangeOverride{Min: Float(-50), Max: Float(50)}}
	case ProfileMedium:
		return &RubricOverrides{PerTurnClamp: &RangeOverride{Min: Float(-25), Max: Float(25)}}
	case ProfileHard:
		return &RubricOverrides{PerTurnClamp: &RangeOverride{Min: Float(-5), Max: Float(5)}}
	}
	return nil
}

// ResolveProfile maps a profile name to a Profile. Anything unrecognized is strict.
func ResolveProfile(name string) Profile {
	switch p := Profile(name); p {
	case ProfileTraining, ProfileEasy, ProfileMedium, ProfileHard:
		return p
	}
	return ProfileStrict
}

// EnvProfile returns the process-level default profile name, if any.
func EnvProfile() string {
	if v, ok := os.LookupEnv("SCORING_PROFILE"); ok {
		return v
	}
	return os.Getenv("NEXT_PUBLIC_SCORING_PROFILE")
}

// ResolveRubric merges the baseline, the active profile's preset and the caller
// overrides into one complete RubricConfig. The active profile is profileOverride
// when non-empty, else the environment default, else strict. It never fails.
func ResolveRubric(overrides *RubricOverrides, profileOverride Profile) RubricConfig {
	name := string(profileOverride)
	if name == "" {
		name = EnvProfile()
	}
	profile := ResolveProfile(name)

	cfg := baselineRubric()
	cfg.Profile = profile
	cfg = mergeRubric(cfg, profilePreset(profile))
	return mergeRubric(cfg, overrides)
}

func mergeRubric(base RubricConfig, o *RubricOverrides) RubricConfig {
	if o == nil {
		return base
	}
	if o.Profile != nil {
		base.Profile = ResolveProfile(string(*o.Profile))
	}
	if s := o.StrengthDeltas; s != nil {
		setFloat(&base.StrengthDeltas.Light, s.Light)
		setFloat(&base.StrengthDeltas.Medium, s.Medium)
		setFloat(&base.StrengthDeltas.Strong, s.Strong)
	}
	if c := o.ComboBonus; c != nil {
		setFloat(&base.ComboBonus.Two, c.Two)
		setFloat(&base.ComboBonus.Three, c.Three)
		if c.ApplyTo != nil {
			base.ComboBonus.ApplyTo = *c.ApplyTo
		}
	}
	if r := o.PerTurnClamp; r != nil {
		setFloat(&base.PerTurnClamp.Min, r.Min)
		setFloat(&base.PerTurnClamp.Max, r.Max)
	}
	if f := o.FollowThrough; f != nil {
		if f.Enabled != nil {
			base.FollowThrough.Enabled = *f.Enabled
		}
		setFloat(&base.FollowThrough.Clarity, f.Clarity)
		setFloat(&base.FollowThrough.Escalation, f.Escalation)
	}
	return base
}

func setFloat(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}

// MergeOverrides layers next over current with the same per-field precedence
// ResolveRubric uses. Neither argument is modified.
func MergeOverrides(current, next *RubricOverrides) *RubricOverrides {
	if current == nil && next == nil {
		return nil
	}
	out := &RubricOverrides{}
	for _, o := range []*RubricOverrides{current, next} {
		if o == nil {
			continue
		}
		pick(&out.Profile, o.Profile)
		if s := o.StrengthDeltas; s != nil {
			if out.StrengthDeltas == nil {
				out.StrengthDeltas = &StrengthDeltasOverride{}
			}
			pick(&out.StrengthDeltas.Light, s.Light)
			pick(&out.StrengthDeltas.Medium, s.Medium)
			pick(&out.StrengthDeltas.Strong, s.Strong)
		}
		if c := o.ComboBonus; c != nil {
			if out.ComboBonus == nil {
				out.ComboBonus = &ComboBonusOverride{}
			}
			pick(&out.ComboBonus.Two, c.Two)
			pick(&out.ComboBonus.Three, c.Three)
			pick(&out.ComboBonus.ApplyTo, c.ApplyTo)
		}
		if r := o.PerTurnClamp; r != nil {
			if out.PerTurnClamp == nil {
				out.PerTurnClamp = &RangeOverride{}
			}
			pick(&out.PerTurnClamp.Min, r.Min)
			pick(&out.PerTurnClamp.Max, r.Max)
		}
		if f := o.FollowThrough; f != nil {
			if out.FollowThrough == nil {
				out.FollowThrough = &FollowThroughOverride{}
			}
			pick(&out.FollowThrough.Enabled, f.Enabled)
			pick(&out.FollowThrough.Clarity, f.Clarity)
			pick(&out.FollowThrough.Escalation, f.Escalation)
		}
	}
	return out
}

func pick[T any](dst **T, v *T) {
	if v != nil {
		c := *v
		*dst = &c
	}
}

// RubricFile is a versioned rubric definition stored on disk.
type RubricFile struct {
	Version   string          `yaml:"version"`
	Profile   Profile         `yaml:"profile,omitempty"`
	Overrides RubricOverrides `yaml:"overrides"`
}

// ParseRubricFile decodes a single YAML document, rejecting unknown fields.
func ParseRubricFile(data []byte) (RubricFile, error) {
	var rf RubricFile
	if err := decodeStrictYAML(data, &rf); err != nil {
		return RubricFile{}, fmt.Errorf("calmscore: parse rubric: %w", err)
	}
	if rf.Version == "" {
		return RubricFile{}, fmt.Errorf("calmscore: parse rubric: missing version")
	}
	return rf, nil
}

// LoadRubricFile reads and parses a rubric file.
func LoadRubricFile(path string) (RubricFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RubricFile{}, fmt.Errorf("calmscore: read rubric: %w", err)
	}
	return ParseRubricFile(data)
}

func decodeStrictYAML(data []byte, v any) error {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(v); err != nil {
		return err
	}
	var extra yaml.Node
	if err := decoder.Decode(&extra); err != io.EOF {
		if err == nil {
			return fmt.Errorf("multiple YAML documents are not supported")
		}
		return err
	}
	return nil
}
