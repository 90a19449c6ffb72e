package calmscore

// Scorer bundles the compiled phrase tables with the configured rubric
// overrides. It holds no database and is safe for concurrent use.
type Scorer struct {
	rules     *Ruleset
	overrides *RubricOverrides
	profile   Profile
}

// NewScorer loads the tables and rubric files named in cfg. Overrides in
// cfg take precedence over the rubric file, and a profile in cfg over the
// file's profile.
func NewScorer(cfg Config) (*Scorer, error) {
	rules := DefaultRuleset()
	if cfg.TablesFile != "" {
		var err error
		if rules, err = LoadTables(cfg.TablesFile); err != nil {
			return nil, err
		}
	}

	overrides := cfg.Overrides
	profile := cfg.Profile
	if cfg.RubricFile != "" {
		rf, err := LoadRubricFile(cfg.RubricFile)
		if err != nil {
			return nil, err
		}
		overrides = MergeOverrides(&rf.Overrides, cfg.Overrides)
		if profile == "" {
			profile = rf.Profile
		}
	}
	return &Scorer{rules: rules, overrides: overrides, profile: profile}, nil
}

// Rules returns the compiled phrase tables in use.
func (s *Scorer) Rules() *Ruleset { return s.rules }

// Rubric resolves the effective rubric for a profile. Empty means the
// configured default.
func (s *Scorer) Rubric(profile Profile) RubricConfig {
	if profile == "" {
		profile = s.profile
	}
	return ResolveRubric(s.overrides, profile)
}

// Score evaluates one utterance under the given profile.
func (s *Scorer) Score(text string, profile Profile, hint *CoachHint, previous string) TurnResult {
	rubric := s.Rubric(profile)
	return ComputeTurnMetrics(text, TurnOptions{
		Rubric:           &rubric,
		Rules:            s.rules,
		CoachHint:        hint,
		PreviousUserText: previous,
	})
}

// Apply folds deltas into current using the tables' session bounds.
func (s *Scorer) Apply(current SessionMetrics, deltas TurnDeltas) SessionMetrics {
	return ApplySessionMetricDeltasWithin(current, deltas, s.rules.tables.SessionClamps)
}
