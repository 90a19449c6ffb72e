package calmscore

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
)

// ErrNoGenerator is reported when a model-backed step has no generator configured.
var ErrNoGenerator = errors.New("calmscore: no generator configured")

// OfflinePatientLine stands in for the counterpart when no line could be generated.
const OfflinePatientLine = "(Patient response unavailable - AI offline.)"

// Trainer runs de-escalation training sessions: it scores trainee turns,
// accumulates session metrics, voices the counterpart and produces coaching.
type Trainer struct {
	*Scorer

	store        *Store
	counterpart  CounterpartGenerator
	suggester    SuggestionGenerator
	systemPrompt string
	promptHash   string
	config       Config

	mu          sync.Mutex
	sessionMu   map[string]*sync.Mutex
	cancelSweep context.CancelFunc
}

// Init creates a Trainer, runs DB migrations, seeds the scenario catalog and
// starts the idle-session sweeper.
func Init(cfg Config) (*Trainer, error) {
	cfg.ApplyDefaults()

	scorer, err := NewScorer(cfg)
	if err != nil {
		return nil, err
	}

	scenarios := DefaultScenarios()
	if cfg.ScenariosFile != "" {
		if scenarios, err = LoadScenarios(cfg.ScenariosFile); err != nil {
			return nil, err
		}
	}

	store, err := NewStore(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	for _, sc := range scenarios {
		if err := store.UpsertScenario(sc); err != nil {
			store.Close()
			return nil, fmt.Errorf("calmscore: seed scenario %s: %w", sc.ID, err)
		}
	}

	// Resolve generators: explicit config, else OpenAI when a key is present
	counterpart := cfg.Counterpart
	if counterpart == nil && cfg.OpenAIAPIKey != "" {
		counterpart = NewOpenAICounterpart(cfg.OpenAIAPIKey,
			WithOpenAIModel(cfg.CounterpartModel),
			WithOpenAITemperature(cfg.Temperature),
		)
	}
	suggester, _ := counterpart.(SuggestionGenerator)

	systemPrompt := cfg.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = DefaultSystemPrompt
	}

	t := &Trainer{
		Scorer:       scorer,
		store:        store,
		counterpart:  counterpart,
		suggester:    suggester,
		systemPrompt: systemPrompt,
		promptHash:   PromptHash(systemPrompt),
		config:       cfg,
		sessionMu:    make(map[string]*sync.Mutex),
	}

	if cfg.SweepInterval > 0 {
		t.startSweepWorker(cfg.SweepInterval)
	}

	log.Printf("[calmscore] Initialized (db=%s, profile=%s, scenarios=%d, counterpart=%t)",
		cfg.DBPath, t.Rubric("").Profile, len(scenarios), counterpart != nil)
	return t, nil
}

// Store exposes the underlying store for inspection tools.
func (t *Trainer) Store() *Store { return t.store }

// lockSession serializes read-modify-write work on one session.
func (t *Trainer) lockSession(id string) func() {
	t.mu.Lock()
	m, ok := t.sessionMu[id]
	if !ok {
		m = &sync.Mutex{}
		t.sessionMu[id] = m
	}
	t.mu.Unlock()
	m.Lock()
	return m.Unlock
}

// acquireSession locks an open session and returns it with its unlock func.
// Unknown or ended sessions fail before a lock is ever allocated for them.
func (t *Trainer) acquireSession(id string) (Session, func(), error) {
	if _, err := t.openSession(id); err != nil {
		return Session{}, nil, err
	}
	unlock := t.lockSession(id)
	sess, err := t.openSession(id)
	if err != nil {
		// Ended while we waited.
		unlock()
		t.forgetSession(id)
		return Session{}, nil, err
	}
	return sess, unlock, nil
}

func (t *Trainer) forgetSession(id string) {
	t.mu.Lock()
	delete(t.sessionMu, id)
	t.mu.Unlock()
}

// --- Sessions ---

// StartSessionOptions configures a new session.
type StartSessionOptions struct {
	ScenarioID string
	AnonID     string
	Profile    Profile // empty uses the trainer default
}

// StartSession opens a session against a catalog scenario.
func (t *Trainer) StartSession(ctx context.Context, opts StartSessionOptions) (Session, error) {
	sc, err := t.store.GetScenario(opts.ScenarioID)
	if err != nil {
		return Session{}, err
	}
	sess, err := t.store.CreateSession(Session{
		ScenarioID:   sc.ID,
		ScenarioType: sc.Type,
		AnonID:       opts.AnonID,
		Profile:      opts.Profile,
	})
	if err != nil {
		return Session{}, fmt.Errorf("calmscore: start session: %w", err)
	}
	log.Printf("[calmscore] Started session %s (scenario=%s, profile=%s)", sess.ID, sc.ID, t.Rubric(sess.Profile).Profile)
	return sess, nil
}

// SubmitTurnOptions is one trainee utterance.
type SubmitTurnOptions struct {
	SessionID string
	Content   string
	CoachHint *CoachHint // set when the trainee used a coach-me suggestion
}

// TurnOutcome is everything produced by scoring a trainee turn.
type TurnOutcome struct {
	Turn      Turn           `json:"turn"`
	Result    TurnResult     `json:"result"`
	Metrics   SessionMetrics `json:"metrics"`
	Coach     CoachResponse  `json:"coach"`
	CoachTurn Turn           `json:"coach_turn"`
}

// SubmitTurn stores a trainee turn, scores it against the session's rubric,
// folds the deltas into the session metrics and records coach feedback.
func (t *Trainer) SubmitTurn(ctx context.Context, opts SubmitTurnOptions) (TurnOutcome, error) {
	sess, unlock, err := t.acquireSession(opts.SessionID)
	if err != nil {
		return TurnOutcome{}, err
	}
	defer unlock()

	// 1. Previous user text for follow-through
	var previous string
	if prev, ok, err := t.store.LastUserTurn(sess.ID, ""); err != nil {
		return TurnOutcome{}, fmt.Errorf("calmscore: load previous turn: %w", err)
	} else if ok {
		previous = prev.Content
	}

	// 2. Score
	result := t.Score(opts.Content, sess.Profile, opts.CoachHint, previous)

	// 3. Store the turn, its deltas and the new session state together
	turn, metrics, err := t.store.RecordScoredTurn(Turn{
		SessionID: sess.ID,
		Role:      RoleUser,
		Content:   opts.Content,
		Source:    SourceUser,
	}, result, t.rules.tables.SessionClamps)
	if err != nil {
		return TurnOutcome{}, fmt.Errorf("calmscore: record turn: %w", err)
	}

	// 4. Coach feedback
	coach := BuildCoachResponse(result.Deltas, result.Reasons, sess.TurnCount+1)
	coachTurn, err := t.store.InsertTurn(Turn{
		SessionID:     sess.ID,
		Role:          RoleCoach,
		Content:       coach.Content,
		Source:        SourceHeuristic,
		CoachCategory: string(coach.Category),
		CoachTip:      coach.Tip,
		CoachRewrite:  coach.Rewrite,
	})
	if err != nil {
		log.Printf("[calmscore] Insert coach turn failed: %v", err)
	}

	return TurnOutcome{
		Turn:      turn,
		Result:    result,
		Metrics:   metrics,
		Coach:     coach,
		CoachTurn: coachTurn,
	}, nil
}

func (t *Trainer) openSession(id string) (Session, error) {
	sess, err := t.store.GetSession(id)
	if err != nil {
		return Session{}, err
	}
	if sess.EndedAt != nil {
		return Session{}, ErrSessionEnded
	}
	return sess, nil
}

// Metrics returns a session's accumulated metrics.
func (t *Trainer) Metrics(sessionID string) (SessionMetrics, error) {
	return t.store.GetSessionMetrics(sessionID)
}

// --- Counterpart ---

// RespondOptions tunes a counterpart turn.
type RespondOptions struct {
	SessionID          string
	EscalationOverride *float64 // replays a level instead of the session's
}

// Respond generates and stores the counterpart's next line. Generation
// failures degrade to a placeholder line rather than an error.
func (t *Trainer) Respond(ctx context.Context, opts RespondOptions) (Turn, error) {
	sess, unlock, err := t.acquireSession(opts.SessionID)
	if err != nil {
		return Turn{}, err
	}
	defer unlock()
	prompt, err := t.runtimePrompt(sess, opts.EscalationOverride)
	if err != nil {
		return Turn{}, err
	}

	line, source, model := t.generateLine(ctx, prompt)
	turn, err := t.store.InsertTurn(Turn{
		SessionID:  sess.ID,
		Role:       RolePatient,
		Content:    line,
		Source:     source,
		Model:      model,
		PromptHash: t.promptHash,
	})
	if err != nil {
		return Turn{}, fmt.Errorf("calmscore: insert counterpart turn: %w", err)
	}
	log.Printf("[calmscore] Counterpart turn session=%s source=%s model=%s prompt=%s",
		sess.ID, source, model, t.promptHash[:8])
	return turn, nil
}

// RuntimePrompt builds the counterpart prompt for a session without generating.
func (t *Trainer) RuntimePrompt(sessionID string) (RuntimePrompt, error) {
	sess, err := t.store.GetSession(sessionID)
	if err != nil {
		return RuntimePrompt{}, err
	}
	return t.runtimePrompt(sess, nil)
}

func (t *Trainer) runtimePrompt(sess Session, override *float64) (RuntimePrompt, error) {
	sc, err := t.store.GetScenario(sess.ScenarioID)
	if err != nil {
		return RuntimePrompt{}, err
	}
	turns, err := t.store.ListTurns(sess.ID)
	if err != nil {
		return RuntimePrompt{}, fmt.Errorf("calmscore: list turns: %w", err)
	}
	metrics, err := t.store.GetSessionMetrics(sess.ID)
	if err != nil {
		return RuntimePrompt{}, err
	}
	return BuildRuntimePrompt(PromptOptions{
		SessionID:          sess.ID,
		Scenario:           sc,
		Turns:              conversationTurns(turns),
		Metrics:            &metrics,
		TurnIndex:          sess.TurnCount,
		RecentTurnLimit:    t.config.RecentTurnLimit,
		EscalationOverride: override,
	}), nil
}

// generateLine asks the counterpart for a line. With no generator the line
// is a heuristic placeholder; a failing generator yields a repaired one.
func (t *Trainer) generateLine(ctx context.Context, prompt RuntimePrompt) (string, TurnSource, string) {
	if t.counterpart == nil {
		log.Printf("[calmscore] Counterpart skipped: %v", ErrNoGenerator)
		return OfflinePatientLine, SourceHeuristic, ""
	}
	line, err := t.counterpart.Generate(ctx, t.systemPrompt, prompt)
	if err != nil {
		log.Printf("[calmscore] Counterpart generation failed: %v", err)
		return OfflinePatientLine, SourceRepaired, t.counterpart.Model()
	}
	return line, SourceAI, t.counterpart.Model()
}

// conversationTurns drops coach and system turns; the counterpart only sees
// the dialogue.
func conversationTurns(turns []Turn) []Turn {
	out := make([]Turn, 0, len(turns))
	for _, tr := range turns {
		if tr.Role == RoleUser || tr.Role == RolePatient {
			out = append(out, tr)
		}
	}
	return out
}

// --- Coach me ---

// CoachMeOptions asks for phrase suggestions on one skill.
type CoachMeOptions struct {
	SessionID   string
	Metric      SuggestionMetric
	Strength    int
	Variability string // low, medium or high
}

// CoachMe returns three graded phrase suggestions for a skill, drafted by the
// suggestion generator when available and the fixed phrases otherwise.
func (t *Trainer) CoachMe(ctx context.Context, opts CoachMeOptions) ([]Suggestion, error) {
	sess, err := t.store.GetSession(opts.SessionID)
	if err != nil {
		return nil, err
	}
	metric := ParseSuggestionMetric(string(opts.Metric))
	if t.suggester == nil {
		return FallbackSuggestions(metric), nil
	}

	req, err := t.suggestionRequest(sess, metric, opts)
	if err != nil {
		return nil, err
	}
	phrases, err := t.suggester.Suggest(ctx, req)
	if err != nil {
		log.Printf("[calmscore] Coach-me generation failed, using fallback: %v", err)
		return FallbackSuggestions(metric), nil
	}
	return tierSuggestions(phrases), nil
}

func (t *Trainer) suggestionRequest(sess Session, metric SuggestionMetric, opts CoachMeOptions) (SuggestionRequest, error) {
	sc, err := t.store.GetScenario(sess.ScenarioID)
	if err != nil {
		return SuggestionRequest{}, err
	}
	turns, err := t.store.ListTurns(sess.ID)
	if err != nil {
		return SuggestionRequest{}, fmt.Errorf("calmscore: list turns: %w", err)
	}
	metrics, err := t.store.GetSessionMetrics(sess.ID)
	if err != nil {
		return SuggestionRequest{}, err
	}
	records, err := t.store.ListTurnMetrics(sess.ID)
	if err != nil {
		return SuggestionRequest{}, fmt.Errorf("calmscore: list turn metrics: %w", err)
	}

	req := SuggestionRequest{
		SessionID:    sess.ID,
		Metric:       metric,
		Strength:     opts.Strength,
		Variability:  opts.Variability,
		Scenario:     sc,
		Transcript:   []PromptTurn{},
		Metrics:      metrics,
		RecentDeltas: []TurnDeltas{},
		AvoidPhrases: []string{},
	}
	if req.Strength == 0 {
		req.Strength = 1
	}
	if req.Variability == "" {
		req.Variability = "medium"
	}
	var userPhrases []string
	for _, tr := range turns {
		req.Transcript = append(req.Transcript, PromptTurn{Role: tr.Role, Content: tr.Content})
		if tr.Role == RoleUser {
			if p := strings.TrimSpace(tr.Content); p != "" {
				userPhrases = append(userPhrases, p)
			}
		}
	}
	if len(userPhrases) > 6 {
		userPhrases = userPhrases[len(userPhrases)-6:]
	}
	req.AvoidPhrases = append(req.AvoidPhrases, userPhrases...)
	for i := len(records) - 1; i >= 0 && len(req.RecentDeltas) < 3; i-- {
		req.RecentDeltas = append(req.RecentDeltas, records[i].Deltas)
	}
	return req, nil
}

// --- Ending ---

// SessionReport is the end-of-session view of a trainee's performance.
type SessionReport struct {
	Session   Session        `json:"session"`
	Metrics   SessionMetrics `json:"metrics"`
	Readiness Readiness      `json:"readiness"`
	Coaching  CoachSummary   `json:"coaching"`
}

// EndSession completes a session and returns its report.
func (t *Trainer) EndSession(ctx context.Context, sessionID string) (SessionReport, error) {
	return t.finish(sessionID, OutcomeCompleted)
}

// Report returns a session's report without ending it.
func (t *Trainer) Report(sessionID string) (SessionReport, error) {
	sess, err := t.store.GetSession(sessionID)
	if err != nil {
		return SessionReport{}, err
	}
	return t.report(sess)
}

func (t *Trainer) finish(sessionID, outcome string) (SessionReport, error) {
	sess, unlock, err := t.acquireSession(sessionID)
	if err != nil {
		return SessionReport{}, err
	}
	defer unlock()
	rep, err := t.report(sess)
	if err != nil {
		return SessionReport{}, err
	}

	summary := fmt.Sprintf("%s after %d turns. Empathy %s, clarity %s, boundaries %s, escalation %s/5.",
		rep.Readiness, sess.TurnCount,
		trimFloat(rep.Metrics.Empathy), trimFloat(rep.Metrics.Clarity),
		trimFloat(rep.Metrics.Boundary), trimFloat(rep.Metrics.Escalation))
	if rep.Coaching.PrimaryFocus != "" {
		summary += " Primary coaching focus: " + rep.Coaching.PrimaryFocus + "."
	}

	rep.Session, err = t.store.EndSession(sessionID, outcome, summary)
	if err != nil {
		return SessionReport{}, fmt.Errorf("calmscore: end session: %w", err)
	}
	t.forgetSession(sessionID)
	log.Printf("[calmscore] Session %s ended: %s (%s)", sessionID, outcome, rep.Readiness)
	return rep, nil
}

func (t *Trainer) report(sess Session) (SessionReport, error) {
	metrics, err := t.store.GetSessionMetrics(sess.ID)
	if err != nil {
		return SessionReport{}, err
	}
	turns, err := t.store.ListTurns(sess.ID)
	if err != nil {
		return SessionReport{}, fmt.Errorf("calmscore: list turns: %w", err)
	}
	return SessionReport{
		Session:   sess,
		Metrics:   metrics,
		Readiness: AssessReadiness(metrics, t.rules.tables.Readiness),
		Coaching:  SummarizeCoaching(turns),
	}, nil
}

// Close stops the sweeper and closes the database.
func (t *Trainer) Close() error {
	if t.cancelSweep != nil {
		t.cancelSweep()
	}
	return t.store.Close()
}
