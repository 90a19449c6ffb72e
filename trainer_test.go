package calmscore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// stubCounterpart is a CounterpartGenerator and SuggestionGenerator with canned output.
type stubCounterpart struct {
	mu          sync.Mutex
	line        string
	err         error
	suggestions []string
	suggestErr  error
	prompts     []RuntimePrompt
	requests    []SuggestionRequest
}

func (s *stubCounterpart) Generate(ctx context.Context, systemPrompt string, prompt RuntimePrompt) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, prompt)
	return s.line, s.err
}

func (s *stubCounterpart) Model() string { return "stub-model" }

func (s *stubCounterpart) Suggest(ctx context.Context, req SuggestionRequest) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	return s.suggestions, s.suggestErr
}

// onlyCounterpart hides the Suggest method of a stub.
type onlyCounterpart struct{ CounterpartGenerator }

func testTrainer(t *testing.T, cfg Config) *Trainer {
	t.Helper()
	t.Setenv("SCORING_PROFILE", "")
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(t.TempDir(), "trainer.db")
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = -1
	}
	tr, err := Init(cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { tr.Close() })
	return tr
}

func startSession(t *testing.T, tr *Trainer, p Profile) Session {
	t.Helper()
	sess, err := tr.StartSession(context.Background(), StartSessionOptions{ScenarioID: "ed-long-wait", Profile: p})
	if err != nil {
		t.Fatal(err)
	}
	return sess
}

func TestSubmitTurn(t *testing.T) {
	tr := testTrainer(t, Config{})
	sess := startSession(t, tr, "")

	out, err := tr.SubmitTurn(context.Background(), SubmitTurnOptions{
		SessionID: sess.ID,
		Content:   "I understand this is frustrating, please give me a moment",
	})
	if err != nil {
		t.Fatal(err)
	}
	if want := (TurnDeltas{Empathy: 3, Escalation: -1}); out.Result.Deltas != want {
		t.Errorf("deltas = %+v, want %+v", out.Result.Deltas, want)
	}
	if want := (SessionMetrics{Empathy: 53, Clarity: 50, Boundary: 50, Escalation: 1}); out.Metrics != want {
		t.Errorf("metrics = %+v, want %+v", out.Metrics, want)
	}
	if out.Coach.Category != CoachEmpathy || out.CoachTurn.Role != RoleCoach {
		t.Errorf("coach = %+v, turn %+v", out.Coach, out.CoachTurn)
	}

	turns, _ := tr.Store().ListTurns(sess.ID)
	if len(turns) != 2 || turns[0].Role != RoleUser || turns[1].CoachCategory != string(CoachEmpathy) {
		t.Errorf("turns = %+v", turns)
	}
	records, _ := tr.Store().ListTurnMetrics(sess.ID)
	if len(records) != 1 || records[0].TurnID != out.Turn.ID {
		t.Errorf("turn metrics = %+v", records)
	}
	got, _ := tr.Store().GetSession(sess.ID)
	if got.TurnCount != 1 {
		t.Errorf("turn count = %d", got.TurnCount)
	}
}

func TestSubmitTurnFollowThroughAcrossTurns(t *testing.T) {
	tr := testTrainer(t, Config{})
	sess := startSession(t, tr, ProfileTraining)
	ctx := context.Background()

	first, err := tr.SubmitTurn(ctx, SubmitTurnOptions{SessionID: sess.ID, Content: "I'll be back in 5 minutes."})
	if err != nil {
		t.Fatal(err)
	}
	if first.Result.Deltas != (TurnDeltas{Clarity: 1}) {
		t.Errorf("first deltas = %+v", first.Result.Deltas)
	}

	second, err := tr.SubmitTurn(ctx, SubmitTurnOptions{SessionID: sess.ID, Content: "I'm back, as promised."})
	if err != nil {
		t.Fatal(err)
	}
	if want := (TurnDeltas{Clarity: 1, Escalation: -1}); second.Result.Deltas != want {
		t.Errorf("second deltas = %+v, want %+v", second.Result.Deltas, want)
	}
	if want := (SessionMetrics{Empathy: 50, Clarity: 52, Boundary: 50, Escalation: 1}); second.Metrics != want {
		t.Errorf("metrics = %+v, want %+v", second.Metrics, want)
	}
}

func TestSubmitTurnCoachHint(t *testing.T) {
	tr := testTrainer(t, Config{})
	sess := startSession(t, tr, ProfileTraining)

	out, err := tr.SubmitTurn(context.Background(), SubmitTurnOptions{
		SessionID: sess.ID,
		Content:   "I understand",
		CoachHint: &CoachHint{Metric: HintEmpathy, Strength: 3},
	})
	if err != nil {
		t.Fatal(err)
	}
	if out.Result.Deltas.Empathy != 3 {
		t.Errorf("hinted empathy = %v, want 3", out.Result.Deltas.Empathy)
	}
}

func TestSubmitTurnConcurrent(t *testing.T) {
	tr := testTrainer(t, Config{})
	sess := startSession(t, tr, "")

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// courtesy +1 empathy, calming -1 escalation
			_, err := tr.SubmitTurn(context.Background(), SubmitTurnOptions{SessionID: sess.ID, Content: "please"})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatal(err)
		}
	}

	m, err := tr.Metrics(sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if m.Empathy != 50+n || m.Escalation != 0 {
		t.Errorf("lost updates: metrics = %+v", m)
	}
	got, _ := tr.Store().GetSession(sess.ID)
	if got.TurnCount != n {
		t.Errorf("turn count = %d, want %d", got.TurnCount, n)
	}
}

func TestSubmitTurnErrors(t *testing.T) {
	tr := testTrainer(t, Config{})
	ctx := context.Background()

	if _, err := tr.SubmitTurn(ctx, SubmitTurnOptions{SessionID: "nope", Content: "hi"}); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
	if _, err := tr.StartSession(ctx, StartSessionOptions{ScenarioID: "nope"}); !errors.Is(err, ErrScenarioNotFound) {
		t.Errorf("expected ErrScenarioNotFound, got %v", err)
	}

	sess := startSession(t, tr, "")
	if _, err := tr.EndSession(ctx, sess.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := tr.SubmitTurn(ctx, SubmitTurnOptions{SessionID: sess.ID, Content: "hi"}); !errors.Is(err, ErrSessionEnded) {
		t.Errorf("expected ErrSessionEnded, got %v", err)
	}
	if _, err := tr.Respond(ctx, RespondOptions{SessionID: sess.ID}); !errors.Is(err, ErrSessionEnded) {
		t.Errorf("expected ErrSessionEnded, got %v", err)
	}
}

func TestFailedCallsDoNotRetainLocks(t *testing.T) {
	tr := testTrainer(t, Config{})
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		id := fmt.Sprintf("nope-%d", i)
		if _, err := tr.SubmitTurn(ctx, SubmitTurnOptions{SessionID: id, Content: "hi"}); !errors.Is(err, ErrSessionNotFound) {
			t.Fatalf("submit %s: %v", id, err)
		}
		if _, err := tr.Respond(ctx, RespondOptions{SessionID: id}); !errors.Is(err, ErrSessionNotFound) {
			t.Fatalf("respond %s: %v", id, err)
		}
		if _, err := tr.EndSession(ctx, id); !errors.Is(err, ErrSessionNotFound) {
			t.Fatalf("end %s: %v", id, err)
		}
	}

	sess := startSession(t, tr, "")
	if _, err := tr.SubmitTurn(ctx, SubmitTurnOptions{SessionID: sess.ID, Content: "hi"}); err != nil {
		t.Fatal(err)
	}
	if _, err := tr.EndSession(ctx, sess.ID); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		if _, err := tr.SubmitTurn(ctx, SubmitTurnOptions{SessionID: sess.ID, Content: "hi"}); !errors.Is(err, ErrSessionEnded) {
			t.Fatalf("submit after end: %v", err)
		}
	}

	tr.mu.Lock()
	n := len(tr.sessionMu)
	tr.mu.Unlock()
	if n != 0 {
		t.Errorf("%d session locks retained, want 0", n)
	}
}

func TestRespond(t *testing.T) {
	stub := &stubCounterpart{line: "Four hours! Four!"}
	tr := testTrainer(t, Config{Counterpart: stub})
	sess := startSession(t, tr, "")
	ctx := context.Background()

	if _, err := tr.SubmitTurn(ctx, SubmitTurnOptions{SessionID: sess.ID, Content: "STOP THIS NOW"}); err != nil {
		t.Fatal(err)
	}
	turn, err := tr.Respond(ctx, RespondOptions{SessionID: sess.ID})
	if err != nil {
		t.Fatal(err)
	}
	if turn.Content != "Four hours! Four!" || turn.Source != SourceAI || turn.Model != "stub-model" {
		t.Errorf("turn = %+v", turn)
	}
	if turn.PromptHash != PromptHash(DefaultSystemPrompt) {
		t.Errorf("prompt hash = %q", turn.PromptHash)
	}

	if len(stub.prompts) != 1 {
		t.Fatalf("expected one prompt, got %d", len(stub.prompts))
	}
	p := stub.prompts[0]
	if p.State.EscalationLevel != 3 {
		t.Errorf("escalation level = %d, want 3", p.State.EscalationLevel)
	}
	// coach turns stay out of the counterpart's view
	if len(p.Conversation.RecentTurns) != 1 || p.Conversation.RecentTurns[0].Role != RoleUser {
		t.Errorf("recent turns = %+v", p.Conversation.RecentTurns)
	}

	level := 5.0
	if _, err := tr.Respond(ctx, RespondOptions{SessionID: sess.ID, EscalationOverride: &level}); err != nil {
		t.Fatal(err)
	}
	if got := stub.prompts[1].State.EscalationLevel; got != 5 {
		t.Errorf("override escalation = %d, want 5", got)
	}
	if got := stub.prompts[1].Conversation.RecentTurns; len(got) != 2 || got[1].Role != RolePatient {
		t.Errorf("recent turns after reply = %+v", got)
	}
}

func TestRespondFallbacks(t *testing.T) {
	ctx := context.Background()

	offline := testTrainer(t, Config{})
	sess := startSession(t, offline, "")
	turn, err := offline.Respond(ctx, RespondOptions{SessionID: sess.ID})
	if err != nil {
		t.Fatal(err)
	}
	if turn.Content != OfflinePatientLine || turn.Source != SourceHeuristic {
		t.Errorf("no generator: %+v", turn)
	}

	failing := testTrainer(t, Config{Counterpart: &stubCounterpart{err: errors.New("boom")}})
	sess = startSession(t, failing, "")
	turn, err = failing.Respond(ctx, RespondOptions{SessionID: sess.ID})
	if err != nil {
		t.Fatal(err)
	}
	if turn.Content != OfflinePatientLine || turn.Source != SourceRepaired || turn.Model != "stub-model" {
		t.Errorf("failing generator: %+v", turn)
	}
}

func TestCoachMe(t *testing.T) {
	ctx := context.Background()

	stub := &stubCounterpart{suggestions: []string{"one", "two", "three"}}
	tr := testTrainer(t, Config{Counterpart: stub})
	sess := startSession(t, tr, "")
	if _, err := tr.SubmitTurn(ctx, SubmitTurnOptions{SessionID: sess.ID, Content: "Please wait."}); err != nil {
		t.Fatal(err)
	}

	got, err := tr.CoachMe(ctx, CoachMeOptions{SessionID: sess.ID, Metric: SuggestClarity, Variability: "high"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 || got[0].Phrase != "one" || got[2].ID != "strong" {
		t.Errorf("suggestions = %+v", got)
	}
	req := stub.requests[0]
	if req.Metric != SuggestClarity || req.Strength != 1 || req.Variability != "high" {
		t.Errorf("request = %+v", req)
	}
	if len(req.AvoidPhrases) != 1 || req.AvoidPhrases[0] != "Please wait." {
		t.Errorf("avoid phrases = %v", req.AvoidPhrases)
	}
	if len(req.RecentDeltas) != 1 || req.Scenario.ID != "ed-long-wait" {
		t.Errorf("recent deltas = %v scenario %q", req.RecentDeltas, req.Scenario.ID)
	}

	stub.suggestErr = errors.New("rate limited")
	got, err = tr.CoachMe(ctx, CoachMeOptions{SessionID: sess.ID, Metric: SuggestBoundaries})
	if err != nil {
		t.Fatal(err)
	}
	if got[1].Phrase != fallbackPhrases[SuggestBoundaries][1] {
		t.Errorf("expected fallback phrases, got %+v", got)
	}

	plain := testTrainer(t, Config{Counterpart: onlyCounterpart{&stubCounterpart{line: "x"}}})
	sess = startSession(t, plain, "")
	got, err = plain.CoachMe(ctx, CoachMeOptions{SessionID: sess.ID, Metric: SuggestEmpathy})
	if err != nil {
		t.Fatal(err)
	}
	if got[0].Phrase != fallbackPhrases[SuggestEmpathy][0] {
		t.Errorf("no suggester should use fallback, got %+v", got)
	}
}

func TestEndSessionReport(t *testing.T) {
	tr := testTrainer(t, Config{})
	sess := startSession(t, tr, ProfileEasy)
	ctx := context.Background()

	// easy scales ×10: empathy +30, escalation -10 (clamped to 0 in the session)
	if _, err := tr.SubmitTurn(ctx, SubmitTurnOptions{SessionID: sess.ID, Content: "I understand this is frustrating, please give me a moment"}); err != nil {
		t.Fatal(err)
	}
	rep, err := tr.EndSession(ctx, sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Metrics != (SessionMetrics{Empathy: 80, Clarity: 50, Boundary: 50, Escalation: 0}) {
		t.Errorf("metrics = %+v", rep.Metrics)
	}
	if rep.Readiness != ReadinessReady {
		t.Errorf("readiness = %s", rep.Readiness)
	}
	if rep.Session.Outcome != OutcomeCompleted || rep.Session.EndedAt == nil {
		t.Errorf("session = %+v", rep.Session)
	}
	if !strings.HasPrefix(rep.Session.Summary, "Ready after 1 turns.") || !strings.Contains(rep.Session.Summary, "Primary coaching focus: Empathy.") {
		t.Errorf("summary = %q", rep.Session.Summary)
	}
	if rep.Coaching.PrimaryFocus != string(CoachEmpathy) || len(rep.Coaching.TopRewrites) != 1 {
		t.Errorf("coaching = %+v", rep.Coaching)
	}

	if _, err := tr.EndSession(ctx, sess.ID); !errors.Is(err, ErrSessionEnded) {
		t.Errorf("second end: expected ErrSessionEnded, got %v", err)
	}
	again, err := tr.Report(sess.ID)
	if err != nil || again.Readiness != ReadinessReady {
		t.Errorf("report after end = %+v, %v", again, err)
	}
}

func TestSweepIdle(t *testing.T) {
	tr := testTrainer(t, Config{IdleTimeout: 2 * time.Hour})
	idle := startSession(t, tr, "")
	done := startSession(t, tr, "")
	if _, err := tr.EndSession(context.Background(), done.ID); err != nil {
		t.Fatal(err)
	}

	n, err := tr.SweepIdle(time.Now())
	if err != nil || n != 0 {
		t.Errorf("fresh sessions should not be swept: n=%d err=%v", n, err)
	}

	n, err = tr.SweepIdle(time.Now().Add(3 * time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("swept %d sessions, want 1", n)
	}
	got, _ := tr.Store().GetSession(idle.ID)
	if got.Outcome != OutcomeAbandoned || got.EndedAt == nil {
		t.Errorf("idle session = %+v", got)
	}
	kept, _ := tr.Store().GetSession(done.ID)
	if kept.Outcome != OutcomeCompleted {
		t.Errorf("completed session changed to %s", kept.Outcome)
	}
}

func TestInitFromFiles(t *testing.T) {
	dir := t.TempDir()
	write := func(name, data string) string {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
			t.Fatal(err)
		}
		return path
	}

	tr := testTrainer(t, Config{
		RubricFile:    write("rubric.yaml", "version: \"1\"\nprofile: hard\noverrides:\n  perTurnClamp:\n    max: 2\n"),
		TablesFile:    write("tables.yaml", "version: \"clinic\"\nempathy:\n  phrases:\n    courtesy: [kindly]\n"),
		ScenariosFile: write("scenarios.yaml", "version: \"1\"\nscenarios:\n  - {id: ed-long-wait, title: Custom wait}\n  - {id: icu-night, title: ICU at night}\n"),
	})

	if cfg := tr.Rubric(""); cfg.Profile != ProfileHard || cfg.PerTurnClamp.Max != 2 {
		t.Errorf("rubric = %+v", cfg)
	}
	if tr.Rules().Tables().Version != "clinic" {
		t.Errorf("tables version = %q", tr.Rules().Tables().Version)
	}
	if d := tr.Score("kindly", "", nil, "").Deltas; d.Empathy != 1 {
		t.Errorf("custom courtesy phrase: %+v", d)
	}
	list, err := tr.Store().ListScenarios()
	if err != nil || len(list) != 2 {
		t.Errorf("scenarios = %+v, %v", list, err)
	}

	if _, err := Init(Config{DBPath: filepath.Join(dir, "x.db"), RubricFile: filepath.Join(dir, "missing.yaml")}); err == nil {
		t.Error("expected error for missing rubric file")
	}
}
