package calmscore

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

var (
	ErrSessionNotFound  = errors.New("calmscore: session not found")
	ErrSessionEnded     = errors.New("calmscore: session already ended")
	ErrScenarioNotFound = errors.New("calmscore: scenario not found")
)

const timeLayout = "2006-01-02 15:04:05"

// Store wraps a SQLite connection for training session persistence.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the SQLite database and runs migrations.
func NewStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("calmscore: mkdir %s: %w", filepath.Dir(path), err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("calmscore: open db: %w", err)
	}

	// Single connection serializes writers; ApplyDeltas relies on it.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("calmscore: migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return err
	}

	var version int
	if err := s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&version); err != nil {
		return err
	}

	if version < 1 {
		if _, err := s.db.Exec(`
			CREATE TABLE IF NOT EXISTS sessions (
				id            TEXT    PRIMARY KEY,
				scenario_id   TEXT    NOT NULL,
				scenario_type TEXT    NOT NULL DEFAULT '',
				anon_id       TEXT    NOT NULL DEFAULT '',
				profile       TEXT    NOT NULL DEFAULT '',
				outcome       TEXT    NOT NULL DEFAULT 'In Progress',
				summary       TEXT    NOT NULL DEFAULT '',
				turn_count    INTEGER NOT NULL DEFAULT 0,
				started_at    TEXT    NOT NULL DEFAULT (datetime('now')),
				updated_at    TEXT    NOT NULL DEFAULT (datetime('now')),
				ended_at      TEXT
			);
			CREATE INDEX IF NOT EXISTS idx_sessions_outcome ON sessions(outcome, updated_at);

			CREATE TABLE IF NOT EXISTS turns (
				id             TEXT PRIMARY KEY,
				session_id     TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
				role           TEXT NOT NULL,
				content        TEXT NOT NULL,
				source         TEXT NOT NULL DEFAULT '',
				model          TEXT NOT NULL DEFAULT '',
				coach_category TEXT NOT NULL DEFAULT '',
				coach_tip      TEXT NOT NULL DEFAULT '',
				coach_rewrite  TEXT NOT NULL DEFAULT '',
				created_at     TEXT NOT NULL DEFAULT (datetime('now'))
			);
			CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id, created_at);

			CREATE TABLE IF NOT EXISTS turn_metrics (
				id               TEXT PRIMARY KEY,
				session_id       TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
				turn_id          TEXT NOT NULL UNIQUE REFERENCES turns(id) ON DELETE CASCADE,
				empathy_delta    REAL NOT NULL,
				clarity_delta    REAL NOT NULL,
				boundary_delta   REAL NOT NULL,
				escalation_delta REAL NOT NULL,
				reasons          TEXT NOT NULL DEFAULT '[]',
				created_at       TEXT NOT NULL DEFAULT (datetime('now'))
			);
			CREATE INDEX IF NOT EXISTS idx_turn_metrics_session ON turn_metrics(session_id, created_at);

			CREATE TABLE IF NOT EXISTS session_metrics (
				session_id       TEXT PRIMARY KEY REFERENCES sessions(id) ON DELETE CASCADE,
				empathy_score    REAL NOT NULL DEFAULT 50,
				clarity_score    REAL NOT NULL DEFAULT 50,
				boundary_score   REAL NOT NULL DEFAULT 50,
				escalation_level REAL NOT NULL DEFAULT 2,
				updated_at       TEXT NOT NULL DEFAULT (datetime('now'))
			);
		`); err != nil {
			return err
		}
		if _, err := s.db.Exec(`INSERT INTO schema_version (version) VALUES (1)`); err != nil {
			return err
		}
	}

	if version < 2 {
		// Scenario catalog and prompt provenance
		if _, err := s.db.Exec(`
			CREATE TABLE IF NOT EXISTS scenarios (
				id         TEXT PRIMARY KEY,
				type       TEXT NOT NULL DEFAULT '',
				title      TEXT NOT NULL,
				payload    TEXT NOT NULL,
				updated_at TEXT NOT NULL DEFAULT (datetime('now'))
			);
			ALTER TABLE turns ADD COLUMN prompt_hash TEXT NOT NULL DEFAULT '';
		`); err != nil {
			return err
		}
		if _, err := s.db.Exec(`INSERT INTO schema_version (version) VALUES (2)`); err != nil {
			return err
		}
	}

	return nil
}

func parseTime(v string) time.Time {
	t, _ := time.Parse(timeLayout, v)
	return t
}

// --- Sessions ---

// CreateSession inserts a session and seeds its metrics at the initial state.
// An empty ID is replaced with a new UUID.
func (s *Store) CreateSession(sess Session) (Session, error) {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	tx, err := s.db.Begin()
	if err != nil {
		return Session{}, err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT INTO sessions (id, scenario_id, scenario_type, anon_id, profile, outcome)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.ScenarioID, string(sess.ScenarioType), sess.AnonID, string(sess.Profile), OutcomeInProgress,
	); err != nil {
		return Session{}, err
	}

	m := InitialSessionMetrics()
	if _, err := tx.Exec(`
		INSERT INTO session_metrics (session_id, empathy_score, clarity_score, boundary_score, escalation_level)
		VALUES (?, ?, ?, ?, ?)`,
		sess.ID, m.Empathy, m.Clarity, m.Boundary, m.Escalation,
	); err != nil {
		return Session{}, err
	}
	if err := tx.Commit(); err != nil {
		return Session{}, err
	}
	return s.GetSession(sess.ID)
}

const sessionSelectCols = `id, scenario_id, scenario_type, anon_id, profile, outcome,
	summary, turn_count, started_at, updated_at, ended_at`

func scanSession(row interface{ Scan(...any) error }) (Session, error) {
	var sess Session
	var scenarioType, profile, started, updated string
	var ended sql.NullString
	if err := row.Scan(
		&sess.ID, &sess.ScenarioID, &scenarioType, &sess.AnonID, &profile, &sess.Outcome,
		&sess.Summary, &sess.TurnCount, &started, &updated, &ended,
	); err != nil {
		return Session{}, err
	}
	sess.ScenarioType = ScenarioType(scenarioType)
	sess.Profile = Profile(profile)
	sess.StartedAt = parseTime(started)
	sess.UpdatedAt = parseTime(updated)
	if ended.Valid {
		t := parseTime(ended.String)
		sess.EndedAt = &t
	}
	return sess, nil
}

// GetSession loads a session by ID.
func (s *Store) GetSession(id string) (Session, error) {
	sess, err := scanSession(s.db.QueryRow(`SELECT `+sessionSelectCols+` FROM sessions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrSessionNotFound
	}
	return sess, err
}

// EndSession closes an open session with the given outcome and summary.
func (s *Store) EndSession(id, outcome, summary string) (Session, error) {
	res, err := s.db.Exec(`
		UPDATE sessions
		SET outcome = ?, summary = ?, ended_at = datetime('now'), updated_at = datetime('now')
		WHERE id = ? AND ended_at IS NULL`,
		outcome, summary, id,
	)
	if err != nil {
		return Session{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.GetSession(id); err != nil {
			return Session{}, err
		}
		return Session{}, ErrSessionEnded
	}
	return s.GetSession(id)
}

// IdleSessions returns the IDs of in-progress sessions with no activity since before.
func (s *Store) IdleSessions(before time.Time) ([]string, error) {
	rows, err := s.db.Query(`
		SELECT id FROM sessions
		WHERE ended_at IS NULL AND updated_at < ?
		ORDER BY updated_at ASC`,
		before.UTC().Format(timeLayout),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// --- Turns ---

// InsertTurn stores a turn and touches the session. User turns also bump
// the session's turn count.
func (s *Store) InsertTurn(t Turn) (Turn, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return Turn{}, err
	}
	defer tx.Rollback()

	if t, err = insertTurn(tx, t); err != nil {
		return Turn{}, err
	}
	if err := tx.Commit(); err != nil {
		return Turn{}, err
	}
	return t, nil
}

func insertTurn(tx *sql.Tx, t Turn) (Turn, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if _, err := tx.Exec(`
		INSERT INTO turns (id, session_id, role, content, source, model, prompt_hash,
			coach_category, coach_tip, coach_rewrite)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.SessionID, string(t.Role), t.Content, string(t.Source), t.Model, t.PromptHash,
		t.CoachCategory, t.CoachTip, t.CoachRewrite,
	); err != nil {
		return Turn{}, err
	}

	bump := 0
	if t.Role == RoleUser {
		bump = 1
	}
	if _, err := tx.Exec(`
		UPDATE sessions SET turn_count = turn_count + ?, updated_at = datetime('now') WHERE id = ?`,
		bump, t.SessionID,
	); err != nil {
		return Turn{}, err
	}

	var created string
	if err := tx.QueryRow(`SELECT created_at FROM turns WHERE id = ?`, t.ID).Scan(&created); err != nil {
		return Turn{}, err
	}
	t.CreatedAt = parseTime(created)
	return t, nil
}

const turnSelectCols = `id, session_id, role, content, source, model, prompt_hash,
	coach_category, coach_tip, coach_rewrite, created_at`

func scanTurn(row interface{ Scan(...any) error }) (Turn, error) {
	var t Turn
	var role, source, created string
	if err := row.Scan(
		&t.ID, &t.SessionID, &role, &t.Content, &source, &t.Model, &t.PromptHash,
		&t.CoachCategory, &t.CoachTip, &t.CoachRewrite, &created,
	); err != nil {
		return Turn{}, err
	}
	t.Role = TurnRole(role)
	t.Source = TurnSource(source)
	t.CreatedAt = parseTime(created)
	return t, nil
}

// ListTurns returns a session's turns in chronological order. Turns written
// within the same second keep insertion order.
func (s *Store) ListTurns(sessionID string) ([]Turn, error) {
	rows, err := s.db.Query(`
		SELECT `+turnSelectCols+` FROM turns
		WHERE session_id = ?
		ORDER BY created_at ASC, rowid ASC`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		t, err := scanTurn(rows)
		if err != nil {
			return nil, err
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// LastUserTurn returns the most recent user turn, excluding excludeID.
// ok is false when there is none.
func (s *Store) LastUserTurn(sessionID, excludeID string) (t Turn, ok bool, err error) {
	t, err = scanTurn(s.db.QueryRow(`
		SELECT `+turnSelectCols+` FROM turns
		WHERE session_id = ? AND role = ? AND id != ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT 1`,
		sessionID, string(RoleUser), excludeID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return Turn{}, false, nil
	}
	if err != nil {
		return Turn{}, false, err
	}
	return t, true, nil
}

// --- Turn metrics ---

// InsertTurnMetrics persists the scoring result of a user turn.
func (s *Store) InsertTurnMetrics(rec TurnMetricsRecord) (TurnMetricsRecord, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return TurnMetricsRecord{}, err
	}
	defer tx.Rollback()

	if rec, err = insertTurnMetrics(tx, rec); err != nil {
		return TurnMetricsRecord{}, err
	}
	if err := tx.Commit(); err != nil {
		return TurnMetricsRecord{}, err
	}
	return rec, nil
}

func insertTurnMetrics(tx *sql.Tx, rec TurnMetricsRecord) (TurnMetricsRecord, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	reasons := rec.Reasons
	if reasons == nil {
		reasons = []Reason{}
	}
	blob, err := json.Marshal(reasons)
	if err != nil {
		return TurnMetricsRecord{}, fmt.Errorf("calmscore: encode reasons: %w", err)
	}
	d := rec.Deltas
	if _, err := tx.Exec(`
		INSERT INTO turn_metrics (id, session_id, turn_id, empathy_delta, clarity_delta,
			boundary_delta, escalation_delta, reasons)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.SessionID, rec.TurnID, d.Empathy, d.Clarity, d.Boundary, d.Escalation, string(blob),
	); err != nil {
		return TurnMetricsRecord{}, err
	}
	var created string
	if err := tx.QueryRow(`SELECT created_at FROM turn_metrics WHERE id = ?`, rec.ID).Scan(&created); err != nil {
		return TurnMetricsRecord{}, err
	}
	rec.CreatedAt = parseTime(created)
	return rec, nil
}

// ListTurnMetrics returns a session's turn metrics, oldest first.
func (s *Store) ListTurnMetrics(sessionID string) ([]TurnMetricsRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, session_id, turn_id, empathy_delta, clarity_delta, boundary_delta,
			escalation_delta, reasons, created_at
		FROM turn_metrics
		WHERE session_id = ?
		ORDER BY created_at ASC, rowid ASC`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TurnMetricsRecord
	for rows.Next() {
		var rec TurnMetricsRecord
		var reasons, created string
		if err := rows.Scan(
			&rec.ID, &rec.SessionID, &rec.TurnID,
			&rec.Deltas.Empathy, &rec.Deltas.Clarity, &rec.Deltas.Boundary, &rec.Deltas.Escalation,
			&reasons, &created,
		); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(reasons), &rec.Reasons); err != nil {
			return nil, fmt.Errorf("calmscore: decode reasons for turn %s: %w", rec.TurnID, err)
		}
		rec.CreatedAt = parseTime(created)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// --- Session metrics ---

// GetSessionMetrics returns the accumulated metrics of a session.
func (s *Store) GetSessionMetrics(sessionID string) (SessionMetrics, error) {
	var m SessionMetrics
	err := s.db.QueryRow(`
		SELECT empathy_score, clarity_score, boundary_score, escalation_level
		FROM session_metrics WHERE session_id = ?`,
		sessionID,
	).Scan(&m.Empathy, &m.Clarity, &m.Boundary, &m.Escalation)
	if errors.Is(err, sql.ErrNoRows) {
		return SessionMetrics{}, ErrSessionNotFound
	}
	return m, err
}

// ApplyDeltas folds deltas into a session's metrics inside one transaction
// and returns the new state.
func (s *Store) ApplyDeltas(sessionID string, deltas TurnDeltas, clamps SessionClamps) (SessionMetrics, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return SessionMetrics{}, err
	}
	defer tx.Rollback()

	next, err := applyDeltas(tx, sessionID, deltas, clamps)
	if err != nil {
		return SessionMetrics{}, err
	}
	if err := tx.Commit(); err != nil {
		return SessionMetrics{}, err
	}
	return next, nil
}

func applyDeltas(tx *sql.Tx, sessionID string, deltas TurnDeltas, clamps SessionClamps) (SessionMetrics, error) {
	var cur SessionMetrics
	err := tx.QueryRow(`
		SELECT empathy_score, clarity_score, boundary_score, escalation_level
		FROM session_metrics WHERE session_id = ?`,
		sessionID,
	).Scan(&cur.Empathy, &cur.Clarity, &cur.Boundary, &cur.Escalation)
	if errors.Is(err, sql.ErrNoRows) {
		return SessionMetrics{}, ErrSessionNotFound
	}
	if err != nil {
		return SessionMetrics{}, err
	}

	next := ApplySessionMetricDeltasWithin(cur, deltas, clamps)
	if _, err := tx.Exec(`
		UPDATE session_metrics
		SET empathy_score = ?, clarity_score = ?, boundary_score = ?, escalation_level = ?,
		    updated_at = datetime('now')
		WHERE session_id = ?`,
		next.Empathy, next.Clarity, next.Boundary, next.Escalation, sessionID,
	); err != nil {
		return SessionMetrics{}, err
	}
	return next, nil
}

// RecordScoredTurn stores a user turn, its scoring result and the folded
// session metrics in one transaction. Either all three land or none do.
func (s *Store) RecordScoredTurn(t Turn, result TurnResult, clamps SessionClamps) (Turn, SessionMetrics, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return Turn{}, SessionMetrics{}, err
	}
	defer tx.Rollback()

	if t, err = insertTurn(tx, t); err != nil {
		return Turn{}, SessionMetrics{}, fmt.Errorf("insert turn: %w", err)
	}
	if _, err := insertTurnMetrics(tx, TurnMetricsRecord{
		SessionID: t.SessionID,
		TurnID:    t.ID,
		Deltas:    result.Deltas,
		Reasons:   result.Reasons,
	}); err != nil {
		return Turn{}, SessionMetrics{}, fmt.Errorf("insert turn metrics: %w", err)
	}
	metrics, err := applyDeltas(tx, t.SessionID, result.Deltas, clamps)
	if err != nil {
		return Turn{}, SessionMetrics{}, fmt.Errorf("apply deltas: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Turn{}, SessionMetrics{}, err
	}
	return t, metrics, nil
}

// --- Scenarios ---

// UpsertScenario inserts or replaces a scenario in the catalog.
func (s *Store) UpsertScenario(sc Scenario) error {
	payload, err := json.Marshal(sc)
	if err != nil {
		return fmt.Errorf("calmscore: encode scenario: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO scenarios (id, type, title, payload) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			type = excluded.type, title = excluded.title,
			payload = excluded.payload, updated_at = datetime('now')`,
		sc.ID, string(sc.Type), sc.Title, string(payload),
	)
	return err
}

// GetScenario loads a scenario by ID.
func (s *Store) GetScenario(id string) (Scenario, error) {
	var payload string
	err := s.db.QueryRow(`SELECT payload FROM scenarios WHERE id = ?`, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return Scenario{}, ErrScenarioNotFound
	}
	if err != nil {
		return Scenario{}, err
	}
	var sc Scenario
	if err := json.Unmarshal([]byte(payload), &sc); err != nil {
		return Scenario{}, fmt.Errorf("calmscore: decode scenario %s: %w", id, err)
	}
	return sc, nil
}

// ListScenarios returns the catalog ordered by title.
func (s *Store) ListScenarios() ([]Scenario, error) {
	rows, err := s.db.Query(`SELECT payload FROM scenarios ORDER BY title ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Scenario
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var sc Scenario
		if err := json.Unmarshal([]byte(payload), &sc); err != nil {
			return nil, fmt.Errorf("calmscore: decode scenario: %w", err)
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

// Close shuts down the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
