package calmscore

import (
	"os"
	"strconv"
	"time"
)

// Metric names one of the four scored dimensions of a turn.
type Metric string

const (
	MetricEmpathy    Metric = "empathy"
	MetricClarity    Metric = "clarity"
	MetricBoundary   Metric = "boundary"
	MetricEscalation Metric = "escalation"
)

// TurnDeltas are the signed per-turn adjustments for each metric.
type TurnDeltas struct {
	Empathy    float64 `json:"empathy_delta"`
	Clarity    float64 `json:"clarity_delta"`
	Boundary   float64 `json:"boundary_delta"`
	Escalation float64 `json:"escalation_delta"`
}

// Get returns the delta for a metric. Unknown metrics read as 0.
func (d TurnDeltas) Get(m Metric) float64 {
	switch m {
	case MetricEmpathy:
		return d.Empathy
	case MetricClarity:
		return d.Clarity
	case MetricBoundary:
		return d.Boundary
	case MetricEscalation:
		return d.Escalation
	}
	return 0
}

// SessionMetrics is the running, saturating score of a training session.
// Empathy, Clarity and Boundary live in [0,100]; Escalation in [0,5].
type SessionMetrics struct {
	Empathy    float64 `json:"empathy_score"`
	Clarity    float64 `json:"clarity_score"`
	Boundary   float64 `json:"boundary_score"`
	Escalation float64 `json:"escalation_level"`
}

// InitialSessionMetrics returns the state every session starts from.
func InitialSessionMetrics() SessionMetrics {
	return SessionMetrics{Empathy: 50, Clarity: 50, Boundary: 50, Escalation: 2}
}

// TurnRole identifies who authored a turn.
type TurnRole string

const (
	RoleUser    TurnRole = "user"    // the trainee
	RolePatient TurnRole = "patient" // the simulated counterpart
	RoleCoach   TurnRole = "coach"
	RoleSystem  TurnRole = "system"
)

// TurnSource records how a turn's content was produced.
type TurnSource string

const (
	SourceUser      TurnSource = "user"
	SourceAI        TurnSource = "ai"
	SourceRepaired  TurnSource = "repaired"
	SourceHeuristic TurnSource = "heuristic"
	SourceSystem    TurnSource = "system"
)

// Session outcomes.
const (
	OutcomeInProgress = "In Progress"
	OutcomeCompleted  = "Completed"
	OutcomeAbandoned  = "Abandoned"
)

// Session is one training conversation.
type Session struct {
	ID           string
	ScenarioID   string
	ScenarioType ScenarioType
	AnonID       string
	Profile      Profile // empty means "use the trainer default"
	Outcome      string
	Summary      string
	TurnCount    int // user turns only
	StartedAt    time.Time
	UpdatedAt    time.Time
	EndedAt      *time.Time
}

// Turn is a single utterance in a session.
type Turn struct {
	ID            string
	SessionID     string
	Role          TurnRole
	Content       string
	Source        TurnSource
	Model         string
	PromptHash    string
	CoachCategory string
	CoachTip      string
	CoachRewrite  string
	CreatedAt     time.Time
}

// TurnMetricsRecord is the persisted scoring result of one user turn.
type TurnMetricsRecord struct {
	ID        string
	SessionID string
	TurnID    string
	Deltas    TurnDeltas
	Reasons   []Reason
	CreatedAt time.Time
}

// Config holds Trainer initialization parameters.
type Config struct {
	DBPath           string           // Path to SQLite file (default: ./data/calmscore.db)
	Profile          Profile          // Default scoring profile; empty falls back to SCORING_PROFILE
	Overrides        *RubricOverrides // Applied over the profile preset for every turn
	RubricFile       string           // Optional YAML rubric file, merged under Overrides
	TablesFile       string           // Optional YAML phrase tables replacing the defaults
	ScenariosFile    string           // Optional YAML scenario catalog; built-ins otherwise
	SystemPrompt     string           // Counterpart system prompt; built-in otherwise
	OpenAIAPIKey     string           // Enables the OpenAI counterpart generator
	CounterpartModel string           // Default gpt-4.1
	Temperature      float32          // Default 0.6
	RecentTurnLimit  int              // Turns included in the counterpart prompt (default 6)
	IdleTimeout      time.Duration    // Sessions idle this long are abandoned (default 2h)
	SweepInterval    time.Duration    // Default 10m; negative disables the sweeper

	Counterpart CounterpartGenerator // Explicit generator; overrides OpenAIAPIKey
}

// ApplyDefaults fills zero-valued fields with sensible defaults.
func (c *Config) ApplyDefaults() {
	if c.DBPath == "" {
		c.DBPath = "./data/calmscore.db"
	}
	if c.CounterpartModel == "" {
		c.CounterpartModel = "gpt-4.1"
	}
	if c.Temperature == 0 {
		c.Temperature = 0.6
	}
	if c.RecentTurnLimit == 0 {
		c.RecentTurnLimit = 6
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 2 * time.Hour
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = 10 * time.Minute
	}
}

// ConfigFromEnv reads a Config from the process environment:
//
//	CALMSCORE_DB_PATH, SCORING_PROFILE, CALMSCORE_RUBRIC_FILE, CALMSCORE_TABLES_FILE,
//	CALMSCORE_SCENARIOS_FILE, OPENAI_API_KEY, DEES_MODEL, DEES_TEMPERATURE
//
// Malformed numbers are ignored and left to ApplyDefaults.
func ConfigFromEnv() Config {
	cfg := Config{
		DBPath:           os.Getenv("CALMSCORE_DB_PATH"),
		Profile:          Profile(EnvProfile()),
		RubricFile:       os.Getenv("CALMSCORE_RUBRIC_FILE"),
		TablesFile:       os.Getenv("CALMSCORE_TABLES_FILE"),
		ScenariosFile:    os.Getenv("CALMSCORE_SCENARIOS_FILE"),
		OpenAIAPIKey:     os.Getenv("OPENAI_API_KEY"),
		CounterpartModel: os.Getenv("DEES_MODEL"),
	}
	if v := os.Getenv("DEES_TEMPERATURE"); v != "" {
		if f, err := strconv.ParseFloat(v, 32); err == nil {
			cfg.Temperature = float32(f)
		}
	}
	return cfg
}
