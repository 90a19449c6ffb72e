// Package cli provides the command-line interface for calmscore
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/goblincore/calmscore"
	"github.com/spf13/cobra"
)

var (
	scorer     *calmscore.Scorer
	trainer    *calmscore.Trainer
	outputText bool // --text flag for human-readable output (default is JSON for LLMs)
	profile    string
)

// needsTrainer marks commands that open the session database.
const needsTrainer = "trainer"

// rootCmd is the base command
var rootCmd = &cobra.Command{
	Use:   "calmscore",
	Short: "Score de-escalation conversations",
	Long: `calmscore - De-escalation Training Scorer

Score trainee utterances for empathy, clarity, boundaries and escalation,
and run practice sessions against simulated patients.

Quick Start:
  calmscore score "I understand, please give me a moment"   # Score one utterance
  calmscore rubric --profile training                       # Show the effective rubric
  calmscore apply deltas.json                               # Fold deltas into metrics
  calmscore session start ed-long-wait                      # Begin a practice session
  calmscore session say <id> "text"                         # Submit a trainee turn
  calmscore session end <id>                                # End and get readiness

Configuration comes from the environment (CALMSCORE_DB_PATH, SCORING_PROFILE,
CALMSCORE_RUBRIC_FILE, CALMSCORE_TABLES_FILE, CALMSCORE_SCENARIOS_FILE,
OPENAI_API_KEY, DEES_MODEL, DEES_TEMPERATURE).`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip setup for help commands
		if cmd.Name() == "help" || cmd.Name() == "version" {
			return nil
		}

		cfg := calmscore.ConfigFromEnv()
		if _, ok := cmd.Annotations[needsTrainer]; ok {
			// The CLI is short-lived; sessions are swept by long-running servers
			cfg.SweepInterval = -1
			var err error
			trainer, err = calmscore.Init(cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize trainer: %w", err)
			}
			scorer = trainer.Scorer
			return nil
		}

		var err error
		scorer, err = calmscore.NewScorer(cfg)
		if err != nil {
			return fmt.Errorf("failed to load scoring config: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if trainer != nil {
			trainer.Close()
			trainer = nil
		}
	},
}

// Execute runs the CLI
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		outputError(err)
	}
	return err
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&outputText, "text", false, "Human-readable text output (default is JSON for LLM consumption)")
	rootCmd.PersistentFlags().StringVarP(&profile, "profile", "p", "", "Scoring profile: strict, training, easy, medium, hard (default from SCORING_PROFILE)")

	rootCmd.AddCommand(versionCmd)
}

// outputResult outputs the result in the appropriate format
// Default is JSON (for LLMs), use --text for human-readable
func outputResult(w io.Writer, result any) {
	if outputText {
		if s, ok := result.(fmt.Stringer); ok {
			fmt.Fprintln(w, s.String())
			return
		}
		fmt.Fprintf(w, "%+v\n", result)
		return
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(result)
}

// outputError outputs an error in the appropriate format
func outputError(err error) {
	if outputText {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return
	}
	enc := json.NewEncoder(os.Stderr)
	enc.Encode(map[string]any{
		"status": "error",
		"error":  err.Error(),
	})
}

// readInputJSON reads JSON from a file, or stdin when input is "-"
func readInputJSON(in io.Reader, input string, v any) error {
	var data []byte
	var err error
	if input == "-" {
		data, err = io.ReadAll(in)
	} else {
		data, err = os.ReadFile(input)
	}
	if err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}
	if len(data) == 0 {
		return fmt.Errorf("no input provided")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse JSON: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.Format(time.RFC3339)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "calmscore version 1.0.0")
	},
}
