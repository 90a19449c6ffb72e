package cli

import (
	"fmt"
	"strings"

	"github.com/goblincore/calmscore"
	"github.com/spf13/cobra"
)

var (
	anonID        string
	coachMetric   string
	coachStrength int
	variability   string
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Run practice sessions",
}

var scenariosCmd = &cobra.Command{
	Use:         "scenarios",
	Short:       "List training scenarios",
	Annotations: map[string]string{needsTrainer: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		list, err := trainer.Store().ListScenarios()
		if err != nil {
			return err
		}
		if outputText {
			for _, sc := range list {
				fmt.Fprintf(cmd.OutOrStdout(), "%-28s %-8s %s\n", sc.ID, sc.Difficulty, sc.Title)
			}
			return nil
		}
		outputResult(cmd.OutOrStdout(), list)
		return nil
	},
}

var sessionStartCmd = &cobra.Command{
	Use:         "start <scenario-id>",
	Short:       "Start a session",
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{needsTrainer: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := trainer.StartSession(cmd.Context(), calmscore.StartSessionOptions{
			ScenarioID: args[0],
			AnonID:     anonID,
			Profile:    calmscore.Profile(profile),
		})
		if err != nil {
			return err
		}
		outputResult(cmd.OutOrStdout(), map[string]any{
			"status":      "started",
			"session_id":  sess.ID,
			"scenario_id": sess.ScenarioID,
			"profile":     trainer.Rubric(sess.Profile).Profile,
			"started_at":  formatTime(sess.StartedAt),
		})
		return nil
	},
}

var sessionSayCmd = &cobra.Command{
	Use:         "say <session-id> <text>",
	Short:       "Submit a trainee turn",
	Args:        cobra.MinimumNArgs(2),
	Annotations: map[string]string{needsTrainer: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := trainer.SubmitTurn(cmd.Context(), calmscore.SubmitTurnOptions{
			SessionID: args[0],
			Content:   strings.Join(args[1:], " "),
			CoachHint: coachHint(),
		})
		if err != nil {
			return err
		}
		if outputText {
			fmt.Fprintln(cmd.OutOrStdout(), out.Coach.Content)
			fmt.Fprintf(cmd.OutOrStdout(), "Metrics: empathy %g, clarity %g, boundary %g, escalation %g\n",
				out.Metrics.Empathy, out.Metrics.Clarity, out.Metrics.Boundary, out.Metrics.Escalation)
			return nil
		}
		outputResult(cmd.OutOrStdout(), map[string]any{
			"turn_id": out.Turn.ID,
			"deltas":  out.Result.Deltas,
			"reasons": out.Result.Reasons,
			"metrics": out.Metrics,
			"coach":   out.Coach,
		})
		return nil
	},
}

var sessionRespondCmd = &cobra.Command{
	Use:         "respond <session-id>",
	Short:       "Generate the counterpart's next line",
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{needsTrainer: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		turn, err := trainer.Respond(cmd.Context(), calmscore.RespondOptions{SessionID: args[0]})
		if err != nil {
			return err
		}
		if outputText {
			fmt.Fprintf(cmd.OutOrStdout(), "PATIENT: %s\n", turn.Content)
			return nil
		}
		outputResult(cmd.OutOrStdout(), map[string]any{
			"turn_id": turn.ID,
			"content": turn.Content,
			"source":  turn.Source,
			"model":   turn.Model,
		})
		return nil
	},
}

var sessionCoachCmd = &cobra.Command{
	Use:         "coach <session-id>",
	Short:       "Get light, medium and strong phrase suggestions",
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{needsTrainer: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		suggestions, err := trainer.CoachMe(cmd.Context(), calmscore.CoachMeOptions{
			SessionID:   args[0],
			Metric:      calmscore.ParseSuggestionMetric(coachMetric),
			Strength:    coachStrength,
			Variability: variability,
		})
		if err != nil {
			return err
		}
		if outputText {
			for _, s := range suggestions {
				fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s\n", s.ID, s.Phrase)
			}
			return nil
		}
		outputResult(cmd.OutOrStdout(), suggestions)
		return nil
	},
}

var sessionReportCmd = &cobra.Command{
	Use:         "report <session-id>",
	Short:       "Show a session's metrics and readiness",
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{needsTrainer: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		rep, err := trainer.Report(args[0])
		if err != nil {
			return err
		}
		outputReport(cmd, rep)
		return nil
	},
}

var sessionEndCmd = &cobra.Command{
	Use:         "end <session-id>",
	Short:       "End a session",
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{needsTrainer: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		rep, err := trainer.EndSession(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		outputReport(cmd, rep)
		return nil
	},
}

func outputReport(cmd *cobra.Command, rep calmscore.SessionReport) {
	if outputText {
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "Session %s (%s)\n", rep.Session.ID, rep.Session.Outcome)
		fmt.Fprintf(w, "Readiness: %s\n", rep.Readiness)
		fmt.Fprintf(w, "Empathy %g | Clarity %g | Boundary %g | Escalation %g\n",
			rep.Metrics.Empathy, rep.Metrics.Clarity, rep.Metrics.Boundary, rep.Metrics.Escalation)
		if rep.Coaching.PrimaryFocus != "" {
			fmt.Fprintf(w, "Primary focus: %s\n", rep.Coaching.PrimaryFocus)
		}
		for _, r := range rep.Coaching.TopRewrites {
			fmt.Fprintf(w, "  try: %s\n", r)
		}
		return
	}
	out := map[string]any{
		"session_id": rep.Session.ID,
		"outcome":    rep.Session.Outcome,
		"turn_count": rep.Session.TurnCount,
		"metrics":    rep.Metrics,
		"readiness":  rep.Readiness,
		"coaching":   rep.Coaching,
	}
	if rep.Session.Summary != "" {
		out["summary"] = rep.Session.Summary
	}
	outputResult(cmd.OutOrStdout(), out)
}

func init() {
	sessionStartCmd.Flags().StringVar(&anonID, "anon-id", "", "Anonymous trainee identifier")
	addHintFlags(sessionSayCmd)
	sessionCoachCmd.Flags().StringVar(&coachMetric, "metric", "empathy", "empathy, clarity, boundaries or de-escalation")
	sessionCoachCmd.Flags().IntVar(&coachStrength, "strength", 1, "Requested strength 1-3")
	sessionCoachCmd.Flags().StringVar(&variability, "variability", "medium", "low, medium or high")

	sessionCmd.AddCommand(sessionStartCmd, sessionSayCmd, sessionRespondCmd, sessionCoachCmd, sessionReportCmd, sessionEndCmd)
	rootCmd.AddCommand(sessionCmd, scenariosCmd)
}
