package cli

import (
	"fmt"
	"strings"

	"github.com/goblincore/calmscore"
	"github.com/spf13/cobra"
)

var (
	previousText string
	hintMetric   string
	hintStrength int
	hintID       string
)

// scoreOutput is the result of scoring one utterance.
type scoreOutput struct {
	Profile calmscore.Profile    `json:"profile"`
	Deltas  calmscore.TurnDeltas `json:"deltas"`
	Reasons []calmscore.Reason   `json:"reasons"`
}

func (o scoreOutput) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Profile: %s\n", o.Profile)
	fmt.Fprintf(&b, "  empathy    %+g\n", o.Deltas.Empathy)
	fmt.Fprintf(&b, "  clarity    %+g\n", o.Deltas.Clarity)
	fmt.Fprintf(&b, "  boundary   %+g\n", o.Deltas.Boundary)
	fmt.Fprintf(&b, "  escalation %+g\n", o.Deltas.Escalation)
	if len(o.Reasons) > 0 {
		b.WriteString("Reasons:\n")
		for _, r := range calmscore.ReasonStrings(o.Reasons) {
			b.WriteString("  - " + r + "\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

var scoreCmd = &cobra.Command{
	Use:   "score <text>",
	Short: "Score one trainee utterance",
	Long: `Score one trainee utterance and print per-metric deltas with reasons.

Examples:
  calmscore score "I understand this is frustrating, please give me a moment"
  calmscore score --profile training --previous "I'll be back in 5 minutes" "I'm back, as promised"
  calmscore score --profile training --hint empathy --hint-strength 3 "I understand"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p := calmscore.Profile(profile)
		res := scorer.Score(strings.Join(args, " "), p, coachHint(), previousText)
		outputResult(cmd.OutOrStdout(), scoreOutput{
			Profile: scorer.Rubric(p).Profile,
			Deltas:  res.Deltas,
			Reasons: res.Reasons,
		})
		return nil
	},
}

var rubricCmd = &cobra.Command{
	Use:   "rubric",
	Short: "Show the effective rubric for a profile",
	RunE: func(cmd *cobra.Command, args []string) error {
		outputResult(cmd.OutOrStdout(), scorer.Rubric(calmscore.Profile(profile)))
		return nil
	},
}

// applyInput is the JSON document accepted by the apply command.
type applyInput struct {
	Current *calmscore.SessionMetrics `json:"current"`
	Deltas  []calmscore.TurnDeltas    `json:"deltas"`
}

var applyCmd = &cobra.Command{
	Use:   "apply <file|->",
	Short: "Fold a sequence of turn deltas into session metrics",
	Long: `Fold a sequence of turn deltas into session metrics with saturation.

Input is JSON: {"current": {...}, "deltas": [{"empathy_delta": 2, ...}, ...]}.
"current" defaults to the initial session state.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var in applyInput
		if err := readInputJSON(cmd.InOrStdin(), args[0], &in); err != nil {
			return err
		}
		m := calmscore.InitialSessionMetrics()
		if in.Current != nil {
			m = *in.Current
		}
		for _, d := range in.Deltas {
			m = scorer.Apply(m, d)
		}
		outputResult(cmd.OutOrStdout(), m)
		return nil
	},
}

// coachHint builds the hint from the --hint flags, or nil when --hint is unset.
func coachHint() *calmscore.CoachHint {
	if hintMetric == "" {
		return nil
	}
	return &calmscore.CoachHint{
		Metric:       calmscore.HintMetric(hintMetric),
		Strength:     hintStrength,
		SuggestionID: hintID,
	}
}

func addHintFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&hintMetric, "hint", "", "Coach-me hint metric: empathy, clarity, boundaries, calmness")
	cmd.Flags().IntVar(&hintStrength, "hint-strength", 1, "Coach-me hint strength 1-3")
	cmd.Flags().StringVar(&hintID, "hint-id", "", "Coach-me suggestion id (light caps the delta)")
}

func init() {
	scoreCmd.Flags().StringVar(&previousText, "previous", "", "The trainee's previous utterance (for follow-through)")
	addHintFlags(scoreCmd)

	rootCmd.AddCommand(scoreCmd, rubricCmd, applyCmd)
}
