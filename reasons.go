package calmscore

import (
	"encoding/json"
	"fmt"
)

// MaxReasons caps the reasons kept for one turn. Earlier entries win.
const MaxReasons = 8

// ReasonKind distinguishes the two reason shapes.
type ReasonKind string

const (
	ReasonStructured ReasonKind = "structured"
	ReasonFree       ReasonKind = "free"
)

// Reason explains one contribution to a turn's deltas. Structured reasons
// carry {Metric, Delta, Rule}; free reasons carry only Text
// (e.g. "combo_bonus:-1").
type Reason struct {
	Kind   ReasonKind
	Metric Metric
	Delta  float64
	Rule   string
	Text   string
}

// StructuredReason builds a {metric, delta, rule} reason.
func StructuredReason(m Metric, delta float64, rule string) Reason {
	return Reason{Kind: ReasonStructured, Metric: m, Delta: delta, Rule: rule}
}

// FreeReason builds a free-text reason.
func FreeReason(text string) Reason {
	return Reason{Kind: ReasonFree, Text: text}
}

// String renders the reason as "metric:+N rule" or the free text itself.
func (r Reason) String() string {
	if r.Kind == ReasonFree {
		return r.Text
	}
	return string(r.Metric) + ":" + signed(r.Delta) + " " + r.Rule
}

type structuredReasonJSON struct {
	Metric Metric  `json:"metric"`
	Delta  float64 `json:"delta"`
	Rule   string  `json:"rule"`
}

// MarshalJSON encodes structured reasons as objects and free reasons as strings.
func (r Reason) MarshalJSON() ([]byte, error) {
	if r.Kind == ReasonFree {
		return json.Marshal(r.Text)
	}
	return json.Marshal(structuredReasonJSON{Metric: r.Metric, Delta: r.Delta, Rule: r.Rule})
}

func (r *Reason) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		*r = FreeReason(text)
		return nil
	}
	var s structuredReasonJSON
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("calmscore: decode reason: %w", err)
	}
	*r = StructuredReason(s.Metric, s.Delta, s.Rule)
	return nil
}

// ReasonStrings renders reasons for display.
func ReasonStrings(reasons []Reason) []string {
	out := make([]string, len(reasons))
	for i, r := range reasons {
		out[i] = r.String()
	}
	return out
}

// reasonRecorder collects reasons up to MaxReasons and silently drops the rest.
type reasonRecorder struct {
	reasons []Reason
}

func (rec *reasonRecorder) add(r Reason) {
	if len(rec.reasons) >= MaxReasons {
		return
	}
	rec.reasons = append(rec.reasons, r)
}

func (rec *reasonRecorder) structured(m Metric, delta float64, rule string) {
	rec.add(StructuredReason(m, delta, rule))
}

func (rec *reasonRecorder) free(format string, args ...any) {
	rec.add(FreeReason(fmt.Sprintf(format, args...)))
}

func (rec *reasonRecorder) list() []Reason {
	if rec.reasons == nil {
		return []Reason{}
	}
	return rec.reasons
}

// signed formats v with an explicit "+" for non-negative values.
func signed(v float64) string {
	s := trimFloat(v)
	if v >= 0 {
		return "+" + s
	}
	return s
}
