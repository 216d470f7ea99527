package reasoning

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// DecisionKind discriminates the three answer shapes the service may return.
type DecisionKind string

const (
	DecisionPlan    DecisionKind = "plan"
	DecisionAction  DecisionKind = "action"
	DecisionOutcome DecisionKind = "outcome"
)

// PlanStep is one proposed step of a plan decision.
type PlanStep struct {
	Description string   `json:"description"`
	Role        string   `json:"role"`
	Parallel    bool     `json:"parallel,omitempty"`
	Resources   []string `json:"resources,omitempty"`
}

// Decision is the parsed answer of one reasoning exchange. Exactly the
// fields for its kind are populated; the rest stay zero.
type Decision struct {
	Kind   DecisionKind `json:"kind"`
	Reason string       `json:"reason,omitempty"`

	// Kind == DecisionPlan
	Steps []PlanStep `json:"steps,omitempty"`

	// Kind == DecisionAction
	Tool         string            `json:"tool,omitempty"`
	Params       map[string]string `json:"params,omitempty"`
	SuccessCheck string            `json:"success_check,omitempty"`

	// Kind == DecisionOutcome
	Outcome string `json:"outcome,omitempty"`
}

const defaultStepRole = "coder"

var (
	fencedJSON   = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")
	numberedLine = regexp.MustCompile(`^\s*\d+[.)]\s+(.+)$`)
	bulletLine   = regexp.MustCompile(`^\s*[-*]\s+(.+)$`)
)

// ParseDecision extracts a Decision from a raw reasoning answer. The answer
// should be a single JSON object, possibly inside a markdown fence or
// surrounded by prose. Plain numbered lists are accepted as a plan so a
// service that ignores the response contract still yields usable steps.
func ParseDecision(raw string) (*Decision, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, &MalformedError{Err: fmt.Errorf("empty reasoning answer")}
	}

	for _, candidate := range jsonCandidates(trimmed) {
		var d Decision
		if err := json.Unmarshal([]byte(candidate), &d); err != nil {
			continue
		}
		if err := d.validate(); err != nil {
			return nil, &MalformedError{Err: err}
		}
		return &d, nil
	}

	if steps := parseNumberedPlan(trimmed); len(steps) > 0 {
		return &Decision{Kind: DecisionPlan, Steps: steps}, nil
	}

	return nil, &MalformedError{Err: fmt.Errorf("reasoning answer contains no decision object")}
}

// jsonCandidates returns object texts to try, most explicit first: the whole
// answer, then each fenced block, then the outermost brace span.
func jsonCandidates(s string) []string {
	var out []string
	if strings.HasPrefix(s, "{") {
		out = append(out, s)
	}
	for _, m := range fencedJSON.FindAllStringSubmatch(s, -1) {
		out = append(out, m[1])
	}
	if start := strings.Index(s, "{"); start >= 0 {
		if end := strings.LastIndex(s, "}"); end > start {
			out = append(out, s[start:end+1])
		}
	}
	return out
}

func (d *Decision) validate() error {
	switch d.Kind {
	case DecisionPlan:
		if len(d.Steps) == 0 {
			return fmt.Errorf("plan decision has no steps")
		}
		for i := range d.Steps {
			if strings.TrimSpace(d.Steps[i].Description) == "" {
				return fmt.Errorf("plan step %d has no description", i+1)
			}
			if d.Steps[i].Role == "" {
				d.Steps[i].Role = defaultStepRole
			}
		}
	case DecisionAction:
		if strings.TrimSpace(d.Tool) == "" {
			return fmt.Errorf("action decision names no tool")
		}
	case DecisionOutcome:
		if strings.TrimSpace(d.Outcome) == "" {
			return fmt.Errorf("outcome decision has no outcome")
		}
	default:
		return fmt.Errorf("unknown decision kind %q", d.Kind)
	}
	return nil
}

// parseNumberedPlan reads "1. do x" lines as steps. Indented "-"/"*" bullets
// under a numbered line are folded into that step's description.
func parseNumberedPlan(s string) []PlanStep {
	var steps []PlanStep
	for _, line := range strings.Split(s, "\n") {
		if m := numberedLine.FindStringSubmatch(line); m != nil {
			steps = append(steps, PlanStep{
				Description: strings.TrimSpace(m[1]),
				Role:        defaultStepRole,
			})
			continue
		}
		if len(steps) == 0 {
			continue
		}
		if m := bulletLine.FindStringSubmatch(line); m != nil {
			last := &steps[len(steps)-1]
			last.Description += "; " + strings.TrimSpace(m[1])
		}
	}
	return steps
}
