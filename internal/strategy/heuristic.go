// Package strategy provides the pluggable decision functions consulted by the
// agent run protocol: whether clarification or a blocking question is needed,
// how to split content into sub-questions, and how to summarize results.
package strategy

import (
	"context"
	"strings"

	"github.com/antoniostano/delphi/internal/agents"
)

const defaultMaxSubquestions = 4

// Heuristic decides with cheap token checks. It is the default strategy set
// and keeps the protocol fully exercisable without a language model.
type Heuristic struct {
	// MaxSubquestions caps fan-out width. Zero means the default of 4.
	MaxSubquestions int
}

func (h Heuristic) NeedsClarification(_ context.Context, content string) (bool, error) {
	lower := strings.ToLower(content)
	return strings.Contains(content, "?") || strings.Contains(lower, "clarify"), nil
}

// BlockingQuestion asks for confirmation when the content carries a "confirm:"
// token and the operator has not answered yet.
func (h Heuristic) BlockingQuestion(_ context.Context, content string) (string, bool, error) {
	lower := strings.ToLower(content)
	if !strings.Contains(lower, "confirm:") {
		return "", false, nil
	}
	if strings.Contains(content, "[operator_answer]") {
		return "", false, nil
	}
	return "Please confirm the item marked 'confirm' in your request.", true, nil
}

func (h Heuristic) Subquestions(_ context.Context, content string) ([]string, error) {
	max := h.MaxSubquestions
	if max <= 0 {
		max = defaultMaxSubquestions
	}
	var out []string
	for _, part := range strings.Split(content, ".") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
		if len(out) == max {
			break
		}
	}
	// A single fragment is the question itself, not a decomposition.
	if len(out) <= 1 {
		return nil, nil
	}
	return out, nil
}

func (h Heuristic) Summarize(_ context.Context, primary string, children []agents.ChildOutcome) (string, bool, error) {
	parts := []string{primary}
	for _, c := range children {
		if c.Response != nil && strings.TrimSpace(*c.Response) != "" {
			parts = append(parts, strings.TrimSpace(*c.Response))
		}
	}
	summary := strings.Join(parts, " | ")
	if len(summary) > 1000 {
		summary = summary[:1000]
	}
	lower := strings.ToLower(summary)
	uncertain := strings.Contains(lower, "contradict") || strings.Contains(lower, "uncertain")
	return summary, uncertain, nil
}
