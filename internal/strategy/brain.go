package strategy

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/antoniostano/delphi/internal/agents"
	"github.com/antoniostano/delphi/internal/brain"
)

// Brain delegates every decision to the brain adapter with line-oriented
// prompts. Replies that cannot be parsed fall back to the conservative choice
// (no clarification, no question, no decomposition) rather than failing.
type Brain struct {
	adapter brain.Adapter
	maxSubs int
}

func NewBrain(adapter brain.Adapter, maxSubquestions int) *Brain {
	if maxSubquestions <= 0 {
		maxSubquestions = defaultMaxSubquestions
	}
	return &Brain{adapter: adapter, maxSubs: maxSubquestions}
}

func (b *Brain) NeedsClarification(ctx context.Context, content string) (bool, error) {
	reply, err := b.complete(ctx,
		"Reply with exactly YES or NO. Does this request need clarification from its author before work can begin?\n\n"+content)
	if err != nil {
		return false, err
	}
	return strings.HasPrefix(strings.ToUpper(reply), "YES"), nil
}

func (b *Brain) BlockingQuestion(ctx context.Context, content string) (string, bool, error) {
	reply, err := b.complete(ctx,
		"If exactly one blocking question must be answered by the requester before work can proceed, reply with that question alone. Otherwise reply NONE.\n\n"+content)
	if err != nil {
		return "", false, err
	}
	if reply == "" || strings.EqualFold(firstLine(reply), "NONE") {
		return "", false, nil
	}
	return firstLine(reply), true, nil
}

func (b *Brain) Subquestions(ctx context.Context, content string) ([]string, error) {
	reply, err := b.complete(ctx, fmt.Sprintf(
		"Break the request below into at most %d independent sub-questions that can be answered in parallel, one per line, no numbering. Reply NONE if it does not decompose.\n\n%s",
		b.maxSubs, content))
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(firstLine(reply), "NONE") {
		return nil, nil
	}
	var out []string
	for _, line := range strings.Split(reply, "\n") {
		line = trimListMarker(line)
		if line == "" {
			continue
		}
		out = append(out, line)
		if len(out) == b.maxSubs {
			break
		}
	}
	return out, nil
}

func (b *Brain) Summarize(ctx context.Context, primary string, children []agents.ChildOutcome) (string, bool, error) {
	var sb strings.Builder
	sb.WriteString("Summarize the combined findings below into one coherent answer. End with a final line reading exactly CONFIDENCE: HIGH or CONFIDENCE: LOW, LOW meaning the findings conflict or leave open questions.\n\n")
	sb.WriteString("Primary answer:\n")
	sb.WriteString(primary)
	for i, c := range children {
		sb.WriteString(fmt.Sprintf("\n\nSub-answer %d (%s):\n", i+1, c.Status))
		if c.Response != nil {
			sb.WriteString(*c.Response)
		}
	}

	reply, err := b.complete(ctx, sb.String())
	if err != nil {
		return "", false, err
	}
	summary, uncertain := splitConfidence(reply)
	return summary, uncertain, nil
}

func (b *Brain) complete(ctx context.Context, prompt string) (string, error) {
	res, err := b.adapter.Complete(ctx, brain.Request{Prompt: prompt})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(res.Text), nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

func trimListMarker(line string) string {
	line = strings.TrimSpace(line)
	line = strings.TrimPrefix(line, "- ")
	line = strings.TrimPrefix(line, "* ")
	if i := strings.IndexByte(line, '.'); i > 0 && i <= 2 {
		if _, err := strconv.Atoi(line[:i]); err == nil {
			line = strings.TrimSpace(line[i+1:])
		}
	}
	return line
}

func splitConfidence(reply string) (string, bool) {
	lines := strings.Split(strings.TrimSpace(reply), "\n")
	last := strings.ToUpper(strings.TrimSpace(lines[len(lines)-1]))
	if strings.HasPrefix(last, "CONFIDENCE:") {
		uncertain := strings.Contains(last, "LOW")
		summary := strings.TrimSpace(strings.Join(lines[:len(lines)-1], "\n"))
		return summary, uncertain
	}
	return strings.TrimSpace(reply), false
}
