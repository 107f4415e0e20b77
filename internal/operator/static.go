package operator

import (
	"context"
	"strings"
)

// StaticResponder answers every question with a canned reply, declining when
// the prompt carries a "noanswer" token. Used for tests and the demo.
type StaticResponder struct {
	Reply string
}

func NewStaticResponder(reply string) *StaticResponder {
	if reply == "" {
		reply = "acknowledged"
	}
	return &StaticResponder{Reply: reply}
}

func (r *StaticResponder) Ask(ctx context.Context, nodeID, prompt string) (*string, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	if strings.Contains(prompt, "noanswer") {
		return nil, nil
	}
	reply := r.Reply
	return &reply, nil
}
