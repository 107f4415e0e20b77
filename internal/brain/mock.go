package brain

import (
	"context"
	"fmt"
	"strings"
)

// MockAdapter provides deterministic local replies for tests and the demo.
type MockAdapter struct{}

func NewMockAdapter() *MockAdapter { return &MockAdapter{} }

func (a *MockAdapter) Complete(ctx context.Context, req Request) (Response, error) {
	select {
	case <-ctx.Done():
		return Response{}, ctx.Err()
	default:
	}
	return Response{Text: buildMockReply(req)}, nil
}

func buildMockReply(req Request) string {
	prompt := strings.TrimSpace(req.Prompt)
	if len(prompt) > 60 {
		cut := strings.LastIndexByte(prompt[:60], ' ')
		if cut <= 0 {
			cut = 60
		}
		prompt = prompt[:cut] + "..."
	}
	if prompt == "" {
		prompt = "(empty prompt)"
	}
	return fmt.Sprintf("synthesized answer for %q", prompt)
}
