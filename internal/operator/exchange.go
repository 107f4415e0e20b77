// Package operator carries blocking questions from running agent nodes to a
// human operator and routes the answers back.
package operator

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Question is one pending request for operator input.
type Question struct {
	ID      string    `json:"id"`
	NodeID  string    `json:"node_id"`
	Prompt  string    `json:"prompt"`
	AskedAt time.Time `json:"asked_at"`
}

type pendingQuestion struct {
	question Question
	answer   chan *string
}

// Exchange is the inbox connecting nodes to the operator. Ask parks the
// question until Answer or Decline arrives; the node's context cancellation
// withdraws it. A nil answer means the operator declined.
type Exchange struct {
	mu      sync.Mutex
	pending map[string]*pendingQuestion

	// notify, when set, announces each new question (e.g. to the event feed).
	notify func(Question)

	// answerTimeout, when positive, converts an unanswered question into a
	// decline after the deadline. The protocol core imposes no timeout itself;
	// this is the host's concern.
	answerTimeout time.Duration
}

func NewExchange(answerTimeout time.Duration) *Exchange {
	return &Exchange{
		pending:       make(map[string]*pendingQuestion),
		answerTimeout: answerTimeout,
	}
}

func (e *Exchange) SetNotify(notify func(Question)) {
	e.mu.Lock()
	e.notify = notify
	e.mu.Unlock()
}

// Ask blocks until the operator answers, declines, the optional answer timeout
// fires (treated as a decline), or ctx is cancelled.
func (e *Exchange) Ask(ctx context.Context, nodeID, prompt string) (*string, error) {
	p := &pendingQuestion{
		question: Question{
			ID:      uuid.NewString(),
			NodeID:  nodeID,
			Prompt:  prompt,
			AskedAt: time.Now().UTC(),
		},
		answer: make(chan *string, 1),
	}

	e.mu.Lock()
	e.pending[p.question.ID] = p
	notify := e.notify
	e.mu.Unlock()
	if notify != nil {
		notify(p.question)
	}
	defer e.drop(p.question.ID)

	var deadline <-chan time.Time
	if e.answerTimeout > 0 {
		timer := time.NewTimer(e.answerTimeout)
		defer timer.Stop()
		deadline = timer.C
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-deadline:
		return nil, nil
	case answer := <-p.answer:
		return answer, nil
	}
}

// Answer delivers the operator's reply. Returns false when the question is
// unknown or already settled.
func (e *Exchange) Answer(questionID, text string) bool {
	return e.deliver(questionID, &text)
}

// Decline marks the question as answered with no answer.
func (e *Exchange) Decline(questionID string) bool {
	return e.deliver(questionID, nil)
}

// Pending lists open questions, oldest first.
func (e *Exchange) Pending() []Question {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Question, 0, len(e.pending))
	for _, p := range e.pending {
		out = append(out, p.question)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].AskedAt.Before(out[j].AskedAt)
	})
	return out
}

func (e *Exchange) deliver(questionID string, answer *string) bool {
	e.mu.Lock()
	p, ok := e.pending[questionID]
	if ok {
		delete(e.pending, questionID)
	}
	e.mu.Unlock()
	if !ok {
		return false
	}
	p.answer <- answer
	return true
}

func (e *Exchange) drop(questionID string) {
	e.mu.Lock()
	delete(e.pending, questionID)
	e.mu.Unlock()
}
