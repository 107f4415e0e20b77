package agents

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Decider supplies the decision strategies the run protocol consults. The
// protocol depends only on what these return, never on how they decide.
type Decider interface {
	NeedsClarification(ctx context.Context, content string) (bool, error)
	BlockingQuestion(ctx context.Context, content string) (question string, ok bool, err error)
	Subquestions(ctx context.Context, content string) ([]string, error)
	Summarize(ctx context.Context, primary string, children []ChildOutcome) (summary string, uncertain bool, err error)
}

// Asker solicits an answer from the external operator. A nil answer with a nil
// error means the operator declined; that is a normal opt-out, not a failure.
type Asker interface {
	Ask(ctx context.Context, nodeID, prompt string) (*string, error)
}

// Answerer produces an answer for a prompt, typically by calling a language
// model through the brain adapter.
type Answerer interface {
	Answer(ctx context.Context, nodeID, prompt string) (string, error)
}

// Env bundles the collaborators shared by every node in one tree. It is built
// once by the runtime service and injected at node construction.
type Env struct {
	Registry *Registry
	Decider  Decider
	Asker    Asker
	Answerer Answerer

	// MaxDepth stops recursive spawning: nodes at this depth get no children.
	// Zero or negative means unlimited.
	MaxDepth int

	// Archive, when set, receives the durable record of every settled node.
	// It must not block.
	Archive func(Record)
}

// Content fragments appended during the run keep their origin distinguishable
// from the operator's original text.
const (
	operatorAnswerTag = "\n[operator_answer] "
	uncertaintyTag    = "\n[uncertainty] "
)

// Node is one unit of recursive work. Its mutable fields are guarded by mu
// against concurrent access from its own run protocol and from operator
// interventions. The lock is never held across a collaborator call, and never
// held while taking the registry lock.
type Node struct {
	id        string
	parentID  string
	depth     int
	createdAt time.Time
	env       *Env

	mu         sync.Mutex
	content    string
	annotation string
	status     Status
	children   []string
	result     *Result
	cancelRun  context.CancelFunc
}

// NewNode creates a node and registers it in the live tree before its run
// protocol begins.
func NewNode(env *Env, parentID, content, annotation string, depth int) (*Node, error) {
	annotation = strings.TrimSpace(annotation)
	if annotation == "" {
		annotation = AnnotationUnchanged
	}
	n := &Node{
		id:         uuid.NewString(),
		parentID:   parentID,
		depth:      depth,
		createdAt:  time.Now().UTC(),
		env:        env,
		content:    content,
		annotation: annotation,
		status:     StatusRunning,
	}
	if err := env.Registry.Insert(n); err != nil {
		return nil, err
	}
	return n, nil
}

func (n *Node) ID() string       { return n.id }
func (n *Node) ParentID() string { return n.parentID }

// BindCancel installs the cancel function that Registry.Cancel invokes to stop
// this node's unit of work. The runtime binds it before starting Run.
func (n *Node) BindCancel(cancel context.CancelFunc) {
	n.mu.Lock()
	n.cancelRun = cancel
	n.mu.Unlock()
}

// CancelRun requests that the node stop at its next suspension point. Children
// inherit the cancellation through their derived contexts.
func (n *Node) CancelRun() {
	n.mu.Lock()
	cancel := n.cancelRun
	n.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Run executes the node's protocol to settlement and returns its Result. It
// never panics outward and never leaves the node registered: any failure past
// this boundary settles the node with status error instead of crashing a
// sibling or the caller.
func (n *Node) Run(ctx context.Context) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("unexpected failure: %v", r)
			res = n.finish(StatusError, &msg, nil)
		}
	}()

	// STEP 1: clarification.
	if st, stop := n.interrupted(ctx); stop {
		return n.finish(st, nil, nil)
	}
	needs, err := n.env.Decider.NeedsClarification(ctx, n.Content())
	if err != nil {
		return n.failOrCancel(ctx, err, nil)
	}
	if needs {
		answer, err := n.env.Asker.Ask(ctx, n.id, "Clarify: "+n.Content())
		if err != nil {
			return n.failOrCancel(ctx, err, nil)
		}
		if answer == nil {
			// Operator opted out; a normal, child-free completion.
			return n.finish(StatusCompleted, nil, nil)
		}
		n.setContent(*answer)
	}

	// STEP 2: blocking-question loop.
	for {
		if st, stop := n.interrupted(ctx); stop {
			return n.finish(st, nil, nil)
		}
		question, ok, err := n.env.Decider.BlockingQuestion(ctx, n.Content())
		if err != nil {
			return n.failOrCancel(ctx, err, nil)
		}
		if !ok {
			break
		}
		answer, err := n.env.Asker.Ask(ctx, n.id, question)
		if err != nil {
			return n.failOrCancel(ctx, err, nil)
		}
		if answer == nil {
			return n.finish(StatusCompleted, nil, nil)
		}
		n.appendContent(operatorAnswerTag + *answer)
	}

	// STEP 3: sub-question generation. Fan-out width is the strategy's
	// responsibility; recursion depth is capped here.
	var subqs []string
	if n.env.MaxDepth <= 0 || n.depth < n.env.MaxDepth {
		subqs, err = n.env.Decider.Subquestions(ctx, n.Content())
		if err != nil {
			return n.failOrCancel(ctx, err, nil)
		}
	}

	// STEP 4: spawn children and start the primary answer without awaiting it.
	settled := make(chan Result, len(subqs))
	var childCancels []context.CancelFunc
	defer func() {
		for _, cancel := range childCancels {
			cancel()
		}
	}()
	spawned := 0
	for _, q := range subqs {
		q = strings.TrimSpace(q)
		if q == "" {
			continue
		}
		child, err := NewNode(n.env, n.id, q, AnnotationUnchanged, n.depth+1)
		if err != nil {
			return n.failOrCancel(ctx, err, nil)
		}
		n.appendChild(child.id)
		childCtx, childCancel := context.WithCancel(ctx)
		child.BindCancel(childCancel)
		childCancels = append(childCancels, childCancel)
		spawned++
		go func(c *Node, cctx context.Context) {
			settled <- c.Run(cctx)
		}(child, childCtx)
	}

	type primaryOut struct {
		text string
		err  error
	}
	primary := make(chan primaryOut, 1)
	go func(content string) {
		text, err := n.env.Answerer.Answer(ctx, n.id, content)
		primary <- primaryOut{text: text, err: err}
	}(n.Content())

	// STEP 5: annotation branch. The annotation is re-read here, under the
	// guard, so a late intervention still counts up until this point.
	if st, stop := n.interrupted(ctx); stop {
		return n.finish(st, nil, nil)
	}
	switch n.Annotation() {
	case AnnotationDelete:
		rationale, err := n.env.Answerer.Answer(ctx, n.id, deletePrompt(n.Content()))
		if err != nil {
			return n.failOrCancel(ctx, err, nil)
		}
		for _, cancel := range childCancels {
			cancel()
		}
		return n.finish(StatusDeleted, &rationale, nil)
	case AnnotationModify:
		modified, err := n.env.Answerer.Answer(ctx, n.id, modifyPrompt(n.Content()))
		if err != nil {
			return n.failOrCancel(ctx, err, nil)
		}
		res := n.settle(StatusModified, &modified, nil)
		// The children's work is preserved: await them, do not cancel.
		for i := 0; i < spawned; i++ {
			<-settled
		}
		n.unregister()
		return res
	}

	// STEP 6: fan-in and summarize.
	own := <-primary
	if own.err != nil {
		return n.failOrCancel(ctx, own.err, nil)
	}
	outcomes := make([]ChildOutcome, 0, spawned)
	for i := 0; i < spawned; i++ {
		// Consumed in settlement order, not spawn order.
		r := <-settled
		outcomes = append(outcomes, ChildOutcome{ID: r.ID, Status: r.Status, Response: r.Response})
	}

	summary, uncertain, err := n.env.Decider.Summarize(ctx, own.text, outcomes)
	if err != nil {
		return n.failOrCancel(ctx, err, outcomes)
	}
	if !uncertain {
		return n.finish(StatusCompleted, &summary, outcomes)
	}

	// An uncertain summary buys at most one extra blocking round.
	n.appendContent(uncertaintyTag + summary)
	question, ok, err := n.env.Decider.BlockingQuestion(ctx, n.Content())
	if err != nil {
		return n.failOrCancel(ctx, err, outcomes)
	}
	if !ok {
		return n.finish(StatusCompleted, &summary, outcomes)
	}
	answer, err := n.env.Asker.Ask(ctx, n.id, question)
	if err != nil {
		return n.failOrCancel(ctx, err, outcomes)
	}
	if answer == nil {
		return n.finish(StatusCompleted, nil, outcomes)
	}
	n.appendContent(operatorAnswerTag + *answer)
	final, err := n.env.Answerer.Answer(ctx, n.id, n.Content())
	if err != nil {
		return n.failOrCancel(ctx, err, outcomes)
	}
	return n.finish(StatusCompleted, &final, outcomes)
}

func (n *Node) Content() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.content
}

func (n *Node) Annotation() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.annotation
}

func (n *Node) Status() Status {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.status
}

func (n *Node) Children() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.children))
	copy(out, n.children)
	return out
}

func (n *Node) setContent(content string) {
	n.mu.Lock()
	n.content = content
	n.mu.Unlock()
}

func (n *Node) appendContent(fragment string) {
	n.mu.Lock()
	n.content += fragment
	n.mu.Unlock()
}

func (n *Node) appendChild(id string) {
	n.mu.Lock()
	n.children = append(n.children, id)
	n.mu.Unlock()
}

func (n *Node) view() TreeNode {
	n.mu.Lock()
	defer n.mu.Unlock()
	children := make([]string, len(n.children))
	copy(children, n.children)
	return TreeNode{
		Content:    n.content,
		Annotation: n.annotation,
		Status:     n.status,
		Children:   children,
	}
}

func (n *Node) applyOverride(ov Override) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if ov.Annotation != nil {
		a := strings.TrimSpace(*ov.Annotation)
		if a == "" {
			a = AnnotationUnchanged
		}
		n.annotation = a
	}
	if ov.Content != nil {
		n.content = *ov.Content
	}
	if ov.Status != nil && n.status == StatusRunning && ov.Status.valid() {
		n.status = *ov.Status
	}
}

// interrupted reports whether the node should stop before its next step:
// either its context was cancelled or an intervention already moved status off
// running.
func (n *Node) interrupted(ctx context.Context) (Status, bool) {
	if ctx.Err() != nil {
		return StatusCancelled, true
	}
	n.mu.Lock()
	st := n.status
	n.mu.Unlock()
	if st != StatusRunning {
		return st, true
	}
	return StatusRunning, false
}

// failOrCancel folds a collaborator error into the node's settlement: a
// cancelled context settles as cancelled, anything else as error with the
// failure description.
func (n *Node) failOrCancel(ctx context.Context, err error, outcomes []ChildOutcome) Result {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return n.finish(StatusCancelled, nil, outcomes)
	}
	msg := err.Error()
	return n.finish(StatusError, &msg, outcomes)
}

// settle fixes the node's terminal status and result. The first terminal
// status wins: an intervention that already moved status off running is kept.
func (n *Node) settle(status Status, response *string, children []ChildOutcome) Result {
	n.mu.Lock()
	if n.status == StatusRunning {
		n.status = status
	}
	if n.result == nil {
		n.result = &Result{ID: n.id, Response: response, Status: n.status, Children: children}
	}
	res := *n.result
	n.mu.Unlock()
	return res
}

// unregister removes the node from the live tree, publishes its settlement and
// hands the durable record to the archive hook. Called only after the node has
// a result.
func (n *Node) unregister() {
	rec := n.record()
	n.env.Registry.Remove(n.id)
	n.env.Registry.publishSettled(rec)
	if n.env.Archive != nil {
		n.env.Archive(rec)
	}
}

func (n *Node) finish(status Status, response *string, children []ChildOutcome) Result {
	res := n.settle(status, response, children)
	n.unregister()
	return res
}

func (n *Node) record() Record {
	n.mu.Lock()
	defer n.mu.Unlock()
	rec := Record{
		ID:         n.id,
		ParentID:   n.parentID,
		Content:    n.content,
		Annotation: n.annotation,
		Status:     n.status,
		CreatedAt:  n.createdAt,
		SettledAt:  time.Now().UTC(),
	}
	if n.result != nil {
		rec.Response = n.result.Response
		rec.Children = append([]ChildOutcome(nil), n.result.Children...)
	}
	return rec
}

func deletePrompt(content string) string {
	return "Explain briefly why this line of inquiry is being dropped: " + content
}

func modifyPrompt(content string) string {
	return "Rework the following request as directed by the operator notes it contains: " + content
}
