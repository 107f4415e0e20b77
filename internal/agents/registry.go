package agents

import (
	"errors"
	"sync"
	"time"
)

var (
	ErrNotFound    = errors.New("agent not found")
	ErrDuplicateID = errors.New("agent id already registered")
)

const defaultEventHistoryLimit = 512

// Registry is the process-wide map of live nodes. Its coarse mutex guards
// membership only; node fields are guarded by each node's own lock. Code
// holding a node lock must never take the registry lock, which lets Snapshot
// safely take node locks while holding the registry lock.
type Registry struct {
	mu          sync.Mutex
	nodes       map[string]*Node
	events      []Event
	eventMax    int
	subscribers map[int]chan Event
	nextSubID   int
}

func NewRegistry() *Registry {
	return &Registry{
		nodes:       make(map[string]*Node),
		eventMax:    defaultEventHistoryLimit,
		subscribers: make(map[int]chan Event),
	}
}

func (r *Registry) Insert(n *Node) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.nodes[n.id]; ok {
		return ErrDuplicateID
	}
	r.nodes[n.id] = n
	view := n.view()
	r.publishLocked(Event{
		Type:       EventAgentSpawned,
		NodeID:     n.id,
		ParentID:   n.parentID,
		Content:    view.Content,
		Annotation: view.Annotation,
		Status:     view.Status,
		At:         time.Now().UTC(),
	})
	return nil
}

// Remove drops the node from the live tree. No-op when the id is absent.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.nodes, id)
}

func (r *Registry) Get(id string) (*Node, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.nodes[id]
	return n, ok
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.nodes)
}

// Snapshot returns a point-in-time copy of every live node. The registry lock
// is held for the whole walk so concurrent inserts and removals never show a
// half-registered node; the returned data is detached from the live tree.
func (r *Registry) Snapshot() map[string]TreeNode {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]TreeNode, len(r.nodes))
	for id, n := range r.nodes {
		out[id] = n.view()
	}
	return out
}

// ApplyOverride looks the node up and applies the override under the node's
// own lock. The registry lock is released before the node lock is taken.
// Returns false when the node is not (or no longer) registered.
func (r *Registry) ApplyOverride(id string, ov Override) bool {
	r.mu.Lock()
	n := r.nodes[id]
	r.mu.Unlock()
	if n == nil {
		return false
	}
	n.applyOverride(ov)
	view := n.view()
	r.publish(Event{
		Type:       EventAgentIntervened,
		NodeID:     id,
		ParentID:   n.parentID,
		Content:    view.Content,
		Annotation: view.Annotation,
		Status:     view.Status,
		At:         time.Now().UTC(),
	})
	return true
}

// Cancel requests cooperative cancellation of the node's unit of work and,
// through context inheritance, of its whole subtree.
func (r *Registry) Cancel(id string) bool {
	r.mu.Lock()
	n := r.nodes[id]
	r.mu.Unlock()
	if n == nil {
		return false
	}
	n.CancelRun()
	return true
}

// PublishQuestion announces a pending operator question so observers can
// surface it. The answer flows back through the operator exchange, not here.
func (r *Registry) PublishQuestion(nodeID, questionID, prompt string) {
	r.publish(Event{
		Type:       EventAgentQuestion,
		NodeID:     nodeID,
		QuestionID: questionID,
		Prompt:     prompt,
		At:         time.Now().UTC(),
	})
}

func (r *Registry) publishSettled(rec Record) {
	r.publish(Event{
		Type:     EventAgentSettled,
		NodeID:   rec.ID,
		ParentID: rec.ParentID,
		Status:   rec.Status,
		Response: rec.Response,
		At:       rec.SettledAt,
	})
}

// Subscribe registers an observer for lifecycle events. The returned func
// unsubscribes and closes the channel. Slow consumers drop events rather than
// block publishers.
func (r *Registry) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 256)
	r.mu.Lock()
	r.nextSubID++
	id := r.nextSubID
	r.subscribers[id] = ch
	r.mu.Unlock()

	return ch, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if c, ok := r.subscribers[id]; ok {
			delete(r.subscribers, id)
			close(c)
		}
	}
}

// Events returns up to limit of the most recent lifecycle events.
func (r *Registry) Events(limit int) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	events := r.events
	start := 0
	if limit > 0 && limit < len(events) {
		start = len(events) - limit
	}
	out := make([]Event, len(events)-start)
	copy(out, events[start:])
	return out
}

func (r *Registry) publish(evt Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.publishLocked(evt)
}

func (r *Registry) publishLocked(evt Event) {
	r.events = append(r.events, evt)
	if max := r.eventMax; max > 0 && len(r.events) > max {
		trimFrom := len(r.events) - max
		r.events = append([]Event(nil), r.events[trimFrom:]...)
	}
	for _, ch := range r.subscribers {
		select {
		case ch <- evt:
		default:
		}
	}
}
