package agents

import "time"

type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusDeleted   Status = "deleted"
	StatusModified  Status = "modified"
	StatusCancelled Status = "cancelled"
	StatusError     Status = "error"
)

func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusDeleted, StatusModified, StatusCancelled, StatusError:
		return true
	default:
		return false
	}
}

func (s Status) valid() bool {
	return s == StatusRunning || s.Terminal()
}

// Annotation values with reserved meaning. Anything else is free-form operator
// commentary and leaves the node on its default path.
const (
	AnnotationUnchanged = "unchanged"
	AnnotationDelete    = "delete"
	AnnotationModify    = "modify"
)

// Result is a node's settled outcome. Every node produces exactly one.
type Result struct {
	ID       string         `json:"id"`
	Response *string        `json:"response"`
	Status   Status         `json:"status"`
	Children []ChildOutcome `json:"children,omitempty"`
}

// ChildOutcome records how one spawned child settled, in completion order.
type ChildOutcome struct {
	ID       string  `json:"id"`
	Status   Status  `json:"status"`
	Response *string `json:"response"`
}

// TreeNode is the read-only view of a live node exposed to observers.
type TreeNode struct {
	Content    string   `json:"content"`
	Annotation string   `json:"annotation"`
	Status     Status   `json:"status"`
	Children   []string `json:"children"`
}

// Override carries an operator intervention. Nil fields are left untouched; an
// empty annotation resets to "unchanged". Status is applied only while the node
// is still running so terminal statuses stay final.
type Override struct {
	Annotation *string `json:"annotation,omitempty"`
	Content    *string `json:"content,omitempty"`
	Status     *Status `json:"status,omitempty"`
}

// Record is the durable form of a settled node, written to the result store.
type Record struct {
	ID         string         `json:"id"`
	ParentID   string         `json:"parent_id,omitempty"`
	Content    string         `json:"content"`
	Annotation string         `json:"annotation"`
	Status     Status         `json:"status"`
	Response   *string        `json:"response"`
	Children   []ChildOutcome `json:"children,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	SettledAt  time.Time      `json:"settled_at"`
}

type EventType string

const (
	EventAgentSpawned    EventType = "agent_spawned"
	EventAgentQuestion   EventType = "agent_question"
	EventAgentIntervened EventType = "agent_intervened"
	EventAgentSettled    EventType = "agent_settled"
)

// Event is a lifecycle notification published to tree observers.
type Event struct {
	Type       EventType `json:"type"`
	NodeID     string    `json:"node_id"`
	ParentID   string    `json:"parent_id,omitempty"`
	Content    string    `json:"content,omitempty"`
	Annotation string    `json:"annotation,omitempty"`
	Status     Status    `json:"status,omitempty"`
	Response   *string   `json:"response,omitempty"`
	QuestionID string    `json:"question_id,omitempty"`
	Prompt     string    `json:"prompt,omitempty"`
	At         time.Time `json:"at"`
}
