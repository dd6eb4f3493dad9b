// Package delegation defines work delegations to named agents, either
// explicit (a delegation tool call) or implicit (derived from a task list).
package delegation

import "time"

// Request is an outstanding delegation recorded from a "start work" tool call.
type Request struct {
	SessionID       string    `json:"session_id"`
	AgentType       string    `json:"agent_type"`
	TaskDescription string    `json:"task_description,omitempty"`
	ToolName        string    `json:"tool_name"`
	RequestedAt     time.Time `json:"requested_at"`
}

// Completion is produced from a "work finished" event.
type Completion struct {
	SessionID   string    `json:"session_id"`
	AgentType   string    `json:"agent_type"`
	Outcome     string    `json:"outcome"`
	CompletedAt time.Time `json:"completed_at"`
}

// Pair is a request matched to its completion.
type Pair struct {
	Request    Request    `json:"request"`
	Completion Completion `json:"completion"`
	// Fuzzy is set when the session ids differed and the match was made by prefix.
	Fuzzy bool `json:"fuzzy,omitempty"`
}

// Duration is the time between request and completion.
func (p Pair) Duration() time.Duration {
	return p.Completion.CompletedAt.Sub(p.Request.RequestedAt)
}

// SourceTodo marks mappings derived from the task list.
const SourceTodo = "todo"

// Mapping is an implicit delegation derived from one task-list item.
type Mapping struct {
	Agent         string `json:"agent"`
	Task          string `json:"task"`
	Source        string `json:"source"`
	DerivedFromID string `json:"derived_from_id"`
}
