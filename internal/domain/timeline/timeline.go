// Package timeline defines the per-session document written when a session
// is flushed.
package timeline

import (
	"time"

	"github.com/Strob0t/hookrelay/internal/domain/hookevent"
)

// EndReason records why a timeline was flushed.
type EndReason string

const (
	EndStop       EndReason = "stop"
	EndSessionEnd EndReason = "session_end"
	EndIdle       EndReason = "idle"
	EndShutdown   EndReason = "shutdown"
)

// TodoTool is the host tool's task-list writer; each call is a todo snapshot.
const TodoTool = "TodoWrite"

// Summary holds fields derived from a session's events.
type Summary struct {
	EventCount        int       `json:"event_count"`
	Agents            []string  `json:"agents"`
	ToolCallCount     int       `json:"tool_call_count"`
	TodoSnapshotCount int       `json:"todo_snapshot_count"`
	DelegationCount   int       `json:"delegation_count"`
	StartedAt         time.Time `json:"started_at"`
	EndedAt           time.Time `json:"ended_at"`
}

// Document is the persisted form of a flushed session timeline.
type Document struct {
	SchemaVersion int               `json:"schema_version"`
	SessionID     string            `json:"session_id"`
	EndReason     EndReason         `json:"end_reason"`
	FlushedAt     time.Time         `json:"flushed_at"`
	Summary       Summary           `json:"summary"`
	Events        []hookevent.Event `json:"events"`
}

// NewDocument builds the document for a session's ordered events.
func NewDocument(sessionID string, events []hookevent.Event, reason EndReason, flushedAt time.Time) Document {
	return Document{
		SchemaVersion: hookevent.SchemaVersion,
		SessionID:     sessionID,
		EndReason:     reason,
		FlushedAt:     flushedAt,
		Summary:       Summarize(events),
		Events:        events,
	}
}

// Summarize derives the summary fields from ordered events.
func Summarize(events []hookevent.Event) Summary {
	s := Summary{EventCount: len(events), Agents: []string{}}
	seen := make(map[string]struct{})
	for i := range events {
		ev := &events[i]
		if i == 0 {
			s.StartedAt = ev.Timestamp
		}
		s.EndedAt = ev.Timestamp

		if ev.AgentType != "" {
			if _, ok := seen[ev.AgentType]; !ok {
				seen[ev.AgentType] = struct{}{}
				s.Agents = append(s.Agents, ev.AgentType)
			}
		}

		if ev.Kind != hookevent.KindPreToolUse {
			continue
		}
		s.ToolCallCount++
		if tool, ok := ev.Tool(); ok {
			if tool.ToolName == TodoTool {
				s.TodoSnapshotCount++
			}
			if tool.Delegation {
				s.DelegationCount++
			}
		}
	}
	return s
}
