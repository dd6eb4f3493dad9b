// Package hookevent defines the canonical event stream produced from raw
// host-tool lifecycle events.
package hookevent

import "time"

// SchemaVersion is bumped whenever the Kind set or an Event field changes meaning.
const SchemaVersion = 1

// Kind identifies the canonical event kind. The set is closed; raw kinds
// outside it normalize to KindUnknown.
type Kind string

const (
	KindUserPromptSubmit Kind = "user_prompt_submit"
	KindPreToolUse       Kind = "pre_tool_use"
	KindPostToolUse      Kind = "post_tool_use"
	KindSubagentStart    Kind = "subagent_start"
	KindSubagentStop     Kind = "subagent_stop"
	KindStop             Kind = "stop"
	KindNotification     Kind = "notification"
	KindSessionStart     Kind = "session_start"
	KindSessionEnd       Kind = "session_end"
	KindPreCompact       Kind = "pre_compact"

	// Relay-originated kinds.
	KindDelegation        Kind = "delegation"
	KindDelegationMatched Kind = "delegation_matched"

	KindUnknown   Kind = "unknown"
	KindMalformed Kind = "malformed"
)

// hostKinds maps the host tool's event names onto canonical kinds.
var hostKinds = map[string]Kind{
	"UserPromptSubmit": KindUserPromptSubmit,
	"PreToolUse":       KindPreToolUse,
	"PostToolUse":      KindPostToolUse,
	"SubagentStart":    KindSubagentStart,
	"SubagentStop":     KindSubagentStop,
	"Stop":             KindStop,
	"Notification":     KindNotification,
	"SessionStart":     KindSessionStart,
	"SessionEnd":       KindSessionEnd,
	"PreCompact":       KindPreCompact,
}

// KindFromHost maps a raw host kind to its canonical Kind. Canonical names
// are accepted as-is. The second result is false for unrecognized kinds.
func KindFromHost(name string) (Kind, bool) {
	if k, ok := hostKinds[name]; ok {
		return k, true
	}
	for _, k := range hostKinds {
		if string(k) == name {
			return k, true
		}
	}
	return KindUnknown, false
}

// Terminal reports whether the kind closes a session timeline.
func (k Kind) Terminal() bool {
	return k == KindStop || k == KindSessionEnd
}

// Event is a normalized host-tool event.
type Event struct {
	ID                 string    `json:"id"`
	SchemaVersion      int       `json:"schema_version"`
	Kind               Kind      `json:"kind"`
	SessionID          string    `json:"session_id"`
	SessionIDSynthetic bool      `json:"session_id_synthetic,omitempty"`
	AgentID            string    `json:"agent_id,omitempty"`
	AgentType          string    `json:"agent_type,omitempty"`
	Timestamp          time.Time `json:"timestamp"`
	WorkingDirectory   string    `json:"working_directory,omitempty"`
	SourceControlRef   string    `json:"source_control_ref,omitempty"`
	Payload            Payload   `json:"payload"`
}

// Tool returns the tool payload for pre/post tool events.
func (e *Event) Tool() (*ToolPayload, bool) {
	p, ok := e.Payload.(*ToolPayload)
	return p, ok
}

// Payload is the kind-specific part of an Event. The concrete type is
// determined by the event's Kind.
type Payload interface {
	payload()
}

// PromptPayload carries a submitted user prompt.
type PromptPayload struct {
	Prompt string `json:"prompt"`
}

// ToolPayload carries a tool invocation (pre) or its result (post).
type ToolPayload struct {
	ToolName    string         `json:"tool_name"`
	ToolUseID   string         `json:"tool_use_id,omitempty"`
	Input       map[string]any `json:"input,omitempty"`
	Response    any            `json:"response,omitempty"`
	Delegation  bool           `json:"delegation,omitempty"`
	Description string         `json:"description,omitempty"`
}

// SubagentPayload carries a subagent lifecycle transition.
type SubagentPayload struct {
	AgentType string `json:"agent_type,omitempty"`
	Outcome   string `json:"outcome,omitempty"`
}

// StopPayload carries the end of a host-tool turn.
type StopPayload struct {
	Reason         string `json:"reason,omitempty"`
	StopHookActive bool   `json:"stop_hook_active,omitempty"`
}

// NotificationPayload carries a host-tool notification.
type NotificationPayload struct {
	Message          string `json:"message"`
	NotificationType string `json:"notification_type,omitempty"`
}

// SessionPayload carries session start/end and compaction markers.
type SessionPayload struct {
	Source string `json:"source,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// DelegationPayload carries a delegation derived from the task list.
type DelegationPayload struct {
	Agent         string `json:"agent"`
	Task          string `json:"task"`
	Source        string `json:"source"`
	DerivedFromID string `json:"derived_from_id"`
}

// DelegationMatchedPayload carries a correlated request/completion pair.
type DelegationMatchedPayload struct {
	RequestSessionID string    `json:"request_session_id"`
	AgentType        string    `json:"agent_type"`
	TaskDescription  string    `json:"task_description,omitempty"`
	ToolName         string    `json:"tool_name"`
	Outcome          string    `json:"outcome"`
	RequestedAt      time.Time `json:"requested_at"`
	CompletedAt      time.Time `json:"completed_at"`
	Fuzzy            bool      `json:"fuzzy,omitempty"`
}

// UnknownPayload keeps an unrecognized raw event for diagnostics.
type UnknownPayload struct {
	RawKind string         `json:"raw_kind"`
	Fields  map[string]any `json:"fields,omitempty"`
}

// MalformedPayload keeps unusable input for diagnostics. Raw holds
// undecodable bytes; Fields holds a decoded object that lacked a kind.
type MalformedPayload struct {
	Error  string         `json:"error"`
	Raw    string         `json:"raw,omitempty"`
	Fields map[string]any `json:"fields,omitempty"`
}

func (*PromptPayload) payload()            {}
func (*ToolPayload) payload()              {}
func (*SubagentPayload) payload()          {}
func (*StopPayload) payload()              {}
func (*NotificationPayload) payload()      {}
func (*SessionPayload) payload()           {}
func (*DelegationPayload) payload()        {}
func (*DelegationMatchedPayload) payload() {}
func (*UnknownPayload) payload()           {}
func (*MalformedPayload) payload()         {}

// newPayload returns an empty payload of the concrete type used for kind.
func newPayload(kind Kind) Payload {
	switch kind {
	case KindUserPromptSubmit:
		return &PromptPayload{}
	case KindPreToolUse, KindPostToolUse:
		return &ToolPayload{}
	case KindSubagentStart, KindSubagentStop:
		return &SubagentPayload{}
	case KindStop:
		return &StopPayload{}
	case KindNotification:
		return &NotificationPayload{}
	case KindSessionStart, KindSessionEnd, KindPreCompact:
		return &SessionPayload{}
	case KindDelegation:
		return &DelegationPayload{}
	case KindDelegationMatched:
		return &DelegationMatchedPayload{}
	case KindMalformed:
		return &MalformedPayload{}
	default:
		return &UnknownPayload{}
	}
}
