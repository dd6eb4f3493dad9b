package service

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/crypto/blake2b"

	"github.com/Strob0t/hookrelay/internal/domain/hookevent"
)

// Raw field fallback chains, primary name first.
var (
	sessionKeys   = []string{"session_id", "sessionId", "session", "conversation_id"}
	agentTypeKeys = []string{"tool_input.subagent_type", "agent_type", "subagent_type", "agent", "agent_name"}
	cwdKeys       = []string{"cwd", "working_directory", "workingDirectory"}
	refKeys       = []string{"git_branch", "branch", "source_control_ref"}
	toolNameKeys  = []string{"tool_name", "tool"}
	toolInputKeys = []string{"tool_input", "input", "parameters"}
	timestampKeys = []string{"timestamp", "ts"}
	outcomeKeys   = []string{"outcome", "result", "status", "reason"}
)

// DefaultOutcome is recorded for subagent events that carry no outcome.
const DefaultOutcome = "completed"

// maxMalformedRaw caps how much undecodable input a malformed event keeps.
const maxMalformedRaw = 4096

// sessionRef is what the normalizer remembers per process context.
type sessionRef struct {
	id        string
	synthetic bool
}

// Normalizer turns raw host-tool events into canonical events. It never
// fails: undecodable input becomes a malformed event. The only state is a
// bounded map from process context to the last session id seen there.
type Normalizer struct {
	delegationTools map[string]bool
	contexts        *lru.Cache[string, sessionRef]
	newID           func() string
	now             func() time.Time
}

// NewNormalizer creates a Normalizer. delegationTools names the tools whose
// pre_tool_use events open a delegation; contextSize bounds the
// process-context cache.
func NewNormalizer(delegationTools []string, contextSize int) (*Normalizer, error) {
	if contextSize < 1 {
		contextSize = 1024
	}
	cache, err := lru.New[string, sessionRef](contextSize)
	if err != nil {
		return nil, fmt.Errorf("session context cache: %w", err)
	}
	tools := make(map[string]bool, len(delegationTools))
	for _, t := range delegationTools {
		tools[t] = true
	}
	return &Normalizer{
		delegationTools: tools,
		contexts:        cache,
		newID:           uuid.NewString,
		now:             time.Now,
	}, nil
}

// NormalizeBytes decodes one JSON object and normalizes it.
func (n *Normalizer) NormalizeBytes(data []byte, processContext string, receivedAt time.Time) hookevent.Event {
	fields, err := hookevent.DecodeRaw(data)
	if err != nil {
		raw := hookevent.Raw{ProcessContext: processContext, ReceivedAt: receivedAt}
		return n.malformed(raw, fmt.Errorf("decode raw event: %w", err), data)
	}
	return n.Normalize(hookevent.Raw{Fields: fields, ProcessContext: processContext, ReceivedAt: receivedAt})
}

// Normalize maps a decoded raw event onto the canonical schema.
func (n *Normalizer) Normalize(raw hookevent.Raw) hookevent.Event {
	rawKind := raw.String(hookevent.KindFields...)
	if rawKind == "" {
		return n.malformed(raw, fmt.Errorf("missing kind discriminator (one of %s)", strings.Join(hookevent.KindFields, ", ")), nil)
	}
	kind, _ := hookevent.KindFromHost(rawKind)

	sessionID, synthetic := n.resolveSession(raw)
	agentType := raw.String(agentTypeKeys...)

	ev := hookevent.Event{
		ID:                 n.newID(),
		SchemaVersion:      hookevent.SchemaVersion,
		Kind:               kind,
		SessionID:          sessionID,
		SessionIDSynthetic: synthetic,
		AgentType:          agentType,
		Timestamp:          n.timestamp(raw),
		WorkingDirectory:   raw.String(cwdKeys...),
		SourceControlRef:   raw.String(refKeys...),
	}
	if agentType != "" {
		ev.AgentID = AgentID(sessionID, agentType)
	}
	ev.Payload = n.payload(kind, rawKind, agentType, raw)
	return ev
}

func (n *Normalizer) payload(kind hookevent.Kind, rawKind, agentType string, raw hookevent.Raw) hookevent.Payload {
	switch kind {
	case hookevent.KindUserPromptSubmit:
		return &hookevent.PromptPayload{Prompt: raw.String("prompt", "user_prompt", "message")}
	case hookevent.KindPreToolUse, hookevent.KindPostToolUse:
		name := raw.String(toolNameKeys...)
		p := &hookevent.ToolPayload{
			ToolName:    name,
			ToolUseID:   raw.String("tool_use_id"),
			Input:       raw.Map(toolInputKeys...),
			Description: raw.String("tool_input.description", "tool_input.prompt", "description"),
			Delegation:  n.delegationTools[name],
		}
		if v, ok := raw.Value("tool_response", "response", "tool_output"); ok {
			p.Response = v
		}
		return p
	case hookevent.KindSubagentStart, hookevent.KindSubagentStop:
		outcome := raw.String(outcomeKeys...)
		if outcome == "" {
			outcome = DefaultOutcome
		}
		return &hookevent.SubagentPayload{AgentType: agentType, Outcome: outcome}
	case hookevent.KindStop:
		return &hookevent.StopPayload{
			Reason:         raw.String("reason", "stop_reason"),
			StopHookActive: raw.Bool("stop_hook_active"),
		}
	case hookevent.KindNotification:
		return &hookevent.NotificationPayload{
			Message:          raw.String("message"),
			NotificationType: raw.String("notification_type"),
		}
	case hookevent.KindSessionStart, hookevent.KindSessionEnd, hookevent.KindPreCompact:
		return &hookevent.SessionPayload{
			Source: raw.String("source", "trigger"),
			Reason: raw.String("reason"),
		}
	default:
		return &hookevent.UnknownPayload{RawKind: rawKind, Fields: raw.Fields}
	}
}

// resolveSession returns the raw session id, else the last id seen for the
// same process context, else a new synthetic id remembered for that context.
func (n *Normalizer) resolveSession(raw hookevent.Raw) (string, bool) {
	if id := raw.String(sessionKeys...); id != "" {
		if raw.ProcessContext != "" {
			n.contexts.Add(raw.ProcessContext, sessionRef{id: id})
		}
		return id, false
	}
	if raw.ProcessContext != "" {
		if ref, ok := n.contexts.Get(raw.ProcessContext); ok {
			return ref.id, ref.synthetic
		}
	}
	id := "syn-" + n.newID()
	if raw.ProcessContext != "" {
		n.contexts.Add(raw.ProcessContext, sessionRef{id: id, synthetic: true})
	}
	return id, true
}

func (n *Normalizer) timestamp(raw hookevent.Raw) time.Time {
	if ts, ok := raw.Time(timestampKeys...); ok {
		return ts
	}
	if !raw.ReceivedAt.IsZero() {
		return raw.ReceivedAt.UTC()
	}
	return n.now().UTC()
}

func (n *Normalizer) malformed(raw hookevent.Raw, cause error, data []byte) hookevent.Event {
	sessionID, synthetic := n.resolveSession(raw)
	if len(data) > maxMalformedRaw {
		data = data[:maxMalformedRaw]
	}
	return hookevent.Event{
		ID:                 n.newID(),
		SchemaVersion:      hookevent.SchemaVersion,
		Kind:               hookevent.KindMalformed,
		SessionID:          sessionID,
		SessionIDSynthetic: synthetic,
		Timestamp:          n.timestamp(raw),
		Payload:            &hookevent.MalformedPayload{Error: cause.Error(), Raw: string(data), Fields: raw.Fields},
	}
}

// AgentID derives a stable agent id from a session id and agent type.
func AgentID(sessionID, agentType string) string {
	sum := blake2b.Sum256([]byte(sessionID + "\x00" + agentType))
	return "agt_" + hex.EncodeToString(sum[:8])
}
