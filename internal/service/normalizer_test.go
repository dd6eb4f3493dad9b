package service

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/Strob0t/hookrelay/internal/domain/hookevent"
)

func newTestNormalizer(t *testing.T) *Normalizer {
	t.Helper()
	n, err := NewNormalizer([]string{"Task", "delegate"}, 16)
	if err != nil {
		t.Fatal(err)
	}
	return n
}

var received = time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)

func normalizeJSON(t *testing.T, n *Normalizer, js, processContext string) hookevent.Event {
	t.Helper()
	return n.NormalizeBytes([]byte(js), processContext, received)
}

func TestNormalizePreservesSessionIDForEveryKind(t *testing.T) {
	n := newTestNormalizer(t)
	kinds := []struct {
		raw  string
		want hookevent.Kind
	}{
		{"UserPromptSubmit", hookevent.KindUserPromptSubmit},
		{"PreToolUse", hookevent.KindPreToolUse},
		{"PostToolUse", hookevent.KindPostToolUse},
		{"SubagentStart", hookevent.KindSubagentStart},
		{"SubagentStop", hookevent.KindSubagentStop},
		{"Stop", hookevent.KindStop},
		{"Notification", hookevent.KindNotification},
		{"SessionStart", hookevent.KindSessionStart},
		{"SessionEnd", hookevent.KindSessionEnd},
		{"PreCompact", hookevent.KindPreCompact},
		{"SomethingNew", hookevent.KindUnknown},
	}
	aliases := []string{"session_id", "sessionId", "session", "conversation_id"}

	for _, k := range kinds {
		for _, alias := range aliases {
			t.Run(k.raw+"/"+alias, func(t *testing.T) {
				js := `{"hook_event_name":"` + k.raw + `","` + alias + `":"sess-42"}`
				ev := normalizeJSON(t, n, js, "")
				if ev.Kind != k.want {
					t.Errorf("kind = %s, want %s", ev.Kind, k.want)
				}
				if ev.SessionID != "sess-42" || ev.SessionIDSynthetic {
					t.Errorf("session = %q (synthetic=%v), want sess-42", ev.SessionID, ev.SessionIDSynthetic)
				}
			})
		}
	}
}

func TestNormalizeKindDiscriminatorAliases(t *testing.T) {
	n := newTestNormalizer(t)
	for _, field := range hookevent.KindFields {
		ev := normalizeJSON(t, n, `{"`+field+`":"Stop","session_id":"s"}`, "")
		if ev.Kind != hookevent.KindStop {
			t.Errorf("%s: kind = %s, want stop", field, ev.Kind)
		}
	}
}

func TestNormalizeIsIdempotent(t *testing.T) {
	n := newTestNormalizer(t)
	js := `{"hook_event_name":"PreToolUse","session_id":"s1","tool_name":"Task",
		"tool_input":{"subagent_type":"engineer","description":"build it"},
		"cwd":"/work","git_branch":"main","timestamp":"2026-06-01T07:00:00Z"}`

	a := normalizeJSON(t, n, js, "ppid-1")
	b := normalizeJSON(t, n, js, "ppid-1")

	// Event ids are unique per normalization; everything else must match.
	a.ID, b.ID = "", ""
	ja, _ := json.Marshal(a)
	jb, _ := json.Marshal(b)
	if string(ja) != string(jb) {
		t.Fatalf("normalization is not idempotent:\n%s\n%s", ja, jb)
	}
	if a.AgentID == "" || a.AgentID != AgentID("s1", "engineer") {
		t.Fatalf("unexpected agent id %q", a.AgentID)
	}
}

func TestNormalizeToolEvent(t *testing.T) {
	n := newTestNormalizer(t)
	ev := normalizeJSON(t, n, `{"hook_event_name":"PreToolUse","session_id":"s1","tool":"delegate",
		"input":{"agent_type":"engineer","description":"write parser"},"working_directory":"/w","branch":"dev"}`, "")

	tool, ok := ev.Tool()
	if !ok {
		t.Fatalf("expected tool payload, got %T", ev.Payload)
	}
	if tool.ToolName != "delegate" || !tool.Delegation {
		t.Errorf("unexpected tool payload %+v", tool)
	}
	if tool.Input["description"] != "write parser" {
		t.Errorf("input alias lost: %v", tool.Input)
	}
	if ev.WorkingDirectory != "/w" || ev.SourceControlRef != "dev" {
		t.Errorf("aliases lost: cwd=%q ref=%q", ev.WorkingDirectory, ev.SourceControlRef)
	}
	if ev.AgentType != "engineer" {
		t.Errorf("agent type = %q", ev.AgentType)
	}
}

func TestNormalizeNonDelegationTool(t *testing.T) {
	n := newTestNormalizer(t)
	ev := normalizeJSON(t, n, `{"hook_event_name":"PreToolUse","session_id":"s1","tool_name":"Bash"}`, "")
	if tool, _ := ev.Tool(); tool.Delegation {
		t.Fatal("Bash must not open a delegation")
	}
}

func TestNormalizeSubagentOutcome(t *testing.T) {
	n := newTestNormalizer(t)
	tests := []struct {
		js   string
		want string
	}{
		{`{"hook_event_name":"SubagentStop","session_id":"s","agent_type":"qa","outcome":"ok"}`, "ok"},
		{`{"hook_event_name":"SubagentStop","session_id":"s","result":"failed"}`, "failed"},
		{`{"hook_event_name":"SubagentStop","session_id":"s","status":"cancelled"}`, "cancelled"},
		{`{"hook_event_name":"SubagentStop","session_id":"s"}`, DefaultOutcome},
	}
	for _, tt := range tests {
		ev := normalizeJSON(t, n, tt.js, "")
		p, ok := ev.Payload.(*hookevent.SubagentPayload)
		if !ok {
			t.Fatalf("expected subagent payload, got %T", ev.Payload)
		}
		if p.Outcome != tt.want {
			t.Errorf("%s: outcome = %q, want %q", tt.js, p.Outcome, tt.want)
		}
	}
}

func TestNormalizeTimestamp(t *testing.T) {
	n := newTestNormalizer(t)

	ev := normalizeJSON(t, n, `{"type":"Stop","session_id":"s","ts":1767225600}`, "")
	if ev.Timestamp.Unix() != 1767225600 {
		t.Errorf("unix ts = %v", ev.Timestamp)
	}
	ev = normalizeJSON(t, n, `{"type":"Stop","session_id":"s"}`, "")
	if !ev.Timestamp.Equal(received) {
		t.Errorf("expected receive time fallback, got %v", ev.Timestamp)
	}
}

func TestNormalizeMalformed(t *testing.T) {
	n := newTestNormalizer(t)
	tests := map[string]string{
		"truncated":    `{"hook_event_name":`,
		"array":        `[1,2,3]`,
		"empty":        ``,
		"missing kind": `{"session_id":"s1"}`,
	}
	for name, js := range tests {
		t.Run(name, func(t *testing.T) {
			ev := normalizeJSON(t, n, js, "")
			if ev.Kind != hookevent.KindMalformed {
				t.Fatalf("kind = %s, want malformed", ev.Kind)
			}
			p, ok := ev.Payload.(*hookevent.MalformedPayload)
			if !ok || p.Error == "" {
				t.Fatalf("expected malformed payload with error, got %+v", ev.Payload)
			}
			if ev.SessionID == "" {
				t.Fatal("malformed events still carry a session id")
			}
		})
	}

	ev := normalizeJSON(t, n, `{"session_id":"s1","tool_name":"Bash","detail":"important"}`, "")
	if ev.SessionID != "s1" {
		t.Errorf("missing-kind event must keep its session, got %q", ev.SessionID)
	}
	p := ev.Payload.(*hookevent.MalformedPayload)
	if p.Fields["detail"] != "important" || p.Fields["tool_name"] != "Bash" {
		t.Errorf("missing-kind event must keep its fields, got %v", p.Fields)
	}
	big := `{"x":"` + strings.Repeat("a", 2*maxMalformedRaw)
	ev = normalizeJSON(t, n, big, "")
	if p := ev.Payload.(*hookevent.MalformedPayload); len(p.Raw) != maxMalformedRaw {
		t.Errorf("raw must be truncated, got %d bytes", len(p.Raw))
	}
}

func TestNormalizeUnknownKeepsFields(t *testing.T) {
	n := newTestNormalizer(t)
	ev := normalizeJSON(t, n, `{"hook_event_name":"Teleport","session_id":"s","where":"mars"}`, "")
	p, ok := ev.Payload.(*hookevent.UnknownPayload)
	if !ok {
		t.Fatalf("expected unknown payload, got %T", ev.Payload)
	}
	if p.RawKind != "Teleport" || p.Fields["where"] != "mars" {
		t.Errorf("unexpected payload %+v", p)
	}
}

func TestNormalizeRelayKindsCannotBeInjected(t *testing.T) {
	n := newTestNormalizer(t)
	ev := normalizeJSON(t, n, `{"hook_event_name":"delegation_matched","session_id":"s"}`, "")
	if ev.Kind != hookevent.KindUnknown {
		t.Fatalf("relay-originated kind accepted from host: %s", ev.Kind)
	}
}

func TestNormalizeRecoversSessionFromProcessContext(t *testing.T) {
	n := newTestNormalizer(t)

	first := normalizeJSON(t, n, `{"hook_event_name":"UserPromptSubmit","session_id":"real-1"}`, "ppid-7")
	if first.SessionID != "real-1" {
		t.Fatal(first.SessionID)
	}

	// The historical defect: subagent_stop arriving without a session id.
	ev := normalizeJSON(t, n, `{"hook_event_name":"SubagentStop","agent_type":"qa"}`, "ppid-7")
	if ev.SessionID != "real-1" || ev.SessionIDSynthetic {
		t.Fatalf("expected recovered session real-1, got %q (synthetic=%v)", ev.SessionID, ev.SessionIDSynthetic)
	}
}

func TestNormalizeSynthesizesAndRemembersSession(t *testing.T) {
	n := newTestNormalizer(t)

	a := normalizeJSON(t, n, `{"hook_event_name":"Notification","message":"hi"}`, "ppid-9")
	if !a.SessionIDSynthetic || !strings.HasPrefix(a.SessionID, "syn-") {
		t.Fatalf("expected synthetic session, got %q (%v)", a.SessionID, a.SessionIDSynthetic)
	}
	b := normalizeJSON(t, n, `{"hook_event_name":"Stop"}`, "ppid-9")
	if b.SessionID != a.SessionID || !b.SessionIDSynthetic {
		t.Fatalf("synthetic session not reused: %q vs %q", b.SessionID, a.SessionID)
	}

	c := normalizeJSON(t, n, `{"hook_event_name":"Stop"}`, "")
	if c.SessionID == a.SessionID {
		t.Fatal("events without process context must not share a synthetic session")
	}
}

func TestAgentIDIsStableAndDistinct(t *testing.T) {
	if AgentID("s", "qa") != AgentID("s", "qa") {
		t.Fatal("agent id must be deterministic")
	}
	if AgentID("s", "qa") == AgentID("s", "security") || AgentID("s1", "qa") == AgentID("s2", "qa") {
		t.Fatal("agent id must depend on session and type")
	}
	if AgentID("ab", "c") == AgentID("a", "bc") {
		t.Fatal("agent id must separate session and type")
	}
}
