package hookevent

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestKindFromHost(t *testing.T) {
	tests := []struct {
		raw  string
		want Kind
		ok   bool
	}{
		{"UserPromptSubmit", KindUserPromptSubmit, true},
		{"PreToolUse", KindPreToolUse, true},
		{"PostToolUse", KindPostToolUse, true},
		{"SubagentStart", KindSubagentStart, true},
		{"SubagentStop", KindSubagentStop, true},
		{"Stop", KindStop, true},
		{"Notification", KindNotification, true},
		{"SessionStart", KindSessionStart, true},
		{"SessionEnd", KindSessionEnd, true},
		{"PreCompact", KindPreCompact, true},
		{"subagent_stop", KindSubagentStop, true},
		{"TeleportStart", KindUnknown, false},
		{"", KindUnknown, false},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, ok := KindFromHost(tt.raw)
			if got != tt.want || ok != tt.ok {
				t.Errorf("KindFromHost(%q) = (%s, %v), want (%s, %v)", tt.raw, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestTerminalKinds(t *testing.T) {
	if !KindStop.Terminal() || !KindSessionEnd.Terminal() {
		t.Fatal("stop and session_end must be terminal")
	}
	if KindSubagentStop.Terminal() {
		t.Fatal("subagent_stop must not end the session")
	}
}

func TestEventJSONSelectsPayloadByKind(t *testing.T) {
	in := Event{
		ID:            "e1",
		SchemaVersion: SchemaVersion,
		Kind:          KindPreToolUse,
		SessionID:     "s1",
		Timestamp:     time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Payload: &ToolPayload{
			ToolName:   "Task",
			Delegation: true,
			Input:      map[string]any{"subagent_type": "engineer"},
		},
	}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatal(err)
	}

	var out Event
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	tool, ok := out.Tool()
	if !ok {
		t.Fatalf("expected *ToolPayload, got %T", out.Payload)
	}
	if tool.ToolName != "Task" || !tool.Delegation {
		t.Errorf("unexpected payload %+v", tool)
	}
	if out.SessionID != "s1" || !out.Timestamp.Equal(in.Timestamp) {
		t.Errorf("envelope fields lost: %+v", out)
	}
}

func TestEventJSONUnknownKindKeepsFields(t *testing.T) {
	data := []byte(`{"id":"e2","kind":"unknown","session_id":"s","payload":{"raw_kind":"Teleport","fields":{"x":1}}}`)
	var out Event
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	p, ok := out.Payload.(*UnknownPayload)
	if !ok {
		t.Fatalf("expected *UnknownPayload, got %T", out.Payload)
	}
	if p.RawKind != "Teleport" {
		t.Errorf("expected raw kind Teleport, got %q", p.RawKind)
	}
}

func TestDecodeRaw(t *testing.T) {
	fields, err := DecodeRaw([]byte(` {"hook_event_name":"Stop","n":12345678901234} `))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := fields["n"].(json.Number); !ok {
		t.Errorf("expected json.Number, got %T", fields["n"])
	}

	if _, err := DecodeRaw([]byte(`[1,2]`)); !errors.Is(err, ErrNotObject) {
		t.Errorf("expected ErrNotObject for array, got %v", err)
	}
	if _, err := DecodeRaw([]byte(`{"broken":`)); err == nil {
		t.Error("expected error for truncated object")
	}
	if _, err := DecodeRaw(nil); err == nil {
		t.Error("expected error for empty input")
	}
}

func TestRawLookups(t *testing.T) {
	fields, err := DecodeRaw([]byte(`{
		"sessionId": "abc",
		"tool_input": {"subagent_type": "qa", "description": "run tests"},
		"stop_hook_active": "true",
		"ts": 1700000000,
		"blank": "  "
	}`))
	if err != nil {
		t.Fatal(err)
	}
	r := Raw{Fields: fields}

	if got := r.String("session_id", "sessionId"); got != "abc" {
		t.Errorf("alias lookup = %q, want abc", got)
	}
	if got := r.String("tool_input.subagent_type"); got != "qa" {
		t.Errorf("nested lookup = %q, want qa", got)
	}
	if got := r.String("blank", "sessionId"); got != "abc" {
		t.Errorf("blank values must fall through, got %q", got)
	}
	if !r.Bool("stop_hook_active") {
		t.Error("expected string bool to parse")
	}
	ts, ok := r.Time("timestamp", "ts")
	if !ok || ts.Unix() != 1700000000 {
		t.Errorf("unix time = %v (%v)", ts, ok)
	}
	if m := r.Map("tool_input"); m["description"] != "run tests" {
		t.Errorf("unexpected map %v", m)
	}
	if _, ok := r.Value("missing", "also.missing"); ok {
		t.Error("expected missing value")
	}
}

func TestRawTimeMillisAndRFC3339(t *testing.T) {
	r := Raw{Fields: map[string]any{
		"ms":  json.Number("1700000000123"),
		"iso": "2026-03-01T10:00:00Z",
	}}
	ms, ok := r.Time("ms")
	if !ok || ms.UnixMilli() != 1700000000123 {
		t.Errorf("millis = %v (%v)", ms, ok)
	}
	iso, ok := r.Time("iso")
	if !ok || iso.Year() != 2026 {
		t.Errorf("rfc3339 = %v (%v)", iso, ok)
	}
}
