package hookevent

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"
)

// KindFields lists the raw field names that may carry the kind discriminator.
var KindFields = []string{"hook_event_name", "hook_event_type", "event", "type"}

// Raw is one undecoded host-tool event as submitted by a hook adapter.
type Raw struct {
	Fields map[string]any
	// ProcessContext identifies the host-tool process that emitted the event
	// (parent pid or working directory). Used to recover a missing session id.
	ProcessContext string
	ReceivedAt     time.Time
}

// ErrNotObject is returned by DecodeRaw when the input is valid JSON but not an object.
var ErrNotObject = errors.New("raw event is not a JSON object")

// DecodeRaw parses one JSON object. Numbers are kept as json.Number.
func DecodeRaw(data []byte) (map[string]any, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, errors.New("empty raw event")
	}
	if trimmed[0] != '{' {
		return nil, ErrNotObject
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, err
	}
	if fields == nil {
		return nil, ErrNotObject
	}
	return fields, nil
}

// Value returns the first present, non-nil value among keys. A key may be a
// dotted path into nested objects ("tool_input.subagent_type").
func (r Raw) Value(keys ...string) (any, bool) {
	for _, key := range keys {
		if v, ok := lookup(r.Fields, key); ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

// String returns the first non-empty scalar among keys, rendered as a string.
func (r Raw) String(keys ...string) string {
	for _, key := range keys {
		v, ok := lookup(r.Fields, key)
		if !ok {
			continue
		}
		if s := scalarString(v); s != "" {
			return s
		}
	}
	return ""
}

// Map returns the first object value among keys.
func (r Raw) Map(keys ...string) map[string]any {
	for _, key := range keys {
		if v, ok := lookup(r.Fields, key); ok {
			if m, ok := v.(map[string]any); ok {
				return m
			}
		}
	}
	return nil
}

// Bool returns the first boolean-like value among keys.
func (r Raw) Bool(keys ...string) bool {
	for _, key := range keys {
		v, ok := lookup(r.Fields, key)
		if !ok {
			continue
		}
		switch b := v.(type) {
		case bool:
			return b
		case string:
			if parsed, err := strconv.ParseBool(b); err == nil {
				return parsed
			}
		}
	}
	return false
}

// Time returns the first parseable timestamp among keys. Strings are parsed
// as RFC 3339; numbers as unix seconds, or milliseconds when large.
func (r Raw) Time(keys ...string) (time.Time, bool) {
	for _, key := range keys {
		v, ok := lookup(r.Fields, key)
		if !ok {
			continue
		}
		switch t := v.(type) {
		case string:
			if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
				return parsed.UTC(), true
			}
		case json.Number:
			if f, err := t.Float64(); err == nil && f > 0 {
				return unixTime(f), true
			}
		case float64:
			if t > 0 {
				return unixTime(t), true
			}
		}
	}
	return time.Time{}, false
}

func unixTime(f float64) time.Time {
	// Values past year 33658 in seconds are treated as milliseconds.
	if f > 1e12 {
		return time.UnixMilli(int64(f)).UTC()
	}
	sec := int64(f)
	return time.Unix(sec, int64((f-float64(sec))*1e9)).UTC()
}

func lookup(fields map[string]any, key string) (any, bool) {
	if v, ok := fields[key]; ok {
		return v, true
	}
	head, rest, nested := strings.Cut(key, ".")
	if !nested {
		return nil, false
	}
	child, ok := fields[head].(map[string]any)
	if !ok {
		return nil, false
	}
	return lookup(child, rest)
}

func scalarString(v any) string {
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s)
	case json.Number:
		return s.String()
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(s)
	}
	return ""
}
