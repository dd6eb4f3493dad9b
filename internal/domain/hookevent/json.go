package hookevent

import (
	"encoding/json"
	"fmt"
)

// UnmarshalJSON decodes an Event, selecting the payload type from its kind.
func (e *Event) UnmarshalJSON(data []byte) error {
	type plain Event
	var aux struct {
		plain
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	*e = Event(aux.plain)
	p := newPayload(e.Kind)
	if len(aux.Payload) > 0 && string(aux.Payload) != "null" {
		if err := json.Unmarshal(aux.Payload, p); err != nil {
			return fmt.Errorf("decode %s payload: %w", e.Kind, err)
		}
	}
	e.Payload = p
	return nil
}
