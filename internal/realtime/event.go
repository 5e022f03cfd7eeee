package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Event is one server message. Fields holds the decoded JSON object.
type Event struct {
	Type   string
	Fields map[string]any
	Raw    []byte
}

// DecodeEvent parses a server message; messages without a type are rejected.
func DecodeEvent(data []byte) (Event, error) {
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	typ, _ := fields["type"].(string)
	if typ == "" {
		return Event{}, errors.New("event has no type")
	}
	return Event{Type: typ, Fields: fields, Raw: data}, nil
}

// String returns a string field, or "" when absent or not a string.
func (e Event) String(key string) string {
	value, _ := e.Fields[key].(string)
	return value
}

// ErrorMessage extracts the message of an error event.
func (e Event) ErrorMessage() string {
	if nested, ok := e.Fields["error"].(map[string]any); ok {
		if msg, ok := nested["message"].(string); ok {
			return msg
		}
	}
	return e.String("message")
}
