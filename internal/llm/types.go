package llm

import (
	"encoding/json"
	"errors"
	"strings"
)

// ErrMissingMessages is returned when a request carries no chat messages.
var ErrMissingMessages = errors.New("missing messages")

// Request is a chat completion request read from stdin. Messages are forwarded
// to the service untouched.
type Request struct {
	Messages []json.RawMessage `json:"messages"`
	Model    string            `json:"model,omitempty"`
	BaseURL  string            `json:"base_url,omitempty"`
}

// Chunk is one streamed content delta.
type Chunk struct {
	Content string
}

// Result is the aggregated completion. Usage is the service's usage object as sent.
type Result struct {
	Text  string          `json:"text"`
	Usage json.RawMessage `json:"usage,omitempty"`
}

// ParseRequest decodes raw stdin. Messages are decoded apart from the optional
// overrides, so a malformed override never drops the conversation. Non-string
// overrides keep their JSON text. Unparseable input is treated as an empty request.
func ParseRequest(raw []byte) (Request, error) {
	var req Request
	var fields map[string]json.RawMessage
	if len(strings.TrimSpace(string(raw))) > 0 {
		if err := json.Unmarshal(raw, &fields); err != nil {
			fields = nil
		}
	}
	if msgs, ok := fields["messages"]; ok {
		if err := json.Unmarshal(msgs, &req.Messages); err != nil {
			req.Messages = nil
		}
	}
	req.Model = overrideField(fields["model"])
	req.BaseURL = overrideField(fields["base_url"])
	if len(req.Messages) == 0 {
		return req, ErrMissingMessages
	}
	return req, nil
}

func overrideField(raw json.RawMessage) string {
	trimmed := strings.TrimSpace(string(raw))
	switch trimmed {
	case "", "null", "false", "0", `""`, "[]", "{}":
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return trimmed
}
