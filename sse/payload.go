package sse

import (
	"strings"

	"github.com/tidwall/gjson"
)

// Payload is the data carried by one event. It is either Structured (the data
// line was a JSON object) or Raw (anything else).
type Payload interface {
	// Text returns the payload text. JSON string payloads are unquoted; all
	// other payloads are returned as they appeared on the data line.
	Text() string
	isPayload()
}

// Structured is a JSON object payload. Fields are read lazily.
type Structured struct {
	raw string
}

// Raw is a payload that is not a JSON object.
type Raw struct {
	text string
}

// ParsePayload classifies data as Structured or Raw. Only JSON objects are
// Structured. A JSON string becomes Raw holding the decoded string; other
// scalars and arrays carry no fields and stay Raw verbatim.
func ParsePayload(data string) Payload {
	trimmed := strings.TrimSpace(data)
	switch {
	case strings.HasPrefix(trimmed, "{") && gjson.Valid(trimmed):
		return Structured{raw: trimmed}
	case strings.HasPrefix(trimmed, `"`) && gjson.Valid(trimmed):
		return Raw{text: gjson.Parse(trimmed).Str}
	default:
		return Raw{text: data}
	}
}

// Text implements Payload.
func (r Raw) Text() string { return r.text }

func (Raw) isPayload() {}

// Text implements Payload.
func (s Structured) Text() string { return s.raw }

func (Structured) isPayload() {}

// Get returns the raw gjson result for a top-level field (or gjson path).
func (s Structured) Get(field string) gjson.Result { return gjson.Get(s.raw, field) }

// String returns the field as text. Missing and null fields yield "".
func (s Structured) String(field string) string {
	r := s.Get(field)
	if !r.Exists() || r.Type == gjson.Null {
		return ""
	}
	return r.String()
}

// Truthy reports whether the field is present and not false, null, zero or "".
func (s Structured) Truthy(field string) bool {
	r := s.Get(field)
	if !r.Exists() {
		return false
	}
	switch r.Type {
	case gjson.Null, gjson.False:
		return false
	case gjson.Number:
		return r.Num != 0
	case gjson.String:
		return r.Str != ""
	default:
		return true
	}
}

// FirstString returns the first field that yields non-empty text.
func (s Structured) FirstString(fields ...string) string {
	for _, f := range fields {
		if v := s.String(f); v != "" {
			return v
		}
	}
	return ""
}
