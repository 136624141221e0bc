package testutil

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/sjson"
)

// StreamBuilder provides a fluent helper for constructing event streams in tests.
// Example:
//
//	body := NewStreamBuilder().Thinking("starting").Message("hello").Done("").String()
//
// Chain only the frames you need; each frame ends with a blank line.
type StreamBuilder struct {
	sb strings.Builder
}

// NewStreamBuilder creates an empty builder.
func NewStreamBuilder() *StreamBuilder { return &StreamBuilder{} }

// Event appends a named frame whose data is the JSON encoding of data (chainable).
func (b *StreamBuilder) Event(name string, data any) *StreamBuilder {
	raw, err := json.Marshal(data)
	if err != nil {
		panic(fmt.Sprintf("testutil: marshal %s frame: %v", name, err))
	}
	if name != "" {
		fmt.Fprintf(&b.sb, "event: %s\n", name)
	}
	fmt.Fprintf(&b.sb, "data: %s\n\n", raw)
	return b
}

// Data appends an unnamed frame with a literal data line (chainable).
func (b *StreamBuilder) Data(text string) *StreamBuilder {
	fmt.Fprintf(&b.sb, "data: %s\n\n", text)
	return b
}

// RawLine appends text followed by a single newline, bypassing framing (chainable).
func (b *StreamBuilder) RawLine(text string) *StreamBuilder {
	b.sb.WriteString(text)
	b.sb.WriteString("\n")
	return b
}

// Comment appends a keep-alive comment (chainable).
func (b *StreamBuilder) Comment(text string) *StreamBuilder {
	fmt.Fprintf(&b.sb, ": %s\n\n", text)
	return b
}

// Thinking appends a thinking frame with the given status (chainable).
func (b *StreamBuilder) Thinking(status string) *StreamBuilder {
	return b.Event("thinking", map[string]any{"status": status})
}

// RawEvent appends a named frame whose data line is payload verbatim (chainable).
func (b *StreamBuilder) RawEvent(name, payload string) *StreamBuilder {
	if name != "" {
		fmt.Fprintf(&b.sb, "event: %s\n", name)
	}
	fmt.Fprintf(&b.sb, "data: %s\n\n", payload)
	return b
}

// Progress appends a progress frame; empty tool, file and action fields are
// left out of the payload (chainable).
func (b *StreamBuilder) Progress(tool, file, action, status, content string) *StreamBuilder {
	payload := mustSet(`{}`, "status", status)
	payload = mustSet(payload, "content", content)
	for _, f := range [][2]string{{"tool", tool}, {"file", file}, {"action", action}} {
		if f[1] != "" {
			payload = mustSet(payload, f[0], f[1])
		}
	}
	return b.RawEvent("progress", payload)
}

func mustSet(payload, path, value string) string {
	out, err := sjson.Set(payload, path, value)
	if err != nil {
		panic(fmt.Sprintf("testutil: set %s: %v", path, err))
	}
	return out
}

// Message appends a message frame carrying content (chainable).
func (b *StreamBuilder) Message(content string) *StreamBuilder {
	return b.Event("message", map[string]any{"content": content})
}

// Delta appends a content frame carrying a delta field (chainable).
func (b *StreamBuilder) Delta(delta string) *StreamBuilder {
	return b.Event("content", map[string]any{"delta": delta})
}

// Done appends a done frame; empty content is omitted (chainable).
func (b *StreamBuilder) Done(content string) *StreamBuilder {
	data := map[string]any{}
	if content != "" {
		data["content"] = content
	}
	return b.Event("done", data)
}

// DoneWithError appends a done frame signalling an error (chainable).
func (b *StreamBuilder) DoneWithError(reason string) *StreamBuilder {
	return b.Event("done", map[string]any{"error": reason})
}

// Error appends an error frame (chainable).
func (b *StreamBuilder) Error(content string) *StreamBuilder {
	return b.Event("error", map[string]any{"content": content})
}

// AgentStart appends a server-side fan-out agent_start frame (chainable).
func (b *StreamBuilder) AgentStart(agentID string) *StreamBuilder {
	return b.Event("agent_start", map[string]any{"agentId": agentID})
}

// AgentProgress appends a server-side fan-out agent_progress frame (chainable).
func (b *StreamBuilder) AgentProgress(agentID, content string) *StreamBuilder {
	return b.Event("agent_progress", map[string]any{"agentId": agentID, "content": content})
}

// AgentDone appends a server-side fan-out agent_done frame (chainable).
func (b *StreamBuilder) AgentDone(agentID, content, errText string) *StreamBuilder {
	data := map[string]any{"agentId": agentID, "content": content}
	if errText != "" {
		data["error"] = errText
	}
	return b.Event("agent_done", data)
}

// AllDone appends an all_done frame (chainable).
func (b *StreamBuilder) AllDone() *StreamBuilder {
	return b.Event("all_done", map[string]any{})
}

// String returns the assembled stream.
func (b *StreamBuilder) String() string { return b.sb.String() }

// Bytes returns the assembled stream as bytes.
func (b *StreamBuilder) Bytes() []byte { return []byte(b.sb.String()) }
