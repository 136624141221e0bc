package core

import "time"

// Role identifies the author of a Message.
type Role string

const (
	// RoleUser marks a message typed by the user.
	RoleUser Role = "user"
	// RoleAssistant marks a message produced by an agent.
	RoleAssistant Role = "assistant"
)

// ToolCall records a tool invocation reported alongside an assistant message.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
	Result    string         `json:"result,omitempty"`
}

// Message is a finalized conversational record. It is created once a stream
// (or a fan-out) finalizes and is owned by the ConversationStore afterwards.
type Message struct {
	ID        string     `json:"id"`
	Role      Role       `json:"role"`
	Content   string     `json:"content"`
	Timestamp time.Time  `json:"timestamp"`
	ToolCalls []ToolCall `json:"toolCalls,omitempty"`
	AgentID   string     `json:"agentId,omitempty"`
}

// NewUserMessage creates a user-authored message.
func NewUserMessage(content string) Message {
	return Message{ID: NewID(), Role: RoleUser, Content: content, Timestamp: time.Now().UTC()}
}

// NewAssistantMessage creates an untagged assistant message.
func NewAssistantMessage(content string) Message {
	return Message{ID: NewID(), Role: RoleAssistant, Content: content, Timestamp: time.Now().UTC()}
}

// NewAgentMessage creates an assistant message tagged with the agent that produced it.
func NewAgentMessage(agentID, content string) Message {
	m := NewAssistantMessage(content)
	m.AgentID = agentID
	return m
}
