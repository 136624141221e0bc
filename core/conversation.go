package core

import (
	"sync"
	"time"
)

// Conversation is a titled, ordered message history for one session. It is
// safe for concurrent access.
type Conversation struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Messages []Message `json:"messages"`
	Created  time.Time `json:"created"`
	Updated  time.Time `json:"updated"`
	mu       sync.RWMutex
}

// NewConversation creates an empty conversation with the given ID.
func NewConversation(id string) *Conversation {
	now := time.Now()
	return &Conversation{ID: id, Messages: []Message{}, Created: now, Updated: now}
}

// AddMessage appends a message updating the Updated timestamp.
func (c *Conversation) AddMessage(m Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Messages = append(c.Messages, m)
	c.Updated = time.Now()
}

// Reset drops every message.
func (c *Conversation) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Messages = []Message{}
	c.Updated = time.Now()
}

// SetTitle renames the conversation.
func (c *Conversation) SetTitle(title string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Title = title
	c.Updated = time.Now()
}

// GetMessages returns a copy of the message history.
func (c *Conversation) GetMessages() []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Message, len(c.Messages))
	copy(out, c.Messages)
	return out
}

// Clone returns a deep copy of the conversation safe for independent mutation.
func (c *Conversation) Clone() *Conversation {
	c.mu.RLock()
	defer c.mu.RUnlock()
	clone := &Conversation{ID: c.ID, Title: c.Title, Messages: make([]Message, len(c.Messages)), Created: c.Created, Updated: c.Updated}
	copy(clone.Messages, c.Messages)
	return clone
}

// ConversationStore persists finalized messages per session. The orchestrator
// calls Append once per finalized message and Rename at most once per turn.
type ConversationStore interface {
	Append(sessionID string, m Message) error
	Clear(sessionID string) error
	Rename(sessionID, title string) error
	Messages(sessionID string) ([]Message, error)
}
