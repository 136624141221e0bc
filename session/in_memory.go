package session

import (
	"sync"

	"github.com/hupe1980/meshchat/core"
)

// InMemoryStore is a volatile ConversationStore implementation storing
// conversations in a process local map. It is safe for concurrent access and
// best suited for tests or ephemeral demo clients. Each returned conversation
// is cloned to prevent external mutation of internal state.
type InMemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*core.Conversation
}

var _ core.ConversationStore = (*InMemoryStore)(nil)

// NewInMemoryStore constructs an empty in‑memory conversation store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{conversations: make(map[string]*core.Conversation)}
}

// Get returns a clone of the conversation and whether it exists.
func (s *InMemoryStore) Get(sessionID string) (*core.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[sessionID]
	if !ok {
		return nil, false
	}
	return conv.Clone(), true
}

// Append adds a message to an existing or newly created conversation.
func (s *InMemoryStore) Append(sessionID string, m core.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getOrCreateLocked(sessionID).AddMessage(m)
	return nil
}

// Clear drops the conversation's messages, keeping its title.
func (s *InMemoryStore) Clear(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conv, ok := s.conversations[sessionID]; ok {
		conv.Reset()
	}
	return nil
}

// Rename sets the conversation title.
func (s *InMemoryStore) Rename(sessionID, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getOrCreateLocked(sessionID).SetTitle(title)
	return nil
}

// Messages returns a copy of the conversation's messages. Unknown sessions
// have no messages.
func (s *InMemoryStore) Messages(sessionID string) ([]core.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[sessionID]
	if !ok {
		return []core.Message{}, nil
	}
	return conv.GetMessages(), nil
}

// getOrCreateLocked returns the conversation, allocating it on first use;
// caller must already hold the write lock.
func (s *InMemoryStore) getOrCreateLocked(sessionID string) *core.Conversation {
	conv, ok := s.conversations[sessionID]
	if !ok {
		conv = core.NewConversation(sessionID)
		s.conversations[sessionID] = conv
	}
	return conv
}
