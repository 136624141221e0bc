// Package session provides an in-memory core.ConversationStore for tests,
// examples and the CLI. Production deployments plug their own store.
package session
