// Package core provides the foundational domain types and interfaces used by
// meshchat. It defines the core abstractions for:
//
//   - Messages (finalized conversational records handed to a store)
//   - Progress steps (tool/file scoped activity notifications)
//   - Agent responses (per-agent accumulation with a forward-only lifecycle)
//   - Execution plans (which agents run and what task each receives)
//   - Conversations and the ConversationStore collaborator
//   - Observers (presentation hooks fed while a turn is in flight)
//
// The package intentionally keeps implementation concerns (wire decoding,
// transport, orchestration) out of scope, exposing small interfaces to
// enable custom stores and presentation layers.
package core
