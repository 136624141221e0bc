package core

// AgentStatus is the lifecycle state of one agent's in-flight response.
// Transitions only move forward: pending -> streaming -> {completed, error}.
type AgentStatus string

const (
	// AgentPending means the agent was planned but its stream has not started.
	AgentPending AgentStatus = "pending"
	// AgentStreaming means the agent's stream is being consumed.
	AgentStreaming AgentStatus = "streaming"
	// AgentCompleted means the agent finished successfully.
	AgentCompleted AgentStatus = "completed"
	// AgentError means the agent finished with an error.
	AgentError AgentStatus = "error"
)

func (s AgentStatus) rank() int {
	switch s {
	case AgentPending:
		return 0
	case AgentStreaming:
		return 1
	case AgentCompleted, AgentError:
		return 2
	default:
		return -1
	}
}

// IsTerminal reports whether s is completed or error.
func (s AgentStatus) IsTerminal() bool { return s == AgentCompleted || s == AgentError }

// CanAdvance reports whether a transition from s to next moves strictly forward.
func (s AgentStatus) CanAdvance(next AgentStatus) bool {
	if next.rank() < 0 {
		return false
	}
	return next.rank() > s.rank()
}

// AgentResponse accumulates one agent's streamed output. Content is append-only
// while the status is pending or streaming.
type AgentResponse struct {
	AgentID string      `json:"agentId"`
	Content string      `json:"content"`
	Status  AgentStatus `json:"status"`
	// Err holds the failure reason when Status is AgentError.
	Err string `json:"error,omitempty"`
}

// NewAgentResponse returns an empty pending response for agentID.
func NewAgentResponse(agentID string) AgentResponse {
	return AgentResponse{AgentID: agentID, Status: AgentPending}
}

// Append adds a fragment to the content. A pending response moves to
// streaming first so content never skips the streaming state. Appends to a
// terminal response are refused.
func (r *AgentResponse) Append(fragment string) bool {
	if r.Status.IsTerminal() {
		return false
	}
	if fragment == "" {
		return true
	}
	if r.Status == AgentPending {
		r.Status = AgentStreaming
	}
	r.Content += fragment
	return true
}

// Advance moves the status forward. Backward or sideways transitions are
// ignored and reported as false.
func (r *AgentResponse) Advance(next AgentStatus) bool {
	if !r.Status.CanAdvance(next) {
		return false
	}
	r.Status = next
	return true
}

// Fail moves the response to the error state recording reason.
func (r *AgentResponse) Fail(reason string) bool {
	if !r.Advance(AgentError) {
		return false
	}
	r.Err = reason
	return true
}

// Finalize replaces the content and completes the response. It is used when a
// terminal frame carries the agent's authoritative final text. A pending
// response given content passes through streaming first.
func (r *AgentResponse) Finalize(content string, status AgentStatus) bool {
	if r.Status.IsTerminal() || !status.IsTerminal() {
		return false
	}
	if content != "" {
		r.Advance(AgentStreaming)
		r.Content = content
	}
	return r.Advance(status)
}
