package core

// Observer receives live updates while a turn is in flight. Implementations
// back presentation layers and must be safe for concurrent use: during a
// fan-out, callbacks arrive from every agent's goroutine with no relative
// ordering across agents.
type Observer interface {
	// OnThinking reports a change of an agent's thinking indicator.
	OnThinking(agentID string, thinking bool)
	// OnProgress delivers the current progress steps in first-seen order.
	OnProgress(steps []ProgressStep)
	// OnAgentUpdate delivers a whole-record snapshot of an agent's response.
	OnAgentUpdate(resp AgentResponse)
	// OnPlan delivers the validated execution plan before fan-out starts.
	OnPlan(plan ExecutionPlan)
}

// NoOpObserver ignores every update.
type NoOpObserver struct{}

// OnThinking implements Observer.
func (NoOpObserver) OnThinking(string, bool) {}

// OnProgress implements Observer.
func (NoOpObserver) OnProgress([]ProgressStep) {}

// OnAgentUpdate implements Observer.
func (NoOpObserver) OnAgentUpdate(AgentResponse) {}

// OnPlan implements Observer.
func (NoOpObserver) OnPlan(ExecutionPlan) {}
