package core

// ExecutionPlan is the routing decision naming which agents run and what task
// each receives. Agents is ordered; the order is execution and display order.
type ExecutionPlan struct {
	Agents        []string          `json:"agents"`
	TaskForEach   map[string]string `json:"task_for_each"`
	Reasoning     string            `json:"reasoning,omitempty"`
	ExecutionMode string            `json:"execution_mode,omitempty"`
}

// TaskFor returns the task assigned to agentID, or fallback when none is assigned.
func (p ExecutionPlan) TaskFor(agentID, fallback string) string {
	if task, ok := p.TaskForEach[agentID]; ok && task != "" {
		return task
	}
	return fallback
}

// NormalizeAgents drops blank and repeated agent ids keeping first-seen order.
func NormalizeAgents(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
