package orchestrator

import (
	"sync"

	"github.com/hupe1980/meshchat/core"
	"github.com/hupe1980/meshchat/progress"
)

// turn is the per-turn orchestration context. It owns the in-flight agent
// responses and the progress tracker for one user message and is dropped once
// the turn's messages are finalized. Consumers receive it explicitly; nothing
// here outlives the turn.
type turn struct {
	id        string
	sessionID string
	tracker   *progress.Tracker
	observer  core.Observer

	mu        sync.RWMutex
	order     []string
	responses map[string]core.AgentResponse
}

func newTurn(id, sessionID string, observer core.Observer) *turn {
	return &turn{
		id:        id,
		sessionID: sessionID,
		observer:  observer,
		tracker: progress.NewTracker(func(o *progress.Options) {
			o.OnChange = observer.OnProgress
		}),
		responses: map[string]core.AgentResponse{},
	}
}

// init registers a pending response per agent in plan order.
func (t *turn) init(agents []string) {
	t.mu.Lock()
	snapshots := make([]core.AgentResponse, 0, len(agents))
	for _, id := range agents {
		if _, ok := t.responses[id]; ok {
			continue
		}
		r := core.NewAgentResponse(id)
		t.order = append(t.order, id)
		t.responses[id] = r
		snapshots = append(snapshots, r)
	}
	t.mu.Unlock()

	for _, r := range snapshots {
		t.observer.OnAgentUpdate(r)
	}
}

// store replaces an agent's whole record. Records never move backward and a
// terminal record is final.
func (t *turn) store(resp core.AgentResponse) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	existing, ok := t.responses[resp.AgentID]
	if !ok {
		return false
	}
	if existing.Status.IsTerminal() {
		return false
	}
	if resp.Status != existing.Status && !existing.Status.CanAdvance(resp.Status) {
		return false
	}
	t.responses[resp.AgentID] = resp
	return true
}

// advance moves an agent's status forward and publishes the result.
func (t *turn) advance(agentID string, status core.AgentStatus) core.AgentResponse {
	return t.apply(agentID, func(r *core.AgentResponse) bool { return r.Advance(status) })
}

// fail marks an agent as failed, keeping any content it produced.
func (t *turn) fail(agentID, reason string) core.AgentResponse {
	return t.apply(agentID, func(r *core.AgentResponse) bool { return r.Fail(reason) })
}

func (t *turn) apply(agentID string, fn func(r *core.AgentResponse) bool) core.AgentResponse {
	t.mu.Lock()
	r, ok := t.responses[agentID]
	if !ok {
		t.mu.Unlock()
		return core.AgentResponse{}
	}
	changed := fn(&r)
	t.responses[agentID] = r
	t.mu.Unlock()

	if changed {
		t.observer.OnAgentUpdate(r)
	}
	return r
}

// response returns one agent's current record.
func (t *turn) response(agentID string) core.AgentResponse {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.responses[agentID]
}

// snapshot returns every response in plan order.
func (t *turn) snapshot() []core.AgentResponse {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]core.AgentResponse, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.responses[id])
	}
	return out
}
