package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/hupe1980/meshchat/core"
)

// printObserver writes live turn updates as plain lines.
type printObserver struct {
	mu      sync.Mutex
	w       io.Writer
	printed map[core.StepKey]core.StepStatus
}

func newPrintObserver(w io.Writer) *printObserver {
	return &printObserver{w: w, printed: map[core.StepKey]core.StepStatus{}}
}

func observerOrNil(o *printObserver) core.Observer {
	if o == nil {
		return nil
	}
	return o
}

func (p *printObserver) OnThinking(agentID string, thinking bool) {
	if !thinking {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, "… %s is thinking\n", label(agentID))
}

// OnProgress prints each step once per status.
func (p *printObserver) OnProgress(steps []core.ProgressStep) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range steps {
		if p.printed[s.Key()] == s.Status {
			continue
		}
		p.printed[s.Key()] = s.Status
		target := s.File
		if target == "" {
			target = s.Action
		}
		fmt.Fprintf(p.w, "  [%s] %s %s\n", s.Status, s.Tool, target)
	}
}

func (p *printObserver) OnAgentUpdate(r core.AgentResponse) {
	if !r.Status.IsTerminal() {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, "✓ %s %s\n", label(r.AgentID), r.Status)
}

func (p *printObserver) OnPlan(plan core.ExecutionPlan) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, "plan: %v\n", plan.Agents)
}

func label(agentID string) string {
	if agentID == "" {
		return "agent"
	}
	return agentID
}
