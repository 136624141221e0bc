// Package planner obtains and validates an execution plan from the backend's
// route endpoint. It never streams and never retries.
package planner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/meshchat/core"
	"github.com/hupe1980/meshchat/logging"
	"github.com/hupe1980/meshchat/transport"
)

var (
	// ErrRoutingFailed is returned when the route response does not report
	// success or carries no plan.
	ErrRoutingFailed = errors.New("routing failed")
	// ErrNoAgents is returned when the plan names no agents.
	ErrNoAgents = errors.New("no agents returned from router")
)

// Router is the subset of transport.Transport the planner needs.
type Router interface {
	Route(ctx context.Context, req transport.RouteRequest) (*transport.RouteResponse, error)
}

// Options configures a Planner.
type Options struct {
	// Logger defaults to NoOpLogger.
	Logger logging.Logger
}

// Planner turns a user message into a validated core.ExecutionPlan.
type Planner struct {
	router Router
	logger logging.Logger
}

// New creates a Planner backed by router.
func New(router Router, optFns ...func(o *Options)) *Planner {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Planner{router: router, logger: logging.OrNoOp(opts.Logger)}
}

// Plan requests a plan for message. Any failure is fatal to the turn: a
// failed call, an unsuccessful response, a missing plan or an empty agent
// list. Blank and repeated agent ids are dropped before the emptiness check.
func (p *Planner) Plan(ctx context.Context, message, sessionID, agentID string) (*core.ExecutionPlan, error) {
	start := time.Now()

	resp, err := p.router.Route(ctx, transport.RouteRequest{Message: message, SessionID: sessionID, AgentID: agentID})
	if err != nil {
		p.logger.Error("Route request failed", "session_id", sessionID, "error", err)
		return nil, fmt.Errorf("failed to plan: %w", err)
	}

	if !resp.Success || resp.Plan == nil {
		reason := resp.Error
		if reason == "" {
			reason = "no plan in response"
		}
		p.logger.Warn("Route rejected", "session_id", sessionID, "reason", reason)
		return nil, fmt.Errorf("%w: %s", ErrRoutingFailed, reason)
	}

	agents := core.NormalizeAgents(resp.Plan.Agents)
	if len(agents) == 0 {
		p.logger.Warn("Route returned no agents", "session_id", sessionID)
		return nil, ErrNoAgents
	}

	tasks := make(map[string]string, len(resp.Plan.TaskForEach))
	for id, task := range resp.Plan.TaskForEach {
		tasks[id] = task
	}

	plan := &core.ExecutionPlan{
		Agents:        agents,
		TaskForEach:   tasks,
		Reasoning:     resp.Plan.Reasoning,
		ExecutionMode: resp.Plan.ExecutionMode,
	}

	for _, id := range agents {
		if _, ok := tasks[id]; !ok {
			p.logger.Debug("Agent has no task, using original message", "agent_id", id)
		}
	}
	if cl, ok := p.logger.(*logging.ChatLogger); ok {
		cl.LogPlan(len(agents), time.Since(start), true, nil)
	} else {
		p.logger.Info("Plan ready", "session_id", sessionID, "agents", agents, "duration", time.Since(start))
	}

	return plan, nil
}
