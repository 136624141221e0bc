// Package consumer drives one event stream end-to-end for one agent.
//
// A Consumer decodes the stream with an sse.Decoder, tracks the agent's
// thinking indicator, accumulates streamed content, feeds progress steps into
// a shared progress.Tracker and resolves to a final core.AgentResponse.
//
// State machine:
//
//	idle -> thinking? -> streaming -> {completed, error}
//
// The consumer also understands the server-side fan-out frames
// (agent_start, agent_progress, agent_done with an agentId, all_done) that a
// backend emits when it runs several agents inside one stream.
package consumer

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/hupe1980/meshchat/core"
	"github.com/hupe1980/meshchat/logging"
	"github.com/hupe1980/meshchat/progress"
	"github.com/hupe1980/meshchat/sse"
)

// Options configures a Consumer.
type Options struct {
	// Tracker receives progress steps. A private tracker is used when nil.
	Tracker *progress.Tracker
	// Observer receives thinking changes and response snapshots.
	Observer core.Observer
	// OnUpdate receives a whole-record snapshot after every change to the
	// agent's own response.
	OnUpdate func(resp core.AgentResponse)
	// Logger defaults to NoOpLogger.
	Logger logging.Logger
}

// Consumer runs a single agent's stream. It is single-use.
type Consumer struct {
	agentID  string
	tracker  *progress.Tracker
	observer core.Observer
	onUpdate func(core.AgentResponse)
	logger   logging.Logger

	mu        sync.RWMutex
	resp      core.AgentResponse
	thinking  bool
	subOrder  []string
	subAgents map[string]*core.AgentResponse
}

// New creates a Consumer for agentID.
func New(agentID string, optFns ...func(o *Options)) *Consumer {
	opts := Options{
		Observer: core.NoOpObserver{},
		Logger:   logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Tracker == nil {
		opts.Tracker = progress.NewTracker()
	}
	if opts.Observer == nil {
		opts.Observer = core.NoOpObserver{}
	}

	return &Consumer{
		agentID:   agentID,
		tracker:   opts.Tracker,
		observer:  opts.Observer,
		onUpdate:  opts.OnUpdate,
		logger:    logging.OrNoOp(opts.Logger),
		resp:      core.NewAgentResponse(agentID),
		subAgents: map[string]*core.AgentResponse{},
	}
}

// Run consumes r until the stream ends. It returns the agent's final response.
// A read failure (including context cancellation) before a terminal event
// marks the response as error and is returned wrapped; after a terminal event
// it is only logged.
func (c *Consumer) Run(ctx context.Context, r io.Reader) (core.AgentResponse, error) {
	defer c.setThinking(false)

	c.mutate(func(resp *core.AgentResponse) bool { return resp.Advance(core.AgentStreaming) })

	dec := sse.NewDecoder(r)
	for dec.Next() {
		c.handle(dec.Event())
		if err := ctx.Err(); err != nil {
			if c.Response().Status.IsTerminal() {
				return c.Response(), nil
			}
			return c.fail(fmt.Errorf("stream for agent %s interrupted: %w", c.agentID, err))
		}
	}

	if err := dec.Err(); err != nil {
		if c.Response().Status.IsTerminal() {
			c.logger.Warn("Stream read failed after terminal event", "agent_id", c.agentID, "error", err)
			return c.Response(), nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("%w (%v)", ctxErr, err)
		}
		return c.fail(fmt.Errorf("failed to read stream for agent %s: %w", c.agentID, err))
	}

	// End of stream without a terminal event: the accumulated content stands.
	c.mutate(func(resp *core.AgentResponse) bool { return resp.Advance(core.AgentCompleted) })
	return c.Response(), nil
}

// Response returns a snapshot of the agent's response.
func (c *Consumer) Response() core.AgentResponse {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.resp
}

// Thinking reports the current thinking indicator.
func (c *Consumer) Thinking() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.thinking
}

// SubAgents returns snapshots of server-side fan-out agents in first-seen order.
func (c *Consumer) SubAgents() []core.AgentResponse {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]core.AgentResponse, 0, len(c.subOrder))
	for _, id := range c.subOrder {
		out = append(out, *c.subAgents[id])
	}
	return out
}

func (c *Consumer) handle(ev sse.Event) {
	payload, ok := ev.Payload.(sse.Structured)
	if !ok {
		// Non-JSON data is literal content, whatever the frame's kind.
		c.appendContent(ev.Payload.Text())
		return
	}

	switch ev.Kind {
	case sse.KindThinking:
		status := payload.String("status")
		c.setThinking(status == "starting" || status == "queued")
	case sse.KindProgress:
		c.handleProgress(payload)
	case sse.KindMessage, sse.KindContent:
		c.appendContent(payload.FirstString("content", "delta"))
	case sse.KindDone:
		c.finish(payload)
	case sse.KindAgentDone:
		if id := payload.String("agentId"); id != "" && c.isSubAgent(id) {
			c.finishSubAgent(id, payload)
			return
		}
		c.finish(payload)
	case sse.KindAgentStart:
		id := payload.String("agentId")
		if id == "" || id == c.agentID {
			c.mutate(func(resp *core.AgentResponse) bool { return resp.Advance(core.AgentStreaming) })
			return
		}
		c.startSubAgent(id)
	case sse.KindAgentProgress:
		id := payload.String("agentId")
		if id == "" || id == c.agentID {
			c.appendContent(payload.String("content"))
			return
		}
		c.appendSubAgent(id, payload.String("content"))
	case sse.KindAllDone:
		c.finishAll()
	case sse.KindError:
		reason := payload.String("content")
		if reason == "" {
			reason = "Unknown error"
		}
		c.logger.Warn("Agent reported error", "agent_id", c.agentID, "reason", reason)
		c.mutate(func(resp *core.AgentResponse) bool { return resp.Fail(reason) })
	default:
		c.logger.Debug("Ignoring unknown event", "agent_id", c.agentID, "event", ev.Name)
	}
}

func (c *Consumer) handleProgress(p sse.Structured) {
	if p.Truthy("tool") || p.Truthy("file") || p.Truthy("action") {
		c.tracker.Upsert(core.ProgressStep{
			Tool:    p.String("tool"),
			File:    p.String("file"),
			Action:  p.String("action"),
			Status:  core.ParseStepStatus(p.String("status")),
			Content: p.String("content"),
		})
	}
	// Progress frames may also carry incremental text.
	c.appendContent(p.String("content"))
}

func (c *Consumer) appendContent(fragment string) {
	if fragment == "" {
		return
	}
	c.mutate(func(resp *core.AgentResponse) bool {
		if !resp.Append(fragment) {
			c.logger.Debug("Dropping content after terminal event", "agent_id", c.agentID)
			return false
		}
		return true
	})
}

func (c *Consumer) finish(p sse.Structured) {
	status := core.AgentCompleted
	if p.Truthy("error") {
		status = core.AgentError
	}
	c.mutate(func(resp *core.AgentResponse) bool {
		if !resp.Finalize(p.String("content"), status) {
			return false
		}
		if status == core.AgentError {
			resp.Err = p.String("error")
		}
		return true
	})
}

func (c *Consumer) finishAll() {
	c.mu.RLock()
	combined := c.combinedLocked()
	c.mu.RUnlock()
	c.mutate(func(resp *core.AgentResponse) bool { return resp.Finalize(combined, core.AgentCompleted) })
}

// combinedLocked renders sub-agent output as "## id" sections. It returns ""
// when no sub-agents were seen so the agent's own content stands.
func (c *Consumer) combinedLocked() string {
	if len(c.subOrder) == 0 {
		return ""
	}
	sections := make([]string, 0, len(c.subOrder))
	for _, id := range c.subOrder {
		sections = append(sections, fmt.Sprintf("## %s\n\n%s", id, c.subAgents[id].Content))
	}
	return strings.Join(sections, "\n\n---\n\n")
}

func (c *Consumer) isSubAgent(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.subAgents[id]
	return ok
}

func (c *Consumer) subAgentLocked(id string) *core.AgentResponse {
	sub, ok := c.subAgents[id]
	if !ok {
		r := core.NewAgentResponse(id)
		sub = &r
		c.subAgents[id] = sub
		c.subOrder = append(c.subOrder, id)
	}
	return sub
}

func (c *Consumer) startSubAgent(id string) {
	c.mutateSub(id, func(sub *core.AgentResponse) bool { return sub.Advance(core.AgentStreaming) })
}

func (c *Consumer) appendSubAgent(id, fragment string) {
	c.mutateSub(id, func(sub *core.AgentResponse) bool { return fragment != "" && sub.Append(fragment) })
}

func (c *Consumer) finishSubAgent(id string, p sse.Structured) {
	status := core.AgentCompleted
	if p.Truthy("error") {
		status = core.AgentError
	}
	c.mutateSub(id, func(sub *core.AgentResponse) bool {
		if !sub.Finalize(p.String("content"), status) {
			return false
		}
		if status == core.AgentError {
			sub.Err = p.String("error")
		}
		return true
	})
}

func (c *Consumer) mutateSub(id string, fn func(sub *core.AgentResponse) bool) {
	c.mu.Lock()
	sub := c.subAgentLocked(id)
	changed := fn(sub)
	snapshot := *sub
	c.mu.Unlock()

	if changed {
		c.observer.OnAgentUpdate(snapshot)
	}
}

// mutate applies fn to the agent's own response and publishes the new
// snapshot when fn reports a change.
func (c *Consumer) mutate(fn func(resp *core.AgentResponse) bool) {
	c.mu.Lock()
	changed := fn(&c.resp)
	snapshot := c.resp
	c.mu.Unlock()

	if !changed {
		return
	}
	if c.onUpdate != nil {
		c.onUpdate(snapshot)
	}
	c.observer.OnAgentUpdate(snapshot)
}

func (c *Consumer) fail(err error) (core.AgentResponse, error) {
	c.mutate(func(resp *core.AgentResponse) bool { return resp.Fail(err.Error()) })
	return c.Response(), err
}

func (c *Consumer) setThinking(v bool) {
	c.mu.Lock()
	changed := c.thinking != v
	c.thinking = v
	c.mu.Unlock()

	if changed {
		c.observer.OnThinking(c.agentID, v)
	}
}
