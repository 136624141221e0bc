// Package orchestrator turns one user message into either a single agent
// stream or a planned, concurrent fan-out over several agents, and hands the
// finalized messages to the conversation store.
//
// Multi-agent protocol:
//  1. Obtain a plan from the planner; a planning failure aborts the turn
//     before any stream request is made.
//  2. Register a pending response per planned agent, in plan order.
//  3. Start one stream consumer per agent concurrently. Every consumer shares
//     the turn's progress tracker.
//  4. Wait for every agent to reach a terminal state.
//  5. Emit one message per agent, in plan order, tagged with the agent id.
//
// Under the default IsolateFailures policy a failing agent only affects its own
// response; AbortOnFailure cancels the siblings and fails the whole turn.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/meshchat/consumer"
	"github.com/hupe1980/meshchat/core"
	"github.com/hupe1980/meshchat/logging"
	"github.com/hupe1980/meshchat/planner"
	"github.com/hupe1980/meshchat/session"
	"github.com/hupe1980/meshchat/transport"
)

var (
	// ErrEmptyMessage is returned for blank user input. Nothing is stored.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrUnknownTurn is returned when cancelling a turn that is not in flight.
	ErrUnknownTurn = errors.New("unknown turn")
	// ErrTurnInFlight is returned when a caller-chosen turn id is already running.
	ErrTurnInFlight = errors.New("turn already in flight")
)

const (
	// ErrorReply is the assistant message stored when a single-agent turn fails.
	ErrorReply = "Sorry, I encountered an error."
	// EmptyReply is stored when a single-agent stream produced no content.
	EmptyReply = "No response"

	defaultAgentKey    = "default"
	defaultTitleLength = 30
)

// Mode selects the single-agent or the multi-agent path.
type Mode int

const (
	// ModeAuto uses the orchestrator's configured default.
	ModeAuto Mode = iota
	// ModeSingle streams one request for the session's agent.
	ModeSingle
	// ModeMulti plans and fans out over several agents.
	ModeMulti
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ModeSingle:
		return "single"
	case ModeMulti:
		return "multi"
	default:
		return "auto"
	}
}

// MarshalText encodes the mode by name.
func (m Mode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// FailurePolicy decides how a per-agent transport failure affects a fan-out.
type FailurePolicy int

const (
	// IsolateFailures records the failure on that agent only; siblings finish.
	IsolateFailures FailurePolicy = iota
	// AbortOnFailure cancels siblings and fails the turn on the first failure.
	AbortOnFailure
)

// ParseFailurePolicy maps "isolate" or "abort" to a FailurePolicy.
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "isolate":
		return IsolateFailures, nil
	case "abort":
		return AbortOnFailure, nil
	default:
		return IsolateFailures, fmt.Errorf("unknown failure policy %q", s)
	}
}

// Request is one user turn.
type Request struct {
	// TurnID names the turn for Cancel. A random id is used when empty.
	TurnID    string
	SessionID string
	// AgentID is the session's agent, forwarded on every backend call.
	AgentID string
	Content string
	Mode    Mode
}

// TurnResult summarizes a finished turn. Messages are the assistant messages
// appended to the store.
type TurnResult struct {
	TurnID    string
	Mode      Mode
	Plan      *core.ExecutionPlan
	Responses []core.AgentResponse
	Steps     []core.ProgressStep
	Messages  []core.Message
}

// Options configures an Orchestrator.
type Options struct {
	// MultiAgent makes ModeAuto requests take the multi-agent path.
	MultiAgent bool
	// AgentTimeout bounds each agent's stream. Zero disables it.
	AgentTimeout time.Duration
	// TurnTimeout bounds a whole turn. Zero disables it.
	TurnTimeout time.Duration
	// MaxConcurrentAgents bounds concurrent streams in a fan-out. Zero means
	// every planned agent starts at once.
	MaxConcurrentAgents int
	// FailurePolicy defaults to IsolateFailures.
	FailurePolicy FailurePolicy
	// TitleLength is the rune length of the title derived from a session's
	// first message.
	TitleLength int
	// Planner defaults to a planner over the orchestrator's transport.
	Planner *planner.Planner
	// Store defaults to an in-memory store.
	Store core.ConversationStore
	// Observer defaults to NoOpObserver.
	Observer core.Observer
	// Logger defaults to NoOpLogger.
	Logger logging.Logger
}

// Orchestrator runs user turns. Public methods are safe for concurrent use.
type Orchestrator struct {
	transport transport.Transport
	planner   *planner.Planner
	store     core.ConversationStore
	observer  core.Observer
	logger    logging.Logger

	multiAgent          bool
	agentTimeout        time.Duration
	turnTimeout         time.Duration
	maxConcurrentAgents int
	failurePolicy       FailurePolicy
	titleLength         int

	activeTurns map[string]activeTurn
	mu          sync.RWMutex
}

type activeTurn struct {
	sessionID string
	cancel    context.CancelFunc
}

// ActiveTurn identifies an in-flight turn.
type ActiveTurn struct {
	TurnID    string
	SessionID string
}

// New constructs an Orchestrator over t with optional overrides.
func New(t transport.Transport, optFns ...func(o *Options)) *Orchestrator {
	opts := Options{
		TitleLength: defaultTitleLength,
		Store:       session.NewInMemoryStore(),
		Observer:    core.NoOpObserver{},
		Logger:      logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	logger := logging.OrNoOp(opts.Logger)
	if opts.Planner == nil {
		opts.Planner = planner.New(t, func(po *planner.Options) { po.Logger = logger })
	}
	if opts.Observer == nil {
		opts.Observer = core.NoOpObserver{}
	}
	if opts.Store == nil {
		opts.Store = session.NewInMemoryStore()
	}
	if opts.TitleLength <= 0 {
		opts.TitleLength = defaultTitleLength
	}

	return &Orchestrator{
		transport:           t,
		planner:             opts.Planner,
		store:               opts.Store,
		observer:            opts.Observer,
		logger:              logger,
		multiAgent:          opts.MultiAgent,
		agentTimeout:        opts.AgentTimeout,
		turnTimeout:         opts.TurnTimeout,
		maxConcurrentAgents: opts.MaxConcurrentAgents,
		failurePolicy:       opts.FailurePolicy,
		titleLength:         opts.TitleLength,
		activeTurns:         make(map[string]activeTurn),
	}
}

// Store returns the conversation store the orchestrator writes to.
func (o *Orchestrator) Store() core.ConversationStore { return o.store }

// Send runs one turn. The user message is stored first; then either the
// assistant message(s) or a single error message are stored. On failure the
// returned error is non-nil and the result still describes what was stored.
func (o *Orchestrator) Send(ctx context.Context, req Request) (*TurnResult, error) {
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return nil, ErrEmptyMessage
	}

	mode := req.Mode
	if mode == ModeAuto {
		mode = ModeSingle
		if o.multiAgent {
			mode = ModeMulti
		}
	}

	t, turnCtx, done, err := o.beginTurn(ctx, req.TurnID, req.SessionID)
	if err != nil {
		return nil, err
	}
	defer done()

	history, err := o.store.Messages(req.SessionID)
	if err != nil {
		return nil, o.storeFailure(t, fmt.Errorf("failed to load conversation: %w", err))
	}
	firstTurn := len(history) == 0

	if err := o.store.Append(req.SessionID, core.NewUserMessage(content)); err != nil {
		return nil, o.storeFailure(t, fmt.Errorf("failed to append user message: %w", err))
	}

	o.logger.Info("Turn started", "turn_id", t.id, "session_id", req.SessionID, "mode", mode.String())
	start := time.Now()

	result := &TurnResult{TurnID: t.id, Mode: mode}

	var messages []core.Message
	var runErr error
	if mode == ModeMulti {
		messages, runErr = o.runMulti(turnCtx, t, req, content, result)
	} else {
		messages, runErr = o.runSingle(turnCtx, t, req, content)
	}

	result.Responses = t.snapshot()
	result.Steps = t.tracker.Steps()

	for _, m := range messages {
		if err := o.store.Append(req.SessionID, m); err != nil {
			return result, o.storeFailure(t, fmt.Errorf("failed to append assistant message: %w", err))
		}
		result.Messages = append(result.Messages, m)
	}

	if runErr != nil {
		o.logTurn(t, mode, len(result.Responses), time.Since(start), runErr)
		return result, runErr
	}

	if firstTurn {
		if err := o.store.Rename(req.SessionID, Title(content, o.titleLength)); err != nil {
			return result, o.storeFailure(t, fmt.Errorf("failed to rename session: %w", err))
		}
	}

	o.logTurn(t, mode, len(result.Responses), time.Since(start), nil)
	return result, nil
}

// logTurn uses the structured turn record when the logger is a ChatLogger.
func (o *Orchestrator) logTurn(t *turn, mode Mode, agents int, dur time.Duration, err error) {
	if cl, ok := o.logger.(*logging.ChatLogger); ok {
		cl.WithSession(t.sessionID, t.id).LogTurn(mode.String(), agents, dur, err == nil, err)
		return
	}
	if err != nil {
		o.logger.Error("Turn failed", "turn_id", t.id, "mode", mode.String(), "duration", dur, "error", err)
		return
	}
	o.logger.Info("Turn completed", "turn_id", t.id, "mode", mode.String(), "agent_count", agents, "duration", dur)
}

// storeFailure logs a conversation store error, with a stack snapshot when
// the logger supports it, and returns err.
func (o *Orchestrator) storeFailure(t *turn, err error) error {
	if cl, ok := o.logger.(*logging.ChatLogger); ok {
		cl.WithSession(t.sessionID, t.id).ErrorWithStack(err, "Conversation store failed")
		return err
	}
	o.logger.Error("Conversation store failed", "turn_id", t.id, "session_id", t.sessionID, "error", err)
	return err
}

func (o *Orchestrator) logStream(t *turn, agentID string, dur time.Duration, err error) {
	if cl, ok := o.logger.(*logging.ChatLogger); ok {
		cl.WithSession(t.sessionID, t.id).LogStreamRequest(agentID, dur, err == nil, err)
		return
	}
	if err != nil {
		o.logger.Error("Agent stream failed", "turn_id", t.id, "agent_id", agentID, "duration", dur, "error", err)
		return
	}
	o.logger.Debug("Agent stream finished", "turn_id", t.id, "agent_id", agentID, "duration", dur)
}

func (o *Orchestrator) runSingle(ctx context.Context, t *turn, req Request, content string) ([]core.Message, error) {
	key := req.AgentID
	if key == "" {
		key = defaultAgentKey
	}
	t.init([]string{key})

	resp, err := o.runAgent(ctx, t, key, transport.StreamRequest{
		Message:   content,
		SessionID: req.SessionID,
		AgentID:   req.AgentID,
	})
	if err != nil {
		return []core.Message{core.NewAssistantMessage(ErrorReply)}, err
	}

	text := resp.Content
	if text == "" {
		text = EmptyReply
		if resp.Status == core.AgentError {
			text = errorText(resp.Err)
		}
	}
	return []core.Message{core.NewAssistantMessage(text)}, nil
}

func (o *Orchestrator) runMulti(ctx context.Context, t *turn, req Request, content string, result *TurnResult) ([]core.Message, error) {
	plan, err := o.planner.Plan(ctx, content, req.SessionID, req.AgentID)
	if err != nil {
		return []core.Message{core.NewAssistantMessage(errorText(err.Error()))}, err
	}
	result.Plan = plan
	o.observer.OnPlan(*plan)

	t.init(plan.Agents)

	g, gctx := o.newGroup(ctx)
	for _, agentID := range plan.Agents {
		g.Go(func() error {
			_, err := o.runAgent(gctx, t, agentID, transport.StreamRequest{
				Message:   plan.TaskFor(agentID, content),
				SessionID: req.SessionID,
				AgentID:   req.AgentID,
				AgentIDs:  []string{agentID},
			})
			if err != nil && o.failurePolicy == AbortOnFailure {
				return err
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return []core.Message{core.NewAssistantMessage(errorText(err.Error()))}, err
	}
	if err := ctx.Err(); err != nil {
		return []core.Message{core.NewAssistantMessage(errorText(err.Error()))}, fmt.Errorf("turn %s aborted: %w", t.id, err)
	}

	responses := t.snapshot()
	messages := make([]core.Message, 0, len(responses))
	for _, r := range responses {
		text := r.Content
		if r.Status == core.AgentError && text == "" {
			text = errorText(r.Err)
		}
		messages = append(messages, core.NewAgentMessage(r.AgentID, text))
	}
	return messages, nil
}

// newGroup returns the join primitive for a fan-out. Under IsolateFailures the
// group functions never return errors, so Wait collects every outcome; under
// AbortOnFailure the first error cancels the shared context.
func (o *Orchestrator) newGroup(ctx context.Context) (*errgroup.Group, context.Context) {
	var g *errgroup.Group
	if o.failurePolicy == AbortOnFailure {
		g, ctx = errgroup.WithContext(ctx)
	} else {
		g = new(errgroup.Group)
	}
	if o.maxConcurrentAgents > 0 {
		g.SetLimit(o.maxConcurrentAgents)
	}
	return g, ctx
}

// runAgent streams one agent's request into the turn. The returned error is
// a transport or stream failure; agent-reported errors only show in the
// response status.
func (o *Orchestrator) runAgent(ctx context.Context, t *turn, agentID string, req transport.StreamRequest) (core.AgentResponse, error) {
	if o.agentTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.agentTimeout)
		defer cancel()
	}

	start := time.Now()
	t.advance(agentID, core.AgentStreaming)

	body, err := o.transport.Stream(ctx, req)
	if err != nil {
		o.logStream(t, agentID, time.Since(start), err)
		return t.fail(agentID, err.Error()), fmt.Errorf("agent %s: %w", agentID, err)
	}
	defer body.Close()

	c := consumer.New(agentID, func(co *consumer.Options) {
		co.Tracker = t.tracker
		co.Observer = o.observer
		co.OnUpdate = func(r core.AgentResponse) { t.store(r) }
		co.Logger = o.logger
	})

	resp, err := c.Run(ctx, body)
	t.store(resp)
	o.logStream(t, agentID, time.Since(start), err)
	if err != nil {
		return t.response(agentID), fmt.Errorf("agent %s: %w", agentID, err)
	}
	return t.response(agentID), nil
}

// beginTurn creates the turn context and registers its cancel function. The
// turn is registered before anything is stored so Cancel works from the start.
func (o *Orchestrator) beginTurn(ctx context.Context, id, sessionID string) (*turn, context.Context, func(), error) {
	if id == "" {
		id = core.NewID()
	}

	var cancelTimeout context.CancelFunc = func() {}
	if o.turnTimeout > 0 {
		ctx, cancelTimeout = context.WithTimeout(ctx, o.turnTimeout)
	}
	ctx, cancel := context.WithCancel(ctx)

	o.mu.Lock()
	if _, exists := o.activeTurns[id]; exists {
		o.mu.Unlock()
		cancel()
		cancelTimeout()
		return nil, nil, nil, fmt.Errorf("%w: %s", ErrTurnInFlight, id)
	}
	o.activeTurns[id] = activeTurn{sessionID: sessionID, cancel: cancel}
	o.mu.Unlock()

	done := func() {
		cancel()
		cancelTimeout()
		o.mu.Lock()
		delete(o.activeTurns, id)
		o.mu.Unlock()
	}
	return newTurn(id, sessionID, o.observer), ctx, done, nil
}

// Cancel requests cooperative termination of an in-flight turn.
func (o *Orchestrator) Cancel(turnID string) error {
	o.mu.RLock()
	at, ok := o.activeTurns[turnID]
	o.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTurn, turnID)
	}
	at.cancel()
	return nil
}

// CancelSession cancels every in-flight turn of a session and reports how
// many were cancelled.
func (o *Orchestrator) CancelSession(sessionID string) int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	n := 0
	for _, at := range o.activeTurns {
		if at.sessionID == sessionID {
			at.cancel()
			n++
		}
	}
	return n
}

// Active returns the in-flight turns sorted by turn id.
func (o *Orchestrator) Active() []ActiveTurn {
	o.mu.RLock()
	defer o.mu.RUnlock()
	turns := make([]ActiveTurn, 0, len(o.activeTurns))
	for id, at := range o.activeTurns {
		turns = append(turns, ActiveTurn{TurnID: id, SessionID: at.sessionID})
	}
	sort.Slice(turns, func(i, j int) bool { return turns[i].TurnID < turns[j].TurnID })
	return turns
}

// Clear drops a session's history on the backend and in the store. A failed
// backend call is logged and does not prevent the local clear.
func (o *Orchestrator) Clear(ctx context.Context, sessionID string) error {
	if cl, ok := o.logger.(*logging.ChatLogger); ok {
		defer cl.WithSession(sessionID, "").StartTimer("clear_session")()
	}
	if err := o.transport.Clear(ctx, transport.ClearRequest{SessionID: sessionID}); err != nil {
		o.logger.Warn("Failed to clear backend session", "session_id", sessionID, "error", err)
	}
	if err := o.store.Clear(sessionID); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}

// Title derives a session title from its first message: the first n runes,
// followed by "..." when the message is longer.
func Title(content string, n int) string {
	runes := []rune(content)
	if len(runes) <= n {
		return content
	}
	return string(runes[:n]) + "..."
}

func errorText(reason string) string {
	if reason == "" {
		reason = "Unknown error"
	}
	return "Error: " + reason
}
