// Package meshchat provides a high-level façade over the chat orchestration
// stack: the HTTP transport, the route planner, the turn orchestrator and the
// conversation store. Most applications interact with this package by:
//  1. Loading a config.Config (or using config.Default)
//  2. Creating a Client via New(), optionally overriding the in‑memory store,
//     the observer or the logger
//  3. Sending user messages with Send and reading the stored conversation
//
// All defaults are safe for local development; production deployments
// typically supply a durable store and a structured logger.
package meshchat

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/hupe1980/meshchat/config"
	"github.com/hupe1980/meshchat/core"
	"github.com/hupe1980/meshchat/logging"
	"github.com/hupe1980/meshchat/orchestrator"
	"github.com/hupe1980/meshchat/planner"
	"github.com/hupe1980/meshchat/session"
	"github.com/hupe1980/meshchat/transport"
)

// Options configures the Client.
type Options struct {
	// Config defaults to config.Default().
	Config *config.Config
	// HTTPClient is handed to the transport.
	HTTPClient *http.Client
	// Store defaults to an in-memory store.
	Store core.ConversationStore
	// Observer receives live turn updates.
	Observer core.Observer
	// Logger overrides the logger built from Config.Logging.
	Logger logging.Logger
	// SlogLogger is adapted when Logger is nil, replacing the logger built
	// from Config.Logging.
	SlogLogger *slog.Logger
	// LogOutput is where a config-built slog logger writes. Defaults to stderr.
	LogOutput io.Writer
}

// Client is the high-level façade aggregating transport, planner and
// orchestrator.
type Client struct {
	cfg          *config.Config
	transport    *transport.Client
	planner      *planner.Planner
	orchestrator *orchestrator.Orchestrator
	logger       logging.Logger
	sync         func() error
}

// New creates a Client from the configured options. The configuration is
// validated first.
func New(optFns ...func(o *Options)) (*Client, error) {
	opts := Options{
		Config:    config.Default(),
		Store:     session.NewInMemoryStore(),
		Observer:  core.NoOpObserver{},
		LogOutput: os.Stderr,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	policy, err := orchestrator.ParseFailurePolicy(cfg.FailurePolicy)
	if err != nil {
		return nil, err
	}

	logger, syncFn := opts.Logger, func() error { return nil }
	if logger == nil && opts.SlogLogger != nil {
		logger = logging.NewSlogAdapter(opts.SlogLogger)
	}
	if logger == nil {
		logger, syncFn, err = NewLogger(cfg.Logging, opts.LogOutput)
		if err != nil {
			return nil, err
		}
	}

	var signer *transport.TokenSigner
	if cfg.AuthEnabled() {
		signer, err = transport.NewTokenSigner([]byte(cfg.Auth.JWTSecret), cfg.Auth.Subject, cfg.TokenTTL())
		if err != nil {
			return nil, fmt.Errorf("failed to create token signer: %w", err)
		}
	}

	tr := transport.New(cfg.BaseURL, func(o *transport.Options) {
		if opts.HTTPClient != nil {
			o.HTTPClient = opts.HTTPClient
		}
		if cfg.Endpoints.Stream != "" {
			o.StreamPath = cfg.Endpoints.Stream
		}
		if cfg.Endpoints.Route != "" {
			o.RoutePath = cfg.Endpoints.Route
		}
		if cfg.Endpoints.Clear != "" {
			o.ClearPath = cfg.Endpoints.Clear
		}
		o.RequestTimeout = cfg.RequestTimeout()
		o.Signer = signer
		o.Logger = componentLogger(logger, "transport")
	})

	pl := planner.New(tr, func(o *planner.Options) { o.Logger = componentLogger(logger, "planner") })

	orch := orchestrator.New(tr, func(o *orchestrator.Options) {
		o.MultiAgent = cfg.MultiAgent
		o.AgentTimeout = cfg.AgentTimeout()
		o.TurnTimeout = cfg.TurnTimeout()
		o.MaxConcurrentAgents = cfg.MaxConcurrentAgents
		o.FailurePolicy = policy
		o.Planner = pl
		o.Store = opts.Store
		o.Observer = opts.Observer
		o.Logger = componentLogger(logger, "orchestrator")
	})

	return &Client{
		cfg:          cfg,
		transport:    tr,
		planner:      pl,
		orchestrator: orch,
		logger:       logger,
		sync:         syncFn,
	}, nil
}

// NewLogger builds the logger named by cfg. The returned function flushes
// buffered entries.
func NewLogger(cfg config.LoggingConfig, out io.Writer) (logging.Logger, func() error, error) {
	level, err := logging.ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}

	switch cfg.Backend {
	case "", "slog":
		l := logging.NewLogger(&logging.LoggerConfig{
			Level:  level,
			Format: cfg.Format,
			Output: out,
		})
		return l, func() error { return nil }, nil
	case "zap":
		z, err := logging.NewZapLogger(level)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create zap logger: %w", err)
		}
		return z, z.Sync, nil
	default:
		return nil, nil, fmt.Errorf("unknown logging backend %q", cfg.Backend)
	}
}

func componentLogger(l logging.Logger, component string) logging.Logger {
	if cl, ok := l.(*logging.ChatLogger); ok {
		return cl.WithComponent(component)
	}
	return l
}

// Config returns the effective configuration.
func (c *Client) Config() *config.Config { return c.cfg }

// Store returns the conversation store.
func (c *Client) Store() core.ConversationStore { return c.orchestrator.Store() }

// Send runs one turn for the configured agent, using the configured mode.
func (c *Client) Send(ctx context.Context, sessionID, content string) (*orchestrator.TurnResult, error) {
	return c.SendMode(ctx, sessionID, content, orchestrator.ModeAuto)
}

// SendMode runs one turn forcing the single- or multi-agent path.
func (c *Client) SendMode(ctx context.Context, sessionID, content string, mode orchestrator.Mode) (*orchestrator.TurnResult, error) {
	return c.SendRequest(ctx, orchestrator.Request{
		SessionID: sessionID,
		Content:   content,
		Mode:      mode,
	})
}

// SendRequest runs one turn as described by req. Setting req.TurnID lets the
// caller cancel the turn while it runs. An empty AgentID uses the configured
// agent.
func (c *Client) SendRequest(ctx context.Context, req orchestrator.Request) (*orchestrator.TurnResult, error) {
	if req.AgentID == "" {
		req.AgentID = c.cfg.AgentID
	}
	return c.orchestrator.Send(ctx, req)
}

// Plan asks the backend for an execution plan without running it.
func (c *Client) Plan(ctx context.Context, sessionID, message string) (*core.ExecutionPlan, error) {
	return c.planner.Plan(ctx, message, sessionID, c.cfg.AgentID)
}

// Clear drops a session's history on the backend and locally.
func (c *Client) Clear(ctx context.Context, sessionID string) error {
	return c.orchestrator.Clear(ctx, sessionID)
}

// Cancel stops an in-flight turn.
func (c *Client) Cancel(turnID string) error { return c.orchestrator.Cancel(turnID) }

// CancelSession stops every in-flight turn of a session.
func (c *Client) CancelSession(sessionID string) int { return c.orchestrator.CancelSession(sessionID) }

// Active lists in-flight turns with their sessions.
func (c *Client) Active() []orchestrator.ActiveTurn { return c.orchestrator.Active() }

// Close flushes the logger.
func (c *Client) Close() error {
	if c.sync == nil {
		return nil
	}
	return c.sync()
}
