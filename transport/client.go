// Package transport talks to the agent backend over HTTP: the streaming chat
// endpoint, the route planning endpoint and the session clear endpoint.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hupe1980/meshchat/logging"
)

// Default endpoint paths.
const (
	DefaultStreamPath = "/api/chat/stream"
	DefaultRoutePath  = "/api/chat/route"
	DefaultClearPath  = "/api/chat/clear"
)

// StreamRequest is the body of a stream call.
type StreamRequest struct {
	Message   string   `json:"message"`
	SessionID string   `json:"sessionId"`
	AgentID   string   `json:"agentId,omitempty"`
	AgentIDs  []string `json:"agentIds,omitempty"`
}

// RouteRequest is the body of a route planning call.
type RouteRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`
	AgentID   string `json:"agentId,omitempty"`
}

// RoutePlan is the plan as returned on the wire.
type RoutePlan struct {
	Agents        []string          `json:"agents"`
	TaskForEach   map[string]string `json:"task_for_each"`
	Reasoning     string            `json:"reasoning,omitempty"`
	ExecutionMode string            `json:"execution_mode,omitempty"`
}

// RouteResponse is the route planning response.
type RouteResponse struct {
	Success bool       `json:"success"`
	Plan    *RoutePlan `json:"plan,omitempty"`
	Error   string     `json:"error,omitempty"`
}

// ClearRequest is the body of a clear call.
type ClearRequest struct {
	SessionID string `json:"sessionId"`
}

// Transport is the set of backend calls the orchestrator depends on.
type Transport interface {
	// Stream opens an event stream. The caller must close the returned body.
	Stream(ctx context.Context, req StreamRequest) (io.ReadCloser, error)
	// Route performs a single request/response planning call.
	Route(ctx context.Context, req RouteRequest) (*RouteResponse, error)
	// Clear asks the backend to drop a session's history.
	Clear(ctx context.Context, req ClearRequest) error
}

// StatusError reports a non-2xx response.
type StatusError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s API error: %d", e.Endpoint, e.StatusCode)
	}
	return fmt.Sprintf("%s API error: %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

// Options configures a Client.
type Options struct {
	// HTTPClient defaults to a client without an overall timeout, since
	// streams are long-lived; use contexts to bound calls.
	HTTPClient *http.Client
	StreamPath string
	RoutePath  string
	ClearPath  string
	// RequestTimeout bounds the route and clear calls. Zero disables it.
	RequestTimeout time.Duration
	// Signer, when set, adds a bearer token to every request.
	Signer *TokenSigner
	// Logger defaults to NoOpLogger.
	Logger logging.Logger
}

// Client is an HTTP Transport. It is safe for concurrent use.
type Client struct {
	baseURL        string
	httpClient     *http.Client
	streamPath     string
	routePath      string
	clearPath      string
	requestTimeout time.Duration
	signer         *TokenSigner
	logger         logging.Logger
}

var _ Transport = (*Client)(nil)

// New creates a Client for the backend at baseURL.
func New(baseURL string, optFns ...func(o *Options)) *Client {
	opts := Options{
		HTTPClient:     &http.Client{},
		StreamPath:     DefaultStreamPath,
		RoutePath:      DefaultRoutePath,
		ClearPath:      DefaultClearPath,
		RequestTimeout: 60 * time.Second,
		Logger:         logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}

	return &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		httpClient:     opts.HTTPClient,
		streamPath:     opts.StreamPath,
		routePath:      opts.RoutePath,
		clearPath:      opts.ClearPath,
		requestTimeout: opts.RequestTimeout,
		signer:         opts.Signer,
		logger:         logging.OrNoOp(opts.Logger),
	}
}

// Stream implements Transport.
func (c *Client) Stream(ctx context.Context, req StreamRequest) (io.ReadCloser, error) {
	resp, err := c.post(ctx, "stream", c.streamPath, req, "text/event-stream")
	if err != nil {
		return nil, err
	}
	c.logger.Debug("Stream opened", "session_id", req.SessionID, "agent_ids", req.AgentIDs)
	return resp.Body, nil
}

// Route implements Transport.
func (c *Client) Route(ctx context.Context, req RouteRequest) (*RouteResponse, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	resp, err := c.post(ctx, "route", c.routePath, req, "application/json")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out RouteResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode route response: %w", err)
	}
	return &out, nil
}

// Clear implements Transport.
func (c *Client) Clear(ctx context.Context, req ClearRequest) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	resp, err := c.post(ctx, "clear", c.clearPath, req, "application/json")
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.Body.Close()
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.requestTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.requestTimeout)
}

// post sends body as JSON and returns the response when the status is 2xx.
func (c *Client) post(ctx context.Context, endpoint, path string, body any, accept string) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s request: %w", endpoint, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build %s request: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", accept)

	if c.signer != nil {
		token, err := c.signer.Token()
		if err != nil {
			return nil, fmt.Errorf("failed to sign %s request: %w", endpoint, err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", endpoint, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{Endpoint: endpoint, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	return resp, nil
}
