package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/hupe1980/meshchat/core"
	"github.com/hupe1980/meshchat/internal/testutil"
	"github.com/hupe1980/meshchat/logging"
	"github.com/hupe1980/meshchat/planner"
	"github.com/hupe1980/meshchat/session"
	"github.com/hupe1980/meshchat/transport"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreAnyFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreAnyFunction("net/http.(*persistConn).writeLoop"),
	)
}

type streamFunc func(ctx context.Context) (io.ReadCloser, error)

// fakeTransport scripts streams per agent id. Requests without agentIds use
// the "" key.
type fakeTransport struct {
	mu          sync.Mutex
	streams     map[string]streamFunc
	route       *transport.RouteResponse
	routeErr    error
	clearErr    error
	streamCalls []transport.StreamRequest
	routeCalls  int
	clearCalls  int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{streams: map[string]streamFunc{}}
}

func (f *fakeTransport) body(agentID, stream string) {
	f.streams[agentID] = func(context.Context) (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(stream)), nil
	}
}

func (f *fakeTransport) plan(agents []string, tasks map[string]string) {
	f.route = &transport.RouteResponse{Success: true, Plan: &transport.RoutePlan{Agents: agents, TaskForEach: tasks}}
}

func (f *fakeTransport) Stream(ctx context.Context, req transport.StreamRequest) (io.ReadCloser, error) {
	f.mu.Lock()
	f.streamCalls = append(f.streamCalls, req)
	key := ""
	if len(req.AgentIDs) > 0 {
		key = req.AgentIDs[0]
	}
	fn := f.streams[key]
	f.mu.Unlock()

	if fn == nil {
		return io.NopCloser(strings.NewReader("")), nil
	}
	return fn(ctx)
}

func (f *fakeTransport) Route(context.Context, transport.RouteRequest) (*transport.RouteResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routeCalls++
	if f.routeErr != nil {
		return nil, f.routeErr
	}
	return f.route, nil
}

func (f *fakeTransport) Clear(context.Context, transport.ClearRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clearCalls++
	return f.clearErr
}

func (f *fakeTransport) calls() []transport.StreamRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]transport.StreamRequest, len(f.streamCalls))
	copy(out, f.streamCalls)
	return out
}

func (f *fakeTransport) callFor(agentID string) (transport.StreamRequest, bool) {
	for _, c := range f.calls() {
		if len(c.AgentIDs) == 1 && c.AgentIDs[0] == agentID {
			return c, true
		}
	}
	return transport.StreamRequest{}, false
}

type recordingObserver struct {
	mu       sync.Mutex
	plans    []core.ExecutionPlan
	progress [][]core.ProgressStep
	updates  []core.AgentResponse
}

func (o *recordingObserver) OnThinking(string, bool) {}

func (o *recordingObserver) OnProgress(steps []core.ProgressStep) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.progress = append(o.progress, steps)
}

func (o *recordingObserver) OnAgentUpdate(r core.AgentResponse) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.updates = append(o.updates, r)
}

func (o *recordingObserver) OnPlan(p core.ExecutionPlan) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.plans = append(o.plans, p)
}

func newTestOrchestrator(ft *fakeTransport, optFns ...func(o *Options)) (*Orchestrator, *session.InMemoryStore) {
	store := session.NewInMemoryStore()
	fns := append([]func(o *Options){func(o *Options) { o.Store = store }}, optFns...)
	return New(ft, fns...), store
}

func multi(o *Options) { o.MultiAgent = true }

func contents(msgs []core.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Content)
	}
	return out
}

func TestSend_EmptyMessage(t *testing.T) {
	ft := newFakeTransport()
	o, store := newTestOrchestrator(ft)

	_, err := o.Send(context.Background(), Request{SessionID: "s1", Content: "   "})
	require.ErrorIs(t, err, ErrEmptyMessage)

	msgs, err := store.Messages("s1")
	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.Empty(t, ft.calls())
}

func TestSend_SingleAgent(t *testing.T) {
	ft := newFakeTransport()
	ft.body("", testutil.NewStreamBuilder().Thinking("starting").Message("Hello ").Message("world").Done("").String())
	o, store := newTestOrchestrator(ft)

	res, err := o.Send(context.Background(), Request{SessionID: "s1", AgentID: "assistant", Content: "hi there"})
	require.NoError(t, err)
	assert.Equal(t, ModeSingle, res.Mode)
	assert.Nil(t, res.Plan)

	calls := ft.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "hi there", calls[0].Message)
	assert.Equal(t, "assistant", calls[0].AgentID)
	assert.Empty(t, calls[0].AgentIDs)

	msgs, err := store.Messages("s1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, core.RoleUser, msgs[0].Role)
	assert.Equal(t, core.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "Hello world", msgs[1].Content)

	conv, ok := store.Get("s1")
	require.True(t, ok)
	assert.Equal(t, "hi there", conv.Title)
	assert.Empty(t, o.Active())
}

func TestSend_SingleAgentEmptyStream(t *testing.T) {
	ft := newFakeTransport()
	o, _ := newTestOrchestrator(ft)

	res, err := o.Send(context.Background(), Request{SessionID: "s1", Content: "hello"})
	require.NoError(t, err)
	assert.Equal(t, []string{EmptyReply}, contents(res.Messages))
}

func TestSend_SingleAgentTransportFailure(t *testing.T) {
	ft := newFakeTransport()
	ft.streams[""] = func(context.Context) (io.ReadCloser, error) { return nil, errors.New("connection refused") }
	o, store := newTestOrchestrator(ft)

	res, err := o.Send(context.Background(), Request{SessionID: "s1", Content: "hello"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, []string{ErrorReply}, contents(res.Messages))

	msgs, _ := store.Messages("s1")
	assert.Equal(t, []string{"hello", ErrorReply}, contents(msgs))

	conv, _ := store.Get("s1")
	assert.Empty(t, conv.Title)
}

func TestSend_TitleOnlyOnFirstTurn(t *testing.T) {
	ft := newFakeTransport()
	ft.body("", testutil.NewStreamBuilder().Message("ok").String())
	o, store := newTestOrchestrator(ft)

	long := "please summarize the following document for me"
	_, err := o.Send(context.Background(), Request{SessionID: "s1", Content: long})
	require.NoError(t, err)
	_, err = o.Send(context.Background(), Request{SessionID: "s1", Content: "second question"})
	require.NoError(t, err)

	conv, _ := store.Get("s1")
	assert.Equal(t, long[:30]+"...", conv.Title)
}

func TestSend_MultiAgentScenario(t *testing.T) {
	ft := newFakeTransport()
	ft.plan([]string{"coder", "writer"}, map[string]string{"coder": "taskA"})
	ft.body("coder", testutil.NewStreamBuilder().
		Progress("edit", "main.go", "write", "running", "").
		Message("A").
		Progress("edit", "main.go", "write", "completed", "").
		Done("").String())
	ft.body("writer", testutil.NewStreamBuilder().Message("W").Done("").String())

	obs := &recordingObserver{}
	o, store := newTestOrchestrator(ft, multi, func(o *Options) { o.Observer = obs })

	res, err := o.Send(context.Background(), Request{SessionID: "s1", AgentID: "main", Content: "build it"})
	require.NoError(t, err)
	assert.Equal(t, ModeMulti, res.Mode)
	require.NotNil(t, res.Plan)
	assert.Equal(t, []string{"coder", "writer"}, res.Plan.Agents)

	coder, ok := ft.callFor("coder")
	require.True(t, ok)
	assert.Equal(t, "taskA", coder.Message)
	assert.Equal(t, "main", coder.AgentID)
	assert.Equal(t, "s1", coder.SessionID)

	writer, ok := ft.callFor("writer")
	require.True(t, ok)
	assert.Equal(t, "build it", writer.Message)

	require.Len(t, res.Messages, 2)
	assert.Equal(t, "coder", res.Messages[0].AgentID)
	assert.Equal(t, "A", res.Messages[0].Content)
	assert.Equal(t, "writer", res.Messages[1].AgentID)
	assert.Equal(t, "W", res.Messages[1].Content)

	for _, r := range res.Responses {
		assert.Equal(t, core.AgentCompleted, r.Status, r.AgentID)
	}

	require.Len(t, res.Steps, 1)
	assert.Equal(t, core.StepCompleted, res.Steps[0].Status)

	msgs, _ := store.Messages("s1")
	assert.Equal(t, []string{"build it", "A", "W"}, contents(msgs))

	obs.mu.Lock()
	defer obs.mu.Unlock()
	require.Len(t, obs.plans, 1)
	assert.NotEmpty(t, obs.progress)
}

func TestSend_PlanningFailureMakesNoStreamCalls(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(ft *fakeTransport)
		wantErr error
	}{
		{
			name:    "empty plan",
			setup:   func(ft *fakeTransport) { ft.plan(nil, nil) },
			wantErr: planner.ErrNoAgents,
		},
		{
			name: "unsuccessful",
			setup: func(ft *fakeTransport) {
				ft.route = &transport.RouteResponse{Success: false, Error: "router offline"}
			},
			wantErr: planner.ErrRoutingFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ft := newFakeTransport()
			tt.setup(ft)
			o, store := newTestOrchestrator(ft, multi)

			res, err := o.Send(context.Background(), Request{SessionID: "s1", Content: "hello"})
			require.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, ft.calls())

			msgs, _ := store.Messages("s1")
			require.Len(t, msgs, 2)
			assert.Equal(t, "hello", msgs[0].Content)
			assert.True(t, strings.HasPrefix(msgs[1].Content, "Error: "))
			assert.Len(t, res.Messages, 1)
		})
	}
}

func TestSend_IsolatesAgentFailures(t *testing.T) {
	ft := newFakeTransport()
	ft.plan([]string{"coder", "writer"}, nil)
	ft.streams["coder"] = func(context.Context) (io.ReadCloser, error) { return nil, errors.New("boom") }
	ft.body("writer", testutil.NewStreamBuilder().Message("W").Done("").String())
	o, _ := newTestOrchestrator(ft, multi)

	res, err := o.Send(context.Background(), Request{SessionID: "s1", Content: "go"})
	require.NoError(t, err)

	require.Len(t, res.Responses, 2)
	assert.Equal(t, core.AgentError, res.Responses[0].Status)
	assert.Equal(t, "boom", res.Responses[0].Err)
	assert.Equal(t, core.AgentCompleted, res.Responses[1].Status)

	assert.Equal(t, []string{"Error: boom", "W"}, contents(res.Messages))
}

func TestSend_AbortOnFailureCancelsSiblings(t *testing.T) {
	ft := newFakeTransport()
	ft.plan([]string{"coder", "writer"}, nil)
	ft.streams["coder"] = func(context.Context) (io.ReadCloser, error) { return nil, errors.New("boom") }
	ft.streams["writer"] = func(ctx context.Context) (io.ReadCloser, error) {
		return testutil.BlockingReader(ctx, nil), nil
	}
	o, store := newTestOrchestrator(ft, multi, func(o *Options) { o.FailurePolicy = AbortOnFailure })

	res, err := o.Send(context.Background(), Request{SessionID: "s1", Content: "go"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	for _, r := range res.Responses {
		assert.Equal(t, core.AgentError, r.Status, r.AgentID)
	}

	msgs, _ := store.Messages("s1")
	require.Len(t, msgs, 2)
	assert.True(t, strings.HasPrefix(msgs[1].Content, "Error: "))
}

func TestSend_AgentTimeoutKeepsPartialContent(t *testing.T) {
	ft := newFakeTransport()
	ft.plan([]string{"coder", "writer"}, nil)
	ft.body("coder", testutil.NewStreamBuilder().Message("A").Done("").String())
	ft.streams["writer"] = func(ctx context.Context) (io.ReadCloser, error) {
		return testutil.BlockingReader(ctx, testutil.NewStreamBuilder().Message("partial").Bytes()), nil
	}
	o, _ := newTestOrchestrator(ft, multi, func(o *Options) { o.AgentTimeout = 50 * time.Millisecond })

	res, err := o.Send(context.Background(), Request{SessionID: "s1", Content: "go"})
	require.NoError(t, err)

	require.Len(t, res.Responses, 2)
	assert.Equal(t, core.AgentCompleted, res.Responses[0].Status)
	assert.Equal(t, core.AgentError, res.Responses[1].Status)
	assert.Equal(t, "partial", res.Responses[1].Content)
	assert.Contains(t, res.Responses[1].Err, context.DeadlineExceeded.Error())

	assert.Equal(t, []string{"A", "partial"}, contents(res.Messages))
}

func TestSend_MaxConcurrentAgents(t *testing.T) {
	var active, peak atomic.Int32
	ft := newFakeTransport()
	agents := []string{"a", "b", "c", "d"}
	ft.plan(agents, nil)
	for _, id := range agents {
		ft.streams[id] = func(context.Context) (io.ReadCloser, error) {
			n := active.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			return &countingBody{
				Reader:  strings.NewReader(testutil.NewStreamBuilder().Message(id).String()),
				onClose: func() { active.Add(-1) },
			}, nil
		}
	}
	o, _ := newTestOrchestrator(ft, multi, func(o *Options) { o.MaxConcurrentAgents = 1 })

	res, err := o.Send(context.Background(), Request{SessionID: "s1", Content: "go"})
	require.NoError(t, err)
	assert.Equal(t, int32(1), peak.Load())
	assert.Equal(t, agents, contents(res.Messages))
}

type countingBody struct {
	io.Reader
	onClose func()
}

func (b *countingBody) Close() error {
	b.onClose()
	return nil
}

func TestCancel(t *testing.T) {
	ft := newFakeTransport()
	ft.plan([]string{"slow"}, nil)
	ft.streams["slow"] = func(ctx context.Context) (io.ReadCloser, error) {
		return testutil.BlockingReader(ctx, nil), nil
	}
	o, _ := newTestOrchestrator(ft, multi)

	errCh := make(chan error, 1)
	go func() {
		_, err := o.Send(context.Background(), Request{SessionID: "s1", Content: "go"})
		errCh <- err
	}()

	require.Eventually(t, func() bool { return len(o.Active()) == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, o.Cancel(o.Active()[0].TurnID))

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("turn did not stop after cancel")
	}
	assert.Empty(t, o.Active())

	err := o.Cancel("missing")
	require.ErrorIs(t, err, ErrUnknownTurn)
}

func TestCancel_CallerChosenTurnID(t *testing.T) {
	ft := newFakeTransport()
	ft.streams[""] = func(ctx context.Context) (io.ReadCloser, error) {
		return testutil.BlockingReader(ctx, nil), nil
	}
	o, _ := newTestOrchestrator(ft)

	errCh := make(chan error, 2)
	for _, sid := range []string{"s1", "s2"} {
		go func() {
			_, err := o.Send(context.Background(), Request{TurnID: "turn-" + sid, SessionID: sid, Content: "go"})
			errCh <- err
		}()
	}

	require.Eventually(t, func() bool { return len(o.Active()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []ActiveTurn{
		{TurnID: "turn-s1", SessionID: "s1"},
		{TurnID: "turn-s2", SessionID: "s2"},
	}, o.Active())

	_, err := o.Send(context.Background(), Request{TurnID: "turn-s1", SessionID: "s3", Content: "again"})
	require.ErrorIs(t, err, ErrTurnInFlight)

	require.NoError(t, o.Cancel("turn-s2"))
	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("turn did not stop after cancel")
	}
	assert.Equal(t, []ActiveTurn{{TurnID: "turn-s1", SessionID: "s1"}}, o.Active())

	assert.Equal(t, 1, o.CancelSession("s1"))
	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("session turn did not stop after cancel")
	}
	assert.Empty(t, o.Active())
	assert.Zero(t, o.CancelSession("s1"))
}

type renameFailingStore struct {
	*session.InMemoryStore
}

func (renameFailingStore) Rename(string, string) error { return errors.New("disk full") }

func TestSend_StoreFailureLogsStack(t *testing.T) {
	ft := newFakeTransport()
	ft.body("", testutil.NewStreamBuilder().Message("ok").String())

	var logs bytes.Buffer
	o := New(ft, func(o *Options) {
		o.Store = renameFailingStore{session.NewInMemoryStore()}
		o.Logger = logging.NewLogger(&logging.LoggerConfig{Level: logging.LogLevelInfo, Format: "json", Output: &logs})
	})

	res, err := o.Send(context.Background(), Request{SessionID: "s1", Content: "hello"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to rename session")
	require.NotNil(t, res)
	assert.Equal(t, []string{"ok"}, contents(res.Messages))

	assert.Contains(t, logs.String(), "Conversation store failed")
	assert.Contains(t, logs.String(), `"stack_trace"`)
	assert.Contains(t, logs.String(), "disk full")
}

func TestTurnTimeout(t *testing.T) {
	ft := newFakeTransport()
	ft.streams[""] = func(ctx context.Context) (io.ReadCloser, error) {
		return testutil.BlockingReader(ctx, nil), nil
	}
	o, _ := newTestOrchestrator(ft, func(o *Options) { o.TurnTimeout = 30 * time.Millisecond })

	res, err := o.Send(context.Background(), Request{SessionID: "s1", Content: "go"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, []string{ErrorReply}, contents(res.Messages))
}

func TestClear(t *testing.T) {
	ft := newFakeTransport()
	ft.clearErr = errors.New("backend down")
	ft.body("", testutil.NewStreamBuilder().Message("ok").String())
	o, store := newTestOrchestrator(ft)

	_, err := o.Send(context.Background(), Request{SessionID: "s1", Content: "hello"})
	require.NoError(t, err)

	require.NoError(t, o.Clear(context.Background(), "s1"))
	assert.Equal(t, 1, ft.clearCalls)

	msgs, _ := store.Messages("s1")
	assert.Empty(t, msgs)
}

func TestTitle(t *testing.T) {
	assert.Equal(t, "short", Title("short", 30))
	assert.Equal(t, "abc...", Title("abcdef", 3))
	assert.Equal(t, "äöü...", Title("äöüß", 3))
}

func TestParseFailurePolicy(t *testing.T) {
	p, err := ParseFailurePolicy("abort")
	require.NoError(t, err)
	assert.Equal(t, AbortOnFailure, p)

	p, err = ParseFailurePolicy("")
	require.NoError(t, err)
	assert.Equal(t, IsolateFailures, p)

	_, err = ParseFailurePolicy("retry")
	require.Error(t, err)
}

func TestSend_OverHTTP(t *testing.T) {
	srv := testutil.NewAgentServer()
	defer srv.Close()

	srv.SetRoute(http.StatusOK, map[string]any{
		"success": true,
		"plan": map[string]any{
			"agents":        []string{"coder", "writer"},
			"task_for_each": map[string]string{"coder": "write the code"},
		},
	})
	srv.SetStream("coder", testutil.NewStreamBuilder().Message("func main() {}").Done("").String())
	srv.SetStream("writer", testutil.NewStreamBuilder().Message("docs").Done("").String())
	srv.SetChunkSize(7)

	httpClient := &http.Client{Transport: &http.Transport{}}
	defer httpClient.CloseIdleConnections()

	client := transport.New(srv.URL, func(o *transport.Options) { o.HTTPClient = httpClient })
	o := New(client, multi)

	res, err := o.Send(context.Background(), Request{SessionID: "s1", Content: "ship it"})
	require.NoError(t, err)
	assert.Equal(t, []string{"func main() {}", "docs"}, contents(res.Messages))

	streams := srv.RequestsTo(transport.DefaultStreamPath)
	require.Len(t, streams, 2)
	for _, r := range streams {
		ids := r.AgentIDs()
		require.Len(t, ids, 1)
		if ids[0] == "coder" {
			assert.Equal(t, "write the code", r.String("message"))
		} else {
			assert.Equal(t, "ship it", r.String("message"))
		}
	}
	assert.Len(t, srv.RequestsTo(transport.DefaultRoutePath), 1)
}
