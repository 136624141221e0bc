package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
)

// RecordedRequest is one call received by an AgentServer.
type RecordedRequest struct {
	Path          string
	Body          map[string]any
	Authorization string
}

// String returns a string body field or "".
func (r RecordedRequest) String(field string) string {
	s, _ := r.Body[field].(string)
	return s
}

// AgentIDs returns the agentIds body field.
func (r RecordedRequest) AgentIDs() []string {
	raw, _ := r.Body["agentIds"].([]any)
	ids := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			ids = append(ids, s)
		}
	}
	return ids
}

// AgentServer is a scripted agent backend speaking the stream, route and
// clear endpoints. Streams are keyed by the first entry of agentIds; the ""
// key serves requests without agentIds.
type AgentServer struct {
	*httptest.Server

	mu          sync.Mutex
	streams     map[string]string
	statuses    map[string]int
	route       any
	routeStatus int
	chunkSize   int
	requests    []RecordedRequest
}

// NewAgentServer starts a server. Close it when done.
func NewAgentServer() *AgentServer {
	s := &AgentServer{
		streams:     map[string]string{},
		statuses:    map[string]int{},
		routeStatus: http.StatusOK,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/chat/stream", s.handleStream)
	mux.HandleFunc("/api/chat/route", s.handleRoute)
	mux.HandleFunc("/api/chat/clear", s.handleClear)
	s.Server = httptest.NewServer(mux)
	return s
}

// SetStream scripts the body served for agentID.
func (s *AgentServer) SetStream(agentID, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streams[agentID] = body
}

// SetStreamStatus makes stream calls for agentID fail with status.
func (s *AgentServer) SetStreamStatus(agentID string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[agentID] = status
}

// SetRoute scripts the route response body and status.
func (s *AgentServer) SetRoute(status int, body any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routeStatus = status
	s.route = body
}

// SetChunkSize splits stream bodies into flushed writes of n bytes.
func (s *AgentServer) SetChunkSize(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunkSize = n
}

// Requests returns every recorded request.
func (s *AgentServer) Requests() []RecordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RecordedRequest, len(s.requests))
	copy(out, s.requests)
	return out
}

// RequestsTo returns recorded requests for one path.
func (s *AgentServer) RequestsTo(path string) []RecordedRequest {
	var out []RecordedRequest
	for _, r := range s.Requests() {
		if r.Path == path {
			out = append(out, r)
		}
	}
	return out
}

func (s *AgentServer) record(r *http.Request) RecordedRequest {
	body := map[string]any{}
	raw, _ := io.ReadAll(r.Body)
	_ = json.Unmarshal(raw, &body)
	rec := RecordedRequest{Path: r.URL.Path, Body: body, Authorization: r.Header.Get("Authorization")}

	s.mu.Lock()
	s.requests = append(s.requests, rec)
	s.mu.Unlock()
	return rec
}

func (s *AgentServer) handleStream(w http.ResponseWriter, r *http.Request) {
	rec := s.record(r)
	key := ""
	if ids := rec.AgentIDs(); len(ids) > 0 {
		key = ids[0]
	}

	s.mu.Lock()
	status, failed := s.statuses[key]
	body := s.streams[key]
	chunk := s.chunkSize
	s.mu.Unlock()

	if failed {
		http.Error(w, "scripted failure", status)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	if chunk <= 0 {
		chunk = len(body)
	}
	for len(body) > 0 {
		n := min(chunk, len(body))
		_, _ = io.WriteString(w, body[:n])
		flusher.Flush()
		body = body[n:]
	}
}

func (s *AgentServer) handleRoute(w http.ResponseWriter, r *http.Request) {
	s.record(r)

	s.mu.Lock()
	status, body := s.routeStatus, s.route
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (s *AgentServer) handleClear(w http.ResponseWriter, r *http.Request) {
	s.record(r)
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, `{"success":true}`)
}
