package core

import "testing"

func TestAgentResponse_ForwardOnly(t *testing.T) {
	r := NewAgentResponse("coder")
	if r.Status != AgentPending {
		t.Fatalf("new response should be pending, got %s", r.Status)
	}
	if !r.Advance(AgentStreaming) {
		t.Fatal("pending -> streaming should advance")
	}
	if r.Advance(AgentPending) {
		t.Fatal("streaming -> pending must be refused")
	}
	if r.Advance(AgentStreaming) {
		t.Fatal("sideways transition must be refused")
	}
	if !r.Advance(AgentCompleted) {
		t.Fatal("streaming -> completed should advance")
	}
	if r.Advance(AgentError) {
		t.Fatal("terminal response must not change status")
	}
	if r.Status != AgentCompleted {
		t.Fatalf("expected completed, got %s", r.Status)
	}
}

func TestAgentResponse_AppendOnly(t *testing.T) {
	r := NewAgentResponse("a")
	for _, f := range []string{"he", "", "llo"} {
		if !r.Append(f) {
			t.Fatalf("append %q refused while streaming", f)
		}
	}
	if r.Content != "hello" || r.Status != AgentStreaming {
		t.Fatalf("unexpected state: %+v", r)
	}

	r.Fail("stalled")
	if r.Append("more") {
		t.Fatal("append after terminal must be refused")
	}
	if r.Content != "hello" || r.Err != "stalled" {
		t.Fatalf("failure must keep content: %+v", r)
	}
	if r.Fail("again") || r.Err != "stalled" {
		t.Fatal("second failure must not overwrite the first")
	}
}

func TestAgentResponse_Finalize(t *testing.T) {
	r := NewAgentResponse("a")
	r.Append("partial")
	if r.Finalize("", AgentStreaming) {
		t.Fatal("finalize requires a terminal status")
	}
	if !r.Finalize("", AgentCompleted) || r.Content != "partial" {
		t.Fatalf("empty final content must keep accumulated text: %+v", r)
	}

	r2 := NewAgentResponse("b")
	r2.Append("draft")
	if !r2.Finalize("final", AgentCompleted) || r2.Content != "final" {
		t.Fatalf("final content must replace accumulated text: %+v", r2)
	}
	if r2.Finalize("late", AgentCompleted) || r2.Content != "final" {
		t.Fatal("second finalize must be ignored")
	}
}

func TestAgentResponse_FinalizeFromPending(t *testing.T) {
	r := NewAgentResponse("a")
	if !r.Finalize("whole answer", AgentCompleted) {
		t.Fatal("pending response should finalize")
	}
	if r.Status != AgentCompleted || r.Content != "whole answer" {
		t.Fatalf("unexpected final record: %+v", r)
	}

	empty := NewAgentResponse("b")
	if !empty.Finalize("", AgentError) || empty.Content != "" || empty.Status != AgentError {
		t.Fatalf("content-free finalize should fail straight from pending: %+v", empty)
	}
}

func TestAgentStatus_UnknownNeverAdvances(t *testing.T) {
	if AgentPending.CanAdvance(AgentStatus("bogus")) {
		t.Fatal("unknown status must not be reachable")
	}
	if !AgentError.IsTerminal() || AgentStreaming.IsTerminal() {
		t.Fatal("IsTerminal mismatch")
	}
}
