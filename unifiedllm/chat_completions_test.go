package unifiedllm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

type capturedRequest struct {
	path   string
	auth   string
	header http.Header
	body   map[string]interface{}
}

func newChatServer(t *testing.T, status int, reply string) (*httptest.Server, *capturedRequest) {
	t.Helper()
	captured := &capturedRequest{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.path = r.URL.Path
		captured.auth = r.Header.Get("Authorization")
		captured.header = r.Header.Clone()
		if r.Body != nil {
			raw, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(raw, &captured.body)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, reply)
	}))
	t.Cleanup(srv.Close)
	return srv, captured
}

const toolCallReply = `{
  "id": "chatcmpl-1",
  "object": "chat.completion",
  "created": 1700000000,
  "model": "kimi-k2.5",
  "choices": [{
    "index": 0,
    "finish_reason": "tool_calls",
    "message": {
      "role": "assistant",
      "content": "",
      "reasoning_content": "need to read the file",
      "tool_calls": [{
        "id": "call_1",
        "type": "function",
        "function": {"name": "ReadFile", "arguments": "{\"path\":\"go.mod\"}"}
      }]
    }
  }],
  "usage": {"prompt_tokens": 12, "completion_tokens": 5, "total_tokens": 17}
}`

func TestChatCompletionsToolCallRound(t *testing.T) {
	srv, captured := newChatServer(t, http.StatusOK, toolCallReply)
	adapter := NewChatCompletionsAdapter("kimi",
		WithBaseURL(srv.URL),
		WithStaticKey("sk-test"),
		WithHeader("X-Msh-Platform", "steward"),
	)

	resp, err := adapter.Complete(context.Background(), Request{
		Model: "kimi",
		Messages: []Message{
			SystemMessage("preamble"),
			UserMessage("what module is this?"),
		},
		ToolDefs: []ToolDefinition{{
			Name:        "ReadFile",
			Description: "Read a file",
			Parameters:  map[string]interface{}{"type": "object"},
		}},
		ToolChoice: &ToolChoice{Mode: "auto"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if captured.path != "/chat/completions" {
		t.Errorf("unexpected path %q", captured.path)
	}
	if captured.auth != "Bearer sk-test" {
		t.Errorf("unexpected authorization %q", captured.auth)
	}
	if captured.header.Get("X-Msh-Platform") != "steward" {
		t.Errorf("missing custom header")
	}
	if captured.body["model"] != "kimi-k2.5" {
		t.Errorf("expected alias resolved to kimi-k2.5, got %v", captured.body["model"])
	}
	if captured.body["tool_choice"] != "auto" {
		t.Errorf("expected tool_choice auto, got %v", captured.body["tool_choice"])
	}
	if tools, _ := captured.body["tools"].([]interface{}); len(tools) != 1 {
		t.Errorf("expected one tool in request, got %v", captured.body["tools"])
	}

	if resp.Reasoning() != "need to read the file" {
		t.Errorf("reasoning = %q", resp.Reasoning())
	}
	calls := resp.ToolCallsFromResponse()
	if len(calls) != 1 || calls[0].ID != "call_1" || calls[0].Name != "ReadFile" {
		t.Fatalf("unexpected calls %+v", calls)
	}
	if string(calls[0].Arguments) != `{"path":"go.mod"}` {
		t.Errorf("unexpected arguments %s", calls[0].Arguments)
	}
	if resp.FinishReason.Reason != "tool_calls" {
		t.Errorf("finish = %q", resp.FinishReason.Reason)
	}
	if resp.Usage.InputTokens != 12 || resp.Usage.OutputTokens != 5 || resp.Usage.TotalTokens != 17 {
		t.Errorf("unexpected usage %+v", resp.Usage)
	}
}

func TestChatCompletionsSendsReasoningBack(t *testing.T) {
	srv, captured := newChatServer(t, http.StatusOK, `{"id":"x","object":"chat.completion","created":1,"model":"kimi-k2.5",
"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"module steward"}}],
"usage":{"prompt_tokens":1,"completion_tokens":1,"total_tokens":2}}`)
	adapter := NewChatCompletionsAdapter("kimi", WithBaseURL(srv.URL), WithStaticKey("k"))

	assistant := Message{Role: RoleAssistant, Content: []ContentPart{
		ThinkingPart("need to read the file"),
		ToolCallPart("call_1", "ReadFile", json.RawMessage(`not json`)),
	}}
	resp, err := adapter.Complete(context.Background(), Request{
		Model: "kimi-k2.5",
		Messages: []Message{
			UserMessage("what module is this?"),
			assistant,
			ToolResultMessage("call_1", `{"ok":true,"summary":"Read 3 lines","output":"module steward"}`, false),
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text() != "module steward" {
		t.Errorf("text = %q", resp.Text())
	}

	msgs, _ := captured.body["messages"].([]interface{})
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	sent, _ := msgs[1].(map[string]interface{})
	if sent["reasoning_content"] != "need to read the file" {
		t.Errorf("reasoning_content not sent back: %v", sent)
	}
	calls, _ := sent["tool_calls"].([]interface{})
	if len(calls) != 1 {
		t.Fatalf("expected one tool call, got %v", sent["tool_calls"])
	}
	fn := calls[0].(map[string]interface{})["function"].(map[string]interface{})
	if fn["arguments"] != "{}" {
		t.Errorf("invalid arguments should be sent as {}, got %v", fn["arguments"])
	}
	toolMsg, _ := msgs[2].(map[string]interface{})
	if toolMsg["role"] != "tool" || toolMsg["tool_call_id"] != "call_1" {
		t.Errorf("unexpected tool message %v", toolMsg)
	}
	if _, ok := captured.body["tools"]; ok {
		t.Error("no tools should be sent when none are defined")
	}
}

func TestChatCompletionsNoCredential(t *testing.T) {
	srv, captured := newChatServer(t, http.StatusOK, toolCallReply)
	adapter := NewChatCompletionsAdapter("kimi", WithBaseURL(srv.URL))

	_, err := adapter.Complete(context.Background(), Request{Model: "kimi-k2.5"})
	if !IsAuthError(err) {
		t.Fatalf("expected AuthenticationError, got %T (%v)", err, err)
	}
	if captured.path != "" {
		t.Error("no request should be sent without a credential")
	}
}

func TestChatCompletionsHTTPErrors(t *testing.T) {
	tests := []struct {
		status int
		check  func(error) bool
	}{
		{http.StatusUnauthorized, IsAuthError},
		{http.StatusTooManyRequests, func(e error) bool { var rl *RateLimitError; return errors.As(e, &rl) }},
		{http.StatusInternalServerError, func(e error) bool { var se *ServerError; return errors.As(e, &se) }},
	}
	for _, tt := range tests {
		srv, _ := newChatServer(t, tt.status, `{"error":{"message":"nope","type":"x","code":"x"}}`)
		adapter := NewChatCompletionsAdapter("kimi", WithBaseURL(srv.URL), WithStaticKey("k"))
		_, err := adapter.Complete(context.Background(), Request{Model: "kimi-k2.5"})
		if !tt.check(err) {
			t.Errorf("status %d: unexpected error %T (%v)", tt.status, err, err)
		}
	}
}

func TestChatCompletionsEmptyChoices(t *testing.T) {
	srv, _ := newChatServer(t, http.StatusOK, `{"id":"x","object":"chat.completion","created":1,"model":"kimi-k2.5","choices":[]}`)
	adapter := NewChatCompletionsAdapter("kimi", WithBaseURL(srv.URL), WithStaticKey("k"))

	_, err := adapter.Complete(context.Background(), Request{Model: "kimi-k2.5"})
	var parseErr *ResponseParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected ResponseParseError, got %T (%v)", err, err)
	}
}

func TestChatCompletionsListModels(t *testing.T) {
	srv, captured := newChatServer(t, http.StatusOK, `{"object":"list","data":[
{"id":"kimi-k2.5","object":"model","created":1,"owned_by":"moonshot"},
{"id":"kimi-experimental","object":"model","created":1,"owned_by":"moonshot"}]}`)
	adapter := NewChatCompletionsAdapter("kimi", WithBaseURL(srv.URL), WithStaticKey("k"))

	models, err := adapter.ListModels(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if captured.path != "/models" {
		t.Errorf("unexpected path %q", captured.path)
	}
	if len(models) != 2 {
		t.Fatalf("expected 2 models, got %d", len(models))
	}
	if models[0].DisplayName != "Kimi K2.5" {
		t.Errorf("known model should use catalog metadata, got %+v", models[0])
	}
	if models[1].ID != "kimi-experimental" || models[1].Provider != "kimi" {
		t.Errorf("unexpected unknown model entry %+v", models[1])
	}
}
