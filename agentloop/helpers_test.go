package agentloop

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/martinemde/steward/unifiedllm"
)

// scriptedModel replays a fixed list of rounds. Past the end it repeats
// the last entry.
type scriptedModel struct {
	mu     sync.Mutex
	rounds []func(ctx context.Context, req unifiedllm.Request) (*unifiedllm.Response, error)
	reqs   []unifiedllm.Request
}

func (m *scriptedModel) Complete(ctx context.Context, req unifiedllm.Request) (*unifiedllm.Response, error) {
	m.mu.Lock()
	m.reqs = append(m.reqs, req)
	i := len(m.reqs) - 1
	if i >= len(m.rounds) {
		i = len(m.rounds) - 1
	}
	round := m.rounds[i]
	m.mu.Unlock()
	return round(ctx, req)
}

func (m *scriptedModel) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.reqs)
}

func (m *scriptedModel) request(i int) unifiedllm.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reqs[i]
}

func script(rounds ...func(ctx context.Context, req unifiedllm.Request) (*unifiedllm.Response, error)) *scriptedModel {
	return &scriptedModel{rounds: rounds}
}

func reply(text string, usage unifiedllm.Usage) func(context.Context, unifiedllm.Request) (*unifiedllm.Response, error) {
	return func(context.Context, unifiedllm.Request) (*unifiedllm.Response, error) {
		msg := unifiedllm.Message{Role: unifiedllm.RoleAssistant}
		if text != "" {
			msg.Content = append(msg.Content, unifiedllm.TextPart(text))
		}
		return &unifiedllm.Response{Message: msg, Usage: usage}, nil
	}
}

type call struct {
	id, name, args string
}

func callTools(calls ...call) func(context.Context, unifiedllm.Request) (*unifiedllm.Response, error) {
	return func(context.Context, unifiedllm.Request) (*unifiedllm.Response, error) {
		msg := unifiedllm.Message{Role: unifiedllm.RoleAssistant}
		for _, c := range calls {
			msg.Content = append(msg.Content, unifiedllm.ToolCallPart(c.id, c.name, json.RawMessage(c.args)))
		}
		return &unifiedllm.Response{
			Message: msg,
			Usage:   unifiedllm.Usage{InputTokens: 1, OutputTokens: 1},
		}, nil
	}
}

func fail(err error) func(context.Context, unifiedllm.Request) (*unifiedllm.Response, error) {
	return func(context.Context, unifiedllm.Request) (*unifiedllm.Response, error) {
		return nil, err
	}
}

// recordingToolbox records which tools ran and succeeds every call.
type recordingToolbox struct {
	mu    sync.Mutex
	calls []string
	ids   []string
}

func (r *recordingToolbox) record(name string, tc ToolContext) ToolResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, name)
	r.ids = append(r.ids, tc.ToolCallID)
	return ToolResult{OK: true, Summary: name + " ok", Output: "output of " + name}
}

func (r *recordingToolbox) ran() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *recordingToolbox) ReadFile(_ context.Context, tc ToolContext, _ ReadFileArgs) ToolResult {
	return r.record(ToolReadFile, tc)
}

func (r *recordingToolbox) Shell(_ context.Context, tc ToolContext, _ ShellArgs) ToolResult {
	return r.record(ToolShell, tc)
}

func (r *recordingToolbox) WriteFile(_ context.Context, tc ToolContext, _ WriteFileArgs) ToolResult {
	return r.record(ToolWriteFile, tc)
}

func (r *recordingToolbox) StrReplaceFile(_ context.Context, tc ToolContext, _ StrReplaceFileArgs) ToolResult {
	return r.record(ToolStrReplaceFile, tc)
}

func (r *recordingToolbox) SearchWeb(_ context.Context, tc ToolContext, _ SearchWebArgs) ToolResult {
	return r.record(ToolSearchWeb, tc)
}

func (r *recordingToolbox) FetchURL(_ context.Context, tc ToolContext, _ FetchURLArgs) ToolResult {
	return r.record(ToolFetchURL, tc)
}

// recordingEmitter keeps every event and runs an optional hook inline.
type recordingEmitter struct {
	mu     sync.Mutex
	events []StreamEvent
	onEmit func(StreamEvent)
}

func (r *recordingEmitter) Emit(kind EventKind, data interface{}) {
	ev := StreamEvent{Kind: kind, Data: data}
	r.mu.Lock()
	r.events = append(r.events, ev)
	hook := r.onEmit
	r.mu.Unlock()
	if hook != nil {
		hook(ev)
	}
}

func (r *recordingEmitter) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]EventKind, len(r.events))
	for i, ev := range r.events {
		kinds[i] = ev.Kind
	}
	return kinds
}

func (r *recordingEmitter) ofKind(kind EventKind) []StreamEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []StreamEvent
	for _, ev := range r.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func (r *recordingEmitter) all() []StreamEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]StreamEvent(nil), r.events...)
}

func newTestLoop(model ModelClient, toolbox Toolbox, opts ...LoopOption) *Loop {
	opts = append([]LoopOption{WithPreamble(func(string) string { return "preamble" })}, opts...)
	return NewLoop(model, NewDispatcher(DefaultCatalog(), toolbox), opts...)
}

func assertKinds(t *testing.T, got []EventKind, want ...EventKind) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected events %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected events %v, got %v", want, got)
		}
	}
}

// assertOneTerminal checks that exactly one terminal event was emitted and
// that it was the last one.
func assertOneTerminal(t *testing.T, kinds []EventKind) {
	t.Helper()
	terminal := 0
	for _, k := range kinds {
		if k == EventDone || k == EventCancelled || k == EventError {
			terminal++
		}
	}
	if terminal != 1 {
		t.Fatalf("expected exactly one terminal event, got %d in %v", terminal, kinds)
	}
	last := kinds[len(kinds)-1]
	if last != EventDone && last != EventCancelled && last != EventError {
		t.Fatalf("terminal event is not last: %v", kinds)
	}
}
