package agentloop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/martinemde/steward/logging"
	"github.com/martinemde/steward/unifiedllm"
)

// DefaultStepBudget is the maximum number of model rounds per turn.
const DefaultStepBudget = 20

// ErrStepBudgetExceeded fails a turn whose model kept calling tools.
var ErrStepBudgetExceeded = errors.New("exceeded maximum tool steps")

// RejectedSummary is the summary of a tool call the observer declined.
const RejectedSummary = "rejected"

// ModelClient performs one model round. *unifiedllm.Client satisfies it.
type ModelClient interface {
	Complete(ctx context.Context, req unifiedllm.Request) (*unifiedllm.Response, error)
}

// Outcome is the terminal state of a turn.
type Outcome string

const (
	OutcomeDone      Outcome = "done"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeError     Outcome = "error"
)

// TurnRequest carries the inputs of one turn.
type TurnRequest struct {
	SessionID string
	UserText  string
	Model     string
	Provider  string
	WorkDir   string
	// ConfigPath is forwarded to tools as auxiliary context.
	ConfigPath  string
	AutoApprove bool
}

// TurnResult describes how a turn ended.
type TurnResult struct {
	Outcome Outcome
	// Content is the final assistant text; empty unless Outcome is done.
	Content      string
	Usage        unifiedllm.Usage
	Rounds       int
	ToolCalls    []unifiedllm.ToolCall
	Conversation *ConversationState
}

// Loop drives turns: it alternates model rounds with tool execution under
// a step budget, gating side-effecting tools behind approval. One Loop
// serves any number of concurrent turns.
type Loop struct {
	client     ModelClient
	dispatcher *Dispatcher
	catalog    *Catalog
	approvals  *ApprovalGate
	preamble   func(workDir string) string
	stepBudget int
	log        *logrus.Entry
}

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithStepBudget overrides DefaultStepBudget.
func WithStepBudget(n int) LoopOption {
	return func(l *Loop) {
		if n > 0 {
			l.stepBudget = n
		}
	}
}

// WithPreamble replaces BuildPreamble.
func WithPreamble(fn func(workDir string) string) LoopOption {
	return func(l *Loop) {
		l.preamble = fn
	}
}

// WithApprovalGate shares a gate with the caller, which resolves requests on it.
func WithApprovalGate(g *ApprovalGate) LoopOption {
	return func(l *Loop) {
		l.approvals = g
	}
}

// NewLoop creates a loop that calls client and runs tools through dispatcher.
func NewLoop(client ModelClient, dispatcher *Dispatcher, opts ...LoopOption) *Loop {
	l := &Loop{
		client:     client,
		dispatcher: dispatcher,
		catalog:    dispatcher.Catalog(),
		approvals:  NewApprovalGate(),
		preamble:   BuildPreamble,
		stepBudget: DefaultStepBudget,
		log:        logging.NewLogger("loop"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Approvals returns the gate used for gated tools.
func (l *Loop) Approvals() *ApprovalGate {
	return l.approvals
}

// RunTurn drives one turn to exactly one terminal event: done, cancelled
// or error. Cancellation is reported through the result, not the error;
// a non-nil error always accompanies OutcomeError. Cancelling ctx has the
// same effect as triggering token.
func (l *Loop) RunTurn(ctx context.Context, req TurnRequest, em Emitter, token *CancelToken) (*TurnResult, error) {
	if token == nil {
		token = NewCancelToken()
	}
	stop := token.Bind(ctx)
	defer stop()

	t := &turn{
		loop:  l,
		req:   req,
		em:    em,
		token: token,
		conv:  NewConversation(l.preamble(req.WorkDir), req.UserText),
		log:   l.log.WithField("session_id", req.SessionID),
	}
	return t.run(ctx)
}

// turn holds the loop-local state of one RunTurn call.
type turn struct {
	loop   *Loop
	req    TurnRequest
	em     Emitter
	token  *CancelToken
	conv   *ConversationState
	usage  unifiedllm.Usage
	rounds int
	calls  []unifiedllm.ToolCall
	log    *logrus.Entry
}

func (t *turn) run(ctx context.Context) (*TurnResult, error) {
	tools := t.loop.catalog.Definitions()

	for t.rounds < t.loop.stepBudget {
		if t.token.Cancelled() {
			return t.cancelled(), nil
		}

		t.rounds++
		log := t.log.WithField("round", t.rounds)
		resp, err := t.complete(ctx, unifiedllm.Request{
			Model:      t.req.Model,
			Provider:   t.req.Provider,
			Messages:   t.conv.Messages(),
			ToolDefs:   tools,
			ToolChoice: &unifiedllm.ToolChoice{Mode: "auto"},
		})
		if errors.Is(err, ErrCancelled) {
			return t.cancelled(), nil
		}
		if err != nil {
			log.WithError(err).Error("model round failed")
			return t.fail(err)
		}
		t.usage = t.usage.Add(resp.Usage)

		reasoning := resp.Reasoning()
		if reasoning != "" {
			t.emit(EventThinking, ThinkingData{SessionID: t.req.SessionID, Content: reasoning})
		}

		content := resp.Text()
		calls := resp.ToolCallsFromResponse()
		if len(calls) == 0 {
			t.conv.AppendAssistant(content, reasoning, nil)
			if content != "" {
				t.emit(EventChunk, ChunkData{SessionID: t.req.SessionID, Content: content})
			} else {
				log.Warn("model returned neither text nor tool calls; ending turn")
			}
			return t.done(content), nil
		}

		for i := range calls {
			if calls[i].ID == "" {
				calls[i].ID = uuid.NewString()
			}
		}
		t.conv.AppendAssistant(content, reasoning, calls)
		t.calls = append(t.calls, calls...)
		log.WithField("tool_calls", len(calls)).Debug("executing tool calls")

		for _, call := range calls {
			if t.token.Cancelled() {
				return t.cancelled(), nil
			}
			result, err := t.runTool(ctx, call)
			if errors.Is(err, ErrCancelled) {
				return t.cancelled(), nil
			}
			if err != nil {
				return t.fail(err)
			}
			t.emit(EventToolResult, ToolResultData{
				SessionID:  t.req.SessionID,
				ToolCallID: call.ID,
				Name:       call.Name,
				OK:         result.OK,
				Summary:    result.Summary,
				Output:     result.Output,
			})
			t.conv.AppendToolResult(call.ID, result)
		}
	}

	t.log.WithField("rounds", t.rounds).Error("step budget exhausted")
	return t.fail(ErrStepBudgetExceeded)
}

// complete races the model round against the cancellation token.
// Cancellation wins ties and the round's result is discarded.
func (t *turn) complete(ctx context.Context, req unifiedllm.Request) (*unifiedllm.Response, error) {
	rctx, cancel := t.token.Context(ctx)
	defer cancel()

	type roundResult struct {
		resp *unifiedllm.Response
		err  error
	}
	ch := make(chan roundResult, 1)
	go func() {
		resp, err := t.loop.client.Complete(rctx, req)
		ch <- roundResult{resp, err}
	}()

	select {
	case <-t.token.Done():
		return nil, ErrCancelled
	case r := <-ch:
		if t.token.Cancelled() || (r.err != nil && ctx.Err() != nil) {
			return nil, ErrCancelled
		}
		if r.err == nil && r.resp == nil {
			return nil, &unifiedllm.ResponseParseError{SDKError: unifiedllm.SDKError{Message: "empty model response"}}
		}
		return r.resp, r.err
	}
}

// runTool resolves approval and dispatches one call. The only errors are
// ErrCancelled and a closed approval gate.
func (t *turn) runTool(ctx context.Context, call unifiedllm.ToolCall) (ToolResult, error) {
	catalog := t.loop.catalog
	label := catalog.Label(call.Name, call.Arguments)
	log := t.log.WithFields(logrus.Fields{"tool": call.Name, "tool_call_id": call.ID})

	if catalog.Lookup(call.Name) == nil {
		log.Warn("model called unknown tool")
		result := Failed("Unknown tool: " + call.Name)
		t.toolStatus(call, ToolStateStart, label, nil)
		t.toolStatus(call, ToolStateEnd, label, &result)
		return result, nil
	}

	if catalog.RequiresApproval(call.Name) && !t.req.AutoApprove {
		approved, err := t.loop.approvals.Request(ctx, t.em, t.token, ApprovalRequest{
			SessionID:  t.req.SessionID,
			ToolCallID: call.ID,
			Name:       call.Name,
			Args:       NormalizeArguments(call.Arguments),
		})
		if errors.Is(err, ErrApprovalUndelivered) {
			log.Warn("approval request not delivered; rejecting tool call")
			err, approved = nil, false
		}
		if err != nil {
			return ToolResult{}, err
		}
		if t.token.Cancelled() {
			return ToolResult{}, ErrCancelled
		}
		if !approved {
			log.Info("tool call rejected")
			result := Failed(RejectedSummary)
			t.toolStatus(call, ToolStateEnd, label, &result)
			return result, nil
		}
	}

	t.toolStatus(call, ToolStateStart, label, nil)
	tctx, cancel := t.token.Context(ctx)
	result := t.loop.dispatcher.Dispatch(tctx, call.Name, call.Arguments, ToolContext{
		SessionID:  t.req.SessionID,
		ToolCallID: call.ID,
		WorkDir:    t.req.WorkDir,
		ConfigPath: t.req.ConfigPath,
	})
	cancel()
	if t.token.Cancelled() {
		return ToolResult{}, ErrCancelled
	}
	t.toolStatus(call, ToolStateEnd, label, &result)
	return result, nil
}

func (t *turn) toolStatus(call unifiedllm.ToolCall, state ToolState, label string, result *ToolResult) {
	data := ToolStatusData{
		SessionID:  t.req.SessionID,
		ToolCallID: call.ID,
		State:      state,
		Name:       call.Name,
		Label:      label,
	}
	if result != nil {
		ok, summary := result.OK, result.Summary
		data.OK, data.Summary = &ok, &summary
	}
	t.emit(EventToolStatus, data)
}

// emit never lets an observer failure reach the loop.
func (t *turn) emit(kind EventKind, data interface{}) {
	defer func() {
		if r := recover(); r != nil {
			t.log.WithFields(logrus.Fields{"event": kind, "panic": r}).Warn("observer failed")
		}
	}()
	t.em.Emit(kind, data)
}

func (t *turn) result(outcome Outcome, content string) *TurnResult {
	return &TurnResult{
		Outcome:      outcome,
		Content:      content,
		Usage:        t.usage,
		Rounds:       t.rounds,
		ToolCalls:    t.calls,
		Conversation: t.conv,
	}
}

func (t *turn) done(content string) *TurnResult {
	t.emit(EventDone, DoneData{
		SessionID: t.req.SessionID,
		Usage: TokenUsage{
			PromptTokens:     t.usage.InputTokens,
			CompletionTokens: t.usage.OutputTokens,
			TotalTokens:      t.usage.Total(),
		},
	})
	t.log.WithFields(logrus.Fields{"rounds": t.rounds, "total_tokens": t.usage.Total()}).Info("turn done")
	return t.result(OutcomeDone, content)
}

func (t *turn) cancelled() *TurnResult {
	t.emit(EventCancelled, CancelledData{SessionID: t.req.SessionID})
	t.log.WithField("rounds", t.rounds).Info("turn cancelled")
	return t.result(OutcomeCancelled, "")
}

func (t *turn) fail(err error) (*TurnResult, error) {
	t.emit(EventError, ErrorData{SessionID: t.req.SessionID, Message: err.Error()})
	return t.result(OutcomeError, ""), fmt.Errorf("session %s: %w", t.req.SessionID, err)
}

// ArgumentsJSON renders tool call arguments for persistence, mapping
// invalid payloads to {}.
func ArgumentsJSON(raw json.RawMessage) string {
	return string(NormalizeArguments(raw))
}
