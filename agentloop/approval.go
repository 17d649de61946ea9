package agentloop

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
)

var (
	// ErrApprovalNotFound is returned when a decision names no pending request.
	ErrApprovalNotFound = errors.New("approval request not found")

	// ErrApprovalPending is returned when the same tool call asks twice.
	ErrApprovalPending = errors.New("approval request already pending")

	// ErrApprovalUndelivered is returned when the observer failed while
	// receiving the tool_approval event, so nobody can decide the request.
	ErrApprovalUndelivered = errors.New("approval request could not be delivered")
)

// ApprovalRequest identifies one gated tool call awaiting a decision.
type ApprovalRequest struct {
	SessionID  string
	ToolCallID string
	Name       string
	Args       json.RawMessage
}

// ID is the key the observer uses to resolve the request.
func (r ApprovalRequest) ID() string {
	return ApprovalRequestID(r.SessionID, r.ToolCallID)
}

// ApprovalRequestID builds the "session:call" key for a request.
func ApprovalRequestID(sessionID, toolCallID string) string {
	return sessionID + ":" + toolCallID
}

// ApprovalGate holds the single-shot decision slots of every pending
// approval across all sessions. The lock guards the map only and is never
// held while a caller waits.
type ApprovalGate struct {
	mu      sync.Mutex
	pending map[string]chan bool
	closed  bool
}

// NewApprovalGate creates an empty gate.
func NewApprovalGate() *ApprovalGate {
	return &ApprovalGate{pending: make(map[string]chan bool)}
}

// Request registers a slot for req, emits tool_approval and waits for a
// decision. It returns ErrCancelled when the token fires or ctx ends
// first, including when a decision and cancellation arrive together; the
// slot is removed in that case so a late Resolve reports
// ErrApprovalNotFound.
func (g *ApprovalGate) Request(ctx context.Context, em Emitter, token *CancelToken, req ApprovalRequest) (bool, error) {
	id := req.ID()
	slot := make(chan bool, 1)

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return false, ErrServiceClosed
	}
	if _, dup := g.pending[id]; dup {
		g.mu.Unlock()
		return false, ErrApprovalPending
	}
	g.pending[id] = slot
	g.mu.Unlock()

	args := req.Args
	if len(args) == 0 || !json.Valid(args) {
		args = json.RawMessage("{}")
	}
	if !deliver(em, EventToolApproval, ToolApprovalData{
		SessionID: req.SessionID,
		RequestID: id,
		Name:      req.Name,
		Args:      args,
	}) {
		g.remove(id, slot)
		return false, ErrApprovalUndelivered
	}

	select {
	case approved, ok := <-slot:
		if !ok {
			return false, ErrServiceClosed
		}
		if token.Cancelled() || ctx.Err() != nil {
			return false, ErrCancelled
		}
		return approved, nil
	case <-token.Done():
	case <-ctx.Done():
	}

	g.remove(id, slot)
	return false, ErrCancelled
}

// Resolve delivers a decision. Unknown and already-resolved ids report
// ErrApprovalNotFound.
func (g *ApprovalGate) Resolve(requestID string, approved bool) error {
	g.mu.Lock()
	slot, ok := g.pending[requestID]
	if ok {
		delete(g.pending, requestID)
	}
	g.mu.Unlock()
	if !ok {
		return ErrApprovalNotFound
	}
	slot <- approved
	return nil
}

// Pending returns the sorted ids of requests awaiting a decision.
func (g *ApprovalGate) Pending() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	ids := make([]string, 0, len(g.pending))
	for id := range g.pending {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close fails every waiter with ErrServiceClosed and rejects new requests.
func (g *ApprovalGate) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}
	g.closed = true
	for id, slot := range g.pending {
		close(slot)
		delete(g.pending, id)
	}
}

// deliver emits one event and reports whether the observer returned normally.
func deliver(em Emitter, kind EventKind, data interface{}) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	em.Emit(kind, data)
	return true
}

func (g *ApprovalGate) remove(id string, slot chan bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pending[id] == slot {
		delete(g.pending, id)
	}
}
