package agentloop

import (
	"errors"
	"sort"
	"sync"
)

var (
	// ErrTurnActive is returned when a session already has a running turn.
	ErrTurnActive = errors.New("a turn is already running for this session")

	// ErrServiceClosed is returned by services that have been shut down.
	ErrServiceClosed = errors.New("service closed")
)

// TurnRegistry tracks the cancellation token of every live turn, keyed by
// session id. The lock covers map access only.
type TurnRegistry struct {
	mu     sync.Mutex
	live   map[string]*CancelToken
	closed bool
}

// NewTurnRegistry creates an empty registry.
func NewTurnRegistry() *TurnRegistry {
	return &TurnRegistry{live: make(map[string]*CancelToken)}
}

// Begin registers a fresh token for sessionID. At most one turn per
// session may be live.
func (r *TurnRegistry) Begin(sessionID string) (*CancelToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrServiceClosed
	}
	if _, ok := r.live[sessionID]; ok {
		return nil, ErrTurnActive
	}
	token := NewCancelToken()
	r.live[sessionID] = token
	return token, nil
}

// End deregisters token. A token that has already been replaced is ignored.
func (r *TurnRegistry) End(sessionID string, token *CancelToken) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.live[sessionID] == token {
		delete(r.live, sessionID)
	}
}

// Cancel triggers the live turn of one session. It reports whether a turn was found.
func (r *TurnRegistry) Cancel(sessionID string) bool {
	r.mu.Lock()
	token, ok := r.live[sessionID]
	r.mu.Unlock()
	if ok {
		token.Cancel()
	}
	return ok
}

// CancelAll triggers every live turn and returns how many there were.
func (r *TurnRegistry) CancelAll() int {
	r.mu.Lock()
	tokens := make([]*CancelToken, 0, len(r.live))
	for _, t := range r.live {
		tokens = append(tokens, t)
	}
	r.mu.Unlock()
	for _, t := range tokens {
		t.Cancel()
	}
	return len(tokens)
}

// Active returns the sorted ids of sessions with a live turn.
func (r *TurnRegistry) Active() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.live))
	for id := range r.live {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close cancels every live turn and rejects new ones.
func (r *TurnRegistry) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.CancelAll()
}
