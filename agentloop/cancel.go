package agentloop

import (
	"context"
	"errors"
	"sync"
)

// ErrCancelled is returned by suspension points when the turn's token fires.
// It marks an outcome, not a failure.
var ErrCancelled = errors.New("turn cancelled")

// CancelToken is a single-use cancellation signal scoped to one turn.
// Cancel may be called any number of times from any goroutine.
type CancelToken struct {
	once sync.Once
	done chan struct{}
}

// NewCancelToken returns an untriggered token.
func NewCancelToken() *CancelToken {
	return &CancelToken{done: make(chan struct{})}
}

// Cancel triggers the token. Only the first call has an effect.
func (t *CancelToken) Cancel() {
	t.once.Do(func() { close(t.done) })
}

// Done is closed once the token has been triggered.
func (t *CancelToken) Done() <-chan struct{} {
	return t.done
}

// Cancelled reports whether the token has been triggered.
func (t *CancelToken) Cancelled() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Context derives a context that is cancelled when parent is done or the
// token fires, whichever happens first.
func (t *CancelToken) Context(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-t.done:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// Bind triggers the token when ctx is done. The returned func detaches it.
func (t *CancelToken) Bind(ctx context.Context) (stop func() bool) {
	return context.AfterFunc(ctx, t.Cancel)
}
