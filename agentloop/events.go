package agentloop

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/martinemde/steward/logging"
)

// EventKind identifies the type of stream event.
type EventKind string

const (
	EventThinking     EventKind = "thinking"
	EventToolStatus   EventKind = "tool_status"
	EventToolApproval EventKind = "tool_approval"
	EventToolResult   EventKind = "tool_result"
	EventChunk        EventKind = "chunk"
	EventDone         EventKind = "done"
	EventCancelled    EventKind = "cancelled"
	EventError        EventKind = "error"
)

// ToolState is the phase reported by a tool_status event.
type ToolState string

const (
	ToolStateStart ToolState = "start"
	ToolStateEnd   ToolState = "end"
)

// Event payloads. Each kind has exactly one payload type.

type ThinkingData struct {
	SessionID string `json:"session_id"`
	Content   string `json:"content"`
}

type ToolStatusData struct {
	SessionID  string    `json:"session_id"`
	ToolCallID string    `json:"tool_call_id"`
	State      ToolState `json:"state"`
	Name       string    `json:"name"`
	Label      string    `json:"label"`
	OK         *bool     `json:"ok,omitempty"`
	Summary    *string   `json:"summary,omitempty"`
}

type ToolApprovalData struct {
	SessionID string          `json:"session_id"`
	RequestID string          `json:"request_id"`
	Name      string          `json:"name"`
	Args      json.RawMessage `json:"args"`
}

type ToolResultData struct {
	SessionID  string `json:"session_id"`
	ToolCallID string `json:"tool_call_id"`
	Name       string `json:"name"`
	OK         bool   `json:"ok"`
	Summary    string `json:"summary"`
	Output     string `json:"output"`
}

type ChunkData struct {
	SessionID string `json:"session_id"`
	Content   string `json:"content"`
}

// TokenUsage is the usage block carried by done.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type DoneData struct {
	SessionID string     `json:"session_id"`
	Usage     TokenUsage `json:"usage"`
}

type CancelledData struct {
	SessionID string `json:"session_id"`
}

type ErrorData struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// StreamEvent is one emission on the observer channel. On the wire it
// serializes as {"event": kind, "data": payload}.
type StreamEvent struct {
	Kind      EventKind   `json:"event"`
	SessionID string      `json:"-"`
	Timestamp time.Time   `json:"-"`
	Data      interface{} `json:"data"`
}

// Emitter receives the events of one turn, in order. Emit must not block
// the caller for long and must never fail the turn.
type Emitter interface {
	Emit(kind EventKind, data interface{})
}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(StreamEvent)

func (f EmitterFunc) Emit(kind EventKind, data interface{}) {
	f(StreamEvent{Kind: kind, Timestamp: time.Now(), Data: data})
}

// EventEmitter delivers events to the host application via a channel.
// Delivery is best effort: when the buffer is full the event is dropped
// rather than blocking the turn. tool_approval is never dropped; it
// displaces the oldest buffered event instead.
type EventEmitter struct {
	sessionID string
	ch        chan StreamEvent
	closed    bool
	dropped   int
	mu        sync.Mutex
	log       *logrus.Entry
}

// NewEventEmitter creates a new EventEmitter with a buffered channel.
func NewEventEmitter(sessionID string, bufferSize int) *EventEmitter {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &EventEmitter{
		sessionID: sessionID,
		ch:        make(chan StreamEvent, bufferSize),
		log:       logging.NewLogger("events").WithField("session_id", sessionID),
	}
}

// Emit sends an event to the channel. If the emitter is closed, the event
// is silently dropped.
func (e *EventEmitter) Emit(kind EventKind, data interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	event := StreamEvent{
		Kind:      kind,
		SessionID: e.sessionID,
		Timestamp: time.Now(),
		Data:      data,
	}
	select {
	case e.ch <- event:
		return
	default:
	}
	if kind != EventToolApproval {
		e.dropped++
		e.log.WithField("event", kind).Debug("observer not keeping up, event dropped")
		return
	}
	// A turn waits on every approval, so the oldest buffered event makes room.
	select {
	case old := <-e.ch:
		e.dropped++
		e.log.WithFields(logrus.Fields{"event": old.Kind, "request_id": requestID(data)}).
			Warn("observer not keeping up, evicted event for approval request")
	default:
	}
	select {
	case e.ch <- event:
	default:
		e.dropped++
		e.log.WithField("request_id", requestID(data)).Warn("approval request dropped")
	}
}

func requestID(data interface{}) string {
	if d, ok := data.(ToolApprovalData); ok {
		return d.RequestID
	}
	return ""
}

// Events returns the read-only event channel.
func (e *EventEmitter) Events() <-chan StreamEvent {
	return e.ch
}

// Dropped returns how many events were discarded because the buffer was full.
func (e *EventEmitter) Dropped() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dropped
}

// Close closes the event channel. Safe to call multiple times.
func (e *EventEmitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.ch)
	}
}
