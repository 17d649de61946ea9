package agentloop

import (
	"fmt"
	"time"

	"github.com/martinemde/steward/unifiedllm"
)

// EntryRole tags one ConversationState entry.
type EntryRole string

const (
	EntrySystem    EntryRole = "system"
	EntryUser      EntryRole = "user"
	EntryAssistant EntryRole = "assistant"
	EntryTool      EntryRole = "tool"
)

// Entry is a single element of the conversation fed to the model.
type Entry struct {
	Role      EntryRole             `json:"role"`
	Timestamp time.Time             `json:"timestamp"`
	Content   string                `json:"content"`
	Reasoning string                `json:"reasoning,omitempty"`
	ToolCalls []unifiedllm.ToolCall `json:"tool_calls,omitempty"`
	// ToolCallID and IsError are set on tool entries only.
	ToolCallID string `json:"tool_call_id,omitempty"`
	IsError    bool   `json:"is_error,omitempty"`
}

// ConversationState is the ordered, append-only context of one turn. It is
// owned by a single loop goroutine.
type ConversationState struct {
	entries []Entry
}

// NewConversation opens a conversation with the preamble and user message.
func NewConversation(preamble, userText string) *ConversationState {
	now := time.Now()
	return &ConversationState{entries: []Entry{
		{Role: EntrySystem, Timestamp: now, Content: preamble},
		{Role: EntryUser, Timestamp: now, Content: userText},
	}}
}

// AppendAssistant records a model reply together with the calls it issued.
func (c *ConversationState) AppendAssistant(content, reasoning string, calls []unifiedllm.ToolCall) {
	c.entries = append(c.entries, Entry{
		Role:      EntryAssistant,
		Timestamp: time.Now(),
		Content:   content,
		Reasoning: reasoning,
		ToolCalls: calls,
	})
}

// AppendToolResult records the result of one call.
func (c *ConversationState) AppendToolResult(toolCallID string, result ToolResult) {
	c.entries = append(c.entries, Entry{
		Role:       EntryTool,
		Timestamp:  time.Now(),
		Content:    result.JSON(),
		ToolCallID: toolCallID,
		IsError:    !result.OK,
	})
}

// Entries returns a copy of the entries.
func (c *ConversationState) Entries() []Entry {
	out := make([]Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Len returns the number of entries.
func (c *ConversationState) Len() int {
	return len(c.entries)
}

// Messages converts the conversation into model messages.
func (c *ConversationState) Messages() []unifiedllm.Message {
	messages := make([]unifiedllm.Message, 0, len(c.entries))
	for _, e := range c.entries {
		switch e.Role {
		case EntrySystem:
			messages = append(messages, unifiedllm.SystemMessage(e.Content))
		case EntryUser:
			messages = append(messages, unifiedllm.UserMessage(e.Content))
		case EntryAssistant:
			msg := unifiedllm.Message{Role: unifiedllm.RoleAssistant}
			if e.Reasoning != "" {
				msg.Content = append(msg.Content, unifiedllm.ThinkingPart(e.Reasoning))
			}
			if e.Content != "" {
				msg.Content = append(msg.Content, unifiedllm.TextPart(e.Content))
			}
			for _, tc := range e.ToolCalls {
				msg.Content = append(msg.Content, unifiedllm.ToolCallPart(tc.ID, tc.Name, tc.Arguments))
			}
			messages = append(messages, msg)
		case EntryTool:
			messages = append(messages, unifiedllm.ToolResultMessage(e.ToolCallID, e.Content, e.IsError))
		}
	}
	return messages
}

// Validate checks that every assistant entry carrying tool calls is
// followed by exactly one tool entry per call, in call order.
func (c *ConversationState) Validate() error {
	for i := 0; i < len(c.entries); i++ {
		e := c.entries[i]
		if e.Role != EntryAssistant || len(e.ToolCalls) == 0 {
			continue
		}
		for j, call := range e.ToolCalls {
			k := i + 1 + j
			if k >= len(c.entries) {
				return fmt.Errorf("entry %d: tool call %s has no result", i, call.ID)
			}
			got := c.entries[k]
			if got.Role != EntryTool || got.ToolCallID != call.ID {
				return fmt.Errorf("entry %d: expected tool result for %s, got %s %q", k, call.ID, got.Role, got.ToolCallID)
			}
		}
		i += len(e.ToolCalls)
	}
	return nil
}
