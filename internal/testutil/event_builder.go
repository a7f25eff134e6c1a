package testutil

import (
	"strconv"
	"time"

	"github.com/hupe1980/agentctx/core"
)

// EventBuilder provides a fluent helper for constructing ordered event
// histories in tests. Example:
//
//	events := NewEventBuilder("sess-1").User("hi").Agent("hello").Build()
//
// Events receive consecutive sequence numbers starting at zero and
// timestamps one millisecond apart, so they look like a loaded session log.
type EventBuilder struct {
	sessionID string
	start     time.Time
	events    []core.Event
}

// NewEventBuilder creates a builder for the given session id.
func NewEventBuilder(sessionID string) *EventBuilder {
	return &EventBuilder{sessionID: sessionID, start: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (b *EventBuilder) header() core.EventHeader {
	n := int64(len(b.events))
	return core.EventHeader{
		ID:        core.NewID(),
		SessionID: b.sessionID,
		Seq:       n,
		Timestamp: b.start.Add(time.Duration(n) * time.Millisecond),
	}
}

// User appends a user message (chainable).
func (b *EventBuilder) User(content string) *EventBuilder {
	b.events = append(b.events, core.UserMessage{EventHeader: b.header(), Content: content})
	return b
}

// Agent appends an agent message (chainable).
func (b *EventBuilder) Agent(content string) *EventBuilder {
	b.events = append(b.events, core.AgentMessage{EventHeader: b.header(), Content: content})
	return b
}

// ToolCall appends a tool call request with a single call (chainable).
func (b *EventBuilder) ToolCall(id, name string, args map[string]any) *EventBuilder {
	b.events = append(b.events, core.ToolCallRequest{
		EventHeader: b.header(),
		ToolCalls:   []core.ToolCall{core.NewToolCall(id, name, args)},
	})
	return b
}

// ToolResult appends a tool result answering the call id (chainable).
func (b *EventBuilder) ToolResult(id, name string, output any) *EventBuilder {
	b.events = append(b.events, core.ToolResult{EventHeader: b.header(), ToolCallID: id, ToolName: name, Output: output})
	return b
}

// System appends a system instruction (chainable).
func (b *EventBuilder) System(content string, stable bool) *EventBuilder {
	b.events = append(b.events, core.SystemInstruction{EventHeader: b.header(), Content: content, Stable: stable})
	return b
}

// Memory appends a memory snippet (chainable).
func (b *EventBuilder) Memory(content, source string) *EventBuilder {
	b.events = append(b.events, core.MemorySnippet{EventHeader: b.header(), Content: content, Source: source})
	return b
}

// Artifact appends an artifact reference (chainable).
func (b *EventBuilder) Artifact(name, content string, ephemeral bool) *EventBuilder {
	b.events = append(b.events, core.ArtifactRef{EventHeader: b.header(), Content: content, ArtifactName: name, Ephemeral: ephemeral})
	return b
}

// Handoff appends a handoff note (chainable).
func (b *EventBuilder) Handoff(from, to, content string) *EventBuilder {
	b.events = append(b.events, core.HandoffNote{EventHeader: b.header(), Content: content, FromAgent: from, ToAgent: to})
	return b
}

// Turns appends n alternating user/agent messages with numbered content (chainable).
func (b *EventBuilder) Turns(n int) *EventBuilder {
	for i := 0; i < n; i++ {
		if i%2 == 0 {
			b.User(numbered("user", i))
		} else {
			b.Agent(numbered("agent", i))
		}
	}
	return b
}

// Build returns a copy of the accumulated events.
func (b *EventBuilder) Build() []core.Event {
	return append([]core.Event{}, b.events...)
}

func numbered(prefix string, i int) string {
	return prefix + "-" + strconv.Itoa(i)
}
