package core

import (
	"time"

	"github.com/google/uuid"
)

// Action identifies the variant of a session event. The set is closed: stores
// refuse to hydrate rows carrying any other value.
type Action string

const (
	ActionUserMessage       Action = "user_message"
	ActionAgentMessage      Action = "agent_message"
	ActionToolCallRequest   Action = "tool_call_request"
	ActionToolResult        Action = "tool_result"
	ActionSystemInstruction Action = "system_instruction"
	ActionCompaction        Action = "compaction"
	ActionMemorySnippet     Action = "memory_snippet"
	ActionArtifactRef       Action = "artifact_ref"
	ActionHandoffNote       Action = "handoff_note"
)

// Actions lists every known action in declaration order.
var Actions = []Action{
	ActionUserMessage,
	ActionAgentMessage,
	ActionToolCallRequest,
	ActionToolResult,
	ActionSystemInstruction,
	ActionCompaction,
	ActionMemorySnippet,
	ActionArtifactRef,
	ActionHandoffNote,
}

// ParseAction validates a stored action string.
func ParseAction(s string) (Action, error) {
	for _, a := range Actions {
		if string(a) == s {
			return a, nil
		}
	}
	return "", &UnknownEventActionError{Action: s}
}

// UnassignedSeq marks an event that has not been appended yet. Stores always
// overwrite it.
const UnassignedSeq int64 = -1

// EventHeader carries the fields shared by every event variant.
type EventHeader struct {
	ID        string
	SessionID string
	Seq       int64
	Timestamp time.Time
}

// Header returns the header itself so variants satisfy Event by embedding.
func (h EventHeader) Header() EventHeader { return h }

// Event is a sequenced, immutable fact in a session's history. The concrete
// variants below are the only implementations.
type Event interface {
	Action() Action
	Header() EventHeader
	withHeader(h EventHeader) Event
}

// ToolCall is a function invocation requested by the agent.
type ToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function ToolCallFunction `json:"function"`
}

// ToolCallFunction names the invoked function and its decoded arguments.
// Arguments must be JSON-shaped: after a store round trip numbers come back
// as float64, objects as map[string]any and arrays as []any.
type ToolCallFunction struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// NewToolCall builds a function-typed tool call.
func NewToolCall(id, name string, args map[string]any) ToolCall {
	return ToolCall{ID: id, Type: "function", Function: ToolCallFunction{Name: name, Arguments: args}}
}

// UserMessage is a turn authored by the end user.
type UserMessage struct {
	EventHeader
	Content         string
	MessageMetadata map[string]any
}

func (UserMessage) Action() Action { return ActionUserMessage }

func (e UserMessage) withHeader(h EventHeader) Event { e.EventHeader = h; return e }

// AgentMessage is a plain assistant reply.
type AgentMessage struct {
	EventHeader
	Content         string
	Model           string // optional model identifier
	MessageMetadata map[string]any
}

func (AgentMessage) Action() Action { return ActionAgentMessage }

func (e AgentMessage) withHeader(h EventHeader) Event { e.EventHeader = h; return e }

// ToolCallRequest is an assistant turn asking for one or more tool calls.
type ToolCallRequest struct {
	EventHeader
	Content         string // optional
	ToolCalls       []ToolCall
	MessageMetadata map[string]any
}

func (ToolCallRequest) Action() Action { return ActionToolCallRequest }

func (e ToolCallRequest) withHeader(h EventHeader) Event { e.EventHeader = h; return e }

// ToolResult records the output of a tool call. Output holds any JSON-shaped
// value; like ToolCallFunction.Arguments and the metadata maps it is decoded
// with float64 numbers when read back from a store.
type ToolResult struct {
	EventHeader
	Content         string // optional
	ToolCallID      string
	ToolName        string
	Output          any
	MessageMetadata map[string]any
}

func (ToolResult) Action() Action { return ActionToolResult }

func (e ToolResult) withHeader(h EventHeader) Event { e.EventHeader = h; return e }

// SystemInstruction is routed to the working context's instruction lists
// instead of becoming a chat turn. Stable instructions form the cacheable prefix.
type SystemInstruction struct {
	EventHeader
	Content         string
	Stable          bool
	MessageMetadata map[string]any
}

func (SystemInstruction) Action() Action { return ActionSystemInstruction }

func (e SystemInstruction) withHeader(h EventHeader) Event { e.EventHeader = h; return e }

// SeqRange is an inclusive [lo, hi] range of sequence numbers.
type SeqRange [2]int64

// Compaction summarizes a prefix of older events.
type Compaction struct {
	EventHeader
	Content          string
	ReplacesSeqRange *SeqRange
	Metadata         map[string]any
	MessageMetadata  map[string]any
}

func (Compaction) Action() Action { return ActionCompaction }

func (e Compaction) withHeader(h EventHeader) Event { e.EventHeader = h; return e }

// MemorySnippet is a remembered fact injected into history.
type MemorySnippet struct {
	EventHeader
	Content         string
	Source          string
	Score           *float64
	MessageMetadata map[string]any
}

func (MemorySnippet) Action() Action { return ActionMemorySnippet }

func (e MemorySnippet) withHeader(h EventHeader) Event { e.EventHeader = h; return e }

// ArtifactRef points at an external artifact by name and optional version.
type ArtifactRef struct {
	EventHeader
	Content         string
	ArtifactName    string
	ArtifactVersion string
	Ephemeral       bool
	MessageMetadata map[string]any
}

func (ArtifactRef) Action() Action { return ActionArtifactRef }

func (e ArtifactRef) withHeader(h EventHeader) Event { e.EventHeader = h; return e }

// HandoffNote records a delegation between agents.
type HandoffNote struct {
	EventHeader
	Content         string
	FromAgent       string
	ToAgent         string
	MessageMetadata map[string]any
}

func (HandoffNote) Action() Action { return ActionHandoffNote }

func (e HandoffNote) withHeader(h EventHeader) Event { e.EventHeader = h; return e }

// NewID generates a new unique identifier for sessions, events and memory rows.
func NewID() string { return uuid.NewString() }

// Now returns the current UTC time truncated to the millisecond precision
// events are persisted with.
func Now() time.Time { return time.Now().UTC().Truncate(time.Millisecond) }

// NewHeader returns a fresh header with an unassigned sequence number.
func NewHeader(sessionID string) EventHeader {
	return EventHeader{ID: NewID(), SessionID: sessionID, Seq: UnassignedSeq, Timestamp: Now()}
}

// WithSeq returns a copy of e bound to sessionID with the given sequence number.
func WithSeq(e Event, sessionID string, seq int64) Event {
	h := e.Header()
	h.SessionID = sessionID
	h.Seq = seq
	return e.withHeader(h)
}

// WithHeader returns a copy of e carrying h.
func WithHeader(e Event, h EventHeader) Event { return e.withHeader(h) }

// CompactionMetadata returns the structured metadata of a compaction event,
// or nil for any other event.
func CompactionMetadata(e Event) map[string]any {
	c, ok := e.(Compaction)
	if !ok {
		return nil
	}
	return c.Metadata
}

// SetCompactionMetadata returns a copy of a compaction event carrying md.
// Other variants are returned unchanged.
func SetCompactionMetadata(e Event, md map[string]any) Event {
	c, ok := e.(Compaction)
	if !ok {
		return e
	}
	c.Metadata = md
	return c
}
