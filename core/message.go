package core

import (
	"encoding/json"
	"fmt"
)

// Role is the chat role of a compiled message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleSystem    Role = "system"
)

// Message metadata keys set by the mapping functions and processors.
const (
	MetaStable        = "stable"
	MetaSourceEventID = "sourceEventId"
	MetaSourceAction  = "sourceAction"
	MetaSourceAgent   = "sourceAgent"
)

// Message is a model-ready chat turn derived from events. Messages are never
// persisted directly; PersistWorkingContext converts them back into events.
type Message struct {
	Role       Role
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
	Name       string
	Metadata   map[string]any
}

// IsStable reports whether the message may sit in the cache-friendly prefix.
func (m Message) IsStable() bool {
	v, ok := m.Metadata[MetaStable].(bool)
	return ok && v
}

// EventMapper converts an event into a message. The boolean is false for
// events that do not become chat turns.
type EventMapper func(e Event) (Message, bool)

func sourceMetadata(e Event, base map[string]any, extra map[string]any) map[string]any {
	md := make(map[string]any, len(base)+len(extra)+2)
	for k, v := range base {
		md[k] = v
	}
	for k, v := range extra {
		md[k] = v
	}
	md[MetaSourceEventID] = e.Header().ID
	md[MetaSourceAction] = string(e.Action())
	return md
}

// EventToMessage is the default EventMapper. System instructions map to no
// message; compaction, memory, artifact and handoff events become tagged
// system messages that are stable unless the artifact is ephemeral.
func EventToMessage(e Event) (Message, bool) {
	switch ev := e.(type) {
	case UserMessage:
		return Message{Role: RoleUser, Content: ev.Content, Metadata: sourceMetadata(e, ev.MessageMetadata, nil)}, true
	case AgentMessage:
		return Message{Role: RoleAssistant, Content: ev.Content, Metadata: sourceMetadata(e, ev.MessageMetadata, nil)}, true
	case ToolCallRequest:
		return Message{
			Role:      RoleAssistant,
			Content:   ev.Content,
			ToolCalls: ev.ToolCalls,
			Metadata:  sourceMetadata(e, ev.MessageMetadata, nil),
		}, true
	case ToolResult:
		content := ev.Content
		if content == "" {
			content = renderOutput(ev.Output)
		}
		return Message{
			Role:       RoleTool,
			Content:    content,
			Name:       ev.ToolName,
			ToolCallID: ev.ToolCallID,
			Metadata:   sourceMetadata(e, ev.MessageMetadata, nil),
		}, true
	case Compaction:
		return Message{
			Role:     RoleSystem,
			Content:  "[Compacted summary] " + ev.Content,
			Metadata: sourceMetadata(e, ev.MessageMetadata, map[string]any{MetaStable: true}),
		}, true
	case MemorySnippet:
		return Message{
			Role:     RoleSystem,
			Content:  "[Memory] " + ev.Content,
			Metadata: sourceMetadata(e, ev.MessageMetadata, map[string]any{MetaStable: true}),
		}, true
	case ArtifactRef:
		return Message{
			Role:     RoleSystem,
			Content:  fmt.Sprintf("[Artifact: %s] %s", ev.ArtifactName, ev.Content),
			Metadata: sourceMetadata(e, ev.MessageMetadata, map[string]any{MetaStable: !ev.Ephemeral}),
		}, true
	case HandoffNote:
		extra := map[string]any{MetaStable: true}
		if ev.FromAgent != "" {
			extra[MetaSourceAgent] = ev.FromAgent
		}
		return Message{
			Role:     RoleSystem,
			Content:  "[Handoff] " + ev.Content,
			Metadata: sourceMetadata(e, ev.MessageMetadata, extra),
		}, true
	}
	return Message{}, false
}

// renderOutput stringifies a tool output the way it is shown to the model.
func renderOutput(output any) string {
	if s, ok := output.(string); ok {
		return s
	}
	b, err := json.Marshal(output)
	if err != nil {
		return fmt.Sprintf("%v", output)
	}
	return string(b)
}

// MessageToEvent converts a message produced during a turn into an event
// ready to append. The event gets a fresh id and timestamp and an unassigned
// sequence number.
func MessageToEvent(sessionID string, m Message) Event {
	h := NewHeader(sessionID)
	switch m.Role {
	case RoleUser:
		return UserMessage{EventHeader: h, Content: m.Content, MessageMetadata: m.Metadata}
	case RoleTool:
		name := m.Name
		if name == "" {
			name = "tool"
		}
		return ToolResult{
			EventHeader:     h,
			Content:         m.Content,
			ToolCallID:      m.ToolCallID,
			ToolName:        name,
			Output:          m.Content,
			MessageMetadata: m.Metadata,
		}
	case RoleSystem:
		return SystemInstruction{EventHeader: h, Content: m.Content, Stable: m.IsStable(), MessageMetadata: m.Metadata}
	}
	if len(m.ToolCalls) > 0 {
		return ToolCallRequest{EventHeader: h, Content: m.Content, ToolCalls: m.ToolCalls, MessageMetadata: m.Metadata}
	}
	return AgentMessage{EventHeader: h, Content: m.Content, MessageMetadata: m.Metadata}
}

// LatestUserMessage scans events from the end for the most recent user turn.
func LatestUserMessage(events []Event) (string, bool) {
	for i := len(events) - 1; i >= 0; i-- {
		if um, ok := events[i].(UserMessage); ok {
			return um.Content, true
		}
	}
	return "", false
}
