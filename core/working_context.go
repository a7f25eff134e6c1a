package core

// Trace records the effect of one pipeline step.
type Trace struct {
	Processor          string `json:"processor"`
	BeforeEventCount   int    `json:"before_event_count"`
	AfterEventCount    int    `json:"after_event_count"`
	BeforeMessageCount int    `json:"before_message_count"`
	AfterMessageCount  int    `json:"after_message_count"`
}

// WorkingContext is the in-memory, ordered message view compiled from a
// session plus its system instructions.
//
// Contract:
//   - Messages only grow through AddMessage; committed history is never
//     removed or reordered
//   - NewMessages returns exactly the messages added after construction,
//     which is what gets persisted back to the session
//   - constructor inputs are copied, so callers may reuse their slices
type WorkingContext struct {
	Messages                 []Message
	SystemInstructions       []string
	StaticSystemInstructions []string
	Traces                   []Trace

	initialCount int
}

// WorkingContextInit seeds NewWorkingContext.
type WorkingContextInit struct {
	Messages                 []Message
	SystemInstructions       []string
	StaticSystemInstructions []string
	Traces                   []Trace
}

// NewWorkingContext copies init into a new context and marks every seeded
// message as already persisted.
func NewWorkingContext(init WorkingContextInit) *WorkingContext {
	wc := &WorkingContext{
		Messages:                 append([]Message{}, init.Messages...),
		SystemInstructions:       append([]string{}, init.SystemInstructions...),
		StaticSystemInstructions: append([]string{}, init.StaticSystemInstructions...),
		Traces:                   append([]Trace{}, init.Traces...),
	}
	wc.initialCount = len(wc.Messages)
	return wc
}

// AddMessage appends a message produced during the current turn.
func (w *WorkingContext) AddMessage(m Message) {
	w.Messages = append(w.Messages, m)
}

// NewMessages returns a copy of the messages added since construction.
func (w *WorkingContext) NewMessages() []Message {
	if w.initialCount >= len(w.Messages) {
		return []Message{}
	}
	return append([]Message{}, w.Messages[w.initialCount:]...)
}

// CacheFriendlyMessage is a flattened chat message for model backends.
type CacheFriendlyMessage struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	Name       string     `json:"name,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

// CacheFriendlyMessages flattens the context with static instructions first,
// dynamic instructions next and the conversation last, so the leading
// prefix stays identical across turns.
func (w *WorkingContext) CacheFriendlyMessages() []CacheFriendlyMessage {
	out := make([]CacheFriendlyMessage, 0, len(w.StaticSystemInstructions)+len(w.SystemInstructions)+len(w.Messages))
	for _, s := range w.StaticSystemInstructions {
		out = append(out, CacheFriendlyMessage{Role: RoleSystem, Content: s})
	}
	for _, s := range w.SystemInstructions {
		out = append(out, CacheFriendlyMessage{Role: RoleSystem, Content: s})
	}
	for _, m := range w.Messages {
		out = append(out, CacheFriendlyMessage{
			Role:       m.Role,
			Content:    m.Content,
			Name:       m.Name,
			ToolCallID: m.ToolCallID,
			ToolCalls:  m.ToolCalls,
		})
	}
	return out
}

// WorkingContextOptions configures BuildWorkingContext.
type WorkingContextOptions struct {
	SystemInstructions       []string
	StaticSystemInstructions []string
	// Mapper overrides EventToMessage.
	Mapper EventMapper
}

// BuildWorkingContext maps events in the given order. System instruction
// events are routed to the static (stable) or dynamic instruction list; every
// other event goes through the mapper and is kept when it yields a message.
func BuildWorkingContext(events []Event, opts WorkingContextOptions) *WorkingContext {
	mapper := opts.Mapper
	if mapper == nil {
		mapper = EventToMessage
	}
	init := WorkingContextInit{
		SystemInstructions:       append([]string{}, opts.SystemInstructions...),
		StaticSystemInstructions: append([]string{}, opts.StaticSystemInstructions...),
	}
	for _, e := range events {
		if si, ok := e.(SystemInstruction); ok {
			if si.Stable {
				init.StaticSystemInstructions = append(init.StaticSystemInstructions, si.Content)
			} else {
				init.SystemInstructions = append(init.SystemInstructions, si.Content)
			}
			continue
		}
		if m, ok := mapper(e); ok {
			init.Messages = append(init.Messages, m)
		}
	}
	return NewWorkingContext(init)
}
