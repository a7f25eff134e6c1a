package model

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/hupe1980/agentctx/core"
)

// ChatToolCall is a tool call in provider wire shape: arguments are a JSON
// encoded string.
type ChatToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"` // "function"
	Function ChatToolFunction `json:"function"`
}

// ChatToolFunction names the called function and its encoded arguments.
type ChatToolFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ChatMessage is one entry of a flattened, provider neutral chat request.
type ChatMessage struct {
	Role       core.Role      `json:"role"`
	Content    string         `json:"content"`
	Name       string         `json:"name,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	ToolCalls  []ChatToolCall `json:"tool_calls,omitempty"`
}

// FlattenOptions configures Flatten.
type FlattenOptions struct {
	// SeparateSystem emits one system message per instruction instead of a
	// single joined one.
	SeparateSystem bool
	// Separator joins instructions; defaults to a blank line.
	Separator string
}

// Flatten turns a working context into role ordered chat messages: static
// instructions first, dynamic instructions next, then the conversation.
// Tool call arguments are JSON encoded; nil arguments become {}.
func Flatten(wc *core.WorkingContext, opts FlattenOptions) []ChatMessage {
	sep := opts.Separator
	if sep == "" {
		sep = "\n\n"
	}
	system := make([]string, 0, len(wc.StaticSystemInstructions)+len(wc.SystemInstructions))
	system = append(system, wc.StaticSystemInstructions...)
	system = append(system, wc.SystemInstructions...)

	out := make([]ChatMessage, 0, len(wc.Messages)+len(system))
	switch {
	case len(system) == 0:
	case opts.SeparateSystem:
		for _, s := range system {
			out = append(out, ChatMessage{Role: core.RoleSystem, Content: s})
		}
	default:
		out = append(out, ChatMessage{Role: core.RoleSystem, Content: strings.Join(system, sep)})
	}

	for _, m := range wc.Messages {
		out = append(out, ChatMessage{
			Role:       m.Role,
			Content:    m.Content,
			Name:       m.Name,
			ToolCallID: m.ToolCallID,
			ToolCalls:  EncodeToolCalls(m.ToolCalls),
		})
	}
	return out
}

// EncodeToolCalls converts tool calls to wire shape.
func EncodeToolCalls(calls []core.ToolCall) []ChatToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]ChatToolCall, len(calls))
	for i, c := range calls {
		args := "{}"
		if c.Function.Arguments != nil {
			if b, err := json.Marshal(c.Function.Arguments); err == nil {
				args = string(b)
			}
		}
		typ := c.Type
		if typ == "" {
			typ = "function"
		}
		out[i] = ChatToolCall{ID: c.ID, Type: typ, Function: ChatToolFunction{Name: c.Function.Name, Arguments: args}}
	}
	return out
}

// Completer sends a single system plus user prompt to a model and returns
// the text reply. The provider packages implement it.
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// MockCompleter is an in-memory Completer for tests and examples.
type MockCompleter struct {
	mu        sync.Mutex
	responses map[string]string
	prompts   []string
	err       error
}

// NewMockCompleter returns a MockCompleter without canned responses.
func NewMockCompleter() *MockCompleter {
	return &MockCompleter{responses: make(map[string]string)}
}

// AddResponse registers a canned reply for an exact prompt.
func (m *MockCompleter) AddResponse(prompt, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[prompt] = response
}

// FailWith makes every following call return err.
func (m *MockCompleter) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Prompts returns the prompts received so far.
func (m *MockCompleter) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string{}, m.prompts...)
}

// Complete implements Completer.
func (m *MockCompleter) Complete(_ context.Context, _ string, prompt string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompts = append(m.prompts, prompt)
	if m.err != nil {
		return "", m.err
	}
	if r, ok := m.responses[prompt]; ok {
		return r, nil
	}
	return fmt.Sprintf("Mock response to: %s", prompt), nil
}
