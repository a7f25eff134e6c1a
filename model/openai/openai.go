// Package openai adapts working contexts to the OpenAI Chat Completions API
// and implements model.Completer for summarization.
package openai

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/tidwall/gjson"

	"github.com/hupe1980/agentctx/core"
	"github.com/hupe1980/agentctx/model"
)

// Options configure the OpenAI adapter.
type Options struct {
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
	// Flatten controls how system instructions are emitted.
	Flatten model.FlattenOptions
}

// Client sends working contexts to OpenAI.
type Client struct {
	client *openai.Client
	opts   Options
}

// New creates a client using the official SDK's environment configuration
// (OPENAI_API_KEY).
func New(optFns ...func(o *Options)) *Client {
	client := openai.NewClient()
	return NewFromClient(&client, optFns...)
}

// NewFromClient wraps an existing SDK client.
func NewFromClient(client *openai.Client, optFns ...func(o *Options)) *Client {
	opts := Options{
		Model:               openai.ChatModelGPT4oMini,
		Temperature:         0.7,
		MaxCompletionTokens: 4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Client{client: client, opts: opts}
}

// Messages converts the flattened chat messages to SDK message params.
// Assistant tool calls keep their ids so tool messages stay correlated.
func Messages(chat []model.ChatMessage) []openai.ChatCompletionMessageParamUnion {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(chat))
	for _, m := range chat {
		switch m.Role {
		case core.RoleSystem:
			messages = append(messages, openai.SystemMessage(m.Content))
		case core.RoleUser:
			messages = append(messages, openai.UserMessage(m.Content))
		case core.RoleTool:
			messages = append(messages, openai.ToolMessage(m.Content, m.ToolCallID))
		case core.RoleAssistant:
			if len(m.ToolCalls) == 0 {
				messages = append(messages, openai.AssistantMessage(m.Content))
				continue
			}
			calls := make([]openai.ChatCompletionMessageToolCallParam, len(m.ToolCalls))
			for i, c := range m.ToolCalls {
				calls[i] = openai.ChatCompletionMessageToolCallParam{
					ID:   c.ID,
					Type: "function",
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      c.Function.Name,
						Arguments: c.Function.Arguments,
					},
				}
			}
			assistant := openai.ChatCompletionAssistantMessageParam{ToolCalls: calls}
			if m.Content != "" {
				assistant.Content.OfString = openai.String(m.Content)
			}
			messages = append(messages, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		default:
			if m.Content != "" {
				messages = append(messages, openai.UserMessage(m.Content))
			}
		}
	}
	return messages
}

// Params builds the chat completion request for wc.
func (c *Client) Params(wc *core.WorkingContext) openai.ChatCompletionNewParams {
	return c.params(Messages(model.Flatten(wc, c.opts.Flatten)))
}

func (c *Client) params(messages []openai.ChatCompletionMessageParamUnion) openai.ChatCompletionNewParams {
	return openai.ChatCompletionNewParams{
		Messages:            messages,
		Model:               c.opts.Model,
		Temperature:         openai.Float(c.opts.Temperature),
		MaxCompletionTokens: openai.Int(c.opts.MaxCompletionTokens),
	}
}

// Generate sends wc and returns the assistant reply as a message ready for
// WorkingContext.AddMessage.
func (c *Client) Generate(ctx context.Context, wc *core.WorkingContext) (core.Message, error) {
	resp, err := c.client.Chat.Completions.New(ctx, c.Params(wc))
	if err != nil {
		return core.Message{}, fmt.Errorf("openai api error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return core.Message{}, errors.New("openai: no choices returned")
	}
	msg := resp.Choices[0].Message
	out := core.Message{
		Role:     core.RoleAssistant,
		Content:  msg.Content,
		Metadata: map[string]any{"model": resp.Model},
	}
	for _, tc := range msg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, core.NewToolCall(tc.ID, tc.Function.Name, DecodeArguments(tc.Function.Arguments)))
	}
	return out, nil
}

// Complete implements model.Completer.
func (c *Client) Complete(ctx context.Context, system, prompt string) (string, error) {
	var messages []openai.ChatCompletionMessageParamUnion
	if system != "" {
		messages = append(messages, openai.SystemMessage(system))
	}
	messages = append(messages, openai.UserMessage(prompt))

	resp, err := c.client.Chat.Completions.New(ctx, c.params(messages))
	if err != nil {
		return "", fmt.Errorf("openai api error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai: no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}

// DecodeArguments parses JSON encoded tool arguments. Anything that is not a
// JSON object is kept under the "raw" key.
func DecodeArguments(raw string) map[string]any {
	if raw == "" {
		return map[string]any{}
	}
	if !gjson.Valid(raw) {
		return map[string]any{"raw": raw}
	}
	if m, ok := gjson.Parse(raw).Value().(map[string]any); ok {
		return m
	}
	return map[string]any{"raw": raw}
}
