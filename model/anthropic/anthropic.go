// Package anthropic adapts working contexts to the Anthropic Messages API
// and implements model.Completer for summarization.
//
// The stable part of the context (static instructions and stable system
// messages such as injected memory) becomes the leading system blocks, with
// a cache breakpoint on the last of them. Dynamic instructions follow without
// cache control.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/tidwall/gjson"

	"github.com/hupe1980/agentctx/core"
	"github.com/hupe1980/agentctx/model"
)

// Options configures the Anthropic adapter (model id, temperature, max
// tokens, API key).
type Options struct {
	Model       anthropic.Model
	Temperature float64
	MaxTokens   int64
	APIKey      string
	// DisableCache omits the cache breakpoint on the stable prefix.
	DisableCache bool
}

// Client sends working contexts to Anthropic.
type Client struct {
	client *anthropic.Client
	opts   Options
}

func defaultOptions() Options {
	return Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   4096,
	}
}

// New creates a client using the official SDK. Without APIKey the SDK reads
// ANTHROPIC_API_KEY.
func New(optFns ...func(o *Options)) *Client {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := anthropic.NewClient(clientOpts...)

	return &Client{client: &client, opts: opts}
}

// NewFromClient wraps an existing SDK client.
func NewFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Client {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Client{client: client, opts: opts}
}

// System builds the system blocks for wc. Stable system messages join the
// static instructions; non-stable ones join the dynamic instructions.
func System(wc *core.WorkingContext, cache bool) []anthropic.TextBlockParam {
	stable := append([]string{}, wc.StaticSystemInstructions...)
	dynamic := append([]string{}, wc.SystemInstructions...)
	for _, m := range wc.Messages {
		if m.Role != core.RoleSystem {
			continue
		}
		if m.IsStable() {
			stable = append(stable, m.Content)
		} else {
			dynamic = append(dynamic, m.Content)
		}
	}

	blocks := make([]anthropic.TextBlockParam, 0, len(stable)+len(dynamic))
	for _, s := range stable {
		blocks = append(blocks, anthropic.TextBlockParam{Text: s})
	}
	if cache && len(blocks) > 0 {
		blocks[len(blocks)-1].CacheControl = anthropic.NewCacheControlEphemeralParam()
	}
	for _, s := range dynamic {
		blocks = append(blocks, anthropic.TextBlockParam{Text: s})
	}
	return blocks
}

// Messages converts the conversation of wc to message params. System
// messages are skipped (see System). Tool results become user tool_result
// blocks, and consecutive messages of the same role are merged because the
// API requires alternating roles.
func Messages(wc *core.WorkingContext) []anthropic.MessageParam {
	var out []anthropic.MessageParam
	add := func(role anthropic.MessageParamRole, blocks ...anthropic.ContentBlockParamUnion) {
		if len(blocks) == 0 {
			return
		}
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Content = append(out[n-1].Content, blocks...)
			return
		}
		out = append(out, anthropic.MessageParam{Role: role, Content: blocks})
	}

	for _, m := range wc.Messages {
		switch m.Role {
		case core.RoleSystem:
			continue
		case core.RoleTool:
			add(anthropic.MessageParamRoleUser, anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false))
		case core.RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, c := range m.ToolCalls {
				var input any = map[string]any{}
				if c.Function.Arguments != nil {
					input = c.Function.Arguments
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(c.ID, input, c.Function.Name))
			}
			add(anthropic.MessageParamRoleAssistant, blocks...)
		default:
			if m.Content != "" {
				add(anthropic.MessageParamRoleUser, anthropic.NewTextBlock(m.Content))
			}
		}
	}
	return out
}

// Params builds the message request for wc.
func (c *Client) Params(wc *core.WorkingContext) anthropic.MessageNewParams {
	return anthropic.MessageNewParams{
		Model:       c.opts.Model,
		Messages:    Messages(wc),
		System:      System(wc, !c.opts.DisableCache),
		MaxTokens:   c.opts.MaxTokens,
		Temperature: anthropic.Float(c.opts.Temperature),
	}
}

// Generate sends wc and returns the reply as an assistant message ready for
// WorkingContext.AddMessage.
func (c *Client) Generate(ctx context.Context, wc *core.WorkingContext) (core.Message, error) {
	resp, err := c.client.Messages.New(ctx, c.Params(wc))
	if err != nil {
		return core.Message{}, fmt.Errorf("anthropic api error: %w", err)
	}

	var text strings.Builder
	out := core.Message{Role: core.RoleAssistant, Metadata: map[string]any{"model": string(resp.Model)}}
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.AsText().Text)
		case "tool_use":
			tool := block.AsToolUse()
			args := map[string]any{}
			if raw, err := json.Marshal(tool.Input); err == nil {
				if m, ok := gjson.ParseBytes(raw).Value().(map[string]any); ok {
					args = m
				}
			}
			out.ToolCalls = append(out.ToolCalls, core.NewToolCall(tool.ID, tool.Name, args))
		}
	}
	out.Content = text.String()
	return out, nil
}

// Complete implements model.Completer.
func (c *Client) Complete(ctx context.Context, system, prompt string) (string, error) {
	params := anthropic.MessageNewParams{
		Model:       c.opts.Model,
		Messages:    []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(prompt))},
		MaxTokens:   c.opts.MaxTokens,
		Temperature: anthropic.Float(c.opts.Temperature),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic api error: %w", err)
	}
	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.AsText().Text)
		}
	}
	return text.String(), nil
}

var _ model.Completer = (*Client)(nil)
