package anthropic

import (
	"encoding/json"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/hupe1980/agentctx/core"
)

func sampleContext() *core.WorkingContext {
	return core.NewWorkingContext(core.WorkingContextInit{
		StaticSystemInstructions: []string{"You are static."},
		SystemInstructions:       []string{"You are helpful."},
		Messages: []core.Message{
			{Role: core.RoleSystem, Content: "[Memory:kv] likes tea", Metadata: map[string]any{core.MetaStable: true}},
			{Role: core.RoleUser, Content: "weather in Berlin and Paris?"},
			{Role: core.RoleAssistant, Content: "checking", ToolCalls: []core.ToolCall{
				core.NewToolCall("t1", "weather", map[string]any{"city": "Berlin"}),
				core.NewToolCall("t2", "weather", map[string]any{"city": "Paris"}),
			}},
			{Role: core.RoleTool, Content: "sunny", ToolCallID: "t1"},
			{Role: core.RoleTool, Content: "rain", ToolCallID: "t2"},
			{Role: core.RoleAssistant, Content: "Berlin is sunny, Paris rainy."},
		},
	})
}

func TestSystem_CacheBreakpointOnStablePrefix(t *testing.T) {
	blocks := System(sampleContext(), true)
	require.Len(t, blocks, 3)
	assert.Equal(t, "You are static.", blocks[0].Text)
	assert.Equal(t, "[Memory:kv] likes tea", blocks[1].Text)
	assert.Equal(t, "You are helpful.", blocks[2].Text)

	raw, err := json.Marshal(blocks)
	require.NoError(t, err)
	assert.False(t, gjson.GetBytes(raw, "0.cache_control").Exists())
	assert.Equal(t, "ephemeral", gjson.GetBytes(raw, "1.cache_control.type").String())
	assert.False(t, gjson.GetBytes(raw, "2.cache_control").Exists())

	raw, err = json.Marshal(System(sampleContext(), false))
	require.NoError(t, err)
	for _, key := range []string{"0.cache_control", "1.cache_control", "2.cache_control"} {
		assert.False(t, gjson.GetBytes(raw, key).Exists(), key)
	}
}

func TestMessages(t *testing.T) {
	out := Messages(sampleContext())
	require.Len(t, out, 4)

	assert.Equal(t, anthropic.MessageParamRoleUser, out[0].Role)
	assert.Equal(t, anthropic.MessageParamRoleAssistant, out[1].Role)
	require.Len(t, out[1].Content, 3)
	require.NotNil(t, out[1].Content[0].OfText)
	require.NotNil(t, out[1].Content[1].OfToolUse)
	assert.Equal(t, "t1", out[1].Content[1].OfToolUse.ID)
	assert.Equal(t, "weather", out[1].Content[1].OfToolUse.Name)

	// both tool results are merged into one user turn
	assert.Equal(t, anthropic.MessageParamRoleUser, out[2].Role)
	require.Len(t, out[2].Content, 2)
	require.NotNil(t, out[2].Content[0].OfToolResult)
	assert.Equal(t, "t1", out[2].Content[0].OfToolResult.ToolUseID)
	assert.Equal(t, "t2", out[2].Content[1].OfToolResult.ToolUseID)

	assert.Equal(t, anthropic.MessageParamRoleAssistant, out[3].Role)
}

func TestParams(t *testing.T) {
	c := NewFromClient(nil, func(o *Options) {
		o.MaxTokens = 256
		o.DisableCache = true
	})
	params := c.Params(sampleContext())

	assert.Equal(t, anthropic.ModelClaude3_5Sonnet20241022, params.Model)
	assert.Equal(t, int64(256), params.MaxTokens)
	assert.Len(t, params.System, 3)
	assert.Len(t, params.Messages, 4)
}
