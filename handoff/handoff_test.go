package handoff

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentctx/core"
)

func source() *core.WorkingContext {
	return core.NewWorkingContext(core.WorkingContextInit{
		Messages: []core.Message{
			{Role: core.RoleUser, Content: "hello"},
			{Role: core.RoleAssistant, Content: "hi there"},
			{Role: core.RoleUser, Content: "book flight"},
			{Role: core.RoleAssistant, Content: "Sure, where to?", Metadata: map[string]any{"k": "v"}},
		},
		SystemInstructions:       []string{"be brief"},
		StaticSystemInstructions: []string{"you are a travel agent"},
		Traces:                   []core.Trace{{Processor: "stable-prefix"}},
	})
}

func contents(messages []core.Message) []string {
	out := make([]string, len(messages))
	for i, m := range messages {
		out[i] = m.Content
	}
	return out
}

func TestNewScopedContext_Include(t *testing.T) {
	src := source()

	tests := []struct {
		name string
		opts Options
		want []string
	}{
		{"default is latest turn", Options{}, []string{"book flight", "Sure, where to?"}},
		{"none", Options{Include: IncludeNone}, []string{}},
		{"recent", Options{Include: IncludeRecent, RecentLimit: 3}, []string{"hi there", "book flight", "Sure, where to?"}},
		{"recent beyond length", Options{Include: IncludeRecent, RecentLimit: 20}, []string{"hello", "hi there", "book flight", "Sure, where to?"}},
		{"full", Options{Include: IncludeFull}, []string{"hello", "hi there", "book flight", "Sure, where to?"}},
		{"custom without selector", Options{Include: IncludeCustom}, []string{"hello", "hi there", "book flight", "Sure, where to?"}},
		{"custom", Options{Include: IncludeCustom, CustomSelector: func(m []core.Message) []core.Message { return m[:1] }}, []string{"hello"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wc := NewScopedContext(src, tt.opts)
			assert.Equal(t, tt.want, contents(wc.Messages))
			assert.Empty(t, wc.NewMessages())
		})
	}
}

func TestNewScopedContext_LatestTurnWithoutUser(t *testing.T) {
	src := core.NewWorkingContext(core.WorkingContextInit{Messages: []core.Message{{Role: core.RoleAssistant, Content: "hi"}}})
	assert.Empty(t, NewScopedContext(src, Options{}).Messages)
}

func TestNewScopedContext_Recast(t *testing.T) {
	src := core.NewWorkingContext(core.WorkingContextInit{Messages: []core.Message{
		{Role: core.RoleUser, Content: "book flight"},
		{Role: core.RoleAssistant, Content: "Sure, where to?"},
	}})

	wc := NewScopedContext(src, Options{
		Include:                           IncludeLatestTurn,
		FromAgent:                         "planner",
		RecastPriorAssistantAsUserContext: true,
	})

	require.Len(t, wc.Messages, 2)
	assert.Equal(t, core.RoleUser, wc.Messages[1].Role)
	assert.True(t, strings.Contains(wc.Messages[1].Content, "[For context from"))
	assert.Equal(t, "[For context from planner] Sure, where to?", wc.Messages[1].Content)
	assert.Equal(t, "planner", wc.Messages[1].Metadata[core.MetaSourceAgent])
	assert.Equal(t, core.RoleAssistant, src.Messages[1].Role, "source must not change")
}

func TestNewScopedContext_RecastDefaultAgentKeepsMetadata(t *testing.T) {
	src := source()
	wc := NewScopedContext(src, Options{RecastPriorAssistantAsUserContext: true})

	require.Len(t, wc.Messages, 2)
	assert.Equal(t, "[For context from upstream agent] Sure, where to?", wc.Messages[1].Content)
	assert.Equal(t, "v", wc.Messages[1].Metadata["k"])
	assert.NotContains(t, src.Messages[3].Metadata, core.MetaSourceAgent)
}

func TestNewScopedContext_LatestUserPrompt(t *testing.T) {
	src := source()
	wc := NewScopedContext(src, Options{Include: IncludeNone, LatestUserPrompt: "find flights to Berlin", FromAgent: "planner"})

	require.Len(t, wc.Messages, 1)
	m := wc.Messages[0]
	assert.Equal(t, core.RoleUser, m.Role)
	assert.Equal(t, "find flights to Berlin", m.Content)
	assert.False(t, m.IsStable())
	assert.Equal(t, "planner", m.Metadata[core.MetaSourceAgent])
}

func TestNewScopedContext_CopiesInstructionsAndTraces(t *testing.T) {
	src := source()
	wc := NewScopedContext(src, Options{})

	assert.Equal(t, src.SystemInstructions, wc.SystemInstructions)
	assert.Equal(t, src.StaticSystemInstructions, wc.StaticSystemInstructions)
	assert.Equal(t, src.Traces, wc.Traces)

	wc.SystemInstructions[0] = "changed"
	assert.Equal(t, "be brief", src.SystemInstructions[0])
}

func TestNote(t *testing.T) {
	ev := Note("s1", "delegating booking", Options{FromAgent: "planner", ToAgent: "booker"})
	assert.Equal(t, "s1", ev.SessionID)
	assert.Equal(t, core.UnassignedSeq, ev.Seq)
	assert.Equal(t, "planner", ev.FromAgent)
	assert.Equal(t, "booker", ev.ToAgent)
	assert.Equal(t, core.ActionHandoffNote, ev.Action())
}
