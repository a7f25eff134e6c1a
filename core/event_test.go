package core

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func header(seq int64) EventHeader {
	return EventHeader{ID: NewID(), SessionID: "s1", Seq: seq, Timestamp: Now()}
}

func ptr[T any](v T) *T { return &v }

func TestCodec_RoundTripEveryVariant(t *testing.T) {
	score := 0.75
	events := []Event{
		UserMessage{EventHeader: header(0), Content: "hi", MessageMetadata: map[string]any{"lang": "en"}},
		AgentMessage{EventHeader: header(1), Content: "hello", Model: "gpt-4o-mini"},
		ToolCallRequest{EventHeader: header(2), ToolCalls: []ToolCall{
			NewToolCall("c1", "weather", map[string]any{"city": "Berlin", "days": float64(3)}),
		}},
		ToolCallRequest{EventHeader: header(3), Content: "checking", ToolCalls: []ToolCall{}},
		ToolResult{EventHeader: header(4), ToolCallID: "c1", ToolName: "weather", Output: map[string]any{"temp": float64(21)}},
		ToolResult{EventHeader: header(5), Content: "sunny", ToolCallID: "c2", ToolName: "weather", Output: "sunny"},
		SystemInstruction{EventHeader: header(6), Content: "be brief", Stable: true},
		SystemInstruction{EventHeader: header(7), Content: "today is monday"},
		Compaction{EventHeader: header(8), Content: "summary", ReplacesSeqRange: &SeqRange{0, 7}, Metadata: map[string]any{"model": "x"}},
		Compaction{EventHeader: header(9), Content: "no range"},
		MemorySnippet{EventHeader: header(10), Content: "likes tea", Source: "kv", Score: &score},
		MemorySnippet{EventHeader: header(11), Content: "bare"},
		ArtifactRef{EventHeader: header(12), Content: "report", ArtifactName: "report.pdf", ArtifactVersion: "2", Ephemeral: true},
		ArtifactRef{EventHeader: header(13), Content: "plain", ArtifactName: "notes"},
		HandoffNote{EventHeader: header(14), Content: "over to you", FromAgent: "planner", ToAgent: "coder"},
	}

	for _, ev := range events {
		row, err := Dehydrate(ev)
		require.NoError(t, err)
		assert.Equal(t, string(ev.Action()), row.Action)

		back, err := Hydrate(row)
		require.NoError(t, err)
		assert.Equal(t, ev, back, "round trip of %s", ev.Action())
	}
}

func TestCodec_NumbersDecodeAsFloat64(t *testing.T) {
	ev := ToolCallRequest{EventHeader: header(0), ToolCalls: []ToolCall{
		NewToolCall("c1", "weather", map[string]any{"days": 3}),
	}, MessageMetadata: map[string]any{"attempt": 2}}

	row, err := Dehydrate(ev)
	require.NoError(t, err)
	back, err := Hydrate(row)
	require.NoError(t, err)

	req := back.(ToolCallRequest)
	assert.Equal(t, float64(3), req.ToolCalls[0].Function.Arguments["days"])
	assert.Equal(t, float64(2), req.MessageMetadata["attempt"])

	res := ToolResult{EventHeader: header(1), ToolCallID: "c1", ToolName: "weather", Output: []int{1, 2}}
	row, err = Dehydrate(res)
	require.NoError(t, err)
	back, err = Hydrate(row)
	require.NoError(t, err)
	assert.Equal(t, []any{float64(1), float64(2)}, back.(ToolResult).Output)
}

func TestCodec_OmitsAbsentOptionalFields(t *testing.T) {
	row, err := Dehydrate(MemorySnippet{EventHeader: header(0), Content: "x"})
	require.NoError(t, err)
	assert.Nil(t, row.Metadata)

	row, err = Dehydrate(ToolCallRequest{EventHeader: header(1)})
	require.NoError(t, err)
	assert.Nil(t, row.Content)
	require.NotNil(t, row.Metadata)
	assert.JSONEq(t, `{"toolCalls":[]}`, *row.Metadata)

	row, err = Dehydrate(SystemInstruction{EventHeader: header(2), Content: "x"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"stable":false}`, *row.Metadata)
}

func TestCodec_UnknownActionFails(t *testing.T) {
	_, err := Hydrate(StoredEvent{ID: "e1", SessionID: "s1", Action: "telepathy"})
	require.Error(t, err)

	var uerr *UnknownEventActionError
	require.True(t, errors.As(err, &uerr))
	assert.Equal(t, "telepathy", uerr.Action)

	_, err = HydrateAll([]StoredEvent{
		{ID: "e0", SessionID: "s1", Action: string(ActionUserMessage), Content: ptr("ok")},
		{ID: "e1", SessionID: "s1", Seq: 1, Action: "bogus"},
	})
	assert.ErrorAs(t, err, &uerr)
}

func TestCodec_MalformedMetadataReadsAsEmpty(t *testing.T) {
	for _, raw := range []string{"{not json", `"a string"`, `[1,2]`} {
		ev, err := Hydrate(StoredEvent{
			ID: "e1", SessionID: "s1", Seq: 3,
			Action:   string(ActionToolResult),
			Metadata: ptr(raw),
		})
		require.NoError(t, err, raw)

		tr, ok := ev.(ToolResult)
		require.True(t, ok)
		assert.Equal(t, "tool", tr.ToolName)
		assert.Empty(t, tr.ToolCallID)
		assert.Nil(t, tr.Output)
	}

	ev, err := Hydrate(StoredEvent{ID: "e2", SessionID: "s1", Action: string(ActionToolCallRequest), Metadata: ptr(`{"toolCalls":"nope"}`)})
	require.NoError(t, err)
	assert.Equal(t, []ToolCall{}, ev.(ToolCallRequest).ToolCalls)

	ev, err = Hydrate(StoredEvent{ID: "e3", SessionID: "s1", Action: string(ActionArtifactRef)})
	require.NoError(t, err)
	assert.Equal(t, "artifact", ev.(ArtifactRef).ArtifactName)

	ev, err = Hydrate(StoredEvent{ID: "e4", SessionID: "s1", Action: string(ActionCompaction), Metadata: ptr(`{"replacesSeqRange":[1]}`)})
	require.NoError(t, err)
	assert.Nil(t, ev.(Compaction).ReplacesSeqRange)
}

func TestWithSeq(t *testing.T) {
	ev := UserMessage{EventHeader: NewHeader("draft"), Content: "x"}
	assert.Equal(t, UnassignedSeq, ev.Seq)

	bound := WithSeq(ev, "s9", 4)
	assert.Equal(t, int64(4), bound.Header().Seq)
	assert.Equal(t, "s9", bound.Header().SessionID)
	assert.Equal(t, ev.ID, bound.Header().ID)
	assert.Equal(t, "x", bound.(UserMessage).Content)
}

func TestParseAction(t *testing.T) {
	for _, a := range Actions {
		got, err := ParseAction(string(a))
		require.NoError(t, err)
		assert.Equal(t, a, got)
	}
	_, err := ParseAction("")
	assert.Error(t, err)
}

func TestCompactionMetadata(t *testing.T) {
	c := Compaction{EventHeader: header(0), Content: "s"}
	updated := SetCompactionMetadata(c, map[string]any{"k": "v"})
	assert.Equal(t, map[string]any{"k": "v"}, CompactionMetadata(updated))

	um := UserMessage{EventHeader: header(1)}
	assert.Equal(t, Event(um), SetCompactionMetadata(um, map[string]any{"k": "v"}))
	assert.Nil(t, CompactionMetadata(um))
}
