// Package storetest is a conformance suite every core.SessionStore backend
// runs from its own tests.
package storetest

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentctx/core"
	"github.com/hupe1980/agentctx/internal/testutil"
)

// Factory returns a fresh, empty store for one subtest.
type Factory func(t *testing.T) core.SessionStore

// Run executes the full suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("SessionLifecycle", func(t *testing.T) { testSessionLifecycle(t, newStore(t)) })
	t.Run("SequenceMonotonicity", func(t *testing.T) { testSequenceMonotonicity(t, newStore(t)) })
	t.Run("Windowing", func(t *testing.T) { testWindowing(t, newStore(t)) })
	t.Run("Filters", func(t *testing.T) { testFilters(t, newStore(t)) })
	t.Run("RoundTrip", func(t *testing.T) { testRoundTrip(t, newStore(t)) })
	t.Run("MissingSession", func(t *testing.T) { testMissingSession(t, newStore(t)) })
	t.Run("Memory", func(t *testing.T) { testMemory(t, newStore(t)) })
	t.Run("Compaction", func(t *testing.T) { testCompaction(t, newStore(t)) })
	t.Run("CompactionKeepsHead", func(t *testing.T) { testCompactionKeepsHead(t, newStore(t)) })
	t.Run("CompactionTooFewEvents", func(t *testing.T) { testCompactionTooFew(t, newStore(t)) })
	t.Run("CompactionSummarizerFailure", func(t *testing.T) { testCompactionFailure(t, newStore(t)) })
	t.Run("DeleteCascade", func(t *testing.T) { testDeleteCascade(t, newStore(t)) })
}

func testSessionLifecycle(t *testing.T, store core.SessionStore) {
	ctx := context.Background()

	a, err := store.CreateSession(ctx, map[string]any{"title": "first"})
	require.NoError(t, err)
	b, err := store.CreateSession(ctx, nil)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	sess, err := store.GetSession(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, a, sess.ID)
	assert.Equal(t, "first", sess.Metadata["title"])
	assert.False(t, sess.CreatedAt.IsZero())

	_, err = store.AppendEvents(ctx, a, testutil.NewEventBuilder(a).User("hi").Build())
	require.NoError(t, err)

	updated, err := store.GetSession(ctx, a)
	require.NoError(t, err)
	assert.False(t, updated.UpdatedAt.Before(sess.UpdatedAt))

	list, err := store.ListSessions(ctx, "")
	require.NoError(t, err)
	require.Len(t, list, 2)
	ids := []string{list[0].ID, list[1].ID}
	assert.ElementsMatch(t, []string{a, b}, ids)
	assert.False(t, list[0].UpdatedAt.Before(list[1].UpdatedAt), "sessions must be ordered by UpdatedAt descending")

	others, err := store.ListSessions(ctx, "someone-else")
	require.NoError(t, err)
	assert.Empty(t, others)

	_, err = store.GetSession(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrSessionNotFound)
}

func seqs(events []core.Event) []int64 {
	out := make([]int64, len(events))
	for i, e := range events {
		out[i] = e.Header().Seq
	}
	return out
}

func contents(events []core.Event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		switch ev := e.(type) {
		case core.UserMessage:
			out[i] = ev.Content
		case core.AgentMessage:
			out[i] = ev.Content
		case core.Compaction:
			out[i] = ev.Content
		}
	}
	return out
}

func testSequenceMonotonicity(t *testing.T, store core.SessionStore) {
	ctx := context.Background()
	id, err := store.CreateSession(ctx, nil)
	require.NoError(t, err)

	total := 0
	for _, size := range []int{1, 3, 0, 2, 5} {
		batch := testutil.NewEventBuilder(id).Turns(size).Build()
		for i := range batch {
			// caller supplied sequence numbers are ignored
			batch[i] = core.WithSeq(batch[i], id, 999)
		}
		stored, err := store.AppendEvents(ctx, id, batch)
		require.NoError(t, err)
		require.Len(t, stored, size)
		for i, ev := range stored {
			assert.Equal(t, int64(total+i), ev.Header().Seq)
		}
		total += size
	}

	events, err := store.LoadEvents(ctx, id, core.LoadOptions{Limit: -1})
	require.NoError(t, err)
	want := make([]int64, total)
	for i := range want {
		want[i] = int64(i)
	}
	assert.Equal(t, want, seqs(events))
}

func testWindowing(t *testing.T, store core.SessionStore) {
	ctx := context.Background()
	id, err := store.CreateSession(ctx, nil)
	require.NoError(t, err)

	b := testutil.NewEventBuilder(id)
	for i := 0; i < 10; i++ {
		b.User("e" + string(rune('0'+i)))
	}
	_, err = store.AppendEvents(ctx, id, b.Build())
	require.NoError(t, err)

	tail, err := store.LoadEvents(ctx, id, core.LoadOptions{Limit: 3, Window: core.WindowTail})
	require.NoError(t, err)
	assert.Equal(t, []string{"e7", "e8", "e9"}, contents(tail))

	head, err := store.LoadEvents(ctx, id, core.LoadOptions{Limit: 3, Window: core.WindowHead})
	require.NoError(t, err)
	assert.Equal(t, []string{"e0", "e1", "e2"}, contents(head))

	all, err := store.LoadEvents(ctx, id, core.LoadOptions{})
	require.NoError(t, err)
	assert.Len(t, all, 10)
}

func testFilters(t *testing.T, store core.SessionStore) {
	ctx := context.Background()
	id, err := store.CreateSession(ctx, nil)
	require.NoError(t, err)

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	at := func(e core.Event, offset time.Duration) core.Event {
		h := e.Header()
		h.Timestamp = base.Add(offset)
		return core.WithHeader(e, h)
	}
	events := testutil.NewEventBuilder(id).User("old").Agent("old reply").User("new").ToolCall("c1", "f", nil).Build()
	events[0] = at(events[0], 0)
	events[1] = at(events[1], time.Second)
	events[2] = at(events[2], time.Minute)
	events[3] = at(events[3], time.Minute+time.Second)
	_, err = store.AppendEvents(ctx, id, events)
	require.NoError(t, err)

	since, err := store.LoadEvents(ctx, id, core.LoadOptions{Since: base.Add(time.Minute)})
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 3}, seqs(since))

	users, err := store.LoadEvents(ctx, id, core.LoadOptions{Actions: []core.Action{core.ActionUserMessage}})
	require.NoError(t, err)
	assert.Equal(t, []string{"old", "new"}, contents(users))

	both, err := store.LoadEvents(ctx, id, core.LoadOptions{
		Since:   base.Add(time.Second),
		Actions: []core.Action{core.ActionUserMessage, core.ActionAgentMessage},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"old reply", "new"}, contents(both))
}

func testRoundTrip(t *testing.T, store core.SessionStore) {
	ctx := context.Background()
	id, err := store.CreateSession(ctx, nil)
	require.NoError(t, err)

	events := testutil.NewEventBuilder(id).
		System("persona", true).
		User("weather in berlin?").
		ToolCall("c1", "weather", map[string]any{"city": "Berlin"}).
		ToolResult("c1", "weather", map[string]any{"temp": float64(21)}).
		Memory("likes tea", "kv").
		Artifact("report.pdf", "quarterly", true).
		Handoff("planner", "coder", "your turn").
		Agent("21 degrees").
		Build()

	stored, err := store.AppendEvents(ctx, id, events)
	require.NoError(t, err)

	loaded, err := store.LoadEvents(ctx, id, core.LoadOptions{Limit: -1})
	require.NoError(t, err)
	assert.Equal(t, stored, loaded)
}

func testMissingSession(t *testing.T, store core.SessionStore) {
	ctx := context.Background()

	_, err := store.AppendEvents(ctx, "nope", testutil.NewEventBuilder("nope").User("x").Build())
	assert.ErrorIs(t, err, core.ErrSessionNotFound)

	err = store.UpsertMemory(ctx, "nope", []core.MemoryInput{{Key: "k", Value: "v"}}, core.UpsertOptions{})
	assert.ErrorIs(t, err, core.ErrSessionNotFound)

	_, err = store.GetSession(ctx, "nope")
	assert.ErrorIs(t, err, core.ErrSessionNotFound)

	events, err := store.LoadEvents(ctx, "nope", core.LoadOptions{})
	require.NoError(t, err)
	assert.Empty(t, events)
}

func memoryValues(entries []core.MemoryEntry, key string) []string {
	var out []string
	for _, e := range entries {
		if e.Key == key {
			out = append(out, e.Value)
		}
	}
	return out
}

func testMemory(t *testing.T, store core.SessionStore) {
	ctx := context.Background()
	id, err := store.CreateSession(ctx, nil)
	require.NoError(t, err)

	replace := core.UpsertOptions{ReplaceByKey: true}
	require.NoError(t, store.UpsertMemory(ctx, id, []core.MemoryInput{{Key: "location", Value: "Berlin"}}, replace))
	require.NoError(t, store.UpsertMemory(ctx, id, []core.MemoryInput{{Key: "location", Value: "London"}}, replace))

	entries, err := store.LoadMemory(ctx, id, core.MemoryQuery{Keys: []string{"location"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"London"}, memoryValues(entries, "location"))

	score := 0.5
	require.NoError(t, store.UpsertMemory(ctx, id, []core.MemoryInput{
		{Key: "like", Value: "tea"},
		{Key: "like", Value: "chess", Source: "chat", Score: &score},
		{Key: "  ", Value: "skipped"},
		{Key: "empty", Value: "   "},
	}, core.UpsertOptions{}))
	// same (key, value) again overwrites instead of duplicating
	require.NoError(t, store.UpsertMemory(ctx, id, []core.MemoryInput{{Key: " like ", Value: " tea "}}, core.UpsertOptions{}))

	entries, err = store.LoadMemory(ctx, id, core.MemoryQuery{})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"tea", "chess"}, memoryValues(entries, "like"))
	assert.Empty(t, memoryValues(entries, "empty"))
	assert.Len(t, entries, 3)
	for i := 1; i < len(entries); i++ {
		assert.False(t, entries[i].UpdatedAt.After(entries[i-1].UpdatedAt), "memory must be ordered by UpdatedAt descending")
	}
	for _, e := range entries {
		if e.Value == "chess" {
			require.NotNil(t, e.Score)
			assert.InDelta(t, 0.5, *e.Score, 1e-9)
			assert.Equal(t, "chat", e.Source)
		}
	}

	limited, err := store.LoadMemory(ctx, id, core.MemoryQuery{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	require.NoError(t, store.DeleteMemory(ctx, id, "like"))
	entries, err = store.LoadMemory(ctx, id, core.MemoryQuery{})
	require.NoError(t, err)
	assert.Equal(t, []string{"London"}, memoryValues(entries, "location"))
	assert.Len(t, entries, 1)

	require.NoError(t, store.DeleteMemory(ctx, id))
	entries, err = store.LoadMemory(ctx, id, core.MemoryQuery{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func joinSummarizer() core.Summarizer {
	return core.SummarizerFunc(func(_ context.Context, in core.SummarizeInput) (core.Summary, error) {
		parts := make([]string, 0, len(in.Events))
		for _, e := range in.Events {
			if um, ok := e.(core.UserMessage); ok {
				parts = append(parts, um.Content)
			}
		}
		return core.Summary{Content: strings.Join(parts, ","), Metadata: map[string]any{"count": float64(len(in.Events))}}, nil
	})
}

func testCompaction(t *testing.T, store core.SessionStore) {
	ctx := context.Background()
	const total, keep = 12, 4
	id := testutil.NewSessionBuilder(store).Events(testutil.NewEventBuilder("").Turns(total).Build()...).Build(t)

	res, err := store.CompactSession(ctx, id, core.CompactOptions{
		KeepTailEvents:        keep,
		Summarizer:            joinSummarizer(),
		DeleteCompactedEvents: true,
	})
	require.NoError(t, err)
	require.True(t, res.Compacted)
	assert.Equal(t, total-keep, res.CompactedCount)
	require.NotNil(t, res.Event.ReplacesSeqRange)
	assert.Equal(t, core.SeqRange{0, total - keep - 1}, *res.Event.ReplacesSeqRange)
	assert.Equal(t, int64(total), res.Event.Seq)
	assert.Equal(t, "user-0,user-2,user-4,user-6", res.Event.Content)

	events, err := store.LoadEvents(ctx, id, core.LoadOptions{Limit: -1})
	require.NoError(t, err)
	require.Len(t, events, keep+1)
	assert.Equal(t, []int64{8, 9, 10, 11, 12}, seqs(events))

	last, ok := events[keep].(core.Compaction)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"count": float64(total - keep)}, last.Metadata)
}

func testCompactionKeepsHead(t *testing.T, store core.SessionStore) {
	ctx := context.Background()
	id := testutil.NewSessionBuilder(store).Events(testutil.NewEventBuilder("").Turns(6).Build()...).Build(t)

	res, err := store.CompactSession(ctx, id, core.CompactOptions{KeepTailEvents: 2, Summarizer: joinSummarizer()})
	require.NoError(t, err)
	require.True(t, res.Compacted)

	events, err := store.LoadEvents(ctx, id, core.LoadOptions{Limit: -1})
	require.NoError(t, err)
	assert.Len(t, events, 7)
	assert.Equal(t, core.ActionCompaction, events[6].Action())
}

func testCompactionTooFew(t *testing.T, store core.SessionStore) {
	ctx := context.Background()
	id := testutil.NewSessionBuilder(store).Events(testutil.NewEventBuilder("").Turns(3).Build()...).Build(t)

	res, err := store.CompactSession(ctx, id, core.CompactOptions{KeepTailEvents: 3, Summarizer: joinSummarizer(), DeleteCompactedEvents: true})
	require.NoError(t, err)
	assert.False(t, res.Compacted)

	events, err := store.LoadEvents(ctx, id, core.LoadOptions{})
	require.NoError(t, err)
	assert.Len(t, events, 3)
}

func testCompactionFailure(t *testing.T, store core.SessionStore) {
	ctx := context.Background()
	id := testutil.NewSessionBuilder(store).Events(testutil.NewEventBuilder("").Turns(5).Build()...).Build(t)

	boom := errors.New("model unavailable")
	_, err := store.CompactSession(ctx, id, core.CompactOptions{
		KeepTailEvents:        1,
		DeleteCompactedEvents: true,
		Summarizer: core.SummarizerFunc(func(context.Context, core.SummarizeInput) (core.Summary, error) {
			return core.Summary{}, boom
		}),
	})
	require.ErrorIs(t, err, boom)
	var cerr *core.CollaboratorError
	assert.ErrorAs(t, err, &cerr)

	events, err := store.LoadEvents(ctx, id, core.LoadOptions{})
	require.NoError(t, err)
	assert.Len(t, events, 5)
}

func testDeleteCascade(t *testing.T, store core.SessionStore) {
	ctx := context.Background()
	doomed := testutil.NewSessionBuilder(store).Events(testutil.NewEventBuilder("").Turns(3).Build()...).Fact("k", "v").Build(t)
	other := testutil.NewSessionBuilder(store).Events(testutil.NewEventBuilder("").Turns(2).Build()...).Fact("k", "w").Build(t)

	require.NoError(t, store.DeleteSession(ctx, doomed))

	_, err := store.GetSession(ctx, doomed)
	assert.ErrorIs(t, err, core.ErrSessionNotFound)

	events, err := store.LoadEvents(ctx, doomed, core.LoadOptions{})
	require.NoError(t, err)
	assert.Empty(t, events)
	mem, err := store.LoadMemory(ctx, doomed, core.MemoryQuery{})
	require.NoError(t, err)
	assert.Empty(t, mem)

	events, err = store.LoadEvents(ctx, other, core.LoadOptions{})
	require.NoError(t, err)
	assert.Len(t, events, 2)
	mem, err = store.LoadMemory(ctx, other, core.MemoryQuery{})
	require.NoError(t, err)
	assert.Len(t, mem, 1)

	_, err = store.GetSession(ctx, other)
	assert.NoError(t, err)
}
