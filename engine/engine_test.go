package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentctx/core"
	"github.com/hupe1980/agentctx/flow"
	"github.com/hupe1980/agentctx/handoff"
	"github.com/hupe1980/agentctx/internal/testutil"
	"github.com/hupe1980/agentctx/session"
)

type recordingLogger struct {
	mu    sync.Mutex
	warns []string
	infos []string
	errs  []string
}

func (l *recordingLogger) Debug(string, ...any) {}

func (l *recordingLogger) Info(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.infos = append(l.infos, msg)
}

func (l *recordingLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
}

func (l *recordingLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errs = append(l.errs, msg)
}

type failingRetriever struct{ err error }

func (f failingRetriever) Retrieve(context.Context, core.RetrievalInput) ([]core.Snippet, error) {
	return nil, f.err
}

type fixedRetriever struct{ snippets []core.Snippet }

func (f fixedRetriever) Retrieve(context.Context, core.RetrievalInput) ([]core.Snippet, error) {
	return f.snippets, nil
}

func contents(messages []core.Message) []string {
	out := make([]string, len(messages))
	for i, m := range messages {
		out[i] = m.Content
	}
	return out
}

func TestNew_AnnouncesUnstableAPIOnce(t *testing.T) {
	log := &recordingLogger{}
	New(session.NewInMemoryStore(), func(o *Options) {
		o.Logger = log
		o.AnnounceUnstableAPI = true
	})
	assert.Equal(t, []string{UnstableAPIWarning}, log.warns)

	quiet := &recordingLogger{}
	New(session.NewInMemoryStore(), func(o *Options) { o.Logger = quiet })
	assert.Empty(t, quiet.warns)
}

func TestCompileWorkingContext_Defaults(t *testing.T) {
	store := session.NewInMemoryStore()
	id := testutil.NewSessionBuilder(store).Events(
		testutil.NewEventBuilder("").
			System("You are a travel agent.", true).
			System("Today is Monday.", false).
			User("book a flight").
			Agent("where to?").
			Build()...,
	).Build(t)

	eng := New(store)
	wc, err := eng.CompileWorkingContext(context.Background(), id, CompileOptions{
		StaticSystemInstructions: []string{"Be concise."},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"Be concise.", "You are a travel agent."}, wc.StaticSystemInstructions)
	assert.Equal(t, []string{"Today is Monday."}, wc.SystemInstructions)
	assert.Equal(t, []string{"book a flight", "where to?"}, contents(wc.Messages))
	assert.Equal(t, flow.Names(flow.DefaultProcessors(flow.Options{})), traceNames(wc.Traces))
	assert.Empty(t, wc.NewMessages())
}

func traceNames(traces []core.Trace) []string {
	out := make([]string, len(traces))
	for i, tr := range traces {
		out[i] = tr.Processor
	}
	return out
}

func TestCompileWorkingContext_MemoryAndLoadWindow(t *testing.T) {
	store := session.NewInMemoryStore()
	id := testutil.NewSessionBuilder(store).Events(testutil.NewEventBuilder("").Turns(10).Build()...).Build(t)

	eng := New(store, func(o *Options) {
		o.Logger = &recordingLogger{}
		o.DefaultLoad = core.LoadOptions{Limit: 4}
		o.Pipeline.Retriever = fixedRetriever{snippets: []core.Snippet{{ID: "m1", Content: "likes tea"}}}
	})
	wc, err := eng.CompileWorkingContext(context.Background(), id, CompileOptions{})
	require.NoError(t, err)

	assert.Equal(t, []string{"[Memory:memory] likes tea", "user-6", "agent-7", "user-8", "agent-9"}, contents(wc.Messages))
	require.NotEmpty(t, wc.Traces)
	assert.Equal(t, flow.NameSelectTailEvents, wc.Traces[0].Processor)
	assert.Equal(t, 4, wc.Traces[0].BeforeEventCount)

	all := core.LoadOptions{Limit: -1}
	wc, err = eng.CompileWorkingContext(context.Background(), id, CompileOptions{
		Load:     &all,
		Pipeline: &flow.Options{Limit: 2},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"user-8", "agent-9"}, contents(wc.Messages))
	assert.Equal(t, 10, wc.Traces[0].BeforeEventCount)
}

func TestCompileWorkingContext_TailFollowsLoadLimit(t *testing.T) {
	store := session.NewInMemoryStore()
	id := testutil.NewSessionBuilder(store).Events(testutil.NewEventBuilder("").Turns(80).Build()...).Build(t)
	ctx := context.Background()

	eng := New(store)
	wc, err := eng.CompileWorkingContext(ctx, id, CompileOptions{Load: &core.LoadOptions{Limit: 80}})
	require.NoError(t, err)
	assert.Len(t, wc.Messages, 80)
	assert.Equal(t, 80, wc.Traces[0].AfterEventCount)

	all := core.LoadOptions{Limit: -1}
	wc, err = eng.CompileWorkingContext(ctx, id, CompileOptions{Load: &all})
	require.NoError(t, err)
	assert.Len(t, wc.Messages, 80)

	eng = New(store, func(o *Options) { o.DefaultLoad = core.LoadOptions{Limit: 60} })
	wc, err = eng.CompileWorkingContext(ctx, id, CompileOptions{})
	require.NoError(t, err)
	assert.Len(t, wc.Messages, 60)
	assert.Equal(t, "user-20", wc.Messages[0].Content)

	wc, err = New(store).CompileWorkingContext(ctx, id, CompileOptions{})
	require.NoError(t, err)
	assert.Len(t, wc.Messages, core.DefaultLoadLimit)
}

func TestCompileWorkingContext_CustomProcessors(t *testing.T) {
	store := session.NewInMemoryStore()
	id := testutil.NewSessionBuilder(store).Events(testutil.NewEventBuilder("").User("hi").Build()...).Build(t)

	upper := flow.NewProcessorFunc("upper", func(_ context.Context, s flow.State) (flow.State, error) {
		out := make([]core.Message, len(s.Messages))
		for i, m := range s.Messages {
			m.Content = strings.ToUpper(m.Content)
			out[i] = m
		}
		s.Messages = out
		return s, nil
	})

	wc, err := New(store).CompileWorkingContext(context.Background(), id, CompileOptions{Processors: []flow.Processor{upper}})
	require.NoError(t, err)
	assert.Equal(t, []string{"HI"}, contents(wc.Messages))
	assert.Equal(t, []string{"upper"}, traceNames(wc.Traces))
}

func TestCompileWorkingContext_CollaboratorFailure(t *testing.T) {
	store := session.NewInMemoryStore()
	id := testutil.NewSessionBuilder(store).Events(testutil.NewEventBuilder("").User("hi").Build()...).Build(t)
	boom := errors.New("vector store offline")
	log := &recordingLogger{}

	var seen error
	eng := New(store, func(o *Options) {
		o.Logger = log
		o.Pipeline.Retriever = failingRetriever{err: boom}
		o.Callbacks = []Callback{NewFunctionCallback(CallbackOnError, func(_ context.Context, c *CallbackContext) error {
			seen = c.Err
			return nil
		})}
	})

	wc, err := eng.CompileWorkingContext(context.Background(), id, CompileOptions{})
	require.Error(t, err)
	assert.Nil(t, wc)
	assert.ErrorIs(t, err, boom)
	var cerr *core.CollaboratorError
	assert.ErrorAs(t, err, &cerr)
	assert.ErrorIs(t, seen, boom)
	assert.NotEmpty(t, log.errs)
}

func TestCompileWorkingContext_MissingSessionIsEmpty(t *testing.T) {
	wc, err := New(session.NewInMemoryStore()).CompileWorkingContext(context.Background(), "missing", CompileOptions{})
	require.NoError(t, err)
	assert.Empty(t, wc.Messages)
}

func TestBuildWorkingContext(t *testing.T) {
	store := session.NewInMemoryStore()
	id := testutil.NewSessionBuilder(store).Events(testutil.NewEventBuilder("").
		System("rules", true).
		Memory("likes tea", "kv").
		User("hi").
		Build()...).Build(t)

	wc, err := New(store).BuildWorkingContext(context.Background(), id, CompileOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"rules"}, wc.StaticSystemInstructions)
	assert.Len(t, wc.Messages, 2)
	assert.Empty(t, wc.Traces)
}

func TestPersistWorkingContext_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store := session.NewInMemoryStore()
	id := testutil.NewSessionBuilder(store).Events(testutil.NewEventBuilder("").User("what's the weather?").Build()...).Build(t)
	eng := New(store)

	wc, err := eng.CompileWorkingContext(ctx, id, CompileOptions{})
	require.NoError(t, err)

	wc.AddMessage(core.Message{
		Role:      core.RoleAssistant,
		Content:   "",
		ToolCalls: []core.ToolCall{core.NewToolCall("call-1", "weather", map[string]any{"city": "Berlin"})},
	})
	wc.AddMessage(core.Message{Role: core.RoleTool, ToolCallID: "call-1", Name: "weather", Content: "sunny"})
	wc.AddMessage(core.Message{Role: core.RoleAssistant, Content: "It is sunny.", Metadata: map[string]any{"model": "gpt"}})

	stored, err := eng.PersistWorkingContext(ctx, id, wc)
	require.NoError(t, err)
	require.Len(t, stored, 3)
	assert.Equal(t, []int64{1, 2, 3}, []int64{stored[0].Header().Seq, stored[1].Header().Seq, stored[2].Header().Seq})
	assert.Equal(t, core.ActionToolCallRequest, stored[0].Action())
	assert.Equal(t, core.ActionToolResult, stored[1].Action())
	assert.Equal(t, core.ActionAgentMessage, stored[2].Action())

	again, err := eng.CompileWorkingContext(ctx, id, CompileOptions{})
	require.NoError(t, err)
	require.Len(t, again.Messages, 4)
	assert.Equal(t, "It is sunny.", again.Messages[3].Content)
	assert.Equal(t, "gpt", again.Messages[3].Metadata["model"])
	assert.Equal(t, "call-1", again.Messages[2].ToolCallID)

	// persisting a freshly compiled context writes nothing
	stored, err = eng.PersistWorkingContext(ctx, id, again)
	require.NoError(t, err)
	assert.Empty(t, stored)
	events, err := store.LoadEvents(ctx, id, core.LoadOptions{Limit: -1})
	require.NoError(t, err)
	assert.Len(t, events, 4)
}

func TestPersistWorkingContext_MissingSession(t *testing.T) {
	wc := core.NewWorkingContext(core.WorkingContextInit{})
	wc.AddMessage(core.Message{Role: core.RoleAssistant, Content: "hi"})

	_, err := New(session.NewInMemoryStore()).PersistWorkingContext(context.Background(), "missing", wc)
	assert.ErrorIs(t, err, core.ErrSessionNotFound)
}

func TestPersistWorkingContext_ValidationRejects(t *testing.T) {
	ctx := context.Background()
	store := session.NewInMemoryStore()
	id := testutil.NewSessionBuilder(store).Build(t)

	eng := New(store, func(o *Options) {
		o.Callbacks = []Callback{NewEventValidationCallback(func(events []core.Event) error {
			for _, e := range events {
				if am, ok := e.(core.AgentMessage); ok && am.Content == "" {
					return errors.New("empty reply")
				}
			}
			return nil
		})}
	})

	wc := core.NewWorkingContext(core.WorkingContextInit{})
	wc.AddMessage(core.Message{Role: core.RoleAssistant})
	_, err := eng.PersistWorkingContext(ctx, id, wc)
	require.Error(t, err)

	events, err := store.LoadEvents(ctx, id, core.LoadOptions{})
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestCompact_UsesDefaultSummarizer(t *testing.T) {
	ctx := context.Background()
	store := session.NewInMemoryStore()
	id := testutil.NewSessionBuilder(store).Events(testutil.NewEventBuilder("").Turns(10).Build()...).Build(t)

	var messages []string
	eng := New(store, func(o *Options) {
		o.Summarizer = core.SummarizerFunc(func(_ context.Context, in core.SummarizeInput) (core.Summary, error) {
			return core.Summary{Content: "summary of " + in.SessionID}, nil
		})
		o.Callbacks = []Callback{NewLoggingCallback(CallbackAfterCompaction, func(m string) { messages = append(messages, m) })}
	})

	result, err := eng.Compact(ctx, id, core.CompactOptions{KeepTailEvents: 4, DeleteCompactedEvents: true})
	require.NoError(t, err)
	require.True(t, result.Compacted)
	assert.Equal(t, &core.SeqRange{0, 5}, result.Event.ReplacesSeqRange)
	assert.Len(t, messages, 1)

	wc, err := eng.CompileWorkingContext(ctx, id, CompileOptions{})
	require.NoError(t, err)
	require.Len(t, wc.Messages, 5)
	assert.Equal(t, core.RoleSystem, wc.Messages[0].Role)
	assert.Contains(t, wc.Messages[0].Content, "summary of "+id)

	result, err = eng.Compact(ctx, id, core.CompactOptions{KeepTailEvents: 10})
	require.NoError(t, err)
	assert.False(t, result.Compacted)
}

func TestCompact_WithoutSummarizer(t *testing.T) {
	store := session.NewInMemoryStore()
	id := testutil.NewSessionBuilder(store).Events(testutil.NewEventBuilder("").Turns(3).Build()...).Build(t)
	_, err := New(store).Compact(context.Background(), id, core.CompactOptions{KeepTailEvents: 1})
	assert.ErrorIs(t, err, session.ErrNoSummarizer)
}

func TestHandoff_RecordsNote(t *testing.T) {
	ctx := context.Background()
	store := session.NewInMemoryStore()
	id := testutil.NewSessionBuilder(store).Events(testutil.NewEventBuilder("").User("book flight").Agent("Sure, where to?").Build()...).Build(t)
	eng := New(store)

	wc, err := eng.CompileWorkingContext(ctx, id, CompileOptions{})
	require.NoError(t, err)

	scoped, err := eng.Handoff(ctx, id, wc, "delegating to booker", handoff.Options{
		FromAgent:                         "planner",
		ToAgent:                           "booker",
		RecastPriorAssistantAsUserContext: true,
	})
	require.NoError(t, err)
	require.Len(t, scoped.Messages, 2)
	assert.Equal(t, core.RoleUser, scoped.Messages[1].Role)

	events, err := store.LoadEvents(ctx, id, core.LoadOptions{Actions: []core.Action{core.ActionHandoffNote}})
	require.NoError(t, err)
	require.Len(t, events, 1)
	note := events[0].(core.HandoffNote)
	assert.Equal(t, "booker", note.ToAgent)
	assert.Equal(t, int64(2), note.Seq)
}
