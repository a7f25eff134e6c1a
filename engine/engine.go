package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/agentctx/core"
	"github.com/hupe1980/agentctx/flow"
	"github.com/hupe1980/agentctx/handoff"
	"github.com/hupe1980/agentctx/logging"
)

// UnstableAPIWarning is logged once by New when Options.AnnounceUnstableAPI is set.
const UnstableAPIWarning = "the context engine API is experimental and may change between releases"

// Options configures an Engine.
type Options struct {
	// Logger receives structured logs. Defaults to logging.NoOpLogger.
	Logger logging.Logger

	// AnnounceUnstableAPI makes New log UnstableAPIWarning once through Logger.
	AnnounceUnstableAPI bool

	// DefaultLoad is used when CompileOptions.Load is nil.
	DefaultLoad core.LoadOptions

	// Pipeline configures the default processors when CompileOptions.Pipeline
	// is nil. A zero Pipeline.Limit follows the effective load limit.
	Pipeline flow.Options

	// Summarizer is used by Compact when the compaction options carry none.
	Summarizer core.Summarizer

	// Callbacks are registered in order.
	Callbacks []Callback
}

// CompileOptions configures a single compile.
type CompileOptions struct {
	// Load overrides Options.DefaultLoad.
	Load *core.LoadOptions

	SystemInstructions       []string
	StaticSystemInstructions []string

	// Mapper overrides core.EventToMessage for the base context and, unless
	// the pipeline sets its own, for the event-to-message step.
	Mapper core.EventMapper

	// Processors replaces the default pipeline entirely.
	Processors []flow.Processor

	// Pipeline overrides Options.Pipeline for the default processors.
	Pipeline *flow.Options
}

// Engine compiles working contexts from a session store and persists turns
// back into it. It holds no per-session state; the host serializes
// operations per session.
type Engine struct {
	store     core.SessionStore
	logger    logging.Logger
	callbacks *CallbackManager
	opts      Options
}

// New creates an Engine over store.
//
// Example:
//
//	eng := engine.New(store, func(o *engine.Options) {
//	    o.Logger = logger
//	    o.Pipeline.Retriever = memory.NewRetriever(store)
//	})
func New(store core.SessionStore, optFns ...func(o *Options)) *Engine {
	opts := Options{
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	callbacks := NewCallbackManager()
	for _, cb := range opts.Callbacks {
		callbacks.RegisterCallback(cb)
	}

	if opts.AnnounceUnstableAPI {
		opts.Logger.Warn(UnstableAPIWarning)
	}

	return &Engine{
		store:     store,
		logger:    opts.Logger,
		callbacks: callbacks,
		opts:      opts,
	}
}

// Store returns the underlying session store.
func (e *Engine) Store() core.SessionStore { return e.store }

// Callbacks returns the callback manager for late registration.
func (e *Engine) Callbacks() *CallbackManager { return e.callbacks }

func (e *Engine) loadOptions(opts CompileOptions) core.LoadOptions {
	if opts.Load != nil {
		return *opts.Load
	}
	return e.opts.DefaultLoad
}

func (e *Engine) fail(ctx context.Context, sessionID string, op string, err error) error {
	e.logger.Error("Context engine operation failed", "operation", op, "session_id", sessionID, "error", err.Error())
	_ = e.callbacks.ExecuteCallbacks(ctx, CallbackOnError, &CallbackContext{SessionID: sessionID, Err: err})
	return err
}

// BuildWorkingContext loads events and maps them without running the pipeline.
func (e *Engine) BuildWorkingContext(ctx context.Context, sessionID string, opts CompileOptions) (*core.WorkingContext, error) {
	events, err := e.store.LoadEvents(ctx, sessionID, e.loadOptions(opts))
	if err != nil {
		return nil, e.fail(ctx, sessionID, "build", fmt.Errorf("load events: %w", err))
	}
	return core.BuildWorkingContext(events, core.WorkingContextOptions{
		SystemInstructions:       opts.SystemInstructions,
		StaticSystemInstructions: opts.StaticSystemInstructions,
		Mapper:                   opts.Mapper,
	}), nil
}

// CompileWorkingContext loads events, builds the base context, runs the
// processors (the default set unless opts.Processors is given) and returns a
// fresh context built from the final state. When any step fails no context is
// returned.
func (e *Engine) CompileWorkingContext(ctx context.Context, sessionID string, opts CompileOptions) (*core.WorkingContext, error) {
	start := time.Now()
	load := e.loadOptions(opts)
	events, err := e.store.LoadEvents(ctx, sessionID, load)
	if err != nil {
		return nil, e.fail(ctx, sessionID, "compile", fmt.Errorf("load events: %w", err))
	}
	if err := e.callbacks.ExecuteCallbacks(ctx, CallbackBeforeCompile, &CallbackContext{SessionID: sessionID, Events: events}); err != nil {
		return nil, e.fail(ctx, sessionID, "compile", err)
	}

	base := core.BuildWorkingContext(events, core.WorkingContextOptions{
		SystemInstructions:       opts.SystemInstructions,
		StaticSystemInstructions: opts.StaticSystemInstructions,
		Mapper:                   opts.Mapper,
	})

	processors := opts.Processors
	if processors == nil {
		pipeline := e.opts.Pipeline
		if opts.Pipeline != nil {
			pipeline = *opts.Pipeline
		}
		if pipeline.Mapper == nil {
			pipeline.Mapper = opts.Mapper
		}
		if pipeline.Limit == 0 {
			pipeline.Limit = load.EffectiveLimit()
		}
		processors = flow.DefaultProcessors(pipeline)
	}

	state, err := flow.Run(ctx, flow.State{
		SessionID:                sessionID,
		Events:                   events,
		Messages:                 base.Messages,
		SystemInstructions:       base.SystemInstructions,
		StaticSystemInstructions: base.StaticSystemInstructions,
		Metadata:                 map[string]any{},
	}, e.instrument(sessionID, processors))
	if err != nil {
		return nil, e.fail(ctx, sessionID, "compile", err)
	}

	wc := core.NewWorkingContext(core.WorkingContextInit{
		Messages:                 state.Messages,
		SystemInstructions:       state.SystemInstructions,
		StaticSystemInstructions: state.StaticSystemInstructions,
		Traces:                   state.Traces,
	})
	if err := e.callbacks.ExecuteCallbacks(ctx, CallbackAfterCompile, &CallbackContext{SessionID: sessionID, Events: events, WorkingContext: wc}); err != nil {
		return nil, e.fail(ctx, sessionID, "compile", err)
	}

	e.logger.Info("Working context compiled",
		"session_id", sessionID,
		"events", len(events),
		"messages", len(wc.Messages),
		"processors", len(processors),
		"duration", time.Since(start))
	return wc, nil
}

type processorLogger interface {
	LogProcessor(name string, trace core.Trace, dur time.Duration, err error)
}

// instrument wraps each processor so its duration and counts are logged.
// Names are preserved, so traces are unaffected.
func (e *Engine) instrument(sessionID string, processors []flow.Processor) []flow.Processor {
	if _, ok := e.logger.(logging.NoOpLogger); ok {
		return processors
	}
	out := make([]flow.Processor, len(processors))
	for i, p := range processors {
		out[i] = flow.NewProcessorFunc(p.Name(), func(ctx context.Context, in flow.State) (flow.State, error) {
			start := time.Now()
			next, err := p.Process(ctx, in)
			trace := core.Trace{
				Processor:          p.Name(),
				BeforeEventCount:   len(in.Events),
				AfterEventCount:    len(next.Events),
				BeforeMessageCount: len(in.Messages),
				AfterMessageCount:  len(next.Messages),
			}
			if pl, ok := e.logger.(processorLogger); ok {
				pl.LogProcessor(p.Name(), trace, time.Since(start), err)
			} else if err == nil {
				e.logger.Debug("Context processor completed",
					"session_id", sessionID,
					"processor", p.Name(),
					"messages_before", trace.BeforeMessageCount,
					"messages_after", trace.AfterMessageCount)
			}
			return next, err
		})
	}
	return out
}

// PersistWorkingContext appends the messages added to wc since it was
// compiled and returns the stored events. Nothing is appended when there are
// no new messages.
func (e *Engine) PersistWorkingContext(ctx context.Context, sessionID string, wc *core.WorkingContext) ([]core.Event, error) {
	messages := wc.NewMessages()
	if len(messages) == 0 {
		return []core.Event{}, nil
	}
	events := make([]core.Event, len(messages))
	for i, m := range messages {
		events[i] = core.MessageToEvent(sessionID, m)
	}
	if err := e.callbacks.ExecuteCallbacks(ctx, CallbackBeforePersist, &CallbackContext{SessionID: sessionID, Events: events, WorkingContext: wc}); err != nil {
		return nil, e.fail(ctx, sessionID, "persist", err)
	}

	stored, err := e.store.AppendEvents(ctx, sessionID, events)
	if err != nil {
		return nil, e.fail(ctx, sessionID, "persist", fmt.Errorf("append events: %w", err))
	}
	if err := e.callbacks.ExecuteCallbacks(ctx, CallbackAfterPersist, &CallbackContext{SessionID: sessionID, Events: stored, WorkingContext: wc}); err != nil {
		return nil, e.fail(ctx, sessionID, "persist", err)
	}

	e.logger.Debug("Working context persisted", "session_id", sessionID, "events", len(stored))
	return stored, nil
}

type compactionLogger interface {
	LogCompaction(sessionID string, result core.CompactResult, dur time.Duration, err error)
}

// Compact compacts the session through the store. Options.Summarizer fills in
// a missing summarizer.
func (e *Engine) Compact(ctx context.Context, sessionID string, opts core.CompactOptions) (core.CompactResult, error) {
	if opts.Summarizer == nil {
		opts.Summarizer = e.opts.Summarizer
	}
	start := time.Now()
	result, err := e.store.CompactSession(ctx, sessionID, opts)
	if cl, ok := e.logger.(compactionLogger); ok {
		cl.LogCompaction(sessionID, result, time.Since(start), err)
	}
	if err != nil {
		return core.CompactResult{}, e.fail(ctx, sessionID, "compact", err)
	}
	if !result.Compacted {
		e.logger.Debug("Compaction skipped", "session_id", sessionID)
	}
	if err := e.callbacks.ExecuteCallbacks(ctx, CallbackAfterCompaction, &CallbackContext{SessionID: sessionID, Compaction: &result}); err != nil {
		return core.CompactResult{}, e.fail(ctx, sessionID, "compact", err)
	}
	return result, nil
}

// Handoff derives a scoped context for a downstream agent from source. When
// note is not empty a handoff_note event is appended to the session first.
func (e *Engine) Handoff(ctx context.Context, sessionID string, source *core.WorkingContext, note string, opts handoff.Options) (*core.WorkingContext, error) {
	if note != "" {
		if _, err := e.store.AppendEvents(ctx, sessionID, []core.Event{handoff.Note(sessionID, note, opts)}); err != nil {
			return nil, e.fail(ctx, sessionID, "handoff", fmt.Errorf("append handoff note: %w", err))
		}
	}
	scoped := handoff.NewScopedContext(source, opts)
	e.logger.Debug("Handoff context created",
		"session_id", sessionID,
		"from", opts.FromAgent,
		"to", opts.ToAgent,
		"messages", len(scoped.Messages))
	return scoped, nil
}
