// Package flow provides the context compilation pipeline.
//
// A pipeline is an ordered list of named processors. Each processor receives
// the compile state produced by the previous one and returns a new state;
// Run records a trace entry after every step.
package flow

import (
	"context"
	"fmt"
	"maps"

	"github.com/hupe1980/agentctx/core"
)

// MetaStructuredMemory is the State.Metadata key the structured memory step
// stores the provider's value under.
const MetaStructuredMemory = "structuredMemory"

// State is the value threaded through the pipeline.
type State struct {
	SessionID                string
	Events                   []core.Event
	Messages                 []core.Message
	SystemInstructions       []string
	StaticSystemInstructions []string
	Traces                   []core.Trace
	Metadata                 map[string]any
}

// Clone returns a copy whose slices and metadata map can be modified without
// affecting s. Elements are shared.
func (s State) Clone() State {
	s.Events = append([]core.Event{}, s.Events...)
	s.Messages = append([]core.Message{}, s.Messages...)
	s.SystemInstructions = append([]string{}, s.SystemInstructions...)
	s.StaticSystemInstructions = append([]string{}, s.StaticSystemInstructions...)
	s.Traces = append([]core.Trace{}, s.Traces...)
	s.Metadata = maps.Clone(s.Metadata)
	return s
}

// Processor is one named step of the pipeline.
//
// Process must not modify the slices of the state it receives in place; it
// returns a new state instead. Errors abort the pipeline.
type Processor interface {
	// Name identifies the step in traces and logs.
	Name() string
	// Process transforms the state.
	Process(ctx context.Context, state State) (State, error)
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc struct {
	ProcessorName string
	Fn            func(ctx context.Context, state State) (State, error)
}

// NewProcessorFunc wraps fn as a processor called name.
func NewProcessorFunc(name string, fn func(ctx context.Context, state State) (State, error)) ProcessorFunc {
	return ProcessorFunc{ProcessorName: name, Fn: fn}
}

// Name returns the processor's identifier.
func (p ProcessorFunc) Name() string { return p.ProcessorName }

// Process calls the wrapped function.
func (p ProcessorFunc) Process(ctx context.Context, state State) (State, error) {
	return p.Fn(ctx, state)
}

// Observer is notified after every successful step.
type Observer func(trace core.Trace)

// RunOptions configures Run.
type RunOptions struct {
	// Observer receives each trace as it is recorded.
	Observer Observer
}

// Run executes processors strictly in order. After each step a trace with
// the event and message counts before and after is appended. When a step
// fails the error is returned together with the zero State; no partially
// processed state escapes.
func Run(ctx context.Context, state State, processors []Processor, optFns ...func(o *RunOptions)) (State, error) {
	opts := RunOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}

	current := state.Clone()
	for _, p := range processors {
		if err := ctx.Err(); err != nil {
			return State{}, err
		}
		beforeEvents, beforeMessages := len(current.Events), len(current.Messages)

		next, err := p.Process(ctx, current)
		if err != nil {
			return State{}, fmt.Errorf("context processor %s: %w", p.Name(), err)
		}

		trace := core.Trace{
			Processor:          p.Name(),
			BeforeEventCount:   beforeEvents,
			AfterEventCount:    len(next.Events),
			BeforeMessageCount: beforeMessages,
			AfterMessageCount:  len(next.Messages),
		}
		next.Traces = append(append([]core.Trace{}, next.Traces...), trace)
		if opts.Observer != nil {
			opts.Observer(trace)
		}
		current = next
	}
	return current, nil
}
