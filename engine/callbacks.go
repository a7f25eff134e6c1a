package engine

import (
	"context"
	"fmt"

	"github.com/hupe1980/agentctx/core"
)

// CallbackType names a lifecycle point of the engine.
type CallbackType string

const (
	// CallbackBeforeCompile runs after the events are loaded, before the pipeline.
	CallbackBeforeCompile CallbackType = "before_compile"
	// CallbackAfterCompile runs with the compiled context.
	CallbackAfterCompile CallbackType = "after_compile"
	// CallbackBeforePersist runs with the events about to be appended. An
	// error prevents the append.
	CallbackBeforePersist CallbackType = "before_persist"
	// CallbackAfterPersist runs with the appended events.
	CallbackAfterPersist CallbackType = "after_persist"
	// CallbackAfterCompaction runs with the compaction result.
	CallbackAfterCompaction CallbackType = "after_compaction"
	// CallbackOnError runs when an engine operation fails. Its own error is
	// ignored.
	CallbackOnError CallbackType = "on_error"
)

// CallbackContext carries what a callback may inspect. Fields not relevant to
// the callback type are zero.
type CallbackContext struct {
	CallbackType CallbackType
	SessionID    string
	// Events are the loaded events (before_compile) or the events being
	// persisted (before_persist, after_persist).
	Events []core.Event
	// WorkingContext is set for after_compile and the persist callbacks.
	WorkingContext *core.WorkingContext
	// Compaction is set for after_compaction.
	Compaction *core.CompactResult
	// Err is set for on_error.
	Err      error
	Metadata map[string]any
}

// Callback is a lifecycle hook. Callbacks run synchronously in registration
// order; the first error stops the chain and fails the operation.
type Callback interface {
	Type() CallbackType
	Execute(ctx context.Context, callbackCtx *CallbackContext) error
}

// FunctionCallback wraps a function as a callback.
//
// Example:
//
//	cb := NewFunctionCallback(CallbackAfterCompile, func(ctx context.Context, c *CallbackContext) error {
//	    log.Printf("compiled %d messages", len(c.WorkingContext.Messages))
//	    return nil
//	})
type FunctionCallback struct {
	callbackType CallbackType
	fn           func(ctx context.Context, callbackCtx *CallbackContext) error
}

// NewFunctionCallback creates a new function-based callback.
func NewFunctionCallback(
	callbackType CallbackType,
	fn func(ctx context.Context, callbackCtx *CallbackContext) error,
) *FunctionCallback {
	return &FunctionCallback{
		callbackType: callbackType,
		fn:           fn,
	}
}

// Type returns the callback type this function handles.
func (c *FunctionCallback) Type() CallbackType {
	return c.callbackType
}

// Execute calls the wrapped function with the provided context.
func (c *FunctionCallback) Execute(ctx context.Context, callbackCtx *CallbackContext) error {
	return c.fn(ctx, callbackCtx)
}

// CallbackManager routes callbacks by type. Register everything before the
// engine is used concurrently; execution itself only reads.
type CallbackManager struct {
	callbacks map[CallbackType][]Callback
}

// NewCallbackManager creates an empty callback manager.
func NewCallbackManager() *CallbackManager {
	return &CallbackManager{
		callbacks: make(map[CallbackType][]Callback),
	}
}

// RegisterCallback adds a callback for its type.
func (cm *CallbackManager) RegisterCallback(callback Callback) {
	callbackType := callback.Type()
	cm.callbacks[callbackType] = append(cm.callbacks[callbackType], callback)
}

// ExecuteCallbacks runs the callbacks registered for callbackType and
// returns the first error.
func (cm *CallbackManager) ExecuteCallbacks(
	ctx context.Context,
	callbackType CallbackType,
	callbackCtx *CallbackContext,
) error {
	callbacks, exists := cm.callbacks[callbackType]
	if !exists {
		return nil
	}

	callbackCtx.CallbackType = callbackType
	for _, callback := range callbacks {
		if err := callback.Execute(ctx, callbackCtx); err != nil {
			return fmt.Errorf("%s callback: %w", callbackType, err)
		}
	}

	return nil
}

// LoggingCallback forwards lifecycle points to a log function.
type LoggingCallback struct {
	callbackType CallbackType
	logger       func(message string)
}

// NewLoggingCallback creates a new logging callback.
func NewLoggingCallback(callbackType CallbackType, logger func(message string)) *LoggingCallback {
	return &LoggingCallback{
		callbackType: callbackType,
		logger:       logger,
	}
}

// Type returns the callback type this logger handles.
func (c *LoggingCallback) Type() CallbackType {
	return c.callbackType
}

// Execute formats the session id and the relevant counts.
func (c *LoggingCallback) Execute(_ context.Context, callbackCtx *CallbackContext) error {
	if c.logger == nil {
		return nil
	}
	message := fmt.Sprintf("[%s] session: %s, events: %d", c.callbackType, callbackCtx.SessionID, len(callbackCtx.Events))
	if wc := callbackCtx.WorkingContext; wc != nil {
		message += fmt.Sprintf(", messages: %d", len(wc.Messages))
	}
	if callbackCtx.Err != nil {
		message += fmt.Sprintf(", error: %v", callbackCtx.Err)
	}
	c.logger(message)
	return nil
}

// EventValidationCallback checks events before they are persisted. A
// validation error rejects the whole batch.
//
// Example:
//
//	cb := NewEventValidationCallback(func(events []core.Event) error {
//	    for _, e := range events {
//	        if am, ok := e.(core.AgentMessage); ok && am.Content == "" {
//	            return errors.New("empty assistant reply")
//	        }
//	    }
//	    return nil
//	})
type EventValidationCallback struct {
	validator func(events []core.Event) error
}

// NewEventValidationCallback creates a before_persist validation callback.
func NewEventValidationCallback(validator func(events []core.Event) error) *EventValidationCallback {
	return &EventValidationCallback{
		validator: validator,
	}
}

// Type returns CallbackBeforePersist.
func (c *EventValidationCallback) Type() CallbackType {
	return CallbackBeforePersist
}

// Execute runs the validator on the pending events.
func (c *EventValidationCallback) Execute(_ context.Context, callbackCtx *CallbackContext) error {
	if c.validator != nil && len(callbackCtx.Events) > 0 {
		return c.validator(callbackCtx.Events)
	}
	return nil
}
