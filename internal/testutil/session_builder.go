package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentctx/core"
)

// SessionBuilder seeds a session in a store with fluent chaining.
// Example:
//
//	id := NewSessionBuilder(store).Metadata("k", "v").Events(evs...).Build(t)
type SessionBuilder struct {
	store    core.SessionStore
	metadata map[string]any
	events   []core.Event
	memory   []core.MemoryInput
}

// NewSessionBuilder creates a builder that writes into store.
func NewSessionBuilder(store core.SessionStore) *SessionBuilder {
	return &SessionBuilder{store: store}
}

// Metadata sets a session metadata key (chainable).
func (b *SessionBuilder) Metadata(key string, val any) *SessionBuilder {
	if b.metadata == nil {
		b.metadata = map[string]any{}
	}
	b.metadata[key] = val
	return b
}

// Events queues events to append after creation (chainable).
func (b *SessionBuilder) Events(evs ...core.Event) *SessionBuilder {
	b.events = append(b.events, evs...)
	return b
}

// Fact queues a memory entry (chainable).
func (b *SessionBuilder) Fact(key, value string) *SessionBuilder {
	b.memory = append(b.memory, core.MemoryInput{Key: key, Value: value})
	return b
}

// Build creates the session, appends the queued events and memory, and
// returns the new session id. Failures abort the test.
func (b *SessionBuilder) Build(t testing.TB) string {
	t.Helper()
	ctx := context.Background()
	id, err := b.store.CreateSession(ctx, b.metadata)
	require.NoError(t, err)
	if len(b.events) > 0 {
		_, err = b.store.AppendEvents(ctx, id, b.events)
		require.NoError(t, err)
	}
	if len(b.memory) > 0 {
		require.NoError(t, b.store.UpsertMemory(ctx, id, b.memory, core.UpsertOptions{}))
	}
	return id
}
