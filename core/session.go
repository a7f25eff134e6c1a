package core

import (
	"context"
	"time"
)

// Session is a durable conversation: an ordered event log plus a key/value
// memory table. UpdatedAt moves on every mutation of either.
type Session struct {
	ID        string         `json:"id"`
	OwnerID   string         `json:"owner_id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// MemoryEntry is one stored fact. (SessionID, Key, Value) is unique.
type MemoryEntry struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id"`
	Key       string         `json:"key"`
	Value     string         `json:"value"`
	Source    string         `json:"source,omitempty"`
	Score     *float64       `json:"score,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// MemoryInput is a fact to upsert. Key and Value are trimmed; entries that
// trim to empty are skipped.
type MemoryInput struct {
	Key      string
	Value    string
	Source   string
	Score    *float64
	Metadata map[string]any
}

// Window selects which end of the log LoadEvents reads from.
type Window int

const (
	// WindowTail returns the most recent Limit matching events, ascending.
	WindowTail Window = iota
	// WindowHead returns the first Limit matching events, ascending.
	WindowHead
)

// DefaultLoadLimit is used when LoadOptions.Limit is zero.
const DefaultLoadLimit = 50

// LoadOptions filters and windows LoadEvents. A negative Limit means no limit.
type LoadOptions struct {
	Limit   int
	Since   time.Time // inclusive lower bound on the event timestamp; zero means none
	Actions []Action  // allow-list; empty means all
	Window  Window
}

// EffectiveLimit resolves the zero value to DefaultLoadLimit.
func (o LoadOptions) EffectiveLimit() int {
	if o.Limit == 0 {
		return DefaultLoadLimit
	}
	return o.Limit
}

// UpsertOptions controls memory writes.
type UpsertOptions struct {
	// ReplaceByKey deletes every existing value for a key before inserting,
	// giving the key single-valued (canonical) semantics.
	ReplaceByKey bool
}

// DefaultMemoryLimit is used when MemoryQuery.Limit is zero.
const DefaultMemoryLimit = 200

// MemoryQuery filters LoadMemory. Results are ordered by UpdatedAt descending.
type MemoryQuery struct {
	Limit int
	Keys  []string
}

// EffectiveLimit resolves the zero value to DefaultMemoryLimit.
func (q MemoryQuery) EffectiveLimit() int {
	if q.Limit <= 0 {
		return DefaultMemoryLimit
	}
	return q.Limit
}

// DefaultKeepTailEvents is used when CompactOptions.KeepTailEvents is zero.
const DefaultKeepTailEvents = 20

// CompactOptions configures CompactSession.
type CompactOptions struct {
	// KeepTailEvents is the number of newest events left untouched. Zero uses
	// DefaultKeepTailEvents; a negative value keeps none.
	KeepTailEvents        int
	Summarizer            Summarizer
	DeleteCompactedEvents bool
}

// CompactResult reports the outcome of CompactSession. Compacted is false
// when the session had too few events; that is not an error.
type CompactResult struct {
	Compacted      bool
	Event          Compaction
	CompactedCount int
}

// EventLog is the event half of a session store.
type EventLog interface {
	// AppendEvents assigns consecutive sequence numbers after the current
	// maximum and persists the events atomically. Caller supplied Seq values
	// are ignored. It returns the events as stored.
	AppendEvents(ctx context.Context, sessionID string, events []Event) ([]Event, error)
	LoadEvents(ctx context.Context, sessionID string, opts LoadOptions) ([]Event, error)
	// DeleteEvents removes events by id within the session. Only compaction uses it.
	DeleteEvents(ctx context.Context, sessionID string, eventIDs []string) error
}

// MemoryTable is the key/value memory half of a session store.
type MemoryTable interface {
	UpsertMemory(ctx context.Context, sessionID string, entries []MemoryInput, opts UpsertOptions) error
	LoadMemory(ctx context.Context, sessionID string, q MemoryQuery) ([]MemoryEntry, error)
	// DeleteMemory removes the given keys, or all memory when keys is empty.
	DeleteMemory(ctx context.Context, sessionID string, keys ...string) error
}

// SessionStore persists sessions, their event logs and memory. Implementations
// assume single-writer-per-session execution supplied by the host and run each
// multi-step mutation as one atomic unit.
type SessionStore interface {
	EventLog
	MemoryTable

	CreateSession(ctx context.Context, metadata map[string]any) (string, error)
	GetSession(ctx context.Context, id string) (*Session, error)
	// ListSessions returns sessions of ownerID (the store's own owner when
	// empty) ordered by UpdatedAt descending.
	ListSessions(ctx context.Context, ownerID string) ([]Session, error)
	// DeleteSession removes the session with all its events and memory.
	DeleteSession(ctx context.Context, id string) error
	CompactSession(ctx context.Context, sessionID string, opts CompactOptions) (CompactResult, error)
}
