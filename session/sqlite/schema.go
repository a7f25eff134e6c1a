package sqlite

// SchemaDDL defines the SQLite schema of the durable session store.
// Tables: context_sessions, context_events, context_memory.
// Timestamps are unix milliseconds. Event rows follow core.StoredEvent.
const SchemaDDL = `
-- One row per session; owner_id scopes listing
CREATE TABLE IF NOT EXISTS context_sessions (
    id TEXT PRIMARY KEY,
    owner_id TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    metadata TEXT
);

CREATE INDEX IF NOT EXISTS idx_context_sessions_owner
    ON context_sessions (owner_id, updated_at DESC);

-- Append-only event log; seq is gapless per session
CREATE TABLE IF NOT EXISTS context_events (
    id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL,
    seq INTEGER NOT NULL,
    action TEXT NOT NULL,
    content TEXT,
    metadata TEXT,
    created_at INTEGER NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_context_events_session_seq
    ON context_events (session_id, seq);

-- Key/value memory; a key may hold several distinct values
CREATE TABLE IF NOT EXISTS context_memory (
    id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL,
    memory_key TEXT NOT NULL,
    memory_value TEXT NOT NULL,
    source TEXT,
    score REAL,
    metadata TEXT,
    updated_at INTEGER NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_context_memory_unique
    ON context_memory (session_id, memory_key, memory_value);
`
