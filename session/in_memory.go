package session

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/agentctx/core"
)

// compile-time assertion
var _ core.SessionStore = (*InMemoryStore)(nil)

// DefaultOwnerID scopes sessions when no owner is configured.
const DefaultOwnerID = "default"

// InMemoryStoreOptions configures an InMemoryStore.
type InMemoryStoreOptions struct {
	// OwnerID is stamped on created sessions and used by ListSessions when
	// called with an empty owner.
	OwnerID string
	// Now overrides the clock; mainly for tests.
	Now func() time.Time
}

type sessionRecord struct {
	session core.Session
	rev     uint64
	events  []core.StoredEvent
	memory  []memoryRecord
}

type memoryRecord struct {
	entry core.MemoryEntry
	rev   uint64
}

// InMemoryStore is a volatile SessionStore keeping sessions in a process
// local map. Events are held as dehydrated rows so reads go through the same
// codec as durable backends. Every operation runs under one lock, which makes
// each call its own atomic unit. Returned values never alias internal state.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*sessionRecord
	rev      uint64
	opts     InMemoryStoreOptions
}

// NewInMemoryStore constructs an empty in-memory session store.
func NewInMemoryStore(optFns ...func(o *InMemoryStoreOptions)) *InMemoryStore {
	opts := InMemoryStoreOptions{
		OwnerID: DefaultOwnerID,
		Now:     core.Now,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &InMemoryStore{sessions: make(map[string]*sessionRecord), opts: opts}
}

// nextRev returns a strictly increasing counter used to break timestamp ties;
// caller must hold the write lock.
func (s *InMemoryStore) nextRev() uint64 {
	s.rev++
	return s.rev
}

// touchLocked bumps the session's UpdatedAt; caller must hold the write lock.
func (s *InMemoryStore) touchLocked(rec *sessionRecord) time.Time {
	now := s.opts.Now()
	rec.session.UpdatedAt = now
	rec.rev = s.nextRev()
	return now
}

// CreateSession allocates a new session id.
func (s *InMemoryStore) CreateSession(_ context.Context, metadata map[string]any) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.opts.Now()
	id := core.NewID()
	s.sessions[id] = &sessionRecord{
		session: core.Session{
			ID:        id,
			OwnerID:   s.opts.OwnerID,
			CreatedAt: now,
			UpdatedAt: now,
			Metadata:  cloneMap(metadata),
		},
		rev: s.nextRev(),
	}
	return id, nil
}

// GetSession returns a copy of the session or core.ErrSessionNotFound.
func (s *InMemoryStore) GetSession(_ context.Context, id string) (*core.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.sessions[id]
	if !ok {
		return nil, core.SessionNotFound(id)
	}
	sess := rec.session
	sess.Metadata = cloneMap(sess.Metadata)
	return &sess, nil
}

// ListSessions returns the owner's sessions, most recently updated first.
func (s *InMemoryStore) ListSessions(_ context.Context, ownerID string) ([]core.Session, error) {
	if ownerID == "" {
		ownerID = s.opts.OwnerID
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	recs := make([]*sessionRecord, 0, len(s.sessions))
	for _, rec := range s.sessions {
		if rec.session.OwnerID == ownerID {
			recs = append(recs, rec)
		}
	}
	sort.Slice(recs, func(i, j int) bool {
		a, b := recs[i], recs[j]
		if !a.session.UpdatedAt.Equal(b.session.UpdatedAt) {
			return a.session.UpdatedAt.After(b.session.UpdatedAt)
		}
		return a.rev > b.rev
	})
	out := make([]core.Session, 0, len(recs))
	for _, rec := range recs {
		sess := rec.session
		sess.Metadata = cloneMap(sess.Metadata)
		out = append(out, sess)
	}
	return out, nil
}

// DeleteSession drops the session together with its events and memory.
func (s *InMemoryStore) DeleteSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

// AppendEvents assigns sequence numbers after the current maximum and stores
// the batch. Nothing is stored if any event fails to encode.
func (s *InMemoryStore) AppendEvents(_ context.Context, sessionID string, events []core.Event) ([]core.Event, error) {
	if len(events) == 0 {
		return []core.Event{}, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[sessionID]
	if !ok {
		return nil, core.SessionNotFound(sessionID)
	}

	next := int64(0)
	if n := len(rec.events); n > 0 {
		next = rec.events[n-1].Seq + 1
	}
	rows := make([]core.StoredEvent, 0, len(events))
	stored := make([]core.Event, 0, len(events))
	for i, ev := range events {
		bound := core.WithSeq(ev, sessionID, next+int64(i))
		row, err := core.Dehydrate(bound)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
		stored = append(stored, bound)
	}
	rec.events = append(rec.events, rows...)
	s.touchLocked(rec)
	return stored, nil
}

// LoadEvents filters and windows the session log. Unknown sessions yield an
// empty result.
func (s *InMemoryStore) LoadEvents(_ context.Context, sessionID string, opts core.LoadOptions) ([]core.Event, error) {
	s.mu.RLock()
	rec, ok := s.sessions[sessionID]
	if !ok {
		s.mu.RUnlock()
		return []core.Event{}, nil
	}
	matched := make([]core.StoredEvent, 0, len(rec.events))
	sinceMs := int64(0)
	if !opts.Since.IsZero() {
		sinceMs = opts.Since.UnixMilli()
	}
	for _, row := range rec.events {
		if !opts.Since.IsZero() && row.CreatedAt < sinceMs {
			continue
		}
		if len(opts.Actions) > 0 && !slices.Contains(opts.Actions, core.Action(row.Action)) {
			continue
		}
		matched = append(matched, row)
	}
	s.mu.RUnlock()

	if limit := opts.EffectiveLimit(); limit >= 0 && len(matched) > limit {
		if opts.Window == core.WindowHead {
			matched = matched[:limit]
		} else {
			matched = matched[len(matched)-limit:]
		}
	}
	return core.HydrateAll(matched)
}

// DeleteEvents removes the given event ids from the session log.
func (s *InMemoryStore) DeleteEvents(_ context.Context, sessionID string, eventIDs []string) error {
	if len(eventIDs) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[sessionID]
	if !ok {
		return nil
	}
	doomed := make(map[string]struct{}, len(eventIDs))
	for _, id := range eventIDs {
		doomed[id] = struct{}{}
	}
	kept := rec.events[:0:0]
	for _, row := range rec.events {
		if _, drop := doomed[row.ID]; !drop {
			kept = append(kept, row)
		}
	}
	if len(kept) != len(rec.events) {
		rec.events = kept
		s.touchLocked(rec)
	}
	return nil
}

// UpsertMemory writes memory entries. See core.MemoryTable for semantics.
func (s *InMemoryStore) UpsertMemory(_ context.Context, sessionID string, entries []core.MemoryInput, opts core.UpsertOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[sessionID]
	if !ok {
		return core.SessionNotFound(sessionID)
	}
	now := s.opts.Now()
	for _, in := range entries {
		key, value := strings.TrimSpace(in.Key), strings.TrimSpace(in.Value)
		if key == "" || value == "" {
			continue
		}
		if opts.ReplaceByKey {
			rec.memory = slices.DeleteFunc(rec.memory, func(m memoryRecord) bool { return m.entry.Key == key })
		}
		entry := core.MemoryEntry{
			ID:        core.NewID(),
			SessionID: sessionID,
			Key:       key,
			Value:     value,
			Source:    in.Source,
			Score:     cloneScore(in.Score),
			Metadata:  cloneMap(in.Metadata),
			UpdatedAt: now,
		}
		idx := slices.IndexFunc(rec.memory, func(m memoryRecord) bool {
			return m.entry.Key == key && m.entry.Value == value
		})
		if idx >= 0 {
			entry.ID = rec.memory[idx].entry.ID
			rec.memory[idx] = memoryRecord{entry: entry, rev: s.nextRev()}
			continue
		}
		rec.memory = append(rec.memory, memoryRecord{entry: entry, rev: s.nextRev()})
	}
	s.touchLocked(rec)
	return nil
}

// LoadMemory returns entries ordered by UpdatedAt descending.
func (s *InMemoryStore) LoadMemory(_ context.Context, sessionID string, q core.MemoryQuery) ([]core.MemoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.sessions[sessionID]
	if !ok {
		return []core.MemoryEntry{}, nil
	}
	recs := make([]memoryRecord, 0, len(rec.memory))
	for _, m := range rec.memory {
		if len(q.Keys) > 0 && !slices.Contains(q.Keys, m.entry.Key) {
			continue
		}
		recs = append(recs, m)
	}
	sort.Slice(recs, func(i, j int) bool {
		a, b := recs[i], recs[j]
		if !a.entry.UpdatedAt.Equal(b.entry.UpdatedAt) {
			return a.entry.UpdatedAt.After(b.entry.UpdatedAt)
		}
		return a.rev > b.rev
	})
	if limit := q.EffectiveLimit(); len(recs) > limit {
		recs = recs[:limit]
	}
	out := make([]core.MemoryEntry, 0, len(recs))
	for _, m := range recs {
		e := m.entry
		e.Score = cloneScore(e.Score)
		e.Metadata = cloneMap(e.Metadata)
		out = append(out, e)
	}
	return out, nil
}

// DeleteMemory removes the given keys, or all memory when none are given.
func (s *InMemoryStore) DeleteMemory(_ context.Context, sessionID string, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[sessionID]
	if !ok {
		return nil
	}
	if len(keys) == 0 {
		rec.memory = nil
	} else {
		rec.memory = slices.DeleteFunc(rec.memory, func(m memoryRecord) bool { return slices.Contains(keys, m.entry.Key) })
	}
	s.touchLocked(rec)
	return nil
}

// CompactSession runs Compact against this store.
func (s *InMemoryStore) CompactSession(ctx context.Context, sessionID string, opts core.CompactOptions) (core.CompactResult, error) {
	return Compact(ctx, s, sessionID, opts)
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneScore(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}
