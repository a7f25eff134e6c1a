// Package sqlite provides a durable core.SessionStore on SQLite using the
// pure Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/hupe1980/agentctx/core"
	"github.com/hupe1980/agentctx/session"
)

// compile-time assertion
var _ core.SessionStore = (*Store)(nil)

// Open opens a SQLite database at path and enforces production-safe
// defaults: WAL journal mode and a 5-second busy timeout. The pool is capped
// at one connection so the per-connection pragmas always apply and writes
// are serialized.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	ctx := context.Background()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode on %s: %w", path, err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout on %s: %w", path, err)
	}

	return db, nil
}

// Options configures a Store.
type Options struct {
	// OwnerID is stamped on created sessions and used by ListSessions when
	// called with an empty owner. Defaults to session.DefaultOwnerID.
	OwnerID string
	// Now overrides the clock; mainly for tests.
	Now func() time.Time
}

// Store is a SessionStore backed by a *sql.DB. Every multi-statement
// mutation runs in one transaction.
type Store struct {
	db   *sql.DB
	opts Options
}

// New wraps an open database. Call Migrate once before first use.
func New(db *sql.DB, optFns ...func(o *Options)) *Store {
	opts := Options{
		OwnerID: session.DefaultOwnerID,
		Now:     core.Now,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Store{db: db, opts: opts}
}

// Migrate creates the schema if it does not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, SchemaDDL); err != nil {
		return fmt.Errorf("migrate context schema: %w", err)
	}
	return nil
}

// withTx runs fn inside a transaction, committing on success.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *Store) nowMs() int64 { return s.opts.Now().UnixMilli() }

func requireSession(ctx context.Context, tx *sql.Tx, id string) error {
	var one int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM context_sessions WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return core.SessionNotFound(id)
	}
	if err != nil {
		return fmt.Errorf("lookup session %s: %w", id, err)
	}
	return nil
}

func touch(ctx context.Context, tx *sql.Tx, id string, now int64) error {
	if _, err := tx.ExecContext(ctx, `UPDATE context_sessions SET updated_at = ? WHERE id = ?`, now, id); err != nil {
		return fmt.Errorf("touch session %s: %w", id, err)
	}
	return nil
}

func encodeObject(m map[string]any) (sql.NullString, error) {
	if m == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

// decodeObject reads a JSON object column; invalid content reads as nil.
func decodeObject(raw sql.NullString) map[string]any {
	if !raw.Valid || !gjson.Valid(raw.String) {
		return nil
	}
	m, _ := gjson.Parse(raw.String).Value().(map[string]any)
	return m
}

func msTime(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

// CreateSession inserts a new session row.
func (s *Store) CreateSession(ctx context.Context, metadata map[string]any) (string, error) {
	md, err := encodeObject(metadata)
	if err != nil {
		return "", fmt.Errorf("encode session metadata: %w", err)
	}
	id := core.NewID()
	now := s.nowMs()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO context_sessions (id, owner_id, created_at, updated_at, metadata) VALUES (?, ?, ?, ?, ?)`,
		id, s.opts.OwnerID, now, now, md)
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	return id, nil
}

const sessionColumns = `id, owner_id, created_at, updated_at, metadata`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(r rowScanner) (core.Session, error) {
	var (
		sess             core.Session
		created, updated int64
		metadata         sql.NullString
	)
	if err := r.Scan(&sess.ID, &sess.OwnerID, &created, &updated, &metadata); err != nil {
		return core.Session{}, err
	}
	sess.CreatedAt = msTime(created)
	sess.UpdatedAt = msTime(updated)
	sess.Metadata = decodeObject(metadata)
	return sess, nil
}

// GetSession returns the session or core.ErrSessionNotFound.
func (s *Store) GetSession(ctx context.Context, id string) (*core.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM context_sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.SessionNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	return &sess, nil
}

// ListSessions returns the owner's sessions, most recently updated first.
func (s *Store) ListSessions(ctx context.Context, ownerID string) ([]core.Session, error) {
	if ownerID == "" {
		ownerID = s.opts.OwnerID
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM context_sessions WHERE owner_id = ? ORDER BY updated_at DESC, rowid DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []core.Session{}
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// DeleteSession removes the session row, its events and its memory in one
// transaction.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, stmt := range []string{
			`DELETE FROM context_events WHERE session_id = ?`,
			`DELETE FROM context_memory WHERE session_id = ?`,
			`DELETE FROM context_sessions WHERE id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
				return fmt.Errorf("delete session %s: %w", id, err)
			}
		}
		return nil
	})
}

// AppendEvents allocates sequence numbers and inserts the batch atomically.
func (s *Store) AppendEvents(ctx context.Context, sessionID string, events []core.Event) ([]core.Event, error) {
	if len(events) == 0 {
		return []core.Event{}, nil
	}
	stored := make([]core.Event, 0, len(events))
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := requireSession(ctx, tx, sessionID); err != nil {
			return err
		}
		var maxSeq int64
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(seq), -1) FROM context_events WHERE session_id = ?`, sessionID).Scan(&maxSeq); err != nil {
			return fmt.Errorf("read max seq: %w", err)
		}
		for i, ev := range events {
			bound := core.WithSeq(ev, sessionID, maxSeq+1+int64(i))
			row, err := core.Dehydrate(bound)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO context_events (id, session_id, seq, action, content, metadata, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
				row.ID, row.SessionID, row.Seq, row.Action, row.Content, row.Metadata, row.CreatedAt); err != nil {
				return fmt.Errorf("insert event %s: %w", row.ID, err)
			}
			stored = append(stored, bound)
		}
		return touch(ctx, tx, sessionID, s.nowMs())
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// LoadEvents filters and windows the session log. Unknown sessions yield an
// empty result.
func (s *Store) LoadEvents(ctx context.Context, sessionID string, opts core.LoadOptions) ([]core.Event, error) {
	var (
		where = []string{"session_id = ?"}
		args  = []any{sessionID}
	)
	if !opts.Since.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, opts.Since.UnixMilli())
	}
	if len(opts.Actions) > 0 {
		marks := make([]string, len(opts.Actions))
		for i, a := range opts.Actions {
			marks[i] = "?"
			args = append(args, string(a))
		}
		where = append(where, "action IN ("+strings.Join(marks, ", ")+")")
	}

	order := "ASC"
	if opts.Window == core.WindowTail {
		order = "DESC"
	}
	limit := opts.EffectiveLimit()
	if limit < 0 {
		limit = -1 // SQLite: no limit
	}
	args = append(args, limit)

	query := `SELECT id, session_id, seq, action, content, metadata, created_at FROM context_events WHERE ` +
		strings.Join(where, " AND ") + ` ORDER BY seq ` + order + ` LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var stored []core.StoredEvent
	for rows.Next() {
		var (
			row               core.StoredEvent
			content, metadata sql.NullString
		)
		if err := rows.Scan(&row.ID, &row.SessionID, &row.Seq, &row.Action, &content, &metadata, &row.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if content.Valid {
			row.Content = &content.String
		}
		if metadata.Valid {
			row.Metadata = &metadata.String
		}
		stored = append(stored, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	if order == "DESC" {
		slices.Reverse(stored)
	}
	return core.HydrateAll(stored)
}

// DeleteEvents removes the given event ids from the session log.
func (s *Store) DeleteEvents(ctx context.Context, sessionID string, eventIDs []string) error {
	if len(eventIDs) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, id := range eventIDs {
			if _, err := tx.ExecContext(ctx, `DELETE FROM context_events WHERE session_id = ? AND id = ?`, sessionID, id); err != nil {
				return fmt.Errorf("delete event %s: %w", id, err)
			}
		}
		return touch(ctx, tx, sessionID, s.nowMs())
	})
}

// UpsertMemory writes memory entries in one transaction. See
// core.MemoryTable for semantics.
func (s *Store) UpsertMemory(ctx context.Context, sessionID string, entries []core.MemoryInput, opts core.UpsertOptions) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := requireSession(ctx, tx, sessionID); err != nil {
			return err
		}
		now := s.nowMs()
		for _, in := range entries {
			key, value := strings.TrimSpace(in.Key), strings.TrimSpace(in.Value)
			if key == "" || value == "" {
				continue
			}
			if opts.ReplaceByKey {
				if _, err := tx.ExecContext(ctx,
					`DELETE FROM context_memory WHERE session_id = ? AND memory_key = ?`, sessionID, key); err != nil {
					return fmt.Errorf("replace memory %s: %w", key, err)
				}
			}
			md, err := encodeObject(in.Metadata)
			if err != nil {
				return fmt.Errorf("encode memory metadata: %w", err)
			}
			source := sql.NullString{String: in.Source, Valid: in.Source != ""}
			var score sql.NullFloat64
			if in.Score != nil {
				score = sql.NullFloat64{Float64: *in.Score, Valid: true}
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO context_memory (id, session_id, memory_key, memory_value, source, score, metadata, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT (session_id, memory_key, memory_value) DO UPDATE SET
					source = excluded.source,
					score = excluded.score,
					metadata = excluded.metadata,
					updated_at = excluded.updated_at`,
				core.NewID(), sessionID, key, value, source, score, md, now); err != nil {
				return fmt.Errorf("upsert memory %s: %w", key, err)
			}
		}
		return touch(ctx, tx, sessionID, now)
	})
}

// LoadMemory returns entries ordered by UpdatedAt descending.
func (s *Store) LoadMemory(ctx context.Context, sessionID string, q core.MemoryQuery) ([]core.MemoryEntry, error) {
	query := `SELECT id, session_id, memory_key, memory_value, source, score, metadata, updated_at FROM context_memory WHERE session_id = ?`
	args := []any{sessionID}
	if len(q.Keys) > 0 {
		marks := make([]string, len(q.Keys))
		for i, k := range q.Keys {
			marks[i] = "?"
			args = append(args, k)
		}
		query += ` AND memory_key IN (` + strings.Join(marks, ", ") + `)`
	}
	query += ` ORDER BY updated_at DESC, rowid DESC LIMIT ?`
	args = append(args, q.EffectiveLimit())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("load memory: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []core.MemoryEntry{}
	for rows.Next() {
		var (
			e                core.MemoryEntry
			source, metadata sql.NullString
			score            sql.NullFloat64
			updated          int64
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Key, &e.Value, &source, &score, &metadata, &updated); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		e.Source = source.String
		if score.Valid {
			f := score.Float64
			e.Score = &f
		}
		e.Metadata = decodeObject(metadata)
		e.UpdatedAt = msTime(updated)
		out = append(out, e)
	}
	return out, rows.Err()
}

// DeleteMemory removes the given keys, or all memory when none are given.
func (s *Store) DeleteMemory(ctx context.Context, sessionID string, keys ...string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if len(keys) == 0 {
			if _, err := tx.ExecContext(ctx, `DELETE FROM context_memory WHERE session_id = ?`, sessionID); err != nil {
				return fmt.Errorf("clear memory: %w", err)
			}
		}
		for _, k := range keys {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM context_memory WHERE session_id = ? AND memory_key = ?`, sessionID, k); err != nil {
				return fmt.Errorf("delete memory %s: %w", k, err)
			}
		}
		return touch(ctx, tx, sessionID, s.nowMs())
	})
}

// CompactSession runs session.Compact against this store. The summary is
// appended in its own transaction before the head is deleted in another.
func (s *Store) CompactSession(ctx context.Context, sessionID string, opts core.CompactOptions) (core.CompactResult, error) {
	return session.Compact(ctx, s, sessionID, opts)
}
