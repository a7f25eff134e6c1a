// Package session houses concrete implementations of core.SessionStore and
// the compaction algorithm they share.
//
// InMemoryStore keeps everything in process memory and is suited for tests
// and ephemeral hosts. Durable backends live in sub-packages (see
// session/sqlite) and reuse Compact so every backend summarizes, appends and
// deletes in the same order.
package session
