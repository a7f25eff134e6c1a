package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/agentctx/core"
)

// ErrNoSummarizer is returned by Compact when CompactOptions.Summarizer is nil.
var ErrNoSummarizer = errors.New("compaction requires a summarizer")

// Compact replaces the oldest events of a session with one compaction event.
//
// It loads the whole log in ascending order and keeps the newest
// KeepTailEvents untouched. The head before them is handed to the summarizer;
// the summary is appended as a compaction event covering the head's sequence
// range, and only then, when DeleteCompactedEvents is set, the head is
// deleted. A crash between the two writes leaves both the originals and the
// summary, never neither.
//
// A zero KeepTailEvents uses core.DefaultKeepTailEvents and a negative one
// compacts the whole log. Sessions with no more than KeepTailEvents events are
// reported with Compacted=false and no error.
func Compact(ctx context.Context, store core.EventLog, sessionID string, opts core.CompactOptions) (core.CompactResult, error) {
	if opts.Summarizer == nil {
		return core.CompactResult{}, ErrNoSummarizer
	}
	keep := opts.KeepTailEvents
	switch {
	case keep == 0:
		keep = core.DefaultKeepTailEvents
	case keep < 0:
		keep = 0
	}

	events, err := store.LoadEvents(ctx, sessionID, core.LoadOptions{Limit: -1, Window: core.WindowHead})
	if err != nil {
		return core.CompactResult{}, fmt.Errorf("load events for compaction: %w", err)
	}
	if len(events) <= keep {
		return core.CompactResult{}, nil
	}

	head := events[:len(events)-keep]
	summary, err := opts.Summarizer.Summarize(ctx, core.SummarizeInput{SessionID: sessionID, Events: head})
	if err != nil {
		return core.CompactResult{}, &core.CollaboratorError{Step: "compaction", Err: err}
	}

	compaction := core.Compaction{
		EventHeader:      core.NewHeader(sessionID),
		Content:          summary.Content,
		ReplacesSeqRange: &core.SeqRange{head[0].Header().Seq, head[len(head)-1].Header().Seq},
		Metadata:         summary.Metadata,
	}
	stored, err := store.AppendEvents(ctx, sessionID, []core.Event{compaction})
	if err != nil {
		return core.CompactResult{}, fmt.Errorf("append compaction event: %w", err)
	}
	if c, ok := stored[0].(core.Compaction); ok {
		compaction = c
	}

	if opts.DeleteCompactedEvents {
		ids := make([]string, len(head))
		for i, ev := range head {
			ids[i] = ev.Header().ID
		}
		if err := store.DeleteEvents(ctx, sessionID, ids); err != nil {
			return core.CompactResult{}, fmt.Errorf("delete compacted events: %w", err)
		}
	}

	return core.CompactResult{Compacted: true, Event: compaction, CompactedCount: len(head)}, nil
}
