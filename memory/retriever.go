package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/hupe1980/agentctx/core"
)

// compile-time assertion
var _ core.MemoryRetriever = (*Retriever)(nil)

// RetrieverOptions configures a Retriever.
type RetrieverOptions struct {
	// Limit caps the number of snippets returned. Non-positive values use
	// DefaultRetrieverLimit.
	Limit int
	// Keys restricts retrieval to the given memory keys.
	Keys []string
	// Source labels snippets whose entry has no source. Defaults to "memory".
	Source string
	// FallbackToRecent returns the most recent entries when nothing matches
	// the latest user message. Defaults to true.
	FallbackToRecent bool
	// MinScore drops matches scoring below it (0..1).
	MinScore float64
}

// DefaultRetrieverLimit is the snippet cap used when RetrieverOptions.Limit is
// not positive.
const DefaultRetrieverLimit = 5

// Retriever ranks stored memory entries by keyword overlap with the latest
// user message. The score of an entry is the share of distinct query terms
// found in its key or value.
type Retriever struct {
	table core.MemoryTable
	opts  RetrieverOptions
}

// NewRetriever creates a Retriever reading from table.
func NewRetriever(table core.MemoryTable, optFns ...func(o *RetrieverOptions)) *Retriever {
	opts := RetrieverOptions{
		Limit:            DefaultRetrieverLimit,
		Source:           "memory",
		FallbackToRecent: true,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Limit <= 0 {
		opts.Limit = DefaultRetrieverLimit
	}
	return &Retriever{table: table, opts: opts}
}

// Retrieve implements core.MemoryRetriever.
func (r *Retriever) Retrieve(ctx context.Context, in core.RetrievalInput) ([]core.Snippet, error) {
	entries, err := r.table.LoadMemory(ctx, in.SessionID, core.MemoryQuery{Keys: r.opts.Keys})
	if err != nil {
		return nil, fmt.Errorf("load memory: %w", err)
	}
	if len(entries) == 0 {
		return []core.Snippet{}, nil
	}

	query := terms(in.LatestUserMessage)
	type ranked struct {
		entry core.MemoryEntry
		score float64
	}
	var hits []ranked
	if len(query) > 0 {
		for _, e := range entries {
			doc := terms(e.Key + " " + e.Value)
			matched := 0
			for t := range query {
				if _, ok := doc[t]; ok {
					matched++
				}
			}
			if matched == 0 {
				continue
			}
			score := float64(matched) / float64(len(query))
			if score < r.opts.MinScore {
				continue
			}
			hits = append(hits, ranked{entry: e, score: score})
		}
		// entries arrive most recent first; the stable sort keeps that as tie-break
		sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	}

	out := make([]core.Snippet, 0, r.opts.Limit)
	if len(hits) == 0 {
		if !r.opts.FallbackToRecent {
			return out, nil
		}
		for _, e := range entries {
			if len(out) == r.opts.Limit {
				break
			}
			out = append(out, r.snippet(e, e.Score))
		}
		return out, nil
	}
	for _, h := range hits {
		if len(out) == r.opts.Limit {
			break
		}
		score := h.score
		out = append(out, r.snippet(h.entry, &score))
	}
	return out, nil
}

func (r *Retriever) snippet(e core.MemoryEntry, score *float64) core.Snippet {
	source := e.Source
	if source == "" {
		source = r.opts.Source
	}
	return core.Snippet{
		ID:      e.ID,
		Content: e.Key + ": " + e.Value,
		Source:  source,
		Score:   score,
	}
}

var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "you": {}, "are": {}, "was": {}, "what": {},
	"with": {}, "this": {}, "that": {}, "have": {}, "from": {}, "about": {},
	"my": {}, "me": {}, "is": {}, "it": {}, "do": {}, "to": {}, "of": {}, "in": {},
	"a": {}, "an": {}, "i": {}, "on": {}, "at": {}, "be": {}, "can": {}, "where": {},
}

// terms splits text into distinct lower-case words, dropping stop words.
func terms(text string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if _, stop := stopWords[f]; stop {
			continue
		}
		out[f] = struct{}{}
	}
	return out
}
