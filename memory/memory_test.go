package memory

import (
	"context"
	"testing"

	"github.com/hupe1980/agentctx/core"
	"github.com/hupe1980/agentctx/internal/testutil"
	"github.com/hupe1980/agentctx/session"
)

func seed(t *testing.T, facts ...core.MemoryInput) (*session.InMemoryStore, string) {
	t.Helper()
	store := session.NewInMemoryStore()
	id := testutil.NewSessionBuilder(store).Build(t)
	for _, f := range facts {
		// one call per fact so UpdatedAt ordering follows argument order
		if err := store.UpsertMemory(context.Background(), id, []core.MemoryInput{f}, core.UpsertOptions{}); err != nil {
			t.Fatalf("seed memory: %v", err)
		}
	}
	return store, id
}

func TestRetriever_RanksByOverlap(t *testing.T) {
	store, id := seed(t,
		core.MemoryInput{Key: "like", Value: "green tea"},
		core.MemoryInput{Key: "location", Value: "Berlin"},
		core.MemoryInput{Key: "pet", Value: "cat named Tea"},
	)
	r := NewRetriever(store)

	got, err := r.Retrieve(context.Background(), core.RetrievalInput{SessionID: id, LatestUserMessage: "What tea should I buy in Berlin?"})
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 snippets, got %d: %+v", len(got), got)
	}
	for _, s := range got {
		if s.Score == nil {
			t.Fatalf("expected score on %+v", s)
		}
		if s.Source != "memory" {
			t.Fatalf("expected default source, got %q", s.Source)
		}
	}
	// query terms: tea, should, buy, berlin -> each entry matches one term
	// so recency decides: pet (newest) first
	if got[0].Content != "pet: cat named Tea" {
		t.Fatalf("unexpected order: %+v", got)
	}
}

func TestRetriever_HigherOverlapWins(t *testing.T) {
	store, id := seed(t,
		core.MemoryInput{Key: "trip", Value: "Berlin in May"},
		core.MemoryInput{Key: "like", Value: "tea"},
	)
	r := NewRetriever(store, func(o *RetrieverOptions) { o.Limit = 1 })

	got, err := r.Retrieve(context.Background(), core.RetrievalInput{SessionID: id, LatestUserMessage: "Berlin trip plans"})
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(got) != 1 || got[0].Content != "trip: Berlin in May" {
		t.Fatalf("unexpected result: %+v", got)
	}
}

func TestRetriever_FallbackToRecent(t *testing.T) {
	store, id := seed(t,
		core.MemoryInput{Key: "a", Value: "one"},
		core.MemoryInput{Key: "b", Value: "two", Source: "import"},
	)

	got, err := NewRetriever(store).Retrieve(context.Background(), core.RetrievalInput{SessionID: id})
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(got) != 2 || got[0].Content != "b: two" || got[0].Source != "import" {
		t.Fatalf("expected most recent first: %+v", got)
	}

	strict := NewRetriever(store, func(o *RetrieverOptions) { o.FallbackToRecent = false })
	got, err = strict.Retrieve(context.Background(), core.RetrievalInput{SessionID: id, LatestUserMessage: "unrelated"})
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no snippets, got %+v", got)
	}
}

func TestRetriever_NonPositiveLimitUsesDefault(t *testing.T) {
	var facts []core.MemoryInput
	for _, k := range []string{"a", "b", "c", "d", "e", "f", "g"} {
		facts = append(facts, core.MemoryInput{Key: k, Value: "v"})
	}
	store, id := seed(t, facts...)

	for _, limit := range []int{0, -3} {
		r := NewRetriever(store, func(o *RetrieverOptions) { o.Limit = limit })
		got, err := r.Retrieve(context.Background(), core.RetrievalInput{SessionID: id})
		if err != nil {
			t.Fatalf("retrieve with limit %d: %v", limit, err)
		}
		if len(got) != DefaultRetrieverLimit {
			t.Errorf("limit %d: got %d snippets, want %d", limit, len(got), DefaultRetrieverLimit)
		}
	}
}

func TestFactsProvider_LoadAndSnippets(t *testing.T) {
	store, id := seed(t)
	p := NewFactsProvider(store)
	ctx := context.Background()

	err := p.Record(ctx, id, []core.MemoryInput{
		{Key: "location", Value: "Berlin"},
		{Key: "like", Value: "tea"},
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	err = p.Record(ctx, id, []core.MemoryInput{
		{Key: "location", Value: "London"},
		{Key: "like", Value: "chess"},
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	v, err := p.Load(ctx, core.RetrievalInput{SessionID: id})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	facts, ok := v.(Facts)
	if !ok {
		t.Fatalf("expected Facts, got %T", v)
	}
	if len(facts["location"]) != 1 || facts["location"][0] != "London" {
		t.Fatalf("canonical key not replaced: %+v", facts)
	}
	if len(facts["like"]) != 2 {
		t.Fatalf("repeatable key should keep both values: %+v", facts)
	}

	snippets, err := p.ToSnippets(ctx, core.SnippetInput{Memory: facts})
	if err != nil {
		t.Fatalf("to snippets: %v", err)
	}
	if len(snippets) != 2 || snippets[0].Content != "like: chess, tea" || snippets[1].Content != "location: London" {
		t.Fatalf("unexpected snippets: %+v", snippets)
	}
	if snippets[0].Source != "structured" {
		t.Fatalf("unexpected source %q", snippets[0].Source)
	}
}

func TestFactsProvider_ToSnippetsRejectsForeignValue(t *testing.T) {
	p := NewFactsProvider(session.NewInMemoryStore())
	if _, err := p.ToSnippets(context.Background(), core.SnippetInput{Memory: 42}); err == nil {
		t.Fatal("expected error for non-Facts memory")
	}
}
