package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/hupe1980/agentctx/core"
)

// compile-time assertions
var (
	_ core.StructuredMemoryProvider = (*FactsProvider)(nil)
	_ core.SnippetConverter         = (*FactsProvider)(nil)
)

// Facts maps a memory key to its values, most recently updated first.
type Facts map[string][]string

// FactsProviderOptions configures a FactsProvider.
type FactsProviderOptions struct {
	// CanonicalKeys hold a single value; Record replaces them instead of
	// adding another value. Defaults to name, location and timezone.
	CanonicalKeys []string
	// Keys restricts which keys Load returns. Empty means all.
	Keys []string
	// Limit caps how many entries Load reads. Zero uses the store default.
	Limit int
	// Source labels produced snippets. Defaults to "structured".
	Source string
}

// FactsProvider exposes a session's memory table as structured facts.
type FactsProvider struct {
	table core.MemoryTable
	opts  FactsProviderOptions
}

// NewFactsProvider creates a FactsProvider over table.
func NewFactsProvider(table core.MemoryTable, optFns ...func(o *FactsProviderOptions)) *FactsProvider {
	opts := FactsProviderOptions{
		CanonicalKeys: []string{"name", "location", "timezone"},
		Source:        "structured",
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &FactsProvider{table: table, opts: opts}
}

// Load implements core.StructuredMemoryProvider. The returned value is Facts.
func (p *FactsProvider) Load(ctx context.Context, in core.RetrievalInput) (any, error) {
	entries, err := p.table.LoadMemory(ctx, in.SessionID, core.MemoryQuery{Limit: p.opts.Limit, Keys: p.opts.Keys})
	if err != nil {
		return nil, fmt.Errorf("load facts: %w", err)
	}
	facts := Facts{}
	for _, e := range entries {
		facts[e.Key] = append(facts[e.Key], e.Value)
	}
	return facts, nil
}

// ToSnippets implements core.SnippetConverter, producing one snippet per key
// in key order.
func (p *FactsProvider) ToSnippets(_ context.Context, in core.SnippetInput) ([]core.Snippet, error) {
	facts, ok := in.Memory.(Facts)
	if !ok {
		return nil, fmt.Errorf("unexpected structured memory type %T", in.Memory)
	}
	keys := make([]string, 0, len(facts))
	for k := range facts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]core.Snippet, 0, len(keys))
	for _, k := range keys {
		out = append(out, core.Snippet{
			ID:      "fact:" + k,
			Content: k + ": " + strings.Join(facts[k], ", "),
			Source:  p.opts.Source,
		})
	}
	return out, nil
}

// Record writes facts, replacing canonical keys and appending repeatable
// ones. Canonical and repeatable writes are separate store calls.
func (p *FactsProvider) Record(ctx context.Context, sessionID string, facts []core.MemoryInput) error {
	var canonical, repeatable []core.MemoryInput
	for _, f := range facts {
		if slices.Contains(p.opts.CanonicalKeys, strings.TrimSpace(f.Key)) {
			canonical = append(canonical, f)
		} else {
			repeatable = append(repeatable, f)
		}
	}
	if len(canonical) > 0 {
		if err := p.table.UpsertMemory(ctx, sessionID, canonical, core.UpsertOptions{ReplaceByKey: true}); err != nil {
			return err
		}
	}
	if len(repeatable) > 0 {
		if err := p.table.UpsertMemory(ctx, sessionID, repeatable, core.UpsertOptions{}); err != nil {
			return err
		}
	}
	return nil
}
