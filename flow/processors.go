package flow

import (
	"context"
	"fmt"
	"slices"
	"unicode/utf8"

	"github.com/hupe1980/agentctx/core"
)

// Processor names as recorded in traces.
const (
	NameSelectTailEvents = "select-tail-events"
	NameEventToMessage   = "event-to-message"
	NameStructuredMemory = "structured-memory"
	NameMemoryRetrieval  = "memory-retrieval"
	NameArtifactResolver = "artifact-resolver"
	NameStablePrefix     = "stable-prefix"
	NameTokenBudget      = "token-budget"
)

// Message metadata keys set by the injection steps.
const (
	MetaSource          = "source"
	MetaScore           = "score"
	MetaMemoryID        = "memoryId"
	MetaArtifactName    = "artifactName"
	MetaArtifactVersion = "artifactVersion"
	MetaEphemeral       = "ephemeral"
)

func retrievalInput(state State) core.RetrievalInput {
	latest, _ := core.LatestUserMessage(state.Events)
	return core.RetrievalInput{
		SessionID:         state.SessionID,
		LatestUserMessage: latest,
		Messages:          append([]core.Message{}, state.Messages...),
	}
}

func prepend(injected, messages []core.Message) []core.Message {
	out := make([]core.Message, 0, len(injected)+len(messages))
	out = append(out, injected...)
	return append(out, messages...)
}

// SelectTailEventsProcessor keeps only the most recent events.
type SelectTailEventsProcessor struct {
	limit int
}

// NewSelectTailEventsProcessor creates a tail selector. A zero limit uses
// core.DefaultLoadLimit; a negative limit keeps every event.
func NewSelectTailEventsProcessor(limit int) *SelectTailEventsProcessor {
	if limit == 0 {
		limit = core.DefaultLoadLimit
	}
	return &SelectTailEventsProcessor{limit: limit}
}

// Name returns the processor's identifier.
func (p *SelectTailEventsProcessor) Name() string { return NameSelectTailEvents }

// Process keeps the last limit events when there are more.
func (p *SelectTailEventsProcessor) Process(_ context.Context, state State) (State, error) {
	if p.limit < 0 || len(state.Events) <= p.limit {
		return state, nil
	}
	state.Events = append([]core.Event{}, state.Events[len(state.Events)-p.limit:]...)
	return state, nil
}

// EventToMessageProcessor replaces the message list with the mapped events.
type EventToMessageProcessor struct {
	mapper core.EventMapper
}

// NewEventToMessageProcessor creates the mapping step. A nil mapper uses
// core.EventToMessage.
func NewEventToMessageProcessor(mapper core.EventMapper) *EventToMessageProcessor {
	if mapper == nil {
		mapper = core.EventToMessage
	}
	return &EventToMessageProcessor{mapper: mapper}
}

// Name returns the processor's identifier.
func (p *EventToMessageProcessor) Name() string { return NameEventToMessage }

// Process maps every event, dropping those without a message.
func (p *EventToMessageProcessor) Process(_ context.Context, state State) (State, error) {
	messages := make([]core.Message, 0, len(state.Events))
	for _, ev := range state.Events {
		if m, ok := p.mapper(ev); ok {
			messages = append(messages, m)
		}
	}
	state.Messages = messages
	return state, nil
}

func snippetMessage(s core.Snippet, defaultSource string) core.Message {
	source := s.Source
	if source == "" {
		source = defaultSource
	}
	md := map[string]any{core.MetaStable: true}
	if s.Source != "" {
		md[MetaSource] = s.Source
	}
	if s.Score != nil {
		md[MetaScore] = *s.Score
	}
	if s.ID != "" {
		md[MetaMemoryID] = s.ID
	}
	return core.Message{
		Role:     core.RoleSystem,
		Content:  fmt.Sprintf("[Memory:%s] %s", source, s.Content),
		Metadata: md,
	}
}

// StructuredMemoryProcessor loads structured memory into the state metadata
// and, when the provider implements core.SnippetConverter, prepends it as
// stable system messages.
type StructuredMemoryProcessor struct {
	provider core.StructuredMemoryProvider
}

// NewStructuredMemoryProcessor creates the structured memory step.
func NewStructuredMemoryProcessor(provider core.StructuredMemoryProvider) *StructuredMemoryProcessor {
	return &StructuredMemoryProcessor{provider: provider}
}

// Name returns the processor's identifier.
func (p *StructuredMemoryProcessor) Name() string { return NameStructuredMemory }

// Process calls the provider and injects its snippets.
func (p *StructuredMemoryProcessor) Process(ctx context.Context, state State) (State, error) {
	in := retrievalInput(state)
	memory, err := p.provider.Load(ctx, in)
	if err != nil {
		return State{}, &core.CollaboratorError{Step: NameStructuredMemory, Err: err}
	}

	md := make(map[string]any, len(state.Metadata)+1)
	for k, v := range state.Metadata {
		md[k] = v
	}
	md[MetaStructuredMemory] = memory
	state.Metadata = md

	converter, ok := p.provider.(core.SnippetConverter)
	if !ok {
		return state, nil
	}
	snippets, err := converter.ToSnippets(ctx, core.SnippetInput{Memory: memory, RetrievalInput: in})
	if err != nil {
		return State{}, &core.CollaboratorError{Step: NameStructuredMemory, Err: err}
	}
	if len(snippets) == 0 {
		return state, nil
	}
	injected := make([]core.Message, 0, len(snippets))
	for _, s := range snippets {
		injected = append(injected, snippetMessage(s, "structured"))
	}
	state.Messages = prepend(injected, state.Messages)
	return state, nil
}

// MemoryRetrievalProcessor prepends retrieved memory as stable system messages.
type MemoryRetrievalProcessor struct {
	retriever core.MemoryRetriever
}

// NewMemoryRetrievalProcessor creates the memory retrieval step.
func NewMemoryRetrievalProcessor(retriever core.MemoryRetriever) *MemoryRetrievalProcessor {
	return &MemoryRetrievalProcessor{retriever: retriever}
}

// Name returns the processor's identifier.
func (p *MemoryRetrievalProcessor) Name() string { return NameMemoryRetrieval }

// Process calls the retriever and injects its snippets.
func (p *MemoryRetrievalProcessor) Process(ctx context.Context, state State) (State, error) {
	snippets, err := p.retriever.Retrieve(ctx, retrievalInput(state))
	if err != nil {
		return State{}, &core.CollaboratorError{Step: NameMemoryRetrieval, Err: err}
	}
	if len(snippets) == 0 {
		return state, nil
	}
	injected := make([]core.Message, 0, len(snippets))
	for _, s := range snippets {
		injected = append(injected, snippetMessage(s, "memory"))
	}
	state.Messages = prepend(injected, state.Messages)
	return state, nil
}

// ArtifactResolverProcessor prepends resolved artifact handles as system
// messages; ephemeral handles are not stable.
type ArtifactResolverProcessor struct {
	resolver core.ArtifactResolver
}

// NewArtifactResolverProcessor creates the artifact resolution step.
func NewArtifactResolverProcessor(resolver core.ArtifactResolver) *ArtifactResolverProcessor {
	return &ArtifactResolverProcessor{resolver: resolver}
}

// Name returns the processor's identifier.
func (p *ArtifactResolverProcessor) Name() string { return NameArtifactResolver }

// Process calls the resolver and injects one message per handle.
func (p *ArtifactResolverProcessor) Process(ctx context.Context, state State) (State, error) {
	handles, err := p.resolver.Resolve(ctx, retrievalInput(state))
	if err != nil {
		return State{}, &core.CollaboratorError{Step: NameArtifactResolver, Err: err}
	}
	if len(handles) == 0 {
		return state, nil
	}
	injected := make([]core.Message, 0, len(handles))
	for _, h := range handles {
		label := h.Name
		if h.Version != "" {
			label += "@" + h.Version
		}
		md := map[string]any{
			core.MetaStable:  !h.Ephemeral,
			MetaArtifactName: h.Name,
			MetaEphemeral:    h.Ephemeral,
		}
		if h.Version != "" {
			md[MetaArtifactVersion] = h.Version
		}
		injected = append(injected, core.Message{
			Role:     core.RoleSystem,
			Content:  fmt.Sprintf("[Artifact %s] %s", label, h.Summary),
			Metadata: md,
		})
	}
	state.Messages = prepend(injected, state.Messages)
	return state, nil
}

// StablePrefixProcessor moves stable messages ahead of dynamic ones,
// preserving relative order within each group.
type StablePrefixProcessor struct{}

// NewStablePrefixProcessor creates the stable prefix step.
func NewStablePrefixProcessor() *StablePrefixProcessor { return &StablePrefixProcessor{} }

// Name returns the processor's identifier.
func (p *StablePrefixProcessor) Name() string { return NameStablePrefix }

// Process partitions the messages.
func (p *StablePrefixProcessor) Process(_ context.Context, state State) (State, error) {
	stable := make([]core.Message, 0, len(state.Messages))
	var dynamic []core.Message
	for _, m := range state.Messages {
		if m.IsStable() {
			stable = append(stable, m)
		} else {
			dynamic = append(dynamic, m)
		}
	}
	state.Messages = append(stable, dynamic...)
	return state, nil
}

// TokenEstimator returns the estimated token cost of a text.
type TokenEstimator func(text string) int

// EstimateTokens approximates tokens as one per four characters, rounded up.
func EstimateTokens(text string) int {
	return (utf8.RuneCountInString(text) + 3) / 4
}

// TokenBudgetProcessor drops older messages that do not fit a token budget.
type TokenBudgetProcessor struct {
	maxTokens int
	estimate  TokenEstimator
}

// NewTokenBudgetProcessor creates the budget step. A nil estimator uses
// EstimateTokens; maxTokens <= 0 disables trimming.
func NewTokenBudgetProcessor(maxTokens int, estimate TokenEstimator) *TokenBudgetProcessor {
	if estimate == nil {
		estimate = EstimateTokens
	}
	return &TokenBudgetProcessor{maxTokens: maxTokens, estimate: estimate}
}

// Name returns the processor's identifier.
func (p *TokenBudgetProcessor) Name() string { return NameTokenBudget }

// Process starts from the cost of the system instructions, walks messages
// from newest to oldest keeping each one that still fits, and returns the
// kept messages in chronological order. Messages that do not fit are skipped,
// so a smaller older message may still be kept after a large newer one.
func (p *TokenBudgetProcessor) Process(_ context.Context, state State) (State, error) {
	if p.maxTokens <= 0 {
		return state, nil
	}
	used := 0
	for _, s := range state.StaticSystemInstructions {
		used += p.estimate(s)
	}
	for _, s := range state.SystemInstructions {
		used += p.estimate(s)
	}

	kept := make([]core.Message, 0, len(state.Messages))
	for i := len(state.Messages) - 1; i >= 0; i-- {
		m := state.Messages[i]
		cost := p.estimate(m.Content)
		if used+cost > p.maxTokens {
			continue
		}
		kept = append(kept, m)
		used += cost
	}
	slices.Reverse(kept)
	state.Messages = kept
	return state, nil
}
