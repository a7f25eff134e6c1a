package flow

import "github.com/hupe1980/agentctx/core"

// MemoryOrder decides the relative order of the two memory steps.
type MemoryOrder int

const (
	// MemoryOrderStructuredFirst runs structured memory, then retrieval. The
	// retrieved block therefore ends up ahead of the structured block.
	MemoryOrderStructuredFirst MemoryOrder = iota
	// MemoryOrderRetrievalFirst runs retrieval, then structured memory.
	MemoryOrderRetrievalFirst
)

// Options selects the default processors. Optional steps are added only when
// their collaborator is configured.
type Options struct {
	// Limit bounds select-tail-events. Zero uses core.DefaultLoadLimit and a
	// negative value disables the bound.
	Limit int
	// Mapper overrides core.EventToMessage.
	Mapper core.EventMapper

	StructuredMemory core.StructuredMemoryProvider
	Retriever        core.MemoryRetriever
	Resolver         core.ArtifactResolver
	MemoryOrder      MemoryOrder

	// MaxTokenEstimate enables token-budget when positive.
	MaxTokenEstimate int
	// Estimator overrides EstimateTokens.
	Estimator TokenEstimator
}

// DefaultProcessors assembles the standard pipeline:
//
//	select-tail-events, event-to-message, [structured-memory], [memory-retrieval],
//	[artifact-resolver], stable-prefix, [token-budget]
func DefaultProcessors(opts Options) []Processor {
	processors := []Processor{
		NewSelectTailEventsProcessor(opts.Limit),
		NewEventToMessageProcessor(opts.Mapper),
	}

	var structured, retrieval Processor
	if opts.StructuredMemory != nil {
		structured = NewStructuredMemoryProcessor(opts.StructuredMemory)
	}
	if opts.Retriever != nil {
		retrieval = NewMemoryRetrievalProcessor(opts.Retriever)
	}
	memorySteps := []Processor{structured, retrieval}
	if opts.MemoryOrder == MemoryOrderRetrievalFirst {
		memorySteps = []Processor{retrieval, structured}
	}
	for _, p := range memorySteps {
		if p != nil {
			processors = append(processors, p)
		}
	}

	if opts.Resolver != nil {
		processors = append(processors, NewArtifactResolverProcessor(opts.Resolver))
	}
	processors = append(processors, NewStablePrefixProcessor())
	if opts.MaxTokenEstimate > 0 {
		processors = append(processors, NewTokenBudgetProcessor(opts.MaxTokenEstimate, opts.Estimator))
	}
	return processors
}

// Names returns the processor names in order.
func Names(processors []Processor) []string {
	out := make([]string, len(processors))
	for i, p := range processors {
		out[i] = p.Name()
	}
	return out
}
