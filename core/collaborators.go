package core

import "context"

// SummarizeInput is handed to a Summarizer: the compactable head of a session.
type SummarizeInput struct {
	SessionID string
	Events    []Event
}

// Summary is the result of summarizing compacted events.
type Summary struct {
	Content  string
	Metadata map[string]any
}

// Summarizer condenses the oldest events of a session during compaction.
type Summarizer interface {
	Summarize(ctx context.Context, in SummarizeInput) (Summary, error)
}

// SummarizerFunc adapts a plain function to Summarizer.
type SummarizerFunc func(ctx context.Context, in SummarizeInput) (Summary, error)

// Summarize implements Summarizer.
func (f SummarizerFunc) Summarize(ctx context.Context, in SummarizeInput) (Summary, error) {
	return f(ctx, in)
}

// RetrievalInput is passed to retrieval style collaborators. LatestUserMessage
// is empty when the events contain no user turn.
type RetrievalInput struct {
	SessionID         string
	LatestUserMessage string
	Messages          []Message
}

// Snippet is a retrieved piece of memory to inject.
type Snippet struct {
	ID      string
	Content string
	Source  string
	Score   *float64
}

// MemoryRetriever fetches memory relevant to the current turn.
type MemoryRetriever interface {
	Retrieve(ctx context.Context, in RetrievalInput) ([]Snippet, error)
}

// StructuredMemoryProvider loads an arbitrary memory value for the turn. The
// value is exposed to later steps under the "structuredMemory" state key.
type StructuredMemoryProvider interface {
	Load(ctx context.Context, in RetrievalInput) (any, error)
}

// SnippetInput is passed to SnippetConverter.ToSnippets.
type SnippetInput struct {
	Memory any
	RetrievalInput
}

// SnippetConverter is optionally implemented by a StructuredMemoryProvider to
// turn its loaded value into injectable snippets.
type SnippetConverter interface {
	ToSnippets(ctx context.Context, in SnippetInput) ([]Snippet, error)
}

// ArtifactHandle describes an artifact the model should know about.
type ArtifactHandle struct {
	Name      string
	Version   string
	Summary   string
	Ephemeral bool
}

// ArtifactResolver selects artifacts relevant to the current turn.
type ArtifactResolver interface {
	Resolve(ctx context.Context, in RetrievalInput) ([]ArtifactHandle, error)
}
