package model

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hupe1980/agentctx/core"
	"github.com/hupe1980/agentctx/internal/util"
)

// MetaCompactedEventCount is the summary metadata key holding the number of
// summarized events.
const MetaCompactedEventCount = "compactedEventCount"

// DefaultSummarySystem is the system prompt of Summarizer.
const DefaultSummarySystem = "You condense conversation history for an AI agent. Keep facts, decisions, open tasks and user preferences. Drop small talk."

// SummaryPrompt is the default summarization template. It receives
// SessionID, Count and Transcript.
const SummaryPrompt = `Summarize the following {{.Count}} events of session {{.SessionID}}.
Write a compact summary that lets the agent continue the conversation without the original events.

Transcript:
{{.Transcript}}`

// Transcript renders events one per line as "role: content". Tool calls are
// listed with their encoded arguments; events without a chat form are shown
// by action.
func Transcript(events []core.Event) string {
	var b strings.Builder
	for _, e := range events {
		if si, ok := e.(core.SystemInstruction); ok {
			fmt.Fprintf(&b, "system: %s\n", si.Content)
			continue
		}
		m, ok := core.EventToMessage(e)
		if !ok {
			fmt.Fprintf(&b, "%s\n", e.Action())
			continue
		}
		b.WriteString(string(m.Role))
		b.WriteString(": ")
		b.WriteString(m.Content)
		for _, c := range EncodeToolCalls(m.ToolCalls) {
			fmt.Fprintf(&b, " [call %s(%s)]", c.Function.Name, c.Function.Arguments)
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

// SummarizerOptions configures Summarizer.
type SummarizerOptions struct {
	// System is the system prompt. Defaults to DefaultSummarySystem.
	System string
	// Template is a text/template rendered with SessionID, Count and
	// Transcript. Defaults to SummaryPrompt.
	Template string
	// Metadata is merged into every summary's metadata.
	Metadata map[string]any
}

// Summarizer is a core.Summarizer backed by a model Completer.
type Summarizer struct {
	completer Completer
	opts      SummarizerOptions
}

// NewSummarizer creates a model backed summarizer.
func NewSummarizer(completer Completer, optFns ...func(o *SummarizerOptions)) *Summarizer {
	opts := SummarizerOptions{
		System:   DefaultSummarySystem,
		Template: SummaryPrompt,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Summarizer{completer: completer, opts: opts}
}

// Prompt renders the summarization prompt for in.
func (s *Summarizer) Prompt(in core.SummarizeInput) (string, error) {
	return util.RenderTemplate(s.opts.Template, map[string]any{
		"SessionID":  in.SessionID,
		"Count":      len(in.Events),
		"Transcript": Transcript(in.Events),
	})
}

// Summarize implements core.Summarizer.
func (s *Summarizer) Summarize(ctx context.Context, in core.SummarizeInput) (core.Summary, error) {
	prompt, err := s.Prompt(in)
	if err != nil {
		return core.Summary{}, err
	}
	content, err := s.completer.Complete(ctx, s.opts.System, prompt)
	if err != nil {
		return core.Summary{}, fmt.Errorf("summarize: %w", err)
	}
	md := make(map[string]any, len(s.opts.Metadata)+1)
	for k, v := range s.opts.Metadata {
		md[k] = v
	}
	md[MetaCompactedEventCount] = len(in.Events)
	return core.Summary{Content: strings.TrimSpace(content), Metadata: md}, nil
}

// DefaultPreviewSize is the number of trailing events quoted by PreviewSummarizer.
const DefaultPreviewSize = 6

// PreviewSummarizer summarizes without a model by quoting the content of the
// last few compacted events.
type PreviewSummarizer struct {
	size int
}

// NewPreviewSummarizer creates a preview summarizer quoting size events;
// size <= 0 uses DefaultPreviewSize.
func NewPreviewSummarizer(size int) *PreviewSummarizer {
	if size <= 0 {
		size = DefaultPreviewSize
	}
	return &PreviewSummarizer{size: size}
}

// Summarize implements core.Summarizer.
func (p *PreviewSummarizer) Summarize(_ context.Context, in core.SummarizeInput) (core.Summary, error) {
	tail := in.Events
	if len(tail) > p.size {
		tail = tail[len(tail)-p.size:]
	}
	parts := make([]string, len(tail))
	for i, e := range tail {
		parts[i] = eventText(e)
	}
	return core.Summary{
		Content:  fmt.Sprintf("Compacted %d events. Recent summary: %s", len(in.Events), strings.Join(parts, " | ")),
		Metadata: map[string]any{MetaCompactedEventCount: len(in.Events)},
	}, nil
}

func eventText(e core.Event) string {
	var content string
	switch ev := e.(type) {
	case core.UserMessage:
		content = ev.Content
	case core.AgentMessage:
		content = ev.Content
	case core.ToolCallRequest:
		content = ev.Content
	case core.ToolResult:
		content = ev.Content
		if content == "" && ev.Output != nil {
			if b, err := json.Marshal(ev.Output); err == nil {
				content = string(b)
			}
		}
	case core.SystemInstruction:
		content = ev.Content
	case core.Compaction:
		content = ev.Content
	case core.MemorySnippet:
		content = ev.Content
	case core.ArtifactRef:
		content = ev.Content
	case core.HandoffNote:
		content = ev.Content
	}
	if content == "" {
		return string(e.Action())
	}
	return content
}
