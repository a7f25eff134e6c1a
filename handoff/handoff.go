// Package handoff derives reduced working contexts for delegating a turn to
// another agent.
package handoff

import (
	"maps"

	"github.com/hupe1980/agentctx/core"
)

// Include selects which source messages a handoff carries.
type Include string

const (
	IncludeNone       Include = "none"
	IncludeLatestTurn Include = "latest-turn"
	IncludeRecent     Include = "recent"
	IncludeFull       Include = "full"
	IncludeCustom     Include = "custom"
)

// DefaultRecentLimit is used by IncludeRecent when RecentLimit is not positive.
const DefaultRecentLimit = 8

// Selector picks messages for IncludeCustom.
type Selector func(messages []core.Message) []core.Message

// Options configures NewScopedContext.
type Options struct {
	// Include defaults to IncludeLatestTurn.
	Include Include
	// CustomSelector is used with IncludeCustom. Without it the full list is
	// carried.
	CustomSelector Selector
	RecentLimit    int
	// LatestUserPrompt becomes a new leading user message: the ask the
	// downstream agent answers.
	LatestUserPrompt string
	FromAgent        string
	ToAgent          string
	// RecastPriorAssistantAsUserContext rewrites selected assistant messages
	// as user messages quoting the upstream agent.
	RecastPriorAssistantAsUserContext bool
}

// NewScopedContext builds the context handed to the downstream agent. System
// instructions and traces are copied from source unchanged; messages are
// selected, optionally recast, and led by LatestUserPrompt when set.
func NewScopedContext(source *core.WorkingContext, opts Options) *core.WorkingContext {
	selected := selectMessages(source.Messages, opts)
	translated := translate(selected, opts)

	messages := make([]core.Message, 0, len(translated)+1)
	if opts.LatestUserPrompt != "" {
		md := map[string]any{core.MetaStable: false}
		if opts.FromAgent != "" {
			md[core.MetaSourceAgent] = opts.FromAgent
		}
		messages = append(messages, core.Message{Role: core.RoleUser, Content: opts.LatestUserPrompt, Metadata: md})
	}
	messages = append(messages, translated...)

	return core.NewWorkingContext(core.WorkingContextInit{
		Messages:                 messages,
		SystemInstructions:       source.SystemInstructions,
		StaticSystemInstructions: source.StaticSystemInstructions,
		Traces:                   source.Traces,
	})
}

func selectMessages(messages []core.Message, opts Options) []core.Message {
	include := opts.Include
	if include == "" {
		include = IncludeLatestTurn
	}
	switch include {
	case IncludeNone:
		return nil
	case IncludeLatestTurn:
		for i := len(messages) - 1; i >= 0; i-- {
			if messages[i].Role == core.RoleUser {
				return append([]core.Message{}, messages[i:]...)
			}
		}
		return nil
	case IncludeRecent:
		n := opts.RecentLimit
		if n <= 0 {
			n = DefaultRecentLimit
		}
		if n > len(messages) {
			n = len(messages)
		}
		return append([]core.Message{}, messages[len(messages)-n:]...)
	case IncludeCustom:
		if opts.CustomSelector != nil {
			return opts.CustomSelector(append([]core.Message{}, messages...))
		}
	}
	return append([]core.Message{}, messages...)
}

func translate(messages []core.Message, opts Options) []core.Message {
	if !opts.RecastPriorAssistantAsUserContext {
		return messages
	}
	from := opts.FromAgent
	if from == "" {
		from = "upstream agent"
	}
	out := make([]core.Message, len(messages))
	for i, m := range messages {
		if m.Role != core.RoleAssistant {
			out[i] = m
			continue
		}
		md := maps.Clone(m.Metadata)
		if md == nil {
			md = map[string]any{}
		}
		md[core.MetaSourceAgent] = opts.FromAgent
		out[i] = core.Message{
			Role:     core.RoleUser,
			Content:  "[For context from " + from + "] " + m.Content,
			Metadata: md,
		}
	}
	return out
}

// Note returns a handoff_note event recording the delegation in the source
// session, ready to append.
func Note(sessionID, content string, opts Options) core.HandoffNote {
	return core.HandoffNote{
		EventHeader: core.NewHeader(sessionID),
		Content:     content,
		FromAgent:   opts.FromAgent,
		ToAgent:     opts.ToAgent,
	}
}
