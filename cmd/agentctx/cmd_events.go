package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hupe1980/agentctx/core"
)

// eventRow is the JSON shape printed by events --json.
type eventRow struct {
	ID        string          `json:"id"`
	Seq       int64           `json:"seq"`
	Action    string          `json:"action"`
	Content   *string         `json:"content,omitempty"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

func newEventsCmd(opts *rootOptions) *cobra.Command {
	var (
		limit   int
		head    bool
		actions []string
		since   string
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "events <session-id>",
		Short: "List a session's events in sequence order",
		Long: "List a session's events. By default the most recent 50 are shown;\n" +
			"--limit -1 lists all, --head reads from the start of the log.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			load := core.LoadOptions{Limit: limit}
			if head {
				load.Window = core.WindowHead
			}
			for _, s := range actions {
				action, err := core.ParseAction(s)
				if err != nil {
					return err
				}
				load.Actions = append(load.Actions, action)
			}
			if since != "" {
				t, err := time.Parse(time.RFC3339, since)
				if err != nil {
					return fmt.Errorf("invalid --since: %w", err)
				}
				load.Since = t
			}

			return opts.withApp(cmd, func(ctx context.Context, a *app) error {
				events, err := a.store.LoadEvents(ctx, args[0], load)
				if err != nil {
					return fmt.Errorf("load events: %w", err)
				}

				rows := make([]eventRow, 0, len(events))
				for _, e := range events {
					stored, err := core.Dehydrate(e)
					if err != nil {
						return err
					}
					row := eventRow{
						ID:        stored.ID,
						Seq:       stored.Seq,
						Action:    stored.Action,
						Content:   stored.Content,
						CreatedAt: time.UnixMilli(stored.CreatedAt).UTC(),
					}
					if stored.Metadata != nil {
						row.Metadata = json.RawMessage(*stored.Metadata)
					}
					rows = append(rows, row)
				}

				if asJSON {
					return writeJSON(cmd, rows)
				}
				if len(rows) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No events.")
					return nil
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "SEQ\tACTION\tCONTENT")
				for _, r := range rows {
					content := ""
					if r.Content != nil {
						content = oneLine(*r.Content)
					}
					fmt.Fprintf(w, "%d\t%s\t%s\n", r.Seq, r.Action, content)
				}
				return w.Flush()
			})
		},
	}

	f := cmd.Flags()
	f.IntVar(&limit, "limit", 0, "maximum number of events (0 uses the default, negative means all)")
	f.BoolVar(&head, "head", false, "read from the start of the log instead of the end")
	f.StringArrayVar(&actions, "action", nil, "only include this action (repeatable)")
	f.StringVar(&since, "since", "", "only include events at or after this RFC3339 time")
	f.BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newAppendCmd(opts *rootOptions) *cobra.Command {
	var (
		role       string
		content    string
		stable     bool
		name       string
		toolCallID string
		meta       []string
	)

	cmd := &cobra.Command{
		Use:   "append <session-id>",
		Short: "Append a message to a session",
		Long: "Append one message to a session. The role decides the event action:\n" +
			"user, assistant, tool (tool_result) or system (system_instruction).",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r := core.Role(strings.ToLower(role))
			switch r {
			case core.RoleUser, core.RoleAssistant, core.RoleTool, core.RoleSystem:
			default:
				return fmt.Errorf("unknown role %q", role)
			}
			if content == "" {
				return fmt.Errorf("--content is required")
			}

			metadata, err := parseKeyValues(meta)
			if err != nil {
				return err
			}
			if stable {
				if metadata == nil {
					metadata = map[string]any{}
				}
				metadata[core.MetaStable] = true
			}

			return opts.withApp(cmd, func(ctx context.Context, a *app) error {
				wc := core.NewWorkingContext(core.WorkingContextInit{})
				wc.AddMessage(core.Message{
					Role:       r,
					Content:    content,
					Name:       name,
					ToolCallID: toolCallID,
					Metadata:   metadata,
				})

				persisted, err := a.engine.PersistWorkingContext(ctx, args[0], wc)
				if err != nil {
					return err
				}
				for _, e := range persisted {
					fmt.Fprintf(cmd.OutOrStdout(), "Appended %s (seq=%d)\n", e.Action(), e.Header().Seq)
				}
				return nil
			})
		},
	}

	f := cmd.Flags()
	f.StringVar(&role, "role", string(core.RoleUser), "message role: user, assistant, tool or system")
	f.StringVar(&content, "content", "", "message content")
	f.BoolVar(&stable, "stable", false, "mark the message as part of the stable prefix")
	f.StringVar(&name, "name", "", "tool name for tool messages")
	f.StringVar(&toolCallID, "tool-call-id", "", "tool call id for tool messages")
	f.StringArrayVar(&meta, "meta", nil, "message metadata as key=value (repeatable)")
	return cmd
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
