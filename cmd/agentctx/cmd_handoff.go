package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hupe1980/agentctx/handoff"
)

func newHandoffCmd(opts *rootOptions) *cobra.Command {
	var (
		flags   compileFlags
		include string
		recent  int
		from    string
		to      string
		prompt  string
		note    string
		recast  bool
		format  string
	)

	cmd := &cobra.Command{
		Use:   "handoff <session-id>",
		Short: "Compile a session and print the scoped context for a delegate agent",
		Long: "Compile the session, then derive the context handed to another agent.\n" +
			"--include selects none, latest-turn, recent or full history. With --note a\n" +
			"handoff note event is recorded in the session.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode := handoff.Include(include)
			switch mode {
			case handoff.IncludeNone, handoff.IncludeLatestTurn, handoff.IncludeRecent, handoff.IncludeFull:
			default:
				return fmt.Errorf("unknown include mode %q", include)
			}

			return opts.withApp(cmd, func(ctx context.Context, a *app) error {
				compileOpts, err := flags.options(ctx, a, args[0])
				if err != nil {
					return err
				}
				source, err := a.engine.CompileWorkingContext(ctx, args[0], compileOpts)
				if err != nil {
					return err
				}

				scoped, err := a.engine.Handoff(ctx, args[0], source, note, handoff.Options{
					Include:                           mode,
					RecentLimit:                       recent,
					LatestUserPrompt:                  prompt,
					FromAgent:                         from,
					ToAgent:                           to,
					RecastPriorAssistantAsUserContext: recast,
				})
				if err != nil {
					return err
				}
				return renderContext(cmd, scoped, format, false)
			})
		},
	}

	flags.register(cmd)
	f := cmd.Flags()
	f.StringVar(&include, "include", string(handoff.IncludeRecent), "history to include: none, latest-turn, recent or full")
	f.IntVar(&recent, "recent", handoff.DefaultRecentLimit, "messages kept by --include recent")
	f.StringVar(&from, "from", "", "agent handing off")
	f.StringVar(&to, "to", "", "agent receiving the handoff")
	f.StringVar(&prompt, "prompt", "", "prompt prepended for the receiving agent")
	f.StringVar(&note, "note", "", "record a handoff note event with this content")
	f.BoolVar(&recast, "recast", false, "recast prior assistant messages as user context")
	f.StringVar(&format, "format", formatText, "output format: text, json, openai or anthropic")
	return cmd
}
