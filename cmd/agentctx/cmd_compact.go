package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hupe1980/agentctx/core"
)

func newCompactCmd(opts *rootOptions) *cobra.Command {
	var (
		keep   int
		remove bool
	)

	cmd := &cobra.Command{
		Use:   "compact <session-id>",
		Short: "Summarize older events into a compaction event",
		Long: "Summarize every event except the most recent --keep into one compaction\n" +
			"event using the configured summarizer. With --delete the summarized events\n" +
			"are removed afterwards.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app) error {
				compactOpts := core.CompactOptions{
					KeepTailEvents:        a.cfg.Compaction.KeepTail,
					DeleteCompactedEvents: a.cfg.Compaction.Delete,
				}
				if cmd.Flags().Changed("keep") {
					compactOpts.KeepTailEvents = keep
				}
				if cmd.Flags().Changed("delete") {
					compactOpts.DeleteCompactedEvents = remove
				}

				res, err := a.engine.Compact(ctx, args[0], compactOpts)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if !res.Compacted {
					fmt.Fprintln(out, "Nothing to compact.")
					return nil
				}
				if r := res.Event.ReplacesSeqRange; r != nil {
					fmt.Fprintf(out, "Compacted %d events (seq %d-%d) into seq %d\n", res.CompactedCount, r[0], r[1], res.Event.Seq)
				} else {
					fmt.Fprintf(out, "Compacted %d events into seq %d\n", res.CompactedCount, res.Event.Seq)
				}
				fmt.Fprintln(out, res.Event.Content)
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&keep, "keep", 0, "number of recent events to keep verbatim, negative keeps none (overrides compaction.keep_tail)")
	cmd.Flags().BoolVar(&remove, "delete", false, "delete the summarized events (overrides compaction.delete)")
	return cmd
}
