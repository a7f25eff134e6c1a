package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hupe1980/agentctx/core"
	"github.com/hupe1980/agentctx/memory"
)

func newMemoryCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Manage a session's long-term memory",
	}
	cmd.AddCommand(
		newMemorySetCmd(opts),
		newMemoryListCmd(opts),
		newMemoryDeleteCmd(opts),
	)
	return cmd
}

func newMemorySetCmd(opts *rootOptions) *cobra.Command {
	var (
		replace bool
		source  string
		score   float64
	)

	cmd := &cobra.Command{
		Use:   "set <session-id> <key> <value>",
		Short: "Store a memory fact",
		Long: "Store a memory fact. Canonical keys (name, location, timezone) replace\n" +
			"their previous value; other keys collect values unless --replace is set.",
		Args: cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			entry := core.MemoryInput{
				Key:    args[1],
				Value:  strings.Join(args[2:], " "),
				Source: source,
			}
			if cmd.Flags().Changed("score") {
				entry.Score = &score
			}

			return opts.withApp(cmd, func(ctx context.Context, a *app) error {
				var err error
				if replace {
					err = a.store.UpsertMemory(ctx, args[0], []core.MemoryInput{entry}, core.UpsertOptions{ReplaceByKey: true})
				} else {
					err = memory.NewFactsProvider(a.store).Record(ctx, args[0], []core.MemoryInput{entry})
				}
				if err != nil {
					return fmt.Errorf("set memory: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Remembered %s: %s\n", entry.Key, entry.Value)
				return nil
			})
		},
	}

	f := cmd.Flags()
	f.BoolVar(&replace, "replace", false, "replace every existing value of the key")
	f.StringVar(&source, "source", "cli", "source label")
	f.Float64Var(&score, "score", 0, "relevance score between 0 and 1")
	return cmd
}

func newMemoryListCmd(opts *rootOptions) *cobra.Command {
	var (
		keys  []string
		limit int
	)

	cmd := &cobra.Command{
		Use:   "list <session-id>",
		Short: "List memory entries, most recently updated first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app) error {
				entries, err := a.store.LoadMemory(ctx, args[0], core.MemoryQuery{Limit: limit, Keys: keys})
				if err != nil {
					return fmt.Errorf("list memory: %w", err)
				}
				if len(entries) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No memory.")
					return nil
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "KEY\tVALUE\tSOURCE")
				for _, e := range entries {
					fmt.Fprintf(w, "%s\t%s\t%s\n", e.Key, oneLine(e.Value), e.Source)
				}
				return w.Flush()
			})
		},
	}

	f := cmd.Flags()
	f.StringArrayVar(&keys, "key", nil, "only list this key (repeatable)")
	f.IntVar(&limit, "limit", 0, "maximum number of entries (0 uses the default)")
	return cmd
}

func newMemoryDeleteCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <session-id> [key...]",
		Short: "Delete memory entries by key, or all entries when no key is given",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app) error {
				if err := a.store.DeleteMemory(ctx, args[0], args[1:]...); err != nil {
					return fmt.Errorf("delete memory: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Deleted memory.")
				return nil
			})
		},
	}
}
