package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hupe1980/agentctx/artifact"
	"github.com/hupe1980/agentctx/core"
)

func newArtifactCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "artifact",
		Short: "Record and list artifact references",
	}
	cmd.AddCommand(
		newArtifactAddCmd(opts),
		newArtifactListCmd(opts),
	)
	return cmd
}

func newArtifactAddCmd(opts *rootOptions) *cobra.Command {
	var (
		summary   string
		version   string
		ephemeral bool
	)

	cmd := &cobra.Command{
		Use:   "add <session-id> <name>",
		Short: "Append an artifact_ref event",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref := artifact.Artifact{
				Name:      args[1],
				Version:   version,
				Summary:   summary,
				Ephemeral: ephemeral,
			}.Ref(args[0])

			return opts.withApp(cmd, func(ctx context.Context, a *app) error {
				stored, err := a.store.AppendEvents(ctx, args[0], []core.Event{ref})
				if err != nil {
					return fmt.Errorf("add artifact: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Appended %s (seq=%d)\n", stored[0].Action(), stored[0].Header().Seq)
				return nil
			})
		},
	}

	f := cmd.Flags()
	f.StringVar(&summary, "summary", "", "summary shown to the model")
	f.StringVar(&version, "version", "", "artifact version (numbered when empty)")
	f.BoolVar(&ephemeral, "ephemeral", false, "mark the artifact as ephemeral")
	return cmd
}

func newArtifactListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list <session-id>",
		Short: "List the latest version of every referenced artifact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app) error {
				catalog, err := loadCatalog(ctx, a.store, args[0])
				if err != nil {
					return err
				}
				list, err := catalog.List(args[0])
				if err != nil {
					return err
				}
				if len(list) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No artifacts.")
					return nil
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "NAME\tVERSION\tEPHEMERAL\tSUMMARY")
				for _, art := range list {
					fmt.Fprintf(w, "%s\t%s\t%t\t%s\n", art.Name, art.Version, art.Ephemeral, oneLine(art.Summary))
				}
				return w.Flush()
			})
		},
	}
}

// loadCatalog indexes every artifact_ref event of the session.
func loadCatalog(ctx context.Context, log core.EventLog, sessionID string) (*artifact.InMemoryStore, error) {
	events, err := log.LoadEvents(ctx, sessionID, core.LoadOptions{
		Limit:   -1,
		Actions: []core.Action{core.ActionArtifactRef},
		Window:  core.WindowHead,
	})
	if err != nil {
		return nil, fmt.Errorf("load artifact refs: %w", err)
	}
	return artifact.FromEvents(events), nil
}
