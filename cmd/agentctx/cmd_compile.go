package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hupe1980/agentctx/artifact"
	"github.com/hupe1980/agentctx/core"
	"github.com/hupe1980/agentctx/engine"
	"github.com/hupe1980/agentctx/flow"
)

// compileFlags are shared by compile and handoff.
type compileFlags struct {
	limit     int
	maxTokens int
	system    []string
	static    []string
	noMemory  bool
	artifacts string
}

func (f *compileFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.IntVar(&f.limit, "limit", 0, "events to load and keep (overrides compile.limit)")
	fs.IntVar(&f.maxTokens, "max-tokens", 0, "token budget for the compiled messages (overrides compile.max_tokens)")
	fs.StringArrayVar(&f.system, "system", nil, "dynamic system instruction (repeatable)")
	fs.StringArrayVar(&f.static, "static", nil, "static system instruction (repeatable)")
	fs.BoolVar(&f.noMemory, "no-memory", false, "skip memory injection")
	fs.StringVar(&f.artifacts, "artifacts", artifactsMentioned, "artifact handles to inject: none, mentioned or all")
}

// Artifact resolution modes.
const (
	artifactsNone      = "none"
	artifactsMentioned = "mentioned"
	artifactsAll       = "all"
)

// options turns the flags into engine compile options on top of the
// configured pipeline.
func (f *compileFlags) options(ctx context.Context, a *app, sessionID string) (engine.CompileOptions, error) {
	cfg := a.cfg.Compile
	if f.limit != 0 {
		cfg.Limit = f.limit
	}
	if f.maxTokens != 0 {
		cfg.MaxTokens = f.maxTokens
	}

	pipeline, err := pipelineOptions(cfg, a.store)
	if err != nil {
		return engine.CompileOptions{}, err
	}
	if f.noMemory {
		pipeline.StructuredMemory = nil
		pipeline.Retriever = nil
	}

	switch f.artifacts {
	case artifactsNone:
	case artifactsMentioned, artifactsAll:
		catalog, err := loadCatalog(ctx, a.store, sessionID)
		if err != nil {
			return engine.CompileOptions{}, err
		}
		pipeline.Resolver = artifact.NewResolver(catalog, func(ro *artifact.ResolverOptions) {
			ro.IncludeAll = f.artifacts == artifactsAll
		})
	default:
		return engine.CompileOptions{}, fmt.Errorf("unknown artifacts mode %q", f.artifacts)
	}

	opts := engine.CompileOptions{
		SystemInstructions:       f.system,
		StaticSystemInstructions: f.static,
		Pipeline:                 &pipeline,
	}
	if f.limit != 0 {
		opts.Load = &core.LoadOptions{Limit: f.limit}
	}
	return opts, nil
}

func newCompileCmd(opts *rootOptions) *cobra.Command {
	var (
		flags  compileFlags
		format string
		traces bool
		names  bool
	)

	cmd := &cobra.Command{
		Use:   "compile <session-id>",
		Short: "Compile and print the working context for a session",
		Long: "Compile the working context an agent would receive for the next turn.\n" +
			"--format openai or anthropic prints the provider request body.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app) error {
				compileOpts, err := flags.options(ctx, a, args[0])
				if err != nil {
					return err
				}
				if names {
					for _, n := range flow.Names(flow.DefaultProcessors(*compileOpts.Pipeline)) {
						fmt.Fprintln(cmd.OutOrStdout(), n)
					}
					return nil
				}

				wc, err := a.engine.CompileWorkingContext(ctx, args[0], compileOpts)
				if err != nil {
					return err
				}
				return renderContext(cmd, wc, format, traces)
			})
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&format, "format", formatText, "output format: text, json, openai or anthropic")
	cmd.Flags().BoolVar(&traces, "traces", false, "print processor traces (text format)")
	cmd.Flags().BoolVar(&names, "processors", false, "print the processor names and exit")
	return cmd
}
