package main

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/spf13/cobra"

	"github.com/hupe1980/agentctx/core"
	"github.com/hupe1980/agentctx/engine"
	"github.com/hupe1980/agentctx/flow"
	"github.com/hupe1980/agentctx/logging"
	"github.com/hupe1980/agentctx/memory"
	"github.com/hupe1980/agentctx/model"
	anthropicmodel "github.com/hupe1980/agentctx/model/anthropic"
	openaimodel "github.com/hupe1980/agentctx/model/openai"
	"github.com/hupe1980/agentctx/session/sqlite"
	"github.com/hupe1980/agentctx/tokenizer"
)

// rootOptions carries the persistent flags and the resolved config to every
// subcommand.
type rootOptions struct {
	configPath string
	database   string
	owner      string
	logLevel   string
	logFormat  string

	cfg *Config
}

// newRootCmd creates the root agentctx command with all subcommands attached.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "agentctx",
		Short: "Inspect and maintain agent context sessions",
		Long: "agentctx operates on a SQLite session store: it manages sessions, events and\n" +
			"memory, compacts long histories and previews the working context an agent\n" +
			"would receive.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return opts.resolve()
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "path to the YAML config file (default "+defaultConfigFile+" if present)")
	flags.StringVar(&opts.database, "db", "", "SQLite database path")
	flags.StringVar(&opts.owner, "owner", "", "session owner")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.StringVar(&opts.logFormat, "log-format", "", "log format: json or text")

	cmd.AddCommand(
		newSessionCmd(opts),
		newEventsCmd(opts),
		newAppendCmd(opts),
		newMemoryCmd(opts),
		newCompactCmd(opts),
		newCompileCmd(opts),
		newHandoffCmd(opts),
		newArtifactCmd(opts),
	)

	return cmd
}

// resolve loads the config file and applies flag overrides.
func (o *rootOptions) resolve() error {
	path, required := o.configPath, true
	if path == "" {
		path, required = defaultConfigFile, false
	}

	cfg, err := ReadConfig(path, required)
	if err != nil {
		return err
	}

	if o.database != "" {
		cfg.Database = o.database
	}
	if o.owner != "" {
		cfg.Owner = o.owner
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if o.logFormat != "" {
		cfg.Log.Format = o.logFormat
	}

	o.cfg = cfg
	return nil
}

// app bundles the resources a command works with.
type app struct {
	cfg    *Config
	db     *sql.DB
	store  *sqlite.Store
	engine *engine.Engine
	logger *logging.ContextLogger
}

func (a *app) Close() error { return a.db.Close() }

// open connects to the configured database and wires the engine.
func (o *rootOptions) open(cmd *cobra.Command) (*app, error) {
	cfg := o.cfg
	if cfg == nil {
		cfg = DefaultConfig()
	}

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	logger := logging.NewLogger(&logging.LoggerConfig{
		Level:     level,
		Format:    cfg.Log.Format,
		Output:    cmd.ErrOrStderr(),
		Component: "agentctx",
	})

	db, err := sqlite.Open(cfg.Database)
	if err != nil {
		return nil, err
	}
	store := sqlite.New(db, func(so *sqlite.Options) {
		so.OwnerID = cfg.Owner
	})
	if err := store.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	pipeline, err := pipelineOptions(cfg.Compile, store)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	summarizer, err := newSummarizer(cfg.Summarizer)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	eng := engine.New(store, func(eo *engine.Options) {
		eo.Logger = logger
		eo.DefaultLoad = core.LoadOptions{Limit: cfg.Compile.Limit}
		eo.Pipeline = pipeline
		eo.Summarizer = summarizer
	})

	return &app{cfg: cfg, db: db, store: store, engine: eng, logger: logger}, nil
}

// withApp opens the app for the duration of fn.
func (o *rootOptions) withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	a, err := o.open(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	a.logger.Debug("Running command", "command", cmd.CommandPath(), "database", a.cfg.Database)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return fn(ctx, a)
}

// pipelineOptions builds the default processor configuration: memory from
// the store's memory table and an optional token budget.
func pipelineOptions(cfg CompileConfig, table core.MemoryTable) (flow.Options, error) {
	opts := flow.Options{
		Limit:            cfg.Limit,
		StructuredMemory: memory.NewFactsProvider(table),
		Retriever: memory.NewRetriever(table, func(ro *memory.RetrieverOptions) {
			if cfg.MemoryLimit > 0 {
				ro.Limit = cfg.MemoryLimit
			}
		}),
		MaxTokenEstimate: cfg.MaxTokens,
	}

	switch strings.ToLower(cfg.MemoryOrder) {
	case "", "structured":
		opts.MemoryOrder = flow.MemoryOrderStructuredFirst
	case "retrieval":
		opts.MemoryOrder = flow.MemoryOrderRetrievalFirst
	default:
		return flow.Options{}, fmt.Errorf("unknown memory order %q", cfg.MemoryOrder)
	}

	if cfg.Tokenizer != "" && cfg.MaxTokens > 0 {
		tok, err := tokenizer.New(cfg.Tokenizer)
		if err != nil {
			return flow.Options{}, err
		}
		opts.Estimator = tok.Estimator()
	}

	return opts, nil
}

// newSummarizer selects the compaction summarizer. Provider clients are
// created lazily by their SDKs and only talk to the network on Summarize.
func newSummarizer(cfg SummarizerConfig) (core.Summarizer, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "preview":
		return model.NewPreviewSummarizer(cfg.PreviewSize), nil
	case "openai":
		client := openaimodel.New(func(o *openaimodel.Options) {
			if cfg.Model != "" {
				o.Model = cfg.Model
			}
		})
		return model.NewSummarizer(model.LimitCompleter(client, cfg.MaxCalls)), nil
	case "anthropic":
		client := anthropicmodel.New(func(o *anthropicmodel.Options) {
			if cfg.Model != "" {
				o.Model = anthropic.Model(cfg.Model)
			}
		})
		return model.NewSummarizer(model.LimitCompleter(client, cfg.MaxCalls)), nil
	default:
		return nil, fmt.Errorf("unknown summarizer provider %q", cfg.Provider)
	}
}
