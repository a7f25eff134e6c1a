package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hupe1980/agentctx/core"
	"github.com/hupe1980/agentctx/model"
	anthropicmodel "github.com/hupe1980/agentctx/model/anthropic"
	openaimodel "github.com/hupe1980/agentctx/model/openai"
)

// Output formats of compile and handoff.
const (
	formatText      = "text"
	formatJSON      = "json"
	formatOpenAI    = "openai"
	formatAnthropic = "anthropic"
)

// renderContext prints wc in the requested format. The openai and anthropic
// formats print the request body the provider adapter would send.
func renderContext(cmd *cobra.Command, wc *core.WorkingContext, format string, traces bool) error {
	switch strings.ToLower(format) {
	case "", formatText:
		writeContextText(cmd.OutOrStdout(), wc, traces)
		return nil
	case formatJSON:
		return writeJSON(cmd, model.Flatten(wc, model.FlattenOptions{}))
	case formatOpenAI:
		return writeJSON(cmd, openaimodel.New().Params(wc))
	case formatAnthropic:
		return writeJSON(cmd, anthropicmodel.New().Params(wc))
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

func writeContextText(w io.Writer, wc *core.WorkingContext, traces bool) {
	for _, s := range wc.StaticSystemInstructions {
		fmt.Fprintf(w, "[static] %s\n", oneLine(s))
	}
	for _, s := range wc.SystemInstructions {
		fmt.Fprintf(w, "[instruction] %s\n", oneLine(s))
	}
	for _, m := range wc.Messages {
		line := fmt.Sprintf("%s: %s", m.Role, oneLine(m.Content))
		for _, c := range model.EncodeToolCalls(m.ToolCalls) {
			line += fmt.Sprintf(" [call %s(%s)]", c.Function.Name, c.Function.Arguments)
		}
		if m.IsStable() {
			line += " (stable)"
		}
		fmt.Fprintln(w, strings.TrimSpace(line))
	}
	if !traces {
		return
	}
	for _, t := range wc.Traces {
		fmt.Fprintf(w, "# %s events %d->%d messages %d->%d\n",
			t.Processor, t.BeforeEventCount, t.AfterEventCount, t.BeforeMessageCount, t.AfterMessageCount)
	}
}
