// Package main is the entry point for the agentctx CLI.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "agentctx:", err)
		os.Exit(1)
	}
}
