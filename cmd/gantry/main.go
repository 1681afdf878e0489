// Copyright 2026 The Gantry Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gantry-ci/gantry/cmd/gantry/cli"
	"github.com/gantry-ci/gantry/lib/version"
)

func main() {
	if err := run(); err != nil {
		// Commands that print their own output (like run and
		// validate) return an ExitError with the desired exit code.
		// Don't print a redundant "error:" line for those.
		if coder, ok := err.(interface{ ExitCode() int }); ok {
			os.Exit(coder.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return rootCommand().Execute(ctx, os.Args[1:], cli.NewCommandLogger())
}

func rootCommand() *cli.Command {
	return &cli.Command{
		Name: "gantry",
		Description: `Gantry: a matrix-capable CI pipeline runner.

Run declarative install/script/build/deploy pipelines with matrix
expansion over runtime versions, scoped background services, and
gated deployment.`,
		Subcommands: []*cli.Command{
			runCommand(),
			validateCommand(),
			showCommand(),
			matrixCommand(),
			historyCommand(),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(_ context.Context, args []string, _ *slog.Logger) error {
					fmt.Printf("gantry %s\n", version.Full())
					return nil
				},
			},
		},
		Examples: []cli.Example{
			{
				Description: "Run the pipeline defined in the current directory",
				Command:     "gantry run",
			},
			{
				Description: "Run a single matrix entry of a specific pipeline",
				Command:     "gantry run ci/release.yml --matrix-filter 3.12",
			},
			{
				Description: "See what a run would execute, without executing it",
				Command:     "gantry run --dry-run",
			},
			{
				Description: "Check a pipeline definition for problems",
				Command:     "gantry validate ci/release.yml",
			},
			{
				Description: "List recent runs from the history database",
				Command:     "gantry history --limit 10",
			},
		},
	}
}
