// Copyright 2026 The Gantry Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/gantry-ci/gantry/cmd/gantry/cli"
	"github.com/gantry-ci/gantry/lib/matrix"
)

func matrixCommand() *cli.Command {
	var outputJSON bool
	return &cli.Command{
		Name:    "matrix",
		Summary: "Print a pipeline's matrix expansion",
		Description: `Print the matrix entries a run would execute: the Cartesian product
of the pipeline's runtime list and every extra axis, in execution
order.`,
		Usage: "gantry matrix [pipeline-file] [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("matrix", pflag.ContinueOnError)
			flagSet.BoolVar(&outputJSON, "json", false, "output as JSON")
			return flagSet
		},
		Run: func(_ context.Context, args []string, _ *slog.Logger) error {
			pipeline, _, err := readPipeline(args)
			if err != nil {
				fmt.Fprintf(os.Stderr, "gantry: %v\n", err)
				return &cli.ExitError{Code: 2}
			}

			entries := matrix.Expand(pipeline.Runtimes, pipeline.Axes)
			if outputJSON {
				return cli.WriteJSON(entries)
			}

			tw := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
			fmt.Fprintf(tw, "ENTRY\tRUNTIME\tENV\n")
			for _, entry := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%s\n",
					entry.Name, orDash(entry.Runtime), formatEntryEnv(entry.Env))
			}
			return tw.Flush()
		},
		Examples: []cli.Example{
			{
				Description: "Show the entries of the default pipeline",
				Command:     "gantry matrix",
			},
		},
	}
}

func formatEntryEnv(env map[string]string) string {
	if len(env) == 0 {
		return "-"
	}
	assignments := make([]string, 0, len(env))
	for name, value := range env {
		assignments = append(assignments, name+"="+value)
	}
	sort.Strings(assignments)
	return strings.Join(assignments, " ")
}

func orDash(value string) string {
	if value == "" {
		return "-"
	}
	return value
}
