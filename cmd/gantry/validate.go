// Copyright 2026 The Gantry Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/gantry-ci/gantry/cmd/gantry/cli"
	"github.com/gantry-ci/gantry/lib/pipelinedef"
)

func validateCommand() *cli.Command {
	return &cli.Command{
		Name:    "validate",
		Summary: "Check a pipeline definition",
		Description: `Parse a pipeline definition and report every validation issue.

Exits 0 when the definition is well-formed and 2 otherwise, so the
command works as a pre-commit or CI check.`,
		Usage: "gantry validate [pipeline-file]",
		Run: func(_ context.Context, args []string, _ *slog.Logger) error {
			pipeline, path, err := readPipeline(args)
			if err != nil {
				fmt.Fprintf(os.Stderr, "gantry: %v\n", err)
				return &cli.ExitError{Code: 2}
			}

			issues := pipelinedef.Validate(pipeline)
			if len(issues) == 0 {
				fmt.Printf("%s: ok\n", path)
				return nil
			}

			fmt.Fprintf(os.Stderr, "%s has %d validation issues:\n", path, len(issues))
			for _, issue := range issues {
				fmt.Fprintf(os.Stderr, "  - %s\n", issue)
			}
			return &cli.ExitError{Code: 2}
		},
		Examples: []cli.Example{
			{
				Description: "Check the default pipeline file",
				Command:     "gantry validate",
			},
			{
				Description: "Check a specific definition",
				Command:     "gantry validate ci/release.yml",
			},
		},
	}
}
