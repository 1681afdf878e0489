// Copyright 2026 The Gantry Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/spf13/pflag"

	"github.com/gantry-ci/gantry/cmd/gantry/cli"
	"github.com/gantry-ci/gantry/lib/schema"
)

func showCommand() *cli.Command {
	var outputJSON bool
	return &cli.Command{
		Name:    "show",
		Summary: "Print a parsed pipeline definition",
		Description: `Print a pipeline definition as gantry understands it: stages and
commands, matrix axes, declared variables, services, and the deploy
gate. Variables are shown unexpanded; their values depend on the
run-time environment.`,
		Usage: "gantry show [pipeline-file] [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("show", pflag.ContinueOnError)
			flagSet.BoolVar(&outputJSON, "json", false, "output as JSON")
			return flagSet
		},
		Run: func(_ context.Context, args []string, _ *slog.Logger) error {
			pipeline, path, err := readPipeline(args)
			if err != nil {
				fmt.Fprintf(os.Stderr, "gantry: %v\n", err)
				return &cli.ExitError{Code: 2}
			}
			if outputJSON {
				return cli.WriteJSON(pipeline)
			}
			printPipeline(os.Stdout, path, pipeline)
			return nil
		},
		Examples: []cli.Example{
			{
				Description: "Show the default pipeline file",
				Command:     "gantry show",
			},
			{
				Description: "Show a definition as JSON for tooling",
				Command:     "gantry show ci/release.yml --json",
			},
		},
	}
}

func printPipeline(w io.Writer, path string, pipeline *schema.Pipeline) {
	fmt.Fprintf(w, "%s\n", path)
	if pipeline.Description != "" {
		fmt.Fprintf(w, "  %s\n", pipeline.Description)
	}

	if len(pipeline.Runtimes) > 0 {
		fmt.Fprintf(w, "\nruntimes: %s\n", strings.Join(pipeline.Runtimes, ", "))
	}
	for _, axis := range sortedNames(pipeline.Axes) {
		fmt.Fprintf(w, "axis %s: %s\n", axis, strings.Join(pipeline.Axes[axis], ", "))
	}
	for _, name := range sortedNames(pipeline.Env) {
		fmt.Fprintf(w, "env %s=%s\n", name, pipeline.Env[name])
	}

	if len(pipeline.Variables) > 0 {
		fmt.Fprintf(w, "\nvariables:\n")
		for _, name := range sortedNames(pipeline.Variables) {
			variable := pipeline.Variables[name]
			detail := ""
			if variable.Required {
				detail = " (required)"
			} else if variable.Default != "" {
				detail = fmt.Sprintf(" (default %q)", variable.Default)
			}
			if variable.Description != "" {
				detail += ": " + variable.Description
			}
			fmt.Fprintf(w, "  ${%s}%s\n", name, detail)
		}
	}

	if len(pipeline.Services) > 0 {
		fmt.Fprintf(w, "\nservices:\n")
		for _, service := range pipeline.Services {
			fmt.Fprintf(w, "  %s: %s\n", service.Name, service.Run)
			if service.Ready != "" {
				suffix := ""
				if service.ReadyTimeout != "" {
					suffix = fmt.Sprintf(" (timeout %s)", service.ReadyTimeout)
				}
				fmt.Fprintf(w, "    ready: %s%s\n", service.Ready, suffix)
			}
		}
	}

	for _, stage := range schema.StageNames() {
		if stage == schema.StageDeploy && pipeline.Deploy == nil {
			continue
		}
		commands := pipeline.StageCommands(stage)
		fmt.Fprintf(w, "\n%s (%d commands):\n", stage, len(commands))
		for _, command := range commands {
			if command.IsEnabled() {
				fmt.Fprintf(w, "  %s\n", command.Run)
			} else {
				fmt.Fprintf(w, "  %s (disabled)\n", command.Run)
			}
		}
	}

	if pipeline.Deploy != nil {
		printWhen(w, pipeline.Deploy.When)
		for _, name := range sortedNames(pipeline.Deploy.Secrets) {
			fmt.Fprintf(w, "  secret %s from %s\n", name, pipeline.Deploy.Secrets[name])
		}
	}
}

func printWhen(w io.Writer, when schema.WhenClause) {
	var conditions []string
	if when.Repository != "" {
		conditions = append(conditions, fmt.Sprintf("repository == %q", when.Repository))
	}
	if when.Tag {
		conditions = append(conditions, "tag present")
	}
	if when.Branch != "" {
		conditions = append(conditions, fmt.Sprintf("branch matches %q", when.Branch))
	}
	if when.Runtime != "" {
		conditions = append(conditions, fmt.Sprintf("runtime == %q", when.Runtime))
	}
	if len(conditions) == 0 {
		fmt.Fprintf(w, "  when: always\n")
		return
	}
	fmt.Fprintf(w, "  when: %s\n", strings.Join(conditions, " && "))
}

func sortedNames[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
