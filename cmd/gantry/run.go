// Copyright 2026 The Gantry Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"

	"github.com/gantry-ci/gantry/cmd/gantry/cli"
	"github.com/gantry-ci/gantry/lib/buildlog"
	"github.com/gantry-ci/gantry/lib/config"
	"github.com/gantry-ci/gantry/lib/engine"
	"github.com/gantry-ci/gantry/lib/gate"
	"github.com/gantry-ci/gantry/lib/git"
	"github.com/gantry-ci/gantry/lib/history"
	"github.com/gantry-ci/gantry/lib/matrix"
	"github.com/gantry-ci/gantry/lib/pipelinedef"
	"github.com/gantry-ci/gantry/lib/schema"
)

func runCommand() *cli.Command {
	params := &runParams{}
	return &cli.Command{
		Name:    "run",
		Summary: "Execute a pipeline",
		Description: `Execute a pipeline across its runtime matrix.

Each matrix entry runs the install, script, build, and deploy stages
in order, stopping at the first failed command. Background services
wrap the script stage; the deploy stage runs only when the gate
conditions hold for the current repository state.`,
		Usage:    "gantry run [pipeline-file] [flags]",
		Flags:    params.flagSet,
		Run:      params.run,
		Examples: []cli.Example{
			{
				Description: "Run the default pipeline file (gantry.yml)",
				Command:     "gantry run",
			},
			{
				Description: "Run a single runtime of a specific pipeline",
				Command:     "gantry run ci/release.yml --matrix-filter 3.12",
			},
			{
				Description: "Run only the script stage, entries in parallel",
				Command:     "gantry run --stage script --parallel",
			},
			{
				Description: "Force the gate inputs instead of detecting them from git",
				Command:     "gantry run --repository acme/widget --tag v1.4.0",
			},
		},
	}
}

type runParams struct {
	configPath   string
	matrixFilter string
	stage        string
	dryRun       bool
	parallel     bool
	repository   string
	branch       string
	tag          string
	resultLog    string
	vars         []string
}

func (p *runParams) flagSet() *pflag.FlagSet {
	flagSet := pflag.NewFlagSet("run", pflag.ContinueOnError)
	flagSet.StringVar(&p.configPath, "config", "", "runner config file (default: $GANTRY_CONFIG, else built-in defaults)")
	flagSet.StringVar(&p.matrixFilter, "matrix-filter", "", "run only entries with this runtime version")
	flagSet.StringVar(&p.stage, "stage", "", "run a single stage (install, script, build, deploy)")
	flagSet.BoolVar(&p.dryRun, "dry-run", false, "print what would execute without running anything")
	flagSet.BoolVar(&p.parallel, "parallel", false, "run matrix entries concurrently")
	flagSet.StringVar(&p.repository, "repository", "", "repository slug for the deploy gate (default: detected from git)")
	flagSet.StringVar(&p.branch, "branch", "", "branch name for the deploy gate (default: detected from git)")
	flagSet.StringVar(&p.tag, "tag", "", "tag at HEAD for the deploy gate (default: detected from git)")
	flagSet.StringVar(&p.resultLog, "result-log", "", "write a JSONL progress log to this path")
	flagSet.StringArrayVar(&p.vars, "var", nil, "set a pipeline variable (NAME=VALUE, repeatable)")
	return flagSet
}

func (p *runParams) run(ctx context.Context, args []string, logger *slog.Logger) error {
	cfg, err := loadConfig(p.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "gantry: %v\n", err)
		return &cli.ExitError{Code: 2}
	}

	pipeline, path, err := readPipeline(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "gantry: %v\n", err)
		return &cli.ExitError{Code: 2}
	}
	name := pipelinedef.NameFromPath(path)

	if issues := pipelinedef.Validate(pipeline); len(issues) > 0 {
		fmt.Fprintf(os.Stderr, "gantry: %s has validation errors:\n  %s\n",
			path, strings.Join(issues, "\n  "))
		return &cli.ExitError{Code: 2}
	}

	parameters, err := parseVarFlags(p.vars)
	if err != nil {
		fmt.Fprintf(os.Stderr, "gantry: %v\n", err)
		return &cli.ExitError{Code: 2}
	}
	variables, err := pipelinedef.ResolveVariables(pipeline.Variables, parameters, os.Getenv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "gantry: %v\n", err)
		return &cli.ExitError{Code: 2}
	}
	pipeline, err = pipelinedef.ExpandPipeline(pipeline, variables)
	if err != nil {
		fmt.Fprintf(os.Stderr, "gantry: %v\n", err)
		return &cli.ExitError{Code: 2}
	}

	entries := matrix.Expand(pipeline.Runtimes, pipeline.Axes)
	if p.matrixFilter != "" {
		entries = matrix.Filter(entries, p.matrixFilter)
		if len(entries) == 0 {
			fmt.Fprintf(os.Stderr, "gantry: no matrix entry has runtime %q\n", p.matrixFilter)
			return &cli.ExitError{Code: 2}
		}
	}

	var stage schema.StageName
	if p.stage != "" {
		stage = schema.StageName(p.stage)
		if err := stage.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "gantry: --stage: %v\n", err)
			return &cli.ExitError{Code: 2}
		}
	}

	inputs := p.gateInputs(ctx, pipeline, logger)

	if p.dryRun {
		printPreview(os.Stdout, name, engine.Preview(pipeline, entries, inputs, stage))
		return nil
	}

	reporters := []engine.Reporter{newConsoleReporter(os.Stdout)}
	if p.resultLog != "" {
		results, err := newResultLog(p.resultLog, logger)
		if err != nil {
			return err
		}
		defer results.Close()
		reporters = append(reporters, results)
	}

	var logs *buildlog.Store
	if !cfg.BuildLogs.Disabled {
		logs, err = buildlog.Open(buildlog.Config{
			Dir:         cfg.BuildLogs.Dir,
			Compression: cfg.BuildLogs.Compression,
			Logger:      logger,
		})
		if err != nil {
			// Capture is a side channel: a broken store degrades to an
			// uncaptured run, never a refused one.
			logger.Warn("build-log store unavailable, output capture disabled", "error", err)
			logs = nil
		}
	}

	result := engine.New(engine.Config{
		Shell:          cfg.Shell,
		Output:         os.Stdout,
		ServiceOutput:  os.Stdout,
		BuildLogs:      logs,
		DefaultTimeout: cfg.CommandTimeout(),
		GateInputs:     inputs,
		Logger:         logger,
		Reporter:       engine.MultiReporter(reporters...),
	}).Run(ctx, engine.Request{
		Pipeline: pipeline,
		Name:     name,
		Entries:  entries,
		Stage:    stage,
		Parallel: p.parallel,
	})

	recordHistory(cfg, result, logger)

	switch result.Status {
	case schema.RunSucceeded:
		return nil
	case schema.RunCancelled:
		return &cli.ExitError{Code: 130}
	default:
		return &cli.ExitError{Code: 1}
	}
}

// gateInputs assembles the deploy gate inputs: explicit flags win,
// anything left unset is detected from the git repository in the
// working directory. Detection is skipped entirely when the pipeline
// has no deploy configuration, and detection failures leave the input
// empty (an undeclared condition never reads it; a declared one fails
// the gate, which skips deploy rather than failing the run).
func (p *runParams) gateInputs(ctx context.Context, pipeline *schema.Pipeline, logger *slog.Logger) gate.Inputs {
	inputs := gate.Inputs{
		Repository: p.repository,
		Branch:     p.branch,
		Tag:        p.tag,
	}
	if pipeline.Deploy == nil {
		return inputs
	}
	if inputs.Repository != "" && inputs.Branch != "" && inputs.Tag != "" {
		return inputs
	}

	repo := git.NewRepository(".")
	if inputs.Repository == "" {
		slug, err := repo.Slug(ctx)
		if err != nil {
			logger.Debug("gate input detection: repository", "error", err)
		}
		inputs.Repository = slug
	}
	if inputs.Branch == "" {
		branch, err := repo.CurrentBranch(ctx)
		if err != nil {
			logger.Debug("gate input detection: branch", "error", err)
		}
		inputs.Branch = branch
	}
	if inputs.Tag == "" {
		tag, err := repo.TagAtHead(ctx)
		if err != nil {
			logger.Debug("gate input detection: tag", "error", err)
		}
		inputs.Tag = tag
	}
	return inputs
}

// parseVarFlags turns repeated --var NAME=VALUE flags into a
// parameter map.
func parseVarFlags(vars []string) (map[string]string, error) {
	if len(vars) == 0 {
		return nil, nil
	}
	parameters := make(map[string]string, len(vars))
	for _, assignment := range vars {
		name, value, found := strings.Cut(assignment, "=")
		if !found || name == "" {
			return nil, fmt.Errorf("--var %q: expected NAME=VALUE", assignment)
		}
		parameters[name] = value
	}
	return parameters, nil
}

// recordHistory archives the completed result in the history store.
// Recording is best-effort: the store is opened fresh per run, and any
// failure degrades to a warning. Uses a background context so a
// cancelled run is still recorded.
func recordHistory(cfg *config.Config, result *schema.PipelineResult, logger *slog.Logger) {
	if cfg.History.Disabled {
		return
	}
	if err := os.MkdirAll(filepath.Dir(cfg.History.Path), 0o755); err != nil {
		logger.Warn("history store unavailable", "error", err)
		return
	}
	store, err := history.Open(history.Config{Path: cfg.History.Path, Logger: logger})
	if err != nil {
		logger.Warn("history store unavailable", "error", err)
		return
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.RecordPipeline(ctx, result); err != nil {
		logger.Warn("recording run history", "error", err)
		return
	}
	if cfg.History.Keep > 0 {
		if _, err := store.Prune(ctx, cfg.History.Keep); err != nil {
			logger.Warn("pruning run history", "error", err)
		}
	}
}

// printPreview renders a dry run: every entry, its stages and
// commands, and the gate verdict, without executing anything.
func printPreview(w io.Writer, name string, preview *engine.RunPreview) {
	fmt.Fprintf(w, "[gantry] %s: dry run (%d matrix entries)\n", name, len(preview.Entries))
	for i := range preview.Entries {
		entry := &preview.Entries[i]
		fmt.Fprintf(w, "\nentry %s:\n", entry.Entry)
		for _, stage := range entry.Stages {
			fmt.Fprintf(w, "  %s%s%s\n", stage.Stage, previewServices(stage), previewGate(stage))
			for _, command := range stage.Commands {
				if command.Enabled {
					fmt.Fprintf(w, "    %s\n", command.Run)
				} else {
					fmt.Fprintf(w, "    %s (disabled)\n", command.Run)
				}
			}
		}
	}
}

func previewServices(stage engine.StagePreview) string {
	if len(stage.Services) == 0 {
		return ""
	}
	return fmt.Sprintf(" (services: %s)", strings.Join(stage.Services, ", "))
}

func previewGate(stage engine.StagePreview) string {
	if stage.Decision == nil {
		return ""
	}
	if stage.Decision.Allowed {
		return " (gate open)"
	}
	return fmt.Sprintf(" (gate closed: %s, deploy skipped)",
		strings.Join(stage.Decision.FailedConditions(), ", "))
}
