// Copyright 2026 The Gantry Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/gantry-ci/gantry/cmd/gantry/cli"
	"github.com/gantry-ci/gantry/lib/history"
	"github.com/gantry-ci/gantry/lib/schema"
)

func historyCommand() *cli.Command {
	params := &historyParams{}
	return &cli.Command{
		Name:    "history",
		Summary: "List recent runs from the history database",
		Description: `List runs recorded in the history database, newest first.

Every gantry run records its per-entry outcomes after completion;
this command reads them back.`,
		Usage: "gantry history [flags]",
		Flags: params.flagSet,
		Run:   params.run,
		Examples: []cli.Example{
			{
				Description: "The last 10 recorded runs",
				Command:     "gantry history --limit 10",
			},
			{
				Description: "Failed runs of one pipeline, as JSON",
				Command:     "gantry history --pipeline release --status failed --json",
			},
		},
	}
}

type historyParams struct {
	configPath string
	pipeline   string
	status     string
	limit      int
	outputJSON bool
}

func (p *historyParams) flagSet() *pflag.FlagSet {
	flagSet := pflag.NewFlagSet("history", pflag.ContinueOnError)
	flagSet.StringVar(&p.configPath, "config", "", "runner config file (default: $GANTRY_CONFIG, else built-in defaults)")
	flagSet.StringVar(&p.pipeline, "pipeline", "", "only runs of this pipeline")
	flagSet.StringVar(&p.status, "status", "", "only runs with this status (succeeded, failed, cancelled)")
	flagSet.IntVar(&p.limit, "limit", 0, "maximum runs to list (default 20)")
	flagSet.BoolVar(&p.outputJSON, "json", false, "output as JSON")
	return flagSet
}

func (p *historyParams) run(ctx context.Context, args []string, logger *slog.Logger) error {
	cfg, err := loadConfig(p.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "gantry: %v\n", err)
		return &cli.ExitError{Code: 2}
	}
	if cfg.History.Disabled {
		return fmt.Errorf("history recording is disabled in the runner config")
	}

	status := schema.RunStatus(p.status)
	if p.status != "" {
		if err := status.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "gantry: --status: %v\n", err)
			return &cli.ExitError{Code: 2}
		}
	}

	store, err := history.Open(history.Config{Path: cfg.History.Path, Logger: logger})
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.ListRuns(ctx, history.Filter{
		Pipeline: p.pipeline,
		Status:   status,
		Limit:    p.limit,
	})
	if err != nil {
		return err
	}

	if p.outputJSON {
		return cli.WriteJSON(records)
	}

	if len(records) == 0 {
		fmt.Println("no recorded runs")
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
	fmt.Fprintf(tw, "ID\tPIPELINE\tENTRY\tSTATUS\tRECORDED\tDURATION\n")
	for _, record := range records {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			record.ID,
			record.Pipeline,
			record.Result.Entry,
			record.Result.Status,
			time.Unix(0, record.RecordedAt).UTC().Format(time.RFC3339),
			formatDuration(record.Result.DurationMS),
		)
	}
	return tw.Flush()
}
