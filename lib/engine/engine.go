// Copyright 2026 The Gantry Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/gantry-ci/gantry/lib/buildlog"
	"github.com/gantry-ci/gantry/lib/clock"
	"github.com/gantry-ci/gantry/lib/gate"
	"github.com/gantry-ci/gantry/lib/matrix"
	"github.com/gantry-ci/gantry/lib/schema"
	"github.com/gantry-ci/gantry/lib/shell"
)

// DefaultMaxCaptureBytes bounds per-command output capture. Output
// past the bound still streams to the console writer; only the stored
// log is truncated.
const DefaultMaxCaptureBytes = 8 << 20

// Config holds the engine's execution environment. All fields are
// optional; the zero value runs commands with "sh" in the current
// directory, streams nothing, and captures nothing.
type Config struct {
	// Shell is the command interpreter, resolved via PATH. Empty means
	// "sh".
	Shell string

	// Dir is the working directory for every command. Empty means the
	// calling process's working directory.
	Dir string

	// Output receives the live stdout and stderr of stage commands.
	// Nil discards the stream (captured logs are unaffected).
	Output io.Writer

	// ServiceOutput receives background service output. Nil discards
	// it.
	ServiceOutput io.Writer

	// BuildLogs captures per-command output when set. Capture is
	// best-effort: store failures degrade to warnings.
	BuildLogs *buildlog.Store

	// MaxCaptureBytes bounds each command's captured output. Zero
	// means DefaultMaxCaptureBytes.
	MaxCaptureBytes int64

	// DefaultTimeout bounds commands that do not declare their own
	// timeout. Zero means unbounded.
	DefaultTimeout time.Duration

	// GateInputs are the repository facts the deploy gate evaluates
	// against. The Runtime field is ignored; each entry supplies its
	// own.
	GateInputs gate.Inputs

	// Clock drives timestamps and service timing. Nil means the real
	// clock.
	Clock clock.Clock

	// Logger receives operational warnings. Nil discards them.
	Logger *slog.Logger

	// Reporter observes execution progress. Nil means no reporting.
	// When Request.Parallel is set the reporter must be safe for
	// concurrent use.
	Reporter Reporter
}

// Engine executes pipelines. Construct with New; the engine is
// stateless across Run calls and safe for sequential reuse.
type Engine struct {
	shell           string
	dir             string
	output          io.Writer
	serviceOutput   io.Writer
	buildLogs       *buildlog.Store
	maxCaptureBytes int64
	defaultTimeout  time.Duration
	gateInputs      gate.Inputs
	clock           clock.Clock
	logger          *slog.Logger
	reporter        Reporter
	runner          *shell.Runner
}

// New returns an engine for the given configuration.
func New(cfg Config) *Engine {
	engine := &Engine{
		shell:           cfg.Shell,
		dir:             cfg.Dir,
		output:          cfg.Output,
		serviceOutput:   cfg.ServiceOutput,
		buildLogs:       cfg.BuildLogs,
		maxCaptureBytes: cfg.MaxCaptureBytes,
		defaultTimeout:  cfg.DefaultTimeout,
		gateInputs:      cfg.GateInputs,
		clock:           cfg.Clock,
		logger:          cfg.Logger,
		reporter:        cfg.Reporter,
	}
	if engine.maxCaptureBytes <= 0 {
		engine.maxCaptureBytes = DefaultMaxCaptureBytes
	}
	if engine.clock == nil {
		engine.clock = clock.Real()
	}
	if engine.logger == nil {
		engine.logger = slog.New(slog.DiscardHandler)
	}
	if engine.reporter == nil {
		engine.reporter = NopReporter{}
	}
	engine.runner = &shell.Runner{Shell: cfg.Shell, Stdout: cfg.Output, Stderr: cfg.Output}
	return engine
}

// Request describes one pipeline execution.
type Request struct {
	// Pipeline is the definition to run, already variable-expanded and
	// validated. Required.
	Pipeline *schema.Pipeline

	// Name identifies the pipeline in results, typically derived from
	// its file path.
	Name string

	// Entries are the matrix entries to run, already expanded and
	// filtered. Required (at least one).
	Entries []matrix.Entry

	// RunID names the build-log directory for this execution. Empty
	// derives one from the current time.
	RunID string

	// Stage restricts the run to a single stage. Empty runs the full
	// sequence. The script stage keeps its service wrapping; the
	// deploy stage keeps its gate.
	Stage schema.StageName

	// Parallel runs matrix entries concurrently instead of in
	// declaration order. Entries share no mutable state, so both
	// schedules produce the same per-entry results.
	Parallel bool
}

// Run executes every matrix entry in the request and returns the
// aggregated result. The overall status is failed if any entry failed,
// cancelled if any was cancelled and none failed, succeeded otherwise.
// Run itself never fails: configuration problems belong to the caller,
// and execution problems are recorded in the result.
func (e *Engine) Run(ctx context.Context, req Request) *schema.PipelineResult {
	started := e.clock.Now()
	runID := req.RunID
	if runID == "" {
		runID = buildlog.NewRunID(started)
	}
	req.RunID = runID

	e.reporter.PipelineStarted(req.Name, req.Entries)

	runs := make([]schema.RunResult, len(req.Entries))
	if req.Parallel && len(req.Entries) > 1 {
		var group sync.WaitGroup
		for index, entry := range req.Entries {
			group.Add(1)
			go func(index int, entry matrix.Entry) {
				defer group.Done()
				runs[index] = e.runEntry(ctx, req, entry)
			}(index, entry)
		}
		group.Wait()
	} else {
		for index, entry := range req.Entries {
			runs[index] = e.runEntry(ctx, req, entry)
		}
	}

	completed := e.clock.Now()
	result := &schema.PipelineResult{
		Version:     schema.ResultVersion,
		Pipeline:    req.Name,
		Status:      schema.OverallStatus(runs),
		Runs:        runs,
		StartedAt:   started.UTC().Format(time.RFC3339),
		CompletedAt: completed.UTC().Format(time.RFC3339),
		DurationMS:  completed.Sub(started).Milliseconds(),
	}
	e.reporter.PipelineFinished(*result)
	return result
}
