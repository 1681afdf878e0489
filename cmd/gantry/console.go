// Copyright 2026 The Gantry Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/gantry-ci/gantry/lib/engine"
	"github.com/gantry-ci/gantry/lib/matrix"
	"github.com/gantry-ci/gantry/lib/schema"
)

// consoleReporter prints one progress line per execution event,
// prefixed with "[gantry]" and the matrix entry concerned. Command
// output itself streams separately (the engine's Output writer); these
// lines are the structure around it.
//
// The mutex keeps lines whole when entries run in parallel; which
// entry's line comes first is then scheduling-dependent, but every
// line names its entry.
type consoleReporter struct {
	mu  sync.Mutex
	out io.Writer
}

func newConsoleReporter(out io.Writer) *consoleReporter {
	return &consoleReporter{out: out}
}

func (r *consoleReporter) printf(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, format, args...)
}

func (r *consoleReporter) PipelineStarted(pipeline string, entries []matrix.Entry) {
	r.printf("[gantry] %s: starting (%d matrix entries)\n", pipeline, len(entries))
}

func (r *consoleReporter) RunStarted(entry matrix.Entry) {
	r.printf("[gantry] %s: starting\n", entry.Name)
}

func (r *consoleReporter) StageStarted(entry matrix.Entry, stage schema.StageName, commandCount int) {
	r.printf("[gantry] %s: %s (%d commands)\n", entry.Name, stage, commandCount)
}

func (r *consoleReporter) CommandFinished(entry matrix.Entry, stage schema.StageName, index int, result schema.CommandResult) {
	switch result.Status {
	case schema.CommandOK:
		r.printf("[gantry] %s: %s[%d] %s... ok (%s)\n",
			entry.Name, stage, index, result.Name, formatDuration(result.DurationMS))
	case schema.CommandFailed:
		r.printf("[gantry] %s: %s[%d] %s... failed (exit code %d)\n",
			entry.Name, stage, index, result.Name, result.ExitCode)
	case schema.CommandFault:
		r.printf("[gantry] %s: %s[%d] %s... fault: %s\n",
			entry.Name, stage, index, result.Name, result.Error)
	case schema.CommandSkipped:
		r.printf("[gantry] %s: %s[%d] %s... skipped\n",
			entry.Name, stage, index, result.Name)
	case schema.CommandCancelled:
		r.printf("[gantry] %s: %s[%d] %s... cancelled\n",
			entry.Name, stage, index, result.Name)
	}
}

func (r *consoleReporter) StageFinished(entry matrix.Entry, result schema.StageResult) {
	// Command lines already tell the story; only a stage skipped as a
	// whole (closed deploy gate) would otherwise be silent, and
	// DeployEvaluated covers that.
}

func (r *consoleReporter) DeployEvaluated(entry matrix.Entry, decision schema.DeployDecision) {
	if decision.Allowed {
		r.printf("[gantry] %s: deploy gate open\n", entry.Name)
		return
	}
	r.printf("[gantry] %s: deploy gate closed (%s), deploy skipped\n",
		entry.Name, strings.Join(decision.FailedConditions(), ", "))
}

func (r *consoleReporter) RunFinished(result schema.RunResult) {
	switch result.Status {
	case schema.RunSucceeded:
		r.printf("[gantry] %s: succeeded (%s)\n", result.Entry, formatDuration(result.DurationMS))
	case schema.RunCancelled:
		r.printf("[gantry] %s: cancelled\n", result.Entry)
	default:
		r.printf("[gantry] %s: failed: %s (%s)\n",
			result.Entry, result.Error, formatDuration(result.DurationMS))
	}
}

func (r *consoleReporter) PipelineFinished(result schema.PipelineResult) {
	switch result.Status {
	case schema.RunSucceeded:
		r.printf("[gantry] %s: complete (%s)\n", result.Pipeline, formatDuration(result.DurationMS))
	case schema.RunCancelled:
		r.printf("[gantry] %s: cancelled (%s)\n", result.Pipeline, formatDuration(result.DurationMS))
	default:
		r.printf("[gantry] %s: failed (%s)\n", result.Pipeline, formatDuration(result.DurationMS))
	}
}

var _ engine.Reporter = (*consoleReporter)(nil)

func formatDuration(durationMS int64) string {
	return fmt.Sprintf("%.1fs", time.Duration(durationMS*int64(time.Millisecond)).Seconds())
}
