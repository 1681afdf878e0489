// Copyright 2026 The Gantry Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"github.com/gantry-ci/gantry/lib/matrix"
	"github.com/gantry-ci/gantry/lib/schema"
)

// Reporter observes pipeline execution. The engine calls each method
// at the corresponding point in the run; implementations must not
// block for long (they run on the execution path) and must be safe for
// concurrent use when entries run in parallel.
//
// Implementations that only care about a subset of events embed
// [NopReporter] and override what they need.
type Reporter interface {
	// PipelineStarted fires once per Run call, before any entry.
	PipelineStarted(pipeline string, entries []matrix.Entry)

	// RunStarted fires when an entry's run begins.
	RunStarted(entry matrix.Entry)

	// StageStarted fires before a stage's first command.
	StageStarted(entry matrix.Entry, stage schema.StageName, commandCount int)

	// CommandFinished fires after each command, including skipped
	// ones.
	CommandFinished(entry matrix.Entry, stage schema.StageName, index int, result schema.CommandResult)

	// StageFinished fires after a stage's last command.
	StageFinished(entry matrix.Entry, result schema.StageResult)

	// DeployEvaluated fires after the deploy gate is evaluated,
	// whatever the verdict.
	DeployEvaluated(entry matrix.Entry, decision schema.DeployDecision)

	// RunFinished fires when an entry's run reaches a terminal status.
	RunFinished(result schema.RunResult)

	// PipelineFinished fires once per Run call, after every entry.
	PipelineFinished(result schema.PipelineResult)
}

// NopReporter ignores every event. Embed it to implement Reporter
// partially.
type NopReporter struct{}

func (NopReporter) PipelineStarted(string, []matrix.Entry) {}
func (NopReporter) RunStarted(matrix.Entry)                {}
func (NopReporter) StageStarted(matrix.Entry, schema.StageName, int) {
}
func (NopReporter) CommandFinished(matrix.Entry, schema.StageName, int, schema.CommandResult) {}
func (NopReporter) StageFinished(matrix.Entry, schema.StageResult)                            {}
func (NopReporter) DeployEvaluated(matrix.Entry, schema.DeployDecision)                       {}
func (NopReporter) RunFinished(schema.RunResult)                                              {}
func (NopReporter) PipelineFinished(schema.PipelineResult)                                    {}

// MultiReporter fans every event out to each reporter in order.
func MultiReporter(reporters ...Reporter) Reporter {
	return multiReporter(reporters)
}

type multiReporter []Reporter

func (m multiReporter) PipelineStarted(pipeline string, entries []matrix.Entry) {
	for _, reporter := range m {
		reporter.PipelineStarted(pipeline, entries)
	}
}

func (m multiReporter) RunStarted(entry matrix.Entry) {
	for _, reporter := range m {
		reporter.RunStarted(entry)
	}
}

func (m multiReporter) StageStarted(entry matrix.Entry, stage schema.StageName, commandCount int) {
	for _, reporter := range m {
		reporter.StageStarted(entry, stage, commandCount)
	}
}

func (m multiReporter) CommandFinished(entry matrix.Entry, stage schema.StageName, index int, result schema.CommandResult) {
	for _, reporter := range m {
		reporter.CommandFinished(entry, stage, index, result)
	}
}

func (m multiReporter) StageFinished(entry matrix.Entry, result schema.StageResult) {
	for _, reporter := range m {
		reporter.StageFinished(entry, result)
	}
}

func (m multiReporter) DeployEvaluated(entry matrix.Entry, decision schema.DeployDecision) {
	for _, reporter := range m {
		reporter.DeployEvaluated(entry, decision)
	}
}

func (m multiReporter) RunFinished(result schema.RunResult) {
	for _, reporter := range m {
		reporter.RunFinished(result)
	}
}

func (m multiReporter) PipelineFinished(result schema.PipelineResult) {
	for _, reporter := range m {
		reporter.PipelineFinished(result)
	}
}
