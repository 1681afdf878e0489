// Copyright 2026 The Gantry Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"errors"
	"fmt"
)

// ResultVersion is the current schema version for PipelineResult
// records. Increment when adding fields that existing readers (the
// JSONL result log, the history store) must not silently drop.
const ResultVersion = 1

// RunStatus is the lifecycle status of a single matrix entry's run.
type RunStatus string

// Run statuses. Pending and Running are transient; the other three are
// terminal. Cancelled is distinct from Failed: it means the run was
// interrupted from outside (signal, context cancellation), not that a
// command failed.
const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// Terminal reports whether the status is a final outcome.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunSucceeded, RunFailed, RunCancelled:
		return true
	default:
		return false
	}
}

// Validate checks that the status is a known value.
func (s RunStatus) Validate() error {
	switch s {
	case RunPending, RunRunning, RunSucceeded, RunFailed, RunCancelled:
		return nil
	case "":
		return errors.New("run status is required")
	default:
		return fmt.Errorf("unknown run status %q", string(s))
	}
}

// Phase is a position in the run state machine. Each run advances
// through the phases in order: pending, installing, scripting,
// building, then either deploy evaluation followed by deploying or
// deploy-skipped, before reaching a terminal RunStatus. A failed or
// cancelled stage ends the run at its current phase.
type Phase string

// Run phases, in order of occurrence.
const (
	PhasePending          Phase = "pending"
	PhaseInstalling       Phase = "installing"
	PhaseScripting        Phase = "scripting"
	PhaseBuilding         Phase = "building"
	PhaseDeployEvaluating Phase = "deploy-evaluating"
	PhaseDeploying        Phase = "deploying"
	PhaseDeploySkipped    Phase = "deploy-skipped"
)

// Validate checks that the phase is a known value.
func (p Phase) Validate() error {
	switch p {
	case PhasePending, PhaseInstalling, PhaseScripting, PhaseBuilding,
		PhaseDeployEvaluating, PhaseDeploying, PhaseDeploySkipped:
		return nil
	case "":
		return errors.New("phase is required")
	default:
		return fmt.Errorf("unknown phase %q", string(p))
	}
}

// StagePhase returns the phase a run is in while executing the given
// stage.
func StagePhase(stage StageName) Phase {
	switch stage {
	case StageInstall:
		return PhaseInstalling
	case StageScript:
		return PhaseScripting
	case StageBuild:
		return PhaseBuilding
	case StageDeploy:
		return PhaseDeploying
	default:
		return PhasePending
	}
}

// StageStatus is the outcome of one stage within a run.
type StageStatus string

// Stage statuses. A stage that was never reached (because an earlier
// stage failed) produces no StageResult at all rather than a status.
const (
	StageOK        StageStatus = "ok"
	StageFailed    StageStatus = "failed"
	StageSkipped   StageStatus = "skipped"
	StageCancelled StageStatus = "cancelled"
)

// Validate checks that the status is a known value.
func (s StageStatus) Validate() error {
	switch s {
	case StageOK, StageFailed, StageSkipped, StageCancelled:
		return nil
	case "":
		return errors.New("stage status is required")
	default:
		return fmt.Errorf("unknown stage status %q", string(s))
	}
}

// CommandStatus is the outcome of one command within a stage.
type CommandStatus string

// Command statuses. "failed" means the command ran and exited nonzero.
// "fault" means the command could not be run at all (missing
// interpreter, launch error); the distinction matters because a fault
// says nothing about the code under test. "skipped" covers disabled
// entries and commands after a fail-fast stop.
const (
	CommandOK        CommandStatus = "ok"
	CommandFailed    CommandStatus = "failed"
	CommandFault     CommandStatus = "fault"
	CommandSkipped   CommandStatus = "skipped"
	CommandCancelled CommandStatus = "cancelled"
)

// Validate checks that the status is a known value.
func (s CommandStatus) Validate() error {
	switch s {
	case CommandOK, CommandFailed, CommandFault, CommandSkipped, CommandCancelled:
		return nil
	case "":
		return errors.New("command status is required")
	default:
		return fmt.Errorf("unknown command status %q", string(s))
	}
}

// LogRef points at a command's captured output in the build-log store.
type LogRef struct {
	// Path is the log file location, relative to the store root.
	Path string `json:"path"`

	// Digest is the hex BLAKE3 digest of the uncompressed output.
	Digest string `json:"digest,omitempty"`

	// SizeBytes is the uncompressed output length.
	SizeBytes int64 `json:"size_bytes"`

	// Compression names the on-disk encoding ("none", "lz4", "zstd").
	Compression string `json:"compression,omitempty"`

	// Truncated is true when the command produced more output than the
	// capture limit; the stored log holds only the leading portion.
	Truncated bool `json:"truncated,omitempty"`
}

// CommandResult records the outcome of a single command.
type CommandResult struct {
	// Name is the command's display identifier (explicit name or the
	// run string).
	Name string `json:"name"`

	// Status is the command outcome.
	Status CommandStatus `json:"status"`

	// ExitCode is the process exit code. Meaningful only when Status
	// is "ok" or "failed"; -1 otherwise.
	ExitCode int `json:"exit_code"`

	// DurationMS is the command's wall-clock time in milliseconds.
	DurationMS int64 `json:"duration_ms"`

	// Log references the captured combined output, when capture was
	// enabled.
	Log *LogRef `json:"log,omitempty"`

	// Error is the failure detail: "exit code N" for a nonzero exit,
	// otherwise the fault, timeout, or cancellation message. Empty
	// for ok and skipped commands.
	Error string `json:"error,omitempty"`
}

// Validate checks that the command result has valid required fields.
func (c *CommandResult) Validate() error {
	if c.Name == "" {
		return errors.New("command result: name is required")
	}
	if err := c.Status.Validate(); err != nil {
		return fmt.Errorf("command result: %w", err)
	}
	return nil
}

// StageResult records the outcome of one stage: the per-command
// results in execution order and, on failure, which command stopped
// the stage.
type StageResult struct {
	// Stage is which stage this result describes.
	Stage StageName `json:"stage"`

	// Status is the stage outcome.
	Status StageStatus `json:"status"`

	// FailedIndex is the zero-based index of the command that failed
	// or faulted, stopping the stage. -1 when the stage succeeded,
	// was skipped, or was cancelled before any command failed.
	FailedIndex int `json:"failed_index"`

	// Commands records each entry's outcome in declaration order.
	// Entries after a fail-fast stop are present with status
	// "skipped".
	Commands []CommandResult `json:"commands,omitempty"`

	// DurationMS is the stage's wall-clock time in milliseconds.
	DurationMS int64 `json:"duration_ms"`
}

// Validate checks that the stage result has valid required fields.
func (s *StageResult) Validate() error {
	if err := s.Stage.Validate(); err != nil {
		return fmt.Errorf("stage result: %w", err)
	}
	if err := s.Status.Validate(); err != nil {
		return fmt.Errorf("stage result: %w", err)
	}
	if s.Status == StageFailed && s.FailedIndex < 0 {
		return errors.New("stage result: failed stage must record the failing command index")
	}
	for i := range s.Commands {
		if err := s.Commands[i].Validate(); err != nil {
			return fmt.Errorf("stage result: commands[%d]: %w", i, err)
		}
	}
	return nil
}

// Deploy gate condition names, used in DeployCheck.Condition.
const (
	CheckRepository = "repository"
	CheckTag        = "tag"
	CheckBranch     = "branch"
	CheckRuntime    = "runtime"
)

// DeployCheck records the evaluation of one declared gate condition.
type DeployCheck struct {
	// Condition names the condition ("repository", "tag", "branch",
	// "runtime").
	Condition string `json:"condition"`

	// Passed reports whether the condition held.
	Passed bool `json:"passed"`

	// Want is the declared requirement, as a display string.
	Want string `json:"want"`

	// Got is the observed input, as a display string.
	Got string `json:"got"`
}

// DeployDecision records a deploy gate evaluation: the overall verdict
// and one check per declared condition. A false decision is
// informational, not an error; the run still succeeds with deploy
// skipped.
type DeployDecision struct {
	// Allowed is the conjunction of all checks. True when no
	// conditions are declared.
	Allowed bool `json:"allowed"`

	// Checks records each declared condition's evaluation, in a fixed
	// order (repository, tag, branch, runtime). Undeclared conditions
	// do not appear.
	Checks []DeployCheck `json:"checks,omitempty"`
}

// FailedConditions returns the names of the checks that did not pass.
func (d *DeployDecision) FailedConditions() []string {
	var failed []string
	for _, check := range d.Checks {
		if !check.Passed {
			failed = append(failed, check.Condition)
		}
	}
	return failed
}

// RunResult records the complete outcome of one matrix entry's run.
type RunResult struct {
	// Entry is the matrix entry's display name (e.g., "3.7" or
	// "3.8/TOXENV=lint").
	Entry string `json:"entry"`

	// Runtime is the entry's runtime version.
	Runtime string `json:"runtime,omitempty"`

	// Status is the terminal run status.
	Status RunStatus `json:"status"`

	// Stages records each executed stage in order. Stages never
	// reached are not included.
	Stages []StageResult `json:"stages,omitempty"`

	// Deploy records the gate evaluation. Nil when the run has no
	// deploy configuration or failed before deploy evaluation.
	Deploy *DeployDecision `json:"deploy,omitempty"`

	// FailedStage names the stage that caused a failed status. Empty
	// otherwise.
	FailedStage StageName `json:"failed_stage,omitempty"`

	// FailedIndex is the failing command's index within FailedStage.
	// -1 when no command failure occurred.
	FailedIndex int `json:"failed_index"`

	// Error is the failure or fault message. Empty on success.
	Error string `json:"error,omitempty"`

	// StartedAt and CompletedAt are ISO 8601 timestamps.
	StartedAt   string `json:"started_at"`
	CompletedAt string `json:"completed_at"`

	// DurationMS is the run's wall-clock time in milliseconds.
	DurationMS int64 `json:"duration_ms"`
}

// Validate checks that the run result has valid required fields.
func (r *RunResult) Validate() error {
	if r.Entry == "" {
		return errors.New("run result: entry is required")
	}
	if err := r.Status.Validate(); err != nil {
		return fmt.Errorf("run result: %w", err)
	}
	if !r.Status.Terminal() {
		return fmt.Errorf("run result: status %q is not terminal", string(r.Status))
	}
	if r.Status == RunFailed && r.FailedStage == "" && r.Error == "" {
		return errors.New("run result: failed run must record a failed stage or an error")
	}
	for i := range r.Stages {
		if err := r.Stages[i].Validate(); err != nil {
			return fmt.Errorf("run result: stages[%d]: %w", i, err)
		}
	}
	return nil
}

// PipelineResult records the overall outcome of a pipeline execution
// across every matrix entry.
type PipelineResult struct {
	// Version is the schema version (see ResultVersion).
	Version int `json:"version"`

	// Pipeline is the pipeline's name (derived from its file path).
	Pipeline string `json:"pipeline"`

	// Status is the overall outcome: failed if any run failed,
	// cancelled if any run was cancelled and none failed, succeeded
	// otherwise.
	Status RunStatus `json:"status"`

	// Runs records each matrix entry's result in expansion order.
	Runs []RunResult `json:"runs,omitempty"`

	// StartedAt and CompletedAt are ISO 8601 timestamps.
	StartedAt   string `json:"started_at"`
	CompletedAt string `json:"completed_at"`

	// DurationMS is the total wall-clock time in milliseconds.
	DurationMS int64 `json:"duration_ms"`
}

// OverallStatus derives the pipeline-level status from a set of
// terminal run results: failed dominates, then cancelled, then
// succeeded.
func OverallStatus(runs []RunResult) RunStatus {
	status := RunSucceeded
	for i := range runs {
		switch runs[i].Status {
		case RunFailed:
			return RunFailed
		case RunCancelled:
			status = RunCancelled
		}
	}
	return status
}

// Validate checks that the pipeline result has valid required fields.
func (p *PipelineResult) Validate() error {
	if p.Version < 1 {
		return fmt.Errorf("pipeline result: version must be >= 1, got %d", p.Version)
	}
	if p.Pipeline == "" {
		return errors.New("pipeline result: pipeline is required")
	}
	if err := p.Status.Validate(); err != nil {
		return fmt.Errorf("pipeline result: %w", err)
	}
	for i := range p.Runs {
		if err := p.Runs[i].Validate(); err != nil {
			return fmt.Errorf("pipeline result: runs[%d]: %w", i, err)
		}
	}
	return nil
}
