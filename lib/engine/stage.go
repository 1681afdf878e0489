// Copyright 2026 The Gantry Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/gantry-ci/gantry/lib/buildlog"
	"github.com/gantry-ci/gantry/lib/matrix"
	"github.com/gantry-ci/gantry/lib/schema"
	"github.com/gantry-ci/gantry/lib/shell"
)

// stageContext carries the per-entry state a stage needs: which entry
// is running, the environment every command inherits, and where
// captured output goes.
type stageContext struct {
	entry matrix.Entry

	// baseEnv is the merged pipeline/axis/runtime environment. Each
	// command's own Env is merged over it.
	baseEnv map[string]string

	// secretEnv holds deploy credentials. Merged last, so a secret
	// always wins a name collision with an env declaration. Nil
	// outside the deploy stage.
	secretEnv map[string]string

	// runID names the build-log directory for this pipeline execution.
	runID string
}

// executeStage runs a stage's commands strictly in declared order,
// stopping at the first command that fails or cannot be started.
// Commands after the stop and disabled entries are recorded as
// skipped, so the result always has one entry per declared command.
// A stage with no enabled commands trivially succeeds.
func (e *Engine) executeStage(ctx context.Context, stage schema.StageName, commands []schema.Command, sc stageContext) schema.StageResult {
	e.reporter.StageStarted(sc.entry, stage, len(commands))
	started := e.clock.Now()

	result := schema.StageResult{
		Stage:       stage,
		Status:      schema.StageOK,
		FailedIndex: -1,
		Commands:    make([]schema.CommandResult, 0, len(commands)),
	}

	stopped := false
	for index := range commands {
		command := &commands[index]

		var commandResult schema.CommandResult
		switch {
		case !command.IsEnabled():
			commandResult = schema.CommandResult{
				Name:     command.DisplayName(),
				Status:   schema.CommandSkipped,
				ExitCode: -1,
			}
		case stopped:
			// Fail-fast: a previous command already stopped the stage.
			commandResult = schema.CommandResult{
				Name:     command.DisplayName(),
				Status:   schema.CommandSkipped,
				ExitCode: -1,
			}
		default:
			commandResult = e.executeCommand(ctx, stage, index, command, sc)
			switch commandResult.Status {
			case schema.CommandFailed, schema.CommandFault:
				result.Status = schema.StageFailed
				result.FailedIndex = index
				stopped = true
			case schema.CommandCancelled:
				result.Status = schema.StageCancelled
				stopped = true
			}
		}

		result.Commands = append(result.Commands, commandResult)
		e.reporter.CommandFinished(sc.entry, stage, index, commandResult)
	}

	result.DurationMS = e.clock.Now().Sub(started).Milliseconds()
	e.reporter.StageFinished(sc.entry, result)
	return result
}

// executeCommand runs one stage entry and classifies the outcome.
func (e *Engine) executeCommand(ctx context.Context, stage schema.StageName, index int, command *schema.Command, sc stageContext) schema.CommandResult {
	result := schema.CommandResult{
		Name:     command.DisplayName(),
		ExitCode: -1,
	}

	capture := newCaptureBuffer(e.maxCaptureBytes)
	var output io.Writer = capture
	if e.output != nil {
		output = io.MultiWriter(e.output, capture)
	}

	runResult, err := e.runner.Run(ctx, shell.Command{
		Run:         command.Run,
		Dir:         e.dir,
		Env:         commandEnv(sc, command.Env),
		Timeout:     e.commandTimeout(command),
		GracePeriod: parseDurationField(command.GracePeriod, 0),
		Stdout:      output,
		Stderr:      output,
	})
	result.ExitCode = runResult.ExitCode
	result.DurationMS = runResult.Duration.Milliseconds()
	result.Log = e.captureLog(stage, index, sc, capture)

	switch {
	case err == nil && runResult.ExitCode == 0:
		result.Status = schema.CommandOK
	case err == nil:
		result.Status = schema.CommandFailed
		result.Error = fmt.Sprintf("exit code %d", runResult.ExitCode)
	case errors.Is(err, shell.ErrNotStarted):
		// The command never ran: a fault, not a verdict on the code
		// under test.
		result.Status = schema.CommandFault
		result.Error = err.Error()
	case errors.Is(err, shell.ErrTimeout):
		result.Status = schema.CommandFailed
		result.Error = err.Error()
	case ctx.Err() != nil:
		result.Status = schema.CommandCancelled
		result.Error = "cancelled"
	default:
		result.Status = schema.CommandFault
		result.Error = err.Error()
	}
	return result
}

// captureLog writes a command's captured output to the build-log store
// and returns the reference. Best-effort: store failures are logged
// and the command result simply carries no log reference.
func (e *Engine) captureLog(stage schema.StageName, index int, sc stageContext, capture *captureBuffer) *schema.LogRef {
	if e.buildLogs == nil {
		return nil
	}

	ref, err := e.buildLogs.Write(buildlog.Coordinates{
		Run:   sc.runID,
		Entry: sc.entry.Name,
		Stage: stage,
		Index: index,
	}, capture.Bytes())
	if err != nil {
		e.logger.Warn("command output capture failed",
			"entry", sc.entry.Name,
			"stage", string(stage),
			"index", index,
			"error", err,
		)
		return nil
	}
	if capture.Truncated() {
		ref.Truncated = true
	}
	return ref
}

// commandTimeout resolves a command's execution bound: its own timeout
// field when set, otherwise the engine default. Zero means unbounded.
func (e *Engine) commandTimeout(command *schema.Command) time.Duration {
	if command.Timeout != "" {
		return parseDurationField(command.Timeout, e.defaultTimeout)
	}
	return e.defaultTimeout
}

// parseDurationField parses a duration string that validation has
// already vetted, falling back when unset or unparseable.
func parseDurationField(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

// commandEnv builds one command's environment: the stage context's
// base environment, the command's own entries over it, and deploy
// secrets last.
func commandEnv(sc stageContext, commandEnv map[string]string) map[string]string {
	size := len(sc.baseEnv) + len(commandEnv) + len(sc.secretEnv)
	if size == 0 {
		return nil
	}
	env := make(map[string]string, size)
	for name, value := range sc.baseEnv {
		env[name] = value
	}
	for name, value := range commandEnv {
		env[name] = value
	}
	for name, value := range sc.secretEnv {
		env[name] = value
	}
	return env
}

// captureBuffer accumulates command output up to a byte limit. Writes
// past the limit are counted but not stored, so a runaway command
// cannot hold the whole log in memory; the stream writer still
// receives everything.
type captureBuffer struct {
	limit     int64
	data      []byte
	truncated bool
}

func newCaptureBuffer(limit int64) *captureBuffer {
	return &captureBuffer{limit: limit}
}

func (b *captureBuffer) Write(p []byte) (int, error) {
	remaining := b.limit - int64(len(b.data))
	switch {
	case remaining <= 0:
		b.truncated = true
	case int64(len(p)) > remaining:
		b.data = append(b.data, p[:remaining]...)
		b.truncated = true
	default:
		b.data = append(b.data, p...)
	}
	return len(p), nil
}

// Bytes returns the captured output, up to the limit.
func (b *captureBuffer) Bytes() []byte { return b.data }

// Truncated reports whether output beyond the limit was discarded.
func (b *captureBuffer) Truncated() bool { return b.truncated }
