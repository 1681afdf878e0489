// Copyright 2026 The Gantry Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/gantry-ci/gantry/lib/gate"
	"github.com/gantry-ci/gantry/lib/matrix"
	"github.com/gantry-ci/gantry/lib/schema"
	"github.com/gantry-ci/gantry/lib/secret"
	"github.com/gantry-ci/gantry/lib/service"
)

// runEntry executes one matrix entry through the full stage sequence
// and returns its terminal result.
func (e *Engine) runEntry(ctx context.Context, req Request, entry matrix.Entry) schema.RunResult {
	started := e.clock.Now()
	e.reporter.RunStarted(entry)

	result := schema.RunResult{
		Entry:       entry.Name,
		Runtime:     entry.Runtime,
		Status:      schema.RunRunning,
		FailedIndex: -1,
		StartedAt:   started.UTC().Format(time.RFC3339),
	}

	sc := stageContext{
		entry:   entry,
		baseEnv: entryEnv(req.Pipeline, entry),
		runID:   req.RunID,
	}

	e.executeEntry(ctx, req, entry, sc, &result)

	completed := e.clock.Now()
	result.CompletedAt = completed.UTC().Format(time.RFC3339)
	result.DurationMS = completed.Sub(started).Milliseconds()
	e.reporter.RunFinished(result)
	return result
}

// executeEntry drives the state machine: install, script (under
// services), build, then deploy evaluation. It fills result's status,
// stages, and failure fields; timing belongs to the caller.
func (e *Engine) executeEntry(ctx context.Context, req Request, entry matrix.Entry, sc stageContext, result *schema.RunResult) {
	pipeline := req.Pipeline

	// The run may have been cancelled before its first stage, e.g. a
	// sequential sibling consumed the interrupt.
	if ctx.Err() != nil {
		result.Status = schema.RunCancelled
		result.Error = "cancelled before start"
		return
	}

	if stageSelected(req, schema.StageInstall) {
		if done := e.runPlainStage(ctx, schema.StageInstall, pipeline.Install, sc, result); done {
			return
		}
	}

	if stageSelected(req, schema.StageScript) {
		if done := e.runScriptStage(ctx, pipeline, sc, result); done {
			return
		}
	}

	if stageSelected(req, schema.StageBuild) {
		if done := e.runPlainStage(ctx, schema.StageBuild, pipeline.Build, sc, result); done {
			return
		}
	}

	if stageSelected(req, schema.StageDeploy) && pipeline.Deploy != nil {
		if done := e.runDeployStage(ctx, pipeline.Deploy, entry, sc, result); done {
			return
		}
	}

	result.Status = schema.RunSucceeded
}

// runPlainStage executes an unwrapped stage and folds its result into
// the run. Returns true when the run is over (failure or cancellation).
func (e *Engine) runPlainStage(ctx context.Context, stage schema.StageName, commands []schema.Command, sc stageContext, result *schema.RunResult) bool {
	stageResult := e.executeStage(ctx, stage, commands, sc)
	result.Stages = append(result.Stages, stageResult)
	return e.foldStage(stageResult, result)
}

// runScriptStage executes the script stage wrapped in the pipeline's
// background services. The services are started (and probed for
// readiness) before the first script command and stopped on every exit
// path. A service that fails to start fails the run without executing
// any script command, so no script stage result is recorded for it.
func (e *Engine) runScriptStage(ctx context.Context, pipeline *schema.Pipeline, sc stageContext, result *schema.RunResult) bool {
	if len(pipeline.Services) == 0 {
		return e.runPlainStage(ctx, schema.StageScript, pipeline.Script, sc, result)
	}

	manager := &service.Manager{
		Shell:  e.shell,
		Env:    sc.baseEnv,
		Output: e.serviceOutput,
		Clock:  e.clock,
		Logger: e.logger,
	}

	var stageResult schema.StageResult
	reports, err := manager.WithServices(ctx, pipeline.Services, func(ctx context.Context) error {
		stageResult = e.executeStage(ctx, schema.StageScript, pipeline.Script, sc)
		return nil
	})
	for _, report := range reports {
		if report.Err != nil {
			e.logger.Warn("service stop failed", "entry", sc.entry.Name, "service", report.Service, "error", report.Err)
		} else if report.Forced {
			e.logger.Warn("service killed after grace period", "entry", sc.entry.Name, "service", report.Service)
		}
	}

	if err != nil {
		// Startup fault: the body never ran. Cancellation during
		// startup is the run being interrupted, not a broken service.
		if ctx.Err() != nil {
			result.Status = schema.RunCancelled
			result.Error = err.Error()
			return true
		}
		result.Status = schema.RunFailed
		result.FailedStage = schema.StageScript
		result.Error = err.Error()
		return true
	}

	result.Stages = append(result.Stages, stageResult)
	return e.foldStage(stageResult, result)
}

// runDeployStage evaluates the gate and, when allowed, runs the deploy
// commands with the declared secrets in their environment.
func (e *Engine) runDeployStage(ctx context.Context, deploy *schema.Deploy, entry matrix.Entry, sc stageContext, result *schema.RunResult) bool {
	inputs := e.gateInputs
	inputs.Runtime = entry.Runtime
	decision := gate.Evaluate(inputs, deploy.When)
	result.Deploy = &decision
	e.reporter.DeployEvaluated(sc.entry, decision)

	if !decision.Allowed {
		// A closed gate is informational: the run still succeeds and
		// the deploy stage is recorded as skipped, not attempted.
		result.Stages = append(result.Stages, schema.StageResult{
			Stage:       schema.StageDeploy,
			Status:      schema.StageSkipped,
			FailedIndex: -1,
		})
		return false
	}

	if len(deploy.Secrets) > 0 {
		secrets, err := secret.LoadSet(deploy.Secrets)
		if err != nil {
			result.Status = schema.RunFailed
			result.FailedStage = schema.StageDeploy
			result.Error = fmt.Sprintf("loading deploy secrets: %v", err)
			return true
		}
		defer func() {
			if err := secrets.Close(); err != nil {
				e.logger.Warn("releasing deploy secrets failed", "entry", sc.entry.Name, "error", err)
			}
		}()
		sc.secretEnv = secrets.Env()
	}

	return e.runPlainStage(ctx, schema.StageDeploy, deploy.Commands, sc, result)
}

// foldStage folds a stage outcome into the run result. Returns true
// when the stage ended the run.
func (e *Engine) foldStage(stageResult schema.StageResult, result *schema.RunResult) bool {
	switch stageResult.Status {
	case schema.StageFailed:
		result.Status = schema.RunFailed
		result.FailedStage = stageResult.Stage
		result.FailedIndex = stageResult.FailedIndex
		result.Error = stageFailureMessage(stageResult)
		return true
	case schema.StageCancelled:
		result.Status = schema.RunCancelled
		result.Error = "cancelled"
		return true
	default:
		return false
	}
}

// stageFailureMessage renders a failed stage for RunResult.Error, e.g.
// `script[1] "invoke test": exit code 1`.
func stageFailureMessage(stageResult schema.StageResult) string {
	index := stageResult.FailedIndex
	if index < 0 || index >= len(stageResult.Commands) {
		return fmt.Sprintf("%s failed", stageResult.Stage)
	}
	command := stageResult.Commands[index]
	return fmt.Sprintf("%s[%d] %q: %s", stageResult.Stage, index, command.Name, command.Error)
}

// stageSelected reports whether a stage participates in this request.
// An empty filter selects every stage.
func stageSelected(req Request, stage schema.StageName) bool {
	return req.Stage == "" || req.Stage == stage
}

// entryEnv builds the environment shared by every command in an
// entry's run: pipeline-level env, the entry's axis assignments over
// it, and the runtime version exported as GANTRY_RUNTIME.
func entryEnv(pipeline *schema.Pipeline, entry matrix.Entry) map[string]string {
	env := make(map[string]string, len(pipeline.Env)+len(entry.Env)+1)
	for name, value := range pipeline.Env {
		env[name] = value
	}
	for name, value := range entry.Env {
		env[name] = value
	}
	if entry.Runtime != "" {
		env["GANTRY_RUNTIME"] = entry.Runtime
	}
	if len(env) == 0 {
		return nil
	}
	return env
}
