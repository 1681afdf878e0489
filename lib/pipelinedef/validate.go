// Copyright 2026 The Gantry Authors
// SPDX-License-Identifier: Apache-2.0

package pipelinedef

import (
	"fmt"
	"path"
	"regexp"
	"time"

	"github.com/gantry-ci/gantry/lib/schema"
)

// envNamePattern matches valid environment variable identifiers: the
// names accepted for env keys, axes, variables, and deploy secrets.
var envNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Validate checks a pipeline definition for structural issues. Returns
// a list of human-readable issue descriptions. An empty list means the
// definition is valid.
//
// Unlike [schema.Pipeline.Validate], which stops at the first problem,
// this reports everything wrong with the document in one pass so an
// author can fix a definition without replaying gantry validate once
// per issue.
//
// Structural checks include:
//   - Runtime entries must be non-empty and unique
//   - Env, axis, variable, and secret names must be valid environment
//     variable identifiers
//   - Each axis must have at least one value
//   - Each service needs a unique name and a run command
//   - Each stage entry needs a run command
//   - Duration fields (timeout, grace_period, ready_timeout,
//     stop_grace) must be parseable by time.ParseDuration
//   - Deploy secret paths must be non-empty
//   - deploy.when.branch must be a valid glob pattern
//   - deploy.when.runtime must reference a declared runtime
func Validate(pipeline *schema.Pipeline) []string {
	var issues []string

	seenRuntimes := make(map[string]bool, len(pipeline.Runtimes))
	for index, runtime := range pipeline.Runtimes {
		if runtime == "" {
			issues = append(issues, fmt.Sprintf("runtimes[%d]: empty runtime version", index))
			continue
		}
		if seenRuntimes[runtime] {
			issues = append(issues, fmt.Sprintf("runtimes[%d]: duplicate runtime %q", index, runtime))
		}
		seenRuntimes[runtime] = true
	}

	for _, name := range sortedKeys(pipeline.Env) {
		if !envNamePattern.MatchString(name) {
			issues = append(issues, fmt.Sprintf("env: %q is not a valid environment variable name", name))
		}
	}

	for _, name := range sortedKeys(pipeline.Axes) {
		if !envNamePattern.MatchString(name) {
			issues = append(issues, fmt.Sprintf("axes: %q is not a valid environment variable name", name))
		}
		if len(pipeline.Axes[name]) == 0 {
			issues = append(issues, fmt.Sprintf("axes[%s]: no values (an axis needs at least one)", name))
		}
		for index, value := range pipeline.Axes[name] {
			if value == "" {
				issues = append(issues, fmt.Sprintf("axes[%s][%d]: empty value", name, index))
			}
		}
	}

	for _, name := range sortedKeys(pipeline.Variables) {
		if !envNamePattern.MatchString(name) {
			issues = append(issues, fmt.Sprintf("variables: %q is not a valid variable name", name))
		}
	}

	seenServices := make(map[string]bool, len(pipeline.Services))
	for index, service := range pipeline.Services {
		prefix := fmt.Sprintf("services[%d]", index)
		if service.Name == "" {
			issues = append(issues, fmt.Sprintf("%s: name is required", prefix))
		} else {
			prefix = fmt.Sprintf("services[%d] %q", index, service.Name)
			if seenServices[service.Name] {
				issues = append(issues, fmt.Sprintf("%s: duplicate service name", prefix))
			}
			seenServices[service.Name] = true
		}
		if service.Run == "" {
			issues = append(issues, fmt.Sprintf("%s: run is required", prefix))
		}
		issues = appendDurationIssue(issues, prefix, "ready_timeout", service.ReadyTimeout)
		issues = appendDurationIssue(issues, prefix, "stop_grace", service.StopGrace)
		for _, name := range sortedKeys(service.Env) {
			if !envNamePattern.MatchString(name) {
				issues = append(issues, fmt.Sprintf("%s: env name %q is not a valid environment variable name", prefix, name))
			}
		}
	}

	for _, stage := range schema.StageNames() {
		commands := pipeline.StageCommands(stage)
		stagePrefix := string(stage)
		if stage == schema.StageDeploy {
			stagePrefix = "deploy.commands"
		}
		for index, command := range commands {
			issues = append(issues, commandIssues(fmt.Sprintf("%s[%d]", stagePrefix, index), command)...)
		}
	}

	if pipeline.Deploy != nil {
		for _, name := range sortedKeys(pipeline.Deploy.Secrets) {
			if !envNamePattern.MatchString(name) {
				issues = append(issues, fmt.Sprintf("deploy.secrets: %q is not a valid environment variable name", name))
			}
			if pipeline.Deploy.Secrets[name] == "" {
				issues = append(issues, fmt.Sprintf("deploy.secrets[%s]: path is required", name))
			}
		}
		when := pipeline.Deploy.When
		if when.Branch != "" {
			if _, err := path.Match(when.Branch, ""); err != nil {
				issues = append(issues, fmt.Sprintf("deploy.when.branch: invalid pattern %q", when.Branch))
			}
		}
		if when.Runtime != "" && len(pipeline.Runtimes) > 0 && !seenRuntimes[when.Runtime] {
			issues = append(issues, fmt.Sprintf("deploy.when.runtime: %q is not a declared runtime", when.Runtime))
		}
	}

	return issues
}

// commandIssues checks a single stage entry. prefix identifies the
// entry's position, e.g. "script[1]".
func commandIssues(prefix string, command schema.Command) []string {
	var issues []string
	if command.Name != "" {
		prefix = fmt.Sprintf("%s %q", prefix, command.Name)
	}
	if command.Run == "" {
		issues = append(issues, fmt.Sprintf("%s: run is required", prefix))
	}
	issues = appendDurationIssue(issues, prefix, "timeout", command.Timeout)
	issues = appendDurationIssue(issues, prefix, "grace_period", command.GracePeriod)
	for _, name := range sortedKeys(command.Env) {
		if !envNamePattern.MatchString(name) {
			issues = append(issues, fmt.Sprintf("%s: env name %q is not a valid environment variable name", prefix, name))
		}
	}
	return issues
}

// appendDurationIssue appends an issue when a duration field is set but
// does not parse.
func appendDurationIssue(issues []string, prefix, field, value string) []string {
	if value == "" {
		return issues
	}
	if _, err := time.ParseDuration(value); err != nil {
		issues = append(issues, fmt.Sprintf("%s: invalid %s %q: %v", prefix, field, value, err))
	}
	return issues
}
