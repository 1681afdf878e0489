// Copyright 2026 The Gantry Authors
// SPDX-License-Identifier: Apache-2.0

package pipelinedef

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/gantry-ci/gantry/lib/schema"
)

// variablePattern matches ${NAME} references in strings. Only the
// braced form is recognized; bare $NAME is left for shell
// interpretation. Variable names must start with a letter or
// underscore and contain only letters, digits, and underscores.
var variablePattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ResolveVariables merges variable sources according to pipeline
// resolution order (lowest to highest priority):
//
//  1. Declared defaults from the pipeline's variable declarations
//  2. Run parameters given on the command line
//  3. Environment lookup via the environ function
//
// Returns the merged variable map. Returns an error if any required
// variable (per its declaration) has no value from any source.
//
// The environ function is typically os.Getenv for production use, or
// a stub for testing. It is only consulted for variables that are
// declared in the pipeline; undeclared environment variables are not
// included in the result.
func ResolveVariables(declarations map[string]schema.Variable, parameters map[string]string, environ func(string) string) (map[string]string, error) {
	resolved := make(map[string]string, len(declarations)+len(parameters))

	// Start with declared defaults (lowest priority).
	for name, declaration := range declarations {
		if declaration.Default != "" {
			resolved[name] = declaration.Default
		}
	}

	// Overlay run parameters (medium priority).
	for name, value := range parameters {
		resolved[name] = value
	}

	// Overlay environment values for declared variables (highest
	// priority). Only declared variables are looked up, never the
	// entire process environment.
	if environ != nil {
		for name := range declarations {
			if value := environ(name); value != "" {
				resolved[name] = value
			}
		}
	}

	// Check that all required variables have a value.
	var missing []string
	for name, declaration := range declarations {
		if declaration.Required {
			if _, exists := resolved[name]; !exists {
				missing = append(missing, name)
			}
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("required pipeline variables not set: %s", strings.Join(missing, ", "))
	}

	return resolved, nil
}

// Expand replaces ${NAME} references in input with values from the
// variables map. Only the ${NAME} form is recognized (braces required);
// bare $NAME is left for shell interpretation.
//
// Returns an error listing all referenced variables that have no value
// in the map. This ensures pipeline definitions fail fast on
// unresolvable references rather than producing broken commands.
func Expand(input string, variables map[string]string) (string, error) {
	var unresolved []string

	result := variablePattern.ReplaceAllStringFunc(input, func(match string) string {
		// Extract the variable name from ${NAME}.
		name := match[2 : len(match)-1]
		if value, exists := variables[name]; exists {
			return value
		}
		unresolved = append(unresolved, name)
		return match
	})

	if len(unresolved) > 0 {
		return "", fmt.Errorf("unresolved pipeline variables: %s", strings.Join(unresolved, ", "))
	}

	return result, nil
}

// ExpandPipeline returns a copy of pipeline with ${NAME} references
// expanded in every field that reaches a shell or the filesystem:
// stage command run strings, service run and ready commands, deploy
// secret paths, and env values at every level.
//
// Pipeline-level Env values are expanded first (against the given
// variables only), then merged into the variable map for expanding
// everything else. Per-command and per-service Env values behave the
// same way at their own scope, so a run string can reference its env
// entries with ${NAME} and see their resolved values.
//
// The original pipeline and variables map are not modified.
func ExpandPipeline(pipeline *schema.Pipeline, variables map[string]string) (*schema.Pipeline, error) {
	expanded := *pipeline

	pipelineEnv, err := expandEnv(pipeline.Env, variables)
	if err != nil {
		return nil, fmt.Errorf("env: %w", err)
	}
	expanded.Env = pipelineEnv
	merged := mergeVariables(variables, pipelineEnv)

	if len(pipeline.Services) > 0 {
		expanded.Services = make([]schema.Service, len(pipeline.Services))
		for index, service := range pipeline.Services {
			expandedService, err := expandService(service, merged)
			if err != nil {
				return nil, fmt.Errorf("services[%d] %q: %w", index, service.Name, err)
			}
			expanded.Services[index] = expandedService
		}
	}

	if expanded.Install, err = expandCommands(schema.StageInstall, pipeline.Install, merged); err != nil {
		return nil, err
	}
	if expanded.Script, err = expandCommands(schema.StageScript, pipeline.Script, merged); err != nil {
		return nil, err
	}
	if expanded.Build, err = expandCommands(schema.StageBuild, pipeline.Build, merged); err != nil {
		return nil, err
	}

	if pipeline.Deploy != nil {
		deploy := *pipeline.Deploy
		if deploy.Commands, err = expandCommands(schema.StageDeploy, pipeline.Deploy.Commands, merged); err != nil {
			return nil, err
		}
		if len(pipeline.Deploy.Secrets) > 0 {
			deploy.Secrets = make(map[string]string, len(pipeline.Deploy.Secrets))
			for name, secretPath := range pipeline.Deploy.Secrets {
				expandedPath, err := Expand(secretPath, merged)
				if err != nil {
					return nil, fmt.Errorf("deploy.secrets[%s]: %w", name, err)
				}
				deploy.Secrets[name] = expandedPath
			}
		}
		expanded.Deploy = &deploy
	}

	return &expanded, nil
}

// expandCommands expands a stage's command list. stage names the stage
// for error context.
func expandCommands(stage schema.StageName, commands []schema.Command, variables map[string]string) ([]schema.Command, error) {
	if commands == nil {
		return nil, nil
	}
	prefix := string(stage)
	if stage == schema.StageDeploy {
		prefix = "deploy.commands"
	}
	expanded := make([]schema.Command, len(commands))
	for index, command := range commands {
		commandEnv, err := expandEnv(command.Env, variables)
		if err != nil {
			return nil, fmt.Errorf("%s[%d] env: %w", prefix, index, err)
		}
		command.Env = commandEnv
		if command.Run, err = Expand(command.Run, mergeVariables(variables, commandEnv)); err != nil {
			return nil, fmt.Errorf("%s[%d] run: %w", prefix, index, err)
		}
		expanded[index] = command
	}
	return expanded, nil
}

// expandService expands a service's run and ready commands and its env
// values.
func expandService(service schema.Service, variables map[string]string) (schema.Service, error) {
	serviceEnv, err := expandEnv(service.Env, variables)
	if err != nil {
		return schema.Service{}, fmt.Errorf("env: %w", err)
	}
	service.Env = serviceEnv
	merged := mergeVariables(variables, serviceEnv)
	if service.Run, err = Expand(service.Run, merged); err != nil {
		return schema.Service{}, fmt.Errorf("run: %w", err)
	}
	if service.Ready, err = Expand(service.Ready, merged); err != nil {
		return schema.Service{}, fmt.Errorf("ready: %w", err)
	}
	return service, nil
}

// expandEnv expands each value in an env map against variables. Env
// entries do not cross-reference each other.
func expandEnv(env map[string]string, variables map[string]string) (map[string]string, error) {
	if len(env) == 0 {
		return nil, nil
	}
	expanded := make(map[string]string, len(env))
	for name, value := range env {
		expandedValue, err := Expand(value, variables)
		if err != nil {
			return nil, fmt.Errorf("[%s]: %w", name, err)
		}
		expanded[name] = expandedValue
	}
	return expanded, nil
}

// mergeVariables overlays extra onto base in a new map. Extra wins on
// conflict. A nil extra returns base unchanged (no copy).
func mergeVariables(base, extra map[string]string) map[string]string {
	if len(extra) == 0 {
		return base
	}
	merged := make(map[string]string, len(base)+len(extra))
	for name, value := range base {
		merged[name] = value
	}
	for name, value := range extra {
		merged[name] = value
	}
	return merged
}

// sortedKeys returns the map's keys in sorted order, for deterministic
// issue lists and error messages.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
