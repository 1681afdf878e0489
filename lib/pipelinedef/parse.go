// Copyright 2026 The Gantry Authors
// SPDX-License-Identifier: Apache-2.0

// Package pipelinedef loads pipeline definitions from disk: parsing
// (YAML or JSONC), whole-document validation, and ${NAME} variable
// resolution. The parsed form is [schema.Pipeline]; this package owns
// everything between the file on disk and a definition the engine can
// execute.
package pipelinedef

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/gantry-ci/gantry/lib/schema"
)

// DefaultFileNames are the definition files ReadDefault looks for, in
// order, when no pipeline file is given on the command line.
var DefaultFileNames = []string{"gantry.yml", "gantry.yaml", "gantry.jsonc", "gantry.json"}

// Parse parses a YAML pipeline definition. Unknown fields are ignored;
// use Validate to catch structural problems.
func Parse(data []byte) (*schema.Pipeline, error) {
	var pipeline schema.Pipeline
	if err := yaml.Unmarshal(data, &pipeline); err != nil {
		return nil, fmt.Errorf("parsing pipeline definition: %w", err)
	}
	return &pipeline, nil
}

// ParseJSONC parses a JSONC pipeline definition. JSONC is JSON with
// comments and trailing commas, the authoring format for definitions
// kept next to other machine-edited config.
func ParseJSONC(data []byte) (*schema.Pipeline, error) {
	var pipeline schema.Pipeline
	if err := json.Unmarshal(jsonc.ToJSON(data), &pipeline); err != nil {
		return nil, fmt.Errorf("parsing pipeline definition: %w", err)
	}
	return &pipeline, nil
}

// ReadFile reads and parses a pipeline definition file. The format is
// chosen by extension: .json and .jsonc parse as JSONC, everything
// else as YAML.
func ReadFile(path string) (*schema.Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading pipeline definition: %w", err)
	}
	var pipeline *schema.Pipeline
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		pipeline, err = ParseJSONC(data)
	default:
		pipeline, err = Parse(data)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return pipeline, nil
}

// ReadDefault looks for a definition file with one of the
// DefaultFileNames in directory and parses the first one found.
// Returns the parsed pipeline and the path it came from.
func ReadDefault(directory string) (*schema.Pipeline, string, error) {
	for _, name := range DefaultFileNames {
		path := filepath.Join(directory, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		pipeline, err := ReadFile(path)
		if err != nil {
			return nil, "", err
		}
		return pipeline, path, nil
	}
	return nil, "", fmt.Errorf("no pipeline definition found in %s (looked for %s)",
		directory, strings.Join(DefaultFileNames, ", "))
}

// NameFromPath derives a pipeline name from a file path by stripping
// the directory and extension: "ci/release.yml" becomes "release".
func NameFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
