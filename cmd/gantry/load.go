// Copyright 2026 The Gantry Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"github.com/gantry-ci/gantry/lib/config"
	"github.com/gantry-ci/gantry/lib/pipelinedef"
	"github.com/gantry-ci/gantry/lib/schema"
)

// readPipeline loads the pipeline definition named by the first
// positional argument, or searches the current directory for a
// default definition file when no argument is given. Returns the
// parsed pipeline and the path it came from.
func readPipeline(args []string) (*schema.Pipeline, string, error) {
	if len(args) > 0 {
		pipeline, err := pipelinedef.ReadFile(args[0])
		if err != nil {
			return nil, "", err
		}
		return pipeline, args[0], nil
	}
	return pipelinedef.ReadDefault(".")
}

// loadConfig resolves and validates the runner configuration. An
// explicit path (from --config) wins over GANTRY_CONFIG; with neither
// set the built-in defaults apply.
func loadConfig(path string) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if path != "" {
		cfg, err = config.LoadFile(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
