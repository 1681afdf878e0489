// Copyright 2026 The Gantry Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for the Gantry
// runner.
//
// Configuration is loaded from a single file specified by either the
// GANTRY_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There are no fallbacks, no ~/.config discovery,
// and no automatic file search. When neither source names a file, the
// built-in defaults apply unchanged; this ensures deterministic,
// auditable configuration with no hidden overrides.
//
// The configuration covers runner-level knobs only: the shell commands
// run under, where captured build logs and run history live, and the
// default command timeout. Pipeline definitions are separate documents
// (see lib/pipelinedef) and are never merged into this file.
//
// Variable expansion is performed on path fields after loading:
// ${HOME}, ${GANTRY_ROOT}, and ${VAR:-default} patterns are expanded.
// No other environment variables override config values.
//
// Key exports:
//
//   - [Config] -- master struct with Shell, BuildLogs, History, Run
//   - [Default] -- returns a Config with the built-in defaults
//   - [Load] and [LoadFile] -- the two entry points for loading
//
// This package depends on no other Gantry packages.
package config
