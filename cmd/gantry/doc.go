// Copyright 2026 The Gantry Authors
// SPDX-License-Identifier: Apache-2.0

// Gantry is the CLI for running declarative CI pipelines locally. It
// provides subcommands for executing a pipeline across its runtime
// matrix (run), checking a definition without executing it (validate,
// show, matrix), and inspecting past runs recorded in the history
// database (history).
//
// A pipeline definition is a YAML or JSONC file with install, script,
// build, and deploy stages; gantry run expands the runtime matrix,
// runs every entry fail-fast, wraps the script stage in the declared
// background services, and evaluates the deploy gate against the
// repository state (detected from git or overridden by flags).
package main
