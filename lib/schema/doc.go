// Copyright 2026 The Gantry Authors
// SPDX-License-Identifier: Apache-2.0

// Package schema defines the pipeline definition and result types that
// constitute gantry's data model. A [Pipeline] is the parsed form of a
// pipeline definition document (YAML or JSONC): the runtime matrix,
// background services, the four fixed stages (install, script, build,
// deploy), and the deploy gate conditions.
//
// Result types record what happened when a pipeline ran:
//
//   - [PipelineResult] is the overall outcome across all matrix entries
//   - [RunResult] is one matrix entry's outcome, including its state
//     machine terminus and deploy decision
//   - [StageResult] and [CommandResult] record per-stage and
//     per-command outcomes, including the fail-fast index
//   - [DeployDecision] records the gate evaluation with one
//     [DeployCheck] per declared condition
//
// Status values are typed strings ([RunStatus], [StageStatus],
// [CommandStatus]) validated by their Validate methods. [LogRef] points
// at captured command output in the build-log store.
//
// This package depends on no other gantry packages.
package schema
