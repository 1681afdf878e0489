// Copyright 2026 The Gantry Authors
// SPDX-License-Identifier: Apache-2.0

// Package engine executes pipelines: it runs each matrix entry through
// the fixed stage sequence with fail-fast semantics, wraps the script
// stage in the pipeline's background services, evaluates the deploy
// gate, and aggregates per-entry outcomes into an overall result.
//
// The per-entry state machine is:
//
//	pending → installing → scripting → building
//	        → deploy-evaluating → (deploying | deploy-skipped)
//	        → succeeded | failed | cancelled
//
// Any stage failure moves the run directly to failed and skips
// everything after it, including deploy evaluation. Cancellation (the
// caller's context ending) is a distinct terminal status so an
// interrupted run is never mistaken for a broken one. A false deploy
// gate is not a failure: the run succeeds with the deploy stage
// recorded as skipped.
//
// Matrix entries are independent: they share the parsed pipeline and
// the engine's configuration (both read-only) and nothing else.
// [Engine.Run] executes them sequentially by default or concurrently
// when requested; one entry's failure never stops its siblings. The
// overall result is failed if any entry failed ("all green" semantics).
//
// Side channels (command output capture to a [buildlog.Store],
// progress through a [Reporter]) never change run outcomes: capture
// failures degrade to logged warnings.
//
// [Preview] walks the same decisions without executing anything, for
// dry runs.
package engine
