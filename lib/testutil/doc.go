// Copyright 2026 The Gantry Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for Gantry packages.
//
// [RequireReceive] and [RequireClosed] wrap the select-with-timeout
// pattern for tests that wait on goroutines, so a misbehaving subject
// fails the test after a bounded wait instead of hanging the run.
// Tests exercising the fake clock lean on these: without the timeout
// valve, a missed Advance would deadlock the suite.
//
// Helpers call t.Fatalf on failure rather than returning errors, since
// a failed wait leaves nothing worth continuing with.
//
// This package has no Gantry-internal dependencies.
package testutil
