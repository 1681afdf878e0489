// Copyright 2026 The Gantry Authors
// SPDX-License-Identifier: Apache-2.0

// Package version provides build version information for the gantry
// binary.
//
// Release builds inject four package-level variables via -ldflags -X:
//
//   - [Version] -- semantic version string (set manually for releases)
//   - [GitCommit] -- short git SHA of the build
//   - [GitDirty] -- "true" if there were uncommitted changes
//   - [BuildTime] -- UTC timestamp of the build
//
// Development builds leave them at their defaults; the commit then
// comes from the VCS stamp the Go toolchain embeds, so gantry version
// output is meaningful for plain go build and go install too.
//
// [Info] renders the one-line form; [Full] appends the Go runtime
// version and target platform.
package version
