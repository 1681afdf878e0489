// Copyright 2026 The Gantry Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// These variables are set via -ldflags at build time, for example:
//
//	go build -ldflags "-X github.com/gantry-ci/gantry/lib/version.GitCommit=$(git rev-parse --short HEAD)"
var (
	// GitCommit is the short git SHA of the build.
	GitCommit = "unknown"

	// GitDirty indicates whether there were uncommitted changes.
	GitDirty = "false"

	// BuildTime is the UTC timestamp of the build.
	BuildTime = "unknown"

	// Version is the semantic version. Set manually for releases.
	Version = "0.1.0-dev"
)

// Info returns the one-line version string: the semantic version plus
// commit and build time when known.
func Info() string {
	commit, dirty := commitInfo()
	suffix := ""
	if dirty {
		suffix = "-dirty"
	}
	return fmt.Sprintf("%s (%s%s, %s)", Version, commit, suffix, BuildTime)
}

// Full returns Info plus the Go runtime version and target platform,
// one detail per line.
func Full() string {
	return fmt.Sprintf("%s\n  Go: %s\n  Platform: %s/%s",
		Info(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// commitInfo resolves the build's commit from the -ldflags injection,
// falling back to the VCS stamp the Go toolchain embeds in module
// builds. Plain go build and go install produce the stamp, so version
// output stays meaningful without the release script.
func commitInfo() (commit string, dirty bool) {
	commit = GitCommit
	dirty = GitDirty == "true"
	if commit != "unknown" {
		return commit, dirty
	}
	buildInfo, ok := debug.ReadBuildInfo()
	if !ok {
		return commit, dirty
	}
	for _, setting := range buildInfo.Settings {
		switch setting.Key {
		case "vcs.revision":
			if len(setting.Value) > 7 {
				commit = setting.Value[:7]
			} else if setting.Value != "" {
				commit = setting.Value
			}
		case "vcs.modified":
			dirty = setting.Value == "true"
		}
	}
	return commit, dirty
}
