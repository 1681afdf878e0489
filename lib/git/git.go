// Copyright 2026 The Gantry Authors
// SPDX-License-Identifier: Apache-2.0

// Package git provides typed access to the git CLI for the repository
// facts the deploy gate compares against: current branch, tag pointing
// at HEAD, and the repository slug derived from the origin remote. All
// commands target a specific repository directory via the -C flag,
// which is automatically injected by all Repository methods.
package git

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Repository represents a git repository at a specific directory. All
// operations target this directory via "git -C <dir>". There is no
// default directory; callers must always specify which repository
// they mean.
type Repository struct {
	dir string
}

// NewRepository returns a Repository targeting the given directory.
func NewRepository(dir string) *Repository {
	return &Repository{dir: dir}
}

// Dir returns the repository directory.
func (r *Repository) Dir() string {
	return r.dir
}

// Run executes a git command targeting this repository and returns
// stdout. Stderr is captured separately and included in error messages
// on failure.
func (r *Repository) Run(ctx context.Context, args ...string) (string, error) {
	fullArgs := append([]string{"-C", r.dir}, args...)
	var stdout, stderr bytes.Buffer
	command := exec.CommandContext(ctx, "git", fullArgs...)
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return "", fmt.Errorf("git %s in %s: %w (stderr: %s)",
			strings.Join(args, " "), r.dir, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// CurrentBranch returns the checked-out branch name, or the empty
// string when HEAD is detached (the usual state when CI checks out a
// tag or a specific commit).
func (r *Repository) CurrentBranch(ctx context.Context) (string, error) {
	output, err := r.Run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", err
	}
	branch := strings.TrimSpace(output)
	if branch == "HEAD" {
		// Detached HEAD.
		return "", nil
	}
	return branch, nil
}

// TagAtHead returns a tag pointing at HEAD, or the empty string when
// there is none. When several tags point at HEAD the lexically first
// one is returned, so repeated runs on the same commit report the same
// tag.
func (r *Repository) TagAtHead(ctx context.Context) (string, error) {
	output, err := r.Run(ctx, "tag", "--points-at", "HEAD")
	if err != nil {
		return "", err
	}
	for _, line := range strings.Split(output, "\n") {
		if tag := strings.TrimSpace(line); tag != "" {
			return tag, nil
		}
	}
	return "", nil
}

// HeadCommit returns the full hash of the current HEAD commit.
func (r *Repository) HeadCommit(ctx context.Context) (string, error) {
	output, err := r.Run(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(output), nil
}

// OriginURL returns the URL of the origin remote.
func (r *Repository) OriginURL(ctx context.Context) (string, error) {
	output, err := r.Run(ctx, "remote", "get-url", "origin")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(output), nil
}

// Slug returns the "owner/name" repository slug derived from the
// origin remote URL.
func (r *Repository) Slug(ctx context.Context) (string, error) {
	url, err := r.OriginURL(ctx)
	if err != nil {
		return "", err
	}
	return SlugFromURL(url)
}

// SlugFromURL derives the "owner/name" slug from a git remote URL.
// Both scp-like syntax (git@github.com:owner/name.git) and URL syntax
// (https://github.com/owner/name.git, ssh://git@github.com/owner/name)
// are supported. For deeper paths (e.g. forge subgroups) the last two
// segments form the slug.
func SlugFromURL(url string) (string, error) {
	trimmed := strings.TrimSpace(url)
	trimmed = strings.TrimSuffix(trimmed, "/")
	trimmed = strings.TrimSuffix(trimmed, ".git")

	var path string
	switch {
	case strings.Contains(trimmed, "://"):
		// URL syntax: everything after the host.
		rest := trimmed[strings.Index(trimmed, "://")+3:]
		slash := strings.Index(rest, "/")
		if slash < 0 {
			return "", fmt.Errorf("cannot derive repository slug from remote URL %q", url)
		}
		path = rest[slash+1:]
	case strings.Contains(trimmed, ":"):
		// scp-like syntax: everything after the colon.
		path = trimmed[strings.Index(trimmed, ":")+1:]
	default:
		// Local path.
		path = trimmed
	}

	segments := strings.Split(strings.Trim(path, "/"), "/")
	if len(segments) < 2 {
		return "", fmt.Errorf("cannot derive repository slug from remote URL %q", url)
	}
	owner := segments[len(segments)-2]
	name := segments[len(segments)-1]
	if owner == "" || name == "" {
		return "", fmt.Errorf("cannot derive repository slug from remote URL %q", url)
	}
	return owner + "/" + name, nil
}
