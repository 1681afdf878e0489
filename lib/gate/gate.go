// Copyright 2026 The Gantry Authors
// SPDX-License-Identifier: Apache-2.0

// Package gate evaluates deploy conditions. Evaluation is a pure
// function over a fixed set of inputs captured once at run start, so
// the decision cannot drift between evaluation and execution and can
// be replayed from the recorded checks.
package gate

import (
	"path"

	"github.com/gantry-ci/gantry/lib/schema"
)

// Inputs are the facts a deploy decision is made from. They are
// captured once, before any stage executes, and passed by value:
// nothing that happens during the run can change them.
type Inputs struct {
	// Repository is the repository slug, e.g.
	// "kshpytsya/with-cloud-blob". Empty when unknown.
	Repository string

	// Branch is the current branch name. Empty when detached or
	// unknown.
	Branch string

	// Tag is the tag pointing at the built commit. Empty when none.
	Tag string

	// Runtime is the matrix entry's runtime version.
	Runtime string
}

// Evaluate checks the declared conditions against the inputs. Every
// declared condition contributes one check, in a fixed order
// (repository, tag, branch, runtime); undeclared conditions do not
// participate. The decision is the conjunction of all checks, true
// when nothing is declared. A false decision means deploy is skipped,
// never that the run failed.
func Evaluate(inputs Inputs, when schema.WhenClause) schema.DeployDecision {
	var checks []schema.DeployCheck

	if when.Repository != "" {
		checks = append(checks, schema.DeployCheck{
			Condition: schema.CheckRepository,
			Passed:    inputs.Repository == when.Repository,
			Want:      when.Repository,
			Got:       displayValue(inputs.Repository),
		})
	}

	if when.Tag {
		got := "no tag"
		if inputs.Tag != "" {
			got = inputs.Tag
		}
		checks = append(checks, schema.DeployCheck{
			Condition: schema.CheckTag,
			Passed:    inputs.Tag != "",
			Want:      "tag present",
			Got:       got,
		})
	}

	if when.Branch != "" {
		// Pattern validity is checked at pipeline validation time; a
		// malformed pattern here is a mismatch, not an error.
		matched, err := path.Match(when.Branch, inputs.Branch)
		checks = append(checks, schema.DeployCheck{
			Condition: schema.CheckBranch,
			Passed:    err == nil && matched,
			Want:      when.Branch,
			Got:       displayValue(inputs.Branch),
		})
	}

	if when.Runtime != "" {
		checks = append(checks, schema.DeployCheck{
			Condition: schema.CheckRuntime,
			Passed:    inputs.Runtime == when.Runtime,
			Want:      when.Runtime,
			Got:       displayValue(inputs.Runtime),
		})
	}

	allowed := true
	for _, check := range checks {
		if !check.Passed {
			allowed = false
			break
		}
	}
	return schema.DeployDecision{Allowed: allowed, Checks: checks}
}

// displayValue keeps empty observed inputs readable in check records.
func displayValue(value string) string {
	if value == "" {
		return "(none)"
	}
	return value
}
