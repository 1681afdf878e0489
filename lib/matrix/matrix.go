// Copyright 2026 The Gantry Authors
// SPDX-License-Identifier: Apache-2.0

// Package matrix expands a pipeline's runtime list and extra axes into
// the concrete set of independent runs. Expansion is deterministic:
// runtimes in declaration order, extra axes in sorted name order, axis
// values in declaration order.
package matrix

import (
	"sort"
	"strings"
)

// Entry is one cell of the expanded matrix: the runtime version plus
// one value per extra axis, exported to the run's commands as
// environment variables.
type Entry struct {
	// Name is the human-readable identifier, e.g. "3.7" or
	// "3.7/TOXENV=lint". "default" when the matrix has no axes at
	// all.
	Name string

	// Runtime is the runtime version for this entry. Empty when the
	// pipeline declares no runtimes.
	Runtime string

	// Env holds this entry's extra-axis assignments (axis name to
	// value).
	Env map[string]string
}

// Expand returns the Cartesian product of the runtime list and every
// extra axis, one Entry per combination. An empty runtime list
// contributes a single empty runtime, so a pipeline with no matrix
// still yields exactly one run. Entries share no state; each gets its
// own Env map.
func Expand(runtimes []string, axes map[string][]string) []Entry {
	if len(runtimes) == 0 {
		runtimes = []string{""}
	}

	axisNames := make([]string, 0, len(axes))
	for name := range axes {
		axisNames = append(axisNames, name)
	}
	sort.Strings(axisNames)

	// Cartesian product across the axes, one value slice per
	// combination in axisNames order.
	combinations := [][]string{nil}
	for _, name := range axisNames {
		var next [][]string
		for _, combination := range combinations {
			for _, value := range axes[name] {
				extended := make([]string, len(combination), len(combination)+1)
				copy(extended, combination)
				next = append(next, append(extended, value))
			}
		}
		combinations = next
	}

	entries := make([]Entry, 0, len(runtimes)*len(combinations))
	for _, runtime := range runtimes {
		for _, combination := range combinations {
			entries = append(entries, newEntry(runtime, axisNames, combination))
		}
	}
	return entries
}

// newEntry builds one matrix cell with its display name and env map.
func newEntry(runtime string, axisNames, values []string) Entry {
	var parts []string
	if runtime != "" {
		parts = append(parts, runtime)
	}

	env := make(map[string]string, len(axisNames))
	for i, name := range axisNames {
		env[name] = values[i]
		parts = append(parts, name+"="+values[i])
	}

	name := strings.Join(parts, "/")
	if name == "" {
		name = "default"
	}
	return Entry{Name: name, Runtime: runtime, Env: env}
}

// Filter returns the entries whose runtime equals the given version,
// preserving order. An empty filter returns all entries.
func Filter(entries []Entry, runtime string) []Entry {
	if runtime == "" {
		return entries
	}
	var matched []Entry
	for _, entry := range entries {
		if entry.Runtime == runtime {
			matched = append(matched, entry)
		}
	}
	return matched
}
