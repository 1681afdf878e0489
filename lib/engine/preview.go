// Copyright 2026 The Gantry Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"github.com/gantry-ci/gantry/lib/gate"
	"github.com/gantry-ci/gantry/lib/matrix"
	"github.com/gantry-ci/gantry/lib/schema"
)

// Preview walks the decisions a run would make without executing
// anything: which entries exist, which stages and commands would run,
// which services would wrap the script stage, and how the deploy gate
// would decide. The gate can be evaluated up front because its inputs
// are fixed before any stage runs; only command outcomes are unknown.
func Preview(pipeline *schema.Pipeline, entries []matrix.Entry, inputs gate.Inputs, stageFilter schema.StageName) *RunPreview {
	preview := &RunPreview{
		Entries: make([]EntryPreview, 0, len(entries)),
	}

	for _, entry := range entries {
		entryPreview := EntryPreview{
			Entry:   entry.Name,
			Runtime: entry.Runtime,
		}

		for _, stage := range schema.StageNames() {
			if stageFilter != "" && stageFilter != stage {
				continue
			}
			commands := pipeline.StageCommands(stage)
			if stage == schema.StageDeploy && pipeline.Deploy == nil {
				continue
			}

			stagePreview := StagePreview{Stage: stage}
			if stage == schema.StageScript {
				for _, svc := range pipeline.Services {
					stagePreview.Services = append(stagePreview.Services, svc.Name)
				}
			}
			for _, command := range commands {
				stagePreview.Commands = append(stagePreview.Commands, CommandPreview{
					Name:    command.DisplayName(),
					Run:     command.Run,
					Enabled: command.IsEnabled(),
				})
			}

			if stage == schema.StageDeploy {
				entryInputs := inputs
				entryInputs.Runtime = entry.Runtime
				decision := gate.Evaluate(entryInputs, pipeline.Deploy.When)
				stagePreview.Decision = &decision
				stagePreview.Skipped = !decision.Allowed
			}

			entryPreview.Stages = append(entryPreview.Stages, stagePreview)
		}

		preview.Entries = append(preview.Entries, entryPreview)
	}

	return preview
}

// RunPreview is the dry-run view of a pipeline execution.
type RunPreview struct {
	// Entries previews each matrix entry in expansion order.
	Entries []EntryPreview `json:"entries"`
}

// EntryPreview is the dry-run view of one matrix entry.
type EntryPreview struct {
	// Entry is the entry's display name.
	Entry string `json:"entry"`

	// Runtime is the entry's runtime version.
	Runtime string `json:"runtime,omitempty"`

	// Stages previews each stage that would participate, in order.
	Stages []StagePreview `json:"stages"`
}

// StagePreview is the dry-run view of one stage.
type StagePreview struct {
	// Stage is which stage this previews.
	Stage schema.StageName `json:"stage"`

	// Services are the background services that would wrap this
	// stage. Only the script stage has any.
	Services []string `json:"services,omitempty"`

	// Commands previews each declared command.
	Commands []CommandPreview `json:"commands,omitempty"`

	// Decision is the deploy gate evaluation. Only set for the deploy
	// stage.
	Decision *schema.DeployDecision `json:"decision,omitempty"`

	// Skipped is true when the deploy gate would skip this stage.
	Skipped bool `json:"skipped,omitempty"`
}

// CommandPreview is the dry-run view of one command.
type CommandPreview struct {
	// Name is the command's display identifier.
	Name string `json:"name"`

	// Run is the shell command text, after variable expansion.
	Run string `json:"run"`

	// Enabled reports whether the entry would execute. Disabled
	// entries are recorded as skipped at run time.
	Enabled bool `json:"enabled"`
}
