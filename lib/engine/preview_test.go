// Copyright 2026 The Gantry Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/gantry-ci/gantry/lib/gate"
	"github.com/gantry-ci/gantry/lib/matrix"
	"github.com/gantry-ci/gantry/lib/schema"
)

func TestPreview_WalksAllStages(t *testing.T) {
	t.Parallel()

	disabled := false
	pipeline := &schema.Pipeline{
		Runtimes: []string{"3.7", "3.8"},
		Services: []schema.Service{{Name: "db", Run: "run-db"}},
		Install:  []schema.Command{{Run: "pip install -e ."}},
		Script: []schema.Command{
			{Run: "invoke check"},
			{Name: "coverage", Run: "invoke coverage", Enabled: &disabled},
		},
		Build: []schema.Command{{Run: "invoke build"}},
		Deploy: &schema.Deploy{
			Commands: []schema.Command{{Run: "invoke release"}},
			When:     schema.WhenClause{Runtime: "3.7"},
		},
	}

	preview := Preview(pipeline, matrix.Expand(pipeline.Runtimes, nil), gate.Inputs{}, "")
	if len(preview.Entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(preview.Entries))
	}

	first := preview.Entries[0]
	if first.Entry != "3.7" || first.Runtime != "3.7" {
		t.Errorf("entry = %q/%q, want 3.7", first.Entry, first.Runtime)
	}
	wantStages := []schema.StageName{
		schema.StageInstall, schema.StageScript, schema.StageBuild, schema.StageDeploy,
	}
	if len(first.Stages) != len(wantStages) {
		t.Fatalf("stages = %d, want %d", len(first.Stages), len(wantStages))
	}
	for i, want := range wantStages {
		if first.Stages[i].Stage != want {
			t.Errorf("stages[%d] = %s, want %s", i, first.Stages[i].Stage, want)
		}
	}

	script := first.Stages[1]
	if len(script.Services) != 1 || script.Services[0] != "db" {
		t.Errorf("script services = %v, want [db]", script.Services)
	}
	if len(script.Commands) != 2 {
		t.Fatalf("script commands = %d, want 2", len(script.Commands))
	}
	if !script.Commands[0].Enabled {
		t.Error("first script command previewed as disabled")
	}
	if script.Commands[1].Enabled {
		t.Error("disabled script command previewed as enabled")
	}
	if script.Commands[1].Name != "coverage" {
		t.Errorf("command name = %q, want coverage", script.Commands[1].Name)
	}

	// Only the script stage carries services.
	install := first.Stages[0]
	if len(install.Services) != 0 {
		t.Errorf("install services = %v, want none", install.Services)
	}
}

func TestPreview_EvaluatesGatePerEntry(t *testing.T) {
	t.Parallel()

	pipeline := &schema.Pipeline{
		Runtimes: []string{"3.7", "3.8"},
		Deploy: &schema.Deploy{
			Commands: []schema.Command{{Run: "invoke release"}},
			When:     schema.WhenClause{Tag: true, Runtime: "3.7"},
		},
	}

	preview := Preview(pipeline, matrix.Expand(pipeline.Runtimes, nil), gate.Inputs{Tag: "v2.0.0"}, "")

	deployOf := func(entry EntryPreview) StagePreview {
		t.Helper()
		for _, stage := range entry.Stages {
			if stage.Stage == schema.StageDeploy {
				return stage
			}
		}
		t.Fatalf("entry %s has no deploy stage", entry.Entry)
		return StagePreview{}
	}

	open := deployOf(preview.Entries[0])
	if open.Decision == nil || !open.Decision.Allowed || open.Skipped {
		t.Errorf("3.7 deploy = %+v, want allowed", open)
	}
	closed := deployOf(preview.Entries[1])
	if closed.Decision == nil || closed.Decision.Allowed || !closed.Skipped {
		t.Errorf("3.8 deploy = %+v, want skipped", closed)
	}
	failed := closed.Decision.FailedConditions()
	if len(failed) != 1 || failed[0] != schema.CheckRuntime {
		t.Errorf("3.8 failed conditions = %v, want [runtime]", failed)
	}
}

func TestPreview_NoDeployConfigured(t *testing.T) {
	t.Parallel()

	pipeline := &schema.Pipeline{
		Script: []schema.Command{{Run: "invoke test"}},
	}

	preview := Preview(pipeline, matrix.Expand(nil, nil), gate.Inputs{}, "")
	if len(preview.Entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(preview.Entries))
	}
	if preview.Entries[0].Entry != "default" {
		t.Errorf("entry = %q, want default", preview.Entries[0].Entry)
	}
	for _, stage := range preview.Entries[0].Stages {
		if stage.Stage == schema.StageDeploy {
			t.Error("deploy stage previewed without deploy configuration")
		}
	}
}

func TestPreview_StageFilter(t *testing.T) {
	t.Parallel()

	pipeline := &schema.Pipeline{
		Install: []schema.Command{{Run: "pip install -e ."}},
		Script:  []schema.Command{{Run: "invoke test"}},
		Build:   []schema.Command{{Run: "invoke build"}},
	}

	preview := Preview(pipeline, matrix.Expand([]string{"3.7"}, nil), gate.Inputs{}, schema.StageScript)
	stages := preview.Entries[0].Stages
	if len(stages) != 1 || stages[0].Stage != schema.StageScript {
		t.Errorf("stages = %+v, want only script", stages)
	}
}

func TestPreview_ExecutesNothing(t *testing.T) {
	t.Parallel()

	marker := filepath.Join(t.TempDir(), "executed")
	pipeline := &schema.Pipeline{
		Services: []schema.Service{{Name: "svc", Run: fmt.Sprintf("touch %s", marker)}},
		Script:   []schema.Command{{Run: fmt.Sprintf("touch %s", marker)}},
		Deploy: &schema.Deploy{
			Commands: []schema.Command{{Run: fmt.Sprintf("touch %s", marker)}},
		},
	}

	Preview(pipeline, matrix.Expand([]string{"3.7"}, nil), gate.Inputs{}, "")
	requireNoFile(t, marker)
}
