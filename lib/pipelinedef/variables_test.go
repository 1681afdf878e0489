// Copyright 2026 The Gantry Authors
// SPDX-License-Identifier: Apache-2.0

package pipelinedef

import (
	"strings"
	"testing"

	"github.com/gantry-ci/gantry/lib/schema"
)

func TestResolveVariables(t *testing.T) {
	t.Parallel()

	t.Run("defaults only", func(t *testing.T) {
		t.Parallel()

		declarations := map[string]schema.Variable{
			"DIST_DIR": {Default: "dist"},
			"MODE":     {Default: "release"},
		}

		resolved, err := ResolveVariables(declarations, nil, nil)
		if err != nil {
			t.Fatalf("ResolveVariables: %v", err)
		}
		if resolved["DIST_DIR"] != "dist" {
			t.Errorf("DIST_DIR = %q, want %q", resolved["DIST_DIR"], "dist")
		}
		if resolved["MODE"] != "release" {
			t.Errorf("MODE = %q, want %q", resolved["MODE"], "release")
		}
	})

	t.Run("parameters override defaults", func(t *testing.T) {
		t.Parallel()

		declarations := map[string]schema.Variable{
			"DIST_DIR": {Default: "dist"},
		}
		parameters := map[string]string{"DIST_DIR": "build/out"}

		resolved, err := ResolveVariables(declarations, parameters, nil)
		if err != nil {
			t.Fatalf("ResolveVariables: %v", err)
		}
		if resolved["DIST_DIR"] != "build/out" {
			t.Errorf("DIST_DIR = %q, want %q", resolved["DIST_DIR"], "build/out")
		}
	})

	t.Run("environ overrides parameters", func(t *testing.T) {
		t.Parallel()

		declarations := map[string]schema.Variable{
			"DIST_DIR": {Default: "dist"},
		}
		parameters := map[string]string{"DIST_DIR": "build/out"}
		environ := func(name string) string {
			if name == "DIST_DIR" {
				return "env-dist"
			}
			return ""
		}

		resolved, err := ResolveVariables(declarations, parameters, environ)
		if err != nil {
			t.Fatalf("ResolveVariables: %v", err)
		}
		if resolved["DIST_DIR"] != "env-dist" {
			t.Errorf("DIST_DIR = %q, want %q", resolved["DIST_DIR"], "env-dist")
		}
	})

	t.Run("environ only checks declared variables", func(t *testing.T) {
		t.Parallel()

		declarations := map[string]schema.Variable{
			"DECLARED": {},
		}
		environ := func(name string) string {
			if name == "DECLARED" {
				return "from-env"
			}
			if name == "UNDECLARED" {
				return "should-not-appear"
			}
			return ""
		}

		resolved, err := ResolveVariables(declarations, nil, environ)
		if err != nil {
			t.Fatalf("ResolveVariables: %v", err)
		}
		if resolved["DECLARED"] != "from-env" {
			t.Errorf("DECLARED = %q, want %q", resolved["DECLARED"], "from-env")
		}
		if _, exists := resolved["UNDECLARED"]; exists {
			t.Error("UNDECLARED should not be in resolved map")
		}
	})

	t.Run("parameters include undeclared variables", func(t *testing.T) {
		t.Parallel()

		resolved, err := ResolveVariables(nil, map[string]string{"EXTRA": "bonus"}, nil)
		if err != nil {
			t.Fatalf("ResolveVariables: %v", err)
		}
		if resolved["EXTRA"] != "bonus" {
			t.Errorf("EXTRA = %q, want %q", resolved["EXTRA"], "bonus")
		}
	})

	t.Run("required variable satisfied by default", func(t *testing.T) {
		t.Parallel()

		declarations := map[string]schema.Variable{
			"REPO": {Required: true, Default: "kshpytsya/with-cloud-blob"},
		}

		resolved, err := ResolveVariables(declarations, nil, nil)
		if err != nil {
			t.Fatalf("ResolveVariables: %v", err)
		}
		if resolved["REPO"] != "kshpytsya/with-cloud-blob" {
			t.Errorf("REPO = %q", resolved["REPO"])
		}
	})

	t.Run("required variable missing", func(t *testing.T) {
		t.Parallel()

		declarations := map[string]schema.Variable{
			"REPO": {Required: true},
		}

		_, err := ResolveVariables(declarations, nil, nil)
		if err == nil {
			t.Fatal("expected error for missing required variable")
		}
		if !strings.Contains(err.Error(), "REPO") {
			t.Errorf("error should mention REPO: %v", err)
		}
	})

	t.Run("multiple required variables missing", func(t *testing.T) {
		t.Parallel()

		declarations := map[string]schema.Variable{
			"ALPHA": {Required: true},
			"BRAVO": {Required: true},
		}

		_, err := ResolveVariables(declarations, nil, nil)
		if err == nil {
			t.Fatal("expected error for missing required variables")
		}
		// Error message lists them alphabetically.
		if !strings.Contains(err.Error(), "ALPHA, BRAVO") {
			t.Errorf("error should list both variables in order: %v", err)
		}
	})

	t.Run("empty declarations and parameters", func(t *testing.T) {
		t.Parallel()

		resolved, err := ResolveVariables(nil, nil, nil)
		if err != nil {
			t.Fatalf("ResolveVariables: %v", err)
		}
		if len(resolved) != 0 {
			t.Errorf("expected empty map, got %v", resolved)
		}
	})
}

func TestExpand(t *testing.T) {
	t.Parallel()

	t.Run("simple substitution", func(t *testing.T) {
		t.Parallel()

		result, err := Expand("twine upload ${DIST_DIR}/*", map[string]string{"DIST_DIR": "dist"})
		if err != nil {
			t.Fatalf("Expand: %v", err)
		}
		if result != "twine upload dist/*" {
			t.Errorf("result = %q", result)
		}
	})

	t.Run("multiple references", func(t *testing.T) {
		t.Parallel()

		variables := map[string]string{"USER": "alice", "HOST": "example.com"}
		result, err := Expand("ssh ${USER}@${HOST}", variables)
		if err != nil {
			t.Fatalf("Expand: %v", err)
		}
		if result != "ssh alice@example.com" {
			t.Errorf("result = %q", result)
		}
	})

	t.Run("repeated reference", func(t *testing.T) {
		t.Parallel()

		result, err := Expand("${X} and ${X}", map[string]string{"X": "value"})
		if err != nil {
			t.Fatalf("Expand: %v", err)
		}
		if result != "value and value" {
			t.Errorf("result = %q", result)
		}
	})

	t.Run("bare dollar left for shell", func(t *testing.T) {
		t.Parallel()

		result, err := Expand("for f in $files; do echo $f; done", nil)
		if err != nil {
			t.Fatalf("Expand: %v", err)
		}
		if result != "for f in $files; do echo $f; done" {
			t.Errorf("result = %q (should be unchanged)", result)
		}
	})

	t.Run("unresolved variable", func(t *testing.T) {
		t.Parallel()

		_, err := Expand("twine upload ${DIST_DIR}/*", map[string]string{})
		if err == nil {
			t.Fatal("expected error for unresolved variable")
		}
		if !strings.Contains(err.Error(), "DIST_DIR") {
			t.Errorf("error should mention DIST_DIR: %v", err)
		}
	})

	t.Run("multiple unresolved variables", func(t *testing.T) {
		t.Parallel()

		_, err := Expand("${ALPHA} and ${BRAVO}", map[string]string{})
		if err == nil {
			t.Fatal("expected error for unresolved variables")
		}
		if !strings.Contains(err.Error(), "ALPHA") || !strings.Contains(err.Error(), "BRAVO") {
			t.Errorf("error should mention both: %v", err)
		}
	})

	t.Run("variable with underscore and digits", func(t *testing.T) {
		t.Parallel()

		result, err := Expand("${MY_VAR_2}", map[string]string{"MY_VAR_2": "value"})
		if err != nil {
			t.Fatalf("Expand: %v", err)
		}
		if result != "value" {
			t.Errorf("result = %q", result)
		}
	})

	t.Run("empty value is valid", func(t *testing.T) {
		t.Parallel()

		result, err := Expand("prefix-${EMPTY}-suffix", map[string]string{"EMPTY": ""})
		if err != nil {
			t.Fatalf("Expand: %v", err)
		}
		if result != "prefix--suffix" {
			t.Errorf("result = %q", result)
		}
	})
}

func TestExpandPipeline(t *testing.T) {
	t.Parallel()

	t.Run("commands across stages", func(t *testing.T) {
		t.Parallel()

		pipeline := &schema.Pipeline{
			Install: []schema.Command{{Run: "pip install ${PKG}"}},
			Script:  []schema.Command{{Run: "invoke test --dist ${DIST_DIR}"}},
			Build:   []schema.Command{{Run: "invoke build --out ${DIST_DIR}"}},
			Deploy: &schema.Deploy{
				Commands: []schema.Command{{Run: "twine upload ${DIST_DIR}/*"}},
			},
		}
		variables := map[string]string{"PKG": "tox", "DIST_DIR": "dist"}

		expanded, err := ExpandPipeline(pipeline, variables)
		if err != nil {
			t.Fatalf("ExpandPipeline: %v", err)
		}
		if expanded.Install[0].Run != "pip install tox" {
			t.Errorf("Install[0].Run = %q", expanded.Install[0].Run)
		}
		if expanded.Script[0].Run != "invoke test --dist dist" {
			t.Errorf("Script[0].Run = %q", expanded.Script[0].Run)
		}
		if expanded.Build[0].Run != "invoke build --out dist" {
			t.Errorf("Build[0].Run = %q", expanded.Build[0].Run)
		}
		if expanded.Deploy.Commands[0].Run != "twine upload dist/*" {
			t.Errorf("Deploy.Commands[0].Run = %q", expanded.Deploy.Commands[0].Run)
		}
	})

	t.Run("service run and ready", func(t *testing.T) {
		t.Parallel()

		pipeline := &schema.Pipeline{
			Services: []schema.Service{
				{Name: "mock", Run: "cloudmock --port ${PORT}", Ready: "curl -fs http://localhost:${PORT}/health"},
			},
		}

		expanded, err := ExpandPipeline(pipeline, map[string]string{"PORT": "8771"})
		if err != nil {
			t.Fatalf("ExpandPipeline: %v", err)
		}
		if expanded.Services[0].Run != "cloudmock --port 8771" {
			t.Errorf("Services[0].Run = %q", expanded.Services[0].Run)
		}
		if expanded.Services[0].Ready != "curl -fs http://localhost:8771/health" {
			t.Errorf("Services[0].Ready = %q", expanded.Services[0].Ready)
		}
	})

	t.Run("deploy secret paths", func(t *testing.T) {
		t.Parallel()

		pipeline := &schema.Pipeline{
			Deploy: &schema.Deploy{
				Secrets: map[string]string{"TWINE_PASSWORD": "${SECRET_DIR}/pypi-token"},
			},
		}

		expanded, err := ExpandPipeline(pipeline, map[string]string{"SECRET_DIR": "/etc/gantry"})
		if err != nil {
			t.Fatalf("ExpandPipeline: %v", err)
		}
		if expanded.Deploy.Secrets["TWINE_PASSWORD"] != "/etc/gantry/pypi-token" {
			t.Errorf("Secrets[TWINE_PASSWORD] = %q", expanded.Deploy.Secrets["TWINE_PASSWORD"])
		}
	})

	t.Run("pipeline env feeds command expansion", func(t *testing.T) {
		t.Parallel()

		pipeline := &schema.Pipeline{
			Env:    map[string]string{"TOXENV": "py"},
			Script: []schema.Command{{Run: "tox -e ${TOXENV}"}},
		}

		expanded, err := ExpandPipeline(pipeline, map[string]string{})
		if err != nil {
			t.Fatalf("ExpandPipeline: %v", err)
		}
		if expanded.Script[0].Run != "tox -e py" {
			t.Errorf("Script[0].Run = %q", expanded.Script[0].Run)
		}
	})

	t.Run("command env overrides pipeline variables", func(t *testing.T) {
		t.Parallel()

		pipeline := &schema.Pipeline{
			Script: []schema.Command{
				{Run: "CC=${CC} make", Env: map[string]string{"CC": "clang"}},
			},
		}

		expanded, err := ExpandPipeline(pipeline, map[string]string{"CC": "gcc"})
		if err != nil {
			t.Fatalf("ExpandPipeline: %v", err)
		}
		if expanded.Script[0].Run != "CC=clang make" {
			t.Errorf("Script[0].Run = %q (command env should override)", expanded.Script[0].Run)
		}
	})

	t.Run("command env values are expanded", func(t *testing.T) {
		t.Parallel()

		pipeline := &schema.Pipeline{
			Script: []schema.Command{
				{Run: "cat ${CONFIG}", Env: map[string]string{"CONFIG": "${WORKDIR}/config.json"}},
			},
		}

		expanded, err := ExpandPipeline(pipeline, map[string]string{"WORKDIR": "/srv/ci"})
		if err != nil {
			t.Fatalf("ExpandPipeline: %v", err)
		}
		if expanded.Script[0].Env["CONFIG"] != "/srv/ci/config.json" {
			t.Errorf("Env[CONFIG] = %q", expanded.Script[0].Env["CONFIG"])
		}
		if expanded.Script[0].Run != "cat /srv/ci/config.json" {
			t.Errorf("Run = %q", expanded.Script[0].Run)
		}
	})

	t.Run("unresolved variable names the location", func(t *testing.T) {
		t.Parallel()

		pipeline := &schema.Pipeline{
			Build: []schema.Command{{Run: "invoke build --out ${MISSING}"}},
		}

		_, err := ExpandPipeline(pipeline, map[string]string{})
		if err == nil {
			t.Fatal("expected error for unresolved variable")
		}
		if !strings.Contains(err.Error(), "MISSING") {
			t.Errorf("error should mention MISSING: %v", err)
		}
		if !strings.Contains(err.Error(), "build[0]") {
			t.Errorf("error should identify the command: %v", err)
		}
	})

	t.Run("does not modify the original", func(t *testing.T) {
		t.Parallel()

		pipeline := &schema.Pipeline{
			Env:    map[string]string{"MODE": "${DEFAULT_MODE}"},
			Script: []schema.Command{{Run: "run-${MODE}"}},
			Deploy: &schema.Deploy{
				Secrets: map[string]string{"TOKEN": "${SECRET_DIR}/token"},
			},
		}
		variables := map[string]string{"DEFAULT_MODE": "fast", "SECRET_DIR": "/etc/gantry"}

		expanded, err := ExpandPipeline(pipeline, variables)
		if err != nil {
			t.Fatalf("ExpandPipeline: %v", err)
		}
		if expanded.Script[0].Run != "run-fast" {
			t.Errorf("expanded Run = %q", expanded.Script[0].Run)
		}
		if pipeline.Env["MODE"] != "${DEFAULT_MODE}" {
			t.Errorf("original Env was modified: %q", pipeline.Env["MODE"])
		}
		if pipeline.Script[0].Run != "run-${MODE}" {
			t.Errorf("original Run was modified: %q", pipeline.Script[0].Run)
		}
		if pipeline.Deploy.Secrets["TOKEN"] != "${SECRET_DIR}/token" {
			t.Errorf("original secret path was modified: %q", pipeline.Deploy.Secrets["TOKEN"])
		}
		if len(variables) != 2 {
			t.Errorf("original variables map was modified: %v", variables)
		}
	})

	t.Run("nil deploy passes through", func(t *testing.T) {
		t.Parallel()

		pipeline := &schema.Pipeline{
			Script: []schema.Command{{Run: "invoke test"}},
		}

		expanded, err := ExpandPipeline(pipeline, nil)
		if err != nil {
			t.Fatalf("ExpandPipeline: %v", err)
		}
		if expanded.Deploy != nil {
			t.Error("Deploy should remain nil")
		}
	})
}
