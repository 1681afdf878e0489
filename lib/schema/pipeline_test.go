// Copyright 2026 The Gantry Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"encoding/json"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

// assertField checks a single key in a JSON-decoded map.
func assertField(t *testing.T, m map[string]any, key string, want any) {
	t.Helper()
	got, exists := m[key]
	if !exists {
		t.Errorf("field %q missing", key)
		return
	}
	if got != want {
		t.Errorf("field %q = %v, want %v", key, got, want)
	}
}

func TestPipelineDecodeYAML(t *testing.T) {
	document := `
description: Test and release with-cloud-blob
runtimes: ["3.7", "3.8"]
cache: pip
env:
  TOXENV: py
services:
  - name: cloudstack
    run: docker run --rm -p 8770:8770 -p 8771:8771 cloudmock
    ready: curl -fs http://localhost:8771/health
    ready_timeout: 60s
install:
  - pip install --upgrade pip tox invoke
script:
  - invoke check
  - run: invoke test
    timeout: 30m
  - run: invoke upload-coverage
    enabled: false
build:
  - invoke build
deploy:
  commands:
    - twine upload dist/*
  when:
    repository: kshpytsya/with-cloud-blob
    tag: true
    runtime: "3.7"
`
	var pipeline Pipeline
	if err := yaml.Unmarshal([]byte(document), &pipeline); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if pipeline.Description != "Test and release with-cloud-blob" {
		t.Errorf("Description = %q", pipeline.Description)
	}
	if len(pipeline.Runtimes) != 2 || pipeline.Runtimes[0] != "3.7" || pipeline.Runtimes[1] != "3.8" {
		t.Errorf("Runtimes = %v, want [3.7 3.8]", pipeline.Runtimes)
	}
	if pipeline.Cache != "pip" {
		t.Errorf("Cache = %q, want %q", pipeline.Cache, "pip")
	}
	if pipeline.Env["TOXENV"] != "py" {
		t.Errorf("Env[TOXENV] = %q, want %q", pipeline.Env["TOXENV"], "py")
	}

	if len(pipeline.Services) != 1 {
		t.Fatalf("Services count = %d, want 1", len(pipeline.Services))
	}
	service := pipeline.Services[0]
	if service.Name != "cloudstack" {
		t.Errorf("Services[0].Name = %q", service.Name)
	}
	if service.ReadyTimeout != "60s" {
		t.Errorf("Services[0].ReadyTimeout = %q, want %q", service.ReadyTimeout, "60s")
	}

	// Bare-string form.
	if len(pipeline.Install) != 1 {
		t.Fatalf("Install count = %d, want 1", len(pipeline.Install))
	}
	if pipeline.Install[0].Run != "pip install --upgrade pip tox invoke" {
		t.Errorf("Install[0].Run = %q", pipeline.Install[0].Run)
	}
	if !pipeline.Install[0].IsEnabled() {
		t.Error("bare-string command should be enabled")
	}

	// Mixed string and object forms.
	if len(pipeline.Script) != 3 {
		t.Fatalf("Script count = %d, want 3", len(pipeline.Script))
	}
	if pipeline.Script[0].Run != "invoke check" {
		t.Errorf("Script[0].Run = %q", pipeline.Script[0].Run)
	}
	if pipeline.Script[1].Timeout != "30m" {
		t.Errorf("Script[1].Timeout = %q, want %q", pipeline.Script[1].Timeout, "30m")
	}
	if pipeline.Script[1].IsEnabled() != true {
		t.Error("Script[1] should be enabled when the flag is unset")
	}
	if pipeline.Script[2].IsEnabled() {
		t.Error("Script[2] should be disabled")
	}

	if pipeline.Deploy == nil {
		t.Fatal("Deploy is nil")
	}
	if len(pipeline.Deploy.Commands) != 1 || pipeline.Deploy.Commands[0].Run != "twine upload dist/*" {
		t.Errorf("Deploy.Commands = %+v", pipeline.Deploy.Commands)
	}
	when := pipeline.Deploy.When
	if when.Repository != "kshpytsya/with-cloud-blob" || !when.Tag || when.Runtime != "3.7" {
		t.Errorf("Deploy.When = %+v", when)
	}
	if when.IsZero() {
		t.Error("Deploy.When.IsZero() = true with conditions declared")
	}

	if err := pipeline.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
}

func TestCommandDecodeJSON(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		want     Command
		enabled  bool
		wantErr  string
	}{
		{
			name:    "bare_string",
			input:   `"invoke test"`,
			want:    Command{Run: "invoke test"},
			enabled: true,
		},
		{
			name:    "object_full",
			input:   `{"name": "tests", "run": "invoke test", "timeout": "10m", "grace_period": "30s"}`,
			want:    Command{Name: "tests", Run: "invoke test", Timeout: "10m", GracePeriod: "30s"},
			enabled: true,
		},
		{
			name:    "object_disabled",
			input:   `{"run": "invoke upload", "enabled": false}`,
			enabled: false,
		},
		{
			name:    "invalid",
			input:   `42`,
			wantErr: "must be a string or an object",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			var command Command
			err := json.Unmarshal([]byte(test.input), &command)
			if test.wantErr != "" {
				if err == nil {
					t.Fatalf("Unmarshal = nil, want error containing %q", test.wantErr)
				}
				if !strings.Contains(err.Error(), test.wantErr) {
					t.Errorf("Unmarshal = %q, want error containing %q", err, test.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unmarshal: %v", err)
			}
			if command.IsEnabled() != test.enabled {
				t.Errorf("IsEnabled() = %v, want %v", command.IsEnabled(), test.enabled)
			}
			if test.want.Run != "" && command.Run != test.want.Run {
				t.Errorf("Run = %q, want %q", command.Run, test.want.Run)
			}
			if command.Name != test.want.Name {
				t.Errorf("Name = %q, want %q", command.Name, test.want.Name)
			}
			if command.Timeout != test.want.Timeout {
				t.Errorf("Timeout = %q, want %q", command.Timeout, test.want.Timeout)
			}
		})
	}
}

func TestCommandMarshalCompactForm(t *testing.T) {
	// A command with only Run set marshals back to the bare-string
	// authoring form.
	data, err := json.Marshal(Command{Run: "invoke check"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(data) != `"invoke check"` {
		t.Errorf("Marshal = %s, want bare string", data)
	}

	// Anything more marshals as an object.
	disabled := false
	data, err = json.Marshal(Command{Run: "invoke upload", Enabled: &disabled})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Unmarshal to map: %v", err)
	}
	assertField(t, raw, "run", "invoke upload")
	assertField(t, raw, "enabled", false)
}

func TestCommandMarshalYAMLCompactForm(t *testing.T) {
	data, err := yaml.Marshal([]Command{
		{Run: "invoke check"},
		{Name: "tests", Run: "invoke test"},
	})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	text := string(data)
	if !strings.Contains(text, "- invoke check\n") {
		t.Errorf("bare command should marshal as a scalar list item, got:\n%s", text)
	}
	if !strings.Contains(text, "name: tests") {
		t.Errorf("named command should marshal as a mapping, got:\n%s", text)
	}
}

func TestCommandDisplayName(t *testing.T) {
	named := Command{Name: "tests", Run: "invoke test"}
	if named.DisplayName() != "tests" {
		t.Errorf("DisplayName() = %q, want %q", named.DisplayName(), "tests")
	}
	bare := Command{Run: "invoke test"}
	if bare.DisplayName() != "invoke test" {
		t.Errorf("DisplayName() = %q, want %q", bare.DisplayName(), "invoke test")
	}
}

func validPipeline() Pipeline {
	return Pipeline{
		Runtimes: []string{"3.7", "3.8"},
		Script:   []Command{{Run: "invoke test"}},
		Services: []Service{
			{Name: "db", Run: "docker run --rm db", ReadyTimeout: "30s"},
		},
		Deploy: &Deploy{
			Commands: []Command{{Run: "twine upload dist/*"}},
			When:     WhenClause{Tag: true, Runtime: "3.7"},
		},
	}
}

func TestPipelineValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Pipeline)
		wantErr string
	}{
		{
			name:    "valid",
			modify:  func(p *Pipeline) {},
			wantErr: "",
		},
		{
			name:    "empty_runtime_entry",
			modify:  func(p *Pipeline) { p.Runtimes = []string{"3.7", ""} },
			wantErr: "runtimes must not contain empty entries",
		},
		{
			name:    "duplicate_runtime",
			modify:  func(p *Pipeline) { p.Runtimes = []string{"3.7", "3.7"} },
			wantErr: `duplicate runtime "3.7"`,
		},
		{
			name:    "bad_env_name",
			modify:  func(p *Pipeline) { p.Env = map[string]string{"2BAD": "x"} },
			wantErr: "not a valid environment variable identifier",
		},
		{
			name:    "axis_without_values",
			modify:  func(p *Pipeline) { p.Axes = map[string][]string{"TOXENV": {}} },
			wantErr: `axis "TOXENV" has no values`,
		},
		{
			name:    "bad_axis_name",
			modify:  func(p *Pipeline) { p.Axes = map[string][]string{"tox-env": {"py"}} },
			wantErr: `axis name "tox-env"`,
		},
		{
			name:    "command_without_run",
			modify:  func(p *Pipeline) { p.Script = []Command{{Name: "tests"}} },
			wantErr: "script[0]: run is required",
		},
		{
			name:    "bad_timeout",
			modify:  func(p *Pipeline) { p.Script[0].Timeout = "5 minutes" },
			wantErr: "timeout",
		},
		{
			name:    "service_without_name",
			modify:  func(p *Pipeline) { p.Services[0].Name = "" },
			wantErr: "services[0]: name is required",
		},
		{
			name: "duplicate_service",
			modify: func(p *Pipeline) {
				p.Services = append(p.Services, Service{Name: "db", Run: "docker run --rm db2"})
			},
			wantErr: `duplicate service name "db"`,
		},
		{
			name:    "bad_ready_timeout",
			modify:  func(p *Pipeline) { p.Services[0].ReadyTimeout = "soon" },
			wantErr: "ready_timeout",
		},
		{
			name:    "deploy_runtime_not_declared",
			modify:  func(p *Pipeline) { p.Deploy.When.Runtime = "3.9" },
			wantErr: `when.runtime "3.9" is not a declared runtime`,
		},
		{
			name:    "bad_branch_pattern",
			modify:  func(p *Pipeline) { p.Deploy.When.Branch = "release/[" },
			wantErr: "when.branch pattern",
		},
		{
			name:    "bad_secret_name",
			modify:  func(p *Pipeline) { p.Deploy.Secrets = map[string]string{"bad-name": "/etc/token"} },
			wantErr: `secret name "bad-name"`,
		},
		{
			name:    "empty_secret_path",
			modify:  func(p *Pipeline) { p.Deploy.Secrets = map[string]string{"TWINE_PASSWORD": ""} },
			wantErr: `secret "TWINE_PASSWORD" has an empty path`,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			pipeline := validPipeline()
			test.modify(&pipeline)
			err := pipeline.Validate()
			if test.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() = nil, want error containing %q", test.wantErr)
			}
			if !strings.Contains(err.Error(), test.wantErr) {
				t.Errorf("Validate() = %q, want error containing %q", err, test.wantErr)
			}
		})
	}
}

func TestStageCommands(t *testing.T) {
	pipeline := Pipeline{
		Install: []Command{{Run: "pip install tox"}},
		Script:  []Command{{Run: "invoke check"}, {Run: "invoke test"}},
		Build:   []Command{{Run: "invoke build"}},
		Deploy:  &Deploy{Commands: []Command{{Run: "twine upload dist/*"}}},
	}

	if got := len(pipeline.StageCommands(StageInstall)); got != 1 {
		t.Errorf("install commands = %d, want 1", got)
	}
	if got := len(pipeline.StageCommands(StageScript)); got != 2 {
		t.Errorf("script commands = %d, want 2", got)
	}
	if got := len(pipeline.StageCommands(StageBuild)); got != 1 {
		t.Errorf("build commands = %d, want 1", got)
	}
	if got := len(pipeline.StageCommands(StageDeploy)); got != 1 {
		t.Errorf("deploy commands = %d, want 1", got)
	}

	// Without a deploy section the deploy stage has no commands.
	pipeline.Deploy = nil
	if got := pipeline.StageCommands(StageDeploy); got != nil {
		t.Errorf("deploy commands without deploy section = %v, want nil", got)
	}
}

func TestStageNamesOrder(t *testing.T) {
	names := StageNames()
	want := []StageName{StageInstall, StageScript, StageBuild, StageDeploy}
	if len(names) != len(want) {
		t.Fatalf("StageNames() length = %d, want %d", len(names), len(want))
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("StageNames()[%d] = %q, want %q", i, names[i], want[i])
		}
	}
}

func TestStageNameValidate(t *testing.T) {
	for _, name := range StageNames() {
		if err := name.Validate(); err != nil {
			t.Errorf("Validate(%q) = %v, want nil", name, err)
		}
	}
	if err := StageName("compile").Validate(); err == nil {
		t.Error("Validate(compile) = nil, want error")
	}
	if err := StageName("").Validate(); err == nil {
		t.Error("Validate(empty) = nil, want error")
	}
}
