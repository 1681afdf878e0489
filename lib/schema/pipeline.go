// Copyright 2026 The Gantry Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"regexp"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// Pipeline is the parsed form of a pipeline definition document. It
// describes a matrix of independent runs (one per runtime version and
// extra axis combination), each of which executes the same fixed stage
// sequence: install, script, build, then a gated deploy. Background
// services declared in Services run for the duration of the script
// stage only.
//
// Variable substitution (${NAME}) is applied to command strings,
// service commands, and deploy secret paths before execution. Variables
// are resolved from the declarations in Variables, run parameters, and
// the process environment.
type Pipeline struct {
	// Description is a human-readable summary of what this pipeline
	// does (e.g., "Test and release with-cloud-blob").
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// Runtimes is the primary matrix axis: one independent run per
	// listed runtime version (e.g., ["3.7", "3.8"]). The runtime
	// value is exported to commands as GANTRY_RUNTIME and compared by
	// the deploy gate's runtime condition. An empty list yields a
	// single run with an empty runtime.
	Runtimes []string `yaml:"runtimes,omitempty" json:"runtimes,omitempty"`

	// Cache is an informational cache-strategy hint (e.g., "pip").
	// Gantry records it but attaches no behavior; external tooling
	// may act on it.
	Cache string `yaml:"cache,omitempty" json:"cache,omitempty"`

	// Env sets environment variables for every command in every run.
	// Merged with per-entry axis values and per-command Env; the more
	// specific source takes precedence on conflict.
	Env map[string]string `yaml:"env,omitempty" json:"env,omitempty"`

	// Axes declares extra matrix axes beyond Runtimes. Each entry
	// maps an environment variable name to the list of values it
	// takes; the matrix is the Cartesian product of Runtimes and all
	// axes. Axis names must be valid environment variable
	// identifiers.
	Axes map[string][]string `yaml:"axes,omitempty" json:"axes,omitempty"`

	// Variables declares the variables this pipeline expects, with
	// optional defaults and required flags. This is the declaration;
	// actual values come from run parameters and the process
	// environment at runtime.
	Variables map[string]Variable `yaml:"variables,omitempty" json:"variables,omitempty"`

	// Services are background processes (databases, emulators) that
	// must be running while the script stage executes. They are
	// started before the first script command, probed for readiness,
	// and always stopped when the stage finishes, regardless of
	// outcome.
	Services []Service `yaml:"services,omitempty" json:"services,omitempty"`

	// Install is the dependency-installation stage, executed first.
	Install []Command `yaml:"install,omitempty" json:"install,omitempty"`

	// Script is the main verification stage (linters, test suites),
	// executed after install succeeds, wrapped by Services.
	Script []Command `yaml:"script,omitempty" json:"script,omitempty"`

	// Build is the artifact-producing stage, executed after script
	// succeeds.
	Build []Command `yaml:"build,omitempty" json:"build,omitempty"`

	// Deploy configures the final, conditionally executed stage. When
	// nil, runs finish after build.
	Deploy *Deploy `yaml:"deploy,omitempty" json:"deploy,omitempty"`
}

// Variable declares an expected variable for a pipeline.
type Variable struct {
	// Description explains what this variable is for (shown by
	// gantry show).
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// Default is the fallback value when the variable is not provided
	// by any source. An empty default counts as unset: a required
	// variable must get its value from run parameters or the
	// environment.
	Default string `yaml:"default,omitempty" json:"default,omitempty"`

	// Required means the run must fail before executing anything if
	// this variable has no value from any source (including Default).
	Required bool `yaml:"required,omitempty" json:"required,omitempty"`
}

// Command is a single stage entry: a shell command with optional
// per-entry settings. In YAML and JSONC documents a command is written
// either as a plain string (the common case) or as an object when the
// entry needs a name, a timeout, or the enabled flag:
//
//	script:
//	  - invoke check
//	  - run: invoke test
//	    timeout: 30m
//	  - run: invoke upload-coverage
//	    enabled: false
//
// A disabled entry stays in the definition and appears in results as
// skipped, so temporarily switched-off steps remain visible instead of
// being deleted or commented out.
type Command struct {
	// Name is an optional human-readable identifier used in log
	// output and results. When empty, the run string identifies the
	// command.
	Name string `yaml:"name,omitempty" json:"name,omitempty"`

	// Run is the shell command, executed via sh -c. Multi-line
	// strings are supported. Variable substitution (${NAME}) is
	// applied before execution. Required.
	Run string `yaml:"run" json:"run"`

	// Enabled controls whether this entry executes. Unset means
	// enabled. Disabled entries are recorded as skipped and do not
	// affect the stage outcome.
	Enabled *bool `yaml:"enabled,omitempty" json:"enabled,omitempty"`

	// Timeout is the maximum duration for this command (e.g., "5m",
	// "30s"). Parsed by time.ParseDuration. The runner kills the
	// command's process group if it exceeds this duration. When
	// empty, the runner's default applies.
	Timeout string `yaml:"timeout,omitempty" json:"timeout,omitempty"`

	// GracePeriod is the duration between SIGTERM and SIGKILL when
	// the command is killed (timeout or cancellation). When set, the
	// process group gets SIGTERM first and this long to exit before
	// SIGKILL. When empty, SIGKILL is immediate.
	GracePeriod string `yaml:"grace_period,omitempty" json:"grace_period,omitempty"`

	// Env sets additional environment variables for this command
	// only. Merged over pipeline-level Env and axis values.
	Env map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
}

// IsEnabled reports whether this entry should execute. Unset Enabled
// means enabled.
func (c *Command) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// DisplayName returns the identifier used for this command in logs and
// results: Name when set, otherwise the run string.
func (c *Command) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.Run
}

// UnmarshalYAML decodes a Command from either form: a plain scalar
// (the run string) or a mapping with the full field set.
func (c *Command) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		var run string
		if err := value.Decode(&run); err != nil {
			return err
		}
		*c = Command{Run: run}
		return nil
	}
	type plain Command
	var p plain
	if err := value.Decode(&p); err != nil {
		return err
	}
	*c = Command(p)
	return nil
}

// UnmarshalJSON decodes a Command from either form: a JSON string (the
// run string) or an object with the full field set.
func (c *Command) UnmarshalJSON(data []byte) error {
	// Try string form first (most common).
	var run string
	if err := json.Unmarshal(data, &run); err == nil {
		*c = Command{Run: run}
		return nil
	}
	type plain Command
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("command must be a string or an object with a run field, got: %s", string(data))
	}
	*c = Command(p)
	return nil
}

// MarshalJSON encodes a Command. A command with only Run set marshals
// as a bare string for round-trip fidelity with the compact authoring
// form; anything else marshals as an object.
func (c Command) MarshalJSON() ([]byte, error) {
	if c.Name == "" && c.Enabled == nil && c.Timeout == "" && c.GracePeriod == "" && len(c.Env) == 0 {
		return json.Marshal(c.Run)
	}
	type plain Command
	return json.Marshal(plain(c))
}

// MarshalYAML encodes a Command, using the bare-string form when only
// Run is set.
func (c Command) MarshalYAML() (any, error) {
	if c.Name == "" && c.Enabled == nil && c.Timeout == "" && c.GracePeriod == "" && len(c.Env) == 0 {
		return c.Run, nil
	}
	type plain Command
	return plain(c), nil
}

// Service declares a background process required by the script stage.
type Service struct {
	// Name identifies the service in logs and results (e.g.,
	// "cloudstack"). Required, unique within the pipeline.
	Name string `yaml:"name" json:"name"`

	// Run is the shell command that starts the service, executed via
	// sh -c in its own process group. The command is expected to stay
	// in the foreground; gantry owns its lifetime. Required.
	Run string `yaml:"run" json:"run"`

	// Ready is an optional readiness probe command. Gantry retries it
	// with backoff until it exits zero or ReadyTimeout expires; the
	// script stage does not start until every service is ready. When
	// empty, the service counts as ready once its process starts.
	Ready string `yaml:"ready,omitempty" json:"ready,omitempty"`

	// ReadyTimeout bounds the readiness wait (e.g., "60s"). Parsed by
	// time.ParseDuration. When empty, a 60 second default applies.
	// A service that is not ready within the bound fails the run
	// before any script command executes.
	ReadyTimeout string `yaml:"ready_timeout,omitempty" json:"ready_timeout,omitempty"`

	// StopGrace is how long the service gets between SIGTERM and
	// SIGKILL at shutdown (e.g., "10s"). Parsed by
	// time.ParseDuration. When empty, a 5 second default applies.
	StopGrace string `yaml:"stop_grace,omitempty" json:"stop_grace,omitempty"`

	// Env sets additional environment variables for the service
	// process and its readiness probe.
	Env map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
}

// Deploy configures the deploy stage: the commands to run and the gate
// conditions that decide whether they run at all.
type Deploy struct {
	// Commands is the ordered list of deploy commands, executed with
	// the same fail-fast semantics as other stages once the gate
	// allows.
	Commands []Command `yaml:"commands,omitempty" json:"commands,omitempty"`

	// Secrets maps environment variable names to filesystem paths.
	// Each file's contents are read at deploy time and injected into
	// the deploy commands' environment under the given name. The
	// values are opaque to gantry: never logged, never recorded in
	// results, held in locked memory while in use. Paths support
	// ${NAME} substitution.
	Secrets map[string]string `yaml:"secrets,omitempty" json:"secrets,omitempty"`

	// When declares the gate conditions. All declared conditions must
	// hold for deploy to run (AND semantics); an empty clause always
	// allows. A false gate skips deploy and the run still succeeds.
	When WhenClause `yaml:"when,omitempty" json:"when,omitempty"`
}

// WhenClause is the set of deploy gate conditions. Zero-valued fields
// are undeclared and do not participate in the decision.
type WhenClause struct {
	// Repository requires the run's repository slug (e.g.,
	// "kshpytsya/with-cloud-blob") to equal this value. Guards
	// against forks deploying from CI.
	Repository string `yaml:"repository,omitempty" json:"repository,omitempty"`

	// Tag requires a tag to point at the built commit. The usual
	// release trigger.
	Tag bool `yaml:"tag,omitempty" json:"tag,omitempty"`

	// Branch requires the current branch to match this glob pattern
	// (path.Match syntax, e.g., "release/*").
	Branch string `yaml:"branch,omitempty" json:"branch,omitempty"`

	// Runtime requires the entry's runtime version to equal this
	// value, so a matrix deploys from exactly one of its runs.
	Runtime string `yaml:"runtime,omitempty" json:"runtime,omitempty"`
}

// IsZero reports whether no condition is declared.
func (w WhenClause) IsZero() bool {
	return w.Repository == "" && !w.Tag && w.Branch == "" && w.Runtime == ""
}

// StageName identifies one of the four fixed pipeline stages.
type StageName string

// The fixed stage sequence. Install, script, and build run
// unconditionally in this order; deploy runs only when the gate
// allows.
const (
	StageInstall StageName = "install"
	StageScript  StageName = "script"
	StageBuild   StageName = "build"
	StageDeploy  StageName = "deploy"
)

// StageNames returns the fixed stage sequence in execution order.
func StageNames() []StageName {
	return []StageName{StageInstall, StageScript, StageBuild, StageDeploy}
}

// Validate checks that the name is one of the four fixed stages.
func (s StageName) Validate() error {
	switch s {
	case StageInstall, StageScript, StageBuild, StageDeploy:
		return nil
	case "":
		return errors.New("stage name is required")
	default:
		return fmt.Errorf("unknown stage %q", string(s))
	}
}

// StageCommands returns the command list for the named stage. For the
// deploy stage this is Deploy.Commands (nil when no deploy is
// configured).
func (p *Pipeline) StageCommands(stage StageName) []Command {
	switch stage {
	case StageInstall:
		return p.Install
	case StageScript:
		return p.Script
	case StageBuild:
		return p.Build
	case StageDeploy:
		if p.Deploy == nil {
			return nil
		}
		return p.Deploy.Commands
	default:
		return nil
	}
}

// envNamePattern matches valid environment variable identifiers, the
// same syntax accepted by ${NAME} substitution.
var envNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Validate checks that the pipeline is structurally sound: commands
// have run strings, durations parse, axis and variable names are valid
// identifiers, runtimes and service names are unique, and the deploy
// gate's runtime condition references a declared runtime. Returns the
// first problem found; use pipelinedef.Validate for the full issue
// list.
func (p *Pipeline) Validate() error {
	seen := make(map[string]bool, len(p.Runtimes))
	for _, runtime := range p.Runtimes {
		if runtime == "" {
			return errors.New("runtimes must not contain empty entries")
		}
		if seen[runtime] {
			return fmt.Errorf("duplicate runtime %q", runtime)
		}
		seen[runtime] = true
	}

	for name := range p.Env {
		if !envNamePattern.MatchString(name) {
			return fmt.Errorf("env name %q is not a valid environment variable identifier", name)
		}
	}
	for _, name := range sortedKeys(p.Axes) {
		if !envNamePattern.MatchString(name) {
			return fmt.Errorf("axis name %q is not a valid environment variable identifier", name)
		}
		if len(p.Axes[name]) == 0 {
			return fmt.Errorf("axis %q has no values", name)
		}
	}
	for _, name := range sortedKeys(p.Variables) {
		if !envNamePattern.MatchString(name) {
			return fmt.Errorf("variable name %q is not a valid identifier", name)
		}
	}

	serviceNames := make(map[string]bool, len(p.Services))
	for i := range p.Services {
		service := &p.Services[i]
		if err := service.Validate(); err != nil {
			return fmt.Errorf("services[%d]: %w", i, err)
		}
		if serviceNames[service.Name] {
			return fmt.Errorf("duplicate service name %q", service.Name)
		}
		serviceNames[service.Name] = true
	}

	for _, stage := range StageNames() {
		commands := p.StageCommands(stage)
		for i := range commands {
			if err := commands[i].Validate(); err != nil {
				return fmt.Errorf("%s[%d]: %w", stage, i, err)
			}
		}
	}

	if p.Deploy != nil {
		if err := p.Deploy.Validate(p.Runtimes); err != nil {
			return fmt.Errorf("deploy: %w", err)
		}
	}
	return nil
}

// Validate checks that the command has a run string and parseable
// durations.
func (c *Command) Validate() error {
	if c.Run == "" {
		return errors.New("run is required")
	}
	if err := validateDuration("timeout", c.Timeout); err != nil {
		return err
	}
	if err := validateDuration("grace_period", c.GracePeriod); err != nil {
		return err
	}
	for name := range c.Env {
		if !envNamePattern.MatchString(name) {
			return fmt.Errorf("env name %q is not a valid environment variable identifier", name)
		}
	}
	return nil
}

// Validate checks that the service has a name, a run command, and
// parseable durations.
func (s *Service) Validate() error {
	if s.Name == "" {
		return errors.New("name is required")
	}
	if s.Run == "" {
		return errors.New("run is required")
	}
	if err := validateDuration("ready_timeout", s.ReadyTimeout); err != nil {
		return err
	}
	if err := validateDuration("stop_grace", s.StopGrace); err != nil {
		return err
	}
	return nil
}

// Validate checks the deploy configuration. runtimes is the pipeline's
// declared runtime list; a runtime gate condition must reference one
// of them, otherwise the gate could never pass.
func (d *Deploy) Validate(runtimes []string) error {
	for i := range d.Commands {
		if err := d.Commands[i].Validate(); err != nil {
			return fmt.Errorf("commands[%d]: %w", i, err)
		}
	}
	for name, path := range d.Secrets {
		if !envNamePattern.MatchString(name) {
			return fmt.Errorf("secret name %q is not a valid environment variable identifier", name)
		}
		if path == "" {
			return fmt.Errorf("secret %q has an empty path", name)
		}
	}
	if d.When.Branch != "" {
		if _, err := path.Match(d.When.Branch, ""); err != nil {
			return fmt.Errorf("when.branch pattern %q: %w", d.When.Branch, err)
		}
	}
	if d.When.Runtime != "" && len(runtimes) > 0 {
		found := false
		for _, runtime := range runtimes {
			if runtime == d.When.Runtime {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("when.runtime %q is not a declared runtime", d.When.Runtime)
		}
	}
	return nil
}

// validateDuration checks that a duration field, when set, parses.
func validateDuration(field, value string) error {
	if value == "" {
		return nil
	}
	if _, err := time.ParseDuration(value); err != nil {
		return fmt.Errorf("%s %q: %w", field, value, err)
	}
	return nil
}

// sortedKeys returns the map's keys in sorted order, for deterministic
// validation messages and matrix expansion.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
