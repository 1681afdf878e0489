// Copyright 2026 The Gantry Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the runner configuration for Gantry.
type Config struct {
	// Root is the base directory for Gantry data. Build logs and the
	// history database default to subpaths of it.
	Root string `yaml:"root"`

	// Shell is the command interpreter for stage commands, service
	// processes, and readiness probes, resolved via PATH.
	// Default: sh
	Shell string `yaml:"shell"`

	// BuildLogs configures per-command output capture.
	BuildLogs BuildLogsConfig `yaml:"build_logs"`

	// History configures the run-history database.
	History HistoryConfig `yaml:"history"`

	// Run configures execution defaults.
	Run RunConfig `yaml:"run"`
}

// BuildLogsConfig configures the captured-output store.
type BuildLogsConfig struct {
	// Disabled turns off output capture entirely. Commands still
	// stream to the console.
	Disabled bool `yaml:"disabled"`

	// Dir is the root directory for captured logs.
	// Default: ${GANTRY_ROOT}/logs
	Dir string `yaml:"dir"`

	// Compression names the on-disk encoding: "zstd", "lz4", or
	// "none". Incompressible output is stored plain regardless.
	// Default: zstd
	Compression string `yaml:"compression"`
}

// HistoryConfig configures the run-history database.
type HistoryConfig struct {
	// Disabled turns off history recording and the history command.
	Disabled bool `yaml:"disabled"`

	// Path is the SQLite database file.
	// Default: ${GANTRY_ROOT}/history.db
	Path string `yaml:"path"`

	// Keep bounds how many runs are retained; older rows are pruned
	// after each recording. Zero keeps everything.
	Keep int `yaml:"keep"`
}

// RunConfig configures execution defaults.
type RunConfig struct {
	// CommandTimeout bounds commands that declare no timeout of their
	// own (e.g., "30m"). Parsed by time.ParseDuration. Empty means
	// unbounded.
	CommandTimeout string `yaml:"command_timeout"`
}

// Default returns the built-in configuration. It is the complete
// configuration for a machine with no config file; a loaded file
// overrides individual fields.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	defaultRoot := filepath.Join(homeDir, ".cache", "gantry")

	return &Config{
		Root:  defaultRoot,
		Shell: "sh",
		BuildLogs: BuildLogsConfig{
			Dir:         filepath.Join(defaultRoot, "logs"),
			Compression: "zstd",
		},
		History: HistoryConfig{
			Path: filepath.Join(defaultRoot, "history.db"),
		},
	}
}

// Load loads configuration from the GANTRY_CONFIG environment
// variable. When the variable is unset, the defaults are returned
// unchanged; there is no file discovery.
func Load() (*Config, error) {
	configPath := os.Getenv("GANTRY_CONFIG")
	if configPath == "" {
		cfg := Default()
		cfg.expandVariables()
		return cfg, nil
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path.
//
// The config file is the single source of truth. Environment variables
// do not override config values; the only expansion performed is
// ${HOME} and similar path variables for portability.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.expandVariables()
	return cfg, nil
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in path
// fields. Root is expanded first so dependent paths can reference
// ${GANTRY_ROOT}.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"GANTRY_ROOT": c.Root,
		"HOME":        os.Getenv("HOME"),
	}

	c.Root = expandVars(c.Root, vars)
	vars["GANTRY_ROOT"] = c.Root

	c.BuildLogs.Dir = expandVars(c.BuildLogs.Dir, vars)
	c.History.Path = expandVars(c.History.Path, vars)
}

// expandVars expands ${VAR} and ${VAR:-default} patterns.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Shell == "" {
		errs = append(errs, errors.New("shell is required"))
	}

	if !c.BuildLogs.Disabled {
		if c.BuildLogs.Dir == "" {
			errs = append(errs, errors.New("build_logs.dir is required unless build_logs.disabled"))
		}
		switch c.BuildLogs.Compression {
		case "zstd", "lz4", "none":
		default:
			errs = append(errs, fmt.Errorf("build_logs.compression must be zstd, lz4, or none, got %q", c.BuildLogs.Compression))
		}
	}

	if !c.History.Disabled && c.History.Path == "" {
		errs = append(errs, errors.New("history.path is required unless history.disabled"))
	}
	if c.History.Keep < 0 {
		errs = append(errs, fmt.Errorf("history.keep must be >= 0, got %d", c.History.Keep))
	}

	if c.Run.CommandTimeout != "" {
		if _, err := time.ParseDuration(c.Run.CommandTimeout); err != nil {
			errs = append(errs, fmt.Errorf("run.command_timeout: %v", err))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// CommandTimeout returns the parsed default command timeout; zero when
// unset. Call Validate first to reject malformed values.
func (c *Config) CommandTimeout() time.Duration {
	if c.Run.CommandTimeout == "" {
		return 0
	}
	parsed, err := time.ParseDuration(c.Run.CommandTimeout)
	if err != nil {
		return 0
	}
	return parsed
}
