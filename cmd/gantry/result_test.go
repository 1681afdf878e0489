// Copyright 2026 The Gantry Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gantry-ci/gantry/lib/matrix"
	"github.com/gantry-ci/gantry/lib/schema"
)

func testResultLog(t *testing.T) (*resultLog, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "result.jsonl")
	logger := slog.New(slog.DiscardHandler)
	results, err := newResultLog(path, logger)
	if err != nil {
		t.Fatalf("newResultLog: %v", err)
	}
	t.Cleanup(func() { results.Close() })
	return results, path
}

func readResultLog(t *testing.T, path string) []map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading result log: %v", err)
	}
	var entries []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("parsing JSONL line %q: %v", line, err)
		}
		entries = append(entries, entry)
	}
	return entries
}

func assertResultField(t *testing.T, entry map[string]any, key, expected string) {
	t.Helper()
	value, ok := entry[key].(string)
	if !ok {
		t.Errorf("entry missing string field %q (entry: %v)", key, entry)
		return
	}
	if value != expected {
		t.Errorf("entry[%q] = %q, want %q", key, value, expected)
	}
}

func assertResultFieldFloat(t *testing.T, entry map[string]any, key string, expected float64) {
	t.Helper()
	value, ok := entry[key].(float64)
	if !ok {
		t.Errorf("entry missing numeric field %q (entry: %v)", key, entry)
		return
	}
	if value != expected {
		t.Errorf("entry[%q] = %v, want %v", key, value, expected)
	}
}

func TestResultLogLineSequence(t *testing.T) {
	t.Parallel()

	results, path := testResultLog(t)

	entry := matrix.Entry{Name: "3.7", Runtime: "3.7"}
	results.PipelineStarted("release", []matrix.Entry{entry})
	results.RunStarted(entry)
	results.StageStarted(entry, schema.StageInstall, 1)
	results.CommandFinished(entry, schema.StageInstall, 0, schema.CommandResult{
		Name:       "pip install tox",
		Status:     schema.CommandOK,
		ExitCode:   0,
		DurationMS: 1200,
	})
	results.StageFinished(entry, schema.StageResult{
		Stage:       schema.StageInstall,
		Status:      schema.StageOK,
		FailedIndex: -1,
		DurationMS:  1200,
	})
	results.DeployEvaluated(entry, schema.DeployDecision{
		Allowed: false,
		Checks: []schema.DeployCheck{
			{Condition: schema.CheckTag, Passed: false, Want: "any tag", Got: "(none)"},
		},
	})
	results.RunFinished(schema.RunResult{
		Entry:       "3.7",
		Runtime:     "3.7",
		Status:      schema.RunSucceeded,
		FailedIndex: -1,
		StartedAt:   "2026-08-23T10:00:00Z",
		CompletedAt: "2026-08-23T10:00:02Z",
		DurationMS:  2000,
	})
	results.PipelineFinished(schema.PipelineResult{
		Version:    schema.ResultVersion,
		Pipeline:   "release",
		Status:     schema.RunSucceeded,
		DurationMS: 2000,
	})

	entries := readResultLog(t, path)
	if len(entries) != 7 {
		t.Fatalf("expected 7 JSONL entries, got %d", len(entries))
	}

	assertResultField(t, entries[0], "type", "start")
	assertResultField(t, entries[0], "pipeline", "release")
	assertResultField(t, entries[1], "type", "run-start")
	assertResultField(t, entries[1], "entry", "3.7")
	assertResultField(t, entries[1], "runtime", "3.7")
	assertResultField(t, entries[2], "type", "command")
	assertResultField(t, entries[2], "stage", "install")
	assertResultField(t, entries[2], "name", "pip install tox")
	assertResultField(t, entries[2], "status", "ok")
	assertResultFieldFloat(t, entries[2], "duration_ms", 1200)
	assertResultField(t, entries[3], "type", "stage")
	assertResultField(t, entries[3], "status", "ok")
	assertResultFieldFloat(t, entries[3], "failed_index", -1)
	assertResultField(t, entries[4], "type", "gate")
	if allowed, ok := entries[4]["allowed"].(bool); !ok || allowed {
		t.Errorf("gate entry allowed = %v, want false", entries[4]["allowed"])
	}
	assertResultField(t, entries[5], "type", "run")
	assertResultField(t, entries[5], "status", "succeeded")
	assertResultField(t, entries[6], "type", "complete")
	assertResultField(t, entries[6], "status", "succeeded")
}

func TestResultLogFailureCarriesStageAndError(t *testing.T) {
	t.Parallel()

	results, path := testResultLog(t)

	entry := matrix.Entry{Name: "3.8", Runtime: "3.8"}
	results.CommandFinished(entry, schema.StageScript, 1, schema.CommandResult{
		Name:       "invoke test",
		Status:     schema.CommandFailed,
		ExitCode:   7,
		DurationMS: 300,
	})
	results.RunFinished(schema.RunResult{
		Entry:       "3.8",
		Runtime:     "3.8",
		Status:      schema.RunFailed,
		FailedStage: schema.StageScript,
		FailedIndex: 1,
		Error:       `script[1] "invoke test": exit code 7`,
		StartedAt:   "2026-08-23T10:00:00Z",
		CompletedAt: "2026-08-23T10:00:01Z",
		DurationMS:  1000,
	})

	entries := readResultLog(t, path)
	if len(entries) != 2 {
		t.Fatalf("expected 2 JSONL entries, got %d", len(entries))
	}

	assertResultField(t, entries[0], "status", "failed")
	assertResultFieldFloat(t, entries[0], "exit_code", 7)
	assertResultField(t, entries[1], "type", "run")
	assertResultField(t, entries[1], "failed_stage", "script")
	assertResultField(t, entries[1], "error", `script[1] "invoke test": exit code 7`)
}

func TestResultLogNilIsSafe(t *testing.T) {
	t.Parallel()

	var results *resultLog
	entry := matrix.Entry{Name: "default"}

	// Every method must be a no-op on a nil receiver.
	results.PipelineStarted("p", nil)
	results.RunStarted(entry)
	results.StageStarted(entry, schema.StageInstall, 0)
	results.CommandFinished(entry, schema.StageInstall, 0, schema.CommandResult{})
	results.StageFinished(entry, schema.StageResult{})
	results.DeployEvaluated(entry, schema.DeployDecision{})
	results.RunFinished(schema.RunResult{})
	results.PipelineFinished(schema.PipelineResult{})
	if err := results.Close(); err != nil {
		t.Errorf("Close on nil = %v, want nil", err)
	}
}

func TestResultLogCreateFailure(t *testing.T) {
	t.Parallel()

	_, err := newResultLog(filepath.Join(t.TempDir(), "missing", "result.jsonl"),
		slog.New(slog.DiscardHandler))
	if err == nil {
		t.Fatal("newResultLog in a missing directory should fail")
	}
}
