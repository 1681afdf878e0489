// Copyright 2026 The Gantry Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/gantry-ci/gantry/lib/engine"
	"github.com/gantry-ci/gantry/lib/matrix"
	"github.com/gantry-ci/gantry/lib/schema"
)

// resultLog writes structured JSONL to a file during pipeline
// execution. Each line is an independent JSON object, making the log:
//
//   - Crash-safe: a SIGKILL mid-run preserves all completed command
//     results. A single JSON file would be truncated and unparseable.
//   - Streamable: an outer system can tail the file for real-time
//     progress instead of waiting for completion.
//
// Created by gantry run when --result-log is given. All methods are
// nil-safe no-ops so callers can hold a nil *resultLog when the flag
// is absent.
type resultLog struct {
	logger  *slog.Logger
	mu      sync.Mutex
	file    *os.File
	encoder *json.Encoder
}

// newResultLog creates a JSONL result log at the given path. The file
// is created (truncating any existing content) immediately. Returns an
// error if the file cannot be created.
func newResultLog(path string, logger *slog.Logger) (*resultLog, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating result log %s: %w", path, err)
	}
	return &resultLog{
		logger:  logger,
		file:    file,
		encoder: json.NewEncoder(file),
	}, nil
}

// Close flushes and closes the result log file.
func (r *resultLog) Close() error {
	if r == nil {
		return nil
	}
	return r.file.Close()
}

func (r *resultLog) PipelineStarted(pipeline string, entries []matrix.Entry) {
	if r == nil {
		return
	}
	names := make([]string, len(entries))
	for i, entry := range entries {
		names[i] = entry.Name
	}
	r.write(resultStartEntry{
		Type:      "start",
		Pipeline:  pipeline,
		Entries:   names,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (r *resultLog) RunStarted(entry matrix.Entry) {
	if r == nil {
		return
	}
	r.write(resultRunStartEntry{
		Type:    "run-start",
		Entry:   entry.Name,
		Runtime: entry.Runtime,
	})
}

func (r *resultLog) StageStarted(entry matrix.Entry, stage schema.StageName, commandCount int) {
	// Per-stage progress is reconstructable from command lines; only
	// completed work is logged.
}

func (r *resultLog) CommandFinished(entry matrix.Entry, stage schema.StageName, index int, result schema.CommandResult) {
	if r == nil {
		return
	}
	r.write(resultCommandEntry{
		Type:       "command",
		Entry:      entry.Name,
		Stage:      stage,
		Index:      index,
		Name:       result.Name,
		Status:     result.Status,
		ExitCode:   result.ExitCode,
		DurationMS: result.DurationMS,
		Error:      result.Error,
		Log:        result.Log,
	})
}

func (r *resultLog) StageFinished(entry matrix.Entry, result schema.StageResult) {
	if r == nil {
		return
	}
	r.write(resultStageEntry{
		Type:        "stage",
		Entry:       entry.Name,
		Stage:       result.Stage,
		Status:      result.Status,
		FailedIndex: result.FailedIndex,
		DurationMS:  result.DurationMS,
	})
}

func (r *resultLog) DeployEvaluated(entry matrix.Entry, decision schema.DeployDecision) {
	if r == nil {
		return
	}
	r.write(resultGateEntry{
		Type:    "gate",
		Entry:   entry.Name,
		Allowed: decision.Allowed,
		Checks:  decision.Checks,
	})
}

func (r *resultLog) RunFinished(result schema.RunResult) {
	if r == nil {
		return
	}
	r.write(resultRunEntry{
		Type:        "run",
		Entry:       result.Entry,
		Runtime:     result.Runtime,
		Status:      result.Status,
		FailedStage: result.FailedStage,
		Error:       result.Error,
		DurationMS:  result.DurationMS,
	})
}

func (r *resultLog) PipelineFinished(result schema.PipelineResult) {
	if r == nil {
		return
	}
	r.write(resultCompleteEntry{
		Type:       "complete",
		Status:     result.Status,
		DurationMS: result.DurationMS,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	})
}

var _ engine.Reporter = (*resultLog)(nil)

func (r *resultLog) write(entry any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.encoder.Encode(entry); err != nil {
		r.logger.Warn("failed to write result log entry", "error", err)
		return
	}
	// Sync after each line so that partial results survive a crash and
	// are visible to readers tailing for progress immediately.
	if err := r.file.Sync(); err != nil {
		r.logger.Warn("failed to sync result log", "error", err)
	}
}

// JSONL entry types. Each struct documents exactly which fields appear
// in that line type. Separate structs (rather than one with omitempty
// everywhere) make the wire format explicit and self-documenting.

// resultStartEntry is the first line, written at pipeline start.
type resultStartEntry struct {
	Type      string   `json:"type"`
	Pipeline  string   `json:"pipeline"`
	Entries   []string `json:"entries"`
	Timestamp string   `json:"timestamp"`
}

// resultRunStartEntry is written when a matrix entry's run begins.
type resultRunStartEntry struct {
	Type    string `json:"type"`
	Entry   string `json:"entry"`
	Runtime string `json:"runtime,omitempty"`
}

// resultCommandEntry is written after each command completes (or is
// skipped).
type resultCommandEntry struct {
	Type       string               `json:"type"`
	Entry      string               `json:"entry"`
	Stage      schema.StageName     `json:"stage"`
	Index      int                  `json:"index"`
	Name       string               `json:"name"`
	Status     schema.CommandStatus `json:"status"`
	ExitCode   int                  `json:"exit_code"`
	DurationMS int64                `json:"duration_ms"`
	Error      string               `json:"error,omitempty"`
	Log        *schema.LogRef       `json:"log,omitempty"`
}

// resultStageEntry is written after each stage completes.
type resultStageEntry struct {
	Type        string             `json:"type"`
	Entry       string             `json:"entry"`
	Stage       schema.StageName   `json:"stage"`
	Status      schema.StageStatus `json:"status"`
	FailedIndex int                `json:"failed_index"`
	DurationMS  int64              `json:"duration_ms"`
}

// resultGateEntry is written when the deploy gate is evaluated,
// whatever the verdict.
type resultGateEntry struct {
	Type    string               `json:"type"`
	Entry   string               `json:"entry"`
	Allowed bool                 `json:"allowed"`
	Checks  []schema.DeployCheck `json:"checks,omitempty"`
}

// resultRunEntry is written when a matrix entry's run reaches a
// terminal status.
type resultRunEntry struct {
	Type        string           `json:"type"`
	Entry       string           `json:"entry"`
	Runtime     string           `json:"runtime,omitempty"`
	Status      schema.RunStatus `json:"status"`
	FailedStage schema.StageName `json:"failed_stage,omitempty"`
	Error       string           `json:"error,omitempty"`
	DurationMS  int64            `json:"duration_ms"`
}

// resultCompleteEntry is the last line, written after every entry has
// finished.
type resultCompleteEntry struct {
	Type       string           `json:"type"`
	Status     schema.RunStatus `json:"status"`
	DurationMS int64            `json:"duration_ms"`
	Timestamp  string           `json:"timestamp"`
}
