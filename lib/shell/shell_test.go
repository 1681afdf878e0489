// Copyright 2026 The Gantry Authors
// SPDX-License-Identifier: Apache-2.0

package shell

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestRunExitCodes(t *testing.T) {
	t.Parallel()

	runner := &Runner{}
	tests := []struct {
		name string
		run  string
		want int
	}{
		{"success", "true", 0},
		{"failure", "exit 3", 3},
		{"last_command_wins", "true; exit 7", 7},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			result, err := runner.Run(context.Background(), Command{Run: test.run})
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if result.ExitCode != test.want {
				t.Errorf("ExitCode = %d, want %d", result.ExitCode, test.want)
			}
		})
	}
}

func TestRunCapturesOutput(t *testing.T) {
	t.Parallel()

	var stdout, stderr bytes.Buffer
	runner := &Runner{}
	result, err := runner.Run(context.Background(), Command{
		Run:    "echo to-stdout; echo to-stderr >&2",
		Stdout: &stdout,
		Stderr: &stderr,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.ExitCode != 0 {
		t.Fatalf("ExitCode = %d, want 0", result.ExitCode)
	}
	if got := strings.TrimSpace(stdout.String()); got != "to-stdout" {
		t.Errorf("stdout = %q, want %q", got, "to-stdout")
	}
	if got := strings.TrimSpace(stderr.String()); got != "to-stderr" {
		t.Errorf("stderr = %q, want %q", got, "to-stderr")
	}
}

func TestRunEnvInjection(t *testing.T) {
	t.Parallel()

	var stdout bytes.Buffer
	runner := &Runner{}
	_, err := runner.Run(context.Background(), Command{
		Run:    `echo "$GANTRY_TEST_VALUE"`,
		Env:    map[string]string{"GANTRY_TEST_VALUE": "from-env"},
		Stdout: &stdout,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := strings.TrimSpace(stdout.String()); got != "from-env" {
		t.Errorf("stdout = %q, want %q", got, "from-env")
	}
}

func TestRunWorkingDirectory(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	var stdout bytes.Buffer
	runner := &Runner{}
	_, err := runner.Run(context.Background(), Command{
		Run:    "pwd",
		Dir:    dir,
		Stdout: &stdout,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := strings.TrimSpace(stdout.String()); got != dir {
		t.Errorf("pwd = %q, want %q", got, dir)
	}
}

func TestRunLaunchFailure(t *testing.T) {
	t.Parallel()

	runner := &Runner{Shell: "/nonexistent/gantry-test-shell"}
	result, err := runner.Run(context.Background(), Command{Run: "true"})
	if !errors.Is(err, ErrNotStarted) {
		t.Fatalf("Run error = %v, want ErrNotStarted", err)
	}
	if result.ExitCode != -1 {
		t.Errorf("ExitCode = %d, want -1", result.ExitCode)
	}
}

func TestRunTimeout(t *testing.T) {
	t.Parallel()

	runner := &Runner{}
	start := time.Now()
	_, err := runner.Run(context.Background(), Command{
		Run:     "sleep 30",
		Timeout: 100 * time.Millisecond,
	})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Run error = %v, want ErrTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("timed-out command took %s, the process group kill did not work", elapsed)
	}
}

func TestRunCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	runner := &Runner{}
	_, err := runner.Run(ctx, Command{Run: "sleep 30"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run error = %v, want context.Canceled", err)
	}
}

func TestRunKillsChildren(t *testing.T) {
	t.Parallel()

	// The shell spawns a child that inherits stdout. If only the
	// shell died, the child would keep the pipe open and Run would
	// block until the child's sleep finished.
	var stdout bytes.Buffer
	runner := &Runner{}
	start := time.Now()
	_, err := runner.Run(context.Background(), Command{
		Run:     "sleep 30 & wait",
		Timeout: 100 * time.Millisecond,
		Stdout:  &stdout,
	})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Run error = %v, want ErrTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("Run took %s, child process survived the group kill", elapsed)
	}
}

func TestEnvPairsSorted(t *testing.T) {
	t.Parallel()

	pairs := envPairs(map[string]string{"ZED": "1", "ALPHA": "2", "MID": "3"})
	want := []string{"ALPHA=2", "MID=3", "ZED=1"}
	if len(pairs) != len(want) {
		t.Fatalf("envPairs length = %d, want %d", len(pairs), len(want))
	}
	for i := range want {
		if pairs[i] != want[i] {
			t.Errorf("envPairs[%d] = %q, want %q", i, pairs[i], want[i])
		}
	}
}
