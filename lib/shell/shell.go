// Copyright 2026 The Gantry Authors
// SPDX-License-Identifier: Apache-2.0

// Package shell runs pipeline commands through the system shell with
// process-group termination semantics. A nonzero exit is a normal
// result, not an error; errors are reserved for commands that could
// not run at all, exceeded their time budget, or were cancelled.
package shell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"syscall"
	"time"
)

// ErrNotStarted marks launch failures: the command never ran because
// the shell could not be executed. Distinct from a command that ran
// and exited nonzero, which is a normal Result, and from
// cancellation, which surfaces as a context error.
var ErrNotStarted = errors.New("command could not be started")

// ErrTimeout marks commands killed for exceeding their own Timeout.
// Distinct from cancellation of the surrounding run.
var ErrTimeout = errors.New("command timed out")

// Command describes one shell invocation.
type Command struct {
	// Run is the shell command text, executed via the runner's shell
	// with -c.
	Run string

	// Dir is the working directory. Empty means the calling process's
	// working directory.
	Dir string

	// Env is merged over the process environment for this command.
	Env map[string]string

	// Timeout bounds the command's execution. Zero means no bound
	// beyond the caller's context.
	Timeout time.Duration

	// GracePeriod is how long the process group gets between SIGTERM
	// and SIGKILL when the command is killed. Zero means immediate
	// SIGKILL.
	GracePeriod time.Duration

	// Stdout and Stderr receive the command's output. Nil falls back
	// to the runner's writers.
	Stdout io.Writer
	Stderr io.Writer
}

// Result is a completed command's outcome.
type Result struct {
	// ExitCode is the process exit code. -1 when the process was
	// killed by a signal or never ran.
	ExitCode int

	// Duration is the command's wall-clock time.
	Duration time.Duration
}

// Runner executes commands. The zero value runs "sh" with output
// inherited from the process.
type Runner struct {
	// Shell is the interpreter, resolved via PATH. Empty means "sh".
	// PATH resolution rather than a hardcoded /bin/sh keeps the
	// runner correct on hosts where /bin/sh is a different shell
	// than the environment's.
	Shell string

	// Stdout and Stderr are the default output writers when a
	// Command does not provide its own. Nil means the process's
	// stdout and stderr.
	Stdout io.Writer
	Stderr io.Writer
}

// Run executes the command and waits for it to finish. The command
// runs in its own process group so that termination (timeout,
// cancellation) reaches the shell and all its children; without
// Setpgid only the shell would receive the signal and children could
// hold the inherited output descriptors open indefinitely.
//
// The returned error is nil for any command that ran to completion,
// whatever its exit code. Otherwise it wraps ErrNotStarted (launch
// failure), wraps ErrTimeout (the command's own Timeout elapsed), or
// is the context's error (the surrounding run was cancelled).
func (r *Runner) Run(ctx context.Context, command Command) (Result, error) {
	runCtx := ctx
	if command.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, command.Timeout)
		defer cancel()
	}

	shellName := r.Shell
	if shellName == "" {
		shellName = "sh"
	}

	cmd := exec.CommandContext(runCtx, shellName, "-c", command.Run)
	cmd.Dir = command.Dir
	cmd.Stdout = firstWriter(command.Stdout, r.Stdout, os.Stdout)
	cmd.Stderr = firstWriter(command.Stderr, r.Stderr, os.Stderr)

	// Own process group: signals target -pgid so children die with
	// the shell.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if command.GracePeriod > 0 {
		// Graceful: SIGTERM the group first, escalate to SIGKILL
		// after the grace period if it is still alive. ESRCH from an
		// already-dead group is harmless.
		gracePeriod := command.GracePeriod
		cmd.Cancel = func() error {
			processGroupID := -cmd.Process.Pid
			if err := syscall.Kill(processGroupID, syscall.SIGTERM); err != nil {
				return syscall.Kill(processGroupID, syscall.SIGKILL)
			}
			go func() {
				time.Sleep(gracePeriod)
				_ = syscall.Kill(processGroupID, syscall.SIGKILL)
			}()
			return nil
		}
	} else {
		cmd.Cancel = func() error {
			return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		}
	}

	if len(command.Env) > 0 {
		cmd.Env = append(os.Environ(), envPairs(command.Env)...)
	}

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	if err == nil {
		return Result{ExitCode: 0, Duration: elapsed}, nil
	}

	exitCode := -1
	var exitError *exec.ExitError
	if errors.As(err, &exitError) {
		exitCode = exitError.ExitCode()
	}

	// The surrounding run was cancelled: report the caller's context
	// error so the command is recorded as cancelled, not failed.
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Result{ExitCode: exitCode, Duration: elapsed}, ctxErr
	}

	// The command's own deadline fired.
	if command.Timeout > 0 && runCtx.Err() != nil {
		return Result{ExitCode: exitCode, Duration: elapsed},
			fmt.Errorf("%w after %s", ErrTimeout, command.Timeout)
	}

	if exitError != nil {
		return Result{ExitCode: exitCode, Duration: elapsed}, nil
	}

	// Not an exit status and not a cancellation: the command never
	// started (shell missing, fork failure).
	return Result{ExitCode: -1, Duration: elapsed}, fmt.Errorf("%w: %v", ErrNotStarted, err)
}

// envPairs flattens an environment map into KEY=value pairs in sorted
// key order.
func envPairs(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for key := range env {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(env))
	for _, key := range keys {
		pairs = append(pairs, key+"="+env[key])
	}
	return pairs
}

// firstWriter returns the first non-nil writer.
func firstWriter(writers ...io.Writer) io.Writer {
	for _, writer := range writers {
		if writer != nil {
			return writer
		}
	}
	return nil
}
