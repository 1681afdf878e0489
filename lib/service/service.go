// Copyright 2026 The Gantry Authors
// SPDX-License-Identifier: Apache-2.0

// Package service manages the background processes a pipeline's script
// stage depends on: databases, emulators, anything declared under
// services in the definition. Acquisition is scoped: WithServices
// starts the services, waits until each is ready, runs the caller's
// body, and stops every started service no matter how the body exits.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"syscall"
	"time"

	"github.com/gantry-ci/gantry/lib/clock"
	"github.com/gantry-ci/gantry/lib/schema"
	"github.com/gantry-ci/gantry/lib/shell"
)

// ErrNotReady marks a service whose readiness probe did not succeed
// within its ready_timeout.
var ErrNotReady = errors.New("service not ready")

// Default lifecycle bounds, applied when the service declaration leaves
// them unset.
const (
	DefaultReadyTimeout = 60 * time.Second
	DefaultStopGrace    = 5 * time.Second
)

// Readiness probing retries with exponential backoff between attempts.
const (
	probeInitialDelay = 200 * time.Millisecond
	probeMaxDelay     = 2 * time.Second
)

// StartError reports a service that failed to start or become ready.
// When WithServices returns a StartError the body was never invoked.
type StartError struct {
	// Service is the failing service's name.
	Service string

	// Err is the underlying failure: a launch error, ErrNotReady, or
	// an early-exit report.
	Err error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("service %q: %v", e.Service, e.Err)
}

func (e *StartError) Unwrap() error {
	return e.Err
}

// StopReport records the shutdown of one started service. Stop
// problems never change the body's result; they surface here and in
// the log.
type StopReport struct {
	// Service is the service's name.
	Service string

	// Forced is true when the service ignored SIGTERM and had to be
	// SIGKILLed after its stop_grace.
	Forced bool

	// Err is a stop failure (signal delivery error). Nil for a clean
	// stop, forced or not.
	Err error
}

// Manager starts and stops pipeline services. The zero value runs
// services with "sh", the real clock, and discarded output.
type Manager struct {
	// Shell is the interpreter for service and probe commands,
	// resolved via PATH. Empty means "sh".
	Shell string

	// Env is the base environment applied to every service process and
	// readiness probe, merged over the process environment. A service's
	// own Env entries are merged over this.
	Env map[string]string

	// Output receives service stdout and stderr. Nil discards it.
	Output io.Writer

	// Clock drives readiness backoff and stop grace timing.
	// Nil means the real clock.
	Clock clock.Clock

	// Logger records lifecycle events. Nil means slog's default.
	Logger *slog.Logger
}

// running is one started service process.
type running struct {
	name string

	// grace is the SIGTERM-to-SIGKILL window at stop.
	grace time.Duration

	cmd *exec.Cmd

	// waitDone receives the process's Wait result exactly once.
	waitDone chan error
}

// WithServices starts each spec in order, waits for it to become
// ready, then invokes body. Every service that was started is stopped
// before WithServices returns, in reverse start order, on every exit
// path: body success, body error, cancellation, or a later service
// failing to start.
//
// Returns body's error unchanged, or a *StartError when a service
// could not start or become ready; in that case body was never
// invoked. The returned reports record each stop.
func (m *Manager) WithServices(ctx context.Context, specs []schema.Service, body func(context.Context) error) (reports []StopReport, err error) {
	var started []*running
	defer func() {
		reports = m.stopAll(started)
	}()

	for _, spec := range specs {
		svc, startErr := m.start(spec)
		if startErr != nil {
			return nil, &StartError{Service: spec.Name, Err: startErr}
		}
		started = append(started, svc)

		if readyErr := m.awaitReady(ctx, svc, spec); readyErr != nil {
			return nil, &StartError{Service: spec.Name, Err: readyErr}
		}
	}

	return nil, body(ctx)
}

// start launches the service in its own process group and begins
// reaping it.
func (m *Manager) start(spec schema.Service) (*running, error) {
	cmd := exec.Command(m.shellName(), "-c", spec.Run)
	output := m.Output
	if output == nil {
		output = io.Discard
	}
	cmd.Stdout = output
	cmd.Stderr = output
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if env := mergeEnv(m.Env, spec.Env); env != nil {
		cmd.Env = env
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting: %w", err)
	}

	svc := &running{
		name:     spec.Name,
		grace:    durationOrDefault(spec.StopGrace, DefaultStopGrace),
		cmd:      cmd,
		waitDone: make(chan error, 1),
	}
	go func() {
		svc.waitDone <- cmd.Wait()
	}()

	m.logger().Info("service started", "service", spec.Name, "pid", cmd.Process.Pid)
	return svc, nil
}

// awaitReady blocks until the service's readiness probe succeeds.
// Without a probe command the service counts as ready once started.
// Probing retries with exponential backoff until ready_timeout, and
// fails early if the service process exits or the context is
// cancelled.
func (m *Manager) awaitReady(ctx context.Context, svc *running, spec schema.Service) error {
	if spec.Ready == "" {
		return nil
	}

	timeout := durationOrDefault(spec.ReadyTimeout, DefaultReadyTimeout)
	deadline := m.clock().Now().Add(timeout)
	delay := probeInitialDelay
	probe := &shell.Runner{Shell: m.shellName(), Stdout: io.Discard, Stderr: io.Discard}

	for attempt := 1; ; attempt++ {
		result, err := probe.Run(ctx, shell.Command{Run: spec.Ready, Env: mergeEnvMaps(m.Env, spec.Env)})
		if err == nil && result.ExitCode == 0 {
			m.logger().Info("service ready", "service", svc.name, "attempts", attempt)
			return nil
		}
		m.logger().Debug("service probe failed", "service", svc.name, "attempt", attempt, "exit_code", result.ExitCode)

		if !m.clock().Now().Before(deadline) {
			return fmt.Errorf("%w after %s (%d probe attempts)", ErrNotReady, timeout, attempt)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case waitErr := <-svc.waitDone:
			// Hand the result back for the stop path to find.
			svc.waitDone <- waitErr
			return fmt.Errorf("%w: process exited before becoming ready (%v)", ErrNotReady, exitDescription(waitErr))
		case <-m.clock().After(delay):
		}

		delay *= 2
		if delay > probeMaxDelay {
			delay = probeMaxDelay
		}
	}
}

// stopAll stops services in reverse start order and returns one report
// per service.
func (m *Manager) stopAll(started []*running) []StopReport {
	if len(started) == 0 {
		return nil
	}
	reports := make([]StopReport, 0, len(started))
	for i := len(started) - 1; i >= 0; i-- {
		reports = append(reports, m.stop(started[i]))
	}
	return reports
}

// stop terminates one service: SIGTERM to its process group, SIGKILL
// after the grace period if it has not exited. Called exactly once per
// started service.
func (m *Manager) stop(svc *running) StopReport {
	report := StopReport{Service: svc.name}
	processGroupID := -svc.cmd.Process.Pid

	if err := syscall.Kill(processGroupID, syscall.SIGTERM); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			// Already gone; collect the wait result.
			<-svc.waitDone
			m.logger().Info("service already exited", "service", svc.name)
			return report
		}
		report.Err = fmt.Errorf("stopping service %q: %w", svc.name, err)
		m.logger().Warn("service stop failed", "service", svc.name, "error", err)
		return report
	}

	select {
	case <-svc.waitDone:
		m.logger().Info("service stopped", "service", svc.name)
	case <-m.clock().After(svc.grace):
		report.Forced = true
		_ = syscall.Kill(processGroupID, syscall.SIGKILL)
		<-svc.waitDone
		m.logger().Warn("service killed after grace period", "service", svc.name, "grace", svc.grace)
	}
	return report
}

func (m *Manager) shellName() string {
	if m.Shell == "" {
		return "sh"
	}
	return m.Shell
}

func (m *Manager) clock() clock.Clock {
	if m.Clock == nil {
		return clock.Real()
	}
	return m.Clock
}

func (m *Manager) logger() *slog.Logger {
	if m.Logger == nil {
		return slog.Default()
	}
	return m.Logger
}

// durationOrDefault parses a duration field, falling back to the
// default when unset or unparseable. Validation rejects bad values
// before execution; the fallback keeps the manager safe when called
// directly.
func durationOrDefault(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

// mergeEnv builds the service process environment: the ambient
// environment with base and overlay merged on top. Returns nil when
// there is nothing to add, letting exec use the ambient environment
// unchanged.
func mergeEnv(base, overlay map[string]string) []string {
	merged := mergeEnvMaps(base, overlay)
	if merged == nil {
		return nil
	}
	keys := make([]string, 0, len(merged))
	for key := range merged {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	env := os.Environ()
	for _, key := range keys {
		env = append(env, key+"="+merged[key])
	}
	return env
}

// mergeEnvMaps overlays two maps; overlay wins. Nil when both are
// empty.
func mergeEnvMaps(base, overlay map[string]string) map[string]string {
	if len(base) == 0 && len(overlay) == 0 {
		return nil
	}
	merged := make(map[string]string, len(base)+len(overlay))
	for key, value := range base {
		merged[key] = value
	}
	for key, value := range overlay {
		merged[key] = value
	}
	return merged
}

// exitDescription renders a Wait error for the early-exit message.
func exitDescription(err error) string {
	if err == nil {
		return "exit status 0"
	}
	return err.Error()
}
