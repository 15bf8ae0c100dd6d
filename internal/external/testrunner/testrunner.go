// Package testrunner is the external test-runner adapter the Coordination
// Service's run_tests verb proxies to (spec.md §4.2), grounded on the
// teacher's narrow ExternalAgentExecutor adapters in
// internal/external/codex and internal/external/claudecode: one small
// interface, one concrete process-exec implementation.
package testrunner

import (
	"bytes"
	"context"
	"os/exec"
	"time"
)

// Runner executes the project's test suite, optionally scoped to files,
// and returns whether it passed plus its combined stdout+stderr.
type Runner interface {
	Run(files []string, timeout time.Duration) (passed bool, output string, err error)
}

// CommandRunner shells out to a configured command (e.g. "go test ./...")
// with the changed files appended as arguments when the suite supports
// file-scoped runs.
type CommandRunner struct {
	Command    string
	BaseArgs   []string
	WorkingDir string
}

// NewCommandRunner builds a CommandRunner invoking command with baseArgs in
// workingDir.
func NewCommandRunner(command string, baseArgs []string, workingDir string) *CommandRunner {
	return &CommandRunner{Command: command, BaseArgs: baseArgs, WorkingDir: workingDir}
}

// Run implements Runner.
func (r *CommandRunner) Run(files []string, timeout time.Duration) (bool, string, error) {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	args := append([]string(nil), r.BaseArgs...)
	args = append(args, files...)

	cmd := exec.CommandContext(ctx, r.Command, args...)
	cmd.Dir = r.WorkingDir

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return false, buf.String(), ctx.Err()
	}
	if err != nil {
		if _, ok := err.(*exec.ExitError); ok {
			return false, buf.String(), nil
		}
		return false, buf.String(), err
	}
	return true, buf.String(), nil
}
