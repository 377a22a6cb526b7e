// Package executor runs synthesized job commands as child processes.
// Commands have no timeout; Run blocks until the child exits.
package executor

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/0xPuncker/panelcron/internal/command"
	"github.com/0xPuncker/panelcron/pkg/utils"
	"github.com/sirupsen/logrus"
)

const DefaultShell = "/bin/sh"

// Result is the outcome of a single child process
type Result struct {
	ExitCode  int
	Output    []string
	StartedAt time.Time
	Duration  time.Duration
}

type Executor struct {
	shell  string
	logger *logrus.Logger
}

func New(shell string, logger *logrus.Logger) *Executor {
	if shell == "" {
		shell = DefaultShell
	}
	return &Executor{
		shell:  shell,
		logger: logger,
	}
}

// Run executes cmd through the shell in dir with stderr merged into stdout. A
// non-zero exit status is reported in the Result; an error means the process
// never ran.
func (e *Executor) Run(cmd command.CommandString, dir string, env ...string) (Result, error) {
	if cmd.Empty() {
		return Result{}, fmt.Errorf("refusing to run empty command")
	}

	var out bytes.Buffer
	c := exec.Command(e.shell, "-c", cmd.String())
	c.Stdout = &out
	c.Stderr = &out
	c.Dir = dir
	c.Env = append(os.Environ(), env...)

	started := time.Now()
	e.logger.WithFields(logrus.Fields{
		"shell":   e.shell,
		"command": cmd.String(),
		"dir":     dir,
	}).Debug("Spawning child process")

	err := c.Run()
	result := Result{
		ExitCode:  0,
		Output:    splitLines(out.String()),
		StartedAt: started,
		Duration:  time.Since(started),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return Result{}, fmt.Errorf("failed to start %s: %w", e.shell, err)
		}
		result.ExitCode = exitCode(exitErr)
	}

	e.logger.WithFields(logrus.Fields{
		"exit_code": result.ExitCode,
		"lines":     len(result.Output),
		"duration":  utils.FormatElapsed(result.Duration),
	}).Debug("Child process exited")

	return result, nil
}

// exitCode follows the shell convention of 128+signal for killed processes
func exitCode(err *exec.ExitError) int {
	if status, ok := err.Sys().(syscall.WaitStatus); ok && status.Signaled() {
		return 128 + int(status.Signal())
	}
	return err.ExitCode()
}

func splitLines(s string) []string {
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}
