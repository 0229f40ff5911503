// Package shell runs onboarding operation commands through the system shell.
package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/ruteri/runtime-init/interfaces"
)

// DefaultShell interprets inline commands.
const DefaultShell = "/bin/sh"

// Masker hides secrets in text bound for logs and errors.
type Masker interface {
	Mask(text string) string
}

// Result is the outcome of a successful command.
type Result struct {
	Output   string
	ExitCode int
}

// CommandError is returned when a command could not be started or exited non-zero.
type CommandError struct {
	Command  string
	ExitCode int
	Output   string
	Err      error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("%s: %q exited with code %d", interfaces.ErrCommandFailed, e.Command, e.ExitCode)
	if out := strings.TrimSpace(e.Output); out != "" {
		msg += ": " + out
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// Is matches interfaces.ErrCommandFailed.
func (e *CommandError) Is(target error) bool {
	return target == interfaces.ErrCommandFailed
}

// Executor runs commands with a fixed environment and working directory.
type Executor struct {
	log    *slog.Logger
	masker Masker

	// Shell interprets inline commands with "-c". Defaults to DefaultShell.
	Shell string
	// Dir is the working directory; empty means the current directory.
	Dir string
	// Env is appended to the inherited environment.
	Env []string
}

// NewExecutor creates an executor. masker may be nil.
func NewExecutor(log *slog.Logger, masker Masker) *Executor {
	return &Executor{
		log:    log,
		masker: masker,
		Shell:  DefaultShell,
	}
}

// Run executes command with "<shell> -c". Stdout and stderr are captured
// together. A non-zero exit yields a *CommandError.
func (e *Executor) Run(ctx context.Context, command string) (*Result, error) {
	shell := e.Shell
	if shell == "" {
		shell = DefaultShell
	}
	return e.run(ctx, command, exec.CommandContext(ctx, shell, "-c", command))
}

// RunFile executes the local script or binary at path, adding the owner
// execute bit when it is missing.
func (e *Executor) RunFile(ctx context.Context, path string) (*Result, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, &CommandError{Command: path, ExitCode: -1, Err: err}
	}
	if info.IsDir() {
		return nil, &CommandError{Command: path, ExitCode: -1, Err: errors.New("is a directory")}
	}
	if info.Mode().Perm()&0100 == 0 {
		if err := os.Chmod(path, info.Mode().Perm()|0700); err != nil {
			return nil, &CommandError{Command: path, ExitCode: -1, Err: fmt.Errorf("could not make executable: %w", err)}
		}
	}
	return e.run(ctx, path, exec.CommandContext(ctx, path))
}

func (e *Executor) run(ctx context.Context, command string, cmd *exec.Cmd) (*Result, error) {
	display := e.mask(command)

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output
	cmd.Dir = e.Dir
	// Children that inherit the output pipe must not outlive cancellation.
	cmd.WaitDelay = time.Second
	if len(e.Env) > 0 {
		cmd.Env = append(os.Environ(), e.Env...)
	}

	e.log.Debug("Running command", slog.String("command", display))
	start := time.Now()

	err := cmd.Run()
	out := e.mask(output.String())
	if err != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}

		e.log.Debug("Command failed",
			slog.String("command", display),
			slog.Int("exit_code", exitCode),
			slog.String("output", out),
			slog.Duration("duration", time.Since(start)))
		return nil, &CommandError{Command: display, ExitCode: exitCode, Output: out, Err: err}
	}

	e.log.Debug("Command finished",
		slog.String("command", display),
		slog.Duration("duration", time.Since(start)))
	return &Result{Output: out, ExitCode: 0}, nil
}

func (e *Executor) mask(text string) string {
	if e.masker == nil {
		return text
	}
	return e.masker.Mask(text)
}
