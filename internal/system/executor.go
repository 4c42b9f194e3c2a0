package system

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

// Result captures everything a finished command produced
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Combined returns stdout followed by stderr
func (r Result) Combined() string {
	if r.Stderr == "" {
		return r.Stdout
	}
	return r.Stdout + "\n" + r.Stderr
}

// ExitError reports a command that started but exited non-zero
type ExitError struct {
	Command string
	Code    int
	Stderr  string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s exited with status %d", e.Command, e.Code)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += "\nStderr: " + s
	}
	return msg
}

// Executor handles execution of external commands
type Executor struct {
	debug bool
	out   io.Writer
}

// NewExecutor creates a new executor
func NewExecutor(debug bool, out io.Writer) *Executor {
	return &Executor{
		debug: debug,
		out:   out,
	}
}

// RunInput executes a command with stdin fed from r
func (e *Executor) RunInput(ctx context.Context, r io.Reader, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = r
	res, err := e.RunCmd(cmd)
	if err != nil {
		return "", err
	}
	return res.Stdout, nil
}

// Exec executes a command and returns its full result. A non-zero exit is
// reported as *ExitError alongside the populated Result, so callers that
// classify exit codes can still inspect the output.
func (e *Executor) Exec(ctx context.Context, name string, args ...string) (Result, error) {
	return e.RunCmd(exec.CommandContext(ctx, name, args...))
}

// RunCmd executes a prepared command
func (e *Executor) RunCmd(cmd *exec.Cmd) (Result, error) {
	if e.debug {
		e.printf("[DEBUG] Executing: %s\n", cmd.String())
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, &ExitError{Command: cmd.Args[0], Code: res.ExitCode, Stderr: res.Stderr}
		}
		return res, fmt.Errorf("%s failed: %w", cmd.Args[0], err)
	}

	return res, nil
}

func (e *Executor) printf(format string, args ...interface{}) {
	if e.out == nil {
		return
	}
	fmt.Fprintf(e.out, format, args...)
}

// CommandExists checks if a command is available in PATH
func (e *Executor) CommandExists(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

// CheckDependencies verifies required commands are available
func (e *Executor) CheckDependencies(deps []string) error {
	var missing []string
	for _, dep := range deps {
		if !e.CommandExists(dep) {
			missing = append(missing, dep)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required commands: %s",
			strings.Join(missing, ", "))
	}
	return nil
}
