package scpcli

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
)

// Command is one external process invocation.
type Command struct {
	Path string
	Args []string
	Env  []string // appended to the parent environment
}

// Result is the outcome of a finished process.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Runner starts external processes. Tests substitute a fake.
type Runner interface {
	// Run executes cmd and waits for it. A non-zero exit is reported in
	// Result.ExitCode, not as an error; err is set only when the process
	// could not be started or ctx ended first.
	Run(ctx context.Context, cmd Command) (Result, error)
	LookPath(file string) (string, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run implements Runner.
func (ExecRunner) Run(ctx context.Context, cmd Command) (Result, error) {
	c := exec.CommandContext(ctx, cmd.Path, cmd.Args...)
	if len(cmd.Env) > 0 {
		c.Env = append(c.Environ(), cmd.Env...)
	}
	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	err := c.Run()
	res := Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if err == nil {
		return res, nil
	}
	if ctx.Err() != nil {
		return res, ctx.Err()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	return res, err
}

// LookPath implements Runner.
func (ExecRunner) LookPath(file string) (string, error) {
	return exec.LookPath(file)
}
