package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/mattn/go-shellwords"
)

// ErrEmptyCommand is returned when a command line has no program name.
var ErrEmptyCommand = errors.New("empty command")

// Command is a program invocation.
type Command struct {
	// Name is the program to run, looked up in PATH unless it contains a separator.
	Name string
	// Args are passed verbatim, no shell is involved.
	Args []string
	// Dir is the working directory; empty means the current one.
	Dir string
}

// String renders the command for logs.
func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Result is the outcome of a command that started.
type Result struct {
	// ExitCode is 0 on success.
	ExitCode int
	// Stdout is the captured standard output.
	Stdout []byte
	// Stderr is the captured standard error.
	Stderr []byte
}

// Success reports whether the command exited with status 0.
func (r *Result) Success() bool {
	return r != nil && r.ExitCode == 0
}

// Runner executes commands. A non-zero exit status is reported through
// Result.ExitCode; an error means the command could not run at all.
type Runner interface {
	Run(ctx context.Context, cmd Command) (*Result, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct {
	// Stdout and Stderr, when set, receive a live copy of the output
	// in addition to the captured one.
	Stdout io.Writer
	Stderr io.Writer
}

// NewExecRunner creates a runner that only captures output.
func NewExecRunner() *ExecRunner {
	return new(ExecRunner)
}

// Run starts the command and waits for it to exit.
func (r *ExecRunner) Run(ctx context.Context, cmd Command) (*Result, error) {
	if cmd.Name == "" {
		return nil, ErrEmptyCommand
	}

	var stdout, stderr bytes.Buffer

	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir
	c.Stdout = tee(&stdout, r.Stdout)
	c.Stderr = tee(&stderr, r.Stderr)

	err := c.Run()

	result := &Result{
		Stdout: stdout.Bytes(),
		Stderr: stderr.Bytes(),
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && ctx.Err() == nil {
		result.ExitCode = exitErr.ExitCode()
		return result, nil
	}

	if err != nil {
		return nil, fmt.Errorf("run %s: %w", cmd.Name, err)
	}

	return result, nil
}

// Parse splits a configured command line into a Command and appends extra arguments.
// Quoting follows POSIX shell rules; variables and globs are not expanded.
func Parse(line string, extra ...string) (Command, error) {
	words, err := shellwords.Parse(line)
	if err != nil {
		return Command{}, fmt.Errorf("parse command %q: %w", line, err)
	}

	if len(words) == 0 {
		return Command{}, fmt.Errorf("%w: %q", ErrEmptyCommand, line)
	}

	args := make([]string, 0, len(words)-1+len(extra))
	args = append(args, words[1:]...)
	args = append(args, extra...)

	return Command{Name: words[0], Args: args}, nil
}

func tee(capture *bytes.Buffer, live io.Writer) io.Writer {
	if live == nil {
		return capture
	}

	return io.MultiWriter(capture, live)
}
