// Package process - Runs external commands and streams their output to the log.
package process

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"

	"github.com/cyclopcam/logs"
	"github.com/pkg/errors"
)

// Output holds everything a finished command wrote.
type Output struct {
	// Stdout is the full standard output of the command.
	Stdout string
	// Stderr is the full standard error of the command.
	Stderr string
}

// ExitError is returned when a command ran but exited with a non-zero code.
// We prefer to surface stderr over the bare exit code.
type ExitError struct {
	Name   string
	Code   int
	Stderr string
}

// Error returns stderr if the command wrote any, otherwise the exit code.
func (e *ExitError) Error() string {
	if msg := strings.TrimSpace(e.Stderr); msg != "" {
		return msg
	}
	return fmt.Sprintf("%s exited with code %d", e.Name, e.Code)
}

// Runner executes an external command to completion.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (Output, error)
}

// Exec is a Runner backed by os/exec.
type Exec struct {
	log logs.Log
	// Dir is the working directory of spawned commands. Empty means the current directory.
	Dir string
}

// New creates an Exec runner.
//
// Arguments:
//   - log: Destination for the live stdout/stderr stream of every command.
//
// Returns:
//   - *Exec: The runner.
func New(log logs.Log) *Exec {
	return &Exec{log: log}
}

// Run executes name with args, streaming both output pipes to the log line by line
// while they are also captured. The call resolves once the process has exited.
//
// Arguments:
//   - ctx: Cancelling the context kills the process.
//   - name: The program to execute, resolved through PATH.
//   - args: Positional arguments.
//
// Returns:
//   - Output: Captured stdout and stderr (also populated on failure).
//   - error: *ExitError for a non-zero exit, or a wrapped start error.
func (e *Exec) Run(ctx context.Context, name string, args ...string) (Output, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = e.Dir

	var stdout, stderr bytes.Buffer
	stdoutLog := &lineLogger{logf: e.log.Debugf, prefix: name}
	stderrLog := &lineLogger{logf: e.log.Infof, prefix: name}
	cmd.Stdout = io.MultiWriter(&stdout, stdoutLog)
	cmd.Stderr = io.MultiWriter(&stderr, stderrLog)

	err := cmd.Run()
	stdoutLog.Flush()
	stderrLog.Flush()

	out := Output{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return out, errors.Wrapf(ctxErr, "%s interrupted", name)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return out, &ExitError{Name: name, Code: exitErr.ExitCode(), Stderr: out.Stderr}
		}
		return out, errors.Wrapf(err, "failed to run %s", name)
	}

	return out, nil
}

// lineLogger forwards complete lines to a log function.
type lineLogger struct {
	mu     sync.Mutex
	logf   func(format string, args ...any)
	prefix string
	buf    []byte
}

func (l *lineLogger) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.buf = append(l.buf, p...)
	for {
		i := bytes.IndexByte(l.buf, '\n')
		if i < 0 {
			break
		}
		l.emit(l.buf[:i])
		l.buf = l.buf[i+1:]
	}
	return len(p), nil
}

// Flush emits any trailing partial line.
func (l *lineLogger) Flush() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.buf) > 0 {
		l.emit(l.buf)
		l.buf = nil
	}
}

func (l *lineLogger) emit(line []byte) {
	text := strings.TrimRight(string(line), "\r")
	if text == "" {
		return
	}
	l.logf("[%s] %s", l.prefix, text)
}
