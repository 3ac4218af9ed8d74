// Package tactile runs external programs on the host. It is the only part
// of nodestrap that touches processes: it starts the child in its own
// process group, streams its output, asks it to shut down when the context
// ends, and reports how it exited.
package tactile

import (
	"io"
	"strings"
	"time"
)

// Command represents a command to be executed.
type Command struct {
	// Binary is the executable to run. It is used as given, without a
	// PATH lookup when it contains a path separator.
	Binary string

	// Arguments are the command-line arguments.
	Arguments []string

	// WorkingDirectory is the directory to execute in.
	// If empty, the current directory is used.
	WorkingDirectory string

	// Environment variables appended to the inherited environment
	// (in KEY=VALUE format).
	Environment []string

	// Stdout and Stderr receive the child's output. Nil means the
	// launcher's own stdout and stderr.
	Stdout io.Writer
	Stderr io.Writer

	// RequestID correlates audit events for one execution.
	RequestID string
}

// CommandString returns the full command as a string (for display/logging).
func (c Command) CommandString() string {
	if len(c.Arguments) == 0 {
		return c.Binary
	}
	return c.Binary + " " + strings.Join(c.Arguments, " ")
}

// ExecutionResult describes a finished process.
type ExecutionResult struct {
	// Pid of the child while it ran.
	Pid int

	// ExitCode is the process exit code, or 128+N when it was terminated
	// by signal N.
	ExitCode int

	// Signal names the terminating signal, if any.
	Signal string

	// Killed reports that the run context ended before the process did,
	// so the process was asked (or forced) to stop.
	Killed bool

	// KillReason explains why the command was killed.
	KillReason string

	StartedAt  time.Time
	FinishedAt time.Time
	Duration   time.Duration

	// Command is a copy of the command that was executed (for audit).
	Command *Command
}

// Succeeded returns true if the process exited with status 0.
func (r *ExecutionResult) Succeeded() bool {
	return r.ExitCode == 0
}

// ExecutorConfig configures a DirectExecutor.
type ExecutorConfig struct {
	// ShutdownTimeout is how long the child gets between the termination
	// request and a forced kill.
	ShutdownTimeout time.Duration
}

// DefaultExecutorConfig returns sensible defaults for a long-running daemon.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		ShutdownTimeout: 2 * time.Minute,
	}
}
