package tactile

import (
	"context"
)

// Executor is the interface for command execution.
type Executor interface {
	// Run starts the command and blocks until it exits. When ctx ends the
	// process is asked to terminate; Run still waits for it and reports
	// its exit status. A non-zero exit is not an error: errors mean the
	// process could not be started or waited for.
	Run(ctx context.Context, cmd Command) (*ExecutionResult, error)

	// Validate checks if a command can be executed by this executor.
	Validate(cmd Command) error
}

// AuditedExecutor is an executor that reports lifecycle events.
type AuditedExecutor interface {
	Executor

	// SetAuditCallback sets the callback for audit events.
	SetAuditCallback(callback func(AuditEvent))
}
