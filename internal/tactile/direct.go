package tactile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"nodestrap/internal/logging"

	"go.uber.org/zap"
)

// DirectExecutor executes commands directly on the host using os/exec.
type DirectExecutor struct {
	mu     sync.RWMutex
	config ExecutorConfig

	// auditCallback is called for execution events
	auditCallback func(AuditEvent)
}

// NewDirectExecutor creates a new direct executor with default config.
func NewDirectExecutor() *DirectExecutor {
	return NewDirectExecutorWithConfig(DefaultExecutorConfig())
}

// NewDirectExecutorWithConfig creates a new direct executor with custom config.
// A non-positive ShutdownTimeout falls back to the default, since a zero
// WaitDelay would leave a child that ignores SIGTERM running forever.
func NewDirectExecutorWithConfig(config ExecutorConfig) *DirectExecutor {
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = DefaultExecutorConfig().ShutdownTimeout
	}
	logging.Get(logging.CategoryTactile).Debug("creating DirectExecutor",
		zap.Duration("shutdown_timeout", config.ShutdownTimeout))
	return &DirectExecutor{
		config: config,
	}
}

// SetAuditCallback sets the callback for audit events.
func (e *DirectExecutor) SetAuditCallback(callback func(AuditEvent)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.auditCallback = callback
}

// emitAudit emits an audit event if a callback is registered.
func (e *DirectExecutor) emitAudit(event AuditEvent) {
	e.mu.RLock()
	callback := e.auditCallback
	e.mu.RUnlock()

	if callback != nil {
		callback(event)
	}
}

// Validate checks if a command can be executed.
func (e *DirectExecutor) Validate(cmd Command) error {
	if cmd.Binary == "" {
		return fmt.Errorf("binary is required")
	}
	return nil
}

// Run starts cmd and waits for it to exit.
func (e *DirectExecutor) Run(ctx context.Context, cmd Command) (*ExecutionResult, error) {
	log := logging.Get(logging.CategoryTactile)

	if err := e.Validate(cmd); err != nil {
		return nil, err
	}

	execCmd := exec.CommandContext(ctx, cmd.Binary, cmd.Arguments...)
	execCmd.Dir = cmd.WorkingDirectory
	execCmd.Env = append(os.Environ(), cmd.Environment...)
	execCmd.Stdout = cmd.Stdout
	if execCmd.Stdout == nil {
		execCmd.Stdout = os.Stdout
	}
	execCmd.Stderr = cmd.Stderr
	if execCmd.Stderr == nil {
		execCmd.Stderr = os.Stderr
	}

	// The child gets its own process group so a terminal Ctrl-C reaches
	// only the launcher, which then asks the whole group to stop.
	setupProcessGroup(execCmd)
	execCmd.Cancel = func() error {
		log.Info("requesting process shutdown", zap.Int("pid", execCmd.Process.Pid))
		return terminateProcessGroup(execCmd)
	}
	execCmd.WaitDelay = e.config.ShutdownTimeout

	result := &ExecutionResult{
		ExitCode: -1,
		Command:  &cmd,
	}

	log.Debug("starting process", zap.String("command", cmd.CommandString()),
		zap.String("dir", cmd.WorkingDirectory))

	result.StartedAt = time.Now()
	if err := execCmd.Start(); err != nil {
		e.emitAudit(AuditEvent{
			Type:      AuditEventError,
			Timestamp: time.Now(),
			Command:   cmd,
			Error:     err,
		})
		return nil, fmt.Errorf("failed to start %s: %w", cmd.Binary, err)
	}
	result.Pid = execCmd.Process.Pid

	e.emitAudit(AuditEvent{
		Type:      AuditEventStart,
		Timestamp: result.StartedAt,
		Command:   cmd,
		Pid:       result.Pid,
	})

	waitErr := execCmd.Wait()
	result.FinishedAt = time.Now()
	result.Duration = result.FinishedAt.Sub(result.StartedAt)

	if execCmd.ProcessState == nil {
		e.emitAudit(AuditEvent{
			Type:      AuditEventError,
			Timestamp: result.FinishedAt,
			Command:   cmd,
			Pid:       result.Pid,
			Error:     waitErr,
		})
		return nil, fmt.Errorf("failed to wait for %s: %w", cmd.Binary, waitErr)
	}

	// After cancellation Wait reports ctx.Err() even for a clean exit, and
	// ErrWaitDelay when output pipes outlived the process. The process
	// state is authoritative for the exit status in both cases.
	if waitErr != nil && !isExpectedWaitError(waitErr) {
		log.Warn("wait returned unexpected error", zap.Error(waitErr))
	}

	result.ExitCode, result.Signal = exitStatus(execCmd.ProcessState)

	eventType := AuditEventExit
	if ctx.Err() != nil {
		result.Killed = true
		result.KillReason = context.Cause(ctx).Error()
		eventType = AuditEventKilled
	}

	e.emitAudit(AuditEvent{
		Type:      eventType,
		Timestamp: result.FinishedAt,
		Command:   cmd,
		Pid:       result.Pid,
		Result:    result,
	})

	log.Debug("process exited",
		zap.Int("pid", result.Pid),
		zap.Int("exit_code", result.ExitCode),
		zap.String("signal", result.Signal),
		zap.Bool("killed", result.Killed),
		zap.Duration("duration", result.Duration))

	return result, nil
}

func isExpectedWaitError(err error) bool {
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr) ||
		errors.Is(err, exec.ErrWaitDelay) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
