package tactile

import (
	"time"
)

// AuditEventType identifies a point in a process lifecycle.
type AuditEventType string

const (
	AuditEventStart  AuditEventType = "start"
	AuditEventExit   AuditEventType = "exit"
	AuditEventKilled AuditEventType = "killed"
	AuditEventError  AuditEventType = "error"
)

// AuditEvent is emitted by an AuditedExecutor.
type AuditEvent struct {
	Type      AuditEventType
	Timestamp time.Time
	Command   Command
	Pid       int
	Result    *ExecutionResult // set for exit and killed events
	Error     error            // set for error events
}
