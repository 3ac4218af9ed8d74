package launcher

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingArgument means no install root was given.
	ErrMissingArgument = errors.New("missing install root argument")

	// ErrBinaryNotFound means the daemon binary is absent, not a regular
	// file, not executable, or could not be started.
	ErrBinaryNotFound = errors.New("node binary not found")

	// ErrSystemResource means the data directory or the temporary config
	// file could not be created.
	ErrSystemResource = errors.New("system resource failure")

	// ErrExternalProcess means the daemon ran and exited non-zero.
	ErrExternalProcess = errors.New("node process failed")
)

// ProcessExitError carries the daemon's exit status out of Run so the CLI
// can exit with the same code.
type ProcessExitError struct {
	Code     int
	Signal   string
	Attempts int
}

func (e *ProcessExitError) Error() string {
	if e.Signal != "" {
		return fmt.Sprintf("node process terminated by signal %s after %d attempt(s)", e.Signal, e.Attempts)
	}
	return fmt.Sprintf("node process exited with status %d after %d attempt(s)", e.Code, e.Attempts)
}

func (e *ProcessExitError) Unwrap() error {
	return ErrExternalProcess
}
