//go:build windows

package tactile

import (
	"os"
	"os/exec"
)

// setupProcessGroup is a no-op on Windows; there is no POSIX process group.
func setupProcessGroup(cmd *exec.Cmd) {}

// terminateProcessGroup kills the process. Windows has no SIGTERM
// equivalent that console daemons reliably honor.
func terminateProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return os.ErrProcessDone
	}
	return cmd.Process.Kill()
}

func exitStatus(state *os.ProcessState) (int, string) {
	return state.ExitCode(), ""
}
