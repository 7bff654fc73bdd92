//go:build unix

package sandbox

import (
	"os/exec"
	"syscall"
)

// setProcessGroup starts cmd as the leader of a new process group so that a
// kill reaches every process the program spawned.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
