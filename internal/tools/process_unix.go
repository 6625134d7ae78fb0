//go:build !windows

package tools

import (
	"os/exec"
	"syscall"
)

// configureProcAttr puts the child in its own process group and kills the
// whole group on cancellation, so simulators and containers do not outlive
// their timeout.
func configureProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
