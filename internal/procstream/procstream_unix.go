//go:build !windows

package procstream

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

// killTree starts cmd in its own process group and makes cancellation kill
// the whole group, so compilers spawned by make or cargo die with it.
func killTree(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		if errors.Is(err, syscall.ESRCH) {
			return os.ErrProcessDone
		}
		return err
	}
}
