//go:build unix

package toolrunner

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

// setProcessGroup starts the tool in its own process group so a timeout also
// kills helpers it spawned (gs and tesseract may fork).
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil {
			if errors.Is(err, syscall.ESRCH) {
				return os.ErrProcessDone
			}
			return err
		}
		return nil
	}
}
