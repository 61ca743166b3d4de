//go:build !unix

package toolrunner

import "os/exec"

func setProcessGroup(cmd *exec.Cmd) {}
