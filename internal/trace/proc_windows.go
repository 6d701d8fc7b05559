//go:build windows

package trace

import (
	"os/exec"
	"syscall"
)

// CREATE_NEW_PROCESS_GROUP
const createNewProcessGroup = 0x00000200

// setProcessGroup starts the child in a new process group.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: createNewProcessGroup}
}

// killProcess terminates the child immediately.
func killProcess(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}
