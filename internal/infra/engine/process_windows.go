package engine

import (
	"os/exec"
	"syscall"
)

// configureProcess hides the console window for subprocess on Windows
// and creates a new process group, so Ctrl+C aimed at the router's console
// group does not reach it.
func configureProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		HideWindow:    true,
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP,
	}
}

// sendTerminateSignal has no CTRL_BREAK wiring here (that requires
// attaching to the child's console group); Terminate falls straight
// through to its grace-period hard kill on Windows.
func sendTerminateSignal(cmd *exec.Cmd) error {
	return cmd.Process.Kill()
}
