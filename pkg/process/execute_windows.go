//go:build windows

package process

import (
	"os/exec"
	"syscall"
)

// setupProcessAttributes isolates the child from the watchdog's console
// Ctrl+C handling; the child must survive the watchdog shutting down.
func setupProcessAttributes(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP,
	}
}
