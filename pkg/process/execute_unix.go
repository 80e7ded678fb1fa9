//go:build !windows

package process

import (
	"os/exec"
	"syscall"
)

// setupProcessAttributes puts the child in its own process group so signals
// aimed at the watchdog (Ctrl+C in its terminal) do not reach it
func setupProcessAttributes(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
}
