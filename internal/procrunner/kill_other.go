//go:build !unix

package procrunner

import "os/exec"

func setProcessGroup(cmd *exec.Cmd) {}

func killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}

func exitCodeOf(exitErr *exec.ExitError) int {
	return exitErr.ExitCode()
}
