//go:build unix

package supervisor

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

// isolate starts the server as the leader of its own process group so that
// workers it forks are signalled together with it.
func isolate(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func interruptGroup(process *os.Process) error {
	return signalGroup(process, syscall.SIGINT)
}

func killGroup(process *os.Process) error {
	return signalGroup(process, syscall.SIGKILL)
}

// signalGroup signals every process in the group led by process. A group
// with no members left is not an error.
func signalGroup(process *os.Process, sig syscall.Signal) error {
	err := syscall.Kill(-process.Pid, sig)
	if err != nil && !errors.Is(err, syscall.ESRCH) {
		return err
	}

	return nil
}
